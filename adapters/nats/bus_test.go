package nats

import (
	"testing"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"

	"github.com/youngsunkr/khala-go/core/es"
)

func testMessages() []es.Message {
	return []es.Message{
		{ID: "m-1", AggregateType: "account", AggregateID: "acc-1", Type: "account.opened", Version: 1, Data: []byte(`{"v":1}`)},
		{ID: "m-2", AggregateType: "account", AggregateID: "acc-1", Type: "account.deposited", Version: 2, Data: []byte(`{"v":2}`)},
		{ID: "m-3", AggregateType: "account", AggregateID: "acc-1", Type: "account.deposited", Version: 3, Data: []byte(`{"v":3}`)},
	}
}

func TestBus_SendBatchOrderedAndDeduplicated(t *testing.T) {
	connect := ReuseConnection(NewTestContainer(t))

	sut, err := NewBus(BusConfig{
		Connect:    connect,
		StreamName: "bus_test",
	})
	require.NoError(t, err)
	require.NotNil(t, sut)
	t.Cleanup(func() { _ = sut.Close() })

	msgs := testMessages()
	require.NoError(t, sut.SendBatch(t.Context(), msgs))

	// resend of the same batch inside the dedup window is absorbed
	require.NoError(t, sut.SendBatch(t.Context(), msgs))

	nc, closeNc, err := connect()
	require.NoError(t, err)
	t.Cleanup(closeNc)

	js, err := jetstream.New(nc)
	require.NoError(t, err)
	stream, err := js.Stream(t.Context(), "BUS_TEST")
	require.NoError(t, err)

	consumer, err := stream.OrderedConsumer(t.Context(), jetstream.OrderedConsumerConfig{
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	require.NoError(t, err)

	batch, err := consumer.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
	require.NoError(t, err)

	var got []jetstream.Msg
	for msg := range batch.Messages() {
		got = append(got, msg)
	}
	require.NoError(t, batch.Error())
	require.Len(t, got, len(msgs))

	for i, msg := range got {
		require.Equal(t, "khala.events.account.acc-1", msg.Subject())
		require.Equal(t, msgs[i].Data, msg.Data())
		require.Equal(t, msgs[i].ID, msg.Headers().Get("Nats-Msg-Id"))
	}
}

func TestBus_SendValidation(t *testing.T) {
	sut := &Bus{subjectPrefix: defaultSubjectPrefix}

	require.Error(t, sut.Send(t.Context(), es.Message{AggregateType: "account", AggregateID: "acc-1"}))
	require.Error(t, sut.Send(t.Context(), es.Message{ID: "m-1"}))
}
