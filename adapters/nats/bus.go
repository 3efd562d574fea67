// Package nats provides a JetStream-backed message bus for the outbox
// publisher. Delivery is at-least-once end to end: the publisher resends
// unconfirmed batches, and JetStream's duplicate window suppresses most (not
// all) resends via the per-message id header.
package nats

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	natsgo "github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/youngsunkr/khala-go/core/es"
)

const defaultSubjectPrefix = "khala.events"

type BusConfig struct {
	Connect       Connector    // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Log           *slog.Logger // Log for diagnostics (optional)
	SubjectPrefix string       // SubjectPrefix for event subjects, e.g. "khala.events" -> khala.events.<agg_type>.<agg_id>
	StreamName    string
}

// Bus publishes event messages to a JetStream stream. Each message is
// published synchronously so a returned nil really is a confirmed send.
type Bus struct {
	nc            *natsgo.Conn
	closeNc       closeFunc
	js            jetstream.JetStream
	log           *slog.Logger
	subjectPrefix string
	streamName    string
}

func NewBus(cfg BusConfig) (*Bus, error) {
	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNatsCon, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNatsCon()
		return nil, err
	}

	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	streamName := strings.ToUpper(cfg.StreamName)
	if streamName == "" {
		streamName = "KHALA_EVENTS"
	}

	subjectPrefix := cfg.SubjectPrefix
	if subjectPrefix == "" {
		subjectPrefix = defaultSubjectPrefix
	}

	log = log.With(
		slog.String("bus", "nats_js"),
		slog.String("stream", streamName),
		slog.String("subjectPrefix", subjectPrefix),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*natsgo.DefaultTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ".>"},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		closeNatsCon()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	return &Bus{
		nc:            nc,
		closeNc:       closeNatsCon,
		js:            js,
		log:           log,
		subjectPrefix: subjectPrefix,
		streamName:    streamName,
	}, nil
}

func (b *Bus) Close() error {
	b.js.CleanupPublisher()
	b.closeNc()
	b.log.Debug("closed bus")
	return nil
}

func (b *Bus) subjectFor(msg es.Message) string {
	return fmt.Sprintf("%s.%s.%s", b.subjectPrefix, msg.AggregateType, msg.AggregateID)
}

func (b *Bus) Send(ctx context.Context, msg es.Message) error {
	if msg.ID == "" {
		return errors.New("message id is empty")
	}
	if msg.AggregateType == "" || msg.AggregateID == "" {
		return errors.New("message aggregate identity is empty")
	}

	// the message id doubles as the JetStream dedup key so broker-side
	// duplicate suppression kicks in on resends within the dedup window
	_, err := b.js.PublishMsg(
		ctx,
		&natsgo.Msg{
			Subject: b.subjectFor(msg),
			Data:    msg.Data,
			Header: natsgo.Header{
				"Nats-Msg-Id": []string{msg.ID},
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", b.subjectFor(msg), err)
	}

	b.log.Debug(
		"sent",
		slog.Group(
			"msg",
			slog.String("id", msg.ID),
			slog.String("type", msg.Type),
			msg.Version.SlogAttr(),
		),
	)
	return nil
}

// SendBatch publishes the messages in order, stopping at the first failure.
// A partial batch is safe: the outbox keeps all rows until the whole batch
// is confirmed, and the dedup header absorbs the overlap on resend.
func (b *Bus) SendBatch(ctx context.Context, msgs []es.Message) error {
	for _, msg := range msgs {
		if err := b.Send(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

var _ es.Bus = (*Bus)(nil)
