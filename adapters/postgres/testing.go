package postgres

import (
	"context"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Testing interface {
	require.TestingT
	Context() context.Context
	Logf(format string, args ...any)
	Cleanup(func())
}

// NewTestContainer starts a throwaway PostgreSQL server and returns a
// connection URL pointing at it.
func NewTestContainer(t Testing) string {
	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "khala",
			"POSTGRES_PASSWORD": "khala",
			"POSTGRES_DB":       "khala",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("5432/tcp"),
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	ip, err := pgC.ContainerIP(t.Context())
	require.NoError(t, err)
	t.Logf("postgres ip: %s", ip)
	return "postgres://khala:khala@" + ip + ":5432/khala?sslmode=disable"
}
