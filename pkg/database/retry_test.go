package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noWait(int) time.Duration { return 0 }

func TestRetryBackoff_ExponentialWithJitter(t *testing.T) {
	for attempt := 0; attempt < 3; attempt++ {
		base := defaultRetryBaseWait << attempt
		lo := time.Duration(float64(base) * (1 - retryJitterFraction))
		hi := time.Duration(float64(base) * (1 + retryJitterFraction))
		for i := 0; i < 20; i++ {
			d := retryBackoff(attempt)
			assert.GreaterOrEqual(t, d, lo)
			assert.LessOrEqual(t, d, hi)
		}
	}
}

func TestWithRetry_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, "op", always, noWait, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUp(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), nil, "ping redis", always, noWait, func(context.Context) error {
		calls++
		return errors.New("dial tcp: i/o timeout")
	})
	require.Error(t, err)
	assert.Equal(t, defaultRetryAttempts, calls)
	assert.Contains(t, err.Error(), "ping redis after 3 attempts")
}

func TestWithRetry_NonRetryableReturnsImmediately(t *testing.T) {
	sqlErr := errors.New(`syntax error at or near "SELEC"`)
	calls := 0
	err := withRetry(context.Background(), nil, "run migrations", isConnectionError, noWait, func(context.Context) error {
		calls++
		return sqlErr
	})
	assert.Same(t, sqlErr, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancelledDuringWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := withRetry(ctx, nil, "op", always, func(int) time.Duration { return time.Hour }, func(context.Context) error {
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"refused", errors.New("dial tcp 127.0.0.1:5432: connect: connection refused"), true},
		{"reset", fmt.Errorf("query: %w", errors.New("connection reset by peer")), true},
		{"deadline", context.DeadlineExceeded, true},
		{"pg syntax error", &pgconn.PgError{Code: "42601", Message: "syntax error"}, false},
		{"plain", errors.New("relation does not exist"), false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isConnectionError(tc.err))
		})
	}
}

func TestPostgresConfig_DSN_EscapesCredentials(t *testing.T) {
	cfg := PostgresConfig{Host: "db", Port: 5432, User: "tenant", Password: "p@ss/word", DBName: "tenants", SSLMode: "disable"}
	assert.Equal(t, "postgres://tenant:p%40ss%2Fword@db:5432/tenants?sslmode=disable", cfg.DSN())
}
