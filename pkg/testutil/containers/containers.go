//go:build integration

// Package containers starts the Postgres, Redis and Kafka services keepsake's
// integration suites run against. Each service starts on its first request
// and is then shared by every suite in the test binary. Ryuk removes the
// containers when the process exits, so suites reset state instead of
// terminating them.
package containers

import (
	"sync"
	"testing"
)

// Manager hands out the shared service containers.
type Manager struct {
	mu       sync.Mutex
	postgres *PostgresContainer
	redis    *RedisContainer
	kafka    *KafkaContainer
}

var manager = sync.OnceValue(func() *Manager { return &Manager{} })

// GetManager returns the process-wide manager.
func GetManager() *Manager {
	return manager()
}

// GetPostgres returns the shared Postgres with every keepsake migration applied.
func (m *Manager) GetPostgres(t *testing.T) *PostgresContainer {
	t.Helper()
	return startOnce(m, &m.postgres, t, NewPostgresContainer)
}

// GetRedis returns the shared Redis backing the rate limiter and advisory locks.
func (m *Manager) GetRedis(t *testing.T) *RedisContainer {
	t.Helper()
	return startOnce(m, &m.redis, t, NewRedisContainer)
}

// GetKafka returns the shared broker the outbox worker publishes to.
func (m *Manager) GetKafka(t *testing.T) *KafkaContainer {
	t.Helper()
	return startOnce(m, &m.kafka, t, NewKafkaContainer)
}

// startOnce returns *slot, starting it with start on first use. A start that
// fails the test leaves the slot empty for the next suite to retry.
func startOnce[C any](m *Manager, slot **C, t *testing.T, start func(*testing.T) *C) *C {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if *slot == nil {
		*slot = start(t)
	}
	return *slot
}
