package apisec

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// testEpoch is an arbitrary fixed instant mock clocks are set to, so
// timestamp assertions are deterministic.
var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestClock() *clock.Mock {
	mock := clock.NewMock()
	mock.Set(testEpoch)
	return mock
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return mr, rdb
}

// newTestAudit builds an audit logger over the in-memory store with
// anonymization off, so tests can assert on raw identifiers.
func newTestAudit(t *testing.T, mock *clock.Mock, notifier AlertNotifier) *AuditLogger {
	t.Helper()

	cfg := defaultConfig().Audit
	cfg.AnonymizeDisabled = true
	audit, err := newAuditLogger(cfg, nil, nil, notifier, mock, nil, nil)
	if err != nil {
		t.Fatalf("newAuditLogger failed: %v", err)
	}
	t.Cleanup(audit.Close)
	return audit
}

func newTestCredentials(t *testing.T, mock *clock.Mock) *CredentialManager {
	t.Helper()
	return newCredentialManager(defaultConfig().Credential, nil, mock, nil, nil, nil)
}
