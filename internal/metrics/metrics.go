// Package metrics implements the in-process counter set shared by the
// apisec components. Counters are lock-free and safe for concurrent use;
// when disabled every operation is a no-op.
package metrics

import "sync/atomic"

// MetricID identifies one counter.
type MetricID uint16

const (
	// Credential lifecycle.
	MetricKeysGenerated MetricID = iota
	MetricKeysStored
	MetricKeysRotated
	MetricKeysRevoked
	MetricKeysPurged
	MetricValidateSuccess
	MetricValidateFailure

	// Request signing.
	MetricSignaturesIssued
	MetricVerifySuccess
	MetricVerifyFailure
	MetricWebhookVerifySuccess
	MetricWebhookVerifyFailure

	// Audit pipeline.
	MetricAuditLogged
	MetricAuditFailed
	MetricAlertsDispatched

	// Threat engine.
	MetricEventsProcessed
	MetricRulesEvaluated
	MetricThreatsDetected
	MetricThreatsResolved
	MetricThreatsSuppressed
	MetricBlocksInstalled
	MetricRateLimitsInstalled
	MetricCleanupPasses
	MetricCleanupFailures

	// MetricIDCount is the number of defined counters.
	MetricIDCount
)

// Config controls metric collection.
type Config struct {
	Enabled bool
}

// Metrics holds atomic counters for every MetricID.
type Metrics struct {
	enabled  bool
	counters [MetricIDCount]atomic.Uint64
}

// Snapshot is a point-in-time copy of all counters.
type Snapshot struct {
	Counters map[MetricID]uint64
}

// New creates a Metrics instance. When cfg.Enabled is false all operations
// are no-ops and Snapshot returns empty maps.
func New(cfg Config) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Inc increments a counter by one.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(1)
}

// Add increments a counter by n.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return
	}
	m.counters[id].Add(n)
}

// Get reads one counter.
func (m *Metrics) Get(id MetricID) uint64 {
	if m == nil || !m.enabled || id >= MetricIDCount {
		return 0
	}
	return m.counters[id].Load()
}

// SnapshotNow deep-copies all counters.
func (m *Metrics) SnapshotNow() Snapshot {
	snap := Snapshot{Counters: make(map[MetricID]uint64, MetricIDCount)}
	if m == nil || !m.enabled {
		return snap
	}
	for id := MetricID(0); id < MetricIDCount; id++ {
		snap.Counters[id] = m.counters[id].Load()
	}
	return snap
}
