package apisec

// Core is the assembled trust subsystem: the four components share one
// clock, logger, metrics set and audit trail. Construct via [Builder.Build].
type Core struct {
	Credentials *CredentialManager
	Signer      *RequestSigner
	Audit       *AuditLogger
	Threats     *ThreatMonitor

	config  Config
	metrics *Metrics
}

// Config returns the normalized configuration the core was built with.
func (c *Core) Config() Config {
	return c.config
}

// MetricsSnapshot returns a point-in-time copy of all counters. Zero when
// metrics are disabled.
func (c *Core) MetricsSnapshot() MetricsSnapshot {
	if c == nil {
		return MetricsSnapshot{}
	}
	return c.metrics.SnapshotNow()
}

// AuditDropped reports audit entries and alerts discarded under
// backpressure since startup.
func (c *Core) AuditDropped() uint64 {
	if c == nil {
		return 0
	}
	return c.Audit.Dropped()
}

// Close stops the threat monitor's cleanup loop and drains the audit
// dispatchers. The core must not be used after Close.
func (c *Core) Close() {
	if c == nil {
		return
	}
	c.Threats.Stop()
	c.Audit.Close()
}
