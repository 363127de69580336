package apisec

import "time"

// SecurityReport is a static posture snapshot derived from configuration
// and runtime state. Intended for operator dashboards and startup logging.
type SecurityReport struct {
	KeyRotationInterval time.Duration
	KeyGracePeriod      time.Duration
	KeyEntropyBits      int

	SignatureTolerance time.Duration

	AuditRetentionDays  int
	AnonymizationActive bool
	AuditBackpressure   uint64

	RulesEnabled     int
	RulesTotal       int
	ActiveThreats    int
	BlockedIPs       int
	BlockedUsers     int
	MonitoringWindow time.Duration

	MetricsEnabled bool
}

// SecurityReport summarizes the core's current security posture.
func (c *Core) SecurityReport() SecurityReport {
	if c == nil {
		return SecurityReport{}
	}

	stats := c.Threats.GetStatistics()

	return SecurityReport{
		KeyRotationInterval: c.config.Credential.RotationInterval,
		KeyGracePeriod:      c.config.Credential.GracePeriod,
		KeyEntropyBits:      c.config.Credential.KeyBytes * 8,
		SignatureTolerance:  c.config.Signing.Tolerance,
		AuditRetentionDays:  c.config.Audit.RetentionDays,
		AnonymizationActive: c.config.Audit.Anonymize(),
		AuditBackpressure:   c.Audit.Dropped(),
		RulesEnabled:        stats.RulesEnabled,
		RulesTotal:          stats.RulesTotal,
		ActiveThreats:       stats.ActiveThreats,
		BlockedIPs:          stats.BlockedIPs,
		BlockedUsers:        stats.BlockedUsers,
		MonitoringWindow:    c.config.Threat.MonitoringWindow,
		MetricsEnabled:      c.config.Metrics.Enabled,
	}
}
