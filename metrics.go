package apisec

import (
	internalmetrics "github.com/perimetra/apisec/internal/metrics"
)

// MetricID identifies a specific counter in the in-process metrics system.
type MetricID = internalmetrics.MetricID

const (
	// MetricKeysGenerated counts generated API keys.
	MetricKeysGenerated = internalmetrics.MetricKeysGenerated
	// MetricKeysStored counts persisted API keys.
	MetricKeysStored = internalmetrics.MetricKeysStored
	// MetricKeysRotated counts rotation operations.
	MetricKeysRotated = internalmetrics.MetricKeysRotated
	// MetricKeysRevoked counts revocations.
	MetricKeysRevoked = internalmetrics.MetricKeysRevoked
	// MetricKeysPurged counts records removed by CleanupExpired.
	MetricKeysPurged = internalmetrics.MetricKeysPurged
	// MetricValidateSuccess counts successful key validations.
	MetricValidateSuccess = internalmetrics.MetricValidateSuccess
	// MetricValidateFailure counts failed key validations.
	MetricValidateFailure = internalmetrics.MetricValidateFailure
	// MetricSignaturesIssued counts signatures produced by Sign/SignOutgoing.
	MetricSignaturesIssued = internalmetrics.MetricSignaturesIssued
	// MetricVerifySuccess counts accepted request signatures.
	MetricVerifySuccess = internalmetrics.MetricVerifySuccess
	// MetricVerifyFailure counts rejected request signatures.
	MetricVerifyFailure = internalmetrics.MetricVerifyFailure
	// MetricWebhookVerifySuccess counts accepted webhook signatures.
	MetricWebhookVerifySuccess = internalmetrics.MetricWebhookVerifySuccess
	// MetricWebhookVerifyFailure counts rejected webhook signatures.
	MetricWebhookVerifyFailure = internalmetrics.MetricWebhookVerifyFailure
	// MetricAuditLogged counts accepted audit entries.
	MetricAuditLogged = internalmetrics.MetricAuditLogged
	// MetricAuditFailed counts audit entries rejected or swallowed on error.
	MetricAuditFailed = internalmetrics.MetricAuditFailed
	// MetricAlertsDispatched counts alerts handed to the notifier.
	MetricAlertsDispatched = internalmetrics.MetricAlertsDispatched
	// MetricEventsProcessed counts events fed to the threat monitor.
	MetricEventsProcessed = internalmetrics.MetricEventsProcessed
	// MetricRulesEvaluated counts rule evaluations.
	MetricRulesEvaluated = internalmetrics.MetricRulesEvaluated
	// MetricThreatsDetected counts emitted threats.
	MetricThreatsDetected = internalmetrics.MetricThreatsDetected
	// MetricThreatsResolved counts resolved threats.
	MetricThreatsResolved = internalmetrics.MetricThreatsResolved
	// MetricThreatsSuppressed counts rule matches suppressed by an unresolved threat.
	MetricThreatsSuppressed = internalmetrics.MetricThreatsSuppressed
	// MetricBlocksInstalled counts block-set insertions.
	MetricBlocksInstalled = internalmetrics.MetricBlocksInstalled
	// MetricRateLimitsInstalled counts throttle entries installed.
	MetricRateLimitsInstalled = internalmetrics.MetricRateLimitsInstalled
	// MetricCleanupPasses counts completed background cleanup passes.
	MetricCleanupPasses = internalmetrics.MetricCleanupPasses
	// MetricCleanupFailures counts failed background cleanup passes.
	MetricCleanupFailures = internalmetrics.MetricCleanupFailures
)

// Metrics holds atomic counters for the apisec core.
type Metrics = internalmetrics.Metrics

// MetricsSnapshot is a point-in-time deep copy of all counters.
type MetricsSnapshot = internalmetrics.Snapshot

// NewMetrics creates a new [Metrics] instance. When Enabled is false all
// operations are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return internalmetrics.New(internalmetrics.Config{Enabled: cfg.Enabled})
}
