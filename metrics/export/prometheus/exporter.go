// Package prometheus bridges apisec metrics into a Prometheus registry.
package prometheus

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apisec "github.com/perimetra/apisec"
)

type metricsSource interface {
	MetricsSnapshot() apisec.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   apisec.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{apisec.MetricKeysGenerated, "apisec_keys_generated_total", "Generated API keys."},
	{apisec.MetricKeysStored, "apisec_keys_stored_total", "Persisted API keys."},
	{apisec.MetricKeysRotated, "apisec_keys_rotated_total", "Credential rotation operations."},
	{apisec.MetricKeysRevoked, "apisec_keys_revoked_total", "Revoked API keys."},
	{apisec.MetricKeysPurged, "apisec_keys_purged_total", "Credential records purged past expiry plus grace."},
	{apisec.MetricValidateSuccess, "apisec_validate_success_total", "Successful key validations."},
	{apisec.MetricValidateFailure, "apisec_validate_failure_total", "Failed key validations."},
	{apisec.MetricSignaturesIssued, "apisec_signatures_issued_total", "Signatures produced."},
	{apisec.MetricVerifySuccess, "apisec_verify_success_total", "Accepted request signatures."},
	{apisec.MetricVerifyFailure, "apisec_verify_failure_total", "Rejected request signatures."},
	{apisec.MetricWebhookVerifySuccess, "apisec_webhook_verify_success_total", "Accepted webhook signatures."},
	{apisec.MetricWebhookVerifyFailure, "apisec_webhook_verify_failure_total", "Rejected webhook signatures."},
	{apisec.MetricAuditLogged, "apisec_audit_logged_total", "Accepted audit entries."},
	{apisec.MetricAuditFailed, "apisec_audit_failed_total", "Audit entries rejected or swallowed on error."},
	{apisec.MetricAlertsDispatched, "apisec_alerts_dispatched_total", "Alerts handed to the notifier."},
	{apisec.MetricEventsProcessed, "apisec_events_processed_total", "Events fed to the threat monitor."},
	{apisec.MetricRulesEvaluated, "apisec_rules_evaluated_total", "Rule evaluations."},
	{apisec.MetricThreatsDetected, "apisec_threats_detected_total", "Emitted threats."},
	{apisec.MetricThreatsResolved, "apisec_threats_resolved_total", "Resolved threats."},
	{apisec.MetricThreatsSuppressed, "apisec_threats_suppressed_total", "Rule matches suppressed by an unresolved threat."},
	{apisec.MetricBlocksInstalled, "apisec_blocks_installed_total", "Block-set insertions."},
	{apisec.MetricRateLimitsInstalled, "apisec_rate_limits_installed_total", "Throttle entries installed."},
	{apisec.MetricCleanupPasses, "apisec_cleanup_passes_total", "Completed background cleanup passes."},
	{apisec.MetricCleanupFailures, "apisec_cleanup_failures_total", "Failed background cleanup passes."},
}

// Exporter implements prometheus.Collector over an apisec metrics source.
type Exporter struct {
	source  metricsSource
	descs   map[apisec.MetricID]*prometheus.Desc
	dropped *prometheus.Desc
}

// NewExporter creates a collector that reads from the given [apisec.Core].
func NewExporter(core *apisec.Core) *Exporter {
	return NewExporterFromSource(core)
}

// NewExporterFromSource creates a collector from a custom metrics source.
func NewExporterFromSource(source metricsSource) *Exporter {
	descs := make(map[apisec.MetricID]*prometheus.Desc, len(counterDefs))
	for _, def := range counterDefs {
		descs[def.id] = prometheus.NewDesc(def.name, def.help, nil, nil)
	}
	return &Exporter{
		source:  source,
		descs:   descs,
		dropped: prometheus.NewDesc("apisec_audit_dropped_total", "Audit entries dropped by dispatcher backpressure.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *prometheus.Desc) {
	for _, def := range counterDefs {
		ch <- e.descs[def.id]
	}
	ch <- e.dropped
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- prometheus.Metric) {
	if e == nil || e.source == nil {
		return
	}
	snap := e.source.MetricsSnapshot()
	for _, def := range counterDefs {
		ch <- prometheus.MustNewConstMetric(e.descs[def.id], prometheus.CounterValue, float64(snap.Counters[def.id]))
	}
	ch <- prometheus.MustNewConstMetric(e.dropped, prometheus.CounterValue, float64(e.source.AuditDropped()))
}

// Handler registers the exporter on a fresh registry and returns an
// http.Handler serving it.
func (e *Exporter) Handler() http.Handler {
	reg := prometheus.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
