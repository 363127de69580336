package apisec

import (
	"context"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/perimetra/apisec/internal/dispatch"
)

// Compliance tag sets attached by the convenience wrappers.
var (
	tagsAuthentication = []string{"authentication"}
	tagsAPISecurity    = []string{"api_security"}
	tagsGDPR           = []string{"gdpr", "compliance"}
	tagsPayment        = []string{"payment", "pci_dss"}
)

// AuditEventInput carries the caller-provided fields of one audit entry.
// Identifying fields are anonymized by the logger before retention; the
// caller passes raw values.
type AuditEventInput struct {
	Type      EventType
	Severity  Severity
	UserID    string
	SessionID string
	IP        string
	UserAgent string
	Resource  string
	Action    string
	Outcome   Outcome
	Details   map[string]string
	Tags      []string
}

// AuditLogger records structured, anonymizing, retention-aware security
// events. Logging is best-effort: internal failures are caught, logged
// locally, and surfaced as false, never as an error to the audited action.
type AuditLogger struct {
	cfg      AuditConfig
	store    AuditStore
	anon     *anonymizer
	clock    clock.Clock
	logger   *slog.Logger
	metrics  *Metrics
	sinks    *dispatch.Dispatcher[AuditEntry]
	alerts   *dispatch.Dispatcher[Alert]
	notifier AlertNotifier
}

// NewAuditLogger creates a standalone logger with the given store, sink and
// notifier; any of them may be nil. Most callers should build the full
// [Core] instead.
func NewAuditLogger(cfg AuditConfig, store AuditStore, sink AuditSink, notifier AlertNotifier) (*AuditLogger, error) {
	return newAuditLogger(cfg, store, sink, notifier, clock.New(), slog.Default(), nil)
}

func newAuditLogger(
	cfg AuditConfig,
	store AuditStore,
	sink AuditSink,
	notifier AlertNotifier,
	clk clock.Clock,
	logger *slog.Logger,
	m *Metrics,
) (*AuditLogger, error) {
	if cfg.RetentionDays <= 0 {
		cfg.RetentionDays = defaultConfig().Audit.RetentionDays
	}
	if cfg.UserAgentMaxLen <= 0 {
		cfg.UserAgentMaxLen = defaultConfig().Audit.UserAgentMaxLen
	}
	if store == nil {
		store = NewMemoryAuditStore(cfg.MaxEntries)
	}
	if notifier == nil {
		notifier = NoOpNotifier{}
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	anon, err := newAnonymizer(cfg.PseudonymSecret, cfg.UserAgentMaxLen)
	if err != nil {
		return nil, err
	}

	a := &AuditLogger{
		cfg:      cfg,
		store:    store,
		anon:     anon,
		clock:    clk,
		logger:   logger,
		metrics:  m,
		notifier: notifier,
	}

	dcfg := dispatch.Config{BufferSize: cfg.DispatchBuffer, DropIfFull: cfg.DropIfFull}
	if sink != nil {
		a.sinks = dispatch.New(dcfg, func(ctx context.Context, entry AuditEntry) {
			sink.Emit(ctx, entry)
		})
	}
	a.alerts = dispatch.New(dcfg, func(ctx context.Context, alert Alert) {
		if err := a.notifier.Notify(ctx, alert); err != nil {
			a.logger.Error("alert delivery failed", "alert_id", alert.ID, "error", err)
			return
		}
		a.metrics.Inc(MetricAlertsDispatched)
	})

	return a, nil
}

// Close drains the async dispatchers. Entries already accepted are
// delivered before Close returns.
func (a *AuditLogger) Close() {
	if a == nil {
		return
	}
	a.sinks.Close()
	a.alerts.Close()
}

// Dropped reports entries and alerts discarded under backpressure.
func (a *AuditLogger) Dropped() uint64 {
	if a == nil {
		return 0
	}
	return a.sinks.Dropped() + a.alerts.Dropped()
}

// RaiseAlert dispatches a notification directly, bypassing the audit trail.
// Used by response actions that must page regardless of audit outcome.
func (a *AuditLogger) RaiseAlert(ctx context.Context, alert Alert) {
	if a == nil {
		return
	}
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = a.clock.Now()
	}
	a.alerts.Emit(ctx, alert)
}

// severityForEvent supplies the subtype-driven default severity used by the
// convenience wrappers and by entries logged without an explicit severity.
func severityForEvent(t EventType) Severity {
	switch t {
	case EventAccountLocked, EventFraudDetected, EventSessionHijack, EventInjectionAttempt:
		return SeverityCritical
	case EventLoginFailure, EventAPIKeyInvalid, EventSignatureInvalid,
		EventSuspiciousRequest, EventThreatDetected, EventIPBlocked, EventUserBlocked:
		return SeverityHigh
	case EventLoginRateLimited, EventRateLimitExceeded, EventAccessDenied,
		EventTimestampOutOfRange, EventScrapingDetected, EventAPIKeyRevoked,
		EventPaymentFailure, EventDataExport, EventDataDeletion, EventConsentChange:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// LogEvent records one audit entry. It returns false when the entry was
// rejected (unknown type) or could not be persisted; it never panics and
// never blocks on sink or alert delivery.
func (a *AuditLogger) LogEvent(ctx context.Context, in AuditEventInput) (ok bool) {
	if a == nil {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("audit logging panic", "panic", r)
			a.metrics.Inc(MetricAuditFailed)
			ok = false
		}
	}()

	if !IsKnownEventType(in.Type) {
		a.logger.Warn("audit entry rejected", "event_type", string(in.Type), "reason", "unknown event type")
		a.metrics.Inc(MetricAuditFailed)
		return false
	}
	if severityRank(in.Severity) < 0 {
		in.Severity = severityForEvent(in.Type)
	}

	now := a.clock.Now()
	entry := AuditEntry{
		ID:                 uuid.NewString(),
		Timestamp:          now,
		Type:               in.Type,
		Severity:           in.Severity,
		UserID:             in.UserID,
		SessionID:          in.SessionID,
		IP:                 in.IP,
		UserAgent:          in.UserAgent,
		Resource:           in.Resource,
		Action:             in.Action,
		Outcome:            in.Outcome,
		Details:            in.Details,
		Tags:               in.Tags,
		RetentionExpiresAt: now.Add(a.cfg.RetentionWindow()),
	}

	if a.cfg.Anonymize() {
		entry.UserID = a.anon.pseudonym(entry.UserID)
		entry.SessionID = a.anon.pseudonym(entry.SessionID)
		entry.IP = a.anon.maskIP(entry.IP)
		entry.UserAgent = a.anon.truncateUA(entry.UserAgent)
	}

	if err := a.store.Append(ctx, entry); err != nil {
		a.logger.Error("audit append failed", "event_type", string(entry.Type), "error", err)
		a.metrics.Inc(MetricAuditFailed)
		return false
	}
	a.metrics.Inc(MetricAuditLogged)

	a.sinks.Emit(ctx, entry)

	if severityRank(entry.Severity) >= severityRank(SeverityHigh) {
		a.alerts.Emit(ctx, Alert{
			ID:        uuid.NewString(),
			Timestamp: now,
			Severity:  entry.Severity,
			Summary:   "audit: " + string(entry.Type),
			Entry:     &entry,
		})
	}

	return true
}

// LogAuthenticationEvent records an authentication-surface event with the
// subtype-driven severity and the authentication compliance tag.
func (a *AuditLogger) LogAuthenticationEvent(ctx context.Context, subtype EventType, userID, ip, userAgent string, outcome Outcome, details map[string]string) bool {
	return a.LogEvent(ctx, AuditEventInput{
		Type:      subtype,
		UserID:    userID,
		IP:        ip,
		UserAgent: userAgent,
		Outcome:   outcome,
		Details:   details,
		Tags:      tagsAuthentication,
	})
}

// LogAPISecurityEvent records an API-surface event (bad signature, abuse,
// probing) against the resource/action it targeted.
func (a *AuditLogger) LogAPISecurityEvent(ctx context.Context, subtype EventType, ip, resource, action string, outcome Outcome, details map[string]string) bool {
	return a.LogEvent(ctx, AuditEventInput{
		Type:     subtype,
		IP:       ip,
		Resource: resource,
		Action:   action,
		Outcome:  outcome,
		Details:  details,
		Tags:     tagsAPISecurity,
	})
}

// LogGDPREvent records a privacy-surface event (export, deletion, consent).
func (a *AuditLogger) LogGDPREvent(ctx context.Context, subtype EventType, userID string, outcome Outcome, details map[string]string) bool {
	return a.LogEvent(ctx, AuditEventInput{
		Type:    subtype,
		UserID:  userID,
		Outcome: outcome,
		Details: details,
		Tags:    tagsGDPR,
	})
}

// LogPaymentSecurityEvent records a payment-surface event.
func (a *AuditLogger) LogPaymentSecurityEvent(ctx context.Context, subtype EventType, userID, ip string, outcome Outcome, details map[string]string) bool {
	return a.LogEvent(ctx, AuditEventInput{
		Type:    subtype,
		UserID:  userID,
		IP:      ip,
		Outcome: outcome,
		Details: details,
		Tags:    tagsPayment,
	})
}

// Query returns stored entries matching q, most recent first. Failures are
// swallowed into an empty result; audit reads are as best-effort as writes.
func (a *AuditLogger) Query(ctx context.Context, q AuditQuery) []AuditEntry {
	if a == nil {
		return nil
	}
	entries, err := a.store.Query(ctx, q)
	if err != nil {
		a.logger.Error("audit query failed", "error", err)
		return nil
	}
	return entries
}

// GenerateComplianceReport aggregates stored entries for the given report
// type and optional date range. A zero from/to means an unbounded range.
func (a *AuditLogger) GenerateComplianceReport(ctx context.Context, reportType string, from, to time.Time) ComplianceReport {
	report := ComplianceReport{
		ReportType:  reportType,
		GeneratedAt: a.clock.Now(),
		From:        from,
		To:          to,
		BySeverity:  make(map[Severity]int),
		ByType:      make(map[EventType]int),
	}

	entries, err := a.store.Query(ctx, AuditQuery{From: from, To: to, Limit: a.cfg.MaxEntries})
	if err != nil {
		a.logger.Error("compliance report query failed", "report_type", reportType, "error", err)
		return report
	}

	for _, e := range entries {
		report.TotalEvents++
		report.BySeverity[e.Severity]++
		report.ByType[e.Type]++
		if severityRank(e.Severity) >= severityRank(SeverityHigh) && e.Outcome != OutcomeSuccess {
			report.OutstandingHigh++
		}
	}

	if report.OutstandingHigh > 0 {
		report.Recommendations = append(report.Recommendations,
			"Review outstanding high-severity events and confirm each has a tracked mitigation.")
	}
	if report.BySeverity[SeverityCritical] > 0 {
		report.Recommendations = append(report.Recommendations,
			"Critical events occurred in the period; verify alert delivery reached an on-call recipient.")
	}
	if report.ByType[EventLoginFailure] > report.ByType[EventLoginSuccess] {
		report.Recommendations = append(report.Recommendations,
			"Failed logins outnumber successes; review brute-force rule thresholds.")
	}
	if len(report.Recommendations) == 0 {
		report.Recommendations = append(report.Recommendations,
			"No outstanding high-severity items in the period.")
	}

	return report
}

// CleanupExpired removes entries past their retention deadline and reports
// how many were purged.
func (a *AuditLogger) CleanupExpired(ctx context.Context) (int, error) {
	return a.store.PurgeExpired(ctx, a.clock.Now())
}
