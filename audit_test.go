package apisec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestLogEventRejectsUnknownType(t *testing.T) {
	audit := newTestAudit(t, newTestClock(), nil)
	if audit.LogEvent(context.Background(), AuditEventInput{Type: "made_up_event"}) {
		t.Fatal("unknown event type accepted")
	}
	if got := audit.Query(context.Background(), AuditQuery{}); len(got) != 0 {
		t.Fatalf("rejected event was stored: %+v", got)
	}
}

func TestLogEventAppliesDefaultSeverity(t *testing.T) {
	ctx := context.Background()
	audit := newTestAudit(t, newTestClock(), nil)

	if !audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: "u1", Outcome: OutcomeSuccess}) {
		t.Fatal("LogEvent failed")
	}
	if !audit.LogEvent(ctx, AuditEventInput{Type: EventFraudDetected, UserID: "u1", Outcome: OutcomeBlocked}) {
		t.Fatal("LogEvent failed")
	}

	entries := audit.Query(ctx, AuditQuery{UserID: "u1"})
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	// Most recent first.
	if entries[0].Type != EventFraudDetected || entries[0].Severity != SeverityCritical {
		t.Fatalf("fraud entry severity = %q, want critical", entries[0].Severity)
	}
	if entries[1].Type != EventLoginSuccess || entries[1].Severity != SeverityLow {
		t.Fatalf("login entry severity = %q, want low", entries[1].Severity)
	}
}

func TestLogEventExplicitSeverityWins(t *testing.T) {
	ctx := context.Background()
	audit := newTestAudit(t, newTestClock(), nil)

	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: "u1", Severity: SeverityCritical, Outcome: OutcomeSuccess})
	entries := audit.Query(ctx, AuditQuery{UserID: "u1"})
	if len(entries) != 1 || entries[0].Severity != SeverityCritical {
		t.Fatalf("explicit severity overridden: %+v", entries)
	}
}

func TestAnonymizationAppliedByDefault(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig().Audit
	cfg.PseudonymSecret = []byte("fixed-test-secret")
	cfg.UserAgentMaxLen = 16
	audit, err := newAuditLogger(cfg, nil, nil, nil, newTestClock(), nil, nil)
	if err != nil {
		t.Fatalf("newAuditLogger failed: %v", err)
	}
	defer audit.Close()

	audit.LogEvent(ctx, AuditEventInput{
		Type:      EventDataExport,
		UserID:    "user-42",
		SessionID: "sess-9",
		IP:        "203.0.113.77",
		UserAgent: strings.Repeat("Mozilla/5.0 ", 10),
		Outcome:   OutcomeSuccess,
	})

	entries := audit.Query(ctx, AuditQuery{Type: EventDataExport})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if !strings.HasPrefix(e.UserID, "anon_") || e.UserID == "user-42" {
		t.Errorf("user id not pseudonymized: %q", e.UserID)
	}
	if !strings.HasPrefix(e.SessionID, "anon_") {
		t.Errorf("session id not pseudonymized: %q", e.SessionID)
	}
	if e.IP != "203.0.113.0" {
		t.Errorf("IP not masked: %q", e.IP)
	}
	if len(e.UserAgent) > 16 {
		t.Errorf("user agent not truncated: %d chars", len(e.UserAgent))
	}

	// Same identifier maps to the same pseudonym within a process.
	audit.LogEvent(ctx, AuditEventInput{Type: EventDataExport, UserID: "user-42", Outcome: OutcomeSuccess})
	entries = audit.Query(ctx, AuditQuery{Type: EventDataExport})
	if entries[0].UserID != entries[1].UserID {
		t.Error("pseudonym not stable for the same identifier")
	}
}

func TestAnonymizationMasksIPv6(t *testing.T) {
	anon, err := newAnonymizer([]byte("s"), 256)
	if err != nil {
		t.Fatalf("newAnonymizer failed: %v", err)
	}
	if got := anon.maskIP("2001:db8:1:2:3:4:5:6"); got != "2001:db8:1:2::" {
		t.Errorf("IPv6 mask = %q, want 2001:db8:1:2::", got)
	}
	if got := anon.maskIP("not-an-ip"); got != "" {
		t.Errorf("unparseable address kept: %q", got)
	}
}

func TestQueryFilters(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	audit := newTestAudit(t, mock, nil)

	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginFailure, UserID: "alice", Outcome: OutcomeFailure})
	mock.Add(time.Minute)
	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginFailure, UserID: "bob", Outcome: OutcomeFailure})
	mock.Add(time.Minute)
	audit.LogEvent(ctx, AuditEventInput{Type: EventDataExport, UserID: "alice", Outcome: OutcomeSuccess})

	if got := audit.Query(ctx, AuditQuery{UserID: "alice"}); len(got) != 2 {
		t.Errorf("user filter returned %d, want 2", len(got))
	}
	if got := audit.Query(ctx, AuditQuery{UserID: "alice", Type: EventLoginFailure}); len(got) != 1 {
		t.Errorf("AND filter returned %d, want 1", len(got))
	}
	if got := audit.Query(ctx, AuditQuery{Severity: SeverityHigh}); len(got) != 2 {
		t.Errorf("severity filter returned %d, want 2", len(got))
	}
	if got := audit.Query(ctx, AuditQuery{From: testEpoch.Add(90 * time.Second)}); len(got) != 1 {
		t.Errorf("From filter returned %d, want 1", len(got))
	}
	if got := audit.Query(ctx, AuditQuery{To: testEpoch.Add(30 * time.Second)}); len(got) != 1 {
		t.Errorf("To filter returned %d, want 1", len(got))
	}
	if got := audit.Query(ctx, AuditQuery{Limit: 2}); len(got) != 2 {
		t.Errorf("limit returned %d, want 2", len(got))
	}
}

func TestWrappersAttachComplianceTags(t *testing.T) {
	ctx := context.Background()
	audit := newTestAudit(t, newTestClock(), nil)

	audit.LogAuthenticationEvent(ctx, EventLoginFailure, "u1", "203.0.113.7", "curl/8", OutcomeFailure, nil)
	audit.LogAPISecurityEvent(ctx, EventAccessDenied, "203.0.113.7", "/v1/admin", "GET", OutcomeBlocked, nil)
	audit.LogGDPREvent(ctx, EventDataDeletion, "u1", OutcomeSuccess, nil)
	audit.LogPaymentSecurityEvent(ctx, EventPaymentFailure, "u1", "203.0.113.7", OutcomeFailure, nil)

	wantTags := map[EventType]string{
		EventLoginFailure:   "authentication",
		EventAccessDenied:   "api_security",
		EventDataDeletion:   "gdpr",
		EventPaymentFailure: "pci_dss",
	}
	for typ, tag := range wantTags {
		entries := audit.Query(ctx, AuditQuery{Type: typ})
		if len(entries) != 1 {
			t.Fatalf("%s: got %d entries, want 1", typ, len(entries))
		}
		found := false
		for _, got := range entries[0].Tags {
			if got == tag {
				found = true
			}
		}
		if !found {
			t.Errorf("%s: tags %v missing %q", typ, entries[0].Tags, tag)
		}
	}
}

func TestHighSeverityEntriesRaiseAlerts(t *testing.T) {
	ctx := context.Background()
	notifier := NewChannelNotifier(8)
	audit := newTestAudit(t, newTestClock(), notifier)

	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: "u1", Outcome: OutcomeSuccess})
	audit.LogEvent(ctx, AuditEventInput{Type: EventSessionHijack, UserID: "u1", Outcome: OutcomeBlocked})
	audit.Close() // drain the dispatcher

	select {
	case alert := <-notifier.Alerts():
		if alert.Severity != SeverityCritical {
			t.Fatalf("alert severity = %q, want critical", alert.Severity)
		}
		if alert.Entry == nil || alert.Entry.Type != EventSessionHijack {
			t.Fatalf("alert not linked to the triggering entry: %+v", alert.Entry)
		}
	default:
		t.Fatal("critical entry produced no alert")
	}
	select {
	case alert := <-notifier.Alerts():
		t.Fatalf("low severity entry produced an alert: %+v", alert)
	default:
	}
}

func TestSinkReceivesAcceptedEntries(t *testing.T) {
	ctx := context.Background()
	sink := NewChannelSink(8)
	cfg := defaultConfig().Audit
	cfg.AnonymizeDisabled = true
	audit, err := newAuditLogger(cfg, nil, sink, nil, newTestClock(), nil, nil)
	if err != nil {
		t.Fatalf("newAuditLogger failed: %v", err)
	}

	audit.LogEvent(ctx, AuditEventInput{Type: "bogus"})
	audit.LogEvent(ctx, AuditEventInput{Type: EventConsentChange, UserID: "u1", Outcome: OutcomeSuccess})
	audit.Close()

	select {
	case entry := <-sink.Entries():
		if entry.Type != EventConsentChange {
			t.Fatalf("sink got %q, want consent_change", entry.Type)
		}
	default:
		t.Fatal("accepted entry never reached the sink")
	}
	select {
	case entry := <-sink.Entries():
		t.Fatalf("rejected entry reached the sink: %+v", entry)
	default:
	}
}

func TestRetentionCleanup(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	audit := newTestAudit(t, mock, nil)

	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: "u1", Outcome: OutcomeSuccess})
	mock.Add(24 * time.Hour)
	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: "u2", Outcome: OutcomeSuccess})

	// First entry's 365-day retention elapses; the second survives.
	mock.Add(365*24*time.Hour - 12*time.Hour)
	purged, err := audit.CleanupExpired(ctx)
	if err != nil {
		t.Fatalf("CleanupExpired failed: %v", err)
	}
	if purged != 1 {
		t.Fatalf("purged %d entries, want 1", purged)
	}
	remaining := audit.Query(ctx, AuditQuery{})
	if len(remaining) != 1 || remaining[0].UserID != "u2" {
		t.Fatalf("wrong entries retained: %+v", remaining)
	}
}

func TestMemoryStoreBound(t *testing.T) {
	ctx := context.Background()
	cfg := defaultConfig().Audit
	cfg.AnonymizeDisabled = true
	cfg.MaxEntries = 3
	audit, err := newAuditLogger(cfg, NewMemoryAuditStore(3), nil, nil, newTestClock(), nil, nil)
	if err != nil {
		t.Fatalf("newAuditLogger failed: %v", err)
	}
	defer audit.Close()

	for _, user := range []string{"a", "b", "c", "d", "e"} {
		audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: user, Outcome: OutcomeSuccess})
	}
	got := audit.Query(ctx, AuditQuery{Limit: 10})
	if len(got) != 3 {
		t.Fatalf("store kept %d entries, want 3", len(got))
	}
	if got[0].UserID != "e" || got[2].UserID != "c" {
		t.Fatalf("wrong eviction order: %+v", got)
	}
}

func TestComplianceReport(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	audit := newTestAudit(t, mock, nil)

	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginSuccess, UserID: "u1", Outcome: OutcomeSuccess})
	audit.LogEvent(ctx, AuditEventInput{Type: EventLoginFailure, UserID: "u1", Outcome: OutcomeFailure})
	audit.LogEvent(ctx, AuditEventInput{Type: EventFraudDetected, UserID: "u2", Outcome: OutcomeBlocked})

	report := audit.GenerateComplianceReport(ctx, "soc2", testEpoch.Add(-time.Hour), testEpoch.Add(time.Hour))
	if report.ReportType != "soc2" {
		t.Fatalf("ReportType = %q", report.ReportType)
	}
	if report.TotalEvents != 3 {
		t.Fatalf("TotalEvents = %d, want 3", report.TotalEvents)
	}
	if report.BySeverity[SeverityCritical] != 1 || report.BySeverity[SeverityHigh] != 1 || report.BySeverity[SeverityLow] != 1 {
		t.Fatalf("BySeverity = %+v", report.BySeverity)
	}
	if report.ByType[EventLoginFailure] != 1 {
		t.Fatalf("ByType = %+v", report.ByType)
	}
	// The failure and the blocked fraud event are both outstanding.
	if report.OutstandingHigh != 2 {
		t.Fatalf("OutstandingHigh = %d, want 2", report.OutstandingHigh)
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("report has no recommendations")
	}
}

func TestComplianceReportEmptyPeriod(t *testing.T) {
	audit := newTestAudit(t, newTestClock(), nil)
	report := audit.GenerateComplianceReport(context.Background(), "gdpr", testEpoch.Add(time.Hour), testEpoch.Add(2*time.Hour))
	if report.TotalEvents != 0 || report.OutstandingHigh != 0 {
		t.Fatalf("empty period report = %+v", report)
	}
	if len(report.Recommendations) == 0 {
		t.Fatal("empty report should still carry the all-clear recommendation")
	}
}
