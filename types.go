package apisec

import (
	"time"
)

// EventType identifies a security-relevant event fed into the audit log
// and the threat correlation engine.
//
// The set is closed: components branch exhaustively on it and rule files
// referencing unknown types are rejected at load time.
type EventType string

const (
	// Authentication surface.
	EventLoginSuccess     EventType = "login_success"
	EventLoginFailure     EventType = "login_failure"
	EventLoginRateLimited EventType = "login_rate_limited"
	EventAccountLocked    EventType = "account_locked"
	EventSessionHijack    EventType = "session_hijack_suspected"

	// Credential lifecycle.
	EventAPIKeyCreated       EventType = "api_key_created"
	EventAPIKeyRotated       EventType = "api_key_rotated"
	EventAPIKeyRevoked       EventType = "api_key_revoked"
	EventAPIKeyInvalid       EventType = "api_key_invalid"
	EventSignatureInvalid    EventType = "signature_invalid"
	EventTimestampOutOfRange EventType = "timestamp_out_of_range"

	// API surface abuse.
	EventRateLimitExceeded EventType = "rate_limit_exceeded"
	EventAccessDenied      EventType = "access_denied"
	EventInjectionAttempt  EventType = "injection_attempt"
	EventSuspiciousRequest EventType = "suspicious_request"
	EventScrapingDetected  EventType = "scraping_detected"

	// Privacy / GDPR surface.
	EventDataExport    EventType = "data_export"
	EventDataDeletion  EventType = "data_deletion"
	EventConsentChange EventType = "consent_change"

	// Payment surface.
	EventPaymentAttempt EventType = "payment_attempt"
	EventPaymentFailure EventType = "payment_failure"
	EventFraudDetected  EventType = "fraud_detected"

	// Emitted by this package itself.
	EventThreatDetected EventType = "threat_detected"
	EventThreatResolved EventType = "threat_resolved"
	EventIPBlocked      EventType = "ip_blocked"
	EventUserBlocked    EventType = "user_blocked"
)

// knownEventTypes is the closed registry used by rule validation.
var knownEventTypes = map[EventType]struct{}{
	EventLoginSuccess: {}, EventLoginFailure: {}, EventLoginRateLimited: {},
	EventAccountLocked: {}, EventSessionHijack: {},
	EventAPIKeyCreated: {}, EventAPIKeyRotated: {}, EventAPIKeyRevoked: {},
	EventAPIKeyInvalid: {}, EventSignatureInvalid: {}, EventTimestampOutOfRange: {},
	EventRateLimitExceeded: {}, EventAccessDenied: {}, EventInjectionAttempt: {},
	EventSuspiciousRequest: {}, EventScrapingDetected: {},
	EventDataExport: {}, EventDataDeletion: {}, EventConsentChange: {},
	EventPaymentAttempt: {}, EventPaymentFailure: {}, EventFraudDetected: {},
	EventThreatDetected: {}, EventThreatResolved: {}, EventIPBlocked: {}, EventUserBlocked: {},
}

// IsKnownEventType reports whether t is part of the closed event type set.
func IsKnownEventType(t EventType) bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Severity classifies audit entries. HIGH and CRITICAL entries trigger
// fire-and-forget alert dispatch.
type Severity string

const (
	// SeverityLow marks routine events kept for traceability.
	SeverityLow Severity = "low"
	// SeverityMedium marks events worth reviewing in aggregate.
	SeverityMedium Severity = "medium"
	// SeverityHigh marks events requiring attention; triggers alerting.
	SeverityHigh Severity = "high"
	// SeverityCritical marks events requiring immediate attention; triggers alerting.
	SeverityCritical Severity = "critical"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Outcome records how the observed operation ended.
type Outcome string

const (
	// OutcomeSuccess is an allowed, completed operation.
	OutcomeSuccess Outcome = "success"
	// OutcomeFailure is an operation that failed a check (bad credential, bad signature).
	OutcomeFailure Outcome = "failure"
	// OutcomeBlocked is an operation denied by an active mitigation.
	OutcomeBlocked Outcome = "blocked"
)

// ThreatLevel grades a correlated threat.
type ThreatLevel string

const (
	// LevelLow is an exported threat level constant.
	LevelLow ThreatLevel = "low"
	// LevelMedium is an exported threat level constant.
	LevelMedium ThreatLevel = "medium"
	// LevelHigh is an exported threat level constant.
	LevelHigh ThreatLevel = "high"
	// LevelCritical is an exported threat level constant.
	LevelCritical ThreatLevel = "critical"
)

// ResponseAction is an automated mitigation executed when a rule fires.
// Actions are idempotent; executing the same action twice for the same
// threat leaves state unchanged.
type ResponseAction string

const (
	// ActionLogOnly writes an audit incident and nothing else.
	ActionLogOnly ResponseAction = "log_only"
	// ActionRateLimit installs a throttle entry with a fixed reset deadline.
	ActionRateLimit ResponseAction = "rate_limit"
	// ActionTemporaryBlock adds the source IP to the blocked set until cleanup evicts it.
	ActionTemporaryBlock ResponseAction = "temporary_block"
	// ActionPermanentBlock adds the source IP and user to the blocked sets with no deadline.
	ActionPermanentBlock ResponseAction = "permanent_block"
	// ActionAlertAdmin dispatches a critical notification.
	ActionAlertAdmin ResponseAction = "alert_admin"
	// ActionRequire2FA flags the user so the caller can demand a second factor.
	ActionRequire2FA ResponseAction = "require_2fa"
)

// CredentialKind partitions API keys by privilege class. The kind selects
// the key prefix and is reported back by Validate.
type CredentialKind string

const (
	// KindUser is an exported credential kind constant.
	KindUser CredentialKind = "user"
	// KindAdmin is an exported credential kind constant.
	KindAdmin CredentialKind = "admin"
	// KindService is an exported credential kind constant.
	KindService CredentialKind = "service"
)

// SecurityEvent is one observed event inside the threat monitor. Immutable
// once created; eligible for eviction once it ages out of the monitoring
// window.
type SecurityEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity,omitempty"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Outcome   Outcome           `json:"outcome"`
	Details   map[string]string `json:"details,omitempty"`
}

// EventInput is the inbound contract from the middleware collaborator.
// At least one of IP, UserID, SessionID should be present for correlation;
// an event carrying none is recorded but can never satisfy a rule.
type EventInput struct {
	Type      EventType
	UserID    string
	IP        string
	SessionID string
	Outcome   Outcome
	Details   map[string]string
}

// SecurityThreat is a correlated incident produced when a rule threshold is
// met. Created by [ThreatMonitor.ProcessEvent]; mutated solely by
// resolution. Lifecycle: Detected → Active → Resolved (terminal).
type SecurityThreat struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Level       ThreatLevel      `json:"level"`
	SourceIP    string           `json:"source_ip,omitempty"`
	UserID      string           `json:"user_id,omitempty"`
	Description string           `json:"description"`
	Evidence    []SecurityEvent  `json:"evidence,omitempty"`
	DetectedAt  time.Time        `json:"detected_at"`
	Actions     []ResponseAction `json:"response_actions"`
	Resolved    bool             `json:"resolved"`
	ResolvedAt  time.Time        `json:"resolved_at,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// SecurityRule is one threshold rule of the correlation engine.
// Configuration data: loaded at startup (built-in defaults or YAML files),
// mutated only via [ThreatMonitor.SetRuleEnabled].
type SecurityRule struct {
	ID          string            `json:"id" yaml:"id"`
	Name        string            `json:"name" yaml:"name"`
	Description string            `json:"description,omitempty" yaml:"description"`
	EventTypes  []EventType       `json:"event_types" yaml:"event_types"`
	Conditions  map[string]string `json:"conditions,omitempty" yaml:"conditions"`
	Threshold   int               `json:"threshold" yaml:"threshold"`
	WindowMins  int               `json:"window_minutes" yaml:"window_minutes"`
	Level       ThreatLevel       `json:"level" yaml:"level"`
	Actions     []ResponseAction  `json:"response_actions" yaml:"response_actions"`
	Enabled     bool              `json:"enabled" yaml:"enabled"`
}

// Window returns the rule's sliding window as a duration.
func (r SecurityRule) Window() time.Duration {
	return time.Duration(r.WindowMins) * time.Minute
}

// CredentialRecord is the stored form of an API key. The plaintext key is
// never persisted; Hash is its SHA-256 digest and the storage lookup key.
type CredentialRecord struct {
	Hash         string         `json:"hash"`
	OwnerID      string         `json:"owner_id"`
	Kind         CredentialKind `json:"kind"`
	CreatedAt    time.Time      `json:"created_at"`
	ExpiresAt    time.Time      `json:"expires_at"`
	Active       bool           `json:"active"`
	RotatedAt    time.Time      `json:"rotated_at,omitempty"`
	RevokedAt    time.Time      `json:"revoked_at,omitempty"`
	RevokeReason string         `json:"revoke_reason,omitempty"`
}

// CredentialInfo is returned by [CredentialManager.Validate] for a key that
// is known, active and unexpired. The failure reason for any other key is
// deliberately not distinguishable: Validate returns nil for all of them.
type CredentialInfo struct {
	OwnerID   string
	Kind      CredentialKind
	CreatedAt time.Time
	ExpiresAt time.Time
}

// RotationResult is returned by [CredentialManager.Rotate].
type RotationResult struct {
	NewKey         string
	PreviousActive int
	GraceEnds      time.Time
}

// CredentialStatistics aggregates credential counts, optionally scoped to
// one owner.
type CredentialStatistics struct {
	Total   int
	Active  int
	Expired int
	Revoked int
	ByKind  map[CredentialKind]int
}

// AuditEntry is one record of the security audit log. When anonymization is
// enabled the identifying fields hold pseudonymized/masked values; the raw
// values are never retained.
type AuditEntry struct {
	ID                 string            `json:"id"`
	Timestamp          time.Time         `json:"timestamp"`
	Type               EventType         `json:"event_type"`
	Severity           Severity          `json:"severity"`
	UserID             string            `json:"user_id,omitempty"`
	SessionID          string            `json:"session_id,omitempty"`
	IP                 string            `json:"ip,omitempty"`
	UserAgent          string            `json:"user_agent,omitempty"`
	Resource           string            `json:"resource,omitempty"`
	Action             string            `json:"action,omitempty"`
	Outcome            Outcome           `json:"outcome"`
	Details            map[string]string `json:"details,omitempty"`
	Tags               []string          `json:"tags,omitempty"`
	RetentionExpiresAt time.Time         `json:"retention_expires_at"`
}

// AuditQuery filters [AuditLogger.Query]. Zero-valued fields are wildcards;
// provided fields combine with AND semantics.
type AuditQuery struct {
	UserID   string
	Type     EventType
	Severity Severity
	From     time.Time
	To       time.Time
	Limit    int
}

// ComplianceReport aggregates audit entries for a reporting period.
type ComplianceReport struct {
	ReportType      string            `json:"report_type"`
	GeneratedAt     time.Time         `json:"generated_at"`
	From            time.Time         `json:"from"`
	To              time.Time         `json:"to"`
	TotalEvents     int               `json:"total_events"`
	BySeverity      map[Severity]int  `json:"by_severity"`
	ByType          map[EventType]int `json:"by_type"`
	OutstandingHigh int               `json:"outstanding_high"`
	Recommendations []string          `json:"recommendations"`
}

// ThreatStatistics is a point-in-time snapshot of the monitor's state.
type ThreatStatistics struct {
	ActiveThreats int
	ByLevel       map[ThreatLevel]int
	BlockedIPs    int
	BlockedUsers  int
	RateLimited   int
	RulesTotal    int
	RulesEnabled  int
	TrackedEvents int
	ResolvedTotal int
}

// Alert is a critical notification handed to the [AlertNotifier]. Delivery
// is fire-and-forget from the caller's perspective.
type Alert struct {
	ID        string          `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  Severity        `json:"severity"`
	Summary   string          `json:"summary"`
	Entry     *AuditEntry     `json:"entry,omitempty"`
	Threat    *SecurityThreat `json:"threat,omitempty"`
}
