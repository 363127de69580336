package apisec

import (
	"errors"
	"time"
)

// Config defines the public configuration surface of the apisec core.
//
// Config instances are intended to be populated during initialization and
// then treated as immutable. [Builder.Build] normalizes zero values to the
// documented defaults.
type Config struct {
	Credential CredentialConfig
	Signing    SigningConfig
	Audit      AuditConfig
	Threat     ThreatConfig
	Metrics    MetricsConfig
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig tunes the API key lifecycle.
type CredentialConfig struct {
	// RotationInterval is the default validity of a stored key. Default 30 days.
	RotationInterval time.Duration
	// GracePeriod is how long a superseded key stays valid after rotation,
	// and how long expired records linger before cleanup purges them.
	// Default 7 days.
	GracePeriod time.Duration
	// KeyBytes is the entropy per generated key. Minimum and default 32 (256 bits).
	KeyBytes int
	// Prefixes maps credential kinds to key prefixes. Defaults: user "uk",
	// admin "ak", service "sk".
	Prefixes map[CredentialKind]string
}

/*
====================================
SIGNING CONFIG
====================================
*/

// SigningConfig tunes the HMAC request signer.
type SigningConfig struct {
	// Tolerance is the maximum accepted |now - timestamp| skew. Default 300s.
	Tolerance time.Duration
	// SignatureHeader and TimestampHeader name the outbound headers produced
	// by SignOutgoing. Defaults "X-Signature" and "X-Timestamp".
	SignatureHeader string
	TimestampHeader string
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig tunes the audit logger.
type AuditConfig struct {
	// RetentionDays bounds how long entries are kept. Default 365.
	RetentionDays int
	// AnonymizeDisabled turns off pseudonymization of user IDs, IP masking
	// and user agent truncation. Anonymization is on by default; privacy is
	// opt-out, not opt-in.
	AnonymizeDisabled bool
	// PseudonymSecret keys the pseudonymization hash. When empty a random
	// per-process secret is used (pseudonyms stay stable within the process
	// only).
	PseudonymSecret []byte
	// UserAgentMaxLen truncates recorded user agents. Default 256.
	UserAgentMaxLen int
	// MaxEntries bounds the in-memory store. Default 100000.
	MaxEntries int
	// DispatchBuffer sizes the async sink/alert dispatcher. Default 256.
	DispatchBuffer int
	// DropIfFull makes the dispatcher drop instead of block when the buffer
	// is full. Default true; audit delivery must never stall callers.
	DropIfFull bool
}

/*
====================================
THREAT CONFIG
====================================
*/

// ThreatConfig tunes the correlation engine.
type ThreatConfig struct {
	// MaxTrackedEvents bounds the event ring buffer. Default 10000.
	MaxTrackedEvents int
	// MonitoringWindow bounds how long indexed events are retained; it must
	// cover the largest rule window. Default 1 hour.
	MonitoringWindow time.Duration
	// RateLimitReset is the throttle entry lifetime installed by the
	// RATE_LIMIT action. Default 1 hour.
	RateLimitReset time.Duration
	// BlockTTL is how long a TEMPORARY_BLOCK entry survives before cleanup
	// evicts it. Default 30 minutes. Permanent blocks have no deadline.
	BlockTTL time.Duration
	// CleanupInterval paces the background eviction pass. Default 5 minutes.
	CleanupInterval time.Duration
	// EvidenceLimit caps evidence events attached to a threat. Default 10.
	EvidenceLimit int
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig controls the in-process counter set.
type MetricsConfig struct {
	Enabled bool
}

func defaultConfig() Config {
	return Config{
		Credential: CredentialConfig{
			RotationInterval: 30 * 24 * time.Hour,
			GracePeriod:      7 * 24 * time.Hour,
			KeyBytes:         32,
			Prefixes: map[CredentialKind]string{
				KindUser:    "uk",
				KindAdmin:   "ak",
				KindService: "sk",
			},
		},
		Signing: SigningConfig{
			Tolerance:       300 * time.Second,
			SignatureHeader: "X-Signature",
			TimestampHeader: "X-Timestamp",
		},
		Audit: AuditConfig{
			RetentionDays:   365,
			UserAgentMaxLen: 256,
			MaxEntries:      100000,
			DispatchBuffer:  256,
			DropIfFull:      true,
		},
		Threat: ThreatConfig{
			MaxTrackedEvents: 10000,
			MonitoringWindow: time.Hour,
			RateLimitReset:   time.Hour,
			BlockTTL:         30 * time.Minute,
			CleanupInterval:  5 * time.Minute,
			EvidenceLimit:    10,
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// normalize fills zero values with defaults and rejects values that cannot
// be repaired. It never weakens an explicitly strengthened setting.
func (c *Config) normalize() error {
	def := defaultConfig()

	if c.Credential.RotationInterval <= 0 {
		c.Credential.RotationInterval = def.Credential.RotationInterval
	}
	if c.Credential.GracePeriod <= 0 {
		c.Credential.GracePeriod = def.Credential.GracePeriod
	}
	if c.Credential.KeyBytes == 0 {
		c.Credential.KeyBytes = def.Credential.KeyBytes
	}
	if c.Credential.KeyBytes < 32 {
		return errors.New("apisec: credential key size below 256 bits")
	}
	if c.Credential.Prefixes == nil {
		c.Credential.Prefixes = def.Credential.Prefixes
	}
	for _, kind := range []CredentialKind{KindUser, KindAdmin, KindService} {
		if c.Credential.Prefixes[kind] == "" {
			c.Credential.Prefixes[kind] = def.Credential.Prefixes[kind]
		}
	}

	if c.Signing.Tolerance <= 0 {
		c.Signing.Tolerance = def.Signing.Tolerance
	}
	if c.Signing.SignatureHeader == "" {
		c.Signing.SignatureHeader = def.Signing.SignatureHeader
	}
	if c.Signing.TimestampHeader == "" {
		c.Signing.TimestampHeader = def.Signing.TimestampHeader
	}

	if c.Audit.RetentionDays <= 0 {
		c.Audit.RetentionDays = def.Audit.RetentionDays
	}
	if c.Audit.UserAgentMaxLen <= 0 {
		c.Audit.UserAgentMaxLen = def.Audit.UserAgentMaxLen
	}
	if c.Audit.MaxEntries <= 0 {
		c.Audit.MaxEntries = def.Audit.MaxEntries
	}
	if c.Audit.DispatchBuffer <= 0 {
		c.Audit.DispatchBuffer = def.Audit.DispatchBuffer
	}

	if c.Threat.MaxTrackedEvents <= 0 {
		c.Threat.MaxTrackedEvents = def.Threat.MaxTrackedEvents
	}
	if c.Threat.MonitoringWindow <= 0 {
		c.Threat.MonitoringWindow = def.Threat.MonitoringWindow
	}
	if c.Threat.RateLimitReset <= 0 {
		c.Threat.RateLimitReset = def.Threat.RateLimitReset
	}
	if c.Threat.BlockTTL <= 0 {
		c.Threat.BlockTTL = def.Threat.BlockTTL
	}
	if c.Threat.CleanupInterval <= 0 {
		c.Threat.CleanupInterval = def.Threat.CleanupInterval
	}
	if c.Threat.EvidenceLimit <= 0 {
		c.Threat.EvidenceLimit = def.Threat.EvidenceLimit
	}

	return nil
}

// RetentionWindow returns the audit retention as a duration.
func (c AuditConfig) RetentionWindow() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// Anonymize reports whether identifying fields are pseudonymized.
func (c AuditConfig) Anonymize() bool {
	return !c.AnonymizeDisabled
}
