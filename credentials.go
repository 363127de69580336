package apisec

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const ownerLockStripes = 64

// CredentialManager owns the API key lifecycle: generation, storage,
// rotation with a validity grace period, revocation, validation, and
// expiry cleanup. Keys are opaque random tokens; only their SHA-256 hash
// is ever persisted.
//
// Operations for different owners are independent. Rotation for one owner
// is serialized on a striped per-owner lock so that the new key becomes
// visible only after it is durably stored.
type CredentialManager struct {
	cfg     CredentialConfig
	store   CredentialStore
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics
	audit   *AuditLogger

	ownerLocks [ownerLockStripes]sync.Mutex
}

// NewCredentialManager creates a standalone manager over the given store.
// Most callers should build the full [Core] instead.
func NewCredentialManager(cfg CredentialConfig, store CredentialStore) *CredentialManager {
	return newCredentialManager(cfg, store, clock.New(), slog.Default(), nil, nil)
}

func newCredentialManager(
	cfg CredentialConfig,
	store CredentialStore,
	clk clock.Clock,
	logger *slog.Logger,
	m *Metrics,
	audit *AuditLogger,
) *CredentialManager {
	def := defaultConfig().Credential
	if cfg.RotationInterval <= 0 {
		cfg.RotationInterval = def.RotationInterval
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = def.GracePeriod
	}
	if cfg.KeyBytes < 32 {
		cfg.KeyBytes = def.KeyBytes
	}
	if cfg.Prefixes == nil {
		cfg.Prefixes = def.Prefixes
	}
	if store == nil {
		store = NewMemoryCredentialStore()
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialManager{
		cfg:     cfg,
		store:   store,
		clock:   clk,
		logger:  logger,
		metrics: m,
		audit:   audit,
	}
}

func (c *CredentialManager) ownerLock(ownerID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(ownerID))
	return &c.ownerLocks[h.Sum32()%ownerLockStripes]
}

func validKind(kind CredentialKind) bool {
	switch kind {
	case KindUser, KindAdmin, KindService:
		return true
	default:
		return false
	}
}

// Generate produces a new opaque key for the owner. The key carries the
// kind's configured prefix and at least 256 bits of cryptographically
// secure randomness. Generation alone does not make the key valid; it must
// be stored first.
func (c *CredentialManager) Generate(ownerID string, kind CredentialKind) (string, error) {
	if ownerID == "" || !validKind(kind) {
		return "", fmt.Errorf("%w: owner %q kind %q", ErrValidation, ownerID, kind)
	}

	raw := make([]byte, c.cfg.KeyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("%w: %v", ErrGeneration, err)
	}

	c.metrics.Inc(MetricKeysGenerated)
	return c.cfg.Prefixes[kind] + "_" + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Hash returns the deterministic one-way digest stored and compared in
// place of the plaintext key.
func (c *CredentialManager) Hash(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// Store persists the key's hash and metadata. A zero expiresAt defaults to
// now + RotationInterval. On a storage error the key must not be treated
// as stored.
func (c *CredentialManager) Store(ctx context.Context, ownerID, key string, kind CredentialKind, expiresAt time.Time) error {
	if ownerID == "" || key == "" || !validKind(kind) {
		return fmt.Errorf("%w: owner %q kind %q", ErrValidation, ownerID, kind)
	}

	now := c.clock.Now()
	if expiresAt.IsZero() {
		expiresAt = now.Add(c.cfg.RotationInterval)
	}

	rec := CredentialRecord{
		Hash:      c.Hash(key),
		OwnerID:   ownerID,
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: expiresAt,
		Active:    true,
	}
	if err := c.store.Save(ctx, rec); err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}

	c.metrics.Inc(MetricKeysStored)
	c.audit.LogEvent(ctx, AuditEventInput{
		Type:    EventAPIKeyCreated,
		UserID:  ownerID,
		Outcome: OutcomeSuccess,
		Details: map[string]string{"kind": string(kind)},
	})
	return nil
}

// Rotate issues exactly one new key for the owner and marks every
// previously-active key to expire at the end of the grace period. The new
// key is stored before any prior key is touched: a partial failure leaves
// prior keys valid (fail-safe, not fail-locked).
func (c *CredentialManager) Rotate(ctx context.Context, ownerID string) (*RotationResult, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: empty owner", ErrValidation)
	}

	lock := c.ownerLock(ownerID)
	lock.Lock()
	defer lock.Unlock()

	now := c.clock.Now()
	existing, err := c.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	var active []CredentialRecord
	for _, rec := range existing {
		if rec.Active && rec.ExpiresAt.After(now) {
			active = append(active, rec)
		}
	}

	// The new key inherits the kind of the newest active credential.
	kind := KindUser
	if len(active) > 0 {
		sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.After(active[j].CreatedAt) })
		kind = active[0].Kind
	}

	newKey, err := c.Generate(ownerID, kind)
	if err != nil {
		return nil, err
	}
	if err := c.Store(ctx, ownerID, newKey, kind, now.Add(c.cfg.RotationInterval)); err != nil {
		return nil, err
	}

	graceEnd := now.Add(c.cfg.GracePeriod)
	for _, rec := range active {
		if rec.ExpiresAt.After(graceEnd) {
			rec.ExpiresAt = graceEnd
		}
		rec.RotatedAt = now
		if err := c.store.Update(ctx, rec); err != nil {
			// The new key is already durable; a prior key keeping its
			// original expiry is the safe failure mode.
			c.logger.Error("rotation grace update failed", "owner_id", ownerID, "error", err)
		}
	}

	c.metrics.Inc(MetricKeysRotated)
	c.audit.LogEvent(ctx, AuditEventInput{
		Type:    EventAPIKeyRotated,
		UserID:  ownerID,
		Outcome: OutcomeSuccess,
		Details: map[string]string{
			"kind":            string(kind),
			"previous_active": fmt.Sprintf("%d", len(active)),
		},
	})

	return &RotationResult{
		NewKey:         newKey,
		PreviousActive: len(active),
		GraceEnds:      graceEnd,
	}, nil
}

// Revoke immediately deactivates the credential matching key. It returns
// false for an unknown or already-revoked key.
func (c *CredentialManager) Revoke(ctx context.Context, key, reason string) (bool, error) {
	rec, err := c.store.Get(ctx, c.Hash(key))
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if rec == nil || !rec.Active {
		return false, nil
	}

	rec.Active = false
	rec.RevokedAt = c.clock.Now()
	rec.RevokeReason = reason
	if err := c.store.Update(ctx, *rec); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	c.metrics.Inc(MetricKeysRevoked)
	c.audit.LogEvent(ctx, AuditEventInput{
		Type:    EventAPIKeyRevoked,
		UserID:  rec.OwnerID,
		Outcome: OutcomeSuccess,
		Details: map[string]string{"reason": reason},
	})
	return true, nil
}

// Validate recomputes the key's hash and looks up its metadata. It returns
// nil for an unknown, inactive, or expired key, deliberately without
// distinguishing which, and also nil when the store itself fails (deny on
// fault). A non-nil result reports owner, kind, and expiry.
func (c *CredentialManager) Validate(ctx context.Context, key string) *CredentialInfo {
	rec, err := c.store.Get(ctx, c.Hash(key))
	if err != nil {
		c.logger.Error("credential lookup failed", "error", err)
		c.metrics.Inc(MetricValidateFailure)
		return nil
	}
	if rec == nil || !rec.Active || !rec.ExpiresAt.After(c.clock.Now()) {
		c.metrics.Inc(MetricValidateFailure)
		return nil
	}

	c.metrics.Inc(MetricValidateSuccess)
	return &CredentialInfo{
		OwnerID:   rec.OwnerID,
		Kind:      rec.Kind,
		CreatedAt: rec.CreatedAt,
		ExpiresAt: rec.ExpiresAt,
	}
}

// CleanupExpired purges records whose expiry (or revocation) plus the grace
// period lies in the past, and reports how many were removed.
func (c *CredentialManager) CleanupExpired(ctx context.Context) (int, error) {
	now := c.clock.Now()
	records, err := c.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	purged := 0
	for _, rec := range records {
		deadline := rec.ExpiresAt
		if !rec.Active && !rec.RevokedAt.IsZero() && rec.RevokedAt.Before(deadline) {
			deadline = rec.RevokedAt
		}
		if now.After(deadline.Add(c.cfg.GracePeriod)) {
			if err := c.store.Delete(ctx, rec.Hash); err != nil {
				c.logger.Error("credential purge failed", "owner_id", rec.OwnerID, "error", err)
				continue
			}
			purged++
		}
	}

	c.metrics.Add(MetricKeysPurged, uint64(purged))
	return purged, nil
}

// Statistics aggregates credential counts; a non-empty ownerID scopes the
// counts to that owner.
func (c *CredentialManager) Statistics(ctx context.Context, ownerID string) (*CredentialStatistics, error) {
	var (
		records []CredentialRecord
		err     error
	)
	if ownerID == "" {
		records, err = c.store.List(ctx)
	} else {
		records, err = c.store.ListByOwner(ctx, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	now := c.clock.Now()
	stats := &CredentialStatistics{ByKind: make(map[CredentialKind]int)}
	for _, rec := range records {
		stats.Total++
		stats.ByKind[rec.Kind]++
		switch {
		case !rec.Active:
			stats.Revoked++
		case !rec.ExpiresAt.After(now):
			stats.Expired++
		default:
			stats.Active++
		}
	}
	return stats, nil
}
