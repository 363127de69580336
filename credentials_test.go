package apisec

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestGenerateKeyFormat(t *testing.T) {
	mgr := newTestCredentials(t, newTestClock())

	cases := []struct {
		kind   CredentialKind
		prefix string
	}{
		{KindUser, "uk_"},
		{KindAdmin, "ak_"},
		{KindService, "sk_"},
	}
	for _, tc := range cases {
		key, err := mgr.Generate("owner-1", tc.kind)
		if err != nil {
			t.Fatalf("Generate(%s) failed: %v", tc.kind, err)
		}
		if !strings.HasPrefix(key, tc.prefix) {
			t.Errorf("key for %s missing prefix %q: %q", tc.kind, tc.prefix, key)
		}
		// 32 random bytes base64url-encode to 43 characters.
		if got := len(key) - len(tc.prefix); got != 43 {
			t.Errorf("key material length = %d, want 43", got)
		}
	}
}

func TestGenerateKeysAreUnique(t *testing.T) {
	mgr := newTestCredentials(t, newTestClock())
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		key, err := mgr.Generate("owner-1", KindUser)
		if err != nil {
			t.Fatalf("Generate failed: %v", err)
		}
		if seen[key] {
			t.Fatal("duplicate key generated")
		}
		seen[key] = true
	}
}

func TestGenerateRejectsBadInput(t *testing.T) {
	mgr := newTestCredentials(t, newTestClock())
	if _, err := mgr.Generate("", KindUser); err == nil {
		t.Error("empty owner accepted")
	}
	if _, err := mgr.Generate("owner-1", CredentialKind("root")); err == nil {
		t.Error("unknown kind accepted")
	}
}

func TestHashIsDeterministicOneWay(t *testing.T) {
	mgr := newTestCredentials(t, newTestClock())
	h := mgr.Hash("uk_abc")
	if h != mgr.Hash("uk_abc") {
		t.Fatal("hash not deterministic")
	}
	if h == mgr.Hash("uk_abd") {
		t.Fatal("distinct keys collided")
	}
	if len(h) != 64 {
		t.Fatalf("hash length = %d, want 64 hex chars", len(h))
	}
	if strings.Contains(h, "uk_abc") {
		t.Fatal("hash leaks plaintext")
	}
}

func TestStoreAndValidate(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	key, _ := mgr.Generate("owner-1", KindService)
	if info := mgr.Validate(ctx, key); info != nil {
		t.Fatal("unstored key validated")
	}

	if err := mgr.Store(ctx, "owner-1", key, KindService, time.Time{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	info := mgr.Validate(ctx, key)
	if info == nil {
		t.Fatal("stored key did not validate")
	}
	if info.OwnerID != "owner-1" || info.Kind != KindService {
		t.Fatalf("unexpected info: %+v", info)
	}
	wantExpiry := testEpoch.Add(30 * 24 * time.Hour)
	if !info.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("default expiry = %v, want %v", info.ExpiresAt, wantExpiry)
	}
}

func TestValidateFailuresAreUniform(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	expired, _ := mgr.Generate("owner-1", KindUser)
	if err := mgr.Store(ctx, "owner-1", expired, KindUser, time.Time{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	revoked, _ := mgr.Generate("owner-1", KindUser)
	if err := mgr.Store(ctx, "owner-1", revoked, KindUser, time.Time{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if ok, err := mgr.Revoke(ctx, revoked, "compromised"); err != nil || !ok {
		t.Fatalf("Revoke = %v, %v", ok, err)
	}

	mock.Add(31 * 24 * time.Hour)

	// Unknown, expired, and revoked keys all return the same nil.
	for name, key := range map[string]string{
		"unknown": "uk_nosuchkey",
		"expired": expired,
		"revoked": revoked,
	} {
		if info := mgr.Validate(ctx, key); info != nil {
			t.Errorf("%s key validated: %+v", name, info)
		}
	}
}

func TestRevokeSemantics(t *testing.T) {
	ctx := context.Background()
	mgr := newTestCredentials(t, newTestClock())

	key, _ := mgr.Generate("owner-1", KindUser)
	if err := mgr.Store(ctx, "owner-1", key, KindUser, time.Time{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	ok, err := mgr.Revoke(ctx, key, "leaked")
	if err != nil || !ok {
		t.Fatalf("Revoke = %v, %v; want true, nil", ok, err)
	}
	if info := mgr.Validate(ctx, key); info != nil {
		t.Fatal("revoked key validated")
	}

	// Revoking again, or revoking an unknown key, reports false without error.
	if ok, err := mgr.Revoke(ctx, key, "again"); err != nil || ok {
		t.Fatalf("second Revoke = %v, %v; want false, nil", ok, err)
	}
	if ok, err := mgr.Revoke(ctx, "uk_nosuchkey", "x"); err != nil || ok {
		t.Fatalf("unknown Revoke = %v, %v; want false, nil", ok, err)
	}
}

func TestRotateGracePeriod(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	oldKey, _ := mgr.Generate("owner-1", KindService)
	if err := mgr.Store(ctx, "owner-1", oldKey, KindService, time.Time{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	res, err := mgr.Rotate(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if res.PreviousActive != 1 {
		t.Fatalf("PreviousActive = %d, want 1", res.PreviousActive)
	}
	if !strings.HasPrefix(res.NewKey, "sk_") {
		t.Fatalf("rotated key did not inherit kind: %q", res.NewKey)
	}
	wantGrace := testEpoch.Add(7 * 24 * time.Hour)
	if !res.GraceEnds.Equal(wantGrace) {
		t.Fatalf("GraceEnds = %v, want %v", res.GraceEnds, wantGrace)
	}

	// Both keys are valid inside the grace period.
	if mgr.Validate(ctx, oldKey) == nil {
		t.Fatal("superseded key invalid inside grace period")
	}
	if mgr.Validate(ctx, res.NewKey) == nil {
		t.Fatal("new key invalid after rotation")
	}

	// Only the new key survives the grace deadline.
	mock.Add(7*24*time.Hour + time.Second)
	if mgr.Validate(ctx, oldKey) != nil {
		t.Fatal("superseded key valid past grace deadline")
	}
	if mgr.Validate(ctx, res.NewKey) == nil {
		t.Fatal("new key invalid inside its rotation interval")
	}
}

func TestRotateWithoutExistingKeys(t *testing.T) {
	ctx := context.Background()
	mgr := newTestCredentials(t, newTestClock())

	res, err := mgr.Rotate(ctx, "fresh-owner")
	if err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}
	if res.PreviousActive != 0 {
		t.Fatalf("PreviousActive = %d, want 0", res.PreviousActive)
	}
	if !strings.HasPrefix(res.NewKey, "uk_") {
		t.Fatalf("fresh rotation should default to the user kind: %q", res.NewKey)
	}
	if mgr.Validate(ctx, res.NewKey) == nil {
		t.Fatal("rotated key invalid")
	}
}

func TestRotateSerializesPerOwner(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	key, _ := mgr.Generate("owner-1", KindService)
	if err := mgr.Store(ctx, "owner-1", key, KindService, time.Time{}); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*RotationResult
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := mgr.Rotate(ctx, "owner-1")
			if err != nil {
				t.Errorf("Rotate failed: %v", err)
				return
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(results) != workers {
		t.Fatalf("got %d results, want %d", len(results), workers)
	}

	// Rotations on one owner serialize: every key stays inside its grace
	// window here, so the i-th rotation must observe exactly i active keys.
	seen := make([]int, 0, workers)
	keys := make(map[string]struct{}, workers)
	for _, res := range results {
		seen = append(seen, res.PreviousActive)
		keys[res.NewKey] = struct{}{}
	}
	sort.Ints(seen)
	for i, n := range seen {
		if n != i+1 {
			t.Fatalf("PreviousActive counts = %v, want 1..%d", seen, workers)
		}
	}
	if len(keys) != workers {
		t.Fatalf("rotated keys not unique: %d distinct of %d", len(keys), workers)
	}

	stats, err := mgr.Statistics(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != workers+1 {
		t.Fatalf("Total = %d, want %d", stats.Total, workers+1)
	}
	if stats.Active != workers+1 {
		t.Fatalf("Active = %d, want %d", stats.Active, workers+1)
	}
}

func TestRotateDoesNotExtendSoonerExpiry(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	// A key already expiring in an hour must not gain the 7-day grace.
	key, _ := mgr.Generate("owner-1", KindUser)
	soon := testEpoch.Add(time.Hour)
	if err := mgr.Store(ctx, "owner-1", key, KindUser, soon); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	if _, err := mgr.Rotate(ctx, "owner-1"); err != nil {
		t.Fatalf("Rotate failed: %v", err)
	}

	mock.Add(time.Hour + time.Second)
	if mgr.Validate(ctx, key) != nil {
		t.Fatal("rotation extended a sooner expiry")
	}
}

func TestCleanupExpiredPurgesAfterGrace(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	key, _ := mgr.Generate("owner-1", KindUser)
	if err := mgr.Store(ctx, "owner-1", key, KindUser, testEpoch.Add(time.Hour)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Expired but still inside the grace retention: kept.
	mock.Add(2 * time.Hour)
	purged, err := mgr.CleanupExpired(ctx)
	if err != nil || purged != 0 {
		t.Fatalf("CleanupExpired = %d, %v; want 0, nil", purged, err)
	}

	// Past expiry + grace: purged.
	mock.Add(7 * 24 * time.Hour)
	purged, err = mgr.CleanupExpired(ctx)
	if err != nil || purged != 1 {
		t.Fatalf("CleanupExpired = %d, %v; want 1, nil", purged, err)
	}

	stats, err := mgr.Statistics(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 0 {
		t.Fatalf("purged record still listed: %+v", stats)
	}
}

func TestStatistics(t *testing.T) {
	ctx := context.Background()
	mock := newTestClock()
	mgr := newTestCredentials(t, mock)

	active, _ := mgr.Generate("owner-1", KindUser)
	_ = mgr.Store(ctx, "owner-1", active, KindUser, time.Time{})

	expired, _ := mgr.Generate("owner-1", KindAdmin)
	_ = mgr.Store(ctx, "owner-1", expired, KindAdmin, testEpoch.Add(time.Minute))

	revoked, _ := mgr.Generate("owner-1", KindService)
	_ = mgr.Store(ctx, "owner-1", revoked, KindService, time.Time{})
	_, _ = mgr.Revoke(ctx, revoked, "test")

	other, _ := mgr.Generate("owner-2", KindUser)
	_ = mgr.Store(ctx, "owner-2", other, KindUser, time.Time{})

	mock.Add(time.Hour)

	stats, err := mgr.Statistics(ctx, "owner-1")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if stats.Total != 3 || stats.Active != 1 || stats.Expired != 1 || stats.Revoked != 1 {
		t.Fatalf("scoped stats = %+v", stats)
	}
	if stats.ByKind[KindUser] != 1 || stats.ByKind[KindAdmin] != 1 || stats.ByKind[KindService] != 1 {
		t.Fatalf("ByKind = %+v", stats.ByKind)
	}

	all, err := mgr.Statistics(ctx, "")
	if err != nil {
		t.Fatalf("Statistics failed: %v", err)
	}
	if all.Total != 4 || all.Active != 2 {
		t.Fatalf("global stats = %+v", all)
	}
}
