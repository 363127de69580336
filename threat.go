package apisec

import (
	"context"
	"hash/fnv"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

const threatLockStripes = 64

// ThreatMonitor correlates security events against threshold rules and
// installs response state (blocks, throttles, second-factor flags) when a
// rule fires. All state is in-memory; callers consult the Is* checks on
// the request path.
//
// A rule that has fired stays suppressed for its correlation key until the
// resulting threat is resolved, so one attack produces one threat rather
// than one per event past the threshold.
type ThreatMonitor struct {
	cfg     ThreatConfig
	events  *eventLog
	audit   *AuditLogger
	clock   clock.Clock
	logger  *slog.Logger
	metrics *Metrics

	ruleMu sync.RWMutex
	rules  []SecurityRule

	// keyLocks serialize the count-then-detect step per correlation key so
	// two concurrent events cannot both observe count == threshold-1.
	keyLocks [threatLockStripes]sync.Mutex

	stateMu       sync.Mutex
	threats       map[string]*SecurityThreat
	suppressed    map[string]string // ruleID|correlationKey -> threat ID
	blockedIPs    map[string]time.Time
	blockedUsers  map[string]time.Time
	rateLimits    map[string]time.Time
	twoFactor     map[string]struct{}
	resolvedTotal int

	stopCleanup chan struct{}
	cleanupWG   sync.WaitGroup
	startOnce   sync.Once
	stopOnce    sync.Once
}

// NewThreatMonitor creates a standalone monitor with the built-in rule set.
// Most callers should build the full [Core] instead.
func NewThreatMonitor(cfg ThreatConfig, audit *AuditLogger) *ThreatMonitor {
	return newThreatMonitor(cfg, DefaultRules(), audit, clock.New(), slog.Default(), nil)
}

func newThreatMonitor(
	cfg ThreatConfig,
	rules []SecurityRule,
	audit *AuditLogger,
	clk clock.Clock,
	logger *slog.Logger,
	m *Metrics,
) *ThreatMonitor {
	def := defaultConfig().Threat
	if cfg.MaxTrackedEvents <= 0 {
		cfg.MaxTrackedEvents = def.MaxTrackedEvents
	}
	if cfg.MonitoringWindow <= 0 {
		cfg.MonitoringWindow = def.MonitoringWindow
	}
	if cfg.RateLimitReset <= 0 {
		cfg.RateLimitReset = def.RateLimitReset
	}
	if cfg.BlockTTL <= 0 {
		cfg.BlockTTL = def.BlockTTL
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if cfg.EvidenceLimit <= 0 {
		cfg.EvidenceLimit = def.EvidenceLimit
	}
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &ThreatMonitor{
		cfg:          cfg,
		events:       newEventLog(cfg.MaxTrackedEvents),
		audit:        audit,
		clock:        clk,
		logger:       logger,
		metrics:      m,
		rules:        append([]SecurityRule(nil), rules...),
		threats:      make(map[string]*SecurityThreat),
		suppressed:   make(map[string]string),
		blockedIPs:   make(map[string]time.Time),
		blockedUsers: make(map[string]time.Time),
		rateLimits:   make(map[string]time.Time),
		twoFactor:    make(map[string]struct{}),
		stopCleanup:  make(chan struct{}),
	}
}

// correlationKey picks the event's correlation identity: IP wins over user,
// user over session. Returns the dimension, raw value, and the composite
// key used for locking and suppression.
func correlationKey(ev *SecurityEvent) (dim, value, key string) {
	switch {
	case ev.IP != "":
		return dimIP, ev.IP, dimIP + ":" + ev.IP
	case ev.UserID != "":
		return dimUser, ev.UserID, dimUser + ":" + ev.UserID
	case ev.SessionID != "":
		return dimSession, ev.SessionID, dimSession + ":" + ev.SessionID
	}
	return "", "", ""
}

func (t *ThreatMonitor) keyLock(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.keyLocks[h.Sum32()%threatLockStripes]
}

// ProcessEvent records the event and evaluates the enabled rules against
// it. Returns the detected threat, or nil when no rule fired (including
// unknown event types, events without a correlation identity, and matches
// suppressed by an existing unresolved threat). Never panics outward; a
// monitor fault degrades to "no detection".
func (t *ThreatMonitor) ProcessEvent(ctx context.Context, in EventInput) (threat *SecurityThreat) {
	if t == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("threat processing panic", "panic", r)
			threat = nil
		}
	}()

	if !IsKnownEventType(in.Type) {
		t.logger.Warn("event ignored", "event_type", string(in.Type), "reason", "unknown event type")
		return nil
	}
	t.metrics.Inc(MetricEventsProcessed)

	ev := &SecurityEvent{
		Timestamp: t.clock.Now(),
		Type:      in.Type,
		Severity:  severityForEvent(in.Type),
		UserID:    in.UserID,
		SessionID: in.SessionID,
		IP:        in.IP,
		Outcome:   in.Outcome,
		Details:   in.Details,
	}

	dim, value, key := correlationKey(ev)
	if key == "" {
		t.events.add(ev)
		return nil
	}

	lock := t.keyLock(key)
	lock.Lock()
	defer lock.Unlock()

	t.events.add(ev)
	return t.evaluate(ctx, ev, dim, value, key)
}

// evaluate runs the rule pass for one event. First match wins: a single
// event yields at most one threat. Caller holds the key lock.
func (t *ThreatMonitor) evaluate(ctx context.Context, ev *SecurityEvent, dim, value, key string) *SecurityThreat {
	t.ruleMu.RLock()
	defer t.ruleMu.RUnlock()

	now := ev.Timestamp
	for i := range t.rules {
		rule := &t.rules[i]
		if !rule.Enabled || !ruleCoversType(rule, ev.Type) {
			continue
		}
		t.metrics.Inc(MetricRulesEvaluated)
		if !matchesConditions(*ev, rule.Conditions) {
			continue
		}

		matched := t.events.matching(dim, value, rule.EventTypes, now.Add(-rule.Window()), rule.Conditions)
		if len(matched) < rule.Threshold {
			continue
		}

		if t.isSuppressed(rule.ID, key) {
			t.metrics.Inc(MetricThreatsSuppressed)
			return nil
		}
		return t.detect(ctx, rule, ev, key, matched)
	}
	return nil
}

func ruleCoversType(r *SecurityRule, et EventType) bool {
	for _, t := range r.EventTypes {
		if t == et {
			return true
		}
	}
	return false
}

func (t *ThreatMonitor) isSuppressed(ruleID, key string) bool {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	_, ok := t.suppressed[ruleID+"|"+key]
	return ok
}

// detect materializes the threat, registers it, executes the rule's
// response actions in order, and logs the incident.
func (t *ThreatMonitor) detect(ctx context.Context, rule *SecurityRule, ev *SecurityEvent, key string, matched []*SecurityEvent) *SecurityThreat {
	now := ev.Timestamp
	evidence := matched
	if len(evidence) > t.cfg.EvidenceLimit {
		evidence = evidence[len(evidence)-t.cfg.EvidenceLimit:]
	}
	copied := make([]SecurityEvent, len(evidence))
	for i, e := range evidence {
		copied[i] = *e
	}

	threat := &SecurityThreat{
		ID:          rule.ID + "_" + strconv.FormatInt(now.UnixNano(), 10),
		Type:        rule.ID,
		Level:       rule.Level,
		SourceIP:    ev.IP,
		UserID:      ev.UserID,
		Description: rule.Name + ": " + strconv.Itoa(len(matched)) + " matching events within " + rule.Window().String(),
		Evidence:    copied,
		DetectedAt:  now,
		Actions:     append([]ResponseAction(nil), rule.Actions...),
	}

	t.stateMu.Lock()
	// The same rule can fire for two correlation keys in the same clock
	// tick; disambiguate the ID instead of overwriting the earlier threat.
	if _, taken := t.threats[threat.ID]; taken {
		base := threat.ID
		for n := 2; ; n++ {
			candidate := base + "_" + strconv.Itoa(n)
			if _, taken := t.threats[candidate]; !taken {
				threat.ID = candidate
				break
			}
		}
	}
	t.threats[threat.ID] = threat
	t.suppressed[rule.ID+"|"+key] = threat.ID
	t.stateMu.Unlock()

	t.metrics.Inc(MetricThreatsDetected)
	t.logger.Warn("threat detected",
		slog.String("threat_id", threat.ID),
		slog.String("rule_id", rule.ID),
		slog.String("level", string(rule.Level)),
		slog.String("correlation_key", key),
		slog.Int("matched", len(matched)))

	for _, action := range rule.Actions {
		t.execute(ctx, action, threat, key)
	}

	t.audit.LogEvent(ctx, AuditEventInput{
		Type:    EventThreatDetected,
		UserID:  ev.UserID,
		IP:      ev.IP,
		Outcome: OutcomeBlocked,
		Details: map[string]string{
			"threat_id": threat.ID,
			"rule_id":   rule.ID,
			"level":     string(rule.Level),
		},
		Tags: tagsAPISecurity,
	})

	return threat
}

func (t *ThreatMonitor) execute(ctx context.Context, action ResponseAction, threat *SecurityThreat, key string) {
	now := t.clock.Now()
	switch action {
	case ActionLogOnly:
		t.logger.Info("threat action: log only", "threat_id", threat.ID)

	case ActionRateLimit:
		t.stateMu.Lock()
		t.rateLimits[key] = now.Add(t.cfg.RateLimitReset)
		t.stateMu.Unlock()
		t.metrics.Inc(MetricRateLimitsInstalled)

	case ActionTemporaryBlock:
		if threat.SourceIP == "" {
			return
		}
		t.stateMu.Lock()
		// Never downgrade an existing permanent block.
		if existing, ok := t.blockedIPs[threat.SourceIP]; !ok || !existing.IsZero() {
			t.blockedIPs[threat.SourceIP] = now.Add(t.cfg.BlockTTL)
		}
		t.stateMu.Unlock()
		t.metrics.Inc(MetricBlocksInstalled)
		t.audit.LogEvent(ctx, AuditEventInput{
			Type:    EventIPBlocked,
			IP:      threat.SourceIP,
			Outcome: OutcomeBlocked,
			Details: map[string]string{"threat_id": threat.ID, "duration": t.cfg.BlockTTL.String()},
			Tags:    tagsAPISecurity,
		})

	case ActionPermanentBlock:
		t.stateMu.Lock()
		if threat.SourceIP != "" {
			t.blockedIPs[threat.SourceIP] = time.Time{}
		}
		if threat.UserID != "" {
			t.blockedUsers[threat.UserID] = time.Time{}
		}
		t.stateMu.Unlock()
		t.metrics.Inc(MetricBlocksInstalled)
		if threat.SourceIP != "" {
			t.audit.LogEvent(ctx, AuditEventInput{
				Type:    EventIPBlocked,
				IP:      threat.SourceIP,
				Outcome: OutcomeBlocked,
				Details: map[string]string{"threat_id": threat.ID, "duration": "permanent"},
				Tags:    tagsAPISecurity,
			})
		}
		if threat.UserID != "" {
			t.audit.LogEvent(ctx, AuditEventInput{
				Type:    EventUserBlocked,
				UserID:  threat.UserID,
				Outcome: OutcomeBlocked,
				Details: map[string]string{"threat_id": threat.ID},
				Tags:    tagsAPISecurity,
			})
		}

	case ActionAlertAdmin:
		t.audit.RaiseAlert(ctx, Alert{
			Severity: SeverityCritical,
			Summary:  "threat: " + threat.Type,
			Threat:   threat,
		})

	case ActionRequire2FA:
		if threat.UserID == "" {
			return
		}
		t.stateMu.Lock()
		t.twoFactor[threat.UserID] = struct{}{}
		t.stateMu.Unlock()

	default:
		t.logger.Warn("unknown response action", "action", string(action), "threat_id", threat.ID)
	}
}

// IsIPBlocked reports whether the IP is under an active block. Expired
// temporary blocks are evicted on read.
func (t *ThreatMonitor) IsIPBlocked(ip string) bool {
	if t == nil || ip == "" {
		return false
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.activeDeadline(t.blockedIPs, ip)
}

// IsUserBlocked reports whether the user is permanently blocked.
func (t *ThreatMonitor) IsUserBlocked(userID string) bool {
	if t == nil || userID == "" {
		return false
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	return t.activeDeadline(t.blockedUsers, userID)
}

// IsRateLimited reports whether the correlation key (e.g. "ip:1.2.3.4")
// has an unexpired throttle entry. Expired entries are evicted on read.
func (t *ThreatMonitor) IsRateLimited(key string) bool {
	if t == nil || key == "" {
		return false
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	deadline, ok := t.rateLimits[key]
	if !ok {
		return false
	}
	if !t.clock.Now().Before(deadline) {
		delete(t.rateLimits, key)
		return false
	}
	return true
}

// Requires2FA reports whether a REQUIRE_2FA action has flagged the user.
func (t *ThreatMonitor) Requires2FA(userID string) bool {
	if t == nil || userID == "" {
		return false
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	_, ok := t.twoFactor[userID]
	return ok
}

// ClearTwoFactorFlag removes the second-factor requirement, typically
// after the user completed a challenge.
func (t *ThreatMonitor) ClearTwoFactorFlag(userID string) {
	if t == nil {
		return
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	delete(t.twoFactor, userID)
}

// activeDeadline checks entries where the zero time means "no deadline".
// Caller holds stateMu.
func (t *ThreatMonitor) activeDeadline(m map[string]time.Time, key string) bool {
	deadline, ok := m[key]
	if !ok {
		return false
	}
	if deadline.IsZero() {
		return true
	}
	if !t.clock.Now().Before(deadline) {
		delete(m, key)
		return false
	}
	return true
}

// ResolveThreat marks the threat resolved and re-arms its rule for the
// correlation key that produced it. Returns false for unknown IDs and for
// threats already resolved.
func (t *ThreatMonitor) ResolveThreat(ctx context.Context, id, notes string) bool {
	if t == nil {
		return false
	}
	t.stateMu.Lock()
	threat, ok := t.threats[id]
	if !ok || threat.Resolved {
		t.stateMu.Unlock()
		return false
	}
	threat.Resolved = true
	threat.ResolvedAt = t.clock.Now()
	threat.Notes = notes
	t.resolvedTotal++
	for key, threatID := range t.suppressed {
		if threatID == id {
			delete(t.suppressed, key)
		}
	}
	t.stateMu.Unlock()

	t.metrics.Inc(MetricThreatsResolved)
	t.audit.LogEvent(ctx, AuditEventInput{
		Type:    EventThreatResolved,
		UserID:  threat.UserID,
		IP:      threat.SourceIP,
		Outcome: OutcomeSuccess,
		Details: map[string]string{"threat_id": id, "notes": notes},
		Tags:    tagsAPISecurity,
	})
	return true
}

// GetThreat returns a snapshot of the threat, or nil if unknown.
func (t *ThreatMonitor) GetThreat(id string) *SecurityThreat {
	if t == nil {
		return nil
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	threat, ok := t.threats[id]
	if !ok {
		return nil
	}
	snapshot := *threat
	return &snapshot
}

// ActiveThreats returns snapshots of every unresolved threat.
func (t *ThreatMonitor) ActiveThreats() []*SecurityThreat {
	if t == nil {
		return nil
	}
	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	var out []*SecurityThreat
	for _, threat := range t.threats {
		if threat.Resolved {
			continue
		}
		snapshot := *threat
		out = append(out, &snapshot)
	}
	return out
}

// Rules returns a copy of the current rule set.
func (t *ThreatMonitor) Rules() []SecurityRule {
	if t == nil {
		return nil
	}
	t.ruleMu.RLock()
	defer t.ruleMu.RUnlock()
	return append([]SecurityRule(nil), t.rules...)
}

// SetRuleEnabled toggles a rule in place. Returns false for unknown IDs.
func (t *ThreatMonitor) SetRuleEnabled(id string, enabled bool) bool {
	if t == nil {
		return false
	}
	t.ruleMu.Lock()
	defer t.ruleMu.Unlock()
	for i := range t.rules {
		if t.rules[i].ID == id {
			t.rules[i].Enabled = enabled
			return true
		}
	}
	return false
}

// GetStatistics returns a point-in-time view of the monitor's state.
func (t *ThreatMonitor) GetStatistics() ThreatStatistics {
	if t == nil {
		return ThreatStatistics{}
	}
	stats := ThreatStatistics{
		ByLevel:       make(map[ThreatLevel]int),
		TrackedEvents: t.events.size(),
	}

	t.ruleMu.RLock()
	stats.RulesTotal = len(t.rules)
	for _, r := range t.rules {
		if r.Enabled {
			stats.RulesEnabled++
		}
	}
	t.ruleMu.RUnlock()

	t.stateMu.Lock()
	defer t.stateMu.Unlock()
	for _, threat := range t.threats {
		if threat.Resolved {
			continue
		}
		stats.ActiveThreats++
		stats.ByLevel[threat.Level]++
	}
	stats.BlockedIPs = len(t.blockedIPs)
	stats.BlockedUsers = len(t.blockedUsers)
	stats.RateLimited = len(t.rateLimits)
	stats.ResolvedTotal = t.resolvedTotal
	return stats
}

// Start launches the background cleanup loop. Safe to call once; later
// calls are no-ops.
func (t *ThreatMonitor) Start() {
	if t == nil {
		return
	}
	t.startOnce.Do(func() {
		t.cleanupWG.Add(1)
		go t.cleanupLoop()
	})
}

// Stop terminates the cleanup loop and waits for it to exit.
func (t *ThreatMonitor) Stop() {
	if t == nil {
		return
	}
	t.stopOnce.Do(func() {
		close(t.stopCleanup)
	})
	t.cleanupWG.Wait()
}

func (t *ThreatMonitor) cleanupLoop() {
	defer t.cleanupWG.Done()
	ticker := t.clock.Ticker(t.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stopCleanup:
			return
		case <-ticker.C:
			t.cleanupPass()
		}
	}
}

// cleanupPass evicts out-of-window events, expired temporary blocks and
// expired throttle entries. A panic is contained to the pass.
func (t *ThreatMonitor) cleanupPass() {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("threat cleanup panic", "panic", r)
			t.metrics.Inc(MetricCleanupFailures)
		}
	}()

	now := t.clock.Now()
	evicted := t.events.evictOlderThan(now.Add(-t.cfg.MonitoringWindow))

	t.stateMu.Lock()
	for ip, deadline := range t.blockedIPs {
		if !deadline.IsZero() && !now.Before(deadline) {
			delete(t.blockedIPs, ip)
		}
	}
	for user, deadline := range t.blockedUsers {
		if !deadline.IsZero() && !now.Before(deadline) {
			delete(t.blockedUsers, user)
		}
	}
	for key, deadline := range t.rateLimits {
		if !now.Before(deadline) {
			delete(t.rateLimits, key)
		}
	}
	t.stateMu.Unlock()

	t.metrics.Inc(MetricCleanupPasses)
	if evicted > 0 {
		t.logger.Debug("threat cleanup pass", "events_evicted", evicted)
	}
}
