package apisec

import "fmt"

var validThreatLevels = map[ThreatLevel]bool{
	LevelLow:      true,
	LevelMedium:   true,
	LevelHigh:     true,
	LevelCritical: true,
}

var validActions = map[ResponseAction]bool{
	ActionLogOnly:        true,
	ActionRateLimit:      true,
	ActionTemporaryBlock: true,
	ActionPermanentBlock: true,
	ActionAlertAdmin:     true,
	ActionRequire2FA:     true,
}

// matchesConditions reports whether the event satisfies every rule
// condition. Keys name either a well-known event field or, failing that,
// a Details entry. An empty condition map matches everything.
func matchesConditions(ev SecurityEvent, conditions map[string]string) bool {
	for key, want := range conditions {
		var got string
		switch key {
		case "outcome":
			got = string(ev.Outcome)
		case "severity":
			got = string(ev.Severity)
		case "user_id":
			got = ev.UserID
		case "session_id":
			got = ev.SessionID
		case "ip":
			got = ev.IP
		default:
			got = ev.Details[key]
		}
		if got != want {
			return false
		}
	}
	return true
}

// validateRule rejects rules the engine cannot evaluate. Loaders skip
// invalid rules; programmatic registration surfaces the error.
func validateRule(r SecurityRule) error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id is empty", ErrRuleInvalid)
	}
	if len(r.EventTypes) == 0 {
		return fmt.Errorf("%w: rule %q has no event types", ErrRuleInvalid, r.ID)
	}
	for _, t := range r.EventTypes {
		if !IsKnownEventType(t) {
			return fmt.Errorf("%w: rule %q references unknown event type %q", ErrRuleInvalid, r.ID, t)
		}
	}
	if r.Threshold < 1 {
		return fmt.Errorf("%w: rule %q threshold must be >= 1", ErrRuleInvalid, r.ID)
	}
	if r.WindowMins < 1 {
		return fmt.Errorf("%w: rule %q window must be >= 1 minute", ErrRuleInvalid, r.ID)
	}
	if !validThreatLevels[r.Level] {
		return fmt.Errorf("%w: rule %q has unknown level %q", ErrRuleInvalid, r.ID, r.Level)
	}
	if len(r.Actions) == 0 {
		return fmt.Errorf("%w: rule %q has no response actions", ErrRuleInvalid, r.ID)
	}
	for _, a := range r.Actions {
		if !validActions[a] {
			return fmt.Errorf("%w: rule %q has unknown action %q", ErrRuleInvalid, r.ID, a)
		}
	}
	return nil
}

// DefaultRules returns the built-in rule set. Callers may extend or
// replace it through the builder.
func DefaultRules() []SecurityRule {
	return []SecurityRule{
		{
			ID:          "brute_force_login",
			Name:        "Brute force login",
			Description: "Repeated login failures from one source",
			EventTypes:  []EventType{EventLoginFailure},
			Threshold:   5,
			WindowMins:  15,
			Level:       LevelHigh,
			Actions:     []ResponseAction{ActionTemporaryBlock, ActionAlertAdmin},
			Enabled:     true,
		},
		{
			ID:          "credential_stuffing",
			Name:        "Credential stuffing",
			Description: "High-volume login failures indicating a credential list replay",
			EventTypes:  []EventType{EventLoginFailure, EventLoginRateLimited},
			Threshold:   20,
			WindowMins:  30,
			Level:       LevelCritical,
			Actions:     []ResponseAction{ActionPermanentBlock, ActionAlertAdmin},
			Enabled:     true,
		},
		{
			ID:          "api_key_probing",
			Name:        "API key probing",
			Description: "Repeated invalid keys or signatures from one source",
			EventTypes:  []EventType{EventAPIKeyInvalid, EventSignatureInvalid},
			Threshold:   10,
			WindowMins:  10,
			Level:       LevelHigh,
			Actions:     []ResponseAction{ActionTemporaryBlock, ActionRateLimit},
			Enabled:     true,
		},
		{
			ID:          "injection_probe",
			Name:        "Injection probing",
			Description: "Requests carrying injection payloads",
			EventTypes:  []EventType{EventInjectionAttempt, EventSuspiciousRequest},
			Threshold:   3,
			WindowMins:  5,
			Level:       LevelCritical,
			Actions:     []ResponseAction{ActionPermanentBlock, ActionAlertAdmin},
			Enabled:     true,
		},
		{
			ID:          "scraping_burst",
			Name:        "Scraping burst",
			Description: "Sustained rate limit pressure consistent with scraping",
			EventTypes:  []EventType{EventRateLimitExceeded, EventScrapingDetected},
			Threshold:   15,
			WindowMins:  10,
			Level:       LevelMedium,
			Actions:     []ResponseAction{ActionRateLimit},
			Enabled:     true,
		},
		{
			ID:          "payment_fraud",
			Name:        "Payment fraud pattern",
			Description: "Clustered payment failures or fraud signals on one account",
			EventTypes:  []EventType{EventPaymentFailure, EventFraudDetected},
			Threshold:   5,
			WindowMins:  30,
			Level:       LevelCritical,
			Actions:     []ResponseAction{ActionPermanentBlock, ActionAlertAdmin, ActionRequire2FA},
			Enabled:     true,
		},
		{
			ID:          "session_hijack",
			Name:        "Session hijack",
			Description: "Session fingerprint mismatch",
			EventTypes:  []EventType{EventSessionHijack},
			Threshold:   1,
			WindowMins:  15,
			Level:       LevelCritical,
			Actions:     []ResponseAction{ActionRequire2FA, ActionAlertAdmin},
			Enabled:     true,
		},
	}
}
