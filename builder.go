package apisec

import (
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a [Core]. Builders are single-use; configure, call
// Build, discard.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	redisPrefix string

	logger *slog.Logger
	clock  clock.Clock

	rules    []SecurityRule
	rulesDir string

	auditSink       AuditSink
	alertNotifier   AlertNotifier
	credentialStore CredentialStore
	auditStore      AuditStore

	built bool
}

// New returns a builder preloaded with the default configuration and the
// built-in rule set.
func New() *Builder {
	return &Builder{
		config:      defaultConfig(),
		redisPrefix: "apisec",
	}
}

// WithConfig replaces the configuration. Zero values are normalized to
// defaults at Build time.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis backs the credential and audit stores with Redis instead of
// process memory. Explicit stores set via WithCredentialStore or
// WithAuditStore take precedence.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRedisPrefix overrides the Redis key namespace. Default "apisec".
func (b *Builder) WithRedisPrefix(prefix string) *Builder {
	b.redisPrefix = prefix
	return b
}

// WithLogger sets the structured logger. Default slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock injects the time source. Tests use clock.NewMock().
func (b *Builder) WithClock(clk clock.Clock) *Builder {
	b.clock = clk
	return b
}

// WithRules replaces the built-in threat rule set. Each rule is validated
// at Build time.
func (b *Builder) WithRules(rules []SecurityRule) *Builder {
	b.rules = rules
	return b
}

// WithRulesDir loads additional threat rules from YAML files in dir at
// Build time, after the built-in or WithRules set.
func (b *Builder) WithRulesDir(dir string) *Builder {
	b.rulesDir = dir
	return b
}

// WithAuditSink attaches an async observer for every accepted audit entry.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAlertNotifier sets the delivery target for critical notifications.
// Default discards them.
func (b *Builder) WithAlertNotifier(n AlertNotifier) *Builder {
	b.alertNotifier = n
	return b
}

// WithCredentialStore overrides the credential persistence backend.
func (b *Builder) WithCredentialStore(store CredentialStore) *Builder {
	b.credentialStore = store
	return b
}

// WithAuditStore overrides the audit persistence backend.
func (b *Builder) WithAuditStore(store AuditStore) *Builder {
	b.auditStore = store
	return b
}

// WithMetricsEnabled toggles the in-process counter set.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build validates the configuration, wires the stores, constructs the four
// components and starts the threat monitor's cleanup loop.
func (b *Builder) Build() (*Core, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}
	b.built = true

	cfg := b.config
	if err := cfg.normalize(); err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := b.clock
	if clk == nil {
		clk = clock.New()
	}

	var m *Metrics
	if cfg.Metrics.Enabled {
		m = NewMetrics(cfg.Metrics)
	}

	credStore := b.credentialStore
	if credStore == nil {
		if b.redis != nil {
			credStore = NewRedisCredentialStore(b.redis, b.redisPrefix)
		} else {
			credStore = NewMemoryCredentialStore()
		}
	}
	audStore := b.auditStore
	if audStore == nil {
		if b.redis != nil {
			audStore = NewRedisAuditStore(b.redis, b.redisPrefix, cfg.Audit.MaxEntries)
		} else {
			audStore = NewMemoryAuditStore(cfg.Audit.MaxEntries)
		}
	}

	rules := b.rules
	if rules == nil {
		rules = DefaultRules()
	}
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			return nil, err
		}
	}
	if b.rulesDir != "" {
		loaded, err := LoadRulesDir(b.rulesDir, logger)
		if err != nil {
			return nil, err
		}
		rules = append(rules, loaded...)
	}

	audit, err := newAuditLogger(cfg.Audit, audStore, b.auditSink, b.alertNotifier, clk, logger, m)
	if err != nil {
		return nil, err
	}

	core := &Core{
		Credentials: newCredentialManager(cfg.Credential, credStore, clk, logger, m, audit),
		Signer:      newRequestSigner(cfg.Signing, clk, m),
		Audit:       audit,
		Threats:     newThreatMonitor(cfg.Threat, rules, audit, clk, logger, m),
		config:      cfg,
		metrics:     m,
	}
	core.Threats.Start()
	return core, nil
}
