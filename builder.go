package authguard

import (
	"errors"
	"log/slog"

	"github.com/MrEthical07/authguard/blocklist"
	"github.com/MrEthical07/authguard/clock"
	"github.com/MrEthical07/authguard/history"
	"github.com/MrEthical07/authguard/internal/audit"
	"github.com/MrEthical07/authguard/internal/lockout"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/jwt"
	"github.com/MrEthical07/authguard/password"
	"github.com/MrEthical07/authguard/refresh"
	"github.com/MrEthical07/authguard/risk"
)

const dummyPassword = "authguard-timing-equalizer"

// Builder assembles a Coordinator. Collaborators left unset fall back to the
// in-memory reference implementations; an IdentityProvider is required.
type Builder struct {
	config Config
	logger *slog.Logger
	clock  clock.Clock

	hasher     PasswordHasher
	identities IdentityProvider
	history    LoginHistory
	blocker    IPBlocker
	refresh    refresh.Store
	auditSink  AuditSink

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithLogger sets the structured logger. The default is slog.Default().
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock sets the time source shared by every component.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithPasswordHasher sets the hasher. The default is Argon2id with
// password.DefaultConfig.
func (b *Builder) WithPasswordHasher(h PasswordHasher) *Builder {
	b.hasher = h
	return b
}

// WithIdentityProvider sets the account lookup. Required.
func (b *Builder) WithIdentityProvider(p IdentityProvider) *Builder {
	b.identities = p
	return b
}

// WithLoginHistory sets the history collaborator.
func (b *Builder) WithLoginHistory(h LoginHistory) *Builder {
	b.history = h
	return b
}

// WithIPBlocker sets the address blocker.
func (b *Builder) WithIPBlocker(blocker IPBlocker) *Builder {
	b.blocker = blocker
	return b
}

// WithRefreshStore sets the refresh-token store.
func (b *Builder) WithRefreshStore(s refresh.Store) *Builder {
	b.refresh = s
	return b
}

// WithAuditSink sets the sink behind the audit dispatcher. It only takes
// effect when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetricsEnabled toggles in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles latency histograms.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and constructs the Coordinator. A
// Builder can be used once.
func (b *Builder) Build() (*Coordinator, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.identities == nil {
		return nil, errors.New("identity provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := clock.OrReal(b.clock)

	jwtCfg := cfg.jwtConfig()
	jwtCfg.Clock = clk
	tokens, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	limiter, err := rate.New(cfg.rateConfig(), clk)
	if err != nil {
		return nil, err
	}

	var detector *risk.Detector
	if cfg.Risk.Enabled {
		rc, err := cfg.riskConfig()
		if err != nil {
			return nil, err
		}
		if detector, err = risk.New(rc); err != nil {
			return nil, err
		}
	}

	hasher := b.hasher
	if hasher == nil {
		argon, err := password.NewArgon2(password.DefaultConfig())
		if err != nil {
			return nil, err
		}
		hasher = argon
	}
	dummyHash, err := hasher.HashPassword(dummyPassword)
	if err != nil {
		return nil, err
	}

	hist := b.history
	if hist == nil {
		hist = history.NewMemoryLog(0)
	}
	blocker := b.blocker
	if blocker == nil {
		blocker = blocklist.NewMemoryBlocklist(clk)
	}
	store := b.refresh
	if store == nil {
		store = refresh.NewMemoryStore(clk)
	}

	var dispatcher *audit.Dispatcher
	if cfg.Audit.Enabled {
		sink := b.auditSink
		if sink == nil {
			sink = audit.NewSlogSink(logger)
		}
		dispatcher = audit.NewDispatcher(cfg.auditConfig(), sink, logger)
	}

	b.built = true
	return &Coordinator{
		config:     cfg,
		logger:     logger,
		clock:      clk,
		limiter:    limiter,
		locker:     lockout.New(clk),
		detector:   detector,
		tokens:     tokens,
		refresh:    store,
		hasher:     hasher,
		identities: b.identities,
		history:    hist,
		blocker:    blocker,
		audit:      dispatcher,
		metrics:    NewMetrics(cfg.Metrics),
		dummyHash:  dummyHash,
	}, nil
}

// Tokens exposes the token manager, for example to issue tokens with
// extra claims.
func (c *Coordinator) Tokens() *jwt.Manager {
	return c.tokens
}
