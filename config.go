package authguard

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/MrEthical07/authguard/internal/audit"
	"github.com/MrEthical07/authguard/internal/rate"
	"github.com/MrEthical07/authguard/jwt"
	"github.com/MrEthical07/authguard/risk"
)

// Config is the complete coordinator configuration.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	JWT         JWTConfig         `toml:"jwt"`
	RateLimit   RateLimitConfig   `toml:"rate_limit"`
	Lockout     LockoutConfig     `toml:"lockout"`
	Risk        RiskConfig        `toml:"risk"`
	Audit       AuditConfig       `toml:"audit"`
	Metrics     MetricsConfig     `toml:"metrics"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token lifetimes and signing material. Key bytes are never
// read from TOML directly; PrivateKeyFile and PublicKeyFile point at them.
type JWTConfig struct {
	AccessTTL      time.Duration `toml:"access_ttl"`
	RefreshTTL     time.Duration `toml:"refresh_ttl"`
	SigningMethod  string        `toml:"signing_method"` // "ed25519" (default) or "hs256"
	PrivateKey     []byte        `toml:"-"`
	PublicKey      []byte        `toml:"-"`
	PrivateKeyFile string        `toml:"private_key_file"`
	PublicKeyFile  string        `toml:"public_key_file"`
	Issuer         string        `toml:"issuer"`
	Audience       string        `toml:"audience"`
	Leeway         time.Duration `toml:"leeway"`
	KeyID          string        `toml:"key_id"`
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateLimitConfig sizes the two-window limiter shared by PreCheck and Refresh.
type RateLimitConfig struct {
	MinuteLimit   int           `toml:"minute_limit"`
	WindowLimit   int           `toml:"window_limit"`
	MinuteWindow  time.Duration `toml:"minute_window"`
	LongWindow    time.Duration `toml:"long_window"`
	BlockDuration time.Duration `toml:"block_duration"`
	Shards        int           `toml:"shards"`
	// LimitByAccount also charges the account identifier, not just the address.
	LimitByAccount bool `toml:"limit_by_account"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls automatic account locking after repeated failures.
type LockoutConfig struct {
	Enabled          bool          `toml:"enabled"`
	FailureThreshold int           `toml:"failure_threshold"`
	FailureWindow    time.Duration `toml:"failure_window"`
	Duration         time.Duration `toml:"duration"`
}

/*
====================================
RISK CONFIG
====================================
*/

// RiskConfig tunes the suspicious-activity detector and how the coordinator
// reacts to it.
type RiskConfig struct {
	Enabled bool `toml:"enabled"`
	// PreemptiveBlock denies in PreCheck when the account already scores critical.
	PreemptiveBlock bool `toml:"preemptive_block"`
	// BlockOnCritical asks the IP blocker to block the address of a failed
	// attempt that scores critical.
	BlockOnCritical bool          `toml:"block_on_critical"`
	BlockDuration   time.Duration `toml:"block_duration"`

	ShortLookback           time.Duration   `toml:"short_lookback"`
	LongLookback            time.Duration   `toml:"long_lookback"`
	NormalHourStart         int             `toml:"normal_hour_start"`
	NormalHourEnd           int             `toml:"normal_hour_end"`
	Timezone                string          `toml:"timezone"`
	OddHourHistoryThreshold int             `toml:"odd_hour_history_threshold"`
	SignatureChurnThreshold int             `toml:"signature_churn_threshold"`
	AddressChurnThreshold   int             `toml:"address_churn_threshold"`
	FailureBurstThreshold   int             `toml:"failure_burst_threshold"`
	Weights                 risk.Weights    `toml:"weights"`
	Thresholds              risk.Thresholds `toml:"thresholds"`
}

/*
====================================
AUDIT / METRICS / MAINTENANCE
====================================
*/

// AuditConfig controls the asynchronous security-event dispatcher.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
}

// MetricsConfig controls in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `toml:"enabled"`
	EnableLatencyHistograms bool `toml:"enable_latency_histograms"`
}

// MaintenanceConfig controls the background sweep started by StartMaintenance.
type MaintenanceConfig struct {
	Interval time.Duration `toml:"interval"`
	// HistoryRetention bounds login history when the history collaborator
	// supports pruning. Zero disables history pruning.
	HistoryRetention time.Duration `toml:"history_retention"`
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the stock configuration. Signing keys must still be
// supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	rc := risk.DefaultConfig()
	return Config{
		JWT: JWTConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			SigningMethod: string(jwt.MethodEd25519),
		},
		RateLimit: RateLimitConfig{
			MinuteLimit:    10,
			WindowLimit:    100,
			MinuteWindow:   time.Minute,
			LongWindow:     time.Hour,
			BlockDuration:  15 * time.Minute,
			Shards:         32,
			LimitByAccount: true,
		},
		Lockout: LockoutConfig{
			Enabled:          true,
			FailureThreshold: 5,
			FailureWindow:    15 * time.Minute,
			Duration:         30 * time.Minute,
		},
		Risk: RiskConfig{
			Enabled:                 true,
			PreemptiveBlock:         false,
			BlockOnCritical:         true,
			BlockDuration:           time.Hour,
			ShortLookback:           rc.ShortLookback,
			LongLookback:            rc.LongLookback,
			NormalHourStart:         rc.NormalHourStart,
			NormalHourEnd:           rc.NormalHourEnd,
			Timezone:                "UTC",
			OddHourHistoryThreshold: rc.OddHourHistoryThreshold,
			SignatureChurnThreshold: rc.SignatureChurnThreshold,
			AddressChurnThreshold:   rc.AddressChurnThreshold,
			FailureBurstThreshold:   rc.FailureBurstThreshold,
			Weights:                 rc.Weights,
			Thresholds:              rc.Thresholds,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 false,
			EnableLatencyHistograms: false,
		},
		Maintenance: MaintenanceConfig{
			Interval:         5 * time.Minute,
			HistoryRetention: 30 * 24 * time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
LOADING
====================================
*/

// LoadConfigFile decodes a TOML file over the defaults, reads any referenced
// key files and validates the result. Durations are written as strings such
// as "15m" or "168h". Unknown keys are rejected.
func LoadConfigFile(path string) (Config, error) {
	cfg := defaultConfig()
	md, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return Config{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("decode %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if cfg.JWT.PrivateKeyFile != "" {
		b, err := os.ReadFile(cfg.JWT.PrivateKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read private key: %w", err)
		}
		cfg.JWT.PrivateKey = b
	}
	if cfg.JWT.PublicKeyFile != "" {
		b, err := os.ReadFile(cfg.JWT.PublicKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read public key: %w", err)
		}
		cfg.JWT.PublicKey = b
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.RefreshTTL < c.JWT.AccessTTL {
		return errors.New("JWT RefreshTTL must be >= AccessTTL")
	}
	switch jwt.SigningMethod(c.JWT.SigningMethod) {
	case jwt.MethodEd25519:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("ed25519 requires PrivateKey")
		}
		if len(c.JWT.PublicKey) == 0 {
			return errors.New("ed25519 requires PublicKey")
		}
	case jwt.MethodHS256:
		if len(c.JWT.PrivateKey) == 0 {
			return errors.New("hs256 requires PrivateKey")
		}
	default:
		return errors.New("unsupported JWT signing method")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > 2*time.Minute {
		return errors.New("JWT Leeway must be between 0 and 2m")
	}
	if c.JWT.Audience != "" && strings.TrimSpace(c.JWT.Audience) == "" {
		return errors.New("JWT Audience must not be blank")
	}

	// Rate limit
	if err := c.rateConfig().Validate(); err != nil {
		return err
	}

	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.FailureThreshold <= 0 {
			return errors.New("Lockout FailureThreshold must be > 0")
		}
		if c.Lockout.FailureWindow <= 0 {
			return errors.New("Lockout FailureWindow must be > 0")
		}
		if c.Lockout.Duration <= 0 {
			return errors.New("Lockout Duration must be > 0")
		}
	}

	// Risk
	if c.Risk.Enabled {
		rc, err := c.riskConfig()
		if err != nil {
			return err
		}
		if err := rc.Validate(); err != nil {
			return err
		}
		if c.Risk.BlockOnCritical && c.Risk.BlockDuration <= 0 {
			return errors.New("Risk BlockDuration must be > 0 when BlockOnCritical is true")
		}
	} else if c.Risk.PreemptiveBlock || c.Risk.BlockOnCritical {
		return errors.New("Risk PreemptiveBlock and BlockOnCritical require Risk Enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	// Maintenance
	if c.Maintenance.Interval < 0 {
		return errors.New("Maintenance Interval must be >= 0")
	}
	if c.Maintenance.HistoryRetention < 0 {
		return errors.New("Maintenance HistoryRetention must be >= 0")
	}
	if c.Maintenance.HistoryRetention > 0 && c.Risk.Enabled && c.Maintenance.HistoryRetention < c.Risk.LongLookback {
		return errors.New("Maintenance HistoryRetention must cover Risk LongLookback")
	}

	return nil
}

func (c *Config) jwtConfig() jwt.Config {
	return jwt.Config{
		AccessTTL:     c.JWT.AccessTTL,
		RefreshTTL:    c.JWT.RefreshTTL,
		SigningMethod: jwt.SigningMethod(c.JWT.SigningMethod),
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
		KeyID:         c.JWT.KeyID,
	}
}

func (c *Config) rateConfig() rate.Config {
	return rate.Config{
		MinuteLimit:   c.RateLimit.MinuteLimit,
		WindowLimit:   c.RateLimit.WindowLimit,
		MinuteWindow:  c.RateLimit.MinuteWindow,
		LongWindow:    c.RateLimit.LongWindow,
		BlockDuration: c.RateLimit.BlockDuration,
		Shards:        c.RateLimit.Shards,
	}
}

func (c *Config) riskConfig() (risk.Config, error) {
	loc := time.UTC
	if c.Risk.Timezone != "" {
		l, err := time.LoadLocation(c.Risk.Timezone)
		if err != nil {
			return risk.Config{}, fmt.Errorf("Risk Timezone: %w", err)
		}
		loc = l
	}
	return risk.Config{
		ShortLookback:           c.Risk.ShortLookback,
		LongLookback:            c.Risk.LongLookback,
		NormalHourStart:         c.Risk.NormalHourStart,
		NormalHourEnd:           c.Risk.NormalHourEnd,
		Location:                loc,
		OddHourHistoryThreshold: c.Risk.OddHourHistoryThreshold,
		SignatureChurnThreshold: c.Risk.SignatureChurnThreshold,
		AddressChurnThreshold:   c.Risk.AddressChurnThreshold,
		FailureBurstThreshold:   c.Risk.FailureBurstThreshold,
		Weights:                 c.Risk.Weights,
		Thresholds:              c.Risk.Thresholds,
	}, nil
}

func (c *Config) auditConfig() audit.Config {
	return audit.Config{
		Enabled:    c.Audit.Enabled,
		BufferSize: c.Audit.BufferSize,
		DropIfFull: c.Audit.DropIfFull,
	}
}
