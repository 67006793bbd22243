package risk

import (
	"errors"
	"sort"
	"time"

	"github.com/MrEthical07/authguard/history"
)

// Level is the coarse risk classification.
type Level int

const (
	LevelLow Level = iota
	LevelMedium
	LevelHigh
	LevelCritical
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelMedium:
		return "medium"
	case LevelHigh:
		return "high"
	case LevelCritical:
		return "critical"
	default:
		return "low"
	}
}

// Indicator names.
const (
	IndicatorMultiLocation  = "multi_location"
	IndicatorOddHour        = "odd_hour"
	IndicatorSignatureChurn = "signature_churn"
	IndicatorFailureBurst   = "failure_burst"
)

// Weights maps each indicator to its score contribution.
type Weights struct {
	MultiLocation  int `toml:"multi_location"`
	OddHour        int `toml:"odd_hour"`
	SignatureChurn int `toml:"signature_churn"`
	FailureBurst   int `toml:"failure_burst"`
}

// Thresholds are the minimum scores for each level above low.
type Thresholds struct {
	Medium   int `toml:"medium"`
	High     int `toml:"high"`
	Critical int `toml:"critical"`
}

// Config tunes the detector. Every number is a heuristic and meant to be
// adjusted per deployment.
type Config struct {
	ShortLookback           time.Duration
	LongLookback            time.Duration
	NormalHourStart         int
	NormalHourEnd           int
	Location                *time.Location
	OddHourHistoryThreshold int
	SignatureChurnThreshold int
	AddressChurnThreshold   int
	FailureBurstThreshold   int
	Weights                 Weights
	Thresholds              Thresholds
}

// DefaultConfig returns the stock tuning.
func DefaultConfig() Config {
	return Config{
		ShortLookback:           time.Hour,
		LongLookback:            7 * 24 * time.Hour,
		NormalHourStart:         6,
		NormalHourEnd:           23,
		Location:                time.UTC,
		OddHourHistoryThreshold: 3,
		SignatureChurnThreshold: 3,
		AddressChurnThreshold:   5,
		FailureBurstThreshold:   5,
		Weights: Weights{
			MultiLocation:  30,
			OddHour:        20,
			SignatureChurn: 30,
			FailureBurst:   40,
		},
		Thresholds: Thresholds{Medium: 30, High: 60, Critical: 80},
	}
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.ShortLookback <= 0 || c.LongLookback < c.ShortLookback {
		return errors.New("risk: lookbacks must be positive with LongLookback >= ShortLookback")
	}
	if c.NormalHourStart < 0 || c.NormalHourStart > 23 || c.NormalHourEnd < 0 || c.NormalHourEnd > 24 {
		return errors.New("risk: normal hours must be within 0..24")
	}
	if c.OddHourHistoryThreshold < 0 || c.SignatureChurnThreshold < 1 || c.AddressChurnThreshold < 1 || c.FailureBurstThreshold < 1 {
		return errors.New("risk: indicator thresholds out of range")
	}
	w := c.Weights
	if w.MultiLocation < 0 || w.OddHour < 0 || w.SignatureChurn < 0 || w.FailureBurst < 0 {
		return errors.New("risk: weights must be >= 0")
	}
	th := c.Thresholds
	if th.Medium <= 0 || th.High < th.Medium || th.Critical < th.High {
		return errors.New("risk: level thresholds must be positive and ascending")
	}
	return nil
}

// Assessment is the result of one Assess call.
type Assessment struct {
	Suspicious      bool
	Level           Level
	Score           int
	Indicators      []string
	Recommendations []string
}

// Has reports whether indicator fired.
func (a Assessment) Has(indicator string) bool {
	for _, in := range a.Indicators {
		if in == indicator {
			return true
		}
	}
	return false
}

var recommendations = map[Level][]string{
	LevelLow: {"no action required"},
	LevelMedium: {
		"monitor account activity",
		"notify account owner of new sign-in",
	},
	LevelHigh: {
		"require additional verification",
		"notify account owner of new sign-in",
	},
	LevelCritical: {
		"lock account pending verification",
		"block source address",
		"notify security team",
	},
}

// Detector evaluates login attempts. It holds only immutable configuration.
type Detector struct {
	config Config
}

// New validates cfg and returns a Detector.
func New(cfg Config) (*Detector, error) {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Detector{config: cfg}, nil
}

// ShortLookback returns the multi-location and failure-burst lookback.
func (d *Detector) ShortLookback() time.Duration { return d.config.ShortLookback }

// LongLookback returns the history horizon Assess looks at. Callers fetch
// at least this much history.
func (d *Detector) LongLookback() time.Duration { return d.config.LongLookback }

// Assess scores an attempt by accountID from sourceAddress with
// clientSignature at now. Records for other accounts or outside the
// lookbacks are ignored. The attempt itself counts as an observation.
func (d *Detector) Assess(accountID, sourceAddress, clientSignature string, now time.Time, records []history.Record) Assessment {
	cfg := d.config
	shortFrom := now.Add(-cfg.ShortLookback)
	longFrom := now.Add(-cfg.LongLookback)

	shortAddrs := map[string]struct{}{}
	longAddrs := map[string]struct{}{}
	longSigs := map[string]struct{}{}
	if sourceAddress != "" {
		shortAddrs[sourceAddress] = struct{}{}
		longAddrs[sourceAddress] = struct{}{}
	}
	if clientSignature != "" {
		longSigs[clientSignature] = struct{}{}
	}

	local := now.In(cfg.Location)
	hour := local.Hour()
	successesAtHour := 0
	shortFailures := 0

	for _, r := range records {
		if r.AccountID != accountID || r.Timestamp.Before(longFrom) || r.Timestamp.After(now) {
			continue
		}
		if r.SourceAddress != "" {
			longAddrs[r.SourceAddress] = struct{}{}
		}
		if r.ClientSignature != "" {
			longSigs[r.ClientSignature] = struct{}{}
		}
		if r.Success && r.Timestamp.In(cfg.Location).Hour() == hour {
			successesAtHour++
		}
		if r.Timestamp.Before(shortFrom) {
			continue
		}
		if r.SourceAddress != "" {
			shortAddrs[r.SourceAddress] = struct{}{}
		}
		if !r.Success {
			shortFailures++
		}
	}

	var indicators []string
	score := 0
	if len(shortAddrs) > 1 {
		indicators = append(indicators, IndicatorMultiLocation)
		score += cfg.Weights.MultiLocation
	}
	if !d.normalHour(hour) && successesAtHour < cfg.OddHourHistoryThreshold {
		indicators = append(indicators, IndicatorOddHour)
		score += cfg.Weights.OddHour
	}
	if len(longSigs) > cfg.SignatureChurnThreshold || len(longAddrs) > cfg.AddressChurnThreshold {
		indicators = append(indicators, IndicatorSignatureChurn)
		score += cfg.Weights.SignatureChurn
	}
	if shortFailures >= cfg.FailureBurstThreshold {
		indicators = append(indicators, IndicatorFailureBurst)
		score += cfg.Weights.FailureBurst
	}
	sort.Strings(indicators)

	level := d.level(score)
	recs := recommendations[level]
	return Assessment{
		Suspicious:      level >= LevelMedium,
		Level:           level,
		Score:           score,
		Indicators:      indicators,
		Recommendations: append([]string(nil), recs...),
	}
}

// normalHour reports whether hour lies in [start, end). A band with
// start > end wraps midnight.
func (d *Detector) normalHour(hour int) bool {
	start, end := d.config.NormalHourStart, d.config.NormalHourEnd
	if start == end {
		return true
	}
	if start < end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}

func (d *Detector) level(score int) Level {
	th := d.config.Thresholds
	switch {
	case score >= th.Critical:
		return LevelCritical
	case score >= th.High:
		return LevelHigh
	case score >= th.Medium:
		return LevelMedium
	default:
		return LevelLow
	}
}
