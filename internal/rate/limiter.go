package rate

import (
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authguard/clock"
)

const defaultShards = 32

// Config holds rate limiter tuning parameters.
type Config struct {
	MinuteLimit   int
	WindowLimit   int
	MinuteWindow  time.Duration
	LongWindow    time.Duration
	BlockDuration time.Duration
	Shards        int
}

// Validate reports the first invalid field.
func (c Config) Validate() error {
	if c.MinuteLimit <= 0 {
		return errors.New("rate: MinuteLimit must be > 0")
	}
	if c.WindowLimit <= 0 {
		return errors.New("rate: WindowLimit must be > 0")
	}
	if c.MinuteWindow <= 0 {
		return errors.New("rate: MinuteWindow must be > 0")
	}
	if c.LongWindow < c.MinuteWindow {
		return errors.New("rate: LongWindow must be >= MinuteWindow")
	}
	if c.BlockDuration <= 0 {
		return errors.New("rate: BlockDuration must be > 0")
	}
	if c.Shards < 0 {
		return errors.New("rate: Shards must be >= 0")
	}
	return nil
}

// Result is the outcome of one CheckAndConsume call.
type Result struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
	Blocked    bool
}

// Info is a read-only view of one identifier's budget.
type Info struct {
	MinuteCount  int
	WindowCount  int
	Remaining    int
	Blocked      bool
	BlockedUntil time.Time
}

type window struct {
	stamps       []time.Time
	blockedUntil time.Time
}

type shard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// Limiter enforces two-window budgets per identifier.
type Limiter struct {
	config Config
	clock  clock.Clock
	shards []*shard
}

// New validates cfg and returns a Limiter. A nil clock uses wall time.
func New(cfg Config, clk clock.Clock) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Shards == 0 {
		cfg.Shards = defaultShards
	}
	shards := make([]*shard, cfg.Shards)
	for i := range shards {
		shards[i] = &shard{windows: make(map[string]*window)}
	}
	return &Limiter{config: cfg, clock: clock.OrReal(clk), shards: shards}, nil
}

// CheckAndConsume decides whether identifier may make one more request and,
// when allowed, records it.
func (l *Limiter) CheckAndConsume(identifier string) Result {
	now := l.clock.Now()
	s := l.shardFor(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[identifier]
	if w == nil {
		w = &window{}
		s.windows[identifier] = w
	}

	if !w.blockedUntil.IsZero() {
		if now.Before(w.blockedUntil) {
			return Result{Blocked: true, RetryAfter: ceilSeconds(w.blockedUntil.Sub(now))}
		}
		w.blockedUntil = time.Time{}
	}

	l.prune(w, now)
	minute, long := l.counts(w, now)

	if minute >= l.config.MinuteLimit || long >= l.config.WindowLimit {
		w.blockedUntil = now.Add(l.config.BlockDuration)
		return Result{Blocked: true, RetryAfter: ceilSeconds(l.config.BlockDuration)}
	}

	w.stamps = append(w.stamps, now)
	return Result{
		Allowed:   true,
		Remaining: min(l.config.MinuteLimit-minute-1, l.config.WindowLimit-long-1),
	}
}

// Info returns the identifier's current counts without consuming budget or
// clearing lapsed blocks.
func (l *Limiter) Info(identifier string) Info {
	now := l.clock.Now()
	s := l.shardFor(identifier)

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.windows[identifier]
	if w == nil {
		return Info{Remaining: min(l.config.MinuteLimit, l.config.WindowLimit)}
	}

	minute, long := l.counts(w, now)
	info := Info{
		MinuteCount: minute,
		WindowCount: long,
		Remaining:   max(0, min(l.config.MinuteLimit-minute, l.config.WindowLimit-long)),
	}
	if now.Before(w.blockedUntil) {
		info.Blocked = true
		info.BlockedUntil = w.blockedUntil
		info.Remaining = 0
	}
	return info
}

// Reset forgets identifier entirely, lifting any block.
func (l *Limiter) Reset(identifier string) {
	s := l.shardFor(identifier)
	s.mu.Lock()
	delete(s.windows, identifier)
	s.mu.Unlock()
}

// Sweep trims stale timestamps and drops identifiers with no activity inside
// the long window and no active block. It returns the number dropped.
func (l *Limiter) Sweep() int {
	now := l.clock.Now()
	removed := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, w := range s.windows {
			l.prune(w, now)
			if len(w.stamps) == 0 && !now.Before(w.blockedUntil) {
				delete(s.windows, id)
				removed++
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Tracked returns the number of identifiers currently held.
func (l *Limiter) Tracked() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.windows)
		s.mu.Unlock()
	}
	return n
}

func (l *Limiter) shardFor(identifier string) *shard {
	return l.shards[fnv32a(identifier)%uint32(len(l.shards))]
}

// prune drops timestamps at or before now-LongWindow. Timestamps are appended
// in clock order, so the stale ones form a prefix.
func (l *Limiter) prune(w *window, now time.Time) {
	cutoff := now.Add(-l.config.LongWindow)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return
	}
	w.stamps = append(w.stamps[:0], w.stamps[i:]...)
}

func (l *Limiter) counts(w *window, now time.Time) (minute, long int) {
	minuteCutoff := now.Add(-l.config.MinuteWindow)
	longCutoff := now.Add(-l.config.LongWindow)
	for i := len(w.stamps) - 1; i >= 0; i-- {
		ts := w.stamps[i]
		if !ts.After(longCutoff) {
			break
		}
		long++
		if ts.After(minuteCutoff) {
			minute++
		}
	}
	return minute, long
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return secs * time.Second
}

func fnv32a(s string) uint32 {
	const (
		offset = 2166136261
		prime  = 16777619
	)
	h := uint32(offset)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}
