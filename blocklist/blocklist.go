// Package blocklist provides the coarse source-address block used when risk
// scoring reaches critical. Unlike the rate limiter it is only ever written
// on explicit escalation.
package blocklist

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/MrEthical07/authguard/clock"
)

// ErrStorage wraps every backend failure returned by a blocklist.
var ErrStorage = errors.New("blocklist storage unavailable")

type entry struct {
	until  time.Time
	reason string
}

// MemoryBlocklist is an in-process blocklist with lazy expiry.
type MemoryBlocklist struct {
	mu      sync.Mutex
	clock   clock.Clock
	entries map[string]entry
}

// NewMemoryBlocklist returns an empty MemoryBlocklist. A nil clock uses wall time.
func NewMemoryBlocklist(clk clock.Clock) *MemoryBlocklist {
	return &MemoryBlocklist{clock: clock.OrReal(clk), entries: make(map[string]entry)}
}

// Block blocks address for d. A later Block replaces the earlier one.
func (b *MemoryBlocklist) Block(ctx context.Context, address string, d time.Duration, reason string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	until := b.clock.Now().Add(d)

	b.mu.Lock()
	b.entries[address] = entry{until: until, reason: reason}
	b.mu.Unlock()
	return nil
}

// IsBlocked reports whether address is currently blocked.
func (b *MemoryBlocklist) IsBlocked(ctx context.Context, address string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[address]
	if !ok {
		return false, nil
	}
	if !now.Before(e.until) {
		delete(b.entries, address)
		return false, nil
	}
	return true, nil
}

// Unblock lifts a block on address.
func (b *MemoryBlocklist) Unblock(ctx context.Context, address string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.entries, address)
	b.mu.Unlock()
	return nil
}

// Reason returns the recorded reason for an active block.
func (b *MemoryBlocklist) Reason(address string) (string, bool) {
	now := b.clock.Now()
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[address]
	if !ok || !now.Before(e.until) {
		return "", false
	}
	return e.reason, true
}
