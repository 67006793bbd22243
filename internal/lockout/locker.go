package lockout

import (
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/authguard/clock"
)

// State is a snapshot of one account's lock.
type State struct {
	AccountID   string
	Locked      bool
	LockedAt    time.Time
	LockedUntil time.Time
	Reason      string
}

// Remaining returns the time left on the lock at now, or zero.
func (s State) Remaining(now time.Time) time.Duration {
	if !s.Locked || !now.Before(s.LockedUntil) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// Locker holds per-account lock state behind a single mutex.
type Locker struct {
	mu    sync.Mutex
	clock clock.Clock
	locks map[string]State
}

// New returns an empty Locker. A nil clock uses wall time.
func New(clk clock.Clock) *Locker {
	return &Locker{clock: clock.OrReal(clk), locks: make(map[string]State)}
}

// Lock suspends accountID for d. Locking an already locked account replaces
// the previous deadline and reason.
func (l *Locker) Lock(accountID string, d time.Duration, reason string) State {
	now := l.clock.Now()
	st := State{
		AccountID:   accountID,
		Locked:      true,
		LockedAt:    now,
		LockedUntil: now.Add(d),
		Reason:      reason,
	}

	l.mu.Lock()
	l.locks[accountID] = st
	l.mu.Unlock()
	return st
}

// Unlock clears accountID and reports whether an unexpired lock was present.
func (l *Locker) Unlock(accountID string) bool {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.locks[accountID]
	if !ok {
		return false
	}
	delete(l.locks, accountID)
	return now.Before(st.LockedUntil)
}

// IsLocked reports whether accountID is currently locked and, if so, a
// message with the minutes remaining. An expired lock is removed as a side
// effect and reported as unlocked.
func (l *Locker) IsLocked(accountID string) (bool, string) {
	locked, msg, _ := l.Check(accountID)
	return locked, msg
}

// Check is IsLocked plus the time left on the lock, read under one
// acquisition so a locked result always carries a positive remaining.
func (l *Locker) Check(accountID string) (locked bool, msg string, remaining time.Duration) {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.locks[accountID]
	if !ok {
		return false, "", 0
	}
	if !now.Before(st.LockedUntil) {
		delete(l.locks, accountID)
		return false, "", 0
	}
	remaining = st.LockedUntil.Sub(now)
	return true, Message(remaining), remaining
}

// Status returns the lock state without clearing expired entries. An expired
// lock reads as unlocked.
func (l *Locker) Status(accountID string) State {
	now := l.clock.Now()

	l.mu.Lock()
	st, ok := l.locks[accountID]
	l.mu.Unlock()

	if !ok || !now.Before(st.LockedUntil) {
		return State{AccountID: accountID}
	}
	return st
}

// Sweep removes expired locks and returns how many were removed.
func (l *Locker) Sweep() int {
	now := l.clock.Now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, st := range l.locks {
		if !now.Before(st.LockedUntil) {
			delete(l.locks, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of lock entries held, expired ones included.
func (l *Locker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Message renders the caller-facing lock message for remaining. Minutes are
// rounded up with a floor of one.
func Message(remaining time.Duration) string {
	minutes := int((remaining + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("account locked, %d minutes remaining", minutes)
}
