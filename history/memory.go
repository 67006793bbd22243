package history

import (
	"context"
	"sync"
	"time"
)

const defaultPerAccount = 512

// MemoryLog is an in-process login history. Each account keeps at most
// perAccount records; the oldest are dropped first.
type MemoryLog struct {
	mu         sync.RWMutex
	perAccount int
	records    map[string][]Record
}

// NewMemoryLog returns an empty MemoryLog. perAccount <= 0 uses a default of 512.
func NewMemoryLog(perAccount int) *MemoryLog {
	if perAccount <= 0 {
		perAccount = defaultPerAccount
	}
	return &MemoryLog{perAccount: perAccount, records: make(map[string][]Record)}
}

// Record appends r. Records without an account are ignored since nothing
// reads them back.
func (m *MemoryLog) Record(ctx context.Context, r Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if r.AccountID == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.records[r.AccountID]
	i := len(list)
	for i > 0 && list[i-1].Timestamp.After(r.Timestamp) {
		i--
	}
	list = append(list, Record{})
	copy(list[i+1:], list[i:])
	list[i] = r
	if over := len(list) - m.perAccount; over > 0 {
		list = append(list[:0:0], list[over:]...)
	}
	m.records[r.AccountID] = list
	return nil
}

// Recent returns accountID's records at or after since, oldest first.
func (m *MemoryLog) Recent(ctx context.Context, accountID string, since time.Time) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.records[accountID]
	start := len(list)
	for start > 0 && !list[start-1].Timestamp.Before(since) {
		start--
	}
	out := make([]Record, len(list)-start)
	copy(out, list[start:])
	return out, nil
}

// CountFailures returns the number of failures at or after since that
// happened after the account's most recent success.
func (m *MemoryLog) CountFailures(ctx context.Context, accountID string, since time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return failuresSinceLastSuccess(m.records[accountID], since), nil
}

// Prune drops records older than before and returns how many were removed.
func (m *MemoryLog) Prune(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, list := range m.records {
		i := 0
		for i < len(list) && list[i].Timestamp.Before(before) {
			i++
		}
		if i == 0 {
			continue
		}
		removed += i
		if i == len(list) {
			delete(m.records, id)
			continue
		}
		m.records[id] = append(list[:0:0], list[i:]...)
	}
	return removed, nil
}
