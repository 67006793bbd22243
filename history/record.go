package history

import (
	"errors"
	"time"
)

// ErrStorage wraps every backend failure returned by a log.
var ErrStorage = errors.New("login history storage unavailable")

// Record is one login attempt.
type Record struct {
	AccountID       string
	Identifier      string
	SourceAddress   string
	ClientSignature string
	Success         bool
	Timestamp       time.Time
}

// failuresSinceLastSuccess counts failed records at or after since that
// follow the most recent success. records must be in timestamp order.
func failuresSinceLastSuccess(records []Record, since time.Time) int {
	n := 0
	for i := len(records) - 1; i >= 0; i-- {
		r := records[i]
		if r.Timestamp.Before(since) || r.Success {
			break
		}
		n++
	}
	return n
}
