package history

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by [PostgresLog].
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLog appends login attempts to a login_history table:
//
//	CREATE TABLE login_history (
//	    id               BIGSERIAL PRIMARY KEY,
//	    account_id       TEXT NOT NULL,
//	    identifier       TEXT NOT NULL,
//	    source_address   TEXT NOT NULL,
//	    client_signature TEXT NOT NULL,
//	    success          BOOLEAN NOT NULL,
//	    occurred_at      TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX ON login_history (account_id, occurred_at);
type PostgresLog struct {
	db    DB
	limit int
}

// NewPostgresLog returns a PostgresLog. Recent returns at most limit rows;
// limit <= 0 uses 500.
func NewPostgresLog(db DB, limit int) *PostgresLog {
	if limit <= 0 {
		limit = 500
	}
	return &PostgresLog{db: db, limit: limit}
}

const (
	insertRecordSQL = `INSERT INTO login_history (account_id, identifier, source_address, client_signature, success, occurred_at) VALUES ($1, $2, $3, $4, $5, $6)`
	recentSQL       = `SELECT account_id, identifier, source_address, client_signature, success, occurred_at FROM (
	SELECT account_id, identifier, source_address, client_signature, success, occurred_at FROM login_history
	WHERE account_id = $1 AND occurred_at >= $2 ORDER BY occurred_at DESC LIMIT $3
) recent ORDER BY occurred_at`
	countFailuresSQL = `SELECT COUNT(*) FROM login_history
WHERE account_id = $1 AND NOT success AND occurred_at >= $2
AND occurred_at > COALESCE((SELECT MAX(occurred_at) FROM login_history WHERE account_id = $1 AND success), '-infinity'::timestamptz)`
	pruneSQL = `DELETE FROM login_history WHERE occurred_at < $1`
)

// Record appends r.
func (p *PostgresLog) Record(ctx context.Context, r Record) error {
	if r.AccountID == "" {
		return nil
	}
	_, err := p.db.Exec(ctx, insertRecordSQL, r.AccountID, r.Identifier, r.SourceAddress, r.ClientSignature, r.Success, r.Timestamp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return nil
}

// Recent returns the newest records at or after since, oldest first.
func (p *PostgresLog) Recent(ctx context.Context, accountID string, since time.Time) ([]Record, error) {
	rows, err := p.db.Query(ctx, recentSQL, accountID, since, p.limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.AccountID, &r.Identifier, &r.SourceAddress, &r.ClientSignature, &r.Success, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return out, nil
}

// CountFailures returns failures at or after since that follow the most
// recent success.
func (p *PostgresLog) CountFailures(ctx context.Context, accountID string, since time.Time) (int, error) {
	var n int64
	if err := p.db.QueryRow(ctx, countFailuresSQL, accountID, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(n), nil
}

// Prune deletes records older than before.
func (p *PostgresLog) Prune(ctx context.Context, before time.Time) (int, error) {
	tag, err := p.db.Exec(ctx, pruneSQL, before)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}
