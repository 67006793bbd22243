package refresh

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/authguard/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB is the subset of *pgxpool.Pool used by the Postgres-backed stores.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is a pgx backed [Store] over a refresh_tokens table:
//
//	CREATE TABLE refresh_tokens (
//	    id          UUID PRIMARY KEY,
//	    account_id  TEXT NOT NULL,
//	    token_hash  TEXT NOT NULL UNIQUE,
//	    issued_at   TIMESTAMPTZ NOT NULL,
//	    expires_at  TIMESTAMPTZ NOT NULL,
//	    revoked     BOOLEAN NOT NULL DEFAULT FALSE
//	);
//	CREATE INDEX ON refresh_tokens (account_id) WHERE NOT revoked;
//
// Issue and Rotate revoke and insert in one transaction that first takes
// pg_advisory_xact_lock(hashtext(account_id)). Writers for one account commit
// one at a time, and each sees the rows the previous one inserted.
type PostgresStore struct {
	db    DB
	clock clock.Clock
}

// NewPostgresStore returns a PostgresStore using db.
func NewPostgresStore(db DB, clk clock.Clock) *PostgresStore {
	return &PostgresStore{db: db, clock: clock.OrReal(clk)}
}

const (
	lockAccountSQL            = `SELECT pg_advisory_xact_lock(hashtext($1))`
	redeemTokenSQL            = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND account_id = $2 AND NOT revoked AND expires_at > $3`
	revokeActiveForAccountSQL = `UPDATE refresh_tokens SET revoked = TRUE WHERE account_id = $1 AND NOT revoked`
	insertTokenSQL            = `INSERT INTO refresh_tokens (id, account_id, token_hash, issued_at, expires_at, revoked) VALUES ($1, $2, $3, $4, $5, FALSE)`
	selectTokenSQL            = `SELECT id, account_id, token_hash, issued_at, expires_at, revoked FROM refresh_tokens WHERE token_hash = $1`
	revokeTokenSQL            = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_hash = $1 AND NOT revoked AND expires_at > $2`
	revokeUnexpiredSQL        = `UPDATE refresh_tokens SET revoked = TRUE WHERE account_id = $1 AND NOT revoked AND expires_at > $2`
	deleteExpiredSQL          = `DELETE FROM refresh_tokens WHERE expires_at <= $1`
)

// Issue implements [Store].
func (s *PostgresStore) Issue(ctx context.Context, accountID, tokenValue string, expiresAt time.Time) (StoredToken, error) {
	tok, _, err := s.replace(ctx, "", accountID, tokenValue, expiresAt)
	return tok, err
}

// Rotate implements [Store].
func (s *PostgresStore) Rotate(ctx context.Context, oldTokenValue, accountID, newTokenValue string, expiresAt time.Time) (StoredToken, bool, error) {
	return s.replace(ctx, oldTokenValue, accountID, newTokenValue, expiresAt)
}

func (s *PostgresStore) replace(ctx context.Context, oldTokenValue, accountID, tokenValue string, expiresAt time.Time) (StoredToken, bool, error) {
	now := s.clock.Now()
	tok := StoredToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: HashToken(tokenValue),
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	fail := func(err error) (StoredToken, bool, error) {
		_ = tx.Rollback(ctx)
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}

	if _, err := tx.Exec(ctx, lockAccountSQL, accountID); err != nil {
		return fail(err)
	}
	if oldTokenValue != "" {
		tag, err := tx.Exec(ctx, redeemTokenSQL, HashToken(oldTokenValue), accountID, now)
		if err != nil {
			return fail(err)
		}
		if tag.RowsAffected() != 1 {
			_ = tx.Rollback(ctx)
			return StoredToken{}, false, nil
		}
	}
	if _, err := tx.Exec(ctx, revokeActiveForAccountSQL, accountID); err != nil {
		return fail(err)
	}
	if _, err := tx.Exec(ctx, insertTokenSQL, tok.ID, tok.AccountID, tok.TokenHash, tok.IssuedAt, tok.ExpiresAt); err != nil {
		return fail(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return tok, true, nil
}

// GetValid implements [Store].
func (s *PostgresStore) GetValid(ctx context.Context, tokenValue string) (StoredToken, bool, error) {
	var tok StoredToken
	err := s.db.QueryRow(ctx, selectTokenSQL, HashToken(tokenValue)).Scan(
		&tok.ID, &tok.AccountID, &tok.TokenHash, &tok.IssuedAt, &tok.ExpiresAt, &tok.Revoked,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !tok.Valid(s.clock.Now()) {
		return StoredToken{}, false, nil
	}
	return tok, true, nil
}

// Revoke implements [Store].
func (s *PostgresStore) Revoke(ctx context.Context, tokenValue string) (bool, error) {
	tag, err := s.db.Exec(ctx, revokeTokenSQL, HashToken(tokenValue), s.clock.Now())
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return tag.RowsAffected() == 1, nil
}

// RevokeAllForAccount implements [Store].
func (s *PostgresStore) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	tag, err := s.db.Exec(ctx, revokeUnexpiredSQL, accountID, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}

// SweepExpired implements [Store].
func (s *PostgresStore) SweepExpired(ctx context.Context) (int, error) {
	tag, err := s.db.Exec(ctx, deleteExpiredSQL, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}
