package refresh

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/MrEthical07/authguard/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const minTokenTTL = time.Second

// Shared by issue and rotate. KEYS[1] is the account index, KEYS[2] the new
// token; ARGV is prefix, hash, id, account, iat, exp, ttl.
const replaceChunk = `
local account_key = KEYS[1]
local token_key = KEYS[2]

local members = redis.call("SMEMBERS", account_key)
for _, h in ipairs(members) do
  local k = ARGV[1] .. h
  if redis.call("EXISTS", k) == 1 then
    redis.call("HSET", k, "revoked", "1")
  else
    redis.call("SREM", account_key, h)
  end
end

redis.call("HSET", token_key, "id", ARGV[3], "account", ARGV[4], "iat", ARGV[5], "exp", ARGV[6], "revoked", "0")
redis.call("PEXPIRE", token_key, ARGV[7])
redis.call("SADD", account_key, ARGV[2])
return 1
`

var issueLua = redis.NewScript(replaceChunk)

// KEYS[3] is the presented token and ARGV[8] the current time in ms. The
// replace only runs when that token is still active for the same account.
var rotateLua = redis.NewScript(`
local old = redis.call("HMGET", KEYS[3], "account", "exp", "revoked")
if old[1] ~= ARGV[4] or old[3] ~= "0" or tonumber(old[2]) <= tonumber(ARGV[8]) then
  return 0
end
` + replaceChunk)

const revokeScript = `
local token_key = KEYS[1]
local now_ms = tonumber(ARGV[1])

if redis.call("EXISTS", token_key) == 0 then
  return 0
end
local fields = redis.call("HMGET", token_key, "revoked", "exp")
if fields[1] ~= "0" or tonumber(fields[2]) <= now_ms then
  return 0
end
redis.call("HSET", token_key, "revoked", "1")
return 1
`

var revokeLua = redis.NewScript(revokeScript)

const revokeAccountScript = `
local account_key = KEYS[1]
local token_prefix = ARGV[1]
local now_ms = tonumber(ARGV[2])

local revoked = 0
local members = redis.call("SMEMBERS", account_key)
for _, h in ipairs(members) do
  local k = token_prefix .. h
  local fields = redis.call("HMGET", k, "revoked", "exp")
  if fields[1] == "0" and tonumber(fields[2]) > now_ms then
    redis.call("HSET", k, "revoked", "1")
    revoked = revoked + 1
  elseif not fields[2] then
    redis.call("SREM", account_key, h)
  end
end
return revoked
`

var revokeAccountLua = redis.NewScript(revokeAccountScript)

const sweepAccountScript = `
local account_key = KEYS[1]
local token_prefix = ARGV[1]
local now_ms = tonumber(ARGV[2])

local removed = 0
local members = redis.call("SMEMBERS", account_key)
for _, h in ipairs(members) do
  local k = token_prefix .. h
  local exp = redis.call("HGET", k, "exp")
  if not exp then
    redis.call("SREM", account_key, h)
  elseif tonumber(exp) <= now_ms then
    redis.call("DEL", k)
    redis.call("SREM", account_key, h)
    removed = removed + 1
  end
end
return removed
`

var sweepAccountLua = redis.NewScript(sweepAccountScript)

// RedisStore is a go-redis backed [Store].
//
// Each token is a hash at <prefix>:t:<sha256> carrying id, account, iat, exp
// (unix milliseconds) and revoked. <prefix>:a:<account> is a set of the
// account's token hashes. Rotation and revocation run as Lua scripts so a
// replayed token can never observe two active tokens for one account.
//
// Token keys also carry a Redis TTL matching exp, so SweepExpired mostly
// reconciles account indexes.
//
// The scripts touch token keys named at run time rather than through KEYS,
// so the store takes a single-node client (plain or Sentinel failover) and
// cannot run against Redis Cluster.
type RedisStore struct {
	redis     *redis.Client
	prefix    string
	clock     clock.Clock
	scanBatch int64
}

// NewRedisStore returns a RedisStore. An empty prefix defaults to "rt".
func NewRedisStore(client *redis.Client, prefix string, clk clock.Clock) *RedisStore {
	if prefix == "" {
		prefix = "rt"
	}
	return &RedisStore{redis: client, prefix: prefix, clock: clock.OrReal(clk), scanBatch: 256}
}

func (s *RedisStore) tokenPrefix() string { return s.prefix + ":t:" }

func (s *RedisStore) tokenKey(hash string) string { return s.tokenPrefix() + hash }

func (s *RedisStore) accountKey(accountID string) string { return s.prefix + ":a:" + accountID }

// Issue implements [Store].
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Issue(ctx context.Context, accountID, tokenValue string, expiresAt time.Time) (StoredToken, error) {
	tok, _, err := s.replace(ctx, issueLua, "", accountID, tokenValue, expiresAt)
	return tok, err
}

// Rotate implements [Store].
//
//	Performance: 1 EVALSHA.
func (s *RedisStore) Rotate(ctx context.Context, oldTokenValue, accountID, newTokenValue string, expiresAt time.Time) (StoredToken, bool, error) {
	return s.replace(ctx, rotateLua, oldTokenValue, accountID, newTokenValue, expiresAt)
}

func (s *RedisStore) replace(ctx context.Context, script *redis.Script, oldTokenValue, accountID, tokenValue string, expiresAt time.Time) (StoredToken, bool, error) {
	now := s.clock.Now()
	hash := HashToken(tokenValue)
	tok := StoredToken{
		ID:        uuid.NewString(),
		AccountID: accountID,
		TokenHash: hash,
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}

	ttl := expiresAt.Sub(now)
	if ttl < minTokenTTL {
		ttl = minTokenTTL
	}

	keys := []string{s.accountKey(accountID), s.tokenKey(hash)}
	if oldTokenValue != "" {
		keys = append(keys, s.tokenKey(HashToken(oldTokenValue)))
	}
	n, err := script.Run(ctx, s.redis, keys,
		s.tokenPrefix(),
		hash,
		tok.ID,
		accountID,
		now.UnixMilli(),
		expiresAt.UnixMilli(),
		ttl.Milliseconds(),
		now.UnixMilli(),
	).Int64()
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if n != 1 {
		return StoredToken{}, false, nil
	}
	return tok, true, nil
}

// GetValid implements [Store].
//
//	Performance: 1 HGETALL.
func (s *RedisStore) GetValid(ctx context.Context, tokenValue string) (StoredToken, bool, error) {
	hash := HashToken(tokenValue)
	fields, err := s.redis.HGetAll(ctx, s.tokenKey(hash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return StoredToken{}, false, nil
		}
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if len(fields) == 0 {
		return StoredToken{}, false, nil
	}

	tok, err := decodeTokenFields(hash, fields)
	if err != nil {
		return StoredToken{}, false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	if !tok.Valid(s.clock.Now()) {
		return StoredToken{}, false, nil
	}
	return tok, true, nil
}

// Revoke implements [Store].
func (s *RedisStore) Revoke(ctx context.Context, tokenValue string) (bool, error) {
	n, err := revokeLua.Run(ctx, s.redis,
		[]string{s.tokenKey(HashToken(tokenValue))},
		s.clock.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return n == 1, nil
}

// RevokeAllForAccount implements [Store].
func (s *RedisStore) RevokeAllForAccount(ctx context.Context, accountID string) (int, error) {
	n, err := revokeAccountLua.Run(ctx, s.redis,
		[]string{s.accountKey(accountID)},
		s.tokenPrefix(),
		s.clock.Now().UnixMilli(),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorage, err)
	}
	return int(n), nil
}

// SweepExpired implements [Store]. It walks account indexes with SCAN and runs
// one script per account, so no single call blocks Redis for the whole pass.
func (s *RedisStore) SweepExpired(ctx context.Context) (int, error) {
	now := s.clock.Now().UnixMilli()
	pattern := s.prefix + ":a:*"

	removed := 0
	var cursor uint64
	for {
		keys, next, err := s.redis.Scan(ctx, cursor, pattern, s.scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("%w: %v", ErrStorage, err)
		}
		for _, key := range keys {
			n, err := sweepAccountLua.Run(ctx, s.redis, []string{key}, s.tokenPrefix(), now).Int64()
			if err != nil {
				return removed, fmt.Errorf("%w: %v", ErrStorage, err)
			}
			removed += int(n)
		}
		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}

func decodeTokenFields(hash string, fields map[string]string) (StoredToken, error) {
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return StoredToken{}, fmt.Errorf("corrupt iat: %w", err)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return StoredToken{}, fmt.Errorf("corrupt exp: %w", err)
	}
	return StoredToken{
		ID:        fields["id"],
		AccountID: fields["account"],
		TokenHash: hash,
		IssuedAt:  time.UnixMilli(iat).UTC(),
		ExpiresAt: time.UnixMilli(exp).UTC(),
		Revoked:   fields["revoked"] != "0",
	}, nil
}
