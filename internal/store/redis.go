// redis.go -- go-redis client and the password recovery session store.
//
// Recovery state is short-lived and lives only in Redis:
//
//	password_reset:session:{recovery_id} -> user id
//	password_reset:code:{recovery_id}    -> argon2id hash of the 6-digit code
//	password_reset:token:{reset_token}   -> user id
//
// Every key carries a TTL; nothing here is durable.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to Redis and pings it before returning.
// All Redis-backed structs share the returned client (one connection pool).
// Call once at startup from main.go.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, err
	}
	return rdb, nil
}

func sessionKey(recoveryID string) string { return "password_reset:session:" + recoveryID }
func codeKey(recoveryID string) string    { return "password_reset:code:" + recoveryID }
func tokenKey(resetToken string) string   { return "password_reset:token:" + resetToken }

// promoteScript swaps a verified recovery session for a reset token.
// KEYS[1] = code key, KEYS[2] = session key, KEYS[3] = reset token key.
// ARGV[1] = code hash the caller verified against, ARGV[2] = token TTL in ms.
// Succeeds only if the code key still holds ARGV[1] and the session still exists;
// returns the user id, or nil when the session was already consumed or expired.
var promoteScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) ~= ARGV[1] then
	return false
end
local uid = redis.call('GET', KEYS[2])
if not uid then
	return false
end
redis.call('DEL', KEYS[1], KEYS[2])
redis.call('SET', KEYS[3], uid, 'PX', ARGV[2])
return uid
`)

// RecoveryStore holds forgot-password sessions and reset tokens.
type RecoveryStore struct {
	rdb *redis.Client
}

// NewRecoveryStore wraps a shared Redis client.
func NewRecoveryStore(rdb *redis.Client) *RecoveryStore {
	return &RecoveryStore{rdb: rdb}
}

// CheckHealth pings Redis.
func (s *RecoveryStore) CheckHealth(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

// CreateRecoverySession stores the session and code hash under recoveryID, both with ttl.
// Written in one MULTI so a reader never sees a session without its code.
func (s *RecoveryStore) CreateRecoverySession(ctx context.Context, recoveryID string, userID uuid.UUID, codeHash string, ttl time.Duration) error {
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, sessionKey(recoveryID), userID.String(), ttl)
	pipe.Set(ctx, codeKey(recoveryID), codeHash, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("storing recovery session: %w", err)
	}
	return nil
}

// GetRecoveryCode returns the code hash for recoveryID.
// Returns ErrCacheMiss if the session expired, was consumed, or never existed.
func (s *RecoveryStore) GetRecoveryCode(ctx context.Context, recoveryID string) (string, error) {
	hash, err := s.rdb.Get(ctx, codeKey(recoveryID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrCacheMiss
	}
	if err != nil {
		return "", fmt.Errorf("fetching recovery code: %w", err)
	}
	return hash, nil
}

// PromoteRecoverySession atomically deletes the session for recoveryID and issues resetToken.
// codeHash must be the value returned by GetRecoveryCode that the caller verified;
// of two concurrent callers with the same session, only one gets a user id back.
// Returns ErrCacheMiss if the session is gone or its code changed.
func (s *RecoveryStore) PromoteRecoverySession(ctx context.Context, recoveryID, codeHash, resetToken string, ttl time.Duration) (uuid.UUID, error) {
	raw, err := promoteScript.Run(ctx, s.rdb,
		[]string{codeKey(recoveryID), sessionKey(recoveryID), tokenKey(resetToken)},
		codeHash, ttl.Milliseconds(),
	).Text()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrCacheMiss
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("promoting recovery session: %w", err)
	}
	return parseUserID(raw)
}

// ConsumeResetToken returns the user id bound to resetToken and deletes it in the same command.
// Returns ErrCacheMiss if the token is unknown, expired, or already used.
func (s *RecoveryStore) ConsumeResetToken(ctx context.Context, resetToken string) (uuid.UUID, error) {
	raw, err := s.rdb.GetDel(ctx, tokenKey(resetToken)).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrCacheMiss
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("consuming reset token: %w", err)
	}
	return parseUserID(raw)
}

func parseUserID(raw string) (uuid.UUID, error) {
	id, err := uuid.FromString(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("parsing cached user id: %w", err)
	}
	return id, nil
}
