package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// rotateScript swaps one member of the allowlist set for another, but only
// if the old member is still present. Running it as a script keeps the
// remove-and-add atomic against concurrent rotate/revoke calls for the same
// identity, so a token revoked mid-rotation can never be resurrected.
var rotateScript = redis.NewScript(`
if redis.call("SREM", KEYS[1], ARGV[1]) == 1 then
	redis.call("SADD", KEYS[1], ARGV[2])
	redis.call("EXPIRE", KEYS[1], ARGV[3])
	return 1
end
return 0
`)

// AllowlistRepository stores each identity's currently-valid refresh tokens
// as a Redis set. A refresh token is usable exactly until it is removed from
// its owner's set; removal is immediate.
type AllowlistRepository struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewAllowlistRepository(client *redis.Client, logger *logrus.Logger) *AllowlistRepository {
	return &AllowlistRepository{
		client: client,
		logger: logger,
	}
}

func allowlistKey(userID string) string {
	return "allowlist:" + userID
}

// Add appends a refresh token to the identity's allowlist. The whole set
// expires with the longest-lived token in it.
func (r *AllowlistRepository) Add(ctx context.Context, userID, token string, ttl time.Duration) error {
	key := allowlistKey(userID)

	pipe := r.client.TxPipeline()
	pipe.SAdd(ctx, key, token)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.WithError(err).Error("Failed to store refresh token")
		return fmt.Errorf("failed to store refresh token: %w", err)
	}

	return nil
}

// Swap atomically replaces oldToken with newToken. It reports false when
// oldToken was not in the allowlist, which the caller must treat as
// reuse-after-rotation.
func (r *AllowlistRepository) Swap(ctx context.Context, userID, oldToken, newToken string, ttl time.Duration) (bool, error) {
	res, err := rotateScript.Run(ctx, r.client,
		[]string{allowlistKey(userID)},
		oldToken, newToken, int(ttl.Seconds()),
	).Int()
	if err != nil {
		r.logger.WithError(err).Error("Failed to rotate refresh token")
		return false, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return res == 1, nil
}

// Remove drops a single refresh token from the identity's allowlist. Removing
// a token that is already gone is not an error; last writer wins on logout.
func (r *AllowlistRepository) Remove(ctx context.Context, userID, token string) error {
	if err := r.client.SRem(ctx, allowlistKey(userID), token).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to revoke refresh token")
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	return nil
}

// Clear wipes the identity's whole allowlist, ending every session at once.
func (r *AllowlistRepository) Clear(ctx context.Context, userID string) error {
	if err := r.client.Del(ctx, allowlistKey(userID)).Err(); err != nil {
		r.logger.WithError(err).Error("Failed to clear refresh token allowlist")
		return fmt.Errorf("failed to clear allowlist: %w", err)
	}
	return nil
}

// Contains reports whether a refresh token is currently valid for the
// identity.
func (r *AllowlistRepository) Contains(ctx context.Context, userID, token string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, allowlistKey(userID), token).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check allowlist: %w", err)
	}
	return ok, nil
}
