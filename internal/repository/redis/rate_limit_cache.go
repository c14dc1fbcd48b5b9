package redis

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/trollofun/uitdeitp/internal/bucketing"
	"github.com/trollofun/uitdeitp/internal/client"
	"github.com/trollofun/uitdeitp/internal/util"
)

const (
	ipRateLimitPrefix    = "ip_rate_limit"
	phoneRateLimitPrefix = "phone_rate_limit"
)

// RateLimitCache backs the request limiter with shared atomic counters so
// budgets hold across service instances. It also carries the phone-scoped
// code budget (max N codes per hour per phone). Keys are namespaced into a
// fixed set of shards so counters spread across cluster slots.
type RateLimitCache struct {
	client       *client.RedisClient
	bucketingMgr *bucketing.BucketingManager
}

func NewRateLimitCache(client *client.RedisClient, bucketingMgr *bucketing.BucketingManager) *RateLimitCache {
	return &RateLimitCache{client: client, bucketingMgr: bucketingMgr}
}

func (c *RateLimitCache) shardedKey(prefix, identifier string) string {
	bucket := c.bucketingMgr.GetRateLimitBucket(identifier)
	return bucketing.BucketKey(prefix, bucket) + ":" + identifier
}

// Increment implements ratelimit.Store on top of Redis INCR+EXPIRE.
func (c *RateLimitCache) Increment(ctx context.Context, key string, window time.Duration) (int, time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rateLimitKey := c.shardedKey(ipRateLimitPrefix, key)

	count, err := c.client.IncrWithExpire(ctx, rateLimitKey, window)
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("key", key),
			zap.Error(err))
		return 0, time.Time{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	ttl, err := c.client.TTL(ctx, rateLimitKey)
	if err != nil || ttl < 0 {
		ttl = window
	}

	util.Debug("Rate limit counter incremented",
		zap.String("key", key),
		zap.Int64("count", count))

	return int(count), time.Now().Add(ttl), nil
}

// IncrementPhoneCounter consumes one unit of a phone's hourly code budget
// and returns the resulting count.
func (c *RateLimitCache) IncrementPhoneCounter(ctx context.Context, phoneHash string, window time.Duration) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	key := c.shardedKey(phoneRateLimitPrefix, phoneHash)

	count, err := c.client.IncrWithExpire(ctx, key, window)
	if err != nil {
		util.Error("Failed to increment phone rate limit counter",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return 0, fmt.Errorf("failed to increment phone rate limit counter: %w", err)
	}

	return int(count), nil
}

// ResetPhoneCounter clears a phone's code budget. Admin/test use.
func (c *RateLimitCache) ResetPhoneCounter(ctx context.Context, phoneHash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := c.client.Del(ctx, c.shardedKey(phoneRateLimitPrefix, phoneHash)); err != nil {
		util.Error("Failed to reset phone rate limit counter",
			zap.String("phone_hash", phoneHash),
			zap.Error(err))
		return fmt.Errorf("failed to reset phone rate limit counter: %w", err)
	}

	util.Debug("Phone rate limit counter reset",
		zap.String("phone_hash", phoneHash))

	return nil
}
