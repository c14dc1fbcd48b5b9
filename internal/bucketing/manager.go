package bucketing

import (
	"fmt"
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"github.com/trollofun/uitdeitp/internal/config"
)

// BucketingManager assigns stable partition buckets for hot Scylla rows:
// rate-limit counters spread across fixed buckets, and verification records
// grouped into time buckets so old partitions age out of the working set.
type BucketingManager struct {
	rateLimitBuckets int
	timeBucketWindow int
	hasherPool       sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		rateLimitBuckets: cfg.Bucketing.RateLimitBuckets,
		timeBucketWindow: cfg.Bucketing.TimeBucketWindow,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	bm.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return bm
}

// GetRateLimitBucket returns a consistent bucket (0..rateLimitBuckets-1) for
// a rate-limit identifier such as an IP or a phone number.
func (bm *BucketingManager) GetRateLimitBucket(identifier string) int {
	return bm.getBucket(identifier, bm.rateLimitBuckets)
}

// GetTimeBucket returns the start of the current time window as a unix
// timestamp, used to partition verification records by hour.
func (bm *BucketingManager) GetTimeBucket(at time.Time) int64 {
	window := int64(bm.timeBucketWindow)
	return at.Unix() / window * window
}

func (bm *BucketingManager) getBucket(identifier string, buckets int) int {
	if buckets <= 0 {
		return 0
	}

	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(identifier))

	return int(hasher.Sum64() % uint64(buckets))
}

// BucketKey renders a namespaced bucket key for logging and Redis keys.
func BucketKey(prefix string, bucket int) string {
	return fmt.Sprintf("%s:%d", prefix, bucket)
}
