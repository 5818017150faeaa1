package auth

import (
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Limiter holds one token bucket per key. The bucket holds a full hour of
// budget and refills at budget per hour. Evicted keys start over with a full
// bucket.
type Limiter struct {
	buckets *lru.Cache[string, *bucket]
}

type bucket struct {
	limiter *rate.Limiter
	perHour int
}

func newBucket(perHour int) *bucket {
	return &bucket{
		limiter: rate.NewLimiter(rate.Limit(float64(perHour)/3600), perHour),
		perHour: perHour,
	}
}

func NewLimiter(size int) (*Limiter, error) {
	cache, err := lru.New[string, *bucket](size)
	if err != nil {
		return nil, fmt.Errorf("create limiter cache: %w", err)
	}
	return &Limiter{buckets: cache}, nil
}

// Allow takes one token from the key's bucket. When the bucket is empty it
// reports how long until a token is available. perHour <= 0 means unlimited.
func (l *Limiter) Allow(keyID string, perHour int, now time.Time) (bool, time.Duration) {
	if perHour <= 0 {
		return true, 0
	}
	b, ok := l.buckets.Get(keyID)
	if !ok {
		fresh := newBucket(perHour)
		if prev, found, _ := l.buckets.PeekOrAdd(keyID, fresh); found {
			b = prev
		} else {
			b = fresh
		}
	}
	if b.perHour != perHour {
		// The key's budget was changed; start a new bucket at the new rate.
		b = newBucket(perHour)
		l.buckets.Add(keyID, b)
	}

	r := b.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Hour
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

// Len is the number of cached buckets.
func (l *Limiter) Len() int { return l.buckets.Len() }
