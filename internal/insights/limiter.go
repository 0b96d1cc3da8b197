package insights

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"golang.org/x/time/rate"
)

// AnonymousUser is the usage key for requests without a user.
const AnonymousUser = "anon"

// Limits bounds how often narratives are generated. Zero disables a limit.
type Limits struct {
	DailyLimit int
	PerMinute  int
	Cooldown   time.Duration
}

func DefaultLimits() Limits {
	return Limits{DailyLimit: 50, PerMinute: 5, Cooldown: 10 * time.Second}
}

// LimitError tells which limit was hit and when to retry.
type LimitError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("insights: rate limited (%s), retry after %s", e.Reason, e.RetryAfter.Round(time.Second))
}

// Is makes errors.Is(err, ErrRateLimited) hold for every LimitError.
func (e *LimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Limiter enforces a cooldown and a per-minute rate in memory, and a daily cap
// backed by a UsageStore. Limits apply per company and user.
// It is safe for concurrent use.
type Limiter struct {
	limits Limits
	usage  UsageStore
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*rate.Limiter
	last    map[string]time.Time
}

// NewLimiter creates a Limiter. usage may be nil to skip the daily cap.
func NewLimiter(limits Limits, usage UsageStore) *Limiter {
	return &Limiter{
		limits:  limits,
		usage:   usage,
		now:     time.Now,
		buckets: make(map[string]*rate.Limiter),
		last:    make(map[string]time.Time),
	}
}

// Allow returns a *LimitError when a new narrative may not be generated now.
// A per-minute token is consumed only when every other check passes.
func (l *Limiter) Allow(ctx context.Context, companyID, userID string) error {
	userID = userKey(userID)
	key := companyID + ":" + userID
	now := l.now()

	if l.limits.Cooldown > 0 {
		l.mu.Lock()
		last, ok := l.last[key]
		l.mu.Unlock()
		if ok {
			if wait := l.limits.Cooldown - now.Sub(last); wait > 0 {
				return &LimitError{Reason: "cooldown", RetryAfter: wait}
			}
		}
	}

	if l.limits.DailyLimit > 0 && l.usage != nil {
		today := civil.DateOf(now.UTC())
		n, err := l.usage.Count(ctx, companyID, userID, today)
		if err != nil {
			return fmt.Errorf("Allow: reading usage: %w", err)
		}
		if n >= int64(l.limits.DailyLimit) {
			midnight := today.AddDays(1).In(time.UTC)
			return &LimitError{Reason: "daily limit", RetryAfter: midnight.Sub(now)}
		}
	}

	if l.limits.PerMinute > 0 {
		if !l.bucket(key).AllowN(now, 1) {
			return &LimitError{Reason: "per-minute limit", RetryAfter: time.Minute / time.Duration(l.limits.PerMinute)}
		}
	}

	return nil
}

// Record notes a generated narrative: it starts the cooldown and bumps the
// daily counter.
func (l *Limiter) Record(ctx context.Context, companyID, userID string) error {
	userID = userKey(userID)
	now := l.now()

	l.mu.Lock()
	l.last[companyID+":"+userID] = now
	l.mu.Unlock()

	if l.usage == nil {
		return nil
	}
	if err := l.usage.Increment(ctx, companyID, userID, civil.DateOf(now.UTC())); err != nil {
		return fmt.Errorf("Record: incrementing usage: %w", err)
	}
	return nil
}

func (l *Limiter) bucket(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		b = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.limits.PerMinute)), l.limits.PerMinute)
		l.buckets[key] = b
	}
	return b
}

func userKey(userID string) string {
	if userID == "" {
		return AnonymousUser
	}
	return userID
}
