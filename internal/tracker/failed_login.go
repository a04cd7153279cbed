package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/internal/limiters"
)

const (
	ipListPrefix    = "failed_login:ip:"
	emailListPrefix = "failed_login:email:"
	countPrefix     = "failed_login_count:"

	// maxListLength bounds each attempt list independently of TTL so a
	// sustained attack cannot grow a list without limit.
	maxListLength = 200
)

var (
	// ErrStoreUnavailable indicates the coordination store could not be reached.
	ErrStoreUnavailable = errors.New("failed-login store unavailable")
)

// Attempt is one recorded authentication failure. Immutable once written.
type Attempt struct {
	IP        string    `json:"ip"`
	Email     string    `json:"email,omitempty"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// Config holds the tracker window lengths, mirroring the rate tiers.
type Config struct {
	IPWindow    time.Duration
	EmailWindow time.Duration
}

// Tracker appends failure records and maintains the failure counters the
// lockout manager reads.
type Tracker struct {
	redis redis.UniversalClient
	cfg   Config
}

// New creates a Tracker backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Tracker {
	return &Tracker{redis: redisClient, cfg: cfg}
}

// Record appends the attempt to the per-IP list and, when the attempt
// carries an email, the per-email list, and increments both failure
// counters. List and counter TTLs equal the corresponding window.
func (t *Tracker) Record(ctx context.Context, attempt Attempt) error {
	if attempt.Timestamp.IsZero() {
		attempt.Timestamp = time.Now().UTC()
	}

	payload, err := json.Marshal(attempt)
	if err != nil {
		return err
	}

	_, err = t.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if attempt.IP != "" {
			pipe.LPush(ctx, ipListPrefix+attempt.IP, payload)
			pipe.LTrim(ctx, ipListPrefix+attempt.IP, 0, maxListLength-1)
			pipe.Expire(ctx, ipListPrefix+attempt.IP, t.cfg.IPWindow)
			pipe.Incr(ctx, countPrefix+attempt.IP)
			pipe.Expire(ctx, countPrefix+attempt.IP, t.cfg.IPWindow)
		}
		if attempt.Email != "" {
			pipe.LPush(ctx, emailListPrefix+attempt.Email, payload)
			pipe.LTrim(ctx, emailListPrefix+attempt.Email, 0, maxListLength-1)
			pipe.Expire(ctx, emailListPrefix+attempt.Email, t.cfg.EmailWindow)
			pipe.Incr(ctx, countPrefix+attempt.Email)
			pipe.Expire(ctx, countPrefix+attempt.Email, t.cfg.EmailWindow)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Attempts returns the identifier's failures inside the window, merged
// across the IP and email lists, deduplicated, newest first.
func (t *Tracker) Attempts(ctx context.Context, id string, window time.Duration) ([]Attempt, error) {
	cutoff := time.Now().Add(-window)

	var merged []Attempt
	for _, key := range []string{ipListPrefix + id, emailListPrefix + id} {
		raw, err := t.redis.LRange(ctx, key, 0, maxListLength-1).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		for _, item := range raw {
			var attempt Attempt
			if err := json.Unmarshal([]byte(item), &attempt); err != nil {
				continue // tolerate foreign entries rather than fail the read
			}
			if attempt.Timestamp.Before(cutoff) {
				continue
			}
			merged = append(merged, attempt)
		}
	}

	merged = dedupe(merged)
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp.After(merged[j].Timestamp)
	})
	return merged, nil
}

// FailureCount returns the identifier's failure counter. Missing counters
// read as zero.
func (t *Tracker) FailureCount(ctx context.Context, id string) (int, error) {
	count, err := t.redis.Get(ctx, countPrefix+id).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset deletes the identifier's attempt lists, failure counter, and its
// captcha-attempt counter. Called on successful authentication and on
// account unlock.
func (t *Tracker) Reset(ctx context.Context, id string) error {
	keys := []string{
		ipListPrefix + id,
		emailListPrefix + id,
		countPrefix + id,
		limiters.CaptchaPrefix + id,
	}
	if err := t.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// Blocked reports whether the identifier's failure count has reached the
// limit for its shape: email-looking identifiers compare against the
// per-email limit, everything else against the per-IP limit.
func (t *Tracker) Blocked(ctx context.Context, id string, ipLimit, emailLimit int) (bool, error) {
	count, err := t.FailureCount(ctx, id)
	if err != nil {
		return false, err
	}
	if looksLikeEmail(id) {
		return count >= emailLimit, nil
	}
	return count >= ipLimit, nil
}

func looksLikeEmail(id string) bool {
	at := strings.IndexByte(id, '@')
	return at > 0 && at < len(id)-1
}

func dedupe(attempts []Attempt) []Attempt {
	seen := make(map[string]struct{}, len(attempts))
	out := attempts[:0]
	for _, attempt := range attempts {
		key := attempt.IP + "|" + attempt.Email + "|" + attempt.Reason + "|" +
			attempt.Timestamp.UTC().Format(time.RFC3339Nano)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, attempt)
	}
	return out
}
