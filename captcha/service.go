package captcha

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/internal"
)

const (
	challengePrefix = "captcha:"
	tokenPrefix     = "captcha:token:"
	hourlyPrefix    = "captcha_stats:hourly:"
	dailyPrefix     = "captcha_stats:daily:"

	hourlyFormat = "2006-01-02-15"
	dailyFormat  = "2006-01-02"
)

// Stat event names used in the captcha_stats keyspace.
const (
	statGenerated = "generated"
	statSolved    = "solved"
	statFailed    = "failed"
	statExpired   = "expired"
)

var (
	// ErrStoreUnavailable indicates the coordination store could not be reached.
	ErrStoreUnavailable = errors.New("captcha store unavailable")
)

// Config holds the challenge and bypass-token lifetimes.
type Config struct {
	ChallengeTTL       time.Duration // default 5m
	TokenTTL           time.Duration // default 5m
	UsedTokenRetention time.Duration // audit window after a token is spent, default 1m
	HourlyStatsTTL     time.Duration // default 7d
	DailyStatsTTL      time.Duration // default 30d
}

// Challenge is returned to the caller; the answer stays server-side.
type Challenge struct {
	ChallengeID string `json:"challengeId"`
	Question    string `json:"question"`
	Type        string `json:"type"`
}

// ValidationResult reports the outcome of a challenge validation.
type ValidationResult struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message"`
}

// Statistics summarizes one day of captcha activity.
type Statistics struct {
	Date      string  `json:"date"`
	Generated int64   `json:"generated"`
	Solved    int64   `json:"solved"`
	Failed    int64   `json:"failed"`
	Expired   int64   `json:"expired"`
	SolveRate float64 `json:"solveRate"`
}

type bypassToken struct {
	IP        string    `json:"ip"`
	Timestamp time.Time `json:"timestamp"`
	Used      bool      `json:"used"`
}

// Service generates and validates one-time math challenges and the
// post-solve bypass tokens.
type Service struct {
	redis redis.UniversalClient
	cfg   Config
	now   func() time.Time
}

// New creates a captcha Service backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Service {
	return &Service{redis: redisClient, cfg: cfg, now: time.Now}
}

// GenerateChallenge creates a math challenge with operands 1–10 and stores
// its answer under the challenge id for ChallengeTTL.
func (s *Service) GenerateChallenge(ctx context.Context) (*Challenge, error) {
	a, err := internal.RandInt(1, 10)
	if err != nil {
		return nil, err
	}
	b, err := internal.RandInt(1, 10)
	if err != nil {
		return nil, err
	}
	op, err := internal.RandInt(0, 2)
	if err != nil {
		return nil, err
	}

	var symbol string
	var answer int
	switch op {
	case 0:
		symbol, answer = "+", a+b
	case 1:
		// keep answers non-negative
		if b > a {
			a, b = b, a
		}
		symbol, answer = "-", a-b
	default:
		symbol, answer = "*", a*b
	}

	id := uuid.NewString()
	if err := s.redis.Set(ctx, challengePrefix+id, strconv.Itoa(answer), s.cfg.ChallengeTTL).Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	s.recordStat(ctx, statGenerated)

	return &Challenge{
		ChallengeID: id,
		Question:    fmt.Sprintf("What is %d %s %d?", a, symbol, b),
		Type:        "math",
	}, nil
}

// ValidateResponse checks the response against the stored answer. The
// stored answer is deleted before comparison, enforcing single use: a
// second validation of the same challenge reports expired regardless of
// correctness.
func (s *Service) ValidateResponse(ctx context.Context, challengeID, response string) (ValidationResult, error) {
	answer, err := s.redis.Get(ctx, challengePrefix+challengeID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			s.recordStat(ctx, statExpired)
			return ValidationResult{Valid: false, Message: "Captcha expired or not found"}, nil
		}
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	// Consume before comparing. The concurrent loser of this GET/DEL race
	// sees redis.Nil above and reports expired.
	if err := s.redis.Del(ctx, challengePrefix+challengeID).Err(); err != nil {
		return ValidationResult{}, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	if strings.EqualFold(strings.TrimSpace(response), answer) {
		s.recordStat(ctx, statSolved)
		return ValidationResult{Valid: true, Message: "Captcha solved"}, nil
	}

	s.recordStat(ctx, statFailed)
	return ValidationResult{Valid: false, Message: "Incorrect captcha response"}, nil
}

// GenerateToken issues a one-time bypass token bound to the solving IP.
func (s *Service) GenerateToken(ctx context.Context, ip string) (string, error) {
	token, err := internal.NewHexToken(32)
	if err != nil {
		return "", err
	}

	payload, err := json.Marshal(bypassToken{IP: ip, Timestamp: s.now().UTC()})
	if err != nil {
		return "", err
	}
	if err := s.redis.Set(ctx, tokenPrefix+token, payload, s.cfg.TokenTTL).Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return token, nil
}

// VerifyToken redeems a bypass token. Verification requires the issuing IP
// and an unspent token; on success the token is marked used and its TTL
// shortened to the audit retention window instead of being deleted.
func (s *Service) VerifyToken(ctx context.Context, token, ip string) (bool, error) {
	raw, err := s.redis.Get(ctx, tokenPrefix+token).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record bypassToken
	if err := json.Unmarshal(raw, &record); err != nil {
		return false, nil
	}
	if record.Used || record.IP != ip {
		return false, nil
	}

	record.Used = true
	payload, err := json.Marshal(record)
	if err != nil {
		return false, err
	}
	if err := s.redis.Set(ctx, tokenPrefix+token, payload, s.cfg.UsedTokenRetention).Err(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return true, nil
}

// Stats returns the daily counters for the given date ("2006-01-02");
// an empty date means today.
func (s *Service) Stats(ctx context.Context, date string) (*Statistics, error) {
	if date == "" {
		date = s.now().UTC().Format(dailyFormat)
	}

	stats := &Statistics{Date: date}
	for _, entry := range []struct {
		name string
		dst  *int64
	}{
		{statGenerated, &stats.Generated},
		{statSolved, &stats.Solved},
		{statFailed, &stats.Failed},
		{statExpired, &stats.Expired},
	} {
		count, err := s.redis.Get(ctx, dailyPrefix+entry.name+":"+date).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		*entry.dst = count
	}

	if total := stats.Solved + stats.Failed; total > 0 {
		stats.SolveRate = float64(stats.Solved) / float64(total)
	}
	return stats, nil
}

// recordStat bumps the hourly and daily counters for the event. Stats are
// best-effort: a store error here never fails the caller's operation.
func (s *Service) recordStat(ctx context.Context, event string) {
	now := s.now().UTC()
	hourlyKey := hourlyPrefix + event + ":" + now.Format(hourlyFormat)
	dailyKey := dailyPrefix + event + ":" + now.Format(dailyFormat)

	_, _ = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, hourlyKey)
		pipe.Expire(ctx, hourlyKey, s.cfg.HourlyStatsTTL)
		pipe.Incr(ctx, dailyKey)
		pipe.Expire(ctx, dailyKey, s.cfg.DailyStatsTTL)
		return nil
	})
}
