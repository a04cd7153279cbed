package jwtkeys

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/internal"
	"github.com/velodyn/authguard/internal/audit"
)

// Channel is the pub/sub channel rotations are announced on.
const Channel = "jwt:key:updates"

// KeyStatus is the lifecycle state of a signing key.
type KeyStatus string

const (
	// StatusActive marks the single key used to sign new tokens.
	StatusActive KeyStatus = "active"
	// StatusRotating marks a demoted key still valid for verification
	// during the grace period.
	StatusRotating KeyStatus = "rotating"
	// StatusRevoked marks a key no longer valid for anything; retained
	// for audit lookback until purged.
	StatusRevoked KeyStatus = "revoked"
)

var (
	// ErrKeyNotFound indicates the key id is unknown.
	ErrKeyNotFound = errors.New("signing key not found")
	// ErrNoActiveKey indicates the registry holds no active signing key.
	ErrNoActiveKey = errors.New("no active signing key")
	// ErrActiveKeyRevocation indicates an attempt to revoke the current
	// active signing key. Rotate first.
	ErrActiveKeyRevocation = errors.New("cannot revoke the active signing key")
	// ErrStoreUnavailable indicates the coordination store could not be reached.
	ErrStoreUnavailable = errors.New("key store unavailable")
)

// Config holds rotation, encryption, and storage parameters.
type Config struct {
	RotationInterval time.Duration // active key age that triggers rotation, default 30d
	GracePeriod      time.Duration // verify-only window after demotion, default 7d
	MaxActiveKeys    int           // cap on non-revoked keys, default 3
	CheckInterval    time.Duration // scheduler tick, default 1h

	Passphrase       string // key-encryption passphrase; required
	PBKDF2Iterations int    // default 100000
	SaltLength       int    // default 32
	IVLength         int    // default 16
	TagLength        int    // default 16

	KeyPrefix    string        // default "jwt:keys"
	RetentionTTL time.Duration // revoked key retention before purge, default 45d
	LockTTL      time.Duration // rotation lock TTL, default 30s

	SecretLength int // random signing secret bytes, default 64
}

// SigningKey is a decrypted key record.
type SigningKey struct {
	ID        string    `json:"id"`
	Algorithm string    `json:"algorithm"`
	Secret    string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
	Status    KeyStatus `json:"status"`
}

// storedKey is the at-rest form: the secret stays encrypted.
type storedKey struct {
	ID              string    `json:"id"`
	Algorithm       string    `json:"algorithm"`
	EncryptedSecret string    `json:"secret"`
	CreatedAt       time.Time `json:"createdAt"`
	ExpiresAt       time.Time `json:"expiresAt"`
	Status          KeyStatus `json:"status"`
}

// RotationResult reports what a rotation attempt did.
type RotationResult struct {
	Rotated       bool      `json:"rotated"`
	NewKeyID      string    `json:"newKeyId,omitempty"`
	PreviousKeyID string    `json:"previousKeyId,omitempty"`
	ExpiresAt     time.Time `json:"expiresAt,omitzero"`
	Reason        string    `json:"reason,omitempty"`
}

// Registry maintains the signing key set in Redis.
type Registry struct {
	redis  redis.UniversalClient
	cfg    Config
	cipher *keyCipher
	sink   audit.Sink
	logger *slog.Logger
	now    func() time.Time
}

// New creates a key Registry. sink and logger may be nil.
func New(redisClient redis.UniversalClient, cfg Config, sink audit.Sink, logger *slog.Logger) *Registry {
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "jwt:keys"
	}
	if cfg.MaxActiveKeys <= 0 {
		cfg.MaxActiveKeys = 3
	}
	if cfg.SecretLength <= 0 {
		cfg.SecretLength = 64
	}
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		redis:  redisClient,
		cfg:    cfg,
		cipher: newKeyCipher(cfg.Passphrase, cfg.PBKDF2Iterations, cfg.SaltLength, cfg.IVLength, cfg.TagLength),
		sink:   sink,
		logger: logger,
		now:    time.Now,
	}
}

func (r *Registry) allKey() string     { return r.cfg.KeyPrefix + ":all" }
func (r *Registry) activeKey() string  { return r.cfg.KeyPrefix + ":active_signing_key_id" }
func (r *Registry) revokedKey() string { return r.cfg.KeyPrefix + ":revoked" }
func (r *Registry) lockKey() string    { return r.cfg.KeyPrefix + ":rotation:lock" }

// GetAllKeys returns every stored key, secrets decrypted, oldest first.
func (r *Registry) GetAllKeys(ctx context.Context) ([]SigningKey, error) {
	records, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}

	keys := make([]SigningKey, 0, len(records))
	for _, record := range records {
		key, err := r.decode(record)
		if err != nil {
			r.logger.Warn("undecodable signing key skipped", "key_id", record.ID, "error", err)
			continue
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].CreatedAt.Before(keys[j].CreatedAt) })
	return keys, nil
}

// GetCurrentSigningKeyID returns the id of the active signing key.
func (r *Registry) GetCurrentSigningKeyID(ctx context.Context) (string, error) {
	id, err := r.redis.Get(ctx, r.activeKey()).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", ErrNoActiveKey
		}
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return id, nil
}

// GetKeyByID returns one key, secret decrypted.
func (r *Registry) GetKeyByID(ctx context.Context, id string) (*SigningKey, error) {
	raw, err := r.redis.HGet(ctx, r.allKey(), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record storedKey
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, err
	}
	key, err := r.decode(record)
	if err != nil {
		return nil, err
	}
	return &key, nil
}

// VerificationKeys returns id → secret for every key a verifier should
// accept: status active or rotating (grace period).
func (r *Registry) VerificationKeys(ctx context.Context) (map[string][]byte, error) {
	keys, err := r.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}

	out := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if key.Status == StatusActive || key.Status == StatusRotating {
			out[key.ID] = []byte(key.Secret)
		}
	}
	return out, nil
}

// CheckAndRotate rotates only when the active key's age has reached the
// rotation interval. Called by the scheduler; safe to call concurrently
// from multiple instances.
func (r *Registry) CheckAndRotate(ctx context.Context) (*RotationResult, error) {
	id, err := r.GetCurrentSigningKeyID(ctx)
	if err != nil {
		if errors.Is(err, ErrNoActiveKey) {
			// Bootstrap: no key yet, create the first one.
			return r.Rotate(ctx, true)
		}
		return nil, err
	}

	key, err := r.GetKeyByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.now().Sub(key.CreatedAt) < r.cfg.RotationInterval {
		return &RotationResult{Rotated: false, Reason: "active key within rotation interval"}, nil
	}
	return r.Rotate(ctx, false)
}

// Rotate generates a new active key under the distributed rotation lock.
// A failed lock acquisition means another instance is rotating; that is
// reported as a successful no-op. The create + demote + promote group is
// applied in one MULTI/EXEC so a crash cannot leave two active keys.
func (r *Registry) Rotate(ctx context.Context, force bool) (*RotationResult, error) {
	lock, acquired, err := r.acquireRotationLock(ctx)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &RotationResult{Rotated: false, Reason: "rotation already in progress"}, nil
	}
	defer lock.release(ctx)

	// Re-check under the lock: the other contender may have rotated
	// between our staleness check and lock acquisition.
	records, err := r.loadAll(ctx)
	if err != nil {
		return nil, err
	}
	activeID, err := r.redis.Get(ctx, r.activeKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := r.now().UTC()
	var previous *storedKey
	if activeID != "" {
		if record, ok := records[activeID]; ok {
			if !force && now.Sub(record.CreatedAt) < r.cfg.RotationInterval {
				return &RotationResult{Rotated: false, Reason: "active key within rotation interval"}, nil
			}
			previous = &record
		}
	}

	secret, err := internal.NewHexToken(r.cfg.SecretLength)
	if err != nil {
		return nil, err
	}
	encrypted, err := r.cipher.encrypt(secret)
	if err != nil {
		return nil, err
	}

	newKey := storedKey{
		ID:              uuid.NewString(),
		Algorithm:       "HS256",
		EncryptedSecret: encrypted,
		CreatedAt:       now,
		ExpiresAt:       now.Add(r.cfg.RotationInterval + r.cfg.GracePeriod),
		Status:          StatusActive,
	}

	updates := map[string]storedKey{newKey.ID: newKey}
	if previous != nil {
		demoted := *previous
		demoted.Status = StatusRotating
		demoted.ExpiresAt = now.Add(r.cfg.GracePeriod)
		updates[demoted.ID] = demoted
		records[demoted.ID] = demoted
	}
	records[newKey.ID] = newKey

	revoked := capNonRevoked(records, r.cfg.MaxActiveKeys)
	for _, id := range revoked {
		record := records[id]
		record.Status = StatusRevoked
		updates[id] = record
		records[id] = record
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for id, record := range updates {
			payload, err := json.Marshal(record)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, r.allKey(), id, payload)
		}
		pipe.Set(ctx, r.activeKey(), newKey.ID, 0)
		for _, id := range revoked {
			pipe.HSet(ctx, r.revokedKey(), id, strconv.FormatInt(now.Unix(), 10))
		}
		pipe.Publish(ctx, Channel, newKey.ID)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	result := &RotationResult{Rotated: true, NewKeyID: newKey.ID, ExpiresAt: newKey.ExpiresAt}
	if previous != nil {
		result.PreviousKeyID = previous.ID
	}

	r.sink.Emit(ctx, audit.Event{
		Timestamp: now,
		EventType: audit.EventKeyRotated,
		KeyID:     newKey.ID,
		Success:   true,
		Metadata:  map[string]string{"previous": result.PreviousKeyID, "forced": strconv.FormatBool(force)},
	})
	return result, nil
}

// Revoke marks a key revoked. Revoking the active signing key is an
// invariant violation, not a convenience check: verification sets are
// derived from status, and the signer must always have a usable key.
func (r *Registry) Revoke(ctx context.Context, id string) error {
	activeID, err := r.GetCurrentSigningKeyID(ctx)
	if err != nil && !errors.Is(err, ErrNoActiveKey) {
		return err
	}
	if id == activeID {
		return ErrActiveKeyRevocation
	}

	raw, err := r.redis.HGet(ctx, r.allKey(), id).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrKeyNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var record storedKey
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return err
	}
	record.Status = StatusRevoked

	now := r.now().UTC()
	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		payload, err := json.Marshal(record)
		if err != nil {
			return err
		}
		pipe.HSet(ctx, r.allKey(), id, payload)
		pipe.HSet(ctx, r.revokedKey(), id, strconv.FormatInt(now.Unix(), 10))
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	r.sink.Emit(ctx, audit.Event{
		Timestamp: now,
		EventType: audit.EventKeyRevoked,
		KeyID:     id,
		Success:   true,
	})
	return nil
}

// PurgeExpired physically deletes revoked keys older than the retention
// TTL and returns how many were removed. Called from the scheduler sweep.
func (r *Registry) PurgeExpired(ctx context.Context) (int, error) {
	entries, err := r.redis.HGetAll(ctx, r.revokedKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	cutoff := r.now().Add(-r.cfg.RetentionTTL).Unix()
	var purge []string
	for id, revokedAt := range entries {
		ts, err := strconv.ParseInt(revokedAt, 10, 64)
		if err != nil || ts <= cutoff {
			purge = append(purge, id)
		}
	}
	if len(purge) == 0 {
		return 0, nil
	}

	_, err = r.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, r.allKey(), purge...)
		pipe.HDel(ctx, r.revokedKey(), purge...)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return len(purge), nil
}

func (r *Registry) loadAll(ctx context.Context) (map[string]storedKey, error) {
	raw, err := r.redis.HGetAll(ctx, r.allKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	records := make(map[string]storedKey, len(raw))
	for id, value := range raw {
		var record storedKey
		if err := json.Unmarshal([]byte(value), &record); err != nil {
			r.logger.Warn("unparseable signing key record skipped", "key_id", id, "error", err)
			continue
		}
		records[id] = record
	}
	return records, nil
}

func (r *Registry) decode(record storedKey) (SigningKey, error) {
	secret, err := r.cipher.decrypt(record.EncryptedSecret)
	if err != nil {
		return SigningKey{}, err
	}
	return SigningKey{
		ID:        record.ID,
		Algorithm: record.Algorithm,
		Secret:    secret,
		CreatedAt: record.CreatedAt,
		ExpiresAt: record.ExpiresAt,
		Status:    record.Status,
	}, nil
}

// capNonRevoked returns the ids to revoke so that at most max non-revoked
// keys remain, oldest first.
func capNonRevoked(records map[string]storedKey, max int) []string {
	var live []storedKey
	for _, record := range records {
		if record.Status != StatusRevoked {
			live = append(live, record)
		}
	}
	if len(live) <= max {
		return nil
	}

	sort.Slice(live, func(i, j int) bool { return live[i].CreatedAt.Before(live[j].CreatedAt) })
	var out []string
	for _, record := range live[:len(live)-max] {
		out = append(out, record.ID)
	}
	return out
}
