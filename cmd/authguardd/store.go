package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/velodyn/authguard/lockout"
)

const (
	userKeyPrefix        = "user:email:"
	unlockTokenKeyPrefix = "user:unlock_token:"
)

// storedUser is the daemon's account record. The lockout fields mirror
// lockout.User; the password hash stays local to the daemon.
type storedUser struct {
	ID                     string     `json:"id"`
	Email                  string     `json:"email"`
	PasswordHash           string     `json:"passwordHash"`
	AccountLocked          bool       `json:"accountLocked"`
	AccountLockedAt        *time.Time `json:"accountLockedAt,omitempty"`
	AccountLockReason      string     `json:"accountLockReason,omitempty"`
	UnlockToken            string     `json:"unlockToken,omitempty"`
	UnlockTokenGeneratedAt *time.Time `json:"unlockTokenGeneratedAt,omitempty"`
}

// redisUserStore keeps accounts as JSON blobs keyed by email, with a
// secondary key per unlock token. It satisfies lockout.UserStore.
type redisUserStore struct {
	rdb redis.UniversalClient
}

func newRedisUserStore(rdb redis.UniversalClient) *redisUserStore {
	return &redisUserStore{rdb: rdb}
}

func (s *redisUserStore) GetUserByEmail(ctx context.Context, email string) (*lockout.User, error) {
	stored, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	return toLockoutUser(stored), nil
}

func (s *redisUserStore) GetUserByUnlockToken(ctx context.Context, token string) (*lockout.User, error) {
	email, err := s.rdb.Get(ctx, unlockTokenKeyPrefix+token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, lockout.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}

	stored, err := s.load(ctx, email)
	if err != nil {
		return nil, err
	}
	if stored.UnlockToken != token {
		// Stale index entry from a superseded token.
		return nil, lockout.ErrUserNotFound
	}
	return toLockoutUser(stored), nil
}

func (s *redisUserStore) UpdateUser(ctx context.Context, user *lockout.User) error {
	stored, err := s.load(ctx, user.Email)
	if err != nil {
		return err
	}

	previousToken := stored.UnlockToken
	stored.AccountLocked = user.AccountLocked
	stored.AccountLockedAt = user.AccountLockedAt
	stored.AccountLockReason = user.AccountLockReason
	stored.UnlockToken = user.UnlockToken
	stored.UnlockTokenGeneratedAt = user.UnlockTokenGeneratedAt

	if err := s.save(ctx, stored); err != nil {
		return err
	}

	if previousToken != "" && previousToken != stored.UnlockToken {
		_ = s.rdb.Del(ctx, unlockTokenKeyPrefix+previousToken).Err()
	}
	if stored.UnlockToken != "" {
		if err := s.rdb.Set(ctx, unlockTokenKeyPrefix+stored.UnlockToken, stored.Email, 0).Err(); err != nil {
			return fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
		}
	}
	return nil
}

// CreateUser registers a new account. Existing accounts are not replaced.
func (s *redisUserStore) CreateUser(ctx context.Context, id, email, passwordHash string) error {
	stored := &storedUser{ID: id, Email: email, PasswordHash: passwordHash}
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}

	created, err := s.rdb.SetNX(ctx, userKeyPrefix+email, payload, 0).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	if !created {
		return fmt.Errorf("account %s already exists", email)
	}
	return nil
}

// PasswordHash returns the stored hash for credential verification.
func (s *redisUserStore) PasswordHash(ctx context.Context, email string) (string, error) {
	stored, err := s.load(ctx, email)
	if err != nil {
		return "", err
	}
	return stored.PasswordHash, nil
}

func (s *redisUserStore) load(ctx context.Context, email string) (*storedUser, error) {
	payload, err := s.rdb.Get(ctx, userKeyPrefix+email).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, lockout.ErrUserNotFound
		}
		return nil, fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}

	var stored storedUser
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, fmt.Errorf("corrupt account record for %s: %w", email, err)
	}
	return &stored, nil
}

func (s *redisUserStore) save(ctx context.Context, stored *storedUser) error {
	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := s.rdb.Set(ctx, userKeyPrefix+stored.Email, payload, 0).Err(); err != nil {
		return fmt.Errorf("%w: %v", lockout.ErrStoreUnavailable, err)
	}
	return nil
}

func toLockoutUser(stored *storedUser) *lockout.User {
	return &lockout.User{
		ID:                     stored.ID,
		Email:                  stored.Email,
		AccountLocked:          stored.AccountLocked,
		AccountLockedAt:        stored.AccountLockedAt,
		AccountLockReason:      stored.AccountLockReason,
		UnlockToken:            stored.UnlockToken,
		UnlockTokenGeneratedAt: stored.UnlockTokenGeneratedAt,
	}
}
