// Package redisstore provides Redis-backed account locks and withdraw code
// storage shared by every ledger replica.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/vipledger/pkg/entitlement"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultLockTTL           = 30 * time.Second
	defaultLockRetryInterval = 25 * time.Millisecond
	unlockTimeout            = 3 * time.Second
	withdrawCodeKeyPrefix    = "vipledger:withdraw-code:"
	fieldHash                = "hash"
	fieldExpiresAt           = "expires_at"
	fieldAttempts            = "attempts"
	errorOperationRedis      = "redis"
	errorSubjectLock         = "lock"
	errorSubjectCode         = "code"
	errorCodeAcquire         = "acquire"
	errorCodePut             = "put"
	errorCodeGet             = "get"
	errorCodeIncrement       = "increment"
	errorCodeDelete          = "delete"
	errorCodeDecode          = "decode"
)

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

var incrementAttemptsScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	return -1
end
return redis.call("HINCRBY", KEYS[1], ARGV[1], 1)
`)

// ClientConfig describes the Redis connection.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// Open connects to Redis and verifies the connection with PING.
func Open(ctx context.Context, config ClientConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		MaxRetries:   2,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", config.Addr, err)
	}
	return client, nil
}

// LockerOption configures a Locker.
type LockerOption func(*Locker)

// WithLockTTL bounds how long a crashed holder can keep a key locked.
func WithLockTTL(ttl time.Duration) LockerOption {
	return func(locker *Locker) {
		if ttl > 0 {
			locker.ttl = ttl
		}
	}
}

// WithRetryInterval sets the polling interval while a key is held elsewhere.
func WithRetryInterval(interval time.Duration) LockerOption {
	return func(locker *Locker) {
		if interval > 0 {
			locker.retryInterval = interval
		}
	}
}

// Locker implements entitlement.Locker with SET NX and a token-checked delete.
type Locker struct {
	client        redis.UniversalClient
	ttl           time.Duration
	retryInterval time.Duration
}

// NewLocker returns a Locker over client.
func NewLocker(client redis.UniversalClient, options ...LockerOption) *Locker {
	locker := &Locker{client: client, ttl: defaultLockTTL, retryInterval: defaultLockRetryInterval}
	for _, option := range options {
		if option != nil {
			option(locker)
		}
	}
	return locker
}

// Lock blocks until key is acquired or ctx is done.
func (locker *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := uuid.NewString()
	for {
		acquired, err := locker.client.SetNX(ctx, key, token, locker.ttl).Result()
		if err != nil {
			return nil, entitlement.WrapError(errorOperationRedis, errorSubjectLock, errorCodeAcquire, err)
		}
		if acquired {
			break
		}
		timer := time.NewTimer(locker.retryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), unlockTimeout)
			defer cancel()
			_ = unlockScript.Run(unlockCtx, locker.client, []string{key}, token).Err()
		})
	}, nil
}

// CodeStore implements entitlement.CodeStore as a Redis hash that expires with
// the code.
type CodeStore struct {
	client redis.UniversalClient
}

// NewCodeStore returns a CodeStore over client.
func NewCodeStore(client redis.UniversalClient) *CodeStore {
	return &CodeStore{client: client}
}

func codeKey(userID entitlement.UserID) string {
	return withdrawCodeKeyPrefix + userID.String()
}

func (store *CodeStore) PutWithdrawCode(ctx context.Context, code entitlement.WithdrawCode) error {
	key := codeKey(code.UserID)
	_, err := store.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key,
			fieldHash, code.Hash,
			fieldExpiresAt, code.ExpiresAt.UnixNano(),
			fieldAttempts, code.Attempts,
		)
		pipe.PExpireAt(ctx, key, code.ExpiresAt)
		return nil
	})
	if err != nil {
		return entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodePut, err)
	}
	return nil
}

func (store *CodeStore) GetWithdrawCode(ctx context.Context, userID entitlement.UserID) (entitlement.WithdrawCode, error) {
	values, err := store.client.HGetAll(ctx, codeKey(userID)).Result()
	if err != nil {
		return entitlement.WithdrawCode{}, entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeGet, err)
	}
	if len(values) == 0 {
		return entitlement.WithdrawCode{}, entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeGet, entitlement.ErrNotFound)
	}
	expiresAt, err := strconv.ParseInt(values[fieldExpiresAt], 10, 64)
	if err != nil {
		return entitlement.WithdrawCode{}, entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeDecode, err)
	}
	attempts, err := strconv.Atoi(values[fieldAttempts])
	if err != nil {
		return entitlement.WithdrawCode{}, entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeDecode, err)
	}
	return entitlement.WithdrawCode{
		UserID:    userID,
		Hash:      []byte(values[fieldHash]),
		ExpiresAt: time.Unix(0, expiresAt).UTC(),
		Attempts:  attempts,
	}, nil
}

func (store *CodeStore) RecordFailedAttempt(ctx context.Context, userID entitlement.UserID) (int, error) {
	attempts, err := incrementAttemptsScript.Run(ctx, store.client, []string{codeKey(userID)}, fieldAttempts).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			err = entitlement.ErrNotFound
		}
		return 0, entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeIncrement, err)
	}
	if attempts < 0 {
		return 0, entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeIncrement, entitlement.ErrNotFound)
	}
	return attempts, nil
}

func (store *CodeStore) DeleteWithdrawCode(ctx context.Context, userID entitlement.UserID) error {
	if err := store.client.Del(ctx, codeKey(userID)).Err(); err != nil {
		return entitlement.WrapError(errorOperationRedis, errorSubjectCode, errorCodeDelete, err)
	}
	return nil
}

var _ entitlement.Locker = (*Locker)(nil)
var _ entitlement.CodeStore = (*CodeStore)(nil)
