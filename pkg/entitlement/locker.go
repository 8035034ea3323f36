package entitlement

import (
	"context"
	"sort"
	"sync"
)

// Locker serializes mutations per account key across callers.
type Locker interface {
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// KeyedMutex is the in-process Locker used when no distributed lock is wired.
type KeyedMutex struct {
	mu    sync.Mutex
	slots map[string]*keyedSlot
}

type keyedSlot struct {
	token   chan struct{}
	waiters int
}

// NewKeyedMutex returns an empty KeyedMutex.
func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{slots: make(map[string]*keyedSlot)}
}

// Lock blocks until key is free or ctx is done.
func (keyed *KeyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	keyed.mu.Lock()
	slot, ok := keyed.slots[key]
	if !ok {
		slot = &keyedSlot{token: make(chan struct{}, 1)}
		keyed.slots[key] = slot
	}
	slot.waiters++
	keyed.mu.Unlock()

	select {
	case slot.token <- struct{}{}:
	case <-ctx.Done():
		keyed.release(key, slot, false)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() { keyed.release(key, slot, true) })
	}, nil
}

func (keyed *KeyedMutex) release(key string, slot *keyedSlot, held bool) {
	if held {
		<-slot.token
	}
	keyed.mu.Lock()
	defer keyed.mu.Unlock()
	slot.waiters--
	if slot.waiters == 0 {
		delete(keyed.slots, key)
	}
}

func userLockKey(userID UserID) string {
	return lockKeyPrefixUser + userID.String()
}

// lockUsers acquires the account locks of every distinct user in a stable
// order and returns an idempotent function releasing them in reverse.
func lockUsers(ctx context.Context, locker Locker, userIDs ...UserID) (func(), error) {
	keys := make([]string, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, userID := range userIDs {
		key := userLockKey(userID)
		if _, duplicate := seen[key]; duplicate {
			continue
		}
		seen[key] = struct{}{}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	unlocks := make([]func(), 0, len(keys))
	var once sync.Once
	releaseAll := func() {
		once.Do(func() {
			for index := len(unlocks) - 1; index >= 0; index-- {
				unlocks[index]()
			}
		})
	}
	for _, key := range keys {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		unlocks = append(unlocks, unlock)
	}
	return releaseAll, nil
}
