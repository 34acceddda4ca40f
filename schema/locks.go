package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Lock tiers. Keys are always acquired in (tier, name) order so that calls
// locking overlapping key sets cannot deadlock, even when a call acquires
// its collection keys after inspecting the server state.
const (
	definitionTier = 0
	collectionTier = 1
)

func definitionKey(db, name string) string {
	return fmt.Sprintf("%d/%s/%s", definitionTier, db, name)
}

func collectionKey(db, name string) string {
	return fmt.Sprintf("%d/%s/%s", collectionTier, db, name)
}

type keyLock struct {
	sync.Mutex
	refs int
}

// keyedMutex serializes callers per key while leaving unrelated keys
// unimpeded.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyLock)}
}

// Lock acquires every key in sorted order and returns a function releasing
// them.
func (k *keyedMutex) Lock(keys ...string) (unlock func()) {
	keys = dedup(keys)

	acquired := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		k.mu.Lock()
		l := k.locks[key]
		if l == nil {
			l = new(keyLock)
			k.locks[key] = l
		}
		l.refs++
		k.mu.Unlock()

		l.Lock()
		acquired = append(acquired, l)
	}

	return func() {
		for i := len(acquired) - 1; i >= 0; i-- {
			acquired[i].Unlock()
		}

		k.mu.Lock()
		for i, key := range keys {
			l := acquired[i]
			l.refs--
			if l.refs == 0 {
				delete(k.locks, key)
			}
		}
		k.mu.Unlock()
	}
}

func dedup(keys []string) []string {
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if len(out) > 0 && out[len(out)-1] == key {
			continue
		}
		out = append(out, key)
	}
	return out
}
