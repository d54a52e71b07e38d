package enrollment

import (
	"fmt"
	"sort"
	"sync"
)

func preRegKey(id int64) string   { return fmt.Sprintf("prereg:%d", id) }
func guardianKey(id int64) string { return fmt.Sprintf("guardian:%d", id) }
func gradeKey(id int64) string    { return fmt.Sprintf("grade:%d", id) }
func teacherKey(id int64) string  { return fmt.Sprintf("teacher:%d", id) }
func groupKey(id int64) string    { return fmt.Sprintf("group:%d", id) }

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// keyedLocker hands out one mutex per key. Entries are dropped once no goroutine holds or waits for them.
type keyedLocker struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

func newKeyedLocker() *keyedLocker {
	return &keyedLocker{locks: make(map[string]*keyLock)}
}

// Lock acquires the locks of all keys in ascending key order and returns the function releasing them.
func (kl *keyedLocker) Lock(keys ...string) (unlock func()) {
	keys = uniqueSorted(keys)

	held := make([]*keyLock, 0, len(keys))
	for _, key := range keys {
		kl.mu.Lock()
		l, ok := kl.locks[key]
		if !ok {
			l = new(keyLock)
			kl.locks[key] = l
		}
		l.refs++
		kl.mu.Unlock()

		l.mu.Lock()
		held = append(held, l)
	}

	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].mu.Unlock()

			kl.mu.Lock()
			held[i].refs--
			if held[i].refs == 0 {
				delete(kl.locks, keys[i])
			}
			kl.mu.Unlock()
		}
	}
}

func uniqueSorted(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
