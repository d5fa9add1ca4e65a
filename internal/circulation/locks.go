// internal/circulation/locks.go
package circulation

import (
	"sort"
	"sync"
)

// copyLocks serializes operations per tracking code so two simultaneous
// requests for the same copy cannot interleave between the status check
// and the write.
type copyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newCopyLocks() *copyLocks {
	return &copyLocks{locks: make(map[string]*sync.Mutex)}
}

func (c *copyLocks) lockFor(code string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.locks[code]
	if !ok {
		l = &sync.Mutex{}
		c.locks[code] = l
	}
	return l
}

// acquire locks every given code in sorted order, so two operations that
// touch the same pair of copies cannot deadlock. The returned func
// releases in reverse order.
func (c *copyLocks) acquire(codes ...string) func() {
	uniq := make([]string, 0, len(codes))
	seen := make(map[string]struct{}, len(codes))
	for _, code := range codes {
		if _, ok := seen[code]; ok {
			continue
		}
		seen[code] = struct{}{}
		uniq = append(uniq, code)
	}
	sort.Strings(uniq)

	held := make([]*sync.Mutex, 0, len(uniq))
	for _, code := range uniq {
		l := c.lockFor(code)
		l.Lock()
		held = append(held, l)
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i].Unlock()
		}
	}
}
