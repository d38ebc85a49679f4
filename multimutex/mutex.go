package multimutex

import (
	"fmt"
	"slices"
	"sync"
)

// cntMutex is a mutex together with the number of goroutines currently
// holding or waiting for it.
type cntMutex struct {
	cnt int
	sync.Mutex
}

// Mutex hands out one mutex per key so that work on distinct keys never
// contends. Entries are reference counted and dropped once no goroutine
// holds or waits for them.
type Mutex[K comparable] struct {
	// mutexes maps each key to its counted mutex.
	mutexes map[K]*cntMutex

	// mapMtx guards the mutexes map.
	mapMtx sync.Mutex
}

// NewMutex creates a new Mutex.
func NewMutex[K comparable]() *Mutex[K] {
	return &Mutex[K]{
		mutexes: make(map[K]*cntMutex),
	}
}

// Lock locks the mutex for the given key, blocking while another goroutine
// holds it.
func (c *Mutex[K]) Lock(key K) {
	c.mapMtx.Lock()
	mtx, ok := c.mutexes[key]
	if ok {
		mtx.cnt++
	} else {
		mtx = &cntMutex{cnt: 1}
		c.mutexes[key] = mtx
	}
	c.mapMtx.Unlock()

	mtx.Lock()
}

// Unlock unlocks the mutex for the given key. It is a run-time error if the
// key is not locked on entry to Unlock.
func (c *Mutex[K]) Unlock(key K) {
	c.mapMtx.Lock()

	mtx, ok := c.mutexes[key]
	if !ok {
		panic(fmt.Sprintf("double unlock for key %v", key))
	}

	// Waiters have already bumped the counter under mapMtx, so dropping
	// the entry at zero cannot strand anyone.
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(c.mutexes, key)
	}
	c.mapMtx.Unlock()

	mtx.Unlock()
}

// LockAll locks every distinct key in the order given by cmp and returns a
// function releasing them in reverse order. Taking multi-key locks through
// LockAll with the same cmp everywhere rules out lock-order deadlocks.
func (c *Mutex[K]) LockAll(keys []K, cmp func(a, b K) int) func() {
	ordered := slices.Clone(keys)
	slices.SortFunc(ordered, cmp)
	ordered = slices.CompactFunc(ordered, func(a, b K) bool {
		return cmp(a, b) == 0
	})

	for _, key := range ordered {
		c.Lock(key)
	}

	return func() {
		for i := len(ordered) - 1; i >= 0; i-- {
			c.Unlock(ordered[i])
		}
	}
}

// Len returns the number of keys currently locked or waited on.
func (c *Mutex[K]) Len() int {
	c.mapMtx.Lock()
	defer c.mapMtx.Unlock()

	return len(c.mutexes)
}
