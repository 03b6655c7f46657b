package utils

import (
	"sort"
	"sync"
)

// Notifier fans change tokens out to subscribed callbacks. Callbacks run
// synchronously on the notifying goroutine in subscription order and must
// not block.
type Notifier struct {
	mu   sync.RWMutex
	next uint64
	subs map[uint64]func(string)
}

// Subscribe registers fn and returns an idempotent unsubscribe function.
func (n *Notifier) Subscribe(fn func(token string)) func() {
	n.mu.Lock()
	if n.subs == nil {
		n.subs = make(map[uint64]func(string))
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	n.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			n.mu.Lock()
			delete(n.subs, id)
			n.mu.Unlock()
		})
	}
}

// Notify calls every subscriber with token.
func (n *Notifier) Notify(token string) {
	n.mu.RLock()
	ids := make([]uint64, 0, len(n.subs))
	for id := range n.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	fns := make([]func(string), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, n.subs[id])
	}
	n.mu.RUnlock()

	for _, fn := range fns {
		fn(token)
	}
}

// Len returns the number of active subscribers
func (n *Notifier) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}
