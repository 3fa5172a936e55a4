package kvstore

import (
	"slices"
	"sync"

	"github.com/samber/lo"
)

// Notifier fans committed changes out to subscribers. Store implementations
// embed it and call Publish after a write has committed, outside their own
// locks.
type Notifier struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Change)
}

// Subscribe registers fn and returns its remover.
func (n *Notifier) Subscribe(fn func(Change)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(Change))
	}
	id := n.next
	n.next++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

// Publish delivers c to every current subscriber in registration order.
func (n *Notifier) Publish(c Change) {
	n.mu.Lock()
	ids := lo.Keys(n.subs)
	slices.Sort(ids)
	fns := lo.Map(ids, func(id int, _ int) func(Change) { return n.subs[id] })
	n.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
