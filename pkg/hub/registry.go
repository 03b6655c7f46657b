package hub

import "sync"

type registration struct {
	subscriber Subscriber
	types      DataTypes
}

// registry is the set of active subscribers in registration order
type registry struct {
	mu    sync.RWMutex
	regs  map[Subscriber]*registration
	order []*registration
}

func newRegistry() *registry {
	return &registry{regs: make(map[Subscriber]*registration)}
}

func (r *registry) add(s Subscriber, types DataTypes) (*registration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.regs[s]; exists {
		return nil, ErrAlreadyRegistered
	}
	reg := &registration{subscriber: s, types: types}
	r.regs[s] = reg
	r.order = append(r.order, reg)
	return reg, nil
}

func (r *registry) remove(s Subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, exists := r.regs[s]
	if !exists {
		return false
	}
	delete(r.regs, s)
	for i, candidate := range r.order {
		if candidate == reg {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

func (r *registry) get(s Subscriber) (*registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.regs[s]
	return reg, ok
}

// subscribersFor returns a snapshot of subscribers interested in t
func (r *registry) subscribersFor(t DataType) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscriber
	for _, reg := range r.order {
		if reg.types.Has(t) {
			out = append(out, reg.subscriber)
		}
	}
	return out
}

// subscribersForAny returns a snapshot of subscribers interested in any of types
func (r *registry) subscribersForAny(types DataTypes) []Subscriber {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Subscriber
	for _, reg := range r.order {
		if reg.types&types != 0 {
			out = append(out, reg.subscriber)
		}
	}
	return out
}

// neededTypes is the union of all registered interests
func (r *registry) neededTypes() DataTypes {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var needed DataTypes
	for _, reg := range r.order {
		needed |= reg.types
	}
	return needed
}

func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
