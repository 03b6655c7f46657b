package location

import (
	"sync"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

var _ hub.LocationSource = (*Source)(nil)

// Source is a push fed location and compass source. Feeds (MQTT, HTTP,
// serial readers) push into it; listeners are called on the pushing
// goroutine.
type Source struct {
	logger *logx.Logger

	mu         sync.RWMutex
	next       uint64
	listeners  map[uint64]hub.LocationCallbacks
	headings   map[uint64]func(float64)
	hasCompass bool
	lastKnown  map[string]pkg.Location
	enabled    map[string]bool
}

// NewSource creates a source. Heading subscriptions fail when hasCompass is false.
func NewSource(hasCompass bool, logger *logx.Logger) *Source {
	return &Source{
		logger:     logger,
		listeners:  make(map[uint64]hub.LocationCallbacks),
		headings:   make(map[uint64]func(float64)),
		hasCompass: hasCompass,
		lastKnown:  make(map[string]pkg.Location),
		enabled:    map[string]bool{pkg.ProviderGPS: true, pkg.ProviderNetwork: true},
	}
}

// SubscribeLocation registers location callbacks; nil fields are skipped.
func (s *Source) SubscribeLocation(cb hub.LocationCallbacks) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.listeners[id] = cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.listeners, id)
	}
}

// SubscribeHeading registers a compass listener
func (s *Source) SubscribeHeading(fn func(degrees float64)) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCompass {
		return nil, false
	}
	id := s.next
	s.next++
	s.headings[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.headings, id)
	}, true
}

// LastKnownLocation returns the most recent location pushed for provider
func (s *Source) LastKnownLocation(provider string) (pkg.Location, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.lastKnown[provider]
	return loc, ok
}

func (s *Source) snapshot() []hub.LocationCallbacks {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]hub.LocationCallbacks, 0, len(s.listeners))
	for _, cb := range s.listeners {
		out = append(out, cb)
	}
	return out
}

// PushLocation records loc and forwards it. Locations from a disabled
// provider are dropped. An empty provider means gps.
func (s *Source) PushLocation(loc pkg.Location) {
	if loc.Provider == "" {
		loc.Provider = pkg.ProviderGPS
	}

	s.mu.Lock()
	if enabled, known := s.enabled[loc.Provider]; known && !enabled {
		s.mu.Unlock()
		s.logger.Debug("dropping location from disabled provider", "provider", loc.Provider)
		return
	}
	s.lastKnown[loc.Provider] = loc
	s.mu.Unlock()

	for _, cb := range s.snapshot() {
		if cb.OnLocation != nil {
			cb.OnLocation(loc)
		}
	}
}

// SetProviderEnabled switches a provider on or off
func (s *Source) SetProviderEnabled(provider string, enabled bool) {
	s.mu.Lock()
	previous, known := s.enabled[provider]
	s.enabled[provider] = enabled
	s.mu.Unlock()

	if known && previous == enabled {
		return
	}
	s.logger.Info("location provider toggled", "provider", provider, "enabled", enabled)
	for _, cb := range s.snapshot() {
		if cb.OnProviderEnabled != nil {
			cb.OnProviderEnabled(provider, enabled)
		}
	}
}

// SetProviderAvailable reports a temporary availability change
func (s *Source) SetProviderAvailable(provider string, available bool) {
	for _, cb := range s.snapshot() {
		if cb.OnProviderAvailable != nil {
			cb.OnProviderAvailable(provider, available)
		}
	}
}

// PushHeading forwards a magnetic heading in degrees
func (s *Source) PushHeading(degrees float64) {
	s.mu.RLock()
	if !s.hasCompass {
		s.mu.RUnlock()
		return
	}
	fns := make([]func(float64), 0, len(s.headings))
	for _, fn := range s.headings {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(degrees)
	}
}

// ProviderEnabled reports whether provider is enabled
func (s *Source) ProviderEnabled(provider string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, known := s.enabled[provider]
	return !known || enabled
}
