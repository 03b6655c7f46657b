package hub

import (
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
)

// FixState derives the provider state from raw fix inputs.
func FixState(providerEnabled, hasRecentFix, isAccurate bool) pkg.ProviderState {
	switch {
	case !providerEnabled:
		return pkg.ProviderStateDisabled
	case !hasRecentFix:
		return pkg.ProviderStateNoFix
	case !isAccurate:
		return pkg.ProviderStateBadFix
	default:
		return pkg.ProviderStateGoodFix
	}
}

// IsRecent reports whether loc is valid and no older than maxAge at now.
func IsRecent(loc pkg.Location, now time.Time, maxAge time.Duration) bool {
	return loc.IsValid() && now.Sub(loc.Time) <= maxAge
}

// fixTracker remembers the raw inputs and the last announced state.
type fixTracker struct {
	providerEnabled bool
	hasFix          bool
	hasGoodFix      bool

	announced bool
	last      pkg.ProviderState
}

func newFixTracker() *fixTracker {
	return &fixTracker{providerEnabled: true}
}

func (t *fixTracker) state() pkg.ProviderState {
	return FixState(t.providerEnabled, t.hasFix, t.hasGoodFix)
}

// commit returns the current state and whether it differs from the last
// announced one, and marks it announced.
func (t *fixTracker) commit() (pkg.ProviderState, bool) {
	current := t.state()
	changed := !t.announced || current != t.last
	t.announced = true
	t.last = current
	return current, changed
}
