package hub

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/markus-lassfolk/trackhub/pkg"
)

func TestFixState(t *testing.T) {
	tests := []struct {
		name     string
		enabled  bool
		recent   bool
		accurate bool
		want     pkg.ProviderState
	}{
		{"disabled wins", false, true, true, pkg.ProviderStateDisabled},
		{"no fix", true, false, true, pkg.ProviderStateNoFix},
		{"bad fix", true, true, false, pkg.ProviderStateBadFix},
		{"good fix", true, true, true, pkg.ProviderStateGoodFix},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FixState(tt.enabled, tt.recent, tt.accurate))
		})
	}
}

func TestIsRecent(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	loc := pkg.Location{Latitude: 1, Longitude: 2, Time: now.Add(-30 * time.Second)}

	assert.True(t, IsRecent(loc, now, time.Minute))
	assert.False(t, IsRecent(loc, now, 10*time.Second))

	loc.Latitude = math.NaN()
	assert.False(t, IsRecent(loc, now, time.Minute))
	assert.False(t, IsRecent(pkg.SplitMarker(now), now, time.Minute))
}

func TestFixTrackerCommit(t *testing.T) {
	tracker := newFixTracker()
	state, changed := tracker.commit()
	assert.Equal(t, pkg.ProviderStateNoFix, state)
	assert.True(t, changed, "first announcement always counts")

	_, changed = tracker.commit()
	assert.False(t, changed)

	tracker.hasFix = true
	state, changed = tracker.commit()
	assert.Equal(t, pkg.ProviderStateBadFix, state)
	assert.True(t, changed)

	tracker.providerEnabled = false
	state, _ = tracker.commit()
	assert.Equal(t, pkg.ProviderStateDisabled, state)
}
