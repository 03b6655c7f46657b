package hub

import (
	"math"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
)

const declinationRefreshInterval = time.Hour

// onLocationChanged folds a new location into the fix state and forwards
// it. subs nil means every location subscriber. force re-announces the fix
// state to subs even when it did not change.
func (h *Hub) onLocationChanged(loc pkg.Location, force bool, subs []Subscriber) {
	now := h.config.Now()

	if loc.Provider == pkg.ProviderNetwork {
		if last := h.lastSeenLocation; last != nil && last.Provider != pkg.ProviderNetwork &&
			IsRecent(*last, now, h.config.MaxLocationAge) {
			// A recent GPS fix beats any network location
			return
		}
		h.fix.hasFix = false
		h.fix.hasGoodFix = false
		if IsRecent(loc, now, h.config.MaxNetworkAge) {
			h.lastSeenLocation = &loc
		} else {
			h.lastSeenLocation = nil
		}
	} else {
		h.fix.hasFix = IsRecent(loc, now, h.config.MaxLocationAge)
		h.fix.hasGoodFix = loc.Accuracy <= float64(h.minRequiredAccuracy)
		h.lastSeenLocation = &loc
	}

	if subs == nil {
		subs = h.registry.subscribersFor(LocationUpdates)
	}
	h.announceFix(force, subs)

	if h.lastSeenLocation != nil {
		current := *h.lastSeenLocation
		deliver(h.rec, EventLocationChanged, subs, func(s Subscriber) { s.OnCurrentLocationChanged(current) })
	}
}

// announceFix sends the fix state to every location subscriber when it
// changed, or to subs when force is set.
func (h *Hub) announceFix(force bool, subs []Subscriber) {
	state, changed := h.fix.commit()
	switch {
	case changed:
		h.logger.Debug("provider state changed", "state", state.String())
		subs = h.registry.subscribersFor(LocationUpdates)
	case !force:
		return
	}
	deliver(h.rec, EventProviderStateChange, subs, func(s Subscriber) { s.OnProviderStateChange(state) })
}

func (h *Hub) onProviderEnabled(provider string, enabled bool) {
	if provider != pkg.ProviderGPS {
		return
	}
	if h.fix.providerEnabled == enabled {
		return
	}
	h.fix.providerEnabled = enabled
	if !enabled {
		h.fix.hasFix = false
		h.fix.hasGoodFix = false
		h.logger.Warn("gps provider disabled")
	} else {
		h.logger.Info("gps provider enabled")
	}
	h.announceFix(false, nil)
}

// onProviderAvailable treats a temporarily unavailable provider as having
// lost its fix. Availability alone does not restore one.
func (h *Hub) onProviderAvailable(provider string, available bool) {
	if provider != pkg.ProviderGPS || available {
		return
	}
	h.fix.hasFix = false
	h.fix.hasGoodFix = false
	h.announceFix(false, nil)
}

// replayLocation re-announces the fix state and the last seen location to subs.
func (h *Hub) replayLocation(subs []Subscriber) {
	if len(subs) == 0 {
		return
	}
	if h.lastSeenLocation != nil {
		h.onLocationChanged(*h.lastSeenLocation, true, subs)
		return
	}
	h.announceFix(true, subs)
}

// refreshLocation pulls the freshest cached location from the source,
// preferring GPS, and pushes it as a forced update.
func (h *Hub) refreshLocation() {
	subs := h.registry.subscribersFor(LocationUpdates)
	if len(subs) == 0 {
		return
	}

	now := h.config.Now()
	loc, ok := h.source.LastKnownLocation(pkg.ProviderGPS)
	if !ok || !IsRecent(loc, now, h.config.MaxLocationAge) {
		loc, ok = h.source.LastKnownLocation(pkg.ProviderNetwork)
		if ok && !IsRecent(loc, now, h.config.MaxNetworkAge) {
			ok = false
		}
	}
	if !ok {
		if !h.noLocationNoticed {
			h.noLocationNoticed = true
			h.logger.Warn("no location available")
		}
		h.announceFix(true, subs)
		return
	}
	h.noLocationNoticed = false
	h.onLocationChanged(loc, true, subs)
}

func (h *Hub) onHeadingChanged(degrees float64) {
	h.lastHeading = degrees
	h.updateDeclination()
	h.notifyHeading(h.registry.subscribersFor(HeadingUpdates))
}

// updateDeclination refreshes the declination from the last seen location
// at most once per refresh interval.
func (h *Hub) updateDeclination() {
	loc := h.lastSeenLocation
	if loc == nil {
		return
	}
	now := h.config.Now()
	if !h.lastDeclinationUpdate.IsZero() && now.Sub(h.lastDeclinationUpdate) < declinationRefreshInterval {
		return
	}

	at := loc.Time
	if at.IsZero() {
		at = now
	}
	h.declination = h.config.Declination(loc.Latitude, loc.Longitude, loc.Altitude, at)
	h.lastDeclinationUpdate = now
	h.logger.Info("magnetic declination updated",
		"declination", h.declination,
		"latitude", loc.Latitude,
		"longitude", loc.Longitude,
	)
}

func (h *Hub) notifyHeading(subs []Subscriber) {
	heading := normalizeDegrees(h.lastHeading + h.declination)
	deliver(h.rec, EventHeadingChanged, subs, func(s Subscriber) { s.OnCurrentHeadingChanged(heading) })
}

func normalizeDegrees(d float64) float64 {
	d = math.Mod(d, 360)
	if d < 0 {
		d += 360
	}
	return d
}
