package pkg

import (
	"math"
	"time"
)

// Location providers
const (
	ProviderGPS     = "gps"
	ProviderNetwork = "network"
)

// Display and freshness limits shared by the hub and its views
const (
	MaxDisplayedTrackPoints    = 20000
	TargetDisplayedTrackPoints = 5000
	MaxDisplayedWaypoints      = 128

	MaxLocationAge = 60 * time.Second
	MaxNetworkAge  = 10 * time.Minute

	DefaultMinRequiredAccuracy = 200 // meters
)

// SplitLatitude marks a stored point as a segment split instead of a real fix.
const SplitLatitude = 100.0

// Location is a single position sample
type Location struct {
	Provider  string    `json:"provider"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Accuracy  float64   `json:"accuracy"` // meters
	Speed     float64   `json:"speed"`    // m/s
	Bearing   float64   `json:"bearing"`  // degrees
	Time      time.Time `json:"time"`
}

// IsValid reports whether the location holds real coordinates.
func (l Location) IsValid() bool {
	if math.IsNaN(l.Latitude) || math.IsNaN(l.Longitude) {
		return false
	}
	return math.Abs(l.Latitude) <= 90 && math.Abs(l.Longitude) <= 180
}

// SplitMarker returns the sentinel location stored for a segment split.
func SplitMarker(t time.Time) Location {
	return Location{Provider: ProviderGPS, Latitude: SplitLatitude, Time: t}
}

// Track is a recorded or in-progress path
type Track struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	StartID   int64     `json:"start_id"`
	StopID    int64     `json:"stop_id"`
	NumPoints int       `json:"num_points"`
	StartTime time.Time `json:"start_time"`
	StopTime  time.Time `json:"stop_time"`
}

// TrackPoint is one stored location of a track. IDs grow monotonically per store.
type TrackPoint struct {
	ID       int64    `json:"id"`
	TrackID  int64    `json:"track_id"`
	Location Location `json:"location"`
}

// WaypointType distinguishes user markers from statistics snapshots
type WaypointType int

const (
	WaypointTypeWaypoint WaypointType = iota
	WaypointTypeStatistics
)

func (t WaypointType) String() string {
	switch t {
	case WaypointTypeWaypoint:
		return "waypoint"
	case WaypointTypeStatistics:
		return "statistics"
	default:
		return "unknown"
	}
}

// Waypoint is a marker attached to a track
type Waypoint struct {
	ID          int64        `json:"id"`
	TrackID     int64        `json:"track_id"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Type        WaypointType `json:"type"`
	Location    Location     `json:"location"`
}

// ProviderState is the derived quality of the GPS fix
type ProviderState int

const (
	ProviderStateDisabled ProviderState = iota
	ProviderStateNoFix
	ProviderStateBadFix
	ProviderStateGoodFix
)

func (s ProviderState) String() string {
	switch s {
	case ProviderStateDisabled:
		return "DISABLED"
	case ProviderStateNoFix:
		return "NO_FIX"
	case ProviderStateBadFix:
		return "BAD_FIX"
	case ProviderStateGoodFix:
		return "GOOD_FIX"
	default:
		return "UNKNOWN"
	}
}
