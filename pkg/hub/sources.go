package hub

import (
	"context"

	"github.com/markus-lassfolk/trackhub/pkg"
)

// Preference keys watched by the hub
const (
	KeySelectedTrackID     = "selected_track_id"
	KeyRecordingTrackID    = "recording_track_id"
	KeyMetricUnits         = "metric_units"
	KeyReportSpeed         = "report_speed"
	KeyMinRequiredAccuracy = "min_required_accuracy"
)

// Store change tokens
const (
	ChangeTracks      = "tracks"
	ChangeTrackPoints = "track_points"
	ChangeWaypoints   = "waypoints"
)

// ChangeNotifier delivers opaque change tokens to subscribed callbacks.
// Callbacks may run on any goroutine.
type ChangeNotifier interface {
	Subscribe(fn func(token string)) (unsubscribe func())
}

// PreferenceStore is persisted key/value state. Change callbacks receive the
// changed key; an empty key means everything may have changed.
type PreferenceStore interface {
	ChangeNotifier
	GetInt64(key string, def int64) int64
	GetInt(key string, def int) int
	GetBool(key string, def bool) bool
	SetInt64(key string, value int64) error
}

// PointIterator walks stored points in increasing id order. Close must be
// called on every exit path.
type PointIterator interface {
	Next() bool
	Point() pkg.TrackPoint
	Err() error
	Close() error
}

// TrackStore is the persisted track/point/waypoint store. Its change tokens
// are ChangeTracks, ChangeTrackPoints and ChangeWaypoints.
type TrackStore interface {
	ChangeNotifier
	GetTrack(ctx context.Context, id int64) (*pkg.Track, error)
	Points(ctx context.Context, trackID, startID int64) (PointIterator, error)
	LastPointID(ctx context.Context, trackID int64) (int64, error)
	Waypoints(ctx context.Context, trackID, minID int64, limit int) ([]pkg.Waypoint, error)
}

// LocationCallbacks receives raw location provider events
type LocationCallbacks struct {
	OnLocation          func(loc pkg.Location)
	OnProviderEnabled   func(provider string, enabled bool)
	OnProviderAvailable func(provider string, available bool)
}

// LocationSource is the live location and compass feed
type LocationSource interface {
	SubscribeLocation(cb LocationCallbacks) (unsubscribe func())
	// SubscribeHeading returns ok=false when no compass is present.
	SubscribeHeading(fn func(degrees float64)) (unsubscribe func(), ok bool)
	LastKnownLocation(provider string) (pkg.Location, bool)
}
