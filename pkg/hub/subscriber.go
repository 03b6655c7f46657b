package hub

import (
	"strings"

	"github.com/markus-lassfolk/trackhub/pkg"
)

// Subscriber receives the hub's ordered event stream. All methods are called
// from the hub's single notification goroutine, never concurrently.
// Implementations must be comparable (usually pointers).
type Subscriber interface {
	OnSelectedTrackChanged(track *pkg.Track, isRecording bool)
	OnTrackUpdated(track *pkg.Track)

	ClearTrackPoints()
	OnNewTrackPoint(point pkg.TrackPoint)
	OnSampledOutTrackPoint(point pkg.TrackPoint)
	OnSegmentSplit()
	OnNewTrackPointsDone()

	ClearWaypoints()
	OnNewWaypoint(wp pkg.Waypoint)
	OnNewWaypointsDone()

	OnCurrentLocationChanged(loc pkg.Location)
	OnCurrentHeadingChanged(degrees float64)
	OnProviderStateChange(state pkg.ProviderState)

	// OnUnitsChanged and OnReportSpeedChanged return true to request a reload.
	OnUnitsChanged(metric bool) bool
	OnReportSpeedChanged(reportSpeed bool) bool
}

// BaseSubscriber implements Subscriber with no-ops, for embedding
type BaseSubscriber struct{}

func (BaseSubscriber) OnSelectedTrackChanged(*pkg.Track, bool) {}
func (BaseSubscriber) OnTrackUpdated(*pkg.Track)               {}
func (BaseSubscriber) ClearTrackPoints()                       {}
func (BaseSubscriber) OnNewTrackPoint(pkg.TrackPoint)          {}
func (BaseSubscriber) OnSampledOutTrackPoint(pkg.TrackPoint)   {}
func (BaseSubscriber) OnSegmentSplit()                         {}
func (BaseSubscriber) OnNewTrackPointsDone()                   {}
func (BaseSubscriber) ClearWaypoints()                         {}
func (BaseSubscriber) OnNewWaypoint(pkg.Waypoint)              {}
func (BaseSubscriber) OnNewWaypointsDone()                     {}
func (BaseSubscriber) OnCurrentLocationChanged(pkg.Location)   {}
func (BaseSubscriber) OnCurrentHeadingChanged(float64)         {}
func (BaseSubscriber) OnProviderStateChange(pkg.ProviderState) {}
func (BaseSubscriber) OnUnitsChanged(bool) bool                { return false }
func (BaseSubscriber) OnReportSpeedChanged(bool) bool          { return false }

// DataType is one kind of data a subscriber can ask for
type DataType uint16

const (
	SelectedTrack DataType = 1 << iota
	TrackUpdates
	WaypointUpdates
	PointUpdates
	// SampledOutPointUpdates only makes sense together with PointUpdates.
	SampledOutPointUpdates
	LocationUpdates
	HeadingUpdates
	DisplayPreferences
)

// DataTypes is a set of DataType values
type DataTypes uint16

// AllDataTypes is the default interest of a subscriber
const AllDataTypes = DataTypes(SelectedTrack | TrackUpdates | WaypointUpdates | PointUpdates |
	SampledOutPointUpdates | LocationUpdates | HeadingUpdates | DisplayPreferences)

// TypesOf builds a set; no arguments means AllDataTypes.
func TypesOf(types ...DataType) DataTypes {
	if len(types) == 0 {
		return AllDataTypes
	}
	var set DataTypes
	for _, t := range types {
		set |= DataTypes(t)
	}
	return set
}

// Has reports whether t is in the set
func (s DataTypes) Has(t DataType) bool {
	return s&DataTypes(t) != 0
}

func (t DataType) String() string {
	switch t {
	case SelectedTrack:
		return "selected_track"
	case TrackUpdates:
		return "track_updates"
	case WaypointUpdates:
		return "waypoint_updates"
	case PointUpdates:
		return "point_updates"
	case SampledOutPointUpdates:
		return "sampled_out_point_updates"
	case LocationUpdates:
		return "location_updates"
	case HeadingUpdates:
		return "heading_updates"
	case DisplayPreferences:
		return "display_preferences"
	default:
		return "unknown"
	}
}

func (s DataTypes) String() string {
	var names []string
	for t := SelectedTrack; t <= DisplayPreferences; t <<= 1 {
		if s.Has(t) {
			names = append(names, t.String())
		}
	}
	return strings.Join(names, ",")
}
