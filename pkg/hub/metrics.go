package hub

// Recorder receives hub instrumentation. Implementations must be safe for
// concurrent use.
type Recorder interface {
	EventsDelivered(event string, subscribers int)
	Resampled(stride int)
	ScanFinished(result string, points int)
	SubscribersChanged(n int)
	QueueDepth(n int)
}

type nopRecorder struct{}

func (nopRecorder) EventsDelivered(string, int) {}
func (nopRecorder) Resampled(int)               {}
func (nopRecorder) ScanFinished(string, int)    {}
func (nopRecorder) SubscribersChanged(int)      {}
func (nopRecorder) QueueDepth(int)              {}

// Event names used for delivery accounting
const (
	EventSelectedTrackChanged = "selected_track_changed"
	EventTrackUpdated         = "track_updated"
	EventClearTrackPoints     = "clear_track_points"
	EventNewTrackPoint        = "new_track_point"
	EventSampledOutTrackPoint = "sampled_out_track_point"
	EventSegmentSplit         = "segment_split"
	EventNewTrackPointsDone   = "new_track_points_done"
	EventClearWaypoints       = "clear_waypoints"
	EventNewWaypoint          = "new_waypoint"
	EventNewWaypointsDone     = "new_waypoints_done"
	EventLocationChanged      = "location_changed"
	EventHeadingChanged       = "heading_changed"
	EventProviderStateChange  = "provider_state_change"
	EventUnitsChanged         = "units_changed"
	EventReportSpeedChanged   = "report_speed_changed"
)

// deliver calls fn for each subscriber in order and accounts for it.
func deliver(rec Recorder, event string, subs []Subscriber, fn func(Subscriber)) {
	if len(subs) == 0 {
		return
	}
	for _, s := range subs {
		fn(s)
	}
	rec.EventsDelivered(event, len(subs))
}
