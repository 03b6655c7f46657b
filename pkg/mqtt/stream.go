package mqtt

import (
	"math"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

// StreamDataTypes are the hub data types a Stream registers for. Sampled out
// points are not mirrored.
var StreamDataTypes = []hub.DataType{
	hub.SelectedTrack,
	hub.TrackUpdates,
	hub.PointUpdates,
	hub.WaypointUpdates,
	hub.LocationUpdates,
	hub.HeadingUpdates,
	hub.DisplayPreferences,
}

const (
	defaultBatchSize = 500
	// Heading changes smaller than this are not republished.
	headingResolution = 1.0
)

var _ hub.Subscriber = (*Stream)(nil)

// PointMessage is one entry of a published point batch
type PointMessage struct {
	ID        int64     `json:"id,omitempty"`
	Split     bool      `json:"split,omitempty"`
	Latitude  float64   `json:"lat,omitempty"`
	Longitude float64   `json:"lon,omitempty"`
	Altitude  float64   `json:"alt,omitempty"`
	Accuracy  float64   `json:"acc,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Time      time.Time `json:"time"`
}

// PointBatch is published on <prefix>/points. Clear is set on the first
// batch of a pass that starts over; Done on the last batch of a pass.
type PointBatch struct {
	Clear  bool           `json:"clear"`
	Done   bool           `json:"done"`
	Points []PointMessage `json:"points"`
}

// WaypointBatch is published on <prefix>/waypoints
type WaypointBatch struct {
	Clear     bool           `json:"clear"`
	Waypoints []pkg.Waypoint `json:"waypoints"`
}

// Stream mirrors the hub event stream to MQTT so remote views can follow
// the selected track. Callbacks run on the hub notification goroutine.
type Stream struct {
	hub.BaseSubscriber

	publisher Publisher
	logger    *logx.Logger
	batchSize int

	pendingClear bool
	points       []PointMessage

	waypointsClear bool
	waypoints      []pkg.Waypoint

	lastHeading float64
}

// NewStream creates a stream publishing through publisher. batchSize <= 0
// uses the default.
func NewStream(publisher Publisher, batchSize int, logger *logx.Logger) *Stream {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	return &Stream{
		publisher:   publisher,
		logger:      logger,
		batchSize:   batchSize,
		lastHeading: math.NaN(),
	}
}

func (s *Stream) publish(name string, payload interface{}, retained bool) {
	topic := s.publisher.Topic(name)
	var err error
	if retained {
		err = s.publisher.PublishRetained(topic, payload)
	} else {
		err = s.publisher.Publish(topic, payload)
	}
	if err != nil {
		s.logger.Warn("failed to publish hub event", "topic", topic, "error", err)
	}
}

func (s *Stream) OnSelectedTrackChanged(track *pkg.Track, isRecording bool) {
	s.publish("track/selected", map[string]interface{}{
		"track":     track,
		"recording": isRecording,
	}, true)
}

func (s *Stream) OnTrackUpdated(track *pkg.Track) {
	s.publish("track/updated", track, false)
}

func (s *Stream) ClearTrackPoints() {
	s.points = s.points[:0]
	s.pendingClear = true
}

func (s *Stream) OnNewTrackPoint(point pkg.TrackPoint) {
	loc := point.Location
	s.append(PointMessage{
		ID:        point.ID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Altitude:  loc.Altitude,
		Accuracy:  loc.Accuracy,
		Speed:     loc.Speed,
		Time:      loc.Time,
	})
}

func (s *Stream) OnSegmentSplit() {
	s.append(PointMessage{Split: true})
}

func (s *Stream) append(p PointMessage) {
	s.points = append(s.points, p)
	if len(s.points) >= s.batchSize {
		s.flushPoints(false)
	}
}

func (s *Stream) OnNewTrackPointsDone() {
	s.flushPoints(true)
}

func (s *Stream) flushPoints(done bool) {
	if len(s.points) == 0 && !done {
		return
	}
	batch := PointBatch{
		Clear:  s.pendingClear,
		Done:   done,
		Points: make([]PointMessage, len(s.points)),
	}
	copy(batch.Points, s.points)
	s.publish("points", batch, false)

	s.points = s.points[:0]
	s.pendingClear = false
}

func (s *Stream) ClearWaypoints() {
	s.waypoints = s.waypoints[:0]
	s.waypointsClear = true
}

func (s *Stream) OnNewWaypoint(wp pkg.Waypoint) {
	s.waypoints = append(s.waypoints, wp)
}

func (s *Stream) OnNewWaypointsDone() {
	batch := WaypointBatch{
		Clear:     s.waypointsClear,
		Waypoints: make([]pkg.Waypoint, len(s.waypoints)),
	}
	copy(batch.Waypoints, s.waypoints)
	s.publish("waypoints", batch, false)

	s.waypoints = s.waypoints[:0]
	s.waypointsClear = false
}

func (s *Stream) OnCurrentLocationChanged(loc pkg.Location) {
	s.publish("location", loc, false)
}

func (s *Stream) OnCurrentHeadingChanged(degrees float64) {
	if !math.IsNaN(s.lastHeading) && angleDelta(s.lastHeading, degrees) < headingResolution {
		return
	}
	s.lastHeading = degrees
	s.publish("heading", map[string]interface{}{"degrees": degrees}, false)
}

func (s *Stream) OnProviderStateChange(state pkg.ProviderState) {
	s.publish("fix", map[string]interface{}{"state": state.String()}, true)
}

func (s *Stream) OnUnitsChanged(metric bool) bool {
	s.publish("preferences/metric_units", metric, true)
	return false
}

func (s *Stream) OnReportSpeedChanged(reportSpeed bool) bool {
	s.publish("preferences/report_speed", reportSpeed, true)
	return false
}

// angleDelta returns the smallest difference between two angles in degrees
func angleDelta(a, b float64) float64 {
	d := math.Mod(math.Abs(a-b), 360)
	if d > 180 {
		d = 360 - d
	}
	return d
}
