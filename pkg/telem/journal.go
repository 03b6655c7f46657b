package telem

import (
	"fmt"
	"sync"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
)

var _ hub.Subscriber = (*Journal)(nil)

// Entry is one journaled hub event
type Entry struct {
	Seq       uint64      `json:"seq"`
	Timestamp time.Time   `json:"timestamp"`
	Event     string      `json:"event"`
	Data      interface{} `json:"data,omitempty"`
}

// Journal is a hub subscriber that keeps the most recent events in RAM
type Journal struct {
	mu        sync.RWMutex
	events    *RingBuffer
	retention time.Duration
	seq       uint64
	now       func() time.Time

	// Track point events are frequent; they are only journaled when enabled.
	includePoints bool

	lastCleanup time.Time
}

// NewJournal creates a journal keeping up to capacity events for retention
func NewJournal(capacity int, retention time.Duration, includePoints bool) (*Journal, error) {
	if capacity < 1 || capacity > 100000 {
		return nil, fmt.Errorf("journal capacity must be between 1 and 100000")
	}
	if retention <= 0 {
		return nil, fmt.Errorf("journal retention must be positive")
	}
	return &Journal{
		events:        NewRingBuffer(capacity),
		retention:     retention,
		includePoints: includePoints,
		now:           time.Now,
		lastCleanup:   time.Now(),
	}, nil
}

func (j *Journal) add(event string, data interface{}) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	now := j.now()
	j.events.Add(&Entry{Seq: j.seq, Timestamp: now, Event: event, Data: data})

	if now.Sub(j.lastCleanup) > time.Hour {
		j.events.RemoveBefore(now.Add(-j.retention))
		j.lastCleanup = now
	}
}

// Events returns events newer than since, oldest first, at most limit when limit > 0
func (j *Journal) Events(since time.Time, limit int) []*Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	events := j.events.GetSince(since)
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// Size returns the number of journaled events
func (j *Journal) Size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.events.Size()
}

// Cleanup drops events older than the retention window
func (j *Journal) Cleanup() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lastCleanup = j.now()
	return j.events.RemoveBefore(j.lastCleanup.Add(-j.retention))
}

func (j *Journal) OnSelectedTrackChanged(track *pkg.Track, isRecording bool) {
	data := map[string]interface{}{"track_id": int64(-1), "recording": isRecording}
	if track != nil {
		data["track_id"] = track.ID
		data["name"] = track.Name
	}
	j.add(hub.EventSelectedTrackChanged, data)
}

func (j *Journal) OnTrackUpdated(track *pkg.Track) {
	j.add(hub.EventTrackUpdated, map[string]interface{}{
		"track_id":   track.ID,
		"num_points": track.NumPoints,
	})
}

func (j *Journal) ClearTrackPoints() { j.add(hub.EventClearTrackPoints, nil) }

func (j *Journal) OnNewTrackPoint(point pkg.TrackPoint) {
	if j.includePoints {
		j.add(hub.EventNewTrackPoint, point)
	}
}

func (j *Journal) OnSampledOutTrackPoint(point pkg.TrackPoint) {
	if j.includePoints {
		j.add(hub.EventSampledOutTrackPoint, point)
	}
}

func (j *Journal) OnSegmentSplit()       { j.add(hub.EventSegmentSplit, nil) }
func (j *Journal) OnNewTrackPointsDone() { j.add(hub.EventNewTrackPointsDone, nil) }
func (j *Journal) ClearWaypoints()       { j.add(hub.EventClearWaypoints, nil) }

func (j *Journal) OnNewWaypoint(wp pkg.Waypoint) {
	j.add(hub.EventNewWaypoint, map[string]interface{}{
		"waypoint_id": wp.ID,
		"name":        wp.Name,
		"type":        wp.Type.String(),
	})
}

func (j *Journal) OnNewWaypointsDone() { j.add(hub.EventNewWaypointsDone, nil) }

func (j *Journal) OnCurrentLocationChanged(loc pkg.Location) {
	j.add(hub.EventLocationChanged, loc)
}

func (j *Journal) OnCurrentHeadingChanged(degrees float64) {
	j.add(hub.EventHeadingChanged, map[string]interface{}{"degrees": degrees})
}

func (j *Journal) OnProviderStateChange(state pkg.ProviderState) {
	j.add(hub.EventProviderStateChange, map[string]interface{}{"state": state.String()})
}

func (j *Journal) OnUnitsChanged(metric bool) bool {
	j.add(hub.EventUnitsChanged, map[string]interface{}{"metric": metric})
	return false
}

func (j *Journal) OnReportSpeedChanged(reportSpeed bool) bool {
	j.add(hub.EventReportSpeedChanged, map[string]interface{}{"report_speed": reportSpeed})
	return false
}

// RingBuffer is a fixed capacity buffer of journal entries; the oldest entry
// is overwritten when full.
type RingBuffer struct {
	data     []*Entry
	capacity int
	head     int
	tail     int
	size     int
}

// NewRingBuffer creates a ring buffer
func NewRingBuffer(capacity int) *RingBuffer {
	return &RingBuffer{
		data:     make([]*Entry, capacity),
		capacity: capacity,
	}
}

// Add appends an entry
func (rb *RingBuffer) Add(e *Entry) {
	rb.data[rb.tail] = e
	rb.tail = (rb.tail + 1) % rb.capacity

	if rb.size < rb.capacity {
		rb.size++
	} else {
		rb.head = (rb.head + 1) % rb.capacity
	}
}

// GetSince returns a copy of the entries strictly after since
func (rb *RingBuffer) GetSince(since time.Time) []*Entry {
	result := make([]*Entry, 0, rb.size)
	for i := 0; i < rb.size; i++ {
		e := rb.data[(rb.head+i)%rb.capacity]
		if e.Timestamp.After(since) {
			result = append(result, e)
		}
	}
	return result
}

// RemoveBefore drops entries not after before and returns how many were removed.
// Entries are in time order, so only the head moves.
func (rb *RingBuffer) RemoveBefore(before time.Time) int {
	removed := 0
	for rb.size > 0 {
		e := rb.data[rb.head]
		if e.Timestamp.After(before) {
			break
		}
		rb.data[rb.head] = nil
		rb.head = (rb.head + 1) % rb.capacity
		rb.size--
		removed++
	}
	return removed
}

// Size returns the current number of entries
func (rb *RingBuffer) Size() int {
	return rb.size
}

// Capacity returns the buffer capacity
func (rb *RingBuffer) Capacity() int {
	return rb.capacity
}
