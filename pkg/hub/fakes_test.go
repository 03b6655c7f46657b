package hub

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

type notifier struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func(string)
}

func (n *notifier) Subscribe(fn func(string)) func() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.subs == nil {
		n.subs = make(map[int]func(string))
	}
	id := n.nextID
	n.nextID++
	n.subs[id] = fn
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.subs, id)
	}
}

func (n *notifier) notify(token string) {
	n.mu.Lock()
	fns := make([]func(string), 0, len(n.subs))
	for _, fn := range n.subs {
		fns = append(fns, fn)
	}
	n.mu.Unlock()
	for _, fn := range fns {
		fn(token)
	}
}

func (n *notifier) listeners() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.subs)
}

type fakePrefs struct {
	notifier
	mu     sync.Mutex
	values map[string]interface{}
	reads  int
}

func newFakePrefs() *fakePrefs {
	return &fakePrefs{values: make(map[string]interface{})}
}

func (p *fakePrefs) get(key string) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reads++
	v, ok := p.values[key]
	return v, ok
}

func (p *fakePrefs) readCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.reads
}

func (p *fakePrefs) GetInt64(key string, def int64) int64 {
	if v, ok := p.get(key); ok {
		return v.(int64)
	}
	return def
}

func (p *fakePrefs) GetInt(key string, def int) int {
	if v, ok := p.get(key); ok {
		return v.(int)
	}
	return def
}

func (p *fakePrefs) GetBool(key string, def bool) bool {
	if v, ok := p.get(key); ok {
		return v.(bool)
	}
	return def
}

func (p *fakePrefs) SetInt64(key string, value int64) error {
	p.set(key, value)
	return nil
}

func (p *fakePrefs) set(key string, value interface{}) {
	p.mu.Lock()
	p.values[key] = value
	p.mu.Unlock()
	p.notify(key)
}

type fakeStore struct {
	notifier
	mu        sync.Mutex
	tracks    map[int64]*pkg.Track
	points    []pkg.TrackPoint
	waypoints []pkg.Waypoint
	nextID    int64

	// failAfter makes the next iterator fail after that many points
	failAfter int
	// onPoint runs on the scanning goroutine before each point is returned
	onPoint func(pkg.TrackPoint)
}

func newFakeStore() *fakeStore {
	return &fakeStore{tracks: make(map[int64]*pkg.Track), nextID: 1, failAfter: -1}
}

func (s *fakeStore) addTrack(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[id] = &pkg.Track{ID: id, Name: name, StartID: -1, StopID: -1}
}

// addPoints appends n valid points to trackID and returns their ids.
func (s *fakeStore) addPoints(trackID int64, n int) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ids := make([]int64, 0, n)
	for i := 0; i < n; i++ {
		id := s.nextID
		s.nextID++
		s.points = append(s.points, pkg.TrackPoint{
			ID:      id,
			TrackID: trackID,
			Location: pkg.Location{
				Provider:  pkg.ProviderGPS,
				Latitude:  59.3 + float64(id)*1e-5,
				Longitude: 18.0 + float64(id)*1e-5,
				Accuracy:  5,
				Time:      base.Add(time.Duration(id) * time.Second),
			},
		})
		ids = append(ids, id)
	}
	if track := s.tracks[trackID]; track != nil {
		if track.StartID < 0 {
			track.StartID = ids[0]
		}
		track.StopID = ids[len(ids)-1]
		track.NumPoints += n
	}
	return ids
}

func (s *fakeStore) addSplit(trackID int64) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.points = append(s.points, pkg.TrackPoint{ID: id, TrackID: trackID, Location: pkg.SplitMarker(time.Now())})
	return id
}

func (s *fakeStore) renameTrack(id int64, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracks[id].Name = name
}

func (s *fakeStore) addWaypoint(wp pkg.Waypoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.waypoints = append(s.waypoints, wp)
}

func (s *fakeStore) GetTrack(_ context.Context, id int64) (*pkg.Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	track, ok := s.tracks[id]
	if !ok {
		return nil, errors.New("no such track")
	}
	copied := *track
	return &copied, nil
}

func (s *fakeStore) Points(_ context.Context, trackID, startID int64) (PointIterator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []pkg.TrackPoint
	for _, p := range s.points {
		if p.TrackID == trackID && p.ID >= startID {
			out = append(out, p)
		}
	}
	it := &sliceIterator{points: out, index: -1, failAfter: s.failAfter, onPoint: s.onPoint}
	s.failAfter = -1
	return it, nil
}

func (s *fakeStore) LastPointID(_ context.Context, trackID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last := int64(-1)
	for _, p := range s.points {
		if p.TrackID == trackID && p.ID > last {
			last = p.ID
		}
	}
	return last, nil
}

func (s *fakeStore) Waypoints(_ context.Context, trackID, minID int64, limit int) ([]pkg.Waypoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []pkg.Waypoint
	for _, wp := range s.waypoints {
		if wp.TrackID == trackID && wp.ID >= minID {
			out = append(out, wp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type sliceIterator struct {
	points    []pkg.TrackPoint
	index     int
	failAfter int
	onPoint   func(pkg.TrackPoint)
	err       error
	closed    bool
}

func (it *sliceIterator) Next() bool {
	if it.failAfter >= 0 && it.index+1 >= it.failAfter {
		it.err = errors.New("disk I/O error")
		return false
	}
	it.index++
	if it.index >= len(it.points) {
		return false
	}
	if it.onPoint != nil {
		it.onPoint(it.points[it.index])
	}
	return true
}

func (it *sliceIterator) Point() pkg.TrackPoint { return it.points[it.index] }
func (it *sliceIterator) Err() error            { return it.err }
func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

type fakeSource struct {
	mu         sync.Mutex
	location   *LocationCallbacks
	heading    func(float64)
	hasCompass bool
	lastKnown  map[string]pkg.Location
}

func newFakeSource() *fakeSource {
	return &fakeSource{hasCompass: true, lastKnown: make(map[string]pkg.Location)}
}

func (s *fakeSource) SubscribeLocation(cb LocationCallbacks) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.location = &cb
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.location = nil
	}
}

func (s *fakeSource) SubscribeHeading(fn func(float64)) (func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.hasCompass {
		return nil, false
	}
	s.heading = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.heading = nil
	}, true
}

func (s *fakeSource) LastKnownLocation(provider string) (pkg.Location, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, ok := s.lastKnown[provider]
	return loc, ok
}

func (s *fakeSource) callbacks() *LocationCallbacks {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.location
}

func (s *fakeSource) pushLocation(loc pkg.Location) {
	s.mu.Lock()
	s.lastKnown[loc.Provider] = loc
	s.mu.Unlock()
	if cb := s.callbacks(); cb != nil {
		cb.OnLocation(loc)
	}
}

func (s *fakeSource) setProviderEnabled(provider string, enabled bool) {
	if cb := s.callbacks(); cb != nil {
		cb.OnProviderEnabled(provider, enabled)
	}
}

func (s *fakeSource) pushHeading(degrees float64) {
	s.mu.Lock()
	fn := s.heading
	s.mu.Unlock()
	if fn != nil {
		fn(degrees)
	}
}

// recordingSubscriber keeps every callback it receives
type recordingSubscriber struct {
	mu         sync.Mutex
	events     []string
	points     []pkg.TrackPoint
	sampledOut []pkg.TrackPoint
	waypoints  []pkg.Waypoint
	states     []pkg.ProviderState
	locations  []pkg.Location
	headings   []float64
	tracks     []*pkg.Track
	recording  []bool
	units      []bool

	voteUnits bool
	voteSpeed bool
}

func (r *recordingSubscriber) log(event string) {
	r.events = append(r.events, event)
}

func (r *recordingSubscriber) OnSelectedTrackChanged(track *pkg.Track, recording bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventSelectedTrackChanged)
	r.tracks = append(r.tracks, track)
	r.recording = append(r.recording, recording)
}

func (r *recordingSubscriber) OnTrackUpdated(*pkg.Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventTrackUpdated)
}

func (r *recordingSubscriber) ClearTrackPoints() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventClearTrackPoints)
	r.points = nil
	r.sampledOut = nil
}

func (r *recordingSubscriber) OnNewTrackPoint(p pkg.TrackPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventNewTrackPoint)
	r.points = append(r.points, p)
}

func (r *recordingSubscriber) OnSampledOutTrackPoint(p pkg.TrackPoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventSampledOutTrackPoint)
	r.sampledOut = append(r.sampledOut, p)
}

func (r *recordingSubscriber) OnSegmentSplit() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventSegmentSplit)
}

func (r *recordingSubscriber) OnNewTrackPointsDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventNewTrackPointsDone)
}

func (r *recordingSubscriber) ClearWaypoints() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventClearWaypoints)
	r.waypoints = nil
}

func (r *recordingSubscriber) OnNewWaypoint(wp pkg.Waypoint) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventNewWaypoint)
	r.waypoints = append(r.waypoints, wp)
}

func (r *recordingSubscriber) OnNewWaypointsDone() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventNewWaypointsDone)
}

func (r *recordingSubscriber) OnCurrentLocationChanged(loc pkg.Location) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventLocationChanged)
	r.locations = append(r.locations, loc)
}

func (r *recordingSubscriber) OnCurrentHeadingChanged(heading float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventHeadingChanged)
	r.headings = append(r.headings, heading)
}

func (r *recordingSubscriber) OnProviderStateChange(state pkg.ProviderState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventProviderStateChange)
	r.states = append(r.states, state)
}

func (r *recordingSubscriber) OnUnitsChanged(metric bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventUnitsChanged)
	r.units = append(r.units, metric)
	return r.voteUnits
}

func (r *recordingSubscriber) OnReportSpeedChanged(bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log(EventReportSpeedChanged)
	return r.voteSpeed
}

func (r *recordingSubscriber) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

func (r *recordingSubscriber) eventLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recordingSubscriber) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

func (r *recordingSubscriber) pointIDs() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.points))
	for _, p := range r.points {
		ids = append(ids, p.ID)
	}
	return ids
}

func (r *recordingSubscriber) providerStates() []pkg.ProviderState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pkg.ProviderState(nil), r.states...)
}

type countingRecorder struct {
	mu        sync.Mutex
	resampled []int
	delivered map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{delivered: make(map[string]int)}
}

func (c *countingRecorder) EventsDelivered(event string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.delivered[event] += n
}

func (c *countingRecorder) Resampled(stride int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resampled = append(c.resampled, stride)
}

func (c *countingRecorder) ScanFinished(string, int) {}
func (c *countingRecorder) SubscribersChanged(int)   {}
func (c *countingRecorder) QueueDepth(int)           {}

func (c *countingRecorder) resamples() []int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]int(nil), c.resampled...)
}

type testHub struct {
	*Hub
	prefs  *fakePrefs
	store  *fakeStore
	source *fakeSource
	rec    *countingRecorder
	now    time.Time
}

func newTestHub(t *testing.T, configure func(*Config)) *testHub {
	t.Helper()

	th := &testHub{
		prefs:  newFakePrefs(),
		store:  newFakeStore(),
		source: newFakeSource(),
		rec:    newCountingRecorder(),
		now:    time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC),
	}
	config := DefaultConfig()
	config.Recorder = th.rec
	config.Now = func() time.Time { return th.now }
	if configure != nil {
		configure(config)
	}

	logger := logx.NewLogger("error", "hub-test")
	th.Hub = New(config, th.prefs, th.store, th.source, logger)
	t.Cleanup(func() {
		switch th.Hub.Stats().State {
		case stateTerminated.String():
			return
		case stateNotStarted.String():
			th.Hub.Start()
		}
		th.Hub.Stop()
		th.Hub.Destroy()
	})
	return th
}

func gpsFix(at time.Time, accuracy float64) pkg.Location {
	return pkg.Location{
		Provider:  pkg.ProviderGPS,
		Latitude:  59.33,
		Longitude: 18.06,
		Accuracy:  accuracy,
		Time:      at,
	}
}
