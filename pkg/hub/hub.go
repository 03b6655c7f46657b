package hub

import (
	"context"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

type lifecycle int

const (
	stateNotStarted lifecycle = iota
	stateStarted
	stateStopped
	stateTerminated
)

func (l lifecycle) String() string {
	switch l {
	case stateNotStarted:
		return "NOT_STARTED"
	case stateStarted:
		return "STARTED"
	case stateStopped:
		return "STOPPED"
	case stateTerminated:
		return "TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// Config holds hub tunables
type Config struct {
	MaxDisplayedPoints    int
	TargetDisplayedPoints int
	MaxDisplayedWaypoints int
	MaxLocationAge        time.Duration
	MaxNetworkAge         time.Duration

	// Now is the clock used for freshness checks
	Now func() time.Time
	// Declination returns the magnetic declination in degrees at a position
	Declination DeclinationFunc
	// Recorder receives instrumentation; nil disables it
	Recorder Recorder
}

// DefaultConfig returns the production limits
func DefaultConfig() *Config {
	return &Config{
		MaxDisplayedPoints:    pkg.MaxDisplayedTrackPoints,
		TargetDisplayedPoints: pkg.TargetDisplayedTrackPoints,
		MaxDisplayedWaypoints: pkg.MaxDisplayedWaypoints,
		MaxLocationAge:        pkg.MaxLocationAge,
		MaxNetworkAge:         pkg.MaxNetworkAge,
		Now:                   time.Now,
		Declination:           DipoleDeclination,
	}
}

// Stats is a point-in-time view of the hub for status endpoints
type Stats struct {
	State            string `json:"state"`
	Subscribers      int    `json:"subscribers"`
	SelectedTrackID  int64  `json:"selected_track_id"`
	RecordingTrackID int64  `json:"recording_track_id"`

	NumLoadedPoints  int     `json:"num_loaded_points"`
	FirstSeenPointID int64   `json:"first_seen_point_id"`
	LastSeenPointID  int64   `json:"last_seen_point_id"`
	Stride           int     `json:"stride"`
	ProviderState    string  `json:"provider_state"`
	MetricUnits      bool    `json:"metric_units"`
	ReportSpeed      bool    `json:"report_speed"`
	Declination      float64 `json:"declination"`
}

// Hub fans out the selected track, live location and display preferences
// to registered subscribers. All subscriber callbacks run on a single
// notification goroutine, in the order the triggering events arrived.
type Hub struct {
	config *Config
	logger *logx.Logger
	perf   *logx.PerformanceLogger
	rec    Recorder

	prefs  PreferenceStore
	store  TrackStore
	source LocationSource

	ctx    context.Context
	cancel context.CancelFunc
	sched  *scheduler

	mu       sync.Mutex
	state    lifecycle
	registry *registry

	unsubPrefs    func()
	unsubStore    func()
	unsubLocation func()
	unsubHeading  func()

	selectedTrackID  atomic.Int64
	recordingTrackID atomic.Int64

	// false until the started hub has read the persisted selection
	selectionLoaded atomic.Bool

	// Owned by the notification goroutine
	sampler               *sampler
	fix                   *fixTracker
	metricUnits           bool
	reportSpeed           bool
	minRequiredAccuracy   int
	lastSeenLocation      *pkg.Location
	lastHeading           float64
	declination           float64
	lastDeclinationUpdate time.Time
	noLocationNoticed     bool
	shownTrack            *pkg.Track
	shownWaypoints        []pkg.Waypoint

	statsMu sync.Mutex
	stats   Stats
}

// New creates a hub in the NOT_STARTED state.
func New(config *Config, prefs PreferenceStore, store TrackStore, source LocationSource, logger *logx.Logger) *Hub {
	if config == nil {
		config = DefaultConfig()
	}
	defaults := DefaultConfig()
	if config.MaxDisplayedPoints <= 0 {
		config.MaxDisplayedPoints = defaults.MaxDisplayedPoints
	}
	if config.TargetDisplayedPoints <= 0 {
		config.TargetDisplayedPoints = defaults.TargetDisplayedPoints
	}
	if config.MaxDisplayedWaypoints <= 0 {
		config.MaxDisplayedWaypoints = defaults.MaxDisplayedWaypoints
	}
	if config.MaxLocationAge <= 0 {
		config.MaxLocationAge = defaults.MaxLocationAge
	}
	if config.MaxNetworkAge <= 0 {
		config.MaxNetworkAge = defaults.MaxNetworkAge
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Declination == nil {
		config.Declination = DipoleDeclination
	}
	if config.Recorder == nil {
		config.Recorder = nopRecorder{}
	}
	if logger == nil {
		logger = logx.NewLogger("info", "hub")
	}

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		config:              config,
		logger:              logger,
		perf:                logx.NewPerformanceLogger(logger, 250*time.Millisecond),
		rec:                 config.Recorder,
		prefs:               prefs,
		store:               store,
		source:              source,
		ctx:                 ctx,
		cancel:              cancel,
		registry:            newRegistry(),
		fix:                 newFixTracker(),
		metricUnits:         true,
		minRequiredAccuracy: pkg.DefaultMinRequiredAccuracy,
	}
	h.selectedTrackID.Store(-1)
	h.recordingTrackID.Store(-1)
	h.sampler = &sampler{
		store:     store,
		maxPoints: config.MaxDisplayedPoints,
		target:    config.TargetDisplayedPoints,
		logger:    logger,
		perf:      h.perf,
		rec:       h.rec,
		live:      h.selectedTrackID.Load,
		targets:   h.pointTargets,
		state:     emptySamplingState(-1),
	}
	h.sched = newScheduler(logger, h.rec.QueueDepth)
	return h
}

// Start begins listening to the stores and the location source and replays
// the full state to every registered subscriber. Starting twice is a no-op.
func (h *Hub) Start() {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateStarted:
		h.logger.Warn("hub already started, ignoring start")
		return
	case stateTerminated:
		precondition("Start", ErrTerminated)
	}

	from := h.state
	h.state = stateStarted
	h.selectionLoaded.Store(false)
	h.logger.LogStateChange("hub", from.String(), h.state.String(), "start")

	h.post(func() {
		h.loadSelection()
		h.loadPreferences()
		h.loadDataForAll()
	})
	h.updateInternalListenersLocked()
}

// Stop detaches from every source. Subscribers stay registered and get a
// full replay on the next Start.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch h.state {
	case stateStarted:
	case stateTerminated:
		precondition("Stop", ErrTerminated)
	default:
		h.logger.Warn("hub not started, ignoring stop", "state", h.state.String())
		return
	}

	h.state = stateStopped
	h.updateInternalListenersLocked()
	h.logger.LogStateChange("hub", stateStarted.String(), h.state.String(), "stop")
}

// Destroy shuts down the notification goroutine after draining queued
// work. The hub must have been started and stopped first.
func (h *Hub) Destroy() {
	h.mu.Lock()
	switch h.state {
	case stateNotStarted:
		h.mu.Unlock()
		precondition("Destroy", ErrNotStarted)
	case stateStarted:
		h.mu.Unlock()
		precondition("Destroy", ErrStillStarted)
	case stateTerminated:
		h.mu.Unlock()
		h.logger.Warn("hub already destroyed")
		return
	}
	from := h.state
	h.state = stateTerminated
	h.mu.Unlock()

	h.sched.close()
	h.cancel()
	h.logger.LogStateChange("hub", from.String(), stateTerminated.String(), "destroy")
}

// RegisterSubscriber adds s with the given interests; no types means all.
// If the hub is started the new subscriber receives a full replay.
func (h *Hub) RegisterSubscriber(s Subscriber, types ...DataType) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == stateTerminated {
		precondition("RegisterSubscriber", ErrTerminated)
	}
	reg, err := h.registry.add(s, TypesOf(types...))
	if err != nil {
		precondition("RegisterSubscriber", err)
	}
	h.rec.SubscribersChanged(h.registry.len())
	h.logger.Debug("subscriber registered", "types", reg.types.String(), "subscribers", h.registry.len())

	h.updateInternalListenersLocked()
	if h.state == stateStarted {
		h.post(func() { h.loadDataFor(reg) })
	}
}

// UnregisterSubscriber removes s. Unknown subscribers are ignored.
func (h *Hub) UnregisterSubscriber(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.registry.remove(s) {
		h.logger.Warn("tried to unregister a subscriber that is not registered")
		return
	}
	h.rec.SubscribersChanged(h.registry.len())
	h.updateInternalListenersLocked()
}

// ReloadDataForSubscriber replays the full state to one registered subscriber.
func (h *Hub) ReloadDataForSubscriber(s Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requireInitializedLocked("ReloadDataForSubscriber")
	reg, ok := h.registry.get(s)
	if !ok {
		h.logger.Warn("reload requested for an unregistered subscriber")
		return
	}
	if h.state == stateStarted {
		h.post(func() { h.loadDataFor(reg) })
	}
}

// LoadTrack selects trackID, persists the selection and reloads every
// subscriber. Selecting the current track is a no-op.
func (h *Hub) LoadTrack(trackID int64) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requireInitializedLocked("LoadTrack")
	if h.selectionLoaded.Load() && trackID == h.selectedTrackID.Load() {
		h.logger.Debug("track already selected", "track_id", trackID)
		return
	}

	h.selectedTrackID.Store(trackID)
	if err := h.prefs.SetInt64(KeySelectedTrackID, trackID); err != nil {
		h.logger.Warn("failed to persist selected track", "track_id", trackID, "error", err)
	}
	h.logger.Info("track selected", "track_id", trackID)

	if h.state == stateStarted {
		h.post(h.loadDataForAll)
	}
}

// UnloadCurrentTrack clears the selection.
func (h *Hub) UnloadCurrentTrack() {
	h.LoadTrack(-1)
}

// ForceUpdateLocation re-announces the freshest known location and the fix
// state to location subscribers.
func (h *Hub) ForceUpdateLocation() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.requireInitializedLocked("ForceUpdateLocation")
	if h.state == stateStarted {
		h.post(h.refreshLocation)
	}
}

// SelectedTrackID returns the selected track id or -1.
func (h *Hub) SelectedTrackID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requireInitializedLocked("SelectedTrackID")
	return h.selectedTrackID.Load()
}

// IsRecordingSelected reports whether the selected track is being recorded.
func (h *Hub) IsRecordingSelected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.requireInitializedLocked("IsRecordingSelected")
	return h.isRecordingSelected()
}

// Stats returns a snapshot of the hub state.
func (h *Hub) Stats() Stats {
	h.statsMu.Lock()
	stats := h.stats
	h.statsMu.Unlock()

	h.mu.Lock()
	stats.State = h.state.String()
	stats.Subscribers = h.registry.len()
	h.mu.Unlock()

	stats.SelectedTrackID = h.selectedTrackID.Load()
	stats.RecordingTrackID = h.recordingTrackID.Load()
	return stats
}

// Flush blocks until every notification queued before the call has been
// delivered.
func (h *Hub) Flush() {
	h.sched.barrier()
}

func (h *Hub) requireInitializedLocked(op string) {
	switch h.state {
	case stateNotStarted:
		precondition(op, ErrNotStarted)
	case stateTerminated:
		precondition(op, ErrTerminated)
	}
}

func (h *Hub) isRecordingSelected() bool {
	recording := h.recordingTrackID.Load()
	return recording >= 0 && recording == h.selectedTrackID.Load()
}

// post queues task on the notification goroutine and refreshes the stats
// mirror after it ran.
func (h *Hub) post(task func()) {
	ok := h.sched.post(func() {
		task()
		h.publishStats()
	})
	if !ok {
		h.logger.Debug("dropping notification task, hub destroyed")
	}
}

// updateInternalListenersLocked attaches exactly the source listeners the
// registered subscribers need, and none unless the hub is started.
func (h *Hub) updateInternalListenersLocked() {
	var needed DataTypes
	if h.state == stateStarted {
		needed = h.registry.neededTypes()
	}

	wantPrefs := needed != 0
	wantStore := needed&TypesOf(SelectedTrack, TrackUpdates, WaypointUpdates, PointUpdates, SampledOutPointUpdates) != 0
	wantLocation := needed.Has(LocationUpdates)
	wantHeading := needed.Has(HeadingUpdates)

	switch {
	case wantPrefs && h.unsubPrefs == nil:
		h.unsubPrefs = h.prefs.Subscribe(func(key string) {
			h.post(func() { h.onPreferenceChanged(key) })
		})
		// Changes may have been missed while detached
		h.post(func() { h.onPreferenceChanged("") })
	case !wantPrefs && h.unsubPrefs != nil:
		h.unsubPrefs()
		h.unsubPrefs = nil
	}

	switch {
	case wantStore && h.unsubStore == nil:
		h.unsubStore = h.store.Subscribe(func(token string) {
			h.post(func() { h.onStoreChanged(token) })
		})
	case !wantStore && h.unsubStore != nil:
		h.unsubStore()
		h.unsubStore = nil
	}

	switch {
	case wantLocation && h.unsubLocation == nil:
		h.unsubLocation = h.source.SubscribeLocation(LocationCallbacks{
			OnLocation: func(loc pkg.Location) {
				h.post(func() { h.onLocationChanged(loc, false, nil) })
			},
			OnProviderEnabled: func(provider string, enabled bool) {
				h.post(func() { h.onProviderEnabled(provider, enabled) })
			},
			OnProviderAvailable: func(provider string, available bool) {
				h.post(func() { h.onProviderAvailable(provider, available) })
			},
		})
	case !wantLocation && h.unsubLocation != nil:
		h.unsubLocation()
		h.unsubLocation = nil
	}

	switch {
	case wantHeading && h.unsubHeading == nil:
		unsub, ok := h.source.SubscribeHeading(func(degrees float64) {
			h.post(func() { h.onHeadingChanged(degrees) })
		})
		if !ok {
			h.logger.Info("no compass available, heading updates disabled")
			break
		}
		h.unsubHeading = unsub
	case !wantHeading && h.unsubHeading != nil:
		h.unsubHeading()
		h.unsubHeading = nil
	}
}

func (h *Hub) pointTargets() pointTargets {
	return pointTargets{
		sampledIn:  h.registry.subscribersFor(PointUpdates),
		sampledOut: h.registry.subscribersFor(SampledOutPointUpdates),
		clear:      h.registry.subscribersForAny(TypesOf(PointUpdates, SampledOutPointUpdates)),
	}
}

// loadDataForAll resets the sampling state for the live selection and
// replays everything to every subscriber.
func (h *Hub) loadDataForAll() {
	trackID := h.selectedTrackID.Load()
	h.sampler.reset(trackID)
	if h.registry.len() == 0 {
		return
	}
	h.logger.Debug("reloading all subscribers", "track_id", trackID)

	h.notifyPreferences(h.registry.subscribersFor(DisplayPreferences))
	h.notifySelectedTrackChanged(h.registry.subscribersFor(SelectedTrack))
	h.notifyTrackUpdated(h.registry.subscribersFor(TrackUpdates))

	targets := h.pointTargets()
	deliver(h.rec, EventClearTrackPoints, targets.clear, func(s Subscriber) { s.ClearTrackPoints() })
	h.sampler.run(h.ctx, pointPass{
		trackID:    trackID,
		keepState:  true,
		recording:  h.isRecordingSelected(),
		sampledIn:  targets.sampledIn,
		sampledOut: targets.sampledOut,
	})

	h.notifyWaypoints(h.registry.subscribersFor(WaypointUpdates))
	h.replayLocation(h.registry.subscribersFor(LocationUpdates))
	h.notifyHeading(h.registry.subscribersFor(HeadingUpdates))
}

// loadDataFor replays everything reg is interested in to reg only.
func (h *Hub) loadDataFor(reg *registration) {
	if current, ok := h.registry.get(reg.subscriber); !ok || current != reg {
		return
	}
	one := []Subscriber{reg.subscriber}
	types := reg.types

	if types.Has(DisplayPreferences) {
		h.notifyPreferences(one)
	}
	if types.Has(SelectedTrack) {
		h.notifySelectedTrackChanged(one)
	}
	if types.Has(TrackUpdates) {
		h.notifyTrackUpdated(one)
	}
	if types.Has(PointUpdates) || types.Has(SampledOutPointUpdates) {
		h.replayPoints(reg)
	}
	if types.Has(WaypointUpdates) {
		h.notifyWaypoints(one)
	}
	if types.Has(LocationUpdates) {
		h.replayLocation(one)
	}
	if types.Has(HeadingUpdates) {
		h.notifyHeading(one)
	}
}

func (h *Hub) replayPoints(reg *registration) {
	one := []Subscriber{reg.subscriber}
	var in, out []Subscriber
	if reg.types.Has(PointUpdates) {
		in = one
	}
	if reg.types.Has(SampledOutPointUpdates) {
		out = one
	}

	deliver(h.rec, EventClearTrackPoints, one, func(s Subscriber) { s.ClearTrackPoints() })

	trackID := h.selectedTrackID.Load()
	switch {
	case h.sampler.state.trackID != trackID:
		// A full reload is queued and will include this subscriber
		deliver(h.rec, EventNewTrackPointsDone, in, func(s Subscriber) { s.OnNewTrackPointsDone() })
	case h.sampler.state.lastSeenID < 0 && !h.hasUndeliveredPoints(trackID):
		// Nothing to deliver; existing subscribers already saw this state
		deliver(h.rec, EventNewTrackPointsDone, in, func(s Subscriber) { s.OnNewTrackPointsDone() })
	case h.sampler.state.lastSeenID < 0:
		// Nothing delivered yet: load incrementally for everyone
		targets := h.pointTargets()
		h.sampler.run(h.ctx, pointPass{
			trackID:    trackID,
			keepState:  true,
			recording:  h.isRecordingSelected(),
			sampledIn:  targets.sampledIn,
			sampledOut: targets.sampledOut,
		})
	default:
		h.sampler.run(h.ctx, pointPass{
			trackID:    trackID,
			recording:  h.isRecordingSelected(),
			sampledIn:  in,
			sampledOut: out,
		})
	}
}

// hasUndeliveredPoints reports whether trackID has points past the last one
// delivered. Store errors count as points so the pass runs and logs them.
func (h *Hub) hasUndeliveredPoints(trackID int64) bool {
	if trackID < 0 {
		return false
	}
	lastID, err := h.store.LastPointID(h.ctx, trackID)
	if err != nil {
		return true
	}
	return lastID > h.sampler.state.lastSeenID
}

// onStoreChanged reacts to store changes affecting the selected track.
// Tokens do not say which track changed, so for a track that is not being
// recorded the track and its waypoints are compared with what subscribers
// last saw and only real differences are delivered.
func (h *Hub) onStoreChanged(token string) {
	trackID := h.selectedTrackID.Load()
	if trackID < 0 {
		return
	}
	recording := h.isRecordingSelected()

	switch token {
	case ChangeTrackPoints:
		if h.sampler.state.trackID != trackID || !h.hasUndeliveredPoints(trackID) {
			return
		}
		targets := h.pointTargets()
		h.sampler.run(h.ctx, pointPass{
			trackID:    trackID,
			keepState:  true,
			recording:  recording,
			sampledIn:  targets.sampledIn,
			sampledOut: targets.sampledOut,
		})
	case ChangeTracks:
		subs := h.registry.subscribersFor(TrackUpdates)
		if len(subs) == 0 {
			return
		}
		track := h.loadSelectedTrack()
		if track == nil || (!recording && sameTrack(h.shownTrack, track)) {
			return
		}
		h.deliverTrackUpdated(subs, track)
	case ChangeWaypoints:
		subs := h.registry.subscribersFor(WaypointUpdates)
		if len(subs) == 0 {
			return
		}
		waypoints, ok := h.loadWaypoints()
		if !ok || (!recording && sameWaypoints(h.shownWaypoints, waypoints)) {
			return
		}
		h.deliverWaypoints(subs, waypoints)
	default:
		h.logger.Debug("ignoring unknown store change", "token", token)
	}
}

func (h *Hub) loadSelectedTrack() *pkg.Track {
	trackID := h.selectedTrackID.Load()
	if trackID < 0 {
		return nil
	}
	track, err := h.store.GetTrack(h.ctx, trackID)
	if err != nil {
		h.logger.Warn("failed to load selected track", "track_id", trackID, "error", err)
		return nil
	}
	return track
}

func (h *Hub) notifySelectedTrackChanged(subs []Subscriber) {
	if len(subs) == 0 {
		return
	}
	track := h.loadSelectedTrack()
	recording := h.isRecordingSelected()
	deliver(h.rec, EventSelectedTrackChanged, subs, func(s Subscriber) { s.OnSelectedTrackChanged(track, recording) })
}

func (h *Hub) notifyTrackUpdated(subs []Subscriber) {
	if len(subs) == 0 {
		return
	}
	track := h.loadSelectedTrack()
	if track == nil {
		return
	}
	h.deliverTrackUpdated(subs, track)
}

func (h *Hub) deliverTrackUpdated(subs []Subscriber, track *pkg.Track) {
	shown := *track
	h.shownTrack = &shown
	deliver(h.rec, EventTrackUpdated, subs, func(s Subscriber) { s.OnTrackUpdated(track) })
}

func (h *Hub) notifyWaypoints(subs []Subscriber) {
	if len(subs) == 0 {
		return
	}
	waypoints, ok := h.loadWaypoints()
	if !ok {
		return
	}
	h.deliverWaypoints(subs, waypoints)
}

// loadWaypoints reads the selected track's waypoints up to the display cap.
func (h *Hub) loadWaypoints() ([]pkg.Waypoint, bool) {
	trackID := h.selectedTrackID.Load()
	if trackID < 0 {
		return nil, true
	}

	op := h.perf.StartOperation("waypoints_scan")
	waypoints, err := h.store.Waypoints(h.ctx, trackID, 0, h.config.MaxDisplayedWaypoints)
	op.AddItems(len(waypoints))
	op.Complete(err)
	if err != nil {
		h.logger.Warn("failed to load waypoints", "track_id", trackID, "error", err)
		return nil, false
	}
	return waypoints, true
}

func (h *Hub) deliverWaypoints(subs []Subscriber, waypoints []pkg.Waypoint) {
	h.shownWaypoints = waypoints

	deliver(h.rec, EventClearWaypoints, subs, func(s Subscriber) { s.ClearWaypoints() })
	for _, wp := range waypoints {
		if !wp.Location.IsValid() {
			continue
		}
		wp := wp
		deliver(h.rec, EventNewWaypoint, subs, func(s Subscriber) { s.OnNewWaypoint(wp) })
	}
	deliver(h.rec, EventNewWaypointsDone, subs, func(s Subscriber) { s.OnNewWaypointsDone() })
}

func sameTrack(a, b *pkg.Track) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.ID == b.ID &&
		a.Name == b.Name &&
		a.StartID == b.StartID &&
		a.StopID == b.StopID &&
		a.NumPoints == b.NumPoints &&
		a.StartTime.Equal(b.StartTime) &&
		a.StopTime.Equal(b.StopTime)
}

func sameWaypoints(a, b []pkg.Waypoint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.ID != y.ID || x.TrackID != y.TrackID || x.Name != y.Name ||
			x.Description != y.Description || x.Type != y.Type ||
			!sameLocation(x.Location, y.Location) {
			return false
		}
	}
	return true
}

func sameLocation(a, b pkg.Location) bool {
	return a.Provider == b.Provider &&
		sameFloat(a.Latitude, b.Latitude) &&
		sameFloat(a.Longitude, b.Longitude) &&
		sameFloat(a.Altitude, b.Altitude) &&
		sameFloat(a.Accuracy, b.Accuracy) &&
		sameFloat(a.Speed, b.Speed) &&
		sameFloat(a.Bearing, b.Bearing) &&
		a.Time.Equal(b.Time)
}

func sameFloat(a, b float64) bool {
	return a == b || (math.IsNaN(a) && math.IsNaN(b))
}

func (h *Hub) publishStats() {
	state := h.sampler.state
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	h.stats.NumLoadedPoints = state.numLoaded
	h.stats.FirstSeenPointID = state.firstSeenID
	h.stats.LastSeenPointID = state.lastSeenID
	h.stats.Stride = state.stride
	h.stats.ProviderState = h.fix.state().String()
	h.stats.MetricUnits = h.metricUnits
	h.stats.ReportSpeed = h.reportSpeed
	h.stats.Declination = h.declination
}
