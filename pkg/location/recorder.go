package location

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

var (
	ErrAlreadyRecording = errors.New("a track is already being recorded")
	ErrNotRecording     = errors.New("no track is being recorded")
)

// PointWriter is the write side of the track store
type PointWriter interface {
	CreateTrack(ctx context.Context, name string, start time.Time) (int64, error)
	FinishTrack(ctx context.Context, trackID int64, stop time.Time) error
	InsertPoint(ctx context.Context, trackID int64, loc pkg.Location) (int64, error)
	InsertSplit(ctx context.Context, trackID int64, at time.Time) (int64, error)
}

// RecorderConfig holds recording filters
type RecorderConfig struct {
	MinDistance  float64       `json:"min_distance"` // meters
	SplitGap     time.Duration `json:"split_gap"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// DefaultRecorderConfig returns the default filters
func DefaultRecorderConfig() *RecorderConfig {
	return &RecorderConfig{
		MinDistance:  2,
		SplitGap:     5 * time.Minute,
		WriteTimeout: 5 * time.Second,
	}
}

// Recorder appends GPS fixes to the recording track
type Recorder struct {
	config *RecorderConfig
	store  PointWriter
	prefs  hub.PreferenceStore
	logger *logx.Logger
	now    func() time.Time

	mu          sync.Mutex
	last        *pkg.Location
	needSplit   bool
	unsubscribe func()
}

// NewRecorder creates a recorder writing through store
func NewRecorder(config *RecorderConfig, store PointWriter, prefs hub.PreferenceStore, logger *logx.Logger) *Recorder {
	if config == nil {
		config = DefaultRecorderConfig()
	}
	return &Recorder{
		config: config,
		store:  store,
		prefs:  prefs,
		logger: logger,
		now:    time.Now,
	}
}

// Attach starts recording fixes pushed into source
func (r *Recorder) Attach(source *Source) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		return
	}
	r.unsubscribe = source.SubscribeLocation(hub.LocationCallbacks{
		OnLocation:        r.onLocation,
		OnProviderEnabled: r.onProviderEnabled,
	})
}

// Detach stops listening to the source
func (r *Recorder) Detach() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// RecordingTrackID returns the recording track id or -1
func (r *Recorder) RecordingTrackID() int64 {
	return r.prefs.GetInt64(hub.KeyRecordingTrackID, -1)
}

// StartRecording creates a track and marks it as recording
func (r *Recorder) StartRecording(ctx context.Context, name string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.RecordingTrackID() >= 0 {
		return 0, ErrAlreadyRecording
	}
	now := r.now()
	if name == "" {
		name = now.Format("2006-01-02 15:04")
	}
	trackID, err := r.store.CreateTrack(ctx, name, now)
	if err != nil {
		return 0, err
	}
	if err := r.prefs.SetInt64(hub.KeyRecordingTrackID, trackID); err != nil {
		return 0, err
	}
	r.last = nil
	r.needSplit = false

	r.logger.LogStateChange("recorder", "idle", "recording", name)
	return trackID, nil
}

// StopRecording finishes the recording track
func (r *Recorder) StopRecording(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	trackID := r.RecordingTrackID()
	if trackID < 0 {
		return ErrNotRecording
	}
	if err := r.store.FinishTrack(ctx, trackID, r.now()); err != nil {
		return err
	}
	if err := r.prefs.SetInt64(hub.KeyRecordingTrackID, -1); err != nil {
		return err
	}
	r.last = nil

	r.logger.LogStateChange("recorder", "recording", "idle", "stopped")
	return nil
}

func (r *Recorder) onLocation(loc pkg.Location) {
	if loc.Provider != pkg.ProviderGPS || !loc.IsValid() {
		return
	}
	trackID := r.RecordingTrackID()
	if trackID < 0 {
		return
	}
	minAccuracy := r.prefs.GetInt(hub.KeyMinRequiredAccuracy, pkg.DefaultMinRequiredAccuracy)
	if loc.Accuracy > float64(minAccuracy) {
		r.logger.LogDebugVerbose("fix_not_recorded", map[string]interface{}{
			"reason":       "accuracy_too_low",
			"accuracy":     loc.Accuracy,
			"min_required": minAccuracy,
		})
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.config.WriteTimeout)
	defer cancel()

	if r.last != nil {
		gap := loc.Time.Sub(r.last.Time)
		switch {
		case r.needSplit || gap > r.config.SplitGap:
			if _, err := r.store.InsertSplit(ctx, trackID, loc.Time); err != nil {
				r.logger.Warn("failed to store segment split", "track_id", trackID, "error", err)
				return
			}
		case Distance(*r.last, loc) < r.config.MinDistance:
			return
		}
	}

	if _, err := r.store.InsertPoint(ctx, trackID, loc); err != nil {
		r.logger.Warn("failed to store fix", "track_id", trackID, "error", err)
		return
	}
	r.last = &loc
	r.needSplit = false
}

func (r *Recorder) onProviderEnabled(provider string, enabled bool) {
	if provider != pkg.ProviderGPS || enabled {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last != nil {
		r.needSplit = true
	}
}

// Distance returns the great circle distance between two locations in meters
func Distance(a, b pkg.Location) float64 {
	const earthRadius = 6371000

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	deltaLat := (b.Latitude - a.Latitude) * math.Pi / 180
	deltaLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(deltaLat/2)*math.Sin(deltaLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*
			math.Sin(deltaLon/2)*math.Sin(deltaLon/2)
	return earthRadius * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
