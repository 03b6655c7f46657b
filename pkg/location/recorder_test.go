package location

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
	"github.com/markus-lassfolk/trackhub/pkg/prefs"
)

type writtenPoint struct {
	trackID int64
	loc     pkg.Location
}

type fakeWriter struct {
	nextTrack int64
	finished  map[int64]time.Time
	points    []writtenPoint
}

func (w *fakeWriter) CreateTrack(_ context.Context, _ string, _ time.Time) (int64, error) {
	w.nextTrack++
	return w.nextTrack, nil
}

func (w *fakeWriter) FinishTrack(_ context.Context, trackID int64, stop time.Time) error {
	if w.finished == nil {
		w.finished = make(map[int64]time.Time)
	}
	w.finished[trackID] = stop
	return nil
}

func (w *fakeWriter) InsertPoint(_ context.Context, trackID int64, loc pkg.Location) (int64, error) {
	w.points = append(w.points, writtenPoint{trackID, loc})
	return int64(len(w.points)), nil
}

func (w *fakeWriter) InsertSplit(ctx context.Context, trackID int64, at time.Time) (int64, error) {
	return w.InsertPoint(ctx, trackID, pkg.SplitMarker(at))
}

func newRecorderFixture(t *testing.T) (*Recorder, *Source, *fakeWriter, *prefs.Store) {
	t.Helper()
	logger := logx.NewLogger("error", "recorder-test")
	store, err := prefs.Open(filepath.Join(t.TempDir(), "prefs.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	writer := &fakeWriter{}
	source := NewSource(false, logger)
	recorder := NewRecorder(nil, writer, store, logger)
	recorder.Attach(source)
	return recorder, source, writer, store
}

func gps(lat, lon float64, at time.Time, accuracy float64) pkg.Location {
	return pkg.Location{Provider: pkg.ProviderGPS, Latitude: lat, Longitude: lon, Accuracy: accuracy, Time: at}
}

func TestRecorderLifecycle(t *testing.T) {
	recorder, source, writer, store := newRecorderFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	source.PushLocation(gps(59, 18, now, 5))
	assert.Empty(t, writer.points, "nothing is recorded without a recording track")

	trackID, err := recorder.StartRecording(ctx, "commute")
	require.NoError(t, err)
	assert.Equal(t, trackID, store.GetInt64(hub.KeyRecordingTrackID, -1))

	_, err = recorder.StartRecording(ctx, "again")
	assert.ErrorIs(t, err, ErrAlreadyRecording)

	source.PushLocation(gps(59, 18, now, 5))
	source.PushLocation(gps(59, 18.0000001, now.Add(time.Second), 5))
	source.PushLocation(gps(59.001, 18, now.Add(2*time.Second), 500))
	source.PushLocation(gps(59.001, 18, now.Add(3*time.Second), 5))
	source.PushLocation(pkg.Location{Provider: pkg.ProviderNetwork, Latitude: 10, Longitude: 10, Time: now})
	require.Len(t, writer.points, 2, "close and inaccurate fixes are skipped")

	require.NoError(t, recorder.StopRecording(ctx))
	assert.Equal(t, int64(-1), recorder.RecordingTrackID())
	assert.Contains(t, writer.finished, trackID)
	assert.ErrorIs(t, recorder.StopRecording(ctx), ErrNotRecording)
}

func TestRecorderSplits(t *testing.T) {
	recorder, source, writer, _ := newRecorderFixture(t)
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

	_, err := recorder.StartRecording(context.Background(), "")
	require.NoError(t, err)

	source.PushLocation(gps(59, 18, now, 5))
	source.PushLocation(gps(59.01, 18, now.Add(10*time.Minute), 5))

	source.SetProviderEnabled(pkg.ProviderGPS, false)
	source.SetProviderEnabled(pkg.ProviderGPS, true)
	source.PushLocation(gps(59.02, 18, now.Add(11*time.Minute), 5))

	require.Len(t, writer.points, 5)
	assert.True(t, writer.points[0].loc.IsValid())
	assert.False(t, writer.points[1].loc.IsValid(), "gap split")
	assert.True(t, writer.points[2].loc.IsValid())
	assert.False(t, writer.points[3].loc.IsValid(), "provider split")
	assert.True(t, writer.points[4].loc.IsValid())
}
