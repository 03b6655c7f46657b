package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/location"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
	"github.com/markus-lassfolk/trackhub/pkg/store"
	"github.com/markus-lassfolk/trackhub/pkg/telem"
)

type fakeHub struct {
	selected  int64
	refreshed int
	destroyed bool
}

func (f *fakeHub) Stats() hub.Stats {
	return hub.Stats{State: "STARTED", SelectedTrackID: f.selected}
}

func (f *fakeHub) LoadTrack(id int64) {
	if f.destroyed {
		panic(&hub.PreconditionError{Op: "LoadTrack", Err: hub.ErrTerminated})
	}
	f.selected = id
}

func (f *fakeHub) UnloadCurrentTrack()  { f.LoadTrack(-1) }
func (f *fakeHub) ForceUpdateLocation() { f.refreshed++ }

type fakeTracks struct {
	tracks []pkg.Track
	err    error
}

func (f *fakeTracks) ListTracks(context.Context) ([]pkg.Track, error) { return f.tracks, f.err }

func (f *fakeTracks) GetStatistics(context.Context) (map[string]interface{}, error) {
	return map[string]interface{}{"tracks": len(f.tracks)}, f.err
}

func (f *fakeTracks) GetTrack(_ context.Context, id int64) (*pkg.Track, error) {
	for i := range f.tracks {
		if f.tracks[i].ID == id {
			return &f.tracks[i], nil
		}
	}
	return nil, store.ErrTrackNotFound
}

type fakeRecorder struct {
	recording int64
	nextID    int64
}

func (f *fakeRecorder) StartRecording(_ context.Context, name string) (int64, error) {
	if f.recording >= 0 {
		return 0, location.ErrAlreadyRecording
	}
	f.nextID++
	f.recording = f.nextID
	return f.recording, nil
}

func (f *fakeRecorder) StopRecording(context.Context) error {
	if f.recording < 0 {
		return location.ErrNotRecording
	}
	f.recording = -1
	return nil
}

func (f *fakeRecorder) RecordingTrackID() int64 { return f.recording }

type fakeInput struct {
	locations []pkg.Location
}

func (f *fakeInput) PushLocation(loc pkg.Location) { f.locations = append(f.locations, loc) }

type fakeEvents struct {
	since time.Time
	limit int
}

func (f *fakeEvents) Events(since time.Time, limit int) []*telem.Entry {
	f.since, f.limit = since, limit
	return []*telem.Entry{{Seq: 1, Event: hub.EventSegmentSplit}}
}

type testServer struct {
	*Server
	hub      *fakeHub
	tracks   *fakeTracks
	recorder *fakeRecorder
	input    *fakeInput
	events   *fakeEvents
	handler  http.Handler
}

func newTestServer(t *testing.T, authKey string) *testServer {
	t.Helper()
	ts := &testServer{
		hub:      &fakeHub{selected: -1},
		tracks:   &fakeTracks{tracks: []pkg.Track{{ID: 1, Name: "one"}, {ID: 2, Name: "two"}}},
		recorder: &fakeRecorder{recording: -1, nextID: 2},
		input:    &fakeInput{},
		events:   &fakeEvents{},
	}
	config := DefaultServerConfig()
	config.AuthKey = authKey
	ts.Server = NewServer(Deps{
		Hub:      ts.hub,
		Tracks:   ts.tracks,
		Recorder: ts.recorder,
		Input:    ts.input,
		Events:   ts.events,
	}, config, logx.NewLogger("error", "api-test"))
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ts.now = func() time.Time { return now }
	ts.handler = ts.Handler()
	return ts
}

func (ts *testServer) do(method, target, body string, header ...string) (*httptest.ResponseRecorder, map[string]interface{}) {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var decoded map[string]interface{}
	_ = json.Unmarshal(rec.Body.Bytes(), &decoded)
	return rec, decoded
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, "secret")

	rec, _ := ts.do(http.MethodGet, "/api/status", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/status?auth=secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/status", "", "X-API-Key", "secret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus(t *testing.T) {
	ts := newTestServer(t, "")
	rec, body := ts.do(http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, -1.0, body["recording_track_id"])
	assert.Equal(t, "STARTED", body["hub"].(map[string]interface{})["state"])
	assert.Equal(t, 2.0, body["storage"].(map[string]interface{})["tracks"])
}

func TestTracksAndSelection(t *testing.T) {
	ts := newTestServer(t, "")

	rec, body := ts.do(http.MethodGet, "/api/tracks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2.0, body["count"])

	rec, _ = ts.do(http.MethodPost, "/api/tracks/2/select", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(2), ts.hub.selected)

	rec, _ = ts.do(http.MethodPost, "/api/tracks/9/select", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = ts.do(http.MethodPost, "/api/tracks/abc/select", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = ts.do(http.MethodGet, "/api/tracks/2/select", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec, _ = ts.do(http.MethodPost, "/api/tracks/unload", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(-1), ts.hub.selected)
}

func TestListTracksError(t *testing.T) {
	ts := newTestServer(t, "")
	ts.tracks.err = errors.New("disk gone")

	rec, body := ts.do(http.MethodGet, "/api/tracks", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "disk gone", body["details"])
}

func TestRecording(t *testing.T) {
	ts := newTestServer(t, "")

	rec, body := ts.do(http.MethodPost, "/api/recording/start", `{"name":"hike"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 3.0, body["track_id"])
	assert.Equal(t, int64(3), ts.hub.selected)

	rec, _ = ts.do(http.MethodPost, "/api/recording/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = ts.do(http.MethodPost, "/api/recording/stop", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(http.MethodPost, "/api/recording/stop", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	ts.hub.selected = -1
	rec, _ = ts.do(http.MethodPost, "/api/recording/start", `{"select":false}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, int64(-1), ts.hub.selected)

	rec, _ = ts.do(http.MethodPost, "/api/recording/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	rec, _ = ts.do(http.MethodPost, "/api/recording/start", `{`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPushLocation(t *testing.T) {
	ts := newTestServer(t, "")

	rec, _ := ts.do(http.MethodPost, "/api/location", `{"latitude":59.3,"longitude":18.1,"accuracy":4}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ts.input.locations, 1)
	assert.Equal(t, pkg.ProviderGPS, ts.input.locations[0].Provider)
	assert.Equal(t, ts.now(), ts.input.locations[0].Time)

	rec, _ = ts.do(http.MethodPost, "/api/location", `{"latitude":91,"longitude":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(http.MethodPost, "/api/location", `{"provider":"wifi","latitude":1,"longitude":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, ts.input.locations, 1)

	rec, _ = ts.do(http.MethodPost, "/api/location/refresh", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 1, ts.hub.refreshed)
}

func TestEvents(t *testing.T) {
	ts := newTestServer(t, "")

	rec, body := ts.do(http.MethodGet, "/api/events?limit=5&since=2024-05-01T10:00:00Z", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1.0, body["count"])
	assert.Equal(t, 5, ts.events.limit)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC), ts.events.since)

	rec, _ = ts.do(http.MethodGet, "/api/events", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 100, ts.events.limit)
	assert.True(t, ts.events.since.IsZero())

	rec, _ = ts.do(http.MethodGet, "/api/events?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec, _ = ts.do(http.MethodGet, "/api/events?since=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDestroyedHubReturnsUnavailable(t *testing.T) {
	ts := newTestServer(t, "")
	ts.hub.destroyed = true

	rec, body := ts.do(http.MethodPost, "/api/tracks/1/select", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestStartDisabled(t *testing.T) {
	ts := newTestServer(t, "")
	require.NoError(t, ts.Start())
	require.NoError(t, ts.Stop(context.Background()))
}
