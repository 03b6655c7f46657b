package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/trackhub/pkg"
)

func TestParseFix(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	loc, err := parseFix("59.33, 18.06,4.5", now)
	require.NoError(t, err)
	assert.Equal(t, pkg.ProviderGPS, loc.Provider)
	assert.Equal(t, 59.33, loc.Latitude)
	assert.Equal(t, 18.06, loc.Longitude)
	assert.Equal(t, 4.5, loc.Accuracy)
	assert.Equal(t, now, loc.Time)

	for _, bad := range []string{"59", "a,b", "91,0", "1,2,3,4"} {
		_, err := parseFix(bad, now)
		assert.Error(t, err, bad)
	}
}

func TestClientSendsAuthAndDecodes(t *testing.T) {
	var gotKey, gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		gotPath = r.URL.Path
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"success":true,"track_id":7}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL+"/", "k", srv.Client())
	var resp struct {
		TrackID int64 `json:"track_id"`
	}
	require.NoError(t, c.post(context.Background(), "/api/recording/start", map[string]interface{}{"name": "x"}, &resp))

	assert.Equal(t, "k", gotKey)
	assert.Equal(t, "/api/recording/start", gotPath)
	assert.Equal(t, "x", gotBody["name"])
	assert.Equal(t, int64(7), resp.TrackID)
}

func TestClientReportsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"error":"Already recording","details":"a track is already being recorded"}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL, "", srv.Client())
	err := c.post(context.Background(), "/api/recording/start", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Already recording (409)")
}

func TestPrintTracks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tracks":[{"id":1,"name":"one","num_points":3},{"id":2,"name":"two","num_points":0}],"selected_id":2}`))
	}))
	defer srv.Close()

	var out bytes.Buffer
	require.NoError(t, printTracks(context.Background(), newClient(srv.URL, "", srv.Client()), &out))
	assert.Contains(t, out.String(), "*    2  two")
	assert.Contains(t, out.String(), "     1  one")
}
