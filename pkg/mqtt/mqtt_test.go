package mqtt

import (
	"testing"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

type published struct {
	topic    string
	payload  interface{}
	retained bool
}

type fakePublisher struct {
	messages []published
}

func (f *fakePublisher) Topic(name string) string { return "th/" + name }

func (f *fakePublisher) Publish(topic string, payload interface{}) error {
	f.messages = append(f.messages, published{topic: topic, payload: payload})
	return nil
}

func (f *fakePublisher) PublishRetained(topic string, payload interface{}) error {
	f.messages = append(f.messages, published{topic: topic, payload: payload, retained: true})
	return nil
}

func (f *fakePublisher) topics() []string {
	out := make([]string, len(f.messages))
	for i, m := range f.messages {
		out[i] = m.topic
	}
	return out
}

func testLogger() *logx.Logger {
	return logx.NewLogger("error", "mqtt-test")
}

func point(id int64) pkg.TrackPoint {
	return pkg.TrackPoint{ID: id, TrackID: 1, Location: pkg.Location{Latitude: 59, Longitude: 18}}
}

func TestStreamDataTypes(t *testing.T) {
	types := hub.TypesOf(StreamDataTypes...)
	assert.True(t, types.Has(hub.PointUpdates))
	assert.False(t, types.Has(hub.SampledOutPointUpdates))
}

func TestStreamBatchesPoints(t *testing.T) {
	pub := &fakePublisher{}
	s := NewStream(pub, 3, testLogger())

	s.ClearTrackPoints()
	for i := int64(1); i <= 4; i++ {
		s.OnNewTrackPoint(point(i))
	}
	s.OnSegmentSplit()
	s.OnNewTrackPointsDone()

	require.Equal(t, []string{"th/points", "th/points"}, pub.topics())

	first := pub.messages[0].payload.(PointBatch)
	assert.True(t, first.Clear)
	assert.False(t, first.Done)
	assert.Len(t, first.Points, 3)

	last := pub.messages[1].payload.(PointBatch)
	assert.False(t, last.Clear)
	assert.True(t, last.Done)
	require.Len(t, last.Points, 2)
	assert.Equal(t, int64(4), last.Points[0].ID)
	assert.True(t, last.Points[1].Split)
}

func TestStreamEmptyPassStillPublishesDone(t *testing.T) {
	pub := &fakePublisher{}
	s := NewStream(pub, 0, testLogger())

	s.OnNewTrackPointsDone()
	require.Len(t, pub.messages, 1)
	batch := pub.messages[0].payload.(PointBatch)
	assert.True(t, batch.Done)
	assert.Empty(t, batch.Points)
}

func TestStreamWaypointsAndState(t *testing.T) {
	pub := &fakePublisher{}
	s := NewStream(pub, 0, testLogger())

	s.OnSelectedTrackChanged(&pkg.Track{ID: 1}, true)
	s.ClearWaypoints()
	s.OnNewWaypoint(pkg.Waypoint{ID: 9, Name: "summit"})
	s.OnNewWaypointsDone()
	s.OnProviderStateChange(pkg.ProviderStateBadFix)
	assert.False(t, s.OnUnitsChanged(true))

	assert.Equal(t, []string{"th/track/selected", "th/waypoints", "th/fix", "th/preferences/metric_units"}, pub.topics())
	assert.True(t, pub.messages[0].retained)
	assert.False(t, pub.messages[1].retained)

	wps := pub.messages[1].payload.(WaypointBatch)
	assert.True(t, wps.Clear)
	require.Len(t, wps.Waypoints, 1)
	assert.Equal(t, "summit", wps.Waypoints[0].Name)
}

func TestStreamHeadingResolution(t *testing.T) {
	pub := &fakePublisher{}
	s := NewStream(pub, 0, testLogger())

	s.OnCurrentHeadingChanged(359.8)
	s.OnCurrentHeadingChanged(0.3)
	s.OnCurrentHeadingChanged(2)

	require.Len(t, pub.messages, 2)
	assert.Equal(t, 2.0, pub.messages[1].payload.(map[string]interface{})["degrees"])
}

type fakeSink struct {
	locations []pkg.Location
	headings  []float64
	enabled   map[string]bool
	available map[string]bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{enabled: map[string]bool{}, available: map[string]bool{}}
}

func (f *fakeSink) PushLocation(loc pkg.Location) { f.locations = append(f.locations, loc) }
func (f *fakeSink) PushHeading(degrees float64)   { f.headings = append(f.headings, degrees) }

func (f *fakeSink) SetProviderEnabled(provider string, enabled bool) {
	f.enabled[provider] = enabled
}

func (f *fakeSink) SetProviderAvailable(provider string, available bool) {
	f.available[provider] = available
}

type fakeSubscriber struct {
	topics []string
}

func (f *fakeSubscriber) Subscribe(topic string, _ MQTT.MessageHandler) error {
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakeSubscriber) Unsubscribe(string) error { return nil }

func TestFeedSubscribes(t *testing.T) {
	sub := &fakeSubscriber{}
	f := NewFeed(sub, newFakeSink(), "th/feed/", testLogger())
	require.NoError(t, f.Start())
	assert.Equal(t, []string{"th/feed/location", "th/feed/heading", "th/feed/provider"}, sub.topics)
}

func TestFeedLocation(t *testing.T) {
	sink := newFakeSink()
	f := NewFeed(&fakeSubscriber{}, sink, "th/feed", testLogger())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f.now = func() time.Time { return now }

	require.NoError(t, f.HandleMessage("th/feed/location",
		[]byte(`{"latitude":59.3,"longitude":18.1,"accuracy":5,"time":"2024-05-01T11:59:58Z"}`)))
	require.NoError(t, f.HandleMessage("th/feed/location",
		[]byte(`{"provider":"network","latitude":59.3,"longitude":18.1,"accuracy":800}`)))

	require.Len(t, sink.locations, 2)
	assert.Equal(t, pkg.ProviderGPS, sink.locations[0].Provider)
	assert.Equal(t, now.Add(-2*time.Second), sink.locations[0].Time)
	assert.Equal(t, pkg.ProviderNetwork, sink.locations[1].Provider)
	assert.Equal(t, now, sink.locations[1].Time)
}

func TestFeedRejectsBadMessages(t *testing.T) {
	sink := newFakeSink()
	f := NewFeed(&fakeSubscriber{}, sink, "th/feed", testLogger())

	assert.Error(t, f.HandleMessage("th/feed/location", []byte(`not json`)))
	assert.Error(t, f.HandleMessage("th/feed/location", []byte(`{"latitude":95,"longitude":0}`)))
	assert.Error(t, f.HandleMessage("th/feed/location", []byte(`{"provider":"wifi","latitude":1,"longitude":1}`)))
	assert.Error(t, f.HandleMessage("th/feed/heading", []byte(`{}`)))
	assert.Error(t, f.HandleMessage("th/feed/provider", []byte(`{"provider":"gps"}`)))
	assert.ErrorIs(t, f.HandleMessage("th/feed/other", []byte(`{}`)), ErrUnknownFeedTopic)

	assert.Empty(t, sink.locations)
	assert.Empty(t, sink.headings)
}

func TestFeedHeadingAndProvider(t *testing.T) {
	sink := newFakeSink()
	f := NewFeed(&fakeSubscriber{}, sink, "th/feed", testLogger())

	require.NoError(t, f.HandleMessage("th/feed/heading", []byte(`{"degrees":271.5}`)))
	require.NoError(t, f.HandleMessage("th/feed/provider", []byte(`{"enabled":false}`)))
	require.NoError(t, f.HandleMessage("th/feed/provider", []byte(`{"provider":"network","available":true}`)))

	assert.Equal(t, []float64{271.5}, sink.headings)
	assert.Equal(t, map[string]bool{pkg.ProviderGPS: false}, sink.enabled)
	assert.Equal(t, map[string]bool{pkg.ProviderNetwork: true}, sink.available)
}

func TestClientQueueDropsWhenFull(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = true
	config.MaxQueueSize = 2
	c := NewClient(config, testLogger())

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Publish(c.Topic("location"), map[string]int{"i": i}))
	}
	assert.Equal(t, uint64(1), c.Dropped())
	assert.Equal(t, "trackhub/location", c.Topic("location"))
	assert.False(t, c.IsConnected())
	assert.True(t, c.GetLastPublish().IsZero())
}

func TestClientDisabledIsNoop(t *testing.T) {
	c := NewClient(DefaultConfig(), testLogger())
	require.NoError(t, c.Connect())
	require.NoError(t, c.Publish("x", 1))
	require.NoError(t, c.Subscribe("x", nil))
	require.NoError(t, c.Disconnect())
	assert.Equal(t, uint64(0), c.Dropped())
}

func TestAngleDelta(t *testing.T) {
	assert.InDelta(t, 2.0, angleDelta(359, 1), 1e-9)
	assert.InDelta(t, 90.0, angleDelta(0, 270), 1e-9)
}
