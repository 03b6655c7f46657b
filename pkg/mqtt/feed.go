package mqtt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/trackhub/pkg"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

// Feed topics below the configured feed topic
const (
	FeedLocation = "location"
	FeedHeading  = "heading"
	FeedProvider = "provider"
)

var ErrUnknownFeedTopic = errors.New("unknown feed topic")

// LocationSink receives decoded feed messages
type LocationSink interface {
	PushLocation(loc pkg.Location)
	PushHeading(degrees float64)
	SetProviderEnabled(provider string, enabled bool)
	SetProviderAvailable(provider string, available bool)
}

// Subscriber is the subscribe side of the MQTT client
type Subscriber interface {
	Subscribe(topic string, handler MQTT.MessageHandler) error
	Unsubscribe(topic string) error
}

type headingMessage struct {
	Degrees *float64 `json:"degrees"`
}

type providerMessage struct {
	Provider  string `json:"provider"`
	Enabled   *bool  `json:"enabled,omitempty"`
	Available *bool  `json:"available,omitempty"`
}

// Feed decodes location, heading and provider messages published by GPS
// and compass bridges and pushes them into a LocationSink.
type Feed struct {
	client Subscriber
	sink   LocationSink
	base   string
	logger *logx.Logger
	now    func() time.Time
}

// NewFeed creates a feed listening below base, e.g. "trackhub/feed"
func NewFeed(client Subscriber, sink LocationSink, base string, logger *logx.Logger) *Feed {
	return &Feed{
		client: client,
		sink:   sink,
		base:   strings.TrimSuffix(base, "/"),
		logger: logger,
		now:    time.Now,
	}
}

func (f *Feed) topics() []string {
	return []string{f.base + "/" + FeedLocation, f.base + "/" + FeedHeading, f.base + "/" + FeedProvider}
}

// Start subscribes to the feed topics
func (f *Feed) Start() error {
	for _, topic := range f.topics() {
		if err := f.client.Subscribe(topic, f.onMessage); err != nil {
			return err
		}
	}
	f.logger.Info("location feed started", "topic", f.base)
	return nil
}

// Stop unsubscribes from the feed topics
func (f *Feed) Stop() {
	for _, topic := range f.topics() {
		if err := f.client.Unsubscribe(topic); err != nil {
			f.logger.Warn("failed to unsubscribe feed topic", "topic", topic, "error", err)
		}
	}
}

func (f *Feed) onMessage(_ MQTT.Client, msg MQTT.Message) {
	if err := f.HandleMessage(msg.Topic(), msg.Payload()); err != nil {
		f.logger.Warn("dropping feed message", "topic", msg.Topic(), "error", err)
	}
}

// HandleMessage decodes one feed message and forwards it to the sink
func (f *Feed) HandleMessage(topic string, payload []byte) error {
	kind := strings.TrimPrefix(topic, f.base+"/")
	switch kind {
	case FeedLocation:
		var loc pkg.Location
		if err := json.Unmarshal(payload, &loc); err != nil {
			return fmt.Errorf("invalid location payload: %w", err)
		}
		if loc.Provider == "" {
			loc.Provider = pkg.ProviderGPS
		}
		if loc.Provider != pkg.ProviderGPS && loc.Provider != pkg.ProviderNetwork {
			return fmt.Errorf("unknown provider %q", loc.Provider)
		}
		if !loc.IsValid() {
			return fmt.Errorf("coordinates out of range: %f,%f", loc.Latitude, loc.Longitude)
		}
		if loc.Time.IsZero() {
			loc.Time = f.now()
		}
		f.sink.PushLocation(loc)

	case FeedHeading:
		var h headingMessage
		if err := json.Unmarshal(payload, &h); err != nil {
			return fmt.Errorf("invalid heading payload: %w", err)
		}
		if h.Degrees == nil {
			return errors.New("heading payload without degrees")
		}
		f.sink.PushHeading(*h.Degrees)

	case FeedProvider:
		var p providerMessage
		if err := json.Unmarshal(payload, &p); err != nil {
			return fmt.Errorf("invalid provider payload: %w", err)
		}
		if p.Provider == "" {
			p.Provider = pkg.ProviderGPS
		}
		if p.Enabled == nil && p.Available == nil {
			return errors.New("provider payload without enabled or available")
		}
		if p.Enabled != nil {
			f.sink.SetProviderEnabled(p.Provider, *p.Enabled)
		}
		if p.Available != nil {
			f.sink.SetProviderAvailable(p.Provider, *p.Available)
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnknownFeedTopic, topic)
	}
	return nil
}
