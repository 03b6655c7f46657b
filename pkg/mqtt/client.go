package mqtt

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/markus-lassfolk/trackhub/pkg/logx"
)

// Publisher publishes JSON payloads below a topic prefix
type Publisher interface {
	Topic(name string) string
	Publish(topic string, payload interface{}) error
	PublishRetained(topic string, payload interface{}) error
}

var _ Publisher = (*Client)(nil)

// Client publishes hub data to an MQTT broker and receives feed messages.
// Publishing never blocks the caller: messages go through a bounded queue
// drained by a single goroutine.
type Client struct {
	client MQTT.Client
	logger *logx.Logger
	config *Config

	connected   atomic.Bool
	lastPublish atomic.Int64

	queue   chan *QueuedMessage
	dropped atomic.Uint64
	done    chan struct{}
	wg      sync.WaitGroup

	subMu         sync.Mutex
	subscriptions map[string]MQTT.MessageHandler
}

// Config holds MQTT configuration
type Config struct {
	Broker         string        `json:"broker"`
	Port           int           `json:"port"`
	ClientID       string        `json:"client_id"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	TopicPrefix    string        `json:"topic_prefix"`
	FeedTopic      string        `json:"feed_topic"`
	QoS            int           `json:"qos"`
	Retain         bool          `json:"retain"`
	Enabled        bool          `json:"enabled"`
	MaxQueueSize   int           `json:"max_queue_size"`
	PublishTimeout time.Duration `json:"publish_timeout"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() *Config {
	return &Config{
		Broker:         "localhost",
		Port:           1883,
		ClientID:       "trackhubd",
		TopicPrefix:    "trackhub",
		FeedTopic:      "trackhub/feed",
		QoS:            1,
		Retain:         false,
		Enabled:        false,
		MaxQueueSize:   1000,
		PublishTimeout: 10 * time.Second,
	}
}

// QueuedMessage is a message waiting to be published
type QueuedMessage struct {
	Topic   string
	Payload []byte
	Retain  bool
}

// NewClient creates a client; Connect starts it
func NewClient(config *Config, logger *logx.Logger) *Client {
	if config == nil {
		config = DefaultConfig()
	}
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultConfig().MaxQueueSize
	}
	if config.PublishTimeout <= 0 {
		config.PublishTimeout = DefaultConfig().PublishTimeout
	}
	return &Client{
		logger:        logger,
		config:        config,
		queue:         make(chan *QueuedMessage, config.MaxQueueSize),
		done:          make(chan struct{}),
		subscriptions: make(map[string]MQTT.MessageHandler),
	}
}

// Connect establishes the connection to the broker and starts the publish loop
func (c *Client) Connect() error {
	if !c.config.Enabled {
		c.logger.Debug("MQTT client disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", c.config.Broker, c.config.Port))
	opts.SetClientID(c.config.ClientID)

	if c.config.Username != "" {
		opts.SetUsername(c.config.Username)
		opts.SetPassword(c.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)

	opts.SetOnConnectHandler(c.onConnect)
	opts.SetConnectionLostHandler(c.onConnectionLost)
	opts.SetDefaultPublishHandler(c.onMessageReceived)

	c.client = MQTT.NewClient(opts)

	// With connect retry the token only completes once the broker is reached;
	// after the timeout the client keeps retrying in the background.
	token := c.client.Connect()
	if !token.WaitTimeout(c.config.PublishTimeout) {
		c.logger.Warn("MQTT broker not reachable yet, retrying in background", "broker", c.config.Broker)
	} else if token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	c.wg.Add(1)
	go c.publishLoop()

	c.logger.Info("MQTT client started", map[string]interface{}{
		"broker": c.config.Broker,
		"port":   c.config.Port,
	})
	return nil
}

// Disconnect stops the publish loop and disconnects from the broker
func (c *Client) Disconnect() error {
	if c.client == nil {
		return nil
	}
	select {
	case <-c.done:
		return nil
	default:
		close(c.done)
	}
	c.wg.Wait()

	c.client.Disconnect(250)
	c.connected.Store(false)
	c.logger.Info("MQTT client disconnected", "dropped", c.dropped.Load())
	return nil
}

// onConnect restores subscriptions; the session is not persisted by the broker.
func (c *Client) onConnect(client MQTT.Client) {
	c.connected.Store(true)
	c.logger.Info("MQTT connection established")

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for topic, handler := range c.subscriptions {
		token := client.Subscribe(topic, byte(c.config.QoS), handler)
		if token.WaitTimeout(c.config.PublishTimeout) && token.Error() != nil {
			c.logger.Error("MQTT resubscribe failed", "topic", topic, "error", token.Error())
		}
	}
}

func (c *Client) onConnectionLost(client MQTT.Client, err error) {
	c.connected.Store(false)
	c.logger.Error("MQTT connection lost", map[string]interface{}{
		"error": err.Error(),
	})
}

func (c *Client) onMessageReceived(client MQTT.Client, msg MQTT.Message) {
	c.logger.Debug("MQTT message received", map[string]interface{}{
		"topic":   msg.Topic(),
		"payload": string(msg.Payload()),
	})
}

// Topic joins name to the configured topic prefix
func (c *Client) Topic(name string) string {
	return c.config.TopicPrefix + "/" + name
}

// Publish queues payload as JSON for topic. The message is dropped when the
// queue is full or the client is disabled.
func (c *Client) Publish(topic string, payload interface{}) error {
	return c.enqueue(topic, payload, c.config.Retain)
}

// PublishRetained queues a retained message regardless of the retain setting
func (c *Client) PublishRetained(topic string, payload interface{}) error {
	return c.enqueue(topic, payload, true)
}

func (c *Client) enqueue(topic string, payload interface{}, retain bool) error {
	if !c.config.Enabled {
		return nil
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	select {
	case c.queue <- &QueuedMessage{Topic: topic, Payload: data, Retain: retain}:
	default:
		if c.dropped.Add(1)%100 == 1 {
			c.logger.Warn("Message queue full, dropping message", "topic", topic, "dropped", c.dropped.Load())
		}
	}
	return nil
}

func (c *Client) publishLoop() {
	defer c.wg.Done()
	for {
		select {
		case <-c.done:
			c.drain()
			return
		case msg := <-c.queue:
			c.publishDirect(msg)
		}
	}
}

// drain publishes what is still queued at shutdown
func (c *Client) drain() {
	for {
		select {
		case msg := <-c.queue:
			c.publishDirect(msg)
		default:
			return
		}
	}
}

func (c *Client) publishDirect(msg *QueuedMessage) {
	if !c.connected.Load() {
		c.dropped.Add(1)
		return
	}

	token := c.client.Publish(msg.Topic, byte(c.config.QoS), msg.Retain, msg.Payload)
	if !token.WaitTimeout(c.config.PublishTimeout) {
		c.logger.Warn("MQTT publish timed out", "topic", msg.Topic)
		return
	}
	if err := token.Error(); err != nil {
		c.logger.Error("Failed to publish message", "topic", msg.Topic, "error", err)
		return
	}

	c.lastPublish.Store(time.Now().UnixNano())
	c.logger.Trace("MQTT message published", map[string]interface{}{
		"topic": msg.Topic,
		"size":  len(msg.Payload),
	})
}

// IsConnected returns whether the MQTT client is connected
func (c *Client) IsConnected() bool {
	return c.connected.Load() && c.client != nil && c.client.IsConnected()
}

// GetLastPublish returns the time of the last successful publish
func (c *Client) GetLastPublish() time.Time {
	ns := c.lastPublish.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Dropped returns the number of messages dropped so far
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

// Subscribe subscribes to topic. The subscription is restored after a reconnect.
func (c *Client) Subscribe(topic string, handler MQTT.MessageHandler) error {
	if !c.config.Enabled {
		return nil
	}

	c.subMu.Lock()
	c.subscriptions[topic] = handler
	c.subMu.Unlock()

	if !c.connected.Load() {
		return nil
	}

	token := c.client.Subscribe(topic, byte(c.config.QoS), handler)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to topic %s: %w", topic, token.Error())
	}

	c.logger.Info("MQTT subscription created", map[string]interface{}{
		"topic": topic,
	})
	return nil
}

// Unsubscribe unsubscribes from an MQTT topic
func (c *Client) Unsubscribe(topic string) error {
	if !c.config.Enabled {
		return nil
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if !c.connected.Load() {
		return nil
	}

	token := c.client.Unsubscribe(topic)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to unsubscribe from topic %s: %w", topic, token.Error())
	}

	c.logger.Info("MQTT subscription removed", map[string]interface{}{
		"topic": topic,
	})
	return nil
}
