package uci

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// DefaultConfigPath is where the daemon looks for its configuration
const DefaultConfigPath = "/etc/config/trackhub"

// Config is the trackhub daemon configuration
type Config struct {
	// trackhub main
	LogLevel        string
	LogFormat       string
	PIDFile         string
	TargetPoints    int
	MaxPoints       int
	MaxWaypoints    int
	MaxLocationAgeS int
	MaxNetworkAgeS  int
	HasCompass      bool

	// Recording filters (trackhub main)
	RecordMinDistance float64
	RecordSplitGapS   int

	// Event journal (trackhub main)
	JournalSize           int
	JournalRetentionHours int
	JournalPoints         bool

	Storage StorageConfig
	MQTT    MQTTConfig
	API     APIConfig
	Metrics MetricsConfig
}

// StorageConfig locates the track and preference databases
type StorageConfig struct {
	TracksDB      string
	PrefsDB       string
	BusyTimeoutMS int
}

// MQTTConfig holds MQTT configuration
type MQTTConfig struct {
	Enabled     bool
	Broker      string
	Port        int
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	FeedTopic   string
	QoS         int
	Retain      bool
	QueueSize   int
	BatchSize   int
}

// APIConfig holds the control API configuration
type APIConfig struct {
	Enabled bool
	Host    string
	Port    int
	AuthKey string
}

// MetricsConfig holds the Prometheus endpoint configuration
type MetricsConfig struct {
	Enabled bool
	Listen  string
	Path    string
}

// Default configuration values
const (
	DefaultLogLevel          = "info"
	DefaultTargetPoints      = 5000
	DefaultMaxPoints         = 20000
	DefaultMaxWaypoints      = 128
	DefaultMaxLocationAgeS   = 60
	DefaultMaxNetworkAgeS    = 600
	DefaultRecordMinDistance = 2.0
	DefaultRecordSplitGapS   = 300
	DefaultJournalSize       = 1000
	DefaultJournalRetentionH = 24
)

// LoadConfig loads and validates the configuration at path. A missing file
// yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := &Config{}
	cfg.setDefaults()

	if path == "" {
		path = DefaultConfigPath
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := cfg.parseUCI(string(data)); err != nil {
		return nil, fmt.Errorf("failed to parse UCI config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// setDefaults sets default values for the configuration
func (c *Config) setDefaults() {
	c.LogLevel = DefaultLogLevel
	c.LogFormat = "text"
	c.PIDFile = "/var/run/trackhubd.pid"
	c.TargetPoints = DefaultTargetPoints
	c.MaxPoints = DefaultMaxPoints
	c.MaxWaypoints = DefaultMaxWaypoints
	c.MaxLocationAgeS = DefaultMaxLocationAgeS
	c.MaxNetworkAgeS = DefaultMaxNetworkAgeS
	c.HasCompass = false

	c.RecordMinDistance = DefaultRecordMinDistance
	c.RecordSplitGapS = DefaultRecordSplitGapS

	c.JournalSize = DefaultJournalSize
	c.JournalRetentionHours = DefaultJournalRetentionH
	c.JournalPoints = false

	c.Storage = StorageConfig{
		TracksDB:      "/var/lib/trackhub/tracks.db",
		PrefsDB:       "/var/lib/trackhub/prefs.db",
		BusyTimeoutMS: 5000,
	}
	c.MQTT = MQTTConfig{
		Enabled:     false,
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "trackhubd",
		TopicPrefix: "trackhub",
		FeedTopic:   "trackhub/feed",
		QoS:         1,
		QueueSize:   1000,
		BatchSize:   500,
	}
	c.API = APIConfig{
		Enabled: false,
		Host:    "localhost",
		Port:    8082,
	}
	c.Metrics = MetricsConfig{
		Enabled: false,
		Listen:  "localhost:9102",
		Path:    "/metrics",
	}
}

// parseUCI parses UCI text: "config <type> '<name>'" opens a section and
// "option <name> '<value>'" sets a value in it.
func (c *Config) parseUCI(data string) error {
	var sectionType, sectionName string

	for n, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		keyword, rest, _ := strings.Cut(line, " ")
		rest = strings.TrimSpace(rest)

		switch keyword {
		case "config":
			parts := strings.Fields(rest)
			if len(parts) == 0 {
				return fmt.Errorf("line %d: config without section type", n+1)
			}
			sectionType = parts[0]
			sectionName = ""
			if len(parts) > 1 {
				sectionName = unquote(parts[1])
			}
		case "option":
			name, value, ok := strings.Cut(rest, " ")
			if !ok {
				return fmt.Errorf("line %d: option %q without value", n+1, rest)
			}
			if sectionType == "" {
				return fmt.Errorf("line %d: option outside of a section", n+1)
			}
			if err := c.parseOption(sectionType, sectionName, name, unquote(strings.TrimSpace(value))); err != nil {
				return fmt.Errorf("line %d: %w", n+1, err)
			}
		case "list":
			// No list options are defined
		default:
			return fmt.Errorf("line %d: unexpected %q", n+1, keyword)
		}
	}
	return nil
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '\'' || s[0] == '"') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}
	return s
}

// parseOption routes options to the parser of their section. Only the
// section named "main" of each type is read.
func (c *Config) parseOption(sectionType, sectionName, option, value string) error {
	if sectionName != "" && sectionName != "main" {
		return nil
	}
	switch sectionType {
	case "trackhub":
		return c.parseMainOption(option, value)
	case "storage":
		return c.parseStorageOption(option, value)
	case "mqtt":
		return c.parseMQTTOption(option, value)
	case "api":
		return c.parseAPIOption(option, value)
	case "metrics":
		return c.parseMetricsOption(option, value)
	}
	return nil
}

func (c *Config) parseMainOption(option, value string) error {
	var err error
	switch option {
	case "log_level":
		c.LogLevel = value
	case "log_format":
		c.LogFormat = value
	case "pid_file":
		c.PIDFile = value
	case "target_points":
		c.TargetPoints, err = parseInt(option, value)
	case "max_points":
		c.MaxPoints, err = parseInt(option, value)
	case "max_waypoints":
		c.MaxWaypoints, err = parseInt(option, value)
	case "max_location_age_s":
		c.MaxLocationAgeS, err = parseInt(option, value)
	case "max_network_age_s":
		c.MaxNetworkAgeS, err = parseInt(option, value)
	case "has_compass":
		c.HasCompass, err = parseBool(option, value)
	case "record_min_distance":
		c.RecordMinDistance, err = strconv.ParseFloat(value, 64)
		if err != nil {
			err = fmt.Errorf("%s: invalid number %q", option, value)
		}
	case "record_split_gap_s":
		c.RecordSplitGapS, err = parseInt(option, value)
	case "journal_size":
		c.JournalSize, err = parseInt(option, value)
	case "journal_retention_hours":
		c.JournalRetentionHours, err = parseInt(option, value)
	case "journal_points":
		c.JournalPoints, err = parseBool(option, value)
	}
	return err
}

func (c *Config) parseStorageOption(option, value string) error {
	var err error
	switch option {
	case "tracks_db":
		c.Storage.TracksDB = value
	case "prefs_db":
		c.Storage.PrefsDB = value
	case "busy_timeout_ms":
		c.Storage.BusyTimeoutMS, err = parseInt(option, value)
	}
	return err
}

func (c *Config) parseMQTTOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.MQTT.Enabled, err = parseBool(option, value)
	case "broker":
		c.MQTT.Broker = value
	case "port":
		c.MQTT.Port, err = parseInt(option, value)
	case "client_id":
		c.MQTT.ClientID = value
	case "username":
		c.MQTT.Username = value
	case "password":
		c.MQTT.Password = value
	case "topic_prefix":
		c.MQTT.TopicPrefix = strings.TrimSuffix(value, "/")
	case "feed_topic":
		c.MQTT.FeedTopic = strings.TrimSuffix(value, "/")
	case "qos":
		c.MQTT.QoS, err = parseInt(option, value)
	case "retain":
		c.MQTT.Retain, err = parseBool(option, value)
	case "queue_size":
		c.MQTT.QueueSize, err = parseInt(option, value)
	case "batch_size":
		c.MQTT.BatchSize, err = parseInt(option, value)
	}
	return err
}

func (c *Config) parseAPIOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.API.Enabled, err = parseBool(option, value)
	case "host":
		c.API.Host = value
	case "port":
		c.API.Port, err = parseInt(option, value)
	case "auth_key":
		c.API.AuthKey = value
	}
	return err
}

func (c *Config) parseMetricsOption(option, value string) error {
	var err error
	switch option {
	case "enabled":
		c.Metrics.Enabled, err = parseBool(option, value)
	case "listen":
		c.Metrics.Listen = value
	case "path":
		c.Metrics.Path = value
	}
	return err
}

func parseInt(option, value string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", option, value)
	}
	return v, nil
}

// parseBool accepts the UCI spellings 1/0, true/false, yes/no, on/off
func parseBool(option, value string) (bool, error) {
	switch strings.ToLower(value) {
	case "1", "true", "yes", "on", "enabled":
		return true, nil
	case "0", "false", "no", "off", "disabled":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid boolean %q", option, value)
}

// MaxLocationAge returns max_location_age_s as a duration
func (c *Config) MaxLocationAge() time.Duration {
	return time.Duration(c.MaxLocationAgeS) * time.Second
}

// MaxNetworkAge returns max_network_age_s as a duration
func (c *Config) MaxNetworkAge() time.Duration {
	return time.Duration(c.MaxNetworkAgeS) * time.Second
}

// RecordSplitGap returns record_split_gap_s as a duration
func (c *Config) RecordSplitGap() time.Duration {
	return time.Duration(c.RecordSplitGapS) * time.Second
}

// JournalRetention returns journal_retention_hours as a duration
func (c *Config) JournalRetention() time.Duration {
	return time.Duration(c.JournalRetentionHours) * time.Hour
}

// validate returns the first validation error
func (c *Config) validate() error {
	result := NewConfigValidator().Validate(c)
	if !result.Valid {
		e := result.Errors[0]
		return fmt.Errorf("%s.%s: %s", e.Section, e.Option, e.Message)
	}
	return nil
}
