package uci

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ConfigValidator checks a loaded configuration
type ConfigValidator struct{}

// NewConfigValidator creates a new configuration validator
func NewConfigValidator() *ConfigValidator {
	return &ConfigValidator{}
}

// ValidationResult represents the result of configuration validation
type ValidationResult struct {
	Valid    bool                `json:"valid"`
	Errors   []ValidationError   `json:"errors,omitempty"`
	Warnings []ValidationWarning `json:"warnings,omitempty"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Section string `json:"section"`
	Option  string `json:"option"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// ValidationWarning represents a configuration validation warning
type ValidationWarning struct {
	Section string `json:"section"`
	Option  string `json:"option"`
	Value   string `json:"value"`
	Message string `json:"message"`
}

// Validate validates every section of config
func (v *ConfigValidator) Validate(config *Config) ValidationResult {
	result := ValidationResult{}

	v.validateMainSection(config, &result)
	v.validateStorageSection(config, &result)
	if config.MQTT.Enabled {
		v.validateMQTTSection(config, &result)
	}
	if config.API.Enabled {
		v.validateAPISection(config, &result)
	}
	if config.Metrics.Enabled {
		v.validateMetricsSection(config, &result)
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (v *ConfigValidator) validateMainSection(config *Config, result *ValidationResult) {
	section := "trackhub"

	v.validateChoice(section, "log_level", config.LogLevel, []string{"trace", "debug", "info", "warn", "error"}, result)
	v.validateChoice(section, "log_format", config.LogFormat, []string{"text", "json"}, result)

	v.validateIntegerRange(section, "max_points", config.MaxPoints, 2, 1000000, result)
	v.validateIntegerRange(section, "target_points", config.TargetPoints, 1, 1000000, result)
	if config.TargetPoints >= config.MaxPoints {
		v.addError(section, "target_points", strconv.Itoa(config.TargetPoints), "must be lower than max_points", result)
	}
	v.validateIntegerRange(section, "max_waypoints", config.MaxWaypoints, 1, 10000, result)
	v.validateIntegerRange(section, "max_location_age_s", config.MaxLocationAgeS, 1, 3600, result)
	v.validateIntegerRange(section, "max_network_age_s", config.MaxNetworkAgeS, 1, 86400, result)
	if config.MaxNetworkAgeS < config.MaxLocationAgeS {
		v.addWarning(section, "max_network_age_s", strconv.Itoa(config.MaxNetworkAgeS),
			"shorter than max_location_age_s, network fixes will rarely be used", result)
	}

	if config.RecordMinDistance < 0 {
		v.addError(section, "record_min_distance", fmt.Sprint(config.RecordMinDistance), "must not be negative", result)
	}
	v.validateIntegerRange(section, "record_split_gap_s", config.RecordSplitGapS, 1, 86400, result)

	v.validateIntegerRange(section, "journal_size", config.JournalSize, 1, 100000, result)
	v.validateIntegerRange(section, "journal_retention_hours", config.JournalRetentionHours, 1, 168, result)
}

func (v *ConfigValidator) validateStorageSection(config *Config, result *ValidationResult) {
	section := "storage"

	v.validateRequired(section, "tracks_db", config.Storage.TracksDB, result)
	v.validateRequired(section, "prefs_db", config.Storage.PrefsDB, result)
	if config.Storage.TracksDB != "" && config.Storage.TracksDB == config.Storage.PrefsDB {
		v.addError(section, "prefs_db", config.Storage.PrefsDB, "must differ from tracks_db", result)
	}
	v.validateIntegerRange(section, "busy_timeout_ms", config.Storage.BusyTimeoutMS, 0, 600000, result)
}

func (v *ConfigValidator) validateMQTTSection(config *Config, result *ValidationResult) {
	section := "mqtt"

	v.validateRequired(section, "broker", config.MQTT.Broker, result)
	v.validateIntegerRange(section, "port", config.MQTT.Port, 1, 65535, result)
	v.validateIntegerRange(section, "qos", config.MQTT.QoS, 0, 2, result)
	v.validateRequired(section, "topic_prefix", config.MQTT.TopicPrefix, result)
	v.validateRequired(section, "feed_topic", config.MQTT.FeedTopic, result)
	v.validateIntegerRange(section, "queue_size", config.MQTT.QueueSize, 1, 100000, result)
	v.validateIntegerRange(section, "batch_size", config.MQTT.BatchSize, 1, 10000, result)

	for _, topic := range []string{config.MQTT.TopicPrefix, config.MQTT.FeedTopic} {
		if strings.ContainsAny(topic, "#+") {
			v.addError(section, "topic", topic, "wildcards are not allowed", result)
		}
	}
	if config.MQTT.Username != "" && config.MQTT.Password == "" {
		v.addWarning(section, "password", "", "username set without password", result)
	}
}

func (v *ConfigValidator) validateAPISection(config *Config, result *ValidationResult) {
	section := "api"

	v.validateIntegerRange(section, "port", config.API.Port, 1, 65535, result)
	if config.API.AuthKey == "" && !isLoopback(config.API.Host) {
		v.addWarning(section, "auth_key", "", "API reachable from the network without auth_key", result)
	}
}

func (v *ConfigValidator) validateMetricsSection(config *Config, result *ValidationResult) {
	section := "metrics"

	if _, port, err := net.SplitHostPort(config.Metrics.Listen); err != nil || port == "" {
		v.addError(section, "listen", config.Metrics.Listen, "must be host:port", result)
	}
	if !strings.HasPrefix(config.Metrics.Path, "/") {
		v.addError(section, "path", config.Metrics.Path, "must start with /", result)
	}
}

func isLoopback(host string) bool {
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

func (v *ConfigValidator) validateIntegerRange(section, option string, value, min, max int, result *ValidationResult) {
	if value < min || value > max {
		v.addError(section, option, strconv.Itoa(value), fmt.Sprintf("must be between %d and %d", min, max), result)
	}
}

func (v *ConfigValidator) validateChoice(section, option, value string, choices []string, result *ValidationResult) {
	for _, c := range choices {
		if value == c {
			return
		}
	}
	v.addError(section, option, value, "must be one of "+strings.Join(choices, ", "), result)
}

func (v *ConfigValidator) validateRequired(section, option, value string, result *ValidationResult) {
	if strings.TrimSpace(value) == "" {
		v.addError(section, option, value, "is required", result)
	}
}

func (v *ConfigValidator) addError(section, option, value, message string, result *ValidationResult) {
	result.Errors = append(result.Errors, ValidationError{
		Section: section,
		Option:  option,
		Value:   value,
		Message: message,
	})
}

func (v *ConfigValidator) addWarning(section, option, value, message string, result *ValidationResult) {
	result.Warnings = append(result.Warnings, ValidationWarning{
		Section: section,
		Option:  option,
		Value:   value,
		Message: message,
	})
}
