package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/markus-lassfolk/trackhub/pkg/api"
	"github.com/markus-lassfolk/trackhub/pkg/hub"
	"github.com/markus-lassfolk/trackhub/pkg/location"
	"github.com/markus-lassfolk/trackhub/pkg/logx"
	"github.com/markus-lassfolk/trackhub/pkg/metrics"
	"github.com/markus-lassfolk/trackhub/pkg/mqtt"
	"github.com/markus-lassfolk/trackhub/pkg/pidfile"
	"github.com/markus-lassfolk/trackhub/pkg/prefs"
	"github.com/markus-lassfolk/trackhub/pkg/store"
	"github.com/markus-lassfolk/trackhub/pkg/telem"
	"github.com/markus-lassfolk/trackhub/pkg/uci"
)

var (
	configPath = flag.String("config", uci.DefaultConfigPath, "Path to UCI configuration file")
	pidPath    = flag.String("pid-file", "", "Path to PID file (overrides pid_file)")
	logLevel   = flag.String("log-level", "", "Override log level (trace|debug|info|warn|error)")
	version    = flag.Bool("version", false, "Show version information")
	force      = flag.Bool("force", false, "Force start by removing the PID file of a running instance")
)

const (
	AppName    = "trackhubd"
	AppVersion = "1.0.0"
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("%s version %s\n", AppName, AppVersion)
		os.Exit(0)
	}

	logger := logx.NewLogger("info", AppName)

	cfg, err := uci.LoadConfig(*configPath)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger.SetLevel(cfg.LogLevel)
	logger.SetFormat(cfg.LogFormat)

	for _, w := range uci.NewConfigValidator().Validate(cfg).Warnings {
		logger.Warn("Configuration warning", "section", w.Section, "option", w.Option, "message", w.Message)
	}

	if *pidPath != "" {
		cfg.PIDFile = *pidPath
	}
	pidFile := pidfile.New(cfg.PIDFile)
	if err := acquirePIDFile(pidFile, logger); err != nil {
		logger.Error("Failed to create PID file", "error", err, "path", cfg.PIDFile)
		os.Exit(1)
	}

	err = run(cfg, logger)
	if rerr := pidFile.Remove(); rerr != nil {
		logger.Error("Failed to remove PID file", "error", rerr)
	}
	if err != nil {
		logger.Error("trackhub daemon failed", "error", err)
		os.Exit(1)
	}
}

func acquirePIDFile(pidFile *pidfile.PIDFile, logger *logx.Logger) error {
	running, existingPID, err := pidFile.CheckRunning()
	if err != nil {
		logger.Warn("Failed to check for running instance", "error", err)
	}
	if running {
		if !*force {
			fmt.Fprintf(os.Stderr, "Error: %s is already running with PID %d\n", AppName, existingPID)
			fmt.Fprintf(os.Stderr, "Use --force to override, or stop the existing instance first\n")
			return &pidfile.RunningError{PID: existingPID}
		}
		logger.Warn("Another instance is running, but force flag specified", "existing_pid", existingPID)
		if err := pidFile.ForceRemove(); err != nil {
			return err
		}
	}
	return pidFile.Create()
}

func run(cfg *uci.Config, logger *logx.Logger) error {
	logger.Info("Starting trackhub daemon", "version", AppVersion, "pid", os.Getpid())

	db, err := store.NewTrackDatabase(&store.TrackDatabaseConfig{
		DatabasePath: cfg.Storage.TracksDB,
		BusyTimeout:  time.Duration(cfg.Storage.BusyTimeoutMS) * time.Millisecond,
	}, logger.With("subsystem", "store"))
	if err != nil {
		return err
	}
	defer db.Close()

	preferences, err := prefs.Open(cfg.Storage.PrefsDB, logger.With("subsystem", "prefs"))
	if err != nil {
		return err
	}
	defer preferences.Close()

	source := location.NewSource(cfg.HasCompass, logger.With("subsystem", "location"))

	recorderConfig := location.DefaultRecorderConfig()
	recorderConfig.MinDistance = cfg.RecordMinDistance
	recorderConfig.SplitGap = cfg.RecordSplitGap()
	recorder := location.NewRecorder(recorderConfig, db, preferences, logger.With("subsystem", "recorder"))
	recorder.Attach(source)
	defer recorder.Detach()

	collector := metrics.NewCollector()

	hubConfig := hub.DefaultConfig()
	hubConfig.MaxDisplayedPoints = cfg.MaxPoints
	hubConfig.TargetDisplayedPoints = cfg.TargetPoints
	hubConfig.MaxDisplayedWaypoints = cfg.MaxWaypoints
	hubConfig.MaxLocationAge = cfg.MaxLocationAge()
	hubConfig.MaxNetworkAge = cfg.MaxNetworkAge()
	hubConfig.Recorder = collector
	h := hub.New(hubConfig, preferences, db, source, logger.With("subsystem", "hub"))

	journal, err := telem.NewJournal(cfg.JournalSize, cfg.JournalRetention(), cfg.JournalPoints)
	if err != nil {
		return err
	}
	h.RegisterSubscriber(journal)

	var mqttClient *mqtt.Client
	var feed *mqtt.Feed
	if cfg.MQTT.Enabled {
		mqttClient = mqtt.NewClient(&mqtt.Config{
			Broker:       cfg.MQTT.Broker,
			Port:         cfg.MQTT.Port,
			ClientID:     cfg.MQTT.ClientID,
			Username:     cfg.MQTT.Username,
			Password:     cfg.MQTT.Password,
			TopicPrefix:  cfg.MQTT.TopicPrefix,
			FeedTopic:    cfg.MQTT.FeedTopic,
			QoS:          cfg.MQTT.QoS,
			Retain:       cfg.MQTT.Retain,
			Enabled:      true,
			MaxQueueSize: cfg.MQTT.QueueSize,
		}, logger.With("subsystem", "mqtt"))
		if err := mqttClient.Connect(); err != nil {
			// MQTT is optional
			logger.Error("Failed to connect to MQTT broker", "error", err)
			mqttClient = nil
		} else {
			h.RegisterSubscriber(mqtt.NewStream(mqttClient, cfg.MQTT.BatchSize, logger.With("subsystem", "mqtt")), mqtt.StreamDataTypes...)
			feed = mqtt.NewFeed(mqttClient, source, cfg.MQTT.FeedTopic, logger.With("subsystem", "feed"))
			if err := feed.Start(); err != nil {
				logger.Error("Failed to start MQTT location feed", "error", err)
			}
		}
	}

	h.Start()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, collector.Handler())
		metricsServer = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
		logger.Info("Metrics server started", "listen", cfg.Metrics.Listen, "path", cfg.Metrics.Path)
	}

	apiServer := api.NewServer(api.Deps{
		Hub:      h,
		Tracks:   db,
		Recorder: recorder,
		Input:    source,
		Events:   journal,
	}, &api.ServerConfig{
		Enabled: cfg.API.Enabled,
		Host:    cfg.API.Host,
		Port:    cfg.API.Port,
		AuthKey: cfg.API.AuthKey,
	}, logger.With("subsystem", "api"))
	if err := apiServer.Start(); err != nil {
		h.Stop()
		h.Destroy()
		return err
	}

	waitForShutdown(cfg, h, journal, logger)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn("API server shutdown failed", "error", err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", "error", err)
		}
	}
	if feed != nil {
		feed.Stop()
	}

	h.Stop()
	h.Destroy()

	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	logger.Info("Graceful shutdown completed")
	return nil
}

// waitForShutdown blocks until SIGINT or SIGTERM. SIGHUP re-reads the log
// level from the configuration file.
func waitForShutdown(cfg *uci.Config, h *hub.Hub, journal *telem.Journal, logger *logx.Logger) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	statusTicker := time.NewTicker(time.Minute)
	defer statusTicker.Stop()

	for {
		select {
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				logger.Info("Received shutdown signal", "signal", sig)
				return
			}
			reloaded, err := uci.LoadConfig(*configPath)
			if err != nil {
				logger.Warn("Failed to reload configuration", "error", err)
				continue
			}
			if *logLevel == "" {
				cfg.LogLevel = reloaded.LogLevel
				logger.SetLevel(cfg.LogLevel)
			}
			logger.Info("Configuration reloaded", "log_level", cfg.LogLevel)

		case <-statusTicker.C:
			stats := h.Stats()
			logger.LogDebugVerbose("hub_status", map[string]interface{}{
				"state":          stats.State,
				"subscribers":    stats.Subscribers,
				"selected_track": stats.SelectedTrackID,
				"loaded_points":  stats.NumLoadedPoints,
				"stride":         stats.Stride,
				"provider_state": stats.ProviderState,
			})
			if removed := journal.Cleanup(); removed > 0 {
				logger.Debug("Expired journal events removed", "count", removed)
			}
		}
	}
}
