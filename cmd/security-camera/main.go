package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/ESJavadex/security-ha-addon/internal/analyzer"
	"github.com/ESJavadex/security-ha-addon/internal/config"
	"github.com/ESJavadex/security-ha-addon/internal/detector"
	"github.com/ESJavadex/security-ha-addon/internal/hass"
	"github.com/ESJavadex/security-ha-addon/internal/httpapi"
	"github.com/ESJavadex/security-ha-addon/internal/logger"
	"github.com/ESJavadex/security-ha-addon/internal/recorder"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	// 1. Load Configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Error loading config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Infof("Loaded config from %s", *configPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Open Recording Store
	store, err := recorder.OpenStore(cfg.RecordingsPath)
	if err != nil {
		logger.Fatalf("Failed to open recording store: %v", err)
	}

	// 3. Initialize Recorder (with LLM analysis when enabled)
	recOpts := []recorder.ControllerOption{}
	if cfg.LLM.Enabled {
		llm := analyzer.New(cfg.LLM, cfg.RecordingsPath)
		recOpts = append(recOpts, recorder.WithAnalyzer(llm, cfg.LLM.AutoAnalyze))
		if ok, msg := llm.TestConnection(); ok {
			logger.Infof("LLM analysis enabled: %s", msg)
		} else {
			logger.Warnf("LLM endpoint check failed: %s", msg)
		}
	}
	rec := recorder.NewController(cfg.Recording, cfg.StreamURL, store, cfg.RecordingsPath, recOpts...)

	// 4. Initialize Motion Detector
	frames := &detector.FFmpegFrameSource{StreamURL: cfg.StreamURL}
	det := detector.NewDetector(cfg.Motion, frames, detector.NewDiffScorer(),
		detector.WithSettingsFile(cfg.SettingsFile))

	// 5. Initialize State Reporter (file + optional MQTT)
	var reporterOpts []hass.ReporterOption
	if cfg.MQTT.Enabled {
		mqttClient := hass.NewMQTTClient(cfg.MQTT)
		if err := mqttClient.Connect(); err != nil {
			logger.Warnf("Failed to connect to MQTT: %v", err)
		} else {
			defer mqttClient.Disconnect()
			reporterOpts = append(reporterOpts, hass.WithPublisher(mqttClient))
		}
	}
	reporter := hass.NewReporter(cfg.StateFile, det, rec, reporterOpts...)

	// 6. Initialize HTTP API
	api := httpapi.NewServer(cfg.HTTP, cfg.RecordingsPath, cfg.StateFile, cfg.SettingsFile, rec, det)

	// 7. Wire Detector Events to the Recorder
	go func() {
		for ev := range det.Events() {
			switch ev.Kind {
			case detector.MotionStart:
				rec.StartRecording(ev.Timestamp)
			case detector.MotionFrame:
				rec.ExtendRecording()
			case detector.MotionEnd:
				rec.ScheduleStop()
			}
		}
	}()

	// 8. Start Everything
	go det.Run(ctx)
	go reporter.Run(ctx)
	go func() {
		if err := api.Start(ctx); err != nil {
			logger.Errorf("HTTP server error: %v", err)
			cancel()
		}
	}()

	// 9. Wait for Signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	sig := <-sigChan
	logger.Infof("Received signal %v, shutting down...", sig)

	cancel()
	rec.StopNow()
}
