package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	"github.com/yeti47/cryospy/client/motion-recorder/config"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command line flags
	configPath := flag.String("config", "config.json", "Path to the JSON configuration file")

	// Config override flags
	cameraDevice := flag.String("camera-device", "", "Camera index or device path (overrides config)")
	videoFile := flag.String("video-file", "", "Video file or stream URL to read instead of a camera (overrides config)")
	sensitivity := flag.Int("sensitivity", 0, "Motion score that must be exceeded (overrides config)")
	duration := flag.Float64("duration", 0, "Seconds to keep recording after the last motion (overrides config)")
	outputDir := flag.String("output-dir", "", "Directory for recorded clips (overrides config)")
	strategy := flag.String("strategy", "", "Background model strategy, 'mixture' or 'history' (overrides config)")
	statusAddr := flag.String("status-addr", "", "Address of the status API, e.g. ':8090' (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")

	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		return 1
	}

	// Apply CLI overrides if provided
	cfg.Override(config.ConfigOverrides{
		CameraDevice: cameraDevice,
		VideoFile:    videoFile,
		Sensitivity:  sensitivity,
		DurationSecs: duration,
		OutputDir:    outputDir,
		Strategy:     strategy,
		StatusAddr:   statusAddr,
		LogLevel:     logLevel,
	})

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	logger, logCloser := logging.CreateLogger(logging.Options{
		Level:    logging.LogLevel(cfg.LogLevel),
		Dir:      cfg.LogPath,
		FileName: "motion-recorder",
		Console:  cfg.LogConsole,
	})
	defer logCloser.Close()

	// Log final configuration
	logger.Info("Configuration loaded",
		"config", *configPath,
		"camera_device", cfg.CameraDevice,
		"video_file", cfg.VideoFile,
		"resolution", cfg.Resolution,
		"sensitivity", cfg.Sensitivity,
		"recording_duration_seconds", cfg.RecordingDurationSeconds,
		"output_dir", cfg.OutputDir,
		"strategy", cfg.Background.Strategy,
	)

	app, err := NewRecorderApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to start motion recorder", "error", err)
		return 1
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("Error while releasing resources", "error", err)
		}
	}()

	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Motion recorder started")
	if err := app.Run(ctx); err != nil {
		logger.Error("Motion recorder stopped with an error", "error", err)
		return 1
	}

	logger.Info("Motion recorder stopped")
	return 0
}
