package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/background"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
	filemanagement "github.com/yeti47/cryospy/client/motion-recorder/file-management"
	motiondetection "github.com/yeti47/cryospy/client/motion-recorder/motion-detection"
	postprocessing "github.com/yeti47/cryospy/client/motion-recorder/post-processing"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// BackgroundConfig selects and tunes the background model.
type BackgroundConfig struct {
	Strategy                 string  `json:"strategy"`                   // "mixture" or "history"
	HistoryLength            int     `json:"history_length"`             // frames; also the warm-up length
	VarianceThreshold        float64 `json:"variance_threshold"`         // see background.Settings
	LearningRate             float64 `json:"learning_rate"`              // 0 means 1/history_length
	ForegroundLearningFactor float64 `json:"foreground_learning_factor"` // slows learning of foreground pixels
	MixtureComponents        int     `json:"mixture_components"`
	KNNSamples               int     `json:"knn_samples"`
}

// PostProcessingConfig controls re-encoding of finished clips with ffmpeg.
type PostProcessingConfig struct {
	Enabled             bool   `json:"enabled"`
	OutputFormat        string `json:"output_format"`
	OutputCodec         string `json:"output_codec"`
	VideoBitRate        string `json:"video_bitrate"`
	Grayscale           bool   `json:"grayscale"`
	DownscaleResolution string `json:"downscale_resolution"` // empty keeps the recorded size
	DeleteOriginal      bool   `json:"delete_original"`
	QueueSize           int    `json:"queue_size"`
}

// Config holds the application configuration
type Config struct {
	CameraDevice string  `json:"camera_device"`
	VideoFile    string  `json:"video_file"` // takes precedence over camera_device
	Resolution   string  `json:"resolution"` // "auto", "1280x720", "720p", ...
	FrameRate    float64 `json:"frame_rate"` // frame rate written into clips

	Sensitivity      int    `json:"sensitivity"`       // motion score that must be exceeded
	ScaleSensitivity bool   `json:"scale_sensitivity"` // scale sensitivity by frame area relative to 1280x720
	ScoreMode        string `json:"score_mode"`        // "pixels" or "largest-region"
	MedianBlurSize   int    `json:"median_blur_size"`
	OpenKernelSize   int    `json:"open_kernel_size"`

	RecordingDurationSeconds float64 `json:"recording_duration_seconds"` // recording continues this long after the last motion
	MaxClipDurationSeconds   float64 `json:"max_clip_duration_seconds"`  // 0 disables splitting
	OutputDir                string  `json:"output_dir"`
	FilenameLayout           string  `json:"filename_layout"` // Go time layout for clip names

	Background    BackgroundConfig        `json:"background"`
	CodecFallback clipwriter.FallbackList `json:"codec_fallback"`
	VerifyClips   bool                    `json:"verify_clips"` // probe finished clips with ffprobe

	PostProcessing PostProcessingConfig `json:"post_processing"`

	CatalogPath string `json:"catalog_path"` // empty disables the session catalogue
	StatusAddr  string `json:"status_addr"`  // empty disables the status API

	LogLevel   string `json:"log_level"`
	LogPath    string `json:"log_path"`
	LogConsole bool   `json:"log_console"`
}

// DefaultConfig returns the configuration written when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		CameraDevice:             "/dev/video0",
		Resolution:               "auto",
		FrameRate:                recording.DefaultRecordingSettings.FrameRate,
		Sensitivity:              motiondetection.DefaultMotionDetectionSettings.Sensitivity,
		ScaleSensitivity:         motiondetection.DefaultMotionDetectionSettings.ScaleSensitivity,
		ScoreMode:                string(motiondetection.DefaultMotionDetectionSettings.Mode),
		MedianBlurSize:           motiondetection.DefaultMotionDetectionSettings.MedianBlurSize,
		OpenKernelSize:           motiondetection.DefaultMotionDetectionSettings.OpenKernelSize,
		RecordingDurationSeconds: recording.DefaultRecordingSettings.Duration.Seconds(),
		OutputDir:                "recordings",
		FilenameLayout:           clipwriter.DefaultFilenameLayout,
		Background:               backgroundConfigFrom(background.DefaultMixtureSettings),
		CodecFallback:            clipwriter.DefaultFallbackList(),
		VerifyClips:              true,
		PostProcessing: PostProcessingConfig{
			OutputFormat:   postprocessing.DefaultPostProcessingSettings.OutputFormat,
			OutputCodec:    postprocessing.DefaultPostProcessingSettings.OutputCodec,
			VideoBitRate:   postprocessing.DefaultPostProcessingSettings.VideoBitRate,
			DeleteOriginal: postprocessing.DefaultPostProcessingSettings.DeleteOriginal,
			QueueSize:      10,
		},
		CatalogPath: filepath.Join("data", "sessions.db"),
		LogLevel:    string(logging.LogLevelInfo),
		LogPath:     "logs",
		LogConsole:  true,
	}
}

func backgroundConfigFrom(s background.Settings) BackgroundConfig {
	return BackgroundConfig{
		Strategy:                 string(s.Strategy),
		HistoryLength:            s.HistoryLength,
		VarianceThreshold:        s.VarianceThreshold,
		LearningRate:             s.LearningRate,
		ForegroundLearningFactor: s.ForegroundLearningFactor,
		MixtureComponents:        s.MixtureComponents,
		KNNSamples:               s.KNNSamples,
	}
}

// LoadConfig loads configuration from a JSON file. A missing file is created with
// the defaults. Fields absent from the file keep their defaults; the background
// parameters default to those of the strategy named in the file.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			defaultConfig := DefaultConfig()
			if err := SaveConfig(filename, defaultConfig); err != nil {
				return nil, fmt.Errorf("failed to create default config file: %w", err)
			}
			return defaultConfig, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var probe struct {
		Background struct {
			Strategy string `json:"strategy"`
		} `json:"background"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config := DefaultConfig()
	if probe.Background.Strategy != "" {
		if strategy, err := background.ParseStrategy(probe.Background.Strategy); err == nil {
			config.Background = backgroundConfigFrom(background.DefaultSettings(strategy))
		}
	}
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// ConfigOverrides holds potential override values for configuration
type ConfigOverrides struct {
	CameraDevice *string
	VideoFile    *string
	Sensitivity  *int
	DurationSecs *float64
	OutputDir    *string
	Strategy     *string
	StatusAddr   *string
	LogLevel     *string
}

// Override allows overriding specific configuration values using ConfigOverrides struct.
// Switching the background strategy resets its parameters to that strategy's defaults.
func (c *Config) Override(overrides ConfigOverrides) {
	if overrides.CameraDevice != nil && *overrides.CameraDevice != "" {
		c.CameraDevice = *overrides.CameraDevice
	}
	if overrides.VideoFile != nil && *overrides.VideoFile != "" {
		c.VideoFile = *overrides.VideoFile
	}
	if overrides.Sensitivity != nil && *overrides.Sensitivity > 0 {
		c.Sensitivity = *overrides.Sensitivity
	}
	if overrides.DurationSecs != nil && *overrides.DurationSecs > 0 {
		c.RecordingDurationSeconds = *overrides.DurationSecs
	}
	if overrides.OutputDir != nil && *overrides.OutputDir != "" {
		c.OutputDir = *overrides.OutputDir
	}
	if overrides.Strategy != nil && *overrides.Strategy != "" {
		requested, err := background.ParseStrategy(*overrides.Strategy)
		current, currentErr := background.ParseStrategy(c.Background.Strategy)
		switch {
		case err != nil:
			// left for Validate to reject
			c.Background.Strategy = *overrides.Strategy
		case currentErr != nil || requested != current:
			c.Background = backgroundConfigFrom(background.DefaultSettings(requested))
		}
	}
	if overrides.StatusAddr != nil && *overrides.StatusAddr != "" {
		c.StatusAddr = *overrides.StatusAddr
	}
	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		c.LogLevel = *overrides.LogLevel
	}
}

// Validate checks ranges and enums and that the output directory can be written.
// It creates the output directory when it does not exist.
func (c *Config) Validate() error {
	if err := c.validateSettings(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}

	files := filemanagement.NewLocalFileTracker(c.OutputDir, nil)
	if err := files.EnsureDirectory(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := files.CheckWritable(); err != nil {
		return fmt.Errorf("%w: output directory %s is not writable: %w", ErrInvalidConfig, c.OutputDir, err)
	}
	return nil
}

func (c *Config) validateSettings() error {
	if strings.TrimSpace(c.CameraDevice) == "" && strings.TrimSpace(c.VideoFile) == "" {
		return errors.New("either camera_device or video_file must be set")
	}
	if _, err := c.ResolutionSetting(); err != nil {
		return err
	}
	if c.FrameRate <= 0 || c.FrameRate > 240 {
		return fmt.Errorf("frame_rate must be in (0, 240], got %g", c.FrameRate)
	}
	if c.RecordingDurationSeconds <= 0 {
		return fmt.Errorf("recording_duration_seconds must be positive, got %g", c.RecordingDurationSeconds)
	}
	if c.MaxClipDurationSeconds < 0 {
		return fmt.Errorf("max_clip_duration_seconds must not be negative, got %g", c.MaxClipDurationSeconds)
	}
	if c.MaxClipDurationSeconds > 0 && c.MaxClipDurationSeconds < c.RecordingDurationSeconds {
		return fmt.Errorf("max_clip_duration_seconds (%g) must not be shorter than recording_duration_seconds (%g)",
			c.MaxClipDurationSeconds, c.RecordingDurationSeconds)
	}
	if strings.TrimSpace(c.OutputDir) == "" {
		return errors.New("output_dir must be set")
	}
	if strings.TrimSpace(c.FilenameLayout) == "" || strings.ContainsAny(c.FilenameLayout, `/\`) {
		return fmt.Errorf("filename_layout must be a time layout without path separators, got %q", c.FilenameLayout)
	}
	if !logging.LogLevel(c.LogLevel).Valid() {
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}

	scorer, err := c.ScorerSettings()
	if err != nil {
		return err
	}
	if err := scorer.Validate(); err != nil {
		return err
	}

	bg, err := c.BackgroundSettings()
	if err != nil {
		return err
	}
	if err := bg.Validate(); err != nil {
		return err
	}

	if err := c.RecordingSettings().Validate(); err != nil {
		return err
	}
	if c.PostProcessing.Enabled {
		pp, err := c.PostProcessingSettings()
		if err != nil {
			return err
		}
		if err := pp.Validate(); err != nil {
			return err
		}
		if c.PostProcessing.QueueSize < 1 {
			return fmt.Errorf("post_processing.queue_size must be at least 1, got %d", c.PostProcessing.QueueSize)
		}
	}
	return c.FallbackList().Validate()
}

// ResolutionSetting parses Resolution; an empty result means probe the preferred sizes.
func (c *Config) ResolutionSetting() (resolution.Resolution, error) {
	return resolution.Parse(c.Resolution)
}

func (c *Config) BackgroundSettings() (background.Settings, error) {
	strategy, err := background.ParseStrategy(c.Background.Strategy)
	if err != nil {
		return background.Settings{}, err
	}
	settings := background.DefaultSettings(strategy)
	settings.HistoryLength = c.Background.HistoryLength
	settings.VarianceThreshold = c.Background.VarianceThreshold
	settings.LearningRate = c.Background.LearningRate
	settings.ForegroundLearningFactor = c.Background.ForegroundLearningFactor
	settings.MixtureComponents = c.Background.MixtureComponents
	settings.KNNSamples = c.Background.KNNSamples
	return settings, nil
}

func (c *Config) ScorerSettings() (motiondetection.MotionDetectionSettings, error) {
	mode, err := motiondetection.ParseScoreMode(c.ScoreMode)
	if err != nil {
		return motiondetection.MotionDetectionSettings{}, err
	}
	return motiondetection.MotionDetectionSettings{
		Sensitivity:      c.Sensitivity,
		ScaleSensitivity: c.ScaleSensitivity,
		Mode:             mode,
		MedianBlurSize:   c.MedianBlurSize,
		OpenKernelSize:   c.OpenKernelSize,
	}, nil
}

// RecordingSettings returns the recorder settings. FirstSessionNumber is left at 1;
// the caller continues the catalogue numbering.
func (c *Config) RecordingSettings() recording.RecordingSettings {
	return recording.RecordingSettings{
		Duration:           secondsToDuration(c.RecordingDurationSeconds),
		MaxClipDuration:    secondsToDuration(c.MaxClipDurationSeconds),
		FrameRate:          c.FrameRate,
		FirstSessionNumber: 1,
	}
}

func (c *Config) PostProcessingSettings() (postprocessing.PostProcessingSettings, error) {
	downscale, err := resolution.Parse(c.PostProcessing.DownscaleResolution)
	if err != nil {
		return postprocessing.PostProcessingSettings{}, fmt.Errorf("post_processing.downscale_resolution: %w", err)
	}
	return postprocessing.PostProcessingSettings{
		OutputFormat:        strings.TrimLeft(c.PostProcessing.OutputFormat, "."),
		OutputCodec:         c.PostProcessing.OutputCodec,
		VideoBitRate:        c.PostProcessing.VideoBitRate,
		Grayscale:           c.PostProcessing.Grayscale,
		DownscaleResolution: downscale,
		DeleteOriginal:      c.PostProcessing.DeleteOriginal,
	}, nil
}

func (c *Config) FallbackList() clipwriter.FallbackList {
	return c.CodecFallback.Normalize()
}

func secondsToDuration(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}

// SaveConfig saves a configuration to a JSON file
func SaveConfig(filename string, config *Config) error {
	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create config directory: %w", err)
		}
	}
	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
