package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/client/motion-recorder/background"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
	motiondetection "github.com/yeti47/cryospy/client/motion-recorder/motion-detection"
	postprocessing "github.com/yeti47/cryospy/client/motion-recorder/post-processing"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	c := DefaultConfig()
	c.OutputDir = filepath.Join(t.TempDir(), "recordings")
	return c
}

func TestLoadConfig_CreatesDefaultFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(DefaultConfig(), cfg); diff != "" {
		t.Errorf("default config mismatch (-want +got):\n%s", diff)
	}

	_, err = os.Stat(path)
	require.NoError(t, err)

	reloaded, err := LoadConfig(path)
	require.NoError(t, err)
	if diff := cmp.Diff(cfg, reloaded); diff != "" {
		t.Errorf("reloaded config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_MissingFieldsKeepDefaults(t *testing.T) {
	path := writeConfig(t, `{"sensitivity": 1200, "scale_sensitivity": false, "output_dir": "/srv/clips"}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := DefaultConfig()
	want.Sensitivity = 1200
	want.ScaleSensitivity = false
	want.OutputDir = "/srv/clips"
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_BackgroundDefaultsFollowStrategy(t *testing.T) {
	path := writeConfig(t, `{"background": {"strategy": "knn", "history_length": 25}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "knn", cfg.Background.Strategy)
	assert.Equal(t, 25, cfg.Background.HistoryLength)
	assert.Equal(t, 800.0, cfg.Background.VarianceThreshold)

	settings, err := cfg.BackgroundSettings()
	require.NoError(t, err)
	assert.Equal(t, background.StrategyHistory, settings.Strategy)
	assert.Equal(t, 25, settings.HistoryLength)
}

func TestLoadConfig_CodecFallbackFromFile(t *testing.T) {
	path := writeConfig(t, `{"codec_fallback": [
		{"container": "MP4", "codec": "avc1"},
		{"container": "avi", "codec": "MJPG", "extension": "avi"}
	]}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	want := clipwriter.FallbackList{
		{Container: "mp4", Codec: "avc1", Extension: ".mp4"},
		{Container: "avi", Codec: "MJPG", Extension: ".avi"},
	}
	if diff := cmp.Diff(want, cfg.FallbackList()); diff != "" {
		t.Errorf("fallback list mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	path := writeConfig(t, `{"sensitivity": `)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestOverride(t *testing.T) {
	cfg := DefaultConfig()

	device := "2"
	file := "/tmp/in.mp4"
	sensitivity := 300
	duration := 12.5
	dir := "/var/clips"
	addr := ":8090"
	level := "debug"
	empty := ""
	zero := 0

	cfg.Override(ConfigOverrides{
		CameraDevice: &device,
		VideoFile:    &file,
		Sensitivity:  &sensitivity,
		DurationSecs: &duration,
		OutputDir:    &dir,
		StatusAddr:   &addr,
		LogLevel:     &level,
	})

	assert.Equal(t, "2", cfg.CameraDevice)
	assert.Equal(t, "/tmp/in.mp4", cfg.VideoFile)
	assert.Equal(t, 300, cfg.Sensitivity)
	assert.Equal(t, 12.5, cfg.RecordingDurationSeconds)
	assert.Equal(t, "/var/clips", cfg.OutputDir)
	assert.Equal(t, ":8090", cfg.StatusAddr)
	assert.Equal(t, "debug", cfg.LogLevel)

	// empty and zero values leave the config untouched
	cfg.Override(ConfigOverrides{CameraDevice: &empty, Sensitivity: &zero})
	assert.Equal(t, "2", cfg.CameraDevice)
	assert.Equal(t, 300, cfg.Sensitivity)
}

func TestOverride_StrategySwitchResetsParameters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Background.HistoryLength = 120

	same := "mog2"
	cfg.Override(ConfigOverrides{Strategy: &same})
	assert.Equal(t, 120, cfg.Background.HistoryLength, "same strategy keeps tuned parameters")

	other := "history"
	cfg.Override(ConfigOverrides{Strategy: &other})
	want := backgroundConfigFrom(background.DefaultHistorySettings)
	assert.Equal(t, want, cfg.Background)

	bogus := "optical-flow"
	cfg.Override(ConfigOverrides{Strategy: &bogus})
	assert.Equal(t, "optical-flow", cfg.Background.Strategy)
	cfg.OutputDir = t.TempDir()
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validConfig(t)
	require.NoError(t, cfg.Validate())

	info, err := os.Stat(cfg.OutputDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestValidate_RejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"no source", func(c *Config) { c.CameraDevice = ""; c.VideoFile = "" }},
		{"bad resolution", func(c *Config) { c.Resolution = "huge" }},
		{"zero frame rate", func(c *Config) { c.FrameRate = 0 }},
		{"negative sensitivity", func(c *Config) { c.Sensitivity = -1 }},
		{"unknown score mode", func(c *Config) { c.ScoreMode = "optical" }},
		{"even median blur", func(c *Config) { c.MedianBlurSize = 4 }},
		{"open kernel of one", func(c *Config) { c.OpenKernelSize = 1 }},
		{"zero duration", func(c *Config) { c.RecordingDurationSeconds = 0 }},
		{"negative max duration", func(c *Config) { c.MaxClipDurationSeconds = -5 }},
		{"max shorter than duration", func(c *Config) { c.MaxClipDurationSeconds = 10 }},
		{"empty output dir", func(c *Config) { c.OutputDir = "" }},
		{"layout with separator", func(c *Config) { c.FilenameLayout = "2006/01/02" }},
		{"unknown log level", func(c *Config) { c.LogLevel = "verbose" }},
		{"unknown strategy", func(c *Config) { c.Background.Strategy = "optical-flow" }},
		{"zero history", func(c *Config) { c.Background.HistoryLength = 0 }},
		{"learning rate above one", func(c *Config) { c.Background.LearningRate = 1.5 }},
		{"empty fallback", func(c *Config) { c.CodecFallback = nil }},
		{"long fourcc", func(c *Config) { c.CodecFallback = clipwriter.FallbackList{{Container: "mkv", Codec: "H2645"}} }},
		{"post-processing without codec", func(c *Config) { c.PostProcessing.Enabled = true; c.PostProcessing.OutputCodec = "" }},
		{"post-processing bad downscale", func(c *Config) { c.PostProcessing.Enabled = true; c.PostProcessing.DownscaleResolution = "tiny" }},
		{"post-processing empty queue", func(c *Config) { c.PostProcessing.Enabled = true; c.PostProcessing.QueueSize = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate_UnwritableOutputDir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permissions are not enforced")
	}

	parent := t.TempDir()
	locked := filepath.Join(parent, "locked")
	require.NoError(t, os.Mkdir(locked, 0555))
	t.Cleanup(func() { os.Chmod(locked, 0755) })

	cfg := validConfig(t)
	cfg.OutputDir = locked
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestDerivedSettings(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RecordingDurationSeconds = 2.5
	cfg.MaxClipDurationSeconds = 600
	cfg.ScoreMode = "contour"
	cfg.Resolution = "720p"

	rec := cfg.RecordingSettings()
	assert.Equal(t, recording.RecordingSettings{
		Duration:           2500 * time.Millisecond,
		MaxClipDuration:    10 * time.Minute,
		FrameRate:          20,
		FirstSessionNumber: 1,
	}, rec)

	scorer, err := cfg.ScorerSettings()
	require.NoError(t, err)
	assert.Equal(t, motiondetection.ScoreModeLargestRegion, scorer.Mode)
	assert.Equal(t, 700, scorer.Sensitivity)
	assert.True(t, scorer.ScaleSensitivity)

	res, err := cfg.ResolutionSetting()
	require.NoError(t, err)
	assert.Equal(t, resolution.Resolution720p(), res)

	bg, err := cfg.BackgroundSettings()
	require.NoError(t, err)
	assert.Equal(t, background.DefaultMixtureSettings, bg)
}

func TestValidate_IgnoresDisabledPostProcessing(t *testing.T) {
	cfg := validConfig(t)
	cfg.PostProcessing.OutputCodec = ""
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_PostProcessingSection(t *testing.T) {
	path := writeConfig(t, `{"post_processing": {"enabled": true, "output_format": ".mkv", "grayscale": true, "downscale_resolution": "480p"}}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.True(t, cfg.PostProcessing.Enabled)
	assert.Equal(t, 10, cfg.PostProcessing.QueueSize)

	pp, err := cfg.PostProcessingSettings()
	require.NoError(t, err)
	want := postprocessing.PostProcessingSettings{
		OutputFormat:        "mkv",
		OutputCodec:         "libx264",
		VideoBitRate:        "1000k",
		Grayscale:           true,
		DownscaleResolution: resolution.Resolution480p(),
		DeleteOriginal:      true,
	}
	if diff := cmp.Diff(want, pp); diff != "" {
		t.Errorf("post-processing settings mismatch (-want +got):\n%s", diff)
	}
}
