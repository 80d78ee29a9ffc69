package postprocessing

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xfrr/goffmpeg/transcoder"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
)

// Job is a finished clip waiting to be processed.
type Job struct {
	SessionID string
	Number    int
	Path      string
	StartedAt time.Time
	Duration  time.Duration
}

// ProcessedClip describes the file a PostProcessor produced.
type ProcessedClip struct {
	Path     string
	Codec    string
	Format   string
	Duration time.Duration
}

type PostProcessor interface {
	// ProcessClip re-encodes the clip of job and returns the new file.
	ProcessClip(job *Job) (*ProcessedClip, error)
}

type FfmpegPostProcessor struct {
	settings PostProcessingSettings
	logger   logging.Logger
}

func NewFfmpegPostProcessor(settings PostProcessingSettings, logger logging.Logger) *FfmpegPostProcessor {
	return &FfmpegPostProcessor{
		settings: settings,
		logger:   logging.OrNop(logger),
	}
}

func (p *FfmpegPostProcessor) ProcessClip(job *Job) (*ProcessedClip, error) {
	// Create transcoder instance
	trans := new(transcoder.Transcoder)

	outputPath := outputPathFor(job.Path, p.settings.OutputFormat)

	// Initialize transcoder with input and output files
	err := trans.Initialize(job.Path, outputPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize transcoder: %w", err)
	}

	// Configure basic output settings - video only, no audio
	trans.MediaFile().SetVideoCodec(p.settings.OutputCodec)
	trans.MediaFile().SetOutputFormat(p.settings.OutputFormat)
	trans.MediaFile().SetSkipAudio(true)

	if filterChain := p.settings.filters(); filterChain != "" {
		trans.MediaFile().SetVideoFilter(filterChain)
	}
	if p.settings.VideoBitRate != "" {
		trans.MediaFile().SetVideoBitRate(p.settings.VideoBitRate)
	}

	// The input was probed during initialization, no second ffprobe needed.
	duration, err := parseDuration(trans.MediaFile().Metadata().Format.Duration)
	if err != nil {
		duration = job.Duration
	}

	done := trans.Run(false)
	if err := <-done; err != nil {
		os.Remove(outputPath)
		return nil, fmt.Errorf("failed to process video: %w", err)
	}

	p.logger.Debug("Clip post-processed", "input", job.Path, "output", outputPath, "codec", p.settings.OutputCodec)
	return &ProcessedClip{
		Path:     outputPath,
		Codec:    p.settings.OutputCodec,
		Format:   p.settings.OutputFormat,
		Duration: duration,
	}, nil
}

// outputPathFor swaps the extension of input for format. When that would
// overwrite the input, "-processed" is added to the name.
func outputPathFor(input, format string) string {
	ext := "." + strings.TrimLeft(format, ".")
	stem := strings.TrimSuffix(input, filepath.Ext(input))
	if strings.EqualFold(filepath.Ext(input), ext) {
		stem += "-processed"
	}
	return stem + ext
}

func parseDuration(durationStr string) (time.Duration, error) {
	if durationStr == "" {
		return 0, fmt.Errorf("empty duration in video metadata")
	}

	// Parse duration string to float64 seconds
	durationSeconds, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration '%s': %w", durationStr, err)
	}

	if durationSeconds <= 0 {
		return 0, fmt.Errorf("invalid or zero duration: %f seconds", durationSeconds)
	}

	return time.Duration(durationSeconds * float64(time.Second)), nil
}
