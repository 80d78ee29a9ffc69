package postprocessing

import (
	"fmt"
	"strings"

	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
)

type PostProcessingSettings struct {
	OutputFormat        string                // Output container format (e.g., "mp4", "mkv")
	OutputCodec         string                // FFmpeg encoder to use (e.g., "libx264", "mpeg4")
	VideoBitRate        string                // Bitrate for video compression (e.g., "1000k"); empty keeps the encoder default
	Grayscale           bool                  // Whether to convert video to grayscale
	DownscaleResolution resolution.Resolution // Resolution to downscale video to; empty keeps the size
	DeleteOriginal      bool                  // Remove the recorded clip once the processed one exists
}

var DefaultPostProcessingSettings = PostProcessingSettings{
	OutputFormat:   "mp4",
	OutputCodec:    "libx264",
	VideoBitRate:   "1000k",
	DeleteOriginal: true,
}

func (s PostProcessingSettings) Validate() error {
	if strings.TrimSpace(s.OutputFormat) == "" {
		return fmt.Errorf("post-processing output format must be set")
	}
	if strings.TrimSpace(s.OutputCodec) == "" {
		return fmt.Errorf("post-processing output codec must be set")
	}
	if !s.DownscaleResolution.IsEmpty() && !s.DownscaleResolution.Valid() {
		return fmt.Errorf("invalid downscale resolution %s", s.DownscaleResolution)
	}
	return nil
}

// filters returns the ffmpeg video filter chain for s, or "" when none is needed.
func (s PostProcessingSettings) filters() string {
	var filters []string

	if s.Grayscale {
		filters = append(filters, "format=gray")
	}
	if !s.DownscaleResolution.IsEmpty() {
		filters = append(filters, fmt.Sprintf("scale=%d:%d", s.DownscaleResolution.Width, s.DownscaleResolution.Height))
	}

	return strings.Join(filters, ",")
}
