package clipwriter

import (
	"maps"
	"os/exec"
	"regexp"
	"strings"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
)

// fourccEncoders maps four character codes to the FFmpeg encoders that can produce
// them, in preference order.
var fourccEncoders = map[string][]string{
	"X264": {"libx264", "libopenh264", "h264_vaapi", "h264_qsv", "h264_v4l2m2m"},
	"H264": {"libx264", "libopenh264", "h264_vaapi", "h264_qsv", "h264_v4l2m2m"},
	"AVC1": {"libx264", "libopenh264", "h264_vaapi", "h264_qsv", "h264_v4l2m2m"},
	"HEVC": {"libx265", "hevc_vaapi", "hevc_qsv"},
	"H265": {"libx265", "hevc_vaapi", "hevc_qsv"},
	"MP4V": {"mpeg4"},
	"FMP4": {"mpeg4"},
	"XVID": {"libxvid", "mpeg4"},
	"MJPG": {"mjpeg"},
	"VP80": {"libvpx"},
	"VP90": {"libvpx-vp9"},
}

// CodecProvider reports which encoders the local FFmpeg installation offers.
type CodecProvider interface {
	IsCodecAvailable(codec string) bool
	GetAvailableCodecs() map[string]bool
	// UnavailableEntries returns the fallback entries none of whose encoders are known.
	UnavailableEntries(list FallbackList) []Entry
}

// FFmpegCodecProvider implements CodecProvider using FFmpeg. OpenCV may be built
// against a different FFmpeg than the one on the PATH, so the result is only used
// for diagnostics and never to skip fallback entries.
type FFmpegCodecProvider struct {
	// Cache to avoid repeated FFmpeg calls
	availableCodecs map[string]bool
	logger          logging.Logger
}

// NewFFmpegCodecProvider creates a new FFmpeg-based codec provider
func NewFFmpegCodecProvider(logger logging.Logger) *FFmpegCodecProvider {
	return newCodecProvider(func() ([]byte, error) {
		return exec.Command("ffmpeg", "-hide_banner", "-encoders").Output()
	}, logger)
}

func newCodecProvider(listEncoders func() ([]byte, error), logger logging.Logger) *FFmpegCodecProvider {
	provider := &FFmpegCodecProvider{
		availableCodecs: make(map[string]bool),
		logger:          logging.OrNop(logger),
	}

	output, err := listEncoders()
	if err != nil {
		provider.logger.Warn("Failed to query FFmpeg encoders", "error", err)
		return provider
	}
	provider.availableCodecs = parseEncoders(string(output))
	provider.logger.Debug("Loaded available codecs from FFmpeg", "count", len(provider.availableCodecs))
	return provider
}

// Pattern matches lines like: " V....D libopenh264          OpenH264 H.264 / AVC / MPEG-4 AVC / MPEG-4 part 10 (codec h264)"
// Captures: flags (V..... or A.....) and codec name
var codecPattern = regexp.MustCompile(`^ ([VA][.SFXBD]{5})\s+([a-zA-Z0-9_-]+)\s+`)

func parseEncoders(output string) map[string]bool {
	codecs := make(map[string]bool)
	for _, line := range strings.Split(output, "\n") {
		// Header lines explain the flags, e.g. " V..... = Video"
		if strings.Contains(line, " = ") {
			continue
		}
		matches := codecPattern.FindStringSubmatch(line)
		if len(matches) >= 3 && matches[2] != "" {
			codecs[matches[2]] = true
		}
	}
	return codecs
}

// IsCodecAvailable checks if an FFmpeg encoder is available
func (c *FFmpegCodecProvider) IsCodecAvailable(codec string) bool {
	available, exists := c.availableCodecs[codec]
	return exists && available
}

// GetAvailableCodecs returns a copy of all available codecs
func (c *FFmpegCodecProvider) GetAvailableCodecs() map[string]bool {
	// Return a copy to prevent external modification
	result := make(map[string]bool)
	maps.Copy(result, c.availableCodecs)
	return result
}

func (c *FFmpegCodecProvider) UnavailableEntries(list FallbackList) []Entry {
	if len(c.availableCodecs) == 0 {
		return nil
	}
	var missing []Entry
	for _, entry := range list {
		encoders, known := fourccEncoders[strings.ToUpper(entry.Codec)]
		if !known {
			continue
		}
		found := false
		for _, name := range encoders {
			if c.IsCodecAvailable(name) {
				found = true
				break
			}
		}
		if !found {
			missing = append(missing, entry)
		}
	}
	return missing
}

// ReportFallback logs which fallback entries are likely to fail on this system.
func ReportFallback(provider CodecProvider, list FallbackList, logger logging.Logger) {
	logger = logging.OrNop(logger)
	missing := provider.UnavailableEntries(list)
	for _, entry := range missing {
		logger.Warn("No FFmpeg encoder found for fallback entry, it will probably be skipped", "entry", entry.String())
	}
	if len(missing) == len(list) && len(list) > 0 {
		logger.Warn("None of the fallback entries has a known encoder, recording may fail")
	}
}
