package clipwriter

import (
	"fmt"
	"os"

	"github.com/xfrr/goffmpeg/transcoder"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
)

// ClipInfo describes a finished clip as seen by ffprobe.
type ClipInfo struct {
	Valid    bool
	Format   string
	Codec    string
	Width    int
	Height   int
	Duration string
}

// Validator checks that a finished clip is a readable container with a video stream.
type Validator interface {
	Validate(path string) (*ClipInfo, error)
}

// FFmpegValidator implements Validator using goffmpeg
type FFmpegValidator struct {
	logger logging.Logger
}

func NewFFmpegValidator(logger logging.Logger) *FFmpegValidator {
	return &FFmpegValidator{logger: logging.OrNop(logger)}
}

// Validate probes path. A file that exists but cannot be parsed yields an invalid
// ClipInfo and no error; errors are reserved for files that cannot be inspected at all.
func (v *FFmpegValidator) Validate(path string) (*ClipInfo, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat clip: %w", err)
	}
	if stat.Size() == 0 {
		return &ClipInfo{Valid: false}, nil
	}

	trans := new(transcoder.Transcoder)
	if err := trans.Initialize(path, ""); err != nil {
		v.logger.Debug("Clip could not be probed", "path", path, "error", err)
		return &ClipInfo{Valid: false}, nil
	}

	metadata := trans.MediaFile().Metadata()
	info := &ClipInfo{
		Format:   metadata.Format.FormatName,
		Duration: metadata.Format.Duration,
	}
	for _, stream := range metadata.Streams {
		if stream.CodecType == "video" {
			info.Codec = stream.CodecName
			info.Width = stream.Width
			info.Height = stream.Height
			break // Use first video stream
		}
	}
	info.Valid = info.Width > 0 && info.Height > 0

	v.logger.Debug("Probed clip", "path", path, "format", info.Format, "codec", info.Codec, "valid", info.Valid)
	return info, nil
}
