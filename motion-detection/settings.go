package motiondetection

import (
	"fmt"
	"strings"
)

type ScoreMode string

const (
	// ScoreModePixels counts every foreground pixel left after noise removal.
	ScoreModePixels ScoreMode = "pixels"
	// ScoreModeLargestRegion uses the area of the largest connected foreground region.
	ScoreModeLargestRegion ScoreMode = "largest-region"
)

func ParseScoreMode(s string) (ScoreMode, error) {
	switch ScoreMode(strings.ToLower(strings.TrimSpace(s))) {
	case ScoreModePixels, "":
		return ScoreModePixels, nil
	case ScoreModeLargestRegion, "contour":
		return ScoreModeLargestRegion, nil
	default:
		return "", fmt.Errorf("unknown score mode: %q", s)
	}
}

type MotionDetectionSettings struct {
	Sensitivity      int  // score that must be exceeded to report motion
	ScaleSensitivity bool // scale Sensitivity by frame area relative to 1280x720
	Mode             ScoreMode
	MedianBlurSize   int // odd aperture of the median filter, 0 disables
	OpenKernelSize   int // size of the rectangular opening kernel, 0 disables
}

var DefaultMotionDetectionSettings = MotionDetectionSettings{
	Sensitivity:      700,
	ScaleSensitivity: true,
	Mode:             ScoreModePixels,
	MedianBlurSize:   5,
	OpenKernelSize:   0,
}

func (s MotionDetectionSettings) Validate() error {
	if s.Sensitivity < 0 {
		return fmt.Errorf("sensitivity must not be negative, got %d", s.Sensitivity)
	}
	if _, err := ParseScoreMode(string(s.Mode)); err != nil {
		return err
	}
	if s.MedianBlurSize < 0 || (s.MedianBlurSize > 0 && (s.MedianBlurSize%2 == 0 || s.MedianBlurSize < 3)) {
		return fmt.Errorf("median blur size must be 0 or an odd number of at least 3, got %d", s.MedianBlurSize)
	}
	if s.OpenKernelSize < 0 || s.OpenKernelSize == 1 {
		return fmt.Errorf("open kernel size must be 0 or at least 2, got %d", s.OpenKernelSize)
	}
	return nil
}
