package resolution

import (
	"fmt"
	"strconv"
	"strings"
)

type Resolution struct {
	Width  int
	Height int
}

// Reference is the resolution the motion sensitivity defaults were tuned at.
var Reference = Resolution720p()

func EmptyResolution() Resolution {
	return Resolution{Width: 0, Height: 0}
}

func Resolution240p() Resolution {
	return Resolution{Width: 320, Height: 240}
}
func Resolution480p() Resolution {
	return Resolution{Width: 640, Height: 480}
}
func Resolution720p() Resolution {
	return Resolution{Width: 1280, Height: 720}
}
func Resolution1080p() Resolution {
	return Resolution{Width: 1920, Height: 1080}
}

// Preferred lists the capture resolutions probed in descending order of quality
// when the configured resolution is "auto".
func Preferred() []Resolution {
	return []Resolution{
		Resolution1080p(),
		Resolution720p(),
		Resolution480p(),
		Resolution240p(),
	}
}

// Returns the string representation of this Resolution (e.g. 640x480)
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Pixels returns the number of pixels in a frame of this resolution.
func (r Resolution) Pixels() int {
	return r.Width * r.Height
}

// IsEmpty checks if the resolution is empty (both width and height are zero).
func (r Resolution) IsEmpty() bool {
	return r.Width == 0 && r.Height == 0
}

// Valid reports whether both dimensions are positive.
func (r Resolution) Valid() bool {
	return r.Width > 0 && r.Height > 0
}

// Parse converts a string representation of a resolution into a Resolution.
// Supported formats:
// - "1920x1080"
// - "1920:1080"
// - "1080p", "720p", "480p", "240p"
// - "auto" or "" (empty resolution, negotiated with the camera)
func Parse(resolutionStr string) (Resolution, error) {
	s := strings.ToLower(strings.TrimSpace(resolutionStr))
	switch {
	case s == "" || s == "auto":
		return EmptyResolution(), nil
	case strings.Contains(s, "x"):
		return parseDimensions(s)
	case strings.Contains(s, ":"):
		return parseDimensions(strings.ReplaceAll(s, ":", "x"))
	case strings.HasSuffix(s, "p"):
		return parsePreset(s)
	default:
		return Resolution{}, fmt.Errorf("invalid resolution format: %s", resolutionStr)
	}
}

func parseDimensions(dimStr string) (Resolution, error) {
	parts := strings.Split(dimStr, "x")
	if len(parts) != 2 {
		return Resolution{}, fmt.Errorf("invalid dimensions: %s", dimStr)
	}

	width, err := strconv.Atoi(parts[0])
	if err != nil || width <= 0 {
		return Resolution{}, fmt.Errorf("invalid width: %s", parts[0])
	}

	height, err := strconv.Atoi(parts[1])
	if err != nil || height <= 0 {
		return Resolution{}, fmt.Errorf("invalid height: %s", parts[1])
	}

	return Resolution{Width: width, Height: height}, nil
}

func parsePreset(preset string) (Resolution, error) {
	switch preset {
	case "1080p":
		return Resolution1080p(), nil
	case "720p":
		return Resolution720p(), nil
	case "480p":
		return Resolution480p(), nil
	case "240p":
		return Resolution240p(), nil
	default:
		return Resolution{}, fmt.Errorf("unsupported resolution preset: %s", preset)
	}
}
