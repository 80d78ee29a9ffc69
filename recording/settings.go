package recording

import (
	"fmt"
	"time"
)

type RecordingSettings struct {
	Duration           time.Duration // how long a session continues after the last motion
	MaxClipDuration    time.Duration // split sessions longer than this; 0 disables
	FrameRate          float64       // frame rate written into the clip container
	FirstSessionNumber int           // number of the first session; continues the catalogue numbering
}

var DefaultRecordingSettings = RecordingSettings{
	Duration:           30 * time.Second,
	FrameRate:          20.0,
	FirstSessionNumber: 1,
}

func (s RecordingSettings) Validate() error {
	if s.Duration <= 0 {
		return fmt.Errorf("recording duration must be positive, got %s", s.Duration)
	}
	if s.MaxClipDuration < 0 {
		return fmt.Errorf("max clip duration must not be negative, got %s", s.MaxClipDuration)
	}
	if s.FrameRate <= 0 {
		return fmt.Errorf("frame rate must be positive, got %g", s.FrameRate)
	}
	return nil
}
