package framesource

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

// DefaultFrameRate is used when neither the camera nor the configuration report one.
const DefaultFrameRate = 20.0

var (
	// ErrEndOfStream is returned by NextFrame when a finite source has no more frames.
	ErrEndOfStream = errors.New("end of stream")
	// ErrSourceFailed is returned when a source cannot be opened or stops delivering frames.
	ErrSourceFailed = errors.New("frame source failed")
)

// Source delivers frames one at a time. NextFrame blocks until a frame is available.
type Source interface {
	NextFrame() (*frame.Frame, error)
	Dimensions() resolution.Resolution
	FrameRate() float64
	Close() error
}

type Options struct {
	Device     string                // camera index or device path, e.g. "0" or "/dev/video0"
	File       string                // video file or stream URL; takes precedence over Device
	Resolution resolution.Resolution // empty probes resolution.Preferred()
	FrameRate  float64               // requested frame rate; 0 keeps the camera default
	Clock      Clock
	Logger     logging.Logger
}

// CaptureSource reads frames from a camera or a video file through OpenCV.
type CaptureSource struct {
	capture   *gocv.VideoCapture
	finite    bool
	dims      resolution.Resolution
	fps       float64
	clock     Clock
	logger    logging.Logger
	next      int64
	startedAt time.Time
	pending   *gocv.Mat
}

// Open opens the configured camera or file, negotiates the capture format and reads a
// first frame to learn the actual frame size.
func Open(opts Options) (*CaptureSource, error) {
	logger := logging.OrNop(opts.Logger)
	clock := opts.Clock
	if clock == nil {
		clock = RealClock{}
	}

	var (
		capture *gocv.VideoCapture
		err     error
	)
	finite := opts.File != ""
	if finite {
		capture, err = gocv.OpenVideoCapture(opts.File)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to open video file %s: %v", ErrSourceFailed, opts.File, err)
		}
	} else {
		capture, err = openDevice(opts.Device, logger)
		if err != nil {
			return nil, err
		}
	}

	s := &CaptureSource{
		capture: capture,
		finite:  finite,
		clock:   clock,
		logger:  logger,
	}

	if !finite {
		s.negotiate(opts.Resolution, opts.FrameRate)
	}

	probe := gocv.NewMat()
	if ok := capture.Read(&probe); !ok || probe.Empty() {
		probe.Close()
		capture.Close()
		return nil, fmt.Errorf("%w: no frame could be read from the source", ErrSourceFailed)
	}
	s.pending = &probe
	s.dims = resolution.Resolution{Width: probe.Cols(), Height: probe.Rows()}

	s.fps = capture.Get(gocv.VideoCaptureFPS)
	if s.fps <= 0 {
		s.fps = opts.FrameRate
	}
	if s.fps <= 0 {
		s.fps = DefaultFrameRate
	}
	s.startedAt = clock.Now()

	logger.Info("Frame source opened", "resolution", s.dims.String(), "fps", s.fps, "file", opts.File, "device", opts.Device)
	return s, nil
}

// openDevice tries the V4L2 backend first and falls back to the default backend.
func openDevice(device string, logger logging.Logger) (*gocv.VideoCapture, error) {
	id := parseDevice(device)

	capture, err := gocv.OpenVideoCaptureWithAPI(id, gocv.VideoCaptureV4L2)
	if err == nil && capture.IsOpened() {
		return capture, nil
	}
	if capture != nil {
		capture.Close()
	}
	logger.Warn("V4L2 backend unavailable, falling back to default backend", "device", device, "error", err)

	capture, err = gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open camera %s: %v", ErrSourceFailed, device, err)
	}
	if !capture.IsOpened() {
		capture.Close()
		return nil, fmt.Errorf("%w: camera %s could not be opened", ErrSourceFailed, device)
	}
	return capture, nil
}

// parseDevice maps "2" and "/dev/video2" to the camera index 2 and passes anything else
// through as a device string.
func parseDevice(device string) any {
	d := strings.TrimSpace(device)
	if d == "" {
		return 0
	}
	if id, err := strconv.Atoi(strings.TrimPrefix(d, "/dev/video")); err == nil {
		return id
	}
	return d
}

// fourcc packs a four character code the way OpenCV expects it.
func fourcc(code string) float64 {
	if len(code) != 4 {
		return 0
	}
	return float64(int(code[0]) | int(code[1])<<8 | int(code[2])<<16 | int(code[3])<<24)
}

func (s *CaptureSource) negotiate(requested resolution.Resolution, fps float64) {
	mjpg := fourcc("MJPG")
	s.capture.Set(gocv.VideoCaptureFOURCC, mjpg)
	if s.capture.Get(gocv.VideoCaptureFOURCC) != mjpg {
		s.logger.Warn("Camera refused MJPG pixel format, capture may be limited in resolution or frame rate")
	}

	if fps > 0 {
		s.capture.Set(gocv.VideoCaptureFPS, fps)
	}

	if !requested.IsEmpty() {
		if !s.trySetResolution(requested) {
			s.logger.Warn("Camera did not accept requested resolution", "requested", requested.String())
		}
		return
	}

	for _, candidate := range resolution.Preferred() {
		if s.trySetResolution(candidate) {
			s.logger.Info("Negotiated capture resolution", "resolution", candidate.String())
			return
		}
		s.logger.Debug("Camera rejected resolution", "resolution", candidate.String())
	}
	s.logger.Warn("No preferred resolution accepted, keeping camera default")
}

func (s *CaptureSource) trySetResolution(r resolution.Resolution) bool {
	s.capture.Set(gocv.VideoCaptureFrameWidth, float64(r.Width))
	s.capture.Set(gocv.VideoCaptureFrameHeight, float64(r.Height))
	return int(s.capture.Get(gocv.VideoCaptureFrameWidth)) == r.Width &&
		int(s.capture.Get(gocv.VideoCaptureFrameHeight)) == r.Height
}

// NextFrame returns the next captured frame. File sources return ErrEndOfStream when
// exhausted, cameras return ErrSourceFailed when a read fails.
func (s *CaptureSource) NextFrame() (*frame.Frame, error) {
	var mat gocv.Mat
	if s.pending != nil {
		mat = *s.pending
		s.pending = nil
	} else {
		mat = gocv.NewMat()
		if ok := s.capture.Read(&mat); !ok || mat.Empty() {
			mat.Close()
			if s.finite {
				return nil, ErrEndOfStream
			}
			return nil, fmt.Errorf("%w: camera read failed after %d frames", ErrSourceFailed, s.next)
		}
	}

	index := s.next
	s.next++
	return frame.New(index, s.timestamp(index), mat)
}

// timestamp returns wall clock time for cameras and media time for files, which are
// usually decoded faster than real time.
func (s *CaptureSource) timestamp(index int64) time.Time {
	if s.finite {
		return s.startedAt.Add(time.Duration(float64(index) / s.fps * float64(time.Second)))
	}
	return s.clock.Now()
}

func (s *CaptureSource) Dimensions() resolution.Resolution {
	return s.dims
}

func (s *CaptureSource) FrameRate() float64 {
	return s.fps
}

func (s *CaptureSource) Close() error {
	if s.pending != nil {
		s.pending.Close()
		s.pending = nil
	}
	return s.capture.Close()
}
