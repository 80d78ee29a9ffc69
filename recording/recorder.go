package recording

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	motiondetection "github.com/yeti47/cryospy/client/motion-recorder/motion-detection"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
)

// ErrCloseFailed is returned by Step and Shutdown when a session ended but its clip
// could not be finalized.
var ErrCloseFailed = errors.New("clip could not be finalized")

type State int

const (
	StateIdle State = iota
	StateRecording
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Transition describes what a Step did.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionStarted
	TransitionExtended
	TransitionEnded
)

func (t Transition) String() string {
	switch t {
	case TransitionNone:
		return "none"
	case TransitionStarted:
		return "started"
	case TransitionExtended:
		return "extended"
	case TransitionEnded:
		return "ended"
	default:
		return fmt.Sprintf("Transition(%d)", int(t))
	}
}

// ClipWriter opens the clip a session writes into.
type ClipWriter interface {
	Open(dims resolution.Resolution, fps float64, startedAt time.Time) (*clipwriter.Handle, error)
}

type Recorder interface {
	// Step feeds one frame and its motion decision into the recorder.
	Step(decision motiondetection.Decision, f *frame.Frame) (Transition, error)
	// Shutdown closes an open session. It is a no-op when idle.
	Shutdown() error
	State() State
	// Session returns a copy of the open session, or nil when idle.
	Session() *Session
}

// MotionRecorder records while motion is seen and for a fixed time after the last
// motion. Further motion moves the end of the session back, it never starts a new
// clip. The frame timestamp is the recorder's notion of now.
//
// A MotionRecorder is driven from a single goroutine.
type MotionRecorder struct {
	settings   RecordingSettings
	writer     ClipWriter
	listeners  []SessionListener
	logger     logging.Logger
	state      State
	session    *Session
	handle     *clipwriter.Handle
	nextNumber int
	lastSeen   time.Time
}

func NewMotionRecorder(settings RecordingSettings, writer ClipWriter, logger logging.Logger, listeners ...SessionListener) (*MotionRecorder, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid recording settings: %w", err)
	}
	next := settings.FirstSessionNumber
	if next < 1 {
		next = 1
	}
	return &MotionRecorder{
		settings:   settings,
		writer:     writer,
		listeners:  listeners,
		logger:     logging.OrNop(logger),
		state:      StateIdle,
		nextNumber: next,
	}, nil
}

// AddListener registers l after the existing listeners.
func (r *MotionRecorder) AddListener(l SessionListener) {
	r.listeners = append(r.listeners, l)
}

func (r *MotionRecorder) State() State {
	return r.state
}

// Session returns a copy of the open session, or nil when idle.
func (r *MotionRecorder) Session() *Session {
	if r.session == nil {
		return nil
	}
	return r.session.snapshot()
}

func (r *MotionRecorder) Step(decision motiondetection.Decision, f *frame.Frame) (Transition, error) {
	now := f.Timestamp()
	r.lastSeen = now

	if r.state == StateIdle {
		if !decision.IsMotion {
			return TransitionNone, nil
		}
		return r.start(decision, f)
	}

	if err := r.write(decision, f); err != nil {
		return TransitionEnded, err
	}

	if r.settings.MaxClipDuration > 0 && now.Sub(r.session.StartedAt) >= r.settings.MaxClipDuration {
		return TransitionEnded, r.end(now, EndReasonMaxDuration)
	}

	if decision.IsMotion {
		if until := now.Add(r.settings.Duration); until.After(r.session.ExtendUntil) {
			r.session.ExtendUntil = until
			return TransitionExtended, nil
		}
		return TransitionNone, nil
	}

	if !now.Before(r.session.ExtendUntil) {
		return TransitionEnded, r.end(now, EndReasonExpired)
	}
	return TransitionNone, nil
}

func (r *MotionRecorder) start(decision motiondetection.Decision, f *frame.Frame) (Transition, error) {
	now := f.Timestamp()
	handle, err := r.writer.Open(f.Dimensions(), r.settings.FrameRate, now)
	if err != nil {
		return TransitionNone, fmt.Errorf("failed to start recording: %w", err)
	}

	r.handle = handle
	r.session = &Session{
		ID:          uuid.NewString(),
		Number:      r.nextNumber,
		Path:        handle.Path(),
		Entry:       handle.Entry(),
		StartedAt:   now,
		ExtendUntil: now.Add(r.settings.Duration),
	}
	r.nextNumber++
	r.state = StateRecording

	r.logger.Info("Recording started", "session", r.session.Number, "path", r.session.Path, "score", decision.Score, "until", r.session.ExtendUntil)
	r.notify(r.session.snapshot(), true)

	if err := r.write(decision, f); err != nil {
		return TransitionEnded, err
	}
	return TransitionStarted, nil
}

// write appends f to the open clip. A failed write ends the session.
func (r *MotionRecorder) write(decision motiondetection.Decision, f *frame.Frame) error {
	if err := r.handle.Write(f); err != nil {
		number := r.session.Number
		if closeErr := r.end(f.Timestamp(), EndReasonWriteFailed); closeErr != nil {
			r.logger.Warn("Closing failed session", "session", number, "error", closeErr)
		}
		return fmt.Errorf("recording session %d aborted: %w", number, err)
	}
	r.session.FramesWritten = r.handle.Frames()
	r.session.observe(decision.Score)
	return nil
}

// end closes the clip and returns to idle whatever the outcome of the close.
func (r *MotionRecorder) end(at time.Time, reason EndReason) error {
	closeErr := r.handle.Close()
	r.session.FramesWritten = r.handle.Frames()
	r.session.finish(at, reason, closeErr)

	ended := r.session.snapshot()
	r.session = nil
	r.handle = nil
	r.state = StateIdle

	r.logger.Info("Recording ended",
		"session", ended.Number,
		"path", ended.Path,
		"reason", string(ended.EndReason),
		"frames", ended.FramesWritten,
		"duration", ended.Duration(),
		"peak_score", ended.PeakScore,
	)
	r.notify(ended, false)

	if closeErr != nil {
		return fmt.Errorf("%w: session %d: %w", ErrCloseFailed, ended.Number, closeErr)
	}
	return nil
}

func (r *MotionRecorder) Shutdown() error {
	if r.state != StateRecording {
		return nil
	}
	at := r.lastSeen
	if at.IsZero() || at.Before(r.session.StartedAt) {
		at = r.session.StartedAt
	}
	return r.end(at, EndReasonShutdown)
}

func (r *MotionRecorder) notify(s *Session, started bool) {
	for _, l := range r.listeners {
		var err error
		if started {
			err = l.SessionStarted(s)
		} else {
			err = l.SessionEnded(s)
		}
		if err != nil {
			r.logger.Warn("Session listener failed", "session", s.Number, "started", started, "error", err)
		}
	}
}
