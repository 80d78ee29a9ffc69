package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/background"
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	framesource "github.com/yeti47/cryospy/client/motion-recorder/frame-source"
	motiondetection "github.com/yeti47/cryospy/client/motion-recorder/motion-detection"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
)

// Tick describes one completed pass of the loop.
type Tick struct {
	Index      int64
	Timestamp  time.Time
	Decision   motiondetection.Decision
	Transition recording.Transition
	State      recording.State
	// Session is a copy of the open session after the step, nil when idle.
	Session *recording.Session
	Err     error
}

// Observer is told about every tick. It is called on the loop goroutine and
// must not block.
type Observer interface {
	TickObserved(tick Tick, stats Stats)
}

// Stats counts what happened since the loop started.
type Stats struct {
	Ticks           int64
	MotionTicks     int64
	SessionsStarted int64
	SessionsEnded   int64
	OpenFailures    int64
	WriteFailures   int64
	CloseFailures   int64
}

type Options struct {
	Source   framesource.Source
	Model    background.Model
	Scorer   motiondetection.MotionDetector
	Recorder recording.Recorder
	Observer Observer
	Logger   logging.Logger
}

// Loop pulls frames from a source and drives them through background
// classification, motion scoring and the recorder, one frame at a time.
type Loop struct {
	source   framesource.Source
	model    background.Model
	scorer   motiondetection.MotionDetector
	recorder recording.Recorder
	observer Observer
	logger   logging.Logger
	stats    Stats
}

func New(opts Options) (*Loop, error) {
	if opts.Source == nil {
		return nil, errors.New("frame source is required")
	}
	if opts.Model == nil {
		return nil, errors.New("background model is required")
	}
	if opts.Scorer == nil {
		return nil, errors.New("motion scorer is required")
	}
	if opts.Recorder == nil {
		return nil, errors.New("recorder is required")
	}
	return &Loop{
		source:   opts.Source,
		model:    opts.Model,
		scorer:   opts.Scorer,
		recorder: opts.Recorder,
		observer: opts.Observer,
		logger:   logging.OrNop(opts.Logger),
	}, nil
}

// Stats returns the counters collected so far. Not safe to call while Run is active
// on another goroutine; observers receive a copy with every tick instead.
func (l *Loop) Stats() Stats {
	return l.stats
}

// Run processes frames until ctx is cancelled, the source reaches the end of its
// stream or the source fails. Cancellation is checked after every tick, so a
// tick always completes. An open recording is closed on every exit path.
func (l *Loop) Run(ctx context.Context) error {
	started := time.Now()
	l.logger.Info("Motion recorder loop started",
		"resolution", l.source.Dimensions().String(),
		"fps", l.source.FrameRate(),
	)

	defer func() {
		if err := l.recorder.Shutdown(); err != nil {
			l.logger.Error("Failed to close recording on shutdown", "error", err)
		}
		l.logger.Info("Motion recorder loop stopped",
			"ticks", l.stats.Ticks,
			"motion_ticks", l.stats.MotionTicks,
			"sessions", l.stats.SessionsStarted,
			"open_failures", l.stats.OpenFailures,
			"write_failures", l.stats.WriteFailures,
			"close_failures", l.stats.CloseFailures,
			"elapsed", time.Since(started),
		)
	}()

	for {
		if err := l.tick(); err != nil {
			if errors.Is(err, framesource.ErrEndOfStream) {
				l.logger.Info("Frame source reached end of stream")
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			l.logger.Info("Stop requested")
			return nil
		default:
		}
	}
}

func (l *Loop) tick() error {
	f, err := l.source.NextFrame()
	if err != nil {
		if errors.Is(err, framesource.ErrEndOfStream) {
			return err
		}
		return fmt.Errorf("frame source failed: %w", err)
	}
	defer f.Close()

	wasIdle := l.recorder.State() == recording.StateIdle
	mask := l.model.Classify(f)
	decision := l.scorer.Score(mask)
	transition, stepErr := l.recorder.Step(decision, f)

	l.stats.Ticks++
	if decision.IsMotion {
		l.stats.MotionTicks++
	}
	// A session can start and fail on the same tick.
	if wasIdle && transition != recording.TransitionNone {
		l.stats.SessionsStarted++
	}
	if transition == recording.TransitionEnded {
		l.stats.SessionsEnded++
	}

	switch {
	case stepErr != nil && transition == recording.TransitionNone:
		l.stats.OpenFailures++
		l.logger.Warn("Could not start recording, will retry on next motion", "frame", f.Index(), "score", decision.Score, "error", stepErr)
	case errors.Is(stepErr, recording.ErrCloseFailed):
		// the session ended as planned, only its clip may be damaged
		l.stats.CloseFailures++
		l.logger.Error("Recording ended but clip could not be finalized", "frame", f.Index(), "error", stepErr)
	case stepErr != nil:
		l.stats.WriteFailures++
		l.logger.Error("Recording session failed", "frame", f.Index(), "error", stepErr)
	case transition == recording.TransitionExtended:
		l.logger.Debug("Recording extended", "frame", f.Index(), "score", decision.Score)
	}

	if l.observer != nil {
		l.observer.TickObserved(Tick{
			Index:      f.Index(),
			Timestamp:  f.Timestamp(),
			Decision:   decision,
			Transition: transition,
			State:      l.recorder.State(),
			Session:    l.recorder.Session(),
			Err:        stepErr,
		}, l.stats)
	}
	return nil
}
