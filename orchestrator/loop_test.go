package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yeti47/cryospy/client/motion-recorder/background"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
	filemanagement "github.com/yeti47/cryospy/client/motion-recorder/file-management"
	"github.com/yeti47/cryospy/client/motion-recorder/frame"
	framesource "github.com/yeti47/cryospy/client/motion-recorder/frame-source"
	motiondetection "github.com/yeti47/cryospy/client/motion-recorder/motion-detection"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
	"github.com/yeti47/cryospy/client/motion-recorder/resolution"
	"gocv.io/x/gocv"
)

const tick = 50 * time.Millisecond

var t0 = time.Date(2024, 11, 2, 7, 15, 0, 0, time.UTC)

// fakeSource yields frames stamped index*tick after t0 and then returns err.
type fakeSource struct {
	frames int
	err    error
	dims   resolution.Resolution
	fill   func(index int64, data []byte)
	onRead func(index int64)
	next   int64
	closed bool
}

func newFakeSource(frames int) *fakeSource {
	return &fakeSource{frames: frames, err: framesource.ErrEndOfStream, dims: resolution.Resolution{Width: 8, Height: 6}}
}

func (s *fakeSource) NextFrame() (*frame.Frame, error) {
	if s.next >= int64(s.frames) {
		return nil, s.err
	}
	mat := gocv.NewMatWithSize(s.dims.Height, s.dims.Width, gocv.MatTypeCV8UC1)
	if s.fill != nil {
		data, err := mat.DataPtrUint8()
		if err != nil {
			mat.Close()
			return nil, err
		}
		s.fill(s.next, data)
	}
	f, err := frame.New(s.next, t0.Add(time.Duration(s.next)*tick), mat)
	if err != nil {
		return nil, err
	}
	if s.onRead != nil {
		s.onRead(s.next)
	}
	s.next++
	return f, nil
}

func (s *fakeSource) Dimensions() resolution.Resolution { return s.dims }
func (s *fakeSource) FrameRate() float64                { return 20 }
func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeModel struct {
	mask  gocv.Mat
	calls int
}

func newFakeModel() *fakeModel {
	return &fakeModel{mask: gocv.NewMat()}
}

func (m *fakeModel) Classify(f *frame.Frame) gocv.Mat {
	m.calls++
	return m.mask
}

func (m *fakeModel) Close() error {
	return m.mask.Close()
}

// scriptedScorer decides by tick number and can panic on a chosen tick.
type scriptedScorer struct {
	decide  func(call int) bool
	panicAt int
	calls   int
}

func (s *scriptedScorer) Score(mask gocv.Mat) motiondetection.Decision {
	call := s.calls
	s.calls++
	if s.panicAt > 0 && call == s.panicAt {
		panic("scorer exploded")
	}
	if s.decide(call) {
		return motiondetection.Decision{IsMotion: true, Score: 900}
	}
	return motiondetection.Decision{IsMotion: false, Score: 2}
}

type tickRecorder struct {
	ticks []Tick
	last  Stats
}

func (o *tickRecorder) TickObserved(tick Tick, stats Stats) {
	o.ticks = append(o.ticks, tick)
	o.last = stats
}

type endedSessions struct {
	sessions []*recording.Session
}

func (e *endedSessions) SessionStarted(*recording.Session) error { return nil }
func (e *endedSessions) SessionEnded(s *recording.Session) error {
	e.sessions = append(e.sessions, s)
	return nil
}

type fixture struct {
	source   *fakeSource
	model    *fakeModel
	scorer   *scriptedScorer
	factory  *clipwriter.MockEncoderFactory
	ended    *endedSessions
	observer *tickRecorder
	loop     *Loop
}

func newFixture(t *testing.T, frames int, decide func(int) bool, failCodecs ...string) *fixture {
	t.Helper()

	factory := clipwriter.NewMockEncoderFactory(failCodecs...)
	writer, err := clipwriter.NewWriter(clipwriter.Options{
		Files:    filemanagement.NewLocalFileTracker(t.TempDir(), nil),
		Fallback: clipwriter.DefaultFallbackList(),
		Factory:  factory,
	})
	require.NoError(t, err)

	ended := &endedSessions{}
	recorder, err := recording.NewMotionRecorder(recording.RecordingSettings{Duration: time.Second, FrameRate: 20}, writer, nil, ended)
	require.NoError(t, err)

	fx := &fixture{
		source:   newFakeSource(frames),
		model:    newFakeModel(),
		scorer:   &scriptedScorer{decide: decide},
		factory:  factory,
		ended:    ended,
		observer: &tickRecorder{},
	}
	t.Cleanup(func() { fx.model.Close() })

	fx.loop, err = New(Options{
		Source:   fx.source,
		Model:    fx.model,
		Scorer:   fx.scorer,
		Recorder: recorder,
		Observer: fx.observer,
	})
	require.NoError(t, err)
	return fx
}

func never(int) bool  { return false }
func always(int) bool { return true }

func TestLoop_EndOfStreamExitsCleanly(t *testing.T) {
	fx := newFixture(t, 30, never)

	require.NoError(t, fx.loop.Run(context.Background()))

	stats := fx.loop.Stats()
	assert.Equal(t, int64(30), stats.Ticks)
	assert.Equal(t, int64(0), stats.SessionsStarted)
	assert.Equal(t, 30, fx.model.calls)
	assert.Equal(t, 30, fx.scorer.calls)
	assert.Empty(t, fx.factory.Attempts())
	assert.Len(t, fx.observer.ticks, 30)
}

func TestLoop_SingleMotionRecordsForDuration(t *testing.T) {
	fx := newFixture(t, 60, func(call int) bool { return call == 5 })

	require.NoError(t, fx.loop.Run(context.Background()))

	require.Len(t, fx.ended.sessions, 1)
	s := fx.ended.sessions[0]
	assert.Equal(t, recording.EndReasonExpired, s.EndReason)
	assert.Equal(t, time.Second, s.Duration())
	assert.Equal(t, 21, s.FramesWritten)

	encoders := fx.factory.Encoders()
	require.Len(t, encoders, 1)
	assert.Equal(t, 1, encoders[0].Closes)

	stats := fx.loop.Stats()
	assert.Equal(t, int64(1), stats.SessionsStarted)
	assert.Equal(t, int64(1), stats.SessionsEnded)
	assert.Equal(t, int64(1), stats.MotionTicks)
}

func TestLoop_ContinuousMotionIsOneSession(t *testing.T) {
	// motion for three recording durations
	fx := newFixture(t, 60, always)

	require.NoError(t, fx.loop.Run(context.Background()))

	require.Len(t, fx.ended.sessions, 1)
	s := fx.ended.sessions[0]
	assert.Equal(t, recording.EndReasonShutdown, s.EndReason)
	assert.Equal(t, 60, s.FramesWritten)
	assert.Equal(t, 1, fx.factory.Encoders()[0].Closes)
}

func TestLoop_StopClosesOpenSession(t *testing.T) {
	fx := newFixture(t, 1000, func(call int) bool { return call >= 3 })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fx.source.onRead = func(index int64) {
		if index == 10 {
			cancel()
		}
	}

	require.NoError(t, fx.loop.Run(ctx))

	// the tick that saw the cancellation still completes
	assert.Equal(t, int64(11), fx.loop.Stats().Ticks)
	require.Len(t, fx.ended.sessions, 1)
	assert.Equal(t, recording.EndReasonShutdown, fx.ended.sessions[0].EndReason)
	assert.Equal(t, 8, fx.ended.sessions[0].FramesWritten)

	encoders := fx.factory.Encoders()
	require.Len(t, encoders, 1)
	assert.Equal(t, 1, encoders[0].Closes)
}

func TestLoop_SourceFailureIsFatal(t *testing.T) {
	fx := newFixture(t, 15, func(call int) bool { return call >= 10 })
	fx.source.err = fmt.Errorf("%w: device unplugged", framesource.ErrSourceFailed)

	err := fx.loop.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, framesource.ErrSourceFailed)

	require.Len(t, fx.ended.sessions, 1)
	assert.Equal(t, recording.EndReasonShutdown, fx.ended.sessions[0].EndReason)
	assert.Equal(t, 1, fx.factory.Encoders()[0].Closes)
}

func TestLoop_PanicStillClosesSession(t *testing.T) {
	fx := newFixture(t, 100, always)
	fx.scorer.panicAt = 7

	assert.Panics(t, func() {
		_ = fx.loop.Run(context.Background())
	})

	require.Len(t, fx.ended.sessions, 1)
	assert.Equal(t, recording.EndReasonShutdown, fx.ended.sessions[0].EndReason)
	assert.Equal(t, 7, fx.ended.sessions[0].FramesWritten)
	assert.Equal(t, 1, fx.factory.Encoders()[0].Closes)
}

func TestLoop_OpenFailuresDoNotStopTheLoop(t *testing.T) {
	fx := newFixture(t, 20, func(call int) bool { return call%5 == 0 }, "X264", "mp4v", "MJPG")

	require.NoError(t, fx.loop.Run(context.Background()))

	stats := fx.loop.Stats()
	assert.Equal(t, int64(20), stats.Ticks)
	assert.Equal(t, int64(4), stats.OpenFailures)
	assert.Equal(t, int64(0), stats.SessionsStarted)
	assert.Empty(t, fx.ended.sessions)
	// every motion tick retries the whole list
	assert.Len(t, fx.factory.Attempts(), 12)

	var failed int
	for _, tk := range fx.observer.ticks {
		if tk.Err != nil {
			failed++
			assert.ErrorIs(t, tk.Err, clipwriter.ErrNoUsableCodec)
			assert.Equal(t, recording.StateIdle, tk.State)
		}
	}
	assert.Equal(t, 4, failed)
}

func TestLoop_WriteFailureStartsNewSession(t *testing.T) {
	fx := newFixture(t, 20, always)
	fx.factory.FailWritesAfter = 5

	require.NoError(t, fx.loop.Run(context.Background()))

	stats := fx.loop.Stats()
	assert.Equal(t, int64(4), stats.SessionsStarted)
	assert.Equal(t, int64(3), stats.WriteFailures)
	assert.Equal(t, int64(0), stats.CloseFailures)

	require.Len(t, fx.ended.sessions, 4)
	for i, s := range fx.ended.sessions[:3] {
		assert.Equal(t, recording.EndReasonWriteFailed, s.EndReason, "session %d", i)
		assert.Equal(t, 5, s.FramesWritten, "session %d", i)
	}
	assert.Equal(t, recording.EndReasonShutdown, fx.ended.sessions[3].EndReason)

	for _, enc := range fx.factory.Encoders() {
		assert.Equal(t, 1, enc.Closes)
	}
}

func TestLoop_CloseFailureIsNotAWriteFailure(t *testing.T) {
	fx := newFixture(t, 60, func(call int) bool { return call == 5 })
	fx.factory.FailClose = true

	require.NoError(t, fx.loop.Run(context.Background()))

	stats := fx.loop.Stats()
	assert.Equal(t, int64(1), stats.SessionsEnded)
	assert.Equal(t, int64(1), stats.CloseFailures)
	assert.Equal(t, int64(0), stats.WriteFailures)

	require.Len(t, fx.ended.sessions, 1)
	s := fx.ended.sessions[0]
	assert.Equal(t, recording.EndReasonExpired, s.EndReason)
	assert.ErrorIs(t, s.CloseErr, clipwriter.ErrMockCloseFailed)

	var closeErrs int
	for _, tk := range fx.observer.ticks {
		if tk.Err != nil {
			closeErrs++
			assert.ErrorIs(t, tk.Err, recording.ErrCloseFailed)
			assert.Equal(t, recording.TransitionEnded, tk.Transition)
		}
	}
	assert.Equal(t, 1, closeErrs)
}

func TestLoop_TicksCarryOpenSession(t *testing.T) {
	fx := newFixture(t, 40, func(call int) bool { return call == 2 || call == 10 })

	require.NoError(t, fx.loop.Run(context.Background()))

	var extendUntil []time.Time
	for _, tk := range fx.observer.ticks {
		if tk.State == recording.StateIdle {
			assert.Nil(t, tk.Session, "tick %d", tk.Index)
			continue
		}
		require.NotNil(t, tk.Session, "tick %d", tk.Index)
		assert.Equal(t, int(tk.Index)-1, tk.Session.FramesWritten, "tick %d", tk.Index)
		extendUntil = append(extendUntil, tk.Session.ExtendUntil)
	}

	require.NotEmpty(t, extendUntil)
	assert.True(t, extendUntil[0].Equal(t0.Add(2*tick+time.Second)))
	assert.True(t, extendUntil[len(extendUntil)-1].Equal(t0.Add(10*tick+time.Second)))
}

func TestLoop_ObserverSeesTransitions(t *testing.T) {
	fx := newFixture(t, 40, func(call int) bool { return call == 2 || call == 4 })

	require.NoError(t, fx.loop.Run(context.Background()))

	var transitions []recording.Transition
	for _, tk := range fx.observer.ticks {
		if tk.Transition != recording.TransitionNone {
			transitions = append(transitions, tk.Transition)
		}
	}
	assert.Equal(t, []recording.Transition{
		recording.TransitionStarted,
		recording.TransitionExtended,
		recording.TransitionEnded,
	}, transitions)

	assert.Equal(t, int64(40), fx.observer.last.Ticks)
	assert.Equal(t, int64(2), fx.observer.last.MotionTicks)
	assert.Equal(t, t0.Add(39*tick), fx.observer.ticks[39].Timestamp)
}

func TestNew_RequiresComponents(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)

	_, err = New(Options{Source: newFakeSource(1)})
	assert.Error(t, err)
}

// TestLoop_DetectsObjectInStaticScene runs the real background model and scorer
// over a synthetic scene: a static gray image with a bright square for a few frames.
func TestLoop_DetectsObjectInStaticScene(t *testing.T) {
	const width, height = 64, 48

	model, err := background.New(background.Settings{
		Strategy:                 background.StrategyMixture,
		HistoryLength:            10,
		VarianceThreshold:        20,
		ForegroundLearningFactor: 0.1,
		MixtureComponents:        3,
		KNNSamples:               2,
		Seed:                     1,
	}, nil)
	require.NoError(t, err)
	defer model.Close()

	dims := resolution.Resolution{Width: width, Height: height}
	scorer, err := motiondetection.NewGoCVMotionDetector(motiondetection.MotionDetectionSettings{
		Sensitivity:    100,
		Mode:           motiondetection.ScoreModePixels,
		MedianBlurSize: 5,
	}, dims, nil)
	require.NoError(t, err)
	defer scorer.Close()

	factory := clipwriter.NewMockEncoderFactory()
	writer, err := clipwriter.NewWriter(clipwriter.Options{
		Files:    filemanagement.NewLocalFileTracker(t.TempDir(), nil),
		Fallback: clipwriter.DefaultFallbackList(),
		Factory:  factory,
	})
	require.NoError(t, err)

	ended := &endedSessions{}
	recorder, err := recording.NewMotionRecorder(recording.RecordingSettings{Duration: time.Second, FrameRate: 20}, writer, nil, ended)
	require.NoError(t, err)

	source := newFakeSource(100)
	source.dims = dims
	source.fill = func(index int64, data []byte) {
		for i := range data {
			data[i] = 100
		}
		if index >= 40 && index < 43 {
			for y := 10; y < 30; y++ {
				for x := 20; x < 40; x++ {
					data[y*width+x] = 250
				}
			}
		}
	}

	observer := &tickRecorder{}
	loop, err := New(Options{Source: source, Model: model, Scorer: scorer, Recorder: recorder, Observer: observer})
	require.NoError(t, err)
	require.NoError(t, loop.Run(context.Background()))

	for _, tk := range observer.ticks {
		if tk.Index < 40 {
			assert.False(t, tk.Decision.IsMotion, "static frame %d", tk.Index)
		}
	}
	assert.True(t, observer.ticks[40].Decision.IsMotion)
	assert.GreaterOrEqual(t, observer.ticks[40].Decision.Score, 300)

	require.Len(t, ended.sessions, 1)
	assert.Equal(t, recording.EndReasonExpired, ended.sessions[0].EndReason)
	assert.Equal(t, t0.Add(40*tick), ended.sessions[0].StartedAt)
}

func TestLoop_SourceErrorWrapsCause(t *testing.T) {
	cause := errors.New("usb reset")
	fx := newFixture(t, 0, never)
	fx.source.err = cause

	err := fx.loop.Run(context.Background())
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "frame source failed")
}
