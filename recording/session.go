package recording

import (
	"time"

	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
	"gonum.org/v1/gonum/stat"
)

type EndReason string

const (
	EndReasonExpired     EndReason = "expired"
	EndReasonMaxDuration EndReason = "max-duration"
	EndReasonWriteFailed EndReason = "write-failed"
	EndReasonShutdown    EndReason = "shutdown"
)

// Session is one contiguous recording. While it is open the recorder owns it;
// listeners receive copies.
type Session struct {
	ID            string
	Number        int
	Path          string
	Entry         clipwriter.Entry
	StartedAt     time.Time
	ExtendUntil   time.Time
	EndedAt       time.Time
	FramesWritten int
	PeakScore     int
	ScoreMean     float64
	ScoreStdDev   float64
	EffectiveFPS  float64
	EndReason     EndReason
	CloseErr      error
	// Clip is filled in by a ClipVerifier after the session ended.
	Clip *clipwriter.ClipInfo

	scores []float64
}

func (s *Session) Duration() time.Duration {
	if s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Ended reports whether the session has been closed.
func (s *Session) Ended() bool {
	return s.EndReason != ""
}

func (s *Session) observe(score int) {
	s.scores = append(s.scores, float64(score))
	if score > s.PeakScore {
		s.PeakScore = score
	}
}

func (s *Session) finish(at time.Time, reason EndReason, closeErr error) {
	s.EndedAt = at
	s.EndReason = reason
	s.CloseErr = closeErr

	switch len(s.scores) {
	case 0:
	case 1:
		s.ScoreMean = s.scores[0]
	default:
		s.ScoreMean, s.ScoreStdDev = stat.MeanStdDev(s.scores, nil)
	}

	if d := s.Duration(); d > 0 {
		s.EffectiveFPS = float64(s.FramesWritten) / d.Seconds()
	}
}

// snapshot returns a copy that is safe to hand to listeners.
func (s *Session) snapshot() *Session {
	c := *s
	c.scores = nil
	return &c
}
