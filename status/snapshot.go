package status

import (
	"sync"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/orchestrator"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
)

// Snapshot holds the latest view of the recorder for the status API. The loop
// writes it through TickObserved and the session callbacks; HTTP handlers read it.
type Snapshot struct {
	mu          sync.RWMutex
	startedAt   time.Time
	lastTick    *orchestrator.Tick
	stats       orchestrator.Stats
	current     *recording.Session
	lastSession *recording.Session
}

func NewSnapshot(startedAt time.Time) *Snapshot {
	return &Snapshot{startedAt: startedAt}
}

func (s *Snapshot) TickObserved(tick orchestrator.Tick, stats orchestrator.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastTick = &tick
	s.stats = stats
	// keeps extend_until and frames of the open session current
	if tick.Session != nil {
		s.current = tick.Session
	}
}

func (s *Snapshot) SessionStarted(session *recording.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session
	return nil
}

func (s *Snapshot) SessionEnded(session *recording.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.lastSession = session
	return nil
}

// StatusResponse is the body of GET /api/status.
type StatusResponse struct {
	State          string          `json:"state"`
	Uptime         float64         `json:"uptime_seconds"`
	LastFrame      int64           `json:"last_frame"`
	LastFrameAt    *time.Time      `json:"last_frame_at,omitempty"`
	LastScore      int             `json:"last_score"`
	LastMotion     bool            `json:"last_motion"`
	Stats          StatsResponse   `json:"stats"`
	CurrentSession *SessionSummary `json:"current_session,omitempty"`
	LastSession    *SessionSummary `json:"last_session,omitempty"`
}

type StatsResponse struct {
	Ticks           int64 `json:"ticks"`
	MotionTicks     int64 `json:"motion_ticks"`
	SessionsStarted int64 `json:"sessions_started"`
	SessionsEnded   int64 `json:"sessions_ended"`
	OpenFailures    int64 `json:"open_failures"`
	WriteFailures   int64 `json:"write_failures"`
	CloseFailures   int64 `json:"close_failures"`
}

type SessionSummary struct {
	ID          string     `json:"id"`
	Number      int        `json:"number"`
	Path        string     `json:"path"`
	Codec       string     `json:"codec"`
	StartedAt   time.Time  `json:"started_at"`
	ExtendUntil time.Time  `json:"extend_until"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	EndReason   string     `json:"end_reason,omitempty"`
	Frames      int        `json:"frames"`
	PeakScore   int        `json:"peak_score"`
}

// Status builds the response for the current state. now is used for the uptime.
func (s *Snapshot) Status(now time.Time) StatusResponse {
	s.mu.RLock()
	defer s.mu.RUnlock()

	resp := StatusResponse{
		State:  recording.StateIdle.String(),
		Uptime: now.Sub(s.startedAt).Seconds(),
		Stats: StatsResponse{
			Ticks:           s.stats.Ticks,
			MotionTicks:     s.stats.MotionTicks,
			SessionsStarted: s.stats.SessionsStarted,
			SessionsEnded:   s.stats.SessionsEnded,
			OpenFailures:    s.stats.OpenFailures,
			WriteFailures:   s.stats.WriteFailures,
			CloseFailures:   s.stats.CloseFailures,
		},
		CurrentSession: summarize(s.current),
		LastSession:    summarize(s.lastSession),
	}
	if s.lastTick != nil {
		ts := s.lastTick.Timestamp
		resp.State = s.lastTick.State.String()
		resp.LastFrame = s.lastTick.Index
		resp.LastFrameAt = &ts
		resp.LastScore = s.lastTick.Decision.Score
		resp.LastMotion = s.lastTick.Decision.IsMotion
	}
	return resp
}

func summarize(session *recording.Session) *SessionSummary {
	if session == nil {
		return nil
	}
	summary := &SessionSummary{
		ID:          session.ID,
		Number:      session.Number,
		Path:        session.Path,
		Codec:       session.Entry.String(),
		StartedAt:   session.StartedAt,
		ExtendUntil: session.ExtendUntil,
		EndReason:   string(session.EndReason),
		Frames:      session.FramesWritten,
		PeakScore:   session.PeakScore,
	}
	if !session.EndedAt.IsZero() {
		ended := session.EndedAt
		summary.EndedAt = &ended
	}
	return summary
}
