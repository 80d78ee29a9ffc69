package postprocessing

import (
	"fmt"

	"github.com/yeti47/cryospy/client/motion-recorder/recording"
)

// SessionScheduler queues every finished clip that holds frames.
type SessionScheduler struct {
	queue *Queue
}

func NewSessionScheduler(queue *Queue) *SessionScheduler {
	return &SessionScheduler{queue: queue}
}

func (s *SessionScheduler) SessionStarted(*recording.Session) error {
	return nil
}

func (s *SessionScheduler) SessionEnded(session *recording.Session) error {
	if session.FramesWritten == 0 {
		return nil
	}
	if session.Clip != nil && !session.Clip.Valid {
		return fmt.Errorf("clip %s is not readable, skipping post-processing", session.Path)
	}

	job := &Job{
		SessionID: session.ID,
		Number:    session.Number,
		Path:      session.Path,
		StartedAt: session.StartedAt,
		Duration:  session.Duration(),
	}
	if !s.queue.Enqueue(job) {
		return fmt.Errorf("post-processing queue full, dropped %s", session.Path)
	}
	return nil
}
