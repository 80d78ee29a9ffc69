package catalog

import (
	"context"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	"github.com/yeti47/cryospy/client/motion-recorder/recording"
)

const writeTimeout = 5 * time.Second

// SessionCatalogue persists every finished recording session.
type SessionCatalogue struct {
	repo   SessionRepository
	logger logging.Logger
}

func NewSessionCatalogue(repo SessionRepository, logger logging.Logger) *SessionCatalogue {
	return &SessionCatalogue{repo: repo, logger: logging.OrNop(logger)}
}

func (c *SessionCatalogue) SessionStarted(s *recording.Session) error {
	return nil
}

func (c *SessionCatalogue) SessionEnded(s *recording.Session) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	record := FromSession(s)
	if err := c.repo.Add(ctx, record); err != nil {
		return err
	}
	c.logger.Debug("Session catalogued", "session", record.Number, "id", record.ID)
	return nil
}

// FromSession converts a finished session into its catalogue record.
func FromSession(s *recording.Session) *SessionRecord {
	record := &SessionRecord{
		ID:           s.ID,
		Number:       s.Number,
		Path:         s.Path,
		Container:    s.Entry.Container,
		Codec:        s.Entry.Codec,
		Extension:    s.Entry.Extension,
		StartedAt:    s.StartedAt,
		EndedAt:      s.EndedAt,
		Duration:     s.Duration(),
		Frames:       s.FramesWritten,
		EndReason:    string(s.EndReason),
		ScoreMean:    s.ScoreMean,
		ScoreStdDev:  s.ScoreStdDev,
		PeakScore:    s.PeakScore,
		EffectiveFPS: s.EffectiveFPS,
	}
	if s.CloseErr != nil {
		record.CloseError = s.CloseErr.Error()
	}
	if s.Clip != nil {
		record.Verified = true
		record.Valid = s.Clip.Valid
		record.ClipFormat = s.Clip.Format
		record.ClipCodec = s.Clip.Codec
	}
	return record
}
