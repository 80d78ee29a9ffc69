package recording

import (
	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
)

// SessionListener is told about session starts and ends. Listeners are called in
// registration order with the same copy of the session, so a listener may annotate
// it for the ones registered after it. Errors are logged and never change the
// recorder's state.
type SessionListener interface {
	SessionStarted(s *Session) error
	SessionEnded(s *Session) error
}

// ClipVerifier probes every finished clip and attaches the result to the session.
type ClipVerifier struct {
	validator clipwriter.Validator
	logger    logging.Logger
}

func NewClipVerifier(validator clipwriter.Validator, logger logging.Logger) *ClipVerifier {
	return &ClipVerifier{validator: validator, logger: logging.OrNop(logger)}
}

func (v *ClipVerifier) SessionStarted(*Session) error {
	return nil
}

func (v *ClipVerifier) SessionEnded(s *Session) error {
	info, err := v.validator.Validate(s.Path)
	if err != nil {
		return err
	}
	s.Clip = info
	if !info.Valid {
		v.logger.Warn("Recorded clip is not a readable video", "session", s.Number, "path", s.Path)
		return nil
	}
	v.logger.Info("Recorded clip verified", "session", s.Number, "path", s.Path, "format", info.Format, "codec", info.Codec, "duration", info.Duration)
	return nil
}
