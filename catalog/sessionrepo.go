package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/yeti47/cryospy/client/motion-recorder/ccc/logging"
	clipwriter "github.com/yeti47/cryospy/client/motion-recorder/clip-writer"
)

// SessionRecord is the persisted summary of a finished recording session.
type SessionRecord struct {
	ID           string        `json:"id"`
	Number       int           `json:"number"`
	Path         string        `json:"path"`
	Container    string        `json:"container"`
	Codec        string        `json:"codec"`
	Extension    string        `json:"extension"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at"`
	Duration     time.Duration `json:"duration"`
	Frames       int           `json:"frames"`
	EndReason    string        `json:"end_reason"`
	ScoreMean    float64       `json:"score_mean"`
	ScoreStdDev  float64       `json:"score_stddev"`
	PeakScore    int           `json:"peak_score"`
	EffectiveFPS float64       `json:"effective_fps"`
	CloseError   string        `json:"close_error,omitempty"`
	Verified     bool          `json:"verified"`
	Valid        bool          `json:"valid"`
	ClipFormat   string        `json:"clip_format,omitempty"`
	ClipCodec    string        `json:"clip_codec,omitempty"`
	Processed    bool          `json:"processed"`
	OriginalPath string        `json:"original_path,omitempty"`
}

// MimeType returns the MIME type matching the clip's file extension.
func (r *SessionRecord) MimeType() string {
	return clipwriter.VideoFormatToMimeType(r.Extension)
}

// SessionQuery pages through sessions, newest first.
type SessionQuery struct {
	Limit  int
	Offset int
}

const (
	DefaultQueryLimit = 50
	MaxQueryLimit     = 500
)

// SessionRepository defines the interface for persisting finished sessions
type SessionRepository interface {
	// Add stores a new SessionRecord in the repository
	Add(ctx context.Context, record *SessionRecord) error

	// GetByID retrieves a SessionRecord by its ID, or nil if it does not exist
	GetByID(ctx context.Context, id string) (*SessionRecord, error)

	// List returns a page of sessions, newest first, and the total number of sessions
	List(ctx context.Context, query SessionQuery) ([]*SessionRecord, int, error)

	// NextNumber returns the number the next session should get
	NextNumber(ctx context.Context) (int, error)

	// MarkProcessed points a session at its post-processed clip and remembers the original path
	MarkProcessed(ctx context.Context, id string, clip ProcessedClip) error
}

// ProcessedClip is the replacement file produced by post-processing.
type ProcessedClip struct {
	Path      string
	Container string
	Codec     string
	Extension string
}

// SQLiteSessionRepository implements SessionRepository using SQLite
type SQLiteSessionRepository struct {
	db *sql.DB
}

// NewSQLiteSessionRepository migrates the schema and returns the repository.
func NewSQLiteSessionRepository(db *sql.DB, logger logging.Logger) (*SQLiteSessionRepository, error) {
	if err := MigrateUp(db, logger); err != nil {
		return nil, fmt.Errorf("failed to migrate catalogue: %w", err)
	}
	return &SQLiteSessionRepository{db: db}, nil
}

const sessionColumns = `id, number, path, container, codec, extension, started_at, ended_at, duration, frames,
	end_reason, score_mean, score_stddev, peak_score, effective_fps, close_error, verified, valid, clip_format, clip_codec,
	processed, original_path`

func (r *SQLiteSessionRepository) Add(ctx context.Context, record *SessionRecord) error {
	query := `INSERT INTO sessions (` + sessionColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		record.ID, record.Number, record.Path, record.Container, record.Codec, record.Extension,
		TimeToString(record.StartedAt), TimeToString(record.EndedAt), int64(record.Duration), record.Frames,
		record.EndReason, record.ScoreMean, record.ScoreStdDev, record.PeakScore, record.EffectiveFPS,
		record.CloseError, BoolToInt(record.Verified), BoolToInt(record.Valid), record.ClipFormat, record.ClipCodec,
		BoolToInt(record.Processed), record.OriginalPath,
	)
	if err != nil {
		return fmt.Errorf("failed to add session: %w", err)
	}
	return nil
}

func (r *SQLiteSessionRepository) GetByID(ctx context.Context, id string) (*SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)

	record, err := scanSession(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get session by ID: %w", err)
	}
	return record, nil
}

func (r *SQLiteSessionRepository) List(ctx context.Context, query SessionQuery) ([]*SessionRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	limit := query.Limit
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	if limit > MaxQueryLimit {
		limit = MaxQueryLimit
	}
	offset := max(query.Offset, 0)

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY started_at DESC, number DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []*SessionRecord
	for rows.Next() {
		record, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return records, total, nil
}

func (r *SQLiteSessionRepository) NextNumber(ctx context.Context) (int, error) {
	var highest sql.NullInt64
	if err := r.db.QueryRowContext(ctx, `SELECT MAX(number) FROM sessions`).Scan(&highest); err != nil {
		return 0, fmt.Errorf("failed to get highest session number: %w", err)
	}
	if !highest.Valid {
		return 1, nil
	}
	return int(highest.Int64) + 1, nil
}

func (r *SQLiteSessionRepository) MarkProcessed(ctx context.Context, id string, clip ProcessedClip) error {
	query := `UPDATE sessions
	SET original_path = CASE WHEN processed = 0 THEN path ELSE original_path END,
		path = ?, container = ?, codec = ?, extension = ?, processed = 1
	WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, clip.Path, clip.Container, clip.Codec, clip.Extension, id)
	if err != nil {
		return fmt.Errorf("failed to mark session as processed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark session as processed: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("session %s not found", id)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	record := &SessionRecord{}
	var startedAt, endedAt string
	var durationNanos int64
	var verified, valid, processed int

	err := row.Scan(
		&record.ID, &record.Number, &record.Path, &record.Container, &record.Codec, &record.Extension,
		&startedAt, &endedAt, &durationNanos, &record.Frames,
		&record.EndReason, &record.ScoreMean, &record.ScoreStdDev, &record.PeakScore, &record.EffectiveFPS,
		&record.CloseError, &verified, &valid, &record.ClipFormat, &record.ClipCodec,
		&processed, &record.OriginalPath,
	)
	if err != nil {
		return nil, err
	}

	if record.StartedAt, err = StringToTime(startedAt); err != nil {
		return nil, fmt.Errorf("failed to parse started_at: %w", err)
	}
	if record.EndedAt, err = StringToTime(endedAt); err != nil {
		return nil, fmt.Errorf("failed to parse ended_at: %w", err)
	}
	record.Duration = time.Duration(durationNanos)
	record.Verified = IntToBool(verified)
	record.Valid = IntToBool(valid)
	record.Processed = IntToBool(processed)
	return record, nil
}
