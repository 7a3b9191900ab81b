package recordings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/aura-classroom/backend/internal/models"
	"github.com/aura-classroom/backend/pkg/database"
)

const recordingColumns = `id, created_seq, course_id, session_id, title, recorded_at, duration, status, failure_reason, artifact_key, updated_at`

// PostgresRegistry persists recordings in the recordings table.
type PostgresRegistry struct {
	db database.DB
}

// NewPostgresRegistry creates a postgres-backed registry.
func NewPostgresRegistry(db database.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecording(row scanner) (models.Recording, error) {
	var (
		rec    models.Recording
		status string
	)
	if err := row.Scan(&rec.ID, &rec.CreatedSeq, &rec.CourseID, &rec.SessionID, &rec.Title, &rec.Date,
		&rec.Duration, &status, &rec.FailureReason, &rec.ArtifactKey, &rec.UpdatedAt); err != nil {
		return models.Recording{}, err
	}
	rec.Status = models.RecordingStatus(status)
	rec.Date = rec.Date.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r *PostgresRegistry) Insert(ctx context.Context, rec models.Recording) (models.Recording, error) {
	const q = `INSERT INTO recordings (id, course_id, session_id, title, recorded_at, duration, status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_seq`
	err := r.db.QueryRow(ctx, q, rec.ID, rec.CourseID, rec.SessionID, rec.Title, rec.Date, rec.Duration, string(rec.Status), rec.UpdatedAt).
		Scan(&rec.CreatedSeq)
	if err != nil {
		return models.Recording{}, fmt.Errorf("insert recording: %w", err)
	}
	return rec, nil
}

func (r *PostgresRegistry) Get(ctx context.Context, id string) (models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings WHERE id = $1`
	rec, err := scanRecording(r.db.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Recording{}, models.ErrNotFound
	}
	if err != nil {
		return models.Recording{}, fmt.Errorf("get recording: %w", err)
	}
	return rec, nil
}

func (r *PostgresRegistry) List(ctx context.Context, courseID string) ([]models.Recording, error) {
	q := `SELECT ` + recordingColumns + ` FROM recordings
		WHERE ($1 = '' OR course_id = $1) ORDER BY recorded_at DESC, created_seq ASC`
	rows, err := r.db.Query(ctx, q, courseID)
	if err != nil {
		return nil, fmt.Errorf("list recordings: %w", err)
	}
	defer rows.Close()
	list := []models.Recording{}
	for rows.Next() {
		rec, err := scanRecording(rows)
		if err != nil {
			return nil, fmt.Errorf("scan recording: %w", err)
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

func (r *PostgresRegistry) Observe(ctx context.Context, id string) (int, error) {
	const q = `UPDATE recordings SET observations = observations + 1
		WHERE id = $1 AND status = 'processing'
		RETURNING observations`
	var n int
	err := r.db.QueryRow(ctx, q, id).Scan(&n)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("observe recording: %w", err)
	}
	return n, nil
}

func (r *PostgresRegistry) Transition(ctx context.Context, id string, status models.RecordingStatus, reason, artifactKey string, at time.Time) (models.Recording, bool, error) {
	q := `UPDATE recordings SET status = $2, failure_reason = $3, artifact_key = $4, updated_at = $5
		WHERE id = $1 AND status = 'processing'
		RETURNING ` + recordingColumns
	rec, err := scanRecording(r.db.QueryRow(ctx, q, id, string(status), reason, artifactKey, at))
	if errors.Is(err, pgx.ErrNoRows) {
		cur, err := r.Get(ctx, id)
		return cur, false, err
	}
	if err != nil {
		return models.Recording{}, false, fmt.Errorf("transition recording: %w", err)
	}
	return rec, true, nil
}
