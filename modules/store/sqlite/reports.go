package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
)

// reportStore persists exercise reports in SQLite.
type reportStore struct {
	db *sql.DB
}

// Save implements collab.ReportService.
func (s *reportStore) Save(ctx context.Context, r collab.Report) (collab.Report, error) {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Results == "" {
		r.Results = "{}"
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO reports (room_id, user, realized_problem_id, exercise_index, kind, results, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RoomID, r.User, r.RealizedProblemID, r.ExerciseIndex, r.Kind, r.Results,
		r.CreatedAt.Format(timeLayout))
	if err != nil {
		return collab.Report{}, fmt.Errorf("sqlite: insert report: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return collab.Report{}, fmt.Errorf("sqlite: report id: %w", err)
	}
	r.ID = id
	return r, nil
}

// CountForExercise implements collab.ReportService. Each participant counts
// once per exercise no matter how many reports they file.
func (s *reportStore) CountForExercise(ctx context.Context, roomID string, exerciseIndex int) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user) FROM reports WHERE room_id = ? AND exercise_index = ?`,
		roomID, exerciseIndex).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count reports for %s/%d: %w", roomID, exerciseIndex, err)
	}
	return n, nil
}

// DeleteAll implements collab.ReportService.
func (s *reportStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM reports`); err != nil {
		return fmt.Errorf("sqlite: delete all reports: %w", err)
	}
	return nil
}
