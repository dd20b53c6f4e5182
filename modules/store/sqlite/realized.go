package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
)

const timeLayout = time.RFC3339Nano

// realizedStore persists realized-problem instances in SQLite.
type realizedStore struct {
	db *sql.DB
}

// Save implements collab.RealizedProblemService. A zero ID inserts a new
// row and returns the assigned ID; a non-zero ID updates the stored record.
func (s *realizedStore) Save(ctx context.Context, rp collab.RealizedProblem) (collab.RealizedProblem, error) {
	if rp.CreatedAt.IsZero() {
		rp.CreatedAt = time.Now().UTC()
	}

	if rp.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO realized_problems (problem_id, created_at, finished_by_timer) VALUES (?, ?, ?)`,
			rp.ProblemID, rp.CreatedAt.Format(timeLayout), rp.FinishedByTimer)
		if err != nil {
			return collab.RealizedProblem{}, fmt.Errorf("sqlite: insert realized problem: %w", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return collab.RealizedProblem{}, fmt.Errorf("sqlite: realized problem id: %w", err)
		}
		rp.ID = id
		return rp, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO realized_problems (id, problem_id, created_at, finished_by_timer)
		 VALUES (?, ?, ?, ?)`,
		rp.ID, rp.ProblemID, rp.CreatedAt.Format(timeLayout), rp.FinishedByTimer); err != nil {
		return collab.RealizedProblem{}, fmt.Errorf("sqlite: update realized problem %d: %w", rp.ID, err)
	}
	return rp, nil
}

// Get implements collab.RealizedProblemService.
func (s *realizedStore) Get(ctx context.Context, id int64) (collab.RealizedProblem, error) {
	rp := collab.RealizedProblem{ID: id}
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT problem_id, created_at, finished_by_timer FROM realized_problems WHERE id = ?`, id).
		Scan(&rp.ProblemID, &created, &rp.FinishedByTimer)
	if errors.Is(err, sql.ErrNoRows) {
		return collab.RealizedProblem{}, fmt.Errorf("sqlite: realized problem %d: %w", id, collab.ErrNotFound)
	}
	if err != nil {
		return collab.RealizedProblem{}, fmt.Errorf("sqlite: load realized problem %d: %w", id, err)
	}
	if rp.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return collab.RealizedProblem{}, fmt.Errorf("sqlite: parse created_at of realized problem %d: %w", id, err)
	}
	return rp, nil
}
