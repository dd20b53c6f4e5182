package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tutorlab/roomd/internal/collab"
)

// Catalog resolves collections and their ordered problems from SQLite.
type Catalog struct {
	db *sql.DB
}

// Get implements collab.CollectionService.
func (s *Catalog) Get(ctx context.Context, id int64) (*collab.Collection, error) {
	c := &collab.Collection{ID: id}
	err := s.db.QueryRowContext(ctx,
		`SELECT name, group_strategy, group_size, selection_mode, help_level, locale
		 FROM collections WHERE id = ?`, id).
		Scan(&c.Name, &c.Settings.GroupStrategy, &c.Settings.GroupSize,
			&c.Settings.SelectionMode, &c.Settings.HelpLevel, &c.Settings.Locale)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: collection %d: %w", id, collab.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load collection %d: %w", id, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, statement, max_resolution_ms
		 FROM problems WHERE collection_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load problems for collection %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p collab.Problem
		var maxMS int64
		if err := rows.Scan(&p.ID, &p.Sequence, &p.Statement, &maxMS); err != nil {
			return nil, fmt.Errorf("sqlite: scan problem: %w", err)
		}
		p.MaxResolution = time.Duration(maxMS) * time.Millisecond
		c.Problems = append(c.Problems, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate problems: %w", err)
	}
	return c, nil
}

// GetForUser implements collab.CollectionService. A collection with access
// rows is restricted to the listed users; one without any rows is open.
func (s *Catalog) GetForUser(ctx context.Context, id int64, user string) (*collab.Collection, error) {
	c, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var restricted int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collection_access WHERE collection_id = ?`, id).
		Scan(&restricted); err != nil {
		return nil, fmt.Errorf("sqlite: check collection access: %w", err)
	}
	if restricted == 0 {
		return c, nil
	}

	var allowed int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collection_access WHERE collection_id = ? AND user = ?`, id, user).
		Scan(&allowed); err != nil {
		return nil, fmt.Errorf("sqlite: check collection access: %w", err)
	}
	if allowed == 0 {
		return nil, fmt.Errorf("sqlite: collection %d not accessible to %s: %w", id, user, collab.ErrNotFound)
	}
	return c, nil
}

// Put inserts or replaces a collection and its problems. Used for catalog
// seeding and tests.
func (s *Catalog) Put(ctx context.Context, c *collab.Collection) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin put collection: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO collections
		 (id, name, group_strategy, group_size, selection_mode, help_level, locale)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.Settings.GroupStrategy, c.Settings.GroupSize,
		c.Settings.SelectionMode, c.Settings.HelpLevel, c.Settings.Locale); err != nil {
		return fmt.Errorf("sqlite: put collection %d: %w", c.ID, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM problems WHERE collection_id = ?`, c.ID); err != nil {
		return fmt.Errorf("sqlite: clear problems for collection %d: %w", c.ID, err)
	}
	for _, p := range c.Problems {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO problems (id, collection_id, seq, statement, max_resolution_ms)
			 VALUES (?, ?, ?, ?, ?)`,
			p.ID, c.ID, p.Sequence, p.Statement, p.MaxResolution.Milliseconds()); err != nil {
			return fmt.Errorf("sqlite: put problem %d: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// GrantAccess restricts a collection to the given user (first grant turns an
// open collection into a restricted one).
func (s *Catalog) GrantAccess(ctx context.Context, collectionID int64, user string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO collection_access (collection_id, user) VALUES (?, ?)`,
		collectionID, user); err != nil {
		return fmt.Errorf("sqlite: grant access: %w", err)
	}
	return nil
}

// PutHint stores the hint shown at the given help level for a problem.
func (s *Catalog) PutHint(ctx context.Context, problemID int64, level int, hint string) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO problem_hints (problem_id, level, hint) VALUES (?, ?, ?)`,
		problemID, level, hint); err != nil {
		return fmt.Errorf("sqlite: put hint: %w", err)
	}
	return nil
}

// problemAdapter builds user-facing problem views, appending the strongest
// hint the requested help level unlocks.
type problemAdapter struct {
	db *sql.DB
}

// Adapt implements collab.ProblemAdapter.
func (a *problemAdapter) Adapt(ctx context.Context, user string, p collab.Problem, helpLevel int) (collab.ProblemView, error) {
	view := collab.ProblemView{
		ProblemID:     p.ID,
		Sequence:      p.Sequence,
		Statement:     p.Statement,
		HelpLevel:     helpLevel,
		MaxResolution: p.MaxResolution,
	}

	var hint string
	err := a.db.QueryRowContext(ctx,
		`SELECT hint FROM problem_hints
		 WHERE problem_id = ? AND level <= ?
		 ORDER BY level DESC LIMIT 1`, p.ID, helpLevel).Scan(&hint)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// No hint unlocked at this level.
	case err != nil:
		return collab.ProblemView{}, fmt.Errorf("sqlite: load hint for problem %d: %w", p.ID, err)
	default:
		view.Statement = p.Statement + "\n\nHint: " + hint
	}
	return view, nil
}
