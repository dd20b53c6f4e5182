package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tutorlab/roomd/internal/collab"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// Stores bundles the collaborator services backed by one database. The
// caller is responsible for calling Close when done.
type Stores struct {
	DB         *sql.DB
	Catalog    *Catalog
	Adapter    collab.ProblemAdapter
	Realized   collab.RealizedProblemService
	Membership collab.MembershipService
	Reports    collab.ReportService
}

// OpenStores opens a SQLite database at the given path and returns the
// collaborator stores backed by it, with WAL mode, a 5 s busy timeout, and
// a single connection (SQLite serialises writes). The schema is migrated
// automatically.
func OpenStores(path string) (*Stores, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}

	db.SetMaxOpenConns(1)

	ctx := context.TODO()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Stores{
		DB:         db,
		Catalog:    &Catalog{db: db},
		Adapter:    &problemAdapter{db: db},
		Realized:   &realizedStore{db: db},
		Membership: &membershipStore{db: db},
		Reports:    &reportStore{db: db},
	}, nil
}

// Close closes the underlying database.
func (s *Stores) Close() error {
	return s.DB.Close()
}
