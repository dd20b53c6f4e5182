package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tutorlab/roomd/internal/collab"
)

// membershipStore tracks room assignments in SQLite.
type membershipStore struct {
	db *sql.DB
}

// Assign implements collab.MembershipService. The whole group is written in
// one transaction so a room never appears half-formed.
func (s *membershipStore) Assign(ctx context.Context, roomID string, collectionID int64, users []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin assign: %w", err)
	}
	defer tx.Rollback()

	for _, u := range users {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO room_members (room_id, user, collection_id) VALUES (?, ?, ?)`,
			roomID, u, collectionID); err != nil {
			return fmt.Errorf("sqlite: assign %s to %s: %w", u, roomID, err)
		}
	}
	return tx.Commit()
}

// ExistsRoom implements collab.MembershipService.
func (s *membershipStore) ExistsRoom(ctx context.Context, roomID string) (bool, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return false, fmt.Errorf("sqlite: exists room %s: %w", roomID, err)
	}
	return n > 0, nil
}

// RoomForUser implements collab.MembershipService. It returns the most
// recent assignment; a user with none is a NotFound condition.
func (s *membershipStore) RoomForUser(ctx context.Context, user string) (*collab.RoomMembership, error) {
	m := &collab.RoomMembership{User: user}
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id, collection_id FROM room_members
		 WHERE user = ? ORDER BY created_at DESC LIMIT 1`, user).
		Scan(&m.RoomID, &m.CollectionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: no room for user %s: %w", user, collab.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: room for user %s: %w", user, err)
	}
	return m, nil
}

// RoomFor implements collab.MembershipService.
func (s *membershipStore) RoomFor(ctx context.Context, user string, collectionID int64) (*collab.RoomMembership, error) {
	m := &collab.RoomMembership{User: user, CollectionID: collectionID}
	err := s.db.QueryRowContext(ctx,
		`SELECT room_id FROM room_members
		 WHERE user = ? AND collection_id = ? ORDER BY created_at DESC LIMIT 1`,
		user, collectionID).Scan(&m.RoomID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: no room for user %s in collection %d: %w", user, collectionID, collab.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: room for user %s in collection %d: %w", user, collectionID, err)
	}
	return m, nil
}

// Members implements collab.MembershipService.
func (s *membershipStore) Members(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user FROM room_members WHERE room_id = ? ORDER BY created_at ASC, user ASC`, roomID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: members of %s: %w", roomID, err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("sqlite: scan member: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate members: %w", err)
	}
	return users, nil
}

// CountParticipants implements collab.MembershipService.
func (s *membershipStore) CountParticipants(ctx context.Context, roomID string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM room_members WHERE room_id = ?`, roomID).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count participants of %s: %w", roomID, err)
	}
	return n, nil
}

// DeleteAll implements collab.MembershipService.
func (s *membershipStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM room_members`); err != nil {
		return fmt.Errorf("sqlite: delete all memberships: %w", err)
	}
	return nil
}
