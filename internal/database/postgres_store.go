package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/primeestate/room-selection-backend/internal/models"
)

// PostgresStore implements Store on top of sqlx/lib/pq
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a PostgresStore around an open connection pool
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// ============================================================================
// ROOM OPERATIONS
// ============================================================================

const roomColumns = `id, building, floor, number, area, status, owner_id, version, updated_at`

// GetRoom fetches a single room by id
func (s *PostgresStore) GetRoom(id string) (*models.Room, error) {
	var room models.Room
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE id = $1`
	err := s.db.Get(&room, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch room: %w", err)
	}
	return &room, nil
}

// ListRooms returns rooms matching the filter, ordered for stable display
func (s *PostgresStore) ListRooms(filter RoomFilter) ([]models.Room, error) {
	query := `SELECT ` + roomColumns + ` FROM rooms WHERE 1=1`
	args := []interface{}{}

	if filter.Building != "" {
		args = append(args, filter.Building)
		query += fmt.Sprintf(" AND building = $%d", len(args))
	}
	if filter.Floor > 0 {
		args = append(args, filter.Floor)
		query += fmt.Sprintf(" AND floor = $%d", len(args))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += ` ORDER BY building, floor, number`

	rooms := []models.Room{}
	if err := s.db.Select(&rooms, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	return rooms, nil
}

// UpdateRoomGuarded commits status/owner only when the stored version still
// matches expectedVersion. A zero-row update is disambiguated into
// ErrNotFound or ErrConflict with a follow-up existence check.
func (s *PostgresStore) UpdateRoomGuarded(room *models.Room, expectedVersion int64) error {
	query := `
		UPDATE rooms
		SET status = $1, owner_id = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`
	result, err := s.db.Exec(query, room.Status, room.OwnerID, room.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := s.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, room.ID); err != nil {
			return fmt.Errorf("failed to check room existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	room.Version = expectedVersion + 1
	return nil
}

// ClaimRoomGuarded commits a claim inside one transaction that first takes
// a per-owner advisory lock. Claims for the same user serialize across
// every process sharing this database, so the owned-count check below
// cannot race another instance taking the user's last slot.
func (s *PostgresStore) ClaimRoomGuarded(room *models.Room, expectedVersion int64, maxOwned int) error {
	if room.OwnerID == nil {
		return fmt.Errorf("claim requires an owner")
	}

	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Released at commit or rollback
	if _, err := tx.Exec(`SELECT pg_advisory_xact_lock(hashtext($1))`, *room.OwnerID); err != nil {
		return fmt.Errorf("failed to take claim lock: %w", err)
	}

	if maxOwned >= 0 {
		var owned int
		query := `SELECT COUNT(*) FROM rooms WHERE owner_id = $1 AND status = $2`
		if err := tx.Get(&owned, query, *room.OwnerID, models.RoomStatusSelected); err != nil {
			return fmt.Errorf("failed to count owned rooms: %w", err)
		}
		if owned >= maxOwned {
			return ErrQuotaExhausted
		}
	}

	query := `
		UPDATE rooms
		SET status = $1, owner_id = $2, version = version + 1, updated_at = NOW()
		WHERE id = $3 AND version = $4`
	result, err := tx.Exec(query, room.Status, room.OwnerID, room.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("failed to update room: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read update result: %w", err)
	}
	if rows == 0 {
		var exists bool
		if err := tx.Get(&exists, `SELECT EXISTS(SELECT 1 FROM rooms WHERE id = $1)`, room.ID); err != nil {
			return fmt.Errorf("failed to check room existence: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
		return ErrConflict
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit claim: %w", err)
	}
	room.Version = expectedVersion + 1
	return nil
}

// ReplaceRooms swaps the whole inventory inside one transaction
func (s *PostgresStore) ReplaceRooms(rooms []models.Room) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rooms`); err != nil {
		return fmt.Errorf("failed to clear rooms: %w", err)
	}

	if len(rooms) > 0 {
		query := `
			INSERT INTO rooms (id, building, floor, number, area, status, owner_id, version, updated_at)
			VALUES (:id, :building, :floor, :number, :area, :status, :owner_id, :version, NOW())`
		if _, err := tx.NamedExec(query, rooms); err != nil {
			return fmt.Errorf("failed to insert rooms: %w", err)
		}
	}

	return tx.Commit()
}

// CountOwnedRooms counts rooms currently SELECTED by the given user
func (s *PostgresStore) CountOwnedRooms(userID string) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM rooms WHERE owner_id = $1 AND status = $2`
	if err := s.db.Get(&count, query, userID, models.RoomStatusSelected); err != nil {
		return 0, fmt.Errorf("failed to count owned rooms: %w", err)
	}
	return count, nil
}

// ============================================================================
// USER OPERATIONS
// ============================================================================

const userColumns = `id, name, phone, max_selections, is_admin`

// GetUser fetches a single user by id
func (s *PostgresStore) GetUser(id string) (*models.User, error) {
	var user models.User
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	err := s.db.Get(&user, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

// ListUsers returns the full roster
func (s *PostgresStore) ListUsers() ([]models.User, error) {
	users := []models.User{}
	query := `SELECT ` + userColumns + ` FROM users ORDER BY name, id`
	if err := s.db.Select(&users, query); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// InsertUser adds a single user, rejecting duplicate ids
func (s *PostgresStore) InsertUser(user *models.User) error {
	query := `
		INSERT INTO users (id, name, phone, max_selections, is_admin)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(query, user.ID, user.Name, user.Phone, user.MaxSelections, user.IsAdmin)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// ReplaceUsers swaps the whole roster inside one transaction
func (s *PostgresStore) ReplaceUsers(users []models.User) error {
	tx, err := s.db.Beginx()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM users`); err != nil {
		return fmt.Errorf("failed to clear users: %w", err)
	}

	if len(users) > 0 {
		query := `
			INSERT INTO users (id, name, phone, max_selections, is_admin)
			VALUES (:id, :name, :phone, :max_selections, :is_admin)`
		if _, err := tx.NamedExec(query, users); err != nil {
			return fmt.Errorf("failed to insert users: %w", err)
		}
	}

	return tx.Commit()
}

// Ping verifies the database connection
func (s *PostgresStore) Ping() error {
	return s.db.Ping()
}

// Close releases the connection pool
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
