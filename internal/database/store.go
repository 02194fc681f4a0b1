package database

import (
	"errors"

	"github.com/primeestate/room-selection-backend/internal/models"
)

// Sentinel errors returned by Store implementations. Callers match with
// errors.Is; the allocation engine translates them into its own taxonomy.
var (
	// ErrNotFound means the referenced room or user does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a guarded write observed a stale version.
	ErrConflict = errors.New("version conflict")
	// ErrDuplicate means an insert collided with an existing id.
	ErrDuplicate = errors.New("duplicate id")
	// ErrQuotaExhausted means a claim's owned-count guard failed.
	ErrQuotaExhausted = errors.New("selection quota exhausted")
)

// RoomFilter narrows ListRooms. Zero values mean "no constraint".
type RoomFilter struct {
	Building string
	Floor    int
	Status   models.RoomStatus
}

// Store is the durable holder of the room inventory and the user roster.
// All mutation goes through the allocation engine; no other collaborator
// writes rooms or users directly.
type Store interface {
	GetRoom(id string) (*models.Room, error)
	ListRooms(filter RoomFilter) ([]models.Room, error)
	// UpdateRoomGuarded writes status/owner for the room only if the
	// stored version still equals expectedVersion, bumping the version
	// by one. Returns ErrConflict on a stale version, ErrNotFound if
	// the room disappeared. On success room.Version holds the new value.
	UpdateRoomGuarded(room *models.Room, expectedVersion int64) error
	// ClaimRoomGuarded writes a SELECTED transition with the same version
	// guard as UpdateRoomGuarded, additionally requiring (when maxOwned
	// >= 0) that the owner holds fewer than maxOwned SELECTED rooms at
	// commit time. Returns ErrQuotaExhausted when the count guard fails.
	// Count and write are atomic, including across processes sharing one
	// database.
	ClaimRoomGuarded(room *models.Room, expectedVersion int64, maxOwned int) error
	// ReplaceRooms swaps the entire inventory in one atomic operation.
	ReplaceRooms(rooms []models.Room) error
	// CountOwnedRooms counts rooms currently SELECTED by the user.
	CountOwnedRooms(userID string) (int, error)

	GetUser(id string) (*models.User, error)
	ListUsers() ([]models.User, error)
	InsertUser(user *models.User) error
	// ReplaceUsers swaps the entire roster in one atomic operation.
	ReplaceUsers(users []models.User) error

	Ping() error
	Close() error
}
