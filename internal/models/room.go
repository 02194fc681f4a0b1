package models

import (
	"time"
)

// RoomStatus represents the sale status of a room
type RoomStatus string

const (
	RoomStatusAvailable RoomStatus = "AVAILABLE"
	RoomStatusSelected  RoomStatus = "SELECTED"
	RoomStatusLocked    RoomStatus = "LOCKED"
)

// Valid reports whether the status is one of the known literals
func (s RoomStatus) Valid() bool {
	switch s {
	case RoomStatusAvailable, RoomStatusSelected, RoomStatusLocked:
		return true
	}
	return false
}

// Room represents a single sellable unit in the inventory.
// Invariant: Status == SELECTED exactly when OwnerID is non-nil,
// and a LOCKED room never has an owner. Version increases by one on
// every committed mutation and backs the optimistic write guard.
type Room struct {
	ID        string     `json:"id" db:"id"`
	Building  string     `json:"building" db:"building"`
	Floor     int        `json:"floor" db:"floor"`
	Number    string     `json:"number" db:"number"`
	Area      float64    `json:"area" db:"area"`
	Status    RoomStatus `json:"status" db:"status"`
	OwnerID   *string    `json:"owner_id,omitempty" db:"owner_id"`
	Version   int64      `json:"version" db:"version"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// OwnedBy reports whether the room is currently selected by the given user
func (r *Room) OwnedBy(userID string) bool {
	return r.OwnerID != nil && *r.OwnerID == userID
}

// GenerateConfig describes a grid of buildings/floors/units to generate
type GenerateConfig struct {
	BuildingCount     int     `json:"building_count" binding:"required,gte=1"`
	FloorsPerBuilding int     `json:"floors_per_building" binding:"required,gte=1"`
	RoomsPerFloor     int     `json:"rooms_per_floor" binding:"required,gte=1"`
	BaseArea          float64 `json:"base_area" binding:"required,gt=0"`
	BuildingPrefix    string  `json:"building_prefix"`
}

// SetLockRequest toggles the locked state of a room
type SetLockRequest struct {
	Locked bool `json:"locked"`
}

// Snapshot is the full current state handed to (re)connecting clients
type Snapshot struct {
	Rooms []Room `json:"rooms"`
	Users []User `json:"users"`
}
