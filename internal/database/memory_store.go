package database

import (
	"errors"
	"sync"
	"time"

	"github.com/primeestate/room-selection-backend/internal/models"
)

// MemoryStore is an in-process Store used in development mode and in
// engine tests. It honors the same versioning contract as PostgresStore;
// every value crossing the boundary is copied so callers can never alias
// internal state.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]models.Room
	users map[string]models.User
}

// NewMemoryStore creates an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]models.Room),
		users: make(map[string]models.User),
	}
}

func copyRoom(r models.Room) models.Room {
	if r.OwnerID != nil {
		owner := *r.OwnerID
		r.OwnerID = &owner
	}
	return r
}

// GetRoom fetches a single room by id
func (s *MemoryStore) GetRoom(id string) (*models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	room, ok := s.rooms[id]
	if !ok {
		return nil, ErrNotFound
	}
	room = copyRoom(room)
	return &room, nil
}

// ListRooms returns rooms matching the filter
func (s *MemoryStore) ListRooms(filter RoomFilter) ([]models.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]models.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		if filter.Building != "" && room.Building != filter.Building {
			continue
		}
		if filter.Floor > 0 && room.Floor != filter.Floor {
			continue
		}
		if filter.Status != "" && room.Status != filter.Status {
			continue
		}
		rooms = append(rooms, copyRoom(room))
	}
	sortRooms(rooms)
	return rooms, nil
}

// UpdateRoomGuarded commits status/owner only when the stored version
// still matches expectedVersion
func (s *MemoryStore) UpdateRoomGuarded(room *models.Room, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rooms[room.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}

	stored.Status = room.Status
	if room.OwnerID != nil {
		owner := *room.OwnerID
		stored.OwnerID = &owner
	} else {
		stored.OwnerID = nil
	}
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now()
	s.rooms[room.ID] = stored

	room.Version = stored.Version
	room.UpdatedAt = stored.UpdatedAt
	return nil
}

// ClaimRoomGuarded commits a claim with the version guard of
// UpdateRoomGuarded plus an owned-count guard, both under the same lock
func (s *MemoryStore) ClaimRoomGuarded(room *models.Room, expectedVersion int64, maxOwned int) error {
	if room.OwnerID == nil {
		return errors.New("claim requires an owner")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.rooms[room.ID]
	if !ok {
		return ErrNotFound
	}
	if stored.Version != expectedVersion {
		return ErrConflict
	}

	if maxOwned >= 0 {
		owned := 0
		for _, r := range s.rooms {
			if r.Status == models.RoomStatusSelected && r.OwnerID != nil && *r.OwnerID == *room.OwnerID {
				owned++
			}
		}
		if owned >= maxOwned {
			return ErrQuotaExhausted
		}
	}

	owner := *room.OwnerID
	stored.Status = room.Status
	stored.OwnerID = &owner
	stored.Version = expectedVersion + 1
	stored.UpdatedAt = time.Now()
	s.rooms[room.ID] = stored

	room.Version = stored.Version
	room.UpdatedAt = stored.UpdatedAt
	return nil
}

// ReplaceRooms swaps the whole inventory
func (s *MemoryStore) ReplaceRooms(rooms []models.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]models.Room, len(rooms))
	now := time.Now()
	for _, room := range rooms {
		room = copyRoom(room)
		room.UpdatedAt = now
		next[room.ID] = room
	}
	s.rooms = next
	return nil
}

// CountOwnedRooms counts rooms currently SELECTED by the given user
func (s *MemoryStore) CountOwnedRooms(userID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, room := range s.rooms {
		if room.Status == models.RoomStatusSelected && room.OwnerID != nil && *room.OwnerID == userID {
			count++
		}
	}
	return count, nil
}

// GetUser fetches a single user by id
func (s *MemoryStore) GetUser(id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &user, nil
}

// ListUsers returns the full roster
func (s *MemoryStore) ListUsers() ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]models.User, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	sortUsers(users)
	return users, nil
}

// InsertUser adds a single user, rejecting duplicate ids
func (s *MemoryStore) InsertUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.ID]; exists {
		return ErrDuplicate
	}
	s.users[user.ID] = *user
	return nil
}

// ReplaceUsers swaps the whole roster
func (s *MemoryStore) ReplaceUsers(users []models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]models.User, len(users))
	for _, user := range users {
		next[user.ID] = user
	}
	s.users = next
	return nil
}

// Ping always succeeds for the in-memory store
func (s *MemoryStore) Ping() error { return nil }

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }
