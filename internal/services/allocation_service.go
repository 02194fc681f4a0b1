package services

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/primeestate/room-selection-backend/internal/database"
	"github.com/primeestate/room-selection-backend/internal/models"
)

// Publisher receives every committed change. The broadcaster implements
// it; tests plug in a recorder.
type Publisher interface {
	Publish(event models.RoomChangeEvent)
}

// AllocationService is the single authority for room state transitions.
// Per-room ordering comes from the store's version guard; quota
// enforcement commits through the store's owned-count guard, so
// concurrent claims on different rooms cannot both slip under the limit
// even when several server instances share one database.
type AllocationService struct {
	store      database.Store
	publisher  Publisher
	logger     *logrus.Logger
	maxRetries int
}

// NewAllocationService creates an AllocationService
func NewAllocationService(store database.Store, publisher Publisher, logger *logrus.Logger, maxRetries int) *AllocationService {
	return &AllocationService{
		store:      store,
		publisher:  publisher,
		logger:     logger,
		maxRetries: maxRetries,
	}
}

func (s *AllocationService) publish(event models.RoomChangeEvent) {
	if s.publisher != nil {
		s.publisher.Publish(event)
	}
}

// mapStoreErr translates store sentinels into engine sentinels
func mapStoreErr(err error) error {
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// ============================================================================
// READ OPERATIONS
// ============================================================================

// GetRoom returns a single room
func (s *AllocationService) GetRoom(roomID string) (*models.Room, error) {
	room, err := s.store.GetRoom(roomID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return room, nil
}

// ListRooms returns rooms matching the filter
func (s *AllocationService) ListRooms(filter database.RoomFilter) ([]models.Room, error) {
	return s.store.ListRooms(filter)
}

// GetUser returns a single user
func (s *AllocationService) GetUser(userID string) (*models.User, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return user, nil
}

// ListUsers returns the full roster
func (s *AllocationService) ListUsers() ([]models.User, error) {
	return s.store.ListUsers()
}

// Snapshot returns the full current state for initial paint or resync
func (s *AllocationService) Snapshot() (*models.Snapshot, error) {
	rooms, err := s.store.ListRooms(database.RoomFilter{})
	if err != nil {
		return nil, err
	}
	users, err := s.store.ListUsers()
	if err != nil {
		return nil, err
	}
	return &models.Snapshot{Rooms: rooms, Users: users}, nil
}

// RandomAvailable picks one currently claimable room at random
func (s *AllocationService) RandomAvailable() (*models.Room, error) {
	rooms, err := s.store.ListRooms(database.RoomFilter{Status: models.RoomStatusAvailable})
	if err != nil {
		return nil, err
	}
	if len(rooms) == 0 {
		return nil, ErrNotFound
	}
	room := rooms[rand.Intn(len(rooms))]
	return &room, nil
}

// ============================================================================
// SINGLE-ROOM MUTATIONS
// ============================================================================

// Claim takes ownership of an available room for the user. Re-claiming a
// room the user already owns is a no-op, so a client that timed out and
// retried cannot accidentally toggle its own selection away.
func (s *AllocationService) Claim(roomID, userID string) (*models.Room, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	// Admins never consume quota
	maxOwned := -1
	if !user.IsAdmin {
		maxOwned = user.MaxSelections
	}

	for attempt := 0; ; attempt++ {
		room, err := s.store.GetRoom(roomID)
		if err != nil {
			return nil, mapStoreErr(err)
		}

		if room.OwnedBy(userID) {
			return room, nil
		}
		switch room.Status {
		case models.RoomStatusLocked:
			return nil, ErrRoomLocked
		case models.RoomStatusSelected:
			return nil, ErrRoomTaken
		}

		// Fast fail on live ownership before attempting the write; the
		// store re-checks the count atomically with the commit, which is
		// what actually holds the quota under concurrency.
		if maxOwned >= 0 {
			count, err := s.store.CountOwnedRooms(userID)
			if err != nil {
				return nil, fmt.Errorf("failed to count selections: %w", err)
			}
			if count >= maxOwned {
				return nil, ErrQuotaExceeded
			}
		}

		expected := room.Version
		owner := userID
		room.Status = models.RoomStatusSelected
		room.OwnerID = &owner

		err = s.store.ClaimRoomGuarded(room, expected, maxOwned)
		if errors.Is(err, database.ErrQuotaExhausted) {
			return nil, ErrQuotaExceeded
		}
		if errors.Is(err, database.ErrConflict) {
			if attempt >= s.maxRetries {
				return nil, ErrConflict
			}
			continue
		}
		if err != nil {
			return nil, mapStoreErr(err)
		}

		s.logger.WithFields(logrus.Fields{
			"op":      "claim",
			"room_id": room.ID,
			"user_id": userID,
			"version": room.Version,
		}).Info("Room claimed")
		s.publish(models.RoomChanged(room))
		return room, nil
	}
}

// Release returns a room the user owns to the available pool
func (s *AllocationService) Release(roomID, userID string) (*models.Room, error) {
	if _, err := s.store.GetUser(userID); err != nil {
		return nil, mapStoreErr(err)
	}

	for attempt := 0; ; attempt++ {
		room, err := s.store.GetRoom(roomID)
		if err != nil {
			return nil, mapStoreErr(err)
		}

		if !room.OwnedBy(userID) {
			return nil, ErrNotOwner
		}

		expected := room.Version
		room.Status = models.RoomStatusAvailable
		room.OwnerID = nil

		err = s.store.UpdateRoomGuarded(room, expected)
		if errors.Is(err, database.ErrConflict) {
			if attempt >= s.maxRetries {
				return nil, ErrConflict
			}
			continue
		}
		if err != nil {
			return nil, mapStoreErr(err)
		}

		s.logger.WithFields(logrus.Fields{
			"op":      "release",
			"room_id": room.ID,
			"user_id": userID,
			"version": room.Version,
		}).Info("Room released")
		s.publish(models.RoomChanged(room))
		return room, nil
	}
}

// SetLock removes a room from sale or returns it. Locking evicts any
// current occupant; the forced release is recorded in the audit log.
func (s *AllocationService) SetLock(roomID string, locked bool, actingUserID string) (*models.Room, error) {
	if _, err := s.requireAdmin(actingUserID); err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		room, err := s.store.GetRoom(roomID)
		if err != nil {
			return nil, mapStoreErr(err)
		}

		// No-op when already in the target state class
		if locked && room.Status == models.RoomStatusLocked {
			return room, nil
		}
		if !locked && room.Status != models.RoomStatusLocked {
			return room, nil
		}

		evicted := room.OwnerID
		expected := room.Version
		room.OwnerID = nil
		if locked {
			room.Status = models.RoomStatusLocked
		} else {
			room.Status = models.RoomStatusAvailable
		}

		err = s.store.UpdateRoomGuarded(room, expected)
		if errors.Is(err, database.ErrConflict) {
			if attempt >= s.maxRetries {
				return nil, ErrConflict
			}
			continue
		}
		if err != nil {
			return nil, mapStoreErr(err)
		}

		fields := logrus.Fields{
			"op":      "set_lock",
			"room_id": room.ID,
			"locked":  locked,
			"admin":   actingUserID,
			"version": room.Version,
		}
		if evicted != nil {
			fields["evicted_owner"] = *evicted
		}
		s.logger.WithFields(fields).Info("Room lock changed")
		s.publish(models.RoomChanged(room))
		return room, nil
	}
}

// ============================================================================
// ADMIN BULK OPERATIONS
// ============================================================================

// requireAdmin re-checks the acting user's admin flag against the store.
// The HTTP layer gates admin routes too, but the engine never trusts the
// client to have done so.
func (s *AllocationService) requireAdmin(actingUserID string) (*models.User, error) {
	user, err := s.store.GetUser(actingUserID)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	if !user.IsAdmin {
		return nil, ErrNotAdmin
	}
	return user, nil
}

// BulkReplaceInventory validates and swaps the entire room inventory.
// The commit is all-or-nothing: a single bad row rejects the whole batch
// and leaves the existing inventory untouched.
func (s *AllocationService) BulkReplaceInventory(rooms []models.Room, actingUserID string) error {
	if _, err := s.requireAdmin(actingUserID); err != nil {
		return err
	}

	users, err := s.store.ListUsers()
	if err != nil {
		return err
	}
	roster := make(map[string]models.User, len(users))
	for _, u := range users {
		roster[u.ID] = u
	}

	normalized, problems := validateInventory(rooms, roster)
	if len(problems) > 0 {
		return NewValidationError(problems)
	}

	if err := s.store.ReplaceRooms(normalized); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"op":    "bulk_replace_inventory",
		"admin": actingUserID,
		"rooms": len(normalized),
	}).Info("Inventory replaced")
	s.publish(models.InventoryReset())
	return nil
}

// ImportInventory replaces the inventory and adds roster entries that the
// import materialized for previously unknown owners. Both lists validate
// before anything commits.
func (s *AllocationService) ImportInventory(rooms []models.Room, newUsers []models.User, actingUserID string) error {
	if _, err := s.requireAdmin(actingUserID); err != nil {
		return err
	}

	existing, err := s.store.ListUsers()
	if err != nil {
		return err
	}
	merged := make([]models.User, 0, len(existing)+len(newUsers))
	roster := make(map[string]models.User, len(existing)+len(newUsers))
	for _, u := range existing {
		roster[u.ID] = u
		merged = append(merged, u)
	}
	added := 0
	for _, u := range newUsers {
		if _, known := roster[u.ID]; known {
			continue
		}
		roster[u.ID] = u
		merged = append(merged, u)
		added++
	}

	problems := validateRoster(merged)
	normalized, roomProblems := validateInventory(rooms, roster)
	problems = append(problems, roomProblems...)
	if len(problems) > 0 {
		return NewValidationError(problems)
	}

	if added > 0 {
		if err := s.store.ReplaceUsers(merged); err != nil {
			return err
		}
	}
	if err := s.store.ReplaceRooms(normalized); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"op":          "import_inventory",
		"admin":       actingUserID,
		"rooms":       len(normalized),
		"users_added": added,
	}).Info("Inventory imported")
	s.publish(models.InventoryReset())
	return nil
}

// AddUser registers a single customer
func (s *AllocationService) AddUser(user models.User, actingUserID string) (*models.User, error) {
	if _, err := s.requireAdmin(actingUserID); err != nil {
		return nil, err
	}

	if problems := validateRoster([]models.User{user}); len(problems) > 0 {
		return nil, NewValidationError(problems)
	}

	if err := s.store.InsertUser(&user); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, NewValidationError([]string{fmt.Sprintf("user id %q already exists", user.ID)})
		}
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"op":      "add_user",
		"admin":   actingUserID,
		"user_id": user.ID,
	}).Info("User added")
	return &user, nil
}

// BulkReplaceUsers validates and swaps the entire roster. Owners of
// currently selected rooms must survive the replacement so no room is
// left pointing at a missing user.
func (s *AllocationService) BulkReplaceUsers(users []models.User, actingUserID string) error {
	if _, err := s.requireAdmin(actingUserID); err != nil {
		return err
	}

	problems := validateRoster(users)

	rooms, err := s.store.ListRooms(database.RoomFilter{Status: models.RoomStatusSelected})
	if err != nil {
		return err
	}
	next := make(map[string]models.User, len(users))
	for _, u := range users {
		next[u.ID] = u
	}
	owned := make(map[string]int)
	for _, room := range rooms {
		if room.OwnerID == nil {
			continue
		}
		if _, ok := next[*room.OwnerID]; !ok {
			problems = append(problems, fmt.Sprintf("room %q is selected by user %q missing from the new roster", room.ID, *room.OwnerID))
			continue
		}
		owned[*room.OwnerID]++
	}
	for id, count := range owned {
		u := next[id]
		if !u.IsAdmin && count > u.MaxSelections {
			problems = append(problems, fmt.Sprintf("user %q owns %d rooms but the new quota is %d", id, count, u.MaxSelections))
		}
	}

	if len(problems) > 0 {
		return NewValidationError(problems)
	}

	if err := s.store.ReplaceUsers(users); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"op":    "bulk_replace_users",
		"admin": actingUserID,
		"users": len(users),
	}).Info("Roster replaced")
	return nil
}
