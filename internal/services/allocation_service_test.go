package services

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/primeestate/room-selection-backend/internal/database"
	"github.com/primeestate/room-selection-backend/internal/models"
)

// recordingPublisher captures published events for assertions
type recordingPublisher struct {
	mu     sync.Mutex
	events []models.RoomChangeEvent
}

func (p *recordingPublisher) Publish(event models.RoomChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
}

func (p *recordingPublisher) all() []models.RoomChangeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.RoomChangeEvent{}, p.events...)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestEngine(t *testing.T) (*AllocationService, *database.MemoryStore, *recordingPublisher) {
	t.Helper()

	store := database.NewMemoryStore()
	require.NoError(t, store.ReplaceUsers([]models.User{
		{ID: "admin-1", Name: "系统管理员", IsAdmin: true},
		{ID: "u-1", Name: "张三", Phone: "13912345678", MaxSelections: 1},
		{ID: "u-2", Name: "李四", Phone: "13987654321", MaxSelections: 2},
	}))
	require.NoError(t, store.ReplaceRooms([]models.Room{
		{ID: "1-1-01", Building: "1", Floor: 1, Number: "101", Area: 92, Status: models.RoomStatusAvailable, Version: 1},
		{ID: "1-1-02", Building: "1", Floor: 1, Number: "102", Area: 94, Status: models.RoomStatusAvailable, Version: 1},
		{ID: "1-2-01", Building: "1", Floor: 2, Number: "201", Area: 92, Status: models.RoomStatusAvailable, Version: 1},
		{ID: "1-2-02", Building: "1", Floor: 2, Number: "202", Area: 94, Status: models.RoomStatusLocked, Version: 1},
	}))

	publisher := &recordingPublisher{}
	engine := NewAllocationService(store, publisher, testLogger(), 3)
	return engine, store, publisher
}

// requireInvariants checks that every room holds the status/owner pairing
func requireInvariants(t *testing.T, store *database.MemoryStore) {
	t.Helper()

	rooms, err := store.ListRooms(database.RoomFilter{})
	require.NoError(t, err)
	for _, room := range rooms {
		if room.Status == models.RoomStatusSelected {
			assert.NotNil(t, room.OwnerID, "room %s is SELECTED without an owner", room.ID)
		} else {
			assert.Nil(t, room.OwnerID, "room %s has an owner but is %s", room.ID, room.Status)
		}
		assert.GreaterOrEqual(t, room.Version, int64(1))
	}
}

func TestClaim_Success(t *testing.T) {
	engine, store, publisher := newTestEngine(t)

	room, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusSelected, room.Status)
	require.NotNil(t, room.OwnerID)
	assert.Equal(t, "u-1", *room.OwnerID)
	assert.Equal(t, int64(2), room.Version)

	events := publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, "1-1-01", events[0].RoomID)
	assert.Equal(t, models.RoomStatusSelected, events[0].NewStatus)
	assert.Equal(t, int64(2), events[0].NewVersion)

	requireInvariants(t, store)
}

func TestClaim_IdempotentForOwner(t *testing.T) {
	engine, _, publisher := newTestEngine(t)

	first, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	// Re-claiming the same room is a no-op, not QuotaExceeded
	second, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)

	// No second event was published
	assert.Len(t, publisher.all(), 1)
}

func TestClaim_AlreadyTaken(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	_, err = engine.Claim("1-1-01", "u-2")
	assert.ErrorIs(t, err, ErrRoomTaken)
}

func TestClaim_Locked(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim("1-2-02", "u-1")
	assert.ErrorIs(t, err, ErrRoomLocked)
}

func TestClaim_QuotaExceeded(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	// u-1 has MaxSelections 1
	_, err = engine.Claim("1-1-02", "u-1")
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestClaim_AdminExemptFromQuota(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	// admin-1 has MaxSelections 0 but no quota applies
	_, err := engine.Claim("1-1-01", "admin-1")
	require.NoError(t, err)
	_, err = engine.Claim("1-1-02", "admin-1")
	require.NoError(t, err)

	requireInvariants(t, store)
}

func TestClaim_UnknownUserAndRoom(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "ghost")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = engine.Claim("9-9-99", "u-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaim_NoDoubleAllocation(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	// Many users race for the same room; exactly one wins
	require.NoError(t, store.ReplaceUsers(manyUsers(50, 1)))

	var wg sync.WaitGroup
	results := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Claim("1-1-01", fmt.Sprintf("u-%03d", n))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrRoomTaken)
		}
	}
	assert.Equal(t, 1, wins)

	requireInvariants(t, store)
}

func TestClaim_QuotaBoundaryUnderConcurrency(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	// One user with quota 1 races itself across different rooms; at most
	// one claim may land.
	require.NoError(t, store.ReplaceRooms(manyRooms(20)))

	var wg sync.WaitGroup
	results := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, err := engine.Claim(fmt.Sprintf("1-1-%02d", n+1), "u-1")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, ErrQuotaExceeded)
		}
	}
	assert.Equal(t, 1, wins)

	count, err := store.CountOwnedRooms("u-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	requireInvariants(t, store)
}

func TestClaim_QuotaHeldAcrossInstances(t *testing.T) {
	// Two engines sharing one store model two server processes sharing a
	// database. A quota-1 user firing claims for different rooms through
	// both must never end up owning two rooms.
	store := database.NewMemoryStore()
	require.NoError(t, store.ReplaceUsers([]models.User{
		{ID: "u-1", Name: "张三", Phone: "13912345678", MaxSelections: 1},
	}))
	engineA := NewAllocationService(store, nil, testLogger(), 3)
	engineB := NewAllocationService(store, nil, testLogger(), 3)

	for round := 0; round < 200; round++ {
		require.NoError(t, store.ReplaceRooms(manyRooms(2)))

		var wg sync.WaitGroup
		errs := make([]error, 2)
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = engineA.Claim("1-1-01", "u-1")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = engineB.Claim("1-1-02", "u-1")
		}()
		wg.Wait()

		wins := 0
		for _, err := range errs {
			if err == nil {
				wins++
			} else {
				assert.ErrorIs(t, err, ErrQuotaExceeded)
			}
		}
		assert.Equal(t, 1, wins, "round %d", round)

		count, err := store.CountOwnedRooms("u-1")
		require.NoError(t, err)
		require.Equal(t, 1, count, "round %d: u-1 owns %d rooms with quota 1", round, count)
	}
}

// conflictingStore wedges every guarded write into a version conflict so
// the retry exhaustion path is reachable.
type conflictingStore struct {
	*database.MemoryStore
	mu     sync.Mutex
	writes int
}

func (s *conflictingStore) countWrite() {
	s.mu.Lock()
	s.writes++
	s.mu.Unlock()
}

func (s *conflictingStore) UpdateRoomGuarded(room *models.Room, expectedVersion int64) error {
	s.countWrite()
	return database.ErrConflict
}

func (s *conflictingStore) ClaimRoomGuarded(room *models.Room, expectedVersion int64, maxOwned int) error {
	s.countWrite()
	return database.ErrConflict
}

func newConflictingStore(t *testing.T) *conflictingStore {
	t.Helper()

	store := &conflictingStore{MemoryStore: database.NewMemoryStore()}
	owner := "u-2"
	require.NoError(t, store.ReplaceUsers([]models.User{
		{ID: "u-1", Name: "张三", Phone: "13912345678", MaxSelections: 1},
		{ID: "u-2", Name: "李四", Phone: "13987654321", MaxSelections: 2},
	}))
	require.NoError(t, store.ReplaceRooms([]models.Room{
		{ID: "1-1-01", Building: "1", Floor: 1, Number: "101", Area: 92, Status: models.RoomStatusAvailable, Version: 1},
		{ID: "1-1-02", Building: "1", Floor: 1, Number: "102", Area: 94, Status: models.RoomStatusSelected, OwnerID: &owner, Version: 1},
	}))
	return store
}

func TestClaim_SurfacesConflictWhenRetriesExhausted(t *testing.T) {
	store := newConflictingStore(t)
	engine := NewAllocationService(store, nil, testLogger(), 3)

	_, err := engine.Claim("1-1-01", "u-1")
	assert.ErrorIs(t, err, ErrConflict)

	// One initial attempt plus three retries
	assert.Equal(t, 4, store.writes)
}

func TestRelease_SurfacesConflictWhenRetriesExhausted(t *testing.T) {
	store := newConflictingStore(t)
	engine := NewAllocationService(store, nil, testLogger(), 3)

	_, err := engine.Release("1-1-02", "u-2")
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 4, store.writes)
}

func TestRelease_Success(t *testing.T) {
	engine, store, publisher := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	room, err := engine.Release("1-1-01", "u-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusAvailable, room.Status)
	assert.Nil(t, room.OwnerID)
	assert.Equal(t, int64(3), room.Version)

	// Quota frees up again
	_, err = engine.Claim("1-1-02", "u-1")
	require.NoError(t, err)

	assert.Len(t, publisher.all(), 3)
	requireInvariants(t, store)
}

func TestRelease_NotOwner(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	// Another user cannot release it
	_, err = engine.Release("1-1-01", "u-2")
	assert.ErrorIs(t, err, ErrNotOwner)

	// Releasing an available room also fails
	_, err = engine.Release("1-1-02", "u-1")
	assert.ErrorIs(t, err, ErrNotOwner)
}

func TestSetLock_EvictsOccupant(t *testing.T) {
	engine, store, publisher := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	room, err := engine.SetLock("1-1-01", true, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusLocked, room.Status)
	assert.Nil(t, room.OwnerID)

	// The evicted user's quota is freed
	count, err := store.CountOwnedRooms("u-1")
	require.NoError(t, err)
	assert.Equal(t, 0, count)
	_, err = engine.Claim("1-1-02", "u-1")
	require.NoError(t, err)

	events := publisher.all()
	assert.Equal(t, models.RoomStatusLocked, events[1].NewStatus)
	requireInvariants(t, store)
}

func TestSetLock_RequiresAdmin(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.SetLock("1-1-01", true, "u-1")
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestSetLock_NoOpWhenAlreadyInState(t *testing.T) {
	engine, _, publisher := newTestEngine(t)

	// Already locked
	room, err := engine.SetLock("1-2-02", true, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.Version)

	// Already unlocked
	room, err = engine.SetLock("1-1-01", false, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), room.Version)

	assert.Empty(t, publisher.all())
}

func TestSetLock_Unlock(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	room, err := engine.SetLock("1-2-02", false, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusAvailable, room.Status)

	// The unlocked room is claimable again
	_, err = engine.Claim("1-2-02", "u-1")
	require.NoError(t, err)
}

func TestBulkReplaceInventory_Atomicity(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	before, err := store.ListRooms(database.RoomFilter{})
	require.NoError(t, err)

	// One bad row rejects the whole batch
	batch := []models.Room{
		{ID: "2-1-01", Building: "2", Floor: 1, Number: "101", Area: 88, Status: models.RoomStatusAvailable},
		{ID: "2-1-02", Building: "2", Floor: 1, Number: "102", Area: -1, Status: models.RoomStatusAvailable},
	}
	err = engine.BulkReplaceInventory(batch, "admin-1")
	require.Error(t, err)
	assert.True(t, IsValidationError(err))

	after, err := store.ListRooms(database.RoomFilter{})
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed bulk replace must leave the inventory untouched")
}

func TestBulkReplaceInventory_Success(t *testing.T) {
	engine, store, publisher := newTestEngine(t)

	owner := "u-2"
	batch := []models.Room{
		{ID: "2-1-01", Building: "2", Floor: 1, Number: "101", Area: 88, Status: models.RoomStatusAvailable},
		{ID: "2-1-02", Building: "2", Floor: 1, Number: "102", Area: 90, Status: models.RoomStatusSelected, OwnerID: &owner},
	}
	require.NoError(t, engine.BulkReplaceInventory(batch, "admin-1"))

	rooms, err := store.ListRooms(database.RoomFilter{})
	require.NoError(t, err)
	assert.Len(t, rooms, 2)

	events := publisher.all()
	require.Len(t, events, 1)
	assert.Equal(t, models.ChangeEventInventoryReset, events[0].Type)

	requireInvariants(t, store)
}

func TestBulkReplaceInventory_RejectsUnknownOwnerAndOverQuota(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	ghost := "ghost"
	err := engine.BulkReplaceInventory([]models.Room{
		{ID: "2-1-01", Building: "2", Floor: 1, Number: "101", Area: 88, Status: models.RoomStatusSelected, OwnerID: &ghost},
	}, "admin-1")
	assert.True(t, IsValidationError(err))

	// u-1 has quota 1; two selected rooms exceed it
	owner := "u-1"
	err = engine.BulkReplaceInventory([]models.Room{
		{ID: "2-1-01", Building: "2", Floor: 1, Number: "101", Area: 88, Status: models.RoomStatusSelected, OwnerID: &owner},
		{ID: "2-1-02", Building: "2", Floor: 1, Number: "102", Area: 90, Status: models.RoomStatusSelected, OwnerID: &owner},
	}, "admin-1")
	assert.True(t, IsValidationError(err))
}

func TestBulkReplaceInventory_RequiresAdmin(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	err := engine.BulkReplaceInventory([]models.Room{}, "u-1")
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestAddUser(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	user, err := engine.AddUser(models.User{ID: "u-3", Name: "王五", Phone: "13511112222", MaxSelections: 1}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, "u-3", user.ID)

	// Duplicate id is a validation failure
	_, err = engine.AddUser(models.User{ID: "u-3", Name: "王五", MaxSelections: 1}, "admin-1")
	assert.True(t, IsValidationError(err))

	// Non-admin cannot add users
	_, err = engine.AddUser(models.User{ID: "u-4", Name: "赵六", MaxSelections: 1}, "u-1")
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestBulkReplaceUsers_ProtectsSelectedOwners(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	_, err := engine.Claim("1-1-01", "u-1")
	require.NoError(t, err)

	// Dropping u-1 would orphan the selected room
	err = engine.BulkReplaceUsers([]models.User{
		{ID: "admin-1", Name: "系统管理员", IsAdmin: true},
		{ID: "u-2", Name: "李四", MaxSelections: 2},
	}, "admin-1")
	assert.True(t, IsValidationError(err))

	// Shrinking u-1's quota below current holdings is rejected too
	err = engine.BulkReplaceUsers([]models.User{
		{ID: "admin-1", Name: "系统管理员", IsAdmin: true},
		{ID: "u-1", Name: "张三", MaxSelections: 0},
	}, "admin-1")
	assert.True(t, IsValidationError(err))

	// Keeping u-1 works
	err = engine.BulkReplaceUsers([]models.User{
		{ID: "admin-1", Name: "系统管理员", IsAdmin: true},
		{ID: "u-1", Name: "张三", MaxSelections: 1},
	}, "admin-1")
	require.NoError(t, err)
}

func TestRandomAvailable(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	room, err := engine.RandomAvailable()
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusAvailable, room.Status)

	// No available rooms left
	require.NoError(t, store.ReplaceRooms([]models.Room{
		{ID: "1-2-02", Building: "1", Floor: 2, Number: "202", Area: 94, Status: models.RoomStatusLocked, Version: 1},
	}))
	_, err = engine.RandomAvailable()
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSnapshot(t *testing.T) {
	engine, _, _ := newTestEngine(t)

	snapshot, err := engine.Snapshot()
	require.NoError(t, err)
	assert.Len(t, snapshot.Rooms, 4)
	assert.Len(t, snapshot.Users, 3)
}

// TestSalesEventScenario walks a condensed sales day: browsing, claims,
// contention, an admin lock, a release and a re-claim.
func TestSalesEventScenario(t *testing.T) {
	engine, store, _ := newTestEngine(t)

	// u-2 (quota 2) claims two rooms
	_, err := engine.Claim("1-1-01", "u-2")
	require.NoError(t, err)
	_, err = engine.Claim("1-1-02", "u-2")
	require.NoError(t, err)
	_, err = engine.Claim("1-2-01", "u-2")
	assert.ErrorIs(t, err, ErrQuotaExceeded)

	// u-1 loses the race for a taken room, takes another
	_, err = engine.Claim("1-1-01", "u-1")
	assert.ErrorIs(t, err, ErrRoomTaken)
	_, err = engine.Claim("1-2-01", "u-1")
	require.NoError(t, err)

	// Admin pulls u-2's first room from sale
	locked, err := engine.SetLock("1-1-01", true, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusLocked, locked.Status)

	// The eviction freed u-2's quota for another room
	_, err = engine.Claim("1-2-02", "u-2")
	assert.ErrorIs(t, err, ErrRoomLocked)
	released, err := engine.Release("1-1-02", "u-2")
	require.NoError(t, err)
	assert.Equal(t, models.RoomStatusAvailable, released.Status)

	// u-1 cannot touch anyone else's room
	_, err = engine.Release("1-1-01", "u-1")
	assert.ErrorIs(t, err, ErrNotOwner)

	requireInvariants(t, store)
}

func manyUsers(n, quota int) []models.User {
	users := make([]models.User, 0, n+1)
	users = append(users, models.User{ID: "admin-1", Name: "系统管理员", IsAdmin: true})
	for i := 0; i < n; i++ {
		users = append(users, models.User{
			ID:            fmt.Sprintf("u-%03d", i),
			Name:          fmt.Sprintf("客户%d", i),
			MaxSelections: quota,
		})
	}
	return users
}

func manyRooms(n int) []models.Room {
	rooms := make([]models.Room, 0, n)
	for i := 1; i <= n; i++ {
		rooms = append(rooms, models.Room{
			ID:       fmt.Sprintf("1-1-%02d", i),
			Building: "1",
			Floor:    1,
			Number:   fmt.Sprintf("1%02d", i),
			Area:     90,
			Status:   models.RoomStatusAvailable,
			Version:  1,
		})
	}
	return rooms
}
