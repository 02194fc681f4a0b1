package models

// ChangeEventType discriminates broadcast events
type ChangeEventType string

const (
	// ChangeEventRoom carries the committed state of a single room.
	ChangeEventRoom ChangeEventType = "room"
	// ChangeEventInventoryReset signals that the whole inventory was
	// replaced and clients must fetch a fresh snapshot.
	ChangeEventInventoryReset ChangeEventType = "inventory_reset"
)

// RoomChangeEvent is published after every committed mutation.
// Intermediate states may be dropped for slow subscribers; the final
// state is always recoverable through the snapshot endpoint.
type RoomChangeEvent struct {
	Type       ChangeEventType `json:"type"`
	RoomID     string          `json:"room_id,omitempty"`
	NewStatus  RoomStatus      `json:"new_status,omitempty"`
	NewOwnerID *string         `json:"new_owner_id,omitempty"`
	NewVersion int64           `json:"new_version,omitempty"`
}

// RoomChanged builds the event for a committed single-room mutation
func RoomChanged(r *Room) RoomChangeEvent {
	return RoomChangeEvent{
		Type:       ChangeEventRoom,
		RoomID:     r.ID,
		NewStatus:  r.Status,
		NewOwnerID: r.OwnerID,
		NewVersion: r.Version,
	}
}

// InventoryReset builds the event emitted after a bulk replace
func InventoryReset() RoomChangeEvent {
	return RoomChangeEvent{Type: ChangeEventInventoryReset}
}
