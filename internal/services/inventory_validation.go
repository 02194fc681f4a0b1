package services

import (
	"fmt"

	"github.com/primeestate/room-selection-backend/internal/models"
)

// validateInventory checks a replacement inventory against the roster and
// returns a normalized copy (versions floored to 1) plus every problem
// found. An empty problem list means the batch is committable.
func validateInventory(rooms []models.Room, roster map[string]models.User) ([]models.Room, []string) {
	problems := []string{}
	normalized := make([]models.Room, 0, len(rooms))

	seenIDs := make(map[string]bool, len(rooms))
	seenNumbers := make(map[string]bool, len(rooms))
	selectedBy := make(map[string]int)

	for i, room := range rooms {
		line := i + 1

		if room.ID == "" {
			problems = append(problems, fmt.Sprintf("room %d: missing id", line))
		} else if seenIDs[room.ID] {
			problems = append(problems, fmt.Sprintf("room %d: duplicate id %q", line, room.ID))
		}
		seenIDs[room.ID] = true

		if room.Building == "" {
			problems = append(problems, fmt.Sprintf("room %d: missing building", line))
		}
		if room.Floor < 1 {
			problems = append(problems, fmt.Sprintf("room %d: floor must be positive", line))
		}
		if room.Number == "" {
			problems = append(problems, fmt.Sprintf("room %d: missing room number", line))
		} else {
			key := fmt.Sprintf("%s|%d|%s", room.Building, room.Floor, room.Number)
			if seenNumbers[key] {
				problems = append(problems, fmt.Sprintf("room %d: duplicate number %q on building %s floor %d", line, room.Number, room.Building, room.Floor))
			}
			seenNumbers[key] = true
		}
		if room.Area <= 0 {
			problems = append(problems, fmt.Sprintf("room %d: area must be positive", line))
		}
		if !room.Status.Valid() {
			problems = append(problems, fmt.Sprintf("room %d: unknown status %q", line, room.Status))
		}

		// SELECTED <=> owner present; LOCKED and AVAILABLE never carry one
		switch {
		case room.Status == models.RoomStatusSelected && room.OwnerID == nil:
			problems = append(problems, fmt.Sprintf("room %d: SELECTED without an owner", line))
		case room.Status != models.RoomStatusSelected && room.OwnerID != nil:
			problems = append(problems, fmt.Sprintf("room %d: owner set on %s room", line, room.Status))
		}

		if room.OwnerID != nil {
			owner, known := roster[*room.OwnerID]
			if !known {
				problems = append(problems, fmt.Sprintf("room %d: owner %q does not exist", line, *room.OwnerID))
			} else if room.Status == models.RoomStatusSelected {
				selectedBy[owner.ID]++
			}
		}

		if room.Version < 1 {
			room.Version = 1
		}
		normalized = append(normalized, room)
	}

	for ownerID, count := range selectedBy {
		owner := roster[ownerID]
		if !owner.IsAdmin && count > owner.MaxSelections {
			problems = append(problems, fmt.Sprintf("user %q would own %d rooms, quota is %d", ownerID, count, owner.MaxSelections))
		}
	}

	return normalized, problems
}

// validateRoster checks a user list for structural problems
func validateRoster(users []models.User) []string {
	problems := []string{}
	seen := make(map[string]bool, len(users))

	for i, user := range users {
		line := i + 1
		if user.ID == "" {
			problems = append(problems, fmt.Sprintf("user %d: missing id", line))
		} else if seen[user.ID] {
			problems = append(problems, fmt.Sprintf("user %d: duplicate id %q", line, user.ID))
		}
		seen[user.ID] = true

		if user.Name == "" {
			problems = append(problems, fmt.Sprintf("user %d: missing name", line))
		}
		if user.MaxSelections < 0 {
			problems = append(problems, fmt.Sprintf("user %d: negative quota", line))
		}
	}

	return problems
}
