package services

import (
	"fmt"
	"math"

	"github.com/primeestate/room-selection-backend/internal/models"
)

// GeneratorService builds fresh room inventories. Generated rooms are
// always AVAILABLE with no owner; committing them goes through the
// allocation engine's bulk replace.
type GeneratorService struct{}

// NewGeneratorService creates a GeneratorService
func NewGeneratorService() *GeneratorService {
	return &GeneratorService{}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func newAvailableRoom(id, building string, floor, unit int, area float64) models.Room {
	return models.Room{
		ID:       id,
		Building: building,
		Floor:    floor,
		Number:   fmt.Sprintf("%d%02d", floor, unit),
		Area:     round2(area),
		Status:   models.RoomStatusAvailable,
		Version:  1,
	}
}

// Generate builds a uniform grid of buildings, floors and units. Area
// varies per unit and floor the way the sales sheets expect: base ±5 by
// unit parity plus half a square meter per floor.
func (g *GeneratorService) Generate(cfg models.GenerateConfig) []models.Room {
	rooms := make([]models.Room, 0, cfg.BuildingCount*cfg.FloorsPerBuilding*cfg.RoomsPerFloor)

	for b := 1; b <= cfg.BuildingCount; b++ {
		building := fmt.Sprintf("%s%d", cfg.BuildingPrefix, b)
		for floor := 1; floor <= cfg.FloorsPerBuilding; floor++ {
			for unit := 1; unit <= cfg.RoomsPerFloor; unit++ {
				variance := float64(floor) * 0.5
				if unit%2 == 0 {
					variance += 5
				} else {
					variance -= 5
				}
				id := fmt.Sprintf("%s%d-%d-%02d", cfg.BuildingPrefix, b, floor, unit)
				rooms = append(rooms, newAvailableRoom(id, building, floor, unit, cfg.BaseArea+variance))
			}
		}
	}
	return rooms
}

// GeneratePreset builds the fixed launch-project layout: buildings 1-3
// with 34 floors of 6 units each, building 4 with 34 floors of 20
// smaller units.
func (g *GeneratorService) GeneratePreset() []models.Room {
	rooms := make([]models.Room, 0, 3*34*6+34*20)

	for b := 1; b <= 3; b++ {
		building := fmt.Sprintf("%d", b)
		for floor := 1; floor <= 34; floor++ {
			for unit := 1; unit <= 6; unit++ {
				id := fmt.Sprintf("%d-%d-%02d", b, floor, unit)
				rooms = append(rooms, newAvailableRoom(id, building, floor, unit, 90+float64(unit)*2))
			}
		}
	}

	for floor := 1; floor <= 34; floor++ {
		for unit := 1; unit <= 20; unit++ {
			id := fmt.Sprintf("4-%d-%02d", floor, unit)
			rooms = append(rooms, newAvailableRoom(id, "4", floor, unit, 50+float64(unit)*1.5))
		}
	}

	return rooms
}
