package sensitivity

import (
	"time"

	"github.com/google/uuid"
)

// Level grades how tightly access to a resource is controlled.
type Level string

const (
	LevelNormal         Level = "normal"
	LevelRestricted     Level = "restricted"
	LevelVeryRestricted Level = "very-restricted"
)

// Valid reports whether l is a recognized sensitivity level.
func (l Level) Valid() bool {
	switch l {
	case LevelNormal, LevelRestricted, LevelVeryRestricted:
		return true
	}
	return false
}

// Category names the class of clinical information a tag protects.
type Category string

const (
	CategorySubstanceAbuse Category = "substance-abuse"
	CategoryMentalHealth   Category = "mental-health"
	CategoryHIVSTI         Category = "hiv-sti"
	CategoryReproductive   Category = "reproductive"
	CategoryGenetic        Category = "genetic"
	CategoryGeneral        Category = "general"
)

// Valid reports whether c is a recognized category.
func (c Category) Valid() bool {
	switch c {
	case CategorySubstanceAbuse, CategoryMentalHealth, CategoryHIVSTI,
		CategoryReproductive, CategoryGenetic, CategoryGeneral:
		return true
	}
	return false
}

// Tag classifies one clinical resource. Tags are written by clinical
// workflows when a resource is created or reclassified; the access decision
// path only reads them.
type Tag struct {
	ID           uuid.UUID `db:"id" json:"id"`
	ResourceType string    `db:"resource_type" json:"resource_type"`
	ResourceID   string    `db:"resource_id" json:"resource_id"`
	Level        Level     `db:"level" json:"level"`
	Category     Category  `db:"category" json:"category"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
