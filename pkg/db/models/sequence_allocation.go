package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SequenceAllocation reserves one human-readable identifier. The unique
// identifier column is the authority on collisions.
type SequenceAllocation struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Scope      string    `gorm:"column:scope;not null;uniqueIndex:ux_sequence_allocations_slot,priority:1"`
	DatePart   string    `gorm:"column:date_part;not null;uniqueIndex:ux_sequence_allocations_slot,priority:2"`
	Sequence   int       `gorm:"column:sequence;not null;uniqueIndex:ux_sequence_allocations_slot,priority:3"`
	Identifier string    `gorm:"column:identifier;not null;uniqueIndex:ux_sequence_allocations_identifier"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (s *SequenceAllocation) BeforeCreate(*gorm.DB) error {
	ensureID(&s.ID)
	return nil
}
