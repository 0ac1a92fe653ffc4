package models

import (
	"github.com/google/uuid"
)

// ensureID assigns a random UUID when the primary key is unset. Postgres also
// defaults the column, but SQLite (dev mode and tests) has no generator.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
