package cron

import (
	"context"

	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) (bool, error)
}

// systemActor marks outbox rows re-emitted by a sweep rather than a request.
func systemActor(job string) *outbox.ActorRef {
	return &outbox.ActorRef{Role: "system", ID: job}
}
