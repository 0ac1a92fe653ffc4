package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

// DomainEvent is a side effect to run after the surrounding transaction
// commits. DedupeKey must be stable for the effect, e.g. "wallet_debit:<order>".
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   string
	DedupeKey     string
	Actor         *ActorRef
	Data          interface{}
	Version       int
	OccurredAt    time.Time
}

// DedupeKey builds the conventional key for an effect on an aggregate.
func DedupeKey(eventType enums.OutboxEventType, aggregateID string) string {
	return string(eventType) + ":" + aggregateID
}

type Service struct {
	repo *Repository
	logg *logger.Logger
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	return &Service{repo: repo, logg: logg}
}

// Emit appends the effect inside tx and returns the stored row.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) (*models.OutboxEvent, error) {
	if tx == nil {
		return nil, errors.New("transaction required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if event.DedupeKey == "" {
		event.DedupeKey = DedupeKey(event.EventType, event.AggregateID)
	}
	if event.Version == 0 {
		event.Version = 1
	}
	payload, err := json.Marshal(event.Data)
	if err != nil {
		return nil, err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	envelope := PayloadEnvelope{
		Version:    event.Version,
		EventID:    uuid.NewString(),
		OccurredAt: event.OccurredAt,
		Actor:      event.Actor,
		Data:       payload,
	}
	payloadJSON, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	row := &models.OutboxEvent{
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		DedupeKey:     event.DedupeKey,
		Payload:       json.RawMessage(payloadJSON),
		Status:        enums.OutboxStatusPending,
	}
	if err := s.repo.Insert(tx, row); err != nil {
		return nil, err
	}
	if s.logg != nil {
		fields := map[string]any{
			"event_id":       envelope.EventID,
			"event_type":     event.EventType,
			"aggregate_id":   event.AggregateID,
			"aggregate_type": event.AggregateType,
			"dedupe_key":     event.DedupeKey,
		}
		s.logg.Info(s.logg.WithFields(ctx, fields), "outbox event queued")
	}
	return row, nil
}

// EmitIfNotExists emits unless an effect with the same dedupe key was ever
// recorded. It reports whether a row was written.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) (bool, error) {
	if tx == nil {
		return false, errors.New("transaction required")
	}
	if event.DedupeKey == "" {
		event.DedupeKey = DedupeKey(event.EventType, event.AggregateID)
	}
	exists, err := s.repo.ExistsTx(tx, event.DedupeKey)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	// Savepoint so a lost race on the dedupe key leaves tx usable on Postgres.
	err = tx.Transaction(func(sp *gorm.DB) error {
		_, emitErr := s.Emit(ctx, sp, event)
		return emitErr
	})
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_outbox_events_dedupe") {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *Service) Repository() *Repository {
	return s.repo
}
