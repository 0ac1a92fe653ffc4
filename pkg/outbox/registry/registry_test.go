package registry

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
)

func TestEventRegistryResolveWalletDebit(t *testing.T) {
	reg := NewEventRegistry(config.PubSubConfig{})

	customerID := uuid.New()
	event := models.OutboxEvent{
		EventType:     enums.EventWalletDebit,
		AggregateType: enums.AggregateOrder,
		AggregateID:   "ORD202610170001",
		Payload: mustEnvelope(t, mustMarshal(t, payloads.WalletDebitEffect{
			OrderID:       "ORD202610170001",
			CustomerID:    customerID,
			AmountMinor:   50000,
			PaymentMethod: enums.PaymentMethodCOD,
			OrderTotal:    decimal.RequireFromString("700"),
		})),
	}

	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "" {
		t.Fatalf("wallet debit should not publish, got topic %q", resolved.Descriptor.Topic)
	}
	payload, ok := resolved.Payload.(*payloads.WalletDebitEffect)
	if !ok {
		t.Fatalf("unexpected payload type %T", resolved.Payload)
	}
	if payload.CustomerID != customerID || payload.AmountMinor != 50000 {
		t.Fatalf("payload mismatch %+v", payload)
	}
	if resolved.Envelope.EventID == "" || resolved.Envelope.OccurredAt.IsZero() {
		t.Fatalf("envelope metadata missing")
	}
}

func TestEventRegistryNotificationTopic(t *testing.T) {
	reg := NewEventRegistry(config.PubSubConfig{NotificationTopic: " order-notifications "})
	event := models.OutboxEvent{
		EventType:     enums.EventOrderNotification,
		AggregateType: enums.AggregateOrder,
		AggregateID:   "ORD1",
		Payload:       mustEnvelope(t, []byte(`{"order_id":"ORD1","kind":"order_placed"}`)),
	}
	resolved, err := reg.Resolve(event)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolved.Descriptor.Topic != "order-notifications" {
		t.Fatalf("unexpected topic %q", resolved.Descriptor.Topic)
	}
	if len(reg.Types()) != 4 {
		t.Fatalf("expected four registered effects, got %d", len(reg.Types()))
	}
}

func TestEventRegistryRejectsMalformedRows(t *testing.T) {
	reg := NewEventRegistry(config.PubSubConfig{})
	cases := map[string]models.OutboxEvent{
		"unknown type": {
			EventType:     enums.OutboxEventType("license_expired"),
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD1",
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"aggregate mismatch": {
			EventType:     enums.EventCashbackCredit,
			AggregateType: enums.AggregateWallet,
			AggregateID:   "ORD1",
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"missing aggregate": {
			EventType:     enums.EventCashbackCredit,
			AggregateType: enums.AggregateOrder,
			AggregateID:   " ",
			Payload:       mustEnvelope(t, []byte(`{}`)),
		},
		"null payload": {
			EventType:     enums.EventWalletRefund,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD1",
			Payload:       mustEnvelope(t, []byte("null")),
		},
		"broken envelope": {
			EventType:     enums.EventWalletRefund,
			AggregateType: enums.AggregateOrder,
			AggregateID:   "ORD1",
			Payload:       json.RawMessage(`{"data":`),
		},
	}
	for name, event := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := reg.Resolve(event)
			var nonRetry NonRetryableError
			if !errors.As(err, &nonRetry) {
				t.Fatalf("expected non-retryable error, got %v", err)
			}
		})
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return data
}

func mustEnvelope(t *testing.T, payload []byte) json.RawMessage {
	t.Helper()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Data:       payload,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}
