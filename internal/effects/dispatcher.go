package effects

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/ledger"
	"github.com/angelmondragon/greenbasket-backend/internal/reconcile"
	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/metrics"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/payloads"
	"github.com/angelmondragon/greenbasket-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize   = 50
	defaultMaxAttempts = 10
	defaultLease       = 30 * time.Second
	defaultRetryBase   = 2 * time.Second
	defaultRetryMax    = 10 * time.Minute
)

var (
	// ErrEffectBusy means another worker holds the effect's lease.
	ErrEffectBusy = errors.New("effect is being processed elsewhere")
	// ErrEffectFailed means the effect already exhausted its attempts.
	ErrEffectFailed = errors.New("effect failed permanently")
)

// Handler applies one decoded effect. Handlers must be idempotent: a row may
// be delivered again after a lease expires.
type Handler interface {
	Handle(ctx context.Context, event models.OutboxEvent, payload any) error
}

type HandlerFunc func(ctx context.Context, event models.OutboxEvent, payload any) error

func (f HandlerFunc) Handle(ctx context.Context, event models.OutboxEvent, payload any) error {
	return f(ctx, event, payload)
}

type claimRepository interface {
	Claim(ctx context.Context, workerID string, limit int, lease time.Duration, now time.Time) ([]models.OutboxEvent, error)
	ClaimByDedupeKey(ctx context.Context, workerID, dedupeKey string, lease time.Duration, now time.Time) (*models.OutboxEvent, bool, error)
	MarkDone(ctx context.Context, id uuid.UUID, workerID string) error
	MarkRetry(ctx context.Context, id uuid.UUID, workerID string, cause error, availableAt time.Time) error
	MarkTerminal(ctx context.Context, id uuid.UUID, workerID string, cause error) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type caseOpener interface {
	Open(ctx context.Context, in reconcile.CaseInput) (*models.ReconciliationCase, bool, error)
}

type Params struct {
	Repository  claimRepository
	Registry    resolver
	Cases       caseOpener
	Handlers    map[enums.OutboxEventType]Handler
	Logger      *logger.Logger
	Metrics     *metrics.SettlementMetrics
	WorkerID    string
	BatchSize   int
	MaxAttempts int
	Lease       time.Duration
	RetryBase   time.Duration
	RetryMax    time.Duration
	Now         func() time.Time
}

// ApplyConfig copies the outbox tuning knobs onto p.
func (p *Params) ApplyConfig(cfg config.OutboxConfig) {
	p.BatchSize = cfg.BatchSize
	p.MaxAttempts = cfg.MaxAttempts
	p.Lease = cfg.LeaseDuration
}

// Dispatcher drains the effects outbox. The worker calls ProcessBatch in a
// loop; settlement calls DispatchOne to run an effect inline.
type Dispatcher struct {
	repo        claimRepository
	registry    resolver
	cases       caseOpener
	handlers    map[enums.OutboxEventType]Handler
	logg        *logger.Logger
	metrics     *metrics.SettlementMetrics
	workerID    string
	batchSize   int
	maxAttempts int
	lease       time.Duration
	retryBase   time.Duration
	retryMax    time.Duration
	now         func() time.Time
}

func NewDispatcher(p Params) (*Dispatcher, error) {
	if p.Repository == nil {
		return nil, errors.New("outbox repository is required")
	}
	if p.Registry == nil {
		return nil, errors.New("event registry is required")
	}
	if p.Cases == nil {
		return nil, errors.New("reconciliation service is required")
	}
	if p.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if len(p.Handlers) == 0 {
		return nil, errors.New("at least one handler is required")
	}
	if p.WorkerID == "" {
		return nil, errors.New("worker id is required")
	}

	d := &Dispatcher{
		repo:        p.Repository,
		registry:    p.Registry,
		cases:       p.Cases,
		handlers:    p.Handlers,
		logg:        p.Logger,
		metrics:     p.Metrics,
		workerID:    p.WorkerID,
		batchSize:   p.BatchSize,
		maxAttempts: p.MaxAttempts,
		lease:       p.Lease,
		retryBase:   p.RetryBase,
		retryMax:    p.RetryMax,
		now:         p.Now,
	}
	if d.batchSize <= 0 {
		d.batchSize = defaultBatchSize
	}
	if d.maxAttempts <= 0 {
		d.maxAttempts = defaultMaxAttempts
	}
	if d.lease <= 0 {
		d.lease = defaultLease
	}
	if d.retryBase <= 0 {
		d.retryBase = defaultRetryBase
	}
	if d.retryMax <= 0 {
		d.retryMax = defaultRetryMax
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// ProcessBatch claims and dispatches one batch. It returns how many rows were
// claimed; handler failures are recorded on the rows, not returned.
func (d *Dispatcher) ProcessBatch(ctx context.Context) (int, error) {
	rows, err := d.repo.Claim(ctx, d.workerID, d.batchSize, d.lease, d.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}
	var errs error
	for _, row := range rows {
		if _, err := d.dispatch(ctx, row); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return len(rows), errs
}

// DispatchOne runs the effect with dedupeKey now and returns the handler's
// error. An effect already done returns nil.
func (d *Dispatcher) DispatchOne(ctx context.Context, dedupeKey string) error {
	row, claimed, err := d.repo.ClaimByDedupeKey(ctx, d.workerID, dedupeKey, d.lease, d.now().UTC())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.New(pkgerrors.CodeNotFound, "effect not found").WithDetails(map[string]any{"dedupe_key": dedupeKey})
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim effect")
	}
	if !claimed {
		switch row.Status {
		case enums.OutboxStatusDone:
			return nil
		case enums.OutboxStatusFailed:
			return ErrEffectFailed
		default:
			return ErrEffectBusy
		}
	}

	handlerErr, err := d.dispatch(ctx, *row)
	if err != nil {
		return err
	}
	return handlerErr
}

// dispatch runs one claimed row. handlerErr is the effect's own outcome; err
// is a failure to record that outcome on the row.
func (d *Dispatcher) dispatch(ctx context.Context, row models.OutboxEvent) (handlerErr error, err error) {
	ctx = d.logg.WithFields(ctx, map[string]any{
		"event_id":   row.ID.String(),
		"event_type": string(row.EventType),
		"dedupe_key": row.DedupeKey,
		"order_id":   row.AggregateID,
		"attempt":    row.AttemptCount + 1,
	})

	resolved, rerr := d.registry.Resolve(row)
	if rerr != nil {
		return rerr, d.fail(ctx, row, nil, rerr)
	}
	handler, ok := d.handlers[row.EventType]
	if !ok {
		missing := registry.NewNonRetryableError(fmt.Errorf("no handler for %s", row.EventType))
		return missing, d.fail(ctx, row, resolved, missing)
	}

	if herr := handler.Handle(ctx, row, resolved.Payload); herr != nil {
		return herr, d.fail(ctx, row, resolved, herr)
	}

	if err = d.repo.MarkDone(ctx, row.ID, d.workerID); err != nil {
		if errors.Is(err, outbox.ErrLeaseLost) {
			d.logg.Warn(ctx, "effect applied but lease was lost")
			return nil, nil
		}
		return nil, fmt.Errorf("mark effect %s done: %w", row.ID, err)
	}
	d.metrics.IncEffect(string(row.EventType), "success")
	d.logg.Info(ctx, "effect applied")
	return nil, nil
}

func (d *Dispatcher) fail(ctx context.Context, row models.OutboxEvent, resolved *registry.ResolvedEvent, cause error) error {
	attempt := row.AttemptCount + 1
	ctx = d.logg.WithField(ctx, "error", cause.Error())

	if !isTerminal(cause) && attempt < d.maxAttempts {
		at := d.now().UTC().Add(d.backoff(attempt))
		if err := d.repo.MarkRetry(ctx, row.ID, d.workerID, cause, at); err != nil && !errors.Is(err, outbox.ErrLeaseLost) {
			return fmt.Errorf("schedule retry for %s: %w", row.ID, err)
		}
		d.metrics.IncEffect(string(row.EventType), "retry")
		d.logg.Warn(d.logg.WithField(ctx, "retry_at", at), "effect failed, retry scheduled")
		return nil
	}

	if err := d.repo.MarkTerminal(ctx, row.ID, d.workerID, cause); err != nil && !errors.Is(err, outbox.ErrLeaseLost) {
		return fmt.Errorf("mark effect %s terminal: %w", row.ID, err)
	}
	d.metrics.IncEffect(string(row.EventType), "terminal")
	d.logg.Error(ctx, "effect will not be retried", cause)

	if _, _, err := d.cases.Open(ctx, caseFor(row, resolved, cause, attempt)); err != nil {
		return fmt.Errorf("open reconciliation case for %s: %w", row.ID, err)
	}
	return nil
}

func (d *Dispatcher) backoff(attempt int) time.Duration {
	delay := d.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= d.retryMax {
			return d.retryMax
		}
	}
	return delay
}

func isTerminal(err error) bool {
	var nonRetry registry.NonRetryableError
	return errors.As(err, &nonRetry)
}

// caseFor files a failed wallet debit under the order so it matches the
// case settlement opens for the same order.
func caseFor(row models.OutboxEvent, resolved *registry.ResolvedEvent, cause error, attempts int) reconcile.CaseInput {
	in := reconcile.CaseInput{
		Kind:    enums.ReconcileEffectExhausted,
		Subject: row.DedupeKey,
		OrderID: row.AggregateID,
		Details: map[string]string{
			"event_type": string(row.EventType),
			"dedupe_key": row.DedupeKey,
			"attempts":   fmt.Sprint(attempts),
			"error":      cause.Error(),
		},
	}
	if resolved != nil {
		switch p := resolved.Payload.(type) {
		case *payloads.WalletDebitEffect:
			in.CustomerID = &p.CustomerID
			in.AmountMinor = p.AmountMinor
		case *payloads.CashbackCreditEffect:
			in.CustomerID = &p.CustomerID
			in.AmountMinor = p.AmountMinor
		}
	}
	if row.EventType == enums.EventWalletDebit &&
		(errors.Is(cause, ledger.ErrInsufficientBalance) || errors.Is(cause, ledger.ErrWalletInactive)) {
		in.Kind = enums.ReconcileWalletDebitFailed
		in.Subject = ""
	}
	return in
}
