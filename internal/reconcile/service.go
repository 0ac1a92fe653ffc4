package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
)

var ErrCaseNotFound = errors.New("reconciliation case not found")

// CaseInput describes a settlement that needs an operator. Subject narrows
// the dedupe key when one order can raise the same kind more than once.
type CaseInput struct {
	Kind             enums.ReconciliationKind
	Subject          string
	OrderID          string
	CustomerID       *uuid.UUID
	GatewayOrderID   string
	GatewayPaymentID string
	AmountMinor      int64
	Details          map[string]string
}

// DedupeKey is kind:subject, falling back to the order, then the payment.
func (in CaseInput) DedupeKey() string {
	subject := strings.TrimSpace(in.Subject)
	if subject == "" {
		subject = in.OrderID
	}
	if subject == "" {
		subject = in.GatewayPaymentID
	}
	if subject == "" {
		subject = in.GatewayOrderID
	}
	return string(in.Kind) + ":" + subject
}

type Service interface {
	// Open records a case once per dedupe key and reports whether it was new.
	Open(ctx context.Context, in CaseInput) (*models.ReconciliationCase, bool, error)
	OpenTx(ctx context.Context, tx *gorm.DB, in CaseInput) (*models.ReconciliationCase, bool, error)
	List(ctx context.Context, status enums.ReconciliationStatus, limit int) ([]models.ReconciliationCase, error)
	Resolve(ctx context.Context, id uuid.UUID, note string) error
}

type service struct {
	repo Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo Repository, logg *logger.Logger) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("reconciliation repository required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, logg: logg, now: time.Now}, nil
}

func (s *service) Open(ctx context.Context, in CaseInput) (*models.ReconciliationCase, bool, error) {
	return s.open(ctx, s.repo, in)
}

func (s *service) OpenTx(ctx context.Context, tx *gorm.DB, in CaseInput) (*models.ReconciliationCase, bool, error) {
	return s.open(ctx, s.repo.WithTx(tx), in)
}

func (s *service) open(ctx context.Context, repo Repository, in CaseInput) (*models.ReconciliationCase, bool, error) {
	if !in.Kind.IsValid() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid reconciliation kind %q", in.Kind))
	}
	key := in.DedupeKey()
	if existing, err := repo.FindByDedupeKey(ctx, key); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup reconciliation case")
	}

	c := &models.ReconciliationCase{
		Kind:        in.Kind,
		DedupeKey:   key,
		CustomerID:  in.CustomerID,
		AmountMinor: in.AmountMinor,
		Details:     models.CaseDetails(in.Details),
		Status:      enums.ReconciliationOpen,
	}
	c.OrderID = optional(in.OrderID)
	c.GatewayOrderID = optional(in.GatewayOrderID)
	c.GatewayPaymentID = optional(in.GatewayPaymentID)

	if err := repo.Create(ctx, c); err != nil {
		if db.IsUniqueViolation(err, "ux_reconciliation_cases_dedupe") {
			existing, findErr := repo.FindByDedupeKey(ctx, key)
			if findErr != nil {
				return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, findErr, "reload reconciliation case")
			}
			return existing, false, nil
		}
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create reconciliation case")
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"case_id":    c.ID.String(),
		"case_kind":  string(c.Kind),
		"dedupe_key": key,
		"order_id":   in.OrderID,
	})
	s.logg.Warn(logCtx, "reconciliation case opened")
	return c, true, nil
}

func (s *service) List(ctx context.Context, status enums.ReconciliationStatus, limit int) ([]models.ReconciliationCase, error) {
	if status != "" && status != enums.ReconciliationOpen && status != enums.ReconciliationResolved {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid case status")
	}
	rows, err := s.repo.List(ctx, status, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list reconciliation cases")
	}
	return rows, nil
}

func (s *service) Resolve(ctx context.Context, id uuid.UUID, note string) error {
	ok, err := s.repo.Resolve(ctx, id, strings.TrimSpace(note), s.now())
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrCaseNotFound, "reconciliation case not found")
		}
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve reconciliation case")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeConflict, "reconciliation case already resolved")
	}
	return nil
}

func optional(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
