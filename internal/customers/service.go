package customers

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

var ErrCustomerNotFound = errors.New("customer not found")

// ResolveInput identifies a customer by phone; the name and email are kept
// current on every order.
type ResolveInput struct {
	Name  string  `json:"name" validate:"required,max=120"`
	Phone string  `json:"phone" validate:"required,min=10,max=15"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

type Service interface {
	Resolve(ctx context.Context, input ResolveInput) (*models.Customer, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	CompletedOrders(ctx context.Context, id uuid.UUID) (int, error)
}

type service struct {
	repo Repository
}

func NewService(repo Repository) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("customer repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Resolve(ctx context.Context, input ResolveInput) (*models.Customer, error) {
	phone := normalizePhone(input.Phone)
	name := strings.TrimSpace(input.Name)
	if phone == "" || name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer name and phone are required")
	}

	existing, err := s.repo.FindByPhone(ctx, phone)
	switch {
	case err == nil:
		if existing.Name != name || (input.Email != nil && !sameEmail(existing.Email, input.Email)) {
			if err := s.repo.UpdateContact(ctx, existing.ID, name, input.Email); err != nil {
				return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "update customer")
			}
			existing.Name = name
			if input.Email != nil {
				existing.Email = input.Email
			}
		}
		return existing, nil
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
	}

	customer := &models.Customer{Name: name, Phone: phone, Email: input.Email}
	if err := s.repo.Create(ctx, customer); err != nil {
		if db.IsUniqueViolation(err, "ux_customers_phone") {
			return s.repo.FindByPhone(ctx, phone)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create customer")
	}
	return customer, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrCustomerNotFound, "customer not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load customer")
	}
	return customer, nil
}

func (s *service) CompletedOrders(ctx context.Context, id uuid.UUID) (int, error) {
	count, err := s.repo.CountCompletedOrders(ctx, id)
	if err != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "count completed orders")
	}
	return count, nil
}

func normalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if (r >= '0' && r <= '9') || (r == '+' && b.Len() == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sameEmail(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return strings.EqualFold(*a, *b)
}
