package inventory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/greenbasket-backend/internal/pricing"
	"github.com/angelmondragon/greenbasket-backend/pkg/db/models"
	"github.com/angelmondragon/greenbasket-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/greenbasket-backend/pkg/errors"
)

var (
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrItemNotFound      = errors.New("catalog item not found")
	ErrBasketNotFound    = errors.New("basket not found")
)

// Direction is the sign of a stock mutation.
type Direction string

const (
	Deduct  Direction = "deduct"
	Restore Direction = "restore"
)

// StockChange is a quantity in the item's stock unit: grams for weight mode,
// units for piece mode. Mode pins the unit the quantity was measured in; when
// empty the item's current mode is used.
type StockChange struct {
	ItemID   uuid.UUID
	Quantity int64
	Mode     enums.PricingMode
}

// CartLine is an unresolved cart line as submitted by a client.
type CartLine struct {
	ItemID   uuid.UUID `json:"item_id" validate:"required"`
	Selector string    `json:"selector" validate:"required"`
	Quantity int       `json:"quantity" validate:"required,min=1"`
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service is the catalog and stock collaborator.
type Service interface {
	ResolveLines(ctx context.Context, lines []CartLine) ([]pricing.LineInput, error)
	ResolveBasket(ctx context.Context, basketID uuid.UUID, quantity int) (*pricing.BasketInput, []pricing.LineInput, error)
	StockChanges(lines []pricing.LineInput) ([]StockChange, error)
	Reserve(ctx context.Context, changes []StockChange, direction Direction) error
	ReserveTx(ctx context.Context, tx *gorm.DB, changes []StockChange, direction Direction) error
}

type service struct {
	tx   txRunner
	repo Repository
}

func NewService(tx txRunner, repo Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("inventory repository required")
	}
	return &service{tx: tx, repo: repo}, nil
}

func (s *service) ResolveLines(ctx context.Context, lines []CartLine) ([]pricing.LineInput, error) {
	ids := make([]uuid.UUID, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	byID, err := s.loadItems(ctx, s.repo, ids)
	if err != nil {
		return nil, err
	}
	out := make([]pricing.LineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, pricing.LineInput{Item: byID[line.ItemID], Selector: line.Selector, Quantity: line.Quantity})
	}
	return out, nil
}

// ResolveBasket loads a basket and its components. The component lines are
// used for stock only; the basket is priced as a whole.
func (s *service) ResolveBasket(ctx context.Context, basketID uuid.UUID, quantity int) (*pricing.BasketInput, []pricing.LineInput, error) {
	basket, err := s.repo.FindBasket(ctx, basketID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrBasketNotFound, "basket not found")
		}
		return nil, nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load basket")
	}
	ids := make([]uuid.UUID, 0, len(basket.Components))
	for _, c := range basket.Components {
		ids = append(ids, c.ItemID)
	}
	byID, err := s.loadItems(ctx, s.repo, ids)
	if err != nil {
		return nil, nil, err
	}
	components := make([]pricing.LineInput, 0, len(basket.Components))
	for _, c := range basket.Components {
		components = append(components, pricing.LineInput{
			Item:     byID[c.ItemID],
			Selector: c.Selector,
			Quantity: c.Quantity * quantity,
		})
	}
	return &pricing.BasketInput{Basket: *basket, Quantity: quantity}, components, nil
}

// StockChanges converts priced lines into per-item stock quantities, merging
// repeated items.
func (s *service) StockChanges(lines []pricing.LineInput) ([]StockChange, error) {
	totals := map[uuid.UUID]int64{}
	modes := map[uuid.UUID]enums.PricingMode{}
	for _, line := range lines {
		opt, ok := line.Item.PriceOptions.Find(line.Selector)
		if !ok {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, pricing.ErrInvalidSelector, "unknown price selector").
				WithDetails(map[string]any{"item_id": line.Item.ID.String(), "selector": line.Selector})
		}
		per := opt.Units
		if line.Item.PricingMode == enums.PricingModeWeight {
			per = opt.Grams
		}
		if per <= 0 {
			per = 1
		}
		totals[line.Item.ID] += per * int64(line.Quantity)
		modes[line.Item.ID] = line.Item.PricingMode
	}
	changes := make([]StockChange, 0, len(totals))
	for id, qty := range totals {
		changes = append(changes, StockChange{ItemID: id, Quantity: qty, Mode: modes[id]})
	}
	sortChanges(changes)
	return changes, nil
}

func (s *service) Reserve(ctx context.Context, changes []StockChange, direction Direction) error {
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		return s.ReserveTx(ctx, tx, changes, direction)
	})
}

// ReserveTx applies the whole batch inside tx or none of it. A deduction that
// loses a concurrent race aborts with ErrInsufficientStock.
func (s *service) ReserveTx(ctx context.Context, tx *gorm.DB, changes []StockChange, direction Direction) error {
	if direction != Deduct && direction != Restore {
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid stock direction %q", direction))
	}
	merged := mergeChanges(changes)
	if len(merged) == 0 {
		return nil
	}
	for _, c := range merged {
		if c.Quantity <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "stock quantity must be positive").
				WithDetails(map[string]any{"item_id": c.ItemID.String()})
		}
	}

	repo := s.repo.WithTx(tx)
	ids := make([]uuid.UUID, 0, len(merged))
	for _, c := range merged {
		ids = append(ids, c.ItemID)
	}
	byID, err := s.loadItems(ctx, repo, ids)
	if err != nil {
		return err
	}

	if direction == Restore {
		for _, c := range merged {
			item := byID[c.ItemID]
			if c.Mode != "" {
				item.PricingMode = c.Mode
			}
			if err := repo.Restore(ctx, item, c.Quantity); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "restore stock")
			}
		}
		return nil
	}

	for _, c := range merged {
		item := byID[c.ItemID]
		if available := stockOf(item); available < c.Quantity {
			return insufficient(item, c.Quantity, available)
		}
	}
	for _, c := range merged {
		item := byID[c.ItemID]
		ok, err := repo.Deduct(ctx, item, c.Quantity)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deduct stock")
		}
		if !ok {
			return insufficient(item, c.Quantity, -1)
		}
	}
	return nil
}

func (s *service) loadItems(ctx context.Context, repo Repository, ids []uuid.UUID) (map[uuid.UUID]models.CatalogItem, error) {
	items, err := repo.FindItems(ctx, distinct(ids))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load catalog items")
	}
	byID := make(map[uuid.UUID]models.CatalogItem, len(items))
	for _, item := range items {
		byID[item.ID] = item
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, pkgerrors.Wrap(pkgerrors.CodeNotFound, ErrItemNotFound, "catalog item not found").
				WithDetails(map[string]any{"item_id": id.String()})
		}
	}
	return byID, nil
}

func stockOf(item models.CatalogItem) int64 {
	if item.PricingMode == enums.PricingModeWeight {
		return item.StockGrams
	}
	return item.StockUnits
}

// insufficient builds the rejection; available < 0 means a concurrent writer
// drained the item after validation.
func insufficient(item models.CatalogItem, requested, available int64) error {
	details := map[string]any{
		"reason":    "insufficient_stock",
		"item_id":   item.ID.String(),
		"name":      item.Name,
		"requested": requested,
	}
	if available >= 0 {
		details["available"] = available
	}
	return pkgerrors.Wrap(pkgerrors.CodeBusinessRule, ErrInsufficientStock, fmt.Sprintf("insufficient stock for %s", item.Name)).
		WithDetails(details)
}

func mergeChanges(changes []StockChange) []StockChange {
	totals := map[uuid.UUID]int64{}
	modes := map[uuid.UUID]enums.PricingMode{}
	order := []uuid.UUID{}
	for _, c := range changes {
		if _, seen := totals[c.ItemID]; !seen {
			order = append(order, c.ItemID)
		}
		totals[c.ItemID] += c.Quantity
		if c.Mode != "" {
			modes[c.ItemID] = c.Mode
		}
	}
	out := make([]StockChange, 0, len(order))
	for _, id := range order {
		out = append(out, StockChange{ItemID: id, Quantity: totals[id], Mode: modes[id]})
	}
	sortChanges(out)
	return out
}

// sortChanges orders updates by id so concurrent batches lock rows in the
// same order.
func sortChanges(changes []StockChange) {
	sort.Slice(changes, func(i, j int) bool {
		return changes[i].ItemID.String() < changes[j].ItemID.String()
	})
}

func distinct(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
