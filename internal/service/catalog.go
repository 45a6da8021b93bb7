package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// Catalog manages the stock catalog: item creation, lookup, updates and
// quantity adjustments. It never sells anything; issuing units against a
// receipt is the receipt coordinator's job.
type Catalog struct {
	repo store.Repository
}

func NewCatalog(repo store.Repository) *Catalog {
	return &Catalog{repo: repo}
}

func (c *Catalog) CreateItem(ctx context.Context, req domain.StockCreateRequest) (domain.StockItem, error) {
	actor, _ := ActorFromContext(ctx)

	req.Name = strings.TrimSpace(req.Name)
	req.Ref = strings.TrimSpace(req.Ref)
	req.Description = strings.TrimSpace(req.Description)

	if req.Name == "" {
		return domain.StockItem{}, fmt.Errorf("%w: name is required", store.ErrValidation)
	}
	if req.Quantity < 0 {
		return domain.StockItem{}, fmt.Errorf("%w: quantity must not be negative", store.ErrValidation)
	}
	if req.ExpiryDate.IsZero() {
		return domain.StockItem{}, fmt.Errorf("%w: expiry date is required", store.ErrValidation)
	}
	if req.PurchasePrice.IsNegative() {
		return domain.StockItem{}, fmt.Errorf("%w: purchase price must not be negative", store.ErrValidation)
	}
	if req.SellingPrice.LessThanOrEqual(req.PurchasePrice) {
		return domain.StockItem{}, fmt.Errorf("%w: selling price must exceed purchase price", store.ErrValidation)
	}

	if req.Ref == "" {
		req.Ref = uuid.NewString()
	}

	item := domain.StockItem{
		Ref:             req.Ref,
		Name:            req.Name,
		Description:     req.Description,
		PurchasePrice:   req.PurchasePrice.Round(2),
		SellingPrice:    req.SellingPrice.Round(2),
		Quantity:        req.Quantity,
		ExpiryDate:      req.ExpiryDate.UTC(),
		TotalIssuesCost: decimal.Zero,
		CreatedByID:     actor.ID,
	}

	created, err := c.repo.CreateStockItem(ctx, item)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *created, nil
}

func (c *Catalog) GetItem(ctx context.Context, id uuid.UUID) (domain.StockItem, error) {
	item, err := c.repo.GetStockItem(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *item, nil
}

// GetItems resolves a batch of ids. A single error names every id that could
// not be found, so a caller submitting many lines learns about all misses at
// once.
func (c *Catalog) GetItems(ctx context.Context, ids []uuid.UUID) ([]domain.StockItem, error) {
	if len(ids) == 0 {
		return []domain.StockItem{}, nil
	}

	found, err := c.repo.GetStockItemsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	missing := make([]uuid.UUID, 0)
	items := make([]domain.StockItem, 0, len(ids))
	for _, id := range ids {
		item, exists := found[id]
		if !exists {
			missing = append(missing, id)
			continue
		}
		items = append(items, item)
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: stock items %v", store.ErrNotFound, missing)
	}
	return items, nil
}

// GetItemByRef looks an item up by its reference code. In silent mode a miss
// returns (nil, nil) instead of ErrNotFound, for barcode-scan flows that probe
// before deciding.
func (c *Catalog) GetItemByRef(ctx context.Context, ref string, silent bool) (*domain.StockItem, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("%w: ref is required", store.ErrValidation)
	}
	item, err := c.repo.GetStockItemByRef(ctx, ref)
	if err != nil {
		if silent && errors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return item, nil
}

func (c *Catalog) ListItems(ctx context.Context, query domain.StockListQuery) ([]domain.StockItem, error) {
	if query.Limit < 1 || query.Limit > 500 {
		query.Limit = 100
	}
	if query.Skip < 0 {
		query.Skip = 0
	}
	return c.repo.ListStockItems(ctx, query)
}

func (c *Catalog) UpdateItem(ctx context.Context, id uuid.UUID, req domain.StockUpdateRequest) (domain.StockItem, error) {
	existing, err := c.repo.GetStockItem(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}

	updated := *existing
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.StockItem{}, fmt.Errorf("%w: name must not be empty", store.ErrValidation)
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.PurchasePrice != nil {
		if req.PurchasePrice.IsNegative() {
			return domain.StockItem{}, fmt.Errorf("%w: purchase price must not be negative", store.ErrValidation)
		}
		updated.PurchasePrice = req.PurchasePrice.Round(2)
	}
	if req.SellingPrice != nil {
		updated.SellingPrice = req.SellingPrice.Round(2)
	}
	if updated.SellingPrice.LessThanOrEqual(updated.PurchasePrice) {
		return domain.StockItem{}, fmt.Errorf("%w: selling price must exceed purchase price", store.ErrValidation)
	}
	if req.ExpiryDate != nil {
		if req.ExpiryDate.IsZero() {
			return domain.StockItem{}, fmt.Errorf("%w: expiry date must not be empty", store.ErrValidation)
		}
		updated.ExpiryDate = req.ExpiryDate.UTC()
	}

	// Price changes do not touch existing ledger lines; every recorded sale
	// keeps the unit cost observed when it was created.
	saved, err := c.repo.UpdateStockItem(ctx, updated)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *saved, nil
}

func (c *Catalog) DeleteItem(ctx context.Context, id uuid.UUID) error {
	return c.repo.SoftDeleteStockItem(ctx, id, time.Now().UTC())
}

// AdjustQuantity applies a manual stock correction (restock, damage
// write-off). A delta that would take the quantity below zero fails with
// ErrInsufficientStock.
func (c *Catalog) AdjustQuantity(ctx context.Context, id uuid.UUID, delta int) (domain.StockItem, error) {
	if delta == 0 {
		return domain.StockItem{}, fmt.Errorf("%w: delta must not be zero", store.ErrValidation)
	}
	adjusted, err := c.repo.AdjustStockQuantity(ctx, id, delta)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *adjusted, nil
}

// RefreshCounters re-derives Issues and TotalIssuesCost from the active sales
// against the item. The stores do this after every mutation already; this is
// the manual recount for operators who suspect drift.
func (c *Catalog) RefreshCounters(ctx context.Context, id uuid.UUID) (domain.StockItem, error) {
	refreshed, err := c.repo.RefreshStockCounters(ctx, id)
	if err != nil {
		return domain.StockItem{}, err
	}
	return *refreshed, nil
}
