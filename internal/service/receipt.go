package service

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// Receipts coordinates multi-line checkouts. A creation request turns into
// one receipt plus one sale line per distinct item, committed atomically: if
// any line cannot be satisfied, no stock moves and nothing is written.
type Receipts struct {
	repo  store.Repository
	cache cache.DashboardCache
}

func NewReceipts(repo store.Repository, dashCache cache.DashboardCache) *Receipts {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	return &Receipts{repo: repo, cache: dashCache}
}

// mergeLines collapses duplicate items by summing their quantities, keeping
// the order in which each item first appears.
func mergeLines(lines []domain.ReceiptLine) []domain.ReceiptLine {
	merged := make([]domain.ReceiptLine, 0, len(lines))
	index := make(map[uuid.UUID]int, len(lines))
	for _, line := range lines {
		if at, exists := index[line.ItemID]; exists {
			merged[at].Quantity += line.Quantity
			continue
		}
		index[line.ItemID] = len(merged)
		merged = append(merged, line)
	}
	return merged
}

func (r *Receipts) CreateReceipt(ctx context.Context, req domain.ReceiptCreateRequest) (domain.Receipt, error) {
	actor, _ := ActorFromContext(ctx)

	if len(req.Items) == 0 {
		return domain.Receipt{}, fmt.Errorf("%w: receipt needs at least one item", store.ErrValidation)
	}
	if req.PaymentType == "" {
		req.PaymentType = domain.PaymentCash
	}
	if !domain.IsSupportedPaymentType(req.PaymentType) {
		return domain.Receipt{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrValidation, req.PaymentType)
	}
	if req.Tax.IsNegative() {
		return domain.Receipt{}, fmt.Errorf("%w: tax must not be negative", store.ErrValidation)
	}
	if req.AmountPaid.IsNegative() {
		return domain.Receipt{}, fmt.Errorf("%w: amount paid must not be negative", store.ErrValidation)
	}

	lines := mergeLines(req.Items)
	for _, line := range lines {
		if line.ItemID == uuid.Nil {
			return domain.Receipt{}, fmt.Errorf("%w: item id is required on every line", store.ErrValidation)
		}
		if line.Quantity < 1 {
			return domain.Receipt{}, fmt.Errorf("%w: line quantity must be at least 1", store.ErrValidation)
		}
	}

	receipt := domain.Receipt{
		Tax:         req.Tax.Round(2),
		AmountPaid:  req.AmountPaid.Round(2),
		PaymentType: req.PaymentType,
		CreatedByID: actor.ID,
	}

	created, err := r.repo.CreateReceiptWithSales(ctx, receipt, lines)
	if err != nil {
		return domain.Receipt{}, err
	}

	log.Printf("[receipt] created id=%s lines=%d total=%s paid=%s", created.ID, len(created.Items), created.TotalCost.StringFixed(2), created.AmountPaid.StringFixed(2))
	dropDashboard(ctx, r.cache, "receipt")
	return *created, nil
}

func (r *Receipts) GetReceipt(ctx context.Context, id uuid.UUID) (domain.Receipt, error) {
	receipt, err := r.repo.GetReceipt(ctx, id)
	if err != nil {
		return domain.Receipt{}, err
	}
	return *receipt, nil
}

func (r *Receipts) ListReceipts(ctx context.Context, query domain.ReceiptListQuery) ([]domain.Receipt, error) {
	if query.Limit < 1 || query.Limit > 500 {
		query.Limit = 100
	}
	if query.Skip < 0 {
		query.Skip = 0
	}
	return r.repo.ListReceipts(ctx, query)
}

// RefundReceipt reverses the whole receipt: every still-active line is
// refunded and its units go back to stock. Lines already refunded
// individually stay as they are. A second refund fails with ErrConflict.
func (r *Receipts) RefundReceipt(ctx context.Context, id uuid.UUID) (domain.Receipt, error) {
	refunded, err := r.repo.RefundReceipt(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.Receipt{}, err
	}

	log.Printf("[receipt] refunded id=%s lines=%d", refunded.ID, len(refunded.Items))
	dropDashboard(ctx, r.cache, "receipt")
	return *refunded, nil
}
