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

// Ledger owns the sale lines: recording single sales against an existing
// receipt, listing them and refunding them. A sale snapshots the item's
// selling price when it is written and keeps that cost forever.
type Ledger struct {
	repo  store.Repository
	cache cache.DashboardCache
}

func NewLedger(repo store.Repository, dashCache cache.DashboardCache) *Ledger {
	if dashCache == nil {
		dashCache = cache.NoopDashboardCache{}
	}
	return &Ledger{repo: repo, cache: dashCache}
}

// RecordSale appends one line to an existing receipt. The receipt's stored
// totals are not rewritten; they reflect the moment the receipt was created.
func (l *Ledger) RecordSale(ctx context.Context, receiptID uuid.UUID, line domain.ReceiptLine, paymentType string) (domain.Sale, error) {
	actor, _ := ActorFromContext(ctx)

	if line.ItemID == uuid.Nil {
		return domain.Sale{}, fmt.Errorf("%w: item id is required", store.ErrValidation)
	}
	if line.Quantity < 1 {
		return domain.Sale{}, fmt.Errorf("%w: quantity must be at least 1", store.ErrValidation)
	}
	if paymentType == "" {
		paymentType = domain.PaymentCash
	}
	if !domain.IsSupportedPaymentType(paymentType) {
		return domain.Sale{}, fmt.Errorf("%w: unsupported payment type %q", store.ErrValidation, paymentType)
	}

	sale := domain.Sale{
		ItemID:      line.ItemID,
		ReceiptID:   receiptID,
		Quantity:    line.Quantity,
		PaymentType: paymentType,
		CreatedByID: actor.ID,
	}

	created, err := l.repo.CreateSale(ctx, sale)
	if err != nil {
		return domain.Sale{}, err
	}

	log.Printf("[ledger] sale recorded id=%s item=%s qty=%d cost=%s", created.ID, created.ItemID, created.Quantity, created.Cost.StringFixed(2))
	dropDashboard(ctx, l.cache, "ledger")
	return *created, nil
}

func (l *Ledger) GetSale(ctx context.Context, id uuid.UUID) (domain.Sale, error) {
	sale, err := l.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (l *Ledger) ListSales(ctx context.Context, query domain.SaleListQuery) ([]domain.Sale, error) {
	if query.Limit < 1 || query.Limit > 500 {
		query.Limit = 100
	}
	if query.Skip < 0 {
		query.Skip = 0
	}
	return l.repo.ListSales(ctx, query)
}

// RefundSale reverses one ledger line: the units return to stock and the line
// stops counting toward any aggregate. Refunding the same line twice fails
// with ErrConflict.
func (l *Ledger) RefundSale(ctx context.Context, id uuid.UUID) (domain.Sale, error) {
	refunded, err := l.repo.RefundSale(ctx, id, time.Now().UTC())
	if err != nil {
		return domain.Sale{}, err
	}

	log.Printf("[ledger] sale refunded id=%s item=%s qty=%d", refunded.ID, refunded.ItemID, refunded.Quantity)
	dropDashboard(ctx, l.cache, "ledger")
	return *refunded, nil
}
