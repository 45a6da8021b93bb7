package service

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store/memory"
)

type testEnv struct {
	repo     *memory.Store
	catalog  *Catalog
	ledger   *Ledger
	receipts *Receipts
	reports  *Reports
	expenses *Expenses
	ctx      context.Context
}

func newTestEnv() *testEnv {
	repo := memory.New()
	ctx := WithActor(context.Background(), domain.Actor{
		ID:       uuid.New(),
		Username: "admin",
		Role:     "admin",
	})
	return &testEnv{
		repo:     repo,
		catalog:  NewCatalog(repo),
		ledger:   NewLedger(repo, cache.NoopDashboardCache{}),
		receipts: NewReceipts(repo, cache.NoopDashboardCache{}),
		reports:  NewReports(repo, cache.NoopDashboardCache{}, time.Second),
		expenses: NewExpenses(repo, cache.NoopDashboardCache{}),
		ctx:      ctx,
	}
}

func dec(t *testing.T, value string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(value)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", value, err)
	}
	return d
}

func (e *testEnv) createItem(t *testing.T, name string, purchase, selling string, quantity int) domain.StockItem {
	t.Helper()
	item, err := e.catalog.CreateItem(e.ctx, domain.StockCreateRequest{
		Name:          name,
		PurchasePrice: dec(t, purchase),
		SellingPrice:  dec(t, selling),
		Quantity:      quantity,
		ExpiryDate:    time.Now().UTC().AddDate(1, 0, 0),
	})
	if err != nil {
		t.Fatalf("create item %s failed: %v", name, err)
	}
	return item
}

func (e *testEnv) createReceipt(t *testing.T, paid string, lines ...domain.ReceiptLine) domain.Receipt {
	t.Helper()
	receipt, err := e.receipts.CreateReceipt(e.ctx, domain.ReceiptCreateRequest{
		PaymentType: domain.PaymentCash,
		AmountPaid:  dec(t, paid),
		Items:       lines,
	})
	if err != nil {
		t.Fatalf("create receipt failed: %v", err)
	}
	return receipt
}
