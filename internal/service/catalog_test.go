package service

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func TestCreateItemGeneratesRef(t *testing.T) {
	env := newTestEnv()

	item := env.createItem(t, "Paracetamol 500mg", "2.50", "4.00", 100)
	if item.Ref == "" {
		t.Fatalf("expected generated ref")
	}
	if item.Quantity != 100 {
		t.Fatalf("expected quantity 100, got %d", item.Quantity)
	}

	byRef, err := env.catalog.GetItemByRef(env.ctx, item.Ref, false)
	if err != nil {
		t.Fatalf("lookup by ref failed: %v", err)
	}
	if byRef.ID != item.ID {
		t.Fatalf("ref lookup returned wrong item")
	}
}

func TestGetItemByRefSilentMode(t *testing.T) {
	env := newTestEnv()

	if _, err := env.catalog.GetItemByRef(env.ctx, "no-such-ref", false); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	item, err := env.catalog.GetItemByRef(env.ctx, "no-such-ref", true)
	if err != nil {
		t.Fatalf("silent lookup must not error on a miss, got %v", err)
	}
	if item != nil {
		t.Fatalf("silent miss must return nil, got %+v", item)
	}
}

func TestGetItemsNamesAllMissingIDs(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Known", "1.00", "2.00", 5)

	missingA := uuid.New()
	missingB := uuid.New()

	_, err := env.catalog.GetItems(env.ctx, []uuid.UUID{item.ID, missingA, missingB})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	for _, id := range []uuid.UUID{missingA, missingB} {
		if !strings.Contains(err.Error(), id.String()) {
			t.Fatalf("expected error to name missing id %s, got %q", id, err)
		}
	}

	items, err := env.catalog.GetItems(env.ctx, []uuid.UUID{item.ID})
	if err != nil {
		t.Fatalf("batch fetch failed: %v", err)
	}
	if len(items) != 1 || items[0].ID != item.ID {
		t.Fatalf("expected the known item back")
	}
}

func TestCreateItemRejectsBadPrices(t *testing.T) {
	env := newTestEnv()

	_, err := env.catalog.CreateItem(env.ctx, domain.StockCreateRequest{
		Name:          "Broken",
		PurchasePrice: dec(t, "5.00"),
		SellingPrice:  dec(t, "5.00"),
		Quantity:      10,
		ExpiryDate:    time.Now().UTC().AddDate(1, 0, 0),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for selling <= purchase, got %v", err)
	}

	_, err = env.catalog.CreateItem(env.ctx, domain.StockCreateRequest{
		Name:          "Negative",
		PurchasePrice: dec(t, "2.00"),
		SellingPrice:  dec(t, "3.00"),
		Quantity:      -1,
		ExpiryDate:    time.Now().UTC().AddDate(1, 0, 0),
	})
	if !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for negative quantity, got %v", err)
	}
}

func TestRefreshCountersMatchesLedger(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Item", "1.00", "2.00", 10)
	env.createReceipt(t, "6.00", domain.ReceiptLine{ItemID: item.ID, Quantity: 3})

	refreshed, err := env.catalog.RefreshCounters(env.ctx, item.ID)
	if err != nil {
		t.Fatalf("recount failed: %v", err)
	}
	if refreshed.Issues != 1 {
		t.Fatalf("expected 1 issue, got %d", refreshed.Issues)
	}
	if !refreshed.TotalIssuesCost.Equal(dec(t, "6.00")) {
		t.Fatalf("expected issues cost 6.00, got %s", refreshed.TotalIssuesCost)
	}
}

func TestCreateItemRejectsDuplicateRef(t *testing.T) {
	env := newTestEnv()

	req := domain.StockCreateRequest{
		Ref:           "fixed-ref",
		Name:          "First",
		PurchasePrice: dec(t, "1.00"),
		SellingPrice:  dec(t, "2.00"),
		Quantity:      5,
		ExpiryDate:    time.Now().UTC().AddDate(1, 0, 0),
	}
	if _, err := env.catalog.CreateItem(env.ctx, req); err != nil {
		t.Fatalf("first create failed: %v", err)
	}

	req.Name = "Second"
	if _, err := env.catalog.CreateItem(env.ctx, req); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("expected validation error for duplicate ref, got %v", err)
	}
}

func TestUpdateItemDoesNotTouchQuantity(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Ibuprofen", "3.00", "5.00", 40)

	newName := "Ibuprofen 200mg"
	newSelling := dec(t, "6.50")
	updated, err := env.catalog.UpdateItem(env.ctx, item.ID, domain.StockUpdateRequest{
		Name:         &newName,
		SellingPrice: &newSelling,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Name != newName {
		t.Fatalf("expected name %q, got %q", newName, updated.Name)
	}
	if !updated.SellingPrice.Equal(newSelling) {
		t.Fatalf("expected selling price 6.50, got %s", updated.SellingPrice)
	}
	if updated.Quantity != 40 {
		t.Fatalf("update must not change quantity, got %d", updated.Quantity)
	}
}

func TestAdjustQuantityCannotGoNegative(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "ORS Sachet", "0.80", "1.50", 3)

	if _, err := env.catalog.AdjustQuantity(env.ctx, item.ID, -5); !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, err := env.catalog.GetItem(env.ctx, item.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if after.Quantity != 3 {
		t.Fatalf("failed adjust must leave quantity at 3, got %d", after.Quantity)
	}

	adjusted, err := env.catalog.AdjustQuantity(env.ctx, item.ID, -3)
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if adjusted.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", adjusted.Quantity)
	}
}

func TestSoftDeleteHidesItemFromList(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Old Syrup", "7.00", "9.00", 10)
	env.createItem(t, "Fresh Syrup", "7.00", "9.00", 10)

	if err := env.catalog.DeleteItem(env.ctx, item.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := env.catalog.DeleteItem(env.ctx, item.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict on second delete, got %v", err)
	}

	items, err := env.catalog.ListItems(env.ctx, domain.StockListQuery{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	for _, listed := range items {
		if listed.ID == item.ID {
			t.Fatalf("deleted item must not appear in default list")
		}
	}

	withDeleted, err := env.catalog.ListItems(env.ctx, domain.StockListQuery{IncludeDeleted: true})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	found := false
	for _, listed := range withDeleted {
		if listed.ID == item.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("include_deleted list must still contain the item")
	}
}
