package service

import (
	"errors"
	"testing"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func TestRecordSaleSnapshotsPrice(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Cough Syrup", "7.80", "12.00", 20)
	receipt := env.createReceipt(t, "12.00", domain.ReceiptLine{ItemID: item.ID, Quantity: 1})

	sale, err := env.ledger.RecordSale(env.ctx, receipt.ID, domain.ReceiptLine{ItemID: item.ID, Quantity: 2}, "")
	if err != nil {
		t.Fatalf("record sale failed: %v", err)
	}
	if !sale.UnitCost.Equal(dec(t, "12.00")) {
		t.Fatalf("expected unit cost 12.00, got %s", sale.UnitCost)
	}
	if !sale.Cost.Equal(dec(t, "24.00")) {
		t.Fatalf("expected cost 24.00, got %s", sale.Cost)
	}
	if sale.PaymentType != domain.PaymentCash {
		t.Fatalf("blank payment type must default to CASH, got %s", sale.PaymentType)
	}

	newSelling := dec(t, "15.00")
	if _, err := env.catalog.UpdateItem(env.ctx, item.ID, domain.StockUpdateRequest{SellingPrice: &newSelling}); err != nil {
		t.Fatalf("price update failed: %v", err)
	}

	reloaded, err := env.ledger.GetSale(env.ctx, sale.ID)
	if err != nil {
		t.Fatalf("get sale failed: %v", err)
	}
	if !reloaded.Cost.Equal(dec(t, "24.00")) {
		t.Fatalf("sale cost must never follow later price changes, got %s", reloaded.Cost)
	}
}

func TestRecordSaleRejectsOversell(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Scarce", "1.00", "2.00", 4)
	receipt := env.createReceipt(t, "2.00", domain.ReceiptLine{ItemID: item.ID, Quantity: 1})

	_, err := env.ledger.RecordSale(env.ctx, receipt.ID, domain.ReceiptLine{ItemID: item.ID, Quantity: 10}, "")
	if !errors.Is(err, store.ErrInsufficientStock) {
		t.Fatalf("expected insufficient stock, got %v", err)
	}

	after, _ := env.catalog.GetItem(env.ctx, item.ID)
	if after.Quantity != 3 {
		t.Fatalf("failed sale must not move stock, got %d", after.Quantity)
	}
}

func TestRecordSaleRejectsRefundedReceipt(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Item", "1.00", "2.00", 10)
	receipt := env.createReceipt(t, "2.00", domain.ReceiptLine{ItemID: item.ID, Quantity: 1})

	if _, err := env.receipts.RefundReceipt(env.ctx, receipt.ID); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	_, err := env.ledger.RecordSale(env.ctx, receipt.ID, domain.ReceiptLine{ItemID: item.ID, Quantity: 1}, "")
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("sale against refunded receipt must conflict, got %v", err)
	}
}

func TestRefundSaleRestoresStockOnce(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Item", "1.00", "2.00", 10)
	receipt := env.createReceipt(t, "6.00", domain.ReceiptLine{ItemID: item.ID, Quantity: 3})
	saleID := receipt.Items[0].ID

	refunded, err := env.ledger.RefundSale(env.ctx, saleID)
	if err != nil {
		t.Fatalf("refund failed: %v", err)
	}
	if !refunded.IsRefunded() {
		t.Fatalf("sale must be marked refunded")
	}

	after, _ := env.catalog.GetItem(env.ctx, item.ID)
	if after.Quantity != 10 {
		t.Fatalf("expected quantity restored to 10, got %d", after.Quantity)
	}
	if after.Issues != 0 {
		t.Fatalf("refunded sale must not count as an issue, got %d", after.Issues)
	}

	if _, err := env.ledger.RefundSale(env.ctx, saleID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second refund must conflict, got %v", err)
	}
	after, _ = env.catalog.GetItem(env.ctx, item.ID)
	if after.Quantity != 10 {
		t.Fatalf("failed second refund must not move stock, got %d", after.Quantity)
	}
}

func TestListSalesFilters(t *testing.T) {
	env := newTestEnv()
	itemA := env.createItem(t, "Item A", "1.00", "2.00", 20)
	itemB := env.createItem(t, "Item B", "1.00", "3.00", 20)

	receipt := env.createReceipt(t, "50.00",
		domain.ReceiptLine{ItemID: itemA.ID, Quantity: 2},
		domain.ReceiptLine{ItemID: itemB.ID, Quantity: 1},
	)
	if _, err := env.ledger.RefundSale(env.ctx, receipt.Items[0].ID); err != nil {
		t.Fatalf("refund failed: %v", err)
	}

	active := false
	refundedOnly := true

	sales, err := env.ledger.ListSales(env.ctx, domain.SaleListQuery{Refunded: &active})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sales) != 1 || sales[0].ItemID != itemB.ID {
		t.Fatalf("expected only the active sale for item B")
	}

	sales, err = env.ledger.ListSales(env.ctx, domain.SaleListQuery{Refunded: &refundedOnly})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sales) != 1 || sales[0].ItemID != itemA.ID {
		t.Fatalf("expected only the refunded sale for item A")
	}

	sales, err = env.ledger.ListSales(env.ctx, domain.SaleListQuery{ReceiptID: receipt.ID})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(sales) != 2 {
		t.Fatalf("expected both lines of the receipt, got %d", len(sales))
	}
}
