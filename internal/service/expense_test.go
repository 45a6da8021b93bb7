package service

import (
	"errors"
	"testing"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

func TestCreateExpenseValidates(t *testing.T) {
	env := newTestEnv()

	if _, err := env.expenses.CreateExpense(env.ctx, domain.ExpenseCreateRequest{
		Name:  "   ",
		Price: dec(t, "5.00"),
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("blank name must fail validation, got %v", err)
	}

	if _, err := env.expenses.CreateExpense(env.ctx, domain.ExpenseCreateRequest{
		Name:  "rent",
		Price: dec(t, "0.00"),
	}); !errors.Is(err, store.ErrValidation) {
		t.Fatalf("zero price must fail validation, got %v", err)
	}

	expense, err := env.expenses.CreateExpense(env.ctx, domain.ExpenseCreateRequest{
		Name:        "  rent  ",
		Price:       dec(t, "120.505"),
		Description: "september",
	})
	if err != nil {
		t.Fatalf("create expense failed: %v", err)
	}
	if expense.Name != "rent" {
		t.Fatalf("expected trimmed name, got %q", expense.Name)
	}
	if !expense.Price.Equal(dec(t, "120.51")) {
		t.Fatalf("expected price rounded to 120.51, got %s", expense.Price)
	}
}

func TestDeleteExpenseRemovesIt(t *testing.T) {
	env := newTestEnv()

	expense, err := env.expenses.CreateExpense(env.ctx, domain.ExpenseCreateRequest{
		Name:  "fuel",
		Price: dec(t, "15.00"),
	})
	if err != nil {
		t.Fatalf("create expense failed: %v", err)
	}

	if err := env.expenses.DeleteExpense(env.ctx, expense.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := env.expenses.GetExpense(env.ctx, expense.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if err := env.expenses.DeleteExpense(env.ctx, expense.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("second delete must report not found, got %v", err)
	}
}

func TestExpenseSummaryNetsSalesAgainstExpenses(t *testing.T) {
	env := newTestEnv()
	item := env.createItem(t, "Item", "1.00", "2.00", 50)

	env.createReceipt(t, "20.00", domain.ReceiptLine{ItemID: item.ID, Quantity: 10})
	for _, price := range []string{"3.00", "4.50"} {
		if _, err := env.expenses.CreateExpense(env.ctx, domain.ExpenseCreateRequest{
			Name:  "supplies",
			Price: dec(t, price),
		}); err != nil {
			t.Fatalf("create expense failed: %v", err)
		}
	}

	summary, err := env.expenses.Summary(env.ctx)
	if err != nil {
		t.Fatalf("summary failed: %v", err)
	}
	if !summary.DailyNet.Equal(dec(t, "12.50")) {
		t.Fatalf("expected daily net 12.50, got %s", summary.DailyNet)
	}
	if !summary.MonthlyNet.Equal(dec(t, "12.50")) {
		t.Fatalf("expected monthly net 12.50, got %s", summary.MonthlyNet)
	}
}
