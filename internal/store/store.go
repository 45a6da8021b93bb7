package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrValidation        = errors.New("validation failed")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
)

// Repository is the persistence contract shared by the in-memory and postgres
// stores. Multi-step operations (receipt creation, refunds, quantity
// adjustments) are atomic within a single call: either every effect commits or
// none does.
type Repository interface {
	// Stock catalog.
	CreateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	GetStockItem(ctx context.Context, id uuid.UUID) (*domain.StockItem, error)
	// GetStockItemsByIDs returns the found subset keyed by id; callers decide
	// how to treat misses.
	GetStockItemsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.StockItem, error)
	GetStockItemByRef(ctx context.Context, ref string) (*domain.StockItem, error)
	ListStockItems(ctx context.Context, query domain.StockListQuery) ([]domain.StockItem, error)
	UpdateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error)
	SoftDeleteStockItem(ctx context.Context, id uuid.UUID, at time.Time) error
	// AdjustStockQuantity atomically applies delta to Quantity; it fails with
	// ErrInsufficientStock when the result would be negative.
	AdjustStockQuantity(ctx context.Context, id uuid.UUID, delta int) (*domain.StockItem, error)
	// RefreshStockCounters recomputes Issues and TotalIssuesCost from the
	// active sales referencing the item.
	RefreshStockCounters(ctx context.Context, id uuid.UUID) (*domain.StockItem, error)

	// Ledger. CreateSale atomically snapshots the item's current selling price,
	// decrements stock, inserts the line and refreshes the item's counters.
	CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error)
	GetSale(ctx context.Context, id uuid.UUID) (*domain.Sale, error)
	ListSales(ctx context.Context, query domain.SaleListQuery) ([]domain.Sale, error)
	// RefundSale restores the sold quantity and marks the line refunded;
	// ErrConflict when the line is already refunded.
	RefundSale(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Sale, error)

	// Receipts. CreateReceiptWithSales persists the receipt and every merged
	// line in one transaction; any per-line failure aborts the whole creation.
	CreateReceiptWithSales(ctx context.Context, receipt domain.Receipt, lines []domain.ReceiptLine) (*domain.Receipt, error)
	GetReceipt(ctx context.Context, id uuid.UUID) (*domain.Receipt, error)
	ListReceipts(ctx context.Context, query domain.ReceiptListQuery) ([]domain.Receipt, error)
	// RefundReceipt refunds every active line and marks the receipt refunded;
	// ErrConflict when the receipt is already refunded.
	RefundReceipt(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Receipt, error)

	// Reporting (read-only).
	MostIssued(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error)
	MostProfitable(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error)
	MostRefunded(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error)
	ExpiringSoon(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.StockItem, error)
	TotalStockValue(ctx context.Context, window domain.ReportWindow) (decimal.Decimal, error)
	ExpectedReturn(ctx context.Context) (decimal.Decimal, error)
	SalesTotal(ctx context.Context, window domain.ReportWindow, paymentTypes []string) (decimal.Decimal, error)

	// Expenses.
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	GetExpense(ctx context.Context, id uuid.UUID) (*domain.Expense, error)
	ListExpenses(ctx context.Context, query domain.ExpenseListQuery) ([]domain.Expense, error)
	DeleteExpense(ctx context.Context, id uuid.UUID) error
	ExpensesTotal(ctx context.Context, window domain.ReportWindow) (decimal.Decimal, error)

	// Users (auth identity only).
	CreateUser(ctx context.Context, user domain.UserAccount) error
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
