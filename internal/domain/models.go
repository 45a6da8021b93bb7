package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentCash        = "CASH"
	PaymentMobileMoney = "MOMO"
	PaymentCard        = "CARD"
)

// SupportedPaymentTypes lists the accepted values for Sale.PaymentType and
// Receipt.PaymentType. CASH is the default when a request leaves it blank.
var SupportedPaymentTypes = []string{PaymentCash, PaymentMobileMoney, PaymentCard}

func IsSupportedPaymentType(paymentType string) bool {
	for _, pt := range SupportedPaymentTypes {
		if pt == paymentType {
			return true
		}
	}
	return false
}

// StockItem is a catalog entry. Quantity is the number of units currently on
// hand; Issues and TotalIssuesCost are denormalized aggregates over the active
// (non-refunded) sales against this item and are recomputed from the ledger
// after every sale or refund.
type StockItem struct {
	ID              uuid.UUID       `json:"id"`
	Ref             string          `json:"ref"`
	Name            string          `json:"name"`
	Description     string          `json:"description,omitempty"`
	PurchasePrice   decimal.Decimal `json:"purchase_price"`
	SellingPrice    decimal.Decimal `json:"selling_price"`
	Quantity        int             `json:"quantity"`
	ExpiryDate      time.Time       `json:"expiry_date"`
	Issues          int             `json:"issues"`
	TotalIssuesCost decimal.Decimal `json:"total_issues_cost"`
	CreatedByID     uuid.UUID       `json:"created_by_id"`
	CreatedAt       time.Time       `json:"created_at"`
	DeletedAt       *time.Time      `json:"deleted_at,omitempty"`
}

// IsExpired reports whether the item has reached its expiry date. An item
// expiring today counts as expired.
func (s StockItem) IsExpired(now time.Time) bool {
	return !dateOf(now).Before(dateOf(s.ExpiryDate))
}

func (s StockItem) IsAvailable(now time.Time) bool {
	if s.DeletedAt != nil {
		return false
	}
	if s.IsExpired(now) {
		return false
	}
	return s.Quantity > 0
}

func (s StockItem) DaysToExpiry(now time.Time) int {
	if s.IsExpired(now) {
		return 0
	}
	return int(dateOf(s.ExpiryDate).Sub(dateOf(now)).Hours() / 24)
}

// StockValue is what the remaining units cost to acquire.
func (s StockItem) StockValue() decimal.Decimal {
	return s.PurchasePrice.Mul(decimal.NewFromInt(int64(s.Quantity))).Round(2)
}

// ExpectedReturn is what the remaining units would fetch at the current
// selling price.
func (s StockItem) ExpectedReturn() decimal.Decimal {
	return s.SellingPrice.Mul(decimal.NewFromInt(int64(s.Quantity))).Round(2)
}

func (s StockItem) ExpectedProfit() decimal.Decimal {
	return s.ExpectedReturn().Sub(s.StockValue()).Round(2)
}

func dateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Sale is a ledger line: one item sold in some quantity against a receipt.
// UnitCost is the selling price observed at creation time; Cost is
// UnitCost * Quantity and is never recomputed from a later price. A sale is
// active until RefundedAt is set, which is terminal.
type Sale struct {
	ID          uuid.UUID       `json:"id"`
	ItemID      uuid.UUID       `json:"item_id"`
	ReceiptID   uuid.UUID       `json:"receipt_id"`
	Quantity    int             `json:"quantity"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	Cost        decimal.Decimal `json:"cost"`
	PaymentType string          `json:"payment_type"`
	CreatedByID uuid.UUID       `json:"created_by_id"`
	CreatedAt   time.Time       `json:"created_at"`
	RefundedAt  *time.Time      `json:"refunded_at,omitempty"`
}

func (s Sale) IsRefunded() bool {
	return s.RefundedAt != nil
}

// Receipt groups the sales of one customer transaction. TotalCost is the sum
// of the contained lines' Cost at creation time and is never mutated, even
// when lines are later refunded individually. GrossAmount = TotalCost + Tax.
type Receipt struct {
	ID          uuid.UUID       `json:"id"`
	TotalCost   decimal.Decimal `json:"total_cost"`
	Tax         decimal.Decimal `json:"tax"`
	GrossAmount decimal.Decimal `json:"gross_amount"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	PaymentType string          `json:"payment_type"`
	CreatedByID uuid.UUID       `json:"created_by_id"`
	CreatedAt   time.Time       `json:"created_at"`
	RefundedAt  *time.Time      `json:"refunded_at,omitempty"`
	Items       []Sale          `json:"items,omitempty"`
}

func (r Receipt) Balance() decimal.Decimal {
	return r.AmountPaid.Sub(r.GrossAmount).Round(2)
}

func (r Receipt) IsRefunded() bool {
	return r.RefundedAt != nil
}

// Expense is an operating cost entry, outside the stock ledger.
type Expense struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
	CreatedByID uuid.UUID       `json:"created_by_id"`
	CreatedAt   time.Time       `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials. Its ID
// becomes CreatedByID on everything the user writes.
type UserAccount struct {
	ID        uuid.UUID
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

type Actor struct {
	ID       uuid.UUID
	Username string
	Role     string
}

// ---- request / response shapes ----

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type PasswordChangeRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type UserCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type UserResponse struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

type StockCreateRequest struct {
	Ref           string          `json:"ref,omitempty"`
	Name          string          `json:"name"`
	Description   string          `json:"description,omitempty"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	SellingPrice  decimal.Decimal `json:"selling_price"`
	Quantity      int             `json:"quantity"`
	ExpiryDate    time.Time       `json:"expiry_date"`
}

type StockUpdateRequest struct {
	Name          *string          `json:"name,omitempty"`
	Description   *string          `json:"description,omitempty"`
	PurchasePrice *decimal.Decimal `json:"purchase_price,omitempty"`
	SellingPrice  *decimal.Decimal `json:"selling_price,omitempty"`
	ExpiryDate    *time.Time       `json:"expiry_date,omitempty"`
}

type StockListQuery struct {
	Skip            int
	Limit           int
	Search          string
	QuantityMin     *int
	QuantityMax     *int
	ExpiryDateMin   *time.Time
	ExpiryDateMax   *time.Time
	SellingPriceMin *decimal.Decimal
	SellingPriceMax *decimal.Decimal
	IncludeDeleted  bool
}

// ReceiptLine is one requested (item, quantity) pair of a receipt creation.
// Lines referencing the same item are merged before validation.
type ReceiptLine struct {
	ItemID   uuid.UUID `json:"item_id"`
	Quantity int       `json:"quantity"`
}

type ReceiptCreateRequest struct {
	PaymentType string          `json:"payment_type,omitempty"`
	AmountPaid  decimal.Decimal `json:"amount_paid"`
	Tax         decimal.Decimal `json:"tax"`
	Items       []ReceiptLine   `json:"items"`
}

type ReceiptListQuery struct {
	Skip        int
	Limit       int
	Refunded    *bool
	PaymentType string
	PriceFrom   *decimal.Decimal
	PriceTo     *decimal.Decimal
	TimeFrom    *time.Time
	TimeTo      *time.Time
}

type SaleListQuery struct {
	Skip      int
	Limit     int
	Refunded  *bool
	ItemID    uuid.UUID
	ReceiptID uuid.UUID
	TimeFrom  *time.Time
	TimeTo    *time.Time
}

type ExpenseCreateRequest struct {
	Name        string          `json:"name"`
	Price       decimal.Decimal `json:"price"`
	Description string          `json:"description,omitempty"`
}

type ExpenseListQuery struct {
	Skip      int
	Limit     int
	Search    string
	PriceFrom *decimal.Decimal
	PriceTo   *decimal.Decimal
	TimeFrom  *time.Time
	TimeTo    *time.Time
}

// ReportWindow is an optional inclusive [From, To] time range. A nil bound is
// unbounded on that side.
type ReportWindow struct {
	From *time.Time
	To   *time.Time
}

func (w ReportWindow) Contains(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}

// ItemAggregate is one row of a top-N item ranking.
type ItemAggregate struct {
	ItemID    uuid.UUID       `json:"item_id"`
	Ref       string          `json:"ref"`
	Name      string          `json:"name"`
	SaleCount int64           `json:"sale_count"`
	Quantity  int64           `json:"quantity"`
	TotalCost decimal.Decimal `json:"total_cost"`
}

type PaymentTotal struct {
	PaymentType string          `json:"payment_type"`
	Total       decimal.Decimal `json:"total"`
}

// DashboardSummary is the cached aggregate payload for dashboard consumers.
type DashboardSummary struct {
	GeneratedAt     time.Time       `json:"generated_at"`
	TotalStockValue decimal.Decimal `json:"total_stock_value"`
	ExpectedReturn  decimal.Decimal `json:"expected_return"`
	DailySales      decimal.Decimal `json:"daily_sales"`
	MonthlySales    decimal.Decimal `json:"monthly_sales"`
	DailyByPayment  []PaymentTotal  `json:"daily_by_payment"`
	DailyExpenses   decimal.Decimal `json:"daily_expenses"`
	MonthlyExpenses decimal.Decimal `json:"monthly_expenses"`
}

type ExpenseSummary struct {
	DailyNet   decimal.Decimal `json:"daily_net"`
	MonthlyNet decimal.Decimal `json:"monthly_net"`
}
