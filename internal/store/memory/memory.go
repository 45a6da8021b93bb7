package memory

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// Store is an in-memory Repository used in tests and as a dev fallback when
// DATABASE_URL is unset. A single mutex guards every operation, so multi-step
// writes (receipt creation, refunds) are atomic by construction.
type Store struct {
	mu       sync.RWMutex
	items    map[uuid.UUID]domain.StockItem
	itemRefs map[string]uuid.UUID
	sales    map[uuid.UUID]domain.Sale
	receipts map[uuid.UUID]domain.Receipt
	expenses map[uuid.UUID]domain.Expense
	users    map[string]domain.UserAccount
}

func New() *Store {
	return &Store{
		items:    make(map[uuid.UUID]domain.StockItem),
		itemRefs: make(map[string]uuid.UUID),
		sales:    make(map[uuid.UUID]domain.Sale),
		receipts: make(map[uuid.UUID]domain.Receipt),
		expenses: make(map[uuid.UUID]domain.Expense),
		users:    seedUsers(),
	}
}

// NewSeeded returns a store pre-loaded with demo stock for dev mode.
func NewSeeded() *Store {
	s := New()

	var adminID uuid.UUID
	for _, u := range s.users {
		if u.Role == "admin" {
			adminID = u.ID
		}
	}

	now := time.Now().UTC()
	seed := []struct {
		name     string
		purchase string
		selling  string
		qty      int
		months   int
	}{
		{"Paracetamol 500mg", "2.50", "4.00", 120, 18},
		{"Amoxicillin 250mg", "5.00", "8.50", 80, 12},
		{"Ibuprofen 200mg", "3.20", "5.00", 95, 24},
		{"Cough Syrup 100ml", "7.80", "12.00", 40, 9},
		{"Vitamin C 1000mg", "4.10", "6.50", 150, 30},
		{"ORS Sachet", "0.80", "1.50", 300, 15},
		{"Malaria Test Kit", "6.00", "9.00", 60, 10},
		{"Hand Sanitizer 250ml", "3.50", "5.50", 70, 36},
	}
	for _, row := range seed {
		item := domain.StockItem{
			ID:            uuid.New(),
			Ref:           uuid.NewString(),
			Name:          row.name,
			PurchasePrice: decimal.RequireFromString(row.purchase),
			SellingPrice:  decimal.RequireFromString(row.selling),
			Quantity:      row.qty,
			ExpiryDate:    now.AddDate(0, row.months, 0),
			CreatedByID:   adminID,
			CreatedAt:     now,
		}
		s.items[item.ID] = item
		s.itemRefs[item.Ref] = item.ID
	}

	return s
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials come from SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD; if
// unset, hardcoded dev defaults are used with a warning. These credentials are
// never used in production (the backend uses PostgreSQL when DATABASE_URL is
// set).
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	cashierPwd := envOr("SEED_CASHIER_PASSWORD", "cashier123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_CASHIER_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_CASHIER_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, "admin"},
		{"cashier", cashierPwd, "cashier"},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			ID:        uuid.New(),
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// ---- stock catalog ----

func (s *Store) CreateStockItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if item.Name == "" || item.Quantity < 0 || item.ExpiryDate.IsZero() {
		return nil, store.ErrValidation
	}
	if item.SellingPrice.LessThanOrEqual(item.PurchasePrice) || item.PurchasePrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if item.Ref == "" {
		item.Ref = uuid.NewString()
	}
	if _, exists := s.itemRefs[item.Ref]; exists {
		return nil, fmt.Errorf("%w: reference %q already in use", store.ErrValidation, item.Ref)
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	s.items[item.ID] = item
	s.itemRefs[item.Ref] = item.ID
	created := item
	return &created, nil
}

func (s *Store) GetStockItem(_ context.Context, id uuid.UUID) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getItemLocked(id)
}

func (s *Store) getItemLocked(id uuid.UUID) (*domain.StockItem, error) {
	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyItem := item
	return &copyItem, nil
}

func (s *Store) GetStockItemsByIDs(_ context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[uuid.UUID]domain.StockItem, len(ids))
	for _, id := range ids {
		if item, exists := s.items[id]; exists {
			result[id] = item
		}
	}
	return result, nil
}

func (s *Store) GetStockItemByRef(_ context.Context, ref string) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, exists := s.itemRefs[ref]
	if !exists {
		return nil, store.ErrNotFound
	}
	return s.getItemLocked(id)
}

func (s *Store) ListStockItems(_ context.Context, query domain.StockListQuery) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	search := strings.ToLower(strings.TrimSpace(query.Search))
	result := make([]domain.StockItem, 0, len(s.items))
	for _, item := range s.items {
		if item.DeletedAt != nil && !query.IncludeDeleted {
			continue
		}
		if search != "" && !strings.Contains(strings.ToLower(item.Name), search) && !strings.Contains(strings.ToLower(item.Ref), search) {
			continue
		}
		if query.QuantityMin != nil && item.Quantity < *query.QuantityMin {
			continue
		}
		if query.QuantityMax != nil && item.Quantity > *query.QuantityMax {
			continue
		}
		if query.ExpiryDateMin != nil && item.ExpiryDate.Before(*query.ExpiryDateMin) {
			continue
		}
		if query.ExpiryDateMax != nil && item.ExpiryDate.After(*query.ExpiryDateMax) {
			continue
		}
		if query.SellingPriceMin != nil && item.SellingPrice.LessThan(*query.SellingPriceMin) {
			continue
		}
		if query.SellingPriceMax != nil && item.SellingPrice.GreaterThan(*query.SellingPriceMax) {
			continue
		}
		result = append(result, item)
	}

	slices.SortFunc(result, func(a, b domain.StockItem) int {
		if a.Name == b.Name {
			return cmpID(a.ID, b.ID)
		}
		return strings.Compare(a.Name, b.Name)
	})

	return page(result, query.Skip, query.Limit), nil
}

func (s *Store) UpdateStockItem(_ context.Context, item domain.StockItem) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.items[item.ID]
	if !exists {
		return nil, store.ErrNotFound
	}
	if item.Name == "" || item.SellingPrice.LessThanOrEqual(item.PurchasePrice) {
		return nil, store.ErrValidation
	}

	// Quantity and counters stay under the ledger's control.
	item.Quantity = existing.Quantity
	item.Issues = existing.Issues
	item.TotalIssuesCost = existing.TotalIssuesCost
	item.Ref = existing.Ref
	item.CreatedAt = existing.CreatedAt
	item.CreatedByID = existing.CreatedByID
	item.DeletedAt = existing.DeletedAt

	s.items[item.ID] = item
	updated := item
	return &updated, nil
}

func (s *Store) SoftDeleteStockItem(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, exists := s.items[id]
	if !exists {
		return store.ErrNotFound
	}
	if item.DeletedAt != nil {
		return store.ErrConflict
	}
	at = at.UTC()
	item.DeletedAt = &at
	s.items[id] = item
	return nil
}

func (s *Store) AdjustStockQuantity(_ context.Context, id uuid.UUID, delta int) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adjustQuantityLocked(id, delta)
}

func (s *Store) adjustQuantityLocked(id uuid.UUID, delta int) (*domain.StockItem, error) {
	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	next := item.Quantity + delta
	if next < 0 {
		return nil, fmt.Errorf("%w: item %s has %d on hand, cannot remove %d", store.ErrInsufficientStock, item.Name, item.Quantity, -delta)
	}
	item.Quantity = next
	s.items[id] = item
	adjusted := item
	return &adjusted, nil
}

func (s *Store) RefreshStockCounters(_ context.Context, id uuid.UUID) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCountersLocked(id)
}

func (s *Store) refreshCountersLocked(id uuid.UUID) (*domain.StockItem, error) {
	item, exists := s.items[id]
	if !exists {
		return nil, store.ErrNotFound
	}

	issues := 0
	total := decimal.Zero
	for _, sale := range s.sales {
		if sale.ItemID != id || sale.IsRefunded() {
			continue
		}
		issues++
		total = total.Add(sale.Cost)
	}
	item.Issues = issues
	item.TotalIssuesCost = total.Round(2)
	s.items[id] = item
	refreshed := item
	return &refreshed, nil
}

// ---- ledger ----

func (s *Store) CreateSale(_ context.Context, sale domain.Sale) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sale.Quantity < 1 || !domain.IsSupportedPaymentType(sale.PaymentType) {
		return nil, store.ErrValidation
	}
	receipt, exists := s.receipts[sale.ReceiptID]
	if !exists {
		return nil, fmt.Errorf("%w: receipt %s", store.ErrNotFound, sale.ReceiptID)
	}
	if receipt.IsRefunded() {
		return nil, fmt.Errorf("%w: receipt %s is refunded", store.ErrConflict, sale.ReceiptID)
	}
	item, exists := s.items[sale.ItemID]
	if !exists {
		return nil, fmt.Errorf("%w: stock item %s", store.ErrNotFound, sale.ItemID)
	}

	if _, err := s.adjustQuantityLocked(sale.ItemID, -sale.Quantity); err != nil {
		return nil, err
	}

	sale.UnitCost = item.SellingPrice
	sale.Cost = item.SellingPrice.Mul(decimal.NewFromInt(int64(sale.Quantity))).Round(2)
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}
	sale.RefundedAt = nil
	s.sales[sale.ID] = sale

	if _, err := s.refreshCountersLocked(sale.ItemID); err != nil {
		return nil, err
	}

	created := sale
	return &created, nil
}

func (s *Store) GetSale(_ context.Context, id uuid.UUID) (*domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copySale := sale
	return &copySale, nil
}

func (s *Store) ListSales(_ context.Context, query domain.SaleListQuery) ([]domain.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := domain.ReportWindow{From: query.TimeFrom, To: query.TimeTo}
	result := make([]domain.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if query.Refunded != nil && sale.IsRefunded() != *query.Refunded {
			continue
		}
		if query.ItemID != uuid.Nil && sale.ItemID != query.ItemID {
			continue
		}
		if query.ReceiptID != uuid.Nil && sale.ReceiptID != query.ReceiptID {
			continue
		}
		if !window.Contains(sale.CreatedAt) {
			continue
		}
		result = append(result, sale)
	}

	slices.SortFunc(result, func(a, b domain.Sale) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpID(a.ID, b.ID)
		}
		if a.CreatedAt.Before(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return page(result, query.Skip, query.Limit), nil
}

func (s *Store) RefundSale(_ context.Context, id uuid.UUID, at time.Time) (*domain.Sale, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refundSaleLocked(id, at)
}

func (s *Store) refundSaleLocked(id uuid.UUID, at time.Time) (*domain.Sale, error) {
	sale, exists := s.sales[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if sale.IsRefunded() {
		return nil, fmt.Errorf("%w: sale %s already refunded", store.ErrConflict, id)
	}

	if _, err := s.adjustQuantityLocked(sale.ItemID, sale.Quantity); err != nil {
		return nil, err
	}

	at = at.UTC()
	sale.RefundedAt = &at
	s.sales[id] = sale

	if _, err := s.refreshCountersLocked(sale.ItemID); err != nil {
		return nil, err
	}

	refunded := sale
	return &refunded, nil
}

// ---- receipts ----

func (s *Store) CreateReceiptWithSales(_ context.Context, receipt domain.Receipt, lines []domain.ReceiptLine) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(lines) == 0 || !domain.IsSupportedPaymentType(receipt.PaymentType) || receipt.Tax.IsNegative() {
		return nil, store.ErrValidation
	}

	now := time.Now().UTC()
	seen := make(map[uuid.UUID]bool, len(lines))
	missing := make([]uuid.UUID, 0)
	for _, line := range lines {
		if line.Quantity < 1 || seen[line.ItemID] {
			return nil, store.ErrValidation
		}
		seen[line.ItemID] = true
		if _, exists := s.items[line.ItemID]; !exists {
			missing = append(missing, line.ItemID)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: stock items %v", store.ErrNotFound, missing)
	}

	// Availability before quantity-sufficiency, per line.
	totalCost := decimal.Zero
	for _, line := range lines {
		item := s.items[line.ItemID]
		if !item.IsAvailable(now) {
			return nil, fmt.Errorf("%w: item %s (%s) is not available", store.ErrInsufficientStock, item.Name, item.ID)
		}
		if item.Quantity < line.Quantity {
			return nil, fmt.Errorf("%w: item %s short by %d (requested %d, available %d)",
				store.ErrInsufficientStock, item.Name, line.Quantity-item.Quantity, line.Quantity, item.Quantity)
		}
		totalCost = totalCost.Add(item.SellingPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	receipt.TotalCost = totalCost.Round(2)
	receipt.GrossAmount = receipt.TotalCost.Add(receipt.Tax).Round(2)
	if receipt.AmountPaid.LessThan(receipt.GrossAmount) {
		return nil, fmt.Errorf("%w: amount paid %s is below total %s",
			store.ErrValidation, receipt.AmountPaid.StringFixed(2), receipt.GrossAmount.StringFixed(2))
	}

	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = now
	}
	receipt.RefundedAt = nil
	receipt.Items = nil

	sales := make([]domain.Sale, 0, len(lines))
	for _, line := range lines {
		item := s.items[line.ItemID]
		item.Quantity -= line.Quantity
		s.items[line.ItemID] = item

		sale := domain.Sale{
			ID:          uuid.New(),
			ItemID:      line.ItemID,
			ReceiptID:   receipt.ID,
			Quantity:    line.Quantity,
			UnitCost:    item.SellingPrice,
			Cost:        item.SellingPrice.Mul(decimal.NewFromInt(int64(line.Quantity))).Round(2),
			PaymentType: receipt.PaymentType,
			CreatedByID: receipt.CreatedByID,
			CreatedAt:   receipt.CreatedAt,
		}
		s.sales[sale.ID] = sale
		sales = append(sales, sale)
	}

	s.receipts[receipt.ID] = receipt
	for _, line := range lines {
		if _, err := s.refreshCountersLocked(line.ItemID); err != nil {
			return nil, err
		}
	}

	created := receipt
	created.Items = sales
	return &created, nil
}

func (s *Store) GetReceipt(_ context.Context, id uuid.UUID) (*domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	receipt, exists := s.receipts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyReceipt := receipt
	copyReceipt.Items = s.salesForReceiptLocked(id)
	return &copyReceipt, nil
}

func (s *Store) salesForReceiptLocked(receiptID uuid.UUID) []domain.Sale {
	sales := make([]domain.Sale, 0, 4)
	for _, sale := range s.sales {
		if sale.ReceiptID == receiptID {
			sales = append(sales, sale)
		}
	}
	slices.SortFunc(sales, func(a, b domain.Sale) int { return cmpID(a.ID, b.ID) })
	return sales
}

func (s *Store) ListReceipts(_ context.Context, query domain.ReceiptListQuery) ([]domain.Receipt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := domain.ReportWindow{From: query.TimeFrom, To: query.TimeTo}
	result := make([]domain.Receipt, 0, len(s.receipts))
	for _, receipt := range s.receipts {
		if query.Refunded != nil && receipt.IsRefunded() != *query.Refunded {
			continue
		}
		if query.PaymentType != "" && receipt.PaymentType != query.PaymentType {
			continue
		}
		if query.PriceFrom != nil && receipt.TotalCost.LessThan(*query.PriceFrom) {
			continue
		}
		if query.PriceTo != nil && receipt.TotalCost.GreaterThan(*query.PriceTo) {
			continue
		}
		if !window.Contains(receipt.CreatedAt) {
			continue
		}
		result = append(result, receipt)
	}

	slices.SortFunc(result, func(a, b domain.Receipt) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpID(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return page(result, query.Skip, query.Limit), nil
}

func (s *Store) RefundReceipt(_ context.Context, id uuid.UUID, at time.Time) (*domain.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	receipt, exists := s.receipts[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if receipt.IsRefunded() {
		return nil, fmt.Errorf("%w: receipt %s already refunded", store.ErrConflict, id)
	}

	for _, sale := range s.salesForReceiptLocked(id) {
		if sale.IsRefunded() {
			continue
		}
		if _, err := s.refundSaleLocked(sale.ID, at); err != nil {
			return nil, err
		}
	}

	at = at.UTC()
	receipt.RefundedAt = &at
	s.receipts[id] = receipt

	refunded := receipt
	refunded.Items = s.salesForReceiptLocked(id)
	return &refunded, nil
}

// ---- reporting ----

func (s *Store) MostIssued(_ context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aggregates := s.aggregateSalesLocked(window, false)
	slices.SortFunc(aggregates, func(a, b domain.ItemAggregate) int {
		if a.SaleCount != b.SaleCount {
			if a.SaleCount > b.SaleCount {
				return -1
			}
			return 1
		}
		return cmpID(a.ItemID, b.ItemID)
	})
	return page(aggregates, skip, limit), nil
}

func (s *Store) MostProfitable(_ context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aggregates := s.aggregateSalesLocked(window, false)
	slices.SortFunc(aggregates, func(a, b domain.ItemAggregate) int {
		if !a.TotalCost.Equal(b.TotalCost) {
			if a.TotalCost.GreaterThan(b.TotalCost) {
				return -1
			}
			return 1
		}
		return cmpID(a.ItemID, b.ItemID)
	})
	return page(aggregates, skip, limit), nil
}

func (s *Store) MostRefunded(_ context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	aggregates := s.aggregateSalesLocked(window, true)
	slices.SortFunc(aggregates, func(a, b domain.ItemAggregate) int {
		if a.Quantity != b.Quantity {
			if a.Quantity > b.Quantity {
				return -1
			}
			return 1
		}
		return cmpID(a.ItemID, b.ItemID)
	})
	return page(aggregates, skip, limit), nil
}

// aggregateSalesLocked groups sales by item. With refunded=false it covers
// active sales windowed on CreatedAt; with refunded=true it covers refunded
// sales windowed on RefundedAt.
func (s *Store) aggregateSalesLocked(window domain.ReportWindow, refunded bool) []domain.ItemAggregate {
	byItem := make(map[uuid.UUID]*domain.ItemAggregate)
	for _, sale := range s.sales {
		if refunded {
			if !sale.IsRefunded() || !window.Contains(*sale.RefundedAt) {
				continue
			}
		} else {
			if sale.IsRefunded() || !window.Contains(sale.CreatedAt) {
				continue
			}
		}
		agg, exists := byItem[sale.ItemID]
		if !exists {
			item := s.items[sale.ItemID]
			agg = &domain.ItemAggregate{ItemID: sale.ItemID, Ref: item.Ref, Name: item.Name, TotalCost: decimal.Zero}
			byItem[sale.ItemID] = agg
		}
		agg.SaleCount++
		agg.Quantity += int64(sale.Quantity)
		agg.TotalCost = agg.TotalCost.Add(sale.Cost).Round(2)
	}

	result := make([]domain.ItemAggregate, 0, len(byItem))
	for _, agg := range byItem {
		result = append(result, *agg)
	}
	return result
}

func (s *Store) ExpiringSoon(_ context.Context, window domain.ReportWindow, skip, limit int) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.StockItem, 0, len(s.items))
	for _, item := range s.items {
		if item.DeletedAt != nil {
			continue
		}
		if !window.Contains(item.ExpiryDate) {
			continue
		}
		result = append(result, item)
	}
	slices.SortFunc(result, func(a, b domain.StockItem) int {
		if a.ExpiryDate.Equal(b.ExpiryDate) {
			return cmpID(a.ID, b.ID)
		}
		if a.ExpiryDate.Before(b.ExpiryDate) {
			return -1
		}
		return 1
	})
	return page(result, skip, limit), nil
}

func (s *Store) TotalStockValue(_ context.Context, window domain.ReportWindow) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, item := range s.items {
		if item.DeletedAt != nil || !window.Contains(item.CreatedAt) {
			continue
		}
		total = total.Add(item.PurchasePrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2), nil
}

func (s *Store) ExpectedReturn(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, item := range s.items {
		if item.DeletedAt != nil {
			continue
		}
		total = total.Add(item.SellingPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total.Round(2), nil
}

func (s *Store) SalesTotal(_ context.Context, window domain.ReportWindow, paymentTypes []string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, sale := range s.sales {
		if sale.IsRefunded() || !window.Contains(sale.CreatedAt) {
			continue
		}
		if len(paymentTypes) > 0 && !slices.Contains(paymentTypes, sale.PaymentType) {
			continue
		}
		total = total.Add(sale.Cost)
	}
	return total.Round(2), nil
}

// ---- expenses ----

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.Name == "" || !expense.Price.IsPositive() {
		return nil, store.ErrValidation
	}
	if expense.ID == uuid.Nil {
		expense.ID = uuid.New()
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expenses[expense.ID] = expense
	created := expense
	return &created, nil
}

func (s *Store) GetExpense(_ context.Context, id uuid.UUID) (*domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	expense, exists := s.expenses[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyExpense := expense
	return &copyExpense, nil
}

func (s *Store) ListExpenses(_ context.Context, query domain.ExpenseListQuery) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	window := domain.ReportWindow{From: query.TimeFrom, To: query.TimeTo}
	search := strings.ToLower(strings.TrimSpace(query.Search))
	result := make([]domain.Expense, 0, len(s.expenses))
	for _, expense := range s.expenses {
		if search != "" && !strings.Contains(strings.ToLower(expense.Name), search) {
			continue
		}
		if query.PriceFrom != nil && expense.Price.LessThan(*query.PriceFrom) {
			continue
		}
		if query.PriceTo != nil && expense.Price.GreaterThan(*query.PriceTo) {
			continue
		}
		if !window.Contains(expense.CreatedAt) {
			continue
		}
		result = append(result, expense)
	}

	slices.SortFunc(result, func(a, b domain.Expense) int {
		if a.CreatedAt.Equal(b.CreatedAt) {
			return cmpID(a.ID, b.ID)
		}
		if a.CreatedAt.After(b.CreatedAt) {
			return -1
		}
		return 1
	})

	return page(result, query.Skip, query.Limit), nil
}

func (s *Store) DeleteExpense(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.expenses[id]; !exists {
		return store.ErrNotFound
	}
	delete(s.expenses, id)
	return nil
}

func (s *Store) ExpensesTotal(_ context.Context, window domain.ReportWindow) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, expense := range s.expenses {
		if !window.Contains(expense.CreatedAt) {
			continue
		}
		total = total.Add(expense.Price)
	}
	return total.Round(2), nil
}

// ---- users ----

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if _, exists := s.users[user.Username]; exists {
		return store.ErrConflict
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, exists := s.users[username]
	if !exists {
		return nil, store.ErrNotFound
	}
	copyUser := user
	return &copyUser, nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, exists := s.users[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// ---- helpers ----

func cmpID(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func page[T any](entries []T, skip, limit int) []T {
	if skip > 0 {
		if skip >= len(entries) {
			return []T{}
		}
		entries = entries[skip:]
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}
