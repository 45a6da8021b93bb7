package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/store"
)

// serializationRetries bounds how often a serializable transaction is retried
// after SQLSTATE 40001/40P01 before the failure surfaces as ErrConflict.
const serializationRetries = 3

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// inSerializableTx runs fn inside a serializable transaction and retries it a
// bounded number of times when Postgres aborts it with a serialization or
// deadlock failure. Exhausting the retries surfaces as ErrConflict.
func (s *Store) inSerializableTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt <= serializationRetries; attempt++ {
		err = s.runTx(ctx, fn)
		if !isSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w: transaction aborted after %d retries: %v", store.ErrConflict, serializationRetries, err)
}

func (s *Store) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// ---- stock catalog ----

const stockItemColumns = `id, ref, name, description, purchase_price, selling_price, quantity,
	expiry_date, issues, total_issues_cost, created_by, created_at, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStockItem(row rowScanner) (*domain.StockItem, error) {
	var item domain.StockItem
	var deletedAt sql.NullTime
	err := row.Scan(
		&item.ID,
		&item.Ref,
		&item.Name,
		&item.Description,
		&item.PurchasePrice,
		&item.SellingPrice,
		&item.Quantity,
		&item.ExpiryDate,
		&item.Issues,
		&item.TotalIssuesCost,
		&item.CreatedByID,
		&item.CreatedAt,
		&deletedAt,
	)
	if err != nil {
		return nil, err
	}
	item.ExpiryDate = item.ExpiryDate.UTC()
	item.CreatedAt = item.CreatedAt.UTC()
	if deletedAt.Valid {
		at := deletedAt.Time.UTC()
		item.DeletedAt = &at
	}
	return &item, nil
}

func (s *Store) CreateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.Name == "" || item.Quantity < 0 || item.ExpiryDate.IsZero() {
		return nil, store.ErrValidation
	}
	if item.SellingPrice.LessThanOrEqual(item.PurchasePrice) || item.PurchasePrice.IsNegative() {
		return nil, store.ErrValidation
	}
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.Ref == "" {
		item.Ref = uuid.NewString()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stock_items (
			id, ref, name, description, purchase_price, selling_price, quantity,
			expiry_date, issues, total_issues_cost, created_by, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,0,0,$9,$10)
	`, item.ID, item.Ref, item.Name, item.Description, item.PurchasePrice, item.SellingPrice,
		item.Quantity, item.ExpiryDate, item.CreatedByID, item.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("%w: reference %q already in use", store.ErrValidation, item.Ref)
		}
		return nil, err
	}

	created := item
	return &created, nil
}

func (s *Store) GetStockItem(ctx context.Context, id uuid.UUID) (*domain.StockItem, error) {
	item, err := scanStockItem(s.db.QueryRowContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) GetStockItemByRef(ctx context.Context, ref string) (*domain.StockItem, error) {
	item, err := scanStockItem(s.db.QueryRowContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE ref = $1
	`, ref))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return item, nil
}

func (s *Store) GetStockItemsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]domain.StockItem, error) {
	result := make(map[uuid.UUID]domain.StockItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE id = ANY($1::uuid[])
	`, idStrings(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		result[item.ID] = *item
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ListStockItems(ctx context.Context, query domain.StockListQuery) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE ($1 OR deleted_at IS NULL)
			AND ($2 = '' OR name ILIKE '%' || $2 || '%' OR ref ILIKE '%' || $2 || '%')
			AND ($3::int IS NULL OR quantity >= $3)
			AND ($4::int IS NULL OR quantity <= $4)
			AND ($5::date IS NULL OR expiry_date >= $5)
			AND ($6::date IS NULL OR expiry_date <= $6)
			AND ($7::numeric IS NULL OR selling_price >= $7)
			AND ($8::numeric IS NULL OR selling_price <= $8)
		ORDER BY name ASC, id ASC
		OFFSET $9 LIMIT NULLIF($10, 0)
	`, query.IncludeDeleted, query.Search,
		nullInt(query.QuantityMin), nullInt(query.QuantityMax),
		nullTimePtr(query.ExpiryDateMin), nullTimePtr(query.ExpiryDateMax),
		nullDecimal(query.SellingPriceMin), nullDecimal(query.SellingPriceMax),
		maxInt(query.Skip, 0), maxInt(query.Limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 64)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdateStockItem(ctx context.Context, item domain.StockItem) (*domain.StockItem, error) {
	if item.Name == "" || item.SellingPrice.LessThanOrEqual(item.PurchasePrice) {
		return nil, store.ErrValidation
	}

	// Quantity, counters and identity fields are not touched here; the
	// ledger owns them.
	row := s.db.QueryRowContext(ctx, `
		UPDATE stock_items
		SET name = $2, description = $3, purchase_price = $4, selling_price = $5, expiry_date = $6
		WHERE id = $1
		RETURNING `+stockItemColumns+`
	`, item.ID, item.Name, item.Description, item.PurchasePrice, item.SellingPrice, item.ExpiryDate)

	updated, err := scanStockItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return updated, nil
}

func (s *Store) SoftDeleteStockItem(ctx context.Context, id uuid.UUID, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_items
		SET deleted_at = $2
		WHERE id = $1 AND deleted_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var exists bool
		if err := s.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM stock_items WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return store.ErrNotFound
		}
		return store.ErrConflict
	}
	return nil
}

func (s *Store) AdjustStockQuantity(ctx context.Context, id uuid.UUID, delta int) (*domain.StockItem, error) {
	var adjusted *domain.StockItem
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		var err error
		adjusted, err = adjustQuantityTx(ctx, tx, id, delta)
		return err
	})
	if err != nil {
		return nil, err
	}
	return adjusted, nil
}

// adjustQuantityTx applies delta with a conditional update so the on-hand
// quantity can never go negative, even under concurrent writers.
func adjustQuantityTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, delta int) (*domain.StockItem, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE stock_items
		SET quantity = quantity + $2
		WHERE id = $1 AND quantity + $2 >= 0
		RETURNING `+stockItemColumns+`
	`, id, delta)

	adjusted, err := scanStockItem(row)
	if err == nil {
		return adjusted, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	var name string
	var quantity int
	lookupErr := tx.QueryRowContext(ctx, `SELECT name, quantity FROM stock_items WHERE id = $1`, id).Scan(&name, &quantity)
	if errors.Is(lookupErr, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if lookupErr != nil {
		return nil, lookupErr
	}
	return nil, fmt.Errorf("%w: item %s has %d on hand, cannot remove %d", store.ErrInsufficientStock, name, quantity, -delta)
}

func (s *Store) RefreshStockCounters(ctx context.Context, id uuid.UUID) (*domain.StockItem, error) {
	var refreshed *domain.StockItem
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		var err error
		refreshed, err = refreshCountersTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refreshed, nil
}

// refreshCountersTx recomputes the denormalized issue counters from the full
// set of active sales rather than applying an increment.
func refreshCountersTx(ctx context.Context, tx *sql.Tx, id uuid.UUID) (*domain.StockItem, error) {
	row := tx.QueryRowContext(ctx, `
		UPDATE stock_items
		SET issues = agg.cnt, total_issues_cost = agg.total
		FROM (
			SELECT COUNT(*)::int AS cnt, COALESCE(SUM(cost), 0) AS total
			FROM sales
			WHERE item_id = $1 AND refunded_at IS NULL
		) agg
		WHERE id = $1
		RETURNING `+stockItemColumns+`
	`, id)

	refreshed, err := scanStockItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return refreshed, nil
}

// ---- ledger ----

const saleColumns = `id, item_id, receipt_id, quantity, unit_cost, cost, payment_type,
	created_by, created_at, refunded_at`

func scanSale(row rowScanner) (*domain.Sale, error) {
	var sale domain.Sale
	var refundedAt sql.NullTime
	err := row.Scan(
		&sale.ID,
		&sale.ItemID,
		&sale.ReceiptID,
		&sale.Quantity,
		&sale.UnitCost,
		&sale.Cost,
		&sale.PaymentType,
		&sale.CreatedByID,
		&sale.CreatedAt,
		&refundedAt,
	)
	if err != nil {
		return nil, err
	}
	sale.CreatedAt = sale.CreatedAt.UTC()
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		sale.RefundedAt = &at
	}
	return &sale, nil
}

func (s *Store) CreateSale(ctx context.Context, sale domain.Sale) (*domain.Sale, error) {
	if sale.Quantity < 1 || !domain.IsSupportedPaymentType(sale.PaymentType) {
		return nil, store.ErrValidation
	}
	if sale.ID == uuid.Nil {
		sale.ID = uuid.New()
	}
	if sale.CreatedAt.IsZero() {
		sale.CreatedAt = time.Now().UTC()
	}

	var created *domain.Sale
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		var refundedAt sql.NullTime
		err := tx.QueryRowContext(ctx, `
			SELECT refunded_at FROM receipts WHERE id = $1 FOR UPDATE
		`, sale.ReceiptID).Scan(&refundedAt)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: receipt %s", store.ErrNotFound, sale.ReceiptID)
			}
			return err
		}
		if refundedAt.Valid {
			return fmt.Errorf("%w: receipt %s is refunded", store.ErrConflict, sale.ReceiptID)
		}

		var sellingPrice decimal.Decimal
		err = tx.QueryRowContext(ctx, `
			SELECT selling_price FROM stock_items WHERE id = $1 FOR UPDATE
		`, sale.ItemID).Scan(&sellingPrice)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: stock item %s", store.ErrNotFound, sale.ItemID)
			}
			return err
		}

		if _, err := adjustQuantityTx(ctx, tx, sale.ItemID, -sale.Quantity); err != nil {
			return err
		}

		sale.UnitCost = sellingPrice
		sale.Cost = sellingPrice.Mul(decimal.NewFromInt(int64(sale.Quantity))).Round(2)
		sale.RefundedAt = nil

		_, err = tx.ExecContext(ctx, `
			INSERT INTO sales (id, item_id, receipt_id, quantity, unit_cost, cost, payment_type, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, sale.ID, sale.ItemID, sale.ReceiptID, sale.Quantity, sale.UnitCost, sale.Cost,
			sale.PaymentType, sale.CreatedByID, sale.CreatedAt)
		if err != nil {
			return err
		}

		if _, err := refreshCountersTx(ctx, tx, sale.ItemID); err != nil {
			return err
		}

		saved := sale
		created = &saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetSale(ctx context.Context, id uuid.UUID) (*domain.Sale, error) {
	sale, err := scanSale(s.db.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return sale, nil
}

func (s *Store) ListSales(ctx context.Context, query domain.SaleListQuery) ([]domain.Sale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE ($1::bool IS NULL OR (refunded_at IS NOT NULL) = $1)
			AND ($2::uuid IS NULL OR item_id = $2)
			AND ($3::uuid IS NULL OR receipt_id = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at ASC, id ASC
		OFFSET $6 LIMIT NULLIF($7, 0)
	`, nullBool(query.Refunded), nullUUID(query.ItemID), nullUUID(query.ReceiptID),
		nullTimePtr(query.TimeFrom), nullTimePtr(query.TimeTo),
		maxInt(query.Skip, 0), maxInt(query.Limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 64)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) RefundSale(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Sale, error) {
	var refunded *domain.Sale
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		var err error
		refunded, err = refundSaleTx(ctx, tx, id, at)
		return err
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

func refundSaleTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, at time.Time) (*domain.Sale, error) {
	sale, err := scanSale(tx.QueryRowContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if sale.IsRefunded() {
		return nil, fmt.Errorf("%w: sale %s already refunded", store.ErrConflict, id)
	}

	if _, err := adjustQuantityTx(ctx, tx, sale.ItemID, sale.Quantity); err != nil {
		return nil, err
	}

	at = at.UTC()
	_, err = tx.ExecContext(ctx, `
		UPDATE sales SET refunded_at = $2 WHERE id = $1
	`, id, at)
	if err != nil {
		return nil, err
	}
	sale.RefundedAt = &at

	if _, err := refreshCountersTx(ctx, tx, sale.ItemID); err != nil {
		return nil, err
	}
	return sale, nil
}

// ---- receipts ----

const receiptColumns = `id, total_cost, tax, gross_amount, amount_paid, payment_type,
	created_by, created_at, refunded_at`

func scanReceipt(row rowScanner) (*domain.Receipt, error) {
	var receipt domain.Receipt
	var refundedAt sql.NullTime
	err := row.Scan(
		&receipt.ID,
		&receipt.TotalCost,
		&receipt.Tax,
		&receipt.GrossAmount,
		&receipt.AmountPaid,
		&receipt.PaymentType,
		&receipt.CreatedByID,
		&receipt.CreatedAt,
		&refundedAt,
	)
	if err != nil {
		return nil, err
	}
	receipt.CreatedAt = receipt.CreatedAt.UTC()
	if refundedAt.Valid {
		at := refundedAt.Time.UTC()
		receipt.RefundedAt = &at
	}
	return &receipt, nil
}

// CreateReceiptWithSales creates the receipt header, all of its sale lines and
// the stock decrements inside a single serializable transaction. Either the
// whole receipt lands or nothing does.
func (s *Store) CreateReceiptWithSales(ctx context.Context, receipt domain.Receipt, lines []domain.ReceiptLine) (*domain.Receipt, error) {
	if len(lines) == 0 || !domain.IsSupportedPaymentType(receipt.PaymentType) || receipt.Tax.IsNegative() {
		return nil, store.ErrValidation
	}

	ids := make([]uuid.UUID, 0, len(lines))
	seen := make(map[uuid.UUID]bool, len(lines))
	for _, line := range lines {
		if line.Quantity < 1 || seen[line.ItemID] {
			return nil, store.ErrValidation
		}
		seen[line.ItemID] = true
		ids = append(ids, line.ItemID)
	}

	if receipt.ID == uuid.Nil {
		receipt.ID = uuid.New()
	}
	if receipt.CreatedAt.IsZero() {
		receipt.CreatedAt = time.Now().UTC()
	}
	receipt.RefundedAt = nil

	var created *domain.Receipt
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		itemRows, err := tx.QueryContext(ctx, `
			SELECT `+stockItemColumns+`
			FROM stock_items
			WHERE id = ANY($1::uuid[])
			ORDER BY id ASC
			FOR UPDATE
		`, idStrings(ids))
		if err != nil {
			return err
		}
		items := make(map[uuid.UUID]domain.StockItem, len(ids))
		for itemRows.Next() {
			item, err := scanStockItem(itemRows)
			if err != nil {
				_ = itemRows.Close()
				return err
			}
			items[item.ID] = *item
		}
		if err := itemRows.Err(); err != nil {
			_ = itemRows.Close()
			return err
		}
		_ = itemRows.Close()

		missing := make([]uuid.UUID, 0)
		for _, line := range lines {
			if _, exists := items[line.ItemID]; !exists {
				missing = append(missing, line.ItemID)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("%w: stock items %v", store.ErrNotFound, missing)
		}

		now := time.Now().UTC()
		totalCost := decimal.Zero
		for _, line := range lines {
			item := items[line.ItemID]
			if !item.IsAvailable(now) {
				return fmt.Errorf("%w: item %s (%s) is not available", store.ErrInsufficientStock, item.Name, item.ID)
			}
			if item.Quantity < line.Quantity {
				return fmt.Errorf("%w: item %s short by %d (requested %d, available %d)",
					store.ErrInsufficientStock, item.Name, line.Quantity-item.Quantity, line.Quantity, item.Quantity)
			}
			totalCost = totalCost.Add(item.SellingPrice.Mul(decimal.NewFromInt(int64(line.Quantity))))
		}

		receipt.TotalCost = totalCost.Round(2)
		receipt.GrossAmount = receipt.TotalCost.Add(receipt.Tax).Round(2)
		if receipt.AmountPaid.LessThan(receipt.GrossAmount) {
			return fmt.Errorf("%w: amount paid %s is below total %s",
				store.ErrValidation, receipt.AmountPaid.StringFixed(2), receipt.GrossAmount.StringFixed(2))
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO receipts (id, total_cost, tax, gross_amount, amount_paid, payment_type, created_by, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, receipt.ID, receipt.TotalCost, receipt.Tax, receipt.GrossAmount, receipt.AmountPaid,
			receipt.PaymentType, receipt.CreatedByID, receipt.CreatedAt)
		if err != nil {
			return err
		}

		sales := make([]domain.Sale, 0, len(lines))
		for _, line := range lines {
			item := items[line.ItemID]
			if _, err := adjustQuantityTx(ctx, tx, line.ItemID, -line.Quantity); err != nil {
				return err
			}

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
			_, err := tx.ExecContext(ctx, `
				INSERT INTO sales (id, item_id, receipt_id, quantity, unit_cost, cost, payment_type, created_by, created_at)
				VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			`, sale.ID, sale.ItemID, sale.ReceiptID, sale.Quantity, sale.UnitCost, sale.Cost,
				sale.PaymentType, sale.CreatedByID, sale.CreatedAt)
			if err != nil {
				return err
			}
			sales = append(sales, sale)
		}

		for _, line := range lines {
			if _, err := refreshCountersTx(ctx, tx, line.ItemID); err != nil {
				return err
			}
		}

		saved := receipt
		saved.Items = sales
		created = &saved
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) GetReceipt(ctx context.Context, id uuid.UUID) (*domain.Receipt, error) {
	receipt, err := scanReceipt(s.db.QueryRowContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	items, err := s.salesForReceipt(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	receipt.Items = items
	return receipt, nil
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) salesForReceipt(ctx context.Context, q querier, receiptID uuid.UUID) ([]domain.Sale, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+saleColumns+`
		FROM sales
		WHERE receipt_id = $1
		ORDER BY id ASC
	`, receiptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	sales := make([]domain.Sale, 0, 8)
	for rows.Next() {
		sale, err := scanSale(rows)
		if err != nil {
			return nil, err
		}
		sales = append(sales, *sale)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sales, nil
}

func (s *Store) ListReceipts(ctx context.Context, query domain.ReceiptListQuery) ([]domain.Receipt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE ($1::bool IS NULL OR (refunded_at IS NOT NULL) = $1)
			AND ($2 = '' OR payment_type = $2)
			AND ($3::numeric IS NULL OR total_cost >= $3)
			AND ($4::numeric IS NULL OR total_cost <= $4)
			AND ($5::timestamptz IS NULL OR created_at >= $5)
			AND ($6::timestamptz IS NULL OR created_at <= $6)
		ORDER BY created_at DESC, id ASC
		OFFSET $7 LIMIT NULLIF($8, 0)
	`, nullBool(query.Refunded), query.PaymentType,
		nullDecimal(query.PriceFrom), nullDecimal(query.PriceTo),
		nullTimePtr(query.TimeFrom), nullTimePtr(query.TimeTo),
		maxInt(query.Skip, 0), maxInt(query.Limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	receipts := make([]domain.Receipt, 0, 64)
	for rows.Next() {
		receipt, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		receipts = append(receipts, *receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return receipts, nil
}

// RefundReceipt marks the receipt and every still-active line refunded and
// restores the stock, all in one transaction. Refunding twice fails with
// ErrConflict.
func (s *Store) RefundReceipt(ctx context.Context, id uuid.UUID, at time.Time) (*domain.Receipt, error) {
	var refunded *domain.Receipt
	err := s.inSerializableTx(ctx, func(tx *sql.Tx) error {
		receipt, err := scanReceipt(tx.QueryRowContext(ctx, `
			SELECT `+receiptColumns+`
			FROM receipts
			WHERE id = $1
			FOR UPDATE
		`, id))
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return store.ErrNotFound
			}
			return err
		}
		if receipt.IsRefunded() {
			return fmt.Errorf("%w: receipt %s already refunded", store.ErrConflict, id)
		}

		activeRows, err := tx.QueryContext(ctx, `
			SELECT id
			FROM sales
			WHERE receipt_id = $1 AND refunded_at IS NULL
			ORDER BY id ASC
			FOR UPDATE
		`, id)
		if err != nil {
			return err
		}
		activeIDs := make([]uuid.UUID, 0, 8)
		for activeRows.Next() {
			var saleID uuid.UUID
			if err := activeRows.Scan(&saleID); err != nil {
				_ = activeRows.Close()
				return err
			}
			activeIDs = append(activeIDs, saleID)
		}
		if err := activeRows.Err(); err != nil {
			_ = activeRows.Close()
			return err
		}
		_ = activeRows.Close()

		for _, saleID := range activeIDs {
			if _, err := refundSaleTx(ctx, tx, saleID, at); err != nil {
				return err
			}
		}

		refundedAt := at.UTC()
		_, err = tx.ExecContext(ctx, `
			UPDATE receipts SET refunded_at = $2 WHERE id = $1
		`, id, refundedAt)
		if err != nil {
			return err
		}
		receipt.RefundedAt = &refundedAt

		items, err := s.salesForReceipt(ctx, tx, id)
		if err != nil {
			return err
		}
		receipt.Items = items

		refunded = receipt
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refunded, nil
}

// ---- reporting ----

func (s *Store) MostIssued(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	return s.aggregateSales(ctx, window, false, `COUNT(*) DESC, s.item_id ASC`, skip, limit)
}

func (s *Store) MostProfitable(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	return s.aggregateSales(ctx, window, false, `COALESCE(SUM(s.cost), 0) DESC, s.item_id ASC`, skip, limit)
}

func (s *Store) MostRefunded(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error) {
	return s.aggregateSales(ctx, window, true, `COALESCE(SUM(s.quantity), 0) DESC, s.item_id ASC`, skip, limit)
}

func (s *Store) aggregateSales(ctx context.Context, window domain.ReportWindow, refunded bool, orderBy string, skip, limit int) ([]domain.ItemAggregate, error) {
	timeColumn := "s.created_at"
	refundFilter := "s.refunded_at IS NULL"
	if refunded {
		timeColumn = "s.refunded_at"
		refundFilter = "s.refunded_at IS NOT NULL"
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT s.item_id, i.ref, i.name,
			COUNT(*)::bigint,
			COALESCE(SUM(s.quantity), 0)::bigint,
			COALESCE(SUM(s.cost), 0)
		FROM sales s
		JOIN stock_items i ON i.id = s.item_id
		WHERE `+refundFilter+`
			AND ($1::timestamptz IS NULL OR `+timeColumn+` >= $1)
			AND ($2::timestamptz IS NULL OR `+timeColumn+` <= $2)
		GROUP BY s.item_id, i.ref, i.name
		ORDER BY `+orderBy+`
		OFFSET $3 LIMIT NULLIF($4, 0)
	`, nullTimePtr(window.From), nullTimePtr(window.To), maxInt(skip, 0), maxInt(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	aggregates := make([]domain.ItemAggregate, 0, 32)
	for rows.Next() {
		var agg domain.ItemAggregate
		if err := rows.Scan(&agg.ItemID, &agg.Ref, &agg.Name, &agg.SaleCount, &agg.Quantity, &agg.TotalCost); err != nil {
			return nil, err
		}
		agg.TotalCost = agg.TotalCost.Round(2)
		aggregates = append(aggregates, agg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return aggregates, nil
}

func (s *Store) ExpiringSoon(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+stockItemColumns+`
		FROM stock_items
		WHERE deleted_at IS NULL
			AND ($1::date IS NULL OR expiry_date >= $1)
			AND ($2::date IS NULL OR expiry_date <= $2)
		ORDER BY expiry_date ASC, id ASC
		OFFSET $3 LIMIT NULLIF($4, 0)
	`, nullTimePtr(window.From), nullTimePtr(window.To), maxInt(skip, 0), maxInt(limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := make([]domain.StockItem, 0, 32)
	for rows.Next() {
		item, err := scanStockItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) TotalStockValue(ctx context.Context, window domain.ReportWindow) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(purchase_price * quantity), 0)
		FROM stock_items
		WHERE deleted_at IS NULL
			AND ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
	`, nullTimePtr(window.From), nullTimePtr(window.To)).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

func (s *Store) ExpectedReturn(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(selling_price * quantity), 0)
		FROM stock_items
		WHERE deleted_at IS NULL
	`).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

func (s *Store) SalesTotal(ctx context.Context, window domain.ReportWindow, paymentTypes []string) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0)
		FROM sales
		WHERE refunded_at IS NULL
			AND ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
			AND ($3::text[] IS NULL OR cardinality($3::text[]) = 0 OR payment_type = ANY($3))
	`, nullTimePtr(window.From), nullTimePtr(window.To), paymentTypes).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

// ---- expenses ----

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.Name == "" || !expense.Price.IsPositive() {
		return nil, store.ErrValidation
	}
	if expense.ID == uuid.Nil {
		expense.ID = uuid.New()
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO expenses (id, name, description, price, created_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, expense.ID, expense.Name, expense.Description, expense.Price, expense.CreatedByID, expense.CreatedAt)
	if err != nil {
		return nil, err
	}

	created := expense
	return &created, nil
}

func (s *Store) GetExpense(ctx context.Context, id uuid.UUID) (*domain.Expense, error) {
	var expense domain.Expense
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, price, created_by, created_at
		FROM expenses
		WHERE id = $1
	`, id).Scan(&expense.ID, &expense.Name, &expense.Description, &expense.Price, &expense.CreatedByID, &expense.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	expense.CreatedAt = expense.CreatedAt.UTC()
	return &expense, nil
}

func (s *Store) ListExpenses(ctx context.Context, query domain.ExpenseListQuery) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, price, created_by, created_at
		FROM expenses
		WHERE ($1 = '' OR name ILIKE '%' || $1 || '%')
			AND ($2::numeric IS NULL OR price >= $2)
			AND ($3::numeric IS NULL OR price <= $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at <= $5)
		ORDER BY created_at DESC, id ASC
		OFFSET $6 LIMIT NULLIF($7, 0)
	`, query.Search, nullDecimal(query.PriceFrom), nullDecimal(query.PriceTo),
		nullTimePtr(query.TimeFrom), nullTimePtr(query.TimeTo),
		maxInt(query.Skip, 0), maxInt(query.Limit, 0))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	expenses := make([]domain.Expense, 0, 32)
	for rows.Next() {
		var expense domain.Expense
		if err := rows.Scan(&expense.ID, &expense.Name, &expense.Description, &expense.Price, &expense.CreatedByID, &expense.CreatedAt); err != nil {
			return nil, err
		}
		expense.CreatedAt = expense.CreatedAt.UTC()
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return expenses, nil
}

func (s *Store) DeleteExpense(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = $1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ExpensesTotal(ctx context.Context, window domain.ReportWindow) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(price), 0)
		FROM expenses
		WHERE ($1::timestamptz IS NULL OR created_at >= $1)
			AND ($2::timestamptz IS NULL OR created_at <= $2)
	`, nullTimePtr(window.From), nullTimePtr(window.To)).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total.Round(2), nil
}

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	if user.Username == "" || user.Password == "" {
		return store.ErrValidation
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password, role, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
	`, user.ID, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, password, role, active, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, username, password, role, active, created_at
		FROM users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 16)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.ID, &user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE users SET password = $2 WHERE username = $1
	`, username, password)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ---- helpers ----

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		out = append(out, id.String())
	}
	return out
}

func nullInt(val *int) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullBool(val *bool) any {
	if val == nil {
		return nil
	}
	return *val
}

func nullUUID(val uuid.UUID) any {
	if val == uuid.Nil {
		return nil
	}
	return val
}

func nullTimePtr(val *time.Time) any {
	if val == nil {
		return nil
	}
	return val.UTC()
}

func nullDecimal(val *decimal.Decimal) any {
	if val == nil {
		return nil
	}
	return *val
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
