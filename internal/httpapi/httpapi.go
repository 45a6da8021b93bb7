package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store"
)

type API struct {
	catalog       *service.Catalog
	ledger        *service.Ledger
	receipts      *service.Receipts
	reports       *service.Reports
	expenses      *service.Expenses
	auth          *AuthManager
	allowedOrigin string
	loginLimiter  *attemptLimiter
}

func New(catalog *service.Catalog, ledger *service.Ledger, receipts *service.Receipts, reports *service.Reports, expenses *service.Expenses, auth *AuthManager, allowedOrigin string) *API {
	return &API{
		catalog:       catalog,
		ledger:        ledger,
		receipts:      receipts,
		reports:       reports,
		expenses:      expenses,
		auth:          auth,
		allowedOrigin: allowedOrigin,
		loginLimiter:  newAttemptLimiter(5, time.Minute),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	mux.HandleFunc("/api/v1/auth/login", a.handleLogin)
	mux.HandleFunc("/api/v1/auth/password", a.requireAuth(a.handlePasswordChange, "cashier", "admin"))

	mux.HandleFunc("/api/v1/stock", a.requireAuth(a.handleStock, "cashier", "admin"))
	mux.HandleFunc("/api/v1/stock/", a.requireAuth(a.handleStockActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/receipts", a.requireAuth(a.handleReceipts, "cashier", "admin"))
	mux.HandleFunc("/api/v1/receipts/", a.requireAuth(a.handleReceiptActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/sales", a.requireAuth(a.handleSales, "cashier", "admin"))
	mux.HandleFunc("/api/v1/sales/", a.requireAuth(a.handleSaleActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/reports/most-issued", a.requireAuth(a.handleMostIssued, "cashier", "admin"))
	mux.HandleFunc("/api/v1/reports/most-profitable", a.requireAuth(a.handleMostProfitable, "admin"))
	mux.HandleFunc("/api/v1/reports/most-refunded", a.requireAuth(a.handleMostRefunded, "admin"))
	mux.HandleFunc("/api/v1/reports/expiring-soon", a.requireAuth(a.handleExpiringSoon, "cashier", "admin"))
	mux.HandleFunc("/api/v1/reports/stock-value", a.requireAuth(a.handleStockValue, "admin"))
	mux.HandleFunc("/api/v1/reports/expected-return", a.requireAuth(a.handleExpectedReturn, "admin"))
	mux.HandleFunc("/api/v1/reports/sales-total", a.requireAuth(a.handleSalesTotal, "admin"))
	mux.HandleFunc("/api/v1/dash", a.requireAuth(a.handleDashboard, "admin"))

	mux.HandleFunc("/api/v1/expenses", a.requireAuth(a.handleExpenses, "cashier", "admin"))
	mux.HandleFunc("/api/v1/expenses/summary", a.requireAuth(a.handleExpenseSummary, "admin"))
	mux.HandleFunc("/api/v1/expenses/", a.requireAuth(a.handleExpenseActions, "cashier", "admin"))

	mux.HandleFunc("/api/v1/users", a.requireAuth(a.handleUsers, "admin"))

	return a.withMiddleware(mux)
}

func (a *API) requireAuth(next http.HandlerFunc, roles ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authorization := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authorization), "bearer ") {
			writeError(w, http.StatusUnauthorized, errors.New("missing bearer token"))
			return
		}

		token := strings.TrimSpace(authorization[len("Bearer "):])
		actor, err := a.auth.ParseToken(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err)
			return
		}

		if len(roles) > 0 && !isRoleAllowed(actor.Role, roles) {
			writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}

		next(w, r.WithContext(service.WithActor(r.Context(), actor)))
	}
}

func isRoleAllowed(role string, allowed []string) bool {
	for _, allow := range allowed {
		if role == allow {
			return true
		}
	}
	return false
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}
	if !a.loginLimiter.Allow(clientKey(r)) {
		writeError(w, http.StatusTooManyRequests, errors.New("too many login attempts"))
		return
	}

	var req domain.LoginRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	resp, err := a.auth.Login(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handlePasswordChange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeMethodNotAllowed(w)
		return
	}

	var req domain.PasswordChangeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, ok := service.ActorFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errors.New("missing identity"))
		return
	}
	if err := a.auth.ChangePassword(r.Context(), actor.Username, req); err != nil {
		if errors.Is(err, store.ErrValidation) || errors.Is(err, store.ErrNotFound) {
			a.writeServiceError(w, err)
			return
		}
		writeError(w, http.StatusUnauthorized, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": true})
}

// ---- stock ----

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if raw := strings.TrimSpace(r.URL.Query().Get("ids")); raw != "" {
			ids := make([]uuid.UUID, 0, 8)
			for _, part := range strings.Split(raw, ",") {
				id, err := uuid.Parse(strings.TrimSpace(part))
				if err != nil {
					writeError(w, http.StatusBadRequest, errors.New("invalid id in ids filter"))
					return
				}
				ids = append(ids, id)
			}
			items, err := a.catalog.GetItems(r.Context(), ids)
			if err != nil {
				a.writeServiceError(w, err)
				return
			}
			writeJSON(w, http.StatusOK, items)
			return
		}
		query := domain.StockListQuery{
			Skip:            parseIntQuery(r, "skip", 0),
			Limit:           parseIntQuery(r, "limit", 100),
			Search:          r.URL.Query().Get("search"),
			QuantityMin:     parseIntPtrQuery(r, "quantity_min"),
			QuantityMax:     parseIntPtrQuery(r, "quantity_max"),
			ExpiryDateMin:   parseTimeQuery(r, "expiry_from"),
			ExpiryDateMax:   parseTimeQuery(r, "expiry_to"),
			SellingPriceMin: parseDecimalQuery(r, "price_from"),
			SellingPriceMax: parseDecimalQuery(r, "price_to"),
			IncludeDeleted:  r.URL.Query().Get("include_deleted") == "true",
		}
		items, err := a.catalog.ListItems(r.Context(), query)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, items)
	case http.MethodPost:
		var req domain.StockCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.catalog.CreateItem(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, item)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleStockActions(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/stock/")

	if ref, ok := strings.CutPrefix(rest, "ref/"); ok {
		if r.Method != http.MethodGet {
			writeMethodNotAllowed(w)
			return
		}
		silent := r.URL.Query().Get("silent") == "true"
		item, err := a.catalog.GetItemByRef(r.Context(), ref, silent)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		// In silent mode a miss is a 200 with a null body.
		writeJSON(w, http.StatusOK, item)
		return
	}

	idPart, action, _ := strings.Cut(rest, "/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid stock item id"))
		return
	}

	if action == "adjust" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		var req struct {
			Delta int `json:"delta"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.catalog.AdjustQuantity(r.Context(), id, req.Delta)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}
	if action == "recount" {
		if r.Method != http.MethodPost {
			writeMethodNotAllowed(w)
			return
		}
		item, err := a.catalog.RefreshCounters(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
		return
	}
	if action != "" {
		writeError(w, http.StatusNotFound, errors.New("unknown stock action"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		item, err := a.catalog.GetItem(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPatch:
		var req domain.StockUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		item, err := a.catalog.UpdateItem(r.Context(), id, req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := a.catalog.DeleteItem(r.Context(), id); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

// ---- receipts ----

func (a *API) handleReceipts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := domain.ReceiptListQuery{
			Skip:        parseIntQuery(r, "skip", 0),
			Limit:       parseIntQuery(r, "limit", 100),
			Refunded:    parseBoolQuery(r, "refunded"),
			PaymentType: r.URL.Query().Get("payment_type"),
			PriceFrom:   parseDecimalQuery(r, "price_from"),
			PriceTo:     parseDecimalQuery(r, "price_to"),
			TimeFrom:    parseTimeQuery(r, "from"),
			TimeTo:      parseTimeQuery(r, "to"),
		}
		receipts, err := a.receipts.ListReceipts(r.Context(), query)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receipts)
	case http.MethodPost:
		var req domain.ReceiptCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		receipt, err := a.receipts.CreateReceipt(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, receipt)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleReceiptActions(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/v1/receipts/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid receipt id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		receipt, err := a.receipts.GetReceipt(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	case http.MethodDelete:
		// Deleting a receipt means refunding it wholesale.
		receipt, err := a.receipts.RefundReceipt(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, receipt)
	default:
		writeMethodNotAllowed(w)
	}
}

// ---- sales ----

func (a *API) handleSales(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := domain.SaleListQuery{
			Skip:     parseIntQuery(r, "skip", 0),
			Limit:    parseIntQuery(r, "limit", 100),
			Refunded: parseBoolQuery(r, "refunded"),
			TimeFrom: parseTimeQuery(r, "from"),
			TimeTo:   parseTimeQuery(r, "to"),
		}
		if raw := r.URL.Query().Get("item_id"); raw != "" {
			itemID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid item_id"))
				return
			}
			query.ItemID = itemID
		}
		if raw := r.URL.Query().Get("receipt_id"); raw != "" {
			receiptID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errors.New("invalid receipt_id"))
				return
			}
			query.ReceiptID = receiptID
		}
		sales, err := a.ledger.ListSales(r.Context(), query)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sales)
	case http.MethodPost:
		var req struct {
			ReceiptID   uuid.UUID `json:"receipt_id"`
			ItemID      uuid.UUID `json:"item_id"`
			Quantity    int       `json:"quantity"`
			PaymentType string    `json:"payment_type,omitempty"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		sale, err := a.ledger.RecordSale(r.Context(), req.ReceiptID, domain.ReceiptLine{ItemID: req.ItemID, Quantity: req.Quantity}, req.PaymentType)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sale)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleSaleActions(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/v1/sales/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid sale id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		sale, err := a.ledger.GetSale(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	case http.MethodDelete:
		// Deleting a sale refunds that single line.
		sale, err := a.ledger.RefundSale(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sale)
	default:
		writeMethodNotAllowed(w)
	}
}

// ---- reports ----

func reportWindowFromRequest(r *http.Request) domain.ReportWindow {
	return domain.ReportWindow{
		From: parseTimeQuery(r, "from"),
		To:   parseTimeQuery(r, "to"),
	}
}

func (a *API) handleMostIssued(w http.ResponseWriter, r *http.Request) {
	a.handleRanking(w, r, a.reports.MostIssued)
}

func (a *API) handleMostProfitable(w http.ResponseWriter, r *http.Request) {
	a.handleRanking(w, r, a.reports.MostProfitable)
}

func (a *API) handleMostRefunded(w http.ResponseWriter, r *http.Request) {
	a.handleRanking(w, r, a.reports.MostRefunded)
}

func (a *API) handleRanking(w http.ResponseWriter, r *http.Request, rank func(ctx context.Context, window domain.ReportWindow, skip, limit int) ([]domain.ItemAggregate, error)) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	aggregates, err := rank(r.Context(), reportWindowFromRequest(r), parseIntQuery(r, "skip", 0), parseIntQuery(r, "limit", 20))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregates)
}

func (a *API) handleExpiringSoon(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	items, err := a.reports.ExpiringSoon(r.Context(), parseIntQuery(r, "days", 30), parseIntQuery(r, "skip", 0), parseIntQuery(r, "limit", 20))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (a *API) handleStockValue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	result, err := a.reports.TotalStockValue(r.Context(), reportWindowFromRequest(r))
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleExpectedReturn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	result, err := a.reports.ExpectedReturn(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleSalesTotal(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	var paymentTypes []string
	if raw := strings.TrimSpace(r.URL.Query().Get("payment_types")); raw != "" {
		paymentTypes = strings.Split(raw, ",")
	}
	result, err := a.reports.SalesTotal(r.Context(), reportWindowFromRequest(r), paymentTypes)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	summary, err := a.reports.Dashboard(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// ---- expenses ----

func (a *API) handleExpenses(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		query := domain.ExpenseListQuery{
			Skip:      parseIntQuery(r, "skip", 0),
			Limit:     parseIntQuery(r, "limit", 100),
			Search:    r.URL.Query().Get("search"),
			PriceFrom: parseDecimalQuery(r, "price_from"),
			PriceTo:   parseDecimalQuery(r, "price_to"),
			TimeFrom:  parseTimeQuery(r, "from"),
			TimeTo:    parseTimeQuery(r, "to"),
		}
		expenses, err := a.expenses.ListExpenses(r.Context(), query)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, expenses)
	case http.MethodPost:
		var req domain.ExpenseCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		expense, err := a.expenses.CreateExpense(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, expense)
	default:
		writeMethodNotAllowed(w)
	}
}

func (a *API) handleExpenseSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeMethodNotAllowed(w)
		return
	}
	summary, err := a.expenses.Summary(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleExpenseActions(w http.ResponseWriter, r *http.Request) {
	idPart := strings.TrimPrefix(r.URL.Path, "/api/v1/expenses/")
	id, err := uuid.Parse(idPart)
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid expense id"))
		return
	}

	switch r.Method {
	case http.MethodGet:
		expense, err := a.expenses.GetExpense(r.Context(), id)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, expense)
	case http.MethodDelete:
		if err := a.expenses.DeleteExpense(r.Context(), id); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
	default:
		writeMethodNotAllowed(w)
	}
}

// ---- users ----

func (a *API) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		users, err := a.auth.ListUsers(r.Context())
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, users)
	case http.MethodPost:
		var req domain.UserCreateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		user, err := a.auth.CreateUser(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, user)
	default:
		writeMethodNotAllowed(w)
	}
}

// ---- plumbing ----

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if (r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut) && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(startedAt))
	})
}

// writeServiceError maps the store's sentinel errors onto HTTP statuses:
// validation 400, not found 404, insufficient stock and conflicts 409.
func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrValidation):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrInsufficientStock), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err)
	default:
		writeError(w, http.StatusInternalServerError, err)
	}
}

type attemptLimiter struct {
	mu      sync.Mutex
	max     int
	window  time.Duration
	entries map[string][]time.Time
}

func newAttemptLimiter(max int, window time.Duration) *attemptLimiter {
	if max < 1 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &attemptLimiter{max: max, window: window, entries: make(map[string][]time.Time)}
}

func (l *attemptLimiter) Allow(key string) bool {
	if l == nil {
		return true
	}
	now := time.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	history := l.entries[key]
	kept := make([]time.Time, 0, len(history)+1)
	for _, ts := range history {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.max {
		l.entries[key] = kept
		return false
	}
	kept = append(kept, now)
	l.entries[key] = kept
	return true
}

func clientKey(r *http.Request) string {
	host := strings.TrimSpace(r.RemoteAddr)
	if host == "" {
		return "unknown"
	}
	if addr, err := netip.ParseAddrPort(host); err == nil {
		return addr.Addr().String()
	}
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

func parseIntQuery(r *http.Request, key string, fallback int) int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseIntPtrQuery(r *http.Request, key string) *int {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseBoolQuery(r *http.Request, key string) *bool {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func parseTimeQuery(r *http.Request, key string) *time.Time {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if day, dayErr := time.Parse("2006-01-02", raw); dayErr == nil {
			day = day.UTC()
			return &day
		}
		return nil
	}
	parsed = parsed.UTC()
	return &parsed
}

func parseDecimalQuery(r *http.Request, key string) *decimal.Decimal {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &parsed
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log; clients get a generic message.
	msg := err.Error()
	if status >= 500 {
		log.Printf("internal error (status %d): %v", status, err)
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
