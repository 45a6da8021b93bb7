package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shopledger/backend/internal/cache"
	"shopledger/backend/internal/domain"
	"shopledger/backend/internal/service"
	"shopledger/backend/internal/store/memory"
)

// newTestAPI builds a full API over the in-memory store so handler tests
// exercise the complete request path, auth included.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.New()
	return New(
		service.NewCatalog(repo),
		service.NewLedger(repo, cache.NoopDashboardCache{}),
		service.NewReceipts(repo, cache.NoopDashboardCache{}),
		service.NewReports(repo, cache.NoopDashboardCache{}, time.Second),
		service.NewExpenses(repo, cache.NoopDashboardCache{}),
		NewAuthManager("test-secret-key", time.Hour, repo),
		"*",
	)
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	payload, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed with status %d: %s", username, rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login response: %v", err)
	}
	return resp.AccessToken
}

func doJSON(t *testing.T, api *API, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func createStockItem(t *testing.T, api *API, token, name string, quantity int) domain.StockItem {
	t.Helper()

	rec := doJSON(t, api, http.MethodPost, "/api/v1/stock", token, map[string]any{
		"name":           name,
		"purchase_price": "2.00",
		"selling_price":  "5.00",
		"quantity":       quantity,
		"expiry_date":    time.Now().UTC().AddDate(1, 0, 0).Format(time.RFC3339),
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create stock item failed with status %d: %s", rec.Code, rec.Body.String())
	}

	var item domain.StockItem
	if err := json.NewDecoder(rec.Body).Decode(&item); err != nil {
		t.Fatalf("decode stock item: %v", err)
	}
	return item
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/auth/login", "", domain.LoginRequest{
		Username: "admin",
		Password: "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleStock_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/stock", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without a token, got %d", rec.Code)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/stock", "not-a-real-token", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for a garbage token, got %d", rec.Code)
	}
}

func TestStockCreateAndFetchByRef(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")

	item := createStockItem(t, api, token, "Ibuprofen 400mg", 30)
	if item.Ref == "" {
		t.Fatalf("expected a generated ref")
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/stock/ref/"+item.Ref, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("fetch by ref failed with status %d: %s", rec.Code, rec.Body.String())
	}

	var fetched domain.StockItem
	if err := json.NewDecoder(rec.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode stock item: %v", err)
	}
	if fetched.ID != item.ID {
		t.Fatalf("ref lookup returned a different item")
	}
}

func TestReceiptLifecycleOverHTTP(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	item := createStockItem(t, api, token, "Vitamin C", 20)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/receipts", token, map[string]any{
		"amount_paid": "25.00",
		"items": []map[string]any{
			{"item_id": item.ID, "quantity": 5},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create receipt failed with status %d: %s", rec.Code, rec.Body.String())
	}

	var receipt domain.Receipt
	if err := json.NewDecoder(rec.Body).Decode(&receipt); err != nil {
		t.Fatalf("decode receipt: %v", err)
	}
	if receipt.TotalCost.StringFixed(2) != "25.00" {
		t.Fatalf("expected total 25.00, got %s", receipt.TotalCost)
	}
	if len(receipt.Items) != 1 {
		t.Fatalf("expected 1 line, got %d", len(receipt.Items))
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/receipts/"+receipt.ID.String(), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("refund failed with status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodDelete, "/api/v1/receipts/"+receipt.ID.String(), token, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second refund expected 409, got %d", rec.Code)
	}
}

func TestReceiptErrorsMapToStatuses(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	item := createStockItem(t, api, token, "Zinc", 3)

	// Underpayment is a validation failure.
	rec := doJSON(t, api, http.MethodPost, "/api/v1/receipts", token, map[string]any{
		"amount_paid": "1.00",
		"items":       []map[string]any{{"item_id": item.ID, "quantity": 1}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("underpayment expected 400, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Unknown item id is not found.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/receipts", token, map[string]any{
		"amount_paid": "100.00",
		"items":       []map[string]any{{"item_id": "00000000-0000-0000-0000-000000000001", "quantity": 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown item expected 404, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	// Oversell is a stock conflict.
	rec = doJSON(t, api, http.MethodPost, "/api/v1/receipts", token, map[string]any{
		"amount_paid": "100.00",
		"items":       []map[string]any{{"item_id": item.ID, "quantity": 10}},
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("oversell expected 409, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestCashierCannotReachAdminReports(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "cashier", "cashier123")

	for _, path := range []string{
		"/api/v1/dash",
		"/api/v1/reports/most-profitable",
		"/api/v1/reports/sales-total",
		"/api/v1/reports/expected-return",
		"/api/v1/users",
	} {
		rec := doJSON(t, api, http.MethodGet, path, token, nil)
		if rec.Code != http.StatusForbidden {
			t.Fatalf("%s expected 403 for cashier, got %d", path, rec.Code)
		}
	}

	rec := doJSON(t, api, http.MethodGet, "/api/v1/reports/most-issued", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("most-issued should be open to cashiers, got %d", rec.Code)
	}
}

func TestExpectedReturnEndpointPricesRemainingStock(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	createStockItem(t, api, token, "Item", 4)

	rec := doJSON(t, api, http.MethodGet, "/api/v1/reports/expected-return", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected return failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Total string `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode total: %v", err)
	}
	if result.Total != "20.00" {
		t.Fatalf("expected 20.00 for 4 units at 5.00, got %s", result.Total)
	}
}

func TestSalesTotalEndpointFiltersPayments(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	item := createStockItem(t, api, token, "Item", 50)

	rec := doJSON(t, api, http.MethodPost, "/api/v1/receipts", token, map[string]any{
		"payment_type": domain.PaymentCard,
		"amount_paid":  "10.00",
		"items":        []map[string]any{{"item_id": item.ID, "quantity": 2}},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create receipt failed with status %d: %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, api, http.MethodGet, fmt.Sprintf("/api/v1/reports/sales-total?payment_types=%s", domain.PaymentCard), token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("sales total failed with status %d: %s", rec.Code, rec.Body.String())
	}
	var result struct {
		Total string `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&result); err != nil {
		t.Fatalf("decode total: %v", err)
	}
	if result.Total != "10.00" {
		t.Fatalf("expected CARD total 10.00, got %s", result.Total)
	}

	rec = doJSON(t, api, http.MethodGet, "/api/v1/reports/sales-total?payment_types=BARTER", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown payment type expected 400, got %d", rec.Code)
	}
}
