package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"goldbook/backend/internal/domain"
	"goldbook/backend/internal/notify"
	"goldbook/backend/internal/service"
	"goldbook/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, repo, notify.Noop{}, "main-shop")
	auth := NewAuthManager("test-secret-key", time.Hour, "main-shop", repo)

	return New(svc, auth, "*")
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

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

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "owner123"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp domain.LoginResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if strings.TrimSpace(resp.AccessToken) == "" {
		t.Fatalf("expected access_token in response")
	}
	if resp.Role != "owner" {
		t.Fatalf("expected owner role, got %q", resp.Role)
	}
	if resp.ShopID != "main-shop" {
		t.Fatalf("expected shop_id main-shop, got %q", resp.ShopID)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "wrongpassword"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	payload, _ := json.Marshal(domain.LoginRequest{Username: "owner", Password: "badpass"})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleInvoices_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/invoices", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestInvoiceCreateWithoutCSRFRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "staff", "staff123")

	payload, _ := json.Marshal(domain.InvoiceCreateRequest{
		Items: []domain.InvoiceItemInput{
			{Name: "Gold Ring", Metal: "gold", WeightGrams: 5, Purity: "22K", RatePerGram: 6000},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without CSRF token, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestInvoiceCreateAndStatusFlow(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "staff", "staff123")
	csrf := fetchCSRFToken(t, api)

	// due invoice: no points are credited until it is marked paid.
	payload, _ := json.Marshal(domain.InvoiceCreateRequest{
		Customer: domain.CustomerSnapshot{
			Name:    "Meera Nair",
			Phone:   "9876543210",
			Address: "12 Temple Street",
			State:   "Kerala",
			Pincode: "682001",
		},
		Items: []domain.InvoiceItemInput{
			{Name: "Gold Chain", Metal: "gold", WeightGrams: 10, Purity: "22K", RatePerGram: 6000, MakingCharge: 500},
		},
		Discount: 500,
		Status:   domain.InvoiceStatusDue,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created domain.InvoiceCreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	// subtotal 60500, discount 500, 3% GST split equally: cgst 900 + sgst 900.
	if created.GrandTotal != 61800 {
		t.Fatalf("expected grand total 61800, got %v", created.GrandTotal)
	}
	// flat ratio 0.01 on 61800 yields 618 pending points.
	if created.PointsEarned != 618 {
		t.Fatalf("expected 618 pending points, got %d", created.PointsEarned)
	}
	if created.CustomerID == "" {
		t.Fatalf("expected customer id in response")
	}

	// The points stay pending while the invoice is due.
	for _, c := range listCustomers(t, api, token) {
		if c.ID == created.CustomerID && c.LoyaltyPoints != 0 {
			t.Fatalf("expected zero balance on a due invoice, got %d", c.LoyaltyPoints)
		}
	}

	// Marking paid credits the pending points.
	statusPayload, _ := json.Marshal(domain.InvoiceStatusRequest{Status: domain.InvoiceStatusPaid})
	statusReq := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/"+created.InvoiceID+"/status", bytes.NewReader(statusPayload))
	statusReq.Header.Set("Content-Type", "application/json")
	statusReq.Header.Set("Authorization", "Bearer "+token)
	statusReq.Header.Set("X-CSRF-Token", csrf)
	statusRec := httptest.NewRecorder()

	handler.ServeHTTP(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("expected 200 on status change, got %d (body: %s)", statusRec.Code, statusRec.Body.String())
	}

	customers := listCustomers(t, api, token)
	var balance int64 = -1
	for _, c := range customers {
		if c.ID == created.CustomerID {
			balance = c.LoyaltyPoints
		}
	}
	if balance != 618 {
		t.Fatalf("expected 618 loyalty points after marking paid, got %d", balance)
	}
}

func TestInvoiceCreate_RedeemOverBalanceRejected(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "staff", "staff123")
	csrf := fetchCSRFToken(t, api)

	payload, _ := json.Marshal(domain.InvoiceCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Ravi Kumar", Phone: "9000000001"},
		Items: []domain.InvoiceItemInput{
			{Name: "Silver Anklet", Metal: "silver", WeightGrams: 20, Purity: "925", RatePerGram: 90},
		},
		RedeemPoints: 500,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for redeem over balance, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestInvoiceCancelReleasesStock(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "owner", "owner123")
	csrf := fetchCSRFToken(t, api)

	ring := findInventoryByTag(t, api, token, "G-RING-001")
	if ring.Status != domain.StockStatusInStock {
		t.Fatalf("expected seeded ring to be in stock, got %s", ring.Status)
	}

	payload, _ := json.Marshal(domain.InvoiceCreateRequest{
		Customer: domain.CustomerSnapshot{Name: "Anita Shah", Phone: "9000000002"},
		Items: []domain.InvoiceItemInput{
			{Name: ring.Name, Metal: ring.Metal, WeightGrams: ring.WeightGrams, Purity: ring.Purity, RatePerGram: 6100, StockItemID: ring.ID},
		},
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/invoices", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-CSRF-Token", csrf)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("create failed: %d (body: %s)", rec.Code, rec.Body.String())
	}
	var created domain.InvoiceCreateResponse
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	sold := findInventoryByTag(t, api, token, "G-RING-001")
	if sold.Status != domain.StockStatusSold {
		t.Fatalf("expected ring SOLD after sale, got %s", sold.Status)
	}

	statusPayload, _ := json.Marshal(domain.InvoiceStatusRequest{Status: domain.InvoiceStatusCancelled})
	statusReq := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/"+created.InvoiceID+"/status", bytes.NewReader(statusPayload))
	statusReq.Header.Set("Content-Type", "application/json")
	statusReq.Header.Set("Authorization", "Bearer "+token)
	statusReq.Header.Set("X-CSRF-Token", csrf)
	statusRec := httptest.NewRecorder()
	handler.ServeHTTP(statusRec, statusReq)

	if statusRec.Code != http.StatusOK {
		t.Fatalf("cancel failed: %d (body: %s)", statusRec.Code, statusRec.Body.String())
	}

	released := findInventoryByTag(t, api, token, "G-RING-001")
	if released.Status != domain.StockStatusInStock {
		t.Fatalf("expected ring back in stock after cancel, got %s", released.Status)
	}

	// Cancelling twice must be rejected.
	repeatReq := httptest.NewRequest(http.MethodPost, "/api/v1/invoices/"+created.InvoiceID+"/status", bytes.NewReader(statusPayload))
	repeatReq.Header.Set("Content-Type", "application/json")
	repeatReq.Header.Set("Authorization", "Bearer "+token)
	repeatReq.Header.Set("X-CSRF-Token", csrf)
	repeatRec := httptest.NewRecorder()
	handler.ServeHTTP(repeatRec, repeatReq)

	if repeatRec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on repeated cancel, got %d (body: %s)", repeatRec.Code, repeatRec.Body.String())
	}
}

func TestAuditLogsRequireOwnerRole(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()
	token := loginAs(t, api, "staff", "staff123")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/audit-logs", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for staff on audit logs, got %d", rec.Code)
	}
}

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Referrer-Policy"); got == "" {
		t.Fatalf("expected Referrer-Policy to be set")
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"username":"%s","password":"x"}`, veryLong)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if res.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for too large body, got %d", res.Code)
	}
}

func TestParsePositiveLimitCaps(t *testing.T) {
	if got := parsePositiveLimit("9999", 50, 200); got != 200 {
		t.Fatalf("expected capped limit 200, got %d", got)
	}
	if got := parsePositiveLimit("", 50, 200); got != 50 {
		t.Fatalf("expected fallback limit 50, got %d", got)
	}
	if got := parsePositiveLimit("invalid", 50, 200); got != 50 {
		t.Fatalf("expected fallback on invalid input, got %d", got)
	}
}

// fetchCSRFToken calls the CSRF token endpoint and returns the token string.
func fetchCSRFToken(t *testing.T, api *API) string {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/csrf-token", nil)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("csrf-token endpoint returned status %d", res.Code)
	}
	var payload map[string]string
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode csrf-token response failed: %v", err)
	}
	tok := payload["csrf_token"]
	if strings.TrimSpace(tok) == "" {
		t.Fatalf("expected non-empty csrf_token in response")
	}
	return tok
}

func loginAs(t *testing.T, api *API, username, password string) string {
	t.Helper()

	body, _ := json.Marshal(domain.LoginRequest{Username: username, Password: password})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("%s login failed, status %d", username, res.Code)
	}

	var payload domain.LoginResponse
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode login response failed: %v", err)
	}
	if strings.TrimSpace(payload.AccessToken) == "" {
		t.Fatalf("expected access token in login response")
	}
	return payload.AccessToken
}

func listCustomers(t *testing.T, api *API, token string) []domain.Customer {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/customers", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("list customers failed, status %d", res.Code)
	}

	var payload struct {
		Customers []domain.Customer `json:"customers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode customers failed: %v", err)
	}
	return payload.Customers
}

func findInventoryByTag(t *testing.T, api *API, token, tagNo string) domain.InventoryItem {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/inventory", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	res := httptest.NewRecorder()
	api.Handler().ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("list inventory failed, status %d", res.Code)
	}

	var payload struct {
		Items []domain.InventoryItem `json:"items"`
	}
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode inventory failed: %v", err)
	}
	for _, item := range payload.Items {
		if item.TagNo == tagNo {
			return item
		}
	}
	t.Fatalf("inventory item %s not found", tagNo)
	return domain.InventoryItem{}
}
