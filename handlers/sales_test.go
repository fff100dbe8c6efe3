package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/sales_ledger/memstore"
	"github.com/mmdatafocus/sales_ledger/models"
	"github.com/mmdatafocus/sales_ledger/models/reports"
	"github.com/mmdatafocus/sales_ledger/sales"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fixture struct {
	router    *gin.Engine
	store     *memstore.Store
	partnerId int
	productId int
	lotId     int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	partner := store.AddPartner(models.Partner{Name: "Customer A"})
	product := store.AddProduct(models.Product{Name: "Rice", Unit: "bag"})
	lot := store.AddLot(models.ProductionBatch{
		ProductId:      product.ID,
		BatchNumber:    "B-001",
		ProductionDate: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		ProducedQty:    decimal.NewFromInt(100),
	})

	logger := logrus.New()
	svc := sales.NewService(store, sales.WithLogger(logger))
	r := gin.New()
	NewSalesHandler(svc, logger).Register(r)
	return &fixture{router: r, store: store, partnerId: partner.ID, productId: product.ID, lotId: lot.ID}
}

func (f *fixture) saleBody(number string, qty int) map[string]any {
	return map[string]any{
		"invoice_number": number,
		"partner_id":     f.partnerId,
		"invoice_date":   "2026-01-05T00:00:00Z",
		"is_gst":         false,
		"payment_status": "PENDING",
		"lines": []map[string]any{{
			"product_id": f.productId,
			"rate":       "10",
			"allocations": []map[string]any{{
				"production_batch_id": f.lotId,
				"quantity":            fmt.Sprint(qty),
			}},
		}},
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func (f *fixture) remaining(t *testing.T) decimal.Decimal {
	t.Helper()
	lot, ok := f.store.Lot(f.lotId)
	if !ok {
		t.Fatalf("lot %d missing", f.lotId)
	}
	return lot.RemainingQty
}

type errorBody struct {
	Error   string         `json:"error"`
	Code    string         `json:"code"`
	Details map[string]any `json:"details"`
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body
}

func TestSalesLifecycleOverHTTP(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, http.MethodPost, "/sales", f.saleBody("INV-1", 30))
	if w.Code != http.StatusCreated {
		t.Fatalf("create: got %d body=%s", w.Code, w.Body.String())
	}
	var created models.SaleDetail
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode sale: %v", err)
	}
	if !created.InvoiceSubtotal.Equal(decimal.NewFromInt(300)) {
		t.Fatalf("subtotal: got %s want 300", created.InvoiceSubtotal)
	}
	if len(created.Lines) != 1 || created.Lines[0].BatchNumber != "B-001" {
		t.Fatalf("unexpected lines: %+v", created.Lines)
	}
	if got := f.remaining(t); !got.Equal(decimal.NewFromInt(70)) {
		t.Fatalf("remaining after create: got %s want 70", got)
	}

	path := fmt.Sprintf("/sales/%d", created.ID)
	patch := map[string]any{"lines": f.saleBody("INV-1", 50)["lines"]}
	if w := f.do(t, http.MethodPatch, path, patch); w.Code != http.StatusOK {
		t.Fatalf("patch: got %d body=%s", w.Code, w.Body.String())
	}
	if got := f.remaining(t); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("remaining after patch: got %s want 50", got)
	}

	patch = map[string]any{"lines": f.saleBody("INV-1", 200)["lines"]}
	w = f.do(t, http.MethodPatch, path, patch)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("oversell patch: got %d want 422", w.Code)
	}
	if body := decodeError(t, w); body.Code != string(sales.KindInsufficientStock) || body.Details["available"] != "100" {
		t.Fatalf("unexpected error body: %+v", body)
	}
	if got := f.remaining(t); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("remaining after rejected patch: got %s want 50", got)
	}

	if w := f.do(t, http.MethodPut, path, f.saleBody("INV-1", 50)); w.Code != http.StatusOK {
		t.Fatalf("replace: got %d body=%s", w.Code, w.Body.String())
	}
	if got := f.remaining(t); !got.Equal(decimal.NewFromInt(50)) {
		t.Fatalf("remaining after replace: got %s want 50", got)
	}

	if w := f.do(t, http.MethodGet, path, nil); w.Code != http.StatusOK {
		t.Fatalf("get: got %d", w.Code)
	}

	if w := f.do(t, http.MethodDelete, path, nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete: got %d body=%s", w.Code, w.Body.String())
	}
	if got := f.remaining(t); !got.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("remaining after delete: got %s want 100", got)
	}
	if w := f.do(t, http.MethodDelete, path, nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete: got %d want 404", w.Code)
	}
}

func TestSalesErrorStatuses(t *testing.T) {
	f := newFixture(t)
	if w := f.do(t, http.MethodPost, "/sales", f.saleBody("INV-1", 10)); w.Code != http.StatusCreated {
		t.Fatalf("seed sale: got %d body=%s", w.Code, w.Body.String())
	}

	noLines := f.saleBody("INV-3", 1)
	noLines["lines"] = []any{}
	unknownLot := f.saleBody("INV-4", 1)
	unknownLot["lines"].([]map[string]any)[0]["allocations"].([]map[string]any)[0]["production_batch_id"] = 999

	tests := []struct {
		name       string
		method     string
		path       string
		body       any
		wantStatus int
		wantCode   sales.ErrorKind
	}{
		{"duplicate invoice number", http.MethodPost, "/sales", f.saleBody("INV-1", 1), http.StatusConflict, sales.KindDuplicateInvoiceNumber},
		{"oversell on create", http.MethodPost, "/sales", f.saleBody("INV-2", 500), http.StatusUnprocessableEntity, sales.KindInsufficientStock},
		{"empty lines", http.MethodPost, "/sales", noLines, http.StatusBadRequest, sales.KindInvalidInvoice},
		{"unknown lot", http.MethodPost, "/sales", unknownLot, http.StatusNotFound, sales.KindNotFound},
		{"unknown invoice", http.MethodGet, "/sales/999", nil, http.StatusNotFound, sales.KindNotFound},
		{"bad invoice id", http.MethodGet, "/sales/abc", nil, http.StatusBadRequest, sales.KindInvalidInvoice},
		{"bad payment status filter", http.MethodGet, "/sales?payment_status=LATER", nil, http.StatusBadRequest, sales.KindInvalidInvoice},
		{"batch for unknown product", http.MethodPost, "/production-batches", map[string]any{"product_id": 999, "batch_number": "X", "produced_qty": "5"}, http.StatusNotFound, sales.KindNotFound},
		{"batch without number", http.MethodPost, "/production-batches", map[string]any{"product_id": f.productId, "produced_qty": "5"}, http.StatusBadRequest, sales.KindInvalidBatch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, tt.method, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status: got %d want %d body=%s", w.Code, tt.wantStatus, w.Body.String())
			}
			if body := decodeError(t, w); body.Code != string(tt.wantCode) {
				t.Fatalf("code: got %q want %q", body.Code, tt.wantCode)
			}
		})
	}
	if got := f.remaining(t); !got.Equal(decimal.NewFromInt(90)) {
		t.Fatalf("failed requests must not move stock: remaining %s want 90", got)
	}
}

func TestListExportAndProductionEndpoints(t *testing.T) {
	f := newFixture(t)
	for i := 1; i <= 2; i++ {
		if w := f.do(t, http.MethodPost, "/sales", f.saleBody(fmt.Sprintf("INV-%d", i), 5)); w.Code != http.StatusCreated {
			t.Fatalf("create %d: got %d body=%s", i, w.Code, w.Body.String())
		}
	}

	w := f.do(t, http.MethodGet, "/sales?limit=1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: got %d", w.Code)
	}
	var list struct {
		Sales []models.SaleDetail `json:"sales"`
		Count int                 `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 || list.Sales[0].InvoiceNumber != "INV-2" {
		t.Fatalf("expected newest invoice first, got %+v", list)
	}

	w = f.do(t, http.MethodGet, "/sales?payment_status=pending", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil || w.Code != http.StatusOK || list.Count != 2 {
		t.Fatalf("list by status: got %d count=%d err=%v", w.Code, list.Count, err)
	}
	if w = f.do(t, http.MethodGet, "/sales?payment_status=later", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown payment status: got %d want 400", w.Code)
	}

	w = f.do(t, http.MethodGet, "/sales/export", nil)
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != reports.ExcelContentType {
		t.Fatalf("export: got %d %q", w.Code, w.Header().Get("Content-Type"))
	}
	if w.Body.Len() == 0 {
		t.Fatalf("export: empty workbook")
	}

	w = f.do(t, http.MethodPost, "/production-batches", map[string]any{
		"product_id":   f.productId,
		"batch_number": "B-002",
		"produced_qty": "40",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("record production: got %d body=%s", w.Code, w.Body.String())
	}
	var lot models.ProductionBatch
	if err := json.Unmarshal(w.Body.Bytes(), &lot); err != nil {
		t.Fatalf("decode lot: %v", err)
	}
	if !lot.RemainingQty.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("new lot remaining: got %s want 40", lot.RemainingQty)
	}

	w = f.do(t, http.MethodGet, fmt.Sprintf("/production-batches?product_id=%d&in_stock_only=true", f.productId), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list batches: got %d", w.Code)
	}
	var batches struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &batches); err != nil {
		t.Fatalf("decode batches: %v", err)
	}
	if batches.Count != 2 {
		t.Fatalf("expected 2 lots, got %d", batches.Count)
	}

	w = f.do(t, http.MethodGet, "/production-batches/audit", nil)
	var audit struct {
		Ok bool `json:"ok"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &audit); err != nil || !audit.Ok {
		t.Fatalf("audit: expected ok, got %s (%v)", w.Body.String(), err)
	}
}
