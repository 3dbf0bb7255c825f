package saleco

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"stockreq/internal/allocation"
	"stockreq/internal/config"
	"stockreq/internal/notify"
	"stockreq/internal/testutil"
	"stockreq/internal/workflow"
)

func setupHandler(t *testing.T) (*Handler, func()) {
	db := testutil.SetupTestDB(t)
	q := allocation.NewQueue(&allocation.Engine{DB: db}, 16)
	h := &Handler{DB: db, Queue: q}
	return h, func() {
		q.Close()
		db.Close()
	}
}

func jsonBody(t *testing.T, v interface{}) *bytes.Reader {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewReader(b)
}

func TestSubmitRequestValidation(t *testing.T) {
	h, done := setupHandler(t)
	defer done()

	body := jsonBody(t, map[string]interface{}{"customerName": "", "items": []interface{}{}})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/request", body)
	w := httptest.NewRecorder()
	h.SubmitRequest(w, req)
	testutil.AssertStatus(t, w, 400)
	if !strings.Contains(w.Body.String(), "customerName") {
		t.Errorf("Expected customerName in validation error, got %s", w.Body.String())
	}
}

func TestSubmitRequestAllocates(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertTransaction(t, h.DB, "X1", "2", "A,B", "Receipt", "2025-04-01 09:00:00", "2")

	body := jsonBody(t, map[string]interface{}{
		"customerName": "Acme Co",
		"userName":     "coordinator",
		"items":        []map[string]interface{}{{"productId": "X1", "quantity": 1}},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/request", body)
	w := httptest.NewRecorder()
	h.SubmitRequest(w, req)
	testutil.AssertStatus(t, w, 200)

	var res allocation.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.HasPrefix(res.DocumentID, allocation.DocumentPrefix) {
		t.Errorf("Document id %s missing %s prefix", res.DocumentID, allocation.DocumentPrefix)
	}
	if len(res.AllocatedItems) != 1 || res.AllocatedItems[0].Serial != "A" {
		t.Errorf("Unexpected allocation: %+v", res.AllocatedItems)
	}

	var status string
	h.DB.QueryRow("SELECT status FROM allocation_requests WHERE document_id=?", res.DocumentID).Scan(&status)
	if status != string(workflow.StatusPending) {
		t.Errorf("New request row status = %q, want Pending", status)
	}
}

func TestSubmitRequestInsufficient(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertTransaction(t, h.DB, "X1", "1", "A", "Receipt", "2025-04-01 09:00:00", "1")

	body := jsonBody(t, map[string]interface{}{
		"customerName": "Acme Co",
		"items":        []map[string]interface{}{{"productId": "X1", "quantity": 3}},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/request", body)
	w := httptest.NewRecorder()
	h.SubmitRequest(w, req)
	testutil.AssertStatus(t, w, 409)
	if !strings.Contains(w.Body.String(), "insufficient inventory") {
		t.Errorf("Expected insufficient inventory message, got %s", w.Body.String())
	}
}

func putStatus(t *testing.T, h *Handler, docID, status string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("PUT", "/api/v1/sale-co-requests/"+docID+"/status",
		jsonBody(t, map[string]string{"status": status, "userName": "tester"}))
	w := httptest.NewRecorder()
	h.UpdateStatus(w, req, docID)
	return w
}

func rowState(t *testing.T, h *Handler, id int) (status, note string) {
	t.Helper()
	if err := h.DB.QueryRow("SELECT status, COALESCE(note,'') FROM allocation_requests WHERE id=?", id).Scan(&status, &note); err != nil {
		t.Fatalf("row %d: %v", id, err)
	}
	return status, note
}

func TestUpdateStatusTransition(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	id := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")

	w := putStatus(t, h, "SRQ04250001", string(workflow.StatusAtInventory))
	testutil.AssertStatus(t, w, 200)
	status, _ := rowState(t, h, id)
	if status != string(workflow.StatusAtInventory) {
		t.Errorf("Row status = %q, want At Inventory", status)
	}
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")

	w := putStatus(t, h, "SRQ04250001", string(workflow.StatusPassQC))
	testutil.AssertStatus(t, w, 409)
	if !strings.Contains(w.Body.String(), "illegal status transition") {
		t.Errorf("Expected transition error, got %s", w.Body.String())
	}
}

func TestUpdateStatusNoteLocksRow(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	id := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), workflow.NoteCancelled)

	w := putStatus(t, h, "SRQ04250001", string(workflow.StatusAtInventory))
	testutil.AssertStatus(t, w, 409)
	if !strings.Contains(w.Body.String(), "request is locked") {
		t.Errorf("Expected lock error, got %s", w.Body.String())
	}
	status, note := rowState(t, h, id)
	if status != string(workflow.StatusPending) || note != workflow.NoteCancelled {
		t.Errorf("Locked row changed: status=%q note=%q", status, note)
	}
}

func TestUpdateStatusTerminalVerdictLocksRow(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	id := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPassQC), "")

	w := putStatus(t, h, "SRQ04250001", string(workflow.StatusAtInventory))
	testutil.AssertStatus(t, w, 409)
	status, _ := rowState(t, h, id)
	if status != string(workflow.StatusPassQC) {
		t.Errorf("Terminal row changed to %q", status)
	}
}

func TestUpdateStatusSkipsLockedRows(t *testing.T) {
	// One movable, one locked row under the same document: the movable one
	// advances and the locked one stays put.
	h, done := setupHandler(t)
	defer done()
	free := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")
	locked := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "B", string(workflow.StatusPending), workflow.NoteCancelled)

	w := putStatus(t, h, "SRQ04250001", string(workflow.StatusAtInventory))
	testutil.AssertStatus(t, w, 200)

	var out struct {
		Data struct {
			Updated int `json:"updated"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.Data.Updated != 1 {
		t.Errorf("Expected 1 updated row, got %d", out.Data.Updated)
	}
	if status, _ := rowState(t, h, free); status != string(workflow.StatusAtInventory) {
		t.Errorf("Free row status = %q, want At Inventory", status)
	}
	if status, _ := rowState(t, h, locked); status != string(workflow.StatusPending) {
		t.Errorf("Locked row status = %q, want Pending", status)
	}
}

func TestUpdateStatusUnknownStatus(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")

	w := putStatus(t, h, "SRQ04250001", "Shipped")
	testutil.AssertStatus(t, w, 400)
}

func TestUpdateStatusMissingDocument(t *testing.T) {
	h, done := setupHandler(t)
	defer done()

	w := putStatus(t, h, "SRQ04259999", string(workflow.StatusAtInventory))
	testutil.AssertStatus(t, w, 404)
}

func TestRecallBypassesGuard(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	// Both a terminal verdict and a noted row: recall resets them anyway.
	a := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPassQC), "")
	b := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "B", string(workflow.StatusPending), "hold")

	req := httptest.NewRequest("PUT", "/api/v1/sale-co-requests/SRQ04250001/recall", nil)
	w := httptest.NewRecorder()
	h.Recall(w, req, "SRQ04250001")
	testutil.AssertStatus(t, w, 200)

	for _, id := range []int{a, b} {
		status, note := rowState(t, h, id)
		if status != string(workflow.StatusAvailable) || note != workflow.NoteCancelled {
			t.Errorf("Row %d after recall: status=%q note=%q", id, status, note)
		}
	}
}

func TestRecallMissingDocument(t *testing.T) {
	h, done := setupHandler(t)
	defer done()

	req := httptest.NewRequest("PUT", "/api/v1/sale-co-requests/SRQ04259999/recall", nil)
	w := httptest.NewRecorder()
	h.Recall(w, req, "SRQ04259999")
	testutil.AssertStatus(t, w, 404)
}

func TestReRequestFailedUnit(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertTransaction(t, h.DB, "X1", "2", "A,B", "Receipt", "2025-04-01 09:00:00", "2")
	old := testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusFailQC), "")

	body := jsonBody(t, map[string]interface{}{
		"insertData": map[string]interface{}{
			"customerName": "Acme Co",
			"userName":     "coordinator",
			"items":        []map[string]interface{}{{"productId": "X1", "quantity": 1}},
		},
		"updateData": map[string]string{"documentId": "SRQ04250001", "serial": "A"},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/re-request", body)
	w := httptest.NewRecorder()
	h.ReRequest(w, req)
	testutil.AssertStatus(t, w, 200)

	// The failed row keeps its verdict; only its note marks the correction.
	status, note := rowState(t, h, old)
	if status != string(workflow.StatusFailQC) {
		t.Errorf("Old row status = %q, want Fail QC", status)
	}
	if note != workflow.NoteReRequested {
		t.Errorf("Old row note = %q, want %q", note, workflow.NoteReRequested)
	}

	var out struct {
		Data struct {
			DocumentID string `json:"documentId"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.Data.DocumentID == "SRQ04250001" || out.Data.DocumentID == "" {
		t.Errorf("Expected a fresh document id, got %q", out.Data.DocumentID)
	}
	// The new allocation skipped the failed serial A.
	var serial string
	h.DB.QueryRow("SELECT serial FROM allocation_requests WHERE document_id=?", out.Data.DocumentID).Scan(&serial)
	if serial != "B" {
		t.Errorf("Re-request allocated %q, want B", serial)
	}
}

func TestReRequestRejectsNotedRow(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertTransaction(t, h.DB, "X1", "2", "A,B", "Receipt", "2025-04-01 09:00:00", "2")
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusFailQC), workflow.NoteReRequested)

	body := jsonBody(t, map[string]interface{}{
		"insertData": map[string]interface{}{
			"customerName": "Acme Co",
			"items":        []map[string]interface{}{{"productId": "X1", "quantity": 1}},
		},
		"updateData": map[string]string{"documentId": "SRQ04250001", "serial": "A"},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/re-request", body)
	w := httptest.NewRecorder()
	h.ReRequest(w, req)
	testutil.AssertStatus(t, w, 409)
}

func TestReRequestRejectsActiveRow(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertTransaction(t, h.DB, "X1", "1", "A", "Receipt", "2025-04-01 09:00:00", "1")
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")

	body := jsonBody(t, map[string]interface{}{
		"insertData": map[string]interface{}{
			"customerName": "Acme Co",
			"items":        []map[string]interface{}{{"productId": "X1", "quantity": 1}},
		},
		"updateData": map[string]string{"documentId": "SRQ04250001", "serial": "A"},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/re-request", body)
	w := httptest.NewRecorder()
	h.ReRequest(w, req)
	testutil.AssertStatus(t, w, 409)
}

func TestReRequestMissingRow(t *testing.T) {
	h, done := setupHandler(t)
	defer done()

	body := jsonBody(t, map[string]interface{}{
		"insertData": map[string]interface{}{
			"customerName": "Acme Co",
			"items":        []map[string]interface{}{{"productId": "X1", "quantity": 1}},
		},
		"updateData": map[string]string{"documentId": "SRQ04259999", "serial": "A"},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/re-request", body)
	w := httptest.NewRecorder()
	h.ReRequest(w, req)
	testutil.AssertStatus(t, w, 404)
}

func TestListRequestsFilters(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")
	testutil.InsertRequestRow(t, h.DB, "SRQ04250002", "X1", "B", string(workflow.StatusFailQC), "")

	req := httptest.NewRequest("GET", "/api/v1/sale-co-requests?status=Fail+QC", nil)
	w := httptest.NewRecorder()
	h.ListRequests(w, req)
	testutil.AssertStatus(t, w, 200)

	var out struct {
		Data []struct {
			Serial string `json:"serial"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if len(out.Data) != 1 || out.Data[0].Serial != "B" {
		t.Errorf("Expected only serial B, got %+v", out.Data)
	}
}

func TestGetDocumentGroupsRows(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "B", string(workflow.StatusPending), "")

	req := httptest.NewRequest("GET", "/api/v1/sale-co-requests/SRQ04250001", nil)
	w := httptest.NewRecorder()
	h.GetDocument(w, req, "SRQ04250001")
	testutil.AssertStatus(t, w, 200)

	var out struct {
		Data struct {
			DocumentID string                   `json:"documentId"`
			Rows       []map[string]interface{} `json:"rows"`
		} `json:"data"`
	}
	json.Unmarshal(w.Body.Bytes(), &out)
	if out.Data.DocumentID != "SRQ04250001" || len(out.Data.Rows) != 2 {
		t.Errorf("Unexpected document payload: %+v", out.Data)
	}

	w = httptest.NewRecorder()
	h.GetDocument(w, httptest.NewRequest("GET", "/api/v1/sale-co-requests/SRQ04259999", nil), "SRQ04259999")
	testutil.AssertStatus(t, w, 404)
}

func TestExportRequestsCSV(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	testutil.InsertRequestRow(t, h.DB, "SRQ04250001", "X1", "A", string(workflow.StatusPending), "")

	req := httptest.NewRequest("GET", "/api/v1/sale-co-requests/export?format=csv", nil)
	w := httptest.NewRecorder()
	h.ExportRequests(w, req)
	testutil.AssertStatus(t, w, 200)
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	body := w.Body.String()
	if !strings.Contains(body, "Document,Customer") {
		t.Errorf("Missing CSV header, got %s", body)
	}
	if !strings.Contains(body, "SRQ04250001") {
		t.Errorf("Missing request row, got %s", body)
	}
}

func TestSubmitRequestWithUnconfiguredNotifier(t *testing.T) {
	h, done := setupHandler(t)
	defer done()
	// Token-less config yields a disabled notifier; the post-commit
	// notification must stay a no-op rather than dereference nil.
	h.Notifier = notify.NewTelegram(config.TelegramConfig{})
	testutil.InsertTransaction(t, h.DB, "X1", "1", "A", "Receipt", "2025-04-01 09:00:00", "1")

	body := jsonBody(t, map[string]interface{}{
		"customerName": "Acme Co",
		"userName":     "coordinator",
		"items":        []map[string]interface{}{{"productId": "X1", "quantity": 1}},
	})
	req := httptest.NewRequest("POST", "/api/v1/sale-co/request", body)
	w := httptest.NewRecorder()
	h.SubmitRequest(w, req)
	testutil.AssertStatus(t, w, 200)
}
