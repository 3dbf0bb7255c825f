package saleco

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"stockreq/internal/allocation"
	"stockreq/internal/audit"
	"stockreq/internal/auth"
	"stockreq/internal/models"
	"stockreq/internal/notify"
	"stockreq/internal/response"
	"stockreq/internal/validation"
	"stockreq/internal/websocket"
	"stockreq/internal/workflow"
)

// Handler serves the sale-coordinator request endpoints. All allocation goes
// through Queue; everything else is independent row-level read-modify-write.
type Handler struct {
	DB       *sql.DB
	Hub      *websocket.Hub
	Queue    *allocation.Queue
	Notifier notify.Notifier
}

// SubmitRequest handles POST /api/v1/sale-co/request. The submission enters
// the single-flight queue; the response is written only after the queue
// worker finished this submission.
func (h *Handler) SubmitRequest(w http.ResponseWriter, r *http.Request) {
	var sub allocation.Submission
	if err := response.DecodeBody(r, &sub); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "customerName", sub.CustomerName)
	validation.ValidateMaxLength(ve, "customerName", sub.CustomerName, 255)
	validation.ValidateMaxLength(ve, "customerAddress", sub.CustomerAddress, 1000)
	validation.ValidateDate(ve, "wantDate", sub.WantDate)
	if len(sub.Items) == 0 {
		ve.Add("items", "is required")
	}
	for _, item := range sub.Items {
		validation.RequireField(ve, "items.productId", item.ProductID)
		validation.ValidatePositiveInt(ve, "items.quantity", item.Quantity)
		validation.ValidateMaxQuantity(ve, "items.quantity", item.Quantity)
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}
	sub.UserName = auth.ActorName(h.DB, r, sub.UserName)

	res, err := h.Queue.Submit(r.Context(), sub)
	if err != nil {
		var short *allocation.InsufficientInventoryError
		switch {
		case errors.As(err, &short):
			response.Err(w, short.Error(), 409)
		case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
			response.Err(w, "availability fetch timed out", 502)
		default:
			response.Err(w, err.Error(), 500)
		}
		return
	}

	notify.Fire(h.Notifier, "New request "+res.DocumentID+" from "+sub.CustomerName)
	json.NewEncoder(w).Encode(res)
}

// ListRequests handles GET /api/v1/sale-co-requests with optional
// document_id, status, and serial filters.
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	query := selectRequest + " WHERE 1=1"
	var args []interface{}
	if v := r.URL.Query().Get("document_id"); v != "" {
		query += " AND document_id = ?"
		args = append(args, v)
	}
	if v := r.URL.Query().Get("status"); v != "" {
		query += " AND status = ?"
		args = append(args, v)
	}
	if v := r.URL.Query().Get("serial"); v != "" {
		query += " AND serial = ?"
		args = append(args, v)
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := scanRequests(rows)
	response.JSON(w, items)
}

// GetDocument handles GET /api/v1/sale-co-requests/:document_id: the derived
// document grouping.
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request, docID string) {
	rows, err := h.DB.Query(selectRequest+" WHERE document_id = ? ORDER BY id ASC", docID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := scanRequests(rows)
	if len(items) == 0 {
		response.Err(w, "not found", 404)
		return
	}
	response.JSON(w, map[string]interface{}{"documentId": docID, "rows": items})
}

type statusUpdate struct {
	Status   string `json:"status"`
	UserName string `json:"userName"`
}

// UpdateStatus handles PUT /api/v1/sale-co-requests/:document_id/status:
// the generic, guarded transition. Rows whose note is set or whose status is
// a QC verdict are left untouched; a document where no row could move
// answers 409, not 404.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request, docID string) {
	var body statusUpdate
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	to, err := workflow.Parse(body.Status)
	if err != nil {
		response.Err(w, "status must be one of: "+joinStatuses(), 400)
		return
	}

	tx, err := h.DB.Begin()
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	rows, err := tx.Query("SELECT id, status, COALESCE(note,'') FROM allocation_requests WHERE document_id = ?", docID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	type rowState struct {
		id     int
		status string
		note   string
	}
	var states []rowState
	for rows.Next() {
		var s rowState
		rows.Scan(&s.id, &s.status, &s.note)
		states = append(states, s)
	}
	rows.Close()
	if len(states) == 0 {
		response.Err(w, "not found", 404)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	updated := 0
	locked := false
	for _, s := range states {
		current, err := workflow.Parse(s.status)
		if err != nil {
			continue
		}
		if err := workflow.CheckUpdate(current, s.note, to); err != nil {
			if errors.Is(err, workflow.ErrLocked) {
				locked = true
			}
			continue
		}
		// Optimistic check: only move the row if nobody else touched it.
		res, err := tx.Exec("UPDATE allocation_requests SET status=?, updated_at=? WHERE id=? AND status=? AND COALESCE(note,'')=?",
			string(to), now, s.id, s.status, s.note)
		if err != nil {
			response.Err(w, err.Error(), 500)
			return
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}
	if updated == 0 {
		if locked {
			response.Err(w, "request is locked", 409)
		} else {
			response.Err(w, "illegal status transition", 409)
		}
		return
	}
	if err := tx.Commit(); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	actor := auth.ActorName(h.DB, r, body.UserName)
	audit.Log(h.DB, h.Hub, actor, audit.ActionUpdate, "saleco", docID,
		"Status of "+docID+" set to "+string(to))
	notify.Fire(h.Notifier, "Request "+docID+" moved to "+string(to))
	response.JSON(w, map[string]interface{}{"documentId": docID, "status": string(to), "updated": updated})
}

// Recall handles PUT /api/v1/sale-co-requests/:document_id/recall: the
// unconditional reset to Available with note Cancelled. Serials of a
// recalled document become allocatable again.
func (h *Handler) Recall(w http.ResponseWriter, r *http.Request, docID string) {
	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := h.DB.Exec("UPDATE allocation_requests SET status=?, note=?, updated_at=? WHERE document_id=?",
		string(workflow.StatusAvailable), workflow.NoteCancelled, now, docID)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		response.Err(w, "not found", 404)
		return
	}

	actor := auth.ActorName(h.DB, r, "")
	audit.Log(h.DB, h.Hub, actor, audit.ActionRecall, "saleco", docID, "Recalled "+docID)
	notify.Fire(h.Notifier, "Request "+docID+" was recalled")
	response.JSON(w, map[string]interface{}{"documentId": docID, "updated": n})
}

type reRequestBody struct {
	InsertData allocation.Submission `json:"insertData"`
	UpdateData struct {
		DocumentID string `json:"documentId"`
		Serial     string `json:"serial"`
	} `json:"updateData"`
}

// ReRequest handles POST /api/v1/sale-co/re-request: the append-only
// correction. A new Pending document is allocated through the queue, then
// the old row's note is set to Re-requested with its status untouched.
func (h *Handler) ReRequest(w http.ResponseWriter, r *http.Request) {
	var body reRequestBody
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	if body.UpdateData.DocumentID == "" || body.UpdateData.Serial == "" {
		response.Err(w, "updateData.documentId and updateData.serial are required", 400)
		return
	}
	if len(body.InsertData.Items) == 0 {
		response.Err(w, "insertData.items is required", 400)
		return
	}

	var id int
	var status, note string
	err := h.DB.QueryRow("SELECT id, status, COALESCE(note,'') FROM allocation_requests WHERE document_id=? AND serial=?",
		body.UpdateData.DocumentID, body.UpdateData.Serial).Scan(&id, &status, &note)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	current, err := workflow.Parse(status)
	if err != nil || !workflow.CanReRequest(current, note) {
		response.Err(w, "request cannot be re-requested", 409)
		return
	}

	body.InsertData.UserName = auth.ActorName(h.DB, r, body.InsertData.UserName)
	res, err := h.Queue.Submit(r.Context(), body.InsertData)
	if err != nil {
		var short *allocation.InsufficientInventoryError
		if errors.As(err, &short) {
			response.Err(w, short.Error(), 409)
			return
		}
		response.Err(w, err.Error(), 500)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	// Optimistic: the old row must still be untouched.
	upd, err := h.DB.Exec("UPDATE allocation_requests SET note=?, updated_at=? WHERE id=? AND COALESCE(note,'')=''",
		workflow.NoteReRequested, now, id)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	n, _ := upd.RowsAffected()

	actor := body.InsertData.UserName
	audit.Log(h.DB, h.Hub, actor, audit.ActionCreate, "saleco", res.DocumentID,
		"Re-requested "+body.UpdateData.DocumentID+"/"+body.UpdateData.Serial+" as "+res.DocumentID)
	notify.Fire(h.Notifier, "Request "+body.UpdateData.DocumentID+" re-requested as "+res.DocumentID)
	response.JSON(w, map[string]interface{}{
		"documentId":     res.DocumentID,
		"allocatedItems": res.AllocatedItems,
		"updated":        n,
	})
}

const selectRequest = `SELECT id,document_id,customer_name,COALESCE(customer_address,''),COALESCE(want_date,''),COALESCE(request_details,''),item_code,COALESCE(description,''),serial,qty,status,COALESCE(note,''),COALESCE(remark,''),COALESCE(qc_remark,''),COALESCE(qc_name,''),COALESCE(requested_by,''),COALESCE(department,''),created_at,updated_at FROM allocation_requests`

func scanRequests(rows *sql.Rows) []models.AllocationRequest {
	var items []models.AllocationRequest
	for rows.Next() {
		var a models.AllocationRequest
		rows.Scan(&a.ID, &a.DocumentID, &a.CustomerName, &a.CustomerAddress, &a.WantDate, &a.RequestDetails,
			&a.ItemCode, &a.Description, &a.Serial, &a.Qty, &a.Status, &a.Note, &a.Remark,
			&a.QcRemark, &a.QcName, &a.RequestedBy, &a.Department, &a.CreatedAt, &a.UpdatedAt)
		items = append(items, a)
	}
	if items == nil {
		items = []models.AllocationRequest{}
	}
	return items
}

func joinStatuses() string {
	out := ""
	for i, s := range workflow.All() {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}
