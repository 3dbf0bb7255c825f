package saleco

import (
	"net/http"
	"time"

	"stockreq/internal/audit"
	"stockreq/internal/auth"
	"stockreq/internal/database"
	"stockreq/internal/models"
	"stockreq/internal/notify"
	"stockreq/internal/response"
	"stockreq/internal/validation"
	"stockreq/internal/workflow"
)

// NCPrefix is the running-number prefix for non-conformance records.
const NCPrefix = "WNC"

type storeNCBody struct {
	DocumentID string `json:"documentId"`
	ItemCode   string `json:"itemCode"`
	Serial     string `json:"serial"`
	Reason     string `json:"reason"`
	UserName   string `json:"userName"`
}

// CreateNC handles POST /api/v1/sale-co/store-nc: escalate a failed unit to
// the non-conformance store. The WNC number uses the same
// read-max-then-increment generator as document ids, inside one transaction.
func (h *Handler) CreateNC(w http.ResponseWriter, r *http.Request) {
	var body storeNCBody
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "itemCode", body.ItemCode)
	validation.RequireField(ve, "serial", body.Serial)
	validation.ValidateMaxLength(ve, "reason", body.Reason, 1000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	tx, err := h.DB.Begin()
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer tx.Rollback()

	now := time.Now()
	stamp := now.Format("2006-01-02 15:04:05")

	// When the escalation references a request row, it must be a failed unit;
	// the row follows the unit into the NC store.
	if body.DocumentID != "" {
		res, err := tx.Exec("UPDATE allocation_requests SET status=?, updated_at=? WHERE document_id=? AND serial=? AND status=?",
			string(workflow.StatusAtStoreNC), stamp, body.DocumentID, body.Serial, string(workflow.StatusFailQC))
		if err != nil {
			response.Err(w, err.Error(), 500)
			return
		}
		if n, _ := res.RowsAffected(); n == 0 {
			response.Err(w, "request row is not a failed unit", 409)
			return
		}
	}

	actor := auth.ActorName(h.DB, r, body.UserName)
	ncNumber := database.NextDocumentID(tx, "nc_records", "nc_number", NCPrefix, now)
	_, err = tx.Exec(`INSERT INTO nc_records (nc_number, document_id, item_code, serial, reason, status, created_by, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		ncNumber, body.DocumentID, body.ItemCode, body.Serial, body.Reason,
		string(workflow.StatusAtStoreNC), actor, stamp, stamp)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	if err := tx.Commit(); err != nil {
		response.Err(w, err.Error(), 500)
		return
	}

	audit.Log(h.DB, h.Hub, actor, audit.ActionEscalate, "storenc", ncNumber,
		"Escalated "+body.Serial+" of "+body.ItemCode+" to NC store as "+ncNumber)
	notify.Fire(h.Notifier, "Unit "+body.Serial+" escalated to NC store ("+ncNumber+")")
	response.JSON(w, map[string]string{"ncNumber": ncNumber, "status": string(workflow.StatusAtStoreNC)})
}

type ncStatusBody struct {
	Status   string `json:"status"`
	Memo     string `json:"memo"`
	UserName string `json:"userName"`
}

// UpdateNCStatus handles PUT /api/v1/sale-co/store-nc/:nc_number/status and
// the -with-memo variant: the administrative terminal transitions.
func (h *Handler) UpdateNCStatus(w http.ResponseWriter, r *http.Request, ncNumber string) {
	var body ncStatusBody
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "status", body.Status)
	validation.ValidateEnum(ve, "status", body.Status, []string{string(workflow.StatusScrap), string(workflow.StatusResolved)})
	validation.ValidateMaxLength(ve, "memo", body.Memo, 1000)
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	now := time.Now().Format("2006-01-02 15:04:05")
	res, err := h.DB.Exec("UPDATE nc_records SET status=?, memo=?, updated_at=? WHERE nc_number=? AND status=?",
		body.Status, body.Memo, now, ncNumber, string(workflow.StatusAtStoreNC))
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		var exists int
		h.DB.QueryRow("SELECT COUNT(*) FROM nc_records WHERE nc_number=?", ncNumber).Scan(&exists)
		if exists == 0 {
			response.Err(w, "not found", 404)
		} else {
			response.Err(w, "NC record is already closed", 409)
		}
		return
	}

	actor := auth.ActorName(h.DB, r, body.UserName)
	audit.Log(h.DB, h.Hub, actor, audit.ActionUpdate, "storenc", ncNumber,
		"NC "+ncNumber+" set to "+body.Status)
	notify.Fire(h.Notifier, "NC "+ncNumber+" set to "+body.Status)
	response.JSON(w, map[string]interface{}{"ncNumber": ncNumber, "status": body.Status, "updated": n})
}

// ListNC handles GET /api/v1/sale-co/store-nc.
func (h *Handler) ListNC(w http.ResponseWriter, r *http.Request) {
	query := "SELECT id,nc_number,COALESCE(document_id,''),item_code,serial,COALESCE(reason,''),status,COALESCE(memo,''),COALESCE(created_by,''),created_at,updated_at FROM nc_records"
	var args []interface{}
	if v := r.URL.Query().Get("status"); v != "" {
		query += " WHERE status = ?"
		args = append(args, v)
	}
	query += " ORDER BY created_at DESC, id DESC"
	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.NCRecord
	for rows.Next() {
		var n models.NCRecord
		rows.Scan(&n.ID, &n.NCNumber, &n.DocumentID, &n.ItemCode, &n.Serial, &n.Reason, &n.Status, &n.Memo, &n.CreatedBy, &n.CreatedAt, &n.UpdatedAt)
		items = append(items, n)
	}
	if items == nil {
		items = []models.NCRecord{}
	}
	response.JSON(w, items)
}
