package qcm

import (
	"database/sql"
	"net/http"
	"strings"
	"time"

	"stockreq/internal/audit"
	"stockreq/internal/auth"
	"stockreq/internal/notify"
	"stockreq/internal/response"
	"stockreq/internal/websocket"
	"stockreq/internal/workflow"
)

// Handler serves the QC endpoints, keyed by serial number rather than by
// document id.
type Handler struct {
	DB       *sql.DB
	Hub      *websocket.Hub
	Notifier notify.Notifier
}

type qcStatusBody struct {
	Status   string `json:"status"`
	Remark   string `json:"remark"`
	UserName string `json:"userName"`
}

// UpdateStatus handles PUT /api/v1/qcm-requests/:sn_number/status.
// "Sent to Qcm" hands the unit over unconditionally; "At Qcm" marks
// inspection in progress; Pass QC / Fail QC are the verdicts and must carry
// a remark.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request, serial string) {
	var body qcStatusBody
	if err := response.DecodeBody(r, &body); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}
	to, err := workflow.Parse(body.Status)
	if err != nil {
		response.Err(w, "unknown status", 400)
		return
	}
	switch to {
	case workflow.StatusSentToQcm, workflow.StatusAtQcm, workflow.StatusPassQC, workflow.StatusFailQC:
	default:
		response.Err(w, "status must be a QC state", 400)
		return
	}
	if workflow.RequiresRemark(to) && strings.TrimSpace(body.Remark) == "" {
		response.Err(w, workflow.ErrRemarkRequired.Error(), 400)
		return
	}

	var id int
	var status, note string
	err = h.DB.QueryRow("SELECT id, status, COALESCE(note,'') FROM allocation_requests WHERE serial=? ORDER BY updated_at DESC, id DESC LIMIT 1", serial).
		Scan(&id, &status, &note)
	if err != nil {
		response.Err(w, "not found", 404)
		return
	}
	current, err := workflow.Parse(status)
	if err != nil {
		response.Err(w, "request row has an unknown status", 500)
		return
	}

	actor := auth.ActorName(h.DB, r, body.UserName)
	now := time.Now().Format("2006-01-02 15:04:05")

	var res sql.Result
	if to == workflow.StatusSentToQcm {
		// Handover is unconditional for rows sitting at inventory.
		if current != workflow.StatusAtInventory {
			response.Err(w, "request row is not at inventory", 409)
			return
		}
		res, err = h.DB.Exec("UPDATE allocation_requests SET status=?, updated_at=? WHERE id=? AND status=?",
			string(to), now, id, string(workflow.StatusAtInventory))
	} else {
		if chkErr := workflow.CheckUpdate(current, note, to); chkErr != nil {
			response.Err(w, chkErr.Error(), 409)
			return
		}
		res, err = h.DB.Exec("UPDATE allocation_requests SET status=?, qc_remark=?, qc_name=?, updated_at=? WHERE id=? AND status=? AND COALESCE(note,'')=?",
			string(to), body.Remark, actor, now, id, status, note)
	}
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		response.Err(w, "request changed concurrently", 409)
		return
	}

	audit.Log(h.DB, h.Hub, actor, audit.ActionUpdate, "qcm", serial,
		"QC status of "+serial+" set to "+string(to))
	notify.Fire(h.Notifier, "Unit "+serial+" QC status: "+string(to))
	response.JSON(w, map[string]interface{}{"serial": serial, "status": string(to), "updated": n})
}

// ListPending handles GET /api/v1/qcm-requests: every row currently in a QC
// state, oldest first.
func (h *Handler) ListPending(w http.ResponseWriter, r *http.Request) {
	rows, err := h.DB.Query(`SELECT id,document_id,item_code,serial,status,COALESCE(qc_remark,''),COALESCE(qc_name,''),updated_at
		FROM allocation_requests WHERE status IN (?,?) ORDER BY updated_at ASC, id ASC`,
		string(workflow.StatusSentToQcm), string(workflow.StatusAtQcm))
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	type qcRow struct {
		ID         int    `json:"id"`
		DocumentID string `json:"document_id"`
		ItemCode   string `json:"item_code"`
		Serial     string `json:"serial"`
		Status     string `json:"status"`
		QcRemark   string `json:"qc_remark"`
		QcName     string `json:"qc_name"`
		UpdatedAt  string `json:"updated_at"`
	}
	var items []qcRow
	for rows.Next() {
		var q qcRow
		rows.Scan(&q.ID, &q.DocumentID, &q.ItemCode, &q.Serial, &q.Status, &q.QcRemark, &q.QcName, &q.UpdatedAt)
		items = append(items, q)
	}
	if items == nil {
		items = []qcRow{}
	}
	response.JSON(w, items)
}
