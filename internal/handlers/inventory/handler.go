package inventory

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"stockreq/internal/audit"
	"stockreq/internal/ledger"
	"stockreq/internal/models"
	"stockreq/internal/response"
	"stockreq/internal/validation"
	"stockreq/internal/websocket"
)

// Handler serves the ledger and availability endpoints.
type Handler struct {
	DB  *sql.DB
	Hub *websocket.Hub
}

// Availability handles GET /api/v1/products. The response is the
// reconstruction contract: three disjoint buckets plus debug counters,
// written without the standard envelope.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	f := ledger.Filter{
		ItemCode:   r.URL.Query().Get("search_item_code"),
		ItemName:   r.URL.Query().Get("search_item_name"),
		StockGroup: r.URL.Query().Get("search_stock_group"),
		Serial:     r.URL.Query().Get("search_serial"),
	}
	txns, err := ledger.LoadTransactions(h.DB, f)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	statuses, err := ledger.ClaimedStatuses(h.DB, "")
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	json.NewEncoder(w).Encode(ledger.Reconstruct(txns, statuses))
}

type transactionRequest struct {
	ItemCode    string `json:"item_code"`
	Description string `json:"description"`
	Qty         string `json:"qty"`
	Serials     string `json:"serials"`
	TxnType     string `json:"txn_type"`
	TxnDate     string `json:"txn_date"`
	OnHand      string `json:"on_hand"`
	StockGroup  string `json:"stock_group"`
}

// CreateTransaction handles POST /api/v1/transactions: one append-only
// ledger entry. Entries are never updated or deleted.
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var t transactionRequest
	if err := response.DecodeBody(r, &t); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	ve := &validation.ValidationErrors{}
	validation.RequireField(ve, "item_code", t.ItemCode)
	validation.RequireField(ve, "qty", t.Qty)
	validation.RequireField(ve, "txn_type", t.TxnType)
	validation.ValidateEnum(ve, "txn_type", t.TxnType, validation.ValidTxnTypes)
	validation.ValidateMaxLength(ve, "item_code", t.ItemCode, 100)
	validation.ValidateMaxLength(ve, "serials", t.Serials, 10000)
	if t.Qty != "" {
		if _, err := decimal.NewFromString(t.Qty); err != nil {
			ve.Add("qty", "must be a number")
		}
	}
	if ve.HasErrors() {
		response.Err(w, ve.Error(), 400)
		return
	}

	if t.TxnDate == "" {
		t.TxnDate = time.Now().Format("2006-01-02 15:04:05")
	}
	res, err := h.DB.Exec(`INSERT INTO transactions (item_code, description, qty, serials, txn_type, txn_date, on_hand, stock_group)
		VALUES (?,?,?,?,?,?,?,?)`,
		t.ItemCode, t.Description, t.Qty, t.Serials, t.TxnType, t.TxnDate, t.OnHand, t.StockGroup)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	id, _ := res.LastInsertId()
	username := audit.GetUsername(h.DB, r)
	audit.Log(h.DB, h.Hub, username, audit.ActionCreate, "ledger", t.ItemCode,
		"Ledger "+t.TxnType+" for "+t.ItemCode)
	response.JSON(w, map[string]interface{}{"id": id, "status": "ok"})
}

// History handles GET /api/v1/transactions?item_code=: the raw ledger for an
// item, newest first.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	itemCode := r.URL.Query().Get("item_code")
	query := "SELECT id,item_code,COALESCE(description,''),qty,COALESCE(serials,''),txn_type,txn_date,COALESCE(on_hand,''),COALESCE(stock_group,'') FROM transactions"
	var args []interface{}
	if itemCode != "" {
		query += " WHERE item_code = ?"
		args = append(args, itemCode)
	}
	query += " ORDER BY txn_date DESC, id DESC"
	rows, err := h.DB.Query(query, args...)
	if err != nil {
		response.Err(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	var items []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var serials string
		rows.Scan(&t.ID, &t.ItemCode, &t.Description, &t.Qty, &serials, &t.TxnType, &t.TxnDate, &t.OnHand, &t.StockGroup)
		t.Serials = ledger.SplitSerials(serials)
		items = append(items, t)
	}
	if items == nil {
		items = []models.Transaction{}
	}
	response.JSON(w, items)
}
