package inventory

import (
	"net/http"
	"strconv"

	"stockreq/internal/audit"
	"stockreq/internal/handlers/common"
	"stockreq/internal/ledger"
)

// ExportAvailability handles GET /api/v1/products/export?format=csv|xlsx:
// the current availability classification as a flat sheet.
func (h *Handler) ExportAvailability(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}
	f := ledger.Filter{
		ItemCode:   r.URL.Query().Get("search_item_code"),
		ItemName:   r.URL.Query().Get("search_item_name"),
		StockGroup: r.URL.Query().Get("search_stock_group"),
		Serial:     r.URL.Query().Get("search_serial"),
	}
	txns, err := ledger.LoadTransactions(h.DB, f)
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	statuses, err := ledger.ClaimedStatuses(h.DB, "")
	if err != nil {
		http.Error(w, err.Error(), 500)
		return
	}
	b := ledger.Reconstruct(txns, statuses)

	headers := []string{"Serial", "Item Code", "Description", "Balance", "Receipt Date", "Last Txn", "Status", "Bucket"}
	var data [][]string
	for _, d := range b.Remaining {
		data = append(data, []string{d.Serial, d.ItemCode, d.Description, d.Balance, d.ReceiptDate, d.LastTxnDate, d.Status, "remaining"})
	}
	for _, d := range b.UnmatchedWithdrawals {
		data = append(data, []string{d.Serial, d.ItemCode, d.Description, d.Balance, d.ReceiptDate, d.LastTxnDate, d.Status, "unmatched_withdrawal"})
	}
	for _, d := range b.Matched {
		data = append(data, []string{d.Serial, d.ItemCode, d.Description, d.Balance, d.ReceiptDate, d.LastTxnDate, d.Status, "matched"})
	}

	audit.Log(h.DB, nil, audit.GetUsername(h.DB, r), "EXPORT", "ledger", "", "Exported availability ("+strconv.Itoa(len(data))+" rows)")
	if format == "xlsx" {
		common.ExportExcel(w, "Availability", headers, data)
	} else {
		common.ExportCSV(w, "availability.csv", headers, data)
	}
}
