package saleco

import (
	"net/http"
	"strconv"

	"stockreq/internal/audit"
	"stockreq/internal/handlers/common"
)

// ExportRequests handles GET /api/v1/sale-co-requests/export?format=csv|xlsx
// with the same filters as the listing.
func (h *Handler) ExportRequests(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

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
		http.Error(w, err.Error(), 500)
		return
	}
	defer rows.Close()
	items := scanRequests(rows)

	headers := []string{"Document", "Customer", "Want Date", "Item Code", "Serial", "Status", "Note", "QC Remark", "QC Name", "Requested By", "Created"}
	var data [][]string
	for _, a := range items {
		data = append(data, []string{a.DocumentID, a.CustomerName, a.WantDate, a.ItemCode, a.Serial, a.Status, a.Note, a.QcRemark, a.QcName, a.RequestedBy, a.CreatedAt})
	}

	audit.Log(h.DB, nil, audit.GetUsername(h.DB, r), "EXPORT", "saleco", "", "Exported requests ("+strconv.Itoa(len(data))+" rows)")
	if format == "xlsx" {
		common.ExportExcel(w, "Requests", headers, data)
	} else {
		common.ExportCSV(w, "requests.csv", headers, data)
	}
}
