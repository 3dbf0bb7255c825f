package models

// APIResponse is the standard JSON envelope for all API responses.
type APIResponse struct {
	Data interface{} `json:"data"`
	Meta *Meta       `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Total int `json:"total,omitempty"`
	Page  int `json:"page,omitempty"`
	Limit int `json:"limit,omitempty"`
}

// User is an authenticated actor.
type User struct {
	ID          int    `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	Role        string `json:"role"`
}

// Transaction is one immutable inventory ledger entry. Serials holds the
// parsed serial/lot numbers; the stored form is a comma-delimited string.
type Transaction struct {
	ID          int      `json:"id"`
	ItemCode    string   `json:"item_code"`
	Description string   `json:"description"`
	Qty         string   `json:"qty"`
	Serials     []string `json:"serials"`
	TxnType     string   `json:"txn_type"`
	TxnDate     string   `json:"txn_date"`
	OnHand      string   `json:"on_hand"`
	StockGroup  string   `json:"stock_group"`
}

// SerialDetail is one classified serial in an availability response.
type SerialDetail struct {
	Serial      string `json:"serial"`
	ItemCode    string `json:"item_code"`
	Description string `json:"description"`
	Balance     string `json:"balance"`
	ReceiptDate string `json:"receipt_date"`
	LastTxnDate string `json:"last_txn_date"`
	LastTxnType string `json:"last_txn_type"`
	TxnCount    int    `json:"txn_count"`
	Status      string `json:"status"`
}

// AllocationRequest is one row of a request document: exactly one physical
// unit (qty 1) identified by serial number. A document is the group of rows
// sharing a DocumentID; it is always derived, never stored separately.
type AllocationRequest struct {
	ID              int    `json:"id"`
	DocumentID      string `json:"document_id"`
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	WantDate        string `json:"want_date"`
	RequestDetails  string `json:"request_details"`
	ItemCode        string `json:"item_code"`
	Description     string `json:"description"`
	Serial          string `json:"serial"`
	Qty             int    `json:"qty"`
	Status          string `json:"status"`
	Note            string `json:"note"`
	Remark          string `json:"remark"`
	QcRemark        string `json:"qc_remark"`
	QcName          string `json:"qc_name"`
	RequestedBy     string `json:"requested_by"`
	Department      string `json:"department"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

// NCRecord is a non-conformance escalation for a failed unit.
type NCRecord struct {
	ID         int    `json:"id"`
	NCNumber   string `json:"nc_number"`
	DocumentID string `json:"document_id"`
	ItemCode   string `json:"item_code"`
	Serial     string `json:"serial"`
	Reason     string `json:"reason"`
	Status     string `json:"status"`
	Memo       string `json:"memo"`
	CreatedBy  string `json:"created_by"`
	CreatedAt  string `json:"created_at"`
	UpdatedAt  string `json:"updated_at"`
}

// AuditEntry is one row of the audit log.
type AuditEntry struct {
	ID        int    `json:"id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	Module    string `json:"module"`
	RecordID  string `json:"record_id"`
	Summary   string `json:"summary"`
	CreatedAt string `json:"created_at"`
}
