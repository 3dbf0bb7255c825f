package allocation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stockreq/internal/audit"
	"stockreq/internal/database"
	"stockreq/internal/ledger"
	"stockreq/internal/models"
	"stockreq/internal/websocket"
	"stockreq/internal/workflow"
)

// DocumentPrefix is the running-number prefix for request documents.
const DocumentPrefix = "SRQ"

// InsufficientInventoryError reports fewer available serials than requested.
type InsufficientInventoryError struct {
	ItemCode string
	Want     int
	Have     int
}

func (e *InsufficientInventoryError) Error() string {
	return fmt.Sprintf("insufficient inventory for %s: want %d, have %d", e.ItemCode, e.Want, e.Have)
}

// BasketItem is one line of a submission: an item code and how many units.
type BasketItem struct {
	ProductID   string `json:"productId"`
	Quantity    int    `json:"quantity"`
	Description string `json:"description"`
}

// Submission is one sale-coordinator request: customer context plus a basket.
type Submission struct {
	CustomerName    string       `json:"customerName"`
	CustomerAddress string       `json:"customerAddress"`
	WantDate        string       `json:"wantDate"`
	RequestDetails  string       `json:"requestDetails"`
	Remark          string       `json:"remark"`
	UserName        string       `json:"userName"`
	Department      string       `json:"departmentExpense"`
	Items           []BasketItem `json:"items"`
}

// AllocatedItem is one reserved serial in a submission result.
type AllocatedItem struct {
	ItemCode    string `json:"item_code"`
	Description string `json:"description"`
	Serial      string `json:"serial"`
	Status      string `json:"status"`
}

// Result is the outcome of a successful submission.
type Result struct {
	DocumentID     string          `json:"documentId"`
	AllocatedItems []AllocatedItem `json:"allocatedItems"`
}

// FetchFunc is an optional external availability source. When set, the engine
// consults it instead of replaying the local ledger; a slow upstream is cut
// off by FetchTimeout so it fails the submission, not the queue.
type FetchFunc func(ctx context.Context, itemCode string) ([]models.SerialDetail, error)

// Engine reserves specific serial numbers against submissions. Allocate must
// only run inside the submission queue worker: document-id generation and the
// availability snapshot are race-free only under single-flight execution.
type Engine struct {
	DB           *sql.DB
	Hub          *websocket.Hub
	Fetch        FetchFunc
	FetchTimeout time.Duration
	Now          func() time.Time
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// availableSerials returns serials of itemCode currently safe to allocate, in
// FIFO order (receipt date ascending, serial ascending). Two exclusion
// layers: the reconstructor's own cross-reference, then the authoritative
// claimed-serials query against the request table through q, so rows written
// earlier in the same transaction are visible.
func (e *Engine) availableSerials(ctx context.Context, q database.Querier, itemCode string) ([]models.SerialDetail, error) {
	var details []models.SerialDetail
	if e.Fetch != nil {
		timeout := e.FetchTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		fctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		var err error
		details, err = e.Fetch(fctx, itemCode)
		if err != nil {
			return nil, fmt.Errorf("availability fetch for %s: %w", itemCode, err)
		}
	} else {
		txns, err := ledger.LoadTransactions(q, ledger.Filter{ItemCode: itemCode})
		if err != nil {
			return nil, err
		}
		statuses, err := ledger.ClaimedStatuses(q, itemCode)
		if err != nil {
			return nil, err
		}
		details = ledger.Reconstruct(txns, statuses).Remaining
	}

	claimed, err := claimedSerials(q, itemCode)
	if err != nil {
		return nil, err
	}

	var out []models.SerialDetail
	for _, d := range details {
		if d.Status != string(workflow.StatusAvailable) {
			continue
		}
		if claimed[d.Serial] {
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

// claimedSerials returns serials of itemCode whose latest request row status
// is anything but Available.
func claimedSerials(q database.Querier, itemCode string) (map[string]bool, error) {
	rows, err := q.Query("SELECT serial, status FROM allocation_requests WHERE item_code = ? ORDER BY updated_at ASC, id ASC", itemCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	latest := make(map[string]string)
	for rows.Next() {
		var serial, status string
		if err := rows.Scan(&serial, &status); err != nil {
			continue
		}
		latest[serial] = status
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]bool)
	for serial, status := range latest {
		if status != string(workflow.StatusAvailable) {
			out[serial] = true
		}
	}
	return out, nil
}

// Allocate processes one submission: for each basket line it selects the
// oldest available serials and writes one Pending row per unit, all sharing
// one document id. The whole submission runs in a single SQL transaction, so
// a failed line leaves nothing behind.
func (e *Engine) Allocate(ctx context.Context, sub Submission) (*Result, error) {
	tx, err := e.DB.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	now := e.now()
	docID := database.NextDocumentID(tx, "allocation_requests", "document_id", DocumentPrefix, now)

	res := &Result{DocumentID: docID, AllocatedItems: []AllocatedItem{}}
	for _, item := range sub.Items {
		candidates, err := e.availableSerials(ctx, tx, item.ProductID)
		if err != nil {
			return nil, err
		}
		if len(candidates) < item.Quantity {
			return nil, &InsufficientInventoryError{ItemCode: item.ProductID, Want: item.Quantity, Have: len(candidates)}
		}

		// Rows of the same basket line share one timestamp.
		stamp := e.now().Format("2006-01-02 15:04:05")
		for _, d := range candidates[:item.Quantity] {
			desc := item.Description
			if desc == "" {
				desc = d.Description
			}
			_, err := tx.Exec(`INSERT INTO allocation_requests
				(document_id, customer_name, customer_address, want_date, request_details, item_code, description, serial, qty, status, note, remark, requested_by, department, created_at, updated_at)
				VALUES (?,?,?,?,?,?,?,?,1,?,'',?,?,?,?,?)`,
				docID, sub.CustomerName, sub.CustomerAddress, sub.WantDate, sub.RequestDetails,
				item.ProductID, desc, d.Serial, string(workflow.StatusPending),
				sub.Remark, sub.UserName, sub.Department, stamp, stamp)
			if err != nil {
				return nil, err
			}
			audit.Log(tx, nil, sub.UserName, audit.ActionAllocate, "saleco", docID,
				"Allocated "+d.Serial+" of "+item.ProductID+" to "+docID)
			res.AllocatedItems = append(res.AllocatedItems, AllocatedItem{
				ItemCode:    item.ProductID,
				Description: desc,
				Serial:      d.Serial,
				Status:      string(workflow.StatusPending),
			})
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	if e.Hub != nil {
		e.Hub.Broadcast(websocket.Event{Type: "saleco_request_created", ID: docID, Action: audit.ActionAllocate})
	}
	return res, nil
}
