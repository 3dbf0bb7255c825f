package ledger

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"stockreq/internal/database"
	"stockreq/internal/models"
)

// Filter narrows which ledger transactions feed a reconstruction pass.
type Filter struct {
	ItemCode   string
	ItemName   string
	StockGroup string
	Serial     string
}

// LoadTransactions reads ledger entries oldest-first. The ledger is
// append-only; rows are never updated or deleted.
func LoadTransactions(db database.Querier, f Filter) ([]models.Transaction, error) {
	query := "SELECT id,item_code,COALESCE(description,''),qty,COALESCE(serials,''),txn_type,txn_date,COALESCE(on_hand,''),COALESCE(stock_group,'') FROM transactions WHERE 1=1"
	var args []interface{}
	if f.ItemCode != "" {
		args = append(args, "%"+f.ItemCode+"%")
		query += " AND item_code LIKE ?"
	}
	if f.ItemName != "" {
		args = append(args, "%"+f.ItemName+"%")
		query += " AND description LIKE ?"
	}
	if f.StockGroup != "" {
		args = append(args, "%"+f.StockGroup+"%")
		query += " AND stock_group LIKE ?"
	}
	if f.Serial != "" {
		args = append(args, "%"+f.Serial+"%")
		query += " AND serials LIKE ?"
	}
	query += " ORDER BY txn_date ASC, id ASC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []models.Transaction
	for rows.Next() {
		var t models.Transaction
		var serials string
		if err := rows.Scan(&t.ID, &t.ItemCode, &t.Description, &t.Qty, &serials, &t.TxnType, &t.TxnDate, &t.OnHand, &t.StockGroup); err != nil {
			continue
		}
		t.Serials = SplitSerials(serials)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// SplitSerials parses the comma-delimited serial list, dropping blanks.
func SplitSerials(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// share is one transaction's contribution to a serial: the transaction's
// quantity split evenly across every serial it carries.
type share struct {
	Qty     decimal.Decimal
	TxnDate string
	TxnType string
}

// aggregate is the replayed state of one serial number.
type aggregate struct {
	Serial      string
	ItemCode    string
	Description string
	Balance     decimal.Decimal
	Shares      []share
	ReceiptDate string // first positive-share transaction date
}

func (a *aggregate) last() share {
	return a.Shares[len(a.Shares)-1]
}

// Buckets is the reconstruction result: three disjoint classifications plus
// debug counters.
type Buckets struct {
	Remaining            []models.SerialDetail `json:"remainingSerialsDetails"`
	UnmatchedWithdrawals []models.SerialDetail `json:"unmatchedWithdrawalsDetails"`
	Matched              []models.SerialDetail `json:"matchedTransactions"`
	Debug                Debug                 `json:"debug"`
}

// Debug carries reconstruction counters for troubleshooting.
type Debug struct {
	TxnCount        int               `json:"txn_count"`
	SerialCount     int               `json:"serial_count"`
	SkippedNoSerial int               `json:"skipped_no_serial"`
	BadQty          int               `json:"bad_qty"`
	OnHandCaps      map[string]string `json:"on_hand_caps"`
}

// itemStatus tracks the latest known on-hand snapshot per item code, keyed by
// the most recent transaction timestamp seen so far in the replay.
type itemStatus struct {
	TxnDate string
	OnHand  decimal.Decimal
	Capped  bool
}

// Reconstruct replays the full transaction history and classifies every
// serial into exactly one bucket. statuses is the allocation-table
// cross-reference: serial → current claimed status; serials absent from it
// default to "Available".
//
// Pass 1 walks transactions in arrival order, splitting each quantity evenly
// across the serials it carries (fractional shares allowed) and tracking the
// freshest on-hand snapshot per item. Pass 2 classifies:
//   - remaining: last share positive AND balance > 0, promoted
//     earliest-receipt-first (serial order breaks ties) while the item's
//     promoted count stays below its on-hand cap
//   - unmatched withdrawal: exactly one share and a negative balance
//   - matched: everything else
func Reconstruct(txns []models.Transaction, statuses map[string]string) Buckets {
	aggs := make(map[string]*aggregate)
	var order []string
	items := make(map[string]*itemStatus)
	debug := Debug{TxnCount: len(txns), OnHandCaps: map[string]string{}}

	for _, t := range txns {
		// Freshest on-hand snapshot wins, by transaction timestamp.
		st, ok := items[t.ItemCode]
		if !ok || t.TxnDate >= st.TxnDate {
			onHand, err := decimal.NewFromString(strings.TrimSpace(t.OnHand))
			capped := err == nil
			items[t.ItemCode] = &itemStatus{TxnDate: t.TxnDate, OnHand: onHand, Capped: capped}
		}

		if len(t.Serials) == 0 {
			debug.SkippedNoSerial++
			continue
		}

		// A quantity that does not parse fails only this transaction's
		// contribution: the shares are recorded as zero so the serial's
		// history stays intact.
		qty, err := decimal.NewFromString(strings.TrimSpace(t.Qty))
		if err != nil {
			qty = decimal.Zero
			debug.BadQty++
		}
		per := qty.Div(decimal.NewFromInt(int64(len(t.Serials))))

		for _, sn := range t.Serials {
			a, ok := aggs[sn]
			if !ok {
				a = &aggregate{Serial: sn, ItemCode: t.ItemCode, Description: t.Description}
				aggs[sn] = a
				order = append(order, sn)
			}
			a.Balance = a.Balance.Add(per)
			a.Shares = append(a.Shares, share{Qty: per, TxnDate: t.TxnDate, TxnType: t.TxnType})
			if a.ReceiptDate == "" && per.IsPositive() {
				a.ReceiptDate = t.TxnDate
			}
		}
	}
	debug.SerialCount = len(order)

	var b Buckets
	b.Remaining = []models.SerialDetail{}
	b.UnmatchedWithdrawals = []models.SerialDetail{}
	b.Matched = []models.SerialDetail{}

	// Candidates for the available bucket, in explicit FIFO order: earliest
	// receipt date first, then serial lexical order.
	var candidates []*aggregate
	for _, sn := range order {
		a := aggs[sn]
		if a.last().Qty.IsPositive() && a.Balance.IsPositive() {
			candidates = append(candidates, a)
			continue
		}
		if len(a.Shares) == 1 && a.Balance.IsNegative() {
			b.UnmatchedWithdrawals = append(b.UnmatchedWithdrawals, detail(a, "Unmatched Withdrawal"))
			continue
		}
		b.Matched = append(b.Matched, detail(a, "Matched"))
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].ReceiptDate != candidates[j].ReceiptDate {
			return candidates[i].ReceiptDate < candidates[j].ReceiptDate
		}
		return candidates[i].Serial < candidates[j].Serial
	})

	// Promotion cap: never mark more serials available than the item's
	// latest known on-hand quantity. Overflow falls through to matched.
	promoted := make(map[string]int64)
	for _, a := range candidates {
		st := items[a.ItemCode]
		if st != nil && st.Capped {
			debug.OnHandCaps[a.ItemCode] = st.OnHand.String()
			if decimal.NewFromInt(promoted[a.ItemCode]).Cmp(st.OnHand) >= 0 {
				b.Matched = append(b.Matched, detail(a, "Matched"))
				continue
			}
		}
		promoted[a.ItemCode]++
		status := "Available"
		if s, ok := statuses[a.Serial]; ok && s != "" && s != "Available" {
			status = s
		}
		b.Remaining = append(b.Remaining, detail(a, status))
	}
	b.Debug = debug
	return b
}

func detail(a *aggregate, status string) models.SerialDetail {
	return models.SerialDetail{
		Serial:      a.Serial,
		ItemCode:    a.ItemCode,
		Description: a.Description,
		Balance:     a.Balance.String(),
		ReceiptDate: a.ReceiptDate,
		LastTxnDate: a.last().TxnDate,
		LastTxnType: a.last().TxnType,
		TxnCount:    len(a.Shares),
		Status:      status,
	}
}

// ClaimedStatuses loads the allocation-table cross-reference: the current
// non-default status per serial, most recent row winning.
func ClaimedStatuses(db database.Querier, itemCode string) (map[string]string, error) {
	query := "SELECT serial, status FROM allocation_requests"
	var args []interface{}
	if itemCode != "" {
		query += " WHERE item_code = ?"
		args = append(args, itemCode)
	}
	query += " ORDER BY updated_at ASC, id ASC"
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var serial, status string
		if err := rows.Scan(&serial, &status); err != nil {
			continue
		}
		out[serial] = status
	}
	return out, rows.Err()
}
