package workflow

import (
	"errors"
	"strings"
)

// Status is the lifecycle state of one allocation request row. The set is
// closed: handlers validate incoming strings with Parse before touching the
// database.
type Status string

const (
	StatusPending        Status = "Pending"
	StatusAtInventory    Status = "At Inventory"
	StatusSentToQcm      Status = "Sent to Qcm"
	StatusAtQcm          Status = "At Qcm"
	StatusPassQC         Status = "Pass QC"
	StatusFailQC         Status = "Fail QC"
	StatusDeclined       Status = "Declined"
	StatusAvailable      Status = "Available"
	StatusPendingReview  Status = "Pending External Review"
	StatusAtStoreNC      Status = "At Store NC"
	StatusScrap          Status = "Scrap"
	StatusResolved       Status = "Resolved"
)

// Note values layered independently on top of status.
const (
	NoteCancelled   = "Cancelled"
	NoteReRequested = "Re-requested"
)

var (
	// ErrLocked means a generic status update hit a row whose note is set or
	// whose status is terminal. Surfaced as 409, never as 404.
	ErrLocked = errors.New("request is locked for status updates")

	// ErrIllegalTransition means the transition table rejects from→to.
	ErrIllegalTransition = errors.New("illegal status transition")

	// ErrUnknownStatus means the string is not a member of the Status enum.
	ErrUnknownStatus = errors.New("unknown status")

	// ErrRemarkRequired means a QC verdict arrived without a remark.
	ErrRemarkRequired = errors.New("remark is required for QC verdicts")
)

var all = []Status{
	StatusPending, StatusAtInventory, StatusSentToQcm, StatusAtQcm,
	StatusPassQC, StatusFailQC, StatusDeclined, StatusAvailable,
	StatusPendingReview, StatusAtStoreNC, StatusScrap, StatusResolved,
}

// Parse validates a raw status string against the enum.
func Parse(s string) (Status, error) {
	for _, st := range all {
		if Status(s) == st {
			return st, nil
		}
	}
	return "", ErrUnknownStatus
}

// All returns every member of the enum, for validation messages.
func All() []string {
	out := make([]string, len(all))
	for i, s := range all {
		out[i] = string(s)
	}
	return out
}

// Terminal reports whether generic status updates must not touch a row in
// this state. The dedicated recall and re-request paths bypass this.
func Terminal(s Status) bool {
	return s == StatusPassQC || s == StatusFailQC
}

// transitions is the legal from→to table for generic status updates. Recall
// (any → Available, note Cancelled) and re-request do not consult it.
var transitions = map[Status][]Status{
	StatusPending:       {StatusAtInventory, StatusDeclined},
	StatusPendingReview: {StatusPending, StatusDeclined},
	StatusAtInventory:   {StatusSentToQcm},
	StatusSentToQcm:     {StatusAtQcm, StatusPassQC, StatusFailQC},
	StatusAtQcm:         {StatusPassQC, StatusFailQC},
	StatusFailQC:        {StatusAtStoreNC, StatusScrap, StatusResolved},
	StatusAtStoreNC:     {StatusScrap, StatusResolved},
	StatusAvailable:     {StatusPending},
}

// CanTransition reports whether from→to is in the transition table.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// RequiresRemark reports whether a transition to this status must carry a
// non-empty remark.
func RequiresRemark(to Status) bool {
	return to == StatusPassQC || to == StatusFailQC
}

// GuardUpdate applies the lock rule for generic status updates: a row with a
// non-blank note, or already at a QC verdict, is immutable through the
// generic endpoint.
func GuardUpdate(current Status, note string) error {
	if strings.TrimSpace(note) != "" {
		return ErrLocked
	}
	if Terminal(current) {
		return ErrLocked
	}
	return nil
}

// CheckUpdate combines the lock guard and the transition table, for the
// generic status-update endpoint.
func CheckUpdate(current Status, note string, to Status) error {
	if err := GuardUpdate(current, note); err != nil {
		return err
	}
	if !CanTransition(current, to) {
		return ErrIllegalTransition
	}
	return nil
}

// CanReRequest reports whether a row may be corrected through the re-request
// flow: only failed or declined rows whose note is still empty.
func CanReRequest(current Status, note string) bool {
	if strings.TrimSpace(note) != "" {
		return false
	}
	return current == StatusFailQC || current == StatusDeclined
}
