package audit_test

import (
	"net/http/httptest"
	"testing"

	"stockreq/internal/audit"
	"stockreq/internal/testutil"
)

func TestLogAndList(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()

	audit.Log(db, nil, "admin", audit.ActionAllocate, "saleco", "SRQ04250001", "Allocated A of X1")
	audit.Log(db, nil, "admin", audit.ActionRecall, "saleco", "SRQ04250001", "Recalled SRQ04250001")

	entries, err := audit.List(db, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Action != audit.ActionRecall || entries[1].Action != audit.ActionAllocate {
		t.Errorf("Unexpected order: %s then %s", entries[0].Action, entries[1].Action)
	}
	if entries[0].RecordID != "SRQ04250001" {
		t.Errorf("RecordID = %q", entries[0].RecordID)
	}
}

func TestListClampsLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()
	if _, err := audit.List(db, -5); err != nil {
		t.Fatalf("List with bad limit: %v", err)
	}
}

func TestGetUsername(t *testing.T) {
	db := testutil.SetupTestDB(t)
	defer db.Close()
	token := testutil.LoginAdmin(t, db)

	req := testutil.AuthedRequest("GET", "/x", nil, token)
	if got := audit.GetUsername(db, req); got != "admin" {
		t.Errorf("GetUsername = %q, want admin", got)
	}
	if got := audit.GetUsername(db, httptest.NewRequest("GET", "/x", nil)); got != "system" {
		t.Errorf("GetUsername anonymous = %q, want system", got)
	}
}
