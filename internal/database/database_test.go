package database

import (
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	db.SetMaxOpenConns(1)
	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func insertRequest(t *testing.T, db *sql.DB, docID string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO allocation_requests (document_id, item_code, serial, status, created_at, updated_at)
		VALUES (?, 'X1', 'A', 'Pending', '2025-04-01 09:00:00', '2025-04-01 09:00:00')`, docID)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	if err := Migrate(db); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestNextDocumentIDStartsAtOne(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	now := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	got := NextDocumentID(db, "allocation_requests", "document_id", "SRQ", now)
	if got != "SRQ04250001" {
		t.Errorf("NextDocumentID = %q, want SRQ04250001", got)
	}
}

func TestNextDocumentIDIncrements(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertRequest(t, db, "SRQ04250001")
	insertRequest(t, db, "SRQ04250007")

	now := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	got := NextDocumentID(db, "allocation_requests", "document_id", "SRQ", now)
	if got != "SRQ04250008" {
		t.Errorf("NextDocumentID = %q, want SRQ04250008", got)
	}
}

func TestNextDocumentIDResetsPerMonth(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	insertRequest(t, db, "SRQ04250042")

	may := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	got := NextDocumentID(db, "allocation_requests", "document_id", "SRQ", may)
	if got != "SRQ05250001" {
		t.Errorf("NextDocumentID = %q, want SRQ05250001", got)
	}
}

func TestNextDocumentIDIgnoresOtherPrefixes(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	_, err := db.Exec(`INSERT INTO nc_records (nc_number, item_code, serial) VALUES ('WNC04250003', 'X1', 'A')`)
	if err != nil {
		t.Fatalf("insert NC: %v", err)
	}

	now := time.Date(2025, 4, 15, 0, 0, 0, 0, time.UTC)
	if got := NextDocumentID(db, "nc_records", "nc_number", "WNC", now); got != "WNC04250004" {
		t.Errorf("NC number = %q, want WNC04250004", got)
	}
	if got := NextDocumentID(db, "allocation_requests", "document_id", "SRQ", now); got != "SRQ04250001" {
		t.Errorf("Request id = %q, want SRQ04250001", got)
	}
}

func TestSingleUnitRowConstraint(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()

	_, err := db.Exec(`INSERT INTO allocation_requests (document_id, item_code, serial, qty, status, created_at, updated_at)
		VALUES ('SRQ04250001', 'X1', 'A', 2, 'Pending', '2025-04-01 09:00:00', '2025-04-01 09:00:00')`)
	if err == nil {
		t.Fatal("Expected qty=2 insert to violate the single-unit constraint")
	}
}

func TestNullStringHelpers(t *testing.T) {
	s := "x"
	if ns := NS(&s); !ns.Valid || ns.String != "x" {
		t.Errorf("NS(&x) = %+v", ns)
	}
	if ns := NS(nil); ns.Valid {
		t.Errorf("NS(nil) = %+v", ns)
	}
	if p := SP(sql.NullString{String: "x", Valid: true}); p == nil || *p != "x" {
		t.Errorf("SP(valid) = %v", p)
	}
	if p := SP(sql.NullString{}); p != nil {
		t.Errorf("SP(null) = %v", p)
	}
}
