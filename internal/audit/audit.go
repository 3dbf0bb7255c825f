package audit

import (
	"database/sql"
	"log"
	"net/http"

	"stockreq/internal/database"
	"stockreq/internal/models"
	"stockreq/internal/websocket"
)

// Action constants.
const (
	ActionCreate   = "CREATE"
	ActionUpdate   = "UPDATE"
	ActionAllocate = "ALLOCATE"
	ActionRecall   = "RECALL"
	ActionEscalate = "ESCALATE"
	ActionLogin    = "LOGIN"
	ActionLogout   = "LOGOUT"
)

// Log writes one audit entry and broadcasts it to connected clients. Audit
// failures are logged, never propagated: the primary operation must not fail
// because the trail could not be written.
func Log(db database.Querier, hub *websocket.Hub, username, action, module, recordID, summary string) {
	_, err := db.Exec("INSERT INTO audit_log (username, action, module, record_id, summary) VALUES (?, ?, ?, ?, ?)",
		username, action, module, recordID, summary)
	if err != nil {
		log.Printf("audit log error: %v", err)
	}
	if hub != nil {
		hub.Broadcast(websocket.Event{
			Type:   module + "_" + action,
			ID:     recordID,
			Action: action,
		})
	}
}

// GetUsername extracts the username from a session cookie, falling back to
// "system" for unauthenticated callers.
func GetUsername(db *sql.DB, r *http.Request) string {
	cookie, err := r.Cookie("stockreq_session")
	if err != nil {
		return "system"
	}
	var username string
	err = db.QueryRow("SELECT u.username FROM users u JOIN sessions s ON u.id = s.user_id WHERE s.token = ?", cookie.Value).Scan(&username)
	if err != nil {
		return "system"
	}
	return username
}

// List returns recent audit entries, newest first.
func List(db *sql.DB, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := db.Query("SELECT id,username,action,module,record_id,summary,created_at FROM audit_log ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []models.AuditEntry
	for rows.Next() {
		var e models.AuditEntry
		rows.Scan(&e.ID, &e.Username, &e.Action, &e.Module, &e.RecordID, &e.Summary, &e.CreatedAt)
		items = append(items, e)
	}
	if items == nil {
		items = []models.AuditEntry{}
	}
	return items, rows.Err()
}
