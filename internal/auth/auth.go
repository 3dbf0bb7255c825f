package auth

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"stockreq/internal/models"
	"stockreq/internal/response"
)

// SessionCookie is the cookie carrying the session token.
const SessionCookie = "stockreq_session"

// SessionTTL is how long a session stays valid.
const SessionTTL = 24 * time.Hour

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// HashPassword hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}

// HandleLogin handles POST /auth/login.
func HandleLogin(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := response.DecodeBody(r, &req); err != nil {
		response.Err(w, "invalid body", 400)
		return
	}

	var u models.User
	var passwordHash string
	var active int
	err := db.QueryRow("SELECT id, password_hash, display_name, role, active FROM users WHERE username = ?", req.Username).
		Scan(&u.ID, &passwordHash, &u.DisplayName, &u.Role, &active)
	if err != nil {
		response.Err(w, "invalid username or password", 401)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(passwordHash), []byte(req.Password)); err != nil {
		response.Err(w, "invalid username or password", 401)
		return
	}
	if active == 0 {
		response.Err(w, "account deactivated", 403)
		return
	}
	u.Username = req.Username

	db.Exec("DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP")

	token := uuid.NewString()
	expires := time.Now().Add(SessionTTL)
	if _, err := db.Exec("INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)", token, u.ID, expires.Format("2006-01-02 15:04:05")); err != nil {
		response.Err(w, "could not create session", 500)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	response.JSON(w, u)
}

// HandleLogout handles POST /auth/logout.
func HandleLogout(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		db.Exec("DELETE FROM sessions WHERE token = ?", cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: "", Path: "/", MaxAge: -1})
	response.JSON(w, map[string]string{"status": "ok"})
}

// HandleMe handles GET /auth/me.
func HandleMe(db *sql.DB, w http.ResponseWriter, r *http.Request) {
	u := CurrentUser(db, r)
	if u == nil {
		response.Err(w, "not authenticated", 401)
		return
	}
	response.JSON(w, u)
}

// CurrentUser resolves the session cookie to a user, or nil.
func CurrentUser(db *sql.DB, r *http.Request) *models.User {
	cookie, err := r.Cookie(SessionCookie)
	if err != nil {
		return nil
	}
	var u models.User
	err = db.QueryRow(`SELECT u.id, u.username, u.display_name, u.role
		FROM users u JOIN sessions s ON u.id = s.user_id
		WHERE s.token = ? AND s.expires_at > CURRENT_TIMESTAMP`, cookie.Value).
		Scan(&u.ID, &u.Username, &u.DisplayName, &u.Role)
	if err != nil {
		return nil
	}
	return &u
}

// ActorName returns the authenticated username, or fallback when the caller
// is unauthenticated (workflow endpoints accept a userName in the body for
// integration callers that sit behind their own auth).
func ActorName(db *sql.DB, r *http.Request, fallback string) string {
	if u := CurrentUser(db, r); u != nil {
		return u.Username
	}
	if fallback != "" {
		return fallback
	}
	return "system"
}
