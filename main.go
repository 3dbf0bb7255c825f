package main

import (
	"database/sql"
	"flag"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"stockreq/internal/allocation"
	"stockreq/internal/audit"
	"stockreq/internal/auth"
	"stockreq/internal/config"
	"stockreq/internal/database"
	"stockreq/internal/handlers/inventory"
	"stockreq/internal/handlers/qcm"
	"stockreq/internal/handlers/saleco"
	"stockreq/internal/notify"
	"stockreq/internal/response"
	"stockreq/internal/server"
	"stockreq/internal/websocket"
)

func main() {
	cfgPath := flag.String("config", "stockreq.yaml", "Path to yaml config file")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal("config load failed:", err)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Server.DBPath = *dbPath
	}

	db, err := database.Open(cfg.Server.DBPath)
	if err != nil {
		log.Fatal("DB init failed:", err)
	}
	seedAdmin(db)

	hub := websocket.NewHub()
	notifier := notify.NewTelegram(cfg.Telegram)

	engine := &allocation.Engine{
		DB:           db,
		Hub:          hub,
		FetchTimeout: time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
	}
	if cfg.Upstream.AvailabilityURL != "" {
		engine.Fetch = allocation.NewHTTPFetch(cfg.Upstream.AvailabilityURL)
	}
	queue := allocation.NewQueue(engine, 64)
	defer queue.Close()

	invHandler := &inventory.Handler{DB: db, Hub: hub}
	salecoHandler := &saleco.Handler{DB: db, Hub: hub, Queue: queue, Notifier: notifier}
	qcmHandler := &qcm.Handler{DB: db, Hub: hub, Notifier: notifier}

	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		websocket.Handle(hub, w, r)
	})

	mux.HandleFunc("/auth/login", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			auth.HandleLogin(db, w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" {
			auth.HandleLogout(db, w, r)
		} else {
			http.Error(w, "Method not allowed", 405)
		}
	})
	mux.HandleFunc("/auth/me", func(w http.ResponseWriter, r *http.Request) {
		auth.HandleMe(db, w, r)
	})

	mux.HandleFunc("/api/v1/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/")
		path = strings.TrimSuffix(path, "/")
		parts := strings.Split(path, "/")

		switch {
		case path == "health" && r.Method == "GET":
			response.JSON(w, map[string]string{"status": "ok"})

		// Availability / ledger
		case path == "products" && r.Method == "GET":
			invHandler.Availability(w, r)
		case path == "products/export" && r.Method == "GET":
			invHandler.ExportAvailability(w, r)
		case path == "transactions" && r.Method == "POST":
			invHandler.CreateTransaction(w, r)
		case path == "transactions" && r.Method == "GET":
			invHandler.History(w, r)

		// Sale-co requests
		case path == "sale-co/request" && r.Method == "POST":
			salecoHandler.SubmitRequest(w, r)
		case path == "sale-co/re-request" && r.Method == "POST":
			salecoHandler.ReRequest(w, r)
		case path == "sale-co/store-nc" && r.Method == "POST":
			salecoHandler.CreateNC(w, r)
		case path == "sale-co/store-nc" && r.Method == "GET":
			salecoHandler.ListNC(w, r)
		case parts[0] == "sale-co" && len(parts) == 4 && parts[1] == "store-nc" &&
			(parts[3] == "status" || parts[3] == "status-with-memo") && r.Method == "PUT":
			salecoHandler.UpdateNCStatus(w, r, parts[2])
		case parts[0] == "sale-co-requests" && len(parts) == 1 && r.Method == "GET":
			salecoHandler.ListRequests(w, r)
		case path == "sale-co-requests/export" && r.Method == "GET":
			salecoHandler.ExportRequests(w, r)
		case parts[0] == "sale-co-requests" && len(parts) == 2 && r.Method == "GET":
			salecoHandler.GetDocument(w, r, parts[1])
		case parts[0] == "sale-co-requests" && len(parts) == 3 && parts[2] == "status" && r.Method == "PUT":
			salecoHandler.UpdateStatus(w, r, parts[1])
		case parts[0] == "sale-co-requests" && len(parts) == 3 && parts[2] == "recall" && r.Method == "PUT":
			salecoHandler.Recall(w, r, parts[1])

		// QCM
		case parts[0] == "qcm-requests" && len(parts) == 1 && r.Method == "GET":
			qcmHandler.ListPending(w, r)
		case parts[0] == "qcm-requests" && len(parts) == 3 && parts[2] == "status" && r.Method == "PUT":
			qcmHandler.UpdateStatus(w, r, parts[1])

		// Audit
		case path == "audit" && r.Method == "GET":
			entries, err := audit.List(db, 100)
			if err != nil {
				response.Err(w, err.Error(), 500)
				return
			}
			response.JSON(w, entries)

		default:
			response.Err(w, "not found", 404)
		}
	})

	handler := server.LoggingMiddleware(server.SecurityHeaders(mux))
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("stockreq listening on %s (db %s)", addr, cfg.Server.DBPath)
	log.Fatal(http.ListenAndServe(addr, handler))
}

// seedAdmin creates the default admin account on an empty users table.
func seedAdmin(db *sql.DB) {
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM users").Scan(&count); err != nil || count > 0 {
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte("admin"), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("seed: %v", err)
		return
	}
	_, err = db.Exec("INSERT INTO users (username, password_hash, display_name, role) VALUES (?,?,?,?)",
		"admin", string(hash), "Administrator", "admin")
	if err != nil {
		log.Printf("seed: %v", err)
		return
	}
	log.Println("seeded default admin user (change the password)")
}
