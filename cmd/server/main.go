package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/zirunbi/tradesim/internal/api"
	"github.com/zirunbi/tradesim/internal/auth"
	"github.com/zirunbi/tradesim/internal/clock"
	"github.com/zirunbi/tradesim/internal/config"
	"github.com/zirunbi/tradesim/internal/db"
	"github.com/zirunbi/tradesim/internal/market"
	"github.com/zirunbi/tradesim/internal/trading"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

func broadcastMarket(m *market.Market) {
	snapshot := struct {
		Prices map[string]float64 `json:"prices"`
		IsOpen bool               `json:"is_open"`
	}{
		Prices: m.Prices(),
		IsOpen: m.IsOpen(),
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		log.Printf("Failed to marshal market snapshot: %v", err)
		return
	}

	clientsMu.RLock()
	stale := []*WSClient{}
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	clientsMu.RUnlock()

	if len(stale) > 0 {
		clientsMu.Lock()
		for _, client := range stale {
			delete(clients, client)
		}
		clientsMu.Unlock()
	}
}

func handleWebSocket(m *market.Market) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("Failed to upgrade connection: %v", err)
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()

		// Send initial snapshot
		broadcastMarket(m)

		// Keep connection alive and handle disconnection
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				clientsMu.Lock()
				delete(clients, client)
				clientsMu.Unlock()
				break
			}
		}
	}
}

// Main entry point: sets up database, market simulator, and HTTP server
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}
	cfg := config.Load()

	ctx := context.Background()

	// Initialize database connection and bring the schema up to date
	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)
	database.Migrate(ctx)

	// Corrected clock, synced once at startup and hourly after that
	networkClock := clock.NewNetworkClock(cfg.Clock.SyncURL)
	if err := networkClock.Sync(ctx); err != nil {
		log.Printf("Time sync failed: %v", err)
	} else {
		log.Printf("Time synced. Offset: %.2fs", networkClock.Offset().Seconds())
	}

	// Market simulator over the default symbol set
	mkt := market.NewMarket(database, networkClock, map[string]float64{
		"BTC":  50000,
		"ETH":  3000,
		"DOGE": 0.2,
	})

	// Auth: session cookies for the browser, JWT for API clients
	sessions := auth.NewSessionStore(networkClock, 7*24*time.Hour)
	authService := auth.NewAuthService(database, sessions, cfg.Auth.JWTSecret)

	// Order execution gate
	tradingService := trading.NewService(database, mkt, networkClock)

	// Initialize API handlers
	handler := api.NewHandler(database, mkt, tradingService, authService, networkClock)

	// Set up HTTP router
	r := chi.NewRouter()

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Serve static files
	r.Handle("/*", http.FileServer(http.Dir("web")))

	// WebSocket endpoint
	r.Get("/ws", handleWebSocket(mkt))

	// Public endpoints
	r.Post("/api/login", handler.Login)
	r.Post("/api/logout", handler.Logout)
	r.Get("/api/market", handler.GetMarket)
	r.Get("/api/kline/{symbol}", handler.GetKline)
	r.Get("/api/news", handler.GetNews)
	r.Get("/api/leaderboard", handler.GetLeaderboard)

	// Protected endpoints (session cookie or Bearer JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.AuthMiddleware)
		r.Get("/api/me", handler.Me)
		r.Get("/api/assets", handler.GetAssets)
		r.Post("/api/trade", handler.Trade)
	})

	// Scheduled work: price ticks, candle closes, clock resync, session purge
	scheduler := cron.New(cron.WithSeconds())
	scheduler.AddFunc("*/5 * * * * *", func() {
		mkt.Tick()
		broadcastMarket(mkt)
	})
	scheduler.AddFunc("0 * * * * *", func() {
		mkt.CloseCandles(context.Background())
	})
	scheduler.AddFunc("0 0 * * * *", func() {
		if err := networkClock.Sync(context.Background()); err != nil {
			log.Printf("Time resync failed: %v", err)
		}
	})
	scheduler.AddFunc("0 */10 * * * *", func() {
		if removed := sessions.Purge(); removed > 0 {
			log.Printf("Purged %d expired sessions", removed)
		}
	})
	scheduler.Start()
	defer scheduler.Stop()

	// Start server
	log.Printf("Starting server on :%s", cfg.Server.Port)
	if err := http.ListenAndServe(":"+cfg.Server.Port, r); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}
