package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/zirunbi/tradesim/internal/auth"
	"github.com/zirunbi/tradesim/internal/clock"
	"github.com/zirunbi/tradesim/internal/db"
	"github.com/zirunbi/tradesim/internal/leaderboard"
	"github.com/zirunbi/tradesim/internal/trading"
)

// SessionCookie is the browser session cookie name.
const SessionCookie = "zrb_session"

const (
	klineTimeLayout = "2006-01-02 15:04"
	dustThreshold   = 0.0001
)

// Handler contains dependencies for HTTP handlers
type Handler struct {
	DB          *db.DB
	Market      trading.Market
	Trading     *trading.Service
	AuthService *auth.AuthService
	Clock       clock.Clock
}

// NewHandler creates a new handler
func NewHandler(database *db.DB, market trading.Market, tradingSvc *trading.Service, authService *auth.AuthService, clk clock.Clock) *Handler {
	return &Handler{DB: database, Market: market, Trading: tradingSvc, AuthService: authService, Clock: clk}
}

// Login verifies credentials, sets a session cookie and returns a JWT for
// programmatic clients.
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID   string `json:"user_id"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	sessionToken, jwtToken, err := h.AuthService.Login(r.Context(), req.UserID, req.Password)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			http.Error(w, `{"error": "User not found or password not set"}`, http.StatusBadRequest)
			return
		}
		http.Error(w, `{"error": "Incorrect password"}`, http.StatusBadRequest)
		return
	}

	user, err := h.DB.GetUser(r.Context(), req.UserID)
	if err != nil {
		http.Error(w, `{"error": "Failed to load user"}`, http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    sessionToken,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   86400 * 7,
	})

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "success",
		"user_id": user.UserID,
		"balance": user.Balance,
		"token":   jwtToken,
	})
}

// Logout invalidates the session cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		h.AuthService.Logout(cookie.Value)
	}
	http.SetCookie(w, &http.Cookie{
		Name:   SessionCookie,
		Value:  "",
		MaxAge: -1,
	})
	json.NewEncoder(w).Encode(map[string]string{"status": "success"})
}

// AuthMiddleware resolves the caller from the session cookie or a Bearer
// JWT and stores the user id in the request context.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookie); err == nil {
			if userID, ok := h.AuthService.Sessions.Get(cookie.Value); ok {
				ctx := context.WithValue(r.Context(), "user_id", userID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		tokenString := r.Header.Get("Authorization")
		if strings.HasPrefix(tokenString, "Bearer ") {
			tokenString = tokenString[7:]
		}
		if tokenString != "" {
			if userID, err := h.AuthService.GetUserFromToken(tokenString); err == nil {
				ctx := context.WithValue(r.Context(), "user_id", userID)
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}
		}

		http.Error(w, `{"error": "Not authenticated"}`, http.StatusUnauthorized)
	})
}

// Me returns the authenticated user id.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
}

// GetMarket returns the live price map and the open flag.
func (h *Handler) GetMarket(w http.ResponseWriter, r *http.Request) {
	prices := make(map[string]float64)
	for sym := range h.Market.Symbols() {
		if p, ok := h.Market.Price(sym); ok {
			prices[sym] = p
		}
	}
	json.NewEncoder(w).Encode(map[string]interface{}{
		"prices":  prices,
		"is_open": h.Market.IsOpen(),
	})
}

// GetAssets returns the caller's cash and non-dust holdings.
func (h *Handler) GetAssets(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	user, err := h.DB.GetUser(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "User not found"}`, http.StatusNotFound)
		return
	}

	holdings, err := h.DB.GetHoldings(r.Context(), userID)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve holdings"}`, http.StatusInternalServerError)
		return
	}

	type holdingView struct {
		Symbol string  `json:"symbol"`
		Amount float64 `json:"amount"`
	}
	views := []holdingView{}
	for _, holding := range holdings {
		if holding.Amount > dustThreshold {
			views = append(views, holdingView{Symbol: holding.Symbol, Amount: holding.Amount})
		}
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"balance":  user.Balance,
		"holdings": views,
	})
}

// Trade submits an order through the execution gate.
func (h *Handler) Trade(w http.ResponseWriter, r *http.Request) {
	userID, ok := r.Context().Value("user_id").(string)
	if !ok {
		http.Error(w, `{"error": "Unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req struct {
		Symbol string   `json:"symbol"`
		Amount float64  `json:"amount"`
		Price  *float64 `json:"price,omitempty"`
		Action string   `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "Invalid request body"}`, http.StatusBadRequest)
		return
	}

	order, err := h.Trading.PlaceOrder(r.Context(), userID, req.Symbol, req.Action, req.Amount, req.Price)
	if err != nil {
		writeTradeError(w, err)
		return
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":       "success",
		"order_id":     order.ID,
		"order_status": order.Status,
		"message":      "Order submitted",
	})
}

func writeTradeError(w http.ResponseWriter, err error) {
	var balErr *trading.InsufficientBalanceError
	switch {
	case errors.Is(err, trading.ErrMarketClosed):
		http.Error(w, `{"error": "Market is closed"}`, http.StatusBadRequest)
	case errors.Is(err, trading.ErrInvalidSymbol):
		http.Error(w, `{"error": "Invalid symbol"}`, http.StatusBadRequest)
	case errors.Is(err, trading.ErrInvalidAmount):
		http.Error(w, `{"error": "Amount must be positive"}`, http.StatusBadRequest)
	case errors.Is(err, trading.ErrInvalidPrice):
		http.Error(w, `{"error": "Price must be positive"}`, http.StatusBadRequest)
	case errors.Is(err, trading.ErrInvalidAction):
		http.Error(w, `{"error": "Invalid action"}`, http.StatusBadRequest)
	case errors.Is(err, trading.ErrInsufficientHolding):
		http.Error(w, `{"error": "Insufficient holding"}`, http.StatusBadRequest)
	case errors.As(err, &balErr):
		msg, _ := json.Marshal(map[string]string{
			"error": "Insufficient balance. Need " + strconv.FormatFloat(balErr.Need, 'f', 2, 64),
		})
		http.Error(w, string(msg), http.StatusBadRequest)
	case errors.Is(err, db.ErrNotFound):
		http.Error(w, `{"error": "User not found"}`, http.StatusNotFound)
	default:
		http.Error(w, `{"error": "Failed to submit order"}`, http.StatusInternalServerError)
	}
}

// GetKline returns candles for a symbol, ascending, optionally bounded by a
// since timestamp. An unparseable since is ignored.
func (h *Handler) GetKline(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(chi.URLParam(r, "symbol"))

	limit := db.MaxCandleRows
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}

	since := time.Time{}
	if raw := r.URL.Query().Get("since"); raw != "" {
		if t, err := time.Parse(klineTimeLayout, raw); err == nil {
			since = t
		}
	}

	candles, err := h.DB.GetCandles(r.Context(), symbol, since, limit)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve candles"}`, http.StatusInternalServerError)
		return
	}

	type candleView struct {
		Time   string  `json:"time"`
		Open   float64 `json:"open"`
		High   float64 `json:"high"`
		Low    float64 `json:"low"`
		Close  float64 `json:"close"`
		Volume float64 `json:"volume"`
	}
	data := []candleView{}
	for _, c := range candles {
		data = append(data, candleView{
			Time:   c.Timestamp.Format(klineTimeLayout),
			Open:   c.Open,
			High:   c.High,
			Low:    c.Low,
			Close:  c.Close,
			Volume: c.Volume,
		})
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"symbol": symbol,
		"data":   data,
	})
}

// GetNews returns the latest announcements.
func (h *Handler) GetNews(w http.ResponseWriter, r *http.Request) {
	news, err := h.DB.GetRecentNews(r.Context(), 20)
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve news"}`, http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(map[string]interface{}{"news": news})
}

// GetLeaderboard computes the ranking over a snapshot of the ledger and
// renders the plain-text report.
func (h *Handler) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	topN := 10
	if raw := r.URL.Query().Get("top_n"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			topN = n
		}
	}

	users, err := h.DB.GetAllUsers(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve users"}`, http.StatusInternalServerError)
		return
	}
	holdings, err := h.DB.GetAllHoldings(r.Context())
	if err != nil {
		http.Error(w, `{"error": "Failed to retrieve holdings"}`, http.StatusInternalServerError)
		return
	}

	prices := make(map[string]float64)
	for sym := range h.Market.Symbols() {
		if p, ok := h.Market.Price(sym); ok {
			prices[sym] = p
		}
	}

	entries := leaderboard.Compute(users, holdings, prices, topN)

	status := "休市"
	if h.Market.IsOpen() {
		status = "开市"
	}
	report := leaderboard.Format(entries, topN, &leaderboard.HeaderMeta{
		UpdatedAt:    h.Clock.Now().Format("2006-01-02 15:04:05"),
		MarketStatus: status,
	})

	json.NewEncoder(w).Encode(map[string]interface{}{
		"entries": entries,
		"report":  report,
	})
}
