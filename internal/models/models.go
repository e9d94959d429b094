package models

import "time"

// Order types and statuses as stored in the orders table.
const (
	OrderTypeBuy  = "buy"
	OrderTypeSell = "sell"

	OrderStatusPending   = "pending"
	OrderStatusFilled    = "filled"
	OrderStatusCancelled = "cancelled"
)

// DefaultBalance is the cash every new user starts with.
const DefaultBalance = 10000.0

// User represents an account in the ledger. PasswordHash is only set for
// users that enabled web login.
type User struct {
	UserID       string  `json:"user_id"`
	PasswordHash *string `json:"-"`
	Balance      float64 `json:"balance"`
}

// Holding is a user's position in a single symbol. At most one row exists
// per (user_id, symbol).
type Holding struct {
	ID     int64   `json:"id"`
	UserID string  `json:"user_id"`
	Symbol string  `json:"symbol"`
	Amount float64 `json:"amount"`
}

// Order represents a buy or sell order. Price is nil for market orders.
// Status moves pending -> filled/cancelled, driven only by the matcher.
type Order struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Type      string    `json:"order_type"`
	Price     *float64  `json:"price,omitempty"`
	Amount    float64   `json:"amount"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Candle is one OHLCV row of market history, written by the market
// simulator and read back for charting.
type Candle struct {
	ID        int64     `json:"id"`
	Symbol    string    `json:"symbol"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// News is a timestamped market announcement.
type News struct {
	ID        int64     `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
}
