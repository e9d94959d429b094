package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zirunbi/tradesim/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MaxCandleRows caps market-history query results.
const MaxCandleRows = 5000

// ErrNotFound is returned when a requested entity does not exist. It is
// distinct from validation failures so callers can map it separately.
var ErrNotFound = errors.New("not found")

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// GetOrCreateUser returns the user, creating it with the default balance on
// first sight. Concurrent first-time callers race on the insert; ON CONFLICT
// DO NOTHING plus a re-read resolves the duplicate without an error.
func (db *DB) GetOrCreateUser(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT user_id, password_hash, balance FROM users WHERE user_id = $1",
		userID).Scan(&user.UserID, &user.PasswordHash, &user.Balance)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	_, err = db.Pool.Exec(ctx,
		"INSERT INTO users (user_id, balance) VALUES ($1, $2) ON CONFLICT (user_id) DO NOTHING",
		userID, models.DefaultBalance)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	err = db.Pool.QueryRow(ctx,
		"SELECT user_id, password_hash, balance FROM users WHERE user_id = $1",
		userID).Scan(&user.UserID, &user.PasswordHash, &user.Balance)
	if err != nil {
		return nil, fmt.Errorf("failed to read back user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user, returning ErrNotFound if it does not exist.
func (db *DB) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT user_id, password_hash, balance FROM users WHERE user_id = $1",
		userID).Scan(&user.UserID, &user.PasswordHash, &user.Balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// SetUserPassword stores a password hash for web login.
func (db *DB) SetUserPassword(ctx context.Context, userID, passwordHash string) error {
	tag, err := db.Pool.Exec(ctx,
		"UPDATE users SET password_hash = $1 WHERE user_id = $2", passwordHash, userID)
	if err != nil {
		return fmt.Errorf("failed to set password: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return nil
}

// GetAllUsers retrieves every user, ordered by user id for deterministic
// snapshots.
func (db *DB) GetAllUsers(ctx context.Context) ([]models.User, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT user_id, password_hash, balance FROM users ORDER BY user_id ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		var user models.User
		if err := rows.Scan(&user.UserID, &user.PasswordHash, &user.Balance); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

// GetHoldings retrieves all holdings for a user.
func (db *DB) GetHoldings(ctx context.Context, userID string) ([]models.Holding, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, symbol, amount FROM holdings WHERE user_id = $1 ORDER BY symbol ASC",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()
	return scanHoldings(rows)
}

// GetHolding retrieves a user's position in one symbol, or ErrNotFound.
func (db *DB) GetHolding(ctx context.Context, userID, symbol string) (*models.Holding, error) {
	holding := &models.Holding{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, user_id, symbol, amount FROM holdings WHERE user_id = $1 AND symbol = $2",
		userID, symbol).Scan(&holding.ID, &holding.UserID, &holding.Symbol, &holding.Amount)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("holding %s/%s: %w", userID, symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get holding: %w", err)
	}
	return holding, nil
}

// GetAllHoldings retrieves every holding row, for valuation snapshots.
func (db *DB) GetAllHoldings(ctx context.Context) ([]models.Holding, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, symbol, amount FROM holdings ORDER BY user_id ASC, symbol ASC")
	if err != nil {
		return nil, fmt.Errorf("failed to query holdings: %w", err)
	}
	defer rows.Close()
	return scanHoldings(rows)
}

func scanHoldings(rows pgx.Rows) ([]models.Holding, error) {
	var holdings []models.Holding
	for rows.Next() {
		var h models.Holding
		if err := rows.Scan(&h.ID, &h.UserID, &h.Symbol, &h.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan holding: %w", err)
		}
		holdings = append(holdings, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return holdings, nil
}

// AddToHolding accumulates quantity into the user's position for a symbol,
// creating the row on first trade. The (user_id, symbol) unique constraint
// keeps concurrent first trades from producing duplicate rows.
func (db *DB) AddToHolding(ctx context.Context, userID, symbol string, amount float64) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO holdings (user_id, symbol, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET amount = holdings.amount + EXCLUDED.amount`,
		userID, symbol, amount)
	if err != nil {
		return fmt.Errorf("failed to add to holding: %w", err)
	}
	return nil
}

// SettleBuy debits the order's cost, credits the position and marks the
// order filled, in one transaction. Returns false without touching anything
// when the balance does not cover the cost; the conditional update is the
// authoritative check, not any earlier read.
func (db *DB) SettleBuy(ctx context.Context, orderID int64, userID, symbol string, cost, amount float64) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE users SET balance = balance - $2 WHERE user_id = $1 AND balance >= $2",
		userID, cost)
	if err != nil {
		return false, fmt.Errorf("failed to debit balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO holdings (user_id, symbol, amount) VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, symbol) DO UPDATE SET amount = holdings.amount + EXCLUDED.amount`,
		userID, symbol, amount)
	if err != nil {
		return false, fmt.Errorf("failed to add to holding: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2",
		models.OrderStatusFilled, orderID); err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// SettleSell reduces the position, credits the proceeds and marks the order
// filled, in one transaction. Returns false without touching anything when
// the stored amount does not cover the sale.
func (db *DB) SettleSell(ctx context.Context, orderID int64, userID, symbol string, amount, proceeds float64) (bool, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx,
		"UPDATE holdings SET amount = amount - $3 WHERE user_id = $1 AND symbol = $2 AND amount >= $3",
		userID, symbol, amount)
	if err != nil {
		return false, fmt.Errorf("failed to reduce holding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}

	if _, err := tx.Exec(ctx,
		"UPDATE users SET balance = balance + $2 WHERE user_id = $1",
		userID, proceeds); err != nil {
		return false, fmt.Errorf("failed to credit balance: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"UPDATE orders SET status = $1 WHERE id = $2",
		models.OrderStatusFilled, orderID); err != nil {
		return false, fmt.Errorf("failed to update order status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return true, nil
}

// CreateOrder inserts a new order
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	// Validate order
	if order.Type != models.OrderTypeBuy && order.Type != models.OrderTypeSell {
		return nil, fmt.Errorf("order_type must be 'buy' or 'sell'")
	}
	if order.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	// Verify user exists
	var exists bool
	err := db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM users WHERE user_id = $1)", order.UserID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("user %s: %w", order.UserID, ErrNotFound)
	}

	newOrder := &models.Order{}
	err = db.Pool.QueryRow(ctx,
		`INSERT INTO orders (user_id, symbol, order_type, price, amount, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id, user_id, symbol, order_type, price, amount, status, created_at`,
		order.UserID, order.Symbol, order.Type, order.Price, order.Amount, order.Status, order.CreatedAt).Scan(
		&newOrder.ID, &newOrder.UserID, &newOrder.Symbol, &newOrder.Type, &newOrder.Price,
		&newOrder.Amount, &newOrder.Status, &newOrder.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

// GetOrder retrieves one order by id.
func (db *DB) GetOrder(ctx context.Context, orderID int64) (*models.Order, error) {
	order := &models.Order{}
	// COALESCE covers rows written before the symbol column existed
	err := db.Pool.QueryRow(ctx,
		"SELECT id, user_id, COALESCE(symbol, ''), order_type, price, amount, status, created_at FROM orders WHERE id = $1",
		orderID).Scan(&order.ID, &order.UserID, &order.Symbol, &order.Type, &order.Price,
		&order.Amount, &order.Status, &order.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", orderID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// GetUserOrders retrieves a user's orders in chronological order, optionally
// filtered by status.
func (db *DB) GetUserOrders(ctx context.Context, userID, status string) ([]models.Order, error) {
	query := "SELECT id, user_id, COALESCE(symbol, ''), order_type, price, amount, status, created_at FROM orders WHERE user_id = $1"
	args := []interface{}{userID}
	if status != "" {
		query += " AND status = $2"
		args = append(args, status)
	}
	query += " ORDER BY created_at ASC"

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Symbol, &order.Type, &order.Price,
			&order.Amount, &order.Status, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return orders, nil
}

// UpdateOrderStatus updates an order's status
func (db *DB) UpdateOrderStatus(ctx context.Context, orderID int64, status string) error {
	_, err := db.Pool.Exec(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// InsertCandle appends one OHLCV row to market history.
func (db *DB) InsertCandle(ctx context.Context, c *models.Candle) error {
	_, err := db.Pool.Exec(ctx,
		`INSERT INTO market_history (symbol, timestamp, open, high, low, close, volume)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.Symbol, c.Timestamp, c.Open, c.High, c.Low, c.Close, c.Volume)
	if err != nil {
		return fmt.Errorf("failed to insert candle: %w", err)
	}
	return nil
}

// GetCandles retrieves candles for a symbol newer than since, ascending.
// The row limit is clamped to [1, MaxCandleRows].
func (db *DB) GetCandles(ctx context.Context, symbol string, since time.Time, limit int) ([]models.Candle, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxCandleRows {
		limit = MaxCandleRows
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT id, symbol, timestamp, open, high, low, close, volume
		 FROM market_history
		 WHERE symbol = $1 AND timestamp > $2
		 ORDER BY timestamp ASC
		 LIMIT $3`,
		symbol, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query candles: %w", err)
	}
	defer rows.Close()

	var candles []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.ID, &c.Symbol, &c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("failed to scan candle: %w", err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return candles, nil
}

// InsertNews appends one announcement.
func (db *DB) InsertNews(ctx context.Context, n *models.News) error {
	_, err := db.Pool.Exec(ctx,
		"INSERT INTO market_news (timestamp, title, content) VALUES ($1, $2, $3)",
		n.Timestamp, n.Title, n.Content)
	if err != nil {
		return fmt.Errorf("failed to insert news: %w", err)
	}
	return nil
}

// GetRecentNews retrieves the newest announcements, newest first.
func (db *DB) GetRecentNews(ctx context.Context, limit int) ([]models.News, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := db.Pool.Query(ctx,
		"SELECT id, timestamp, title, content FROM market_news ORDER BY timestamp DESC LIMIT $1",
		limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query news: %w", err)
	}
	defer rows.Close()

	var news []models.News
	for rows.Next() {
		var n models.News
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Title, &n.Content); err != nil {
			return nil, fmt.Errorf("failed to scan news: %w", err)
		}
		news = append(news, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return news, nil
}
