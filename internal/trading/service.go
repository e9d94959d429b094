// Package trading is the order execution gate: it decides whether a
// proposed trade may enter the ledger as a pending order, then hands it to
// the market for settlement. Its checks are advisory pre-conditions, not a
// reservation of funds; settlement re-checks atomically.
package trading

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zirunbi/tradesim/internal/clock"
	"github.com/zirunbi/tradesim/internal/db"
	"github.com/zirunbi/tradesim/internal/models"
)

// FeeRate is applied when estimating buy cost.
const FeeRate = 0.001

// Validation failures surfaced to the caller. Unknown users come back as
// db.ErrNotFound, which is a different class from these.
var (
	ErrMarketClosed        = errors.New("market is closed")
	ErrInvalidSymbol       = errors.New("invalid symbol")
	ErrInvalidAmount       = errors.New("amount must be positive")
	ErrInvalidPrice        = errors.New("price must be positive")
	ErrInvalidAction       = errors.New("action must be 'buy' or 'sell'")
	ErrInsufficientHolding = errors.New("insufficient holding")
)

// InsufficientBalanceError reports how much cash the order would need.
type InsufficientBalanceError struct {
	Need float64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance, need %.2f", e.Need)
}

// Market is the collaborator the gate consults. Settlement is entirely its
// responsibility.
type Market interface {
	IsOpen() bool
	Symbols() map[string]bool
	Price(symbol string) (float64, bool)
	MatchSingleOrder(ctx context.Context, orderID int64) error
}

// Service validates and submits orders.
type Service struct {
	DB     *db.DB
	Market Market
	Clock  clock.Clock
}

// NewService creates a new order execution gate.
func NewService(database *db.DB, market Market, clk clock.Clock) *Service {
	return &Service{DB: database, Market: market, Clock: clk}
}

// PlaceOrder runs the validation sequence, persists the order as pending
// and requests settlement. The returned order carries the status the
// matcher left it in. Price is nil for market orders.
func (s *Service) PlaceOrder(ctx context.Context, userID, symbol, action string, amount float64, price *float64) (*models.Order, error) {
	if !s.Market.IsOpen() {
		return nil, ErrMarketClosed
	}

	user, err := s.DB.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	symbol = strings.ToUpper(symbol)
	if !s.Market.Symbols()[symbol] {
		return nil, ErrInvalidSymbol
	}

	if amount <= 0 {
		return nil, ErrInvalidAmount
	}

	// a non-positive limit price would invert the cost arithmetic
	if price != nil && *price <= 0 {
		return nil, ErrInvalidPrice
	}

	switch action {
	case models.OrderTypeBuy:
		refPrice := 0.0
		if price != nil {
			refPrice = *price
		} else if p, ok := s.Market.Price(symbol); ok {
			refPrice = p
		}
		cost := refPrice * amount * (1 + FeeRate)
		if user.Balance < cost {
			return nil, &InsufficientBalanceError{Need: cost}
		}
	case models.OrderTypeSell:
		holding, err := s.DB.GetHolding(ctx, userID, symbol)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				return nil, ErrInsufficientHolding
			}
			return nil, err
		}
		if holding.Amount < amount {
			return nil, ErrInsufficientHolding
		}
	default:
		return nil, ErrInvalidAction
	}

	order, err := s.DB.CreateOrder(ctx, &models.Order{
		UserID:    userID,
		Symbol:    symbol,
		Type:      action,
		Price:     price,
		Amount:    amount,
		Status:    models.OrderStatusPending,
		CreatedAt: s.Clock.Now(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to persist order: %w", err)
	}

	if err := s.Market.MatchSingleOrder(ctx, order.ID); err != nil {
		return nil, fmt.Errorf("failed to match order %d: %w", order.ID, err)
	}

	return s.DB.GetOrder(ctx, order.ID)
}
