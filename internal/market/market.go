// Package market is the price-discovery side of the simulator: it owns the
// open flag, the tradable symbol set and the live price map, records
// candles, and settles pending orders. It is the only writer of order
// status transitions and of the balance/holding adjustments they imply.
package market

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/zirunbi/tradesim/internal/clock"
	"github.com/zirunbi/tradesim/internal/db"
	"github.com/zirunbi/tradesim/internal/models"
)

// FeeRate is charged on both sides of a fill.
const FeeRate = 0.001

// Market simulates price movement and matches pending orders against the
// current price.
type Market struct {
	DB    *db.DB
	Clock clock.Clock

	mu     sync.RWMutex
	open   bool
	prices map[string]float64
	// per-symbol state for the candle being built
	candleOpen map[string]float64
	candleHigh map[string]float64
	candleLow  map[string]float64
	volume     map[string]float64
}

// NewMarket creates a market over the given symbols with starting prices.
func NewMarket(database *db.DB, clk clock.Clock, initial map[string]float64) *Market {
	prices := make(map[string]float64, len(initial))
	for sym, p := range initial {
		prices[sym] = p
	}
	return &Market{
		DB:         database,
		Clock:      clk,
		open:       true,
		prices:     prices,
		candleOpen: make(map[string]float64),
		candleHigh: make(map[string]float64),
		candleLow:  make(map[string]float64),
		volume:     make(map[string]float64),
	}
}

// IsOpen reports whether trading is currently allowed.
func (m *Market) IsOpen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.open
}

// SetOpen flips the market open flag.
func (m *Market) SetOpen(open bool) {
	m.mu.Lock()
	m.open = open
	m.mu.Unlock()
}

// Symbols returns the tradable symbol set.
func (m *Market) Symbols() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	symbols := make(map[string]bool, len(m.prices))
	for sym := range m.prices {
		symbols[sym] = true
	}
	return symbols
}

// Prices returns a copy of the current price map.
func (m *Market) Prices() map[string]float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prices := make(map[string]float64, len(m.prices))
	for sym, p := range m.prices {
		prices[sym] = p
	}
	return prices
}

// Price returns the current price for a symbol.
func (m *Market) Price(symbol string) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[symbol]
	return p, ok
}

// Tick applies one random-walk step to every price and tracks the running
// candle. Step size is a bounded percentage move.
func (m *Market) Tick() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.open {
		return
	}
	for sym, price := range m.prices {
		// move within ±1.5% per tick
		next := price * (1 + (rand.Float64()-0.5)*0.03)
		if next < 0.01 {
			next = 0.01
		}
		m.prices[sym] = next

		if _, ok := m.candleOpen[sym]; !ok {
			m.candleOpen[sym] = price
			m.candleHigh[sym] = price
			m.candleLow[sym] = price
		}
		if next > m.candleHigh[sym] {
			m.candleHigh[sym] = next
		}
		if next < m.candleLow[sym] {
			m.candleLow[sym] = next
		}
	}
}

// CloseCandles writes the candle built since the last close for every
// symbol and resets the per-candle state.
func (m *Market) CloseCandles(ctx context.Context) {
	m.mu.Lock()
	snapshot := make([]models.Candle, 0, len(m.prices))
	now := m.Clock.Now()
	for sym, price := range m.prices {
		open, ok := m.candleOpen[sym]
		if !ok {
			open = price
		}
		high, low := m.candleHigh[sym], m.candleLow[sym]
		if high == 0 {
			high = price
		}
		if low == 0 {
			low = price
		}
		snapshot = append(snapshot, models.Candle{
			Symbol:    sym,
			Timestamp: now,
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    m.volume[sym],
		})
		delete(m.candleOpen, sym)
		delete(m.candleHigh, sym)
		delete(m.candleLow, sym)
		m.volume[sym] = 0
	}
	m.mu.Unlock()

	for i := range snapshot {
		if err := m.DB.InsertCandle(ctx, &snapshot[i]); err != nil {
			log.Printf("Failed to record candle for %s: %v", snapshot[i].Symbol, err)
		}
	}
}

// PostNews stores a market announcement.
func (m *Market) PostNews(ctx context.Context, title, content string) error {
	return m.DB.InsertNews(ctx, &models.News{
		Timestamp: m.Clock.Now(),
		Title:     title,
		Content:   content,
	})
}

// MatchSingleOrder settles one pending order at its limit price, or the
// current market price for market orders. The balance, holding and status
// updates happen in one store transaction guarded by a conditional update;
// if funds or the position turn out insufficient at settlement time the
// order is cancelled, regardless of what any earlier validation saw.
func (m *Market) MatchSingleOrder(ctx context.Context, orderID int64) error {
	order, err := m.DB.GetOrder(ctx, orderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusPending {
		return nil
	}

	fillPrice, ok := m.Price(order.Symbol)
	if order.Price != nil {
		fillPrice = *order.Price
	} else if !ok {
		return m.cancel(ctx, order)
	}
	// a non-positive fill price would turn the debit into a credit
	if fillPrice <= 0 {
		return m.cancel(ctx, order)
	}

	var settled bool
	if order.Type == models.OrderTypeBuy {
		cost := fillPrice * order.Amount * (1 + FeeRate)
		settled, err = m.DB.SettleBuy(ctx, order.ID, order.UserID, order.Symbol, cost, order.Amount)
	} else {
		proceeds := fillPrice * order.Amount * (1 - FeeRate)
		settled, err = m.DB.SettleSell(ctx, order.ID, order.UserID, order.Symbol, order.Amount, proceeds)
	}
	if err != nil {
		return err
	}
	if !settled {
		return m.cancel(ctx, order)
	}

	m.mu.Lock()
	m.volume[order.Symbol] += order.Amount
	m.mu.Unlock()

	return nil
}

func (m *Market) cancel(ctx context.Context, order *models.Order) error {
	if err := m.DB.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled); err != nil {
		return err
	}
	log.Printf("Order %d cancelled at settlement", order.ID)
	return nil
}
