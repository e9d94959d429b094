package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/zirunbi/tradesim/internal/clock"
	"github.com/zirunbi/tradesim/internal/config"
	"github.com/zirunbi/tradesim/internal/db"
	"github.com/zirunbi/tradesim/internal/models"

	"github.com/joho/godotenv"
)

// Seed the database with test data
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment")
	}
	cfg := config.Load()

	ctx := context.Background()

	database, err := db.NewDB(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close(ctx)
	database.Migrate(ctx)

	// First check if we already have users
	users, err := database.GetAllUsers(ctx)
	if err != nil {
		log.Fatalf("Failed to check users: %v", err)
	}
	if len(users) > 0 {
		fmt.Printf("Database already has %d users. No need to seed.\n", len(users))
		os.Exit(0)
	}

	for _, userID := range []string{"trader1", "trader2", "trader3"} {
		if _, err := database.GetOrCreateUser(ctx, userID); err != nil {
			log.Fatalf("Failed to create %s: %v", userID, err)
		}
	}

	// Give trader1 a position so the leaderboard has holdings to value
	if err := database.AddToHolding(ctx, "trader1", "BTC", 0.5); err != nil {
		log.Fatalf("Failed to seed holding: %v", err)
	}
	if err := database.AddToHolding(ctx, "trader2", "ETH", 2); err != nil {
		log.Fatalf("Failed to seed holding: %v", err)
	}

	// A few days of hourly BTC candles
	clk := clock.SystemClock{}
	base := clk.Now().Add(-72 * time.Hour)
	price := 50000.0
	for i := 0; i < 72; i++ {
		open := price
		price = price * (1 + float64(i%7-3)*0.002)
		high, low := open, price
		if high < low {
			high, low = low, high
		}
		candle := models.Candle{
			Symbol:    "BTC",
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    float64(10 + i%5),
		}
		if err := database.InsertCandle(ctx, &candle); err != nil {
			log.Fatalf("Failed to seed candle %d: %v", i, err)
		}
	}

	news := models.News{
		Timestamp: clk.Now(),
		Title:     "Exchange opened",
		Content:   "Simulated trading is live. Every account starts with 10000.00 in cash.",
	}
	if err := database.InsertNews(ctx, &news); err != nil {
		log.Fatalf("Failed to seed news: %v", err)
	}

	fmt.Println("Successfully seeded the database!")
}
