// Package leaderboard turns already-fetched balances, holdings and prices
// into a ranked net-worth report. It does no I/O so it can be tested on
// plain data and run on snapshots copied out of the store.
package leaderboard

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/zirunbi/tradesim/internal/models"
)

const (
	// maxTopN caps how many entries a caller can request.
	maxTopN = 50
	// dustEpsilon is the quantity below which a holding is treated as no
	// real position.
	dustEpsilon = 0.0001
)

// nonMatching never matches any input. Invalid or empty trigger patterns
// degrade to it instead of failing.
var nonMatching = regexp.MustCompile(`$.^`)

// Entry is one user's aggregate in the ranking.
type Entry struct {
	UserID         string   `json:"user_id"`
	Balance        float64  `json:"balance"`
	HoldingsValue  float64  `json:"holdings_value"`
	Total          float64  `json:"total"`
	MissingSymbols []string `json:"missing_symbols"`
}

// HeaderMeta optionally annotates the report header. Providing it renders
// both labels, even when a value is empty.
type HeaderMeta struct {
	UpdatedAt    string
	MarketStatus string
}

// ClampTopN bounds a requested size to [1, 50].
func ClampTopN(topN int) int {
	if topN < 1 {
		return 1
	}
	if topN > maxTopN {
		return maxTopN
	}
	return topN
}

// Compute ranks users by balance plus mark-to-market holdings value.
// Holdings in symbols absent from prices are valued at zero and the symbol
// is recorded on the entry. Dust positions are ignored entirely.
func Compute(users []models.User, holdings []models.Holding, prices map[string]float64, topN int) []Entry {
	limit := ClampTopN(topN)

	byUser := make(map[string]*Entry, len(users))
	missing := make(map[string]map[string]struct{})
	for _, u := range users {
		byUser[u.UserID] = &Entry{
			UserID:  u.UserID,
			Balance: u.Balance,
			Total:   u.Balance,
		}
	}

	for _, h := range holdings {
		entry, ok := byUser[h.UserID]
		if !ok {
			continue
		}
		if h.Amount <= dustEpsilon {
			continue
		}

		price, ok := prices[h.Symbol]
		if !ok {
			price = 0
			if missing[h.UserID] == nil {
				missing[h.UserID] = make(map[string]struct{})
			}
			missing[h.UserID][h.Symbol] = struct{}{}
		}

		entry.HoldingsValue += h.Amount * price
		entry.Total = entry.Balance + entry.HoldingsValue
	}

	entries := make([]Entry, 0, len(byUser))
	for _, e := range byUser {
		for sym := range missing[e.UserID] {
			e.MissingSymbols = append(e.MissingSymbols, sym)
		}
		sort.Strings(e.MissingSymbols)
		entries = append(entries, *e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Total == entries[j].Total {
			return entries[i].UserID < entries[j].UserID
		}
		return entries[i].Total > entries[j].Total
	})

	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Format renders the fixed-format plain-text report for the given entries.
func Format(entries []Entry, topN int, meta *HeaderMeta) string {
	limit := ClampTopN(topN)
	shown := entries
	if len(shown) > limit {
		shown = shown[:limit]
	}

	header := "【总资产排名（按当前市价）】 全局榜"
	if meta != nil {
		header = header + "  更新时间: " + meta.UpdatedAt + "  市场状态: " + meta.MarketStatus
	}

	lines := []string{header}
	allMissing := make(map[string]struct{})
	for i, e := range shown {
		lines = append(lines, fmt.Sprintf("%d. %s  总资产: %.2f  现金: %.2f  持仓市值: %.2f",
			i+1, e.UserID, e.Total, e.Balance, e.HoldingsValue))
		for _, sym := range e.MissingSymbols {
			allMissing[sym] = struct{}{}
		}
	}

	if len(allMissing) > 0 {
		syms := make([]string, 0, len(allMissing))
		for sym := range allMissing {
			syms = append(syms, sym)
		}
		sort.Strings(syms)
		lines = append(lines, "注：以下币种暂无价格，按 0 计入："+strings.Join(syms, ", "))
	}

	return strings.Join(lines, "\n")
}

// CooldownAllow reports whether an action is allowed given the last time it
// ran. A nil last timestamp or a non-positive cooldown always allows.
func CooldownAllow(last *time.Time, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	if last == nil {
		return true
	}
	return now.Sub(*last) >= cooldown
}

// NormalizeTrigger trims a trigger pattern for matching.
func NormalizeTrigger(s string) string {
	return strings.TrimSpace(s)
}

// CompileTrigger compiles a user-supplied trigger pattern. Empty or invalid
// patterns yield an expression that matches nothing.
func CompileTrigger(pattern string) *regexp.Regexp {
	text := NormalizeTrigger(pattern)
	if text == "" {
		return nonMatching
	}
	re, err := regexp.Compile(text)
	if err != nil {
		return nonMatching
	}
	return re
}
