package leaderboard

import (
	"strings"
	"testing"
	"time"

	"github.com/zirunbi/tradesim/internal/models"
)

func TestClampTopN(t *testing.T) {
	tests := []struct {
		name string
		in   int
		want int
	}{
		{"Zero", 0, 1},
		{"Negative", -5, 1},
		{"One", 1, 1},
		{"Mid", 10, 10},
		{"Max", 50, 50},
		{"OverMax", 1000, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampTopN(tt.in)
			if got != tt.want {
				t.Errorf("ClampTopN(%d) = %d, want %d", tt.in, got, tt.want)
			}
			// clamping is idempotent
			if ClampTopN(got) != got {
				t.Errorf("ClampTopN not idempotent for %d", tt.in)
			}
		})
	}
}

func TestCompute_CashOnly(t *testing.T) {
	users := []models.User{{UserID: "alice", Balance: 1234.5}}
	entries := Compute(users, nil, map[string]float64{}, 10)

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Total != 1234.5 {
		t.Errorf("total for user with no holdings should equal cash, got %f", entries[0].Total)
	}
	if entries[0].HoldingsValue != 0 {
		t.Errorf("expected zero holdings value, got %f", entries[0].HoldingsValue)
	}
}

func TestCompute_Example(t *testing.T) {
	users := []models.User{
		{UserID: "alice", Balance: 1000.0},
		{UserID: "bob", Balance: 500.0},
	}
	holdings := []models.Holding{
		{UserID: "alice", Symbol: "BTC", Amount: 1.0},
	}
	prices := map[string]float64{"BTC": 200.0}

	entries := Compute(users, holdings, prices, 10)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].UserID != "alice" || entries[0].Total != 1200.0 {
		t.Errorf("expected alice at rank 1 with 1200.0, got %s %f", entries[0].UserID, entries[0].Total)
	}
	if entries[1].UserID != "bob" || entries[1].Total != 500.0 {
		t.Errorf("expected bob at rank 2 with 500.0, got %s %f", entries[1].UserID, entries[1].Total)
	}
}

func TestCompute_MissingPrice(t *testing.T) {
	users := []models.User{
		{UserID: "alice", Balance: 1000.0},
		{UserID: "bob", Balance: 500.0},
	}
	holdings := []models.Holding{
		{UserID: "alice", Symbol: "BTC", Amount: 1.0},
	}

	entries := Compute(users, holdings, map[string]float64{}, 10)
	if entries[0].UserID != "alice" || entries[0].Total != 1000.0 {
		t.Errorf("missing price should value holding at 0, got total %f", entries[0].Total)
	}
	if len(entries[0].MissingSymbols) != 1 || entries[0].MissingSymbols[0] != "BTC" {
		t.Errorf("expected missing symbol BTC, got %v", entries[0].MissingSymbols)
	}

	report := Format(entries, 10, nil)
	if !strings.Contains(report, "BTC") || !strings.Contains(report, "注：以下币种暂无价格") {
		t.Errorf("report should carry missing-price note, got:\n%s", report)
	}
}

func TestCompute_DustIgnored(t *testing.T) {
	users := []models.User{{UserID: "alice", Balance: 100.0}}
	holdings := []models.Holding{
		{UserID: "alice", Symbol: "DOGE", Amount: 0.00005},
	}

	// DOGE has no price but the dust position must not be reported missing
	entries := Compute(users, holdings, map[string]float64{}, 10)
	if entries[0].Total != 100.0 {
		t.Errorf("dust position should contribute nothing, got total %f", entries[0].Total)
	}
	if len(entries[0].MissingSymbols) != 0 {
		t.Errorf("dust position should not record missing symbols, got %v", entries[0].MissingSymbols)
	}
}

func TestCompute_NegativeQuantityIgnored(t *testing.T) {
	users := []models.User{{UserID: "alice", Balance: 100.0}}
	holdings := []models.Holding{
		{UserID: "alice", Symbol: "BTC", Amount: -2},
	}

	entries := Compute(users, holdings, map[string]float64{"BTC": 50}, 10)
	if entries[0].Total != 100.0 {
		t.Errorf("negative quantity should be skipped, got total %f", entries[0].Total)
	}
}

func TestCompute_UnknownUserHoldingSkipped(t *testing.T) {
	users := []models.User{{UserID: "alice", Balance: 100.0}}
	holdings := []models.Holding{
		{UserID: "ghost", Symbol: "BTC", Amount: 1},
	}

	entries := Compute(users, holdings, map[string]float64{"BTC": 50}, 10)
	if len(entries) != 1 || entries[0].UserID != "alice" {
		t.Fatalf("holdings of unknown users must be ignored, got %v", entries)
	}
}

func TestCompute_TieBrokenByUserID(t *testing.T) {
	users := []models.User{
		{UserID: "zoe", Balance: 500.0},
		{UserID: "amy", Balance: 500.0},
	}

	entries := Compute(users, nil, map[string]float64{}, 10)
	if entries[0].UserID != "amy" || entries[1].UserID != "zoe" {
		t.Errorf("equal totals must order by user id ascending, got %s then %s",
			entries[0].UserID, entries[1].UserID)
	}
}

func TestCompute_Truncation(t *testing.T) {
	users := []models.User{
		{UserID: "a", Balance: 3},
		{UserID: "b", Balance: 2},
		{UserID: "c", Balance: 1},
	}

	entries := Compute(users, nil, map[string]float64{}, 2)
	if len(entries) != 2 {
		t.Fatalf("expected truncation to 2, got %d", len(entries))
	}
	if entries[0].UserID != "a" || entries[1].UserID != "b" {
		t.Errorf("unexpected order after truncation: %v", entries)
	}
}

func TestFormat_Lines(t *testing.T) {
	entries := []Entry{
		{UserID: "alice", Balance: 1000, HoldingsValue: 200, Total: 1200},
		{UserID: "bob", Balance: 500, HoldingsValue: 0, Total: 500},
	}

	report := Format(entries, 10, nil)
	lines := strings.Split(report, "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus 2 ranked lines, got %d:\n%s", len(lines), report)
	}
	if lines[0] != "【总资产排名（按当前市价）】 全局榜" {
		t.Errorf("unexpected header: %q", lines[0])
	}
	if lines[1] != "1. alice  总资产: 1200.00  现金: 1000.00  持仓市值: 200.00" {
		t.Errorf("unexpected rank line: %q", lines[1])
	}
	if lines[2] != "2. bob  总资产: 500.00  现金: 500.00  持仓市值: 0.00" {
		t.Errorf("unexpected rank line: %q", lines[2])
	}
}

func TestFormat_HeaderMeta(t *testing.T) {
	report := Format(nil, 5, &HeaderMeta{UpdatedAt: "2024-01-01 08:00:00", MarketStatus: "开市"})
	want := "【总资产排名（按当前市价）】 全局榜  更新时间: 2024-01-01 08:00:00  市场状态: 开市"
	if report != want {
		t.Errorf("header with meta mismatch:\n got %q\nwant %q", report, want)
	}

	// provided meta renders both labels even when the values are empty
	want = "【总资产排名（按当前市价）】 全局榜  更新时间:   市场状态: "
	if got := Format(nil, 5, &HeaderMeta{}); got != want {
		t.Errorf("empty meta values should still render labels:\n got %q\nwant %q", got, want)
	}

	// nil meta renders the bare header
	if got := Format(nil, 5, nil); got != "【总资产排名（按当前市价）】 全局榜" {
		t.Errorf("nil meta should render bare header, got %q", got)
	}
}

func TestFormat_MissingNoteUnion(t *testing.T) {
	entries := []Entry{
		{UserID: "alice", Balance: 1, Total: 1, MissingSymbols: []string{"ETH"}},
		{UserID: "bob", Balance: 1, Total: 1, MissingSymbols: []string{"BTC", "ETH"}},
	}

	report := Format(entries, 10, nil)
	lines := strings.Split(report, "\n")
	last := lines[len(lines)-1]
	if last != "注：以下币种暂无价格，按 0 计入：BTC, ETH" {
		t.Errorf("unexpected missing-price note: %q", last)
	}
}

func TestCooldownAllow(t *testing.T) {
	base := time.Unix(0, 0)
	at := func(sec int64) time.Time { return base.Add(time.Duration(sec) * time.Second) }

	tests := []struct {
		name     string
		last     *time.Time
		now      time.Time
		cooldown time.Duration
		want     bool
	}{
		{"NeverRan", nil, at(100), 30 * time.Second, true},
		{"InsideWindow", ptr(at(90)), at(100), 30 * time.Second, false},
		{"OutsideWindow", ptr(at(50)), at(100), 30 * time.Second, true},
		{"ExactBoundary", ptr(at(70)), at(100), 30 * time.Second, true},
		{"ZeroCooldown", ptr(at(99)), at(100), 0, true},
		{"NegativeCooldown", ptr(at(99)), at(100), -time.Second, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CooldownAllow(tt.last, tt.now, tt.cooldown); got != tt.want {
				t.Errorf("CooldownAllow = %v, want %v", got, tt.want)
			}
		})
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestCompileTrigger(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		input   string
		match   bool
	}{
		{"Simple", "buy", "please buy now", true},
		{"Anchored", "^rank", "rank me", true},
		{"NoMatch", "^rank", "show rank", false},
		{"Empty", "", "anything", false},
		{"Whitespace", "   ", "anything", false},
		{"Invalid", "([", "anything", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			re := CompileTrigger(tt.pattern)
			if re == nil {
				t.Fatal("CompileTrigger returned nil")
			}
			if got := re.MatchString(tt.input); got != tt.match {
				t.Errorf("pattern %q on %q: match = %v, want %v", tt.pattern, tt.input, got, tt.match)
			}
		})
	}
}

func TestNormalizeTrigger(t *testing.T) {
	if got := NormalizeTrigger("  rank  "); got != "rank" {
		t.Errorf("expected trimmed pattern, got %q", got)
	}
	if got := NormalizeTrigger(""); got != "" {
		t.Errorf("expected empty, got %q", got)
	}
}
