package position

import (
	"math"
	"testing"

	"github.com/betbot/copybot/internal/domain"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestTracker_WeightedAveragePrice(t *testing.T) {
	tr := NewTracker()

	// 10 股 @0.5 + 10 股 @0.7 → 均价 0.6
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 10, 0.5)
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 10, 0.7)

	p := tr.Get("tok")
	if !almostEqual(p.Shares, 20) {
		t.Fatalf("shares got=%v want=20", p.Shares)
	}
	if !almostEqual(p.AvgPrice, 0.6) {
		t.Fatalf("avgPrice got=%v want=0.6", p.AvgPrice)
	}
	if !almostEqual(p.Notional, 12) {
		t.Fatalf("notional got=%v want=12", p.Notional)
	}
}

func TestTracker_SellReleasesAtAvgPrice(t *testing.T) {
	tr := NewTracker()
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 10, 0.5)
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 10, 0.7)

	// 卖 5 股按均价 0.6 释放成本，均价不变
	tr.ApplyFill("tok", "0xa", domain.SideSell, 5, 0.8)

	p := tr.Get("tok")
	if !almostEqual(p.Shares, 15) {
		t.Fatalf("shares got=%v want=15", p.Shares)
	}
	if !almostEqual(p.Notional, 9) {
		t.Fatalf("notional got=%v want=9", p.Notional)
	}
	if !almostEqual(p.AvgPrice, 0.6) {
		t.Fatalf("avgPrice got=%v want=0.6", p.AvgPrice)
	}
}

func TestTracker_OversellClampsToZero(t *testing.T) {
	tr := NewTracker()
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 5, 0.5)

	// 超卖：数量和成本都截断到 0，不出现负仓
	tr.ApplyFill("tok", "0xa", domain.SideSell, 10, 0.5)

	p := tr.Get("tok")
	if p.Shares != 0 {
		t.Fatalf("shares got=%v want=0", p.Shares)
	}
	if p.Notional != 0 {
		t.Fatalf("notional got=%v want=0", p.Notional)
	}
	if p.AvgPrice != 0 {
		t.Fatalf("avgPrice got=%v want=0", p.AvgPrice)
	}
}

func TestTracker_IgnoresInvalidFills(t *testing.T) {
	tr := NewTracker()
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 0, 0.5)
	tr.ApplyFill("tok", "0xa", domain.SideBuy, -1, 0.5)
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 1, 0)

	if p := tr.Get("tok"); p.Shares != 0 {
		t.Fatalf("shares got=%v want=0", p.Shares)
	}
}

func TestTracker_SeedSkipsExisting(t *testing.T) {
	tr := NewTracker()
	tr.ApplyFill("tok", "0xa", domain.SideBuy, 10, 0.5)

	// 已有记录时 Seed 不覆盖
	tr.Seed("tok", "0xa", 100, 0.9)
	if p := tr.Get("tok"); !almostEqual(p.Shares, 10) {
		t.Fatalf("shares got=%v want=10", p.Shares)
	}

	tr.Seed("tok2", "0xa", 7, 0.4)
	p := tr.Get("tok2")
	if !almostEqual(p.Shares, 7) || !almostEqual(p.AvgPrice, 0.4) {
		t.Fatalf("seeded position got=%+v", p)
	}
}

func TestTracker_MarketNotionalSumsAcrossTokens(t *testing.T) {
	tr := NewTracker()
	tr.ApplyFill("yes", "0xa", domain.SideBuy, 10, 0.6)
	tr.ApplyFill("no", "0xa", domain.SideBuy, 10, 0.3)
	tr.ApplyFill("other", "0xb", domain.SideBuy, 10, 0.5)

	if got := tr.MarketNotional("0xa"); !almostEqual(got, 9) {
		t.Fatalf("market notional got=%v want=9", got)
	}
	if got := tr.TotalNotional(); !almostEqual(got, 14) {
		t.Fatalf("total notional got=%v want=14", got)
	}
}
