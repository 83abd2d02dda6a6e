package execution

import (
	"math"
	"testing"
)

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestCalculateCopySize_ClampMax(t *testing.T) {
	// 1000 × 0.1 = 100，正好压在上限上
	got := CalculateCopySize(1000, 0.1, 1, 100, false)
	if !almostEqual(got, 100) {
		t.Fatalf("got=%v want=100", got)
	}

	// 2000 × 0.1 = 200，超上限截到 100
	got = CalculateCopySize(2000, 0.1, 1, 100, false)
	if !almostEqual(got, 100) {
		t.Fatalf("got=%v want=100", got)
	}
}

func TestCalculateCopySize_ClampMin(t *testing.T) {
	// 5 × 0.1 = 0.5，低于下限抬到 1
	got := CalculateCopySize(5, 0.1, 1, 100, false)
	if !almostEqual(got, 1) {
		t.Fatalf("got=%v want=1", got)
	}
}

func TestCalculateCopySize_IOCMinimum(t *testing.T) {
	// FOK/FAK 下即使配置的 min 低于 1，也要抬到交易所要求的 1
	got := CalculateCopySize(1, 0.1, 0.2, 100, true)
	if !almostEqual(got, 1) {
		t.Fatalf("got=%v want=1", got)
	}

	// GTC 下允许低于 1 的 min
	got = CalculateCopySize(1, 0.1, 0.2, 100, false)
	if !almostEqual(got, 0.2) {
		t.Fatalf("got=%v want=0.2", got)
	}
}

func TestCalculateCopySize_RoundsToCents(t *testing.T) {
	got := CalculateCopySize(33.333, 0.1, 1, 100, false)
	if !almostEqual(got, 3.33) {
		t.Fatalf("got=%v want=3.33", got)
	}
}

func TestRoundToTickSize(t *testing.T) {
	cases := []struct {
		price, tick, want float64
	}{
		{0.4567, 0.01, 0.46},
		{0.4549, 0.01, 0.45},
		{0.455, 0.01, 0.46}, // 四舍五入到最近的 tick
		{0.4567, 0.001, 0.457},
		{0.07, 0.01, 0.07}, // 浮点除法不能漂移
		{0.29, 0.01, 0.29},
		{0.5, 0, 0.5}, // 无效 tick 原样返回
	}
	for _, c := range cases {
		got := RoundToTickSize(c.price, c.tick)
		if !almostEqual(got, c.want) {
			t.Fatalf("RoundToTickSize(%v, %v) got=%v want=%v", c.price, c.tick, got, c.want)
		}
	}
}

func TestClampPrice(t *testing.T) {
	if got := ClampPrice(0.005); !almostEqual(got, 0.01) {
		t.Fatalf("got=%v want=0.01", got)
	}
	if got := ClampPrice(0.995); !almostEqual(got, 0.99) {
		t.Fatalf("got=%v want=0.99", got)
	}
	if got := ClampPrice(0.5); !almostEqual(got, 0.5) {
		t.Fatalf("got=%v want=0.5", got)
	}
}

func TestRoundShares(t *testing.T) {
	if got := RoundShares(12.345678); !almostEqual(got, 12.3457) {
		t.Fatalf("got=%v want=12.3457", got)
	}
	if got := RoundShares(10.0/3.0); !almostEqual(got, 3.3333) {
		t.Fatalf("got=%v want=3.3333", got)
	}
}
