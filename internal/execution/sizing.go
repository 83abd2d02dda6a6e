package execution

import (
	"github.com/shopspring/decimal"
)

// CalculateCopySize 计算跟单金额（USDC）：
// 原单金额 × 倍数，夹在 [min, max] 区间内，结果取整到分。
// IOC 类订单（FOK/FAK）交易所要求金额 >= 1，min 不足 1 时按 1 处理。
func CalculateCopySize(sourceNotional, multiplier, min, max float64, immediateOrCancel bool) float64 {
	if immediateOrCancel && min < 1 {
		min = 1
	}

	notional := sourceNotional * multiplier
	if notional < min {
		notional = min
	}
	if notional > max {
		notional = max
	}

	return roundToCents(notional)
}

// RoundToTickSize 把价格取整到最接近的 tick 整数倍。
// 用 decimal 计算避免浮点误差（0.07/0.01 这类除法在 float64 下会漂移）。
func RoundToTickSize(price, tickSize float64) float64 {
	if tickSize <= 0 {
		return price
	}
	p := decimal.NewFromFloat(price)
	tick := decimal.NewFromFloat(tickSize)
	ticks := p.Div(tick).Round(0)
	result, _ := ticks.Mul(tick).Float64()
	return result
}

// RoundShares 份额取整到 4 位小数（交易所的份额精度）。
func RoundShares(shares float64) float64 {
	result, _ := decimal.NewFromFloat(shares).Round(4).Float64()
	return result
}

func roundToCents(v float64) float64 {
	result, _ := decimal.NewFromFloat(v).Round(2).Float64()
	return result
}

// ClampPrice 把价格限制在交易所允许的 [0.01, 0.99] 区间。
func ClampPrice(price float64) float64 {
	if price < 0.01 {
		return 0.01
	}
	if price > 0.99 {
		return 0.99
	}
	return price
}
