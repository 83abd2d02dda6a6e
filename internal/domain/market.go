package domain

// MarketMetadata 下单所需的市场元数据
type MarketMetadata struct {
	ConditionID string  // 市场条件 ID
	TickSize    float64 // 最小价格步长
	NegRisk     bool    // 是否 neg-risk 市场（决定签名用哪个交易所合约）
	FeeRateBps  float64 // taker 费率（bps）
}

// DefaultMarketMetadata 元数据获取失败时的保守缺省值。
// tick 取最细的 0.01，negRisk=false，费率 0。
func DefaultMarketMetadata(conditionID string) *MarketMetadata {
	return &MarketMetadata{
		ConditionID: conditionID,
		TickSize:    0.01,
		NegRisk:     false,
		FeeRateBps:  0,
	}
}
