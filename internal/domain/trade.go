package domain

import (
	"fmt"
	"time"
)

// Side 交易方向
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Trade 目标钱包的一笔成交
// 来源可能是 REST 活动流，也可能是 WebSocket 推送；时间戳统一为毫秒
type Trade struct {
	SourceWallet    string  // 目标钱包地址
	TokenID         string  // token（资产）ID
	ConditionID     string  // 市场条件 ID
	Side            Side    // 交易方向
	Outcome         string  // 结果名称（Yes/No 等，可能为空）
	Price           float64 // 成交价格
	Size            float64 // 成交数量（shares）
	UsdcSize        float64 // 成交金额（USDC），REST 源提供
	TimestampMs     int64   // 成交时间（毫秒）
	TransactionHash string  // 链上交易哈希（可能为空）
	Title           string  // 市场标题（可能为空）
	Slug            string  // 市场 slug（可能为空）
}

// Notional 成交名义金额（USDC）。REST 源直接给出，否则按价格×数量计算。
func (t *Trade) Notional() float64 {
	if t.UsdcSize > 0 {
		return t.UsdcSize
	}
	return t.Price * t.Size
}

// CompositeKey 按成交内容构造的复合键，用于没有交易哈希时的去重。
func (t *Trade) CompositeKey() string {
	return fmt.Sprintf("%s|%s|%.6f|%.6f|%d", t.TokenID, t.Side, t.Size, t.Price, t.TimestampMs)
}

// Keys 返回去重键列表：有哈希时哈希与复合键都参与去重。
func (t *Trade) Keys() []string {
	keys := make([]string, 0, 2)
	if t.TransactionHash != "" {
		keys = append(keys, t.TransactionHash)
	}
	keys = append(keys, t.CompositeKey())
	return keys
}

// Time 成交时间
func (t *Trade) Time() time.Time {
	return time.UnixMilli(t.TimestampMs)
}
