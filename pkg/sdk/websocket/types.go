// Package websocket 提供 Polymarket WebSocket 客户端实现
// 市场频道（公开）按资产订阅成交事件，用户频道（认证）按市场订阅本人成交
package websocket

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	// WebSocket 端点
	wsMarketURL = "wss://ws-subscriptions-clob.polymarket.com/ws/market"
	wsUserURL   = "wss://ws-subscriptions-clob.polymarket.com/ws/user"

	// 重连设置
	defaultReconnectDelay    = 2 * time.Second
	defaultMaxReconnectDelay = 30 * time.Second
	defaultPingInterval      = 10 * time.Second // 官方文档要求每 10 秒发送一次 PING
	defaultHandshakeTimeout  = 15 * time.Second

	// 订阅批处理大小（Polymarket 限制每批最多 100 个资产）
	maxBatchSize = 100

	// 消息通道缓冲区大小
	defaultMessageBufferSize = 1000
	defaultErrorBufferSize   = 100

	// 毫秒时间戳下限：小于该值视为秒级时间戳
	millisThreshold = int64(1e12)
)

// EventType 表示 WebSocket 事件类型
type EventType string

const (
	// 市场频道事件类型
	EventBook           EventType = "book"             // 订单簿更新
	EventPriceChange    EventType = "price_change"     // 价格变化
	EventLastTradePrice EventType = "last_trade_price" // 最新成交价

	// 用户频道事件类型
	EventTrade EventType = "trade" // 本人成交事件
	EventOrder EventType = "order" // 订单事件
)

// MarketMessage 表示市场频道的 WebSocket 消息
type MarketMessage struct {
	EventType EventType `json:"event_type"`
	AssetID   string    `json:"asset_id"`
	Market    string    `json:"market"`
	Timestamp int64     `json:"timestamp"` // 毫秒
	Price     string    `json:"price,omitempty"`
	Size      string    `json:"size,omitempty"`
	Side      string    `json:"side,omitempty"`
}

// TradeEvent 表示市场频道观察到的一笔成交（来自 last_trade_price 事件）
type TradeEvent struct {
	AssetID   string  // 资产 ID
	Market    string  // 市场 condition ID
	Side      string  // BUY / SELL
	Price     float64 // 成交价
	Size      float64 // 成交量（份额）
	Timestamp int64   // 毫秒
}

// TradeHandler 是市场频道成交事件的处理函数
type TradeHandler func(event TradeEvent)

// UserTradeEvent 表示用户频道推送的本人成交
type UserTradeEvent struct {
	AssetID         string
	Market          string
	Side            string
	Outcome         string
	Price           float64
	Size            float64
	Timestamp       int64 // 毫秒
	TransactionHash string
	Maker           string
	Taker           string
}

// UserTradeHandler 是用户频道成交事件的处理函数
type UserTradeHandler func(event UserTradeEvent)

// Config 是 WebSocket 客户端配置
type Config struct {
	// 重连设置
	ReconnectEnabled     bool          // 是否启用自动重连
	ReconnectDelay       time.Duration // 重连基础延迟（按 base × 2^(N-1) 递增）
	MaxReconnectDelay    time.Duration // 最大重连延迟
	MaxReconnectAttempts int           // 最大重连尝试次数，超过后放弃

	// 心跳设置
	PingInterval time.Duration

	// 缓冲区设置
	MessageBufferSize int
	ErrorBufferSize   int

	// 连接设置
	HandshakeTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ReconnectEnabled:     true,
		ReconnectDelay:       defaultReconnectDelay,
		MaxReconnectDelay:    defaultMaxReconnectDelay,
		MaxReconnectAttempts: 10,
		PingInterval:         defaultPingInterval,
		MessageBufferSize:    defaultMessageBufferSize,
		ErrorBufferSize:      defaultErrorBufferSize,
		HandshakeTimeout:     defaultHandshakeTimeout,
	}
}

// ReconnectDelayFor 计算第 attempt 次重连的延迟：base × 2^(attempt-1)，封顶 MaxReconnectDelay
func (c *Config) ReconnectDelayFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := c.ReconnectDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= c.MaxReconnectDelay {
			return c.MaxReconnectDelay
		}
	}
	if delay > c.MaxReconnectDelay {
		delay = c.MaxReconnectDelay
	}
	return delay
}

// NormalizeMillis 归一化时间戳为毫秒：低于毫秒下限的视为秒并放大
func NormalizeMillis(ts int64) int64 {
	if ts > 0 && ts < millisThreshold {
		return ts * 1000
	}
	return ts
}

// parseTimestamp 从消息字段解析时间戳（支持字符串和数字），返回毫秒
func parseTimestamp(value interface{}) int64 {
	var ts int64
	switch v := value.(type) {
	case string:
		fmt.Sscanf(v, "%d", &ts)
	case float64:
		ts = int64(v)
	case int64:
		ts = v
	case int:
		ts = int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			ts = n
		}
	}
	return NormalizeMillis(ts)
}

// parseFloat 从消息字段解析数值（支持字符串和数字）
func parseFloat(value interface{}) float64 {
	switch v := value.(type) {
	case string:
		var f float64
		fmt.Sscanf(v, "%f", &f)
		return f
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f
		}
	}
	return 0
}
