// Package websocket 提供市场数据 WebSocket 客户端
package websocket

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/copybot/pkg/logger"
)

// MarketClient 管理 Polymarket 市场频道 WebSocket 连接（无需认证）
// 按资产 ID 订阅，surface 该资产上的每笔成交
type MarketClient struct {
	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	running   bool
	runningMu sync.RWMutex

	// 订阅管理
	subscriptions map[string]bool // asset_id -> 已订阅
	subMu         sync.RWMutex

	// 事件处理
	tradeHandler TradeHandler

	// 错误通道
	errChan chan error

	// 生命周期管理
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	doneCh chan struct{}

	// 重连状态
	reconnectAttempts int
	reconnectMu       sync.Mutex
}

// NewMarketClient 创建新的市场频道客户端
func NewMarketClient(handler TradeHandler) *MarketClient {
	return NewMarketClientWithConfig(handler, DefaultConfig())
}

// NewMarketClientWithConfig 使用自定义配置创建市场频道客户端
func NewMarketClientWithConfig(handler TradeHandler, config *Config) *MarketClient {
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &MarketClient{
		url:           wsMarketURL,
		config:        config,
		subscriptions: make(map[string]bool),
		tradeHandler:  handler,
		errChan:       make(chan error, config.ErrorBufferSize),
		ctx:           ctx,
		cancel:        cancel,
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
}

// Start 连接到 WebSocket 并开始监听
func (c *MarketClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("市场频道客户端已在运行")
	}
	c.running = true
	c.runningMu.Unlock()

	if ctx != nil {
		c.ctx = ctx
	}

	if err := c.connect(); err != nil {
		c.runningMu.Lock()
		c.running = false
		c.runningMu.Unlock()
		return fmt.Errorf("初始连接失败: %w", err)
	}

	go c.readLoop()
	go c.pingLoop()

	logger.Infof("[WSMarket] 已连接到 %s", c.url)
	return nil
}

// Stop 优雅地关闭 WebSocket 连接
func (c *MarketClient) Stop() {
	c.runningMu.Lock()
	if !c.running {
		c.runningMu.Unlock()
		return
	}
	c.running = false
	c.runningMu.Unlock()

	c.cancel()
	close(c.stopCh)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	select {
	case <-c.doneCh:
	case <-time.After(5 * time.Second):
		logger.Warnf("[WSMarket] 关闭超时")
	}

	logger.Infof("[WSMarket] 已停止")
}

// Subscribe 订阅资产 ID 以监控成交事件
// 重复订阅已注册的资产是 no-op；未连接时仅记录，连接后统一发送
func (c *MarketClient) Subscribe(assetIDs ...string) error {
	c.subMu.Lock()
	newSubs := make([]string, 0)
	for _, id := range assetIDs {
		if !c.subscriptions[id] {
			c.subscriptions[id] = true
			newSubs = append(newSubs, id)
		}
	}
	c.subMu.Unlock()

	if len(newSubs) == 0 {
		return nil
	}
	if !c.IsRunning() {
		return nil
	}
	return c.sendSubscription(newSubs)
}

// SubscriptionCount 返回活跃订阅数量
func (c *MarketClient) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.subscriptions)
}

// Errors 返回错误通道
func (c *MarketClient) Errors() <-chan error {
	return c.errChan
}

// IsRunning 检查客户端是否正在运行
func (c *MarketClient) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// connect 建立 WebSocket 连接
func (c *MarketClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	headers := make(http.Header)
	headers.Set("User-Agent", "copybot/1.0")

	conn, _, err := dialer.Dial(c.url, headers)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	return nil
}

// sendSubscription 发送订阅消息（每批最多 100 个资产）
func (c *MarketClient) sendSubscription(assetIDs []string) error {
	for i := 0; i < len(assetIDs); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(assetIDs) {
			end = len(assetIDs)
		}

		msg := map[string]interface{}{
			"type":       "market",
			"assets_ids": assetIDs[i:end],
		}

		c.connMu.Lock()
		if c.conn == nil {
			c.connMu.Unlock()
			return fmt.Errorf("未连接")
		}
		err := c.conn.WriteJSON(msg)
		c.connMu.Unlock()

		if err != nil {
			return fmt.Errorf("发送订阅失败: %w", err)
		}

		logger.Debugf("[WSMarket] 已订阅 %d 个资产", end-i)
	}
	return nil
}

// resubscribe 重新订阅所有资产（重连后使用）
func (c *MarketClient) resubscribe() error {
	c.subMu.RLock()
	assetIDs := make([]string, 0, len(c.subscriptions))
	for id := range c.subscriptions {
		assetIDs = append(assetIDs, id)
	}
	c.subMu.RUnlock()

	if len(assetIDs) == 0 {
		return nil
	}
	return c.sendSubscription(assetIDs)
}

// readLoop 持续从 WebSocket 读取消息
func (c *MarketClient) readLoop() {
	defer close(c.doneCh)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			if !c.reconnect() {
				return
			}
			continue
		}

		// 不设置读取超时，连接状态靠 PING/PONG 维持
		// 连接断开时 ReadMessage 返回错误，由下方处理重连
		_, message, err := conn.ReadMessage()
		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Infof("[WSMarket] 连接正常关闭")
				return
			}
			logger.Warnf("[WSMarket] 读取错误: %v, 重连中...", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// pingLoop 定期发送文本 PING 维持连接
func (c *MarketClient) pingLoop() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.connMu.Lock()
			conn := c.conn
			c.connMu.Unlock()

			if conn == nil {
				continue
			}

			if err := conn.WriteMessage(websocket.TextMessage, []byte("PING")); err != nil {
				logger.Warnf("[WSMarket] PING 发送失败: %v", err)
			}
		}
	}
}

// reconnect 重连逻辑：延迟 base × 2^(N-1)（封顶），超过最大次数后静默放弃
// 返回 false 表示放弃重连
func (c *MarketClient) reconnect() bool {
	if !c.config.ReconnectEnabled {
		return false
	}

	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if attempts > c.config.MaxReconnectAttempts {
		logger.Warnf("[WSMarket] 达到最大重连次数 (%d)，放弃重连", c.config.MaxReconnectAttempts)
		select {
		case c.errChan <- fmt.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts):
		default:
		}
		return false
	}

	delay := c.config.ReconnectDelayFor(attempts)
	logger.Infof("[WSMarket] %v 后重连 (尝试 %d/%d)...", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		logger.Warnf("[WSMarket] 重连失败: %v", err)
		return true // 下一轮继续尝试
	}

	if err := c.resubscribe(); err != nil {
		logger.Warnf("[WSMarket] 重新订阅失败: %v", err)
	}
	return true
}

// handleMessage 处理接收到的消息
func (c *MarketClient) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	// 先检查纯文本消息：收到 PING 必须回 PONG，收到 PONG 直接忽略
	if trimmed[0] != '{' && trimmed[0] != '[' {
		text := string(trimmed)
		switch text {
		case "PING", "ping":
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.WriteMessage(websocket.TextMessage, []byte("PONG"))
			}
			c.connMu.Unlock()
		case "PONG", "pong":
		default:
			logger.Debugf("[WSMarket] 收到未知文本消息: %s", text)
		}
		return
	}

	// 消息可能是单个对象或数组
	var msgMaps []map[string]interface{}
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &msgMaps); err != nil {
			c.reportParseError(trimmed, err)
			return
		}
	} else {
		var msgMap map[string]interface{}
		if err := json.Unmarshal(trimmed, &msgMap); err != nil {
			c.reportParseError(trimmed, err)
			return
		}
		msgMaps = append(msgMaps, msgMap)
	}

	for _, msgMap := range msgMaps {
		if msg := parseMarketMessage(msgMap); msg != nil {
			c.processMessage(*msg)
		}
	}
}

func (c *MarketClient) reportParseError(data []byte, err error) {
	preview := string(data)
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	select {
	case c.errChan <- fmt.Errorf("解析消息失败: %v, 数据: %s", err, preview):
	default:
	}
}

// parseMarketMessage 从 map 解析 MarketMessage（timestamp 可能为字符串或数字，秒或毫秒）
func parseMarketMessage(msgMap map[string]interface{}) *MarketMessage {
	msg := &MarketMessage{}

	if eventType, ok := msgMap["event_type"].(string); ok {
		msg.EventType = EventType(eventType)
	}
	if market, ok := msgMap["market"].(string); ok {
		msg.Market = market
	}
	if assetID, ok := msgMap["asset_id"].(string); ok {
		msg.AssetID = assetID
	}
	if price, ok := msgMap["price"].(string); ok {
		msg.Price = price
	}
	if size, ok := msgMap["size"].(string); ok {
		msg.Size = size
	}
	if side, ok := msgMap["side"].(string); ok {
		msg.Side = side
	}
	if timestamp, ok := msgMap["timestamp"]; ok {
		msg.Timestamp = parseTimestamp(timestamp)
	}

	return msg
}

// processMessage 处理单个消息，last_trade_price 表示刚刚发生了一笔成交
func (c *MarketClient) processMessage(msg MarketMessage) {
	if msg.EventType != EventLastTradePrice {
		return
	}
	if c.tradeHandler == nil || msg.Price == "" {
		return
	}

	event := TradeEvent{
		AssetID:   msg.AssetID,
		Market:    msg.Market,
		Side:      msg.Side,
		Price:     parseFloat(msg.Price),
		Size:      parseFloat(msg.Size),
		Timestamp: msg.Timestamp,
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}
	c.tradeHandler(event)
}
