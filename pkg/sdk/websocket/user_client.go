// Package websocket 提供用户数据 WebSocket 客户端
package websocket

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
)

// UserClient 管理 Polymarket 用户频道 WebSocket 连接（需要认证）
// 按市场 condition ID 订阅，只推送认证钱包作为 maker 或 taker 的成交
type UserClient struct {
	// 连接相关
	conn      *websocket.Conn
	connMu    sync.Mutex
	url       string
	config    *Config
	apiCreds  *api.APICreds
	running   bool
	runningMu sync.RWMutex

	// 订阅管理
	markets map[string]bool // condition_id -> 已订阅
	subMu   sync.RWMutex

	// 事件处理
	tradeHandler UserTradeHandler

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

// NewUserClient 创建新的用户频道客户端，creds 必需
func NewUserClient(creds *api.APICreds, handler UserTradeHandler) (*UserClient, error) {
	return NewUserClientWithConfig(creds, handler, DefaultConfig())
}

// NewUserClientWithConfig 使用自定义配置创建用户频道客户端
func NewUserClientWithConfig(creds *api.APICreds, handler UserTradeHandler, config *Config) (*UserClient, error) {
	if creds == nil {
		return nil, fmt.Errorf("API 凭证不能为空")
	}
	if config == nil {
		config = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &UserClient{
		url:          wsUserURL,
		config:       config,
		apiCreds:     creds,
		markets:      make(map[string]bool),
		tradeHandler: handler,
		errChan:      make(chan error, config.ErrorBufferSize),
		ctx:          ctx,
		cancel:       cancel,
		stopCh:       make(chan struct{}),
		doneCh:       make(chan struct{}),
	}, nil
}

// Start 连接到 WebSocket 并开始监听
func (c *UserClient) Start(ctx context.Context) error {
	c.runningMu.Lock()
	if c.running {
		c.runningMu.Unlock()
		return fmt.Errorf("用户频道客户端已在运行")
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

	logger.Infof("[WSUser] 已连接到 %s", c.url)
	return nil
}

// Stop 优雅地关闭 WebSocket 连接
func (c *UserClient) Stop() {
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
		logger.Warnf("[WSUser] 关闭超时")
	}

	logger.Infof("[WSUser] 已停止")
}

// SubscribeMarkets 订阅特定市场的用户活动
// 重复订阅是 no-op；未连接时仅记录，连接后统一发送
func (c *UserClient) SubscribeMarkets(conditionIDs ...string) error {
	c.subMu.Lock()
	newSubs := make([]string, 0)
	for _, id := range conditionIDs {
		if !c.markets[id] {
			c.markets[id] = true
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
func (c *UserClient) SubscriptionCount() int {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return len(c.markets)
}

// Errors 返回错误通道
func (c *UserClient) Errors() <-chan error {
	return c.errChan
}

// IsRunning 检查客户端是否正在运行
func (c *UserClient) IsRunning() bool {
	c.runningMu.RLock()
	defer c.runningMu.RUnlock()
	return c.running
}

// connect 建立 WebSocket 连接并认证
func (c *UserClient) connect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		c.conn.Close()
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.config.HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	// 认证头：HMAC 签名 timestamp + method + path
	headers := make(http.Header)
	headers.Set("User-Agent", "copybot/1.0")

	timestamp := strconv.FormatInt(time.Now().Unix(), 10)
	message := timestamp + "GET" + "/ws/user"
	signature := c.signWS(message, c.apiCreds.APISecret)

	headers.Set("POLY-API-KEY", c.apiCreds.APIKey)
	headers.Set("POLY-SIGNATURE", signature)
	headers.Set("POLY-TIMESTAMP", timestamp)
	headers.Set("POLY-PASSPHRASE", c.apiCreds.APIPassphrase)

	conn, _, err := dialer.Dial(c.url, headers)
	if err != nil {
		return fmt.Errorf("连接失败: %w", err)
	}

	c.conn = conn

	// 连接后必须先发送认证消息
	authMsg := map[string]interface{}{
		"auth": map[string]string{
			"apiKey":     c.apiCreds.APIKey,
			"secret":     c.apiCreds.APISecret,
			"passphrase": c.apiCreds.APIPassphrase,
		},
		"type": "USER",
	}
	if err := conn.WriteJSON(authMsg); err != nil {
		conn.Close()
		c.conn = nil
		return fmt.Errorf("认证失败: %w", err)
	}

	c.reconnectMu.Lock()
	c.reconnectAttempts = 0
	c.reconnectMu.Unlock()

	return nil
}

// sendSubscription 发送订阅消息（用户频道的订阅消息携带认证信息）
func (c *UserClient) sendSubscription(conditionIDs []string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn == nil {
		return fmt.Errorf("未连接")
	}

	msg := map[string]interface{}{
		"auth": map[string]string{
			"apiKey":     c.apiCreds.APIKey,
			"secret":     c.apiCreds.APISecret,
			"passphrase": c.apiCreds.APIPassphrase,
		},
		"markets": conditionIDs,
		"type":    "USER",
	}
	return c.conn.WriteJSON(msg)
}

// resubscribe 重新订阅所有市场（重连后使用）
func (c *UserClient) resubscribe() error {
	c.subMu.RLock()
	conditionIDs := make([]string, 0, len(c.markets))
	for id := range c.markets {
		conditionIDs = append(conditionIDs, id)
	}
	c.subMu.RUnlock()

	if len(conditionIDs) == 0 {
		return nil
	}
	return c.sendSubscription(conditionIDs)
}

// readLoop 持续从 WebSocket 读取消息
func (c *UserClient) readLoop() {
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

		// gorilla/websocket 在失败连接上重复读取会 panic，用 recover 兜底
		var message []byte
		var err error
		func() {
			defer func() {
				if r := recover(); r != nil {
					c.connMu.Lock()
					c.conn = nil
					c.connMu.Unlock()
					err = fmt.Errorf("panic during ReadMessage: %v", r)
				}
			}()
			_, message, err = conn.ReadMessage()
		}()

		if err != nil {
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.Close()
				c.conn = nil
			}
			c.connMu.Unlock()

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Infof("[WSUser] 连接正常关闭")
				return
			}
			if !c.IsRunning() {
				return
			}
			logger.Warnf("[WSUser] 读取错误: %v, 重连中...", err)
			if !c.reconnect() {
				return
			}
			continue
		}

		if message != nil {
			c.handleMessage(message)
		}
	}
}

// pingLoop 定期发送文本 PING 维持连接
func (c *UserClient) pingLoop() {
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
				logger.Warnf("[WSUser] PING 发送失败: %v", err)
			}
		}
	}
}

// reconnect 重连逻辑：延迟 base × 2^(N-1)（封顶），超过最大次数后静默放弃
// 返回 false 表示放弃重连
func (c *UserClient) reconnect() bool {
	if !c.config.ReconnectEnabled {
		return false
	}

	c.reconnectMu.Lock()
	c.reconnectAttempts++
	attempts := c.reconnectAttempts
	c.reconnectMu.Unlock()

	if attempts > c.config.MaxReconnectAttempts {
		logger.Warnf("[WSUser] 达到最大重连次数 (%d)，放弃重连", c.config.MaxReconnectAttempts)
		select {
		case c.errChan <- fmt.Errorf("达到最大重连次数 (%d)", c.config.MaxReconnectAttempts):
		default:
		}
		return false
	}

	delay := c.config.ReconnectDelayFor(attempts)
	logger.Infof("[WSUser] %v 后重连 (尝试 %d/%d)...", delay, attempts, c.config.MaxReconnectAttempts)

	select {
	case <-c.ctx.Done():
		return false
	case <-c.stopCh:
		return false
	case <-time.After(delay):
	}

	if err := c.connect(); err != nil {
		logger.Warnf("[WSUser] 重连失败: %v", err)
		return true
	}

	if err := c.resubscribe(); err != nil {
		logger.Warnf("[WSUser] 重新订阅失败: %v", err)
	}
	return true
}

// handleMessage 处理用户频道的消息
func (c *UserClient) handleMessage(data []byte) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return
	}

	// 纯文本消息：收到 PING 回 PONG，收到 PONG 忽略
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
			logger.Debugf("[WSUser] 收到未知文本消息: %s", text)
		}
		return
	}

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
		eventType, _ := msgMap["event_type"].(string)
		if eventType == "trade" || eventType == "TRADE" {
			c.processTradeMessage(msgMap)
		}
	}
}

func (c *UserClient) reportParseError(data []byte, err error) {
	preview := string(data)
	if len(preview) > 100 {
		preview = preview[:100] + "..."
	}
	select {
	case c.errChan <- fmt.Errorf("解析用户消息失败: %v, 数据: %s", err, preview):
	default:
	}
}

// processTradeMessage 将成交消息归一化并调用处理器
// 字段可能为字符串或数字，逐个容错解析
func (c *UserClient) processTradeMessage(msg map[string]interface{}) {
	if c.tradeHandler == nil {
		return
	}

	event := UserTradeEvent{}
	if assetID, ok := msg["asset_id"].(string); ok {
		event.AssetID = assetID
	}
	if market, ok := msg["market"].(string); ok {
		event.Market = market
	}
	if side, ok := msg["side"].(string); ok {
		event.Side = side
	}
	if outcome, ok := msg["outcome"].(string); ok {
		event.Outcome = outcome
	}
	if maker, ok := msg["maker_address"].(string); ok {
		event.Maker = maker
	}
	if owner, ok := msg["owner"].(string); ok && event.Maker == "" {
		event.Maker = owner
	}
	if taker, ok := msg["taker_address"].(string); ok {
		event.Taker = taker
	}
	if txHash, ok := msg["transaction_hash"].(string); ok {
		event.TransactionHash = txHash
	}
	if price, ok := msg["price"]; ok {
		event.Price = parseFloat(price)
	}
	if size, ok := msg["size"]; ok {
		event.Size = parseFloat(size)
	}
	if ts, ok := msg["timestamp"]; ok {
		event.Timestamp = parseTimestamp(ts)
	} else if ts, ok := msg["match_time"]; ok {
		event.Timestamp = parseTimestamp(ts)
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	c.tradeHandler(event)
}

// signWS 生成 HMAC-SHA256 签名用于 WebSocket 认证
func (c *UserClient) signWS(message, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
