package monitor

import (
	"context"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
	"github.com/betbot/copybot/pkg/sdk/websocket"
)

// Mode 推送订阅模式
type Mode string

const (
	ModeMarket Mode = "market" // 市场频道：按 tokenID 订阅，无需鉴权
	ModeUser   Mode = "user"   // 用户频道：按 conditionID 订阅，需要 API 凭证
)

// PushMonitor 通过 WebSocket 推送发现成交，对轮询做低延迟补充。
// 进程生命周期内只用一种模式。连接是惰性的：首次 Watch 时才建立。
//
// 市场频道只推 last_trade_price，带不上成交方，只能作为候选交给上层
// 按复合键去重；用户频道能拿到成交方，这里直接按目标钱包过滤。
type PushMonitor struct {
	mode    Mode
	target  string
	handler TradeHandler

	market *websocket.MarketClient
	user   *websocket.UserClient

	mu        sync.Mutex
	started   bool
	cancel    context.CancelFunc
	onDisrupt func()
}

// OnDisrupt 注册连接异常回调（如触发一次 REST 补偿轮询）。
// 必须在首次 Watch 之前设置。
func (m *PushMonitor) OnDisrupt(fn func()) {
	m.mu.Lock()
	m.onDisrupt = fn
	m.mu.Unlock()
}

// NewPushMonitor 创建推送监控。user 模式必须提供凭证。
func NewPushMonitor(mode Mode, creds *api.APICreds, targetWallet string, handler TradeHandler) (*PushMonitor, error) {
	m := &PushMonitor{
		mode:    mode,
		target:  strings.ToLower(targetWallet),
		handler: handler,
	}

	switch mode {
	case ModeMarket:
		m.market = websocket.NewMarketClient(m.onMarketTrade)
	case ModeUser:
		user, err := websocket.NewUserClient(creds, m.onUserTrade)
		if err != nil {
			return nil, err
		}
		m.user = user
	default:
		return nil, errors.Errorf("unsupported push mode: %s", mode)
	}

	return m, nil
}

// Watch 订阅一笔成交所在的市场。重复订阅是空操作。
// 首次调用时惰性建立连接。
func (m *PushMonitor) Watch(ctx context.Context, trade *domain.Trade) error {
	if err := m.ensureStarted(ctx); err != nil {
		return err
	}

	switch m.mode {
	case ModeMarket:
		if trade.TokenID == "" {
			return nil
		}
		return m.market.Subscribe(trade.TokenID)
	case ModeUser:
		if trade.ConditionID == "" {
			return nil
		}
		return m.user.SubscribeMarkets(trade.ConditionID)
	}
	return nil
}

func (m *PushMonitor) ensureStarted(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)

	var err error
	switch m.mode {
	case ModeMarket:
		err = m.market.Start(runCtx)
		if err == nil {
			go m.drainErrors(runCtx, m.market.Errors())
		}
	case ModeUser:
		err = m.user.Start(runCtx)
		if err == nil {
			go m.drainErrors(runCtx, m.user.Errors())
		}
	}
	if err != nil {
		cancel()
		return errors.Wrap(err, "start push monitor")
	}

	m.cancel = cancel
	m.started = true
	logger.Infof("推送监控已启动: mode=%s", m.mode)
	return nil
}

// Stop 关闭连接。未启动时是空操作。
func (m *PushMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.started {
		return
	}
	switch m.mode {
	case ModeMarket:
		m.market.Stop()
	case ModeUser:
		m.user.Stop()
	}
	if m.cancel != nil {
		m.cancel()
	}
	m.started = false
}

func (m *PushMonitor) drainErrors(ctx context.Context, errs <-chan error) {
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-errs:
			if !ok {
				return
			}
			logger.Warnf("推送连接异常: %v", err)
			m.mu.Lock()
			fn := m.onDisrupt
			m.mu.Unlock()
			if fn != nil {
				fn()
			}
		}
	}
}

func (m *PushMonitor) onMarketTrade(event websocket.TradeEvent) {
	trade := &domain.Trade{
		TokenID:     event.AssetID,
		ConditionID: event.Market,
		Side:        domain.Side(strings.ToUpper(event.Side)),
		Price:       event.Price,
		Size:        event.Size,
		TimestampMs: event.Timestamp,
	}
	if m.handler != nil {
		m.handler(trade)
	}
}

func (m *PushMonitor) onUserTrade(event websocket.UserTradeEvent) {
	// 用户频道会推本市场内的所有相关成交，只保留目标钱包的
	if !strings.EqualFold(event.Maker, m.target) && !strings.EqualFold(event.Taker, m.target) {
		return
	}

	trade := &domain.Trade{
		SourceWallet:    m.target,
		TokenID:         event.AssetID,
		ConditionID:     event.Market,
		Side:            domain.Side(strings.ToUpper(event.Side)),
		Outcome:         event.Outcome,
		Price:           event.Price,
		Size:            event.Size,
		TimestampMs:     event.Timestamp,
		TransactionHash: event.TransactionHash,
	}
	if m.handler != nil {
		m.handler(trade)
	}
}
