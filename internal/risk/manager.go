package risk

import (
	"sync"

	"github.com/pkg/errors"
)

// ErrNonPositiveNotional 拟买入金额非正
var ErrNonPositiveNotional = errors.New("non-positive copy notional")

// ErrSessionLimit 会话总敞口超限
var ErrSessionLimit = errors.New("session notional limit reached")

// ErrMarketLimit 单市场敞口超限
var ErrMarketLimit = errors.New("market notional limit reached")

// MarketExposure 查询某市场当前敞口（由持仓跟踪器实现）
type MarketExposure interface {
	MarketNotional(conditionID string) float64
}

// Config 风控配置。约定：阈值 <= 0 表示关闭对应限制。
type Config struct {
	MaxSessionNotional float64 // 本次运行累计买入金额上限（USDC）
	MaxMarketNotional  float64 // 单市场持仓金额上限（USDC）
}

// Manager 下单前的敞口检查。
// 会话敞口只增不减（只统计买入），市场敞口以持仓跟踪器为准。
type Manager struct {
	cfg      Config
	exposure MarketExposure

	mu              sync.Mutex
	sessionNotional float64
}

func NewManager(cfg Config, exposure MarketExposure) *Manager {
	return &Manager{
		cfg:      cfg,
		exposure: exposure,
	}
}

// CheckOrder 检查一笔拟买入的名义金额是否触发任一限制。
// 在提交订单之前调用；通过后由 RecordFill 计入会话敞口。
func (m *Manager) CheckOrder(conditionID string, notional float64) error {
	if notional <= 0 {
		return errors.Wrapf(ErrNonPositiveNotional, "order %.2f", notional)
	}

	m.mu.Lock()
	session := m.sessionNotional
	m.mu.Unlock()

	if m.cfg.MaxSessionNotional > 0 && session+notional > m.cfg.MaxSessionNotional {
		return errors.Wrapf(ErrSessionLimit,
			"session %.2f + order %.2f > limit %.2f", session, notional, m.cfg.MaxSessionNotional)
	}

	if m.cfg.MaxMarketNotional > 0 && m.exposure != nil {
		market := m.exposure.MarketNotional(conditionID)
		if market+notional > m.cfg.MaxMarketNotional {
			return errors.Wrapf(ErrMarketLimit,
				"market %.2f + order %.2f > limit %.2f", market, notional, m.cfg.MaxMarketNotional)
		}
	}

	return nil
}

// RecordFill 成交后累计会话敞口。
func (m *Manager) RecordFill(notional float64) {
	if notional <= 0 {
		return
	}
	m.mu.Lock()
	m.sessionNotional += notional
	m.mu.Unlock()
}

// SessionNotional 当前会话累计买入金额。
func (m *Manager) SessionNotional() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionNotional
}
