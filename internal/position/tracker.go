package position

import (
	"sync"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
)

// State 单个 token 的持仓状态
type State struct {
	TokenID     string  // token ID
	ConditionID string  // 所属市场条件 ID
	Shares      float64 // 持仓数量
	Notional    float64 // 持仓成本（USDC）
	AvgPrice    float64 // 加权平均成本价
}

// Tracker 跟踪本地视角下各 token 的持仓。
// 只根据本进程提交的成交更新；买入累加成本，卖出按平均价释放成本。
// 数量与成本都不允许为负：出现超卖时截断到 0 并告警。
type Tracker struct {
	mu        sync.RWMutex
	positions map[string]*State
}

func NewTracker() *Tracker {
	return &Tracker{
		positions: make(map[string]*State),
	}
}

// ApplyFill 记录一笔成交。
func (t *Tracker) ApplyFill(tokenID, conditionID string, side domain.Side, shares, price float64) {
	if shares <= 0 || price <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.positions[tokenID]
	if !ok {
		p = &State{TokenID: tokenID, ConditionID: conditionID}
		t.positions[tokenID] = p
	}
	if p.ConditionID == "" {
		p.ConditionID = conditionID
	}

	switch side {
	case domain.SideBuy:
		p.Shares += shares
		p.Notional += shares * price
	case domain.SideSell:
		released := shares * p.AvgPrice
		p.Shares -= shares
		p.Notional -= released
		if p.Shares < 0 {
			logger.Warnf("卖出数量超过本地持仓，截断为0: tokenID=%s", tokenID)
			p.Shares = 0
		}
		if p.Notional < 0 {
			p.Notional = 0
		}
	}

	if p.Shares > 0 {
		p.AvgPrice = p.Notional / p.Shares
	} else {
		p.AvgPrice = 0
		p.Notional = 0
	}
}

// Seed 用场外数据（如 REST 持仓接口）初始化一个持仓。已有记录时跳过。
func (t *Tracker) Seed(tokenID, conditionID string, shares, avgPrice float64) {
	if shares <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.positions[tokenID]; ok {
		return
	}
	t.positions[tokenID] = &State{
		TokenID:     tokenID,
		ConditionID: conditionID,
		Shares:      shares,
		Notional:    shares * avgPrice,
		AvgPrice:    avgPrice,
	}
}

// Get 返回某 token 持仓的快照；不存在时返回零值状态。
func (t *Tracker) Get(tokenID string) State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if p, ok := t.positions[tokenID]; ok {
		return *p
	}
	return State{TokenID: tokenID}
}

// MarketNotional 某市场（conditionID）下所有 token 的持仓成本之和。
func (t *Tracker) MarketNotional(conditionID string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0.0
	for _, p := range t.positions {
		if p.ConditionID == conditionID {
			total += p.Notional
		}
	}
	return total
}

// TotalNotional 全部持仓成本之和。
func (t *Tracker) TotalNotional() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	total := 0.0
	for _, p := range t.positions {
		total += p.Notional
	}
	return total
}

// Snapshot 返回所有非空持仓的拷贝。
func (t *Tracker) Snapshot() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]State, 0, len(t.positions))
	for _, p := range t.positions {
		if p.Shares > 0 {
			out = append(out, *p)
		}
	}
	return out
}
