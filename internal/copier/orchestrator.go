package copier

import (
	"context"
	"sync/atomic"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/execution"
	"github.com/betbot/copybot/internal/position"
	"github.com/betbot/copybot/internal/risk"
	"github.com/betbot/copybot/pkg/logger"
)

const (
	defaultTradeBuffer = 256
	maxDedupKeys       = 2048
)

// Executor 订单执行接口
type Executor interface {
	PlanNotional(trade *domain.Trade) float64
	ExecuteCopy(ctx context.Context, trade *domain.Trade) (*execution.Result, error)
}

// Watcher 推送订阅接口（可选）
type Watcher interface {
	Watch(ctx context.Context, trade *domain.Trade) error
}

// Stats 运行计数
type Stats struct {
	Detected int64 // 监控到的成交数
	Copied   int64 // 成功跟单数
	Skipped  int64 // 跳过数（去重/方向/风控/时间窗）
	Failed   int64 // 执行失败数
}

// Orchestrator 跟单主循环。
// REST 与推送两路监控都往同一个通道投递，由单一消费者串行处理，
// 去重、方向过滤、风控、执行都在这一个 goroutine 里完成，不需要再加锁。
type Orchestrator struct {
	executor Executor
	riskMgr  *risk.Manager
	breaker  *risk.CircuitBreaker
	tracker  *position.Tracker
	watcher  Watcher

	startTimeMs int64
	tradeCh     chan *domain.Trade

	// 去重键集合，只被消费循环访问
	seen      map[string]struct{}
	seenOrder []string

	detected atomic.Int64
	copied   atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

func NewOrchestrator(
	executor Executor,
	riskMgr *risk.Manager,
	breaker *risk.CircuitBreaker,
	tracker *position.Tracker,
	watcher Watcher,
	startTimeMs int64,
) *Orchestrator {
	return &Orchestrator{
		executor:    executor,
		riskMgr:     riskMgr,
		breaker:     breaker,
		tracker:     tracker,
		watcher:     watcher,
		startTimeMs: startTimeMs,
		tradeCh:     make(chan *domain.Trade, defaultTradeBuffer),
		seen:        make(map[string]struct{}),
	}
}

// Submit 投递一笔监控到的成交。通道满时丢弃并告警，不阻塞监控方。
func (o *Orchestrator) Submit(trade *domain.Trade) {
	select {
	case o.tradeCh <- trade:
	default:
		logger.Warnf("跟单队列已满，丢弃成交: %s", trade.CompositeKey())
	}
}

// Run 消费循环，ctx 取消时退出。
func (o *Orchestrator) Run(ctx context.Context) {
	logger.Info("跟单循环已启动")
	for {
		select {
		case <-ctx.Done():
			logger.Info("跟单循环已停止")
			return
		case trade := <-o.tradeCh:
			o.handleTrade(ctx, trade)
		}
	}
}

func (o *Orchestrator) handleTrade(ctx context.Context, trade *domain.Trade) {
	o.detected.Add(1)

	// 只跟启动之后的新成交，启动瞬间拉到的历史记录不算
	if trade.TimestampMs < o.startTimeMs {
		o.skipped.Add(1)
		return
	}

	if o.isSeen(trade) {
		o.skipped.Add(1)
		return
	}
	o.markSeen(trade)

	// 不管这笔跟不跟，先把所在市场加进推送订阅
	if o.watcher != nil {
		if err := o.watcher.Watch(ctx, trade); err != nil {
			logger.Warnf("订阅推送失败: %v", err)
		}
	}

	// 只跟买入。卖出镜像需要精确的持仓对齐，偏差会放大，不做
	if trade.Side != domain.SideBuy {
		logger.Infof("跳过非买入成交: side=%s token=%s size=%.2f", trade.Side, trade.TokenID, trade.Size)
		o.skipped.Add(1)
		return
	}

	if err := o.breaker.AllowTrading(); err != nil {
		logger.Warnf("熔断器已打开，跳过跟单: %v", err)
		o.skipped.Add(1)
		return
	}

	notional := o.executor.PlanNotional(trade)
	if err := o.riskMgr.CheckOrder(trade.ConditionID, notional); err != nil {
		logger.Warnf("风控拒绝: %v", err)
		o.skipped.Add(1)
		return
	}

	logger.Infof("跟单: %s %s price=%.4f size=%.2f notional=%.2f title=%s",
		trade.Side, trade.TokenID, trade.Price, trade.Size, notional, trade.Title)

	result, err := o.executor.ExecuteCopy(ctx, trade)
	if err != nil {
		logger.Errorf("跟单执行失败: %v", err)
		o.breaker.OnError()
		o.failed.Add(1)
		return
	}

	o.breaker.OnSuccess()
	o.copied.Add(1)

	if !result.DryRun {
		o.riskMgr.RecordFill(result.Notional)
		o.tracker.ApplyFill(trade.TokenID, trade.ConditionID, domain.SideBuy, result.Shares, result.Price)
	}

	logger.Infof("跟单成功: orderID=%s shares=%.4f price=%.4f notional=%.2f status=%s",
		result.OrderID, result.Shares, result.Price, result.Notional, result.Status)
}

func (o *Orchestrator) isSeen(trade *domain.Trade) bool {
	for _, key := range trade.Keys() {
		if _, ok := o.seen[key]; ok {
			return true
		}
	}
	return false
}

func (o *Orchestrator) markSeen(trade *domain.Trade) {
	for _, key := range trade.Keys() {
		if _, ok := o.seen[key]; ok {
			continue
		}
		o.seen[key] = struct{}{}
		o.seenOrder = append(o.seenOrder, key)
	}

	// 超限时保留较新的一半
	if len(o.seenOrder) > maxDedupKeys {
		cut := len(o.seenOrder) / 2
		for _, key := range o.seenOrder[:cut] {
			delete(o.seen, key)
		}
		o.seenOrder = append([]string(nil), o.seenOrder[cut:]...)
	}
}

// Stats 当前计数快照
func (o *Orchestrator) Stats() Stats {
	return Stats{
		Detected: o.detected.Load(),
		Copied:   o.copied.Load(),
		Skipped:  o.skipped.Load(),
		Failed:   o.failed.Load(),
	}
}

// PrintSummary 打印运行摘要（退出时调用）
func (o *Orchestrator) PrintSummary() {
	s := o.Stats()
	logger.Infof("运行摘要: 监控到 %d 笔 / 跟单 %d 笔 / 跳过 %d 笔 / 失败 %d 笔, 会话累计 %.2f USDC",
		s.Detected, s.Copied, s.Skipped, s.Failed, o.riskMgr.SessionNotional())

	for _, p := range o.tracker.Snapshot() {
		logger.Infof("持仓: token=%s shares=%.4f avgPrice=%.4f notional=%.2f",
			p.TokenID, p.Shares, p.AvgPrice, p.Notional)
	}
}
