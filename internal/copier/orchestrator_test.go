package copier

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/internal/execution"
	"github.com/betbot/copybot/internal/position"
	"github.com/betbot/copybot/internal/risk"
)

type fakeExecutor struct {
	calls  []*domain.Trade
	err    error
	result *execution.Result
}

func (f *fakeExecutor) PlanNotional(trade *domain.Trade) float64 {
	return trade.Notional()
}

func (f *fakeExecutor) ExecuteCopy(_ context.Context, trade *domain.Trade) (*execution.Result, error) {
	f.calls = append(f.calls, trade)
	if f.err != nil {
		return nil, f.err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &execution.Result{
		OrderID:  "ord-1",
		Shares:   trade.Size,
		Price:    trade.Price,
		Notional: trade.Notional(),
	}, nil
}

func newTestOrchestrator(exec Executor, riskCfg risk.Config, startTimeMs int64) (*Orchestrator, *position.Tracker) {
	tracker := position.NewTracker()
	riskMgr := risk.NewManager(riskCfg, tracker)
	breaker := risk.NewCircuitBreaker(risk.CircuitBreakerConfig{})
	return NewOrchestrator(exec, riskMgr, breaker, tracker, nil, startTimeMs), tracker
}

func trade(txHash string, ts int64, side domain.Side) *domain.Trade {
	return &domain.Trade{
		SourceWallet:    "0xtarget",
		TokenID:         "token-1",
		ConditionID:     "0xcond",
		Side:            side,
		Price:           0.5,
		Size:            20,
		UsdcSize:        10,
		TimestampMs:     ts,
		TransactionHash: txHash,
	}
}

func TestHandleTrade_DedupByTransactionHash(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 0)
	ctx := context.Background()

	o.handleTrade(ctx, trade("0x1", 100, domain.SideBuy))
	o.handleTrade(ctx, trade("0x1", 100, domain.SideBuy))

	if len(exec.calls) != 1 {
		t.Fatalf("executions got=%d want=1", len(exec.calls))
	}
	s := o.Stats()
	if s.Detected != 2 || s.Copied != 1 || s.Skipped != 1 {
		t.Fatalf("stats got=%+v", s)
	}
}

func TestHandleTrade_DedupByCompositeKey(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 0)
	ctx := context.Background()

	// 同一笔成交：一条来自 REST 带哈希，一条来自市场推送不带哈希
	withHash := trade("0x1", 100, domain.SideBuy)
	fromPush := trade("", 100, domain.SideBuy)
	o.handleTrade(ctx, withHash)
	o.handleTrade(ctx, fromPush)

	if len(exec.calls) != 1 {
		t.Fatalf("executions got=%d want=1", len(exec.calls))
	}
}

func TestHandleTrade_ForwardOnly(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 1000)
	ctx := context.Background()

	o.handleTrade(ctx, trade("0x1", 999, domain.SideBuy))
	if len(exec.calls) != 0 {
		t.Fatalf("historical trade executed, got=%d", len(exec.calls))
	}

	o.handleTrade(ctx, trade("0x2", 1000, domain.SideBuy))
	if len(exec.calls) != 1 {
		t.Fatalf("trade at start time should execute, got=%d", len(exec.calls))
	}
}

func TestHandleTrade_ForwardOnlyHoldsForPushShapedTrade(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 1000)
	ctx := context.Background()

	// 市场推送来的候选不带钱包和哈希，启动前的成交同样不能执行
	early := trade("", 999, domain.SideBuy)
	early.SourceWallet = ""
	o.handleTrade(ctx, early)

	if len(exec.calls) != 0 {
		t.Fatalf("pre-start push trade executed, got=%d", len(exec.calls))
	}
	if s := o.Stats(); s.Skipped != 1 {
		t.Fatalf("skipped got=%d want=1", s.Skipped)
	}
}

func TestHandleTrade_BuyOnly(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 0)
	ctx := context.Background()

	o.handleTrade(ctx, trade("0x1", 100, domain.SideSell))
	if len(exec.calls) != 0 {
		t.Fatalf("sell executed, got=%d", len(exec.calls))
	}
	if s := o.Stats(); s.Skipped != 1 {
		t.Fatalf("stats got=%+v", s)
	}
}

func TestHandleTrade_RiskRejectionIsSkip(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{MaxSessionNotional: 15}, 0)
	ctx := context.Background()

	o.handleTrade(ctx, trade("0x1", 100, domain.SideBuy))
	o.handleTrade(ctx, trade("0x2", 200, domain.SideBuy))

	if len(exec.calls) != 1 {
		t.Fatalf("executions got=%d want=1", len(exec.calls))
	}
	s := o.Stats()
	if s.Copied != 1 || s.Skipped != 1 || s.Failed != 0 {
		t.Fatalf("stats got=%+v", s)
	}
}

func TestHandleTrade_ExecutionFailureContinues(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("order rejected: market closed")}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 0)
	ctx := context.Background()

	o.handleTrade(ctx, trade("0x1", 100, domain.SideBuy))
	o.handleTrade(ctx, trade("0x2", 200, domain.SideBuy))

	if len(exec.calls) != 2 {
		t.Fatalf("executions got=%d want=2", len(exec.calls))
	}
	if s := o.Stats(); s.Failed != 2 || s.Copied != 0 {
		t.Fatalf("stats got=%+v", s)
	}
}

func TestHandleTrade_SuccessUpdatesPositionAndSession(t *testing.T) {
	exec := &fakeExecutor{}
	o, tracker := newTestOrchestrator(exec, risk.Config{}, 0)
	ctx := context.Background()

	o.handleTrade(ctx, trade("0x1", 100, domain.SideBuy))

	p := tracker.Get("token-1")
	if p.Shares != 20 {
		t.Fatalf("tracked shares got=%v want=20", p.Shares)
	}
	if o.riskMgr.SessionNotional() != 10 {
		t.Fatalf("session notional got=%v want=10", o.riskMgr.SessionNotional())
	}
}

func TestMarkSeen_PrunesToRecentHalf(t *testing.T) {
	exec := &fakeExecutor{}
	o, _ := newTestOrchestrator(exec, risk.Config{}, 0)

	for i := 0; i < maxDedupKeys+10; i++ {
		tr := trade("", int64(i+1), domain.SideBuy)
		tr.Size = float64(i + 1) // 复合键各不相同
		o.markSeen(tr)
	}

	if len(o.seenOrder) > maxDedupKeys {
		t.Fatalf("seenOrder size %d exceeds ceiling %d", len(o.seenOrder), maxDedupKeys)
	}
	if len(o.seen) != len(o.seenOrder) {
		t.Fatalf("seen map %d out of sync with order slice %d", len(o.seen), len(o.seenOrder))
	}

	// 最新的键必须保留
	latest := trade("", int64(maxDedupKeys+10), domain.SideBuy)
	latest.Size = float64(maxDedupKeys + 10)
	if !o.isSeen(latest) {
		t.Fatal("most recent key was pruned")
	}
}
