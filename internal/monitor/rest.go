package monitor

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
	"github.com/betbot/copybot/pkg/sigchan"
)

const (
	defaultPollLimit = 100
	maxSeenKeys      = 1000
)

// TradeHandler 新成交回调
type TradeHandler func(trade *domain.Trade)

// ActivityFetcher 活动流获取接口（由 data-api 客户端实现）
type ActivityFetcher interface {
	GetActivity(ctx context.Context, query api.ActivityQuery) ([]api.ActivityTrade, error)
}

// RestMonitor 通过轮询 data-api 活动流发现目标钱包的新成交。
// 返回结果按时间重排为升序后依序回调；水位线之前的和已见过的都跳过。
// 拉取失败视为空轮询，不中断监控。
type RestMonitor struct {
	fetcher  ActivityFetcher
	target   string
	interval time.Duration
	handler  TradeHandler
	wake     *sigchan.Chan

	mu        sync.Mutex
	watermark int64 // 已处理的最大时间戳（秒）
	seen      map[string]struct{}
	seenOrder []string // 按见到顺序记录，便于修剪
}

func NewRestMonitor(fetcher ActivityFetcher, targetWallet string, interval time.Duration, handler TradeHandler) *RestMonitor {
	return &RestMonitor{
		fetcher:  fetcher,
		target:   strings.ToLower(targetWallet),
		interval: interval,
		handler:  handler,
		wake:     sigchan.New(1),
		seen:     make(map[string]struct{}),
	}
}

// Poke 触发一次立即轮询，不影响固定节奏。
// 推送断线后调用，尽快补上断线窗口里的成交。
func (m *RestMonitor) Poke() {
	m.wake.Emit()
}

// Start 启动轮询，ctx 取消时退出。
func (m *RestMonitor) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *RestMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	logger.Infof("REST监控已启动: target=%s interval=%s", m.target, m.interval)

	// 启动时先拉一次，建立水位线
	m.poll(ctx)

	for {
		select {
		case <-ctx.Done():
			logger.Info("REST监控已停止")
			return
		case <-ticker.C:
			m.poll(ctx)
		case <-m.wake.C():
			m.poll(ctx)
		}
	}
}

func (m *RestMonitor) poll(ctx context.Context) {
	m.mu.Lock()
	watermark := m.watermark
	m.mu.Unlock()

	// after 是严格下界，退一秒保证同秒的其余成交不被服务端截掉
	var after int64
	if watermark > 0 {
		after = watermark - 1
	}

	trades, err := m.fetcher.GetActivity(ctx, api.ActivityQuery{
		User:  m.target,
		Types: []string{"TRADE"},
		Limit: defaultPollLimit,
		After: after,
	})
	if err != nil {
		logger.Warnf("拉取活动流失败: %v", err)
		return
	}

	m.Process(trades)
}

// Process 处理一批活动记录。导出以便与推送源共用去重逻辑。
func (m *RestMonitor) Process(trades []api.ActivityTrade) {
	// 接口返回新在前，重排为升序保证回调顺序
	sort.SliceStable(trades, func(i, j int) bool {
		return trades[i].Timestamp < trades[j].Timestamp
	})

	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range trades {
		t := &trades[i]
		if !strings.EqualFold(t.Type, "TRADE") {
			continue
		}
		if t.Timestamp < m.watermark {
			continue
		}

		trade := convertActivity(t)
		if m.isSeen(trade) {
			continue
		}
		m.markSeen(trade)

		if t.Timestamp > m.watermark {
			m.watermark = t.Timestamp
		}

		if m.handler != nil {
			m.handler(trade)
		}
	}
}

func (m *RestMonitor) isSeen(trade *domain.Trade) bool {
	for _, key := range trade.Keys() {
		if _, ok := m.seen[key]; ok {
			return true
		}
	}
	return false
}

func (m *RestMonitor) markSeen(trade *domain.Trade) {
	for _, key := range trade.Keys() {
		if _, ok := m.seen[key]; ok {
			continue
		}
		m.seen[key] = struct{}{}
		m.seenOrder = append(m.seenOrder, key)
	}

	// 超限时保留较新的一半
	if len(m.seenOrder) > maxSeenKeys {
		cut := len(m.seenOrder) / 2
		for _, key := range m.seenOrder[:cut] {
			delete(m.seen, key)
		}
		m.seenOrder = append([]string(nil), m.seenOrder[cut:]...)
	}
}

func convertActivity(t *api.ActivityTrade) *domain.Trade {
	return &domain.Trade{
		SourceWallet:    t.ProxyWallet,
		TokenID:         t.Asset,
		ConditionID:     t.ConditionID,
		Side:            domain.Side(strings.ToUpper(t.Side)),
		Outcome:         t.Outcome,
		Price:           t.Price.Float64(),
		Size:            t.Size.Float64(),
		UsdcSize:        t.UsdcSize.Float64(),
		TimestampMs:     t.Timestamp * 1000,
		TransactionHash: t.TransactionHash,
		Title:           t.Title,
		Slug:            t.Slug,
	}
}
