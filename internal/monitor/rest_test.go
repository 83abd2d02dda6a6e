package monitor

import (
	"context"
	"fmt"
	"testing"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/sdk/api"
)

type fakeActivityFetcher struct {
	queries []api.ActivityQuery
	trades  []api.ActivityTrade
	err     error
}

func (f *fakeActivityFetcher) GetActivity(ctx context.Context, query api.ActivityQuery) ([]api.ActivityTrade, error) {
	f.queries = append(f.queries, query)
	return f.trades, f.err
}

func activity(txHash string, ts int64, side string) api.ActivityTrade {
	return api.ActivityTrade{
		ProxyWallet:     "0xtarget",
		Type:            "TRADE",
		Side:            side,
		Asset:           "token-1",
		ConditionID:     "0xcond",
		Size:            10,
		UsdcSize:        5,
		Price:           0.5,
		Timestamp:       ts,
		TransactionHash: txHash,
	}
}

func collectingMonitor() (*RestMonitor, *[]*domain.Trade) {
	var got []*domain.Trade
	m := NewRestMonitor(nil, "0xtarget", 0, func(trade *domain.Trade) {
		got = append(got, trade)
	})
	return m, &got
}

func TestProcess_ReordersAscending(t *testing.T) {
	m, got := collectingMonitor()

	// 接口返回新在前；回调必须按时间升序
	m.Process([]api.ActivityTrade{
		activity("0x3", 300, "BUY"),
		activity("0x2", 200, "BUY"),
		activity("0x1", 100, "BUY"),
	})

	if len(*got) != 3 {
		t.Fatalf("trades got=%d want=3", len(*got))
	}
	for i, want := range []int64{100000, 200000, 300000} {
		if (*got)[i].TimestampMs != want {
			t.Fatalf("trade %d timestamp got=%d want=%d", i, (*got)[i].TimestampMs, want)
		}
	}
}

func TestProcess_SkipsSeenAndAdvancesWatermark(t *testing.T) {
	m, got := collectingMonitor()

	m.Process([]api.ActivityTrade{activity("0x1", 100, "BUY"), activity("0x2", 200, "BUY")})
	if len(*got) != 2 {
		t.Fatalf("first batch got=%d want=2", len(*got))
	}

	// 重复 + 一条水位线之前的旧记录 + 一条新记录
	m.Process([]api.ActivityTrade{
		activity("0x2", 200, "BUY"),
		activity("0x0", 50, "BUY"),
		activity("0x3", 300, "BUY"),
	})
	if len(*got) != 3 {
		t.Fatalf("after second batch got=%d want=3", len(*got))
	}
	if (*got)[2].TransactionHash != "0x3" {
		t.Fatalf("new trade got=%s want=0x3", (*got)[2].TransactionHash)
	}
}

func TestPoll_PassesWatermarkAsLowerBound(t *testing.T) {
	fetcher := &fakeActivityFetcher{
		trades: []api.ActivityTrade{activity("0x1", 100, "BUY"), activity("0x2", 200, "BUY")},
	}
	m := NewRestMonitor(fetcher, "0xtarget", 0, nil)

	// 首次轮询没有水位线，不带下界，否则一个窗口内超过一页的成交会丢掉最早的
	m.poll(context.Background())
	if got := fetcher.queries[0].After; got != 0 {
		t.Fatalf("first poll after got=%d want=0", got)
	}

	// 水位线推进到 200 后，下界退一秒传给服务端，同秒剩余成交不被截掉
	fetcher.trades = nil
	m.poll(context.Background())
	if got := fetcher.queries[1].After; got != 199 {
		t.Fatalf("second poll after got=%d want=199", got)
	}
}

func TestProcess_IgnoresNonTradeTypes(t *testing.T) {
	m, got := collectingMonitor()

	redeem := activity("0x1", 100, "BUY")
	redeem.Type = "REDEEM"
	m.Process([]api.ActivityTrade{redeem})

	if len(*got) != 0 {
		t.Fatalf("got=%d want=0", len(*got))
	}
}

func TestProcess_SameTimestampDistinctTradesBothDelivered(t *testing.T) {
	m, got := collectingMonitor()

	a := activity("0xa", 100, "BUY")
	b := activity("0xb", 100, "BUY")
	b.Size = 20
	m.Process([]api.ActivityTrade{a, b})

	// 时间戳相同不代表重复，靠键去重
	if len(*got) != 2 {
		t.Fatalf("got=%d want=2", len(*got))
	}

	m.Process([]api.ActivityTrade{a, b})
	if len(*got) != 2 {
		t.Fatalf("after replay got=%d want=2", len(*got))
	}
}

func TestMarkSeen_PrunesOldestHalf(t *testing.T) {
	m, _ := collectingMonitor()

	var batch []api.ActivityTrade
	for i := 0; i < maxSeenKeys; i++ {
		batch = append(batch, activity(fmt.Sprintf("0x%04d", i), int64(100+i), "BUY"))
	}
	m.Process(batch)

	// 每笔产生 2 个键（哈希+复合），早已触发修剪
	if len(m.seenOrder) > maxSeenKeys {
		t.Fatalf("seenOrder size %d exceeds ceiling %d", len(m.seenOrder), maxSeenKeys)
	}
	if len(m.seen) != len(m.seenOrder) {
		t.Fatalf("seen map %d out of sync with order slice %d", len(m.seen), len(m.seenOrder))
	}
}
