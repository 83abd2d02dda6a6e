package metadata

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/pkg/sdk/api"
)

type fakeFetcher struct {
	calls int
	info  *api.MarketInfo
	err   error
}

func (f *fakeFetcher) GetMarket(_ context.Context, conditionID string) (*api.MarketInfo, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func TestCache_FetchesOnceThenServesFromCache(t *testing.T) {
	fetcher := &fakeFetcher{info: &api.MarketInfo{
		ConditionID:     "0xcond",
		MinimumTickSize: 0.001,
		NegRisk:         true,
		TakerBaseFee:    20,
	}}
	c := NewCache(fetcher)
	ctx := context.Background()

	meta := c.Get(ctx, "0xcond")
	if meta.TickSize != 0.001 || !meta.NegRisk || meta.FeeRateBps != 20 {
		t.Fatalf("metadata got=%+v", meta)
	}

	c.Get(ctx, "0xcond")
	c.Get(ctx, "0xcond")
	if fetcher.calls != 1 {
		t.Fatalf("fetch calls got=%d want=1", fetcher.calls)
	}
}

func TestCache_FetchFailureUsesDefaults(t *testing.T) {
	fetcher := &fakeFetcher{err: errors.New("http 500")}
	c := NewCache(fetcher)

	meta := c.Get(context.Background(), "0xcond")
	if meta.TickSize != 0.01 {
		t.Fatalf("tickSize got=%v want=0.01", meta.TickSize)
	}
	if meta.NegRisk {
		t.Fatal("negRisk should default to false")
	}
	if meta.FeeRateBps != 0 {
		t.Fatalf("feeRate got=%v want=0", meta.FeeRateBps)
	}

	// 缺省值也会被缓存，失败的市场不会每笔都打一次远端
	c.Get(context.Background(), "0xcond")
	if fetcher.calls != 1 {
		t.Fatalf("fetch calls got=%d want=1", fetcher.calls)
	}
}

func TestCache_ZeroTickFallsBack(t *testing.T) {
	fetcher := &fakeFetcher{info: &api.MarketInfo{ConditionID: "0xcond"}}
	c := NewCache(fetcher)

	meta := c.Get(context.Background(), "0xcond")
	if meta.TickSize != 0.01 {
		t.Fatalf("tickSize got=%v want=0.01", meta.TickSize)
	}
}
