package execution

import (
	"context"
	"testing"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/sdk/api"
)

type fakeVenue struct {
	asks    []api.OrderBookLevel
	bids    []api.OrderBookLevel
	balance float64

	placeCalls int
	lastParams api.OrderParams
	lastType   api.OrderType
	placeErr   error
	resp       *api.OrderResponse
}

func (f *fakeVenue) GetOrderBook(_ context.Context, tokenID string) (*api.OrderBook, error) {
	return &api.OrderBook{AssetID: tokenID, Asks: f.asks, Bids: f.bids}, nil
}

func (f *fakeVenue) GetUSDCBalance(_ context.Context) (float64, error) {
	return f.balance, nil
}

func (f *fakeVenue) PlaceOrder(_ context.Context, params api.OrderParams, orderType api.OrderType) (*api.OrderResponse, error) {
	f.placeCalls++
	f.lastParams = params
	f.lastType = orderType
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	if f.resp != nil {
		return f.resp, nil
	}
	return &api.OrderResponse{Success: true, OrderID: "ord-1", Status: "matched"}, nil
}

type fakeMetadata struct {
	meta *domain.MarketMetadata
}

func (f *fakeMetadata) Get(_ context.Context, conditionID string) *domain.MarketMetadata {
	if f.meta != nil {
		return f.meta
	}
	return domain.DefaultMarketMetadata(conditionID)
}

func buyTrade(notional float64) *domain.Trade {
	return &domain.Trade{
		TokenID:     "token-1",
		ConditionID: "0xcond",
		Side:        domain.SideBuy,
		Price:       0.5,
		UsdcSize:    notional,
		Size:        notional / 0.5,
		TimestampMs: 1700000000000,
	}
}

func newTestEngine(venue *fakeVenue, cfg Config) *Engine {
	if cfg.OrderType == "" {
		cfg.OrderType = api.OrderTypeFAK
	}
	return NewEngine(venue, &fakeMetadata{}, cfg)
}

func TestExecuteCopy_PricesOffBestAsk(t *testing.T) {
	venue := &fakeVenue{
		asks:    []api.OrderBookLevel{{Price: "0.50", Size: "100"}},
		balance: 1000,
	}
	eng := newTestEngine(venue, Config{
		Multiplier:   1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
		MaxSlippage:  0.02,
	})

	res, err := eng.ExecuteCopy(context.Background(), buyTrade(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.50 × 1.02 = 0.51，tick 0.01 对齐后不变
	if res.Price != 0.51 {
		t.Fatalf("price got=%v want=0.51", res.Price)
	}
	if venue.lastParams.Side != api.SideBuy {
		t.Fatalf("side got=%s want=BUY", venue.lastParams.Side)
	}
	if venue.lastType != api.OrderTypeFAK {
		t.Fatalf("orderType got=%s want=FAK", venue.lastType)
	}
}

func TestExecuteCopy_PriceCappedAt99(t *testing.T) {
	venue := &fakeVenue{
		asks:    []api.OrderBookLevel{{Price: "0.98", Size: "100"}},
		balance: 1000,
	}
	eng := newTestEngine(venue, Config{
		Multiplier:   1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
		MaxSlippage:  0.05,
	})

	res, err := eng.ExecuteCopy(context.Background(), buyTrade(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// 0.98 × 1.05 = 1.029，封顶 0.99
	if res.Price != 0.99 {
		t.Fatalf("price got=%v want=0.99", res.Price)
	}
}

func TestExecuteCopy_InsufficientBalanceFailsFast(t *testing.T) {
	venue := &fakeVenue{
		asks:    []api.OrderBookLevel{{Price: "0.50", Size: "100"}},
		balance: 2, // 需要约 10
	}
	eng := newTestEngine(venue, Config{
		Multiplier:   1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
		MaxSlippage:  0.02,
	})

	_, err := eng.ExecuteCopy(context.Background(), buyTrade(10))
	if err == nil {
		t.Fatal("expected insufficient balance error")
	}
	if venue.placeCalls != 0 {
		t.Fatalf("placeCalls got=%d want=0", venue.placeCalls)
	}
}

func TestExecuteCopy_RejectionNotRetriedWhenNonRetryable(t *testing.T) {
	venue := &fakeVenue{
		asks:    []api.OrderBookLevel{{Price: "0.50", Size: "100"}},
		balance: 1000,
		resp:    &api.OrderResponse{Success: false, ErrorMsg: "invalid signature"},
	}
	eng := newTestEngine(venue, Config{
		Multiplier:   1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
		MaxSlippage:  0.02,
		MaxAttempts:  3,
	})

	_, err := eng.ExecuteCopy(context.Background(), buyTrade(10))
	if err == nil {
		t.Fatal("expected rejection error")
	}
	if venue.placeCalls != 1 {
		t.Fatalf("placeCalls got=%d want=1", venue.placeCalls)
	}
}

func TestExecuteCopy_NetworkErrorRetried(t *testing.T) {
	venue := &fakeVenue{
		asks:     []api.OrderBookLevel{{Price: "0.50", Size: "100"}},
		balance:  1000,
		placeErr: errors.New("connection reset by peer"),
	}
	eng := newTestEngine(venue, Config{
		Multiplier:   1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
		MaxSlippage:  0.02,
		MaxAttempts:  2,
	})

	_, err := eng.ExecuteCopy(context.Background(), buyTrade(10))
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if venue.placeCalls != 2 {
		t.Fatalf("placeCalls got=%d want=2", venue.placeCalls)
	}
}

func TestExecuteCopy_DryRunSkipsVenue(t *testing.T) {
	venue := &fakeVenue{
		asks:    []api.OrderBookLevel{{Price: "0.50", Size: "100"}},
		balance: 1000,
	}
	eng := newTestEngine(venue, Config{
		Multiplier:   1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
		MaxSlippage:  0.02,
		DryRun:       true,
	})

	res, err := eng.ExecuteCopy(context.Background(), buyTrade(10))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.DryRun {
		t.Fatal("expected dry-run result")
	}
	if venue.placeCalls != 0 {
		t.Fatalf("placeCalls got=%d want=0", venue.placeCalls)
	}
}

func TestPlanNotional_UsesMultiplierAndClamp(t *testing.T) {
	eng := newTestEngine(&fakeVenue{}, Config{
		Multiplier:   0.1,
		MinTradeSize: 1,
		MaxTradeSize: 100,
	})

	if got := eng.PlanNotional(buyTrade(1000)); got != 100 {
		t.Fatalf("got=%v want=100", got)
	}
	if got := eng.PlanNotional(buyTrade(5)); got != 1 {
		t.Fatalf("got=%v want=1", got)
	}
}
