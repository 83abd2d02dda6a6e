package execution

import (
	"context"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
)

// Venue 下单所需的交易所操作
type Venue interface {
	GetOrderBook(ctx context.Context, tokenID string) (*api.OrderBook, error)
	GetUSDCBalance(ctx context.Context) (float64, error)
	PlaceOrder(ctx context.Context, params api.OrderParams, orderType api.OrderType) (*api.OrderResponse, error)
}

// MetadataSource 市场元数据来源
type MetadataSource interface {
	Get(ctx context.Context, conditionID string) *domain.MarketMetadata
}

// Config 执行参数
type Config struct {
	Multiplier   float64       // 仓位倍数
	MinTradeSize float64       // 单笔最小金额（USDC）
	MaxTradeSize float64       // 单笔最大金额（USDC）
	MaxSlippage  float64       // 相对盘口的最大滑点
	OrderType    api.OrderType // GTC / FOK / FAK
	MaxAttempts  int           // 下单重试次数上限
	DryRun       bool          // 纸交易：不真实下单
}

// Result 一次跟单执行的结果
type Result struct {
	OrderID  string  // 交易所订单 ID（DryRun 时为空）
	Shares   float64 // 下单份额
	Price    float64 // 限价
	Notional float64 // 名义金额（USDC）
	Status   string  // 交易所返回的状态
	DryRun   bool
}

// Engine 把目标成交转换为本方订单并提交。
// 定价基于当前盘口对手价加滑点，而不是照抄原始成交价：
// 目标成交到这里已经过去了至少一个轮询周期，盘口可能早就变了。
type Engine struct {
	venue    Venue
	metadata MetadataSource
	cfg      Config
}

func NewEngine(venue Venue, metadata MetadataSource, cfg Config) *Engine {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	return &Engine{
		venue:    venue,
		metadata: metadata,
		cfg:      cfg,
	}
}

// immediateOrCancel FOK/FAK 这类立即成交订单
func (e *Engine) immediateOrCancel() bool {
	return e.cfg.OrderType == api.OrderTypeFOK || e.cfg.OrderType == api.OrderTypeFAK
}

// PlanNotional 计算一笔原始成交对应的跟单金额。
// 下单前风控要用这个数，所以单独暴露。
func (e *Engine) PlanNotional(trade *domain.Trade) float64 {
	return CalculateCopySize(
		trade.Notional(),
		e.cfg.Multiplier,
		e.cfg.MinTradeSize,
		e.cfg.MaxTradeSize,
		e.immediateOrCancel(),
	)
}

// ExecuteCopy 执行一笔跟单。
// 返回错误表示这笔没有成交（重试已在内部做完），调用方记账后继续即可。
func (e *Engine) ExecuteCopy(ctx context.Context, trade *domain.Trade) (*Result, error) {
	notional := e.PlanNotional(trade)
	if notional <= 0 {
		return nil, errors.New("invalid copy notional")
	}

	meta := e.metadata.Get(ctx, trade.ConditionID)

	price, err := e.quotePrice(ctx, trade.TokenID, trade.Side, meta.TickSize)
	if err != nil {
		return nil, err
	}

	shares := RoundShares(notional / price)
	if shares <= 0 {
		return nil, errors.New("copy size rounds to zero shares")
	}

	if trade.Side == domain.SideBuy {
		if err := e.preflightBalance(ctx, shares*price); err != nil {
			return nil, err
		}
	}

	if e.cfg.DryRun {
		logger.Infof("[DRY-RUN] %s %s shares=%.4f price=%.4f notional=%.2f",
			trade.Side, trade.TokenID, shares, price, notional)
		return &Result{
			Shares:   shares,
			Price:    price,
			Notional: shares * price,
			DryRun:   true,
		}, nil
	}

	params := api.OrderParams{
		TokenID:    trade.TokenID,
		Side:       api.Side(trade.Side),
		Size:       shares,
		Price:      price,
		NegRisk:    meta.NegRisk,
		FeeRateBps: int(meta.FeeRateBps),
	}

	var resp *api.OrderResponse
	err = withRetry(ctx, e.cfg.MaxAttempts, func() error {
		var placeErr error
		resp, placeErr = e.venue.PlaceOrder(ctx, params, e.cfg.OrderType)
		if placeErr != nil {
			return placeErr
		}
		if !resp.Success {
			return errors.Errorf("order rejected: %s", resp.ErrorMsg)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "place order")
	}

	return &Result{
		OrderID:  resp.OrderID,
		Shares:   shares,
		Price:    price,
		Notional: shares * price,
		Status:   resp.Status,
	}, nil
}

// quotePrice 取盘口对手价加滑点作为限价。
// BUY 吃卖一向上让价，SELL 吃买一向下让价；结果对齐 tick 并夹在合法区间。
func (e *Engine) quotePrice(ctx context.Context, tokenID string, side domain.Side, tickSize float64) (float64, error) {
	book, err := e.venue.GetOrderBook(ctx, tokenID)
	if err != nil {
		return 0, errors.Wrap(err, "get order book")
	}

	var price float64
	switch side {
	case domain.SideBuy:
		best, err := bestLevel(book.Asks)
		if err != nil {
			return 0, errors.Wrap(err, "no asks")
		}
		price = best * (1 + e.cfg.MaxSlippage)
		if price > 0.99 {
			price = 0.99
		}
	case domain.SideSell:
		best, err := bestLevel(book.Bids)
		if err != nil {
			return 0, errors.Wrap(err, "no bids")
		}
		price = best * (1 - e.cfg.MaxSlippage)
		if price < 0.01 {
			price = 0.01
		}
	default:
		return 0, errors.Errorf("unsupported side: %s", side)
	}

	return ClampPrice(RoundToTickSize(price, tickSize)), nil
}

// preflightBalance 下单前确认余额足够，余额类错误不值得走重试。
func (e *Engine) preflightBalance(ctx context.Context, required float64) error {
	balance, err := e.venue.GetUSDCBalance(ctx)
	if err != nil {
		// 查询失败不拦截下单，交给交易所判断
		logger.Warnf("查询余额失败，跳过预检: %v", err)
		return nil
	}
	if balance < required {
		return errors.Errorf("insufficient balance: have %.2f need %.2f", balance, required)
	}
	return nil
}

func bestLevel(levels []api.OrderBookLevel) (float64, error) {
	if len(levels) == 0 {
		return 0, errors.New("empty book side")
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(levels[0].Price), 64)
	if err != nil || price <= 0 {
		return 0, errors.Errorf("bad price level: %q", levels[0].Price)
	}
	return price, nil
}
