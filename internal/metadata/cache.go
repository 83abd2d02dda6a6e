package metadata

import (
	"context"
	"time"

	"github.com/betbot/copybot/internal/domain"
	"github.com/betbot/copybot/pkg/cache"
	"github.com/betbot/copybot/pkg/logger"
	"github.com/betbot/copybot/pkg/sdk/api"
)

const metadataTTL = time.Hour

// MarketFetcher 市场信息获取接口（由 CLOB 客户端实现）
type MarketFetcher interface {
	GetMarket(ctx context.Context, conditionID string) (*api.MarketInfo, error)
}

// Cache 按 conditionID 缓存下单所需的市场元数据，TTL 1 小时。
// 获取失败时缓存保守缺省值，避免同一市场反复打远端。
type Cache struct {
	fetcher MarketFetcher
	store   *cache.InMemoryCache[string, *domain.MarketMetadata]
}

func NewCache(fetcher MarketFetcher) *Cache {
	return &Cache{
		fetcher: fetcher,
		store:   cache.NewInMemoryCache[string, *domain.MarketMetadata](metadataTTL),
	}
}

// Get 读穿缓存。并发 miss 不做合并，重复取一次远端无害。
func (c *Cache) Get(ctx context.Context, conditionID string) *domain.MarketMetadata {
	if meta, ok := c.store.Get(conditionID); ok {
		return meta
	}

	meta := c.fetch(ctx, conditionID)
	c.store.Set(conditionID, meta, 0)
	return meta
}

func (c *Cache) fetch(ctx context.Context, conditionID string) *domain.MarketMetadata {
	info, err := c.fetcher.GetMarket(ctx, conditionID)
	if err != nil {
		logger.Warnf("获取市场元数据失败，使用缺省值: conditionID=%s err=%v", conditionID, err)
		return domain.DefaultMarketMetadata(conditionID)
	}

	meta := &domain.MarketMetadata{
		ConditionID: conditionID,
		TickSize:    info.MinimumTickSize,
		NegRisk:     info.NegRisk,
		FeeRateBps:  info.TakerBaseFee,
	}
	if meta.TickSize <= 0 {
		meta.TickSize = 0.01
	}
	return meta
}

// Size 当前缓存条目数
func (c *Cache) Size() int {
	return c.store.Size()
}

// Close 停止底层缓存的清理 goroutine
func (c *Cache) Close() {
	c.store.Close()
}
