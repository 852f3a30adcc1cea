package market

import "context"

// Source 提供历史K线。拉取与缓存机制由具体网关负责。
type Source interface {
	Name() string

	FetchHistory(ctx context.Context, symbol, interval string, limit int) ([]Candle, error)

	LatestPrice(ctx context.Context, symbol string) (float64, error)
}

// NewsSource 提供按时间窗口检索个股新闻的能力。
// 未配置新闻源时组装方会直接传 nil，这是合法的降级状态。
type NewsSource interface {
	Name() string

	FetchNews(ctx context.Context, symbol string, days int) ([]NewsItem, error)
}
