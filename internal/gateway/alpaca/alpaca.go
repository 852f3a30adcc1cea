// Package alpaca implements the broker contract against the Alpaca
// trading API (paper or live endpoint, chosen by base URL).
package alpaca

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"finagent/internal/gateway/exchange"
	"finagent/internal/logger"
	"finagent/internal/pkg/circuit"
)

// Config 描述 Alpaca 接入参数。BaseURL 指向 paper-api 或 api 端点。
type Config struct {
	BaseURL   string        `mapstructure:"base_url"`
	KeyID     string        `mapstructure:"key_id"`
	SecretKey string        `mapstructure:"secret_key"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = "https://paper-api.alpaca.markets"
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	return c
}

// Broker 通过 REST 下单，连续故障时由熔断器短路请求。
type Broker struct {
	client  *resty.Client
	breaker *circuit.CircuitBreaker
}

func New(cfg Config) *Broker {
	final := cfg.withDefaults()
	client := resty.New().
		SetBaseURL(final.BaseURL).
		SetTimeout(final.Timeout).
		SetHeader("APCA-API-KEY-ID", final.KeyID).
		SetHeader("APCA-API-SECRET-KEY", final.SecretKey)
	return &Broker{
		client:  client,
		breaker: circuit.NewCircuitBreaker("alpaca", 5, 30*time.Second),
	}
}

func (b *Broker) Name() string { return "alpaca" }

type accountResp struct {
	Cash   string `json:"cash"`
	Equity string `json:"equity"`
}

func (b *Broker) Account(ctx context.Context) (exchange.Account, error) {
	var out accountResp
	if err := b.get(ctx, "/v2/account", &out); err != nil {
		return exchange.Account{}, err
	}
	return exchange.Account{
		Cash:   parseFloat(out.Cash),
		Equity: parseFloat(out.Equity),
	}, nil
}

type positionResp struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	AvgEntry    string `json:"avg_entry_price"`
	MarketValue string `json:"market_value"`
}

func (b *Broker) Positions(ctx context.Context) ([]exchange.Position, error) {
	var rows []positionResp
	if err := b.get(ctx, "/v2/positions", &rows); err != nil {
		return nil, err
	}
	out := make([]exchange.Position, 0, len(rows))
	for _, r := range rows {
		out = append(out, exchange.Position{
			Symbol:      r.Symbol,
			Quantity:    int64(parseFloat(r.Qty)),
			AvgPrice:    parseFloat(r.AvgEntry),
			MarketValue: parseFloat(r.MarketValue),
		})
	}
	return out, nil
}

type orderResp struct {
	ID             string `json:"id"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

func (b *Broker) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if !b.breaker.Allow() {
		return exchange.OrderAck{}, fmt.Errorf("circuit open: %w", exchange.ErrBrokerUnavailable)
	}
	body := map[string]any{
		"symbol":        req.Symbol,
		"qty":           strconv.FormatInt(req.Quantity, 10),
		"side":          string(req.Side),
		"type":          "market",
		"time_in_force": "day",
	}
	var out orderResp
	resp, err := b.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/v2/orders")
	if err != nil {
		b.breaker.RecordFailure()
		return exchange.OrderAck{}, fmt.Errorf("place order %s: %v: %w", req.Symbol, err, exchange.ErrBrokerUnavailable)
	}
	if resp.IsError() {
		if retryableStatus(resp.StatusCode()) {
			b.breaker.RecordFailure()
			return exchange.OrderAck{}, fmt.Errorf("place order %s: status=%d: %w", req.Symbol, resp.StatusCode(), exchange.ErrBrokerUnavailable)
		}
		b.breaker.RecordSuccess()
		return exchange.OrderAck{}, fmt.Errorf("place order %s: status=%d body=%s: %w", req.Symbol, resp.StatusCode(), resp.String(), exchange.ErrBrokerRejected)
	}
	b.breaker.RecordSuccess()

	ack := exchange.OrderAck{
		OrderRef:  out.ID,
		FilledQty: int64(parseFloat(out.FilledQty)),
		AvgPrice:  parseFloat(out.FilledAvgPrice),
		PlacedAt:  time.Now(),
	}
	if ack.FilledQty == 0 {
		// Market orders usually fill asynchronously; report the request size.
		ack.FilledQty = req.Quantity
	}
	logger.Infof("alpaca order accepted %s %s x%d ref=%s", req.Side, req.Symbol, req.Quantity, ack.OrderRef)
	return ack, nil
}

// CancelOrder 撤销未完成订单。已成交或未知订单由 Alpaca 以 4xx 拒绝。
func (b *Broker) CancelOrder(ctx context.Context, orderRef string) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("circuit open: %w", exchange.ErrBrokerUnavailable)
	}
	resp, err := b.client.R().SetContext(ctx).Delete("/v2/orders/" + orderRef)
	if err != nil {
		b.breaker.RecordFailure()
		return fmt.Errorf("cancel order %s: %v: %w", orderRef, err, exchange.ErrBrokerUnavailable)
	}
	if resp.IsError() {
		if retryableStatus(resp.StatusCode()) {
			b.breaker.RecordFailure()
			return fmt.Errorf("cancel order %s: status=%d: %w", orderRef, resp.StatusCode(), exchange.ErrBrokerUnavailable)
		}
		b.breaker.RecordSuccess()
		return fmt.Errorf("cancel order %s: status=%d: %w", orderRef, resp.StatusCode(), exchange.ErrBrokerRejected)
	}
	b.breaker.RecordSuccess()
	logger.Infof("alpaca order cancelled ref=%s", orderRef)
	return nil
}

func (b *Broker) get(ctx context.Context, path string, out any) error {
	if !b.breaker.Allow() {
		return fmt.Errorf("circuit open: %w", exchange.ErrBrokerUnavailable)
	}
	resp, err := b.client.R().SetContext(ctx).SetResult(out).Get(path)
	if err != nil {
		b.breaker.RecordFailure()
		return fmt.Errorf("GET %s: %v: %w", path, err, exchange.ErrBrokerUnavailable)
	}
	if resp.IsError() {
		if retryableStatus(resp.StatusCode()) {
			b.breaker.RecordFailure()
			return fmt.Errorf("GET %s: status=%d: %w", path, resp.StatusCode(), exchange.ErrBrokerUnavailable)
		}
		b.breaker.RecordSuccess()
		return fmt.Errorf("GET %s: status=%d: %w", path, resp.StatusCode(), exchange.ErrBrokerRejected)
	}
	b.breaker.RecordSuccess()
	return nil
}

func retryableStatus(status int) bool {
	return status == 429 || status >= 500
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}
