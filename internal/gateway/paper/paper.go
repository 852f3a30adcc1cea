// Package paper implements an in-memory broker for simulated execution.
package paper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"finagent/internal/gateway/exchange"
	"finagent/internal/logger"
)

// DefaultStartingCash 是模拟账户的默认初始资金。
const DefaultStartingCash = 10000

type holding struct {
	quantity  int64
	avgPrice  float64
	lastPrice float64
}

// Broker 以内存账本模拟成交，填单价取请求中的参考价。
type Broker struct {
	mu       sync.Mutex
	cash     float64
	holdings map[string]*holding
	fills    map[string]struct{}
}

func New(startingCash float64) *Broker {
	if startingCash <= 0 {
		startingCash = DefaultStartingCash
	}
	return &Broker{
		cash:     startingCash,
		holdings: make(map[string]*holding),
		fills:    make(map[string]struct{}),
	}
}

func (b *Broker) Name() string { return "paper" }

func (b *Broker) Account(ctx context.Context) (exchange.Account, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	equity := b.cash
	for _, h := range b.holdings {
		equity += float64(h.quantity) * h.lastPrice
	}
	return exchange.Account{Cash: b.cash, Equity: equity}, nil
}

func (b *Broker) Positions(ctx context.Context) ([]exchange.Position, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]exchange.Position, 0, len(b.holdings))
	for symbol, h := range b.holdings {
		if h.quantity <= 0 {
			continue
		}
		out = append(out, exchange.Position{
			Symbol:      symbol,
			Quantity:    h.quantity,
			AvgPrice:    h.avgPrice,
			MarketValue: float64(h.quantity) * h.lastPrice,
		})
	}
	return out, nil
}

// PlaceOrder 立即以 LimitPrice 全量成交。资金或持仓不足时拒单。
func (b *Broker) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (exchange.OrderAck, error) {
	if req.Quantity <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("quantity %d: %w", req.Quantity, exchange.ErrBrokerRejected)
	}
	if req.LimitPrice <= 0 {
		return exchange.OrderAck{}, fmt.Errorf("no fill price for %s: %w", req.Symbol, exchange.ErrBrokerRejected)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cost := req.LimitPrice * float64(req.Quantity)
	h := b.holdings[req.Symbol]

	switch req.Side {
	case exchange.SideBuy:
		if cost > b.cash {
			return exchange.OrderAck{}, fmt.Errorf("insufficient cash %.2f for %.2f: %w", b.cash, cost, exchange.ErrBrokerRejected)
		}
		if h == nil {
			h = &holding{}
			b.holdings[req.Symbol] = h
		}
		total := h.avgPrice*float64(h.quantity) + cost
		h.quantity += req.Quantity
		h.avgPrice = total / float64(h.quantity)
		h.lastPrice = req.LimitPrice
		b.cash -= cost
	case exchange.SideSell:
		if h == nil || h.quantity < req.Quantity {
			return exchange.OrderAck{}, fmt.Errorf("insufficient %s shares: %w", req.Symbol, exchange.ErrBrokerRejected)
		}
		h.quantity -= req.Quantity
		h.lastPrice = req.LimitPrice
		b.cash += cost
		if h.quantity == 0 {
			delete(b.holdings, req.Symbol)
		}
	default:
		return exchange.OrderAck{}, fmt.Errorf("side %q: %w", req.Side, exchange.ErrBrokerRejected)
	}

	ack := exchange.OrderAck{
		OrderRef:  "paper-" + uuid.NewString(),
		FilledQty: req.Quantity,
		AvgPrice:  req.LimitPrice,
		PlacedAt:  time.Now(),
	}
	b.fills[ack.OrderRef] = struct{}{}
	logger.Infof("paper fill %s %s x%d @ %.4f ref=%s", req.Side, req.Symbol, req.Quantity, req.LimitPrice, ack.OrderRef)
	return ack, nil
}

// CancelOrder 拒绝一切撤单：纸面成交是即时的，回执对应的订单都已成交。
func (b *Broker) CancelOrder(ctx context.Context, orderRef string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.fills[orderRef]; ok {
		return fmt.Errorf("order %s already filled: %w", orderRef, exchange.ErrBrokerRejected)
	}
	return fmt.Errorf("unknown order %s: %w", orderRef, exchange.ErrBrokerRejected)
}

// MarkPrice 更新估值用的最新价。
func (b *Broker) MarkPrice(symbol string, price float64) {
	if price <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if h, ok := b.holdings[symbol]; ok {
		h.lastPrice = price
	}
}
