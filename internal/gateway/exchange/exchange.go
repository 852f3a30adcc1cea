// Package exchange defines the broker abstraction the agent executes
// against, so paper trading and live brokers are interchangeable.
package exchange

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrBrokerRejected 表示券商明确拒单（资金不足、标的不可交易等），重试无意义。
	ErrBrokerRejected = errors.New("broker rejected order")
	// ErrBrokerUnavailable 表示券商暂时不可达，属可重试故障。
	ErrBrokerUnavailable = errors.New("broker unavailable")
)

// Side 是订单方向。
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderRequest 是一笔待执行的市价单。LimitPrice 仅作估值参考。
type OrderRequest struct {
	TradeID    int64
	Symbol     string
	Side       Side
	Quantity   int64
	LimitPrice float64
}

// OrderAck 是券商受理成交后的回执。
type OrderAck struct {
	OrderRef  string
	FilledQty int64
	AvgPrice  float64
	PlacedAt  time.Time
}

// Account 是账户资金快照。
type Account struct {
	Cash   float64
	Equity float64
}

// Position 是账户中单个标的的持仓。
type Position struct {
	Symbol      string
	Quantity    int64
	AvgPrice    float64
	MarketValue float64
}

// Broker 是执行适配器契约：下单、撤单、查资金、查持仓。
// 实现必须在 ctx 截止时间内返回，超时按 ErrBrokerUnavailable 处理。
type Broker interface {
	Name() string

	Account(ctx context.Context) (Account, error)

	Positions(ctx context.Context) ([]Position, error)

	PlaceOrder(ctx context.Context, req OrderRequest) (OrderAck, error)

	// CancelOrder 撤销 orderRef 对应的未完成订单。已成交订单按拒绝处理。
	CancelOrder(ctx context.Context, orderRef string) error
}
