package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Side 订单方向，由带符号数量推导（正 = buy，负 = sell）
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType 协议支持的订单类型
type OrderType string

const (
	OrderTypeLimit         OrderType = "limit"
	OrderTypeMarket        OrderType = "market"
	OrderTypeOracle        OrderType = "oracle"
	OrderTypeTriggerLimit  OrderType = "triggerLimit"
	OrderTypeTriggerMarket OrderType = "triggerMarket"
)

// ParseOrderType 解析订单类型字符串
func ParseOrderType(s string) (OrderType, error) {
	switch OrderType(s) {
	case OrderTypeLimit, OrderTypeMarket, OrderTypeOracle, OrderTypeTriggerLimit, OrderTypeTriggerMarket:
		return OrderType(s), nil
	default:
		return "", fmt.Errorf("unknown order type: %s", s)
	}
}

// Order 订单领域模型。
// 一个订单属于且只属于一个 (sub-account, market)。
// Amount 带符号：正数买入，负数卖出；Filled 为已成交量（无符号累计）。
// UserOrderID 为客户端自定义 id（1..255，同一子账户的 open 订单内唯一，0 表示未设置）。
type Order struct {
	OrderID           uint32          `json:"orderId"`
	UserOrderID       uint8           `json:"userOrderId"`
	Market            Market          `json:"market"`
	OrderType         OrderType       `json:"orderType"`
	Amount            decimal.Decimal `json:"amount"`
	Filled            decimal.Decimal `json:"filled"`
	Price             decimal.Decimal `json:"price"`
	PostOnly          bool            `json:"postOnly"`
	ReduceOnly        bool            `json:"reduceOnly"`
	ImmediateOrCancel bool            `json:"immediateOrCancel"`
	// OraclePriceOffset 设置时订单限价 = oracle 价格 + offset（此时 Price 为 0）
	OraclePriceOffset *decimal.Decimal `json:"oraclePriceOffset,omitempty"`
	// MaxTS 订单过期时间戳（unix 秒，0 表示不过期）
	MaxTS int64 `json:"maxTs,omitempty"`
	// Slot 订单上链时的 slot
	Slot uint64 `json:"slot,omitempty"`
}

// Side 返回订单方向
func (o *Order) Side() Side {
	if o.Amount.IsNegative() {
		return SideSell
	}
	return SideBuy
}

// Remaining 返回未成交数量（绝对值）
func (o *Order) Remaining() decimal.Decimal {
	return o.Amount.Abs().Sub(o.Filled)
}
