// Package events 定义网关对外的领域事件模型。
//
// 链上程序日志是松散类型的记录流，抽取管线（internal/extract）把它们
// 分类成这里的封闭变体集合；事件一经产生不可变，投递后即丢弃（不持久化）。
package events

import (
	"github.com/shopspring/decimal"

	"github.com/driftgate/driftgate/internal/domain"
)

// Channel WS 推送通道标识
type Channel string

const (
	ChannelOrders  Channel = "orders"
	ChannelFills   Channel = "fills"
	ChannelFunding Channel = "funding"
	ChannelSwap    Channel = "swap"
)

// Kind 事件变体标签（封闭集合）
type Kind string

const (
	KindFill               Kind = "fill"
	KindOrderCreate        Kind = "orderCreate"
	KindOrderCancel        Kind = "orderCancel"
	KindOrderCancelMissing Kind = "orderCancelMissing"
	KindOrderExpire        Kind = "orderExpire"
	KindFundingPayment     Kind = "fundingPayment"
	KindSwap               Kind = "swap"
)

// AccountEvent 归属于单个子账户的领域事件。
// Signature/TS/TxIdx 三元组保证事件可溯源且保持交易内顺序；
// 同一 Kind 只会有对应的 payload 指针非空。
type AccountEvent struct {
	Kind      Kind   `json:"kind"`
	Signature string `json:"signature"`
	TS        uint64 `json:"ts"`
	// TxIdx 事件在交易日志中的序号，用于保持交易内顺序
	// （modify 表现为同 orderId 的 cancel + create 紧邻对）
	TxIdx int `json:"txIdx"`

	Fill               *Fill               `json:"fill,omitempty"`
	OrderCreate        *OrderCreate        `json:"orderCreate,omitempty"`
	OrderCancel        *OrderCancel        `json:"orderCancel,omitempty"`
	OrderCancelMissing *OrderCancelMissing `json:"orderCancelMissing,omitempty"`
	OrderExpire        *OrderExpire        `json:"orderExpire,omitempty"`
	FundingPayment     *FundingPayment     `json:"fundingPayment,omitempty"`
	Swap               *Swap               `json:"swap,omitempty"`
}

// Channel 返回事件所属的推送通道
func (e *AccountEvent) Channel() Channel {
	switch e.Kind {
	case KindFill:
		return ChannelFills
	case KindFundingPayment:
		return ChannelFunding
	case KindSwap:
		return ChannelSwap
	default:
		// 其余都是订单生命周期事件
		return ChannelOrders
	}
}

// Fill 成交事件。maker/taker 字段携带对手方信息（可选）。
type Fill struct {
	Side         domain.Side       `json:"side"`
	Fee          decimal.Decimal   `json:"fee"`
	Amount       decimal.Decimal   `json:"amount"`
	Price        decimal.Decimal   `json:"price"`
	OraclePrice  decimal.Decimal   `json:"oraclePrice"`
	OrderID      uint32            `json:"orderId"`
	MarketIndex  uint16            `json:"marketIndex"`
	MarketKind   domain.MarketKind `json:"marketType"`
	Maker        string            `json:"maker,omitempty"`
	MakerOrderID uint32            `json:"makerOrderId,omitempty"`
	MakerFee     *decimal.Decimal  `json:"makerFee,omitempty"`
	Taker        string            `json:"taker,omitempty"`
	TakerOrderID uint32            `json:"takerOrderId,omitempty"`
	TakerFee     *decimal.Decimal  `json:"takerFee,omitempty"`
}

// OrderCreate 订单创建事件（place 或 modify 的后半段）
type OrderCreate struct {
	Order domain.Order `json:"order"`
}

// OrderCancel 订单取消事件（cancel 或 modify 的前半段）
type OrderCancel struct {
	OrderID uint32 `json:"orderId"`
}

// OrderCancelMissing 按 id 取消但订单不存在
type OrderCancelMissing struct {
	UserOrderID uint8  `json:"userOrderId"`
	OrderID     uint32 `json:"orderId"`
}

// OrderExpire 订单到期事件
type OrderExpire struct {
	OrderID uint32          `json:"orderId"`
	Fee     decimal.Decimal `json:"fee"`
}

// FundingPayment 资金费结算事件
type FundingPayment struct {
	Amount      decimal.Decimal `json:"amount"`
	MarketIndex uint16          `json:"marketIndex"`
}

// Swap 兑换事件
type Swap struct {
	AmountIn  decimal.Decimal `json:"amountIn"`
	AmountOut decimal.Decimal `json:"amountOut"`
	MarketIn  uint16          `json:"marketIn"`
	MarketOut uint16          `json:"marketOut"`
}
