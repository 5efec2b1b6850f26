// Package command 把交易意图编译为有序指令批次。
//
// 编译是纯本地过程：全部校验与 id 解析基于 State Cache 的当前快照完成，
// 不发起任何网络请求。任一意图校验失败则整批失败，不产生链上动作。
package command

import (
	"encoding/json"

	"github.com/shopspring/decimal"

	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/internal/statecache"
)

// Instruction 单条协议指令。批次内顺序即执行顺序。
type Instruction struct {
	Program string          `json:"program"`
	Kind    string          `json:"kind"`
	Data    json.RawMessage `json:"data"`
}

const (
	programExchange      = "exchange"
	programComputeBudget = "compute-budget"
)

func mustInstruction(program, kind string, payload any) Instruction {
	data, err := json.Marshal(payload)
	if err != nil {
		// payload 均为本包内定义的可序列化结构
		panic(err)
	}
	return Instruction{Program: program, Kind: kind, Data: data}
}

// PlaceOrder 下单意图
type PlaceOrder struct {
	Market            domain.Market    `json:"-"`
	Amount            decimal.Decimal  `json:"amount"`
	Price             decimal.Decimal  `json:"price"`
	OrderType         domain.OrderType `json:"orderType"`
	UserOrderID       uint8            `json:"userOrderId,omitempty"`
	PostOnly          bool             `json:"postOnly,omitempty"`
	ReduceOnly        bool             `json:"reduceOnly,omitempty"`
	ImmediateOrCancel bool             `json:"immediateOrCancel,omitempty"`
	OraclePriceOffset *decimal.Decimal `json:"oraclePriceOffset,omitempty"`
	MaxTS             int64            `json:"maxTs,omitempty"`
}

// ModifyOrder 改单意图。OrderID 与 UserOrderID 二选一定位目标订单。
// nil 字段表示保留原值；市场不可变。
type ModifyOrder struct {
	OrderID     uint32 `json:"orderId,omitempty"`
	UserOrderID uint8  `json:"userOrderId,omitempty"`

	Amount            *decimal.Decimal `json:"amount,omitempty"`
	Price             *decimal.Decimal `json:"price,omitempty"`
	ReduceOnly        *bool            `json:"reduceOnly,omitempty"`
	PostOnly          *bool            `json:"postOnly,omitempty"`
	ImmediateOrCancel *bool            `json:"immediateOrCancel,omitempty"`
	OraclePriceOffset *decimal.Decimal `json:"oraclePriceOffset,omitempty"`
	MaxTS             *int64           `json:"maxTs,omitempty"`
}

// CancelOrders 撤单意图。解释优先级（高到低）：
// Market（按市场全撤）> UserIDs > OrderIDs > 全部撤销。
// 显式给出的空 id 列表是错误而不是空操作。
type CancelOrders struct {
	Market   *domain.Market `json:"market,omitempty"`
	UserIDs  []uint8        `json:"userIds,omitempty"`
	OrderIDs []uint32       `json:"ids,omitempty"`
}

// Swap 兑换意图
type Swap struct {
	MarketIn  uint16          `json:"marketIn"`
	MarketOut uint16          `json:"marketOut"`
	AmountIn  decimal.Decimal `json:"amountIn"`
	// MinAmountOut 由路由报价加滑点保护得出
	MinAmountOut decimal.Decimal `json:"minAmountOut"`
	Route        json.RawMessage `json:"route,omitempty"`
}

// Builder 指令编译器
type Builder struct {
	cache *statecache.Cache
}

// NewBuilder 创建编译器
func NewBuilder(cache *statecache.Cache) *Builder {
	return &Builder{cache: cache}
}

// ComputeBudget 计算预算指令（批次首部）
func ComputeBudget(unitLimit uint32, unitPrice uint64) []Instruction {
	return []Instruction{
		mustInstruction(programComputeBudget, "setComputeUnitLimit", map[string]uint32{"units": unitLimit}),
		mustInstruction(programComputeBudget, "setComputeUnitPrice", map[string]uint64{"microLamports": unitPrice}),
	}
}

type placePayload struct {
	SubAccountID uint16 `json:"subAccountId"`
	domain.Market
	PlaceOrder
}

// BuildPlace 编译一组下单意图。
// 校验：数量满足市场步长与最小量、价格满足价格步长、
// userOrderId 在 1..255 且批次内不重复、且不与该子账户已有
// open 订单冲突（0 = 未设置，不查重）。
func (b *Builder) BuildPlace(subAccountID uint16, orders []PlaceOrder) ([]Instruction, error) {
	seen := make(map[uint8]bool, len(orders))
	out := make([]Instruction, 0, len(orders))
	for i, o := range orders {
		meta, err := b.cache.GetMarket(o.Market)
		if err != nil {
			return nil, err
		}
		if err := meta.ValidOrderAmount(o.Amount); err != nil {
			kind := InvalidStepSize
			if o.Amount.Abs().LessThan(meta.MinOrderSize) {
				kind = BelowMinimum
			}
			return nil, validationErr(kind, "order %d: %v", i, err)
		}
		if err := meta.ValidOrderPrice(o.Price); err != nil {
			return nil, validationErr(InvalidStepSize, "order %d: %v", i, err)
		}
		if o.UserOrderID > 0 {
			if seen[o.UserOrderID] {
				return nil, validationErr(DuplicateUserOrderID, "user order id %d", o.UserOrderID)
			}
			open, err := b.cache.FindOrderByUserID(subAccountID, o.UserOrderID)
			if err != nil {
				return nil, err
			}
			if open != nil {
				return nil, validationErr(DuplicateUserOrderID, "user order id %d is already open", o.UserOrderID)
			}
			seen[o.UserOrderID] = true
		}
		out = append(out, mustInstruction(programExchange, "placeOrder", placePayload{
			SubAccountID: subAccountID,
			Market:       o.Market,
			PlaceOrder:   o,
		}))
	}
	return out, nil
}

type modifyPayload struct {
	SubAccountID uint16 `json:"subAccountId"`
	OrderID      uint32 `json:"orderId"`
	domain.Market
	ModifyOrder
}

// resolveTarget 通过 cache 把 modify 意图定位到一笔 open 订单
func (b *Builder) resolveTarget(subAccountID uint16, m ModifyOrder) (*domain.Order, error) {
	switch {
	case m.OrderID > 0 && m.UserOrderID > 0:
		return nil, validationErr(InvalidModification, "orderId and userOrderId are mutually exclusive")
	case m.OrderID > 0:
		return b.cache.FindOrderByID(subAccountID, m.OrderID)
	case m.UserOrderID > 0:
		return b.cache.FindOrderByUserID(subAccountID, m.UserOrderID)
	default:
		return nil, validationErr(InvalidModification, "orderId or userOrderId required")
	}
}

// BuildModify 编译一组改单意图。
// 批次是同质的：首个意图决定整批按 orderId 还是 userOrderId 定位，
// 混用是错误。每个目标订单必须存在于当前快照，否则 OrderNotFound；
// 修改保留原订单的市场与类型（市场不可变）。
func (b *Builder) BuildModify(subAccountID uint16, mods []ModifyOrder) ([]Instruction, error) {
	out := make([]Instruction, 0, len(mods))
	var byUserID bool
	for i, m := range mods {
		target, err := b.resolveTarget(subAccountID, m)
		if err != nil {
			return nil, err
		}
		if target == nil {
			return nil, validationErr(OrderNotFound, "modify %d: orderId=%d userOrderId=%d", i, m.OrderID, m.UserOrderID)
		}
		if i == 0 {
			byUserID = m.UserOrderID > 0
		} else if (m.UserOrderID > 0) != byUserID {
			return nil, validationErr(InvalidModification, "modify %d: batch mixes orderId and userOrderId targeting", i)
		}
		meta, err := b.cache.GetMarket(target.Market)
		if err != nil {
			return nil, err
		}
		if m.Amount != nil {
			if err := meta.ValidOrderAmount(*m.Amount); err != nil {
				return nil, validationErr(InvalidStepSize, "modify %d: %v", i, err)
			}
		}
		if m.Price != nil {
			if err := meta.ValidOrderPrice(*m.Price); err != nil {
				return nil, validationErr(InvalidStepSize, "modify %d: %v", i, err)
			}
		}
		out = append(out, mustInstruction(programExchange, "modifyOrder", modifyPayload{
			SubAccountID: subAccountID,
			OrderID:      target.OrderID,
			Market:       target.Market,
			ModifyOrder:  m,
		}))
	}
	return out, nil
}

type cancelPayload struct {
	SubAccountID uint16         `json:"subAccountId"`
	Market       *domain.Market `json:"market,omitempty"`
	UserIDs      []uint8        `json:"userIds,omitempty"`
	OrderIDs     []uint32       `json:"ids,omitempty"`
	All          bool           `json:"all,omitempty"`
}

// BuildCancel 编译撤单意图
func (b *Builder) BuildCancel(subAccountID uint16, c CancelOrders) ([]Instruction, error) {
	payload := cancelPayload{SubAccountID: subAccountID}
	switch {
	case c.Market != nil:
		if _, err := b.cache.GetMarket(*c.Market); err != nil {
			return nil, err
		}
		payload.Market = c.Market
	case c.UserIDs != nil:
		if len(c.UserIDs) == 0 {
			return nil, validationErr(EmptyIDs, "userIds is empty")
		}
		for _, id := range c.UserIDs {
			if id == 0 {
				return nil, validationErr(InvalidUserOrderID, "user order id 0")
			}
		}
		payload.UserIDs = c.UserIDs
	case c.OrderIDs != nil:
		if len(c.OrderIDs) == 0 {
			return nil, validationErr(EmptyIDs, "ids is empty")
		}
		payload.OrderIDs = c.OrderIDs
	default:
		payload.All = true
	}
	return []Instruction{mustInstruction(programExchange, "cancelOrders", payload)}, nil
}

// BuildCancelAndPlace 原子撤单+下单：撤单指令先于下单指令，
// 同一批次内提交（要么全部执行，要么全部不执行）。
func (b *Builder) BuildCancelAndPlace(subAccountID uint16, c CancelOrders, orders []PlaceOrder) ([]Instruction, error) {
	cancels, err := b.BuildCancel(subAccountID, c)
	if err != nil {
		return nil, err
	}
	places, err := b.BuildPlace(subAccountID, orders)
	if err != nil {
		return nil, err
	}
	return append(cancels, places...), nil
}

type swapPayload struct {
	SubAccountID uint16 `json:"subAccountId"`
	Swap
}

// BuildSwap 编译兑换意图
func (b *Builder) BuildSwap(subAccountID uint16, s Swap) ([]Instruction, error) {
	if !s.AmountIn.IsPositive() {
		return nil, validationErr(BelowMinimum, "swap amount %s", s.AmountIn)
	}
	if s.MarketIn == s.MarketOut {
		return nil, validationErr(InvalidModification, "swap markets must differ")
	}
	return []Instruction{mustInstruction(programExchange, "swap", swapPayload{
		SubAccountID: subAccountID,
		Swap:         s,
	})}, nil
}
