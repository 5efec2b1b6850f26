package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// MarketKind 市场类型：现货或永续合约
type MarketKind string

const (
	MarketSpot MarketKind = "spot"
	MarketPerp MarketKind = "perp"
)

// ParseMarketKind 解析市场类型字符串
func ParseMarketKind(s string) (MarketKind, error) {
	switch s {
	case string(MarketSpot):
		return MarketSpot, nil
	case string(MarketPerp):
		return MarketPerp, nil
	default:
		return "", fmt.Errorf("unknown market type: %s", s)
	}
}

// Market 以 (index, kind) 唯一标识一个可交易市场
type Market struct {
	Index uint16     `json:"marketIndex"`
	Kind  MarketKind `json:"marketType"`
}

func NewMarket(index uint16, kind MarketKind) Market {
	return Market{Index: index, Kind: kind}
}

func SpotMarket(index uint16) Market { return Market{Index: index, Kind: MarketSpot} }
func PerpMarket(index uint16) Market { return Market{Index: index, Kind: MarketPerp} }

func (m Market) String() string {
	return fmt.Sprintf("%s-%d", m.Kind, m.Index)
}

// MarketMeta 市场元数据：启动时加载的不可变步长参数 + 可变风险参数。
// 步长（PriceStep/AmountStep/MinOrderSize）在市场生命周期内不变；
// 保证金率与持仓上限由链上参数更新刷新（State Cache 负责）。
type MarketMeta struct {
	Market
	Symbol       string          `json:"symbol"`
	PriceStep    decimal.Decimal `json:"priceStep"`
	AmountStep   decimal.Decimal `json:"amountStep"`
	MinOrderSize decimal.Decimal `json:"minOrderSize"`

	// 永续市场独有的风险参数（spot 市场为 nil）
	InitialMarginRatio     *decimal.Decimal `json:"initialMarginRatio,omitempty"`
	MaintenanceMarginRatio *decimal.Decimal `json:"maintenanceMarginRatio,omitempty"`
	OpenInterest           uint64           `json:"openInterest,omitempty"`
	MaxOpenInterest        uint64           `json:"maxOpenInterest,omitempty"`
}

// ValidOrderAmount 校验下单数量是否满足市场步长与最小下单量。
// amount 是带符号数量（负数为卖），校验对绝对值进行。
func (m *MarketMeta) ValidOrderAmount(amount decimal.Decimal) error {
	abs := amount.Abs()
	if abs.LessThan(m.MinOrderSize) {
		return fmt.Errorf("amount %s below market minimum %s", abs, m.MinOrderSize)
	}
	if !m.AmountStep.IsZero() && !abs.Mod(m.AmountStep).IsZero() {
		return fmt.Errorf("amount %s is not a multiple of step %s", abs, m.AmountStep)
	}
	return nil
}

// ValidOrderPrice 校验价格是否满足市场价格步长。
// oracle offset 订单的 price 可以为 0。
func (m *MarketMeta) ValidOrderPrice(price decimal.Decimal) error {
	if price.IsNegative() {
		return fmt.Errorf("price %s is negative", price)
	}
	if !m.PriceStep.IsZero() && !price.Mod(m.PriceStep).IsZero() {
		return fmt.Errorf("price %s is not a multiple of step %s", price, m.PriceStep)
	}
	return nil
}

// MarginInfo 子账户保证金信息
type MarginInfo struct {
	Initial     decimal.Decimal `json:"initial"`
	Maintenance decimal.Decimal `json:"maintenance"`
	Leverage    decimal.Decimal `json:"leverage"`
	// 抵押品总额与可用额（quote 计价）
	TotalCollateral decimal.Decimal `json:"totalCollateral"`
	FreeCollateral  decimal.Decimal `json:"freeCollateral"`
}
