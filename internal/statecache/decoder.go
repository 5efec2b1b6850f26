package statecache

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/driftgate/driftgate/internal/domain"
)

// JSONDecoder 账户数据的 JSON 编码解码器。
// 链上账户以固定 schema 的 JSON 文档存储，字段缺失按零值处理。
type JSONDecoder struct{}

type rawOrder struct {
	OrderID           uint32           `json:"orderId"`
	UserOrderID       uint8            `json:"userOrderId"`
	MarketIndex       uint16           `json:"marketIndex"`
	MarketKind        string           `json:"marketType"`
	OrderType         string           `json:"orderType"`
	Amount            decimal.Decimal  `json:"amount"`
	Filled            decimal.Decimal  `json:"filled"`
	Price             decimal.Decimal  `json:"price"`
	PostOnly          bool             `json:"postOnly"`
	ReduceOnly        bool             `json:"reduceOnly"`
	ImmediateOrCancel bool             `json:"immediateOrCancel"`
	OraclePriceOffset *decimal.Decimal `json:"oraclePriceOffset,omitempty"`
	MaxTS             int64            `json:"maxTs"`
	Slot              uint64           `json:"slot"`
}

type rawSubAccount struct {
	Orders []rawOrder            `json:"orders"`
	Spot   []domain.SpotPosition `json:"spotPositions"`
	Perp   []domain.PerpPosition `json:"perpPositions"`
	Margin domain.MarginInfo     `json:"margin"`
}

type rawMarket struct {
	Symbol            string          `json:"symbol"`
	MarketIndex       uint16          `json:"marketIndex"`
	PriceStep         decimal.Decimal `json:"priceStep"`
	AmountStep        decimal.Decimal `json:"amountStep"`
	MinOrderSize      decimal.Decimal `json:"minOrderSize"`
	InitialMargin     decimal.Decimal `json:"initialMarginRatio"`
	MaintenanceMargin decimal.Decimal `json:"maintenanceMarginRatio"`
	OpenInterest      uint64          `json:"openInterest"`
	MaxOpenInterest   uint64          `json:"maxOpenInterest"`
}

// DecodeSubAccount 解析子账户账户数据
func (JSONDecoder) DecodeSubAccount(raw []byte) (*SubAccountState, error) {
	var doc rawSubAccount
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode sub account")
	}
	state := &SubAccountState{
		Spot:   doc.Spot,
		Perp:   doc.Perp,
		Margin: doc.Margin,
	}
	state.Orders = make([]domain.Order, 0, len(doc.Orders))
	for _, o := range doc.Orders {
		kind, err := domain.ParseMarketKind(o.MarketKind)
		if err != nil {
			return nil, errors.Wrapf(err, "order %d", o.OrderID)
		}
		ot, err := domain.ParseOrderType(o.OrderType)
		if err != nil {
			return nil, errors.Wrapf(err, "order %d", o.OrderID)
		}
		state.Orders = append(state.Orders, domain.Order{
			OrderID:           o.OrderID,
			UserOrderID:       o.UserOrderID,
			Market:            domain.Market{Index: o.MarketIndex, Kind: kind},
			OrderType:         ot,
			Amount:            o.Amount,
			Filled:            o.Filled,
			Price:             o.Price,
			PostOnly:          o.PostOnly,
			ReduceOnly:        o.ReduceOnly,
			ImmediateOrCancel: o.ImmediateOrCancel,
			OraclePriceOffset: o.OraclePriceOffset,
			MaxTS:             o.MaxTS,
			Slot:              o.Slot,
		})
	}
	return state, nil
}

// DecodeMarket 解析市场账户数据
func (JSONDecoder) DecodeMarket(raw []byte, kind domain.MarketKind) (*domain.MarketMeta, error) {
	var doc rawMarket
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decode market")
	}
	if doc.AmountStep.IsZero() {
		return nil, errors.New("decode market: missing amount step")
	}
	meta := &domain.MarketMeta{
		Market:          domain.Market{Index: doc.MarketIndex, Kind: kind},
		Symbol:          doc.Symbol,
		PriceStep:       doc.PriceStep,
		AmountStep:      doc.AmountStep,
		MinOrderSize:    doc.MinOrderSize,
		OpenInterest:    doc.OpenInterest,
		MaxOpenInterest: doc.MaxOpenInterest,
	}
	if !doc.InitialMargin.IsZero() {
		meta.InitialMarginRatio = &doc.InitialMargin
	}
	if !doc.MaintenanceMargin.IsZero() {
		meta.MaintenanceMarginRatio = &doc.MaintenanceMargin
	}
	return meta, nil
}
