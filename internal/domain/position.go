package domain

import "github.com/shopspring/decimal"

// BalanceType 现货仓位余额类型
type BalanceType string

const (
	BalanceDeposit BalanceType = "deposit"
	BalanceBorrow  BalanceType = "borrow"
)

// SpotPosition 现货仓位：一个 (sub-account, market) 至多一条
type SpotPosition struct {
	MarketIndex uint16          `json:"marketIndex"`
	Amount      decimal.Decimal `json:"amount"`
	Type        BalanceType     `json:"type"`
}

// PerpPosition 永续仓位。
// Amount 带符号（正多负空）；由 fill 与 funding-payment 事件改变，
// 生命周期跨越多个订单。
type PerpPosition struct {
	MarketIndex  uint16          `json:"marketIndex"`
	Amount       decimal.Decimal `json:"amount"`
	AverageEntry decimal.Decimal `json:"averageEntry"`
	UnsettledPnl decimal.Decimal `json:"unsettledPnl"`
	// 下列扩展字段只在 positionInfo 查询时填充
	LiquidationPrice *decimal.Decimal `json:"liquidationPrice,omitempty"`
	UnrealizedPnl    *decimal.Decimal `json:"unrealizedPnl,omitempty"`
	OraclePrice      *decimal.Decimal `json:"oraclePrice,omitempty"`
}
