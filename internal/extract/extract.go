// Package extract 事件抽取管线：已确认交易的程序日志 -> 按子账户归属的
// 类型化领域事件。
//
// 日志记录以 "Program data: <base64>" 形式出现，payload 是带 type 标签的
// JSON 文档。无法识别或解码失败的记录按跳过计数，不中断整笔交易的抽取；
// 空结果是合法结果（交易可能不涉及任何被跟踪的子账户）。
package extract

import (
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/internal/events"
	"github.com/driftgate/driftgate/internal/metrics"
	"github.com/driftgate/driftgate/pkg/logger"
)

const logPrefix = "Program data: "

// record 链上日志记录的外层结构。
// type 决定变体；user/maker/taker 为子账户地址，归属判定用。
type record struct {
	Type string `json:"type"`
	TS   uint64 `json:"ts"`
	User string `json:"user,omitempty"`

	// fill
	Maker        string           `json:"maker,omitempty"`
	Taker        string           `json:"taker,omitempty"`
	MakerOrderID uint32           `json:"makerOrderId,omitempty"`
	TakerOrderID uint32           `json:"takerOrderId,omitempty"`
	MakerFee     *decimal.Decimal `json:"makerFee,omitempty"`
	TakerFee     *decimal.Decimal `json:"takerFee,omitempty"`
	MakerSide    string           `json:"makerSide,omitempty"`
	FillAmount   decimal.Decimal  `json:"fillAmount,omitempty"`
	FillPrice    decimal.Decimal  `json:"fillPrice,omitempty"`
	OraclePrice  decimal.Decimal  `json:"oraclePrice,omitempty"`

	MarketIndex uint16 `json:"marketIndex,omitempty"`
	MarketKind  string `json:"marketType,omitempty"`

	// order lifecycle
	OrderID     uint32          `json:"orderId,omitempty"`
	UserOrderID uint8           `json:"userOrderId,omitempty"`
	Order       json.RawMessage `json:"order,omitempty"`
	Fee         decimal.Decimal `json:"fee,omitempty"`

	// funding
	FundingAmount decimal.Decimal `json:"fundingAmount,omitempty"`

	// swap
	AmountIn  decimal.Decimal `json:"amountIn,omitempty"`
	AmountOut decimal.Decimal `json:"amountOut,omitempty"`
	MarketIn  uint16          `json:"marketIn,omitempty"`
	MarketOut uint16          `json:"marketOut,omitempty"`
}

// TryParseLog 解析单条日志行；非事件行返回 (nil, false)。
// 带前缀但解码失败的行返回 (nil, true)，由调用方计数跳过。
func TryParseLog(line string) (*record, bool) {
	payload, ok := strings.CutPrefix(line, logPrefix)
	if !ok {
		return nil, false
	}
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, true
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil || rec.Type == "" {
		return nil, true
	}
	return &rec, true
}

// AccountResolver 把账户地址解析为被跟踪的子账户 id
type AccountResolver interface {
	SubAccountFor(pubkey string) (uint16, bool)
}

// Extractor 事件抽取器
type Extractor struct {
	resolver AccountResolver
	log      *logrus.Entry
}

// New 创建抽取器
func New(resolver AccountResolver) *Extractor {
	return &Extractor{
		resolver: resolver,
		log:      logger.Logger.WithField("component", "extract"),
	}
}

// Attributed 带归属的事件
type Attributed struct {
	SubAccountID uint16
	Event        events.AccountEvent
}

// FromTransaction 从已确认交易抽取事件。
// 结果保持日志顺序（TxIdx 单调）；解码失败的记录计数跳过；
// 不涉及被跟踪子账户的交易返回空切片，不是错误。
func (x *Extractor) FromTransaction(signature string, result *chain.TxResult) []Attributed {
	var out []Attributed
	txIdx := 0
	for _, line := range result.Logs {
		rec, isEvent := TryParseLog(line)
		if !isEvent {
			continue
		}
		idx := txIdx
		txIdx++
		if rec == nil {
			metrics.EventDecodeSkips.Add(1)
			x.log.Debugf("跳过无法解码的事件记录: %s idx=%d", shortSig(signature), idx)
			continue
		}
		attributed, err := x.classify(rec, signature, idx)
		if err != nil {
			metrics.EventDecodeSkips.Add(1)
			x.log.WithError(err).Debugf("跳过无法分类的事件: type=%s", rec.Type)
			continue
		}
		out = append(out, attributed...)
	}
	metrics.EventsExtracted.Add(int64(len(out)))
	return out
}

// FromTransactionFor 按子账户过滤的抽取：只保留归属于 subAccountID 的事件。
// 一笔交易可能批量操作多个子账户，查询方只能看到自己那部分。
func (x *Extractor) FromTransactionFor(signature string, result *chain.TxResult, subAccountID uint16) []Attributed {
	all := x.FromTransaction(signature, result)
	out := make([]Attributed, 0, len(all))
	for _, a := range all {
		if a.SubAccountID == subAccountID {
			out = append(out, a)
		}
	}
	return out
}

// classify 把一条记录分类为零或多个归属事件。
// fill 记录可能同时归属 maker 与 taker 两个子账户。
func (x *Extractor) classify(rec *record, signature string, txIdx int) ([]Attributed, error) {
	base := events.AccountEvent{
		Signature: signature,
		TS:        rec.TS,
		TxIdx:     txIdx,
	}

	if rec.Type == string(events.KindFill) {
		return x.classifyFill(rec, base)
	}

	id, tracked := x.resolver.SubAccountFor(rec.User)
	if !tracked {
		return nil, nil
	}

	switch events.Kind(rec.Type) {
	case events.KindOrderCreate:
		var order domain.Order
		if err := json.Unmarshal(rec.Order, &order); err != nil {
			return nil, err
		}
		base.Kind = events.KindOrderCreate
		base.OrderCreate = &events.OrderCreate{Order: order}
	case events.KindOrderCancel:
		base.Kind = events.KindOrderCancel
		base.OrderCancel = &events.OrderCancel{OrderID: rec.OrderID}
	case events.KindOrderCancelMissing:
		base.Kind = events.KindOrderCancelMissing
		base.OrderCancelMissing = &events.OrderCancelMissing{
			UserOrderID: rec.UserOrderID,
			OrderID:     rec.OrderID,
		}
	case events.KindOrderExpire:
		base.Kind = events.KindOrderExpire
		base.OrderExpire = &events.OrderExpire{OrderID: rec.OrderID, Fee: rec.Fee}
	case events.KindFundingPayment:
		base.Kind = events.KindFundingPayment
		base.FundingPayment = &events.FundingPayment{
			Amount:      rec.FundingAmount,
			MarketIndex: rec.MarketIndex,
		}
	case events.KindSwap:
		base.Kind = events.KindSwap
		base.Swap = &events.Swap{
			AmountIn:  rec.AmountIn,
			AmountOut: rec.AmountOut,
			MarketIn:  rec.MarketIn,
			MarketOut: rec.MarketOut,
		}
	default:
		// 未知变体：协议升级期间的新事件，跳过
		return nil, errUnknownKind(rec.Type)
	}
	return []Attributed{{SubAccountID: id, Event: base}}, nil
}

// classifyFill 成交记录的双边归属：
// maker 与 taker 都可能是被跟踪的子账户，各生成一条视角正确的事件。
func (x *Extractor) classifyFill(rec *record, base events.AccountEvent) ([]Attributed, error) {
	kind, err := domain.ParseMarketKind(rec.MarketKind)
	if err != nil {
		return nil, err
	}
	makerSide := domain.Side(rec.MakerSide)
	takerSide := domain.SideBuy
	if makerSide == domain.SideBuy {
		takerSide = domain.SideSell
	}

	var out []Attributed
	if id, ok := x.resolver.SubAccountFor(rec.Maker); ok && rec.Maker != "" {
		ev := base
		ev.Kind = events.KindFill
		ev.Fill = &events.Fill{
			Side:         makerSide,
			Fee:          feeOrZero(rec.MakerFee),
			Amount:       rec.FillAmount,
			Price:        rec.FillPrice,
			OraclePrice:  rec.OraclePrice,
			OrderID:      rec.MakerOrderID,
			MarketIndex:  rec.MarketIndex,
			MarketKind:   kind,
			Maker:        rec.Maker,
			MakerOrderID: rec.MakerOrderID,
			MakerFee:     rec.MakerFee,
			Taker:        rec.Taker,
			TakerOrderID: rec.TakerOrderID,
			TakerFee:     rec.TakerFee,
		}
		out = append(out, Attributed{SubAccountID: id, Event: ev})
	}
	if id, ok := x.resolver.SubAccountFor(rec.Taker); ok && rec.Taker != "" {
		ev := base
		ev.Kind = events.KindFill
		ev.Fill = &events.Fill{
			Side:         takerSide,
			Fee:          feeOrZero(rec.TakerFee),
			Amount:       rec.FillAmount,
			Price:        rec.FillPrice,
			OraclePrice:  rec.OraclePrice,
			OrderID:      rec.TakerOrderID,
			MarketIndex:  rec.MarketIndex,
			MarketKind:   kind,
			Maker:        rec.Maker,
			MakerOrderID: rec.MakerOrderID,
			MakerFee:     rec.MakerFee,
			Taker:        rec.Taker,
			TakerOrderID: rec.TakerOrderID,
			TakerFee:     rec.TakerFee,
		}
		out = append(out, Attributed{SubAccountID: id, Event: ev})
	}
	return out, nil
}

func feeOrZero(fee *decimal.Decimal) decimal.Decimal {
	if fee == nil {
		return decimal.Zero
	}
	return *fee
}

type errUnknownKind string

func (e errUnknownKind) Error() string { return "unknown event type: " + string(e) }

func shortSig(sig string) string {
	if len(sig) > 16 {
		return sig[:16]
	}
	return sig
}
