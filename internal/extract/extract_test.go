package extract

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/events"
)

// mapResolver 测试用地址表
type mapResolver map[string]uint16

func (m mapResolver) SubAccountFor(pubkey string) (uint16, bool) {
	id, ok := m[pubkey]
	return id, ok
}

func encodeRecord(t *testing.T, rec map[string]any) string {
	t.Helper()
	raw, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	return logPrefix + base64.StdEncoding.EncodeToString(raw)
}

func TestTryParseLog(t *testing.T) {
	// 非事件行
	if _, isEvent := TryParseLog("Program invoked: exchange"); isEvent {
		t.Fatal("plain log line misdetected as event")
	}
	// 带前缀但 base64 损坏
	if rec, isEvent := TryParseLog(logPrefix + "!!!not-base64"); !isEvent || rec != nil {
		t.Fatalf("corrupt payload should count as skipped event: rec=%v isEvent=%v", rec, isEvent)
	}
	// 合法记录
	line := encodeRecord(t, map[string]any{"type": "orderCancel", "user": "acc-1", "orderId": 9})
	rec, isEvent := TryParseLog(line)
	if !isEvent || rec == nil || rec.Type != "orderCancel" || rec.OrderID != 9 {
		t.Fatalf("unexpected parse result: %+v", rec)
	}
}

func TestExtract_FilterAndOrder(t *testing.T) {
	x := New(mapResolver{"acc-1": 0})
	result := &chain.TxResult{Logs: []string{
		"Program invoked: exchange",
		encodeRecord(t, map[string]any{"type": "orderCancel", "user": "acc-1", "orderId": 1, "ts": 100}),
		encodeRecord(t, map[string]any{"type": "orderCancel", "user": "someone-else", "orderId": 2}),
		encodeRecord(t, map[string]any{
			"type": "orderCreate", "user": "acc-1", "ts": 100,
			"order": map[string]any{"orderId": 3, "market": map[string]any{"marketIndex": 0, "marketType": "perp"}},
		}),
	}}

	out := x.FromTransaction("sig-1", result)
	if len(out) != 2 {
		t.Fatalf("expected 2 events for acc-1, got %d", len(out))
	}
	// 交易内顺序: cancel(txIdx 0) 先于 create(txIdx 2)
	if out[0].Event.Kind != events.KindOrderCancel || out[1].Event.Kind != events.KindOrderCreate {
		t.Fatalf("unexpected kinds: %s, %s", out[0].Event.Kind, out[1].Event.Kind)
	}
	if out[0].Event.TxIdx >= out[1].Event.TxIdx {
		t.Fatalf("txIdx must be monotonic: %d, %d", out[0].Event.TxIdx, out[1].Event.TxIdx)
	}
	if out[0].Event.Signature != "sig-1" || out[0].Event.TS != 100 {
		t.Fatalf("missing provenance: %+v", out[0].Event)
	}
}

func TestExtract_SkipsCorruptRecords(t *testing.T) {
	x := New(mapResolver{"acc-1": 0})
	result := &chain.TxResult{Logs: []string{
		logPrefix + "%%%%",
		encodeRecord(t, map[string]any{"type": "orderExpire", "user": "acc-1", "orderId": 5}),
	}}
	out := x.FromTransaction("sig-2", result)
	if len(out) != 1 || out[0].Event.Kind != events.KindOrderExpire {
		t.Fatalf("corrupt record must not stop extraction: %+v", out)
	}
}

func TestExtract_EmptyResultIsNotError(t *testing.T) {
	x := New(mapResolver{})
	out := x.FromTransaction("sig-3", &chain.TxResult{Logs: []string{
		encodeRecord(t, map[string]any{"type": "orderCancel", "user": "untracked", "orderId": 1}),
	}})
	if len(out) != 0 {
		t.Fatalf("events leaked for untracked account: %+v", out)
	}
}

func TestExtract_FillAttributesBothSides(t *testing.T) {
	x := New(mapResolver{"maker-acc": 1, "taker-acc": 2})
	result := &chain.TxResult{Logs: []string{
		encodeRecord(t, map[string]any{
			"type": "fill", "ts": 50,
			"maker": "maker-acc", "taker": "taker-acc",
			"makerOrderId": 11, "takerOrderId": 22,
			"makerSide":  "sell",
			"makerFee":   "-0.01", // maker 返佣为负
			"takerFee":   "0.05",
			"fillAmount": "1.5", "fillPrice": "20.00", "oraclePrice": "19.99",
			"marketIndex": 0, "marketType": "perp",
		}),
	}}

	out := x.FromTransaction("sig-4", result)
	if len(out) != 2 {
		t.Fatalf("fill must attribute to both tracked sides, got %d", len(out))
	}

	byAccount := map[uint16]*events.Fill{}
	for _, a := range out {
		if a.Event.Kind != events.KindFill || a.Event.Fill == nil {
			t.Fatalf("unexpected event: %+v", a.Event)
		}
		byAccount[a.SubAccountID] = a.Event.Fill
	}

	maker := byAccount[1]
	if maker.Side != "sell" || maker.OrderID != 11 || !maker.Fee.IsNegative() {
		t.Fatalf("maker view wrong: %+v", maker)
	}
	taker := byAccount[2]
	if taker.Side != "buy" || taker.OrderID != 22 || taker.Fee.String() != "0.05" {
		t.Fatalf("taker view wrong: %+v", taker)
	}
}

func TestExtract_FillSingleTrackedSide(t *testing.T) {
	x := New(mapResolver{"taker-acc": 2})
	result := &chain.TxResult{Logs: []string{
		encodeRecord(t, map[string]any{
			"type":  "fill",
			"maker": "maker-acc", "taker": "taker-acc",
			"makerSide":  "buy",
			"fillAmount": "1", "fillPrice": "10",
			"marketIndex": 0, "marketType": "spot",
		}),
	}}
	out := x.FromTransaction("sig-5", result)
	if len(out) != 1 || out[0].SubAccountID != 2 {
		t.Fatalf("expected only taker event, got %+v", out)
	}
	if out[0].Event.Fill.Side != "sell" {
		t.Fatalf("taker side must oppose maker side: %s", out[0].Event.Fill.Side)
	}
}

func TestExtract_ForSubAccountDropsOtherAccounts(t *testing.T) {
	// 一笔交易里批量操作两个被跟踪的子账户
	x := New(mapResolver{"acc-1": 1, "acc-2": 2})
	result := &chain.TxResult{Logs: []string{
		encodeRecord(t, map[string]any{"type": "orderCancel", "user": "acc-1", "orderId": 10}),
		encodeRecord(t, map[string]any{"type": "orderCancel", "user": "acc-2", "orderId": 20}),
	}}

	out := x.FromTransactionFor("sig-7", result, 1)
	if len(out) != 1 {
		t.Fatalf("expected only sub-account 1's events, got %+v", out)
	}
	if out[0].SubAccountID != 1 || out[0].Event.OrderCancel.OrderID != 10 {
		t.Fatalf("another sub-account's event leaked: %+v", out[0])
	}

	// fill 双边归属同样只保留查询方那一边
	fill := &chain.TxResult{Logs: []string{
		encodeRecord(t, map[string]any{
			"type":  "fill",
			"maker": "acc-1", "taker": "acc-2",
			"makerSide":  "sell",
			"fillAmount": "1", "fillPrice": "10",
			"marketIndex": 0, "marketType": "perp",
		}),
	}}
	out = x.FromTransactionFor("sig-8", fill, 2)
	if len(out) != 1 || out[0].SubAccountID != 2 {
		t.Fatalf("expected only taker side for sub-account 2, got %+v", out)
	}
}

func TestExtract_UnknownKindSkipped(t *testing.T) {
	x := New(mapResolver{"acc-1": 0})
	out := x.FromTransaction("sig-6", &chain.TxResult{Logs: []string{
		encodeRecord(t, map[string]any{"type": "protocolUpgradeThing", "user": "acc-1"}),
		encodeRecord(t, map[string]any{"type": "fundingPayment", "user": "acc-1", "fundingAmount": "0.3", "marketIndex": 1}),
	}})
	if len(out) != 1 || out[0].Event.Kind != events.KindFundingPayment {
		t.Fatalf("unknown kinds must be skipped, not fatal: %+v", out)
	}
	if out[0].Event.FundingPayment.MarketIndex != 1 {
		t.Fatalf("funding payload wrong: %+v", out[0].Event.FundingPayment)
	}
}
