package domain

import (
	"testing"

	"github.com/shopspring/decimal"
)

func newMeta(amountStep, minSize, priceStep string) *MarketMeta {
	return &MarketMeta{
		Market:       PerpMarket(0),
		Symbol:       "TEST-PERP",
		PriceStep:    decimal.RequireFromString(priceStep),
		AmountStep:   decimal.RequireFromString(amountStep),
		MinOrderSize: decimal.RequireFromString(minSize),
	}
}

func TestValidOrderAmount(t *testing.T) {
	meta := newMeta("0.01", "0.1", "0.001")

	cases := []struct {
		amount string
		ok     bool
	}{
		{"1.23", true},
		{"-1.23", true}, // 卖单负数，按绝对值校验
		{"-1.235", false},
		{"0.1", true},
		{"0.05", false}, // 低于最小量
		{"0", false},
	}
	for _, tc := range cases {
		err := meta.ValidOrderAmount(decimal.RequireFromString(tc.amount))
		if tc.ok && err != nil {
			t.Errorf("amount %s: unexpected error %v", tc.amount, err)
		}
		if !tc.ok && err == nil {
			t.Errorf("amount %s: expected validation failure", tc.amount)
		}
	}
}

func TestValidOrderPrice(t *testing.T) {
	meta := newMeta("0.01", "0.1", "0.01")

	if err := meta.ValidOrderPrice(decimal.RequireFromString("20.55")); err != nil {
		t.Fatalf("valid price rejected: %v", err)
	}
	if err := meta.ValidOrderPrice(decimal.RequireFromString("20.555")); err == nil {
		t.Fatal("off-step price accepted")
	}
	if err := meta.ValidOrderPrice(decimal.RequireFromString("-1")); err == nil {
		t.Fatal("negative price accepted")
	}
	// oracle offset 订单价格为 0
	if err := meta.ValidOrderPrice(decimal.Zero); err != nil {
		t.Fatalf("zero price rejected: %v", err)
	}
}

func TestOrderSideAndRemaining(t *testing.T) {
	buy := Order{Amount: decimal.RequireFromString("2"), Filled: decimal.RequireFromString("0.5")}
	if buy.Side() != SideBuy {
		t.Fatalf("positive amount must be buy, got %s", buy.Side())
	}
	if !buy.Remaining().Equal(decimal.RequireFromString("1.5")) {
		t.Fatalf("remaining: %s", buy.Remaining())
	}

	sell := Order{Amount: decimal.RequireFromString("-2"), Filled: decimal.RequireFromString("2")}
	if sell.Side() != SideSell {
		t.Fatalf("negative amount must be sell, got %s", sell.Side())
	}
	if !sell.Remaining().IsZero() {
		t.Fatalf("fully filled order must have zero remaining: %s", sell.Remaining())
	}
}

func TestParseMarketKind(t *testing.T) {
	if _, err := ParseMarketKind("perp"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseMarketKind("future"); err == nil {
		t.Fatal("expected parse error")
	}
}
