package events

import "testing"

func TestChannelMapping(t *testing.T) {
	cases := []struct {
		kind Kind
		want Channel
	}{
		{KindFill, ChannelFills},
		{KindFundingPayment, ChannelFunding},
		{KindSwap, ChannelSwap},
		{KindOrderCreate, ChannelOrders},
		{KindOrderCancel, ChannelOrders},
		{KindOrderCancelMissing, ChannelOrders},
		{KindOrderExpire, ChannelOrders},
	}
	for _, tc := range cases {
		e := AccountEvent{Kind: tc.kind}
		if got := e.Channel(); got != tc.want {
			t.Errorf("%s: want channel %s, got %s", tc.kind, tc.want, got)
		}
	}
}
