package swap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProvider_GetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		require.Equal(t, "0", r.URL.Query().Get("inputMarket"))
		require.Equal(t, "1", r.URL.Query().Get("outputMarket"))
		require.Equal(t, "100", r.URL.Query().Get("amount"))

		// 刻意不设置 Content-Type，客户端必须仍按 JSON 解析
		_ = json.NewEncoder(w).Encode(map[string]any{
			"amountOut": "200",
			"route":     map[string]any{"hops": 2},
		})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	quote, err := p.GetQuote(context.Background(), 0, 1, decimal.NewFromInt(100), 50)
	require.NoError(t, err)

	assert.True(t, quote.AmountOut.Equal(decimal.NewFromInt(200)), "amountOut: %s", quote.AmountOut)
	// 50 bps 滑点: 200 * 0.995 = 199
	assert.True(t, quote.MinAmountOut.Equal(decimal.NewFromInt(199)), "minAmountOut: %s", quote.MinAmountOut)
	assert.NotEmpty(t, quote.Route)
}

func TestHTTPProvider_UpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.GetQuote(context.Background(), 0, 1, decimal.NewFromInt(100), 50)
	require.Error(t, err)
}

func TestHTTPProvider_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"amountOut": "0"})
	}))
	defer srv.Close()

	p := NewHTTPProvider(srv.URL)
	_, err := p.GetQuote(context.Background(), 0, 1, decimal.NewFromInt(100), 50)
	require.Error(t, err)
}
