// Package swap 兑换路由：向外部聚合器询价并生成带滑点保护的路由。
package swap

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/pkg/logger"
)

// Quote 一次询价结果
type Quote struct {
	AmountIn     decimal.Decimal `json:"amountIn"`
	AmountOut    decimal.Decimal `json:"amountOut"`
	MinAmountOut decimal.Decimal `json:"minAmountOut"`
	Route        json.RawMessage `json:"route"`
}

// RouteProvider 报价来源
type RouteProvider interface {
	// GetQuote 询价；slippageBps 用于计算 MinAmountOut
	GetQuote(ctx context.Context, marketIn, marketOut uint16, amountIn decimal.Decimal, slippageBps uint16) (*Quote, error)
}

// HTTPProvider 基于 HTTP 聚合器的报价实现
type HTTPProvider struct {
	client   *resty.Client
	endpoint string
	log      *logrus.Entry
}

// NewHTTPProvider 创建 HTTP 报价客户端
func NewHTTPProvider(endpoint string) *HTTPProvider {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &HTTPProvider{
		client:   client,
		endpoint: endpoint,
		log:      logger.Logger.WithField("component", "swap"),
	}
}

type quoteResponse struct {
	AmountOut decimal.Decimal `json:"amountOut"`
	Route     json.RawMessage `json:"route"`
	Error     string          `json:"error,omitempty"`
}

// GetQuote 向聚合器询价并套用滑点保护
func (p *HTTPProvider) GetQuote(ctx context.Context, marketIn, marketOut uint16, amountIn decimal.Decimal, slippageBps uint16) (*Quote, error) {
	var out quoteResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"inputMarket":  fmt.Sprintf("%d", marketIn),
			"outputMarket": fmt.Sprintf("%d", marketOut),
			"amount":       amountIn.String(),
			"slippageBps":  fmt.Sprintf("%d", slippageBps),
		}).
		SetResult(&out).
		// 部分聚合器不回 Content-Type，强制按 JSON 反序列化
		ForceContentType("application/json").
		Get(p.endpoint + "/quote")
	if err != nil {
		return nil, errors.Wrap(err, "swap quote")
	}
	if resp.IsError() {
		return nil, errors.Errorf("swap quote: http %d: %s", resp.StatusCode(), resp.String())
	}
	if out.Error != "" {
		return nil, errors.Errorf("swap quote: %s", out.Error)
	}
	if !out.AmountOut.IsPositive() {
		return nil, errors.New("swap quote: empty route")
	}

	// minOut = out * (1 - slippageBps/10000)
	slip := decimal.NewFromInt(int64(slippageBps)).Div(decimal.NewFromInt(10000))
	minOut := out.AmountOut.Mul(decimal.NewFromInt(1).Sub(slip))

	p.log.Debugf("报价: %d->%d in=%s out=%s minOut=%s", marketIn, marketOut, amountIn, out.AmountOut, minOut)
	return &Quote{
		AmountIn:     amountIn,
		AmountOut:    out.AmountOut,
		MinAmountOut: minOut,
		Route:        out.Route,
	}, nil
}
