// Package orderbook L2 盘口只读代理：从外部 orderbook 服务拉取聚合档位。
package orderbook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/pkg/logger"
)

// ErrNotConfigured 未配置 orderbook 服务
var ErrNotConfigured = errors.New("orderbook is not configured")

// defaultDepth 未指定 depth 时的档位数
const defaultDepth = 20

// Level 单个价格档位
type Level struct {
	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
}

// L2Book 聚合盘口快照
type L2Book struct {
	Slot uint64  `json:"slot"`
	Bids []Level `json:"bids"`
	Asks []Level `json:"asks"`
}

// Client orderbook 服务的 HTTP 客户端
type Client struct {
	client   *resty.Client
	endpoint string
	log      *logrus.Entry
}

// NewClient 创建 orderbook 客户端
func NewClient(endpoint string) *Client {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond)
	return &Client{
		client:   client,
		endpoint: endpoint,
		log:      logger.Logger.WithField("component", "orderbook"),
	}
}

// GetL2 拉取指定市场的 L2 盘口。depth 为 0 时用默认档位数。
func (c *Client) GetL2(ctx context.Context, market domain.Market, depth uint32) (*L2Book, error) {
	if depth == 0 {
		depth = defaultDepth
	}
	var book L2Book
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"marketIndex": fmt.Sprintf("%d", market.Index),
			"marketType":  string(market.Kind),
			"depth":       fmt.Sprintf("%d", depth),
		}).
		SetResult(&book).
		ForceContentType("application/json").
		Get(c.endpoint + "/l2")
	if err != nil {
		return nil, errors.Wrap(err, "orderbook l2")
	}
	if resp.IsError() {
		return nil, errors.Errorf("orderbook l2: http %d: %s", resp.StatusCode(), resp.String())
	}
	c.log.Debugf("盘口: %s-%d slot=%d bids=%d asks=%d",
		market.Kind, market.Index, book.Slot, len(book.Bids), len(book.Asks))
	return &book, nil
}
