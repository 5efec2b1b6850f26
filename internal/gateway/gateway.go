// Package gateway 核心控制器：把链访问、状态缓存、指令编译、
// 交易引擎与订阅分发装配为对外的操作集合。
package gateway

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/command"
	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/internal/extract"
	"github.com/driftgate/driftgate/internal/fanout"
	"github.com/driftgate/driftgate/internal/orderbook"
	"github.com/driftgate/driftgate/internal/statecache"
	"github.com/driftgate/driftgate/internal/swap"
	"github.com/driftgate/driftgate/internal/txn"
	"github.com/driftgate/driftgate/pkg/config"
	"github.com/driftgate/driftgate/pkg/logger"
)

// fallbackPriorityFee 费率采样为空时的兜底值（microLamports）
const fallbackPriorityFee = 1000

// Gateway 网关控制器
type Gateway struct {
	cfg       config.Config
	client    chain.Client
	wallet    *chain.Wallet
	cache     *statecache.Cache
	builder   *command.Builder
	engine    *txn.Engine
	extractor *extract.Extractor
	registry  *fanout.Registry
	routes    swap.RouteProvider
	book      *orderbook.Client

	cancel context.CancelFunc
	log    *logrus.Entry
}

// New 装配网关。txCommit 由调用方解析并校验（cmd/gateway）。
func New(cfg config.Config, client chain.Client, wallet *chain.Wallet, txCommit chain.Commitment,
	routes swap.RouteProvider, book *orderbook.Client) *Gateway {

	cache := statecache.New(statecache.JSONDecoder{})
	g := &Gateway{
		cfg:      cfg,
		client:   client,
		wallet:   wallet,
		cache:    cache,
		builder:  command.NewBuilder(cache),
		registry: fanout.New(fanout.DefaultQueueSize),
		routes:   routes,
		book:     book,
		log:      logger.Logger.WithField("component", "gateway"),
	}
	g.extractor = extract.New(cache)

	g.engine = txn.NewEngine(client, wallet, txn.Config{
		DefaultTTL:  cfg.TTL(),
		MaxTTL:      cfg.MaxTTL(),
		Rebroadcast: cfg.RebroadcastInterval(),
		Commitment:  txCommit,
	})
	g.engine.OnConfirmed(g.pipeline)
	return g
}

// Engine 暴露交易引擎（回执日志装配用）
func (g *Gateway) Engine() *txn.Engine { return g.engine }

// Registry 暴露订阅注册表（WS 服务装配用）
func (g *Gateway) Registry() *fanout.Registry { return g.registry }

// Cache 暴露状态缓存
func (g *Gateway) Cache() *statecache.Cache { return g.cache }

// Wallet 当前钱包
func (g *Gateway) Wallet() *chain.Wallet { return g.wallet }

// Start 阻塞完成 bootstrap，随后启动账户订阅流。
// bootstrap 失败则网关不可用（查询会返回 not ready）。
func (g *Gateway) Start(ctx context.Context) error {
	markets := make([]domain.Market, 0, len(g.cfg.Markets))
	for _, m := range g.cfg.Markets {
		kind, err := domain.ParseMarketKind(m.Kind)
		if err != nil {
			return err
		}
		markets = append(markets, domain.NewMarket(m.Index, kind))
	}

	if err := g.cache.Bootstrap(ctx, g.client, g.wallet, markets, g.cfg.SubAccounts); err != nil {
		return err
	}

	streamCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	for _, id := range g.cfg.SubAccounts {
		updates, err := g.client.SubscribeAccount(streamCtx, g.wallet.SubAccount(id))
		if err != nil {
			cancel()
			return err
		}
		go g.consume(updates)
	}
	g.log.Infof("gateway 启动: authority=%s subAccounts=%v emulation=%v",
		g.wallet.Authority(), g.cfg.SubAccounts, g.wallet.IsReadOnly())
	return nil
}

// consume 账户更新流 -> 缓存 -> 变更推送
func (g *Gateway) consume(updates <-chan chain.AccountUpdate) {
	for update := range updates {
		change, err := g.cache.ApplyAccountUpdate(update)
		if err != nil || change == nil {
			continue
		}
		g.registry.PublishChange(*change)
	}
}

// pipeline 确认交易 -> 事件抽取 -> 订阅推送
func (g *Gateway) pipeline(signature string, result *chain.TxResult) {
	for _, ev := range g.extractor.FromTransaction(signature, result) {
		g.registry.PublishEvent(ev.SubAccountID, ev.Event)
	}
}

// Close 停止订阅流并等待在途交易收敛
func (g *Gateway) Close() {
	if g.cancel != nil {
		g.cancel()
	}
	g.engine.Close()
}

// TxOptions 写操作的每请求参数，nil 字段使用配置默认值
type TxOptions struct {
	SubAccountID     *uint16
	ComputeUnitLimit *uint32
	ComputeUnitPrice *uint64
	TTLSeconds       *int
}

// SubAccount 解析生效的子账户 id
func (g *Gateway) SubAccount(opts TxOptions) uint16 {
	if opts.SubAccountID != nil {
		return *opts.SubAccountID
	}
	return g.cfg.Wallet.DefaultSubAccountID
}

func (g *Gateway) ttl(opts TxOptions) time.Duration {
	if opts.TTLSeconds != nil {
		return time.Duration(*opts.TTLSeconds) * time.Second
	}
	return 0 // 引擎默认
}

// EstimatePriorityFee 最近费率采样的 90 分位；采样失败或为空时返回兜底值
func (g *Gateway) EstimatePriorityFee(ctx context.Context) uint64 {
	fees, err := g.client.GetRecentPriorityFees(ctx)
	if err != nil || len(fees) == 0 {
		return fallbackPriorityFee
	}
	sort.Slice(fees, func(i, j int) bool { return fees[i] < fees[j] })
	idx := len(fees) * 9 / 10
	if idx >= len(fees) {
		idx = len(fees) - 1
	}
	fee := fees[idx]
	if fee == 0 {
		return fallbackPriorityFee
	}
	return fee
}

// submit 补上计算预算指令并交给引擎
func (g *Gateway) submit(ctx context.Context, instructions []command.Instruction, opts TxOptions) (string, error) {
	if g.wallet.IsReadOnly() {
		return "", chain.ErrNoSigner
	}
	limit := g.cfg.Tx.ComputeUnitLimit
	if opts.ComputeUnitLimit != nil {
		limit = *opts.ComputeUnitLimit
	}
	price := g.cfg.Tx.ComputeUnitPrice
	if opts.ComputeUnitPrice != nil {
		price = *opts.ComputeUnitPrice
	} else if price == 0 {
		price = g.EstimatePriorityFee(ctx)
	}

	batch := append(command.ComputeBudget(limit, price), instructions...)
	pending, err := g.engine.Submit(ctx, batch, txn.Options{TTL: g.ttl(opts)})
	if err != nil {
		return "", err
	}
	return pending.Signature, nil
}

// PlaceOrders 下单
func (g *Gateway) PlaceOrders(ctx context.Context, opts TxOptions, orders []command.PlaceOrder) (string, error) {
	ixs, err := g.builder.BuildPlace(g.SubAccount(opts), orders)
	if err != nil {
		return "", err
	}
	return g.submit(ctx, ixs, opts)
}

// ModifyOrders 改单
func (g *Gateway) ModifyOrders(ctx context.Context, opts TxOptions, mods []command.ModifyOrder) (string, error) {
	ixs, err := g.builder.BuildModify(g.SubAccount(opts), mods)
	if err != nil {
		return "", err
	}
	return g.submit(ctx, ixs, opts)
}

// CancelOrders 撤单
func (g *Gateway) CancelOrders(ctx context.Context, opts TxOptions, c command.CancelOrders) (string, error) {
	ixs, err := g.builder.BuildCancel(g.SubAccount(opts), c)
	if err != nil {
		return "", err
	}
	return g.submit(ctx, ixs, opts)
}

// CancelAndPlace 原子撤单+下单
func (g *Gateway) CancelAndPlace(ctx context.Context, opts TxOptions, c command.CancelOrders, orders []command.PlaceOrder) (string, error) {
	ixs, err := g.builder.BuildCancelAndPlace(g.SubAccount(opts), c, orders)
	if err != nil {
		return "", err
	}
	return g.submit(ctx, ixs, opts)
}

// SwapTokens 询价并提交兑换
func (g *Gateway) SwapTokens(ctx context.Context, opts TxOptions, marketIn, marketOut uint16, amountIn decimal.Decimal) (string, error) {
	if g.routes == nil {
		return "", errors.New("swap is not configured")
	}
	quote, err := g.routes.GetQuote(ctx, marketIn, marketOut, amountIn, uint16(g.cfg.Swap.SlippageBps))
	if err != nil {
		return "", err
	}
	ixs, err := g.builder.BuildSwap(g.SubAccount(opts), command.Swap{
		MarketIn:     marketIn,
		MarketOut:    marketOut,
		AmountIn:     quote.AmountIn,
		MinAmountOut: quote.MinAmountOut,
		Route:        quote.Route,
	})
	if err != nil {
		return "", err
	}
	return g.submit(ctx, ixs, opts)
}

// TxEvents 回放一笔已落地交易中归属于指定子账户的事件。
// 同笔交易里其它子账户的事件不出现在结果中。
func (g *Gateway) TxEvents(ctx context.Context, opts TxOptions, signature string) ([]extract.Attributed, bool, error) {
	result, err := g.client.GetTransaction(ctx, signature)
	if err != nil {
		return nil, false, err
	}
	return g.extractor.FromTransactionFor(signature, result, g.SubAccount(opts)), result.Err == nil, nil
}

// GetOrderbook L2 盘口代理查询
func (g *Gateway) GetOrderbook(ctx context.Context, market domain.Market, depth uint32) (*orderbook.L2Book, error) {
	if g.book == nil {
		return nil, orderbook.ErrNotConfigured
	}
	if _, err := g.cache.GetMarket(market); err != nil {
		return nil, err
	}
	return g.book.GetL2(ctx, market, depth)
}

// GetOrders 查询子账户 open 订单
func (g *Gateway) GetOrders(opts TxOptions, market *domain.Market) ([]domain.Order, error) {
	return g.cache.GetOrders(g.SubAccount(opts), market)
}

// GetPositions 查询子账户仓位
func (g *Gateway) GetPositions(opts TxOptions, market *domain.Market) ([]domain.SpotPosition, []domain.PerpPosition, error) {
	return g.cache.GetPositions(g.SubAccount(opts), market)
}

// GetMarkets 全部已配置市场
func (g *Gateway) GetMarkets() ([]domain.MarketMeta, error) {
	return g.cache.Markets()
}

// GetMarginInfo 子账户保证金信息
func (g *Gateway) GetMarginInfo(opts TxOptions) (domain.MarginInfo, error) {
	return g.cache.GetMargin(g.SubAccount(opts))
}

// GetBalance 签名者原生代币余额
func (g *Gateway) GetBalance(ctx context.Context) (uint64, error) {
	return g.client.GetBalance(ctx, g.wallet.SignerKey())
}
