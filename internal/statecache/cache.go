// Package statecache 维护账户与市场状态的版本化内存快照。
//
// 写入纪律：每次账户更新解码出完整的新快照后整体原子替换（atomic pointer swap），
// 读者永远不会看到半应用的更新；解码失败时丢弃本次更新、保留旧快照。
// 就绪前（bootstrap 未完成）查询返回 ErrNotReady，绝不返回部分数据。
package statecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/internal/metrics"
	"github.com/driftgate/driftgate/pkg/logger"
)

// ErrNotReady bootstrap 完成前的查询
var ErrNotReady = errors.New("state cache not ready")

// ErrUnknownMarket 未配置的市场
var ErrUnknownMarket = errors.New("unknown market")

// ErrUnknownSubAccount 未配置的子账户
var ErrUnknownSubAccount = errors.New("unknown sub account")

// Decoder 链状态解码器（外部协作者）：原始账户字节 -> 类型化记录
type Decoder interface {
	DecodeSubAccount(raw []byte) (*SubAccountState, error)
	DecodeMarket(raw []byte, kind domain.MarketKind) (*domain.MarketMeta, error)
}

// SubAccountState 单个子账户的完整快照（不可变，替换式更新）
type SubAccountState struct {
	SubAccountID uint16                `json:"subAccountId"`
	Slot         uint64                `json:"slot"`
	Orders       []domain.Order        `json:"orders"`
	Spot         []domain.SpotPosition `json:"spot"`
	Perp         []domain.PerpPosition `json:"perp"`
	Margin       domain.MarginInfo     `json:"margin"`
}

// ChangeSet 一次更新的有效变化摘要，供订阅分发使用
type ChangeSet struct {
	SubAccountID     uint16 `json:"subAccountId"`
	Slot             uint64 `json:"slot"`
	OrdersChanged    bool   `json:"ordersChanged"`
	PositionsChanged bool   `json:"positionsChanged"`
	MarginChanged    bool   `json:"marginChanged"`
}

// Empty 更新是否无有效变化
func (c *ChangeSet) Empty() bool {
	return !c.OrdersChanged && !c.PositionsChanged && !c.MarginChanged
}

// Cache 版本化状态缓存
type Cache struct {
	decoder Decoder
	ready   atomic.Bool

	// subaccount id -> *atomic.Pointer[SubAccountState]
	accounts sync.Map
	// 账户地址 -> subaccount id（账户通知路由）
	byPubkey sync.Map
	// domain.Market -> *atomic.Pointer[domain.MarketMeta]
	markets sync.Map

	log *logrus.Entry
}

// New 创建缓存
func New(decoder Decoder) *Cache {
	return &Cache{
		decoder: decoder,
		log:     logger.Logger.WithField("component", "statecache"),
	}
}

// Ready 是否已完成 bootstrap
func (c *Cache) Ready() bool { return c.ready.Load() }

// Bootstrap 启动时阻塞拉取所有已配置市场与子账户。
// 全部成功后缓存标记 ready；任何一项失败则返回错误（缓存保持未就绪）。
func (c *Cache) Bootstrap(ctx context.Context, client chain.Client, wallet *chain.Wallet,
	markets []domain.Market, subAccounts []uint16) error {

	for _, m := range markets {
		addr := chain.MarketAddress(string(m.Kind), m.Index)
		raw, _, err := client.GetAccount(ctx, addr)
		if err != nil {
			return err
		}
		meta, err := c.decoder.DecodeMarket(raw, m.Kind)
		if err != nil {
			return err
		}
		ptr := &atomic.Pointer[domain.MarketMeta]{}
		ptr.Store(meta)
		c.markets.Store(m, ptr)
	}

	for _, id := range subAccounts {
		addr := wallet.SubAccount(id)
		c.byPubkey.Store(addr, id)

		ptr := &atomic.Pointer[SubAccountState]{}
		raw, slot, err := client.GetAccount(ctx, addr)
		switch {
		case errors.Is(err, chain.ErrAccountNotFound):
			// 子账户尚未初始化：空快照
			ptr.Store(&SubAccountState{SubAccountID: id})
		case err != nil:
			return err
		default:
			state, derr := c.decoder.DecodeSubAccount(raw)
			if derr != nil {
				return derr
			}
			state.SubAccountID = id
			state.Slot = slot
			ptr.Store(state)
		}
		c.accounts.Store(id, ptr)
	}

	c.ready.Store(true)
	c.log.Infof("bootstrap 完成: %d markets, %d sub-accounts", len(markets), len(subAccounts))
	return nil
}

// SubAccountFor 账户地址对应的子账户 id
func (c *Cache) SubAccountFor(pubkey string) (uint16, bool) {
	v, ok := c.byPubkey.Load(pubkey)
	if !ok {
		return 0, false
	}
	return v.(uint16), true
}

// ApplyAccountUpdate 应用一条账户变更通知。
// 解码失败时丢弃更新并保留旧快照（计数上报，不向无关调用方传播）；
// 无有效变化时返回 nil ChangeSet。
func (c *Cache) ApplyAccountUpdate(update chain.AccountUpdate) (*ChangeSet, error) {
	id, ok := c.SubAccountFor(update.Pubkey)
	if !ok {
		return nil, ErrUnknownSubAccount
	}
	v, ok := c.accounts.Load(id)
	if !ok {
		return nil, ErrUnknownSubAccount
	}
	ptr := v.(*atomic.Pointer[SubAccountState])

	next, err := c.decoder.DecodeSubAccount(update.Data)
	if err != nil {
		metrics.CacheUpdateDrops.Add(1)
		c.log.WithError(err).Warnf("账户更新解码失败，保留旧快照: sub-account %d", id)
		return nil, err
	}
	next.SubAccountID = id
	next.Slot = update.Slot

	prev := ptr.Load()
	if prev != nil && update.Slot > 0 && update.Slot < prev.Slot {
		// 乱序到达的旧更新，丢弃
		return nil, nil
	}
	ptr.Store(next)
	metrics.CacheUpdatesApplied.Add(1)

	change := diff(prev, next)
	if change.Empty() {
		return nil, nil
	}
	return change, nil
}

// ApplyMarketUpdate 应用市场参数更新（风险参数可变，步长不变）
func (c *Cache) ApplyMarketUpdate(market domain.Market, raw []byte) error {
	v, ok := c.markets.Load(market)
	if !ok {
		return ErrUnknownMarket
	}
	meta, err := c.decoder.DecodeMarket(raw, market.Kind)
	if err != nil {
		metrics.CacheUpdateDrops.Add(1)
		return err
	}
	v.(*atomic.Pointer[domain.MarketMeta]).Store(meta)
	return nil
}

func diff(prev, next *SubAccountState) *ChangeSet {
	change := &ChangeSet{SubAccountID: next.SubAccountID, Slot: next.Slot}
	if prev == nil {
		change.OrdersChanged = len(next.Orders) > 0
		change.PositionsChanged = len(next.Spot) > 0 || len(next.Perp) > 0
		change.MarginChanged = true
		return change
	}
	change.OrdersChanged = !ordersEqual(prev.Orders, next.Orders)
	change.PositionsChanged = !positionsEqual(prev, next)
	change.MarginChanged = prev.Margin != next.Margin
	return change
}

func ordersEqual(a, b []domain.Order) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].OrderID != b[i].OrderID || !a[i].Filled.Equal(b[i].Filled) {
			return false
		}
	}
	return true
}

func positionsEqual(a, b *SubAccountState) bool {
	if len(a.Spot) != len(b.Spot) || len(a.Perp) != len(b.Perp) {
		return false
	}
	for i := range a.Spot {
		if a.Spot[i].MarketIndex != b.Spot[i].MarketIndex || !a.Spot[i].Amount.Equal(b.Spot[i].Amount) {
			return false
		}
	}
	for i := range a.Perp {
		if a.Perp[i].MarketIndex != b.Perp[i].MarketIndex || !a.Perp[i].Amount.Equal(b.Perp[i].Amount) {
			return false
		}
	}
	return true
}

// snapshot 读取子账户最新快照
func (c *Cache) snapshot(subAccountID uint16) (*SubAccountState, error) {
	if !c.ready.Load() {
		return nil, ErrNotReady
	}
	v, ok := c.accounts.Load(subAccountID)
	if !ok {
		return nil, ErrUnknownSubAccount
	}
	state := v.(*atomic.Pointer[SubAccountState]).Load()
	if state == nil {
		return nil, ErrNotReady
	}
	return state, nil
}

// GetOrders 子账户当前 open 订单（可按市场过滤）
func (c *Cache) GetOrders(subAccountID uint16, filter *domain.Market) ([]domain.Order, error) {
	state, err := c.snapshot(subAccountID)
	if err != nil {
		return nil, err
	}
	if filter == nil {
		return state.Orders, nil
	}
	out := make([]domain.Order, 0, len(state.Orders))
	for _, o := range state.Orders {
		if o.Market == *filter {
			out = append(out, o)
		}
	}
	return out, nil
}

// FindOrderByUserID 按客户端自定义 id 查找 open 订单
func (c *Cache) FindOrderByUserID(subAccountID uint16, userOrderID uint8) (*domain.Order, error) {
	orders, err := c.GetOrders(subAccountID, nil)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].UserOrderID == userOrderID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// FindOrderByID 按协议 id 查找 open 订单
func (c *Cache) FindOrderByID(subAccountID uint16, orderID uint32) (*domain.Order, error) {
	orders, err := c.GetOrders(subAccountID, nil)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		if orders[i].OrderID == orderID {
			return &orders[i], nil
		}
	}
	return nil, nil
}

// GetPositions 子账户仓位（可按市场过滤）
func (c *Cache) GetPositions(subAccountID uint16, filter *domain.Market) ([]domain.SpotPosition, []domain.PerpPosition, error) {
	state, err := c.snapshot(subAccountID)
	if err != nil {
		return nil, nil, err
	}
	if filter == nil {
		return state.Spot, state.Perp, nil
	}
	var spot []domain.SpotPosition
	var perp []domain.PerpPosition
	if filter.Kind == domain.MarketSpot {
		for _, p := range state.Spot {
			if p.MarketIndex == filter.Index {
				spot = append(spot, p)
			}
		}
	} else {
		for _, p := range state.Perp {
			if p.MarketIndex == filter.Index {
				perp = append(perp, p)
			}
		}
	}
	return spot, perp, nil
}

// GetMargin 子账户保证金信息
func (c *Cache) GetMargin(subAccountID uint16) (domain.MarginInfo, error) {
	state, err := c.snapshot(subAccountID)
	if err != nil {
		return domain.MarginInfo{}, err
	}
	return state.Margin, nil
}

// GetMarket 市场元数据
func (c *Cache) GetMarket(market domain.Market) (*domain.MarketMeta, error) {
	if !c.ready.Load() {
		return nil, ErrNotReady
	}
	v, ok := c.markets.Load(market)
	if !ok {
		return nil, ErrUnknownMarket
	}
	return v.(*atomic.Pointer[domain.MarketMeta]).Load(), nil
}

// Markets 全部已配置市场
func (c *Cache) Markets() ([]domain.MarketMeta, error) {
	if !c.ready.Load() {
		return nil, ErrNotReady
	}
	var out []domain.MarketMeta
	c.markets.Range(func(_, v any) bool {
		if meta := v.(*atomic.Pointer[domain.MarketMeta]).Load(); meta != nil {
			out = append(out, *meta)
		}
		return true
	})
	return out, nil
}
