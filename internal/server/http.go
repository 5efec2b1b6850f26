// Package server 对外传输层：HTTP API 与 WebSocket 推送。
package server

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/command"
	"github.com/driftgate/driftgate/internal/domain"
	"github.com/driftgate/driftgate/internal/gateway"
	"github.com/driftgate/driftgate/internal/orderbook"
	"github.com/driftgate/driftgate/internal/statecache"
	"github.com/driftgate/driftgate/internal/txstore"
	"github.com/driftgate/driftgate/pkg/logger"
)

// Server HTTP API
type Server struct {
	gw    *gateway.Gateway
	store *txstore.Store
	srv   *http.Server
	log   *logrus.Entry
}

// New 创建 HTTP 服务。store 可为 nil（未配置回执日志）。
func New(gw *gateway.Gateway, store *txstore.Store, addr string) *Server {
	s := &Server{
		gw:    gw,
		store: store,
		log:   logger.Logger.WithField("component", "server"),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/debug/vars", gin.WrapH(expvar.Handler()))

	v2 := r.Group("/v2")
	v2.GET("/markets", s.handleMarkets)
	v2.GET("/orders", s.handleGetOrders)
	v2.POST("/orders", s.handlePlaceOrders)
	v2.PATCH("/orders", s.handleModifyOrders)
	v2.DELETE("/orders", s.handleCancelOrders)
	v2.POST("/orders/ioc", s.handlePlaceIOCOrder)
	v2.POST("/orders/cancelAndPlace", s.handleCancelAndPlace)
	v2.GET("/orderbook", s.handleOrderbook)
	v2.GET("/positions", s.handleGetPositions)
	v2.GET("/positionInfo/:marketIndex", s.handlePositionInfo)
	v2.GET("/balance", s.handleBalance)
	v2.GET("/leverage", s.handleLeverage)
	v2.GET("/collateral", s.handleCollateral)
	v2.GET("/marginInfo", s.handleMarginInfo)
	v2.GET("/transactionEvent/:signature", s.handleTxEvents)
	v2.GET("/transaction/:signature", s.handleTxReceipt)
	v2.POST("/swap", s.handleSwap)

	return r
}

// ListenAndServe 阻塞运行
func (s *Server) ListenAndServe() error {
	s.log.Infof("http 服务启动: %s", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown 优雅关闭
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// apiError 错误响应体
type apiError struct {
	Code   uint32 `json:"code,omitempty"`
	Reason string `json:"reason"`
}

// writeError 错误分类到 HTTP 状态码：
// 校验/确定性拒绝 -> 400，未找到 -> 404，未就绪 -> 503，其余 -> 500
func (s *Server) writeError(c *gin.Context, err error) {
	var vErr *command.ValidationError
	var rErr *chain.RejectedError

	switch {
	case errors.As(err, &vErr):
		c.JSON(http.StatusBadRequest, apiError{Reason: vErr.Error()})
	case errors.As(err, &rErr):
		c.JSON(http.StatusBadRequest, apiError{Code: rErr.Code, Reason: rErr.Reason})
	case errors.Is(err, chain.ErrNoSigner):
		c.JSON(http.StatusForbidden, apiError{Reason: "gateway is read-only"})
	case errors.Is(err, chain.ErrTxNotFound), errors.Is(err, txstore.ErrNotFound):
		c.JSON(http.StatusNotFound, apiError{Reason: err.Error()})
	case errors.Is(err, statecache.ErrUnknownMarket), errors.Is(err, statecache.ErrUnknownSubAccount):
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
	case errors.Is(err, statecache.ErrNotReady), errors.Is(err, orderbook.ErrNotConfigured):
		c.JSON(http.StatusServiceUnavailable, apiError{Reason: err.Error()})
	default:
		s.log.WithError(err).Error("请求处理失败")
		c.JSON(http.StatusInternalServerError, apiError{Reason: err.Error()})
	}
}

// txOptions 解析写操作的 query 参数
func txOptions(c *gin.Context) (gateway.TxOptions, error) {
	var opts gateway.TxOptions
	if v := c.Query("subAccountId"); v != "" {
		id, err := strconv.ParseUint(v, 10, 16)
		if err != nil {
			return opts, fmt.Errorf("invalid subAccountId: %s", v)
		}
		u := uint16(id)
		opts.SubAccountID = &u
	}
	if v := c.Query("computeUnitLimit"); v != "" {
		limit, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return opts, fmt.Errorf("invalid computeUnitLimit: %s", v)
		}
		u := uint32(limit)
		opts.ComputeUnitLimit = &u
	}
	if v := c.Query("computeUnitPrice"); v != "" {
		price, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return opts, fmt.Errorf("invalid computeUnitPrice: %s", v)
		}
		opts.ComputeUnitPrice = &price
	}
	if v := c.Query("ttl"); v != "" {
		ttl, err := strconv.Atoi(v)
		if err != nil || ttl <= 0 {
			return opts, fmt.Errorf("invalid ttl: %s", v)
		}
		opts.TTLSeconds = &ttl
	}
	return opts, nil
}

// marketFilter 解析可选的市场过滤参数
func marketFilter(c *gin.Context) (*domain.Market, error) {
	idxStr := c.Query("marketIndex")
	kindStr := c.Query("marketType")
	if idxStr == "" && kindStr == "" {
		return nil, nil
	}
	if idxStr == "" || kindStr == "" {
		return nil, errors.New("marketIndex and marketType must be given together")
	}
	idx, err := strconv.ParseUint(idxStr, 10, 16)
	if err != nil {
		return nil, fmt.Errorf("invalid marketIndex: %s", idxStr)
	}
	kind, err := domain.ParseMarketKind(kindStr)
	if err != nil {
		return nil, err
	}
	m := domain.NewMarket(uint16(idx), kind)
	return &m, nil
}

type txResponse struct {
	Signature string `json:"tx"`
}

func (s *Server) handleMarkets(c *gin.Context) {
	markets, err := s.gw.GetMarkets()
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"markets": markets})
}

func (s *Server) handleGetOrders(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	filter, err := marketFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	orders, err := s.gw.GetOrders(opts, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

// orderRequest 下单请求体元素
type orderRequest struct {
	MarketIndex       uint16           `json:"marketIndex"`
	MarketType        string           `json:"marketType"`
	Amount            decimal.Decimal  `json:"amount"`
	Price             decimal.Decimal  `json:"price"`
	OrderType         string           `json:"orderType"`
	UserOrderID       uint8            `json:"userOrderId"`
	PostOnly          bool             `json:"postOnly"`
	ReduceOnly        bool             `json:"reduceOnly"`
	ImmediateOrCancel bool             `json:"immediateOrCancel"`
	OraclePriceOffset *decimal.Decimal `json:"oraclePriceOffset"`
	MaxTS             int64            `json:"maxTs"`
}

func (r *orderRequest) toIntent() (command.PlaceOrder, error) {
	kind, err := domain.ParseMarketKind(r.MarketType)
	if err != nil {
		return command.PlaceOrder{}, err
	}
	orderType := domain.OrderTypeLimit
	if r.OrderType != "" {
		orderType, err = domain.ParseOrderType(r.OrderType)
		if err != nil {
			return command.PlaceOrder{}, err
		}
	}
	return command.PlaceOrder{
		Market:            domain.NewMarket(r.MarketIndex, kind),
		Amount:            r.Amount,
		Price:             r.Price,
		OrderType:         orderType,
		UserOrderID:       r.UserOrderID,
		PostOnly:          r.PostOnly,
		ReduceOnly:        r.ReduceOnly,
		ImmediateOrCancel: r.ImmediateOrCancel,
		OraclePriceOffset: r.OraclePriceOffset,
		MaxTS:             r.MaxTS,
	}, nil
}

type placeRequest struct {
	Orders []orderRequest `json:"orders"`
}

func (s *Server) handlePlaceOrders(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	var req placeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	orders := make([]command.PlaceOrder, 0, len(req.Orders))
	for _, o := range req.Orders {
		intent, err := o.toIntent()
		if err != nil {
			c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
			return
		}
		orders = append(orders, intent)
	}
	sig, err := s.gw.PlaceOrders(c.Request.Context(), opts, orders)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{Signature: sig})
}

// handlePlaceIOCOrder 市价 IOC 下单的便捷封装：
// 强制 orderType=market 与 immediateOrCancel，price 保留为保护价。
func (s *Server) handlePlaceIOCOrder(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	var req orderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	intent, err := req.toIntent()
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	intent.OrderType = domain.OrderTypeMarket
	intent.ImmediateOrCancel = true
	sig, err := s.gw.PlaceOrders(c.Request.Context(), opts, []command.PlaceOrder{intent})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{Signature: sig})
}

type modifyRequest struct {
	Orders []command.ModifyOrder `json:"orders"`
}

func (s *Server) handleModifyOrders(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	var req modifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	sig, err := s.gw.ModifyOrders(c.Request.Context(), opts, req.Orders)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{Signature: sig})
}

// cancelRequest 撤单请求体。market / userIds / ids 互斥，
// 都缺省时撤销全部。
type cancelRequest struct {
	MarketIndex *uint16  `json:"marketIndex"`
	MarketType  *string  `json:"marketType"`
	UserIDs     []uint8  `json:"userIds"`
	OrderIDs    []uint32 `json:"ids"`
}

func (r *cancelRequest) toIntent() (command.CancelOrders, error) {
	var intent command.CancelOrders
	if r.MarketIndex != nil || r.MarketType != nil {
		if r.MarketIndex == nil || r.MarketType == nil {
			return intent, errors.New("marketIndex and marketType must be given together")
		}
		kind, err := domain.ParseMarketKind(*r.MarketType)
		if err != nil {
			return intent, err
		}
		m := domain.NewMarket(*r.MarketIndex, kind)
		intent.Market = &m
	}
	intent.UserIDs = r.UserIDs
	intent.OrderIDs = r.OrderIDs
	return intent, nil
}

func (s *Server) handleCancelOrders(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	intent, err := req.toIntent()
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	sig, err := s.gw.CancelOrders(c.Request.Context(), opts, intent)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{Signature: sig})
}

type cancelAndPlaceRequest struct {
	Cancel cancelRequest `json:"cancel"`
	Place  placeRequest  `json:"place"`
}

func (s *Server) handleCancelAndPlace(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	var req cancelAndPlaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	cancel, err := req.Cancel.toIntent()
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	orders := make([]command.PlaceOrder, 0, len(req.Place.Orders))
	for _, o := range req.Place.Orders {
		intent, err := o.toIntent()
		if err != nil {
			c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
			return
		}
		orders = append(orders, intent)
	}
	sig, err := s.gw.CancelAndPlace(c.Request.Context(), opts, cancel, orders)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{Signature: sig})
}

func (s *Server) handleGetPositions(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	filter, err := marketFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	spot, perp, err := s.gw.GetPositions(opts, filter)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if spot == nil {
		spot = []domain.SpotPosition{}
	}
	if perp == nil {
		perp = []domain.PerpPosition{}
	}
	c.JSON(http.StatusOK, gin.H{"spot": spot, "perp": perp})
}

func (s *Server) handlePositionInfo(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	idx, err := strconv.ParseUint(c.Param("marketIndex"), 10, 16)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: "invalid marketIndex"})
		return
	}
	m := domain.PerpMarket(uint16(idx))
	_, perp, err := s.gw.GetPositions(opts, &m)
	if err != nil {
		s.writeError(c, err)
		return
	}
	if len(perp) == 0 {
		c.JSON(http.StatusNotFound, apiError{Reason: "no position"})
		return
	}
	c.JSON(http.StatusOK, perp[0])
}

// handleOrderbook L2 盘口代理。marketIndex/marketType 必填，depth 可选。
func (s *Server) handleOrderbook(c *gin.Context) {
	filter, err := marketFilter(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	if filter == nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: "marketIndex and marketType are required"})
		return
	}
	var depth uint32
	if v := c.Query("depth"); v != "" {
		d, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, apiError{Reason: "invalid depth: " + v})
			return
		}
		depth = uint32(d)
	}
	book, err := s.gw.GetOrderbook(c.Request.Context(), *filter, depth)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (s *Server) handleBalance(c *gin.Context) {
	balance, err := s.gw.GetBalance(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"balance": balance})
}

func (s *Server) handleLeverage(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	margin, err := s.gw.GetMarginInfo(opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"leverage": margin.Leverage})
}

func (s *Server) handleCollateral(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	margin, err := s.gw.GetMarginInfo(opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"total": margin.TotalCollateral,
		"free":  margin.FreeCollateral,
	})
}

func (s *Server) handleMarginInfo(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	margin, err := s.gw.GetMarginInfo(opts)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, margin)
}

func (s *Server) handleTxEvents(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	signature := c.Param("signature")
	attributed, success, err := s.gw.TxEvents(c.Request.Context(), opts, signature)
	if err != nil {
		s.writeError(c, err)
		return
	}
	type wireEvent struct {
		SubAccountID uint16 `json:"subAccountId"`
		Event        any    `json:"event"`
	}
	out := make([]wireEvent, 0, len(attributed))
	for _, a := range attributed {
		out = append(out, wireEvent{SubAccountID: a.SubAccountID, Event: a.Event})
	}
	c.JSON(http.StatusOK, gin.H{"success": success, "events": out})
}

func (s *Server) handleTxReceipt(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotFound, apiError{Reason: "receipt journal disabled"})
		return
	}
	receipt, err := s.store.Get(c.Param("signature"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, receipt)
}

type swapRequest struct {
	MarketIn  uint16          `json:"marketIn"`
	MarketOut uint16          `json:"marketOut"`
	AmountIn  decimal.Decimal `json:"amountIn"`
}

func (s *Server) handleSwap(c *gin.Context) {
	opts, err := txOptions(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	var req swapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, apiError{Reason: err.Error()})
		return
	}
	sig, err := s.gw.SwapTokens(c.Request.Context(), opts, req.MarketIn, req.MarketOut, req.AmountIn)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, txResponse{Signature: sig})
}
