package txn

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/command"
	"github.com/driftgate/driftgate/internal/metrics"
	"github.com/driftgate/driftgate/pkg/logger"
)

// ErrEngineClosed 引擎已关闭
var ErrEngineClosed = errors.New("txn engine closed")

// Journal 终态回执的持久化接口（可选）
type Journal interface {
	Record(receipt *Receipt) error
}

// ConfirmedFn 确认回调：签名 + 已落地交易（含程序日志）
type ConfirmedFn func(signature string, result *chain.TxResult)

// Options 单笔交易的提交参数
type Options struct {
	// TTL 超过该时长未确认则判 Expired
	TTL time.Duration
	// Rebroadcast 重播间隔；0 使用引擎默认
	Rebroadcast time.Duration
}

// Pending 在途交易句柄
type Pending struct {
	Signature string

	done    chan struct{}
	receipt *Receipt
}

// Wait 阻塞等待终态回执
func (p *Pending) Wait(ctx context.Context) (*Receipt, error) {
	select {
	case <-p.done:
		return p.receipt, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done 终态通知通道
func (p *Pending) Done() <-chan struct{} { return p.done }

// Receipt 终态回执；终态前返回 nil
func (p *Pending) Receipt() *Receipt {
	select {
	case <-p.done:
		return p.receipt
	default:
		return nil
	}
}

// Engine 交易生命周期引擎。
// 提交走 maxRetries=0 的单次广播，重试节奏完全由引擎控制：
// 固定间隔向全部 endpoint 重播原始签名交易，同时轮询确认状态，
// 直到达到目标 commitment、链上失败或 ttl 截止。
type Engine struct {
	client chain.Client
	wallet *chain.Wallet

	defaultTTL  time.Duration
	maxTTL      time.Duration
	rebroadcast time.Duration
	target      chain.Commitment

	journal     Journal
	onConfirmed ConfirmedFn

	mu      sync.Mutex
	pending map[string]*Pending
	closed  bool
	wg      sync.WaitGroup

	log *logrus.Entry
}

// Config 引擎配置
type Config struct {
	DefaultTTL  time.Duration
	MaxTTL      time.Duration
	Rebroadcast time.Duration
	// Commitment 视为确认的目标最终性，默认 confirmed
	Commitment chain.Commitment
}

// NewEngine 创建引擎
func NewEngine(client chain.Client, wallet *chain.Wallet, cfg Config) *Engine {
	if cfg.Commitment == "" {
		cfg.Commitment = chain.CommitmentConfirmed
	}
	return &Engine{
		client:      client,
		wallet:      wallet,
		defaultTTL:  cfg.DefaultTTL,
		maxTTL:      cfg.MaxTTL,
		rebroadcast: cfg.Rebroadcast,
		target:      cfg.Commitment,
		pending:     make(map[string]*Pending),
		log:         logger.Logger.WithField("component", "txn"),
	}
}

// SetJournal 设置终态回执持久化
func (e *Engine) SetJournal(j Journal) { e.journal = j }

// OnConfirmed 设置确认回调（事件抽取管道入口）
func (e *Engine) OnConfirmed(fn ConfirmedFn) { e.onConfirmed = fn }

// InFlight 当前在途交易数
func (e *Engine) InFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Submit 签名并提交一批指令。
// 签名失败（只读钱包）与 preflight 确定性拒绝直接返回错误，
// 交易不进入在途集合；其余情况返回 Pending，后台驱动至终态。
// 同一签名的重复提交幂等：返回已有的 Pending。
func (e *Engine) Submit(ctx context.Context, instructions []command.Instruction, opts Options) (*Pending, error) {
	blockhash, err := e.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, err
	}
	raw, signature, err := BuildTransaction(e.wallet, blockhash, instructions)
	if err != nil {
		return nil, err
	}

	ttl := opts.TTL
	if ttl <= 0 {
		ttl = e.defaultTTL
	}
	if e.maxTTL > 0 && ttl > e.maxTTL {
		ttl = e.maxTTL
	}
	interval := opts.Rebroadcast
	if interval <= 0 {
		interval = e.rebroadcast
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}
	if existing, ok := e.pending[signature]; ok {
		e.mu.Unlock()
		return existing, nil
	}
	p := &Pending{Signature: signature, done: make(chan struct{})}
	e.pending[signature] = p
	e.mu.Unlock()

	// 首次提交带 preflight：确定性拒绝在这里同步失败
	if _, err := e.client.SubmitTransaction(ctx, raw); err != nil {
		if chain.IsRejected(err) {
			e.remove(signature)
			return nil, err
		}
		// 网络瞬断不致命，后台重播接手
		e.log.WithError(err).Warnf("首次提交失败，交由重播: %s", shortSig(signature))
	}
	metrics.TxSubmitted.Add(1)

	submittedAt := time.Now()
	e.wg.Add(1)
	go e.track(p, raw, submittedAt, ttl, interval)
	return p, nil
}

func (e *Engine) remove(signature string) {
	e.mu.Lock()
	delete(e.pending, signature)
	e.mu.Unlock()
}

// track 驱动一笔在途交易到终态
func (e *Engine) track(p *Pending, raw []byte, submittedAt time.Time, ttl, interval time.Duration) {
	defer e.wg.Done()

	ctx, cancel := context.WithDeadline(context.Background(), submittedAt.Add(ttl))
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	rebroadcasts := 0
	for {
		select {
		case <-ctx.Done():
			// 截止仍未观察到终态：不确定结果
			metrics.TxExpired.Add(1)
			e.finish(p, &Receipt{
				Signature:    p.Signature,
				Status:       StatusExpired,
				Rebroadcasts: rebroadcasts,
				SubmittedAt:  submittedAt,
				ResolvedAt:   time.Now(),
			})
			return
		case <-ticker.C:
		}

		status, err := e.client.GetSignatureStatus(ctx, p.Signature)
		switch {
		case errors.Is(err, chain.ErrTxNotFound):
			// 未进入任何区块：向所有 endpoint 重播同一字节
			e.rebroadcastAll(ctx, raw)
			rebroadcasts++
			metrics.TxRebroadcasts.Add(1)
		case err != nil:
			// 瞬时查询失败，下个周期再试
			continue
		case status.Err != nil:
			metrics.TxFailed.Add(1)
			e.finish(p, &Receipt{
				Signature:    p.Signature,
				Status:       StatusFailedOnchain,
				Slot:         status.Slot,
				Err:          status.Err,
				Rebroadcasts: rebroadcasts,
				SubmittedAt:  submittedAt,
				ResolvedAt:   time.Now(),
			})
			return
		case status.Commitment.AtLeast(e.target):
			metrics.TxConfirmed.Add(1)
			e.finish(p, &Receipt{
				Signature:    p.Signature,
				Status:       StatusConfirmed,
				Slot:         status.Slot,
				Rebroadcasts: rebroadcasts,
				SubmittedAt:  submittedAt,
				ResolvedAt:   time.Now(),
			})
			e.emitConfirmed(p.Signature)
			return
		}
	}
}

// rebroadcastAll 把已签名交易重播到全部 endpoint（并发，尽力而为）
func (e *Engine) rebroadcastAll(ctx context.Context, raw []byte) {
	for _, endpoint := range e.client.Endpoints() {
		go func(ep string) {
			if _, err := e.client.SubmitTransactionTo(ctx, ep, raw); err != nil && !chain.IsRejected(err) {
				e.log.WithError(err).Debugf("重播失败: %s", ep)
			}
		}(endpoint)
	}
}

// emitConfirmed 拉取落地交易并触发确认回调
func (e *Engine) emitConfirmed(signature string) {
	if e.onConfirmed == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	result, err := e.client.GetTransaction(ctx, signature)
	if err != nil {
		e.log.WithError(err).Warnf("确认后拉取交易失败: %s", shortSig(signature))
		return
	}
	e.onConfirmed(signature, result)
}

func (e *Engine) finish(p *Pending, receipt *Receipt) {
	p.receipt = receipt
	close(p.done)
	e.remove(p.Signature)
	if e.journal != nil {
		if err := e.journal.Record(receipt); err != nil {
			e.log.WithError(err).Warn("回执写入失败")
		}
	}
	e.log.WithFields(logrus.Fields{
		"signature": shortSig(receipt.Signature),
		"status":    receipt.Status,
		"slot":      receipt.Slot,
	}).Info("交易终态")
}

// Close 停止接收新交易并等待在途交易收敛
func (e *Engine) Close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.wg.Wait()
}

func shortSig(sig string) string {
	if len(sig) > 16 {
		return sig[:16]
	}
	return sig
}
