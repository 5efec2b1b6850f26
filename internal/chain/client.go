package chain

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/driftgate/driftgate/pkg/logger"
)

// RPCClient 基于 JSON-RPC 的链访问实现。
// 一个 resty client 对应一个 endpoint；首个 endpoint 为主，其余用于交易重播。
type RPCClient struct {
	endpoints []string
	clients   map[string]*resty.Client

	wsEndpoint  string
	stateCommit Commitment
	txCommit    Commitment
	log         *logrus.Entry
}

// RPCConfig RPC 客户端配置
type RPCConfig struct {
	// Endpoints HTTP endpoint 列表，首个为主
	Endpoints []string
	// WSEndpoint 账户订阅用的 WS endpoint
	WSEndpoint string
	// StateCommitment 账户/状态读取的最终性级别
	StateCommitment Commitment
	// TxCommitment 交易确认的最终性级别
	TxCommitment Commitment
	// Timeout 单次 RPC 超时
	Timeout time.Duration
}

// NewRPCClient 创建 RPC 客户端
func NewRPCClient(cfg RPCConfig) (*RPCClient, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one rpc endpoint required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.StateCommitment == "" {
		cfg.StateCommitment = CommitmentConfirmed
	}
	if cfg.TxCommitment == "" {
		cfg.TxCommitment = CommitmentConfirmed
	}

	clients := make(map[string]*resty.Client, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		clients[ep] = resty.New().
			SetBaseURL(strings.TrimSuffix(ep, "/")).
			SetTimeout(cfg.Timeout).
			SetHeader("Content-Type", "application/json")
	}

	return &RPCClient{
		endpoints:   cfg.Endpoints,
		clients:     clients,
		wsEndpoint:  cfg.WSEndpoint,
		stateCommit: cfg.StateCommitment,
		txCommit:    cfg.TxCommitment,
		log:         logger.Logger.WithField("component", "chain"),
	}, nil
}

func (c *RPCClient) Endpoints() []string { return c.endpoints }

// TxCommitment 交易确认使用的最终性级别
func (c *RPCClient) TxCommitment() Commitment { return c.txCommit }

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call 发送一次 JSON-RPC 请求，结果解码进 out。
// rpcError 原样返回（由调用方分类），网络层错误包成 TransientError。
func (c *RPCClient) call(ctx context.Context, endpoint, method string, params any, out any) error {
	client, ok := c.clients[endpoint]
	if !ok {
		return errors.Errorf("unknown endpoint: %s", endpoint)
	}

	var body rpcResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(rpcRequest{JSONRPC: "2.0", ID: 1, Method: method, Params: params}).
		SetResult(&body).
		Post("")
	if err != nil {
		return &TransientError{Op: method, Err: err}
	}
	if resp.IsError() {
		return &TransientError{Op: method, Err: fmt.Errorf("http %d", resp.StatusCode())}
	}
	if body.Error != nil {
		return classifyRPCError(method, body.Error)
	}
	if out != nil && len(body.Result) > 0 {
		if err := json.Unmarshal(body.Result, out); err != nil {
			return errors.Wrapf(err, "decode %s result", method)
		}
	}
	return nil
}

// classifyRPCError 把 RPC 错误对象映射进错误分类。
// preflight 模拟失败（确定性）→ RejectedError，其余按暂时性处理。
func classifyRPCError(method string, rpcErr *rpcError) error {
	if code, ok := parseProgramErrorCode(rpcErr.Data); ok {
		return &RejectedError{Code: code, Reason: rpcErr.Message}
	}
	if strings.Contains(rpcErr.Message, "simulation failed") ||
		strings.Contains(rpcErr.Message, "would revert") {
		return &RejectedError{Reason: rpcErr.Message}
	}
	return &TransientError{Op: method, Err: fmt.Errorf("rpc %d: %s", rpcErr.Code, rpcErr.Message)}
}

// parseProgramErrorCode 从 RPC 错误 data 里挖程序自定义错误码。
// 形如 {"err":{"InstructionError":[0,{"Custom":6059}]}}
func parseProgramErrorCode(data json.RawMessage) (uint32, bool) {
	if len(data) == 0 {
		return 0, false
	}
	var wrap struct {
		Err struct {
			InstructionError []json.RawMessage `json:"InstructionError"`
		} `json:"err"`
	}
	if err := json.Unmarshal(data, &wrap); err != nil || len(wrap.Err.InstructionError) < 2 {
		return 0, false
	}
	var custom struct {
		Custom uint32 `json:"Custom"`
	}
	if err := json.Unmarshal(wrap.Err.InstructionError[1], &custom); err != nil {
		return 0, false
	}
	return custom.Custom, true
}

// SubmitTransaction 提交到主 endpoint
func (c *RPCClient) SubmitTransaction(ctx context.Context, signedTx []byte) (string, error) {
	return c.SubmitTransactionTo(ctx, c.endpoints[0], signedTx)
}

// SubmitTransactionTo 提交到指定 endpoint。
// maxRetries=0：节点不自行重发，重播完全由生命周期引擎控制。
func (c *RPCClient) SubmitTransactionTo(ctx context.Context, endpoint string, signedTx []byte) (string, error) {
	var sig string
	err := c.call(ctx, endpoint, "sendTransaction", []any{
		base64.StdEncoding.EncodeToString(signedTx),
		map[string]any{
			"encoding":            "base64",
			"maxRetries":          0,
			"preflightCommitment": c.txCommit,
		},
	}, &sig)
	if err != nil {
		return "", err
	}
	return sig, nil
}

// GetSignatureStatus 查询签名状态
func (c *RPCClient) GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error) {
	var result struct {
		Value []*struct {
			Slot               uint64          `json:"slot"`
			ConfirmationStatus string          `json:"confirmationStatus"`
			Err                json.RawMessage `json:"err"`
		} `json:"value"`
	}
	err := c.call(ctx, c.endpoints[0], "getSignatureStatuses",
		[]any{[]string{signature}, map[string]any{"searchTransactionHistory": true}}, &result)
	if err != nil {
		return nil, err
	}
	if len(result.Value) == 0 || result.Value[0] == nil {
		return nil, ErrTxNotFound
	}
	v := result.Value[0]
	status := &SignatureStatus{
		Slot:       v.Slot,
		Commitment: Commitment(v.ConfirmationStatus),
	}
	if len(v.Err) > 0 && string(v.Err) != "null" {
		code, _ := parseProgramErrorCode(wrapErrField(v.Err))
		status.Err = &ExecError{Code: code, Message: string(v.Err)}
	}
	return status, nil
}

// GetTransaction 拉取已落地交易
func (c *RPCClient) GetTransaction(ctx context.Context, signature string) (*TxResult, error) {
	var result *struct {
		Slot      uint64 `json:"slot"`
		BlockTime int64  `json:"blockTime"`
		Meta      struct {
			Err         json.RawMessage `json:"err"`
			LogMessages []string        `json:"logMessages"`
		} `json:"meta"`
	}
	err := c.call(ctx, c.endpoints[0], "getTransaction", []any{
		signature,
		map[string]any{"encoding": "base64", "commitment": c.txCommit, "maxSupportedTransactionVersion": 0},
	}, &result)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, ErrTxNotFound
	}
	tx := &TxResult{
		Slot:      result.Slot,
		BlockTime: result.BlockTime,
		Logs:      result.Meta.LogMessages,
	}
	if len(result.Meta.Err) > 0 && string(result.Meta.Err) != "null" {
		code, _ := parseProgramErrorCode(wrapErrField(result.Meta.Err))
		tx.Err = &ExecError{Code: code, Message: string(result.Meta.Err)}
	}
	return tx, nil
}

// wrapErrField 把裸 err 字段包成 parseProgramErrorCode 期望的形状
func wrapErrField(raw json.RawMessage) json.RawMessage {
	wrapped, _ := json.Marshal(map[string]json.RawMessage{"err": raw})
	return wrapped
}

// GetAccount 拉取账户数据（base64 编码）
func (c *RPCClient) GetAccount(ctx context.Context, pubkey string) ([]byte, uint64, error) {
	var result struct {
		Context struct {
			Slot uint64 `json:"slot"`
		} `json:"context"`
		Value *struct {
			Data []string `json:"data"`
		} `json:"value"`
	}
	err := c.call(ctx, c.endpoints[0], "getAccountInfo", []any{
		pubkey,
		map[string]any{"encoding": "base64", "commitment": c.stateCommit},
	}, &result)
	if err != nil {
		return nil, 0, err
	}
	if result.Value == nil || len(result.Value.Data) == 0 {
		return nil, 0, ErrAccountNotFound
	}
	raw, err := base64.StdEncoding.DecodeString(result.Value.Data[0])
	if err != nil {
		return nil, 0, errors.Wrap(err, "decode account data")
	}
	return raw, result.Context.Slot, nil
}

// GetBalance 余额查询
func (c *RPCClient) GetBalance(ctx context.Context, pubkey string) (uint64, error) {
	var result struct {
		Value uint64 `json:"value"`
	}
	if err := c.call(ctx, c.endpoints[0], "getBalance", []any{pubkey}, &result); err != nil {
		return 0, err
	}
	return result.Value, nil
}

// GetLatestBlockhash 获取最近区块哈希
func (c *RPCClient) GetLatestBlockhash(ctx context.Context) (string, error) {
	var result struct {
		Value struct {
			Blockhash string `json:"blockhash"`
		} `json:"value"`
	}
	err := c.call(ctx, c.endpoints[0], "getLatestBlockhash",
		[]any{map[string]any{"commitment": CommitmentFinalized}}, &result)
	if err != nil {
		return "", err
	}
	return result.Value.Blockhash, nil
}

// GetRecentPriorityFees 最近 fee-market 采样
func (c *RPCClient) GetRecentPriorityFees(ctx context.Context) ([]uint64, error) {
	var result []struct {
		Slot              uint64 `json:"slot"`
		PrioritizationFee uint64 `json:"prioritizationFee"`
	}
	if err := c.call(ctx, c.endpoints[0], "getRecentPrioritizationFees", []any{}, &result); err != nil {
		return nil, err
	}
	fees := make([]uint64, 0, len(result))
	for _, r := range result {
		fees = append(fees, r.PrioritizationFee)
	}
	return fees, nil
}
