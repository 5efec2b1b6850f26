package chain

import (
	"context"
	"fmt"
)

// Commitment 链上最终性级别
type Commitment string

const (
	CommitmentProcessed Commitment = "processed"
	CommitmentConfirmed Commitment = "confirmed"
	CommitmentFinalized Commitment = "finalized"
)

// ParseCommitment 解析 commitment 字符串
func ParseCommitment(s string) (Commitment, error) {
	switch s {
	case string(CommitmentProcessed):
		return CommitmentProcessed, nil
	case string(CommitmentConfirmed):
		return CommitmentConfirmed, nil
	case string(CommitmentFinalized):
		return CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("one of: processed | confirmed | finalized, got: %s", s)
	}
}

// AtLeast 判断 c 的最终性不低于 other
func (c Commitment) AtLeast(other Commitment) bool {
	rank := map[Commitment]int{
		CommitmentProcessed: 0,
		CommitmentConfirmed: 1,
		CommitmentFinalized: 2,
	}
	return rank[c] >= rank[other]
}

// ExecError 链上程序执行错误（revert）
type ExecError struct {
	Code    uint32 `json:"code"`
	Message string `json:"message"`
}

// SignatureStatus 签名确认状态
type SignatureStatus struct {
	Slot       uint64     `json:"slot"`
	Commitment Commitment `json:"commitment"`
	Err        *ExecError `json:"err,omitempty"`
}

// TxResult 已落地交易的执行结果与程序日志
type TxResult struct {
	Slot      uint64     `json:"slot"`
	BlockTime int64      `json:"blockTime"`
	Logs      []string   `json:"logs"`
	Err       *ExecError `json:"err,omitempty"`
}

// AccountUpdate 账户变更通知（订阅流的元素）
type AccountUpdate struct {
	Pubkey string
	Slot   uint64
	Data   []byte
}

// Client 链访问层。
// 核心只依赖这个接口与上面的错误分类；具体实现见 RPCClient。
type Client interface {
	// SubmitTransaction 提交签名交易到主 endpoint，返回签名。
	// 确定性失败返回 *RejectedError，网络失败返回 *TransientError。
	SubmitTransaction(ctx context.Context, signedTx []byte) (string, error)
	// SubmitTransactionTo 提交到指定 endpoint（重播用）
	SubmitTransactionTo(ctx context.Context, endpoint string, signedTx []byte) (string, error)
	// GetSignatureStatus 查询签名确认状态；未知签名返回 ErrTxNotFound
	GetSignatureStatus(ctx context.Context, signature string) (*SignatureStatus, error)
	// GetTransaction 拉取已确认交易（含程序日志）；未落地返回 ErrTxNotFound
	GetTransaction(ctx context.Context, signature string) (*TxResult, error)
	// GetAccount 拉取账户原始字节
	GetAccount(ctx context.Context, pubkey string) ([]byte, uint64, error)
	// GetBalance 查询原生代币余额（最小单位）
	GetBalance(ctx context.Context, pubkey string) (uint64, error)
	// GetLatestBlockhash 获取最近区块哈希（签名用）
	GetLatestBlockhash(ctx context.Context) (string, error)
	// GetRecentPriorityFees 最近的 fee-market 采样（compute-budget price 估算用）
	GetRecentPriorityFees(ctx context.Context) ([]uint64, error)
	// SubscribeAccount 订阅账户变更；流在 ctx 结束时关闭
	SubscribeAccount(ctx context.Context, pubkey string) (<-chan AccountUpdate, error)
	// Endpoints 返回全部已配置 endpoint（首个为主）
	Endpoints() []string
}
