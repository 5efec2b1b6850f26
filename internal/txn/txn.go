// Package txn 交易生命周期引擎：签名、提交、重播、确认轮询。
package txn

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/pkg/errors"

	"github.com/driftgate/driftgate/internal/chain"
	"github.com/driftgate/driftgate/internal/command"
)

// Status 交易状态机。
// Building -> Signed -> Submitted -> {Confirmed | FailedOnchain | Expired}
// 终态不可再迁移；Expired 是不确定终态（交易可能仍在之后落地）。
type Status string

const (
	StatusBuilding      Status = "building"
	StatusSigned        Status = "signed"
	StatusSubmitted     Status = "submitted"
	StatusConfirmed     Status = "confirmed"
	StatusFailedOnchain Status = "failedOnchain"
	StatusExpired       Status = "expired"
)

// Terminal 是否终态
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusFailedOnchain, StatusExpired:
		return true
	}
	return false
}

// Receipt 交易的最终结果
type Receipt struct {
	Signature    string           `json:"signature"`
	Status       Status           `json:"status"`
	Slot         uint64           `json:"slot,omitempty"`
	Err          *chain.ExecError `json:"err,omitempty"`
	Rebroadcasts int              `json:"rebroadcasts,omitempty"`
	SubmittedAt  time.Time        `json:"submittedAt"`
	ResolvedAt   time.Time        `json:"resolvedAt"`
}

// message 待签名的交易消息
type message struct {
	Payer        string                `json:"payer"`
	Blockhash    string                `json:"blockhash"`
	Instructions []command.Instruction `json:"instructions"`
}

// signedTx 签名后的交易封装（提交时整体 base64）
type signedTx struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

// BuildTransaction 组装并签名交易。
// 返回的 signature 即交易身份：同一 (payer, blockhash, instructions)
// 签名得到相同 signature，重复提交天然幂等。
func BuildTransaction(wallet *chain.Wallet, blockhash string, instructions []command.Instruction) ([]byte, string, error) {
	msg, err := json.Marshal(message{
		Payer:        wallet.SignerKey(),
		Blockhash:    blockhash,
		Instructions: instructions,
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal transaction message")
	}
	sig, err := wallet.SignTx(msg)
	if err != nil {
		return nil, "", err
	}
	signature := hex.EncodeToString(sig)
	raw, err := json.Marshal(signedTx{
		Message:   base64.StdEncoding.EncodeToString(msg),
		Signature: signature,
	})
	if err != nil {
		return nil, "", errors.Wrap(err, "marshal signed transaction")
	}
	return raw, signature, nil
}
