package chain

import (
	"errors"
	"fmt"
)

// 错误分类是重试策略的依据：
// - RejectedError：确定性失败（preflight 模拟拒绝 / 程序 revert），重发同样失败，不重试
// - TransientError：网络超时、连接失败，在 deadline 内可重试
// - ErrTxNotFound / ErrAccountNotFound：查询对象不存在，与"查到但为空"区分

var (
	// ErrTxNotFound 签名在链上查不到（可能已被丢弃，也可能尚未落地）
	ErrTxNotFound = errors.New("transaction not found")
	// ErrAccountNotFound 账户地址不存在
	ErrAccountNotFound = errors.New("account not found")
	// ErrNoSigner 只读（emulation）模式下的写操作
	ErrNoSigner = errors.New("read-only mode: no signer configured")
)

// RejectedError 确定性拒绝：preflight 模拟失败或链上程序 revert。
// Code 为协议程序错误码，透传给调用方。
type RejectedError struct {
	Code   uint32
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("tx failed (%d): %s", e.Code, e.Reason)
}

// TransientError 暂时性网络错误，可在重播窗口内重试
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient: %s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient 判断错误是否可重试
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// IsRejected 判断错误是否为确定性拒绝
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
