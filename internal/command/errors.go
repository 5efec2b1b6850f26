package command

import "fmt"

// ValidationKind 校验失败的类别
type ValidationKind string

const (
	InvalidStepSize      ValidationKind = "invalid step size"
	BelowMinimum         ValidationKind = "below market minimum"
	InvalidUserOrderID   ValidationKind = "invalid user order id"
	DuplicateUserOrderID ValidationKind = "duplicate user order id"
	OrderNotFound        ValidationKind = "order not found"
	InvalidModification  ValidationKind = "invalid modification"
	EmptyIDs             ValidationKind = "empty id list"
	InvalidTTL           ValidationKind = "invalid ttl"
)

// ValidationError 意图校验失败。
// 校验在构建任何指令之前完成：意图列表中任何一项失败则整个请求失败，
// 不会产生任何链上动作。
type ValidationError struct {
	Kind   ValidationKind
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func validationErr(kind ValidationKind, format string, args ...any) error {
	return &ValidationError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
