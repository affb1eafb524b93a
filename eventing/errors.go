package eventing

import "fmt"

// EventStoreError 事件存储错误基类
type EventStoreError struct {
	Code    string
	Message string
	Cause   error
	EventID string
}

func (e *EventStoreError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EventStoreError) Unwrap() error { return e.Cause }

// NewStoreFailedError 创建存储失败错误
func NewStoreFailedError(message string, cause error) *EventStoreError {
	return &EventStoreError{Code: "STORE_FAILED", Message: message, Cause: cause}
}

var (
	ErrEventNotFound = &EventStoreError{Code: "EVENT_NOT_FOUND", Message: "event not found"}
	ErrInvalidEvent  = &EventStoreError{Code: "INVALID_EVENT", Message: "invalid event"}
)

// ConflictError 版本冲突错误
//
// 追加事件时，事件版本必须恰好等于聚合当前版本 + 1，
// 否则存储层返回该错误。核心必须在追加前读取最新版本计算下一个版本号。
//
// 说明：
//   - ConflictError 本身就是业务错误的最终形态，不再包裹下层错误，因此不实现 Unwrap；
//   - 调用方应通过 errors.As(err, **ConflictError) 来识别版本冲突。
type ConflictError struct {
	AggregateID     string
	ExpectedVersion uint64
	ActualVersion   uint64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: aggregate %s expected version %d, actual version %d",
		e.AggregateID, e.ExpectedVersion, e.ActualVersion)
}

// NewConflictError 创建版本冲突错误
func NewConflictError(aggregateID string, expected, actual uint64) *ConflictError {
	return &ConflictError{AggregateID: aggregateID, ExpectedVersion: expected, ActualVersion: actual}
}
