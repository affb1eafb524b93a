// Package errors 提供编排核心的统一错误体系
//
// 设计目标：
//   - 对外统一暴露 ErrorCode 体系，避免边界层出现一堆“裸”错误类型；
//   - 每个错误携带 HTTP 状态提示，供被排除在核心之外的路由层翻译；
//   - 保留原始错误作为 cause，方便日志与调试。
package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误代码类型
type ErrorCode string

// 预定义错误代码
const (
	// 通用错误代码
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotFound ErrorCode = "NOT_FOUND"
	ErrCodeConflict ErrorCode = "CONFLICT"
	ErrCodeTimeout  ErrorCode = "TIMEOUT"

	// 业务错误代码
	ErrCodeValidation   ErrorCode = "VALIDATION_ERROR"
	ErrCodeStateMachine ErrorCode = "STATE_MACHINE_ERROR"
	ErrCodeExecution    ErrorCode = "EXECUTION_ERROR"
	ErrCodeIntegration  ErrorCode = "INTEGRATION_ERROR"
)

// httpStatusByCode 各错误代码的 HTTP 状态提示
var httpStatusByCode = map[ErrorCode]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeNotFound:     http.StatusNotFound,
	ErrCodeConflict:     http.StatusConflict,
	ErrCodeTimeout:      http.StatusGatewayTimeout,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeStateMachine: http.StatusUnprocessableEntity,
	ErrCodeExecution:    http.StatusInternalServerError,
	ErrCodeIntegration:  http.StatusBadGateway,
}

// AppError 应用错误实现
//
// 可通过 errors.As 识别；Code/HTTPStatus 供边界层翻译使用。
type AppError struct {
	code    ErrorCode
	message string
	cause   error
	details map[string]any
}

// New 创建新错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{code: code, message: message}
}

// Newf 创建带格式化消息的新错误
func Newf(code ErrorCode, format string, args ...any) *AppError {
	return &AppError{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap 包装错误
//
// 未识别的内部错误在跨出核心边界前必须经过包装，
// 避免未标注的内部细节泄露给调用方。
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{code: code, message: message, cause: err}
}

// WrapInternal 以通用代码包装意外错误
func WrapInternal(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr
	}
	return &AppError{code: ErrCodeInternal, message: "internal error", cause: err}
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Code 获取错误代码
func (e *AppError) Code() ErrorCode { return e.code }

// Message 获取错误消息
func (e *AppError) Message() string { return e.message }

// Cause 获取原始错误
func (e *AppError) Cause() error { return e.cause }

// HTTPStatus 获取 HTTP 状态提示
func (e *AppError) HTTPStatus() int {
	if status, ok := httpStatusByCode[e.code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Details 获取错误详情
func (e *AppError) Details() map[string]any {
	if e.details == nil {
		e.details = make(map[string]any)
	}
	return e.details
}

// WithDetail 添加上下文详情，返回新错误
func (e *AppError) WithDetail(key string, value any) *AppError {
	details := make(map[string]any, len(e.details)+1)
	for k, v := range e.details {
		details[k] = v
	}
	details[key] = value
	return &AppError{code: e.code, message: e.message, cause: e.cause, details: details}
}

// Is 检查是否为指定类型的错误
//
// 两个 AppError 的等价性按错误代码判断，而不是指针相等。
func (e *AppError) Is(target error) bool {
	if target == nil {
		return false
	}
	if appErr, ok := target.(*AppError); ok {
		return e.code == appErr.code
	}
	if e.cause != nil {
		return stdErrors.Is(e.cause, target)
	}
	return false
}

// Unwrap 解包错误（支持 errors.Unwrap）
func (e *AppError) Unwrap() error { return e.cause }

// 语义化构造函数，对应核心错误分类

// NewValidation 创建验证错误（非法输入、未知定义名等）
func NewValidation(format string, args ...any) *AppError {
	return Newf(ErrCodeValidation, format, args...)
}

// NewNotFound 创建未找到错误（Saga/工作流/执行/步骤不存在）
func NewNotFound(format string, args ...any) *AppError {
	return Newf(ErrCodeNotFound, format, args...)
}

// NewStateMachine 创建状态机错误（无起始状态、未知状态等）
func NewStateMachine(format string, args ...any) *AppError {
	return Newf(ErrCodeStateMachine, format, args...)
}

// NewExecution 创建执行错误（工作流运行失败）
func NewExecution(format string, args ...any) *AppError {
	return Newf(ErrCodeExecution, format, args...)
}

// IsErrorCode 检查是否为指定错误代码
func IsErrorCode(err error, code ErrorCode) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	if stdErrors.As(err, &appErr) {
		return appErr.code == code
	}
	return false
}

// IsNotFound 检查是否为未找到错误
func IsNotFound(err error) bool { return IsErrorCode(err, ErrCodeNotFound) }

// IsValidation 检查是否为验证错误
func IsValidation(err error) bool { return IsErrorCode(err, ErrCodeValidation) }

// IsConflict 检查是否为冲突错误
func IsConflict(err error) bool { return IsErrorCode(err, ErrCodeConflict) }
