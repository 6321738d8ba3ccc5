package errors

import (
	"errors"
	"fmt"
)

// ErrorCode 错误码类型
type ErrorCode string

const (
	CodeInvalidInput   ErrorCode = "INVALID_INPUT"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeAlreadyExists  ErrorCode = "ALREADY_EXISTS"
	CodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	CodeForbidden      ErrorCode = "FORBIDDEN"
	CodeInternal       ErrorCode = "INTERNAL_ERROR"
	CodeServiceUnavail ErrorCode = "SERVICE_UNAVAILABLE"

	// CodeValidation covers malformed tool arguments or harness inputs.
	CodeValidation ErrorCode = "VALIDATION_ERROR"
	// CodeUnknownTool is returned when a tool call names a tool absent from the registry.
	CodeUnknownTool ErrorCode = "UNKNOWN_TOOL"
	// CodeHandlerError wraps a returned error or recovered panic from a tool handler.
	CodeHandlerError ErrorCode = "HANDLER_ERROR"
	// CodeProviderError marks a failure from the LLM provider. The agent loop
	// does not retry it; it fails the run unless the provider was wrapped in
	// provider.RetryingProvider, which retries before the error reaches the loop.
	CodeProviderError ErrorCode = "PROVIDER_ERROR"
	// CodeBudgetExceeded marks a token, step, or wall-clock budget breach.
	CodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"
	// CodeDenied marks an approval gate rejection.
	CodeDenied ErrorCode = "DENIED"
	// CodeCancelled marks a run or subagent cancelled by its caller.
	CodeCancelled ErrorCode = "CANCELLED"
	// CodeSubagentError wraps an error surfaced by a failed subagent run.
	CodeSubagentError ErrorCode = "SUBAGENT_ERROR"
)

// AppError 应用错误
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 实现 errors.Unwrap
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError 创建无效输入错误
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Code:    CodeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError 创建未找到错误
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Code:    CodeNotFound,
		Message: message,
	}
}

// NewAlreadyExistsError 创建已存在错误
func NewAlreadyExistsError(message string) *AppError {
	return &AppError{
		Code:    CodeAlreadyExists,
		Message: message,
	}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
	}
}

// NewInternalErrorWithCause 创建带原因的内部错误
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{
		Code:    CodeInternal,
		Message: message,
		Err:     cause,
	}
}

// IsNotFound 判断是否为未找到错误
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}

// IsInvalidInput 判断是否为无效输入错误
func IsInvalidInput(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidInput
	}
	return false
}

// NewValidationError reports malformed tool arguments or harness input.
func NewValidationError(message string, cause error) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Err: cause}
}

// NewUnknownToolError reports a tool call naming a tool absent from the registry.
func NewUnknownToolError(name string) *AppError {
	return &AppError{Code: CodeUnknownTool, Message: fmt.Sprintf("unknown tool %q", name)}
}

// NewHandlerError wraps a tool handler's returned error or recovered panic.
func NewHandlerError(toolName string, cause error) *AppError {
	return &AppError{Code: CodeHandlerError, Message: fmt.Sprintf("tool %q handler failed", toolName), Err: cause}
}

// NewProviderError wraps a failure from the LLM provider.
func NewProviderError(message string, cause error) *AppError {
	return &AppError{Code: CodeProviderError, Message: message, Err: cause}
}

// NewBudgetExceededError reports a token, step, or wall-clock budget breach.
func NewBudgetExceededError(message string) *AppError {
	return &AppError{Code: CodeBudgetExceeded, Message: message}
}

// NewDeniedError reports an approval gate rejection.
func NewDeniedError(message string) *AppError {
	return &AppError{Code: CodeDenied, Message: message}
}

// NewCancelledError reports a run or subagent cancelled by its caller.
func NewCancelledError(message string) *AppError {
	return &AppError{Code: CodeCancelled, Message: message}
}

// NewSubagentError wraps an error surfaced by a failed subagent run.
func NewSubagentError(subagentID string, cause error) *AppError {
	return &AppError{Code: CodeSubagentError, Message: fmt.Sprintf("subagent %q failed", subagentID), Err: cause}
}

// Is allows errors.Is(err, Sentinel(code)) style matching by code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel returns a comparable zero-value AppError for a given code, for use with errors.Is.
func Sentinel(code ErrorCode) *AppError {
	return &AppError{Code: code}
}

// CodeOf extracts the ErrorCode from err, or "" if err is not an *AppError.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
