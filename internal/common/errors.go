package common

import (
	"errors"
	"fmt"
)

// AppError 应用级错误结构
// Code 是错误的类别标签，调用方通过 errors.Is 或 CodeOf 进行匹配，而不是解析消息文本
type AppError struct {
	Code       string
	Message    string
	StatusCode int    // HTTP 状态码 (仅 GitHub 相关错误)
	Body       string // 原始响应体，用于诊断
	Err        error
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// Is 按错误码匹配，使 errors.Is(err, ErrNotFound) 可用
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WrapError 包装错误
func WrapError(code, message string, err error) error {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewError 创建新错误
func NewError(code, message string) error {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewHTTPError 创建携带状态码和响应体的错误
func NewHTTPError(code, message string, status int, body string, err error) error {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: status,
		Body:       body,
		Err:        err,
	}
}

// CodeOf 返回错误链中最外层 AppError 的错误码，没有则返回空字符串
func CodeOf(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// 错误码常量
const (
	ErrCodeInvalidURL      = "INVALID_URL"
	ErrCodeNotFound        = "NOT_FOUND"
	ErrCodeAuthFailed      = "AUTH_FAILED"
	ErrCodeRateLimited     = "RATE_LIMITED"
	ErrCodeNetwork         = "NETWORK_ERROR"
	ErrCodeGitHubAPI       = "GITHUB_API_ERROR"
	ErrCodeAnalysisFailure = "ANALYSIS_FAILURE"
	ErrCodeInvalidInput    = "INVALID_INPUT"
	ErrCodeCache           = "CACHE_ERROR"
	ErrCodeDatabase        = "DATABASE_ERROR"
	ErrCodeAIProcessing    = "AI_PROCESSING_ERROR"
)

// 用于 errors.Is 的哨兵错误
var (
	ErrInvalidURL   = NewError(ErrCodeInvalidURL, "invalid repository url")
	ErrNotFound     = NewError(ErrCodeNotFound, "not found")
	ErrAuthFailed   = NewError(ErrCodeAuthFailed, "authentication failed")
	ErrRateLimited  = NewError(ErrCodeRateLimited, "rate limit exceeded")
	ErrNetwork      = NewError(ErrCodeNetwork, "network error")
	ErrAPI          = NewError(ErrCodeGitHubAPI, "github api error")
	ErrAnalysis     = NewError(ErrCodeAnalysisFailure, "analysis failure")
	ErrInvalidInput = NewError(ErrCodeInvalidInput, "invalid input")
)
