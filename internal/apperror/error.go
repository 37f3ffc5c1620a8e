// Package apperror 定义网关统一的错误分类。
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误类别
type Kind string

const (
	KindAudioValidation Kind = "AudioValidationError"
	KindTranscription   Kind = "TranscriptionError"
	KindGeneration      Kind = "GenerationError"
	KindSynthesis       Kind = "SynthesisError"
	KindSessionNotFound Kind = "SessionNotFoundError"
	KindSessionStore    Kind = "SessionStoreError"
	KindRateLimited     Kind = "RateLimitedError"
	KindInvalidRequest  Kind = "InvalidRequestError"
	KindSessionInUse    Kind = "SessionInUseError"
)

// Code 机器可读的错误码
type Code string

// 音频校验
const (
	CodeUnsupportedFormat Code = "UNSUPPORTED_FORMAT"
	CodeFileTooLarge      Code = "FILE_TOO_LARGE"
	CodeDurationExceeded  Code = "DURATION_EXCEEDED"
	CodeAudioDecode       Code = "AUDIO_DECODE_ERROR"
)

// 上游与存储
const (
	CodeTranscription    Code = "TRANSCRIPTION_ERROR"
	CodeGeneration       Code = "RESPONSE_GENERATION_ERROR"
	CodeSynthesis        Code = "SYNTHESIS_ERROR"
	CodeTextTooLong      Code = "TEXT_TOO_LONG"
	CodeEmptyText        Code = "EMPTY_TEXT"
	CodeSessionNotFound  Code = "SESSION_NOT_FOUND"
	CodeSessionStore     Code = "SESSION_STORE_ERROR"
	CodeRateLimited      Code = "RATE_LIMIT_EXCEEDED"
	CodeSessionInUse     Code = "SESSION_IN_USE"
	CodeConnectionExists Code = "CONNECTION_EXISTS"
)

// 请求与协议
const (
	CodeInvalidRequest        Code = "INVALID_REQUEST"
	CodeInvalidMessage        Code = "INVALID_MESSAGE"
	CodeUnknownMessageType    Code = "UNKNOWN_MESSAGE_TYPE"
	CodeSessionNotInitialized Code = "SESSION_NOT_INITIALIZED"
	CodeNoAudioData           Code = "NO_AUDIO_DATA"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error 携带类别、错误码与可选的阶段名。
type Error struct {
	Kind    Kind
	Code    Code
	Message string
	Stage   string
	Cause   error
}

func (e *Error) Error() string {
	prefix := string(e.Kind)
	if e.Stage != "" {
		prefix = e.Stage + ": " + prefix
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s] %s: %v", prefix, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s [%s] %s", prefix, e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New 创建一个错误。
func New(kind Kind, code Code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap 以给定类别包装底层错误。
func Wrap(kind Kind, code Code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Cause: cause}
}

// WithStage 返回带阶段名的副本。
func (e *Error) WithStage(stage string) *Error {
	cp := *e
	cp.Stage = stage
	return &cp
}

// AudioValidation 构造音频校验错误。
func AudioValidation(code Code, message string) *Error {
	return New(KindAudioValidation, code, message)
}

// SessionNotFound 构造会话不存在错误。
func SessionNotFound(sessionID string) *Error {
	return New(KindSessionNotFound, CodeSessionNotFound, fmt.Sprintf("session %s not found", sessionID))
}

// SessionStore 包装存储层故障。
func SessionStore(op string, cause error) *Error {
	return Wrap(KindSessionStore, CodeSessionStore, op+" failed", cause)
}

// InvalidRequest 构造请求校验错误。
func InvalidRequest(code Code, message string) *Error {
	return New(KindInvalidRequest, code, message)
}

// RateLimited 构造上游限流错误。
func RateLimited(message string, cause error) *Error {
	return Wrap(KindRateLimited, CodeRateLimited, message, cause)
}

// As 提取链上的 *Error。
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf 返回错误类别，未分类时为空。
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

// Is 判断错误是否属于某类别。
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsClientError 报告错误是否由调用方输入引起。
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindAudioValidation, KindSessionNotFound, KindInvalidRequest, KindSessionInUse, KindRateLimited:
		return true
	default:
		return false
	}
}

// HTTPStatus 把错误映射到 HTTP 状态码。
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindAudioValidation, KindInvalidRequest:
		return http.StatusBadRequest
	case KindSessionNotFound:
		return http.StatusNotFound
	case KindSessionInUse:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTranscription, KindGeneration, KindSynthesis:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicError 是可以返回给客户端的错误视图。
type PublicError struct {
	Kind    Kind   `json:"kind,omitempty"`
	Code    Code   `json:"error_code"`
	Message string `json:"error"`
}

// Public 生成客户端可见的错误；未分类错误不暴露内部细节。
func Public(err error) PublicError {
	e, ok := As(err)
	if !ok {
		return PublicError{Code: CodeInternal, Message: "internal server error"}
	}
	msg := e.Message
	if e.Stage != "" {
		msg = e.Stage + ": " + msg
	}
	return PublicError{Kind: e.Kind, Code: e.Code, Message: msg}
}
