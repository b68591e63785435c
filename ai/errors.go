package ai

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies gateway failures.
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindNotFound     ErrorKind = "not_found"
	KindRateLimited  ErrorKind = "rate_limited"
	KindHTTPStatus   ErrorKind = "http_status"
	KindTransport    ErrorKind = "transport"
	KindDecode       ErrorKind = "decode"
	KindCircuitOpen  ErrorKind = "circuit_open"
	KindIdleTimeout  ErrorKind = "idle_timeout"
	KindInterrupted  ErrorKind = "interrupted"
)

var (
	errConnectTimeout = errors.New("stream connect timeout")
	errIdleTimeout    = errors.New("stream idle timeout")
)

// maxBodyInError bounds how much of an upstream error body is echoed back.
const maxBodyInError = 2048

// Error is returned by every Gateway call. Its message is meant to be shown
// to the end user as the assistant's reply.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnauthorized:
		return "API密钥无效或已过期 (HTTP 401)，请检查AI服务商设置。"
	case KindNotFound:
		return "API端点不存在 (HTTP 404)，请检查服务商地址和模型名称。"
	case KindRateLimited:
		return "请求过于频繁，已被AI服务商限流 (HTTP 429)，请稍后再试。"
	case KindHTTPStatus:
		return fmt.Sprintf("AI服务请求失败 (HTTP %d): %s", e.StatusCode, e.Body)
	case KindCircuitOpen:
		return "AI服务暂时不可用，已暂停向该服务商发送请求，请稍后再试。"
	case KindIdleTimeout:
		return "AI服务响应超时：长时间未收到新的数据。"
	case KindInterrupted:
		return "回复已中断。"
	}
	if errors.Is(e.Err, errConnectTimeout) {
		return "AI服务连接超时，未能在规定时间内建立连接。"
	}
	return fmt.Sprintf("AI服务调用异常: %s", describe(e.Err))
}

func (e *Error) Unwrap() error { return e.Err }

// describe renders an error with its concrete type.
func describe(err error) string {
	if err == nil {
		return "unknown error"
	}
	return fmt.Sprintf("%T: %v", err, err)
}

// KindOf returns the classification of err, or "" when it did not come from the gateway.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

func statusError(code int, body []byte) *Error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxBodyInError {
		text = strings.ToValidUTF8(text[:maxBodyInError], "") + "..."
	}
	e := &Error{StatusCode: code, Body: text}
	switch code {
	case http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case http.StatusNotFound:
		e.Kind = KindNotFound
	case http.StatusTooManyRequests:
		e.Kind = KindRateLimited
	default:
		e.Kind = KindHTTPStatus
	}
	return e
}

// countsAgainstProvider decides what trips the per-provider breaker: the
// provider being unreachable, overloaded, or failing server side.
func countsAgainstProvider(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case KindTransport, KindRateLimited, KindIdleTimeout:
		return true
	case KindHTTPStatus:
		return e.StatusCode >= 500
	default:
		return false
	}
}
