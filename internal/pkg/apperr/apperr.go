// Package apperr 错误分类：每个对外可见的错误都带一个 Kind，
// handler 与 worker 依据 Kind 决定响应码和落库的错误信息。
package apperr

import (
	"errors"
)

type Kind string

const (
	KindNotFound      Kind = "not_found"
	KindPrecondition  Kind = "precondition_failed"
	KindConfiguration Kind = "configuration_error"
	KindExternalTool  Kind = "external_tool_error"
	KindProvider      Kind = "provider_error"
	KindMalformed     Kind = "malformed_response"
	KindConflict      Kind = "conflict"
	KindInternal      Kind = "internal"
)

// Error 带分类的错误
type Error struct {
	kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Kind 错误分类
func (e *Error) Kind() Kind {
	return e.kind
}

// New 创建分类错误
func New(kind Kind, message string) *Error {
	return &Error{kind: kind, Message: message}
}

// Wrap 为底层错误附加分类和说明
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{kind: kind, Message: message, Err: err}
}

type kinded interface {
	Kind() Kind
}

// KindOf 返回错误链上第一个带分类的错误的 Kind，找不到时为 KindInternal
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// Describe 返回 "kind: message"，用于写入 error_message 字段
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return string(KindOf(err)) + ": " + err.Error()
}
