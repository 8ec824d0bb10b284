package domain

import (
	"errors"
	"fmt"
	"strings"
)

// 错误类型，所有对外返回的错误都归属其中之一
var (
	ErrNotFound         = errors.New("not found")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidRequest   = errors.New("invalid request")
	ErrTransport        = errors.New("transport error")
	ErrPartialIngestion = errors.New("partial ingestion failure")
	ErrStoreUnavailable = errors.New("store unavailable")
)

var kinds = []error{
	ErrNotFound,
	ErrForbidden,
	ErrInvalidRequest,
	ErrTransport,
	ErrPartialIngestion,
	ErrStoreUnavailable,
}

// OpError 携带操作名、邮件 ID 与底层原因的错误
type OpError struct {
	Op      string
	EmailID string
	Kind    error
	Err     error
}

// NewOpError 构造 OpError，kind 为空时归为 ErrStoreUnavailable
func NewOpError(op, emailID string, kind, err error) *OpError {
	if kind == nil {
		kind = ErrStoreUnavailable
	}
	return &OpError{Op: op, EmailID: emailID, Kind: kind, Err: err}
}

func (e *OpError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.EmailID != "" {
		fmt.Fprintf(&b, " %s", e.EmailID)
	}
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 同时暴露错误类型和底层原因，errors.Is 对两者都生效
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf 返回错误所属类型，无法识别时归为 ErrStoreUnavailable
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	var opErr *OpError
	if errors.As(err, &opErr) {
		return opErr.Kind
	}
	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrStoreUnavailable
}
