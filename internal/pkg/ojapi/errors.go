package ojapi

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

type ErrorKind int

const (
	KindGeneric ErrorKind = iota
	KindAuth
	KindTimeout
	KindConnection
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindTimeout:
		return "timeout"
	case KindConnection:
		return "connection"
	}

	return "generic"
}

// Error is returned by every API implementation
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("ojmicroline %s: %s error", e.Op, e.Kind)
	}

	return fmt.Sprintf("ojmicroline %s: %s error: %s", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf classifies any error coming back from a client call.  Context
// deadlines count as timeouts, anything unrecognised is generic.
func KindOf(err error) ErrorKind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}

	return KindGeneric
}

func IsAuthError(err error) bool {
	return err != nil && KindOf(err) == KindAuth
}
