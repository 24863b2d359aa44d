package domain

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindValidation Kind = "validation"
	KindTransform  Kind = "transform"
	KindEffect     Kind = "effect"
	KindOptimizer  Kind = "optimizer"
	KindStorage    Kind = "storage"
)

var (
	ErrValidation = errors.New("invalid transform input")
	ErrTransform  = errors.New("transform failed")
	ErrEffect     = errors.New("effect failed")
	ErrOptimizer  = errors.New("optimizer failed")
	ErrStorage    = errors.New("storage publish failed")
)

// Error is the classified failure that crosses component boundaries. Handle,
// Source and Descriptor are filled in as far as the failing stage knows them.
type Error struct {
	Kind       Kind
	Op         string
	Handle     string
	Source     string
	Descriptor string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.Handle != "" {
		fmt.Fprintf(&b, " handle=%s", e.Handle)
	}
	if e.Source != "" {
		fmt.Fprintf(&b, " source=%s", e.Source)
	}
	if e.Descriptor != "" {
		fmt.Fprintf(&b, " transform=%q", e.Descriptor)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == sentinelFor(e.Kind)
}

func sentinelFor(kind Kind) error {
	switch kind {
	case KindValidation:
		return ErrValidation
	case KindTransform:
		return ErrTransform
	case KindEffect:
		return ErrEffect
	case KindOptimizer:
		return ErrOptimizer
	case KindStorage:
		return ErrStorage
	default:
		return nil
	}
}

func Errorf(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap classifies err as kind unless it already carries a classification, in
// which case the existing kind wins and only missing context is filled in.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		out := *classified
		if out.Op == "" {
			out.Op = op
		}
		return &out
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) WithHandle(handle string) *Error {
	if e.Handle == "" {
		e.Handle = handle
	}
	return e
}

func (e *Error) WithSource(source string) *Error {
	if e.Source == "" {
		e.Source = source
	}
	return e
}

func (e *Error) WithDescriptor(summary string) *Error {
	if e.Descriptor == "" {
		e.Descriptor = summary
	}
	return e
}

func KindOf(err error) (Kind, bool) {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind, true
	}
	return "", false
}
