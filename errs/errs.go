package errs

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind categorizes the error
type Kind string

const (
	KindArgument  Kind = "argument"
	KindResource  Kind = "resource"
	KindOperation Kind = "operation"
)

// Error is the structured error type used throughout isothread
type Error struct {
	Cause  error
	Kind   Kind
	Op     string
	Detail string
	Path   []string
	Code   unix.Errno
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Kind))
	b.WriteByte(']')

	if e.Op != "" {
		b.WriteByte(' ')
		b.WriteString(e.Op)
	}

	if len(e.Path) > 0 {
		b.WriteString(" at ")
		b.WriteString(strings.Join(e.Path, ": "))
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	} else if e.Code != 0 {
		b.WriteString(": ")
		b.WriteString(e.Code.Error())
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. A target without a Code
// matches every error of the same Kind; a target with a Detail also needs
// the same Detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	if t.Detail != "" && e.Detail != t.Detail {
		return false
	}
	return t.Code == 0 || e.Code == t.Code
}

// Position returns the outermost path element, e.g. "argument #2".
func (e *Error) Position() string {
	if len(e.Path) == 0 {
		return ""
	}
	return e.Path[0]
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(kind Kind) *Builder {
	return &Builder{err: Error{Kind: kind}}
}

// Op sets the operation name
func (b *Builder) Op(op string) *Builder {
	b.err.Op = op
	return b
}

// Path sets the offending position
func (b *Builder) Path(path ...string) *Builder {
	b.err.Path = path
	return b
}

// Code sets the errno
func (b *Builder) Code(code unix.Errno) *Builder {
	b.err.Code = code
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	e := b.err
	return &e
}

// Sentinels for errors.Is. They carry no Op so they only match on Kind, Code
// and, when set, Detail.
var (
	ErrArgument  = &Error{Kind: KindArgument}
	ErrResource  = &Error{Kind: KindResource}
	ErrOperation = &Error{Kind: KindOperation}

	ErrBusy      = &Error{Kind: KindOperation, Code: unix.EBUSY}
	ErrTimeout   = &Error{Kind: KindOperation, Code: unix.ETIMEDOUT}
	ErrDeadlock  = &Error{Kind: KindOperation, Code: unix.EDEADLK}
	ErrNotOwner  = &Error{Kind: KindOperation, Code: unix.EPERM}
	ErrInvalid   = &Error{Kind: KindOperation, Code: unix.EINVAL}
	ErrNoThread  = &Error{Kind: KindOperation, Code: unix.ESRCH}
	ErrCancelled = &Error{Kind: KindOperation, Code: unix.ECANCELED}
	ErrAgain     = &Error{Kind: KindOperation, Code: unix.EAGAIN}
	// ErrNotReady is what a non-blocking join reports for a running thread.
	// It is an EBUSY, so it also matches ErrBusy; a busy lock never matches it.
	ErrNotReady = &Error{Kind: KindOperation, Code: unix.EBUSY, Detail: "thread still running"}
)

// Argument creates an argument error for op at path
func Argument(op string, path []string, detail string, args ...any) *Error {
	return New(KindArgument).Op(op).Path(path...).Detail(detail, args...).Build()
}

// Resource creates a resource error wrapping cause
func Resource(op string, cause error) *Error {
	return New(KindResource).Op(op).Cause(cause).Build()
}

// Operation creates an operation error with an errno
func Operation(op string, code unix.Errno) *Error {
	return &Error{Kind: KindOperation, Op: op, Code: code}
}

// Operationf creates an operation error with an errno and a detail message
func Operationf(op string, code unix.Errno, detail string, args ...any) *Error {
	return New(KindOperation).Op(op).Code(code).Detail(detail, args...).Build()
}

// CodeOf extracts the errno carried by err, or 0.
func CodeOf(err error) unix.Errno {
	var e *Error
	if As(err, &e) {
		return e.Code
	}
	return 0
}

// KindOf extracts the Kind carried by err, or "".
func KindOf(err error) Kind {
	var e *Error
	if As(err, &e) {
		return e.Kind
	}
	return ""
}

// As is errors.As restricted to *Error.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

// WithOp returns a copy of err with Op replaced. Used to stamp sentinels with
// the operation that produced them.
func WithOp(err *Error, op string) *Error {
	e := *err
	e.Op = op
	return &e
}
