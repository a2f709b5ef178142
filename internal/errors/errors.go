package errors

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound   = errors.New("configuration file not found")
	ErrTaskNotFound     = errors.New("task not found")
	ErrRunNotFound      = errors.New("run not found")
	ErrStatusRegression = errors.New("completed task cannot be marked failed")
	ErrNoPayload        = errors.New("no payload file found in container")
	ErrVerification     = errors.New("verification failed")
	ErrInvalidRequest   = errors.New("invalid download request")
)

// Kind classifies an error for the retry loop.
type Kind int

const (
	// Transient errors are retried: network, server, container and verification failures.
	Transient Kind = iota
	// Fatal errors stop immediately: bad configuration, rejected credentials, persistence.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error is an operation failure tagged with its Kind.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewTransient wraps err as a retryable failure of op.
func NewTransient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Transient, Op: op, Err: err}
}

// NewFatal wraps err as a non-retryable failure of op.
func NewFatal(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: Fatal, Op: op, Err: err}
}

// KindOf reports the kind of the outermost tagged error in err's chain.
// Untagged errors are treated as transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Transient
}

// IsFatal reports whether err must not be retried.
func IsFatal(err error) bool {
	return err != nil && KindOf(err) == Fatal
}
