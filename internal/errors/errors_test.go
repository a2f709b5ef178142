package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := errors.New("connection reset")

	transient := NewTransient("fetch", base)
	fatal := NewFatal("plan", ErrInvalidRequest)

	assert.Equal(t, Transient, KindOf(transient))
	assert.Equal(t, Fatal, KindOf(fatal))
	assert.Equal(t, Transient, KindOf(base), "untagged errors default to transient")

	wrapped := fmt.Errorf("attempt 2: %w", fatal)
	assert.True(t, IsFatal(wrapped))
	assert.True(t, errors.Is(wrapped, ErrInvalidRequest))
	assert.False(t, IsFatal(nil))
}

func TestError_Message(t *testing.T) {
	err := NewTransient("verify", ErrVerification)
	assert.Equal(t, "verify: verification failed", err.Error())
	assert.Nil(t, NewFatal("noop", nil))
	assert.Equal(t, "fatal", Fatal.String())
}
