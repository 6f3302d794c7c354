package herrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorIsMatchesByKind(t *testing.T) {
	base := New(SensorReadFailed, "", "")
	wrapped := Wrap(SensorReadFailed, "hal.serial.read", "timeout", errors.New("deadline exceeded"))

	assert.True(t, errors.Is(wrapped, base))
	assert.False(t, errors.Is(wrapped, New(RelayWriteFailed, "", "")))
}

func TestErrorUnwrapExposesCause(t *testing.T) {
	cause := errors.New("boom")
	err := Wrap(LogicError, "engine.tick", "unreachable branch", cause)
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestValidationErrorMessage(t *testing.T) {
	err := &ValidationError{Field: "relay_pins", Value: []int{4, 4}, Err: errors.New("duplicate pin")}
	assert.Contains(t, err.Error(), "relay_pins")
	assert.Contains(t, err.Error(), "duplicate pin")
}
