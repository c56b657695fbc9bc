package managed

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"toolgate/internal/api"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want api.ErrorKind
	}{
		{"kinded error", kinded(api.ErrKindCircuitOpen, "open"), api.ErrKindCircuitOpen},
		{"wrapped kinded error", fmt.Errorf("outer: %w", kinded(api.ErrKindTimeout, "slow")), api.ErrKindTimeout},
		{"deadline", context.DeadlineExceeded, api.ErrKindTimeout},
		{"canceled", context.Canceled, api.ErrKindAborted},
		{"plain error", errors.New("boom"), api.ErrKindExecution},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindErrorUnwrap(t *testing.T) {
	inner := errors.New("inner")
	err := &KindError{Kind: api.ErrKindConnection, Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "inner", err.Error())
}
