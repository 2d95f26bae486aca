package chain

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"signer rejection", ErrUserRejected, ReasonRejected},
		{"wrapped rejection", fmt.Errorf("send: %w", ErrUserRejected), ReasonRejected},
		{"deadline", context.DeadlineExceeded, ReasonTimeout},
		{"revert", errors.New("execution reverted: insufficient allowance"), ReasonReverted},
		{"refused", errors.New("dial tcp 127.0.0.1:8545: connection refused"), ReasonConnection},
		{"dns", errors.New("dial tcp: lookup rpc.invalid: no such host"), ReasonConnection},
		{"anything else", errors.New("nonce too low"), ReasonCallFailed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, classify(tc.err))
		})
	}
}

func TestWrapPreservesExistingClassification(t *testing.T) {
	inner := &ChainError{Reason: ReasonReverted, Op: "purchase", Err: errors.New("boom")}
	assert.Same(t, inner, wrap("outer", inner).(*ChainError))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, wrap("op", nil))
}

func TestReason(t *testing.T) {
	assert.Equal(t, ReasonTimeout, Reason(wrap("confirm", context.DeadlineExceeded)))
	assert.Equal(t, ReasonCallFailed, Reason(errors.New("bare error")))

	wrapped := fmt.Errorf("pipeline: %w", &ChainError{Reason: ReasonRejected, Op: "approve"})
	assert.Equal(t, ReasonRejected, Reason(wrapped))
}

func TestChainErrorFormatting(t *testing.T) {
	withCause := &ChainError{Reason: ReasonConnection, Op: "dial", Err: errors.New("refused")}
	assert.Equal(t, "dial: connection_failed: refused", withCause.Error())
	assert.ErrorIs(t, withCause, withCause.Err)

	bare := &ChainError{Reason: ReasonUnknownNetwork, Op: "switch network"}
	assert.Equal(t, "switch network: unknown_network", bare.Error())
}
