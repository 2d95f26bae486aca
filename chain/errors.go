package chain

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Failure reasons for chain operations. The orchestrator maps these
// into its own error taxonomy; raw RPC errors never cross that line.
const (
	ReasonRejected        = "user_rejected"
	ReasonNetworkMismatch = "network_mismatch"
	ReasonUnknownNetwork  = "unknown_network"
	ReasonCallFailed      = "contract_call_failed"
	ReasonReverted        = "transaction_reverted"
	ReasonTimeout         = "timeout"
	ReasonConnection      = "connection_failed"
)

// ErrUserRejected is returned by interactive TxSigner implementations
// when the operator declines to sign.
var ErrUserRejected = errors.New("transaction rejected by signer")

// ChainError wraps a chain-level failure with a classified reason.
type ChainError struct {
	Reason string
	Op     string
	Err    error
}

func (e *ChainError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }

// Reason extracts the classified reason from err, or ReasonCallFailed
// for anything unclassified.
func Reason(err error) string {
	var ce *ChainError
	if errors.As(err, &ce) {
		return ce.Reason
	}
	return ReasonCallFailed
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ce *ChainError
	if errors.As(err, &ce) {
		return err
	}
	return &ChainError{Reason: classify(err), Op: op, Err: err}
}

func classify(err error) string {
	switch {
	case errors.Is(err, ErrUserRejected):
		return ReasonRejected
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case strings.Contains(err.Error(), "execution reverted"):
		return ReasonReverted
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "no such host"):
		return ReasonConnection
	default:
		return ReasonCallFailed
	}
}
