// Package chain wraps all access to the payment token and the storage
// purchase contract on the target EVM network. The orchestrator only
// ever talks to the Client interface; every failure that crosses this
// boundary is a *ChainError with a classified reason.
package chain

import (
	"context"
	"math/big"

	"github.com/alphaai/storagemarket/types"
)

// TxRef identifies a submitted transaction (0x-prefixed hash).
type TxRef string

// Client is the capability boundary to the value-transfer ledger.
type Client interface {
	// ActiveNetwork returns the chain id the client is currently
	// connected to.
	ActiveNetwork(ctx context.Context) (int64, error)

	// SwitchNetwork reconnects to the given chain id. The network must
	// have been registered first; RegisterNetwork is the add-chain path
	// for networks the client does not know yet.
	SwitchNetwork(ctx context.Context, chainID int64) error
	RegisterNetwork(cfg types.NetworkConfig)

	// SignerAddress is the buyer address transactions are signed with.
	SignerAddress() string

	TokenBalance(ctx context.Context, owner string) (*big.Int, error)
	TokenDecimals(ctx context.Context) (int32, error)
	Allowance(ctx context.Context, owner, spender string) (*big.Int, error)

	// Approve grants the purchase contract spending rights for exactly
	// amount and returns the submitted transaction.
	Approve(ctx context.Context, spender string, amount *big.Int) (TxRef, error)

	// SubmitPurchase calls purchaseStorage on the storage contract.
	SubmitPurchase(ctx context.Context, provider string, gb int64, amount *big.Int, durationSeconds int64) (TxRef, error)

	// WaitForConfirmation blocks until the transaction is mined and
	// returns a ChainError with ReasonReverted if it failed on-chain.
	WaitForConfirmation(ctx context.Context, ref TxRef) error

	// ContractAddress is the purchase contract on the active network.
	ContractAddress() string

	Close()
}
