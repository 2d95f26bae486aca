// Package types defines the shared data model for the storage market:
// provider and allocation records, purchase requests, and the typed
// error taxonomy used across the chain and inventory boundaries.
package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// AllocationTerm is the fixed lifetime of a storage allocation.
const AllocationTerm = 30 * 24 * time.Hour

// DefaultTokenDecimals is used when the token contract's decimals()
// call fails; matches the common ERC20 precision.
const DefaultTokenDecimals = 18

// Provider is one storage provider's advertised record.
// LastSeen and Active are written only by that provider's own tracker;
// AvailableGB is the live remainder and has shared writers, so every
// write to it goes through the store's conditional-update primitive.
type Provider struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	WalletAddress string          `json:"wallet_address"`
	AvailableGB   int64           `json:"available_storage"`
	PricePerGB    decimal.Decimal `json:"price_per_gb"`
	IPFSNodeID    string          `json:"ipfs_node_id,omitempty"`
	Active        bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	LastSeen      time.Time       `json:"updated_at"`
}

// Allocation is one buyer's reserved slice of a provider's capacity,
// backed by a confirmed on-chain payment. Immutable once written;
// it expires logically when now passes ExpiresAt.
type Allocation struct {
	ID              string          `json:"id"`
	UserAddress     string          `json:"user_address"`
	ProviderID      string          `json:"provider_id"`
	AllocatedGB     int64           `json:"allocated_gb"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	TransactionHash string          `json:"transaction_hash"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

// Expired reports whether the allocation no longer counts against the
// provider's capacity.
func (a *Allocation) Expired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// PurchaseRequest is the buyer's input to the purchase pipeline.
// GB must be a positive whole number; fractional requests never reach
// the pipeline because the field is integral by construction.
type PurchaseRequest struct {
	ProviderID string `json:"providerId" validate:"required"`
	GB         int64  `json:"gb" validate:"required,gt=0"`
}

// PurchaseReceipt is returned on a fully settled purchase.
type PurchaseReceipt struct {
	Allocation      Allocation      `json:"allocation"`
	TransactionHash string          `json:"transactionHash"`
	TokenAmount     string          `json:"tokenAmount"`
	PaidAmount      decimal.Decimal `json:"paidAmount"`
}

var validate = validator.New()

// Validate checks the request before the pipeline runs.
func (r *PurchaseRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		return &MarketError{
			Code:       ErrInvalidRequest,
			Checkpoint: CheckpointValidate,
			Message:    fmt.Sprintf("invalid purchase request: %v", err),
		}
	}
	return nil
}
