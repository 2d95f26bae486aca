// Package inventory is the capability boundary to the shared provider
// and allocation records. Its one load-bearing guarantee is the
// conditional capacity update: every writer of available_storage goes
// through it, so concurrent purchasers can race but never corrupt the
// value — the loser gets ErrCapacityConflict.
package inventory

import (
	"context"
	"errors"
	"time"

	"github.com/alphaai/storagemarket/types"
)

// Persisted table names, also the valid arguments to Subscribe.
const (
	TableProviders   = "storage_providers"
	TableAllocations = "storage_allocations"
)

// ErrCapacityConflict means a conditional capacity write found the
// stored value no longer matching the expected one: somebody else got
// there first.
var ErrCapacityConflict = errors.New("capacity changed concurrently")

// ErrNotFound means the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ChangeEvent is a row-level change notification.
type ChangeEvent struct {
	Table   string `json:"table"`
	Action  string `json:"action"`
	Payload []byte `json:"payload"`
}

// Handler consumes change events. It runs on the subscription's
// goroutine and must not block.
type Handler func(ChangeEvent)

// Store is the inventory capability the tracker and orchestrator
// depend on.
type Store interface {
	GetProvider(ctx context.Context, id string) (*types.Provider, error)
	GetProviderByWallet(ctx context.Context, wallet string) (*types.Provider, error)
	ListProviders(ctx context.Context) ([]types.Provider, error)

	// RegisterProvider inserts the provider record on first start.
	// Fills in the ID if empty.
	RegisterProvider(ctx context.Context, p *types.Provider) error

	// ConditionalUpdateCapacity sets available_storage to newGB only if
	// it still equals expected; otherwise ErrCapacityConflict.
	ConditionalUpdateCapacity(ctx context.Context, id string, expected, newGB int64) error

	// InsertAllocation appends one allocation record. Allocations are
	// never mutated afterwards.
	InsertAllocation(ctx context.Context, a *types.Allocation) error

	// ActiveAllocatedGB sums allocated_gb over non-expired allocations
	// against the provider.
	ActiveAllocatedGB(ctx context.Context, providerID string, now time.Time) (int64, error)

	// SetProviderStatus flips the active flag and refreshes last_seen.
	// Liveness fields only; capacity is not touched here.
	SetProviderStatus(ctx context.Context, wallet string, active bool) error

	// Subscribe delivers row-level changes on the given table until ctx
	// is cancelled.
	Subscribe(ctx context.Context, table string, h Handler) error

	Close()
}
