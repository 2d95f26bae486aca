// Package purchase implements the buyer-side pipeline that turns a
// provider and a GB amount into a paid, recorded allocation — or a
// clean, typed failure with no partial charge and no silent
// overcommit.
//
// The pipeline is a fixed sequence of checkpoints. Every checkpoint
// re-reads what it needs (nothing is cached across steps), returns a
// *types.MarketError on failure, and a failed checkpoint stops the
// remaining pipeline unconditionally.
package purchase

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alphaai/storagemarket/chain"
	"github.com/alphaai/storagemarket/inventory"
	"github.com/alphaai/storagemarket/liveness"
	"github.com/alphaai/storagemarket/logger"
	"github.com/alphaai/storagemarket/metrics"
	"github.com/alphaai/storagemarket/types"
	"github.com/alphaai/storagemarket/utils"
)

// compensateAttempts bounds the capacity re-increment loop that runs
// when payment fails after the reservation already succeeded.
const compensateAttempts = 3

// Orchestrator executes purchases against one target network. It holds
// no per-purchase state; a host may run many Purchase calls
// concurrently, and concurrent purchases against the same provider are
// serialized only by the store's conditional capacity write.
type Orchestrator struct {
	chain  chain.Client
	store  inventory.Store
	target types.NetworkConfig
	log    logger.Logger
	rec    metrics.Recorder
	now    func() time.Time
}

func NewOrchestrator(c chain.Client, s inventory.Store, target types.NetworkConfig, log logger.Logger, rec metrics.Recorder) *Orchestrator {
	if log == nil {
		log = logger.NoopLogger{}
	}
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	return &Orchestrator{
		chain:  c,
		store:  s,
		target: target,
		log:    log.Named("purchase"),
		rec:    rec,
		now:    time.Now,
	}
}

// Purchase runs the full pipeline for one request.
func (o *Orchestrator) Purchase(ctx context.Context, req types.PurchaseRequest) (*types.PurchaseReceipt, error) {
	started := time.Now()
	receipt, err := o.run(ctx, req)
	o.rec.ObserveLatency("purchase", time.Since(started), nil)

	if err != nil {
		var me *types.MarketError
		checkpoint := ""
		if errors.As(err, &me) {
			checkpoint = string(me.Checkpoint)
		}
		o.rec.IncCounter("purchase_failed", map[string]string{"checkpoint": checkpoint})
		o.log.Warn("purchase failed", map[string]any{
			"provider":   req.ProviderID,
			"gb":         req.GB,
			"checkpoint": checkpoint,
			"error":      err.Error(),
		})
		return nil, err
	}

	o.rec.IncCounter("purchase_succeeded", nil)
	o.log.Info("purchase complete", map[string]any{
		"provider":   req.ProviderID,
		"gb":         req.GB,
		"allocation": receipt.Allocation.ID,
		"tx":         receipt.TransactionHash,
	})
	return receipt, nil
}

func (o *Orchestrator) run(ctx context.Context, req types.PurchaseRequest) (*types.PurchaseReceipt, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	// Step 1: the signer must be on the configured target chain.
	if err := o.ensureNetwork(ctx); err != nil {
		return nil, err
	}

	// Step 2: liveness and capacity, from a fresh read.
	provider, err := o.checkProvider(ctx, req)
	if err != nil {
		return nil, err
	}

	// Step 3: balance, in the token's own atomic units.
	required, cost, decimals, err := o.checkBalance(ctx, provider, req.GB)
	if err != nil {
		return nil, err
	}

	// Step 4: allowance for the purchase contract.
	if err := o.ensureAllowance(ctx, required, decimals); err != nil {
		return nil, err
	}

	// Step 5: optimistic reservation via the store's compare-and-swap.
	reserved, err := o.reserveCapacity(ctx, provider.ID, req.GB)
	if err != nil {
		return nil, err
	}

	// Step 6: payment. If it fails after the reservation, give the
	// capacity back; the payment was never taken.
	txRef, err := o.submitPayment(ctx, provider, req.GB, required)
	if err != nil {
		o.releaseCapacity(provider.ID, req.GB, reserved)
		return nil, err
	}

	// Step 7: allocation commit. Failure here is the one state the
	// pipeline cannot clean up: payment confirmed, capacity consumed,
	// no record. Surface it loudly, never retry blindly.
	allocation, err := o.commitAllocation(ctx, provider, req.GB, cost, txRef)
	if err != nil {
		return nil, err
	}

	return &types.PurchaseReceipt{
		Allocation:      *allocation,
		TransactionHash: string(txRef),
		TokenAmount:     required.String(),
		PaidAmount:      cost,
	}, nil
}

// ensureNetwork confirms the active chain id matches the target,
// requesting a switch (which may register the network first) if not.
// Failure here is terminal and never retried.
func (o *Orchestrator) ensureNetwork(ctx context.Context) error {
	active, err := o.chain.ActiveNetwork(ctx)
	if err != nil {
		return o.chainFailure(types.CheckpointNetwork, "could not determine active network", err)
	}
	if active == o.target.ChainID {
		return nil
	}

	o.chain.RegisterNetwork(o.target)
	if err := o.chain.SwitchNetwork(ctx, o.target.ChainID); err != nil {
		return &types.MarketError{
			Code:       types.ErrNetworkMismatch,
			Checkpoint: types.CheckpointNetwork,
			Message: fmt.Sprintf("network check failed: connected to chain %d, need %s (chain %d)",
				active, o.target.Name, o.target.ChainID),
			Data: map[string]interface{}{"active": active, "target": o.target.ChainID},
		}
	}
	return nil
}

// checkProvider re-reads the provider record and applies the central
// liveness rule plus the capacity requirement.
func (o *Orchestrator) checkProvider(ctx context.Context, req types.PurchaseRequest) (*types.Provider, error) {
	provider, err := o.store.GetProvider(ctx, req.ProviderID)
	if err != nil {
		if errors.Is(err, inventory.ErrNotFound) {
			return nil, &types.MarketError{
				Code:       types.ErrInvalidRequest,
				Checkpoint: types.CheckpointLiveness,
				Message:    fmt.Sprintf("provider %s not found", req.ProviderID),
			}
		}
		return nil, o.storeFailure(types.CheckpointLiveness, "could not verify provider status", err)
	}

	switch verdict := liveness.Availability(provider, o.now()); verdict {
	case liveness.VerdictOnline:
		// fall through to the capacity check
	case liveness.VerdictNoNode:
		return nil, &types.MarketError{
			Code:       types.ErrProviderNoNode,
			Checkpoint: types.CheckpointLiveness,
			Message:    fmt.Sprintf("provider %s has no storage node configured", provider.Name),
		}
	case liveness.VerdictNoCapacity:
		return nil, o.insufficientCapacity(provider, req.GB)
	default:
		return nil, &types.MarketError{
			Code:       types.ErrProviderOffline,
			Checkpoint: types.CheckpointLiveness,
			Message:    fmt.Sprintf("provider %s is currently offline or not responding", provider.Name),
			Data:       map[string]interface{}{"verdict": string(verdict)},
		}
	}

	if provider.AvailableGB < req.GB {
		return nil, o.insufficientCapacity(provider, req.GB)
	}
	return provider, nil
}

func (o *Orchestrator) insufficientCapacity(p *types.Provider, requested int64) error {
	return &types.MarketError{
		Code:       types.ErrInsufficientCapacity,
		Checkpoint: types.CheckpointLiveness,
		Message: fmt.Sprintf("provider %s has %d GB available, %d GB requested",
			p.Name, p.AvailableGB, requested),
		Data: map[string]interface{}{"available": p.AvailableGB, "requested": requested},
	}
}

// checkBalance computes the required token amount at the token's
// declared precision and verifies the buyer can cover it. A failed
// decimals read degrades to the protocol default rather than aborting.
func (o *Orchestrator) checkBalance(ctx context.Context, provider *types.Provider, gb int64) (*big.Int, decimal.Decimal, int32, error) {
	decimals, err := o.chain.TokenDecimals(ctx)
	if err != nil {
		o.log.Warn("token decimals read failed, using default", map[string]any{
			"default": types.DefaultTokenDecimals,
			"error":   err.Error(),
		})
		decimals = types.DefaultTokenDecimals
	}

	cost := utils.TotalCost(provider.PricePerGB, gb)
	required, err := utils.ToTokenUnits(cost, decimals)
	if err != nil {
		return nil, decimal.Decimal{}, 0, &types.MarketError{
			Code:       types.ErrConfig,
			Checkpoint: types.CheckpointBalance,
			Message:    fmt.Sprintf("cannot express cost in token units: %v", err),
		}
	}

	balance, err := o.chain.TokenBalance(ctx, o.chain.SignerAddress())
	if err != nil {
		return nil, decimal.Decimal{}, 0, o.chainFailure(types.CheckpointBalance, "could not check token balance", err)
	}

	if balance.Cmp(required) < 0 {
		shortfall := new(big.Int).Sub(required, balance)
		return nil, decimal.Decimal{}, 0, &types.MarketError{
			Code:       types.ErrInsufficientBalance,
			Checkpoint: types.CheckpointBalance,
			Message: fmt.Sprintf("insufficient token balance: need %s more tokens",
				utils.FromTokenUnits(shortfall, decimals)),
			Data: map[string]interface{}{
				"required":  required.String(),
				"balance":   balance.String(),
				"shortfall": shortfall.String(),
			},
		}
	}
	return required, cost, decimals, nil
}

// ensureAllowance grants the purchase contract spending rights for
// exactly the required amount if the current allowance is short, and
// waits for the approval to confirm before the pipeline continues.
func (o *Orchestrator) ensureAllowance(ctx context.Context, required *big.Int, decimals int32) error {
	spender := o.chain.ContractAddress()

	allowance, err := o.chain.Allowance(ctx, o.chain.SignerAddress(), spender)
	if err != nil {
		return o.chainFailure(types.CheckpointAllowance, "could not check token allowance", err)
	}
	if allowance.Cmp(required) >= 0 {
		return nil
	}

	ref, err := o.chain.Approve(ctx, spender, required)
	if err != nil {
		if chain.Reason(err) == chain.ReasonRejected {
			return &types.MarketError{
				Code:       types.ErrRejected,
				Checkpoint: types.CheckpointAllowance,
				Message:    "token approval was rejected by the signer",
			}
		}
		return o.chainFailure(types.CheckpointAllowance, "token approval failed", err)
	}

	if err := o.chain.WaitForConfirmation(ctx, ref); err != nil {
		return o.chainFailure(types.CheckpointAllowance, "token approval did not confirm", err)
	}

	o.log.Debug("allowance granted", map[string]any{
		"amount": utils.FromTokenUnits(required, decimals).String(),
		"tx":     string(ref),
	})
	return nil
}

// reserveCapacity re-reads the provider's capacity immediately before
// committing and decrements it through the store's compare-and-swap.
// A conditional-write rejection means another purchase got there
// first; the whole attempt aborts with a conflict, before any payment
// was submitted.
func (o *Orchestrator) reserveCapacity(ctx context.Context, providerID string, gb int64) (int64, error) {
	current, err := o.store.GetProvider(ctx, providerID)
	if err != nil {
		return 0, o.storeFailure(types.CheckpointReservation, "could not re-check capacity", err)
	}
	// The liveness checkpoint already saw enough capacity; seeing less
	// here means another writer got in between.
	if current.AvailableGB < gb {
		return 0, &types.MarketError{
			Code:       types.ErrCapacityConflict,
			Checkpoint: types.CheckpointReservation,
			Message:    "capacity changed concurrently, purchase aborted",
			Data:       map[string]interface{}{"available": current.AvailableGB, "requested": gb},
		}
	}

	newValue := current.AvailableGB - gb
	err = o.store.ConditionalUpdateCapacity(ctx, providerID, current.AvailableGB, newValue)
	if errors.Is(err, inventory.ErrCapacityConflict) {
		return 0, &types.MarketError{
			Code:       types.ErrCapacityConflict,
			Checkpoint: types.CheckpointReservation,
			Message:    "capacity changed concurrently, purchase aborted",
		}
	}
	if err != nil {
		return 0, o.storeFailure(types.CheckpointReservation, "capacity reservation failed", err)
	}
	return newValue, nil
}

// releaseCapacity is the compensation path for a reservation whose
// payment never happened. It re-increments through the same
// conditional primitive, refreshing its expectation on each conflict;
// if the record keeps moving it gives up after a few attempts and the
// provider's next heartbeat republishes the truthful remainder anyway.
func (o *Orchestrator) releaseCapacity(providerID string, gb int64, reservedValue int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	expected := reservedValue
	for attempt := 0; attempt < compensateAttempts; attempt++ {
		err := o.store.ConditionalUpdateCapacity(ctx, providerID, expected, expected+gb)
		if err == nil {
			o.log.Info("reservation released after failed payment", map[string]any{
				"provider": providerID,
				"gb":       gb,
			})
			return
		}
		if !errors.Is(err, inventory.ErrCapacityConflict) {
			break
		}
		current, readErr := o.store.GetProvider(ctx, providerID)
		if readErr != nil {
			break
		}
		expected = current.AvailableGB
	}
	o.log.Error("could not release reserved capacity, heartbeat will reconcile", map[string]any{
		"provider": providerID,
		"gb":       gb,
	})
}

// submitPayment sends the purchase transaction and waits for it to be
// mined. Reverts and confirmation timeouts are terminal for the
// attempt; resubmitting could double-spend.
func (o *Orchestrator) submitPayment(ctx context.Context, provider *types.Provider, gb int64, amount *big.Int) (chain.TxRef, error) {
	duration := int64(types.AllocationTerm / time.Second)

	ref, err := o.chain.SubmitPurchase(ctx, provider.WalletAddress, gb, amount, duration)
	if err != nil {
		if chain.Reason(err) == chain.ReasonRejected {
			return "", &types.MarketError{
				Code:       types.ErrRejected,
				Checkpoint: types.CheckpointPayment,
				Message:    "purchase transaction was rejected by the signer",
			}
		}
		return "", o.chainFailure(types.CheckpointPayment, "purchase transaction failed to submit", err)
	}

	if err := o.chain.WaitForConfirmation(ctx, ref); err != nil {
		return "", &types.MarketError{
			Code:       types.ErrChainExecution,
			Checkpoint: types.CheckpointPayment,
			Message:    fmt.Sprintf("purchase transaction did not confirm: %s", chain.Reason(err)),
			Data:       map[string]interface{}{"tx": string(ref)},
		}
	}
	return ref, nil
}

// commitAllocation writes the allocation record after payment has
// confirmed.
func (o *Orchestrator) commitAllocation(ctx context.Context, provider *types.Provider, gb int64, cost decimal.Decimal, ref chain.TxRef) (*types.Allocation, error) {
	now := o.now()
	allocation := &types.Allocation{
		UserAddress:     o.chain.SignerAddress(),
		ProviderID:      provider.ID,
		AllocatedGB:     gb,
		PaidAmount:      cost,
		TransactionHash: string(ref),
		CreatedAt:       now,
		ExpiresAt:       now.Add(types.AllocationTerm),
	}

	if err := o.store.InsertAllocation(ctx, allocation); err != nil {
		o.rec.IncCounter("post_payment_inconsistency", nil)
		o.log.Error("payment confirmed but allocation write failed", map[string]any{
			"provider": provider.ID,
			"tx":       string(ref),
			"error":    err.Error(),
		})
		return nil, &types.MarketError{
			Code:       types.ErrPostPaymentInconsistency,
			Checkpoint: types.CheckpointAllocation,
			Message: fmt.Sprintf("payment %s confirmed but allocation record could not be written; manual reconciliation required",
				ref),
			Data: map[string]interface{}{
				"tx":       string(ref),
				"provider": provider.ID,
				"gb":       gb,
			},
		}
	}
	return allocation, nil
}

// chainFailure maps a classified chain error into the market taxonomy.
func (o *Orchestrator) chainFailure(cp types.Checkpoint, msg string, err error) error {
	code := types.ErrConnectivity
	switch chain.Reason(err) {
	case chain.ReasonRejected:
		code = types.ErrRejected
	case chain.ReasonReverted:
		code = types.ErrChainExecution
	case chain.ReasonNetworkMismatch, chain.ReasonUnknownNetwork:
		code = types.ErrNetworkMismatch
	case chain.ReasonCallFailed:
		code = types.ErrChainExecution
	}
	return &types.MarketError{
		Code:       code,
		Checkpoint: cp,
		Message:    fmt.Sprintf("%s: %s", msg, chain.Reason(err)),
	}
}

func (o *Orchestrator) storeFailure(cp types.Checkpoint, msg string, err error) error {
	return &types.MarketError{
		Code:       types.ErrConnectivity,
		Checkpoint: cp,
		Message:    fmt.Sprintf("%s: %v", msg, err),
	}
}
