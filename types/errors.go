package types

// Checkpoint identifies which stage of the purchase pipeline a failure
// belongs to. Every MarketError produced by the orchestrator carries
// one, so callers can tell exactly where the purchase stopped.
type Checkpoint string

const (
	CheckpointValidate    Checkpoint = "validate"
	CheckpointNetwork     Checkpoint = "network"
	CheckpointLiveness    Checkpoint = "liveness"
	CheckpointBalance     Checkpoint = "balance"
	CheckpointAllowance   Checkpoint = "allowance"
	CheckpointReservation Checkpoint = "reservation"
	CheckpointPayment     Checkpoint = "payment"
	CheckpointAllocation  Checkpoint = "allocation"
)

// Error codes, one per failure kind in the taxonomy. Configuration and
// post-payment codes are terminal; resource codes may be retried by the
// caller with adjusted parameters; conflict may be retried from the
// liveness checkpoint.
const (
	ErrInvalidRequest  = "INVALID_REQUEST"
	ErrConfig          = "CONFIG_ERROR"
	ErrConnectivity    = "CONNECTIVITY_ERROR"
	ErrNetworkMismatch = "NETWORK_MISMATCH"
	ErrRejected        = "USER_REJECTED"

	ErrProviderOffline      = "PROVIDER_OFFLINE"
	ErrProviderNoNode       = "PROVIDER_NO_NODE"
	ErrInsufficientCapacity = "INSUFFICIENT_CAPACITY"
	ErrInsufficientBalance  = "INSUFFICIENT_BALANCE"

	ErrCapacityConflict = "CAPACITY_CONFLICT"
	ErrChainExecution   = "CHAIN_EXECUTION_FAILED"

	// ErrPostPaymentInconsistency is the highest-severity code: payment
	// confirmed on-chain and capacity was decremented, but the allocation
	// record could not be written. Never retried automatically.
	ErrPostPaymentInconsistency = "POST_PAYMENT_INCONSISTENCY"
)

// MarketError is the single error type surfaced by the market. Message
// is human-readable and names the failed checkpoint; Data carries
// machine-usable context such as shortfall amounts or a tx hash.
type MarketError struct {
	Code       string                 `json:"code"`
	Checkpoint Checkpoint             `json:"checkpoint,omitempty"`
	Message    string                 `json:"message"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func (e *MarketError) Error() string {
	return e.Message
}

// IsCode reports whether err is a MarketError with the given code.
func IsCode(err error, code string) bool {
	me, ok := err.(*MarketError)
	return ok && me.Code == code
}
