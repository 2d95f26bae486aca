package chain

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alphaai/storagemarket/types"
)

// Gas fallbacks used when estimation fails; estimation failure is a
// degraded path, not a terminal one.
const (
	ApproveGasFallback  uint64 = 100000
	PurchaseGasFallback uint64 = 300000
)

// Estimated gas gets a 20% buffer before submission.
const gasBufferPercent = 120

const erc20ABI = `[
	{"name":"approve","type":"function","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"transfer","type":"function","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"allowance","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
]`

const storageABI = `[
	{"name":"purchaseStorage","type":"function","stateMutability":"nonpayable","inputs":[{"name":"provider","type":"address"},{"name":"storageAmount","type":"uint256"},{"name":"tokenAmount","type":"uint256"},{"name":"duration","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"StoragePurchased","type":"event","inputs":[{"name":"user","type":"address","indexed":true},{"name":"provider","type":"address","indexed":true},{"name":"amount","type":"uint256","indexed":false}]}
]`

var _ Client = (*EVMClient)(nil)

// EVMClient settles purchases against an ERC20 payment token and a
// storage purchase contract on one EVM network at a time. Additional
// networks can be registered and switched to, mirroring the add-chain
// flow of browser wallets.
type EVMClient struct {
	mu       sync.RWMutex
	eth      *ethclient.Client
	cfg      types.NetworkConfig
	networks map[int64]types.NetworkConfig

	signer         TxSigner
	tokenABI       abi.ABI
	storageABI     abi.ABI
	confirmTimeout time.Duration
}

// NewEVMClient dials the target network's RPC endpoint and validates
// the contract configuration. Configuration errors are fatal here;
// nothing downstream can recover from a missing contract address.
func NewEVMClient(cfg types.NetworkConfig, signer TxSigner) (*EVMClient, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if signer == nil {
		return nil, &types.MarketError{
			Code:    types.ErrConfig,
			Message: "chain client requires a transaction signer",
		}
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, &ChainError{Reason: ReasonConnection, Op: "dial", Err: err}
	}

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	storABI, err := abi.JSON(strings.NewReader(storageABI))
	if err != nil {
		return nil, fmt.Errorf("parse storage abi: %w", err)
	}

	return &EVMClient{
		eth:            eth,
		cfg:            cfg,
		networks:       map[int64]types.NetworkConfig{cfg.ChainID: cfg},
		signer:         signer,
		tokenABI:       tokenABI,
		storageABI:     storABI,
		confirmTimeout: 3 * time.Minute,
	}, nil
}

func (c *EVMClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
	}
}

func (c *EVMClient) SignerAddress() string {
	return c.signer.Address().Hex()
}

func (c *EVMClient) ContractAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg.ContractAddress
}

// ActiveNetwork asks the connected endpoint for its chain id rather
// than trusting the configured value.
func (c *EVMClient) ActiveNetwork(ctx context.Context) (int64, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()

	id, err := eth.ChainID(ctx)
	if err != nil {
		return 0, wrap("chain id", err)
	}
	return id.Int64(), nil
}

// RegisterNetwork makes a network known to the client so SwitchNetwork
// can reach it later.
func (c *EVMClient) RegisterNetwork(cfg types.NetworkConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.networks[cfg.ChainID] = cfg
}

// SwitchNetwork re-dials the registered RPC endpoint for chainID and
// swaps the active connection. Switching to an unregistered network is
// a configuration failure, the backend analogue of a wallet that does
// not know the chain.
func (c *EVMClient) SwitchNetwork(ctx context.Context, chainID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.ChainID == chainID {
		return nil
	}

	cfg, ok := c.networks[chainID]
	if !ok {
		return &ChainError{
			Reason: ReasonUnknownNetwork,
			Op:     "switch network",
			Err:    fmt.Errorf("chain id %d is not registered", chainID),
		}
	}

	eth, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return &ChainError{Reason: ReasonConnection, Op: "switch network", Err: err}
	}

	id, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return wrap("switch network", err)
	}
	if id.Int64() != chainID {
		eth.Close()
		return &ChainError{
			Reason: ReasonNetworkMismatch,
			Op:     "switch network",
			Err:    fmt.Errorf("endpoint reports chain id %d, want %d", id.Int64(), chainID),
		}
	}

	c.eth.Close()
	c.eth = eth
	c.cfg = cfg
	return nil
}

func (c *EVMClient) TokenBalance(ctx context.Context, owner string) (*big.Int, error) {
	out, err := c.callToken(ctx, "balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, wrap("token balance", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

func (c *EVMClient) TokenDecimals(ctx context.Context) (int32, error) {
	out, err := c.callToken(ctx, "decimals")
	if err != nil {
		return 0, wrap("token decimals", err)
	}
	return int32(*abi.ConvertType(out[0], new(uint8)).(*uint8)), nil
}

func (c *EVMClient) Allowance(ctx context.Context, owner, spender string) (*big.Int, error) {
	out, err := c.callToken(ctx, "allowance",
		common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		return nil, wrap("token allowance", err)
	}
	return abi.ConvertType(out[0], new(big.Int)).(*big.Int), nil
}

// Approve submits an ERC20 approval for exactly amount to spender.
func (c *EVMClient) Approve(ctx context.Context, spender string, amount *big.Int) (TxRef, error) {
	data, err := c.tokenABI.Pack("approve", common.HexToAddress(spender), amount)
	if err != nil {
		return "", wrap("approve", err)
	}

	c.mu.RLock()
	token := common.HexToAddress(c.cfg.TokenAddress)
	c.mu.RUnlock()

	ref, err := c.sendTx(ctx, token, data, ApproveGasFallback)
	if err != nil {
		return "", wrap("approve", err)
	}
	return ref, nil
}

// SubmitPurchase calls purchaseStorage(provider, gb, amount, duration).
func (c *EVMClient) SubmitPurchase(ctx context.Context, provider string, gb int64, amount *big.Int, durationSeconds int64) (TxRef, error) {
	data, err := c.storageABI.Pack("purchaseStorage",
		common.HexToAddress(provider),
		big.NewInt(gb),
		amount,
		big.NewInt(durationSeconds),
	)
	if err != nil {
		return "", wrap("purchase", err)
	}

	c.mu.RLock()
	contract := common.HexToAddress(c.cfg.ContractAddress)
	c.mu.RUnlock()

	ref, err := c.sendTx(ctx, contract, data, PurchaseGasFallback)
	if err != nil {
		return "", wrap("purchase", err)
	}
	return ref, nil
}

// WaitForConfirmation blocks until the transaction is mined, bounded
// by the confirmation timeout. A mined-but-reverted transaction is a
// distinct terminal failure.
func (c *EVMClient) WaitForConfirmation(ctx context.Context, ref TxRef) error {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()

	waitCtx, cancel := context.WithTimeout(ctx, c.confirmTimeout)
	defer cancel()

	tx, isPending, err := eth.TransactionByHash(waitCtx, common.HexToHash(string(ref)))
	if err != nil {
		return wrap("confirmation", err)
	}

	var receipt *ethtypes.Receipt
	if isPending {
		receipt, err = bind.WaitMined(waitCtx, eth, tx)
	} else {
		receipt, err = eth.TransactionReceipt(waitCtx, tx.Hash())
	}
	if err != nil {
		return wrap("confirmation", err)
	}

	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return &ChainError{
			Reason: ReasonReverted,
			Op:     "confirmation",
			Err:    fmt.Errorf("transaction %s reverted", ref),
		}
	}
	return nil
}

// callToken performs a read-only token contract call.
func (c *EVMClient) callToken(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	c.mu.RLock()
	eth := c.eth
	token := common.HexToAddress(c.cfg.TokenAddress)
	c.mu.RUnlock()

	data, err := c.tokenABI.Pack(method, args...)
	if err != nil {
		return nil, err
	}

	raw, err := eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	return c.tokenABI.Unpack(method, raw)
}

// sendTx estimates gas (falling back to the given limit on estimation
// failure), signs through the TxSigner, and broadcasts.
func (c *EVMClient) sendTx(ctx context.Context, to common.Address, data []byte, gasFallback uint64) (TxRef, error) {
	c.mu.RLock()
	eth := c.eth
	chainID := big.NewInt(c.cfg.ChainID)
	c.mu.RUnlock()

	from := c.signer.Address()

	nonce, err := eth.PendingNonceAt(ctx, from)
	if err != nil {
		return "", err
	}

	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return "", err
	}

	gasLimit, err := eth.EstimateGas(ctx, ethereum.CallMsg{
		From: from,
		To:   &to,
		Data: data,
	})
	if err != nil {
		gasLimit = gasFallback
	} else {
		gasLimit = gasLimit * gasBufferPercent / 100
	}

	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     data,
	})

	signed, err := c.signer.SignTx(tx, chainID)
	if err != nil {
		return "", err
	}

	if err := eth.SendTransaction(ctx, signed); err != nil {
		return "", err
	}
	return TxRef(signed.Hash().Hex()), nil
}
