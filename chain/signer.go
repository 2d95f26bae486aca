package chain

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// TxSigner signs transactions on the buyer's behalf. Interactive
// implementations (hardware wallets, prompt-based flows) return
// ErrUserRejected when the operator declines; that maps to the
// distinct "rejected" failure kind and is never retried.
type TxSigner interface {
	Address() common.Address
	SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error)
}

// KeyedSigner signs with a raw private key.
type KeyedSigner struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

// NewKeyedSigner parses a hex private key, with or without 0x prefix.
func NewKeyedSigner(privHex string) (*KeyedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(privHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid signer key: %w", err)
	}
	return &KeyedSigner{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}, nil
}

func (s *KeyedSigner) Address() common.Address {
	return s.addr
}

func (s *KeyedSigner) SignTx(tx *ethtypes.Transaction, chainID *big.Int) (*ethtypes.Transaction, error) {
	return ethtypes.SignTx(tx, ethtypes.LatestSignerForChainID(chainID), s.key)
}
