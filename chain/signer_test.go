package chain

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Key 0x...01 and its well-known derived address.
const (
	testKeyHex  = "0000000000000000000000000000000000000000000000000000000000000001"
	testKeyAddr = "0x7E5F4552091A69125d5DfCb7b8C2659029395Bdf"
)

func TestNewKeyedSignerDerivesAddress(t *testing.T) {
	signer, err := NewKeyedSigner(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, signer.Address().Hex())
}

func TestNewKeyedSignerAcceptsHexPrefix(t *testing.T) {
	plain, err := NewKeyedSigner(testKeyHex)
	require.NoError(t, err)
	prefixed, err := NewKeyedSigner("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, plain.Address(), prefixed.Address())
}

func TestNewKeyedSignerRejectsGarbage(t *testing.T) {
	_, err := NewKeyedSigner("not-a-key")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signer key")

	_, err = NewKeyedSigner("")
	require.Error(t, err)
}

func TestSignTxRecoversToSignerAddress(t *testing.T) {
	signer, err := NewKeyedSigner(testKeyHex)
	require.NoError(t, err)

	chainID := big.NewInt(97)
	to := common.HexToAddress(strings.Repeat("22", 20))
	tx := ethtypes.NewTx(&ethtypes.LegacyTx{
		Nonce:    7,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      100000,
		GasPrice: big.NewInt(1),
		Data:     []byte{0x01, 0x02},
	})

	signed, err := signer.SignTx(tx, chainID)
	require.NoError(t, err)

	from, err := ethtypes.Sender(ethtypes.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), from)
}
