package types

import "fmt"

// NetworkConfig describes one EVM network the market can settle on.
// The market is configured with exactly one target network; additional
// configs may be registered with the chain client so a switch to an
// unknown network can add it first, mirroring wallet add-chain flows.
type NetworkConfig struct {
	ChainID         int64  `json:"chainId" validate:"required,gt=0"`
	Name            string `json:"name" validate:"required"`
	RPCURL          string `json:"rpcUrl" validate:"required,url"`
	TokenAddress    string `json:"tokenAddress" validate:"required"`
	ContractAddress string `json:"contractAddress" validate:"required"`
	NativeSymbol    string `json:"nativeSymbol,omitempty"`
	ExplorerURL     string `json:"explorerUrl,omitempty"`
}

// Validate checks the config is complete enough to settle purchases.
func (n *NetworkConfig) Validate() error {
	if err := validate.Struct(n); err != nil {
		return &MarketError{
			Code:    ErrConfig,
			Message: fmt.Sprintf("invalid network config: %v", err),
		}
	}
	return nil
}

// BSCTestnet returns the BNB Smart Chain testnet configuration, the
// default settlement network.
func BSCTestnet(rpcURL, tokenAddr, contractAddr string) NetworkConfig {
	return NetworkConfig{
		ChainID:         97,
		Name:            "BNB Test Network",
		RPCURL:          rpcURL,
		TokenAddress:    tokenAddr,
		ContractAddress: contractAddr,
		NativeSymbol:    "tBNB",
		ExplorerURL:     "https://testnet.bscscan.com",
	}
}
