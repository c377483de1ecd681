package executor

import (
	"github.com/ethereum/go-ethereum/common"

	"github.com/gipsh/cpk-buyer-go/internal/erc20"
	"github.com/gipsh/cpk-buyer-go/internal/market"
)

// Caller is the read side of *ethclient.Client shared by token and market
// handles.
type Caller interface {
	erc20.Caller
	market.Caller
}

// ChainContracts builds live contract handles over one RPC client.
type ChainContracts struct {
	caller Caller
}

// NewChainContracts creates ChainContracts.
func NewChainContracts(caller Caller) *ChainContracts {
	return &ChainContracts{caller: caller}
}

// Token returns an ERC-20 handle.
func (c *ChainContracts) Token(address common.Address) AllowanceOracle {
	return erc20.NewToken(c.caller, address)
}

// Market returns a market maker handle.
func (c *ChainContracts) Market(address common.Address) MarketQuoter {
	return market.NewMaker(c.caller, address)
}
