// Package market talks to a fixed-product market maker: purchase quotes,
// purchase calldata and the market's collateral token.
package market

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// ── ABI ──────────────────────────────────────────────────────────────────

const marketMakerABI = `[{
	"name":"calcBuyAmount",
	"type":"function",
	"stateMutability":"view",
	"inputs":[
		{"name":"investmentAmount","type":"uint256"},
		{"name":"outcomeIndex","type":"uint256"}
	],
	"outputs":[{"name":"","type":"uint256"}]
},{
	"name":"buy",
	"type":"function",
	"inputs":[
		{"name":"investmentAmount","type":"uint256"},
		{"name":"outcomeIndex","type":"uint256"},
		{"name":"minOutcomeTokensToBuy","type":"uint256"}
	],
	"outputs":[]
},{
	"name":"collateralToken",
	"type":"function",
	"stateMutability":"view",
	"inputs":[],
	"outputs":[{"name":"","type":"address"}]
}]`

var parsedABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(marketMakerABI))
	if err != nil {
		panic(fmt.Sprintf("market: bad ABI: %v", err))
	}
	return parsed
}()

// Caller is the read side of an Ethereum client. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Maker is a handle on one market maker contract.
type Maker struct {
	address common.Address
	caller  Caller
}

// NewMaker creates a Maker reading through caller.
func NewMaker(caller Caller, address common.Address) *Maker {
	return &Maker{address: address, caller: caller}
}

// Address returns the market maker contract address.
func (m *Maker) Address() common.Address {
	return m.address
}

// QuoteMinShares returns calcBuyAmount(amount, outcomeIndex): the outcome
// tokens the pool would hand out for amount at current reserves. It is used
// as the slippage floor of the purchase, not as the fill price.
func (m *Maker) QuoteMinShares(ctx context.Context, amount *big.Int, outcomeIndex int) (*big.Int, error) {
	if amount == nil {
		return nil, fmt.Errorf("quote: amount missing")
	}
	out, err := m.call(ctx, "calcBuyAmount", amount, big.NewInt(int64(outcomeIndex)))
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Collateral returns the market's collateralToken().
func (m *Maker) Collateral(ctx context.Context) (common.Address, error) {
	out, err := m.call(ctx, "collateralToken")
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// EncodePurchase packs buy(amount, outcomeIndex, minShares).
func (m *Maker) EncodePurchase(amount *big.Int, outcomeIndex int, minShares *big.Int) ([]byte, error) {
	return EncodeBuy(amount, outcomeIndex, minShares)
}

// EncodeBuy packs buy(amount, outcomeIndex, minShares) for any market maker.
func EncodeBuy(amount *big.Int, outcomeIndex int, minShares *big.Int) ([]byte, error) {
	if outcomeIndex < 0 {
		return nil, fmt.Errorf("pack buy: negative outcome index %d", outcomeIndex)
	}
	data, err := parsedABI.Pack("buy", amount, big.NewInt(int64(outcomeIndex)), minShares)
	if err != nil {
		return nil, fmt.Errorf("pack buy: %w", err)
	}
	return data, nil
}

// DecodeBuy unpacks calldata produced by EncodeBuy.
func DecodeBuy(data []byte) (amount *big.Int, outcomeIndex int, minShares *big.Int, err error) {
	method := parsedABI.Methods["buy"]
	if len(data) < 4 || string(data[:4]) != string(method.ID) {
		return nil, 0, nil, fmt.Errorf("not a buy call")
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, 0, nil, fmt.Errorf("unpack buy: %w", err)
	}
	return args[0].(*big.Int), int(args[1].(*big.Int).Int64()), args[2].(*big.Int), nil
}

func (m *Maker) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	calldata, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := m.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &m.address,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call on %s: %w", method, m.address.Hex(), err)
	}
	out, err := parsedABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s (%d bytes): %w", method, len(result), err)
	}
	return out, nil
}
