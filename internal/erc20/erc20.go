// Package erc20 reads allowances from, and encodes calls to, an ERC-20
// collateral token.
package erc20

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

const tokenABI = `[{
	"name":"allowance",
	"type":"function",
	"stateMutability":"view",
	"inputs":[
		{"name":"owner","type":"address"},
		{"name":"spender","type":"address"}
	],
	"outputs":[{"name":"","type":"uint256"}]
},{
	"name":"approve",
	"type":"function",
	"inputs":[
		{"name":"spender","type":"address"},
		{"name":"amount","type":"uint256"}
	],
	"outputs":[{"name":"","type":"bool"}]
},{
	"name":"transferFrom",
	"type":"function",
	"inputs":[
		{"name":"from","type":"address"},
		{"name":"to","type":"address"},
		{"name":"amount","type":"uint256"}
	],
	"outputs":[{"name":"","type":"bool"}]
},{
	"name":"decimals",
	"type":"function",
	"stateMutability":"view",
	"inputs":[],
	"outputs":[{"name":"","type":"uint8"}]
}]`

// parsedABI is the token ABI, parsed once at init.
var parsedABI = mustParse(tokenABI)

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("erc20: bad ABI: %v", err))
	}
	return parsed
}

// Caller is the read side of an Ethereum client. *ethclient.Client satisfies it.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Token is a handle on one ERC-20 contract.
type Token struct {
	address common.Address
	caller  Caller
}

// NewToken creates a Token reading through caller.
func NewToken(caller Caller, address common.Address) *Token {
	return &Token{address: address, caller: caller}
}

// Address returns the token contract address.
func (t *Token) Address() common.Address {
	return t.address
}

// Allowance returns how much spender may pull from owner, read at the latest
// block. Zero is a normal answer, not an error. Results are never cached.
func (t *Token) Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error) {
	out, err := t.call(ctx, "allowance", owner, spender)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// Decimals returns the token's decimals().
func (t *Token) Decimals(ctx context.Context) (uint8, error) {
	out, err := t.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(out[0], new(uint8)).(*uint8), nil
}

func (t *Token) call(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	calldata, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	result, err := t.caller.CallContract(ctx, ethereum.CallMsg{
		To:   &t.address,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call on %s: %w", method, t.address.Hex(), err)
	}
	out, err := parsedABI.Unpack(method, result)
	if err != nil {
		return nil, fmt.Errorf("unpack %s (%d bytes): %w", method, len(result), err)
	}
	return out, nil
}

// ── Encoding ─────────────────────────────────────────────────────────────

// Encoder produces calldata for token calls. It holds no state.
type Encoder struct{}

// EncodeTransferFrom packs transferFrom(from, to, amount).
func (Encoder) EncodeTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	data, err := parsedABI.Pack("transferFrom", from, to, amount)
	if err != nil {
		return nil, fmt.Errorf("pack transferFrom: %w", err)
	}
	return data, nil
}

// EncodeApproveUnlimited packs approve(spender, 2^256-1).
func (Encoder) EncodeApproveUnlimited(spender common.Address) ([]byte, error) {
	data, err := parsedABI.Pack("approve", spender, math.MaxBig256)
	if err != nil {
		return nil, fmt.Errorf("pack approve: %w", err)
	}
	return data, nil
}

// MethodID returns the 4-byte selector for a token method, or nil.
func MethodID(method string) []byte {
	m, ok := parsedABI.Methods[method]
	if !ok {
		return nil
	}
	return m.ID
}

// DecodeCall unpacks the arguments of token calldata produced by Encoder.
func DecodeCall(data []byte) (string, []interface{}, error) {
	if len(data) < 4 {
		return "", nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}
	m, err := parsedABI.MethodById(data[:4])
	if err != nil {
		return "", nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return "", nil, fmt.Errorf("unpack %s args: %w", m.Name, err)
	}
	return m.Name, args, nil
}
