package market

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	makerAddr      = common.HexToAddress("0x3333333333333333333333333333333333333333")
	collateralAddr = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

// fakePool prices every outcome at 2 shares per collateral unit.
type fakePool struct {
	err      error
	lastArgs []interface{}
}

func (f *fakePool) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, err := parsedABI.MethodById(msg.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := m.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, err
	}
	f.lastArgs = args
	switch m.Name {
	case "calcBuyAmount":
		return m.Outputs.Pack(new(big.Int).Mul(args[0].(*big.Int), big.NewInt(2)))
	case "collateralToken":
		return m.Outputs.Pack(collateralAddr)
	}
	return nil, errors.New("unexpected " + m.Name)
}

func TestQuoteMinShares(t *testing.T) {
	pool := &fakePool{}
	mk := NewMaker(pool, makerAddr)

	q, err := mk.QuoteMinShares(context.Background(), big.NewInt(500), 1)
	require.NoError(t, err)
	assert.Equal(t, "1000", q.String())
	assert.Equal(t, "1", pool.lastArgs[1].(*big.Int).String())
}

func TestQuoteMinSharesError(t *testing.T) {
	boom := errors.New("execution reverted")
	_, err := NewMaker(&fakePool{err: boom}, makerAddr).QuoteMinShares(context.Background(), big.NewInt(1), 0)
	assert.ErrorIs(t, err, boom)

	_, err = NewMaker(&fakePool{}, makerAddr).QuoteMinShares(context.Background(), nil, 0)
	assert.Error(t, err)
}

func TestCollateral(t *testing.T) {
	addr, err := NewMaker(&fakePool{}, makerAddr).Collateral(context.Background())
	require.NoError(t, err)
	assert.Equal(t, collateralAddr, addr)
}

func TestEncodeBuyRoundTrip(t *testing.T) {
	data, err := NewMaker(nil, makerAddr).EncodePurchase(big.NewInt(500), 1, big.NewInt(960))
	require.NoError(t, err)

	amount, idx, minShares, err := DecodeBuy(data)
	require.NoError(t, err)
	assert.Equal(t, "500", amount.String())
	assert.Equal(t, 1, idx)
	assert.Equal(t, "960", minShares.String())
}

func TestEncodeBuyRejectsNegativeIndex(t *testing.T) {
	_, err := EncodeBuy(big.NewInt(1), -1, big.NewInt(1))
	assert.Error(t, err)
}

func TestDecodeBuyRejectsOtherCalls(t *testing.T) {
	_, _, _, err := DecodeBuy([]byte{0xde, 0xad, 0xbe, 0xef})
	assert.Error(t, err)
}
