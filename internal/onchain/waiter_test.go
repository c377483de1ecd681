package onchain

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var txHash = common.HexToHash("0xabcdef")

// scriptedReader returns NotFound until minedAfter lookups, then receipt.
type scriptedReader struct {
	mu         sync.Mutex
	lookups    int
	minedAfter int
	receipt    *ethtypes.Receipt
	transient  error
}

func (s *scriptedReader) TransactionReceipt(context.Context, common.Hash) (*ethtypes.Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups++
	if s.transient != nil && s.lookups == 1 {
		return nil, s.transient
	}
	if s.receipt == nil || s.lookups <= s.minedAfter {
		return nil, ethereum.NotFound
	}
	return s.receipt, nil
}

func (s *scriptedReader) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lookups
}

func receipt(status uint64) *ethtypes.Receipt {
	return &ethtypes.Receipt{Status: status, BlockNumber: big.NewInt(42), GasUsed: 210000, TxHash: txHash}
}

func TestWaitMinedSuccess(t *testing.T) {
	reader := &scriptedReader{minedAfter: 2, receipt: receipt(ethtypes.ReceiptStatusSuccessful)}
	r, err := NewWaiter(reader, time.Millisecond).WaitMined(context.Background(), txHash)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), r.BlockNumber.Uint64())
	assert.Equal(t, 3, reader.count())
}

func TestWaitMinedRetriesTransientErrors(t *testing.T) {
	reader := &scriptedReader{receipt: receipt(ethtypes.ReceiptStatusSuccessful), transient: errors.New("502 bad gateway")}
	_, err := NewWaiter(reader, time.Millisecond).WaitMined(context.Background(), txHash)
	require.NoError(t, err)
}

func TestWaitMinedReverted(t *testing.T) {
	reader := &scriptedReader{receipt: receipt(ethtypes.ReceiptStatusFailed)}
	r, err := NewWaiter(reader, time.Millisecond).WaitMined(context.Background(), txHash)
	assert.ErrorIs(t, err, ErrReverted)
	require.NotNil(t, r)
	assert.Equal(t, ethtypes.ReceiptStatusFailed, r.Status)
}

func TestWaitMinedTimeout(t *testing.T) {
	reader := &scriptedReader{}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := NewWaiter(reader, time.Millisecond).WaitMined(ctx, txHash)
	assert.ErrorIs(t, err, ErrPending)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), txHash.Hex())
}

type chanHeads struct {
	ch       chan uint64
	released bool
}

func (c *chanHeads) Subscribe() (<-chan uint64, func()) {
	return c.ch, func() { c.released = true }
}

func TestWaitMinedWakesOnNewHead(t *testing.T) {
	reader := &scriptedReader{minedAfter: 1, receipt: receipt(ethtypes.ReceiptStatusSuccessful)}
	heads := &chanHeads{ch: make(chan uint64, 1)}
	heads.ch <- 43

	// the poll interval alone would outlast the test timeout
	w := NewWaiter(reader, time.Hour).WithHeads(heads)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := w.WaitMined(ctx, txHash)
	require.NoError(t, err)
	assert.Equal(t, 2, reader.count())
	assert.True(t, heads.released)
}
