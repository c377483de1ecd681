package onchain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/gipsh/cpk-buyer-go/internal/log"
)

var (
	// ErrPending means the wait ended before a receipt was seen.
	ErrPending = errors.New("transaction still pending")
	// ErrReverted means the transaction was mined with a failed status.
	ErrReverted = errors.New("transaction reverted")
)

// ReceiptReader is satisfied by *ethclient.Client.
type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// HeadSource delivers new block numbers. Subscribe returns a channel and a
// cancel func that releases it.
type HeadSource interface {
	Subscribe() (<-chan uint64, func())
}

// Waiter blocks until a transaction is mined.
type Waiter struct {
	reader   ReceiptReader
	interval time.Duration
	heads    HeadSource
}

// NewWaiter polls reader every interval.
func NewWaiter(reader ReceiptReader, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &Waiter{reader: reader, interval: interval}
}

// WithHeads makes the waiter re-check on every new block as well as on the
// poll interval.
func (w *Waiter) WithHeads(heads HeadSource) *Waiter {
	w.heads = heads
	return w
}

// WaitMined returns the receipt once txHash is mined. A reverted receipt is
// returned together with ErrReverted. When ctx ends first the error wraps
// ErrPending and ctx.Err().
func (w *Waiter) WaitMined(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error) {
	var newHeads <-chan uint64
	if w.heads != nil {
		ch, cancel := w.heads.Subscribe()
		defer cancel()
		newHeads = ch
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.reader.TransactionReceipt(ctx, txHash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status == ethtypes.ReceiptStatusSuccessful {
				log.L(ctx).Infof("[waiter] tx %s confirmed in block %d", txHash.Hex(), receipt.BlockNumber)
				return receipt, nil
			}
			return receipt, fmt.Errorf("%w in block %d", ErrReverted, receipt.BlockNumber)
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			log.L(ctx).Warnf("[waiter] receipt lookup for %s failed, retrying: %v", txHash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", ErrPending, txHash.Hex(), ctx.Err())
		case <-ticker.C:
		case n, ok := <-newHeads:
			if !ok {
				newHeads = nil
				continue
			}
			log.L(ctx).Tracef("[waiter] new head %d, re-checking %s", n, txHash.Hex())
		}
	}
}
