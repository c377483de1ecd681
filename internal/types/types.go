// Package types defines the shared domain types for the buyer.
package types

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// ErrInvalidRequest is wrapped by every PurchaseRequest validation failure.
var ErrInvalidRequest = errors.New("invalid purchase request")

// ── Purchase request ─────────────────────────────────────────────────────

// PurchaseRequest describes one outcome-share purchase through the proxy wallet.
// Amounts are in collateral base units.
type PurchaseRequest struct {
	Signer       common.Address // EOA that owns the proxy
	CostAmount   *big.Int       // collateral pulled from the signer
	ShareAmount  *big.Int       // investment amount passed to the market maker
	OutcomeIndex int
	Market       common.Address // fixed-product market maker
	Collateral   common.Address // ERC-20 collateral token
}

// NewPurchaseRequest builds a validated request. The amounts are copied, so
// later mutation of the caller's big.Ints does not leak into the request.
func NewPurchaseRequest(signer common.Address, cost, shares *big.Int, outcomeIndex int, market, collateral common.Address) (PurchaseRequest, error) {
	req := PurchaseRequest{
		Signer:       signer,
		CostAmount:   copyInt(cost),
		ShareAmount:  copyInt(shares),
		OutcomeIndex: outcomeIndex,
		Market:       market,
		Collateral:   collateral,
	}
	if err := req.Validate(); err != nil {
		return PurchaseRequest{}, err
	}
	return req, nil
}

// Validate checks amounts are non-negative integers and addresses are set.
func (r PurchaseRequest) Validate() error {
	switch {
	case r.CostAmount == nil:
		return fmt.Errorf("%w: cost amount missing", ErrInvalidRequest)
	case r.CostAmount.Sign() < 0:
		return fmt.Errorf("%w: cost amount %s is negative", ErrInvalidRequest, r.CostAmount)
	case r.ShareAmount == nil:
		return fmt.Errorf("%w: share amount missing", ErrInvalidRequest)
	case r.ShareAmount.Sign() < 0:
		return fmt.Errorf("%w: share amount %s is negative", ErrInvalidRequest, r.ShareAmount)
	case r.OutcomeIndex < 0:
		return fmt.Errorf("%w: outcome index %d is negative", ErrInvalidRequest, r.OutcomeIndex)
	case r.Signer == (common.Address{}):
		return fmt.Errorf("%w: signer address missing", ErrInvalidRequest)
	case r.Market == (common.Address{}):
		return fmt.Errorf("%w: market address missing", ErrInvalidRequest)
	case r.Collateral == (common.Address{}):
		return fmt.Errorf("%w: collateral address missing", ErrInvalidRequest)
	}
	return nil
}

// String returns a human-readable summary.
func (r PurchaseRequest) String() string {
	return fmt.Sprintf("Purchase(signer=%s market=%s outcome=%d cost=%s amount=%s)",
		r.Signer.Hex(), r.Market.Hex(), r.OutcomeIndex, r.CostAmount, r.ShareAmount)
}

func copyInt(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

// ── Sub-transactions ─────────────────────────────────────────────────────

// Operation mirrors the Safe operation enum.
type Operation uint8

const (
	OpCall         Operation = 0
	OpDelegateCall Operation = 1
)

// CallKind tags what a sub-transaction does. The proxy ignores it; it exists
// so batches can be checked and printed.
type CallKind string

const (
	KindApprove      CallKind = "approve"
	KindTransferFrom CallKind = "transferFrom"
	KindPurchase     CallKind = "buy"
)

// SubTransaction is one call executed by the proxy inside a batch.
type SubTransaction struct {
	Kind      CallKind
	To        common.Address
	Value     *big.Int // always zero in the purchase flow
	Data      []byte
	Operation Operation
	Spender   common.Address // approve: who gets the allowance
	Owner     common.Address // approve/transferFrom: whose allowance is used
}

// String returns a short description for logs.
func (s SubTransaction) String() string {
	switch s.Kind {
	case KindApprove:
		return fmt.Sprintf("approve(%s→%s) on %s", s.Owner.Hex()[:10], s.Spender.Hex()[:10], s.To.Hex()[:10])
	case KindTransferFrom:
		return fmt.Sprintf("transferFrom(%s) on %s", s.Owner.Hex()[:10], s.To.Hex()[:10])
	default:
		return fmt.Sprintf("%s on %s", s.Kind, s.To.Hex()[:10])
	}
}

// ── Batch ────────────────────────────────────────────────────────────────

// Batch is the ordered list of sub-transactions submitted atomically.
type Batch []SubTransaction

const (
	MinBatchLen = 2
	MaxBatchLen = 4
)

// Kinds returns the call kinds in order.
func (b Batch) Kinds() []CallKind {
	kinds := make([]CallKind, len(b))
	for i, tx := range b {
		kinds[i] = tx.Kind
	}
	return kinds
}

// Validate enforces the ordering invariants: 2..4 calls, exactly one purchase
// and it is last, and every approval for a spender precedes the calls that
// spend it. A transferFrom is spent by the proxy; the purchase by the market.
func (b Batch) Validate() error {
	if len(b) < MinBatchLen || len(b) > MaxBatchLen {
		return fmt.Errorf("batch has %d calls, want %d..%d", len(b), MinBatchLen, MaxBatchLen)
	}
	purchases := 0
	for _, tx := range b {
		if tx.Kind == KindPurchase {
			purchases++
		}
		if tx.Value != nil && tx.Value.Sign() != 0 {
			return fmt.Errorf("%s carries value %s", tx, tx.Value)
		}
	}
	if purchases != 1 {
		return fmt.Errorf("batch has %d purchase calls, want 1", purchases)
	}
	if b[len(b)-1].Kind != KindPurchase {
		return fmt.Errorf("purchase is not the last call")
	}

	spent := map[common.Address]bool{}
	for i, tx := range b {
		switch tx.Kind {
		case KindApprove:
			if spent[tx.Spender] {
				return fmt.Errorf("approval for %s at position %d follows a call spending it", tx.Spender.Hex(), i)
			}
		case KindTransferFrom:
			// the proxy is msg.sender of transferFrom
			spent[tx.Spender] = true
		case KindPurchase:
			spent[tx.To] = true
		}
	}
	return nil
}

// ── Receipt ──────────────────────────────────────────────────────────────

// Receipt is the terminal confirmation record returned to the caller.
type Receipt struct {
	TransactionHash string
	Confirmed       bool
	BlockNumber     uint64
	GasUsed         uint64
}
