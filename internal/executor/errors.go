package executor

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Sentinels for errors.Is matching of the typed errors below.
var (
	ErrAllowanceQuery = errors.New("allowance query failed")
	ErrQuote          = errors.New("purchase quote failed")
	ErrSubmission     = errors.New("batch submission failed")
	ErrConfirmation   = errors.New("batch confirmation failed")
	ErrProxy          = errors.New("proxy resolution failed")
)

// AllowanceQueryError: a ledger read failed. Nothing was submitted; the whole
// purchase can be retried.
type AllowanceQueryError struct {
	Owner   common.Address
	Spender common.Address
	Err     error
}

func (e *AllowanceQueryError) Error() string {
	return fmt.Sprintf("%s: allowance(%s, %s): %v", ErrAllowanceQuery, e.Owner.Hex(), e.Spender.Hex(), e.Err)
}

func (e *AllowanceQueryError) Unwrap() []error { return []error{ErrAllowanceQuery, e.Err} }

// QuoteError: the quote call failed or returned an unusable bound. Nothing was
// built or submitted.
type QuoteError struct {
	Market       common.Address
	Amount       *big.Int
	OutcomeIndex int
	MinShares    *big.Int // set when the call succeeded but the value was rejected
	Err          error
}

func (e *QuoteError) Error() string {
	return fmt.Sprintf("%s: market %s amount %s outcome %d: %v", ErrQuote, e.Market.Hex(), e.Amount, e.OutcomeIndex, e.Err)
}

func (e *QuoteError) Unwrap() []error { return []error{ErrQuote, e.Err} }

// SubmissionError: the batched transaction was not accepted. Do not retry
// blindly.
type SubmissionError struct {
	Signer common.Address
	Proxy  common.Address
	Calls  int
	Err    error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("%s: %d calls from %s via proxy %s: %v", ErrSubmission, e.Calls, e.Signer.Hex(), e.Proxy.Hex(), e.Err)
}

func (e *SubmissionError) Unwrap() []error { return []error{ErrSubmission, e.Err} }

// ConfirmationError: the transaction was submitted but not seen mined in
// time (Pending) or it was mined and reverted (Reverted). Poll TxHash instead
// of resubmitting.
type ConfirmationError struct {
	TxHash      common.Hash
	Pending     bool
	Reverted    bool
	BlockNumber uint64
	Err         error
}

func (e *ConfirmationError) Error() string {
	state := "pending"
	if e.Reverted {
		state = fmt.Sprintf("reverted in block %d", e.BlockNumber)
	}
	return fmt.Sprintf("%s: tx %s %s: %v", ErrConfirmation, e.TxHash.Hex(), state, e.Err)
}

func (e *ConfirmationError) Unwrap() []error { return []error{ErrConfirmation, e.Err} }

// ProxyError: the proxy address could not be resolved. Nothing was submitted.
type ProxyError struct {
	Signer common.Address
	Err    error
}

func (e *ProxyError) Error() string {
	return fmt.Sprintf("%s: signer %s: %v", ErrProxy, e.Signer.Hex(), e.Err)
}

func (e *ProxyError) Unwrap() []error { return []error{ErrProxy, e.Err} }
