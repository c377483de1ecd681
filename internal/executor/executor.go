// Package executor buys outcome shares through the proxy wallet.
//
// One purchase is one atomic batch:
//
//	resolve proxy → read both allowances ∥ quote → build batch → submit → wait
//
// Nothing touches the chain before submit, so every failure up to that point
// is safe to retry. After submit the caller gets either a receipt or an error
// carrying the transaction hash.
package executor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/gipsh/cpk-buyer-go/internal/log"
	"github.com/gipsh/cpk-buyer-go/internal/types"
)

// AllowanceOracle reads the current allowance of one token.
type AllowanceOracle interface {
	Allowance(ctx context.Context, owner, spender common.Address) (*big.Int, error)
}

// TokenEncoder builds collateral token calldata.
type TokenEncoder interface {
	EncodeTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error)
	EncodeApproveUnlimited(spender common.Address) ([]byte, error)
}

// PurchaseEncoder builds the market purchase calldata.
type PurchaseEncoder interface {
	EncodePurchase(amount *big.Int, outcomeIndex int, minShares *big.Int) ([]byte, error)
}

// MarketQuoter quotes and encodes purchases against one market.
type MarketQuoter interface {
	QuoteMinShares(ctx context.Context, amount *big.Int, outcomeIndex int) (*big.Int, error)
	PurchaseEncoder
}

// Contracts hands out per-address contract handles.
type Contracts interface {
	Token(address common.Address) AllowanceOracle
	Market(address common.Address) MarketQuoter
}

// ProxyWallet is the batched-execution capability.
type ProxyWallet interface {
	Address(ctx context.Context, owner common.Address) (common.Address, error)
	Submit(ctx context.Context, owner common.Address, batch types.Batch, gasLimit uint64) (common.Hash, error)
}

// Confirmer waits for a submitted transaction to be mined.
type Confirmer interface {
	WaitMined(ctx context.Context, txHash common.Hash) (*ethtypes.Receipt, error)
}

// Options tune submission and confirmation.
type Options struct {
	GasLimit           uint64
	ConfirmTimeout     time.Duration // 0 = only the caller's context bounds the wait
	AllowZeroMinShares bool
}

var errZeroMinShares = errors.New("quote returned a zero minimum-shares bound")

// Executor runs purchases. It holds no per-purchase state, so one Executor
// serves concurrent purchases.
type Executor struct {
	contracts Contracts
	tokens    TokenEncoder
	proxy     ProxyWallet
	confirmer Confirmer
	opts      Options
}

// New creates an Executor.
func New(contracts Contracts, tokens TokenEncoder, proxy ProxyWallet, confirmer Confirmer, opts Options) *Executor {
	return &Executor{
		contracts: contracts,
		tokens:    tokens,
		proxy:     proxy,
		confirmer: confirmer,
		opts:      opts,
	}
}

// Plan is everything decided before submission.
type Plan struct {
	Request         types.PurchaseRequest
	Proxy           common.Address
	SignerAllowance *big.Int
	ProxyAllowance  *big.Int
	MinShares       *big.Int
	Batch           types.Batch
}

// Plan resolves the proxy, reads allowances and the quote, and assembles the
// batch. It never writes to the chain.
func (e *Executor) Plan(ctx context.Context, req types.PurchaseRequest) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ctx = log.WithComponent(ctx, "executor")
	ctx = log.WithLogField(ctx, "signer", req.Signer.Hex())
	ctx = log.WithLogField(ctx, "market", req.Market.Hex())

	proxy, err := e.proxy.Address(ctx, req.Signer)
	if err != nil {
		return nil, &ProxyError{Signer: req.Signer, Err: err}
	}
	log.L(ctx).Infof("proxy address resolved: %s", proxy.Hex())

	token := e.contracts.Token(req.Collateral)
	mkt := e.contracts.Market(req.Market)

	var signerAllowance, proxyAllowance, minShares *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a, err := token.Allowance(gctx, req.Signer, proxy)
		if err != nil {
			return &AllowanceQueryError{Owner: req.Signer, Spender: proxy, Err: err}
		}
		signerAllowance = a
		return nil
	})
	g.Go(func() error {
		a, err := token.Allowance(gctx, proxy, req.Market)
		if err != nil {
			return &AllowanceQueryError{Owner: proxy, Spender: req.Market, Err: err}
		}
		proxyAllowance = a
		return nil
	})
	g.Go(func() error {
		q, err := mkt.QuoteMinShares(gctx, req.ShareAmount, req.OutcomeIndex)
		if err != nil {
			return &QuoteError{Market: req.Market, Amount: req.ShareAmount, OutcomeIndex: req.OutcomeIndex, Err: err}
		}
		minShares = q
		return nil
	})
	if err := g.Wait(); err != nil {
		log.L(ctx).Errorf("pre-flight reads failed: %v", err)
		return nil, err
	}

	if err := e.checkQuote(req, minShares); err != nil {
		log.L(ctx).Errorf("%v", err)
		return nil, err
	}
	log.L(ctx).Infof("min outcome tokens to buy: %s", minShares)

	facts := FactsFrom(req.CostAmount, signerAllowance, proxyAllowance)
	batch, err := BuildBatch(req, proxy, minShares, facts, e.tokens, mkt)
	if err != nil {
		return nil, fmt.Errorf("build batch: %w", err)
	}
	log.L(ctx).Infof("batch assembled: %v (signer allowance %s, proxy allowance %s, cost %s)",
		batch.Kinds(), signerAllowance, proxyAllowance, req.CostAmount)

	return &Plan{
		Request:         req,
		Proxy:           proxy,
		SignerAllowance: signerAllowance,
		ProxyAllowance:  proxyAllowance,
		MinShares:       minShares,
		Batch:           batch,
	}, nil
}

func (e *Executor) checkQuote(req types.PurchaseRequest, minShares *big.Int) error {
	quoteErr := func(err error) error {
		return &QuoteError{Market: req.Market, Amount: req.ShareAmount, OutcomeIndex: req.OutcomeIndex, MinShares: minShares, Err: err}
	}
	switch {
	case minShares == nil:
		return quoteErr(errors.New("quote returned no value"))
	case minShares.Sign() < 0:
		return quoteErr(fmt.Errorf("quote returned negative bound %s", minShares))
	case minShares.Sign() == 0 && !e.opts.AllowZeroMinShares:
		return quoteErr(errZeroMinShares)
	}
	return nil
}

// PurchaseOutcomeShares plans, submits and confirms one purchase.
func (e *Executor) PurchaseOutcomeShares(ctx context.Context, req types.PurchaseRequest) (*types.Receipt, error) {
	plan, err := e.Plan(ctx, req)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, plan)
}

// Execute submits a plan's batch and waits for it to be mined.
func (e *Executor) Execute(ctx context.Context, plan *Plan) (*types.Receipt, error) {
	req := plan.Request
	ctx = log.WithComponent(ctx, "executor")
	ctx = log.WithLogField(ctx, "signer", req.Signer.Hex())

	txHash, err := e.proxy.Submit(ctx, req.Signer, plan.Batch, e.opts.GasLimit)
	if err != nil {
		log.L(ctx).Errorf("there was an error buying %s of shares: %v", req.ShareAmount, err)
		return nil, &SubmissionError{Signer: req.Signer, Proxy: plan.Proxy, Calls: len(plan.Batch), Err: err}
	}
	log.L(ctx).Infof("transaction hash: %s", txHash.Hex())

	return e.AwaitConfirmation(ctx, txHash)
}

// AwaitConfirmation waits for txHash under the configured timeout. Use it to
// poll a hash carried by a ConfirmationError.
func (e *Executor) AwaitConfirmation(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if e.opts.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.ConfirmTimeout)
		defer cancel()
	}

	receipt, err := e.confirmer.WaitMined(ctx, txHash)
	if err != nil {
		cerr := &ConfirmationError{TxHash: txHash, Pending: true, Err: err}
		if receipt != nil && receipt.Status != ethtypes.ReceiptStatusSuccessful {
			cerr.Pending = false
			cerr.Reverted = true
			cerr.BlockNumber = blockNumber(receipt)
		}
		log.L(ctx).Errorf("%v", cerr)
		return nil, cerr
	}
	if receipt.Status != ethtypes.ReceiptStatusSuccessful {
		return nil, &ConfirmationError{TxHash: txHash, Reverted: true, BlockNumber: blockNumber(receipt), Err: errors.New("status 0")}
	}

	return &types.Receipt{
		TransactionHash: txHash.Hex(),
		Confirmed:       true,
		BlockNumber:     blockNumber(receipt),
		GasUsed:         receipt.GasUsed,
	}, nil
}

func blockNumber(r *ethtypes.Receipt) uint64 {
	if r.BlockNumber == nil {
		return 0
	}
	return r.BlockNumber.Uint64()
}
