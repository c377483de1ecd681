package executor

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gipsh/cpk-buyer-go/internal/types"
)

// Facts are the allowance answers a batch depends on.
type Facts struct {
	SignerApproved bool // signer → proxy allowance covers the cost
	ProxyApproved  bool // proxy → market allowance covers the cost
}

// FactsFrom compares both allowances against cost.
func FactsFrom(cost, signerAllowance, proxyAllowance *big.Int) Facts {
	return Facts{
		SignerApproved: signerAllowance.Cmp(cost) >= 0,
		ProxyApproved:  proxyAllowance.Cmp(cost) >= 0,
	}
}

// BuildBatch assembles the ordered calls for a purchase:
//
//	[approve(proxy)]  if the signer has not approved the proxy
//	transferFrom(signer, proxy, cost)
//	[approve(market)] if the proxy has not approved the market
//	buy(amount, outcome, minShares)
//
// The output depends only on its arguments.
func BuildBatch(req types.PurchaseRequest, proxy common.Address, minShares *big.Int, facts Facts, tokens TokenEncoder, purchases PurchaseEncoder) (types.Batch, error) {
	batch := make(types.Batch, 0, types.MaxBatchLen)

	if !facts.SignerApproved {
		data, err := tokens.EncodeApproveUnlimited(proxy)
		if err != nil {
			return nil, err
		}
		batch = append(batch, collateralCall(req, types.KindApprove, data, req.Signer, proxy))
	}

	data, err := tokens.EncodeTransferFrom(req.Signer, proxy, req.CostAmount)
	if err != nil {
		return nil, err
	}
	batch = append(batch, collateralCall(req, types.KindTransferFrom, data, req.Signer, proxy))

	if !facts.ProxyApproved {
		data, err := tokens.EncodeApproveUnlimited(req.Market)
		if err != nil {
			return nil, err
		}
		batch = append(batch, collateralCall(req, types.KindApprove, data, proxy, req.Market))
	}

	data, err = purchases.EncodePurchase(req.ShareAmount, req.OutcomeIndex, minShares)
	if err != nil {
		return nil, err
	}
	batch = append(batch, types.SubTransaction{
		Kind:      types.KindPurchase,
		To:        req.Market,
		Value:     new(big.Int),
		Data:      data,
		Operation: types.OpCall,
		Owner:     proxy,
	})

	if err := batch.Validate(); err != nil {
		return nil, fmt.Errorf("assembled batch is malformed: %w", err)
	}
	return batch, nil
}

func collateralCall(req types.PurchaseRequest, kind types.CallKind, data []byte, owner, spender common.Address) types.SubTransaction {
	return types.SubTransaction{
		Kind:      kind,
		To:        req.Collateral,
		Value:     new(big.Int),
		Data:      data,
		Operation: types.OpCall,
		Owner:     owner,
		Spender:   spender,
	}
}
