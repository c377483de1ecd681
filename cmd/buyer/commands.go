package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"

	"github.com/gipsh/cpk-buyer-go/internal/config"
	"github.com/gipsh/cpk-buyer-go/internal/erc20"
	"github.com/gipsh/cpk-buyer-go/internal/executor"
	"github.com/gipsh/cpk-buyer-go/internal/market"
	"github.com/gipsh/cpk-buyer-go/internal/types"
	"github.com/gipsh/cpk-buyer-go/internal/units"
)

// purchaseFlags are shared by plan and buy.
type purchaseFlags struct {
	market     string
	collateral string
	owner      string
	cost       string
	amount     string
	outcome    int
	human      bool
}

func (f *purchaseFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.market, "market", "", "market maker address")
	fs.StringVar(&f.collateral, "collateral", "", "collateral token (default: read from the market)")
	fs.StringVar(&f.owner, "owner", "", "signer address (default: address of PRIVATE_KEY)")
	fs.StringVar(&f.cost, "cost", "", "collateral moved from the signer to the proxy")
	fs.StringVar(&f.amount, "amount", "", "investment passed to the market's buy")
	fs.IntVar(&f.outcome, "outcome", 0, "outcome index")
	fs.BoolVar(&f.human, "units", false, "read --cost and --amount as decimal token amounts")
	_ = cmd.MarkFlagRequired("market")
	_ = cmd.MarkFlagRequired("cost")
	_ = cmd.MarkFlagRequired("amount")
}

// request turns the flags into a PurchaseRequest. It returns the collateral
// decimals for display.
func (f *purchaseFlags) request(ctx context.Context, a *app) (types.PurchaseRequest, uint8, error) {
	if !common.IsHexAddress(f.market) {
		return types.PurchaseRequest{}, 0, fmt.Errorf("invalid --market %q", f.market)
	}
	marketAddr := common.HexToAddress(f.market)

	signer, err := ownerOrSigner(a, f.owner)
	if err != nil {
		return types.PurchaseRequest{}, 0, err
	}

	var collateral common.Address
	if f.collateral != "" {
		if !common.IsHexAddress(f.collateral) {
			return types.PurchaseRequest{}, 0, fmt.Errorf("invalid --collateral %q", f.collateral)
		}
		collateral = common.HexToAddress(f.collateral)
	} else {
		collateral, err = market.NewMaker(a.client, marketAddr).Collateral(ctx)
		if err != nil {
			return types.PurchaseRequest{}, 0, fmt.Errorf("read collateral of %s: %w", marketAddr.Hex(), err)
		}
	}

	decimals, err := erc20.NewToken(a.client, collateral).Decimals(ctx)
	if err != nil {
		return types.PurchaseRequest{}, 0, fmt.Errorf("read decimals of %s: %w", collateral.Hex(), err)
	}

	cost, err := f.parseAmount("--cost", f.cost, decimals)
	if err != nil {
		return types.PurchaseRequest{}, 0, err
	}
	shares, err := f.parseAmount("--amount", f.amount, decimals)
	if err != nil {
		return types.PurchaseRequest{}, 0, err
	}

	req, err := types.NewPurchaseRequest(signer, cost, shares, f.outcome, marketAddr, collateral)
	return req, decimals, err
}

func (f *purchaseFlags) parseAmount(name, v string, decimals uint8) (*big.Int, error) {
	if f.human {
		n, err := units.ToBaseUnits(v, decimals)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", name, err)
		}
		return n, nil
	}
	n, ok := new(big.Int).SetString(v, 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q: expected an integer in base units", name, v)
	}
	return n, nil
}

func ownerOrSigner(a *app, owner string) (common.Address, error) {
	if owner != "" {
		if !common.IsHexAddress(owner) {
			return common.Address{}, fmt.Errorf("invalid --owner %q", owner)
		}
		return common.HexToAddress(owner), nil
	}
	signer := a.proxy.Signer()
	if signer == (common.Address{}) {
		return common.Address{}, errors.New("PRIVATE_KEY not set and no --owner given")
	}
	return signer, nil
}

func printPlan(cmd *cobra.Command, plan *executor.Plan, decimals uint8) {
	out := cmd.OutOrStdout()
	req := plan.Request
	fmt.Fprintf(out, "signer:           %s\n", req.Signer.Hex())
	fmt.Fprintf(out, "proxy:            %s\n", plan.Proxy.Hex())
	fmt.Fprintf(out, "market:           %s (outcome %d)\n", req.Market.Hex(), req.OutcomeIndex)
	fmt.Fprintf(out, "collateral:       %s\n", req.Collateral.Hex())
	fmt.Fprintf(out, "cost:             %s\n", units.FromBaseUnits(req.CostAmount, decimals))
	fmt.Fprintf(out, "investment:       %s\n", units.FromBaseUnits(req.ShareAmount, decimals))
	fmt.Fprintf(out, "min shares:       %s\n", plan.MinShares)
	fmt.Fprintf(out, "signer allowance: %s\n", units.FromBaseUnits(plan.SignerAllowance, decimals))
	fmt.Fprintf(out, "proxy allowance:  %s\n", units.FromBaseUnits(plan.ProxyAllowance, decimals))
	fmt.Fprintf(out, "batch:\n")
	for i, tx := range plan.Batch {
		fmt.Fprintf(out, "  %d. %s\n", i+1, tx)
	}
}

func printReceipt(cmd *cobra.Command, r *types.Receipt) {
	fmt.Fprintf(cmd.OutOrStdout(), "confirmed %s in block %d (gas used %d)\n", r.TransactionHash, r.BlockNumber, r.GasUsed)
}

func newPlanCmd() *cobra.Command {
	var flags purchaseFlags
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show the batch a purchase would submit, without sending it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req, decimals, err := flags.request(ctx, a)
			if err != nil {
				return err
			}
			plan, err := a.executor.Plan(ctx, req)
			if err != nil {
				return err
			}
			printPlan(cmd, plan, decimals)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newBuyCmd() *cobra.Command {
	var flags purchaseFlags
	cmd := &cobra.Command{
		Use:   "buy",
		Short: "Buy outcome shares in one proxy transaction",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			req, decimals, err := flags.request(ctx, a)
			if err != nil {
				return err
			}
			plan, err := a.executor.Plan(ctx, req)
			if err != nil {
				return err
			}
			printPlan(cmd, plan, decimals)
			if config.DryRun {
				fmt.Fprintln(cmd.OutOrStdout(), "DRY_RUN set, not submitting")
				return nil
			}

			receipt, err := a.executor.Execute(ctx, plan)
			if err != nil {
				var cerr *executor.ConfirmationError
				if errors.As(err, &cerr) && cerr.Pending {
					fmt.Fprintf(cmd.ErrOrStderr(), "still pending, check later with: buyer wait %s\n", cerr.TxHash.Hex())
				}
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func newWaitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "wait <tx-hash>",
		Short: "Wait for a submitted purchase to be mined",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := args[0]
			if len(trim0x(raw)) != 2*common.HashLength {
				return fmt.Errorf("invalid transaction hash %q", raw)
			}
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			receipt, err := a.executor.AwaitConfirmation(ctx, common.HexToHash(raw))
			if err != nil {
				return err
			}
			printReceipt(cmd, receipt)
			return nil
		},
	}
}

func newProxyCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Print the proxy wallet address of an owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			o, err := ownerOrSigner(a, owner)
			if err != nil {
				return err
			}
			addr, err := a.proxy.Address(ctx, o)
			if err != nil {
				return err
			}
			code, err := a.client.CodeAt(ctx, addr, nil)
			if err != nil {
				return err
			}
			state := "not deployed (created on first purchase)"
			if len(code) > 0 {
				state = "deployed"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", addr.Hex(), state)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner address (default: address of PRIVATE_KEY)")
	return cmd
}
