// Outcome-share buyer: purchases market maker outcome tokens through a
// Contract Proxy Kit wallet in one atomic batch.
//
//	buyer plan   show the batch a purchase would submit
//	buyer buy    submit it and wait for the receipt
//	buyer wait   poll a previously submitted transaction by hash
//	buyer proxy  print the proxy address of an owner
package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/gipsh/cpk-buyer-go/internal/config"
	"github.com/gipsh/cpk-buyer-go/internal/erc20"
	"github.com/gipsh/cpk-buyer-go/internal/executor"
	"github.com/gipsh/cpk-buyer-go/internal/log"
	"github.com/gipsh/cpk-buyer-go/internal/onchain"
	"github.com/gipsh/cpk-buyer-go/internal/ws"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "buyer",
		Short:         "Buy outcome shares through a proxy wallet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			config.Load()
		},
	}
	root.AddCommand(newPlanCmd(), newBuyCmd(), newWaitCmd(), newProxyCmd())
	return root
}

// app is the wired runtime shared by the subcommands.
type app struct {
	client   *ethclient.Client
	proxy    *onchain.Proxy
	executor *executor.Executor
	heads    *ws.HeadWatcher
}

func (a *app) Close() {
	if a.heads != nil {
		a.heads.Stop()
	}
	a.client.Close()
}

func newApp(ctx context.Context) (*app, error) {
	client, err := ethclient.DialContext(ctx, config.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", config.RPCURL, err)
	}

	key, err := loadKey()
	if err != nil {
		client.Close()
		return nil, err
	}

	proxyCfg, err := proxyConfig()
	if err != nil {
		client.Close()
		return nil, err
	}
	proxy, err := onchain.NewProxy(client, key, proxyCfg)
	if err != nil {
		client.Close()
		return nil, err
	}

	a := &app{client: client, proxy: proxy}

	waiter := onchain.NewWaiter(client, config.ReceiptPollInterval)
	if config.WSURL != "" {
		a.heads = ws.NewHeadWatcher(config.WSURL)
		a.heads.Start()
		waiter.WithHeads(a.heads)
	}

	a.executor = executor.New(
		executor.NewChainContracts(client),
		erc20.Encoder{},
		proxy,
		waiter,
		executor.Options{
			GasLimit:           config.GasLimit,
			ConfirmTimeout:     config.ConfirmTimeout,
			AllowZeroMinShares: config.AllowZeroMinShares,
		},
	)
	log.L(ctx).Debugf("[main] connected to %s (chain %d)", config.RPCURL, config.ChainID)
	return a, nil
}

// loadKey returns nil without error when PRIVATE_KEY is unset; read-only
// commands work with --owner in that case.
func loadKey() (*ecdsa.PrivateKey, error) {
	if config.PrivateKey == "" {
		return nil, nil
	}
	key, err := onchain.ParsePrivateKey(config.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid PRIVATE_KEY: %w", err)
	}
	return key, nil
}

func proxyConfig() (onchain.ProxyConfig, error) {
	salt, ok := new(big.Int).SetString(trim0x(config.SaltNonce), 16)
	if !ok {
		return onchain.ProxyConfig{}, fmt.Errorf("invalid CPK_SALT_NONCE %q", config.SaltNonce)
	}
	for name, v := range map[string]string{
		"CPK_FACTORY":          config.ProxyFactory,
		"CPK_MASTER_COPY":      config.MasterCopy,
		"CPK_MULTISEND":        config.MultiSend,
		"CPK_FALLBACK_HANDLER": config.FallbackHandler,
	} {
		if !common.IsHexAddress(v) {
			return onchain.ProxyConfig{}, fmt.Errorf("invalid %s %q", name, v)
		}
	}
	return onchain.ProxyConfig{
		Factory:         common.HexToAddress(config.ProxyFactory),
		MasterCopy:      common.HexToAddress(config.MasterCopy),
		MultiSend:       common.HexToAddress(config.MultiSend),
		FallbackHandler: common.HexToAddress(config.FallbackHandler),
		SaltNonce:       salt,
		ChainID:         big.NewInt(config.ChainID),
	}, nil
}

func trim0x(s string) string {
	if len(s) >= 2 && (s[:2] == "0x" || s[:2] == "0X") {
		return s[2:]
	}
	return s
}
