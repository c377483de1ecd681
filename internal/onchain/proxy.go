// Package onchain executes batched calls through a Contract Proxy Kit wallet.
//
// Architecture:
//
//	EOA (PRIVATE_KEY) → signs and sends the outer transaction
//	CPK proxy (Gnosis Safe, owned by the EOA) → delegatecalls MultiSend
//	MultiSend → runs every sub-call in order, reverting all on any failure
//
// The proxy address is a CREATE2 address derived from the owner, so it is
// known before the proxy exists. The first batch deploys it through the
// factory's createProxyAndExecTransaction.
package onchain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/gipsh/cpk-buyer-go/internal/log"
	"github.com/gipsh/cpk-buyer-go/internal/types"
)

// ── ABIs ─────────────────────────────────────────────────────────────────

const proxyFactoryABI = `[{
	"name":"proxyCreationCode",
	"type":"function",
	"stateMutability":"pure",
	"inputs":[],
	"outputs":[{"name":"","type":"bytes"}]
},{
	"name":"createProxyAndExecTransaction",
	"type":"function",
	"inputs":[
		{"name":"masterCopy","type":"address"},
		{"name":"saltNonce","type":"uint256"},
		{"name":"fallbackHandler","type":"address"},
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"}
	],
	"outputs":[{"name":"execTransactionSuccess","type":"bool"}]
}]`

const safeABI = `[{
	"name":"execTransaction",
	"type":"function",
	"inputs":[
		{"name":"to","type":"address"},
		{"name":"value","type":"uint256"},
		{"name":"data","type":"bytes"},
		{"name":"operation","type":"uint8"},
		{"name":"safeTxGas","type":"uint256"},
		{"name":"baseGas","type":"uint256"},
		{"name":"gasPrice","type":"uint256"},
		{"name":"gasToken","type":"address"},
		{"name":"refundReceiver","type":"address"},
		{"name":"signatures","type":"bytes"}
	],
	"outputs":[{"name":"","type":"bool"}]
}]`

const multiSendABI = `[{
	"name":"multiSend",
	"type":"function",
	"inputs":[{"name":"transactions","type":"bytes"}],
	"outputs":[]
}]`

var (
	factoryABI   = mustParseABI(proxyFactoryABI)
	proxyABI     = mustParseABI(safeABI)
	multiSendDef = mustParseABI(multiSendABI)

	saltArgs = abi.Arguments{
		{Type: mustType("address")},
		{Type: mustType("uint256")},
	}
)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("onchain: bad ABI: %v", err))
	}
	return parsed
}

func mustType(t string) abi.Type {
	typ, err := abi.NewType(t, "", nil)
	if err != nil {
		panic(err)
	}
	return typ
}

// Backend is the subset of *ethclient.Client the proxy needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *ethtypes.Transaction) error
}

// ProxyConfig holds the proxy kit deployment the wallet lives in.
type ProxyConfig struct {
	Factory         common.Address
	MasterCopy      common.Address
	MultiSend       common.Address
	FallbackHandler common.Address
	SaltNonce       *big.Int
	ChainID         *big.Int
}

// Proxy is a CPK proxy wallet controlled by one EOA key.
type Proxy struct {
	backend Backend
	key     *ecdsa.PrivateKey
	signer  common.Address
	cfg     ProxyConfig

	mu           sync.Mutex
	creationCode []byte
	addresses    map[common.Address]common.Address
}

// NewProxy creates a Proxy. key may be nil for read-only use (Address only).
func NewProxy(backend Backend, key *ecdsa.PrivateKey, cfg ProxyConfig) (*Proxy, error) {
	if cfg.SaltNonce == nil {
		return nil, fmt.Errorf("proxy config: salt nonce missing")
	}
	if cfg.ChainID == nil || cfg.ChainID.Sign() <= 0 {
		return nil, fmt.Errorf("proxy config: invalid chain id %v", cfg.ChainID)
	}
	p := &Proxy{
		backend:   backend,
		key:       key,
		cfg:       cfg,
		addresses: make(map[common.Address]common.Address),
	}
	if key != nil {
		p.signer = AddressFromKey(key)
	}
	return p, nil
}

// Signer returns the EOA that signs outer transactions (zero if read-only).
func (p *Proxy) Signer() common.Address {
	return p.signer
}

// Address returns the proxy address for owner. The result is cached per
// owner, so repeated calls in one session agree without further RPCs.
func (p *Proxy) Address(ctx context.Context, owner common.Address) (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if addr, ok := p.addresses[owner]; ok {
		return addr, nil
	}
	if p.creationCode == nil {
		code, err := p.fetchCreationCode(ctx)
		if err != nil {
			return common.Address{}, err
		}
		p.creationCode = code
	}

	addr, err := proxyAddress(p.cfg, p.creationCode, owner)
	if err != nil {
		return common.Address{}, err
	}
	p.addresses[owner] = addr
	log.L(ctx).Debugf("[proxy] owner %s → proxy %s", owner.Hex(), addr.Hex())
	return addr, nil
}

func (p *Proxy) fetchCreationCode(ctx context.Context) ([]byte, error) {
	calldata, err := factoryABI.Pack("proxyCreationCode")
	if err != nil {
		return nil, fmt.Errorf("pack proxyCreationCode: %w", err)
	}
	result, err := p.backend.CallContract(ctx, ethereum.CallMsg{
		To:   &p.cfg.Factory,
		Data: calldata,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("proxyCreationCode call: %w", err)
	}
	out, err := factoryABI.Unpack("proxyCreationCode", result)
	if err != nil {
		return nil, fmt.Errorf("unpack proxyCreationCode: %w", err)
	}
	code := out[0].([]byte)
	if len(code) == 0 {
		return nil, fmt.Errorf("factory %s returned empty creation code", p.cfg.Factory.Hex())
	}
	return code, nil
}

// proxyAddress computes the CREATE2 address:
//
//	salt = keccak256(abi.encode(owner, saltNonce))
//	init = creationCode ++ abi.encode(masterCopy)
func proxyAddress(cfg ProxyConfig, creationCode []byte, owner common.Address) (common.Address, error) {
	encoded, err := saltArgs.Pack(owner, cfg.SaltNonce)
	if err != nil {
		return common.Address{}, fmt.Errorf("encode salt: %w", err)
	}
	var salt [32]byte
	copy(salt[:], crypto.Keccak256(encoded))

	initCode := make([]byte, 0, len(creationCode)+32)
	initCode = append(initCode, creationCode...)
	initCode = append(initCode, padAddress(cfg.MasterCopy)...)

	return crypto.CreateAddress2(cfg.Factory, salt, crypto.Keccak256(initCode)), nil
}

// Submit sends the whole batch as one transaction from owner through its
// proxy, with gasLimit as the fixed ceiling. It returns once the node accepts
// the transaction; it does not wait for mining.
func (p *Proxy) Submit(ctx context.Context, owner common.Address, batch types.Batch, gasLimit uint64) (common.Hash, error) {
	if p.key == nil {
		return common.Hash{}, fmt.Errorf("no private key configured, cannot submit")
	}
	if owner != p.signer {
		return common.Hash{}, fmt.Errorf("owner %s is not the configured signer %s", owner.Hex(), p.signer.Hex())
	}
	if len(batch) == 0 {
		return common.Hash{}, fmt.Errorf("empty batch")
	}

	proxyAddr, err := p.Address(ctx, owner)
	if err != nil {
		return common.Hash{}, fmt.Errorf("resolve proxy: %w", err)
	}

	calldata, target, err := p.buildCall(ctx, owner, proxyAddr, batch)
	if err != nil {
		return common.Hash{}, err
	}

	nonce, err := p.backend.PendingNonceAt(ctx, p.signer)
	if err != nil {
		return common.Hash{}, fmt.Errorf("get signer nonce: %w", err)
	}
	gasPrice, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas price: %w", err)
	}

	tx := ethtypes.NewTransaction(nonce, target, big.NewInt(0), gasLimit, gasPrice, calldata)
	signedTx, err := ethtypes.SignTx(tx, ethtypes.NewEIP155Signer(p.cfg.ChainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	if err := p.backend.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send tx: %w", err)
	}
	log.L(ctx).Infof("[proxy] tx broadcast: %s (%d calls via %s)", signedTx.Hash().Hex(), len(batch), target.Hex())
	return signedTx.Hash(), nil
}

// buildCall returns the outer calldata and its target: execTransaction on a
// deployed proxy, or createProxyAndExecTransaction on the factory otherwise.
func (p *Proxy) buildCall(ctx context.Context, owner, proxyAddr common.Address, batch types.Batch) ([]byte, common.Address, error) {
	blob, err := encodeMultiSend(batch)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("encode multisend: %w", err)
	}
	multiSendData, err := multiSendDef.Pack("multiSend", blob)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("pack multiSend: %w", err)
	}

	code, err := p.backend.CodeAt(ctx, proxyAddr, nil)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("get proxy code: %w", err)
	}

	zero := big.NewInt(0)
	if len(code) > 0 {
		calldata, err := proxyABI.Pack("execTransaction",
			p.cfg.MultiSend, zero, multiSendData,
			uint8(types.OpDelegateCall),
			zero, zero, zero, common.Address{}, common.Address{},
			ownerSignature(owner),
		)
		if err != nil {
			return nil, common.Address{}, fmt.Errorf("pack execTransaction: %w", err)
		}
		return calldata, proxyAddr, nil
	}

	log.L(ctx).Infof("[proxy] %s not deployed yet, deploying with the batch", proxyAddr.Hex())
	calldata, err := factoryABI.Pack("createProxyAndExecTransaction",
		p.cfg.MasterCopy, p.cfg.SaltNonce, p.cfg.FallbackHandler,
		p.cfg.MultiSend, zero, multiSendData,
		uint8(types.OpDelegateCall),
	)
	if err != nil {
		return nil, common.Address{}, fmt.Errorf("pack createProxyAndExecTransaction: %w", err)
	}
	return calldata, p.cfg.Factory, nil
}
