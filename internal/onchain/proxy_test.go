package onchain

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gipsh/cpk-buyer-go/internal/types"
)

var (
	factory    = common.HexToAddress("0x0fB4340432e56c014fa96286de17222822a9281b")
	masterCopy = common.HexToAddress("0x6851D6fDFAfD08c0295C392436245E5bc78B0185")
	multiSend  = common.HexToAddress("0xB522a9f781924eD250A11C54105E51840B138AdD")
	fallback   = common.HexToAddress("0x40A930851BD2e590Bd5A5C981b436de25742E980")
	collateral = common.HexToAddress("0x4444444444444444444444444444444444444444")
	market     = common.HexToAddress("0x3333333333333333333333333333333333333333")

	creationCode = []byte{0x60, 0x80, 0x60, 0x40, 0x52, 0x34, 0x80, 0x15}
)

type fakeBackend struct {
	mu            sync.Mutex
	creationCalls int
	deployed      map[common.Address]bool
	sent          []*ethtypes.Transaction
	sendErr       error
	nonce         uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{deployed: map[common.Address]bool{}, nonce: 7}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := factoryABI.Methods["proxyCreationCode"]
	if *msg.To != factory || !bytes.Equal(msg.Data, m.ID) {
		return nil, errors.New("unexpected call")
	}
	f.creationCalls++
	return m.Outputs.Pack(creationCode)
}

func (f *fakeBackend) CodeAt(_ context.Context, account common.Address, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deployed[account] {
		return []byte{0x60, 0x80}, nil
	}
	return nil, nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *ethtypes.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func testConfig() ProxyConfig {
	salt, _ := new(big.Int).SetString("cfe33a586323e7325be6aa6ecd8b4600d232a9037e83c8ece69413b777dabe65", 16)
	return ProxyConfig{
		Factory:         factory,
		MasterCopy:      masterCopy,
		MultiSend:       multiSend,
		FallbackHandler: fallback,
		SaltNonce:       salt,
		ChainID:         big.NewInt(100),
	}
}

func newTestProxy(t *testing.T, backend Backend) (*Proxy, common.Address) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	p, err := NewProxy(backend, key, testConfig())
	require.NoError(t, err)
	return p, AddressFromKey(key)
}

func testBatch(owner, proxyAddr common.Address) types.Batch {
	return types.Batch{
		{Kind: types.KindTransferFrom, To: collateral, Value: new(big.Int), Data: []byte{0x23, 0xb8, 0x72, 0xdd, 0x01}, Owner: owner, Spender: proxyAddr},
		{Kind: types.KindPurchase, To: market, Value: new(big.Int), Data: []byte{0x40, 0x99, 0x3b, 0x26}},
	}
}

func TestProxyAddressMatchesCreate2(t *testing.T) {
	backend := newFakeBackend()
	p, owner := newTestProxy(t, backend)

	got, err := p.Address(context.Background(), owner)
	require.NoError(t, err)

	// salt = keccak256(pad32(owner) ++ pad32(nonce))
	salt := crypto.Keccak256(
		common.LeftPadBytes(owner.Bytes(), 32),
		common.LeftPadBytes(testConfig().SaltNonce.Bytes(), 32),
	)
	initHash := crypto.Keccak256(creationCode, common.LeftPadBytes(masterCopy.Bytes(), 32))
	// 0xff ++ factory ++ salt ++ initHash
	want := common.BytesToAddress(crypto.Keccak256([]byte{0xff}, factory.Bytes(), salt, initHash)[12:])

	assert.Equal(t, want, got)
}

func TestProxyAddressIsCachedPerSession(t *testing.T) {
	backend := newFakeBackend()
	p, owner := newTestProxy(t, backend)
	other := common.HexToAddress("0x9999999999999999999999999999999999999999")

	a1, err := p.Address(context.Background(), owner)
	require.NoError(t, err)
	a2, err := p.Address(context.Background(), owner)
	require.NoError(t, err)
	b, err := p.Address(context.Background(), other)
	require.NoError(t, err)

	assert.Equal(t, a1, a2)
	assert.NotEqual(t, a1, b)
	assert.Equal(t, 1, backend.creationCalls, "creation code is read once")
}

func TestNewProxyValidatesConfig(t *testing.T) {
	cfg := testConfig()
	cfg.ChainID = nil
	_, err := NewProxy(newFakeBackend(), nil, cfg)
	assert.Error(t, err)

	cfg = testConfig()
	cfg.SaltNonce = nil
	_, err = NewProxy(newFakeBackend(), nil, cfg)
	assert.Error(t, err)
}

func decodeOuterBatch(t *testing.T, multiSendData []byte) types.Batch {
	require.True(t, bytes.HasPrefix(multiSendData, multiSendDef.Methods["multiSend"].ID))
	args, err := multiSendDef.Methods["multiSend"].Inputs.Unpack(multiSendData[4:])
	require.NoError(t, err)
	batch, err := decodeMultiSend(args[0].([]byte))
	require.NoError(t, err)
	return batch
}

func TestSubmitThroughDeployedProxy(t *testing.T) {
	backend := newFakeBackend()
	p, owner := newTestProxy(t, backend)
	proxyAddr, err := p.Address(context.Background(), owner)
	require.NoError(t, err)
	backend.deployed[proxyAddr] = true

	batch := testBatch(owner, proxyAddr)
	hash, err := p.Submit(context.Background(), owner, batch, 1_000_000)
	require.NoError(t, err)

	require.Len(t, backend.sent, 1)
	tx := backend.sent[0]
	assert.Equal(t, hash, tx.Hash())
	assert.Equal(t, proxyAddr, *tx.To())
	assert.Equal(t, uint64(1_000_000), tx.Gas())
	assert.Equal(t, uint64(7), tx.Nonce())

	from, err := ethtypes.Sender(ethtypes.NewEIP155Signer(big.NewInt(100)), tx)
	require.NoError(t, err)
	assert.Equal(t, owner, from)

	method := proxyABI.Methods["execTransaction"]
	require.True(t, bytes.HasPrefix(tx.Data(), method.ID))
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, multiSend, args[0])
	assert.Equal(t, uint8(types.OpDelegateCall), args[3])
	assert.Equal(t, ownerSignature(owner), args[9])

	sent := decodeOuterBatch(t, args[2].([]byte))
	require.Len(t, sent, 2)
	for i := range batch {
		assert.Equal(t, batch[i].To, sent[i].To)
		assert.Equal(t, batch[i].Data, sent[i].Data)
		assert.Equal(t, types.OpCall, sent[i].Operation)
	}
}

func TestSubmitDeploysProxyOnFirstUse(t *testing.T) {
	backend := newFakeBackend()
	p, owner := newTestProxy(t, backend)
	proxyAddr, err := p.Address(context.Background(), owner)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), owner, testBatch(owner, proxyAddr), 1_000_000)
	require.NoError(t, err)

	tx := backend.sent[0]
	assert.Equal(t, factory, *tx.To())
	method := factoryABI.Methods["createProxyAndExecTransaction"]
	require.True(t, bytes.HasPrefix(tx.Data(), method.ID))
	args, err := method.Inputs.Unpack(tx.Data()[4:])
	require.NoError(t, err)
	assert.Equal(t, masterCopy, args[0])
	assert.Zero(t, testConfig().SaltNonce.Cmp(args[1].(*big.Int)))
	assert.Equal(t, fallback, args[2])
	assert.Equal(t, multiSend, args[3])
	assert.Len(t, decodeOuterBatch(t, args[5].([]byte)), 2)
}

func TestSubmitErrors(t *testing.T) {
	backend := newFakeBackend()
	p, owner := newTestProxy(t, backend)
	stranger := common.HexToAddress("0x9999999999999999999999999999999999999999")

	_, err := p.Submit(context.Background(), stranger, testBatch(stranger, stranger), 1_000_000)
	assert.Error(t, err)

	_, err = p.Submit(context.Background(), owner, nil, 1_000_000)
	assert.Error(t, err)

	backend.sendErr = errors.New("insufficient funds for gas")
	_, err = p.Submit(context.Background(), owner, testBatch(owner, owner), 1_000_000)
	assert.ErrorIs(t, err, backend.sendErr)

	readOnly, err := NewProxy(backend, nil, testConfig())
	require.NoError(t, err)
	_, err = readOnly.Submit(context.Background(), owner, testBatch(owner, owner), 1_000_000)
	assert.Error(t, err)
}

func TestMultiSendLayout(t *testing.T) {
	batch := types.Batch{
		{To: collateral, Value: big.NewInt(0), Data: []byte{0xaa, 0xbb}},
		{To: market, Data: nil},
	}
	blob, err := encodeMultiSend(batch)
	require.NoError(t, err)
	require.Len(t, blob, 85+2+85)

	assert.Equal(t, byte(0), blob[0])
	assert.Equal(t, collateral.Bytes(), blob[1:21])
	assert.Equal(t, byte(2), blob[84])
	assert.Equal(t, []byte{0xaa, 0xbb}, blob[85:87])
	assert.Equal(t, market.Bytes(), blob[88:108])

	back, err := decodeMultiSend(blob)
	require.NoError(t, err)
	require.Len(t, back, 2)
	assert.Equal(t, market, back[1].To)
	assert.Empty(t, back[1].Data)
}

func TestDecodeMultiSendTruncated(t *testing.T) {
	_, err := decodeMultiSend(make([]byte, 40))
	assert.Error(t, err)

	blob, _ := encodeMultiSend(types.Batch{{To: market, Data: []byte{1, 2, 3}}})
	_, err = decodeMultiSend(blob[:len(blob)-1])
	assert.Error(t, err)
}

func TestParsePrivateKey(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hexKey := "0x" + common.Bytes2Hex(crypto.FromECDSA(key))

	parsed, err := ParsePrivateKey(hexKey)
	require.NoError(t, err)
	assert.Equal(t, AddressFromKey(key), AddressFromKey(parsed))

	_, err = ParsePrivateKey("0xnothex")
	assert.Error(t, err)
}
