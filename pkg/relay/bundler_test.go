package relay

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"

	"savings-swap/pkg/types"
)

type fakeBackend struct {
	code  []byte
	nonce int64
}

func (f *fakeBackend) CallContract(_ context.Context, _ ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	return entryPoint.Methods["getNonce"].Outputs.Pack(big.NewInt(f.nonce))
}

func (f *fakeBackend) CodeAt(_ context.Context, _ common.Address, _ *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000), nil
}

func (f *fakeBackend) HeaderByNumber(_ context.Context, _ *big.Int) (*gethtypes.Header, error) {
	return &gethtypes.Header{BaseFee: big.NewInt(5_000_000)}, nil
}

type rpcCall struct {
	method string
	args   []interface{}
}

// fakeRPC answers each method with canned JSON
type fakeRPC struct {
	mu        sync.Mutex
	responses map[string]string
	calls     []rpcCall
}

func (f *fakeRPC) CallContext(_ context.Context, result interface{}, method string, args ...interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, rpcCall{method: method, args: args})
	resp, ok := f.responses[method]
	if !ok {
		return errors.New("the method " + method + " does not exist")
	}
	return json.Unmarshal([]byte(resp), result)
}

func (f *fakeRPC) methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		out = append(out, c.method)
	}
	return out
}

func newBundler() *fakeRPC {
	return &fakeRPC{responses: map[string]string{
		"eth_estimateUserOperationGas": `{"preVerificationGas":"0xc350","verificationGasLimit":"0x186a0","callGasLimit":"0x30d40"}`,
		"eth_sendUserOperation":        `"0x8f5a8a8c1bc3b2c8a0fa0c8bd4fd38f4fd0b7b4d4f2cda7fcb2d9ff7c3a8d0e1"`,
		"eth_getUserOperationReceipt":  `null`,
	}}
}

func swapCall() []Call {
	return []Call{{To: common.HexToAddress("0x00000000000000000000000000000000000000b1"), Data: []byte{0xde, 0xad}}}
}

func TestBuildUndeployedAccount(t *testing.T) {
	account := testAccount(t)
	account.Factory = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	bundler := newBundler()
	r := NewBundlerRelay(&fakeBackend{}, bundler, nil)

	env, err := r.Build(context.Background(), account, swapCall())
	require.NoError(t, err)
	require.False(t, env.Deployed)
	require.Equal(t, "0", env.Op.Nonce.String())
	require.Len(t, env.Op.InitCode, 88)
	require.Equal(t, account.Factory.Bytes(), env.Op.InitCode[:20])

	// tip + 2 * base fee
	require.Equal(t, "11000000", env.Op.MaxFeePerGas.String())
	require.Equal(t, "1000000", env.Op.MaxPriorityFeePerGas.String())
	require.Equal(t, "50000", env.Op.PreVerificationGas.String())
	require.Equal(t, "100000", env.Op.VerificationGasLimit.String())
	require.Equal(t, "200000", env.Op.CallGasLimit.String())

	calls, err := UnpackCalls(env.Op.CallData)
	require.NoError(t, err)
	require.Equal(t, swapCall()[0].To, calls[0].To)

	require.Equal(t, []string{"eth_estimateUserOperationGas"}, bundler.methods())
	require.Equal(t, account.EntryPoint, bundler.calls[0].args[1])
}

func TestBuildUndeployedWithoutFactory(t *testing.T) {
	r := NewBundlerRelay(&fakeBackend{}, newBundler(), nil)
	_, err := r.Build(context.Background(), testAccount(t), swapCall())
	require.ErrorContains(t, err, "no factory")
}

func TestBuildDeployedAccountUsesNonce(t *testing.T) {
	r := NewBundlerRelay(&fakeBackend{code: []byte{0x60}, nonce: 5}, newBundler(), nil)

	env, err := r.Build(context.Background(), testAccount(t), swapCall())
	require.NoError(t, err)
	require.True(t, env.Deployed)
	require.Equal(t, "5", env.Op.Nonce.String())
	require.Empty(t, env.Op.InitCode)
}

func TestSponsorAttachesPaymasterData(t *testing.T) {
	paymaster := &fakeRPC{responses: map[string]string{
		"pm_sponsorUserOperation": `{"paymasterAndData":"0x1234","callGasLimit":"0x30d41"}`,
	}}
	r := NewBundlerRelay(&fakeBackend{code: []byte{0x60}}, newBundler(), paymaster)
	env, err := r.Build(context.Background(), testAccount(t), swapCall())
	require.NoError(t, err)

	decision := &types.SponsorshipDecision{
		Mode:              types.SponsorshipPartial,
		Policy:            "stakers",
		SponsorPaysAmount: big.NewInt(1000),
	}
	require.NoError(t, r.Sponsor(context.Background(), env, decision))
	require.Equal(t, []byte{0x12, 0x34}, []byte(env.Op.PaymasterAndData))
	require.Equal(t, "200001", env.Op.CallGasLimit.String())
	require.Equal(t, "50000", env.Op.PreVerificationGas.String())

	policy := paymaster.calls[0].args[2].(map[string]interface{})
	require.Equal(t, "PARTIAL", policy["mode"])
	require.Equal(t, "stakers", policy["policy"])
	require.Equal(t, "0x3e8", policy["sponsorLimit"].(*hexutil.Big).String())
}

func TestSponsorNoneSkipsPaymaster(t *testing.T) {
	r := NewBundlerRelay(&fakeBackend{code: []byte{0x60}}, newBundler(), nil)
	env, err := r.Build(context.Background(), testAccount(t), swapCall())
	require.NoError(t, err)

	require.NoError(t, r.Sponsor(context.Background(), env, &types.SponsorshipDecision{Mode: types.SponsorshipNone}))
	require.Empty(t, env.Op.PaymasterAndData)

	err = r.Sponsor(context.Background(), env, &types.SponsorshipDecision{Mode: types.SponsorshipSponsored})
	require.ErrorContains(t, err, "paymaster not configured")
}

func TestSendSignsOperation(t *testing.T) {
	bundler := newBundler()
	r := NewBundlerRelay(&fakeBackend{code: []byte{0x60}}, bundler, nil)
	env, err := r.Build(context.Background(), testAccount(t), swapCall())
	require.NoError(t, err)
	require.Equal(t, dummySignature, env.Op.Signature)

	opID, err := r.Send(context.Background(), env)
	require.NoError(t, err)
	require.Equal(t, "0x8f5a8a8c1bc3b2c8a0fa0c8bd4fd38f4fd0b7b4d4f2cda7fcb2d9ff7c3a8d0e1", opID)
	require.NotEqual(t, dummySignature, env.Op.Signature)
	require.Len(t, env.Op.Signature, 65)

	receipt, err := r.Receipt(context.Background(), opID)
	require.NoError(t, err)
	require.Nil(t, receipt)
}
