package relay

import (
	"encoding/json"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

func TestUserOperationSignature(t *testing.T) {
	account := testAccount(t)
	op := &UserOperation{
		Sender:               account.Sender,
		Nonce:                big.NewInt(3),
		CallData:             []byte{0x01, 0x02},
		CallGasLimit:         big.NewInt(100000),
		VerificationGasLimit: big.NewInt(50000),
		PreVerificationGas:   big.NewInt(21000),
		MaxFeePerGas:         big.NewInt(10),
		MaxPriorityFeePerGas: big.NewInt(1),
	}
	require.NoError(t, op.Sign(account.Owner, account.EntryPoint, account.ChainID))
	require.Len(t, op.Signature, 65)
	require.Contains(t, []byte{27, 28}, op.Signature[64])

	hash, err := op.Hash(account.EntryPoint, account.ChainID)
	require.NoError(t, err)

	sig := append([]byte{}, op.Signature...)
	sig[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(hash.Bytes()), sig)
	require.NoError(t, err)
	require.Equal(t, account.OwnerAddress(), crypto.PubkeyToAddress(*pub))

	other, err := op.Hash(account.EntryPoint, big.NewInt(1))
	require.NoError(t, err)
	require.NotEqual(t, hash, other)

	require.Equal(t, "1710000", op.MaxCost().String())
}

func TestUserOperationJSON(t *testing.T) {
	op := &UserOperation{
		Sender: common.HexToAddress("0x00000000000000000000000000000000000000aa"),
		Nonce:  big.NewInt(16),
	}
	raw, err := json.Marshal(op)
	require.NoError(t, err)

	var fields map[string]string
	require.NoError(t, json.Unmarshal(raw, &fields))
	require.Equal(t, "0x10", fields["nonce"])
	require.Equal(t, "0x0", fields["callGasLimit"])
	require.Equal(t, "0x", fields["initCode"])
	require.Len(t, fields, 11)
}

func TestPackCallsRoundTrip(t *testing.T) {
	single := []Call{{To: common.HexToAddress("0x01"), Data: []byte{0xaa}, Value: big.NewInt(5)}}
	data, err := PackCalls(single)
	require.NoError(t, err)
	decoded, err := UnpackCalls(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	require.Equal(t, single[0].To, decoded[0].To)
	require.Equal(t, "5", decoded[0].Value.String())
	require.Equal(t, []byte{0xaa}, decoded[0].Data)

	batch := []Call{
		{To: common.HexToAddress("0x01"), Data: []byte{0x01}},
		{To: common.HexToAddress("0x02"), Data: []byte{0x02}, Value: big.NewInt(7)},
	}
	data, err = PackCalls(batch)
	require.NoError(t, err)
	decoded, err = UnpackCalls(data)
	require.NoError(t, err)
	require.Len(t, decoded, 2)
	require.Equal(t, "0", decoded[0].Value.String())
	require.Equal(t, batch[1].To, decoded[1].To)
	require.Equal(t, "7", decoded[1].Value.String())

	_, err = PackCalls(nil)
	require.Error(t, err)
}

func TestInitCode(t *testing.T) {
	factory := common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	code, err := InitCode(factory, common.HexToAddress("0x02"), big.NewInt(0))
	require.NoError(t, err)
	require.Equal(t, factory.Bytes(), code[:20])
	require.Len(t, code, 20+4+64)
}

func TestParseReceipt(t *testing.T) {
	r, err := parseReceipt("0xabc", json.RawMessage("null"))
	require.NoError(t, err)
	require.Nil(t, r)

	raw := `{"userOpHash":"0xabc","success":true,"receipt":{"transactionHash":"0x00000000000000000000000000000000000000000000000000000000000000ff","blockNumber":"0x2a"}}`
	r, err = parseReceipt("0xabc", json.RawMessage(raw))
	require.NoError(t, err)
	require.True(t, r.Success)
	require.NotNil(t, r.TxHash)
	require.Equal(t, uint64(42), r.BlockNumber)

	raw = `{"userOpHash":"0xabc","success":false,"receipt":{"transactionHash":"0x0000000000000000000000000000000000000000000000000000000000000000"}}`
	r, err = parseReceipt("0xabc", json.RawMessage(raw))
	require.NoError(t, err)
	require.False(t, r.Success)
	require.Nil(t, r.TxHash)
	require.NotEmpty(t, r.Reason)
}
