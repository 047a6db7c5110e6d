package relay

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const simpleAccountABI = `[
	{"inputs":[{"name":"dest","type":"address"},{"name":"value","type":"uint256"},{"name":"func","type":"bytes"}],"name":"execute","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"dest","type":"address[]"},{"name":"value","type":"uint256[]"},{"name":"func","type":"bytes[]"}],"name":"executeBatch","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const accountFactoryABI = `[
	{"inputs":[{"name":"owner","type":"address"},{"name":"salt","type":"uint256"}],"name":"createAccount","outputs":[{"name":"ret","type":"address"}],"stateMutability":"nonpayable","type":"function"}
]`

const entryPointABI = `[
	{"inputs":[{"name":"sender","type":"address"},{"name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"name":"nonce","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

var (
	simpleAccount  abi.ABI
	accountFactory abi.ABI
	entryPoint     abi.ABI
)

func init() {
	for _, def := range []struct {
		dst  *abi.ABI
		json string
	}{
		{&simpleAccount, simpleAccountABI},
		{&accountFactory, accountFactoryABI},
		{&entryPoint, entryPointABI},
	} {
		parsed, err := abi.JSON(strings.NewReader(def.json))
		if err != nil {
			panic(fmt.Sprintf("failed to parse relay ABI: %v", err))
		}
		*def.dst = parsed
	}
}

// PackCalls encodes the account calldata: execute for a single call and
// executeBatch for several, which the account applies atomically.
func PackCalls(calls []Call) ([]byte, error) {
	if len(calls) == 0 {
		return nil, fmt.Errorf("no calls to pack")
	}
	if len(calls) == 1 {
		c := calls[0]
		data, err := simpleAccount.Pack("execute", c.To, orZero(c.Value), nonNil(c.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to pack execute: %w", err)
		}
		return data, nil
	}

	dest := make([]common.Address, len(calls))
	values := make([]*big.Int, len(calls))
	funcs := make([][]byte, len(calls))
	for i, c := range calls {
		dest[i] = c.To
		values[i] = orZero(c.Value)
		funcs[i] = nonNil(c.Data)
	}
	data, err := simpleAccount.Pack("executeBatch", dest, values, funcs)
	if err != nil {
		return nil, fmt.Errorf("failed to pack executeBatch: %w", err)
	}
	return data, nil
}

// UnpackCalls decodes calldata produced by PackCalls
func UnpackCalls(data []byte) ([]Call, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short")
	}
	method, err := simpleAccount.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown account method: %w", err)
	}
	values, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method.Name, err)
	}
	switch method.Name {
	case "execute":
		return []Call{{
			To:    values[0].(common.Address),
			Value: values[1].(*big.Int),
			Data:  values[2].([]byte),
		}}, nil
	default:
		dest := values[0].([]common.Address)
		amounts := values[1].([]*big.Int)
		funcs := values[2].([][]byte)
		calls := make([]Call, len(dest))
		for i := range dest {
			calls[i] = Call{To: dest[i], Value: amounts[i], Data: funcs[i]}
		}
		return calls, nil
	}
}

// InitCode returns factory ++ createAccount(owner, salt)
func InitCode(factory, owner common.Address, salt *big.Int) ([]byte, error) {
	data, err := accountFactory.Pack("createAccount", owner, orZero(salt))
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}
	return append(factory.Bytes(), data...), nil
}

func packGetNonce(sender common.Address) ([]byte, error) {
	data, err := entryPoint.Pack("getNonce", sender, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}
	return data, nil
}

func unpackNonce(result []byte) (*big.Int, error) {
	values, err := entryPoint.Unpack("getNonce", result)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack getNonce: %w", err)
	}
	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected getNonce result type %T", values[0])
	}
	return nonce, nil
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}
