package multicall

import (
	"fmt"
	"math/big"
)

// Method describes a call whose arguments are all static ABI words
type Method struct {
	Signature string
	Decode    func(data []byte) (any, error)
}

// MethodCodec is a CallCodec over a fixed set of methods keyed by call name
type MethodCodec map[string]Method

// EncodeCall encodes params as static words behind the method selector
func (c MethodCodec) EncodeCall(name string, params []any) ([]byte, error) {
	m, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}

	words := make([][]byte, len(params))
	for i, p := range params {
		w, err := EncodeArg(p)
		if err != nil {
			return nil, fmt.Errorf("param %d: %w", i, err)
		}
		words[i] = w
	}
	return EncodeCall(m.Signature, words...), nil
}

// DecodeResult decodes data with the method's decoder
func (c MethodCodec) DecodeResult(name string, data []byte) (any, error) {
	m, ok := c[name]
	if !ok {
		return nil, fmt.Errorf("unknown method %q", name)
	}
	if m.Decode == nil {
		return data, nil
	}
	return m.Decode(data)
}

// EncodeArg encodes a static argument. Strings are treated as addresses.
func EncodeArg(v any) ([]byte, error) {
	switch x := v.(type) {
	case string:
		return EncodeAddress(x)
	case *big.Int:
		return EncodeUint256(x)
	case uint64:
		return EncodeUint64(x), nil
	case int:
		if x < 0 {
			return nil, fmt.Errorf("abi: negative value %d", x)
		}
		return EncodeUint64(uint64(x)), nil
	case bool:
		return encodeBool(x), nil
	default:
		return nil, fmt.Errorf("abi: unsupported argument type %T", v)
	}
}

// DecodeBigInt decodes a single uint256 result
func DecodeBigInt(data []byte) (any, error) {
	return DecodeUint256(data)
}
