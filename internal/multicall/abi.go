package multicall

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"
)

const wordSize = 32

var (
	// tryAggregate(bool,(address,bytes)[]) returns (bool,bytes)[]
	tryAggregateSelector = Selector("tryAggregate(bool,(address,bytes)[])")

	errorSelector = Selector("Error(string)")
	panicSelector = Selector("Panic(uint256)")

	errShortData = errors.New("abi: data too short")
)

// Selector returns the first four bytes of the keccak256 hash of a function signature
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// EncodeCall builds calldata from a signature and already encoded static words
func EncodeCall(signature string, words ...[]byte) []byte {
	out := make([]byte, 0, 4+len(words)*wordSize)
	out = append(out, Selector(signature)...)
	for _, w := range words {
		out = append(out, w...)
	}
	return out
}

// EncodeAddress left-pads a 0x-prefixed hex address into a word
func EncodeAddress(addr string) ([]byte, error) {
	raw := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	if len(raw) != 40 {
		return nil, fmt.Errorf("abi: invalid address %q", addr)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("abi: invalid address %q: %w", addr, err)
	}
	word := make([]byte, wordSize)
	copy(word[12:], b)
	return word, nil
}

// DecodeAddress reads a 0x-prefixed lower-case address from a word
func DecodeAddress(word []byte) (string, error) {
	if len(word) < wordSize {
		return "", errShortData
	}
	return "0x" + hex.EncodeToString(word[12:wordSize]), nil
}

// EncodeUint256 encodes a non-negative integer into a word
func EncodeUint256(v *big.Int) ([]byte, error) {
	if v.Sign() < 0 || v.BitLen() > 256 {
		return nil, fmt.Errorf("abi: %s does not fit uint256", v)
	}
	word := make([]byte, wordSize)
	v.FillBytes(word)
	return word, nil
}

// EncodeUint64 encodes v into a word
func EncodeUint64(v uint64) []byte {
	word := make([]byte, wordSize)
	binary.BigEndian.PutUint64(word[24:], v)
	return word
}

// DecodeUint256 reads the first word of data as an unsigned integer
func DecodeUint256(data []byte) (*big.Int, error) {
	if len(data) < wordSize {
		return nil, errShortData
	}
	return new(big.Int).SetBytes(data[:wordSize]), nil
}

func encodeBool(v bool) []byte {
	word := make([]byte, wordSize)
	if v {
		word[wordSize-1] = 1
	}
	return word
}

func padded(n int) int {
	return (n + wordSize - 1) / wordSize * wordSize
}

// encodeTryAggregate encodes tryAggregate(requireSuccess, calls)
func encodeTryAggregate(requireSuccess bool, targets []string, payloads [][]byte) ([]byte, error) {
	n := len(targets)

	// each (address,bytes) tuple: address, bytes offset, bytes length, padded bytes
	tuples := make([][]byte, n)
	for i := range targets {
		addr, err := EncodeAddress(targets[i])
		if err != nil {
			return nil, err
		}
		tuple := make([]byte, 0, 3*wordSize+padded(len(payloads[i])))
		tuple = append(tuple, addr...)
		tuple = append(tuple, EncodeUint64(2*wordSize)...)
		tuple = append(tuple, EncodeUint64(uint64(len(payloads[i])))...)
		tuple = append(tuple, payloads[i]...)
		tuple = append(tuple, make([]byte, padded(len(payloads[i]))-len(payloads[i]))...)
		tuples[i] = tuple
	}

	out := make([]byte, 0, 4+4*wordSize)
	out = append(out, tryAggregateSelector...)
	out = append(out, encodeBool(requireSuccess)...)
	out = append(out, EncodeUint64(2*wordSize)...)
	out = append(out, EncodeUint64(uint64(n))...)

	offset := n * wordSize
	for _, tuple := range tuples {
		out = append(out, EncodeUint64(uint64(offset))...)
		offset += len(tuple)
	}
	for _, tuple := range tuples {
		out = append(out, tuple...)
	}
	return out, nil
}

// aggregateResult is one (bool success, bytes returnData) entry
type aggregateResult struct {
	Success    bool
	ReturnData []byte
}

// decodeTryAggregate decodes the (bool,bytes)[] returned by tryAggregate
func decodeTryAggregate(data []byte) ([]aggregateResult, error) {
	arrOffset, err := readOffset(data, 0)
	if err != nil {
		return nil, err
	}
	n, err := readOffset(data, arrOffset)
	if err != nil {
		return nil, err
	}
	base := arrOffset + wordSize
	if n > (len(data)-base)/wordSize {
		return nil, fmt.Errorf("abi: result length %d exceeds data", n)
	}

	results := make([]aggregateResult, n)
	for i := 0; i < n; i++ {
		rel, err := readOffset(data, base+i*wordSize)
		if err != nil {
			return nil, err
		}
		tuple := base + rel

		success, err := readOffset(data, tuple)
		if err != nil {
			return nil, err
		}
		bytesRel, err := readOffset(data, tuple+wordSize)
		if err != nil {
			return nil, err
		}
		returnData, err := readBytes(data, tuple+bytesRel)
		if err != nil {
			return nil, err
		}
		results[i] = aggregateResult{Success: success != 0, ReturnData: returnData}
	}
	return results, nil
}

// readOffset reads the word at pos as a small unsigned integer
func readOffset(data []byte, pos int) (int, error) {
	if pos < 0 || pos+wordSize > len(data) {
		return 0, errShortData
	}
	word := data[pos : pos+wordSize]
	for _, b := range word[:24] {
		if b != 0 {
			return 0, errors.New("abi: offset out of range")
		}
	}
	v := binary.BigEndian.Uint64(word[24:])
	if v > uint64(len(data)) {
		return 0, errors.New("abi: offset out of range")
	}
	return int(v), nil
}

// readBytes reads a length-prefixed byte string at pos
func readBytes(data []byte, pos int) ([]byte, error) {
	length, err := readOffset(data, pos)
	if err != nil {
		return nil, err
	}
	start := pos + wordSize
	if start+length > len(data) {
		return nil, errShortData
	}
	out := make([]byte, length)
	copy(out, data[start:start+length])
	return out, nil
}

var panicReasons = map[uint64]string{
	0x01: "assertion failed",
	0x11: "arithmetic overflow or underflow",
	0x12: "division or modulo by zero",
	0x21: "invalid enum value",
	0x22: "invalid storage byte array",
	0x31: "pop on empty array",
	0x32: "array index out of bounds",
	0x41: "out of memory",
	0x51: "call to zero-initialized function",
}

// DecodeRevertReason extracts a readable reason from revert data.
// It returns "" when data carries no recognizable reason.
func DecodeRevertReason(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	selector, body := data[:4], data[4:]

	switch {
	case string(selector) == string(errorSelector):
		offset, err := readOffset(body, 0)
		if err != nil {
			return ""
		}
		reason, err := readBytes(body, offset)
		if err != nil {
			return ""
		}
		return string(reason)
	case string(selector) == string(panicSelector):
		code, err := DecodeUint256(body)
		if err != nil {
			return ""
		}
		if desc, ok := panicReasons[code.Uint64()]; ok && code.IsUint64() {
			return fmt.Sprintf("panic: %s (0x%x)", desc, code)
		}
		return fmt.Sprintf("panic: 0x%x", code)
	default:
		return ""
	}
}
