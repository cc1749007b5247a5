package multicall

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const aggregator = "0xcA11bde05977b3631167028862bE2a173976CA11"

var testCodec = MethodCodec{
	"balanceOf":   {Signature: "balanceOf(address)", Decode: DecodeBigInt},
	"totalSupply": {Signature: "totalSupply()", Decode: DecodeBigInt},
	"broken": {Signature: "broken()", Decode: func([]byte) (any, error) {
		return nil, errors.New("cannot decode")
	}},
}

// fakeCaller answers tryAggregate with canned (success, data) pairs
type fakeCaller struct {
	results []aggregateResult
	err     error

	to    string
	input []byte
	calls int
}

func (f *fakeCaller) Call(_ context.Context, to string, data []byte) ([]byte, error) {
	f.calls++
	f.to = to
	f.input = data
	if f.err != nil {
		return nil, f.err
	}
	return encodeAggregateResults(f.results), nil
}

// encodeAggregateResults encodes (bool,bytes)[] the way Multicall3 returns it
func encodeAggregateResults(results []aggregateResult) []byte {
	var tuples [][]byte
	for _, r := range results {
		t := encodeBool(r.Success)
		t = append(t, EncodeUint64(2*wordSize)...)
		t = append(t, EncodeUint64(uint64(len(r.ReturnData)))...)
		t = append(t, r.ReturnData...)
		t = append(t, make([]byte, padded(len(r.ReturnData))-len(r.ReturnData))...)
		tuples = append(tuples, t)
	}

	out := EncodeUint64(wordSize)
	out = append(out, EncodeUint64(uint64(len(results)))...)
	offset := len(results) * wordSize
	for _, t := range tuples {
		out = append(out, EncodeUint64(uint64(offset))...)
		offset += len(t)
	}
	for _, t := range tuples {
		out = append(out, t...)
	}
	return out
}

// decodeRequest parses tryAggregate calldata back into its arguments
func decodeRequest(t *testing.T, input []byte) (bool, []string, [][]byte) {
	t.Helper()
	require.Equal(t, tryAggregateSelector, input[:4])
	args := input[4:]

	requireSuccess := args[wordSize-1] == 1
	arr, err := readOffset(args, wordSize)
	require.NoError(t, err)
	n, err := readOffset(args, arr)
	require.NoError(t, err)

	base := arr + wordSize
	targets := make([]string, n)
	payloads := make([][]byte, n)
	for i := 0; i < n; i++ {
		rel, err := readOffset(args, base+i*wordSize)
		require.NoError(t, err)
		tuple := base + rel

		targets[i], err = DecodeAddress(args[tuple:])
		require.NoError(t, err)
		bytesRel, err := readOffset(args, tuple+wordSize)
		require.NoError(t, err)
		payloads[i], err = readBytes(args, tuple+bytesRel)
		require.NoError(t, err)
	}
	return requireSuccess, targets, payloads
}

func uintWord(v uint64) []byte {
	return EncodeUint64(v)
}

func revertData(reason string) []byte {
	data := append([]byte{}, errorSelector...)
	data = append(data, EncodeUint64(wordSize)...)
	data = append(data, EncodeUint64(uint64(len(reason)))...)
	data = append(data, []byte(reason)...)
	return append(data, make([]byte, padded(len(reason))-len(reason))...)
}

func TestSelectors(t *testing.T) {
	assert.Equal(t, "a9059cbb", hex.EncodeToString(Selector("transfer(address,uint256)")))
	assert.Equal(t, "bce38bd7", hex.EncodeToString(tryAggregateSelector))
	assert.Equal(t, "08c379a0", hex.EncodeToString(errorSelector))
	assert.Equal(t, "4e487b71", hex.EncodeToString(panicSelector))
}

func TestReader_PartialFailure(t *testing.T) {
	caller := &fakeCaller{results: []aggregateResult{
		{Success: true, ReturnData: uintWord(100)},
		{Success: false, ReturnData: revertData("paused")},
		{Success: true, ReturnData: uintWord(300)},
	}}
	r := NewReader(caller, aggregator, zerolog.Nop())

	calls := []Call{
		{Target: "0x0000000000000000000000000000000000000001", Name: "totalSupply", Codec: testCodec},
		{Target: "0x0000000000000000000000000000000000000002", Name: "totalSupply", Codec: testCodec},
		{Target: "0x0000000000000000000000000000000000000003", Name: "balanceOf", Params: []any{"0x00000000000000000000000000000000000000ff"}, Codec: testCodec},
	}

	res, err := r.Execute(context.Background(), calls, Options{})
	require.NoError(t, err)
	require.Len(t, res.Slots, 3)

	assert.Equal(t, big.NewInt(100), res.Slots[0])
	assert.Equal(t, big.NewInt(300), res.Slots[2])
	assert.Nil(t, res.Err(0))

	callErr := res.Err(1)
	require.NotNil(t, callErr)
	assert.Equal(t, "paused", callErr.Reason)
	assert.Equal(t, "0x0000000000000000000000000000000000000002", callErr.Target)
	assert.Nil(t, res.Grouped)

	assert.Equal(t, 1, caller.calls)
	assert.Equal(t, aggregator, caller.to)

	requireSuccess, targets, payloads := decodeRequest(t, caller.input)
	assert.False(t, requireSuccess)
	assert.Equal(t, "0x0000000000000000000000000000000000000003", targets[2])
	assert.Equal(t, Selector("totalSupply()"), payloads[0])
	assert.Equal(t, Selector("balanceOf(address)"), payloads[2][:4])
	assert.Len(t, payloads[2], 4+wordSize)
}

func TestReader_FailFirstByClient(t *testing.T) {
	caller := &fakeCaller{results: []aggregateResult{
		{Success: true, ReturnData: uintWord(1)},
		{Success: false, ReturnData: nil},
	}}
	r := NewReader(caller, aggregator, zerolog.Nop())

	calls := []Call{
		{Target: "0x0000000000000000000000000000000000000001", Name: "totalSupply", Codec: testCodec},
		{Target: "0x0000000000000000000000000000000000000002", Name: "totalSupply", Codec: testCodec},
	}

	_, err := r.Execute(context.Background(), calls, Options{FailFirstByClient: true})
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, "totalSupply", decErr.Name)

	var callErr *CallError
	require.ErrorAs(t, err, &callErr, "the revert stays reachable through the decode error")
	assert.Equal(t, "0x0000000000000000000000000000000000000002", callErr.Target)
	assert.Contains(t, callErr.Error(), "totalSupply reverted")
}

func TestReader_FailFirstByClientDecodesOptimistically(t *testing.T) {
	caller := &fakeCaller{results: []aggregateResult{
		{Success: false, ReturnData: uintWord(9)},
	}}
	r := NewReader(caller, aggregator, zerolog.Nop())

	calls := []Call{{Target: "0x0000000000000000000000000000000000000001", Name: "totalSupply", Codec: testCodec}}

	res, err := r.Execute(context.Background(), calls, Options{FailFirstByClient: true})
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(9), res.Slots[0])

	res, err = r.Execute(context.Background(), calls, Options{})
	require.NoError(t, err)
	assert.NotNil(t, res.Err(0))
}

func TestReader_FailFirstByContract(t *testing.T) {
	reverted := errors.New("execution reverted: Multicall3: call failed")
	caller := &fakeCaller{err: reverted}
	r := NewReader(caller, aggregator, zerolog.Nop())

	calls := []Call{{Target: "0x0000000000000000000000000000000000000001", Name: "totalSupply", Codec: testCodec}}
	_, err := r.Execute(context.Background(), calls, Options{FailFirstByContract: true})
	assert.ErrorIs(t, err, reverted)

	requireSuccess, _, _ := decodeRequest(t, caller.input)
	assert.True(t, requireSuccess)
}

func TestReader_GroupedByContractAndName(t *testing.T) {
	caller := &fakeCaller{results: []aggregateResult{
		{Success: true, ReturnData: uintWord(10)},
		{Success: true, ReturnData: uintWord(7)},
		{Success: true, ReturnData: uintWord(20)},
	}}
	r := NewReader(caller, aggregator, zerolog.Nop())

	holder := "0x00000000000000000000000000000000000000aa"
	calls := []Call{
		{Target: "0x0000000000000000000000000000000000000001", Contract: "token", Name: "balanceOf", Params: []any{holder}, Codec: testCodec},
		{Target: "0x0000000000000000000000000000000000000001", Contract: "token", Name: "totalSupply", Codec: testCodec},
		{Target: "0x0000000000000000000000000000000000000002", Contract: "token", Name: "balanceOf", Params: []any{holder}, Codec: testCodec},
	}

	res, err := r.Execute(context.Background(), calls, Options{ReturnByContractAndFuncName: true})
	require.NoError(t, err)

	require.Len(t, res.Grouped, 2)
	assert.Equal(t, []any{big.NewInt(10), big.NewInt(20)}, res.Grouped["token.balanceOf"])
	assert.Equal(t, []any{big.NewInt(7)}, res.Grouped["token.totalSupply"])
}

func TestReader_GroupKeyFallsBackToTarget(t *testing.T) {
	call := Call{Target: "0x01", Name: "totalSupply"}
	assert.Equal(t, "0x01.totalSupply", call.Key())
}

func TestReader_EncodeErrorSendsNothing(t *testing.T) {
	caller := &fakeCaller{}
	r := NewReader(caller, aggregator, zerolog.Nop())

	calls := []Call{
		{Target: "0x0000000000000000000000000000000000000001", Name: "totalSupply", Codec: testCodec},
		{Target: "0x0000000000000000000000000000000000000002", Name: "balanceOf", Params: []any{3.5}, Codec: testCodec},
	}

	_, err := r.Execute(context.Background(), calls, Options{})
	var encErr *EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "balanceOf", encErr.Name)
	assert.Equal(t, []any{3.5}, encErr.Params)
	assert.Zero(t, caller.calls)
}

func TestReader_DecodeError(t *testing.T) {
	caller := &fakeCaller{results: []aggregateResult{{Success: true, ReturnData: []byte{0x01}}}}
	r := NewReader(caller, aggregator, zerolog.Nop())

	calls := []Call{{Target: "0x0000000000000000000000000000000000000001", Name: "broken", Codec: testCodec}}
	_, err := r.Execute(context.Background(), calls, Options{})

	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.Equal(t, []byte{0x01}, decErr.Data)
}

func TestReader_EmptyBatch(t *testing.T) {
	caller := &fakeCaller{}
	r := NewReader(caller, aggregator, zerolog.Nop())

	res, err := r.Execute(context.Background(), nil, Options{ReturnByContractAndFuncName: true})
	require.NoError(t, err)
	assert.Empty(t, res.Slots)
	assert.NotNil(t, res.Grouped)
	assert.Zero(t, caller.calls)
}

func TestDecodeRevertReason(t *testing.T) {
	assert.Equal(t, "insufficient balance", DecodeRevertReason(revertData("insufficient balance")))

	panicData := append(append([]byte{}, panicSelector...), uintWord(0x11)...)
	assert.Equal(t, "panic: arithmetic overflow or underflow (0x11)", DecodeRevertReason(panicData))

	assert.Equal(t, "", DecodeRevertReason([]byte{0x01, 0x02}))
	assert.Equal(t, "", DecodeRevertReason(append(append([]byte{}, errorSelector...), 0x00)))
}

func TestDecodeTryAggregate_Truncated(t *testing.T) {
	data := encodeAggregateResults([]aggregateResult{{Success: true, ReturnData: uintWord(1)}})
	_, err := decodeTryAggregate(data[:len(data)-8])
	assert.Error(t, err)

	huge := EncodeUint64(wordSize)
	huge = append(huge, make([]byte, wordSize)...)
	binary.BigEndian.PutUint64(huge[2*wordSize-8:], 1<<40)
	_, err = decodeTryAggregate(huge)
	assert.Error(t, err)
}

func TestEncodeArg(t *testing.T) {
	w, err := EncodeArg(big.NewInt(255))
	require.NoError(t, err)
	assert.Equal(t, byte(0xff), w[31])

	_, err = EncodeArg(big.NewInt(-1))
	assert.Error(t, err)

	_, err = EncodeArg("0x1234")
	assert.Error(t, err)

	addr, err := EncodeArg("0x00000000000000000000000000000000000000Ab")
	require.NoError(t, err)
	decoded, err := DecodeAddress(addr)
	require.NoError(t, err)
	assert.Equal(t, "0x00000000000000000000000000000000000000ab", decoded)
}
