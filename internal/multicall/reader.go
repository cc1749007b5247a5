// Package multicall batches independent contract reads into one eth_call
// through a Multicall3 aggregator, keeping per-call failures separate.
package multicall

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"rpcobserver/internal/metrics"
)

// CallCodec encodes the calldata of a named call and decodes its result
type CallCodec interface {
	EncodeCall(name string, params []any) ([]byte, error)
	DecodeResult(name string, data []byte) (any, error)
}

// Caller executes a read-only contract call
type Caller interface {
	Call(ctx context.Context, to string, data []byte) ([]byte, error)
}

// Call is one contract read in a batch
type Call struct {
	// Target is the contract address
	Target string
	// Contract names the kind of contract for grouping; Target is used when empty
	Contract string
	Name     string
	Params   []any
	Codec    CallCodec
}

// Key returns the grouping key "<contract>.<name>"
func (c Call) Key() string {
	contract := c.Contract
	if contract == "" {
		contract = c.Target
	}
	return contract + "." + c.Name
}

// Options control failure handling and result shape
type Options struct {
	// FailFirstByContract makes the aggregator revert the whole batch on the first failed call
	FailFirstByContract bool
	// FailFirstByClient returns the first failed call as an error instead of storing it in its slot
	FailFirstByClient bool
	// ReturnByContractAndFuncName groups results by Call.Key
	ReturnByContractAndFuncName bool
}

// Results holds decoded values in submission order. A failed call's slot
// holds its *CallError.
type Results struct {
	Slots []any
	// Grouped is set with ReturnByContractAndFuncName; each group keeps submission order
	Grouped map[string][]any
}

// Err returns the *CallError in slot i, or nil
func (r *Results) Err(i int) *CallError {
	if callErr, ok := r.Slots[i].(*CallError); ok {
		return callErr
	}
	return nil
}

// Reader executes batches through a Multicall3 aggregator
type Reader struct {
	caller     Caller
	aggregator string
	logger     zerolog.Logger
}

// NewReader creates a Reader sending its batches to the aggregator address through caller
func NewReader(caller Caller, aggregator string, logger zerolog.Logger) *Reader {
	return &Reader{
		caller:     caller,
		aggregator: aggregator,
		logger:     logger.With().Str("component", "multicall").Logger(),
	}
}

// Execute encodes every call, sends them as one aggregated call and decodes
// each result
func (r *Reader) Execute(ctx context.Context, calls []Call, opts Options) (*Results, error) {
	results := &Results{Slots: make([]any, len(calls))}
	if opts.ReturnByContractAndFuncName {
		results.Grouped = make(map[string][]any)
	}
	if len(calls) == 0 {
		return results, nil
	}

	targets := make([]string, len(calls))
	payloads := make([][]byte, len(calls))
	for i, call := range calls {
		data, err := call.Codec.EncodeCall(call.Name, call.Params)
		if err != nil {
			return nil, &EncodeError{Target: call.Target, Name: call.Name, Params: call.Params, Err: err}
		}
		targets[i] = call.Target
		payloads[i] = data
	}

	input, err := encodeTryAggregate(opts.FailFirstByContract, targets, payloads)
	if err != nil {
		return nil, fmt.Errorf("multicall: encode batch: %w", err)
	}

	metrics.MulticallBatchSize.Observe(float64(len(calls)))
	output, err := r.caller.Call(ctx, r.aggregator, input)
	if err != nil {
		return nil, err
	}

	raw, err := decodeTryAggregate(output)
	if err != nil {
		return nil, fmt.Errorf("multicall: decode batch: %w", err)
	}
	if len(raw) != len(calls) {
		return nil, fmt.Errorf("multicall: got %d results for %d calls", len(raw), len(calls))
	}

	for i, call := range calls {
		var value any
		if raw[i].Success || opts.FailFirstByClient {
			// FailFirstByClient decodes failed calls optimistically; a revert
			// payload that does not decode fails the whole batch
			value, err = call.Codec.DecodeResult(call.Name, raw[i].ReturnData)
			if err != nil {
				if !raw[i].Success {
					metrics.MulticallFailedCalls.Inc()
					err = fmt.Errorf("%w: %w", newCallError(call, raw[i].ReturnData), err)
				}
				return nil, &DecodeError{Target: call.Target, Name: call.Name, Data: raw[i].ReturnData, Err: err}
			}
		} else {
			metrics.MulticallFailedCalls.Inc()
			callErr := newCallError(call, raw[i].ReturnData)
			r.logger.Debug().Str("target", call.Target).Str("call", call.Name).Str("reason", callErr.Reason).Msg("call failed")
			value = callErr
		}

		results.Slots[i] = value
		if results.Grouped != nil {
			key := call.Key()
			results.Grouped[key] = append(results.Grouped[key], value)
		}
	}

	return results, nil
}
