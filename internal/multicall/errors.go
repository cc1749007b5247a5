package multicall

import (
	"encoding/hex"
	"fmt"
)

// EncodeError is returned when a call cannot be encoded. Nothing was sent.
type EncodeError struct {
	Target string
	Name   string
	Params []any
	Err    error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("multicall: encode %s.%s(%v): %v", e.Target, e.Name, e.Params, e.Err)
}

func (e *EncodeError) Unwrap() error {
	return e.Err
}

// DecodeError is returned when the result of a successful call cannot be decoded
type DecodeError struct {
	Target string
	Name   string
	Data   []byte
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("multicall: decode %s.%s result 0x%s: %v", e.Target, e.Name, hex.EncodeToString(e.Data), e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// CallError describes a sub-call that reverted. It occupies the call's
// result slot unless the reader fails on the first failure.
type CallError struct {
	Target string
	Name   string
	Reason string
	Data   []byte
}

func (e *CallError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("multicall: %s.%s reverted", e.Target, e.Name)
	}
	return fmt.Sprintf("multicall: %s.%s reverted: %s", e.Target, e.Name, e.Reason)
}

func newCallError(call Call, data []byte) *CallError {
	return &CallError{
		Target: call.Target,
		Name:   call.Name,
		Reason: DecodeRevertReason(data),
		Data:   data,
	}
}
