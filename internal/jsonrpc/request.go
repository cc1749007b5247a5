package jsonrpc

import (
	"encoding/json"
	"fmt"
)

// Request is an outgoing JSON-RPC call
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
	ID      ID              `json:"id"`
}

// NewRequest builds a request, marshaling params once up front
func NewRequest(method string, params any, id ID) (*Request, error) {
	req := &Request{JSONRPC: Version, Method: method, ID: id}
	if params == nil {
		return req, nil
	}

	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal params of %s: %w", method, err)
	}
	req.Params = raw
	return req, nil
}

// EncodeRequest returns the wire form of a call with a numeric id
func EncodeRequest(method string, params any, id int64) ([]byte, error) {
	req, err := NewRequest(method, params, NewIDInt(id))
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return data, nil
}
