package provider

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"rpcobserver/internal/jsonrpc"
)

// BlockNumber returns the latest block number
func (p *RetryProvider) BlockNumber(ctx context.Context) (uint64, error) {
	res, err := p.Perform(ctx, "eth_blockNumber", []any{})
	if err != nil {
		return 0, err
	}
	return decodeQuantity(res)
}

// ChainID returns the chain ID reported by the endpoints
func (p *RetryProvider) ChainID(ctx context.Context) (uint64, error) {
	res, err := p.Perform(ctx, "eth_chainId", []any{})
	if err != nil {
		return 0, err
	}
	return decodeQuantity(res)
}

// Call executes a read-only contract call against the latest block
func (p *RetryProvider) Call(ctx context.Context, to string, data []byte) ([]byte, error) {
	msg := jsonrpc.CallMsg{
		To:   to,
		Data: EncodeHex(data),
	}
	res, err := p.Perform(ctx, "eth_call", []any{msg, "latest"})
	if err != nil {
		return nil, err
	}
	return decodeData(res)
}

// SendRawTransaction broadcasts a signed transaction and returns its hash
func (p *RetryProvider) SendRawTransaction(ctx context.Context, raw []byte) (string, error) {
	res, err := p.Perform(ctx, MethodSendRawTransaction, []any{EncodeHex(raw)})
	if err != nil {
		return "", err
	}
	var hash string
	if err := json.Unmarshal(res, &hash); err != nil {
		return "", fmt.Errorf("invalid transaction hash: %w", err)
	}
	return hash, nil
}

// EncodeHex encodes b as 0x-prefixed hex
func EncodeHex(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}

// DecodeHex decodes a hex string with or without the 0x prefix
func DecodeHex(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s)%2 == 1 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// ParseQuantity parses a 0x-prefixed hex quantity
func ParseQuantity(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q is missing the 0x prefix", s)
	}
	n, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid quantity %q: %w", s, err)
	}
	return n, nil
}

func decodeQuantity(res json.RawMessage) (uint64, error) {
	var s string
	if err := json.Unmarshal(res, &s); err != nil {
		return 0, fmt.Errorf("quantity is not a string: %w", err)
	}
	return ParseQuantity(s)
}

func decodeData(res json.RawMessage) ([]byte, error) {
	var s string
	if err := json.Unmarshal(res, &s); err != nil {
		return nil, fmt.Errorf("data is not a string: %w", err)
	}
	b, err := DecodeHex(s)
	if err != nil {
		return nil, fmt.Errorf("invalid data: %w", err)
	}
	return b, nil
}
