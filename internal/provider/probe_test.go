package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryProvider_Probe(t *testing.T) {
	up := &fakeEndpoint{name: "up", fn: returning(`"0x64"`)}
	down := &fakeEndpoint{name: "down", fn: failing(&HTTPError{StatusCode: http.StatusBadGateway})}
	p := NewRetryProvider([]Endpoint{up, down}, testOptions(), zerolog.Nop())

	status, err := p.Probe(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 2)

	assert.Equal(t, "up", status[0].Name)
	assert.True(t, status[0].Alive)
	assert.Equal(t, uint64(100), status[0].BlockNumber)

	assert.Equal(t, "down", status[1].Name)
	assert.False(t, status[1].Alive)
	assert.True(t, status[1].NextRetry.After(time.Now()))
	assert.Contains(t, status[1].LastError, "502")
}

func TestRetryProvider_ProbeAllDown(t *testing.T) {
	down := &fakeEndpoint{name: "down", fn: failing(&HTTPError{StatusCode: http.StatusServiceUnavailable})}
	p := NewRetryProvider([]Endpoint{down}, testOptions(), zerolog.Nop())

	status, err := p.Probe(context.Background())
	assert.ErrorIs(t, err, ErrNoHealthyEndpoint)
	assert.Len(t, status, 1)
}

func TestParseQuantity(t *testing.T) {
	n, err := ParseQuantity("0x1b4")
	require.NoError(t, err)
	assert.Equal(t, uint64(436), n)

	_, err = ParseQuantity("1b4")
	assert.Error(t, err)

	b, err := DecodeHex("0xabc")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0a, 0xbc}, b)
	assert.Equal(t, "0x0abc", EncodeHex(b))
}

func TestRetryProvider_ChainID(t *testing.T) {
	ep := &fakeEndpoint{name: "a", fn: func(_ context.Context, method string, _ any) (json.RawMessage, error) {
		if method != "eth_chainId" {
			return nil, errors.New("unexpected method " + method)
		}
		return json.RawMessage(`"0x2105"`), nil
	}}
	p := NewRetryProvider([]Endpoint{ep}, testOptions(), zerolog.Nop())

	id, err := p.ChainID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(8453), id)
}
