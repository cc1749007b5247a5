package watch

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rpcobserver/internal/jsonrpc"
)

func TestDeduplicator(t *testing.T) {
	d, err := NewDeduplicator(2)
	require.NoError(t, err)

	assert.False(t, d.IsDuplicate("a"))
	assert.True(t, d.IsDuplicate("a"))
	assert.False(t, d.IsDuplicate(""))
	assert.False(t, d.IsDuplicate(""))

	assert.False(t, d.IsDuplicate("b"))
	assert.False(t, d.IsDuplicate("c"))
	assert.Equal(t, 2, d.Len())
	assert.False(t, d.IsDuplicate("a"), "a was evicted")

	d.Clear()
	assert.Equal(t, 0, d.Len())
}

func TestDeduplicator_InvalidSize(t *testing.T) {
	_, err := NewDeduplicator(0)
	assert.Error(t, err)
}

func TestHeadKeyAndParse(t *testing.T) {
	raw := json.RawMessage(`{"hash":"0xabc","number":"0x10","parentHash":"0x01"}`)
	header, err := parseHeader(raw)
	require.NoError(t, err)
	assert.Equal(t, "block:0xabc", headKey(header))

	n, err := ParseBlockNumber(header)
	require.NoError(t, err)
	assert.Equal(t, uint64(16), n)

	assert.Equal(t, "", headKey(jsonrpc.BlockHeader{}))

	_, err = parseHeader(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
