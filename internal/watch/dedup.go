package watch

import (
	"encoding/json"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"rpcobserver/internal/jsonrpc"
)

// Deduplicator drops push events already seen, e.g. the same head announced
// again after a reconnect
type Deduplicator struct {
	cache *lru.Cache[string, struct{}]
}

// NewDeduplicator creates a Deduplicator remembering up to size keys
func NewDeduplicator(size int) (*Deduplicator, error) {
	cache, err := lru.New[string, struct{}](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &Deduplicator{cache: cache}, nil
}

// IsDuplicate records key and reports whether it was already present.
// An empty key is never a duplicate.
func (d *Deduplicator) IsDuplicate(key string) bool {
	if key == "" {
		return false
	}
	found, _ := d.cache.ContainsOrAdd(key, struct{}{})
	return found
}

// Len returns the number of remembered keys
func (d *Deduplicator) Len() int {
	return d.cache.Len()
}

// Clear forgets every key
func (d *Deduplicator) Clear() {
	d.cache.Purge()
}

// headKey identifies a newHeads payload by block hash
func headKey(header jsonrpc.BlockHeader) string {
	if header.Hash == "" {
		return ""
	}
	return "block:" + header.Hash
}

func parseHeader(raw json.RawMessage) (jsonrpc.BlockHeader, error) {
	var header jsonrpc.BlockHeader
	if err := json.Unmarshal(raw, &header); err != nil {
		return header, fmt.Errorf("invalid block header: %w", err)
	}
	return header, nil
}
