package watch

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"rpcobserver/internal/channel"
	"rpcobserver/internal/multicall"
	"rpcobserver/internal/poll"
)

const (
	multicall3Contract = "multicall3"
	getEthBalance      = "getEthBalance"
)

// multicall3Codec covers the Multicall3 helpers used as plain calls
var multicall3Codec = multicall.MethodCodec{
	getEthBalance: {Signature: "getEthBalance(address)", Decode: multicall.DecodeBigInt},
}

// Balances maps lower-case addresses to their native balance in wei
type Balances map[string]*big.Int

// Equal reports whether both maps hold the same addresses and amounts
func (b Balances) Equal(other Balances) bool {
	if len(b) != len(other) {
		return false
	}
	for addr, v := range b {
		o, ok := other[addr]
		if !ok || v.Cmp(o) != 0 {
			return false
		}
	}
	return true
}

// BatchReader executes a multicall batch
type BatchReader interface {
	Execute(ctx context.Context, calls []multicall.Call, opts multicall.Options) (*multicall.Results, error)
}

// BalanceWatcher is a Channel emitting EventUpdated (Balances) and
// EventUpdateError (UpdateError) for a fixed set of addresses, read in one
// multicall per tick
type BalanceWatcher struct {
	*channel.Channel

	reader     BatchReader
	aggregator string
	addresses  []string
	fetcher    *poll.MemoizedFetcher[Balances]
	logger     zerolog.Logger
}

// NewBalanceWatcher creates a BalanceWatcher reading through the Multicall3
// deployment at aggregator
func NewBalanceWatcher(reader BatchReader, aggregator string, addresses []string, registry *channel.Registry, interval time.Duration, logger zerolog.Logger) *BalanceWatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	normalized := make([]string, len(addresses))
	for i, a := range addresses {
		normalized[i] = strings.ToLower(a)
	}

	w := &BalanceWatcher{
		reader:     reader,
		aggregator: aggregator,
		addresses:  normalized,
		logger:     logger.With().Str("component", "balance-watcher").Logger(),
	}

	w.fetcher = poll.NewMemoizedFetcher(
		w.fetch,
		func(b Balances) { w.Emit(EventUpdated, b) },
		poll.ChangedBy(Balances.Equal),
	)

	src := channel.NewEventSource("balance-poll",
		func(string) func() {
			return poll.Poll(w.tick, interval, w.logger)
		},
		channel.WithInitEmitter(func(event string) {
			if event != EventUpdated {
				return
			}
			if b, ok := w.fetcher.Last(); ok {
				w.Emit(EventUpdated, b)
			}
		}),
	)

	w.Channel = channel.NewChannel("balances", registry, map[string]*channel.EventSource{
		EventUpdated:     src,
		EventUpdateError: src,
	}, logger)
	return w
}

// Last returns the last emitted balances
func (w *BalanceWatcher) Last() (Balances, bool) {
	return w.fetcher.Last()
}

func (w *BalanceWatcher) tick(ctx context.Context) error {
	err := w.fetcher.Fetch(ctx, false)
	if err != nil && !poll.IsCanceled(err) {
		w.Emit(EventUpdateError, UpdateError{Err: err})
	}
	return err
}

// fetch reads every balance in one batch. Addresses whose call failed are
// left out; the fetch fails only if all of them did.
func (w *BalanceWatcher) fetch(ctx context.Context) (Balances, error) {
	if len(w.addresses) == 0 {
		return Balances{}, nil
	}

	calls := make([]multicall.Call, len(w.addresses))
	for i, addr := range w.addresses {
		calls[i] = multicall.Call{
			Target:   w.aggregator,
			Contract: multicall3Contract,
			Name:     getEthBalance,
			Params:   []any{addr},
			Codec:    multicall3Codec,
		}
	}

	res, err := w.reader.Execute(ctx, calls, multicall.Options{ReturnByContractAndFuncName: true})
	if err != nil {
		return nil, fmt.Errorf("balance batch: %w", err)
	}

	values := res.Grouped[calls[0].Key()]
	if len(values) != len(w.addresses) {
		return nil, fmt.Errorf("balance batch: got %d results for %d addresses", len(values), len(w.addresses))
	}

	out := make(Balances, len(values))
	var errs *multierror.Error
	for i, v := range values {
		switch x := v.(type) {
		case *big.Int:
			out[w.addresses[i]] = x
		case *multicall.CallError:
			errs = multierror.Append(errs, x)
		default:
			errs = multierror.Append(errs, fmt.Errorf("unexpected result %T for %s", v, w.addresses[i]))
		}
	}

	if len(out) == 0 && errs != nil {
		return nil, errs.ErrorOrNil()
	}
	if errs != nil {
		w.logger.Warn().Err(errs).Int("failed", len(errs.Errors)).Msg("some balances could not be read")
	}
	return out, nil
}
