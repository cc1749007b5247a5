// Package watch holds ready-made observers built on channels: a block
// watcher and a native balance watcher.
package watch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"

	"rpcobserver/internal/channel"
	"rpcobserver/internal/jsonrpc"
	"rpcobserver/internal/poll"
	"rpcobserver/internal/provider"
)

// Event names
const (
	EventUpdated     = "updated"
	EventUpdateError = "updateError"
	EventNewHead     = "newHead"
)

// Defaults
const (
	DefaultPollInterval  = 5 * time.Second
	DefaultDedupSize     = 1024
	DefaultHeadsRetryMin = time.Second
	DefaultHeadsRetryMax = 30 * time.Second

	subscribeTimeout = 10 * time.Second
)

// UpdateError is the payload of EventUpdateError
type UpdateError struct {
	Err error
}

func (e UpdateError) Error() string {
	return e.Err.Error()
}

// BlockSource reports the latest block number
type BlockSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// HeadSubscriber opens push subscriptions, as provider.WSEndpoint does
type HeadSubscriber interface {
	Subscribe(ctx context.Context, subType string, params any, onEvent func(json.RawMessage)) (string, error)
	Unsubscribe(id string)
}

// BlockWatcherOptions configures a BlockWatcher
type BlockWatcherOptions struct {
	PollInterval time.Duration
	DedupSize    int
	// Heads enables EventNewHead; nil leaves the event without a source
	Heads HeadSubscriber
	// HeadsRetryMin and HeadsRetryMax bound the delay between failed newHeads subscriptions
	HeadsRetryMin time.Duration
	HeadsRetryMax time.Duration
}

// BlockWatcher is a Channel with:
//   - EventUpdated (uint64) and EventUpdateError (UpdateError), polled from a
//     BlockSource through one shared source
//   - EventNewHead (jsonrpc.BlockHeader), pushed by a newHeads subscription
type BlockWatcher struct {
	*channel.Channel

	fetcher *poll.MemoizedFetcher[uint64]
	dedup   *Deduplicator
	logger  zerolog.Logger
}

// NewBlockWatcher creates a BlockWatcher. Nothing is polled until the first
// handler subscribes.
func NewBlockWatcher(src BlockSource, registry *channel.Registry, opts BlockWatcherOptions, logger zerolog.Logger) (*BlockWatcher, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.DedupSize <= 0 {
		opts.DedupSize = DefaultDedupSize
	}
	if opts.HeadsRetryMin <= 0 {
		opts.HeadsRetryMin = DefaultHeadsRetryMin
	}
	if opts.HeadsRetryMax < opts.HeadsRetryMin {
		opts.HeadsRetryMax = max(DefaultHeadsRetryMax, opts.HeadsRetryMin)
	}

	dedup, err := NewDeduplicator(opts.DedupSize)
	if err != nil {
		return nil, err
	}

	w := &BlockWatcher{
		dedup:  dedup,
		logger: logger.With().Str("component", "block-watcher").Logger(),
	}

	w.fetcher = poll.NewMemoizedFetcher(
		src.BlockNumber,
		func(n uint64) { w.Emit(EventUpdated, n) },
		poll.ChangedBy(func(a, b uint64) bool { return a == b }),
	)

	pollSource := channel.NewEventSource("block-poll",
		func(string) func() {
			return poll.Poll(w.tick, opts.PollInterval, w.logger)
		},
		channel.WithInitEmitter(w.emitLast),
	)

	sources := map[string]*channel.EventSource{
		EventUpdated:     pollSource,
		EventUpdateError: pollSource,
	}
	if opts.Heads != nil {
		sources[EventNewHead] = channel.NewEventSource("new-heads", w.subscribeHeads(opts))
	}

	w.Channel = channel.NewChannel("blocks", registry, sources, logger)
	return w, nil
}

// Last returns the last emitted block number
func (w *BlockWatcher) Last() (uint64, bool) {
	return w.fetcher.Last()
}

// Refresh fetches now and emits the block number even if unchanged
func (w *BlockWatcher) Refresh(ctx context.Context) error {
	return w.fetcher.Fetch(ctx, true)
}

func (w *BlockWatcher) tick(ctx context.Context) error {
	err := w.fetcher.Fetch(ctx, false)
	if err != nil && !poll.IsCanceled(err) {
		w.Emit(EventUpdateError, UpdateError{Err: err})
	}
	return err
}

func (w *BlockWatcher) emitLast(event string) {
	if event != EventUpdated {
		return
	}
	if n, ok := w.fetcher.Last(); ok {
		w.Emit(EventUpdated, n)
	}
}

// subscribeHeads returns a start function that subscribes in the background,
// retrying with backoff until it succeeds or the source is stopped. Each
// failed attempt is reported as EventUpdateError.
func (w *BlockWatcher) subscribeHeads(opts BlockWatcherOptions) channel.StartFunc {
	heads := opts.Heads
	return func(string) func() {
		ctx, cancel := context.WithCancel(context.Background())

		var (
			mu      sync.Mutex
			stopped bool
			subID   string
		)

		go func() {
			b := &backoff.Backoff{Min: opts.HeadsRetryMin, Max: opts.HeadsRetryMax, Factor: 2}
			for {
				subCtx, subCancel := context.WithTimeout(ctx, subscribeTimeout)
				id, err := heads.Subscribe(subCtx, "newHeads", nil, w.onHead)
				subCancel()

				if err == nil {
					mu.Lock()
					if stopped {
						mu.Unlock()
						heads.Unsubscribe(id)
						return
					}
					subID = id
					mu.Unlock()
					if b.Attempt() > 0 {
						w.logger.Info().Float64("attempts", b.Attempt()+1).Msg("newHeads subscribed")
					}
					return
				}
				if ctx.Err() != nil {
					return
				}

				delay := b.Duration()
				w.logger.Warn().Err(err).Dur("retryIn", delay).Msg("newHeads subscription failed")
				w.Emit(EventUpdateError, UpdateError{Err: err})

				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
		}()

		return func() {
			cancel()
			mu.Lock()
			stopped = true
			id := subID
			subID = ""
			mu.Unlock()
			if id != "" {
				heads.Unsubscribe(id)
			}
		}
	}
}

func (w *BlockWatcher) onHead(raw json.RawMessage) {
	header, err := parseHeader(raw)
	if err != nil {
		w.logger.Warn().Err(err).Msg("dropping newHeads event")
		return
	}
	if w.dedup.IsDuplicate(headKey(header)) {
		return
	}
	w.Emit(EventNewHead, header)
}

var _ HeadSubscriber = (*provider.WSEndpoint)(nil)

// ParseBlockNumber parses the number field of a header
func ParseBlockNumber(header jsonrpc.BlockHeader) (uint64, error) {
	return provider.ParseQuantity(header.Number)
}
