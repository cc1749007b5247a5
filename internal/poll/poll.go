package poll

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StopFunc stops a running mechanism. It is safe to call more than once.
type StopFunc func()

// Poll runs fn immediately and then every period until the returned StopFunc
// is called. A tick still in flight when the next one fires is canceled first,
// so at most one fn runs at a time.
//
// Canceled errors are swallowed. Other errors are logged; fn is expected to
// report its own failures to its subscribers.
func Poll(fn func(ctx context.Context) error, period time.Duration, logger zerolog.Logger) StopFunc {
	ctx, cancel := context.WithCancel(context.Background())
	p := &poller{
		fn:     fn,
		logger: logger,
	}

	go p.run(ctx, period)

	var once sync.Once
	return func() {
		once.Do(cancel)
	}
}

type poller struct {
	fn     func(ctx context.Context) error
	logger zerolog.Logger

	current *Future[struct{}]
}

func (p *poller) run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	p.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			if p.current != nil {
				p.current.Cancel()
			}
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

func (p *poller) tick(ctx context.Context) {
	if p.current != nil && !p.current.Settled() {
		p.logger.Debug().Msg("previous tick still in flight, canceling")
		p.current.Cancel()
		// The superseded fn observes its context and returns promptly; waiting
		// keeps a single fn in flight.
		<-p.current.Done()
	}
	if ctx.Err() != nil {
		return
	}

	f := Go(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, p.fn(ctx)
	})
	p.current = f

	go func() {
		_, err := f.Wait(context.Background())
		if err != nil && !IsCanceled(err) {
			p.logger.Warn().Err(err).Msg("poll tick failed")
		}
	}()
}
