package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"rpcobserver/internal/channel"
	"rpcobserver/internal/config"
	"rpcobserver/internal/jsonrpc"
	"rpcobserver/internal/metrics"
	"rpcobserver/internal/multicall"
	"rpcobserver/internal/provider"
	"rpcobserver/internal/watch"
)

const shutdownTimeout = 10 * time.Second

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Log new blocks and balance changes until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		noHeads, _ := cmd.Flags().GetBool("no-heads")
		return runWatch(cmd.Context(), cfg, !noHeads, logger)
	},
}

func init() {
	watchCmd.Flags().Bool("no-heads", false, "do not subscribe to newHeads even if a WebSocket endpoint is configured")
}

func runWatch(ctx context.Context, cfg *config.Config, heads bool, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, ws, err := buildProvider(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if user := p.RemoveUserEndpoint(); user != nil {
			user.Close()
		}
		p.Close()
	}()

	chainID, err := p.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("failed to read chain id: %w", err)
	}
	logger.Info().Uint64("chainId", chainID).Int("endpoints", len(p.Status())).Msg("connected")

	registry := channel.NewRegistry(logger)
	defer registry.CleanUp()

	opts := watch.BlockWatcherOptions{
		PollInterval: cfg.GetPollIntervalDuration(),
		DedupSize:    cfg.DedupCacheSize,
	}
	if heads && ws != nil {
		opts.Heads = ws
	}
	blocks, err := watch.NewBlockWatcher(p, registry, opts, logger)
	if err != nil {
		return err
	}

	blocks.On(watch.EventUpdated, func(payload any) {
		logger.Info().Uint64("block", payload.(uint64)).Msg("block number")
	})
	blocks.On(watch.EventUpdateError, logUpdateError(logger, "blocks"))
	if opts.Heads != nil {
		blocks.On(watch.EventNewHead, func(payload any) {
			header := payload.(jsonrpc.BlockHeader)
			logger.Info().Str("hash", header.Hash).Str("number", header.Number).Msg("new head")
		})
	}

	if len(cfg.WatchAddresses) > 0 {
		reader := multicall.NewReader(p, cfg.MulticallAddress, logger)
		balances := watch.NewBalanceWatcher(reader, cfg.MulticallAddress, cfg.WatchAddresses, registry, cfg.GetPollIntervalDuration(), logger)
		balances.On(watch.EventUpdated, func(payload any) {
			for addr, wei := range payload.(watch.Balances) {
				logger.Info().Str("address", addr).Str("ether", formatEther(wei)).Msg("balance")
			}
		})
		balances.On(watch.EventUpdateError, logUpdateError(logger, "balances"))
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.MetricsAddr, logger) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	logger.Info().Int("channels", registry.Len()).Msg("watching, press Ctrl+C to stop")
	err = g.Wait()
	logger.Info().Msg("shutting down")
	return err
}

// serveMetrics serves /metrics on addr until ctx is done
func serveMetrics(ctx context.Context, addr string, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func logUpdateError(logger zerolog.Logger, name string) func(any) {
	return func(payload any) {
		logger.Warn().Err(payload.(watch.UpdateError).Err).Str("channel", name).Msg("update failed")
	}
}

var weiPerEther = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// formatEther renders a wei amount in ether
func formatEther(wei *big.Int) string {
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerEther)
	return f.Text('f', 6)
}

var _ multicall.Caller = (*provider.RetryProvider)(nil)
