package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"rpcobserver/internal/config"
	"rpcobserver/internal/provider"
)

// buildProvider connects every configured endpoint and wraps them in a
// RetryProvider. Endpoints that fail to connect are skipped as long as one
// is left. The first WebSocket endpoint is returned for push subscriptions.
func buildProvider(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*provider.RetryProvider, *provider.WSEndpoint, error) {
	var (
		endpoints []provider.Endpoint
		ws        *provider.WSEndpoint
		errs      *multierror.Error
	)

	for _, epCfg := range cfg.Endpoints {
		ep, err := provider.NewEndpoint(ctx, provider.EndpointConfigFromConfig(epCfg, cfg), logger)
		if err != nil {
			logger.Warn().Err(err).Str("endpoint", epCfg.Name).Msg("skipping endpoint")
			errs = multierror.Append(errs, err)
			continue
		}
		if w, ok := ep.(*provider.WSEndpoint); ok && ws == nil {
			ws = w
		}
		endpoints = append(endpoints, ep)
	}

	if len(endpoints) == 0 {
		return nil, nil, fmt.Errorf("no endpoint could be set up: %w", errs.ErrorOrNil())
	}

	p := provider.NewRetryProvider(endpoints, provider.OptionsFromConfig(cfg), logger)

	if cfg.UserEndpoint != nil {
		user, err := provider.NewEndpoint(ctx, provider.EndpointConfigFromConfig(*cfg.UserEndpoint, cfg), logger)
		if err != nil {
			p.Close()
			return nil, nil, fmt.Errorf("user endpoint: %w", err)
		}
		p.SetUserEndpoint(user)
	}

	return p, ws, nil
}
