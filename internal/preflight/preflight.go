package preflight

import (
	"context"

	"golang.org/x/sync/errgroup"

	"tether/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

// RunAll executes all applicable preflight checks for the given config.
// Checks are only run when the corresponding feature is configured. Network
// checks run concurrently; results keep a fixed order.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
	}

	var network []func(context.Context) Result
	if cfg.Executor.BaseURL != "" {
		network = append(network, func(ctx context.Context) Result {
			return CheckUpstream(ctx, cfg.Executor.BaseURL, cfg.ExecutorTimeout())
		})
	} else {
		results = append(results, Result{Name: "Upstream", Passed: true, Detail: "No base URL (absolute resources only)"})
	}
	if cfg.Network.Mode == config.NetworkModeAuto && cfg.Network.Probe == config.ProbeDial {
		network = append(network, func(ctx context.Context) Result {
			return CheckProbe(ctx, cfg.Network.ProbeAddress, cfg.ProbeTimeout())
		})
	}

	checked := make([]Result, len(network))
	g, gctx := errgroup.WithContext(ctx)
	for i, check := range network {
		g.Go(func() error {
			checked[i] = check(gctx)
			return nil
		})
	}
	_ = g.Wait()

	return append(results, checked...)
}
