package cmd

import (
	"context"

	"firestige.xyz/netprobe/internal/config"
	"firestige.xyz/netprobe/internal/runner"
)

// Prober runs the protocol checks.
type Prober interface {
	Run(ctx context.Context, cfg *config.Config) runner.Report
	Learn(ctx context.Context, cfg *config.Config, rounds int) (runner.Baseline, runner.Report)
}

// probe replaces the runner when set, for tests.
var probe Prober

// SetProber replaces the runner used by every command. nil restores it.
func SetProber(p Prober) {
	probe = p
}

type runnerProber struct {
	opts []runner.Option
}

func (r runnerProber) Run(ctx context.Context, cfg *config.Config) runner.Report {
	return runner.Run(ctx, cfg, r.opts...)
}

func (r runnerProber) Learn(ctx context.Context, cfg *config.Config, rounds int) (runner.Baseline, runner.Report) {
	return runner.Learn(ctx, cfg, rounds, r.opts...)
}
