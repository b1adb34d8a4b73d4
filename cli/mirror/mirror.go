package mirror

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nspcc-dev/ledger-go/cli/options"
	"github.com/nspcc-dev/ledger-go/pkg/network"
	"github.com/nspcc-dev/ledger-go/pkg/services/metrics"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// DefaultInterval is the time between probes in watch mode.
const DefaultInterval = 30 * time.Second

var errNoMirror = errors.New("no mirror network configured")

// NewCommands returns 'mirror' command.
func NewCommands() []cli.Command {
	probeFlags := append([]cli.Flag{
		options.Config,
		options.ConfigFile,
		options.Debug,
		options.Timeout,
		cli.BoolFlag{
			Name:  "watch, w",
			Usage: "probe periodically until interrupted, serving metrics if enabled in the configuration",
		},
		cli.DurationFlag{
			Name:  "interval, i",
			Value: DefaultInterval,
			Usage: "time between probes in watch mode",
		},
	}, options.Network...)
	return []cli.Command{{
		Name:  "mirror",
		Usage: "inspect the mirror network",
		Subcommands: []cli.Command{
			{
				Name:      "probe",
				Usage:     "check that the mirror network accepts connections",
				UsageText: "probe [--timeout <time>] [--watch [--interval <time>]]",
				Action:    probeMirror,
				Flags:     probeFlags,
			},
			{
				Name:      "checkpoint",
				Usage:     "show or reset saved topic subscription positions",
				UsageText: "checkpoint [--reset] <topic> [<topic>...]",
				Action:    checkpoint,
				Flags: append([]cli.Flag{
					options.Config,
					options.ConfigFile,
					cli.BoolFlag{
						Name:  "reset, r",
						Usage: "delete checkpoints so that subscriptions start over",
					},
				}, options.Network...),
			},
		},
	}}
}

func probeMirror(ctx *cli.Context) error {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	log, _, logCloser, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.Logger)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() {
		_ = log.Sync()
		if logCloser != nil {
			_ = logCloser()
		}
	}()
	_, addrs, err := network.AddressBookFromConfig(cfg)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if len(addrs) == 0 {
		return cli.NewExitError(errNoMirror, 1)
	}
	mn, err := network.NewMirrorNetwork(addrs, nil, log)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer func() { _ = mn.Close() }()

	if !ctx.Bool("watch") {
		if err := probeOnce(ctx, mn); err != nil {
			return cli.NewExitError(err, 1)
		}
		return nil
	}

	prometheus := metrics.NewPrometheusService(cfg.Prometheus, log)
	pprof := metrics.NewPprofService(cfg.Pprof, log)
	for _, s := range []*metrics.Service{prometheus, pprof} {
		if err := s.Start(); err != nil {
			prometheus.ShutDown()
			return cli.NewExitError(err, 1)
		}
	}
	defer pprof.ShutDown()
	defer prometheus.ShutDown()

	sctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	interval := ctx.Duration("interval")
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := probeOnce(ctx, mn); err != nil {
			log.Warn("mirror network is unreachable", zap.Error(err))
		}
		select {
		case <-sctx.Done():
			log.Info("shutting down")
			return nil
		case <-ticker.C:
		}
	}
}

func probeOnce(ctx *cli.Context, mn *network.MirrorNetwork) error {
	conn, err := mn.Connection()
	if err != nil {
		return err
	}
	pctx, cancel := options.GetTimeoutContext(ctx)
	defer cancel()
	state, err := network.Probe(pctx, conn)
	_, _ = fmt.Fprintf(ctx.App.Writer, "%s\t%s\n", strings.Join(mn.Addresses(), ", "), state)
	if err != nil {
		return fmt.Errorf("mirror network %s: %w", state, err)
	}
	return nil
}
