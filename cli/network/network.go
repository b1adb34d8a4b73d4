package network

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/nspcc-dev/ledger-go/cli/options"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/network"
	"github.com/urfave/cli"
	"go.uber.org/zap"
)

// NewCommands returns 'network' command.
func NewCommands() []cli.Command {
	cfgFlags := append([]cli.Flag{options.Config, options.ConfigFile, options.Debug}, options.Network...)
	probeFlags := append([]cli.Flag{options.Timeout}, cfgFlags...)
	return []cli.Command{{
		Name:  "network",
		Usage: "inspect consensus nodes of the configured network",
		Subcommands: []cli.Command{
			{
				Name:   "nodes",
				Usage:  "list configured nodes and mirror addresses",
				Action: listNodes,
				Flags:  cfgFlags,
			},
			{
				Name:      "probe",
				Usage:     "check that nodes accept connections",
				UsageText: "probe [--timeout <time>] [node ...]",
				Action:    probeNodes,
				Flags:     probeFlags,
			},
		},
	}}
}

func newRegistry(ctx *cli.Context) (*network.Registry, []string, *zap.Logger, func(), error) {
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return nil, nil, nil, nil, cli.NewExitError(err, 1)
	}
	log, _, logCloser, err := options.HandleLoggingParams(ctx.Bool("debug"), cfg.Logger)
	if err != nil {
		return nil, nil, nil, nil, cli.NewExitError(err, 1)
	}
	cleanup := func() {
		_ = log.Sync()
		if logCloser != nil {
			_ = logCloser()
		}
	}
	book, mirrors, err := network.AddressBookFromConfig(cfg)
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, cli.NewExitError(err, 1)
	}
	reg, err := network.New(book, network.Options{Log: log})
	if err != nil {
		cleanup()
		return nil, nil, nil, nil, cli.NewExitError(err, 1)
	}
	return reg, mirrors, log, func() {
		_ = reg.Close()
		cleanup()
	}, nil
}

func listNodes(ctx *cli.Context) error {
	reg, mirrors, _, cleanup, err := newRegistry(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	tw := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tADDRESSES")
	for i := 0; i < reg.Len(); i++ {
		n := reg.Node(i)
		_, _ = fmt.Fprintf(tw, "%s\t%s\n", n.ID(), strings.Join(n.Addresses(), ", "))
	}
	_ = tw.Flush()
	if len(mirrors) != 0 {
		_, _ = fmt.Fprintf(ctx.App.Writer, "Mirror network: %s\n", strings.Join(mirrors, ", "))
	}
	return nil
}

func probeNodes(ctx *cli.Context) error {
	reg, _, log, cleanup, err := newRegistry(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	positions := make([]int, reg.Len())
	for i := range positions {
		positions[i] = i
	}
	if args := ctx.Args(); len(args) != 0 {
		ids := make([]ledger.AccountID, 0, len(args))
		for _, arg := range args {
			id, err := ledger.ParseEntityID(arg)
			if err != nil {
				return cli.NewExitError(fmt.Errorf("bad node account ID %q: %w", arg, err), 1)
			}
			ids = append(ids, id)
		}
		positions, err = reg.NodesFor(ids)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
	}

	var failed int
	tw := tabwriter.NewWriter(ctx.App.Writer, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "NODE\tSTATE\tERROR")
	for _, pos := range positions {
		id := reg.NodeID(pos)
		state, err := probe(ctx, reg, pos)
		if err != nil {
			failed++
			log.Debug("probe failed", zap.Stringer("node", id), zap.Error(err))
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", id, state, err)
			continue
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t\n", id, state)
	}
	_ = tw.Flush()
	if failed != 0 {
		return cli.NewExitError(fmt.Errorf("%d of %d nodes are unreachable", failed, len(positions)), 1)
	}
	return nil
}

func probe(ctx *cli.Context, reg *network.Registry, pos int) (string, error) {
	conn, err := reg.Connection(pos)
	if err != nil {
		return "UNKNOWN", err
	}
	pctx, cancel := options.GetTimeoutContext(ctx)
	defer cancel()
	state, err := network.Probe(pctx, conn)
	return state.String(), err
}
