package mirror

import (
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/ledger-go/cli/options"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/mirror"
	"github.com/nspcc-dev/ledger-go/pkg/storage"
	"github.com/nspcc-dev/ledger-go/pkg/storage/dbconfig"
	"github.com/urfave/cli"
)

var errInMemory = errors.New("checkpoints are kept in memory, nothing is stored")

func checkpoint(ctx *cli.Context) error {
	args := ctx.Args()
	if len(args) == 0 {
		return cli.NewExitError("no topic given", 1)
	}
	topics := make([]ledger.TopicID, 0, len(args))
	for _, arg := range args {
		id, err := ledger.ParseEntityID(arg)
		if err != nil {
			return cli.NewExitError(fmt.Errorf("bad topic ID %q: %w", arg, err), 1)
		}
		topics = append(topics, id)
	}
	cfg, err := options.GetConfigFromContext(ctx)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if cfg.Checkpoint.Type == dbconfig.InMemoryDB {
		return cli.NewExitError(errInMemory, 1)
	}
	store, err := storage.NewStore(cfg.Checkpoint)
	if err != nil {
		return cli.NewExitError(fmt.Errorf("failed to open checkpoint storage: %w", err), 1)
	}
	defer func() { _ = store.Close() }()

	reset := ctx.Bool("reset")
	for _, topic := range topics {
		key := mirror.CheckpointKey(topic)
		if reset {
			if err := store.Delete(key); err != nil {
				return cli.NewExitError(fmt.Errorf("topic %s: %w", topic, err), 1)
			}
			_, _ = fmt.Fprintf(ctx.App.Writer, "%s\treset\n", topic)
			continue
		}
		last, err := mirror.LoadCheckpoint(store, key)
		switch {
		case errors.Is(err, storage.ErrKeyNotFound):
			_, _ = fmt.Fprintf(ctx.App.Writer, "%s\tnone\n", topic)
		case err != nil:
			return cli.NewExitError(fmt.Errorf("topic %s: %w", topic, err), 1)
		default:
			_, _ = fmt.Fprintf(ctx.App.Writer, "%s\t%s\n", topic, last.Format(time.RFC3339Nano))
		}
	}
	return nil
}
