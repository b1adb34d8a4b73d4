package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nspcc-dev/ledger-go/cli/mirror"
	"github.com/nspcc-dev/ledger-go/cli/network"
	"github.com/nspcc-dev/ledger-go/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "ledger-go\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a ledger-go instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "ledger-go"
	ctl.Version = config.Version
	ctl.Usage = "Go client for distributed ledger networks"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, network.NewCommands()...)
	ctl.Commands = append(ctl.Commands, mirror.NewCommands()...)
	return ctl
}
