package network

import (
	"fmt"

	"github.com/nspcc-dev/ledger-go/pkg/config"
	"github.com/nspcc-dev/ledger-go/pkg/ledger"
)

// AddressBookFromConfig returns the node address book and mirror addresses
// selected by the configuration: a preset network (with its mirror address
// unless MirrorNetwork overrides it) or an explicit node list.
func AddressBookFromConfig(cfg config.Config) ([]ledger.NodeAddress, []string, error) {
	if cfg.Network == "" {
		return bookFromAddresses(cfg.Nodes), cfg.MirrorNetwork, nil
	}
	book, mirrorAddr, ok := Preset(cfg.Network)
	if !ok {
		return nil, nil, fmt.Errorf("unknown network %q", cfg.Network)
	}
	mirrors := cfg.MirrorNetwork
	if len(mirrors) == 0 {
		mirrors = []string{mirrorAddr}
	}
	return book, mirrors, nil
}
