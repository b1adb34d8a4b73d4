package network

import (
	"net"

	"go.uber.org/zap"
)

// MirrorNetwork is a set of mirror node addresses sharing one lazily created
// connection.
type MirrorNetwork struct {
	addresses []string
	dialer    Dialer
	slot      connSlot
	log       *zap.Logger
}

// NewMirrorNetwork creates a mirror network. If dialer is nil, TLS is used
// when the first address has port 443 and plaintext otherwise.
func NewMirrorNetwork(addresses []string, dialer Dialer, log *zap.Logger) (*MirrorNetwork, error) {
	if len(addresses) == 0 {
		return nil, ErrNoAddresses
	}
	for _, addr := range addresses {
		if err := checkAddress(addr); err != nil {
			return nil, err
		}
	}
	if dialer == nil {
		dialer = GRPCDialer{}
		if _, port, _ := net.SplitHostPort(addresses[0]); port == "443" {
			dialer = TLSDialer()
		}
	}
	if log == nil {
		log = zap.NewNop()
	}
	addrs := make([]string, len(addresses))
	copy(addrs, addresses)
	return &MirrorNetwork{addresses: addrs, dialer: dialer, log: log}, nil
}

// Addresses returns mirror node addresses.
func (m *MirrorNetwork) Addresses() []string {
	res := make([]string, len(m.addresses))
	copy(res, m.addresses)
	return res
}

// Connection returns the shared mirror connection.
func (m *MirrorNetwork) Connection() (Conn, error) {
	c, err := m.slot.get(m.dialer, m.addresses)
	if err != nil {
		m.log.Warn("failed to connect to mirror network",
			zap.Strings("addresses", m.addresses),
			zap.Error(err))
		return nil, err
	}
	return c, nil
}

// Close closes the mirror connection if it was created.
func (m *MirrorNetwork) Close() error {
	return m.slot.close()
}
