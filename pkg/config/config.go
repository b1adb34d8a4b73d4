/*
Package config contains the client configuration: network selection, retry
and timeout settings, logging, metrics and checkpoint storage.
*/
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"github.com/nspcc-dev/ledger-go/pkg/storage/dbconfig"
	"gopkg.in/yaml.v3"
)

// Default values.
const (
	DefaultNetworkUpdatePeriod = 24 * time.Hour
	DefaultGRPCTimeout         = 10 * time.Second
	DefaultRequestTimeout      = 2 * time.Minute
	DefaultMaxAttempts         = 10
	DefaultMinBackoff          = 250 * time.Millisecond
	DefaultMaxBackoff          = 8 * time.Second
)

// Public network names.
const (
	MainNet    = "mainnet"
	TestNet    = "testnet"
	PreviewNet = "previewnet"
)

// Version is the version of the client, set at build time.
var Version = "dev"

// Config is the top-level client configuration.
type Config struct {
	// Network is a public network name, it can't be combined with Nodes.
	Network string `yaml:"Network"`
	// Nodes maps "host:port" addresses to node account IDs.
	Nodes                   map[string]ledger.AccountID `yaml:"Nodes"`
	MirrorNetwork           []string                    `yaml:"MirrorNetwork"`
	Operator                Operator                    `yaml:"Operator"`
	Backoff                 Backoff                     `yaml:"Backoff"`
	MaxQueryPayment         ledger.Hbar                 `yaml:"MaxQueryPayment"`
	RegenerateTransactionID bool                        `yaml:"RegenerateTransactionID"`
	// NetworkUpdatePeriod is the address book refresh interval, negative
	// values disable updates.
	NetworkUpdatePeriod time.Duration            `yaml:"NetworkUpdatePeriod"`
	Logger              Logger                   `yaml:"Logger"`
	Prometheus          BasicService             `yaml:"Prometheus"`
	Pprof               BasicService             `yaml:"Pprof"`
	Checkpoint          dbconfig.DBConfiguration `yaml:"Checkpoint"`
}

// Load attempts to load the config for the given network from the
// "config.<network>.yml" file in the given directory.
func Load(path string, network string) (Config, error) {
	return LoadFile(filepath.Join(path, fmt.Sprintf("config.%s.yml", network)))
}

// LoadFile loads the config from the provided path. Unknown fields are an
// error.
func LoadFile(configPath string) (Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Config{}, fmt.Errorf("config '%s' doesn't exist", configPath)
	}

	configData, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("unable to read config: %w", err)
	}
	return Decode(configData)
}

// Decode parses YAML config data, applies defaults and validates the
// result.
func Decode(data []byte) (Config, error) {
	config := Default()

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	err := decoder.Decode(&config)
	if err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to unmarshal config YAML: %w", err)
	}

	err = config.Validate()
	if err != nil {
		return Config{}, err
	}
	return config, nil
}

// Default returns the config with all the defaults set and no network.
func Default() Config {
	return Config{
		Backoff: Backoff{
			MinBackoff:     DefaultMinBackoff,
			MaxBackoff:     DefaultMaxBackoff,
			MaxAttempts:    DefaultMaxAttempts,
			RequestTimeout: DefaultRequestTimeout,
			GRPCTimeout:    DefaultGRPCTimeout,
		},
		MaxQueryPayment:         ledger.OneHbar,
		RegenerateTransactionID: true,
		NetworkUpdatePeriod:     DefaultNetworkUpdatePeriod,
		Checkpoint: dbconfig.DBConfiguration{
			Type: dbconfig.InMemoryDB,
		},
	}
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	switch c.Network {
	case "":
		if len(c.Nodes) == 0 {
			return errors.New("either Network or Nodes must be specified")
		}
	case MainNet, TestNet, PreviewNet:
		if len(c.Nodes) != 0 {
			return fmt.Errorf("node list can't be used with %s network", c.Network)
		}
	default:
		return fmt.Errorf("unknown network %q", c.Network)
	}
	for addr, id := range c.Nodes {
		if id == (ledger.AccountID{}) {
			return fmt.Errorf("node %s has no account ID", addr)
		}
	}
	if c.MaxQueryPayment < 0 {
		return fmt.Errorf("negative MaxQueryPayment %d", c.MaxQueryPayment)
	}
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("invalid Backoff section: %w", err)
	}
	if err := c.Logger.Validate(); err != nil {
		return fmt.Errorf("invalid Logger section: %w", err)
	}
	switch c.Checkpoint.Type {
	case dbconfig.InMemoryDB, dbconfig.BoltDB, dbconfig.LevelDB:
	default:
		return fmt.Errorf("unknown checkpoint storage type %q", c.Checkpoint.Type)
	}
	return nil
}
