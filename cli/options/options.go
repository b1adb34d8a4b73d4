/*
Package options contains a set of common CLI options and helper functions to use them.
*/
package options

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/config"
	"github.com/urfave/cli"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultTimeout is the default timeout used for network operations.
const DefaultTimeout = 10 * time.Second

// Network is a set of flags for choosing the network to operate on
// (mainnet/testnet/previewnet).
var Network = []cli.Flag{
	cli.BoolFlag{Name: "mainnet, m", Usage: "use mainnet network configuration (if --config-file option is not specified)"},
	cli.BoolFlag{Name: "testnet, t", Usage: "use testnet network configuration (if --config-file option is not specified), the default"},
	cli.BoolFlag{Name: "previewnet, p", Usage: "use previewnet network configuration (if --config-file option is not specified)"},
}

// Timeout is a flag limiting the operation time.
var Timeout = cli.DurationFlag{
	Name:  "timeout, s",
	Value: DefaultTimeout,
	Usage: "Timeout for the operation",
}

// Config is a flag for commands that use client configuration.
var Config = cli.StringFlag{
	Name:  "config-path",
	Usage: "path to directory with per-network configuration files (may be overridden by --config-file option for the configuration file)",
}

// ConfigFile is a flag for commands that use client configuration and provide
// path to the specific config file instead of config path.
var ConfigFile = cli.StringFlag{
	Name:  "config-file",
	Usage: "path to the client configuration file (overrides --config-path option)",
}

// Debug is a flag for commands that allow debug logging.
var Debug = cli.BoolFlag{
	Name:  "debug, d",
	Usage: "enable debug logging (LOTS of output, overrides configuration)",
}

var errConflictingNetworkFlags = errors.New("only one of --mainnet, --testnet and --previewnet can be specified")

// GetNetwork examines Context's flags and returns the appropriate network
// name. It defaults to testnet if no flags are given.
func GetNetwork(ctx *cli.Context) (string, error) {
	var (
		net = config.TestNet
		set int
	)
	if ctx.Bool("mainnet") {
		net = config.MainNet
		set++
	}
	if ctx.Bool("testnet") {
		net = config.TestNet
		set++
	}
	if ctx.Bool("previewnet") {
		net = config.PreviewNet
		set++
	}
	if set > 1 {
		return "", errConflictingNetworkFlags
	}
	return net, nil
}

// GetTimeoutContext returns a context.Context with the default or a user-set timeout.
func GetTimeoutContext(ctx *cli.Context) (context.Context, func()) {
	dur := ctx.Duration("timeout")
	if dur == 0 {
		dur = DefaultTimeout
	}
	return context.WithTimeout(context.Background(), dur)
}

// GetConfigFromContext looks at the path and the network flags in the given
// context and returns an appropriate config.
func GetConfigFromContext(ctx *cli.Context) (config.Config, error) {
	if configFile := ctx.String("config-file"); len(configFile) != 0 {
		return config.LoadFile(configFile)
	}
	var configPath = "./config"
	if argCp := ctx.String("config-path"); argCp != "" {
		configPath = argCp
	}
	net, err := GetNetwork(ctx)
	if err != nil {
		return config.Config{}, err
	}
	return config.Load(configPath, net)
}

// HandleLoggingParams reads logging parameters.
// If a user selected debug level -- function enables it.
// If LogPath is configured -- function creates a dir and a rotated file for
// logging and returns closer for it.
func HandleLoggingParams(debug bool, cfg config.Logger) (*zap.Logger, *zap.AtomicLevel, func() error, error) {
	var (
		level = zapcore.InfoLevel
		err   error
	)
	if len(cfg.LogLevel) > 0 {
		level, err = zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("log setting: %w", err)
		}
	}
	if debug {
		level = zapcore.DebugLevel
	}

	cc := zap.NewProductionConfig()
	cc.DisableCaller = true
	cc.DisableStacktrace = true
	cc.EncoderConfig.EncodeDuration = zapcore.StringDurationEncoder
	cc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	cc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cc.Encoding = "console"
	if len(cfg.LogEncoding) > 0 {
		cc.Encoding = cfg.LogEncoding
	}
	cc.Level = zap.NewAtomicLevelAt(level)
	cc.Sampling = nil

	if cfg.LogPath == "" {
		log, err := cc.Build()
		return log, &cc.Level, nil, err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogPath), 0755); err != nil {
		return nil, nil, nil, fmt.Errorf("could not create dir for logger: %w", err)
	}
	var (
		out = &lumberjack.Logger{
			Filename:   cfg.LogPath,
			MaxSize:    cfg.MaxSize, // megabytes
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge, // days
		}
		enc zapcore.Encoder
	)
	if cc.Encoding == "json" {
		enc = zapcore.NewJSONEncoder(cc.EncoderConfig)
	} else {
		enc = zapcore.NewConsoleEncoder(cc.EncoderConfig)
	}
	log := zap.New(zapcore.NewCore(enc, zapcore.AddSync(out), cc.Level))
	return log, &cc.Level, out.Close, nil
}
