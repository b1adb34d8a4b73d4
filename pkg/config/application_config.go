package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/nspcc-dev/ledger-go/pkg/ledger"
	"go.uber.org/zap/zapcore"
)

type (
	// Operator is the account paying for transactions and queries, its
	// key is supplied separately.
	Operator struct {
		AccountID *ledger.AccountID `yaml:"AccountID"`
	}

	// Backoff configures request retries.
	Backoff struct {
		MinBackoff  time.Duration `yaml:"MinBackoff"`
		MaxBackoff  time.Duration `yaml:"MaxBackoff"`
		MaxAttempts int           `yaml:"MaxAttempts"`
		// RequestTimeout limits the whole request execution.
		RequestTimeout time.Duration `yaml:"RequestTimeout"`
		// GRPCTimeout limits a single attempt.
		GRPCTimeout time.Duration `yaml:"GRPCTimeout"`
	}

	// Logger contains logger configuration.
	Logger struct {
		LogEncoding string `yaml:"LogEncoding"`
		LogLevel    string `yaml:"LogLevel"`
		LogPath     string `yaml:"LogPath"`
		// MaxSize is the log file size in megabytes it gets rotated at.
		MaxSize int `yaml:"MaxSize"`
		// MaxBackups is the number of rotated files kept.
		MaxBackups int `yaml:"MaxBackups"`
		// MaxAge is the number of days rotated files are kept.
		MaxAge int `yaml:"MaxAge"`
	}
)

// Validate returns an error if the Backoff configuration is not valid.
func (b Backoff) Validate() error {
	if b.MinBackoff <= 0 {
		return errors.New("MinBackoff must be positive")
	}
	if b.MaxBackoff < b.MinBackoff {
		return fmt.Errorf("MaxBackoff %s is less than MinBackoff %s", b.MaxBackoff, b.MinBackoff)
	}
	if b.MaxAttempts <= 0 {
		return errors.New("MaxAttempts must be positive")
	}
	if b.RequestTimeout < 0 || b.GRPCTimeout < 0 {
		return errors.New("negative timeout")
	}
	return nil
}

// Validate returns an error if Logger configuration is not valid.
func (l Logger) Validate() error {
	if len(l.LogEncoding) > 0 && l.LogEncoding != "json" && l.LogEncoding != "console" {
		return fmt.Errorf("invalid LogEncoding: %s", l.LogEncoding)
	}
	if len(l.LogLevel) > 0 {
		if _, err := zapcore.ParseLevel(l.LogLevel); err != nil {
			return fmt.Errorf("invalid LogLevel: %w", err)
		}
	}
	if l.MaxSize < 0 || l.MaxBackups < 0 || l.MaxAge < 0 {
		return errors.New("negative log rotation setting")
	}
	return nil
}
