/*
Package storage provides key-value stores subscription checkpoints are kept
in.
*/
package storage

import (
	"errors"
	"fmt"

	"github.com/nspcc-dev/ledger-go/pkg/storage/dbconfig"
)

// ErrKeyNotFound is an error returned by Store implementations
// when a certain key is not found.
var ErrKeyNotFound = errors.New("key not found")

// ErrReadOnly is returned for writes to stores opened in read-only mode.
var ErrReadOnly = errors.New("store is read-only")

// Store is a simple KV backend.
type Store interface {
	Get(key []byte) ([]byte, error)
	Put(key, value []byte) error
	// Delete removes the key, deleting a missing key is not an error.
	Delete(key []byte) error
	Close() error
}

// NewStore creates storage with preselected in configuration database type.
func NewStore(cfg dbconfig.DBConfiguration) (Store, error) {
	var store Store
	var err error
	switch cfg.Type {
	case dbconfig.LevelDB:
		store, err = NewLevelDBStore(cfg.LevelDBOptions)
	case dbconfig.InMemoryDB:
		store = NewMemoryStore()
	case dbconfig.BoltDB:
		store, err = NewBoltDBStore(cfg.BoltDBOptions)
	default:
		return nil, fmt.Errorf("unknown storage: %s", cfg.Type)
	}
	return store, err
}
