package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"hebledger/storage"
)

// Key prefixes for the records the manager owns. Keys are hashed before
// hitting the backing store so layout changes never collide.
var (
	bondConfigPrefix     = []byte("bond/config")
	bondSeriesPrefix     = []byte("bond/state")
	bondAccountPrefix    = []byte("bond/account/")
	factoryConfigPrefix  = []byte("factory/config")
	factoryCountPrefix   = []byte("factory/count")
	factorySeriesPrefix  = []byte("factory/series/")
	factoryPendingPrefix = []byte("factory/pending/")
)

// Manager provides typed, rlp-encoded access to ledger records on top of a
// raw key-value database. It satisfies the state contracts of the bond and
// bondfactory engines.
type Manager struct {
	db storage.Database
}

// NewManager wraps the given database.
func NewManager(db storage.Database) (*Manager, error) {
	if db == nil {
		return nil, fmt.Errorf("state: database required")
	}
	return &Manager{db: db}, nil
}

func storageKey(prefix []byte, suffix string) []byte {
	buf := make([]byte, len(prefix)+len(suffix))
	copy(buf, prefix)
	copy(buf[len(prefix):], suffix)
	return ethcrypto.Keccak256(buf)
}

// readRecord decodes the record at key into out. It reports false without
// error when the key is absent.
func (m *Manager) readRecord(key []byte, out interface{}) (bool, error) {
	data, err := m.db.Get(key)
	if err != nil {
		if errors.Is(err, storage.ErrKeyNotFound) {
			return false, nil
		}
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("state: decode record: %w", err)
	}
	return true, nil
}

func (m *Manager) writeRecord(key []byte, record interface{}) error {
	encoded, err := rlp.EncodeToBytes(record)
	if err != nil {
		return fmt.Errorf("state: encode record: %w", err)
	}
	return m.db.Put(key, encoded)
}
