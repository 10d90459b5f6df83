package state

import (
	"encoding/binary"
	"fmt"
	"strings"

	"hebledger/native/bondfactory"
)

type storedFactoryConfig struct {
	Admin                        string
	AllowedPrincipalDenoms       []string
	MinInitialCollateralRatioBps uint64
	ProtocolFeeBps               uint64
	FeeRecipient                 string
}

type storedPendingCreate struct {
	ID        [32]byte
	Creator   string
	Nonce     uint64
	Terms     storedSeriesTerms
	CreatedAt uint64
}

type storedSeriesRecord struct {
	Index     uint64
	Address   string
	Borrower  string
	Creator   string
	CreatedAt uint64
}

func factorySeriesSuffix(index uint64) string {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], index)
	return string(buf[:])
}

// FactoryConfig loads the factory policy, or nil when the factory has not
// been instantiated.
func (m *Manager) FactoryConfig() (*bondfactory.Config, error) {
	stored := new(storedFactoryConfig)
	ok, err := m.readRecord(storageKey(factoryConfigPrefix, ""), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &bondfactory.Config{
		Admin:                        stored.Admin,
		AllowedPrincipalDenoms:       append([]string(nil), stored.AllowedPrincipalDenoms...),
		MinInitialCollateralRatioBps: stored.MinInitialCollateralRatioBps,
		ProtocolFeeBps:               stored.ProtocolFeeBps,
		FeeRecipient:                 stored.FeeRecipient,
	}, nil
}

// PutFactoryConfig persists the factory policy.
func (m *Manager) PutFactoryConfig(cfg *bondfactory.Config) error {
	if cfg == nil {
		return fmt.Errorf("state: nil factory config")
	}
	stored := &storedFactoryConfig{
		Admin:                        cfg.Admin,
		AllowedPrincipalDenoms:       append([]string(nil), cfg.AllowedPrincipalDenoms...),
		MinInitialCollateralRatioBps: cfg.MinInitialCollateralRatioBps,
		ProtocolFeeBps:               cfg.ProtocolFeeBps,
		FeeRecipient:                 cfg.FeeRecipient,
	}
	return m.writeRecord(storageKey(factoryConfigPrefix, ""), stored)
}

// FactorySeriesCount returns the number of registered series. Absent state
// reads as zero.
func (m *Manager) FactorySeriesCount() (uint64, error) {
	var stored uint64
	ok, err := m.readRecord(storageKey(factoryCountPrefix, ""), &stored)
	if err != nil || !ok {
		return 0, err
	}
	return stored, nil
}

// PutFactorySeriesCount persists the series counter.
func (m *Manager) PutFactorySeriesCount(count uint64) error {
	return m.writeRecord(storageKey(factoryCountPrefix, ""), count)
}

// FactorySeries loads the registry entry at index, or nil when unset.
func (m *Manager) FactorySeries(index uint64) (*bondfactory.SeriesRecord, error) {
	stored := new(storedSeriesRecord)
	ok, err := m.readRecord(storageKey(factorySeriesPrefix, factorySeriesSuffix(index)), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &bondfactory.SeriesRecord{
		Index:     stored.Index,
		Address:   stored.Address,
		Borrower:  stored.Borrower,
		Creator:   stored.Creator,
		CreatedAt: stored.CreatedAt,
	}, nil
}

// PutFactorySeries persists a registry entry under its index.
func (m *Manager) PutFactorySeries(record *bondfactory.SeriesRecord) error {
	if record == nil {
		return fmt.Errorf("state: nil series record")
	}
	if strings.TrimSpace(record.Address) == "" {
		return fmt.Errorf("state: series record missing address")
	}
	stored := &storedSeriesRecord{
		Index:     record.Index,
		Address:   record.Address,
		Borrower:  record.Borrower,
		Creator:   record.Creator,
		CreatedAt: record.CreatedAt,
	}
	return m.writeRecord(storageKey(factorySeriesPrefix, factorySeriesSuffix(record.Index)), stored)
}

// FactoryPending loads an in-flight create, or nil when the correlation id is
// unknown.
func (m *Manager) FactoryPending(id [32]byte) (*bondfactory.PendingCreate, error) {
	stored := new(storedPendingCreate)
	ok, err := m.readRecord(storageKey(factoryPendingPrefix, string(id[:])), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &bondfactory.PendingCreate{
		ID:        stored.ID,
		Creator:   stored.Creator,
		Nonce:     stored.Nonce,
		Terms:     stored.Terms.toTerms(),
		CreatedAt: stored.CreatedAt,
	}, nil
}

// PutFactoryPending persists an in-flight create under its correlation id.
func (m *Manager) PutFactoryPending(pending *bondfactory.PendingCreate) error {
	if pending == nil {
		return fmt.Errorf("state: nil pending create")
	}
	stored := &storedPendingCreate{
		ID:        pending.ID,
		Creator:   pending.Creator,
		Nonce:     pending.Nonce,
		Terms:     newStoredTerms(pending.Terms),
		CreatedAt: pending.CreatedAt,
	}
	return m.writeRecord(storageKey(factoryPendingPrefix, string(pending.ID[:])), stored)
}

// DeleteFactoryPending removes an in-flight create. Deleting an unknown id is
// a no-op.
func (m *Manager) DeleteFactoryPending(id [32]byte) error {
	return m.db.Delete(storageKey(factoryPendingPrefix, string(id[:])))
}
