package state

import (
	"fmt"
	"math/big"
	"strings"

	"hebledger/native/bond"
)

type storedPriceSource struct {
	SourceID           string
	MaxPriceAgeSeconds uint64
}

type storedImpactCheckpoint struct {
	Timestamp     uint64
	TargetRetired *big.Int
}

type storedImpactConfig struct {
	Mode        uint8
	BatchIDs    []string
	Checkpoints []storedImpactCheckpoint
}

type storedSeriesTerms struct {
	Borrower                  string
	CollateralDenom           string
	PrincipalDenom            string
	PrincipalCap              *big.Int
	MaturityTS                uint64
	BaseRateAprBps            uint64
	PenaltyRateAprBps         uint64
	CouponPeriodSeconds       uint64
	InitialCollateralRatioBps uint64
	LiquidationRatioBps       uint64
	LiquidationBonusBps       uint64
	Oracle                    storedPriceSource
	Impact                    storedImpactConfig
}

type storedBondConfig struct {
	Admin          string
	ProtocolFeeBps uint64
	FeeRecipient   string
	PriceFeeders   []string
	Terms          storedSeriesTerms
}

// Optional sub-records carry a presence flag because rlp has no nil pointer
// encoding for struct fields.
type storedPricePoint struct {
	Present   bool
	Price     *big.Int
	Timestamp uint64
}

type storedImpactPoint struct {
	Present       bool
	CheckpointTS  uint64
	RetiredTotal  *big.Int
	TargetRetired *big.Int
	Met           bool
}

type storedSeriesState struct {
	SaleOpen                  bool
	Paused                    bool
	TotalPrincipalSold        *big.Int
	TotalPrincipalOutstanding *big.Int
	TotalRedeemed             *big.Int
	CollateralLocked          *big.Int
	InterestOutstanding       *big.Int
	GlobalInterestIndex       *big.Int
	LastAccrualTS             uint64
	LastPrice                 storedPricePoint
	LastImpact                storedImpactPoint
}

type storedBondAccount struct {
	Address string
	Balance *big.Int
	Index   *big.Int
	Accrued *big.Int
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func newStoredTerms(t bond.SeriesTerms) storedSeriesTerms {
	stored := storedSeriesTerms{
		Borrower:                  t.Borrower,
		CollateralDenom:           t.CollateralDenom,
		PrincipalDenom:            t.PrincipalDenom,
		PrincipalCap:              nonNil(t.PrincipalCap),
		MaturityTS:                t.MaturityTS,
		BaseRateAprBps:            t.BaseRateAprBps,
		PenaltyRateAprBps:         t.PenaltyRateAprBps,
		CouponPeriodSeconds:       t.CouponPeriodSeconds,
		InitialCollateralRatioBps: t.InitialCollateralRatioBps,
		LiquidationRatioBps:       t.LiquidationRatioBps,
		LiquidationBonusBps:       t.LiquidationBonusBps,
		Oracle: storedPriceSource{
			SourceID:           t.Oracle.SourceID,
			MaxPriceAgeSeconds: t.Oracle.MaxPriceAgeSeconds,
		},
		Impact: storedImpactConfig{
			Mode:     uint8(t.Impact.Mode),
			BatchIDs: append([]string(nil), t.Impact.BatchIDs...),
		},
	}
	for _, cp := range t.Impact.Checkpoints {
		stored.Impact.Checkpoints = append(stored.Impact.Checkpoints, storedImpactCheckpoint{
			Timestamp:     cp.Timestamp,
			TargetRetired: nonNil(cp.TargetRetired),
		})
	}
	return stored
}

func (s storedSeriesTerms) toTerms() bond.SeriesTerms {
	terms := bond.SeriesTerms{
		Borrower:                  s.Borrower,
		CollateralDenom:           s.CollateralDenom,
		PrincipalDenom:            s.PrincipalDenom,
		PrincipalCap:              nonNil(s.PrincipalCap),
		MaturityTS:                s.MaturityTS,
		BaseRateAprBps:            s.BaseRateAprBps,
		PenaltyRateAprBps:         s.PenaltyRateAprBps,
		CouponPeriodSeconds:       s.CouponPeriodSeconds,
		InitialCollateralRatioBps: s.InitialCollateralRatioBps,
		LiquidationRatioBps:       s.LiquidationRatioBps,
		LiquidationBonusBps:       s.LiquidationBonusBps,
		Oracle: bond.PriceSourceConfig{
			SourceID:           s.Oracle.SourceID,
			MaxPriceAgeSeconds: s.Oracle.MaxPriceAgeSeconds,
		},
		Impact: bond.ImpactConfig{
			Mode:     bond.ImpactMode(s.Impact.Mode),
			BatchIDs: append([]string(nil), s.Impact.BatchIDs...),
		},
	}
	for _, cp := range s.Impact.Checkpoints {
		terms.Impact.Checkpoints = append(terms.Impact.Checkpoints, bond.ImpactCheckpoint{
			Timestamp:     cp.Timestamp,
			TargetRetired: nonNil(cp.TargetRetired),
		})
	}
	return terms
}

// BondConfig loads the series configuration, or nil when the series has not
// been instantiated.
func (m *Manager) BondConfig() (*bond.Config, error) {
	stored := new(storedBondConfig)
	ok, err := m.readRecord(storageKey(bondConfigPrefix, ""), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &bond.Config{
		Admin:          stored.Admin,
		ProtocolFeeBps: stored.ProtocolFeeBps,
		FeeRecipient:   stored.FeeRecipient,
		PriceFeeders:   append([]string(nil), stored.PriceFeeders...),
		Terms:          stored.Terms.toTerms(),
	}, nil
}

// PutBondConfig persists the series configuration.
func (m *Manager) PutBondConfig(cfg *bond.Config) error {
	if cfg == nil {
		return fmt.Errorf("state: nil bond config")
	}
	stored := &storedBondConfig{
		Admin:          cfg.Admin,
		ProtocolFeeBps: cfg.ProtocolFeeBps,
		FeeRecipient:   cfg.FeeRecipient,
		PriceFeeders:   append([]string(nil), cfg.PriceFeeders...),
		Terms:          newStoredTerms(cfg.Terms),
	}
	return m.writeRecord(storageKey(bondConfigPrefix, ""), stored)
}

// BondSeries loads the series state, or nil when none exists.
func (m *Manager) BondSeries() (*bond.SeriesState, error) {
	stored := new(storedSeriesState)
	ok, err := m.readRecord(storageKey(bondSeriesPrefix, ""), stored)
	if err != nil || !ok {
		return nil, err
	}
	st := &bond.SeriesState{
		SaleOpen:                  stored.SaleOpen,
		Paused:                    stored.Paused,
		TotalPrincipalSold:        nonNil(stored.TotalPrincipalSold),
		TotalPrincipalOutstanding: nonNil(stored.TotalPrincipalOutstanding),
		TotalRedeemed:             nonNil(stored.TotalRedeemed),
		CollateralLocked:          nonNil(stored.CollateralLocked),
		InterestOutstanding:       nonNil(stored.InterestOutstanding),
		GlobalInterestIndex:       nonNil(stored.GlobalInterestIndex),
		LastAccrualTS:             stored.LastAccrualTS,
	}
	if stored.LastPrice.Present {
		st.LastPrice = &bond.PricePoint{
			Price:     nonNil(stored.LastPrice.Price),
			Timestamp: stored.LastPrice.Timestamp,
		}
	}
	if stored.LastImpact.Present {
		st.LastImpact = &bond.ImpactPoint{
			CheckpointTS:  stored.LastImpact.CheckpointTS,
			RetiredTotal:  nonNil(stored.LastImpact.RetiredTotal),
			TargetRetired: nonNil(stored.LastImpact.TargetRetired),
			Met:           stored.LastImpact.Met,
		}
	}
	st.EnsureDefaults()
	return st, nil
}

// PutBondSeries persists the series state.
func (m *Manager) PutBondSeries(st *bond.SeriesState) error {
	if st == nil {
		return fmt.Errorf("state: nil series state")
	}
	stored := &storedSeriesState{
		SaleOpen:                  st.SaleOpen,
		Paused:                    st.Paused,
		TotalPrincipalSold:        nonNil(st.TotalPrincipalSold),
		TotalPrincipalOutstanding: nonNil(st.TotalPrincipalOutstanding),
		TotalRedeemed:             nonNil(st.TotalRedeemed),
		CollateralLocked:          nonNil(st.CollateralLocked),
		InterestOutstanding:       nonNil(st.InterestOutstanding),
		GlobalInterestIndex:       nonNil(st.GlobalInterestIndex),
		LastAccrualTS:             st.LastAccrualTS,
		LastPrice:                 storedPricePoint{Price: big.NewInt(0)},
		LastImpact:                storedImpactPoint{RetiredTotal: big.NewInt(0), TargetRetired: big.NewInt(0)},
	}
	if st.LastPrice != nil {
		stored.LastPrice = storedPricePoint{
			Present:   true,
			Price:     nonNil(st.LastPrice.Price),
			Timestamp: st.LastPrice.Timestamp,
		}
	}
	if st.LastImpact != nil {
		stored.LastImpact = storedImpactPoint{
			Present:       true,
			CheckpointTS:  st.LastImpact.CheckpointTS,
			RetiredTotal:  nonNil(st.LastImpact.RetiredTotal),
			TargetRetired: nonNil(st.LastImpact.TargetRetired),
			Met:           st.LastImpact.Met,
		}
	}
	return m.writeRecord(storageKey(bondSeriesPrefix, ""), stored)
}

// BondAccount loads the holder record for addr, or nil when the holder has
// never interacted with the series.
func (m *Manager) BondAccount(addr string) (*bond.AccountIndex, error) {
	trimmed := strings.TrimSpace(addr)
	if trimmed == "" {
		return nil, fmt.Errorf("state: empty account address")
	}
	stored := new(storedBondAccount)
	ok, err := m.readRecord(storageKey(bondAccountPrefix, trimmed), stored)
	if err != nil || !ok {
		return nil, err
	}
	return &bond.AccountIndex{
		Address: stored.Address,
		Balance: nonNil(stored.Balance),
		Index:   nonNil(stored.Index),
		Accrued: nonNil(stored.Accrued),
	}, nil
}

// PutBondAccount persists a holder record.
func (m *Manager) PutBondAccount(acc *bond.AccountIndex) error {
	if acc == nil {
		return fmt.Errorf("state: nil bond account")
	}
	trimmed := strings.TrimSpace(acc.Address)
	if trimmed == "" {
		return fmt.Errorf("state: empty account address")
	}
	stored := &storedBondAccount{
		Address: trimmed,
		Balance: nonNil(acc.Balance),
		Index:   nonNil(acc.Index),
		Accrued: nonNil(acc.Accrued),
	}
	return m.writeRecord(storageKey(bondAccountPrefix, trimmed), stored)
}
