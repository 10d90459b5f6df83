package bondfactory

import (
	"strings"

	"hebledger/native/bond"
)

// Config is the factory-level policy applied to every series created through
// it.
type Config struct {
	Admin string
	// AllowedPrincipalDenoms lists the principal assets a series may be
	// denominated in. Empty means any.
	AllowedPrincipalDenoms []string
	// MinInitialCollateralRatioBps is the floor applied to the initial
	// collateral ratio of submitted terms.
	MinInitialCollateralRatioBps uint64
	// ProtocolFeeBps and FeeRecipient are stamped into every created series.
	ProtocolFeeBps uint64
	FeeRecipient   string
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	if len(c.AllowedPrincipalDenoms) > 0 {
		clone.AllowedPrincipalDenoms = append([]string(nil), c.AllowedPrincipalDenoms...)
	}
	return &clone
}

// Validate checks the factory policy for internal consistency.
func (c *Config) Validate() error {
	if c == nil {
		return InvalidConfigError("config required")
	}
	if strings.TrimSpace(c.Admin) == "" {
		return InvalidConfigError("admin required")
	}
	if c.ProtocolFeeBps > 10_000 {
		return InvalidConfigError("protocol fee exceeds 10000 bps")
	}
	if c.ProtocolFeeBps > 0 && strings.TrimSpace(c.FeeRecipient) == "" {
		return InvalidConfigError("fee recipient required when fee set")
	}
	for _, denom := range c.AllowedPrincipalDenoms {
		if strings.TrimSpace(denom) == "" {
			return InvalidConfigError("empty denom in allow-list")
		}
	}
	return nil
}

// SeriesConfig composes the instantiation config for a series created through
// the factory, stamping the fee policy onto the submitted terms. The admin and
// price feeders come from the host.
func (c *Config) SeriesConfig(admin string, feeders []string, terms bond.SeriesTerms) *bond.Config {
	if c == nil {
		return nil
	}
	return &bond.Config{
		Admin:          admin,
		ProtocolFeeBps: c.ProtocolFeeBps,
		FeeRecipient:   c.FeeRecipient,
		PriceFeeders:   append([]string(nil), feeders...),
		Terms:          terms.Clone(),
	}
}

func (c *Config) denomAllowed(denom string) bool {
	if len(c.AllowedPrincipalDenoms) == 0 {
		return true
	}
	for _, allowed := range c.AllowedPrincipalDenoms {
		if allowed == denom {
			return true
		}
	}
	return false
}

// PendingCreate is an in-flight series creation awaiting its completion
// callback. It is removed once the outcome, success or failure, is reported.
type PendingCreate struct {
	ID        [32]byte
	Creator   string
	Nonce     uint64
	Terms     bond.SeriesTerms
	CreatedAt uint64
}

// Clone returns a deep copy of the pending record.
func (p *PendingCreate) Clone() *PendingCreate {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Terms = p.Terms.Clone()
	return &clone
}

// SeriesRecord is the registry entry for a completed series.
type SeriesRecord struct {
	Index     uint64
	Address   string
	Borrower  string
	Creator   string
	CreatedAt uint64
}

// Clone returns a copy of the record.
func (r *SeriesRecord) Clone() *SeriesRecord {
	if r == nil {
		return nil
	}
	clone := *r
	return &clone
}
