package bond

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// PriceQuote captures an exchange rate for the collateral/principal pair
// along with the timestamp reported by the upstream oracle and the oracle
// identifier.
type PriceQuote struct {
	// Rate is principal units per one collateral unit.
	Rate      *big.Rat
	Timestamp time.Time
	Source    string
}

// Clone returns a deep copy of the quote to prevent accidental mutations.
func (q PriceQuote) Clone() PriceQuote {
	clone := PriceQuote{Timestamp: q.Timestamp, Source: q.Source}
	if q.Rate != nil {
		clone.Rate = new(big.Rat).Set(q.Rate)
	}
	return clone
}

// ScaledPrice converts the quote into the integer price representation used
// by the ledger (principal minor units per collateral unit, priceScale
// fixed-point), rounding down.
func (q PriceQuote) ScaledPrice() (*big.Int, error) {
	if q.Rate == nil || q.Rate.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: rate must be positive")
	}
	scaled := new(big.Rat).Mul(q.Rate, new(big.Rat).SetInt(priceScale))
	price := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("oracle: rate below representable precision")
	}
	return price, nil
}

// PriceOracle resolves an exchange rate for the provided base/quote denom
// pair.
type PriceOracle interface {
	GetRate(base, quote string) (PriceQuote, error)
}

// ErrNoFreshQuote indicates that no registered oracle produced a quote within
// the configured freshness window.
var ErrNoFreshQuote = errors.New("bond: no fresh oracle quote available")

// OracleAggregator consults registered oracles in priority order until a
// fresh quote is obtained.
type OracleAggregator struct {
	mu       sync.RWMutex
	priority []string
	oracles  map[string]PriceOracle
	maxAge   time.Duration
	nowFn    func() time.Time
}

// NewOracleAggregator constructs an aggregator with the provided priority
// ordering and freshness window.
func NewOracleAggregator(priority []string, maxAge time.Duration) *OracleAggregator {
	return &OracleAggregator{
		priority: append([]string{}, priority...),
		oracles:  make(map[string]PriceOracle),
		maxAge:   maxAge,
		nowFn:    time.Now,
	}
}

// SetMaxAge updates the freshness window used when filtering quotes.
func (a *OracleAggregator) SetMaxAge(maxAge time.Duration) {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.maxAge = maxAge
	a.mu.Unlock()
}

// Register adds or replaces an oracle under the supplied identifier.
// Identifiers are stored lowercase so lookups ignore configuration casing.
func (a *OracleAggregator) Register(name string, oracle PriceOracle) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.oracles[trimmed] = oracle
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// GetRate fetches a rate respecting the priority ordering and freshness
// window. The returned quote is a defensive copy.
func (a *OracleAggregator) GetRate(base, quote string) (PriceQuote, error) {
	if a == nil {
		return PriceQuote{}, fmt.Errorf("oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	maxAge := a.maxAge
	nowFn := a.nowFn
	a.mu.RUnlock()

	if nowFn == nil {
		nowFn = time.Now
	}
	cutoff := time.Time{}
	if maxAge > 0 {
		cutoff = nowFn().Add(-maxAge)
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		oracle := a.oracles[strings.ToLower(name)]
		a.mu.RUnlock()
		if oracle == nil {
			continue
		}
		q, err := oracle.GetRate(base, quote)
		if err != nil {
			lastErr = err
			continue
		}
		if q.Rate == nil || q.Rate.Sign() <= 0 {
			lastErr = fmt.Errorf("oracle %s returned invalid rate", name)
			continue
		}
		if maxAge > 0 && q.Timestamp.Before(cutoff) {
			lastErr = ErrNoFreshQuote
			continue
		}
		result := q.Clone()
		if strings.TrimSpace(result.Source) == "" {
			result.Source = strings.ToLower(name)
		}
		return result, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceQuote{}, lastErr
}

// ManualOracle is an in-memory oracle used for tests and manual overrides
// during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]PriceQuote
}

// NewManualOracle constructs an empty manual oracle.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]PriceQuote)}
}

func pairKey(base, quote string) string {
	return strings.ToUpper(strings.TrimSpace(base)) + "/" + strings.ToUpper(strings.TrimSpace(quote))
}

// Set stores the provided rational rate for the denom pair.
func (m *ManualOracle) Set(base, quote string, rate *big.Rat, ts time.Time) {
	if m == nil || rate == nil {
		return
	}
	m.mu.Lock()
	m.quotes[pairKey(base, quote)] = PriceQuote{Rate: new(big.Rat).Set(rate), Timestamp: ts, Source: "manual"}
	m.mu.Unlock()
}

// SetDecimal records a decimal rate string for the denom pair.
func (m *ManualOracle) SetDecimal(base, quote, rate string, ts time.Time) error {
	if m == nil {
		return fmt.Errorf("manual oracle not configured")
	}
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(rate))
	if !ok {
		return fmt.Errorf("manual oracle: invalid rate %q", rate)
	}
	if rat.Sign() <= 0 {
		return fmt.Errorf("manual oracle: rate must be positive")
	}
	m.Set(base, quote, rat, ts)
	return nil
}

// GetRate retrieves the stored rate for the denom pair.
func (m *ManualOracle) GetRate(base, quote string) (PriceQuote, error) {
	if m == nil {
		return PriceQuote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[pairKey(base, quote)]
	m.mu.RUnlock()
	if !ok {
		return PriceQuote{}, fmt.Errorf("manual oracle: quote for %s/%s not found", base, quote)
	}
	return stored.Clone(), nil
}

// HTTPDoer abstracts http.Client for ease of testing.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// BandOracle fetches price data from a Band-style reference data endpoint
// returning {"rate": "...", "timestamp": ...}.
type BandOracle struct {
	client   HTTPDoer
	endpoint string
}

// NewBandOracle constructs the adapter. http.DefaultClient is used when
// client is nil.
func NewBandOracle(client HTTPDoer, endpoint string) *BandOracle {
	if client == nil {
		client = http.DefaultClient
	}
	return &BandOracle{client: client, endpoint: strings.TrimSpace(endpoint)}
}

func (o *BandOracle) GetRate(base, quote string) (PriceQuote, error) {
	if o == nil || o.endpoint == "" {
		return PriceQuote{}, fmt.Errorf("band oracle not configured")
	}
	req, err := http.NewRequest(http.MethodGet, o.endpoint, nil)
	if err != nil {
		return PriceQuote{}, err
	}
	values := url.Values{}
	values.Set("base", strings.ToUpper(strings.TrimSpace(base)))
	values.Set("quote", strings.ToUpper(strings.TrimSpace(quote)))
	req.URL.RawQuery = values.Encode()
	resp, err := o.client.Do(req)
	if err != nil {
		return PriceQuote{}, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return PriceQuote{}, fmt.Errorf("band oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		Rate      string `json:"rate"`
		Timestamp int64  `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return PriceQuote{}, fmt.Errorf("band oracle: decode: %w", err)
	}
	rat, ok := new(big.Rat).SetString(strings.TrimSpace(payload.Rate))
	if !ok || rat.Sign() <= 0 {
		return PriceQuote{}, fmt.Errorf("band oracle: invalid rate %q", payload.Rate)
	}
	ts := time.Unix(payload.Timestamp, 0)
	if payload.Timestamp <= 0 {
		ts = time.Now().UTC()
	}
	return PriceQuote{Rate: rat, Timestamp: ts, Source: "band"}, nil
}
