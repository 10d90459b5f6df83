package bond

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
)

// RetirementRegistry reports the cumulative retired amount across a set of
// credit batches. The reading is taken synchronously within the invocation
// that needs it.
type RetirementRegistry interface {
	RetiredTotal(batchIDs []string) (*big.Int, error)
}

// EvaluateCheckpoints returns the latest checkpoint whose timestamp has
// passed, or ok=false when none is due yet. Checkpoints are ordered at config
// validation time, so a single scan suffices.
func EvaluateCheckpoints(checkpoints []ImpactCheckpoint, now uint64) (ImpactCheckpoint, bool) {
	var due ImpactCheckpoint
	found := false
	for _, cp := range checkpoints {
		if cp.Timestamp > now {
			break
		}
		due = cp
		found = true
	}
	return due, found
}

// EvaluateImpact builds the impact record for a due checkpoint against a
// registry reading. The evaluation is a pure one-shot: re-running it with the
// same inputs produces the same record.
func EvaluateImpact(cp ImpactCheckpoint, retired *big.Int) *ImpactPoint {
	if retired == nil {
		retired = big.NewInt(0)
	}
	target := big.NewInt(0)
	if cp.TargetRetired != nil {
		target = new(big.Int).Set(cp.TargetRetired)
	}
	return &ImpactPoint{
		CheckpointTS:  cp.Timestamp,
		RetiredTotal:  new(big.Int).Set(retired),
		TargetRetired: target,
		Met:           retired.Cmp(target) >= 0,
	}
}

// StaticRegistry is an in-memory retirement registry used for tests and
// manual attestation.
type StaticRegistry struct {
	mu      sync.RWMutex
	retired map[string]*big.Int
}

// NewStaticRegistry constructs an empty registry.
func NewStaticRegistry() *StaticRegistry {
	return &StaticRegistry{retired: make(map[string]*big.Int)}
}

// SetRetired records the cumulative retired amount for a batch.
func (r *StaticRegistry) SetRetired(batchID string, amount *big.Int) {
	if r == nil || amount == nil {
		return
	}
	r.mu.Lock()
	r.retired[strings.TrimSpace(batchID)] = new(big.Int).Set(amount)
	r.mu.Unlock()
}

// RetiredTotal implements RetirementRegistry by summing the tracked batches.
func (r *StaticRegistry) RetiredTotal(batchIDs []string) (*big.Int, error) {
	if r == nil {
		return nil, fmt.Errorf("retirement registry not configured")
	}
	total := big.NewInt(0)
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range batchIDs {
		if amount, ok := r.retired[strings.TrimSpace(id)]; ok {
			total.Add(total, amount)
		}
	}
	return total, nil
}

// EcocreditRegistry queries an ecocredit registry HTTP API for cumulative
// retired supply per batch.
type EcocreditRegistry struct {
	client   HTTPDoer
	endpoint string
}

// NewEcocreditRegistry constructs the adapter. http.DefaultClient is used
// when client is nil.
func NewEcocreditRegistry(client HTTPDoer, endpoint string) *EcocreditRegistry {
	if client == nil {
		client = http.DefaultClient
	}
	return &EcocreditRegistry{client: client, endpoint: strings.TrimSpace(endpoint)}
}

// RetiredTotal implements RetirementRegistry over the HTTP API.
func (r *EcocreditRegistry) RetiredTotal(batchIDs []string) (*big.Int, error) {
	if r == nil || r.endpoint == "" {
		return nil, fmt.Errorf("ecocredit registry not configured")
	}
	total := big.NewInt(0)
	for _, id := range batchIDs {
		amount, err := r.retiredSupply(id)
		if err != nil {
			return nil, err
		}
		total.Add(total, amount)
	}
	return total, nil
}

func (r *EcocreditRegistry) retiredSupply(batchID string) (*big.Int, error) {
	req, err := http.NewRequest(http.MethodGet, r.endpoint, nil)
	if err != nil {
		return nil, err
	}
	values := url.Values{}
	values.Set("batch_denom", strings.TrimSpace(batchID))
	req.URL.RawQuery = values.Encode()
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ecocredit registry: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload struct {
		RetiredAmount string `json:"retired_amount"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("ecocredit registry: decode: %w", err)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(payload.RetiredAmount), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("ecocredit registry: invalid retired amount %q", payload.RetiredAmount)
	}
	return amount, nil
}
