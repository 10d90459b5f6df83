package bond

import (
	"math/big"
	"net/http"
	"strings"
	"testing"
)

func TestEvaluateCheckpointsPicksLatestDue(t *testing.T) {
	checkpoints := []ImpactCheckpoint{
		{Timestamp: 100, TargetRetired: big.NewInt(10)},
		{Timestamp: 200, TargetRetired: big.NewInt(20)},
		{Timestamp: 300, TargetRetired: big.NewInt(30)},
	}

	if _, ok := EvaluateCheckpoints(checkpoints, 99); ok {
		t.Fatalf("nothing should be due before the first checkpoint")
	}
	cp, ok := EvaluateCheckpoints(checkpoints, 100)
	if !ok || cp.Timestamp != 100 {
		t.Fatalf("first checkpoint due at its own timestamp: %v %+v", ok, cp)
	}
	cp, ok = EvaluateCheckpoints(checkpoints, 250)
	if !ok || cp.Timestamp != 200 {
		t.Fatalf("expected second checkpoint, got %+v", cp)
	}
	cp, ok = EvaluateCheckpoints(checkpoints, 10_000)
	if !ok || cp.Timestamp != 300 {
		t.Fatalf("expected final checkpoint, got %+v", cp)
	}
	if _, ok := EvaluateCheckpoints(nil, 10_000); ok {
		t.Fatalf("no checkpoints means never due")
	}
}

func TestEvaluateImpact(t *testing.T) {
	cp := ImpactCheckpoint{Timestamp: 100, TargetRetired: big.NewInt(10_000)}

	point := EvaluateImpact(cp, big.NewInt(10_000))
	if !point.Met {
		t.Fatalf("reaching the target exactly counts as met")
	}
	point = EvaluateImpact(cp, big.NewInt(9_999))
	if point.Met {
		t.Fatalf("falling short must not be met")
	}
	point = EvaluateImpact(cp, nil)
	if point.Met || point.RetiredTotal.Sign() != 0 {
		t.Fatalf("nil reading reads as zero: %+v", point)
	}
	if point.CheckpointTS != 100 || point.TargetRetired.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected record: %+v", point)
	}
}

func TestCheckpointOverwritesPriorRecord(t *testing.T) {
	engine, _, clock := newTestEngine(t)
	fundSeries(t, engine, 0, 0)

	registry := NewStaticRegistry()
	registry.SetRetired("C01-001", big.NewInt(1_000))
	engine.SetRegistry(registry)

	clock.Advance(yearSecs / 2)
	first, err := engine.CheckpointImpact(testBuyer)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if first.Met {
		t.Fatalf("first reading should miss")
	}

	// More credits retire; re-running the same checkpoint replaces the
	// record rather than stacking a second one.
	registry.SetRetired("C01-001", big.NewInt(50_000))
	second, err := engine.CheckpointImpact(testBuyer)
	if err != nil {
		t.Fatalf("checkpoint rerun: %v", err)
	}
	if !second.Met {
		t.Fatalf("second reading should be met")
	}
	status, err := engine.ImpactStatus()
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !status.Met || status.RetiredTotal.Cmp(big.NewInt(50_000)) != 0 {
		t.Fatalf("record not overwritten: %+v", status)
	}
}

func TestStaticRegistrySumsTrackedBatches(t *testing.T) {
	registry := NewStaticRegistry()
	registry.SetRetired("C01-001", big.NewInt(100))
	registry.SetRetired("C01-002", big.NewInt(250))
	registry.SetRetired("C01-003", big.NewInt(999))

	total, err := registry.RetiredTotal([]string{"C01-001", "C01-002", "C01-404"})
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}
}

type registryDoer struct {
	responses map[string]string
	status    int
}

func (d *registryDoer) Do(req *http.Request) (*http.Response, error) {
	batch := req.URL.Query().Get("batch_denom")
	status := d.status
	if status == 0 {
		status = http.StatusOK
	}
	body, ok := d.responses[batch]
	if !ok {
		status = http.StatusNotFound
		body = "batch not found"
	}
	return &http.Response{
		StatusCode: status,
		Body:       nopCloser{strings.NewReader(body)},
	}, nil
}

type nopCloser struct{ *strings.Reader }

func (nopCloser) Close() error { return nil }

func TestEcocreditRegistrySumsOverHTTP(t *testing.T) {
	doer := &registryDoer{responses: map[string]string{
		"C01-001": `{"retired_amount":"1200"}`,
		"C01-002": `{"retired_amount":"800"}`,
	}}
	registry := NewEcocreditRegistry(doer, "https://registry.example/retired")

	total, err := registry.RetiredTotal([]string{"C01-001", "C01-002"})
	if err != nil {
		t.Fatalf("total: %v", err)
	}
	if total.Cmp(big.NewInt(2_000)) != 0 {
		t.Fatalf("unexpected total: %s", total)
	}

	if _, err := registry.RetiredTotal([]string{"C01-404"}); err == nil {
		t.Fatalf("expected error for unknown batch")
	}
}

func TestEcocreditRegistryRejectsBadPayloads(t *testing.T) {
	doer := &registryDoer{responses: map[string]string{
		"C01-001": `{"retired_amount":"-5"}`,
	}}
	registry := NewEcocreditRegistry(doer, "https://registry.example/retired")
	if _, err := registry.RetiredTotal([]string{"C01-001"}); err == nil {
		t.Fatalf("expected rejection of negative amount")
	}
}
