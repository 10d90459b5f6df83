package bondfactory

import (
	"encoding/binary"
	"strings"
	"sync"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"hebledger/core/events"
	"hebledger/core/types"
	"hebledger/native/bond"
	nativecommon "hebledger/native/common"
)

const moduleName = "bondfactory"

// Event types emitted by the factory.
const (
	EventTypeCreateRequested = "bondfactory.create_requested"
	EventTypeSeriesCreated   = "bondfactory.series_created"
	EventTypeCreateFailed    = "bondfactory.create_failed"
	EventTypeConfigUpdated   = "bondfactory.config_updated"
)

type engineState interface {
	FactoryConfig() (*Config, error)
	PutFactoryConfig(*Config) error
	FactorySeriesCount() (uint64, error)
	PutFactorySeriesCount(uint64) error
	FactorySeries(index uint64) (*SeriesRecord, error)
	PutFactorySeries(*SeriesRecord) error
	FactoryPending(id [32]byte) (*PendingCreate, error)
	PutFactoryPending(*PendingCreate) error
	DeleteFactoryPending(id [32]byte) error
}

// MetricsSink receives the outcome of every mutating factory operation.
type MetricsSink interface {
	Observe(module, operation string, err error, duration time.Duration)
}

type factoryEvent struct {
	evt *types.Event
}

func (e factoryEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e factoryEvent) Event() *types.Event { return e.evt }

// Engine runs the two-phase series creation protocol: a validated request
// parks the terms under a correlation id, and a completion callback either
// registers the new series or discards the pending record. Instantiating the
// series itself is the host's job; the factory only tracks the protocol.
type Engine struct {
	mu      sync.Mutex
	state   engineState
	emitter events.Emitter
	pauses  nativecommon.PauseView
	metrics MetricsSink
	nowFn   func() uint64
}

// NewEngine creates a factory engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() uint64 { return uint64(time.Now().Unix()) },
	}
}

// SetState configures the state backend.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the module-level kill switch view.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetMetrics wires the sink that receives per-operation outcomes.
func (e *Engine) SetMetrics(sink MetricsSink) {
	if e == nil {
		return
	}
	e.metrics = sink
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (e *Engine) SetNowFunc(now func() uint64) {
	if now == nil {
		e.nowFn = func() uint64 { return uint64(time.Now().Unix()) }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter. Passing nil resets to no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(factoryEvent{evt: evt})
}

func (e *Engine) now() uint64 {
	if e == nil || e.nowFn == nil {
		return uint64(time.Now().Unix())
	}
	return e.nowFn()
}

func (e *Engine) observe(operation string, start time.Time, err error) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Observe(moduleName, operation, err, time.Since(start))
}

// Instantiate persists the factory policy. Called once.
func (e *Engine) Instantiate(cfg *Config) (err error) {
	defer func(start time.Time) { e.observe("instantiate", start, err) }(time.Now())
	if e == nil || e.state == nil {
		return errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		return err
	}
	existing, err := e.state.FactoryConfig()
	if err != nil {
		return err
	}
	if existing != nil {
		return InvalidConfigError("factory already instantiated")
	}
	return e.state.PutFactoryConfig(cfg.Clone())
}

// UpdateConfig replaces the factory policy. Admin only.
func (e *Engine) UpdateConfig(caller string, cfg *Config) (err error) {
	defer func(start time.Time) { e.observe("update_config", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	current, err := e.loadConfig()
	if err != nil {
		return err
	}
	if caller != current.Admin {
		return ErrUnauthorized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := e.state.PutFactoryConfig(cfg.Clone()); err != nil {
		return err
	}
	e.emit(&types.Event{Type: EventTypeConfigUpdated, Attributes: map[string]string{"admin": cfg.Admin}})
	return nil
}

// CorrelationID derives the deterministic identifier for a create request.
func CorrelationID(creator string, nonce uint64) [32]byte {
	buf := make([]byte, len(creator)+8)
	copy(buf, creator)
	binary.BigEndian.PutUint64(buf[len(creator):], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

// CreateSeries validates submitted terms against the factory policy and parks
// them under a correlation id until the host reports the outcome via
// CompleteCreateSeries.
func (e *Engine) CreateSeries(caller string, terms bond.SeriesTerms, nonce uint64) (_ *PendingCreate, err error) {
	defer func(start time.Time) { e.observe("create_series", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	creator := strings.TrimSpace(caller)
	if creator == "" {
		return nil, ErrUnauthorized
	}
	now := e.now()
	if err := terms.Validate(now); err != nil {
		return nil, err
	}
	if !cfg.denomAllowed(terms.PrincipalDenom) {
		return nil, ErrDenomNotAllowed
	}
	if terms.InitialCollateralRatioBps < cfg.MinInitialCollateralRatioBps {
		return nil, ErrRatioTooLow
	}

	id := CorrelationID(creator, nonce)
	existing, err := e.state.FactoryPending(id)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrPendingExists
	}

	pending := &PendingCreate{
		ID:        id,
		Creator:   creator,
		Nonce:     nonce,
		Terms:     terms.Clone(),
		CreatedAt: now,
	}
	if err := e.state.PutFactoryPending(pending); err != nil {
		return nil, err
	}
	e.emit(&types.Event{Type: EventTypeCreateRequested, Attributes: map[string]string{
		"creator":  creator,
		"borrower": terms.Borrower,
	}})
	return pending.Clone(), nil
}

// CompleteCreateSeries consumes the completion callback for a pending create.
// A success registers the series address; a failure discards the pending
// record so the creator can retry. Unknown correlation ids are rejected
// outright.
func (e *Engine) CompleteCreateSeries(id [32]byte, seriesAddr string, ok bool) (_ *SeriesRecord, err error) {
	defer func(start time.Time) { e.observe("complete_create", start, err) }(time.Now())
	e.mu.Lock()
	defer e.mu.Unlock()

	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pending, err := e.state.FactoryPending(id)
	if err != nil {
		return nil, err
	}
	if pending == nil {
		return nil, ErrUnknownCorrelation
	}

	if !ok {
		if err := e.state.DeleteFactoryPending(id); err != nil {
			return nil, err
		}
		e.emit(&types.Event{Type: EventTypeCreateFailed, Attributes: map[string]string{"creator": pending.Creator}})
		return nil, nil
	}

	addr := strings.TrimSpace(seriesAddr)
	if addr == "" {
		return nil, InvalidConfigError("series address required")
	}
	count, err := e.state.FactorySeriesCount()
	if err != nil {
		return nil, err
	}
	record := &SeriesRecord{
		Index:     count,
		Address:   addr,
		Borrower:  pending.Terms.Borrower,
		Creator:   pending.Creator,
		CreatedAt: e.now(),
	}
	if err := e.state.PutFactorySeries(record); err != nil {
		return nil, err
	}
	if err := e.state.PutFactorySeriesCount(count + 1); err != nil {
		return nil, err
	}
	if err := e.state.DeleteFactoryPending(id); err != nil {
		return nil, err
	}
	e.emit(&types.Event{Type: EventTypeSeriesCreated, Attributes: map[string]string{
		"address":  addr,
		"borrower": record.Borrower,
		"creator":  record.Creator,
	}})
	return record.Clone(), nil
}

// Config returns the active factory policy, or nil when the factory has not
// been instantiated.
func (e *Engine) Config() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg, err := e.state.FactoryConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// Pending returns the in-flight create for the id, or nil when none exists.
func (e *Engine) Pending(id [32]byte) (*PendingCreate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pending, err := e.state.FactoryPending(id)
	if err != nil {
		return nil, err
	}
	return pending.Clone(), nil
}

// SeriesCount returns the number of registered series.
func (e *Engine) SeriesCount() (uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e == nil || e.state == nil {
		return 0, errNilState
	}
	return e.state.FactorySeriesCount()
}

// SeriesAt returns the registry entry at the given index.
func (e *Engine) SeriesAt(index uint64) (*SeriesRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e == nil || e.state == nil {
		return nil, errNilState
	}
	record, err := e.state.FactorySeries(index)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, ErrSeriesNotFound
	}
	return record.Clone(), nil
}

// SeriesList returns up to limit registry entries starting at offset.
func (e *Engine) SeriesList(offset, limit uint64) ([]*SeriesRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e == nil || e.state == nil {
		return nil, errNilState
	}
	count, err := e.state.FactorySeriesCount()
	if err != nil {
		return nil, err
	}
	if offset >= count || limit == 0 {
		return nil, nil
	}
	end := offset + limit
	if end > count {
		end = count
	}
	records := make([]*SeriesRecord, 0, end-offset)
	for i := offset; i < end; i++ {
		record, err := e.state.FactorySeries(i)
		if err != nil {
			return nil, err
		}
		if record == nil {
			return nil, ErrSeriesNotFound
		}
		records = append(records, record.Clone())
	}
	return records, nil
}

func (e *Engine) loadConfig() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.state.FactoryConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, errNilConfig
	}
	return cfg, nil
}
