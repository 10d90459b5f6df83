package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"hebledger/config"
	coreevents "hebledger/core/events"
	"hebledger/core/state"
	"hebledger/core/types"
	"hebledger/native/bond"
	"hebledger/native/bondfactory"
	nativecommon "hebledger/native/common"
	"hebledger/observability"
	"hebledger/observability/logging"
	"hebledger/storage"
)

// slogEmitter writes every domain event to the structured log.
type slogEmitter struct {
	logger *slog.Logger
}

func (s slogEmitter) Emit(evt coreevents.Event) {
	if evt == nil {
		return
	}
	attrs := []any{slog.String("type", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if inner := carrier.Event(); inner != nil {
			for k, v := range inner.Attributes {
				attrs = append(attrs, slog.String(k, v))
			}
		}
	}
	s.logger.Info("ledger event", attrs...)
}

// ensureFactoryPolicy installs the configured creation policy on first run.
// Returns the active policy, or nil when no factory admin is configured and no
// policy exists yet.
func ensureFactoryPolicy(engine *bondfactory.Engine, cfg *config.Config) (*bondfactory.Config, error) {
	policy, err := engine.Config()
	if err != nil {
		return nil, err
	}
	if policy != nil {
		return policy, nil
	}
	if strings.TrimSpace(cfg.Factory.Admin) == "" {
		return nil, nil
	}
	policy = &bondfactory.Config{
		Admin:                        cfg.Factory.Admin,
		AllowedPrincipalDenoms:       cfg.Factory.AllowedPrincipalDenoms,
		MinInitialCollateralRatioBps: cfg.Factory.MinInitialCollateralRatioBps,
		ProtocolFeeBps:               cfg.Bond.ProtocolFeeBps,
		FeeRecipient:                 cfg.Bond.FeeRecipient,
	}
	if err := engine.Instantiate(policy); err != nil {
		return nil, err
	}
	return policy, nil
}

func main() {
	configPath := flag.String("config", "./config.toml", "path to the daemon configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", "path", *configPath, "error", err)
		os.Exit(1)
	}

	logger := logging.Setup("hebd", cfg.Environment)

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		logger.Error("open database", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager, err := state.NewManager(db)
	if err != nil {
		logger.Error("init state manager", "error", err)
		os.Exit(1)
	}

	emitter := observability.NewMetricsEmitter(slogEmitter{logger: logger})
	metrics := observability.LedgerMetrics()
	pauses := nativecommon.NewSwitchSet()

	maxAge := time.Duration(cfg.Oracle.MaxQuoteAgeSeconds) * time.Second
	aggregator := bond.NewOracleAggregator(cfg.Oracle.Priority, maxAge)
	aggregator.Register("manual", bond.NewManualOracle())
	if cfg.Oracle.BandEndpoint != "" {
		aggregator.Register("band", bond.NewBandOracle(http.DefaultClient, cfg.Oracle.BandEndpoint))
	}

	var registry bond.RetirementRegistry
	if cfg.Oracle.RegistryEndpoint != "" {
		registry = bond.NewEcocreditRegistry(http.DefaultClient, cfg.Oracle.RegistryEndpoint)
	} else {
		registry = bond.NewStaticRegistry()
	}

	bondEngine := bond.NewEngine()
	bondEngine.SetState(manager)
	bondEngine.SetEmitter(emitter)
	bondEngine.SetMetrics(metrics)
	bondEngine.SetOracle(aggregator)
	bondEngine.SetRegistry(registry)
	bondEngine.SetPauses(pauses)

	factoryEngine := bondfactory.NewEngine()
	factoryEngine.SetState(manager)
	factoryEngine.SetEmitter(emitter)
	factoryEngine.SetMetrics(metrics)
	factoryEngine.SetPauses(pauses)

	policy, err := ensureFactoryPolicy(factoryEngine, cfg)
	if err != nil {
		logger.Error("install factory policy", "error", err)
		os.Exit(1)
	}
	if policy == nil {
		logger.Info("factory admin not configured; series creation disabled")
	} else {
		logger.Info("factory policy active", "admin", policy.Admin, "fee_bps", policy.ProtocolFeeBps)
	}

	if seriesCfg, err := bondEngine.Terms(); err == nil && seriesCfg != nil {
		logger.Info("series loaded", "admin", seriesCfg.Admin, "borrower", seriesCfg.Terms.Borrower)
	} else {
		logger.Info("no series instantiated yet")
	}
	if count, err := factoryEngine.SeriesCount(); err == nil {
		logger.Info("factory registry", "series", count)
	}

	host := &seriesHost{
		bond:    bondEngine,
		factory: factoryEngine,
		admin:   cfg.Bond.Admin,
		feeders: cfg.Bond.PriceFeeders,
		logger:  logger,
	}

	mux := http.NewServeMux()
	host.register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	server := &http.Server{
		Addr:              cfg.MetricsAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", "addr", cfg.MetricsAddress)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics listener", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Error("metrics shutdown", "error", err)
	}
}
