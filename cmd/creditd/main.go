package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"creditprotocol/archive"
	"creditprotocol/config"
	"creditprotocol/core/events"
	"creditprotocol/distribution"
	"creditprotocol/economy"
	"creditprotocol/ledger"
	"creditprotocol/observability"
	"creditprotocol/observability/logging"
	"creditprotocol/observability/otel"
	"creditprotocol/storage"
	"creditprotocol/workflow"
)

func main() {
	configFile := flag.String("config", "./credit.toml", "Path to the configuration file")
	snapshotEvery := flag.Duration("snapshot-interval", 5*time.Minute, "How often to seal and archive a ledger snapshot")
	flag.Parse()

	if err := run(*configFile, *snapshotEvery); err != nil {
		slog.Error("creditd exited", slog.Any("error", err))
		os.Exit(1)
	}
}

type services struct {
	ledger  *ledger.Ledger
	economy *economy.Engine
	dist    *distribution.Distributor
	flow    *workflow.Engine
	archive *archive.Archive
}

func run(configFile string, snapshotEvery time.Duration) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.Setup("creditd", cfg.Environment, logging.Options{File: cfg.LogFile})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTLPEndpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "creditd",
			Environment: cfg.Environment,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    true,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer func() { _ = db.Close() }()

	policy := distribution.DefaultPolicy()
	if cfg.PolicyFile != "" {
		policies, err := distribution.LoadPolicies(cfg.PolicyFile)
		if err != nil {
			return fmt.Errorf("load policies: %w", err)
		}
		selected, ok := policies[cfg.PolicyName]
		if !ok {
			return fmt.Errorf("policy %q not in %s (have %v)", cfg.PolicyName, cfg.PolicyFile, distribution.PolicyNames(policies))
		}
		policy = selected
	}

	emitter := events.MultiEmitter{observability.Recorder{}}

	led := ledger.New(
		ledger.WithBlockThreshold(cfg.BlockThreshold),
		ledger.WithEmitter(emitter),
	)
	eco := economy.NewEngine(cfg.EconomyParams(),
		economy.WithEmitter(emitter),
		economy.WithLogger(logger),
	)
	dist, err := distribution.New(policy, distribution.WithEmitter(emitter))
	if err != nil {
		return fmt.Errorf("build distributor: %w", err)
	}
	// The marketplace is an external collaborator; it registers its listing
	// view before workflow commands are accepted.
	flow, err := workflow.NewEngine(led, eco, dist, nil, workflow.WithLogger(logger))
	if err != nil {
		return fmt.Errorf("build workflow engine: %w", err)
	}

	svc := &services{ledger: led, economy: eco, dist: dist, flow: flow, archive: archive.New(db)}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddress,
		Handler:      otelhttp.NewHandler(opsRouter(svc, cfg.DataDir, logger), "creditd"),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("creditd listening", slog.String("addr", cfg.ListenAddress))
		errs <- httpServer.ListenAndServe()
	}()
	go snapshotLoop(ctx, svc, snapshotEvery, logger)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			_ = httpServer.Close()
			return err
		}
		if err := archiveSnapshot(svc); err != nil {
			logger.Warn("final snapshot", slog.Any("error", err))
		}
		return nil
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// snapshotLoop periodically seals the pending buffer and archives the chain.
func snapshotLoop(ctx context.Context, svc *services, every time.Duration, logger *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := archiveSnapshot(svc); err != nil {
				logger.Warn("snapshot", slog.Any("error", err))
				continue
			}
			logger.Info("snapshot archived",
				slog.Int("blocks", svc.ledger.BlockCount()),
				slog.Int("pending", svc.ledger.PendingCount()),
			)
		}
	}
}

func archiveSnapshot(svc *services) error {
	svc.ledger.SealBlock()
	snap, err := svc.ledger.Export(0, 0)
	if err != nil {
		return err
	}
	return svc.archive.Save(snap)
}

func opsRouter(svc *services, dataDir string, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"ledger":       svc.ledger.Statistics(),
			"economy":      svc.economy.EconomyStats(),
			"distribution": svc.dist.Stats(),
		})
	})

	r.Get("/verify", func(w http.ResponseWriter, r *http.Request) {
		ok, violations := svc.ledger.VerifyChainIntegrity()
		writeJSON(w, map[string]any{"valid": ok, "violations": violations})
	})

	r.Get("/receipts/{key}", func(w http.ResponseWriter, r *http.Request) {
		receipt, ok := svc.flow.Receipt(chi.URLParam(r, "key"))
		if !ok {
			http.Error(w, "unknown command key", http.StatusNotFound)
			return
		}
		writeJSON(w, receipt)
	})

	r.Post("/snapshot", func(w http.ResponseWriter, r *http.Request) {
		if err := archiveSnapshot(svc); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		snap, err := svc.archive.Latest()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"firstBlock": snap.FirstBlock, "lastBlock": snap.LastBlock})
	})

	r.Post("/export/parquet", func(w http.ResponseWriter, r *http.Request) {
		snap, err := svc.archive.Latest()
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		// LevelDB owns the data directory itself; exports go in a subdir.
		exportDir := filepath.Join(dataDir, "exports")
		if err := os.MkdirAll(exportDir, 0o755); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		path := filepath.Join(exportDir, fmt.Sprintf("events-%d-%d.parquet", snap.FirstBlock, snap.LastBlock))
		if err := archive.ExportParquet(path, snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		logger.Info("parquet exported", slog.String("path", path))
		writeJSON(w, map[string]any{"path": path})
	})

	return r
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("encode response", slog.Any("error", err))
	}
}
