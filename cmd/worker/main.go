package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/RaghavMadan07/Agri/internal/config"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/queue"
	"github.com/RaghavMadan07/Agri/internal/store/pg"
	"github.com/RaghavMadan07/Agri/internal/supervisor"
	"github.com/RaghavMadan07/Agri/internal/worker"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		log := obs.Logger()
		log.Fatal().Err(err).Msg("agri-worker exited")
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required (AGRI_DATABASE_DSN or DATABASE_URL)")
	}

	obs.InitLogging(obs.LogConfig{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	obs.Init()
	obs.InitBuildInfo("agri-worker", version, commit)
	log := obs.Logger().With().Str("service", "agri-worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := pg.Open(cfg.Database.DSN, pg.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	wmLog := obs.NewWatermillLogger(log)

	// the worker never provisions streams; it waits for the api to do so
	nc, js, err := queue.Connect(cfg.Queue.URL, cfg.Queue, wmLog)
	if err != nil {
		return err
	}
	defer nc.Close()
	topology, err := queue.NewTopology(js, cfg.Queue)
	if err != nil {
		return err
	}

	jsPub, err := queue.NewNATSPublisher(cfg.Queue, cfg.Queue.URL, wmLog)
	if err != nil {
		return err
	}
	defer jsPub.Close()

	var procOpts []worker.Option
	if cfg.Queue.FusionTopic != "" {
		procOpts = append(procOpts, worker.WithFusion(jsPub, cfg.Queue.FusionTopic))
	}
	processor := worker.NewProcessor(db, worker.NewHTTPAnalyzer(cfg.Worker.MLURL, cfg.Worker.Timeout), log, procOpts...)
	routerCfg := queue.RouterConfigFrom(cfg.Queue)

	buildRouter := func() (*message.Router, error) {
		checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := topology.Check(checkCtx); err != nil {
			return nil, fmt.Errorf("work stream not ready: %w", err)
		}
		sub, err := queue.NewNATSSubscriber(cfg.Queue, cfg.Queue.URL, wmLog)
		if err != nil {
			return nil, err
		}
		router, err := queue.NewRouter(routerCfg, jsPub, wmLog)
		if err != nil {
			_ = sub.Close()
			return nil, err
		}
		router.AddConsumerHandler("analyze-submission", cfg.Queue.Topic, sub, processor.Handle)
		return router, nil
	}

	tree := supervisor.NewTree("agri-worker", log, supervisor.DefaultTreeConfig())
	tree.AddMessaging(supervisor.NewRouterService(buildRouter))
	if cfg.Worker.MetricsAddr != "" {
		tree.AddAPI(supervisor.NewHTTPService(metricsServer(cfg.Worker.MetricsAddr, db, topology), 5*time.Second))
	}

	log.Info().
		Str("version", version).
		Str("topic", cfg.Queue.Topic).
		Str("ml_url", cfg.Worker.MLURL).
		Int("max_retries", cfg.Queue.MaxRetries).
		Msg("starting agri-worker")

	err = tree.Serve(ctx)
	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			log.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	if !supervisor.IsShutdown(err) {
		return err
	}
	log.Info().Msg("stopped")
	return nil
}

type checker interface {
	Check(ctx context.Context) error
}

// metricsServer exposes /metrics and a liveness/readiness pair for the
// orchestrator.
func metricsServer(addr string, deps ...checker) *http.Server {
	r := chi.NewRouter()
	r.Method(http.MethodGet, "/metrics", obs.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()
		for _, d := range deps {
			if err := d.Check(ctx); err != nil {
				obs.SetReady(false)
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		obs.SetReady(true)
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
