package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/RaghavMadan07/Agri/internal/auth"
	"github.com/RaghavMadan07/Agri/internal/config"
	"github.com/RaghavMadan07/Agri/internal/filestore"
	"github.com/RaghavMadan07/Agri/internal/httpapi"
	"github.com/RaghavMadan07/Agri/internal/ingest"
	"github.com/RaghavMadan07/Agri/internal/migrate"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/queue"
	"github.com/RaghavMadan07/Agri/internal/reconcile"
	"github.com/RaghavMadan07/Agri/internal/store/pg"
	"github.com/RaghavMadan07/Agri/internal/supervisor"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := run(); err != nil {
		log := obs.Logger()
		log.Fatal().Err(err).Msg("agri-api exited")
	}
}

func run() error {
	// .env is optional; real deployments set the environment directly
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
	obs.InitBuildInfo("agri-api", version, commit)
	log := obs.Logger().With().Str("service", "agri-api").Logger()

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

	if cfg.Database.AutoMigrate {
		mgr, err := migrate.NewManager(db.DB())
		if err != nil {
			return err
		}
		if err := mgr.Up(ctx); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		log.Info().Msg("migrations applied")
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Secret,
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
	)
	if err != nil {
		return err
	}
	authSvc := auth.NewService(auth.NewPGStore(db.DB()), issuer, auth.WithBcryptCost(cfg.Auth.BcryptCost))

	files, err := filestore.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	wmLog := obs.NewWatermillLogger(log)
	natsURL := cfg.Queue.URL
	if cfg.Queue.Embedded {
		ns, err := queue.StartEmbedded(cfg.Queue.StoreDir, embeddedPort(cfg.Queue.URL))
		if err != nil {
			return fmt.Errorf("start embedded nats: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = ns.Shutdown(shutdownCtx)
		}()
		natsURL = ns.ClientURL()
		log.Info().Str("url", natsURL).Msg("embedded nats started")
	}

	nc, js, err := queue.Connect(natsURL, cfg.Queue, wmLog)
	if err != nil {
		return err
	}
	defer nc.Close()

	topology, err := queue.NewTopology(js, cfg.Queue)
	if err != nil {
		return err
	}
	ensureCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	err = topology.Ensure(ensureCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("provision streams: %w", err)
	}

	natsPub, err := queue.NewNATSPublisher(cfg.Queue, natsURL, wmLog)
	if err != nil {
		return err
	}
	pub := queue.NewPublisher(natsPub, cfg.Queue.Topic, queue.DefaultBreakerConfig(), wmLog)
	defer pub.Close()

	ingestSvc := ingest.NewService(files, db, pub, ingest.WithLogger(log))

	probe := httpapi.NewReadyProbe(2*time.Second).
		Add("database", db).
		Add("queue", topology)
	api := httpapi.New(authSvc, ingestSvc, probe, httpapi.OptionsFrom(cfg.Server, version))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	tree := supervisor.NewTree("agri-api", log, supervisor.DefaultTreeConfig())
	tree.AddAPI(supervisor.NewHTTPService(srv, 10*time.Second))
	if cfg.Server.GRPCAddr != "" {
		tree.AddAPI(supervisor.NewGRPCService(httpapi.NewGRPCServer(probe), cfg.Server.GRPCAddr))
	}
	tree.AddMessaging(reconcile.NewSweeper(db, pub, reconcile.Config{
		Interval:     cfg.Reconcile.Interval,
		StaleAfter:   cfg.Reconcile.StaleAfter,
		BatchSize:    cfg.Reconcile.BatchSize,
		MaxRepublish: cfg.Reconcile.MaxRepublish,
	}, log))

	log.Info().
		Str("version", version).
		Str("addr", srv.Addr).
		Str("grpc_addr", cfg.Server.GRPCAddr).
		Str("storage", cfg.Storage.Backend).
		Msg("starting agri-api")

	return serve(ctx, tree, log)
}

// serve runs the tree until ctx ends and reports services that did not stop.
func serve(ctx context.Context, tree *supervisor.Tree, log zerolog.Logger) error {
	err := tree.Serve(ctx)
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

// embeddedPort takes the listen port from the configured client URL so that
// separately started workers can reach the embedded server.
func embeddedPort(raw string) int {
	u, err := url.Parse(raw)
	if err != nil || u.Port() == "" {
		return 4222
	}
	p, err := strconv.Atoi(u.Port())
	if err != nil {
		return 4222
	}
	return p
}
