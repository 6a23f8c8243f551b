package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/RaghavMadan07/Agri/internal/migrate"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/store/pg"
)

func defaultDSN() string {
	if v := os.Getenv("AGRI_DATABASE_DSN"); v != "" {
		return v
	}
	return os.Getenv("DATABASE_URL")
}

func main() {
	_ = godotenv.Load()
	obs.InitLogging(obs.LogConfig{Level: "info", Format: "console", Output: os.Stderr})
	log := obs.Logger()

	dsn := flag.String("dsn", defaultDSN(), "PostgreSQL DSN")
	flag.Parse()

	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn, AGRI_DATABASE_DSN or DATABASE_URL")
	}
	if len(flag.Args()) == 0 {
		log.Fatal().Msg("usage: migrate [up|down|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store, err := pg.Open(*dsn, pg.PoolConfig{MaxOpenConns: 2, MaxIdleConns: 1})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	mgr, err := migrate.NewManager(store.DB())
	if err != nil {
		log.Fatal().Err(err).Msg("init migrations")
	}

	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		if err == nil {
			for _, item := range history {
				fmt.Println(item)
			}
		}
	default:
		log.Fatal().Str("command", flag.Arg(0)).Msg("unknown command")
	}
	if err != nil {
		log.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
	log.Info().Str("command", flag.Arg(0)).Msg("done")
}
