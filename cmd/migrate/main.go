package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketgate.org/internal/migrate"
	"marketgate.org/internal/obs"
)

type settings struct {
	DSN string `env:"MARKETGATE_PG_DSN"`
}

func main() {
	log := obs.NewLogger("info", "console", zapcore.Lock(os.Stderr))
	obs.SetLogger(log)

	var s settings
	if err := env.Parse(&s); err != nil {
		log.Fatal("parse env", zap.Error(err))
	}
	var (
		dsn   = flag.String("dsn", s.DSN, "PostgreSQL DSN")
		seeds = flag.String("seeds", "", "Directory of SQL seed files")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or MARKETGATE_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		log.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var opts []migrate.Option
	if *seeds != "" {
		opts = append(opts, migrate.WithSeeds(os.DirFS(*seeds)))
	}
	mgr := migrate.NewManager(db, nil, opts...)

	cmd := flag.Arg(0)
	switch cmd {
	case "up":
		var applied []string
		applied, err = mgr.Up(ctx)
		for _, name := range applied {
			log.Info("applied", zap.String("migration", name))
		}
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if errors.Is(err, migrate.ErrNothingApplied) {
			log.Info("nothing to roll back")
			err = nil
		} else if err == nil {
			log.Info("rolled back", zap.String("migration", name))
		}
	case "seed":
		var applied []string
		applied, err = mgr.Seed(ctx)
		for _, name := range applied {
			log.Info("seeded", zap.String("seed", name))
		}
	case "status":
		var history []string
		history, err = mgr.Status(ctx)
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		log.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
}
