package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"tenantgate.io/internal/migrate"
	"tenantgate.io/internal/obs"
	"tenantgate.io/migrations"
)

func main() {
	_ = godotenv.Load()
	var (
		dsn     = flag.String("dsn", os.Getenv("PG_DSN"), "PostgreSQL DSN")
		dir     = flag.String("dir", "", "Read migrations from this directory instead of the embedded set")
		timeout = flag.Duration("timeout", 60*time.Second, "Overall timeout")
	)
	flag.Parse()

	logger := obs.NewLogger(os.Getenv("APP_ENV"), os.Getenv("LOG_LEVEL"), os.Stderr)
	defer func() { _ = logger.Sync() }()

	if *dsn == "" {
		logger.Fatal("missing DSN: provide via -dsn or PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal("usage: migrate [up|down|seed|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := sql.Open("pgx", *dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	var fsys fs.FS = migrations.FS
	if *dir != "" {
		fsys = os.DirFS(*dir)
	}
	mgr := migrate.NewManager(db, fsys, migrations.SQLDir, migrations.SeedsDir, migrate.WithLogger(logger))

	cmd := flag.Arg(0)
	var names []string
	switch cmd {
	case "up":
		names, err = mgr.Up(ctx)
	case "down":
		var name string
		if name, err = mgr.Down(ctx); err == nil {
			names = []string{name}
		}
	case "seed":
		names, err = mgr.Seed(ctx)
	case "status":
		names, err = mgr.Status(ctx)
	case "pending":
		names, err = mgr.Pending(ctx)
	default:
		logger.Fatal("unknown command", zap.String("command", cmd))
	}
	if err != nil {
		logger.Fatal("migrate failed", zap.String("command", cmd), zap.Error(err))
	}
	for _, name := range names {
		fmt.Println(name)
	}
}
