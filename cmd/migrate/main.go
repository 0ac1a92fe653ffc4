package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/angelmondragon/greenbasket-backend/pkg/config"
	"github.com/angelmondragon/greenbasket-backend/pkg/db"
	"github.com/angelmondragon/greenbasket-backend/pkg/logger"
	"github.com/angelmondragon/greenbasket-backend/pkg/migrate"
)

const usage = `usage: migrate [flags] <up|down|status|to VERSION|create NAME|validate>

  up, down, status and to run against GREENBASKET_DB_* (postgres only).
  create and validate only touch files.
`

func main() {
	dir := flag.String("dir", "", "migrations directory; empty uses the set embedded in this binary")
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, arg := flag.Arg(0), flag.Arg(1)

	// file-only commands need no config
	switch cmd {
	case "create":
		if arg == "" {
			fail("create needs a NAME")
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.CreateSQLMigration(target, arg)
		if err != nil {
			fail("create: %v", err)
		}
		fmt.Println("created", path)
		return
	case "validate":
		if err := migrate.Validate(migrate.Source(*dir)); err != nil {
			fail("validation failed:\n%v", err)
		}
		fmt.Println("migrations valid")
		return
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fail("load config: %v", err)
	}
	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Environment: cfg.App.Env,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{"cmd": cmd, "dir": *dir})

	if cfg.DB.Driver == "sqlite" {
		fail("goose migrations target postgres; sqlite schemas are built with GREENBASKET_AUTO_MIGRATE")
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "failed to connect database", err)
		os.Exit(1)
	}
	defer dbClient.Close()
	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "failed to extract sql.DB", err)
		os.Exit(1)
	}
	runner, err := migrate.NewRunner(sqlDB, migrate.Source(*dir))
	if err != nil {
		logg.Error(ctx, "failed to build migration runner", err)
		os.Exit(1)
	}

	if err := run(ctx, runner, cmd, arg); err != nil {
		logg.Error(ctx, "migration failed", err)
		os.Exit(1)
	}
	logg.Info(ctx, "migration finished")
}

func run(ctx context.Context, runner *migrate.Runner, cmd, arg string) error {
	switch cmd {
	case "up":
		applied, err := runner.Up(ctx)
		for _, v := range applied {
			fmt.Println("applied", v)
		}
		return err
	case "down":
		v, err := runner.Down(ctx)
		if err == nil && v != 0 {
			fmt.Println("rolled back", v)
		}
		return err
	case "status":
		states, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range states {
			mark := "pending"
			if s.Applied {
				mark = "applied"
			}
			fmt.Printf("%-8s %d %s\n", mark, s.Version, s.Path)
		}
		return nil
	case "to":
		target, err := strconv.ParseInt(arg, 10, 64)
		if err != nil {
			return fmt.Errorf("to needs a YYYYMMDDHHMMSS version, got %q", arg)
		}
		return runner.To(ctx, target)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
