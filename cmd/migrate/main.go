package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"climatecloud/internal/config"
	"climatecloud/internal/db"
	"climatecloud/internal/logging"
	"climatecloud/internal/migrate"
)

var version = "dev"

const appName = "climatecloud-migrate"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <command>\n  migrate  apply pending schema migrations\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logging.New(cfg.LogLevel, cfg.AppEnv, version, appName))

	switch os.Args[1] {
	case "migrate":
		if err := run(context.Background(), cfg); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	conn, err := db.Open(ctx, cfg, slog.Default())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			slog.Error("db close", "err", closeErr)
		}
	}()

	n, err := migrate.Run(ctx, conn)
	if err != nil {
		return err
	}
	fmt.Printf("%d migrations applied to %s\n", n, cfg.SQLitePath)
	return nil
}
