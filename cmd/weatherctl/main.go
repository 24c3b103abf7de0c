// Command weatherctl applies store migrations and publishes generated
// readings to an external source for local runs.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"weatherlive/internal/config"
	"weatherlive/internal/db"
	"weatherlive/internal/logging"
	"weatherlive/internal/migrate"
)

const usage = `usage: weatherctl <command> [flags]
  migrate  apply pending migrations to SQLITE_PATH / DB_DSN
  publish  push generated readings to an external source
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	// A .env file is optional; variables already set win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg, "dev", "weatherctl")
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "migrate":
		err = runMigrate(ctx, cfg, logger)
	case "publish":
		err = runPublish(ctx, cfg, logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func runMigrate(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	conn, err := db.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(conn); closeErr != nil {
			logger.Error("db close", "err", closeErr)
		}
	}()

	if err := migrate.Run(ctx, conn, logger); err != nil {
		return err
	}
	fmt.Println("migrations applied")
	return nil
}

func runPublish(ctx context.Context, cfg config.Config, logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("publish", flag.ContinueOnError)
	target := fs.String("url", cfg.SourceURL, "source URL (mqtt://, tcp://, nats://, redis://)")
	stream := fs.String("stream", cfg.SourceStream, "topic, subject or stream key")
	interval := fs.Duration("interval", 2*time.Second, "delay between readings")
	count := fs.Int("count", 0, "readings to publish, 0 for no limit")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pub, err := newPublisher(*target, *stream, cfg.SourceClientID+"-publisher", logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := pub.Close(); closeErr != nil {
			logger.Warn("publisher close", "err", closeErr)
		}
	}()

	return publishLoop(ctx, pub, nil, *interval, *count, logger)
}
