// Sibyl is a multi-tenant dashboard backend for AI assistants.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	appconfig "github.com/sibylhq/sibyl/internal/infra/config"
	"github.com/sibylhq/sibyl/internal/infra/sqlite"
	"github.com/sibylhq/sibyl/internal/server"
	"github.com/sibylhq/sibyl/internal/version"
)

const shutdownTimeout = 10 * time.Second

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("sibyl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}

	if *showHelp {
		printHelp(out)
		return 0
	}

	switch fs.Arg(0) {
	case "migrate":
		return runMigrate(out)
	case "", "serve":
		return runServe(out)
	default:
		fmt.Fprintf(out, "unknown command %q\n\n", fs.Arg(0)) //nolint:errcheck
		printHelp(out)
		return 2
	}
}

func runMigrate(out io.Writer) int {
	cfg, err := appconfig.Load()
	if err != nil {
		fmt.Fprintf(out, "config: %v\n", err) //nolint:errcheck
		return 1
	}

	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(out, "database: %v\n", err) //nolint:errcheck
		return 1
	}
	defer db.Close()

	current, err := sqlite.MigrationVersion(db)
	if err != nil {
		fmt.Fprintf(out, "migration version: %v\n", err) //nolint:errcheck
		return 1
	}
	fmt.Fprintf(out, "database %s at migration version %d\n", cfg.DBPath, current) //nolint:errcheck
	return 0
}

func runServe(out io.Writer) int {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(out, "logger: %v\n", err) //nolint:errcheck
		return 1
	}
	defer logger.Sync() //nolint:errcheck

	cfg, err := appconfig.Load()
	if err != nil {
		logger.Error("config load failed", zap.Error(err))
		return 1
	}

	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		logger.Error("database open failed", zap.Error(err))
		return 1
	}

	serverCfg := server.DefaultConfig()
	serverCfg.Host = cfg.Host
	serverCfg.Port = cfg.Port

	srv, err := server.NewServer(db, serverCfg, cfg, logger)
	if err != nil {
		logger.Error("server init failed", zap.Error(err))
		db.Close() //nolint:errcheck
		return 1
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", zap.Error(err))
			return 1
		}
	case sig := <-stop:
		logger.Info("signal received", zap.String("signal", sig.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
		return 1
	}
	return 0
}

func printHelp(out io.Writer) {
	helpText := `Sibyl - AI assistant dashboard backend

Usage:
  sibyl [options] [command]

Options:
  --version    Show version information
  --help       Show this help message

Commands:
  serve        Start the server (default)
  migrate      Apply database migrations and report the schema version

Examples:
  sibyl --version
  sibyl serve
  sibyl migrate`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
