// Command vidbotctl is the operator tool for the vidbot database and queues.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Proton-105/vidbot/internal/database"
	"github.com/Proton-105/vidbot/pkg/config"
	"github.com/Proton-105/vidbot/pkg/logger"
)

var Version = "dev"

// env is what every subcommand needs: validated config, a logger and the pool.
type env struct {
	cfg *config.Config
	log *slog.Logger
	db  *sql.DB
}

func openEnv(ctx context.Context) (*env, error) {
	cfg, _, err := config.Load()
	if err != nil {
		return nil, err
	}

	log := logger.New(*cfg)
	db, err := database.Open(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &env{cfg: cfg, log: log, db: db}, nil
}

func (e *env) Close() {
	if err := e.db.Close(); err != nil {
		e.log.Warn("closing database", slog.Any("error", err))
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:           "vidbotctl",
		Short:         "Operate the vidbot payment store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(pendingCmd())
	rootCmd.AddCommand(cancelCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
