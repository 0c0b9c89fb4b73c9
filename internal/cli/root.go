package cli

import (
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stride/internal/config"
	"github.com/dukerupert/stride/internal/database"
	"github.com/dukerupert/stride/internal/logging"
)

// RootOptions holds the loaded configuration plus global flag overrides.
type RootOptions struct {
	DBPath   string
	LogLevel string

	Config *config.Config
	Logger *slog.Logger
}

// NewRootCommand creates the stride command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "stride",
		Short: "Stride - habits and tasks",
		Long:  "Stride is a habit and task tracking service with plan-based entitlements.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.DBPath != "" {
				cfg.DBPath = opts.DBPath
			}
			if opts.LogLevel != "" {
				cfg.LogLevel = opts.LogLevel
			}
			opts.Config = cfg
			opts.Logger = logging.Setup(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "database path (overrides STRIDE_DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level: debug, info, warn, error")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewImportCommand(opts))
	cmd.AddCommand(NewVAPIDKeysCommand())
	cmd.AddCommand(NewSetPlanCommand(opts))

	return cmd
}

func (o *RootOptions) openDB() (*sql.DB, error) {
	db, err := database.Open(o.Config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", o.Config.DBPath, err)
	}
	return db, nil
}
