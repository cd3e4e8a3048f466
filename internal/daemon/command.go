package daemon

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/celerix-dev/celerix-userman/internal/config"
	"github.com/celerix-dev/celerix-userman/internal/engine"
)

// NewRootCommand creates the celerix-stored command. Without a subcommand
// it serves.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "celerix-stored",
		Short:         "Serve the user-management ledger over TCP and HTTP",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	cmd.AddCommand(&cobra.Command{
		Use:           "serve",
		Short:         "Serve the ledger (default)",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	})
	cmd.AddCommand(NewMigrateCommand())

	return cmd
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := config.NewLogger(os.Stderr, cfg.LogLevel)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting celerix-stored", "backend", cfg.Backend)

	d, err := New(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	return d.Run(cmd.Context())
}

// MigrateOptions holds flags for the migrate command.
type MigrateOptions struct {
	From string
	To   string
}

// NewMigrateCommand copies every channel, audit trail included, from one
// backend to another.
func NewMigrateCommand() *cobra.Command {
	opts := &MigrateOptions{}

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy all channels from one backend to another",
		Long: `Copy all channels from one backend to another.

Paths come from the usual environment: CELERIX_DATA_DIR for memory snapshots,
CELERIX_SQLITE_PATH for SQLite and DATABASE_URL for Postgres.

Example:
  celerix-stored migrate --from memory --to sqlite`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.From == opts.To {
				return fmt.Errorf("--from and --to must differ")
			}
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			src, err := OpenBackend(cmd.Context(), cfg, opts.From, logger)
			if err != nil {
				return err
			}
			defer src.Close()

			dst, err := OpenBackend(cmd.Context(), cfg, opts.To, logger)
			if err != nil {
				return err
			}
			defer dst.Close()

			n, err := engine.Migrate(src, dst)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrated %d entries from %s to %s\n", n, opts.From, opts.To)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", config.BackendMemory, "source backend (memory|sqlite|postgres)")
	cmd.Flags().StringVar(&opts.To, "to", config.BackendSQLite, "destination backend (memory|sqlite|postgres)")

	return cmd
}
