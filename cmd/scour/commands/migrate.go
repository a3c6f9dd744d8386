package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scourlab/scour/internal/config"
	"github.com/scourlab/scour/internal/ledger"
)

// Migration directions accepted by the migrate command.
const (
	migrateUp     = "up"
	migrateDown   = "down"
	migrateStatus = "status"
)

// ErrUnknownMigrateDirection indicates a direction argument outside
// up, down, or status.
var ErrUnknownMigrateDirection = errors.New("unknown migrate direction")

// NewMigrateCommand creates the ledger schema migration command.
func NewMigrateCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "migrate [up|down|status]",
		Short: "Apply ledger schema migrations",
		Long: `Run the embedded goose migrations against the configured ledger.
Without an argument all pending migrations are applied; "down" rolls back
the most recent one and "status" prints the version table.`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			direction, err := resolveMigrateDirection(args)
			if err != nil {
				return err
			}

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			ctx := cmd.Context()

			store, err := ledger.Open(ctx, cfg.Ledger.URL, cfg.Ledger.MaxOpenConns, cfg.Ledger.MaxIdleConns)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			switch direction {
			case migrateDown:
				return store.MigrateDown(ctx)
			case migrateStatus:
				return store.MigrateStatus(ctx)
			default:
				return store.Migrate(ctx)
			}
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", configFlagUsage)

	return cmd
}

// resolveMigrateDirection defaults to "up" and rejects anything outside
// the known set before a database connection is attempted.
func resolveMigrateDirection(args []string) (string, error) {
	if len(args) == 0 {
		return migrateUp, nil
	}

	switch args[0] {
	case migrateUp, migrateDown, migrateStatus:
		return args[0], nil
	default:
		return "", fmt.Errorf("%w: %q (expected up, down, or status)", ErrUnknownMigrateDirection, args[0])
	}
}
