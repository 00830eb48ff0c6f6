package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dhcgn/mapi-to-maildir/backend"
	"github.com/dhcgn/mapi-to-maildir/config"
	"github.com/dhcgn/mapi-to-maildir/dump"
	"github.com/dhcgn/mapi-to-maildir/source"
	"github.com/dhcgn/mapi-to-maildir/sqlitestore"
)

// Formats accepted by convert-store --to.
const (
	formatDump   = "dump"
	formatSQLite = "sqlite"
)

// NewConvertStoreCommand returns the convert-store subcommand, which copies
// any readable store into a YAML dump or a SQLite store database.
func NewConvertStoreCommand() *cobra.Command {
	var (
		to   string
		dest string
	)

	cmd := &cobra.Command{
		Use:   "convert-store",
		Short: "Copy a message store into a YAML dump or SQLite database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadSourceConfig(cmd)
			if err != nil {
				return err
			}
			if dest == "" {
				return fmt.Errorf("--dest is required")
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := slog.Default()

			store, err := backend.Open(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := convertStore(ctx, store, to, dest); err != nil {
				return err
			}
			logger.Info("store converted", "store", store.Name(), "format", to, "dest", dest)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "YAML file with flag values; flags given on the command line take precedence")
	config.RegisterSourceFlags(flags)
	flags.StringVar(&to, "to", formatSQLite, "Output format: dump, sqlite")
	flags.StringVar(&dest, "dest", "", "Path of the file to create")
	return cmd
}

func convertStore(ctx context.Context, store source.Store, to, dest string) error {
	switch to {
	case formatSQLite:
		if _, err := os.Stat(dest); err == nil {
			return fmt.Errorf("%s already exists", dest)
		}
		return sqlitestore.Import(ctx, dest, store)
	case formatDump:
		file, err := os.OpenFile(dest, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("create dump: %w", err)
		}
		if err := dump.Encode(ctx, file, store); err != nil {
			file.Close()
			_ = os.Remove(dest)
			return err
		}
		return file.Close()
	default:
		return fmt.Errorf("invalid --to: %s", to)
	}
}
