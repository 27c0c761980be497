package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/syssam/exttable"
	"github.com/syssam/exttable/config"
	"github.com/syssam/exttable/datatable"
	"github.com/syssam/exttable/dialect/sql"
)

// app is the state shared by the subcommands once flags are parsed.
type app struct {
	cfgFile string
	cfg     *config.Config
	logger  *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "exttable",
		Short: "Manage runtime-defined extension tables on MySQL and PostgreSQL",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" {
				return nil
			}
			cfg, err := config.Load(a.cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			level, _ := cfg.Level()
			a.cfg = cfg
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (YAML)")
	flags.String("dialect", "", "SQL dialect (mysql|postgres)")
	flags.String("driver", "", "database/sql driver (mysql|postgres|pgx)")
	flags.String("dsn", "", "data source name")
	flags.String("soft-fk", "", "lookup column strategy (constraint|name)")
	flags.Duration("slow-threshold", 0, "log statements slower than this")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.Duration("cache-ttl", 0, "column header cache TTL, 0 disables")

	root.AddCommand(
		newDDLCmd(a),
		newCreateCmd(a),
		newAlterCmd(a),
		newDropCmd(a),
		newDescribeCmd(a),
		newListCmd(a),
		newMigrateCmd(a),
		newEntryCmd(a),
	)
	return root
}

// open connects to the configured database.
func (a *app) open() (*sql.StatsDriver, error) {
	if a.cfg.DSN == "" {
		return nil, errors.New("no dsn configured: set --dsn, EXTTABLE_DSN or dsn in the config file")
	}
	opts := []sql.StatsOption{
		sql.WithSlowThreshold(a.cfg.SlowThreshold),
		sql.WithLogger(a.logger),
		sql.WithSlowQueryLog(),
	}
	if l, err := a.cfg.Level(); err == nil && l <= slog.LevelDebug {
		opts = append(opts, sql.WithStatementLog())
	}
	drv, err := sql.OpenWithStats(a.cfg.DriverName(), a.cfg.DSN, opts...)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.cfg.DriverName(), err)
	}
	return drv, nil
}

// manager opens the database and returns a Manager over it. The returned
// func closes the connection and logs the statement counters.
func (a *app) manager(ctx context.Context) (*datatable.Manager, func(), error) {
	drv, err := a.open()
	if err != nil {
		return nil, nil, err
	}
	opts := []datatable.Option{
		datatable.WithSoftFK(a.cfg.SoftFKStrategy()),
		datatable.WithLogger(a.logger),
	}
	if a.cfg.CacheTTL > 0 {
		opts = append(opts, datatable.WithCache(exttable.NewMemoryCache(), a.cfg.CacheTTL))
	}
	closeFn := func() {
		a.logger.DebugContext(ctx, "statements", "stats", drv.Stats().Snapshot().String())
		if err := drv.Close(); err != nil {
			fmt.Fprintln(os.Stderr, "closing database:", err)
		}
	}
	return datatable.NewManager(drv, opts...), closeFn, nil
}
