package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/ethpandaops/trafficexporter/internal/agent"
	"github.com/ethpandaops/trafficexporter/internal/migrate"
	"github.com/ethpandaops/trafficexporter/internal/version"
)

var (
	cfgFile  string
	logLevel string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trafficexporter",
		Short: "Network traffic counter exporter for Graphite",
		Long: `trafficexporter counts packets per host, per local network and
per direction, then pushes the average speeds to Graphite on a fixed
period. InfluxDB, ClickHouse, NATS and HTTP sinks can receive the same
metrics.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	addConfigFlags(cmd, cmd.Flags())

	cmd.AddCommand(versionCmd())
	cmd.AddCommand(migrateCmd())

	return cmd
}

func addConfigFlags(cmd *cobra.Command, flags *pflag.FlagSet) {
	flags.StringVar(
		&cfgFile, "config", "",
		"path to config file (required)",
	)
	flags.StringVar(
		&logLevel, "log-level", "",
		"override log level (debug, info, warn, error)",
	)

	if err := cobra.MarkFlagRequired(flags, "config"); err != nil {
		fmt.Fprintf(os.Stderr, "error marking flag required on %s: %v\n", cmd.Name(), err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.FullWithPlatform())
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse sink schema",
	}

	addConfigFlags(cmd, cmd.PersistentFlags())

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				return m.Up(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				return m.Down(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current migration version",
			RunE: func(cmd *cobra.Command, _ []string) error {
				m, err := newMigrator()
				if err != nil {
					return err
				}

				v, dirty, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}

				files, err := migrate.Files()
				if err != nil {
					return err
				}

				fmt.Printf("version: %d dirty: %t available: %d\n", v, dirty, len(files)/2)

				return nil
			},
		},
	)

	return cmd
}

func newLogger(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", level, err)
	}

	log.SetLevel(lvl)

	return log, nil
}

func loadConfig() (*agent.Config, error) {
	cfg, err := agent.LoadConfig(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	// CLI flag overrides config file.
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	return cfg, nil
}

func newMigrator() (migrate.Migrator, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	if cfg.Sinks.ClickHouse.Endpoint == "" {
		return nil, errors.New("sinks.clickhouse.endpoint is required for migrations")
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	return migrate.New(log, cfg.Sinks.ClickHouse.DSN()), nil
}

func run(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	a, err := agent.New(log, cfg)
	if err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	log.WithField("version", version.Full()).Info("Starting trafficexporter")

	if err := a.Start(ctx); err != nil {
		_ = a.Stop()

		return fmt.Errorf("starting agent: %w", err)
	}

	<-ctx.Done()

	log.Info("Shutting down trafficexporter")

	if err := a.Stop(); err != nil {
		log.WithError(err).Error("Error during shutdown")
		return fmt.Errorf("stopping agent: %w", err)
	}

	log.Info("Shutdown complete")

	return nil
}
