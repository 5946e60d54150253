package cmd

import (
	"fmt"
	"os"

	"github.com/markb/pgcall/internal/db"
	"github.com/markb/pgcall/internal/log"
	"github.com/spf13/cobra"
)

// Version information set via ldflags at build time
var (
	Version   = "dev"
	BuildTime = ""
	GitCommit = ""
)

var rootCmd = &cobra.Command{
	Use:     "pgcall",
	Short:   "Describe and call PostgreSQL functions",
	Long:    `Looks up stored function signatures in the PostgreSQL catalog and calls them with bound arguments.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(buildLogConfig(cmd))
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.SetVersionTemplate("pgcall version {{.Version}}\n")

	flags := rootCmd.PersistentFlags()
	flags.String("database-url", "", "PostgreSQL connection URL (env PGCALL_DATABASE_URL)")
	flags.String("driver", "", "database/sql driver: pgx or postgres (env PGCALL_DRIVER)")
	flags.String("log-level", "", "Log level: debug, info, warn, error (env PGCALL_LOG_LEVEL)")
	flags.String("log-format", "", "Log format: text or json (env PGCALL_LOG_FORMAT)")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildLogConfig creates a log.Config from environment variables and CLI flags.
// Priority: CLI flags > environment variables > defaults
func buildLogConfig(cmd *cobra.Command) *log.Config {
	cfg := log.DefaultConfig()

	if level := os.Getenv("PGCALL_LOG_LEVEL"); level != "" {
		cfg.Level = level
	}
	if format := os.Getenv("PGCALL_LOG_FORMAT"); format != "" {
		cfg.Format = format
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Level = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.Format = format
	}
	return cfg
}

// buildDBConfig creates a db.Config from environment variables and CLI flags.
// Priority: CLI flags > environment variables > defaults
func buildDBConfig(cmd *cobra.Command) (*db.Config, error) {
	cfg := db.DefaultConfig()

	if url := os.Getenv("PGCALL_DATABASE_URL"); url != "" {
		cfg.URL = url
	}
	if driver := os.Getenv("PGCALL_DRIVER"); driver != "" {
		cfg.Driver = driver
	}

	if url, _ := cmd.Flags().GetString("database-url"); url != "" {
		cfg.URL = url
	}
	if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
		cfg.Driver = driver
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("no database URL: pass --database-url or set PGCALL_DATABASE_URL")
	}
	return cfg, nil
}

// openDB connects using the command's configuration.
func openDB(cmd *cobra.Command) (*db.DB, error) {
	cfg, err := buildDBConfig(cmd)
	if err != nil {
		return nil, err
	}
	database, err := db.New(cmd.Context(), cfg)
	if err != nil {
		return nil, err
	}
	log.Debug("connected to database", "driver", cfg.Driver)
	return database, nil
}
