package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	lakehouse "github.com/jpequegn/iceberg-lakehouse"
	"github.com/jpequegn/iceberg-lakehouse/tracing"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "lakehouse",
	Short: "Local-first versioned tables with SQL, time travel, and format conversion",
	Long: `lakehouse manages versioned tables stored as Parquet or Arrow IPC files
under a local warehouse directory. Every write produces a new immutable
snapshot, so any past table state can be queried, rolled back to, or
expired. Queries run through DuckDB with full SQL.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger()
	},
	SilenceUsage: true,
}

// Execute is called by main.go and is the entry point for the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: <warehouse>/lakehouse.yaml)")
	rootCmd.PersistentFlags().String("warehouse", ".", "warehouse directory")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("log-format", "text", "log format: text, json")

	mustBindPFlag("warehouse", rootCmd.PersistentFlags().Lookup("warehouse"))
	mustBindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(tablesCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(insertCmd)
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(snapshotsCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(expireCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(savedCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	viper.SetEnvPrefix("LAKEHOUSE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

// openLakehouse opens the warehouse named by --warehouse (or the
// LAKEHOUSE_WAREHOUSE env var) with the standard option set.
func openLakehouse(ctx context.Context) (*lakehouse.Lakehouse, error) {
	warehouse := viper.GetString("warehouse")

	opts := []lakehouse.Option{lakehouse.WithLogger(slog.Default())}
	if cfgFile != "" {
		opts = append(opts, lakehouse.WithConfigPath(cfgFile))
	}
	return lakehouse.Open(ctx, warehouse, opts...)
}

func setupLogger() error {
	level := viper.GetString("log_level")
	format := viper.GetString("log_format")

	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "info":
		slogLevel = slog.LevelInfo
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		return fmt.Errorf("unknown log level: %q (expected debug, info, warn, error)", level)
	}

	opts := &slog.HandlerOptions{Level: slogLevel}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("unknown log format: %q (expected text, json)", format)
	}

	slog.SetDefault(slog.New(tracing.NewTracingHandler(handler)))
	return nil
}

func mustBindPFlag(key string, flag *pflag.Flag) {
	if err := viper.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("viper.BindPFlag(%q): %v", key, err))
	}
}
