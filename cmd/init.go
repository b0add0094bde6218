package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	lakehouse "github.com/jpequegn/iceberg-lakehouse"
	"github.com/jpequegn/iceberg-lakehouse/format"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialise a warehouse directory with a default config file",
	Long: `Creates the warehouse directory if it does not exist and writes a
lakehouse.yaml with the default write format. Running init on an existing
warehouse is safe; an existing config file is left untouched.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().String("format", string(format.Parquet), "default write format: parquet or arrow")
}

func runInit(cmd *cobra.Command, args []string) error {
	warehouse := viper.GetString("warehouse")
	defFormat, _ := cmd.Flags().GetString("format")

	f, err := format.Parse(defFormat)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(warehouse, 0o755); err != nil {
		return fmt.Errorf("create warehouse directory: %w", err)
	}

	cfgPath := filepath.Join(warehouse, lakehouse.ConfigFileName)
	if _, err := os.Stat(cfgPath); err == nil {
		fmt.Printf("warehouse %s already initialised (%s exists)\n", warehouse, lakehouse.ConfigFileName)
		return nil
	}

	cfg, err := format.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.SetDefaultFormat(f); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("initialised warehouse %s (default format: %s)\n", warehouse, f)
	return nil
}
