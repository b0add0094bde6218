package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpequegn/iceberg-lakehouse/format"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show and change format configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the default format and per-table overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		cfg := lh.Config()
		if def, ok := cfg.DefaultFormat(); ok {
			fmt.Printf("default: %s\n", def)
		} else {
			fmt.Printf("default: %s (built-in fallback)\n", format.Parquet)
		}
		for _, ts := range cfg.TableSettings() {
			fmt.Printf("%s: %s\n", ts.Name, ts.Format)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set FORMAT",
	Short: "Set the default format, or a table's format with --table",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, _ := cmd.Flags().GetString("table")
		f, err := format.Parse(args[0])
		if err != nil {
			return err
		}
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		if table == "" {
			if err := lh.Config().SetDefaultFormat(f); err != nil {
				return err
			}
			fmt.Printf("default format set to %s\n", f)
			return nil
		}
		if err := lh.Config().SetTableFormat(table, f); err != nil {
			return err
		}
		fmt.Printf("format for %s set to %s\n", table, f)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:   "unset",
	Short: "Remove a table's format override",
	RunE: func(cmd *cobra.Command, args []string) error {
		table, _ := cmd.Flags().GetString("table")
		if table == "" {
			return fmt.Errorf("--table is required")
		}
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		if err := lh.Config().RemoveTableFormat(table); err != nil {
			return err
		}
		fmt.Printf("format override for %s removed\n", table)
		return nil
	},
}

func init() {
	configSetCmd.Flags().String("table", "", "table to set the format for (default: the warehouse default)")
	configUnsetCmd.Flags().String("table", "", "table to remove the override for (required)")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}
