package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpequegn/iceberg-lakehouse/catalog"
)

var tablesCmd = &cobra.Command{
	Use:   "tables",
	Short: "List, create, describe, and drop tables",
}

var tablesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tables in the warehouse",
	RunE: func(cmd *cobra.Command, args []string) error {
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		names, err := lh.Catalog().ListTables(cmd.Context())
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var tablesCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a table from a JSON schema file",
	Long: `Creates a table whose schema is read from the file given by --schema,
a JSON document of the form:

  {"fields": [{"name": "id", "type": "long", "required": true},
              {"name": "name", "type": "string"}]}

Field types: long, double, string, boolean, timestamp, date.`,
	Args: cobra.ExactArgs(1),
	RunE: runTablesCreate,
}

var tablesDescribeCmd = &cobra.Command{
	Use:   "describe NAME",
	Short: "Print a table's schema, snapshot count, and properties",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		meta, err := lh.Catalog().LoadTable(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		cur := meta.CurrentSnapshotRef()
		fmt.Printf("table:     %s\n", meta.Identifier())
		fmt.Printf("uuid:      %s\n", meta.TableUUID)
		fmt.Printf("location:  %s\n", meta.Location)
		fmt.Printf("snapshots: %d (current %d, %d rows)\n",
			len(meta.Snapshots), meta.CurrentSnapshot, cur.TotalRecords)
		fmt.Println("schema:")
		for _, f := range meta.CurrentSchema().Fields {
			req := ""
			if f.Required {
				req = " required"
			}
			fmt.Printf("  %3d  %-20s %s%s\n", f.ID, f.Name, f.Type, req)
		}
		if len(meta.Properties) > 0 {
			fmt.Println("properties:")
			for k, v := range meta.Properties {
				fmt.Printf("  %s = %s\n", k, v)
			}
		}
		return nil
	},
}

var tablesDropCmd = &cobra.Command{
	Use:   "drop NAME",
	Short: "Drop a table and delete its files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		if err := lh.Catalog().DropTable(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Printf("dropped %s\n", args[0])
		return nil
	},
}

func init() {
	tablesCreateCmd.Flags().String("schema", "", "path to JSON schema file (required)")
	_ = tablesCreateCmd.MarkFlagRequired("schema")

	tablesCmd.AddCommand(tablesListCmd)
	tablesCmd.AddCommand(tablesCreateCmd)
	tablesCmd.AddCommand(tablesDescribeCmd)
	tablesCmd.AddCommand(tablesDropCmd)
}

func runTablesCreate(cmd *cobra.Command, args []string) error {
	schemaPath, _ := cmd.Flags().GetString("schema")

	raw, err := os.ReadFile(schemaPath)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	var schema catalog.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return fmt.Errorf("parse schema file %s: %w", schemaPath, err)
	}

	lh, err := openLakehouse(cmd.Context())
	if err != nil {
		return err
	}
	meta, err := lh.Catalog().CreateTable(cmd.Context(), args[0], schema, nil)
	if err != nil {
		return err
	}
	fmt.Printf("created %s at %s\n", meta.Identifier(), meta.Location)
	return nil
}
