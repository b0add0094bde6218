package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/mutate"
)

var insertCmd = &cobra.Command{
	Use:   "insert TABLE",
	Short: "Append rows to a table from a JSON file or stdin",
	Long: `Reads rows as a JSON array of objects from the file given by --rows
(or stdin when --rows is "-") and appends them as a new snapshot:

  lakehouse insert events --rows rows.json
  echo '[{"id": 1, "name": "a"}]' | lakehouse insert events --rows -`,
	Args: cobra.ExactArgs(1),
	RunE: runInsert,
}

func init() {
	insertCmd.Flags().String("rows", "", "path to JSON rows file, or - for stdin (required)")
	insertCmd.Flags().String("format", "", "write format override: parquet or arrow")
	insertCmd.Flags().Bool("compact", false, "write with maximum compression")
	_ = insertCmd.MarkFlagRequired("rows")
}

func runInsert(cmd *cobra.Command, args []string) error {
	rowsPath, _ := cmd.Flags().GetString("rows")
	formatName, _ := cmd.Flags().GetString("format")
	compact, _ := cmd.Flags().GetBool("compact")

	var raw []byte
	var err error
	if rowsPath == "-" {
		raw, err = io.ReadAll(os.Stdin)
	} else {
		raw, err = os.ReadFile(rowsPath)
	}
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}

	var rows []convert.Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		return fmt.Errorf("parse rows (expected a JSON array of objects): %w", err)
	}

	lh, err := openLakehouse(cmd.Context())
	if err != nil {
		return err
	}
	res, err := lh.Mutate().Insert(cmd.Context(), args[0], rows,
		mutate.WriteOptions{Format: formatName, Compact: compact})
	if err != nil {
		return err
	}
	fmt.Printf("inserted %d rows into %s (snapshot %d)\n", res.Affected, res.Table.Name, res.SnapshotID)
	return nil
}
