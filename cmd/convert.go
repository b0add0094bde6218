package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jpequegn/iceberg-lakehouse/convert"
	"github.com/jpequegn/iceberg-lakehouse/format"
)

var convertCmd = &cobra.Command{
	Use:   "convert SRC DST",
	Short: "Convert a data file between Parquet and Arrow IPC",
	Long: `Converts SRC to DST in the format given by --to. The source format is
detected from the file itself. Conversion is lossless: values, nulls, and
column order survive a roundtrip.

With --inspect and a single argument, prints file metadata instead:

  lakehouse convert --inspect data.parquet`,
	Args: func(cmd *cobra.Command, args []string) error {
		if inspect, _ := cmd.Flags().GetBool("inspect"); inspect {
			return cobra.ExactArgs(1)(cmd, args)
		}
		return cobra.ExactArgs(2)(cmd, args)
	},
	RunE: runConvert,
}

func init() {
	convertCmd.Flags().String("to", "", "target format: parquet or arrow")
	convertCmd.Flags().Bool("compact", false, "write with maximum compression")
	convertCmd.Flags().Bool("inspect", false, "print file metadata and exit")
}

func runConvert(cmd *cobra.Command, args []string) error {
	inspect, _ := cmd.Flags().GetBool("inspect")
	if inspect {
		info, err := convert.Inspect(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("path:        %s\n", info.Path)
		fmt.Printf("format:      %s\n", info.Format)
		fmt.Printf("rows:        %d\n", info.Rows)
		fmt.Printf("size:        %d bytes\n", info.SizeBytes)
		fmt.Printf("compression: %s\n", info.Compression)
		fmt.Println("columns:")
		for _, c := range info.Columns {
			fmt.Printf("  %-20s %s\n", c.Name, c.Type)
		}
		return nil
	}

	targetName, _ := cmd.Flags().GetString("to")
	compact, _ := cmd.Flags().GetBool("compact")
	if targetName == "" {
		return fmt.Errorf("--to is required (parquet or arrow)")
	}
	target, err := format.Parse(targetName)
	if err != nil {
		return err
	}

	res, err := convert.ConvertFile(cmd.Context(), args[0], args[1], target, compact)
	if err != nil {
		return err
	}
	fmt.Printf("converted %d rows: %s (%d bytes) -> %s (%d bytes)\n",
		res.Rows, args[0], res.InputSize, args[1], res.OutputSize)
	return nil
}
