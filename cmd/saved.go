package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jpequegn/iceberg-lakehouse/queries"
)

var savedCmd = &cobra.Command{
	Use:   "saved",
	Short: "Manage saved queries and execution history",
}

var savedAddCmd = &cobra.Command{
	Use:   "add NAME SQL",
	Short: "Save a named query",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		description, _ := cmd.Flags().GetString("description")
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		if err := lh.Saved().Save(args[0], args[1], description); err != nil {
			return err
		}
		fmt.Printf("saved query %s\n", args[0])
		return nil
	},
}

var savedListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved queries",
	RunE: func(cmd *cobra.Command, args []string) error {
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		for _, q := range lh.Saved().List() {
			fmt.Printf("%-20s %s\n", q.Name, q.SQL)
			if q.Description != "" {
				fmt.Printf("%-20s   %s\n", "", q.Description)
			}
		}
		return nil
	},
}

var savedRunCmd = &cobra.Command{
	Use:   "run NAME",
	Short: "Run a saved query and record it in history",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		q, err := lh.Saved().Get(args[0])
		if err != nil {
			return err
		}

		rs, execErr := lh.Query().Execute(cmd.Context(), q.SQL, nil)
		entry := queries.HistoryEntry{SQL: q.SQL, SavedName: q.Name}
		if execErr != nil {
			entry.Err = execErr.Error()
		} else {
			entry.Rows = len(rs.Rows)
			entry.Elapsed = rs.Elapsed
		}
		if err := lh.Saved().AddHistory(entry); err != nil {
			return err
		}
		if execErr != nil {
			return execErr
		}
		return printRows(rs, asJSON)
	},
	Args: cobra.ExactArgs(1),
}

var savedDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Delete a saved query",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		if err := lh.Saved().Delete(args[0]); err != nil {
			return err
		}
		fmt.Printf("deleted saved query %s\n", args[0])
		return nil
	},
}

var savedHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent query executions, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		clear, _ := cmd.Flags().GetBool("clear")
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		if clear {
			if err := lh.Saved().ClearHistory(); err != nil {
				return err
			}
			fmt.Println("history cleared")
			return nil
		}
		for _, e := range lh.Saved().History(limit) {
			status := fmt.Sprintf("%d rows in %s", e.Rows, e.Elapsed)
			if e.Err != "" {
				status = "failed: " + e.Err
			}
			fmt.Printf("%s  %-30s %s\n", e.RanAt.Format(time.RFC3339), status, e.SQL)
		}
		return nil
	},
}

func init() {
	savedAddCmd.Flags().String("description", "", "optional description")
	savedRunCmd.Flags().Bool("json", false, "emit rows as a JSON array instead of JSON lines")
	savedHistoryCmd.Flags().Int("limit", 20, "number of entries to show")
	savedHistoryCmd.Flags().Bool("clear", false, "clear the history instead of showing it")

	savedCmd.AddCommand(savedAddCmd)
	savedCmd.AddCommand(savedListCmd)
	savedCmd.AddCommand(savedRunCmd)
	savedCmd.AddCommand(savedDeleteCmd)
	savedCmd.AddCommand(savedHistoryCmd)
}
