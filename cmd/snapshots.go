package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots TABLE",
	Short: "List a table's snapshots, newest first",
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
		seq, err := lh.Catalog().ListSnapshots(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for snap := range seq {
			marker := " "
			if snap.SnapshotID == meta.CurrentSnapshot {
				marker = "*"
			}
			op := snap.Summary["operation"]
			ts := time.UnixMilli(snap.TimestampMS).UTC().Format(time.RFC3339)
			fmt.Printf("%s %-20d %s %8d rows  %s\n", marker, snap.SnapshotID, ts, snap.TotalRecords, op)
		}
		return nil
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback TABLE",
	Short: "Roll a table back to an earlier snapshot",
	Long: `Makes the given snapshot current again without deleting any history.
The next write parents at the rollback target, starting a new lineage.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snapshotID, _ := cmd.Flags().GetInt64("snapshot")
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		meta, err := lh.Catalog().Rollback(cmd.Context(), args[0], snapshotID)
		if err != nil {
			return err
		}
		cur := meta.CurrentSnapshotRef()
		fmt.Printf("%s rolled back to snapshot %d (%d rows)\n", args[0], snapshotID, cur.TotalRecords)
		return nil
	},
}

var expireCmd = &cobra.Command{
	Use:   "expire TABLE",
	Short: "Expire old snapshots and delete their unreferenced files",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		retain, _ := cmd.Flags().GetInt("retain-last")
		lh, err := openLakehouse(cmd.Context())
		if err != nil {
			return err
		}
		res, err := lh.Catalog().ExpireSnapshots(cmd.Context(), args[0], retain)
		if err != nil {
			return err
		}
		fmt.Printf("expired %d snapshots from %s (%d remaining, %d data files deleted)\n",
			res.Expired, args[0], res.Remaining, res.DataFilesDeleted)
		return nil
	},
}

func init() {
	rollbackCmd.Flags().Int64("snapshot", 0, "snapshot ID to roll back to (required)")
	_ = rollbackCmd.MarkFlagRequired("snapshot")

	expireCmd.Flags().Int("retain-last", 1, "number of newest snapshots to retain")
}
