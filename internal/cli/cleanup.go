package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Apply the retention policy once",
	Run:   runCleanup,
}

func init() {
	rootCmd.AddCommand(cleanupCmd)
}

func runCleanup(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	res, err := svc.Engine().Cleanup(ctx)
	if err != nil {
		slog.Error("Cleanup failed", "error", err)
		closeService(svc)
		os.Exit(1)
	}
	fmt.Printf("deleted %d, archived %d, failed %d\n", res.Deleted, res.Archived, res.Failed)
}
