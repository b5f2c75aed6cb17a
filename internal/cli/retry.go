package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	retryStrategy string
	abandonReason string
)

var retryCmd = &cobra.Command{
	Use:   "retry <message-id>",
	Short: "Run one recovery attempt now",
	Long: `Runs a recovery attempt outside the automatic schedule. Without --strategy
the best matching strategy is used. A failed attempt leaves the message in
manual status.`,
	Args: cobra.ExactArgs(1),
	Run:  runRetry,
}

var abandonCmd = &cobra.Command{
	Use:   "abandon <message-id>",
	Short: "Give up on a message",
	Args:  cobra.ExactArgs(1),
	Run:   runAbandon,
}

func init() {
	retryCmd.Flags().StringVar(&retryStrategy, "strategy", "", "strategy name (see the strategies command)")
	abandonCmd.Flags().StringVar(&abandonReason, "reason", "", "reason recorded in the message notes")

	rootCmd.AddCommand(retryCmd, abandonCmd)
}

func runRetry(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	recovered, err := svc.Engine().ManualRetry(ctx, args[0], retryStrategy)
	if err != nil {
		slog.Error("Retry failed", "id", args[0], "error", err)
		closeService(svc)
		os.Exit(1)
	}
	if recovered {
		fmt.Printf("message %s recovered\n", args[0])
		return
	}
	fmt.Printf("message %s not recovered, left for manual handling\n", args[0])
}

func runAbandon(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	if err := svc.Engine().AbandonMessage(ctx, args[0], abandonReason); err != nil {
		slog.Error("Abandon failed", "id", args[0], "error", err)
		closeService(svc)
		os.Exit(1)
	}
	fmt.Printf("message %s abandoned\n", args[0])
}
