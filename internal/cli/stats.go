package cli

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/deadletter/internal/core/domain"
)

var alertsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show message counts and recovery rates",
	Run:   runStats,
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Show recent alerts",
	Run:   runAlerts,
}

func init() {
	alertsCmd.Flags().IntVar(&alertsLimit, "limit", 20, "number of alerts")
	rootCmd.AddCommand(statsCmd, alertsCmd)
}

func runStats(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	st, err := svc.Engine().GetStats(ctx)
	if err != nil {
		slog.Error("Failed to compute stats", "error", err)
		closeService(svc)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintf(w, "TOTAL\t%d\n", st.Total)
	for _, s := range domain.Statuses {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", s, st.ByStatus[s])
	}
	writeCounts(w, "provider", st.ByProvider)
	writeCounts(w, "category", st.ByCategory)
	writeCounts(w, "operation", st.ByOperationType)
	_, _ = fmt.Fprintf(w, "ARCHIVED\t%d\n", st.Archived)
	_, _ = fmt.Fprintf(w, "AUTO RECOVERY RATE\t%.1f%%\n", st.AutoRecoveryRate*100)
	_, _ = fmt.Fprintf(w, "MANUAL RATE\t%.1f%%\n", st.ManualInterventionRate*100)
	_, _ = fmt.Fprintf(w, "AVG RESOLUTION\t%s\n", st.AverageResolutionTime.Round(time.Second))
	if st.Skipped > 0 {
		_, _ = fmt.Fprintf(w, "SKIPPED (corrupt)\t%d\n", st.Skipped)
	}
	_ = w.Flush()
}

func writeCounts[K ~string](w *tabwriter.Writer, label string, counts map[K]int) {
	for _, k := range slices.Sorted(maps.Keys(counts)) {
		_, _ = fmt.Fprintf(w, "%s:%s\t%d\n", label, k, counts[k])
	}
}

func runAlerts(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	alerts, err := svc.Engine().GetAlerts(ctx, alertsLimit)
	if err != nil {
		slog.Error("Failed to load alerts", "error", err)
		closeService(svc)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "TIME\tTYPE\tSEVERITY\tMESSAGE")
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.Timestamp.Local().Format(time.RFC3339), a.Type, a.Severity, a.Message)
	}
	_ = w.Flush()
}
