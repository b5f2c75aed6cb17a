package cli

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the recovery strategies enabled by the configuration",
	Run:   runStrategies,
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}

func runStrategies(cmd *cobra.Command, args []string) {
	svc := openService(context.Background())
	defer closeService(svc)

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "NAME\tPRIORITY\tDELAY\tMAX RETRIES\tDESCRIPTION")
	for _, s := range svc.Engine().Registry().List() {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", s.Name(), s.Priority(), s.RetryDelay(), s.MaxRetries(), s.Description())
	}
	_ = w.Flush()
}
