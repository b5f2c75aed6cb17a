package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/deadletter/internal/core/domain"
)

var (
	listStatus    string
	listProvider  string
	listOperation string
	listSeverity  string
	listSort      string
	listOrder     string
	listLimit     int
	listOffset    int
	showArchived  bool
)

var messagesCmd = &cobra.Command{
	Use:   "messages",
	Short: "List dead-letter messages",
	Run:   runMessages,
}

var showCmd = &cobra.Command{
	Use:   "show <message-id>",
	Short: "Print one message as JSON",
	Args:  cobra.ExactArgs(1),
	Run:   runShow,
}

func init() {
	f := messagesCmd.Flags()
	f.StringVar(&listStatus, "status", "", "filter by status")
	f.StringVar(&listProvider, "provider", "", "filter by provider")
	f.StringVar(&listOperation, "operation", "", "filter by operation type")
	f.StringVar(&listSeverity, "severity", "", "filter by severity")
	f.StringVar(&listSort, "sort", string(domain.SortByCreatedAt), "sort field")
	f.StringVar(&listOrder, "order", string(domain.SortDesc), "sort order (asc, desc)")
	f.IntVar(&listLimit, "limit", 50, "page size")
	f.IntVar(&listOffset, "offset", 0, "page offset")
	showCmd.Flags().BoolVar(&showArchived, "archived", false, "look the message up in the archive")

	rootCmd.AddCommand(messagesCmd, showCmd)
}

func runMessages(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	res, err := svc.Engine().GetMessages(ctx,
		domain.Filter{
			Status:        domain.Status(listStatus),
			Provider:      listProvider,
			OperationType: domain.OperationType(listOperation),
			Severity:      domain.Severity(listSeverity),
		},
		domain.Page{Limit: listLimit, Offset: listOffset},
		domain.Sort{Field: domain.SortField(listSort), Order: domain.SortOrder(listOrder)},
	)
	if err != nil {
		slog.Error("Failed to query messages", "error", err)
		closeService(svc)
		os.Exit(1)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tOPERATION\tPROVIDER\tCATEGORY\tSEVERITY\tSTATUS\tRETRIES\tNEXT RETRY")
	for _, m := range res.Messages {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			m.ID,
			m.OperationType,
			m.Provider,
			m.Classification.Category,
			m.Classification.Severity,
			m.Resolution.Status,
			m.Recovery.CurrentRetryCount, m.Recovery.MaxAutoRetries,
			formatTime(m.Recovery.NextRetryAt),
		)
	}
	_ = w.Flush()
	fmt.Printf("%d of %d messages\n", len(res.Messages), res.Total)
}

func runShow(cmd *cobra.Command, args []string) {
	ctx := context.Background()
	svc := openService(ctx)
	defer closeService(svc)

	get := svc.Engine().GetMessage
	if showArchived {
		get = svc.Engine().GetArchivedMessage
	}
	m, err := get(ctx, args[0])
	if err != nil {
		slog.Error("Failed to load message", "id", args[0], "error", err)
		closeService(svc)
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(m)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.RFC3339)
}
