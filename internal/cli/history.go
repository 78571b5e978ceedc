package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/vietddude/invoker/internal/core/domain"
)

var historyCmd = &cobra.Command{
	Use:   "history <call-id>",
	Short: "Show the recorded attempts and error chain of a call",
	Args:  cobra.ExactArgs(1),
	Run:   runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) {
	if err := showHistory(args[0]); err != nil {
		slog.Error("Failed to load call", "call_id", args[0], "error", err)
		os.Exit(1)
	}
}

func showHistory(callID string) error {
	cfg := loadConfig()

	ctx := context.Background()
	app := newApp(ctx, cfg)
	defer func() {
		_ = app.Close()
	}()

	attempts, chain, err := app.History(ctx, callID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ATTEMPT\tSERVICE\tERRORS_BEFORE\tDURATION")
	for _, a := range attempts {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", a.Ordinal, a.ServiceID, a.PriorErrors, a.Duration())
	}
	_ = w.Flush()

	if chain != nil {
		fmt.Println()
		printChain(os.Stdout, chain.Nodes())
	}
	return nil
}

func printChain(out io.Writer, nodes []domain.ErrorNode) {
	w := tabwriter.NewWriter(out, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ORDINAL\tSTEP\tID\tPARENT\tDETAIL")
	for _, n := range nodes {
		parent := string(n.ParentID)
		if n.IsRoot() {
			parent = "-"
		}
		_, _ = fmt.Fprintf(w, "%d/%d\t%s\t%s\t%s\t%s\n", n.Ordinal, n.MaxAttempts, n.Step, n.ID, parent, n.Detail)
	}
	_ = w.Flush()
}
