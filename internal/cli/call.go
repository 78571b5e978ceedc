package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/vietddude/invoker/internal/core/request"
	"github.com/vietddude/invoker/internal/logsink"
	"github.com/vietddude/invoker/internal/pipeline"
)

var (
	callQuery   string
	callBody    string
	callHeaders []string
	callRetries int
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call <service>",
	Short: "Call a configured service once and print the result",
	Args:  cobra.ExactArgs(1),
	Run:   runCall,
}

func init() {
	callCmd.Flags().StringVar(&callQuery, "query", "", "query string to send")
	callCmd.Flags().StringVar(&callBody, "body", "", "request body")
	callCmd.Flags().StringArrayVarP(&callHeaders, "header", "H", nil, "extra header as Key: Value (repeatable)")
	callCmd.Flags().IntVar(&callRetries, "retries", -1, "override the retry count")
	callCmd.Flags().DurationVar(&callTimeout, "timeout", 0, "overall deadline for the call")
	rootCmd.AddCommand(callCmd)
}

func callUpdates() ([]request.Update, error) {
	var updates []request.Update
	if callQuery != "" {
		updates = append(updates, request.WithQuery(callQuery))
	}
	if callBody != "" {
		updates = append(updates, request.WithBody(callBody))
	}
	for _, h := range callHeaders {
		key, value, ok := strings.Cut(h, ":")
		if !ok {
			return nil, fmt.Errorf("invalid header %q, want Key: Value", h)
		}
		updates = append(updates, request.WithHeader(strings.TrimSpace(key), strings.TrimSpace(value)))
	}
	if callRetries >= 0 {
		updates = append(updates, request.WithRetries(callRetries))
	}
	return updates, nil
}

func runCall(cmd *cobra.Command, args []string) {
	if code := callService(args[0]); code != 0 {
		os.Exit(code)
	}
}

// callService runs the call and returns the process exit code. All cleanup
// has run by the time it returns.
func callService(service string) int {
	cfg := loadConfig()

	updates, err := callUpdates()
	if err != nil {
		slog.Error("Invalid flags", "error", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if callTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, callTimeout)
		defer cancel()
	}

	app := newApp(ctx, cfg)
	defer func() {
		_ = app.Close()
	}()
	app.Start(ctx)

	out, err := app.Invoke(ctx, service, updates...)
	return reportOutcome(os.Stdout, os.Stderr, service, out, err)
}

// reportOutcome prints the outcome of a call and maps it to an exit code:
// 0 on success, 1 when the call could not run, 2 when it failed.
func reportOutcome(stdout, stderr io.Writer, service string, out pipeline.Outcome, err error) int {
	if err != nil {
		slog.Error("Call failed", "service", service, "error", err)
		return 1
	}

	switch o := out.(type) {
	case pipeline.Success:
		slog.Info("Call succeeded", "service", service, "call_id", o.Attempt.CallID, "attempt", o.Attempt.Ordinal)
		_, _ = fmt.Fprintln(stdout, logsink.Verbose(o.Value))
		return 0
	case pipeline.TerminalFailure:
		var callErr *pipeline.CallError
		if errors.As(o.Err, &callErr) {
			printChain(stderr, callErr.Chain.Nodes())
		}
		slog.Error("Call failed", "service", service, "error", o.Err)
		return 2
	default:
		slog.Error("Call failed", "service", service, "error", fmt.Errorf("unexpected outcome %T", out))
		return 1
	}
}
