package main

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/httpscope/httpscope/pkg/capture"
	"github.com/httpscope/httpscope/pkg/exchange"
)

func newRequestCmd(flags *rootFlags) *cobra.Command {
	var (
		method   string
		headers  []string
		data     string
		showBody bool
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request URL",
		Short: "Issue a request through the tap and print the captured exchange",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.loadSettings()
			if err != nil {
				return err
			}

			tap, err := capture.New(capture.Options{
				Settings: settings,
				Logger:   flags.logger(),
			})
			if err != nil {
				return err
			}
			if err := tap.Start(); err != nil {
				return err
			}
			defer func() { _ = tap.Stop() }()

			updates, unsubscribe := tap.Subscribe()
			defer unsubscribe()
			<-updates // initial snapshot

			var body io.Reader
			if data != "" {
				body = strings.NewReader(data)
			}
			req, err := http.NewRequest(strings.ToUpper(method), args[0], body)
			if err != nil {
				return err
			}
			for _, h := range headers {
				parts := strings.SplitN(h, ":", 2)
				if len(parts) != 2 {
					return fmt.Errorf("invalid header %q, want \"Name: value\"", h)
				}
				req.Header.Set(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
			}

			client := tap.Client()
			client.Timeout = timeout
			resp, err := client.Do(req)
			if err == nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()
			}

			rec := waitForRecord(updates, 5*time.Second)
			if rec == nil {
				if err != nil {
					return err
				}
				return fmt.Errorf("request completed but no exchange was captured (check ignore prefixes)")
			}
			printRecord(cmd.OutOrStdout(), rec, showBody)
			return nil
		},
	}

	cmd.Flags().StringVarP(&method, "method", "X", "GET", "HTTP method")
	cmd.Flags().StringArrayVarP(&headers, "header", "H", nil, "request header (repeatable)")
	cmd.Flags().StringVarP(&data, "data", "d", "", "request body")
	cmd.Flags().BoolVar(&showBody, "body", true, "print formatted bodies")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	return cmd
}

// waitForRecord drains store snapshots until one carries a record or the
// deadline passes.
func waitForRecord(updates <-chan []*exchange.Record, wait time.Duration) *exchange.Record {
	deadline := time.After(wait)
	for {
		select {
		case snap := <-updates:
			if len(snap) > 0 {
				return snap[0]
			}
		case <-deadline:
			return nil
		}
	}
}

func printRecord(w io.Writer, rec *exchange.Record, showBody bool) {
	fmt.Fprintf(w, "%s %s\n", rec.Method, rec.URL())
	switch rec.State() {
	case exchange.StateCompleted:
		status, _ := rec.StatusCode()
		fmt.Fprintf(w, "  status:         %d\n", status)
		fmt.Fprintf(w, "  classification: %s\n", rec.Classification())
		fmt.Fprintf(w, "  duration:       %s\n", rec.Duration().Round(time.Millisecond))
	case exchange.StateFailed:
		fmt.Fprintf(w, "  failed:         %s\n", rec.FailReason())
	}
	fmt.Fprintf(w, "  curl:           %s\n", rec.Curl)
	if showBody {
		if body := rec.RequestBody(); body != "" {
			fmt.Fprintf(w, "\nrequest body:\n%s\n", body)
		}
		if body := rec.ResponseBody(); body != "" {
			fmt.Fprintf(w, "\nresponse body:\n%s\n", body)
		}
	}
}
