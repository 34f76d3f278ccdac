package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"stampede/testserver"
)

func newTestServerCmd() *cobra.Command {
	var (
		addr string
		opts testserver.Options
	)

	cmd := &cobra.Command{
		Use:   "testserver",
		Short: "Serve a local stand-in for the cat/dog voting app",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.FailPercent < 0 || opts.FailPercent > 100 {
				return &exitError{code: ExitError, err: fmt.Errorf("--fail-percent must be within 0-100, got %d", opts.FailPercent)}
			}
			return serveTestServer(cmd.Context(), cmd, addr, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&addr, "addr", "localhost:8080", "address to listen on")
	f.StringVar(&opts.Environment, "environment", "development", "environment shown on the page")
	f.StringVar(&opts.ClusterType, "cluster-type", "local", "cluster type shown on the page")
	f.IntVar(&opts.FailPercent, "fail-percent", 0, "answer this percentage of app requests with 500")
	f.DurationVar(&opts.Latency, "latency", 0, "delay every app request")
	f.BoolVar(&opts.NoOnPrem, "no-onprem", false, "answer /onprem/ with 404")
	return cmd
}

func serveTestServer(ctx context.Context, cmd *cobra.Command, addr string, opts testserver.Options) error {
	out := cmd.OutOrStdout()
	srv := &http.Server{
		Addr:              addr,
		Handler:           testserver.NewServer(opts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	fmt.Fprintln(out, "stampede voting app test server")
	fmt.Fprintf(out, "Listening on http://%s\n\n", addr)
	fmt.Fprintln(out, "Endpoints:")
	fmt.Fprintln(out, "  GET  /                  - Voting page")
	fmt.Fprintln(out, "  GET  /onprem/           - On-premises route")
	fmt.Fprintln(out, "  POST /vote              - Cast a vote {\"vote\":\"cat\"|\"dog\"}")
	fmt.Fprintln(out, "  GET  /results           - Current tally")
	fmt.Fprintln(out, "  GET  /health, /ready    - Probes")
	fmt.Fprintln(out, "  GET  /status/{code}     - Return a specific status code")
	fmt.Fprintln(out, "  GET  /delay/{ms}        - Delay the response")
	fmt.Fprintln(out)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	fmt.Fprintln(out, "Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
