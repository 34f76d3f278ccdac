package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"stampede/internal/config"
	"stampede/internal/controller"
	"stampede/internal/history"
	"stampede/internal/logging"
	"stampede/internal/progress"
	"stampede/internal/promexport"
	"stampede/internal/report"
)

type runOptions struct {
	ConfigPath  string
	TargetURL   string
	VUs         int
	Duration    time.Duration
	Output      string
	Quiet       bool
	Verbose     bool
	Seed        int64
	MetricsAddr string
	HistoryPath string
	LogLevel    string
	LogFormat   string
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run --config <file>",
		Short: "Run a load test and print the summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runLoadTest(cmd.Context(), cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file (required)")
	f.StringVar(&opts.TargetURL, "target-url", "", "base URL of the system under test (overrides TARGET_URL and baseURL)")
	f.IntVar(&opts.VUs, "vus", 0, "replace the stage profile with a constant number of VUs (needs --duration)")
	f.DurationVar(&opts.Duration, "duration", 0, "replace the stage profile with a constant load for this long")
	f.StringVarP(&opts.Output, "output", "o", "text", "summary format: text, json")
	f.BoolVarP(&opts.Quiet, "quiet", "q", false, "suppress the live progress line")
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "log every request and response")
	f.Int64Var(&opts.Seed, "seed", 0, "seed for scenario selection and template functions (0 keeps the config value)")
	f.StringVar(&opts.MetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.StringVar(&opts.HistoryPath, "history", "", "append the run summary to this history file")
	f.StringVar(&opts.LogLevel, "log-level", "", "log level (default from STAMPEDE_LOG_LEVEL or info)")
	f.StringVar(&opts.LogFormat, "log-format", "", "log format: text, json (default from STAMPEDE_LOG_FORMAT or text)")
	_ = cmd.MarkFlagRequired("config")

	return cmd
}

func configError(err error) error {
	return &exitError{code: ExitError, err: err}
}

func runLoadTest(ctx context.Context, cmd *cobra.Command, opts runOptions) error {
	stdout, stderr := cmd.OutOrStdout(), cmd.ErrOrStderr()

	if opts.Output != "text" && opts.Output != "json" {
		return configError(fmt.Errorf("--output must be 'text' or 'json', got %q", opts.Output))
	}
	if (opts.VUs > 0) != (opts.Duration > 0) {
		return configError(errors.New("--vus and --duration must be used together"))
	}

	if _, err := config.LoadEnv([]string{".env", ".env.local"}); err != nil {
		return configError(fmt.Errorf("loading .env: %w", err))
	}
	env, err := config.ParseEnv()
	if err != nil {
		return configError(fmt.Errorf("environment: %w", err))
	}
	level, format := firstNonEmpty(opts.LogLevel, env.LogLevel), firstNonEmpty(opts.LogFormat, env.LogFormat)
	if opts.Verbose {
		level = "debug"
	}

	logger, err := logging.New(level, format, stderr)
	if err != nil {
		return configError(err)
	}

	cfg, err := config.LoadConfig(opts.ConfigPath)
	if err != nil {
		return configError(err)
	}
	if opts.VUs > 0 {
		cfg.OverrideDuration(opts.VUs, opts.Duration)
	}
	if opts.Seed != 0 {
		cfg.Execution.Seed = opts.Seed
	}
	baseURL := cfg.ResolveBaseURL(opts.TargetURL, env)

	ctrl, err := controller.New(cfg, controller.Options{
		Log:     logrus.NewEntry(logger),
		Verbose: opts.Verbose,
	})
	if err != nil {
		return configError(err)
	}
	log := logger.WithField("run_id", ctrl.RunID())

	prog := progress.NewProgress(ctrl.Aggregator(), ctrl.ActiveVUs, opts.Quiet || opts.Output == "json")
	prog.SetOutput(stderr)
	logger.SetOutput(prog.Writer())

	log.WithFields(logrus.Fields{
		"name":     cfg.Name,
		"target":   baseURL,
		"duration": cfg.TotalDuration().String(),
		"max_vus":  cfg.MaxTarget(),
	}).Info("starting load test")

	if opts.MetricsAddr != "" {
		reg := promexport.NewRegistry(promexport.NewCollector(ctrl.Aggregator(), ctrl.ActiveVUs))
		srv, err := promexport.Listen(opts.MetricsAddr, reg, log)
		if err != nil {
			return configError(fmt.Errorf("metrics listener: %w", err))
		}
		srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := srv.Serve(srvCtx); err != nil {
				log.WithError(err).Warn("metrics server stopped")
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	prog.Start()
	rep, runErr := ctrl.Run(ctx)
	prog.Stop()
	logger.SetOutput(stderr)

	if rep == nil {
		return configError(runErr)
	}
	summary := rep.Summary()
	if err := writeSummary(stdout, opts.Output, summary); err != nil {
		return configError(err)
	}

	if opts.HistoryPath != "" {
		if err := saveHistory(opts.HistoryPath, summary); err != nil {
			log.WithError(err).Warn("could not save run history")
		}
	}

	if runErr != nil {
		return configError(runErr)
	}
	if ctx.Err() != nil {
		log.Warn("run interrupted")
	}
	if rep.Verdict != nil && !rep.Verdict.Passed {
		if opts.Output == "text" {
			fmt.Fprintln(stderr, "\nThreshold check failed!")
		}
		return &exitError{code: ExitThresholdFailed}
	}
	return nil
}

func writeSummary(w io.Writer, format string, s *report.Summary) error {
	if format == "json" {
		return report.FormatJSON(w, s)
	}
	report.FormatText(w, s)
	return nil
}

func saveHistory(path string, s *report.Summary) error {
	store, err := history.Open(path)
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(history.NewRecord(s))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
