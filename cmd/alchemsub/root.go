package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/alchemsub/internal/pipeline"
	"github.com/ajitpratap0/alchemsub/pkg/config"
	"github.com/ajitpratap0/alchemsub/pkg/logger"
	"github.com/ajitpratap0/alchemsub/pkg/observability"
	"github.com/ajitpratap0/alchemsub/pkg/subsampling"
)

// cli holds the state shared by all commands of one root command.
type cli struct {
	v          *viper.Viper
	configFile string
	timeout    time.Duration
}

// flag name to config key
var flagKeys = map[string]string{
	"input":             "input.path",
	"format":            "input.format",
	"input-compression": "input.compression",
	"key-columns":       "input.key_columns",
	"form":              "input.form",
	"output":            "output.path",
	"output-format":     "output.format",
	"compression":       "output.compression",
	"level":             "output.level",
	"codec-compression": "output.codec_compression",
	"batch-size":        "output.batch_size",
	"diagnostics":       "output.diagnostics",
	"lower":             "subsample.lower",
	"upper":             "subsample.upper",
	"step":              "subsample.step",
	"how":               "subsample.how",
	"column":            "subsample.column",
	"conservative":      "subsample.conservative",
	"force":             "subsample.force",
	"seed":              "subsample.seed",
	"workers":           "subsample.workers",
	"min-samples":       "subsample.min_samples",
	"log-level":         "logging.level",
	"log-encoding":      "logging.encoding",
	"metrics-file":      "observability.metrics_file",
	"trace":             "observability.tracing.enabled",
	"trace-output":      "observability.tracing.output",
}

func newRootCmd() *cobra.Command {
	c := &cli{v: config.NewViper()}
	defaults := config.Default()

	root := &cobra.Command{
		Use:   "alchemsub",
		Short: "Subsample alchemical free energy data to uncorrelated samples",
		Long: `alchemsub slices and decorrelates dHdl and u_nk tables from alchemical
free energy simulations. Every lambda state is handled independently.

Example:
  alchemsub statinef -i u_nk.parquet -o u_nk_sub.parquet --how right --diagnostics diag.json`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.configFile, "config", "", "Path to a YAML job configuration")
	pf.DurationVar(&c.timeout, "timeout", 0, "Abort the job after this duration (0 disables)")
	pf.StringP("input", "i", "", "Input table file, or - for stdin")
	pf.String("format", "", "Input format (csv, json, arrow, parquet, avro); detected from the file name when empty")
	pf.String("input-compression", "", "Input stream compression; detected from the file name when empty")
	pf.StringSlice("key-columns", nil, "Key columns of the input: time first, then lambda dimensions")
	pf.String("form", "", "Force the table form (dHdl or u_nk)")
	pf.StringP("output", "o", defaults.Output.Path, "Output table file, or - for stdout")
	pf.String("output-format", "", "Output format; defaults to the output file name, then the input format")
	pf.String("compression", "", "Output stream compression (gzip, zstd, s2, snappy, lz4)")
	pf.String("level", defaults.Output.Level, "Output compression level (fastest, default, better, best)")
	pf.String("codec-compression", "", "Compression inside the format, e.g. zstd for parquet or deflate for avro")
	pf.Int("batch-size", defaults.Output.BatchSize, "Rows per record batch in columnar outputs")
	pf.String("diagnostics", "", "Write per-group statistics as JSON to this file")
	pf.String("log-level", defaults.Logging.Level, "Log level (debug, info, warn, error)")
	pf.String("log-encoding", defaults.Logging.Encoding, "Log encoding (json, console)")
	pf.String("metrics-file", "", "Write Prometheus text metrics to this file after the job")
	pf.Bool("trace", false, "Export OpenTelemetry spans")
	pf.String("trace-output", defaults.Observability.Tracing.Output, "Span destination: stdout, stderr or a file")

	pf.Float64("lower", 0, "Drop rows with time below this value")
	pf.Float64("upper", 0, "Drop rows with time above this value")
	pf.Int("step", defaults.Subsample.Step, "Keep every step-th row of each state after the time window")
	pf.Bool("force", false, "Skip the duplicate time check")
	pf.String("how", defaults.Subsample.How, "Observable selection (auto, right, left, random, sum)")
	pf.String("column", "", "Use this column as the observable")
	pf.Bool("conservative", defaults.Subsample.Conservative, "Subsample with a uniform integer stride")
	pf.Uint64("seed", 0, "Seed of the random observable selection")
	pf.Int("workers", defaults.Subsample.Workers, "Lambda states analysed in parallel")
	pf.Int("min-samples", defaults.Subsample.MinSamples, "States with fewer rows pass through unchanged")

	for name, key := range flagKeys {
		if err := c.v.BindPFlag(key, pf.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}

	root.AddCommand(
		c.subsampleCmd(subsampling.ModeSlicing, "slice", nil,
			"Slice each lambda state by time window and stride"),
		c.subsampleCmd(subsampling.ModeStatisticalInefficiency, "statinef", []string{"statistical-inefficiency"},
			"Subsample each lambda state to its statistical inefficiency"),
		c.subsampleCmd(subsampling.ModeEquilibriumDetection, "equil", []string{"equilibrium-detection"},
			"Drop the equilibration transient of each lambda state, then subsample"),
		c.inspectCmd(),
		versionCmd(),
	)
	return root
}

// loadConfig builds the job configuration: defaults, then the config
// file, then environment variables and changed flags.
func (c *cli) loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if c.configFile != "" {
		var err error
		if cfg, err = config.Load(c.configFile); err != nil {
			return nil, err
		}
	}
	config.ApplyOverrides(c.v, cfg)
	return cfg, nil
}

func (c *cli) context(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	if c.timeout <= 0 {
		return ctx, stop
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	return ctx, func() {
		cancel()
		stop()
	}
}

func (c *cli) subsampleCmd(mode subsampling.Mode, use string, aliases []string, short string) *cobra.Command {
	return &cobra.Command{
		Use:     use,
		Aliases: aliases,
		Short:   short,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			cfg.Subsample.Mode = string(mode)
			return c.runJob(cmd, cfg)
		},
	}
}

func (c *cli) runJob(cmd *cobra.Command, cfg *config.Config) error {
	if err := logger.Init(cfg.Logging); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := c.context(cmd)
	defer cancel()
	ctx = context.WithValue(ctx, logger.RunIDKey, fmt.Sprintf("%x", time.Now().UnixNano()))
	ctx = context.WithValue(ctx, logger.ModeKey, cfg.Subsample.Mode)
	ctx = context.WithValue(ctx, logger.InputKey, cfg.Input.Path)
	log := logger.WithContext(ctx).With(zap.String("component", "alchemsub-cli"))

	shutdown, err := observability.InitTracing(cfg.Observability.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		// flush spans even when the job context was cancelled
		if err := shutdown(context.Background()); err != nil {
			log.Warn("failed to flush traces", zap.Error(err))
		}
	}()

	job, err := pipeline.NewJob(cfg, log,
		pipeline.WithStdin(cmd.InOrStdin()),
		pipeline.WithStdout(cmd.OutOrStdout()))
	if err != nil {
		return err
	}
	report, err := job.Run(ctx)
	if err != nil {
		return err
	}
	if n := len(report.Warnings); n > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "%d lambda state(s) passed through unchanged, see log for details\n", n)
	}
	return nil
}

func (c *cli) inspectCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Show the lambda states, row counts and inferred form of a table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Logging)
			if err != nil {
				return err
			}
			defer func() { _ = log.Sync() }()

			ctx, cancel := c.context(cmd)
			defer cancel()
			summary, err := pipeline.Inspect(ctx, cfg.Input, cmd.InOrStdin(), log)
			if err != nil {
				return err
			}
			if asJSON {
				data, err := json.MarshalIndent(summary, "", "  ")
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
				return err
			}
			return printSummary(cmd, summary)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the summary as JSON")
	return cmd
}

func printSummary(cmd *cobra.Command, s *pipeline.Summary) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "format:  %s\n", s.Format)
	fmt.Fprintf(out, "form:    %s\n", s.Form)
	fmt.Fprintf(out, "rows:    %d\n", s.Rows)
	fmt.Fprintf(out, "keys:    %v\n", s.Keys)
	fmt.Fprintf(out, "columns: %d\n\n", len(s.Columns))

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "STATE\tROWS\tFIRST\tLAST\tDUPLICATES")
	for _, g := range s.Groups {
		fmt.Fprintf(tw, "%s\t%d\t%g\t%g\t%d\n", g.State, g.Rows, g.FirstTime, g.LastTime, g.DuplicateTimes)
	}
	return tw.Flush()
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "alchemsub v%s\n", version)
			fmt.Fprintf(out, "Go version: %s\n", runtime.Version())
			fmt.Fprintf(out, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	}
}
