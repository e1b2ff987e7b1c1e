package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/batch"
	"github.com/dquang-mevn/purchase-search-ui/pkg/metrics"
	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"github.com/dquang-mevn/purchase-search-ui/pkg/tabular"
	"github.com/fatih/color"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Run flags
var (
	outputPath  string
	previewRows int
	metricsAddr string
	noProgress  bool
)

var (
	bold   = color.New(color.Bold)
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
)

var runCmd = &cobra.Command{
	Use:   "run <input.csv>",
	Short: "Annotate every keyword of a CSV file",
	Long: `Reads a CSV file, extracts one keyword per row (column keyword, keywords,
query, search, title or name, else the first non-empty cell), removes
duplicates and annotates each keyword.

Results are written as CSV with the columns keyword followed by the output
schema. Interrupting the run writes the results gathered so far; keywords
that were not reached have empty fields.

Example:
  annotator run keywords.csv -o analysis-results.csv --rate 16 --workers 8`,
	Args: cobra.ExactArgs(1),
	RunE: runAnnotate,
}

func init() {
	runCmd.Flags().StringVarP(&outputPath, "output", "o", "analysis-results.csv", `Output CSV file ("-" for stdout)`)
	runCmd.Flags().IntVar(&previewRows, "preview", 10, "Rows to print as a table after the run (0 disables)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address during the run")
	runCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the progress bar")
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	keywords, err := readKeywords(args[0])
	if err != nil {
		return err
	}
	log.Info().
		Str("input", args[0]).
		Int("keywords", len(keywords)).
		Msg("Loaded keywords")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if metricsAddr != "" {
		shutdown := serveMetrics(metricsAddr)
		defer shutdown()
	}

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	var progress batch.ProgressFunc
	var bar *progressbar.ProgressBar
	if !noProgress {
		bar = makeProgressBar(len(keywords), cmd.ErrOrStderr())
		progress = func(completed, total int) {
			_ = bar.Set(completed)
		}
	}

	records, stats, runErr := p.run(ctx, keywords, progress)
	if bar != nil {
		_ = bar.Finish()
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, context.DeadlineExceeded) {
		return runErr
	}

	if err := writeOutput(cmd.OutOrStdout(), outputPath, p, records); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputPath == "-" {
		// Keep stdout clean CSV.
		out = cmd.ErrOrStderr()
	}
	if previewRows > 0 {
		fmt.Fprintln(out)
		if err := tabular.RenderTable(out, p.schema, records, previewRows); err != nil {
			log.Warn().Err(err).Msg("Failed to render preview")
		}
	}
	printSummary(out, stats, outputPath)

	if runErr != nil {
		return fmt.Errorf("run interrupted: %w", runErr)
	}
	return nil
}

func readKeywords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	rows, err := tabular.Load(f)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	keywords := tabular.Dedupe(tabular.ExtractKeywords(rows))
	if len(keywords) == 0 {
		return nil, tabular.ErrNoKeywords
	}
	return keywords, nil
}

func writeOutput(stdout io.Writer, path string, p *pipeline, records []result.Record) error {
	if path == "-" {
		return tabular.WriteCSV(stdout, p.schema, records)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	if err := tabular.WriteCSV(f, p.schema, records); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}

	log.Info().Str("output", path).Int("records", len(records)).Msg("Results written")
	return nil
}

func makeProgressBar(total int, w io.Writer) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("Analyzing"),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWriter(w),
		progressbar.OptionThrottle(65*time.Millisecond),
		progressbar.OptionClearOnFinish(),
	)
}

func printSummary(w io.Writer, stats batch.Stats, path string) {
	fmt.Fprintln(w)
	bold.Fprintln(w, "Summary")
	fmt.Fprintf(w, "  Keywords:  %d\n", stats.Total)
	green.Fprintf(w, "  Succeeded: %d\n", stats.Succeeded)
	if stats.Cached > 0 {
		fmt.Fprintf(w, "  Cached:    %d\n", stats.Cached)
	}
	if stats.Failed > 0 {
		red.Fprintf(w, "  Failed:    %d (empty records)\n", stats.Failed)
	}
	if stats.Skipped > 0 {
		yellow.Fprintf(w, "  Skipped:   %d (run interrupted)\n", stats.Skipped)
	}
	fmt.Fprintf(w, "  Duration:  %s\n", stats.Duration.Round(time.Millisecond))
	if path != "-" {
		fmt.Fprintf(w, "  Output:    %s\n", path)
	}
}

// serveMetrics exposes /metrics on addr until the returned func is called.
func serveMetrics(addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("Metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("Serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
