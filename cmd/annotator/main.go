// Command annotator annotates search keywords with brand, normalized brand
// and category using a Gemini model, under a fixed concurrency and
// calls-per-second budget.
package main

import (
	"fmt"
	"os"

	"github.com/dquang-mevn/purchase-search-ui/internal/config"
	"github.com/dquang-mevn/purchase-search-ui/pkg/logging"
	"github.com/dquang-mevn/purchase-search-ui/pkg/ratelimit"
	"github.com/spf13/cobra"
)

// Set at build time with -ldflags "-X main.version=...".
var version = "dev"

// Global flags
var (
	configPath string
	apiKey     string
	workers    int
	rate       int
	strategy   string
	useCache   bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "annotator",
	Short: "Rate-limited batch keyword annotation",
	Long: `annotator sends every keyword of a CSV file to a Gemini model and
collects brand, normalizedBrand and category for each one.

At most --workers calls are in flight and at most --rate calls start in
any one-second window. A failed keyword gets an empty record; the batch
never aborts on a single failure.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "Gemini API key (or set GEMINI_API_KEY)")
	rootCmd.PersistentFlags().IntVarP(&workers, "workers", "w", 0, "Concurrent workers (default from config: 8)")
	rootCmd.PersistentFlags().IntVarP(&rate, "rate", "r", 0, "Max calls per second (default from config: 16)")
	rootCmd.PersistentFlags().StringVar(&strategy, "limiter", "", "Rate limiter: window, paced or redis")
	rootCmd.PersistentFlags().BoolVar(&useCache, "cache", false, "Cache responses in Redis")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig resolves file, environment and flags (in that order of
// precedence, lowest first), validates the result and sets up logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("api-key") {
		cfg.Gemini.APIKey = apiKey
	}
	if flags.Changed("workers") {
		cfg.Batch.MaxConcurrentWorkers = workers
	}
	if flags.Changed("rate") {
		cfg.RateLimit.MaxCallsPerSecond = rate
	}
	if flags.Changed("limiter") {
		cfg.RateLimit.Strategy = ratelimit.Strategy(strategy)
	}
	if flags.Changed("cache") {
		cfg.Cache.Enabled = useCache
	}
	if verbose {
		cfg.Logging.Level = logging.LevelDebug
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logging.Setup(cfg.LoggingSetup())
	return cfg, nil
}
