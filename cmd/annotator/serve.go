package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/batch"
	"github.com/dquang-mevn/purchase-search-ui/pkg/metrics"
	"github.com/dquang-mevn/purchase-search-ui/pkg/ratelimit"
	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"github.com/dquang-mevn/purchase-search-ui/pkg/tabular"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve annotation over HTTP",
	Long: `Starts an HTTP server. Every request shares one rate limiter, so the
per-second cap holds across concurrent batches (and across processes with
--limiter redis).

Endpoints:
  GET  /health    limiter state
  GET  /metrics   Prometheus metrics
  POST /annotate  CSV body (text/csv) or JSON {"items": [...]}; responds with
                  CSV, or JSON when the request accepts application/json`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "addr", "", "Listen address (default from config: :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Addr = listenAddr
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p, err := newPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newServer(p).routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", cfg.Server.Addr).
			Str("model", cfg.Gemini.Model).
			Int("workers", cfg.Batch.MaxConcurrentWorkers).
			Int("rate", cfg.RateLimit.MaxCallsPerSecond).
			Str("limiter", string(cfg.RateLimit.Strategy)).
			Msg("Starting annotation server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// server serves annotation requests through one shared pipeline.
type server struct {
	pipeline *pipeline
	logger   zerolog.Logger
}

func newServer(p *pipeline) *server {
	return &server{
		pipeline: p,
		logger:   log.With().Str("component", "http-server").Logger(),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.healthHandler)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("POST /annotate", s.annotateHandler)
	return mux
}

type healthResponse struct {
	Status  string           `json:"status"`
	Limiter string           `json:"limiter"`
	Window  *ratelimit.State `json:"window,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Limiter: string(s.pipeline.cfg.RateLimit.Strategy),
	}
	status := http.StatusOK

	state, ok, err := s.pipeline.limiterState(r.Context())
	switch {
	case err != nil:
		resp.Status = "unavailable"
		resp.Error = err.Error()
		status = http.StatusServiceUnavailable
	case ok:
		resp.Window = &state
	}

	writeJSON(w, status, resp)
}

type annotateRequest struct {
	Items []string `json:"items"`
}

type annotateResponse struct {
	BatchID string              `json:"batch_id"`
	Fields  []string            `json:"fields"`
	Records []map[string]string `json:"records"`
	Stats   statsResponse       `json:"stats"`
}

type statsResponse struct {
	Total      int     `json:"total"`
	Succeeded  int     `json:"succeeded"`
	Cached     int     `json:"cached"`
	Failed     int     `json:"failed"`
	Skipped    int     `json:"skipped"`
	DurationMs float64 `json:"duration_ms"`
}

func (s *server) annotateHandler(w http.ResponseWriter, r *http.Request) {
	cfg := s.pipeline.cfg
	r.Body = http.MaxBytesReader(w, r.Body, cfg.Server.MaxBodyBytes)

	items, err := s.readItems(r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		default:
			http.Error(w, err.Error(), http.StatusBadRequest)
		}
		return
	}
	if len(items) == 0 {
		http.Error(w, tabular.ErrNoKeywords.Error(), http.StatusBadRequest)
		return
	}
	if cfg.Server.MaxItems > 0 && len(items) > cfg.Server.MaxItems {
		http.Error(w, fmt.Sprintf("too many items: %d (max %d)", len(items), cfg.Server.MaxItems), http.StatusRequestEntityTooLarge)
		return
	}

	records, stats, err := s.pipeline.run(r.Context(), items, s.progressLogger(len(items)))
	if err != nil {
		// Client went away; nobody is left to read the partial result.
		s.logger.Warn().Err(err).Int("items", len(items)).Msg("Annotate request cancelled")
		return
	}

	if wantsJSON(r) {
		writeJSON(w, http.StatusOK, toResponse(s.pipeline.schema, records, stats))
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="analysis-results.csv"`)
	if err := tabular.WriteCSV(w, s.pipeline.schema, records); err != nil {
		s.logger.Error().Err(err).Msg("Failed to write response")
	}
}

// readItems extracts the batch from a CSV or JSON body. CSV input goes
// through keyword extraction and de-duplication like the run command; JSON
// items are taken as given, minus blanks.
func (s *server) readItems(r *http.Request) ([]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	switch mediaType {
	case "application/json":
		var req annotateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, fmt.Errorf("invalid JSON body: %w", err)
		}
		items := make([]string, 0, len(req.Items))
		for _, item := range req.Items {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items, nil

	case "text/csv", "application/csv", "":
		rows, err := tabular.Load(r.Body)
		if err != nil {
			return nil, err
		}
		return tabular.Dedupe(tabular.ExtractKeywords(rows)), nil

	default:
		return nil, fmt.Errorf("unsupported content type %q", mediaType)
	}
}

// progressLogger logs every tenth of the batch.
func (s *server) progressLogger(total int) batch.ProgressFunc {
	step := total / 10
	if step == 0 {
		step = 1
	}
	return func(completed, total int) {
		if completed%step == 0 || completed == total {
			s.logger.Debug().
				Int("completed", completed).
				Int("total", total).
				Float64("progress_pct", float64(completed)/float64(total)*100).
				Msg("Annotate progress")
		}
	}
}

func toResponse(schema result.Schema, records []result.Record, stats batch.Stats) annotateResponse {
	out := annotateResponse{
		BatchID: stats.BatchID,
		Fields:  schema.Columns(),
		Records: make([]map[string]string, len(records)),
		Stats: statsResponse{
			Total:      stats.Total,
			Succeeded:  stats.Succeeded,
			Cached:     stats.Cached,
			Failed:     stats.Failed,
			Skipped:    stats.Skipped,
			DurationMs: float64(stats.Duration) / float64(time.Millisecond),
		},
	}
	for i, rec := range records {
		m := make(map[string]string, len(rec.Values)+1)
		m[result.SourceField] = rec.Source
		for k, v := range rec.Values {
			m[k] = v
		}
		out.Records[i] = m
	}
	return out
}

func wantsJSON(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}
