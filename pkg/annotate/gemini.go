package annotate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dquang-mevn/purchase-search-ui/pkg/result"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// Prometheus metrics for annotation calls.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_requests_total",
		Help: "Total annotation calls by model and outcome",
	}, []string{"model", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "annotator_request_duration_seconds",
		Help:    "Annotation call duration in seconds by model",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"model"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "annotator_errors_total",
		Help: "Total annotation errors by class",
	}, []string{"class"})
)

// Config holds the Gemini client configuration.
type Config struct {
	// APIKey is the Gemini API credential (REQUIRED).
	APIKey string

	// Model is the Gemini model name.
	Model string

	// PromptTemplate must contain exactly one Placeholder.
	PromptTemplate string

	// Schema lists the fields the model must return; each is a required string property.
	Schema result.Schema

	// Temperature is the sampling temperature (0 for deterministic output).
	Temperature float32

	// ThinkingBudget is the token budget for thinking (0 disables it).
	ThinkingBudget int32

	// BaseURL overrides the API endpoint (tests, proxies).
	BaseURL string

	// HTTPClient overrides the transport.
	HTTPClient *http.Client
}

// DefaultConfig returns the configuration used by the analyzer.
func DefaultConfig(apiKey string) Config {
	return Config{
		APIKey:         apiKey,
		Model:          DefaultModel,
		PromptTemplate: DefaultPrompt,
		Schema:         result.DefaultSchema(),
		Temperature:    0,
		ThinkingBudget: 0,
	}
}

// GeminiClient annotates items with a Gemini model in JSON response mode.
type GeminiClient struct {
	client *genai.Client
	config Config
	genCfg *genai.GenerateContentConfig
	logger zerolog.Logger
}

// NewGeminiClient validates cfg and creates the underlying genai client.
func NewGeminiClient(ctx context.Context, cfg Config) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if err := ValidatePrompt(cfg.PromptTemplate); err != nil {
		return nil, err
	}
	if cfg.Schema.Len() == 0 {
		return nil, fmt.Errorf("%w: no fields", result.ErrInvalidSchema)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	fields := cfg.Schema.Fields()
	props := make(map[string]*genai.Schema, len(fields))
	for _, f := range fields {
		props[f] = &genai.Schema{Type: genai.TypeString}
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(cfg.Temperature),
		ThinkingConfig: &genai.ThinkingConfig{
			ThinkingBudget: genai.Ptr(cfg.ThinkingBudget),
		},
		ResponseMIMEType: "application/json",
		ResponseSchema: &genai.Schema{
			Type:       genai.TypeObject,
			Properties: props,
			Required:   fields,
		},
	}

	return &GeminiClient{
		client: client,
		config: cfg,
		genCfg: genCfg,
		logger: log.With().Str("component", "gemini-client").Str("model", cfg.Model).Logger(),
	}, nil
}

// Annotate renders the prompt for item, calls the model once and decodes
// the JSON object it returns. Every failure is an *Error.
func (c *GeminiClient) Annotate(ctx context.Context, item string) (map[string]any, error) {
	start := time.Now()
	defer func() {
		requestDuration.WithLabelValues(c.config.Model).Observe(time.Since(start).Seconds())
	}()

	prompt := RenderPrompt(c.config.PromptTemplate, item)

	resp, err := c.client.Models.GenerateContent(ctx, c.config.Model, genai.Text(prompt), c.genCfg)
	if err != nil {
		// The transport may not wrap the context error, so ask the context.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %v", ctxErr, err)
		}
		class, status := classify(err)
		return nil, c.fail(item, class, status, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, c.fail(item, ErrorClassEmpty, 0, errors.New("no text in response"))
	}

	var fields map[string]any
	if err := json.Unmarshal([]byte(text), &fields); err != nil {
		return nil, c.fail(item, ErrorClassParse, 0, fmt.Errorf("decode response: %w", err))
	}
	if fields == nil {
		return nil, c.fail(item, ErrorClassParse, 0, errors.New("response is not a JSON object"))
	}

	requestsTotal.WithLabelValues(c.config.Model, "ok").Inc()
	c.logger.Debug().
		Str("item", item).
		Dur("duration", time.Since(start)).
		Msg("Annotation call succeeded")

	return fields, nil
}

func (c *GeminiClient) fail(item string, class ErrorClass, status int, err error) error {
	errorsTotal.WithLabelValues(string(class)).Inc()
	requestsTotal.WithLabelValues(c.config.Model, string(class)).Inc()

	c.logger.Debug().
		Err(err).
		Str("item", item).
		Str("error_class", string(class)).
		Int("status", status).
		Msg("Annotation call failed")

	return &Error{
		Item:       item,
		StatusCode: status,
		ErrorClass: class,
		Err:        err,
	}
}

// Model returns the configured model name.
func (c *GeminiClient) Model() string {
	return c.config.Model
}

// PromptTemplate returns the configured prompt template.
func (c *GeminiClient) PromptTemplate() string {
	return c.config.PromptTemplate
}

// Schema returns the configured output schema.
func (c *GeminiClient) Schema() result.Schema {
	return c.config.Schema
}
