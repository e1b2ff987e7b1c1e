// Package testutil provides testing utilities for the annotator.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockGeminiResponse defines how the mock answers one prompt.
type MockGeminiResponse struct {
	// StatusCode defaults to 200.
	StatusCode int

	// Fields is encoded as the model's JSON text. Ignored when Text is set.
	Fields map[string]any

	// Text is returned verbatim as the model's text, for malformed output tests.
	Text string

	// Delay is applied before responding.
	Delay time.Duration
}

// Responder maps the rendered prompt to a response.
type Responder func(prompt string) MockGeminiResponse

// MockGemini is a configurable mock of the Gemini generateContent endpoint.
type MockGemini struct {
	server    *httptest.Server
	mu        sync.RWMutex
	responder Responder

	// Tracking
	RequestCount int
	InFlight     int
	MaxInFlight  int
	Prompts      []string
	LastModel    string
}

// NewMockGemini creates a mock that answers every prompt with an empty object
// until SetResponder is called.
func NewMockGemini() *MockGemini {
	mock := &MockGemini{
		responder: func(string) MockGeminiResponse {
			return MockGeminiResponse{Fields: map[string]any{}}
		},
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL, suitable as the client base URL.
func (m *MockGemini) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockGemini) Close() {
	m.server.Close()
}

// SetResponder replaces the response policy.
func (m *MockGemini) SetResponder(r Responder) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responder = r
}

// GetRequestCount returns the number of requests made to the server.
func (m *MockGemini) GetRequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.RequestCount
}

// GetMaxInFlight returns the highest number of concurrently served requests.
func (m *MockGemini) GetMaxInFlight() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.MaxInFlight
}

// GetLastModel returns the model named by the most recent request.
func (m *MockGemini) GetLastModel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.LastModel
}

// GetPrompts returns a copy of every prompt received.
func (m *MockGemini) GetPrompts() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, len(m.Prompts))
	copy(out, m.Prompts)
	return out
}

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func (m *MockGemini) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost || !strings.HasSuffix(r.URL.Path, ":generateContent") {
		http.NotFound(w, r)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	var req generateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var prompt strings.Builder
	for _, c := range req.Contents {
		for _, p := range c.Parts {
			prompt.WriteString(p.Text)
		}
	}

	model := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	model = strings.TrimSuffix(model, ":generateContent")

	m.mu.Lock()
	m.RequestCount++
	m.InFlight++
	if m.InFlight > m.MaxInFlight {
		m.MaxInFlight = m.InFlight
	}
	m.Prompts = append(m.Prompts, prompt.String())
	m.LastModel = model
	responder := m.responder
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.InFlight--
		m.mu.Unlock()
	}()

	resp := responder(prompt.String())
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}

	status := resp.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		writeError(w, status, http.StatusText(status))
		return
	}

	text := resp.Text
	if text == "" {
		encoded, err := json.Marshal(resp.Fields)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		text = string(encoded)
	}

	payload := map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"status":"ERROR"}}`, status, message)
}

// EchoResponder answers with fields derived from the prompt by fn.
func EchoResponder(fn func(prompt string) map[string]any) Responder {
	return func(prompt string) MockGeminiResponse {
		return MockGeminiResponse{Fields: fn(prompt)}
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockGeminiResponse {
	return MockGeminiResponse{StatusCode: http.StatusInternalServerError}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse() MockGeminiResponse {
	return MockGeminiResponse{StatusCode: http.StatusTooManyRequests}
}

// NewUnauthorizedResponse creates a 403 response like an invalid API key produces.
func NewUnauthorizedResponse() MockGeminiResponse {
	return MockGeminiResponse{StatusCode: http.StatusForbidden}
}
