package annotate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"google.golang.org/genai"
)

// ErrorClass represents a classification of item annotation failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx client errors (bad key, bad request).
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx server errors.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassRateLimit represents 429 quota errors.
	ErrorClassRateLimit ErrorClass = "rate_limit"

	// ErrorClassNetwork represents network and timeout errors.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassParse represents a response that is not a JSON object.
	ErrorClassParse ErrorClass = "parse"

	// ErrorClassEmpty represents a response with no text.
	ErrorClassEmpty ErrorClass = "empty"

	// ErrorClassCancelled represents a call abandoned because the batch was cancelled.
	ErrorClassCancelled ErrorClass = "cancelled"

	// ErrorClassUnknown is anything else.
	ErrorClassUnknown ErrorClass = "unknown"
)

// Error is an item annotation failure. It is recovered by the batch
// coordinator and never aborts a batch.
type Error struct {
	Item       string
	StatusCode int
	ErrorClass ErrorClass
	Err        error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("annotate %q: %s error (status %d): %v", e.Item, e.ErrorClass, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("annotate %q: %s error: %v", e.Item, e.ErrorClass, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Err
}

// ClassOf returns the class of err. Errors that are not *Error are classified on the fly.
func ClassOf(err error) ErrorClass {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.ErrorClass
	}
	class, _ := classify(err)
	return class
}

// classify categorizes a transport or API error and extracts its HTTP status.
func classify(err error) (ErrorClass, int) {
	if errors.Is(err, context.Canceled) {
		return ErrorClassCancelled, 0
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassNetwork, 0
	}

	if code := apiStatus(err); code != 0 {
		return classifyStatus(code), code
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorClassNetwork, 0
	}

	return ErrorClassUnknown, 0
}

func apiStatus(err error) int {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code
	}
	return 0
}

func classifyStatus(code int) ErrorClass {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case code >= 400 && code < 500:
		return ErrorClassClient
	case code >= 500:
		return ErrorClassServer
	default:
		return ErrorClassUnknown
	}
}
