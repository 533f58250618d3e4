package llm

import (
	"context"
	"errors"
	"net"
	"net/url"
	"regexp"
	"strconv"
)

var (
	// ErrGenerationFailed is returned when no completion could be produced.
	ErrGenerationFailed = errors.New("generation failed")

	// ErrEmptyCompletion is returned for a response without text. It is
	// retryable: models occasionally return empty candidates.
	ErrEmptyCompletion = errors.New("model returned an empty completion")
)

// statusPattern matches the status code in errors from langchaingo's
// OpenAI-compatible client.
var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// IsRetryable reports whether err is a transient failure: network errors,
// rate limiting, server errors and empty completions.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrEmptyCompletion) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if m := statusPattern.FindStringSubmatch(err.Error()); m != nil {
		code, _ := strconv.Atoi(m[1])
		return code == 408 || code == 429 || code >= 500
	}
	return false
}
