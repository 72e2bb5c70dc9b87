package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
)

// ErrNotFound is returned by the registry when a provider name is unknown.
var ErrNotFound = errors.New("provider not registered")

// ProviderError describes a failed call to a single provider. Transient
// failures (timeouts, 5xx, rate limits) drive fallback to the next provider
// in the chain; permanent failures (auth, validation) skip the provider for
// this call without disabling it.
type ProviderError struct {
	Provider  string
	Status    int // HTTP status, 0 for transport errors
	Transient bool
	Err       error
}

func (e *ProviderError) Error() string {
	class := "permanent"
	if e.Transient {
		class = "transient"
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: %s failure (status %d): %v", e.Provider, class, e.Status, e.Err)
	}
	return fmt.Sprintf("%s: %s failure: %v", e.Provider, class, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// statusError builds a ProviderError from an HTTP status code.
// 429 and 5xx are transient; 4xx is permanent.
func statusError(provider string, status int, body []byte) *ProviderError {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &ProviderError{
		Provider:  provider,
		Status:    status,
		Transient: status == http.StatusTooManyRequests || status >= 500,
		Err:       errors.New(msg),
	}
}

// transportError wraps a failure to reach the backend at all. Timeouts and
// connection errors are transient.
func transportError(provider string, err error) *ProviderError {
	return &ProviderError{Provider: provider, Transient: true, Err: err}
}

// IsTransient reports whether err should advance the fallback chain.
// Unclassified errors are treated as transient so a flaky backend never
// strands the whole chain.
func IsTransient(err error) bool {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return nerr.Timeout()
	}
	return true
}

// ExhaustedError is returned when every provider in the fallback chain
// failed. Causes maps provider name to its last error.
type ExhaustedError struct {
	Causes map[string]error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Causes))
	for name := range e.Causes {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	sb.WriteString("all providers exhausted")
	for _, name := range names {
		sb.WriteString("; ")
		sb.WriteString(name)
		sb.WriteString(": ")
		sb.WriteString(e.Causes[name].Error())
	}
	return sb.String()
}

// IsExhausted reports whether err represents a fully failed fallback chain.
func IsExhausted(err error) bool {
	var ee *ExhaustedError
	return errors.As(err, &ee)
}
