package serp

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is wrapped by ConfigurationError when no credential is configured.
var ErrMissingAPIKey = errors.New("SERPER_API_KEY is not set")

// ConfigurationError reports a client misconfiguration. It is never retried.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("serper configuration error: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error {
	return e.Err
}

// ProviderError reports a non-success response from the search API.
type ProviderError struct {
	StatusCode int
	Status     string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("serper api error: %s", e.Status)
}

// Temporary reports whether the status is worth retrying.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
