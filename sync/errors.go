package sync

import (
	"errors"
	"fmt"
)

// ConfigurationError reports a missing or invalid setting or secret.
// It is fatal: retrying with the same inputs cannot succeed.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %s %s", e.Key, e.Reason)
}

// TransportError reports a network or HTTP failure talking to the upstream API.
// The identical call may be retried with unchanged state.
type TransportError struct {
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed: %v", e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// UpstreamFormatError reports a response body with an unexpected shape.
// A missing record collection is not an error; everything else that does not
// match is classified here rather than silently dropped.
type UpstreamFormatError struct {
	Path   string
	Reason string
	Body   string
}

func (e *UpstreamFormatError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("unexpected upstream response: %s", e.Reason)
	}
	return fmt.Sprintf("unexpected upstream response at %q: %s", e.Path, e.Reason)
}

// FetchError is returned by a failed page fetch. State is the state as of
// entry, so the caller can retry with exactly the same input.
type FetchError struct {
	State State
	Err   error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed: %v", e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsRetryable reports whether err is a transport failure that may succeed
// when retried with the same state.
func IsRetryable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsConfigurationError reports whether err was caused by missing or invalid configuration.
func IsConfigurationError(err error) bool {
	var configErr *ConfigurationError
	return errors.As(err, &configErr)
}
