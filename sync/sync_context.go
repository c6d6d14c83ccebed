package sync

import (
	"net/http"
	"time"
)

// SyncContext holds shared sync configuration. It is immutable after
// construction and safe to share between invocations.
type SyncContext struct {
	Config Config

	// RecordRequests, when set, is a directory upstream HTTP exchanges are
	// recorded to. ReplayRequests replays a previous recording instead of
	// calling the network. Replay wins if both are set.
	RecordRequests string
	ReplayRequests string

	// Transport overrides the HTTP transport when neither recording nor
	// replay is configured.
	Transport http.RoundTripper

	// Now returns the current time; nil means time.Now.
	Now func() time.Time
}

func (c *SyncContext) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}
