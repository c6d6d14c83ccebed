package sync

import (
	"net/http"
	"time"

	"github.com/carlmjohnson/requests"
)

// HTTPRequestTimeout is the default timeout for all HTTP requests to external APIs.
const HTTPRequestTimeout = 60 * time.Second

// APIBuilder returns a new requests.Builder for endpoint. Requests are
// recorded to, or replayed from, the directories named in the SyncContext.
func (c *SyncContext) APIBuilder(endpoint string) *requests.Builder {
	result := requests.
		URL(endpoint).
		Client(&http.Client{Timeout: HTTPRequestTimeout})
	switch {
	case c.ReplayRequests != "":
		result = result.Transport(requests.Replay(c.ReplayRequests))
	case c.RecordRequests != "":
		result = result.Transport(requests.Record(nil, c.RecordRequests))
	case c.Transport != nil:
		result = result.Transport(c.Transport)
	}
	return result
}
