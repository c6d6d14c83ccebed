package sync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	gosync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type mapEnv map[string]string

func (m mapEnv) LookupEnv(key string) (string, bool) {
	v, ok := m[key]
	return v, ok
}

func testConfig(t *testing.T) Config {
	t.Helper()
	config, err := LoadConfig(mapEnv{}, "")
	require.NoError(t, err)
	return config
}

// fakeUpstream serves scripted responses and records every request it sees.
type fakeUpstream struct {
	*httptest.Server
	mu       gosync.Mutex
	requests []*http.Request
}

func newFakeUpstream(t *testing.T, respond func(n int, query url.Values) (int, string)) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		n := len(f.requests)
		f.requests = append(f.requests, r.Clone(r.Context()))
		f.mu.Unlock()

		status, body := respond(n, r.URL.Query())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeUpstream) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeUpstream) query(n int) url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[n].URL.Query()
}

func (f *fakeUpstream) header(n int) http.Header {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[n].Header
}

func (f *fakeUpstream) secrets() Secrets {
	return Secrets{"BASE_URL": f.URL}
}

func testFetcher(t *testing.T) PageFetcher {
	t.Helper()
	return PageFetcher{SyncContext: &SyncContext{
		Config: testConfig(t),
		Now:    func() time.Time { return testNow },
	}}
}

// scriptedFunction returns one scripted outcome per call.
type scriptedFunction struct {
	outcomes []scriptedOutcome
	calls    []Request
	onCall   func(n int)
}

type scriptedOutcome struct {
	envelope Envelope
	err      error
}

func (f *scriptedFunction) Invoke(_ context.Context, req Request) (Envelope, error) {
	n := len(f.calls)
	f.calls = append(f.calls, req)
	if f.onCall != nil {
		f.onCall(n)
	}
	if n >= len(f.outcomes) {
		return Envelope{}, errors.New("unexpected call")
	}
	return f.outcomes[n].envelope, f.outcomes[n].err
}

// page builds an envelope holding records id-<n>-a and id-<n>-b.
func page(n int, state State, hasMore bool) scriptedOutcome {
	e := NewEnvelope("logevents", []string{"logid"})
	e.Insert["logevents"] = []Record{
		Record(fmt.Sprintf(`{"logid":"id-%d-a"}`, n)),
		Record(fmt.Sprintf(`{"logid":"id-%d-b"}`, n)),
	}
	e.State = state
	e.HasMore = hasMore
	return scriptedOutcome{envelope: e}
}

func transportFailure(state State) scriptedOutcome {
	return scriptedOutcome{err: &FetchError{
		State: state,
		Err:   &TransportError{Endpoint: "https://example.test", Err: errors.New("connection reset")},
	}}
}
