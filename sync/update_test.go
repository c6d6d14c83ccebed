package sync

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnector(t *testing.T, config Config) *Connector {
	t.Helper()
	c, err := NewConnector(&SyncContext{Config: config, Now: func() time.Time { return testNow }})
	require.NoError(t, err)
	return c
}

func TestConnector_InvokeBuildsEnvelope(t *testing.T) {
	upstream := newFakeUpstream(t, func(int, url.Values) (int, string) {
		return http.StatusOK, twoRecordsWithContinue
	})
	c := testConnector(t, testConfig(t))

	envelope, err := c.Invoke(testContext(t), Request{State: State{}, Secrets: upstream.secrets()})
	require.NoError(t, err)

	b, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"state": {"last_updated": "1970-01-01T00:00:00.000Z", "continue": "abc"},
		"insert": {"logevents": [
			{"logid": 1, "type": "create", "title": "Data", "timestamp": "2002-02-25T15:43:11Z"},
			{"logid": 2, "type": "move", "title": "Data", "timestamp": "2003-01-01T10:00:00Z"}
		]},
		"delete": {},
		"schema": {"logevents": {"primary_key": ["logid"]}},
		"hasMore": true
	}`, string(b))
	assert.Equal(t, 2, envelope.RecordCount())
}

func TestConnector_EmptyPageStillDeclaresTable(t *testing.T) {
	upstream := newFakeUpstream(t, func(int, url.Values) (int, string) {
		return http.StatusOK, `{"batchcomplete": ""}`
	})
	c := testConnector(t, testConfig(t))

	envelope, err := c.Invoke(testContext(t), Request{State: State{}, Secrets: upstream.secrets()})
	require.NoError(t, err)

	b, err := json.Marshal(envelope)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"state": {"last_updated": "2024-05-01T12:00:00.000Z"},
		"insert": {"logevents": []},
		"delete": {},
		"schema": {"logevents": {"primary_key": ["logid"]}},
		"hasMore": false
	}`, string(b))
}

func TestConnector_InvokeWithColumnMapping(t *testing.T) {
	upstream := newFakeUpstream(t, func(int, url.Values) (int, string) {
		return http.StatusOK, oneRecordNoContinue
	})
	config := testConfig(t)
	config.Table.PrimaryKey = []string{"logId"}
	config.Table.Columns = map[string]string{"logId": "logid", "eventType": "type"}
	c := testConnector(t, config)

	envelope, err := c.Invoke(testContext(t), Request{Secrets: upstream.secrets()})
	require.NoError(t, err)
	require.Len(t, envelope.Insert["logevents"], 1)
	assert.JSONEq(t, `{"log_id": 3, "event_type": "protect"}`, string(envelope.Insert["logevents"][0]))
	assert.Equal(t, []string{"log_id"}, envelope.Schema["logevents"].PrimaryKey)
}

func TestConnector_ErrorReturnsCallerState(t *testing.T) {
	upstream := newFakeUpstream(t, func(int, url.Values) (int, string) {
		return http.StatusInternalServerError, `{"error": "boom"}`
	})
	c := testConnector(t, testConfig(t))
	input := State{LastUpdated: "2024-04-01T00:00:00.000Z", Continue: "xyz"}

	_, err := c.Invoke(testContext(t), Request{State: input, Secrets: upstream.secrets()})
	require.Error(t, err)

	var fetchErr *FetchError
	require.ErrorAs(t, err, &fetchErr)
	assert.Equal(t, input, fetchErr.State)
}

func TestNewConnector_RejectsInvalidConfig(t *testing.T) {
	config := testConfig(t)
	config.Table.PrimaryKey = nil
	_, err := NewConnector(&SyncContext{Config: config})
	assert.True(t, IsConfigurationError(err))
}

func TestFunctionFunc(t *testing.T) {
	var fn Function = FunctionFunc(func(_ context.Context, req Request) (Envelope, error) {
		return Envelope{State: req.State}, nil
	})
	envelope, err := fn.Invoke(context.Background(), Request{State: State{Continue: "abc"}})
	require.NoError(t, err)
	assert.Equal(t, "abc", envelope.State.Continue)
}
