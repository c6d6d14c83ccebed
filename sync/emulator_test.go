package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEmulator(fn Function, retries int) (*Emulator, *[]time.Duration) {
	var waits []time.Duration
	return &Emulator{
		Driver:  NewDriver(fn),
		Retries: retries,
		Now:     func() time.Time { return testNow },
		Sleep: func(_ context.Context, d time.Duration) error {
			waits = append(waits, d)
			return nil
		},
	}, &waits
}

func TestEmulator_ResumesFromLastGoodStateAfterTransportFailure(t *testing.T) {
	afterPage1 := State{LastUpdated: EpochStart, Continue: "c1"}
	final := State{LastUpdated: "2024-05-01T12:00:00.000Z"}
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		page(1, afterPage1, true),
		transportFailure(afterPage1),
		page(3, final, false),
	}}
	e, waits := testEmulator(fn, 2)

	result, err := e.Sync(testContext(t), State{}, Secrets{})
	require.NoError(t, err)

	assert.Equal(t, Done, result.Status)
	assert.Equal(t, final, result.State)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, result.Pages)
	assert.Len(t, *waits, 1)

	require.Len(t, fn.calls, 3)
	assert.Equal(t, afterPage1, fn.calls[1].State)
	assert.Equal(t, afterPage1, fn.calls[2].State)

	var ids []string
	for _, r := range result.Records["logevents"] {
		var row map[string]string
		require.NoError(t, json.Unmarshal(r, &row))
		ids = append(ids, row["logid"])
	}
	assert.Equal(t, []string{"id-1-a", "id-1-b", "id-3-a", "id-3-b"}, ids)
}

func TestEmulator_DoesNotRetryConfigurationErrors(t *testing.T) {
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		{err: &FetchError{Err: &ConfigurationError{Key: "BASE_URL", Reason: "secret is missing"}}},
		page(2, State{LastUpdated: EpochStart}, false),
	}}
	e, waits := testEmulator(fn, 3)

	result, err := e.Sync(testContext(t), State{}, Secrets{})
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
	assert.Equal(t, Failed, result.Status)
	assert.Equal(t, 1, result.Attempts)
	assert.Empty(t, *waits)
	assert.Len(t, fn.calls, 1)
}

func TestEmulator_GivesUpAfterRetries(t *testing.T) {
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		transportFailure(State{}),
		transportFailure(State{}),
		transportFailure(State{}),
	}}
	e, waits := testEmulator(fn, 1)

	result, err := e.Sync(testContext(t), State{}, Secrets{})
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, Failed, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Len(t, *waits, 1)
	assert.Len(t, fn.calls, 2)
}

func TestEmulator_PageLimitSpansRetries(t *testing.T) {
	afterPage1 := State{LastUpdated: EpochStart, Continue: "c1"}
	afterPage2 := State{LastUpdated: EpochStart, Continue: "c2"}
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		page(1, afterPage1, true),
		transportFailure(afterPage1),
		page(2, afterPage2, true),
		page(3, State{LastUpdated: "2024-05-01T12:00:00.000Z"}, false),
	}}
	e, _ := testEmulator(fn, 3)
	e.Driver = NewDriver(fn, WithMaxPages(2))

	result, err := e.Sync(testContext(t), State{}, Secrets{})
	require.ErrorIs(t, err, ErrMaxPagesExceeded)
	assert.Equal(t, Failed, result.Status)
	assert.Equal(t, 2, result.Attempts)
	assert.Equal(t, 2, result.Pages)
	assert.Equal(t, afterPage2, result.State)
	assert.Len(t, fn.calls, 3)
}

func TestEmulator_PersistsStateAndSavesRecords(t *testing.T) {
	dir := t.TempDir()
	final := State{LastUpdated: "2024-05-01T12:00:00.000Z"}
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		page(1, State{LastUpdated: EpochStart, Continue: "c1"}, true),
		page(2, final, false),
	}}
	e, _ := testEmulator(fn, 0)
	e.StateFile = filepath.Join(dir, "state.json")
	e.SaveDir = dir

	initial, err := e.LoadState()
	require.NoError(t, err)
	assert.Equal(t, State{}, initial)

	result, err := e.Sync(testContext(t), initial, Secrets{})
	require.NoError(t, err)
	assert.Equal(t, ResultsFileName(dir, testNow), result.SavedTo)

	saved, err := os.ReadFile(result.SavedTo)
	require.NoError(t, err)
	assert.JSONEq(t, `[
		{"logid": "id-1-a"}, {"logid": "id-1-b"},
		{"logid": "id-2-a"}, {"logid": "id-2-b"}
	]`, string(saved))

	persisted, err := e.LoadState()
	require.NoError(t, err)
	assert.Equal(t, final, persisted)
}

func TestEmulator_FailedSyncPersistsLastGoodState(t *testing.T) {
	dir := t.TempDir()
	afterPage1 := State{LastUpdated: EpochStart, Continue: "c1"}
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		page(1, afterPage1, true),
		{err: &FetchError{State: afterPage1, Err: &UpstreamFormatError{Reason: "response is not JSON"}}},
	}}
	e, _ := testEmulator(fn, 3)
	e.StateFile = filepath.Join(dir, "state.json")

	_, err := e.Sync(testContext(t), State{}, Secrets{})
	require.Error(t, err)

	persisted, err := ReadStateFile(e.StateFile)
	require.NoError(t, err)
	assert.Equal(t, afterPage1, persisted)
}

func TestEmulator_Test(t *testing.T) {
	fn := &scriptedFunction{outcomes: []scriptedOutcome{
		page(1, State{LastUpdated: EpochStart, Continue: "c1"}, true),
	}}
	e, _ := testEmulator(fn, 0)

	envelope, err := e.Test(testContext(t), State{}, Secrets{})
	require.NoError(t, err)
	assert.True(t, envelope.HasMore)
	assert.Len(t, fn.calls, 1)
}

func TestNewEmulator(t *testing.T) {
	e, err := NewEmulator(NewDriver(&scriptedFunction{}), SyncSettings{Retries: 4, RetryMin: "2s", RetryMax: "1m"})
	require.NoError(t, err)
	assert.Equal(t, 4, e.Retries)
	assert.Equal(t, 2*time.Second, e.Backoff.Min)
	assert.Equal(t, time.Minute, e.Backoff.Max)

	_, err = NewEmulator(NewDriver(&scriptedFunction{}), SyncSettings{RetryMin: "soon"})
	assert.True(t, IsConfigurationError(err))
}
