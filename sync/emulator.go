package sync

import (
	"context"
	"errors"
	"time"

	"github.com/jpillora/backoff"
	"github.com/rs/zerolog"
)

// Emulator plays the orchestrator locally: it runs the Driver, retries
// transport failures from the last good state, saves what was received and
// persists the state for the next run.
type Emulator struct {
	Driver *Driver
	// Retries is how many times a run failing with a retryable error is resumed.
	Retries int
	Backoff backoff.Backoff
	// StateFile, when set, is read by LoadState and written after every sync.
	StateFile string
	// SaveDir, when set, receives a results file after every sync.
	SaveDir string

	// Now and Sleep default to the real clock.
	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// EmulatorResult is the outcome of Emulator.Sync across all attempts.
type EmulatorResult struct {
	SyncResult
	Attempts int
	SavedTo  string
}

// NewEmulator builds an Emulator with the retry policy from settings.
func NewEmulator(driver *Driver, settings SyncSettings) (*Emulator, error) {
	lower, upper, err := settings.RetryBounds()
	if err != nil {
		return nil, err
	}
	return &Emulator{
		Driver:  driver,
		Retries: settings.Retries,
		Backoff: backoff.Backoff{
			Min:    lower,
			Max:    upper,
			Factor: 2,
			Jitter: true,
		},
	}, nil
}

func (e *Emulator) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Emulator) sleep(ctx context.Context, d time.Duration) error {
	if e.Sleep != nil {
		return e.Sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// LoadState returns the persisted state, or an empty state when there is
// no state file yet.
func (e *Emulator) LoadState() (State, error) {
	if e.StateFile == "" {
		return State{}, nil
	}
	return ReadStateFile(e.StateFile)
}

// Sync runs until done, resuming after retryable failures. Records received
// before a final failure are still saved and the state persisted, so the
// next sync picks up exactly where this one stopped.
func (e *Emulator) Sync(ctx context.Context, initial State, secrets Secrets) (EmulatorResult, error) {
	logger := zerolog.Ctx(ctx)
	result := EmulatorResult{
		SyncResult: SyncResult{Status: Running, State: initial, Records: make(map[string][]Record)},
	}
	b := e.Backoff

	var runErr error
	for {
		result.Attempts++
		// pages from earlier attempts count against the driver's page limit
		run, err := e.Driver.run(ctx, result.State, secrets, result.Pages)
		for table, rows := range run.Records {
			result.Records[table] = append(result.Records[table], rows...)
		}
		result.RunID = run.RunID
		result.Status = run.Status
		result.State = run.State
		result.Pages += run.Pages
		runErr = err

		if err == nil || !IsRetryable(err) || result.Attempts > e.Retries {
			break
		}
		if run.Pages > 0 {
			b.Reset()
		}
		wait := b.Duration()
		logger.Warn().Err(err).
			Int("attempt", result.Attempts).
			Dur("wait", wait).
			Msg("retrying from last good state")
		if err := e.sleep(ctx, wait); err != nil {
			runErr = errors.Join(runErr, err)
			break
		}
	}

	if e.SaveDir != "" {
		name, err := SaveRecords(e.SaveDir, e.now(), result.Records)
		if err != nil {
			return result, errors.Join(runErr, err)
		}
		result.SavedTo = name
		if name != "" {
			logger.Info().Str("file", name).Msg("results saved")
		}
	}
	if e.StateFile != "" {
		if err := WriteStateFile(e.StateFile, result.State); err != nil {
			return result, errors.Join(runErr, err)
		}
	}
	return result, runErr
}

// Test invokes the function once from state.
func (e *Emulator) Test(ctx context.Context, state State, secrets Secrets) (Envelope, error) {
	return e.Driver.Test(ctx, state, secrets)
}
