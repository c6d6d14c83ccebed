package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ErrMaxPagesExceeded is returned when the upstream keeps reporting more
// pages after the configured maximum has been fetched.
var ErrMaxPagesExceeded = errors.New("maximum page count reached while more pages remain")

type RunStatus int

const (
	Running RunStatus = iota
	Done
	Failed
)

func (s RunStatus) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Done:
		return "DONE"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("RunStatus(%d)", int(s))
	}
}

// RunError reports a failed sync run. State is the last state that was
// fully delivered, so a new run started from it loses nothing.
type RunError struct {
	RunID string
	State State
	Page  int
	Err   error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("sync run %s failed on page %d: %v", e.RunID, e.Page, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// SyncResult summarises a run. Records is only filled by Driver.Run.
type SyncResult struct {
	RunID   string
	Status  RunStatus
	State   State
	Pages   int
	Records map[string][]Record
}

// Driver calls a Function until it reports no more pages. Pages are fetched
// strictly one after another since each request depends on the previous
// page's continuation token.
type Driver struct {
	function Function
	maxPages int
	limiter  *rate.Limiter
}

type DriverOption func(*Driver)

// WithMaxPages fails a run that still has more pages after n pages. Zero
// means unbounded.
func WithMaxPages(n int) DriverOption {
	return func(d *Driver) {
		d.maxPages = n
	}
}

// WithPageRate limits how many pages are requested per second. Zero or less
// means no limit.
func WithPageRate(perSecond float64) DriverOption {
	return func(d *Driver) {
		if perSecond > 0 {
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), 1)
		} else {
			d.limiter = nil
		}
	}
}

func NewDriver(function Function, opts ...DriverOption) *Driver {
	d := &Driver{function: function}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewDriverFromSettings builds a Driver from the sync section of the config.
func NewDriverFromSettings(function Function, settings SyncSettings) *Driver {
	return NewDriver(function,
		WithMaxPages(settings.MaxPages),
		WithPageRate(settings.PagesPerSecond),
	)
}

// Run syncs from initial until the function reports no more pages and
// returns every record received, grouped by table.
func (d *Driver) Run(ctx context.Context, initial State, secrets Secrets) (SyncResult, error) {
	return d.run(ctx, initial, secrets, 0)
}

// run is Run for a sync that already fetched pagesBefore pages, which count
// against the page limit.
func (d *Driver) run(ctx context.Context, initial State, secrets Secrets, pagesBefore int) (SyncResult, error) {
	records := make(map[string][]Record)
	result, err := d.stream(ctx, initial, secrets, pagesBefore, func(e Envelope) error {
		for table, rows := range e.Insert {
			records[table] = append(records[table], rows...)
		}
		return nil
	})
	result.Records = records
	return result, err
}

// Stream syncs from initial, handing each envelope to emit as it arrives.
// The state only advances once emit has accepted a page; if emit fails the
// run fails with the previous state.
//
// Cancellation is checked between pages, never during a fetch.
func (d *Driver) Stream(ctx context.Context, initial State, secrets Secrets, emit func(Envelope) error) (SyncResult, error) {
	return d.stream(ctx, initial, secrets, 0, emit)
}

func (d *Driver) stream(ctx context.Context, initial State, secrets Secrets, pagesBefore int, emit func(Envelope) error) (SyncResult, error) {
	result := SyncResult{
		RunID:  uuid.NewString(),
		Status: Running,
		State:  initial,
	}
	logger := zerolog.Ctx(ctx).With().Str("run", result.RunID).Logger()
	ctx = logger.WithContext(ctx)

	fail := func(err error) (SyncResult, error) {
		result.Status = Failed
		logger.Error().Err(err).
			Int("pages", result.Pages).
			Interface("state", result.State).
			Msg("sync failed")
		return result, &RunError{RunID: result.RunID, State: result.State, Page: result.Pages + 1, Err: err}
	}

	logger.Info().Interface("state", initial).Msg("sync started")
	for {
		if err := ctx.Err(); err != nil {
			return fail(fmt.Errorf("sync stopped: %w", err))
		}
		if d.maxPages > 0 && pagesBefore+result.Pages >= d.maxPages {
			return fail(ErrMaxPagesExceeded)
		}
		if d.limiter != nil && result.Pages > 0 {
			if err := d.limiter.Wait(ctx); err != nil {
				return fail(fmt.Errorf("sync stopped: %w", err))
			}
		}

		envelope, err := d.function.Invoke(ctx, Request{State: result.State, Secrets: secrets})
		if err != nil {
			return fail(err)
		}
		if emit != nil {
			if err := emit(envelope); err != nil {
				return fail(fmt.Errorf("failed to deliver page %d %w", result.Pages+1, err))
			}
		}

		logger.Info().Int("page", result.Pages+1).Int("records", envelope.RecordCount()).Msg("page received")
		for table, rows := range envelope.Insert {
			logger.Debug().Int("records", len(rows)).Str("table", table).Msg("records received")
		}
		if diff := StateDiff(result.State, envelope.State); diff != "" {
			logger.Info().Interface("state", envelope.State).Msg("state updated")
			logger.Trace().Str("diff", diff).Msg("state diff")
		}
		result.State = envelope.State
		result.Pages++

		if !envelope.HasMore {
			result.Status = Done
			logger.Info().Int("pages", result.Pages).Msg("sync complete")
			return result, nil
		}
	}
}

// Test calls the function exactly once, whatever it reports for hasMore.
func (d *Driver) Test(ctx context.Context, state State, secrets Secrets) (Envelope, error) {
	return d.function.Invoke(ctx, Request{State: state, Secrets: secrets})
}
