package sync

import (
	"context"

	"github.com/rs/zerolog"
)

// Function is the invocation contract the orchestrator calls repeatedly.
type Function interface {
	Invoke(ctx context.Context, req Request) (Envelope, error)
}

// FunctionFunc adapts an ordinary function to Function.
type FunctionFunc func(ctx context.Context, req Request) (Envelope, error)

func (f FunctionFunc) Invoke(ctx context.Context, req Request) (Envelope, error) {
	return f(ctx, req)
}

// Connector fetches one page per invocation and wraps it in an Envelope.
type Connector struct {
	Fetcher Fetcher
	Mapper  TableMapper
}

// NewConnector builds a Connector paging with a PageFetcher.
func NewConnector(syncContext *SyncContext) (*Connector, error) {
	if err := syncContext.Config.Validate(); err != nil {
		return nil, err
	}
	mapper, err := NewTableMapper(syncContext.Config.Table)
	if err != nil {
		return nil, err
	}
	return &Connector{
		Fetcher: PageFetcher{SyncContext: syncContext},
		Mapper:  mapper,
	}, nil
}

// Invoke builds the envelope for the page following req.State. Errors are
// returned as *FetchError carrying req.State unchanged.
func (c *Connector) Invoke(ctx context.Context, req Request) (Envelope, error) {
	logger := zerolog.Ctx(ctx)
	logger.Debug().Object("secrets", req.Secrets).Msg("invoked")

	page, err := c.Fetcher.FetchPage(ctx, req.State, req.Secrets)
	if err != nil {
		return Envelope{}, err
	}

	records, err := c.Mapper.MapRecords(page.Records)
	if err != nil {
		return Envelope{}, &FetchError{State: req.State, Err: err}
	}

	result := NewEnvelope(c.Mapper.Table, c.Mapper.PrimaryKey)
	result.State = page.State
	result.Insert[c.Mapper.Table] = records
	result.HasMore = page.HasMore
	return result, nil
}
