package sync

import (
	"context"
	"net/url"
	"strconv"

	"github.com/carlmjohnson/requests"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// maxLoggedBodyLength caps how much of an unexpected response body is kept.
const maxLoggedBodyLength = 512

// Fetcher fetches one page of upstream records.
type Fetcher interface {
	FetchPage(ctx context.Context, state State, secrets Secrets) (PageResult, error)
}

// UpstreamError holds the decoded body of a non-2xx upstream response.
type UpstreamError map[string]interface{}

// PageFetcher pages through a REST API that accepts a time lower bound and
// returns an opaque continuation marker while more pages remain.
// It embeds *SyncContext for shared sync configuration.
type PageFetcher struct {
	*SyncContext
}

// endpoint resolves the upstream URL from the config or the secrets.
func (f PageFetcher) endpoint(secrets Secrets) (string, error) {
	src := f.Config.Source
	endpoint := src.Endpoint
	if endpoint == "" {
		endpoint = secrets[src.Secrets.Endpoint]
	}
	if endpoint == "" {
		return "", &ConfigurationError{Key: src.Secrets.Endpoint, Reason: "secret is missing"}
	}
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", &ConfigurationError{Key: src.Secrets.Endpoint, Reason: "is not an absolute URL"}
	}
	return endpoint, nil
}

// authenticate adds whichever credentials are present in secrets.
func (f PageFetcher) authenticate(rb *requests.Builder, secrets Secrets) *requests.Builder {
	keys := f.Config.Source.Secrets
	if key := secrets[keys.APIKey]; keys.APIKey != "" && key != "" {
		header := keys.APIKeyHeader
		if header == "" {
			header = keys.APIKey
		}
		rb = rb.Header(header, key)
	}
	username, password := secrets[keys.Username], secrets[keys.Password]
	if keys.Username != "" && username != "" {
		rb = rb.BasicAuth(username, password)
	}
	return rb
}

// FetchPage issues exactly one GET for the page following state.
//
// On success the returned state either carries the new continuation token
// with an unchanged watermark (HasMore is true), or has the token cleared and
// the watermark advanced to the time the request started (HasMore is false).
// On failure the error is a *FetchError whose State equals the input state.
func (f PageFetcher) FetchPage(ctx context.Context, state State, secrets Secrets) (PageResult, error) {
	logger := zerolog.Ctx(ctx)
	entry := state
	fail := func(err error) (PageResult, error) {
		return PageResult{State: entry}, &FetchError{State: entry, Err: err}
	}

	endpoint, err := f.endpoint(secrets)
	if err != nil {
		return fail(err)
	}

	current := state.Initialised()
	// captured before the request so nothing created during the fetch is skipped next time
	callTimestamp := f.now()

	src := f.Config.Source
	rb := f.APIBuilder(endpoint)
	for k, v := range src.Params {
		// a default nulled by a user config file is not sent
		if v != "" {
			rb = rb.Param(k, v)
		}
	}
	rb = rb.Param(src.Watermark.Param, current.LastUpdated)
	if src.Direction.Param != "" && src.Direction.Value != "" {
		rb = rb.Param(src.Direction.Param, src.Direction.Value)
	}
	if src.Limit.Param != "" && src.Limit.Value > 0 {
		rb = rb.Param(src.Limit.Param, strconv.Itoa(src.Limit.Value))
	}
	if current.HasContinue() && src.Continue.Param != "" {
		rb = rb.Param(src.Continue.Param, current.Continue)
	}
	rb = f.authenticate(rb, secrets)

	logger.Debug().
		Str("watermark", current.LastUpdated).
		Bool("continuing", current.HasContinue()).
		Msg("fetching page")

	upstreamError := UpstreamError{}
	var body string
	err = rb.
		ToString(&body).
		ErrorJSON(&upstreamError).
		Fetch(ctx)
	if err != nil {
		logger.Warn().Err(err).Interface("upstreamError", upstreamError).Msg("upstream request failed")
		return fail(&TransportError{Endpoint: redactURL(endpoint), Err: err})
	}

	records, marker, err := f.parsePage(body)
	if err != nil {
		logger.Warn().Err(err).Msg("upstream response rejected")
		return fail(err)
	}

	result := PageResult{Records: records}
	if marker != "" {
		result.State = current.withPendingContinue(marker)
		result.HasMore = true
	} else {
		result.State = current.withCompletedPass(callTimestamp)
	}
	logger.Debug().
		Int("records", len(records)).
		Bool("hasMore", result.HasMore).
		Msg("fetched page")
	return result, nil
}

// parsePage extracts the records and the continuation marker from body.
// A missing or null record collection is an empty page.
func (f PageFetcher) parsePage(body string) ([]Record, string, error) {
	src := f.Config.Source
	if !gjson.Valid(body) {
		return nil, "", &UpstreamFormatError{Reason: "body is not valid JSON", Body: truncate(body)}
	}
	doc := gjson.Parse(body)
	if !doc.IsObject() {
		return nil, "", &UpstreamFormatError{Reason: "body is not a JSON object", Body: truncate(body)}
	}

	records := []Record{}
	collection := doc.Get(src.RecordsPath)
	if collection.Exists() && collection.Type != gjson.Null {
		if !collection.IsArray() {
			return nil, "", &UpstreamFormatError{Path: src.RecordsPath, Reason: "record collection is not an array"}
		}
		collection.ForEach(func(_, value gjson.Result) bool {
			records = append(records, Record(value.Raw))
			return true
		})
	}

	var marker string
	if src.Continue.Path != "" {
		m := doc.Get(src.Continue.Path)
		switch {
		case !m.Exists(), m.Type == gjson.Null:
		case m.Type == gjson.String, m.Type == gjson.Number:
			marker = m.String()
		default:
			return nil, "", &UpstreamFormatError{Path: src.Continue.Path, Reason: "continuation marker is not a string or number"}
		}
	}
	return records, marker, nil
}

func redactURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return "<invalid url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.Redacted()
}

func truncate(s string) string {
	if len(s) <= maxLoggedBodyLength {
		return s
	}
	return s[:maxLoggedBodyLength] + "..."
}
