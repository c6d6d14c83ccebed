package sync

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog"
)

// Record is a single upstream record, kept as raw JSON so it reaches the
// destination exactly as the API returned it.
type Record = json.RawMessage

// Secrets maps configuration keys (BASE_URL, API_KEY, ...) to values.
// Secrets are read-only and must never be logged in full.
type Secrets map[string]string

// MarshalZerologObject logs which secrets are present, never their values.
func (s Secrets) MarshalZerologObject(e *zerolog.Event) {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		e.Str(k, "****")
	}
}

// Request is what the orchestrator sends on every invocation.
type Request struct {
	State   State   `json:"state"`
	Secrets Secrets `json:"secrets"`
}

// TableSchema declares the primary key of a destination table.
type TableSchema struct {
	PrimaryKey []string `json:"primary_key"`
}

// Envelope is the response shape the orchestrator expects from every invocation.
// It is built fresh each call and never retained.
type Envelope struct {
	State   State                  `json:"state"`
	Insert  map[string][]Record    `json:"insert"`
	Delete  map[string][]Record    `json:"delete"`
	Schema  map[string]TableSchema `json:"schema"`
	HasMore bool                   `json:"hasMore"`
}

// NewEnvelope returns an envelope declaring table with the given primary key
// and no records.
func NewEnvelope(table string, primaryKey []string) Envelope {
	return Envelope{
		Insert: map[string][]Record{
			table: {},
		},
		Delete: map[string][]Record{},
		Schema: map[string]TableSchema{
			table: {PrimaryKey: primaryKey},
		},
	}
}

// RecordCount returns the number of records to insert across all tables.
func (e Envelope) RecordCount() int {
	n := 0
	for _, records := range e.Insert {
		n += len(records)
	}
	return n
}

// PageResult is the outcome of a single page fetch.
type PageResult struct {
	Records []Record
	State   State
	HasMore bool
}
