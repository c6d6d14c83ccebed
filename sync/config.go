package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"go.uber.org/config"
)

type Config struct {
	Source SourceSettings `yaml:"source"`
	Table  TableSettings  `yaml:"table"`
	Sync   SyncSettings   `yaml:"sync"`
}

// SourceSettings describes how to page through the upstream API. Parameter
// names are configurable so the same fetcher serves any API that pages with
// a time lower bound and an opaque continuation token.
type SourceSettings struct {
	// Endpoint overrides the endpoint secret when set.
	Endpoint string `yaml:"endpoint"`
	// Params are sent unchanged on every request (e.g. action, list, format).
	// Params with an empty value are not sent, so a user config file drops a
	// default by setting it to null.
	Params    map[string]string `yaml:"params"`
	Watermark struct {
		Param string `yaml:"param"`
	} `yaml:"watermark"`
	Direction struct {
		Param string `yaml:"param"`
		Value string `yaml:"value"`
	} `yaml:"direction"`
	Limit struct {
		Param string `yaml:"param"`
		Value int    `yaml:"value"`
	} `yaml:"limit"`
	Continue struct {
		Param string `yaml:"param"` // request parameter carrying the token
		Path  string `yaml:"path"`  // gjson path of the marker in the response
	} `yaml:"continue"`
	RecordsPath string     `yaml:"recordsPath"`
	Secrets     SecretKeys `yaml:"secrets"`
}

// SecretKeys names the Secrets entries the fetcher reads.
type SecretKeys struct {
	Endpoint     string `yaml:"endpoint"`
	APIKey       string `yaml:"apiKey"`
	APIKeyHeader string `yaml:"apiKeyHeader"`
	Username     string `yaml:"username"`
	Password     string `yaml:"password"`
}

type TableSettings struct {
	Name       string   `yaml:"name"`
	PrimaryKey []string `yaml:"primaryKey"`
	// Columns maps destination column names to gjson paths into each record.
	// An empty mapping passes records through unchanged.
	Columns map[string]string `yaml:"columns"`
}

type SyncSettings struct {
	// MaxPages bounds a whole sync, pages fetched before a retry included.
	MaxPages       int     `yaml:"maxPages"`
	PagesPerSecond float64 `yaml:"pagesPerSecond"`
	Retries        int     `yaml:"retries"`
	RetryMin       string  `yaml:"retryMin"`
	RetryMax       string  `yaml:"retryMax"`
}

// RetryBounds parses RetryMin and RetryMax, falling back to 1s and 30s.
func (s SyncSettings) RetryBounds() (time.Duration, time.Duration, error) {
	parse := func(key, value string, fallback time.Duration) (time.Duration, error) {
		if value == "" {
			return fallback, nil
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return 0, &ConfigurationError{Key: key, Reason: fmt.Sprintf("is not a duration: %v", err)}
		}
		return d, nil
	}
	lower, err := parse("sync.retryMin", s.RetryMin, time.Second)
	if err != nil {
		return 0, 0, err
	}
	upper, err := parse("sync.retryMax", s.RetryMax, 30*time.Second)
	if err != nil {
		return 0, 0, err
	}
	if upper < lower {
		return 0, 0, &ConfigurationError{Key: "sync.retryMax", Reason: "must not be less than sync.retryMin"}
	}
	return lower, upper, nil
}

// Validate checks the settings the fetcher and mapper cannot work without.
func (c Config) Validate() error {
	switch {
	case c.Source.RecordsPath == "":
		return &ConfigurationError{Key: "source.recordsPath", Reason: "is required"}
	case c.Source.Watermark.Param == "":
		return &ConfigurationError{Key: "source.watermark.param", Reason: "is required"}
	case (c.Source.Continue.Param == "") != (c.Source.Continue.Path == ""):
		return &ConfigurationError{Key: "source.continue", Reason: "needs both param and path"}
	case c.Source.Limit.Value < 0:
		return &ConfigurationError{Key: "source.limit.value", Reason: "must not be negative"}
	case c.Source.Endpoint == "" && c.Source.Secrets.Endpoint == "":
		return &ConfigurationError{Key: "source.secrets.endpoint", Reason: "is required when source.endpoint is not set"}
	case c.Table.Name == "":
		return &ConfigurationError{Key: "table.name", Reason: "is required"}
	case len(c.Table.PrimaryKey) == 0:
		return &ConfigurationError{Key: "table.primaryKey", Reason: "is required"}
	case c.Sync.MaxPages < 0:
		return &ConfigurationError{Key: "sync.maxPages", Reason: "must not be negative"}
	case c.Sync.PagesPerSecond < 0:
		return &ConfigurationError{Key: "sync.pagesPerSecond", Reason: "must not be negative"}
	case c.Sync.Retries < 0:
		return &ConfigurationError{Key: "sync.retries", Reason: "must not be negative"}
	}
	_, _, err := c.Sync.RetryBounds()
	return err
}

type CompositeEnvVar interface {
	LookupEnv(child string) (string, bool)
}

// JSONCompositeEnvVar looks values up in an environment variable holding a
// JSON object, e.g. FIVETRAN_SECRETS='{"BASE_URL":"https://..."}', and falls
// back to plain environment variables.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(child string) (string, bool) {
	if c.Parent != "" {
		s := os.Getenv(c.Parent)
		if s != "" {
			m := make(map[string]string)
			err := json.Unmarshal([]byte(s), &m)
			if err == nil {
				if v, exists := m[child]; exists {
					return v, true
				}
			}
		}
	}
	return os.LookupEnv(child)
}

type YAMLConfigUnmarshaler struct{}

// Unmarshal layers sources in order (later sources override earlier ones) and
// expands ${VAR} references using compev.
func (u YAMLConfigUnmarshaler) Unmarshal(compev CompositeEnvVar, sources ...ConfigFile) (Config, error) {
	var result Config
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
	}
	options = append(options, config.Expand(compev.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}
	key := "source"
	err = yaml.Get(key).Populate(&result.Source)
	if err != nil {
		return result, readError(key, err)
	}
	key = "table"
	err = yaml.Get(key).Populate(&result.Table)
	if err != nil {
		return result, readError(key, err)
	}
	key = "sync"
	if yaml.Get(key).HasValue() {
		err = yaml.Get(key).Populate(&result.Sync)
		if err != nil {
			return result, readError(key, err)
		}
	}

	return result, result.Validate()
}
