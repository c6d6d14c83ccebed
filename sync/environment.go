package sync

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// DefaultSecretsEnvVar is the environment variable holding secrets as a JSON
// object, the same shape the orchestrator sends in Request.Secrets.
const DefaultSecretsEnvVar = "FIVETRAN_SECRETS"

// SecretNames returns the secret keys referenced by the source settings.
func (s SourceSettings) SecretNames() []string {
	var result []string
	for _, name := range []string{s.Secrets.Endpoint, s.Secrets.APIKey, s.Secrets.Username, s.Secrets.Password} {
		if name != "" {
			result = append(result, name)
		}
	}
	return result
}

// SecretsFromEnvironment collects the named secrets using compev. Names with
// no value are left out, so a missing required secret surfaces later as a
// ConfigurationError from the fetcher.
func SecretsFromEnvironment(compev CompositeEnvVar, names ...string) Secrets {
	result := make(Secrets)
	for _, name := range names {
		if v, ok := compev.LookupEnv(name); ok && v != "" {
			result[name] = v
		}
	}
	return result
}

// FindSecretsEnvVar scans environment variables for a JSON value containing
// the given key. It returns the name of the single matching variable, "" when
// none match, and an error when several do.
func FindSecretsEnvVar(key string) (string, error) {
	var matches []string
	for _, env := range os.Environ() {
		parts := strings.SplitN(env, "=", 2)
		if len(parts) != 2 {
			continue
		}
		name, value := parts[0], parts[1]

		var m map[string]string
		if err := json.Unmarshal([]byte(value), &m); err != nil {
			// most env vars are plain strings, not JSON
			continue
		}
		if _, ok := m[key]; ok {
			matches = append(matches, name)
		}
	}

	switch len(matches) {
	case 0:
		return "", nil
	case 1:
		return matches[0], nil
	default:
		sort.Strings(matches)
		return "", fmt.Errorf("found multiple env vars with %s: %s", key, strings.Join(matches, ", "))
	}
}

// ResolveSecretsEnvVar returns the env var to read JSON secrets from. The
// preferred variable wins when it is set; otherwise the environment is
// searched for a single JSON variable holding key. With no match the
// preferred name is returned, so plain env vars are still consulted.
func ResolveSecretsEnvVar(preferred, key string) (string, error) {
	if preferred != "" && os.Getenv(preferred) != "" {
		return preferred, nil
	}
	if key == "" {
		return preferred, nil
	}
	found, err := FindSecretsEnvVar(key)
	if err != nil {
		return "", err
	}
	if found == "" {
		return preferred, nil
	}
	return found, nil
}

// ParseSecretAssignments parses KEY=VALUE pairs, as passed on the command line.
func ParseSecretAssignments(pairs []string) (Secrets, error) {
	result := make(Secrets, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, &ConfigurationError{Key: p, Reason: "is not a KEY=VALUE pair"}
		}
		result[k] = v
	}
	return result, nil
}

// Merge returns a copy of s overlaid with other.
func (s Secrets) Merge(other Secrets) Secrets {
	result := make(Secrets, len(s)+len(other))
	for k, v := range s {
		result[k] = v
	}
	for k, v := range other {
		result[k] = v
	}
	return result
}
