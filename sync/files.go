package sync

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

//go:embed defaults.yaml
var embeddedDefaults embed.FS

type ConfigFile struct {
	Name   string
	Reader io.Reader
	Length int
}

// ConfigFiles locates YAML config files in a file system, typically the
// embedded defaults or a directory on disk.
type ConfigFiles struct {
	Root  string
	Files fs.ReadFileFS
}

// EmbeddedConfigFiles returns the config files compiled into the binary.
func EmbeddedConfigFiles() ConfigFiles {
	return ConfigFiles{Root: ".", Files: embeddedDefaults}
}

func (cf ConfigFiles) MustFindConfigFile(filename string) (ConfigFile, error) {
	var result ConfigFile
	name := path.Join(cf.Root, filename)
	contents, err := cf.Files.ReadFile(name)
	if err == nil {
		result.Name = name
		result.Reader = bytes.NewReader(contents)
		result.Length = len(contents)
	}
	return result, err
}

func (cf ConfigFiles) MustFindDefaultsConfigFile() (ConfigFile, error) {
	return cf.MustFindConfigFile("defaults.yaml")
}

// ReadConfigFile reads a config file from disk. An empty name yields an empty
// ConfigFile, which the unmarshaler skips.
func ReadConfigFile(name string) (ConfigFile, error) {
	var result ConfigFile
	if name == "" {
		return result, nil
	}
	contents, err := os.ReadFile(name)
	if err != nil {
		return result, fmt.Errorf("failed to read config file %s %w", name, err)
	}
	result.Name = name
	result.Reader = bytes.NewReader(contents)
	result.Length = len(contents)
	return result, nil
}

// LoadConfig layers the embedded defaults under the optional user file.
func LoadConfig(compev CompositeEnvVar, userFile string) (Config, error) {
	defaults, err := EmbeddedConfigFiles().MustFindDefaultsConfigFile()
	if err != nil {
		return Config{}, fmt.Errorf("failed to read defaults config file %w", err)
	}
	user, err := ReadConfigFile(userFile)
	if err != nil {
		return Config{}, err
	}
	return YAMLConfigUnmarshaler{}.Unmarshal(compev, defaults, user)
}

// ResultsFileName returns the name used for a saved sync result.
func ResultsFileName(dir string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("data_download_%s.json", at.UTC().Format(StateTimestampFormat)))
}

// WriteRecords streams all records of all tables into w as a single JSON
// array, tables in name order, records in arrival order.
func WriteRecords(w io.Writer, records map[string][]Record) error {
	tables := make([]string, 0, len(records))
	for table := range records {
		tables = append(tables, table)
	}
	sort.Strings(tables)

	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}
	first := true
	for _, table := range tables {
		for _, record := range records[table] {
			if !first {
				if _, err := io.WriteString(w, "\n,\n"); err != nil {
					return err
				}
			}
			first = false
			b, err := json.Marshal(record)
			if err != nil {
				return fmt.Errorf("failed to encode record from %s %w", table, err)
			}
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
	}
	_, err := io.WriteString(w, "\n]\n")
	return err
}

// SaveRecords writes records to a new results file in dir and returns its
// name. Nothing is written when there are no records.
func SaveRecords(dir string, at time.Time, records map[string][]Record) (string, error) {
	if len(records) == 0 {
		return "", nil
	}
	name := ResultsFileName(dir, at)
	f, err := os.Create(name)
	if err != nil {
		return "", err
	}
	err = WriteRecords(f, records)
	return name, errors.Join(err, f.Close())
}

// ReadStateFile loads a persisted State. A missing file means a first-ever sync.
func ReadStateFile(name string) (State, error) {
	var result State
	b, err := os.ReadFile(name)
	if errors.Is(err, fs.ErrNotExist) {
		return result, nil
	}
	if err != nil {
		return result, err
	}
	if len(bytes.TrimSpace(b)) == 0 {
		return result, nil
	}
	if err := json.Unmarshal(b, &result); err != nil {
		return result, fmt.Errorf("failed to parse state file %s %w", name, err)
	}
	return result, nil
}

// WriteStateFile persists state, replacing the file atomically.
func WriteStateFile(name string, state State) error {
	b, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	tmp := name + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, name)
}
