package sync

import (
	"fmt"
	"sort"

	"github.com/iancoleman/strcase"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// TableMapper turns upstream records into destination table rows.
type TableMapper struct {
	Table      string
	PrimaryKey []string
	// columns in name order, each with the gjson path it reads
	columns []column
}

type column struct {
	name string
	path string
}

// NewTableMapper normalises the table name to snake_case, which is what the
// destination creates it as anyway. Mapped column names and the primary key
// are normalised too; pass-through records keep their upstream field names,
// so the primary key is then used as configured.
func NewTableMapper(settings TableSettings) (TableMapper, error) {
	result := TableMapper{
		Table:      strcase.ToSnake(settings.Name),
		PrimaryKey: append([]string(nil), settings.PrimaryKey...),
	}
	if len(settings.Columns) == 0 {
		return result, nil
	}

	names := make(map[string]bool, len(settings.Columns))
	for name, path := range settings.Columns {
		snake := strcase.ToSnake(name)
		if names[snake] {
			return result, &ConfigurationError{Key: "table.columns." + name, Reason: "duplicates another column once converted to snake_case"}
		}
		names[snake] = true
		result.columns = append(result.columns, column{name: snake, path: path})
	}
	sort.Slice(result.columns, func(i, j int) bool {
		return result.columns[i].name < result.columns[j].name
	})
	for i, key := range result.PrimaryKey {
		result.PrimaryKey[i] = strcase.ToSnake(key)
		if !names[result.PrimaryKey[i]] {
			return result, &ConfigurationError{Key: "table.primaryKey", Reason: fmt.Sprintf("%s is not a mapped column", key)}
		}
	}
	return result, nil
}

// PassThrough reports whether records are emitted unchanged.
func (m TableMapper) PassThrough() bool {
	return len(m.columns) == 0
}

// MapRecords maps each record, preserving order.
func (m TableMapper) MapRecords(records []Record) ([]Record, error) {
	if m.PassThrough() {
		return records, nil
	}
	result := make([]Record, 0, len(records))
	for i, record := range records {
		row, err := m.mapRecord(record)
		if err != nil {
			return nil, fmt.Errorf("failed to map record %d of %s %w", i, m.Table, err)
		}
		result = append(result, row)
	}
	return result, nil
}

// mapRecord builds a row from the configured columns. Values are copied as
// raw JSON; missing values become null. A path wrapped in backticks is a
// static string rather than a path.
func (m TableMapper) mapRecord(record Record) (Record, error) {
	row := "{}"
	var err error
	for _, c := range m.columns {
		if len(c.path) >= 2 && c.path[0] == '`' && c.path[len(c.path)-1] == '`' {
			row, err = sjson.Set(row, escapeKey(c.name), c.path[1:len(c.path)-1])
		} else {
			value := gjson.GetBytes(record, c.path)
			raw := "null"
			if value.Exists() && value.Raw != "" {
				raw = value.Raw
			}
			row, err = sjson.SetRaw(row, escapeKey(c.name), raw)
		}
		if err != nil {
			return nil, fmt.Errorf("column %s %w", c.name, err)
		}
	}
	return Record(row), nil
}

// escapeKey stops sjson treating path syntax left in a column name as a path.
func escapeKey(name string) string {
	escaped := make([]byte, 0, len(name))
	for i := 0; i < len(name); i++ {
		switch name[i] {
		case '*', '?', '|', '#', '@', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, name[i])
	}
	return string(escaped)
}
