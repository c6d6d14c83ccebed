package sync

import (
	"bytes"
	"encoding/csv"
	"slices"
	"strings"
)

// ColumnDocRow represents a single row in the table mapping documentation.
type ColumnDocRow struct {
	Column     string // destination column (snake_case)
	SourcePath string // gjson path into the upstream record
	Modifiers  string // modifiers applied to the path, e.g. "@pathJoinURL:https://..."
	Static     bool   // the value is a fixed string rather than a path
	PrimaryKey bool
}

// TableDocumentation describes the destination table produced by a config.
type TableDocumentation struct {
	Table       string
	PassThrough bool
	Rows        []ColumnDocRow
}

// GenerateTableDocumentation documents the table mapper built from config.
// Pass-through tables only list their primary key, since their columns are
// whatever the upstream returns.
func GenerateTableDocumentation(config Config) (TableDocumentation, error) {
	mapper, err := NewTableMapper(config.Table)
	if err != nil {
		return TableDocumentation{}, err
	}
	doc := TableDocumentation{
		Table:       mapper.Table,
		PassThrough: mapper.PassThrough(),
	}
	if mapper.PassThrough() {
		for _, key := range mapper.PrimaryKey {
			doc.Rows = append(doc.Rows, ColumnDocRow{Column: key, SourcePath: key, PrimaryKey: true})
		}
		return doc, nil
	}
	for _, c := range mapper.columns {
		row := ColumnDocRow{
			Column:     c.name,
			PrimaryKey: slices.Contains(mapper.PrimaryKey, c.name),
		}
		if len(c.path) >= 2 && c.path[0] == '`' && c.path[len(c.path)-1] == '`' {
			row.Static = true
			row.SourcePath = c.path[1 : len(c.path)-1]
		} else {
			row.SourcePath, row.Modifiers = parseSourcePath(c.path)
		}
		doc.Rows = append(doc.Rows, row)
	}
	return doc, nil
}

// parseSourcePath splits "path|@mod1|@mod2:arg" into the path and its modifiers.
func parseSourcePath(path string) (string, string) {
	parts := strings.Split(path, "|")
	var modifiers []string
	for _, p := range parts[1:] {
		if strings.HasPrefix(p, "@") {
			modifiers = append(modifiers, p)
		}
	}
	return parts[0], strings.Join(modifiers, " ")
}

// CSV renders the documentation with a header row.
func (d TableDocumentation) CSV() (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	records := [][]string{{"Table", "Column", "Source Path", "Modifiers", "Static", "Primary Key"}}
	for _, r := range d.Rows {
		records = append(records, []string{
			d.Table,
			r.Column,
			r.SourcePath,
			r.Modifiers,
			boolString(r.Static),
			boolString(r.PrimaryKey),
		})
	}
	if err := w.WriteAll(records); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func boolString(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
