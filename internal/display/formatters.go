package display

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// OutputFormat selects how results are rendered
type OutputFormat string

const (
	FormatTable   OutputFormat = "table"
	FormatJSON    OutputFormat = "json"
	FormatYAML    OutputFormat = "yaml"
	FormatCompact OutputFormat = "compact"
)

// ParseOutputFormat validates a format name
func ParseOutputFormat(name string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatTable, FormatJSON, FormatYAML, FormatCompact:
		return f, nil
	}
	return "", fmt.Errorf("invalid output format %q, must be one of: table, json, yaml, compact", name)
}

// OutputFormatter renders results for machine-readable formats
type OutputFormatter interface {
	FormatTable(headers []string, rows [][]string) (string, error)
	FormatRecord(title string, fields []Field) (string, error)
	FormatStatusMessage(level, message string) (string, error)
}

// Field is one named value of a record
type Field struct {
	Key   string
	Value interface{}
}

// NewFormatter returns the formatter for a structured format. Table output
// is rendered by the display service itself.
func NewFormatter(format OutputFormat) (OutputFormatter, error) {
	switch format {
	case FormatJSON:
		return jsonFormatter{}, nil
	case FormatYAML:
		return yamlFormatter{}, nil
	case FormatCompact:
		return compactFormatter{separator: "\t"}, nil
	}
	return nil, fmt.Errorf("no formatter for output format %q", format)
}

func tableRecords(headers []string, rows [][]string) []map[string]string {
	records := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		rec := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		records = append(records, rec)
	}
	return records
}

func fieldMap(fields []Field) map[string]interface{} {
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.Value
	}
	return m
}

type jsonFormatter struct{}

func (jsonFormatter) marshal(v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON output: %w", err)
	}
	return string(data) + "\n", nil
}

func (f jsonFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.marshal(tableRecords(headers, rows))
}

func (f jsonFormatter) FormatRecord(title string, fields []Field) (string, error) {
	if title == "" {
		return f.marshal(fieldMap(fields))
	}
	return f.marshal(map[string]interface{}{title: fieldMap(fields)})
}

func (f jsonFormatter) FormatStatusMessage(level, message string) (string, error) {
	return f.marshal(map[string]string{"level": level, "message": message})
}

type yamlFormatter struct{}

func (yamlFormatter) marshal(v interface{}) (string, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal YAML output: %w", err)
	}
	return string(data), nil
}

func (f yamlFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.marshal(tableRecords(headers, rows))
}

func (f yamlFormatter) FormatRecord(title string, fields []Field) (string, error) {
	if title == "" {
		return f.marshal(fieldMap(fields))
	}
	return f.marshal(map[string]interface{}{title: fieldMap(fields)})
}

func (f yamlFormatter) FormatStatusMessage(level, message string) (string, error) {
	return f.marshal(map[string]string{"level": level, "message": message})
}

// compactFormatter writes one line per item for scripting
type compactFormatter struct {
	separator string
}

func (f compactFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	var out strings.Builder
	if len(headers) > 0 {
		out.WriteString(strings.Join(headers, f.separator) + "\n")
	}
	for _, row := range rows {
		padded := make([]string, len(headers))
		copy(padded, row)
		if len(row) > len(headers) {
			padded = row
		}
		out.WriteString(strings.Join(padded, f.separator) + "\n")
	}
	return out.String(), nil
}

// FormatRecord writes title:key=value,key=value with keys sorted
func (f compactFormatter) FormatRecord(title string, fields []Field) (string, error) {
	sorted := append([]Field(nil), fields...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	pairs := make([]string, len(sorted))
	for i, field := range sorted {
		pairs[i] = fmt.Sprintf("%s=%v", field.Key, field.Value)
	}
	line := strings.Join(pairs, ",")
	if title != "" {
		line = strings.ToUpper(title) + ":" + line
	}
	return line + "\n", nil
}

func (f compactFormatter) FormatStatusMessage(level, message string) (string, error) {
	return fmt.Sprintf("STATUS:%s:%s\n", level, message), nil
}
