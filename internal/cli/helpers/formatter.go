// Package helpers holds output and flag plumbing shared by the CLI commands.
package helpers

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

// OutputFormat represents the desired output format.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatJSON  OutputFormat = "json"
	FormatCSV   OutputFormat = "csv"
)

// SupportedFormats lists every format NewFormatter accepts.
var SupportedFormats = []OutputFormat{FormatTable, FormatJSON, FormatCSV}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Formatter renders a slice of rows.
type Formatter interface {
	Format(data any, writer io.Writer) error
}

// NewFormatter creates a new Formatter for the given format.
func NewFormatter(format OutputFormat) (Formatter, error) {
	switch format {
	case FormatTable:
		return &TableFormatter{}, nil
	case FormatJSON:
		return &JSONFormatter{}, nil
	case FormatCSV:
		return &CSVFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// JSONFormatter formats data as indented JSON.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(data any, writer io.Writer) error {
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

// TableFormatter renders a slice of structs as a bordered table. Columns
// are the fields carrying a `header` tag.
type TableFormatter struct{}

func (f *TableFormatter) Format(data any, writer io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err = fmt.Fprintln(writer, t.String())
	return err
}

// CSVFormatter formats data as CSV using the same columns as TableFormatter.
type CSVFormatter struct{}

func (f *CSVFormatter) Format(data any, writer io.Writer) error {
	headers, rows, err := tabulate(data)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	w := csv.NewWriter(writer)
	if err := w.Write(headers); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return w.Error()
}

func tabulate(data any) ([]string, [][]string, error) {
	val := reflect.ValueOf(data)
	if val.Kind() != reflect.Slice {
		return nil, nil, fmt.Errorf("data must be a slice")
	}

	elem := val.Type().Elem()
	if elem.Kind() == reflect.Pointer {
		elem = elem.Elem()
	}
	if elem.Kind() != reflect.Struct {
		return nil, nil, fmt.Errorf("slice elements must be structs, got %s", elem.Kind())
	}

	var (
		headers []string
		fields  []int
	)
	for i := 0; i < elem.NumField(); i++ {
		if h := elem.Field(i).Tag.Get("header"); h != "" {
			headers = append(headers, h)
			fields = append(fields, i)
		}
	}

	rows := make([][]string, 0, val.Len())
	for i := 0; i < val.Len(); i++ {
		v := val.Index(i)
		if v.Kind() == reflect.Pointer {
			v = v.Elem()
		}
		row := make([]string, len(fields))
		for j, idx := range fields {
			row[j] = formatCell(v.Field(idx), elem.Field(idx).Tag.Get("fmt"))
		}
		rows = append(rows, row)
	}

	return headers, rows, nil
}

func formatCell(v reflect.Value, verb string) string {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return "-"
		}
		v = v.Elem()
	}

	switch x := v.Interface().(type) {
	case time.Time:
		if x.IsZero() {
			return "-"
		}
		return x.Local().Format("2006-01-02 15:04:05.000")
	case time.Duration:
		return x.String()
	}

	if verb == "hex" {
		return fmt.Sprintf("%#x", v.Interface())
	}
	return fmt.Sprintf("%v", v.Interface())
}
