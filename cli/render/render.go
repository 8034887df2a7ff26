// Package render writes command results as json, table or yaml.
//
// Format selection:
//   - If output is a TTY, default to table
//   - If output is not a TTY, default to json
//   - --format always overrides the default
//   - Invalid formats are errors
//
// Table output hides fields tagged `table:"-"`; json and yaml always carry
// the full payload.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format represents an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

var timeType = reflect.TypeOf(time.Time{})

// ParseFormat parses a format string, returning an error for invalid formats.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "json":
		return FormatJSON, nil
	case "table":
		return FormatTable, nil
	case "yaml":
		return FormatYAML, nil
	case "":
		return "", nil // Let caller decide default
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer handles output formatting.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer creates a renderer from the --format and --no-color flags,
// writing to the command's stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	out := c.App.Writer
	if out == nil {
		out = os.Stdout
	}
	return New(c.String("format"), c.Bool("no-color"), out)
}

// New creates a renderer for format, defaulting by TTY detection on out.
func New(format string, noColor bool, out io.Writer) (*Renderer, error) {
	f, err := ParseFormat(format)
	if err != nil {
		return nil, err
	}
	if f == "" {
		if isTTY(out) {
			f = FormatTable
		} else {
			f = FormatJSON
		}
	}
	return &Renderer{format: f, noColor: noColor, out: out}, nil
}

// NewRendererWithWriter creates a renderer with a fixed format (for testing).
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{
		format:  format,
		noColor: noColor,
		out:     out,
	}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// NoColor reports whether --no-color was set.
func (r *Renderer) NoColor() bool {
	return r.noColor
}

// Render outputs the data in the configured format.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		return r.renderJSON(data)
	case FormatTable:
		return r.renderTable(data)
	case FormatYAML:
		return r.renderYAML(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderJSON(data any) error {
	enc := json.NewEncoder(r.out)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}

func (r *Renderer) renderYAML(data any) error {
	enc := yaml.NewEncoder(r.out)
	enc.SetIndent(2)
	if err := enc.Encode(data); err != nil {
		return err
	}
	return enc.Close()
}

func (r *Renderer) renderTable(data any) error {
	v := reflect.ValueOf(data)
	if v.Kind() == reflect.Slice {
		return r.renderSliceTable(v)
	}
	return r.renderStructTable(v)
}

func (r *Renderer) renderSliceTable(v reflect.Value) error {
	if v.Len() == 0 {
		fmt.Fprintln(r.out, "(no results)")
		return nil
	}

	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	first := indirect(v.Index(0))
	if first.Kind() != reflect.Struct {
		for i := 0; i < v.Len(); i++ {
			fmt.Fprintln(w, formatValue(v.Index(i)))
		}
		return nil
	}

	fields := tableFields(first.Type())
	headers := make([]string, len(fields))
	for i, f := range fields {
		headers[i] = fieldName(first.Type().Field(f))
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	for i := 0; i < v.Len(); i++ {
		row := indirect(v.Index(i))
		values := make([]string, len(fields))
		for j, f := range fields {
			values[j] = formatValue(row.Field(f))
		}
		fmt.Fprintln(w, strings.Join(values, "\t"))
	}
	return nil
}

func (r *Renderer) renderStructTable(v reflect.Value) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	v = indirect(v)
	switch v.Kind() {
	case reflect.Struct:
		writeStructRows(w, v, "")
	case reflect.Map:
		iter := v.MapRange()
		for iter.Next() {
			fmt.Fprintf(w, "%v:\t%s\n", iter.Key().Interface(), formatValue(iter.Value()))
		}
	case reflect.Invalid:
		fmt.Fprintln(w, "(no results)")
	default:
		fmt.Fprintf(w, "%v\n", v.Interface())
	}
	return nil
}

// writeStructRows prints one "name: value" row per field. Nested structs
// are flattened with dotted names.
func writeStructRows(w io.Writer, v reflect.Value, prefix string) {
	t := v.Type()
	for _, i := range tableFields(t) {
		name := prefix + fieldName(t.Field(i))
		fv := indirect(v.Field(i))
		if fv.Kind() == reflect.Struct && fv.Type() != timeType {
			writeStructRows(w, fv, name+".")
			continue
		}
		fmt.Fprintf(w, "%s:\t%s\n", name, formatValue(v.Field(i)))
	}
}

// tableFields returns the indexes of exported fields not tagged `table:"-"`.
func tableFields(t reflect.Type) []int {
	var out []int
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() || f.Tag.Get("table") == "-" {
			continue
		}
		out = append(out, i)
	}
	return out
}

func fieldName(f reflect.StructField) string {
	if tag := f.Tag.Get("json"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return strings.ToLower(f.Name)
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "[]"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "{}"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		if v.Type() == timeType {
			t := v.Interface().(time.Time)
			if t.IsZero() {
				return ""
			}
			return t.UTC().Format(time.RFC3339)
		}
		return "{...}"
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// isTTY returns true if the writer is a terminal.
func isTTY(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
