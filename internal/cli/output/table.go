package output

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
)

// TableFormatter formats data as an aligned table.
type TableFormatter struct {
	NoHeaders bool
}

// Format renders data as a table. A *Table is rendered as is; a struct
// becomes FIELD/VALUE rows, a map KEY/VALUE rows sorted by key, and a
// slice of structs one row per element.
func (f *TableFormatter) Format(w io.Writer, data any) error {
	if data == nil {
		return nil
	}
	switch t := data.(type) {
	case *Table:
		return t.render(w, f.NoHeaders)
	case Table:
		return t.render(w, f.NoHeaders)
	}

	table, err := toTable(reflect.ValueOf(data))
	if err != nil {
		return (&JSONFormatter{}).Format(w, data)
	}
	return table.render(w, f.NoHeaders)
}

func toTable(v reflect.Value) (*Table, error) {
	v = indirect(v)
	if !v.IsValid() {
		return &Table{}, nil
	}
	switch v.Kind() {
	case reflect.Struct:
		return structTable(v), nil
	case reflect.Map:
		return mapTable(v), nil
	case reflect.Slice, reflect.Array:
		return sliceTable(v)
	default:
		return nil, fmt.Errorf("unsupported type: %s", v.Kind())
	}
}

// column describes one exported struct field.
type column struct {
	index int
	name  string
	bytes bool
}

func columns(t reflect.Type) []column {
	var cols []column
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tag := field.Tag.Get("table")
		if tag == "-" {
			continue
		}
		name := field.Name
		if jsonName, _, _ := strings.Cut(field.Tag.Get("json"), ","); jsonName != "" && jsonName != "-" {
			name = jsonName
		}
		cols = append(cols, column{index: i, name: name, bytes: tag == "bytes"})
	}
	return cols
}

func structTable(v reflect.Value) *Table {
	table := &Table{Headers: []string{"FIELD", "VALUE"}}
	for _, c := range columns(v.Type()) {
		table.AddRow(c.name, cell(v.Field(c.index), c.bytes))
	}
	return table
}

func mapTable(v reflect.Value) *Table {
	table := &Table{Headers: []string{"KEY", "VALUE"}}
	iter := v.MapRange()
	for iter.Next() {
		table.AddRow(cell(iter.Key(), false), cell(iter.Value(), false))
	}
	sort.Slice(table.Rows, func(i, j int) bool { return table.Rows[i][0] < table.Rows[j][0] })
	return table
}

func sliceTable(v reflect.Value) (*Table, error) {
	elemType := v.Type().Elem()
	for elemType.Kind() == reflect.Ptr {
		elemType = elemType.Elem()
	}
	if elemType.Kind() != reflect.Struct {
		table := &Table{Headers: []string{"VALUE"}}
		for i := 0; i < v.Len(); i++ {
			table.AddRow(cell(v.Index(i), false))
		}
		return table, nil
	}

	cols := columns(elemType)
	table := &Table{}
	for _, c := range cols {
		table.Headers = append(table.Headers, strings.ToUpper(c.name))
	}
	for i := 0; i < v.Len(); i++ {
		elem := indirect(v.Index(i))
		row := make([]string, len(cols))
		for j, c := range cols {
			if elem.IsValid() {
				row[j] = cell(elem.Field(c.index), c.bytes)
			}
		}
		table.Rows = append(table.Rows, row)
	}
	return table, nil
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

var timeType = reflect.TypeOf(time.Time{})

// cell formats one value for display.
func cell(v reflect.Value, bytes bool) string {
	v = indirect(v)
	if !v.IsValid() {
		return "-"
	}
	if v.Type() == timeType {
		t := v.Interface().(time.Time)
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format(time.DateTime)
	}
	if d, ok := v.Interface().(time.Duration); ok {
		return d.String()
	}

	switch v.Kind() {
	case reflect.String:
		if v.Len() == 0 {
			return "-"
		}
		return v.String()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if bytes && v.Int() >= 0 {
			return humanize.IBytes(uint64(v.Int()))
		}
		return humanize.Comma(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if bytes {
			return humanize.IBytes(v.Uint())
		}
		return fmt.Sprintf("%d", v.Uint())
	case reflect.Float32, reflect.Float64:
		return humanize.FormatFloat("#,###.##", v.Float())
	case reflect.Bool:
		return fmt.Sprintf("%t", v.Bool())
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		if v.Len() == 0 {
			return "-"
		}
		return fmt.Sprintf("{%d keys}", v.Len())
	default:
		return fmt.Sprintf("%v", v.Interface())
	}
}

// Table is preformatted tabular data.
type Table struct {
	Headers []string
	Rows    [][]string
}

// Render renders the table with headers.
func (t *Table) Render(w io.Writer) error {
	return t.render(w, false)
}

func (t *Table) render(w io.Writer, noHeaders bool) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	if !noHeaders && len(t.Headers) > 0 {
		fmt.Fprintln(tw, strings.Join(t.Headers, "\t"))
	}
	for _, row := range t.Rows {
		fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

// AddRow appends a row.
func (t *Table) AddRow(cells ...string) {
	t.Rows = append(t.Rows, cells)
}
