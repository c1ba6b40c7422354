package output

import (
	"encoding/json"
	"io"
)

// JSONFormatter writes data as indented JSON. HTML characters are left
// unescaped because stored values are printed verbatim.
type JSONFormatter struct{}

func (f *JSONFormatter) Format(w io.Writer, data any) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(data)
}
