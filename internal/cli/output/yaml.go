package output

import (
	"encoding/json"
	"fmt"
	"io"

	"go.yaml.in/yaml/v3"
)

// YAMLFormatter formats data as YAML.
//
// Data is first encoded as JSON so that field names follow the json tags
// used throughout the API types.
type YAMLFormatter struct{}

// Format formats data as block style YAML.
func (f *YAMLFormatter) Format(w io.Writer, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return fmt.Errorf("convert: %w", err)
	}
	clearStyle(&node)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return err
	}
	return enc.Close()
}

// clearStyle drops the flow and quoting styles inherited from the JSON
// source so the encoder picks plain block style.
func clearStyle(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		clearStyle(c)
	}
}
