package confloader

import (
	"errors"
	"strings"
)

var errNoBytes = errors.New("confloader: override provider has no byte form")

// overrideProvider feeds already-nested values to koanf. koanf calls Read
// when the parser is nil.
type overrideProvider map[string]any

func (p overrideProvider) ReadBytes() ([]byte, error) { return nil, errNoBytes }

func (p overrideProvider) Read() (map[string]any, error) { return p, nil }

// nested turns {"storage.data_dir": v} into {"storage": {"data_dir": v}}.
func nested(flat map[string]any) overrideProvider {
	root := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		m := root
		for _, p := range parts[:len(parts)-1] {
			child, ok := m[p].(map[string]any)
			if !ok {
				child = make(map[string]any)
				m[p] = child
			}
			m = child
		}
		m[parts[len(parts)-1]] = v
	}
	return overrideProvider(root)
}
