package confloader

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// DefaultEnvPrefix is the default environment variable prefix.
const DefaultEnvPrefix = "WORKINGDB_"

// Loader layers configuration sources on top of a struct holding the
// defaults. Each Load starts from a fresh koanf instance, so one Loader
// may be reused for reloads.
type Loader struct {
	envPrefix string
	filePath  string
	overrides map[string]any
}

// Option configures a Loader.
type Option func(*Loader)

// WithEnvPrefix sets the environment variable prefix.
func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = prefix
	}
}

// WithConfigFile sets the YAML file to read. An empty path reads no file.
func WithConfigFile(path string) Option {
	return func(l *Loader) {
		l.filePath = path
	}
}

// WithOverride sets a dotted key ("storage.data_dir") above every other
// source. Command line flags use it.
func WithOverride(key string, value any) Option {
	return func(l *Loader) {
		if l.overrides == nil {
			l.overrides = make(map[string]any)
		}
		l.overrides[key] = value
	}
}

// NewLoader creates a loader.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{envPrefix: DefaultEnvPrefix}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Load unmarshals every source on top of target. Fields no source sets
// keep their current value. Later sources win:
//  1. values already in target
//  2. configuration file (YAML)
//  3. environment variables
//  4. overrides
func (l *Loader) Load(target any) error {
	k := koanf.New(".")

	if l.filePath != "" {
		if err := k.Load(file.Provider(l.filePath), yaml.Parser()); err != nil {
			return fmt.Errorf("load config file %s: %w", l.filePath, err)
		}
	}

	transform := envTransform(l.envPrefix, KeysOf(target))
	if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
		return fmt.Errorf("load env: %w", err)
	}

	if len(l.overrides) > 0 {
		if err := k.Load(nested(l.overrides), nil); err != nil {
			return fmt.Errorf("load overrides: %w", err)
		}
	}

	if err := k.Unmarshal("", target); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// envTransform maps PREFIX_SECTION_KEY to a koanf key. Known keys are
// looked up so WORKINGDB_SERVER_REDIS_READ_TIMEOUT becomes
// server.redis.read_timeout; unknown names turn every underscore into a dot.
func envTransform(prefix string, known map[string]string) func(string) string {
	return func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, prefix))
		if key, ok := known[s]; ok {
			return key
		}
		return strings.ReplaceAll(s, "_", ".")
	}
}

// KeysOf walks the koanf tags of a struct (or pointer to struct) and
// returns every leaf key, indexed by its underscore-joined form.
// Embedded structs tagged ",squash" contribute their fields to the parent.
func KeysOf(v any) map[string]string {
	keys := make(map[string]string)
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return keys
	}
	collectKeys(t, "", keys)
	return keys
}

func collectKeys(t reflect.Type, prefix string, keys map[string]string) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, opts, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		ft := f.Type
		for ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}

		if opts == "squash" && ft.Kind() == reflect.Struct {
			collectKeys(ft, prefix, keys)
			continue
		}
		if name == "" || name == "-" {
			continue
		}

		key := name
		if prefix != "" {
			key = prefix + "." + name
		}
		if ft.Kind() == reflect.Struct && ft.PkgPath() != "time" {
			collectKeys(ft, key, keys)
			continue
		}
		keys[strings.ReplaceAll(key, ".", "_")] = key
	}
}
