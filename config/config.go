// Package config provides the hierarchical key/value sections the database
// builder reads its options from. Keys are addressed with dot paths
// ("mysql.connection_string") and values are coerced on access.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Section is a nested string-keyed map with dot-path addressing.
// A path segment descends into a child section; the final segment names
// the value. Sections are not safe for concurrent mutation.
type Section struct {
	values map[string]any
}

func New() *Section {
	return &Section{values: map[string]any{}}
}

// FromMap wraps an existing map. Nested map[string]any values are
// reachable through dot paths without copying.
func FromMap(values map[string]any) *Section {
	if values == nil {
		values = map[string]any{}
	}
	return &Section{values: values}
}

// Load reads a YAML file into a section.
func Load(path string) (*Section, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(buf, &values); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &Section{values: values}, nil
}

// Save writes the section back out as YAML.
func (s *Section) Save(path string) error {
	buf, err := yaml.Marshal(s.values)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, buf, 0o644)
}

// Set stores a value under a dot path, creating intermediate sections
// as needed. Returns the section for chaining.
func (s *Section) Set(path string, value any) *Section {
	segments := strings.Split(path, ".")
	m := s.values
	for _, seg := range segments[:len(segments)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			child = map[string]any{}
			m[seg] = child
		}
		m = child
	}
	m[segments[len(segments)-1]] = value
	return s
}

// Get returns the raw value under a dot path.
func (s *Section) Get(path string) (any, bool) {
	segments := strings.Split(path, ".")
	m := s.values
	for _, seg := range segments[:len(segments)-1] {
		child, ok := m[seg].(map[string]any)
		if !ok {
			return nil, false
		}
		m = child
	}
	v, ok := m[segments[len(segments)-1]]
	return v, ok
}

// Section returns the child section under a dot path, or an empty
// section when the path is absent.
func (s *Section) Section(path string) *Section {
	v, ok := s.Get(path)
	if !ok {
		return New()
	}
	child, ok := v.(map[string]any)
	if !ok {
		return New()
	}
	return &Section{values: child}
}

// Keys lists the top-level keys of this section.
func (s *Section) Keys() []string {
	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}
	return keys
}

// Map exposes the backing map. Mutations are visible to the section.
func (s *Section) Map() map[string]any {
	return s.values
}

// GetString returns the value as a string, or def when absent.
// Non-string scalars are formatted.
func (s *Section) GetString(path, def string) string {
	v, ok := s.Get(path)
	if !ok || v == nil {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// GetBool returns the value as a bool, or def when absent. Strings
// "true"/"false" and integers 0/1 coerce.
func (s *Section) GetBool(path string, def bool) bool {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			return def
		}
		return b
	case int:
		return t != 0
	case int64:
		return t != 0
	default:
		return def
	}
}

// GetInt64 returns the value as an int64, or def when absent. All
// integer widths and numeric strings coerce; floats truncate.
func (s *Section) GetInt64(path string, def int64) int64 {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case uint64:
		return int64(t)
	case float64:
		return int64(t)
	case float32:
		return int64(t)
	case string:
		n, err := strconv.ParseInt(t, 10, 64)
		if err != nil {
			return def
		}
		return n
	default:
		return def
	}
}

// GetInt returns the value as an int, or def when absent.
func (s *Section) GetInt(path string, def int) int {
	return int(s.GetInt64(path, int64(def)))
}

// GetFloat64 returns the value as a float64, or def when absent.
func (s *Section) GetFloat64(path string, def float64) float64 {
	v, ok := s.Get(path)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return def
		}
		return f
	default:
		return def
	}
}
