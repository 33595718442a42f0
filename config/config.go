// Package config resolves environment and agent configuration documents
// into loosely-typed nested mappings. Structural parsing only lives here;
// semantic validation is owned by the adapter consuming the spec.
package config

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var (
	// ErrNotFound is returned when the configuration document is missing.
	ErrNotFound = errors.New("config file not found")
	// ErrMalformed is returned when the document cannot be parsed into the
	// expected mapping shape.
	ErrMalformed = errors.New("config file malformed")
)

// InvalidParameterError names a spec key a consuming adapter rejected.
// Fatal to run start.
type InvalidParameterError struct {
	Key    string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %q: %s", e.Key, e.Reason)
}

// InvalidParam builds an InvalidParameterError for key.
func InvalidParam(key, format string, args ...interface{}) error {
	return &InvalidParameterError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

// Spec is a nested mapping of parameter names to typed values. Unknown keys
// are ignored by consumers, never an error; every consumed key must be
// present or have a defined default.
type Spec struct {
	values map[string]interface{}
}

// Load reads a configuration document from path.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(ErrNotFound, path)
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return Parse(data, path)
}

// Parse builds a Spec from raw document bytes. name is used in error text.
func Parse(data []byte, name string) (*Spec, error) {
	values := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, errors.Wrapf(ErrMalformed, "%s: %v", name, err)
	}
	return &Spec{values: values}, nil
}

// New wraps an existing mapping as a Spec. Intended for tests and derived
// sub-documents.
func New(values map[string]interface{}) *Spec {
	if values == nil {
		values = make(map[string]interface{})
	}
	return &Spec{values: values}
}

// Has reports whether key is present at the top level.
func (s *Spec) Has(key string) bool {
	_, ok := s.values[key]
	return ok
}

// Name returns the document's "name" entry, or def when absent.
func (s *Spec) Name(def string) string {
	return s.String("name", def)
}

// String returns key as a string, or def when absent or of another type.
func (s *Spec) String(key, def string) string {
	if v, ok := s.values[key].(string); ok {
		return v
	}
	return def
}

// Int returns key as an int, accepting any numeric YAML scalar.
func (s *Spec) Int(key string, def int) int {
	switch v := s.values[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

// Float returns key as a float64, accepting any numeric YAML scalar.
func (s *Spec) Float(key string, def float64) float64 {
	switch v := s.values[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

// Bool returns key as a bool, or def when absent or of another type.
func (s *Spec) Bool(key string, def bool) bool {
	if v, ok := s.values[key].(bool); ok {
		return v
	}
	return def
}

// Sub returns the nested mapping at key as a Spec. A missing or non-mapping
// entry yields an empty Spec so consumers can chain defaults.
func (s *Spec) Sub(key string) *Spec {
	if v, ok := s.values[key].(map[string]interface{}); ok {
		return &Spec{values: v}
	}
	return New(nil)
}

// Values exposes the raw mapping, primarily for fingerprinting.
func (s *Spec) Values() map[string]interface{} {
	return s.values
}
