// Package config loads todosync configuration from YAML, JSON or TOML files,
// overlays environment variables and validates the result.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeOf(time.Duration(0))

// Loader loads configuration from various sources
type Loader interface {
	Load(path string, target interface{}) error
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(path string, target interface{}) error

func (f LoaderFunc) Load(path string, target interface{}) error {
	return f(path, target)
}

// loaders by file extension. Anything else is read as YAML.
var loaders = map[string]Loader{
	".yaml": LoaderFunc(LoadYAML),
	".yml":  LoaderFunc(LoadYAML),
	".json": LoaderFunc(LoadJSON),
	".toml": LoaderFunc(LoadTOML),
}

// Validator validates configuration
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc is a function that validates configuration
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error {
	return f(config)
}

// Load loads configuration from a file (YAML, JSON or TOML), picked by extension
func Load(path string, target interface{}) error {
	if l, ok := loaders[strings.ToLower(filepath.Ext(path))]; ok {
		return l.Load(path, target)
	}
	return LoadYAML(path, target)
}

// LoadWithEnv loads path and then applies PREFIX_* environment overrides
func LoadWithEnv(path string, prefix string, target interface{}) error {
	if err := Load(path, target); err != nil {
		return fmt.Errorf("failed to load config file: %w", err)
	}
	if err := ApplyEnvOverrides(prefix, target); err != nil {
		return fmt.Errorf("failed to apply env overrides: %w", err)
	}
	return nil
}

// ApplyEnvOverrides sets fields of target from environment variables named
// PREFIX_SECTION_KEY, where each segment is the field's yaml name in upper
// case (e.g. TODOSYNC_STORAGE_MAX_OPEN_CONNS). Empty variables are ignored.
func ApplyEnvOverrides(prefix string, target interface{}) error {
	if prefix == "" {
		prefix = "APP"
	}
	val := reflect.ValueOf(target)
	if val.Kind() != reflect.Ptr || val.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("target must be a pointer to a struct")
	}
	return overlay(prefix, val.Elem())
}

func overlay(prefix string, val reflect.Value) error {
	typ := val.Type()
	for i := 0; i < val.NumField(); i++ {
		f := val.Field(i)
		if !f.CanSet() {
			continue
		}
		name, ok := envName(typ.Field(i))
		if !ok {
			continue
		}
		key := prefix + "_" + name

		switch {
		case f.Kind() == reflect.Struct:
			if err := overlay(key, f); err != nil {
				return err
			}
		case f.Kind() == reflect.Ptr && f.Type().Elem().Kind() == reflect.Struct:
			if f.IsNil() {
				f.Set(reflect.New(f.Type().Elem()))
			}
			if err := overlay(key, f.Elem()); err != nil {
				return err
			}
		default:
			raw := os.Getenv(key)
			if raw == "" {
				continue
			}
			if err := setFieldFromEnv(f, raw); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}
	return nil
}

// envName derives the variable segment from the yaml tag, falling back to
// the field name. Fields tagged yaml:"-" are not overridable.
func envName(f reflect.StructField) (string, bool) {
	name := f.Name
	if tag, ok := f.Tag.Lookup("yaml"); ok {
		tag = strings.Split(tag, ",")[0]
		if tag == "-" {
			return "", false
		}
		if tag != "" {
			name = tag
		}
	}
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_")), true
}

// setFieldFromEnv parses raw into field. Slices are comma separated.
func setFieldFromEnv(field reflect.Value, raw string) error {
	if field.Type() == durationType {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q", raw)
		}
		field.SetInt(int64(d))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid integer %q", raw)
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid unsigned integer %q", raw)
		}
		field.SetUint(n)
	case reflect.Float32, reflect.Float64:
		n, err := strconv.ParseFloat(raw, field.Type().Bits())
		if err != nil {
			return fmt.Errorf("invalid float %q", raw)
		}
		field.SetFloat(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("invalid bool %q", raw)
		}
		field.SetBool(b)
	case reflect.Slice:
		parts := strings.Split(raw, ",")
		slice := reflect.MakeSlice(field.Type(), len(parts), len(parts))
		for i, part := range parts {
			if err := setFieldFromEnv(slice.Index(i), strings.TrimSpace(part)); err != nil {
				return err
			}
		}
		field.Set(slice)
	default:
		return fmt.Errorf("unsupported field type %s", field.Kind())
	}
	return nil
}

// Validate runs every validator and reports all failures together
func Validate(config interface{}, validators ...Validator) error {
	var errs []error
	for _, v := range validators {
		if err := v.Validate(config); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Manager pairs a configuration value with its validators
type Manager struct {
	config     interface{}
	validators []Validator
}

// NewManager creates a manager for config
func NewManager(config interface{}) *Manager {
	return &Manager{config: config}
}

// AddValidator registers a validator
func (m *Manager) AddValidator(validator Validator) {
	m.validators = append(m.validators, validator)
}

// Validate runs the registered validators
func (m *Manager) Validate() error {
	return Validate(m.config, m.validators...)
}

// Get returns the configuration
func (m *Manager) Get() interface{} {
	return m.config
}
