package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// field resolves a dot path of Go field names ("Auth.Secret") against
// config. It also returns the path as written in the config file
// ("auth.secret") for error messages.
func field(config interface{}, path string) (reflect.Value, string, error) {
	cur := reflect.ValueOf(config)
	keys := make([]string, 0, strings.Count(path, ".")+1)
	for _, part := range strings.Split(path, ".") {
		for cur.Kind() == reflect.Ptr || cur.Kind() == reflect.Interface {
			if cur.IsNil() {
				return reflect.Value{}, "", fmt.Errorf("field %s not found: nil at %s", path, part)
			}
			cur = cur.Elem()
		}
		if cur.Kind() != reflect.Struct {
			return reflect.Value{}, "", fmt.Errorf("field %s not found: %s is not a struct", path, part)
		}
		sf, ok := cur.Type().FieldByName(part)
		if !ok {
			return reflect.Value{}, "", fmt.Errorf("field %s not found", path)
		}
		keys = append(keys, fileKey(sf))
		cur = cur.FieldByIndex(sf.Index)
	}
	return cur, strings.Join(keys, "."), nil
}

// fileKey is the yaml name of a field, or its lowercased Go name
func fileKey(f reflect.StructField) string {
	if tag := strings.Split(f.Tag.Get("yaml"), ",")[0]; tag != "" && tag != "-" {
		return tag
	}
	return strings.ToLower(f.Name)
}

// RequiredFields fails when any of fields holds its zero value
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, path := range fields {
			v, key, err := field(config, path)
			if err != nil {
				return err
			}
			if v.IsZero() {
				missing = append(missing, key)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

func number(v reflect.Value) (float64, bool) {
	switch v.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(v.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(v.Uint()), true
	case reflect.Float32, reflect.Float64:
		return v.Float(), true
	}
	return 0, false
}

// RangeValidator checks that a numeric field lies in [min, max]
func RangeValidator(fieldName string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, key, err := field(config, fieldName)
		if err != nil {
			return err
		}
		n, ok := number(v)
		if !ok {
			return fmt.Errorf("%s is not numeric", key)
		}
		if n < min || n > max {
			return fmt.Errorf("%s is %v, must be between %v and %v", key, n, min, max)
		}
		return nil
	})
}

// DurationRange checks that a time.Duration field lies in [min, max].
// A zero max means no upper bound.
func DurationRange(fieldName string, min, max time.Duration) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, key, err := field(config, fieldName)
		if err != nil {
			return err
		}
		if v.Type() != durationType {
			return fmt.Errorf("%s is not a duration", key)
		}
		d := time.Duration(v.Int())
		if d < min || (max > 0 && d > max) {
			if max > 0 {
				return fmt.Errorf("%s is %s, must be between %s and %s", key, d, min, max)
			}
			return fmt.Errorf("%s is %s, must be at least %s", key, d, min)
		}
		return nil
	})
}

// StringLengthValidator checks the byte length of a string field
func StringLengthValidator(fieldName string, minLen, maxLen int) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, key, err := field(config, fieldName)
		if err != nil {
			return err
		}
		if v.Kind() != reflect.String {
			return fmt.Errorf("%s is not a string", key)
		}
		if n := v.Len(); n < minLen || n > maxLen {
			return fmt.Errorf("%s must be %d to %d characters, got %d", key, minLen, maxLen, n)
		}
		return nil
	})
}

// OneOfValidator checks that a field equals one of allowed
func OneOfValidator(fieldName string, allowed ...interface{}) Validator {
	return ValidatorFunc(func(config interface{}) error {
		v, key, err := field(config, fieldName)
		if err != nil {
			return err
		}
		got := v.Interface()
		for _, a := range allowed {
			if reflect.DeepEqual(got, a) {
				return nil
			}
		}
		return fmt.Errorf("%s is %q, must be one of %v", key, fmt.Sprint(got), allowed)
	})
}
