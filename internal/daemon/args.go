package daemon

import "fmt"

// Args is the untyped parameter map of one command. Accessors validate
// presence and type in a single pass; a missing required key or a
// wrong-typed value fails the whole command.
type Args map[string]any

func (a Args) String(key string) (string, error) {
	v, ok := a[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", key)
	}
	return s, nil
}

// OptionalString returns the zero value, without error, when the key is
// absent.
func (a Args) OptionalString(key string) (string, error) {
	if _, ok := a[key]; !ok {
		return "", nil
	}
	return a.String(key)
}

func (a Args) Bool(key string) (bool, error) {
	v, ok := a[key]
	if !ok {
		return false, fmt.Errorf("%s is required", key)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("%s is not a bool", key)
	}
	return b, nil
}

func (a Args) OptionalBool(key string) (bool, error) {
	if _, ok := a[key]; !ok {
		return false, nil
	}
	return a.Bool(key)
}

func (a Args) Int(key string) (int, error) {
	v, ok := a[key]
	if !ok {
		return 0, fmt.Errorf("%s is required", key)
	}
	return coerceInt(key, v)
}

func (a Args) OptionalInt(key string) (int, bool, error) {
	v, ok := a[key]
	if !ok {
		return 0, false, nil
	}
	n, err := coerceInt(key, v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// List returns a []any value, nil when absent.
func (a Args) List(key string) ([]any, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	l, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a list", key)
	}
	return l, nil
}

// Map returns a nested argument map, nil when absent.
func (a Args) Map(key string) (Args, error) {
	v, ok := a[key]
	if !ok {
		return nil, nil
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%s is not a map", key)
	}
	return Args(m), nil
}

// coerceInt accepts the integral forms json decoding can produce. A float
// with a fractional part is a type error, not a truncation.
func coerceInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("%s is not an int", key)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%s is not an int", key)
	}
}
