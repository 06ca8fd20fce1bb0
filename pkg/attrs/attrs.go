// Package attrs reads values back out of slog-style key/value slices so a
// single attribute list can feed both a log line and a structured record.
package attrs

// Extract returns the value stored under key when it has type T.
// The slice should be formatted as [key1, value1, key2, value2, ...].
func Extract[T any](attrs []any, key string) (T, bool) {
	var zero T
	for i := 0; i < len(attrs)-1; i += 2 {
		k, ok := attrs[i].(string)
		if !ok || k != key {
			continue
		}
		v, ok := attrs[i+1].(T)
		return v, ok
	}
	return zero, false
}

// ExtractString returns the string under key, or "" when missing or not a
// string. fmt.Stringer values are rendered.
func ExtractString(attrs []any, key string) string {
	if s, ok := Extract[string](attrs, key); ok {
		return s
	}
	if s, ok := Extract[interface{ String() string }](attrs, key); ok {
		return s.String()
	}
	return ""
}
