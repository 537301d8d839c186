package repository

import (
	"fmt"
	"maps"
	"math"
	"time"
)

// Document is a stored record.
// Seq is assigned once at insertion and orders snapshots; Version grows with
// every write to the document.
type Document struct {
	Collection string
	ID         string
	Seq        int64
	Version    int64
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Fields     map[string]any
}

// String returns the string field key or "".
func (d Document) String(key string) string {
	s, _ := d.Fields[key].(string)
	return s
}

// Bool returns the bool field key or false.
func (d Document) Bool(key string) bool {
	b, _ := d.Fields[key].(bool)
	return b
}

// Int returns the integer field key or 0.
func (d Document) Int(key string) int64 {
	n, _ := toInt64(d.Fields[key])
	return n
}

// Time reads a field stored as unix milliseconds.
func (d Document) Time(key string) time.Time {
	ms, ok := toInt64(d.Fields[key])
	if !ok {
		return time.Time{}
	}
	return FromMillis(ms)
}

// Clone returns a copy that shares nothing mutable with d.
func (d Document) Clone() Document {
	d.Fields = maps.Clone(d.Fields)
	return d
}

// ToMillis converts t to unix milliseconds in UTC.
func ToMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

// FromMillis converts unix milliseconds to a UTC time.
func FromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NormalizeFields copies fields, converting every value to one of string,
// bool or int64. Times become unix milliseconds.
func NormalizeFields(fields map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		nv, err := normalizeValue(v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", k, err)
		}
		out[k] = nv
	}
	return out, nil
}

func normalizeValue(v any) (any, error) {
	switch t := v.(type) {
	case string, bool, int64:
		return t, nil
	case time.Time:
		return ToMillis(t), nil
	}
	if n, ok := toInt64(v); ok {
		return n, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int16:
		return int64(n), true
	case int8:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	default:
		return 0, false
	}
}
