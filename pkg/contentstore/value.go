package contentstore

import (
	"fmt"
	"strconv"
	"time"
)

// PropertyType is the stored representation of a property value.
//
// NOTE: These values are persisted by the sqlite and s3 backends and are part
// of the stable on-disk contract.
type PropertyType string

const (
	TypeString  PropertyType = "String"
	TypeDate    PropertyType = "Date"
	TypeLong    PropertyType = "Long"
	TypeDouble  PropertyType = "Double"
	TypeBoolean PropertyType = "Boolean"
)

// Valid reports whether t is one of the known property types.
func (t PropertyType) Valid() bool {
	switch t {
	case TypeString, TypeDate, TypeLong, TypeDouble, TypeBoolean:
		return true
	}
	return false
}

// String returns the string representation of the property type.
func (t PropertyType) String() string {
	return string(t)
}

// Value is a typed scalar property value.
//
// Raw holds the canonical text form: the literal string for TypeString,
// RFC3339 for TypeDate, and strconv formatting for the numeric types.
type Value struct {
	Type PropertyType `json:"type" yaml:"type"`
	Raw  string       `json:"value" yaml:"value"`
}

// StringValue returns a string-typed value.
func StringValue(s string) Value {
	return Value{Type: TypeString, Raw: s}
}

// DateValue returns a date-typed value.
func DateValue(t time.Time) Value {
	return Value{Type: TypeDate, Raw: t.Format(time.RFC3339Nano)}
}

// LongValue returns an integer-typed value.
func LongValue(n int64) Value {
	return Value{Type: TypeLong, Raw: strconv.FormatInt(n, 10)}
}

// BoolValue returns a boolean-typed value.
func BoolValue(b bool) Value {
	return Value{Type: TypeBoolean, Raw: strconv.FormatBool(b)}
}

// Time returns the date carried by a TypeDate value.
func (v Value) Time() (time.Time, error) {
	if v.Type != TypeDate {
		return time.Time{}, fmt.Errorf("value is %s, not %s", v.Type, TypeDate)
	}
	return time.Parse(time.RFC3339Nano, v.Raw)
}

// Validate checks that the raw text is well formed for the value's type.
func (v Value) Validate() error {
	var err error
	switch v.Type {
	case TypeString:
	case TypeDate:
		_, err = time.Parse(time.RFC3339Nano, v.Raw)
	case TypeLong:
		_, err = strconv.ParseInt(v.Raw, 10, 64)
	case TypeDouble:
		_, err = strconv.ParseFloat(v.Raw, 64)
	case TypeBoolean:
		_, err = strconv.ParseBool(v.Raw)
	default:
		return fmt.Errorf("unknown property type %q", v.Type)
	}
	if err != nil {
		return fmt.Errorf("invalid %s value %q: %w", v.Type, v.Raw, err)
	}
	return nil
}
