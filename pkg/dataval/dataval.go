// Package dataval models the "undefined" value that flows through the
// function engine and the RPN evaluator. Scalars are represented as
// interface{} holding a float64, string, or the Undefined sentinel;
// undefined contaminates almost every operation that touches it.
package dataval

import "fmt"

// undefinedType is an unexported type so Undefined is the only value of its kind.
type undefinedType struct{}

// Undefined is the distinguished "no value" marker used throughout the
// function and RPN evaluators. Compare with IsUndefined, never with ==.
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined sentinel or a bare nil.
func IsUndefined(v interface{}) bool {
	if v == nil {
		return true
	}
	_, ok := v.(undefinedType)
	return ok
}

// IsDefined is the complement of IsUndefined.
func IsDefined(v interface{}) bool {
	return !IsUndefined(v)
}

// AsFloat coerces v to a float64, returning ok=false for undefined or
// non-numeric values. Strings that parse as numbers are accepted, matching
// the source's loose scalar typing.
func AsFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(t, "%g", &f); err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}

// AsString coerces v to its string representation. Undefined yields "".
func AsString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case undefinedType:
		return ""
	case string:
		return t
	case float64:
		return formatFloat(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// Truthy implements the "nonzero, non-empty, defined" truthiness rule used
// by the RPN `and`/`or`/`not` operators.
func Truthy(v interface{}) bool {
	if IsUndefined(v) {
		return false
	}
	switch t := v.(type) {
	case float64:
		return t != 0
	case string:
		return t != ""
	default:
		return true
	}
}
