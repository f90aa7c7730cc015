// Package funcs implements the built-in scalar function table used by the
// function engine (component C4): sum/max/min, arithmetic, ln/log10,
// regexp/replace, and the rpn bridge into package rpn.
package funcs

import (
	"math"
	"regexp"

	"github.com/jihwankim/compositeworker/pkg/dataval"
	"github.com/jihwankim/compositeworker/pkg/rpn"
)

// Context carries everything a builtin function needs beyond the current
// value: the fctn element's operand/with attributes, and the row/host
// state an rpn program may reference.
type Context struct {
	Operand  string
	With     string
	Row      map[string]interface{}
	HostVars map[string]interface{}
	Host     string

	// OnUnknownRPNToken is forwarded to rpn.Evaluate for the "rpn" builtin.
	OnUnknownRPNToken func(token string)
}

// Func is a scalar function: (current value, context) -> new value.
type Func func(value interface{}, ctx Context) interface{}

// Table is the immutable dispatch table, built once at package init per
// the source's "per-invocation globals" design note.
var Table = map[string]Func{
	"sum": passthroughIfDefined,
	"max": passthroughIfDefined,
	"min": passthroughIfDefined,

	"+": arith(func(a, b float64) float64 { return a + b }),
	"-": arith(func(a, b float64) float64 { return a - b }),
	"*": arith(func(a, b float64) float64 { return a * b }),
	"/": func(value interface{}, ctx Context) interface{} {
		v, operand, ok := operands(value, ctx)
		if !ok || operand == 0 {
			return dataval.Undefined
		}
		return v / operand
	},
	"%": func(value interface{}, ctx Context) interface{} {
		v, operand, ok := operands(value, ctx)
		if !ok || operand == 0 {
			return dataval.Undefined
		}
		return math.Mod(v, operand)
	},

	"ln": func(value interface{}, _ Context) interface{} {
		v, ok := dataval.AsFloat(value)
		if !ok || v == 0 {
			return dataval.Undefined
		}
		r := math.Log(v)
		if math.IsNaN(r) {
			return dataval.Undefined
		}
		return r
	},
	"log10": func(value interface{}, _ Context) interface{} {
		v, ok := dataval.AsFloat(value)
		if !ok || v == 0 {
			return dataval.Undefined
		}
		r := math.Log10(v)
		if math.IsNaN(r) {
			return dataval.Undefined
		}
		return r
	},

	"regexp": func(value interface{}, ctx Context) interface{} {
		if dataval.IsUndefined(value) {
			return dataval.Undefined
		}
		re, err := regexp.Compile(ctx.Operand)
		if err != nil {
			return value
		}
		groups := re.FindStringSubmatch(dataval.AsString(value))
		if len(groups) < 2 {
			// No match, or a capture-group-less pattern: pass through untouched.
			return value
		}
		return groups[1]
	},
	"replace": func(value interface{}, ctx Context) interface{} {
		if dataval.IsUndefined(value) {
			return dataval.Undefined
		}
		re, err := regexp.Compile(ctx.Operand)
		if err != nil {
			return value
		}
		return re.ReplaceAllString(dataval.AsString(value), ctx.With)
	},

	"rpn": func(value interface{}, ctx Context) interface{} {
		return rpn.Evaluate(ctx.Operand, value, rpn.Context{
			Row:            ctx.Row,
			HostVars:       ctx.HostVars,
			Host:           ctx.Host,
			OnUnknownToken: ctx.OnUnknownRPNToken,
		})
	},
}

func passthroughIfDefined(value interface{}, _ Context) interface{} {
	if dataval.IsUndefined(value) {
		return dataval.Undefined
	}
	return value
}

func arith(op func(a, b float64) float64) Func {
	return func(value interface{}, ctx Context) interface{} {
		v, operand, ok := operands(value, ctx)
		if !ok {
			return dataval.Undefined
		}
		return op(v, operand)
	}
}

func operands(value interface{}, ctx Context) (v, operand float64, ok bool) {
	v, vok := dataval.AsFloat(value)
	operand, opok := dataval.AsFloat(ctx.Operand)
	return v, operand, vok && opok
}
