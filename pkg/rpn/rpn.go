// Package rpn implements the reverse-Polish expression evaluator used
// inside the function engine's "rpn" builtin (component C5): a small stack
// language with arithmetic, comparison, string, and stack operators over
// possibly-undefined values.
package rpn

import (
	"math"
	"regexp"
	"strconv"

	"github.com/jihwankim/compositeworker/pkg/dataval"
)

var numberRe = regexp.MustCompile(`^[+-]?([0-9]+\.?|[0-9]*\.[0-9]+)$`)

// Context supplies the per-row, per-host state a program can reference via
// $name, #name and @.
type Context struct {
	// Row is the current row record ($name pulls its first element if an array).
	Row map[string]interface{}
	// HostVars is hostvar[host] (#name).
	HostVars map[string]interface{}
	// Host is the current host name (@).
	Host string
	// OnUnknownToken is called at most once per unknown token per program.
	OnUnknownToken func(token string)
}

// Stack is the RPN evaluation stack.
type Stack struct {
	items []interface{}
}

// Push pushes a value.
func (s *Stack) Push(v interface{}) { s.items = append(s.items, v) }

// Pop pops the top value, returning dataval.Undefined on underflow.
func (s *Stack) Pop() interface{} {
	if len(s.items) == 0 {
		return dataval.Undefined
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v
}

// PopNoop pops the top value only if present; it is a no-op on underflow
// (used by pop and exch, which spec.md says must not fabricate values).
func (s *Stack) PopNoop() (interface{}, bool) {
	if len(s.items) == 0 {
		return nil, false
	}
	v := s.items[len(s.items)-1]
	s.items = s.items[:len(s.items)-1]
	return v, true
}

// Top returns the top of the stack, or dataval.Undefined if empty.
func (s *Stack) Top() interface{} {
	if len(s.items) == 0 {
		return dataval.Undefined
	}
	return s.items[len(s.items)-1]
}

// At returns a copy of stack[-n] (1-indexed from the top), or
// dataval.Undefined if n is out of range.
func (s *Stack) At(n int) interface{} {
	if n < 1 || n > len(s.items) {
		return dataval.Undefined
	}
	return s.items[len(s.items)-n]
}

// Len returns the current stack depth.
func (s *Stack) Len() int { return len(s.items) }

// Evaluate runs program against the given current value and context,
// returning the new top-of-stack value after the program is consumed.
func Evaluate(program string, current interface{}, ctx Context) interface{} {
	tokens := Tokenize(program)
	s := &Stack{}
	s.Push(current)

	warned := make(map[string]bool)

	for _, tok := range tokens {
		if tok.Kind == TokString {
			s.Push(tok.Text)
			continue
		}

		text := tok.Text
		switch {
		case numberRe.MatchString(text):
			f, err := strconv.ParseFloat(text, 64)
			if err != nil {
				s.Push(dataval.Undefined)
			} else {
				s.Push(f)
			}
		case len(text) > 1 && text[0] == '$':
			s.Push(lookupRow(ctx.Row, text[1:]))
		case len(text) > 1 && text[0] == '#':
			s.Push(lookupHostVar(ctx.HostVars, text[1:]))
		case text == "@":
			s.Push(ctx.Host)
		default:
			fn, ok := builtins[text]
			if !ok {
				if !warned[text] {
					warned[text] = true
					if ctx.OnUnknownToken != nil {
						ctx.OnUnknownToken(text)
					}
				}
				continue
			}
			fn(s)
		}
	}

	return s.Top()
}

func lookupRow(row map[string]interface{}, name string) interface{} {
	if row == nil {
		return dataval.Undefined
	}
	v, ok := row[name]
	if !ok {
		return dataval.Undefined
	}
	if arr, ok := v.([]interface{}); ok {
		if len(arr) == 0 {
			return dataval.Undefined
		}
		return arr[0]
	}
	return v
}

func lookupHostVar(hostVars map[string]interface{}, name string) interface{} {
	if hostVars == nil {
		return dataval.Undefined
	}
	v, ok := hostVars[name]
	if !ok {
		return dataval.Undefined
	}
	return v
}

// builtins is the immutable dispatch table of RPN functions, built once at
// package init per the source's "per-invocation globals" design note.
var builtins = map[string]func(*Stack){
	"+": binaryArith(func(a, b float64) float64 { return a + b }),
	"-": binaryArith(func(a, b float64) float64 { return a - b }),
	"*": binaryArith(func(a, b float64) float64 { return a * b }),
	"/": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		af, aok := dataval.AsFloat(a)
		bf, bok := dataval.AsFloat(b)
		if !aok || !bok || bf == 0 {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(af / bf)
	},
	"%": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		af, aok := dataval.AsFloat(a)
		bf, bok := dataval.AsFloat(b)
		if !aok || !bok || bf == 0 {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(math.Mod(af, bf))
	},
	"ln": unaryMath(func(a float64) (float64, bool) {
		if a <= 0 {
			return 0, false
		}
		return math.Log(a), true
	}),
	"log10": unaryMath(func(a float64) (float64, bool) {
		if a <= 0 {
			return 0, false
		}
		return math.Log10(a), true
	}),
	"exp": unaryMath(func(a float64) (float64, bool) { return math.Exp(a), true }),
	"pow": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		af, aok := dataval.AsFloat(a)
		bf, bok := dataval.AsFloat(b)
		if !aok || !bok {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(math.Pow(af, bf))
	},
	"_": func(s *Stack) { s.Push(dataval.Undefined) },
	"defined?": func(s *Stack) {
		a := s.Pop()
		if dataval.IsDefined(a) {
			s.Push(float64(1))
		} else {
			s.Push(float64(0))
		}
	},
	"==": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		s.Push(boolFloat(equalValues(a, b)))
	},
	"!=": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		s.Push(boolFloat(!equalValues(a, b)))
	},
	"<":  compareOp(func(a, b float64) bool { return a < b }),
	"<=": compareOp(func(a, b float64) bool { return a <= b }),
	">":  compareOp(func(a, b float64) bool { return a > b }),
	">=": compareOp(func(a, b float64) bool { return a >= b }),
	"and": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		s.Push(boolFloat(dataval.Truthy(a) && dataval.Truthy(b)))
	},
	"or": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		s.Push(boolFloat(dataval.Truthy(a) || dataval.Truthy(b)))
	},
	"not": func(s *Stack) {
		a := s.Pop()
		s.Push(boolFloat(!dataval.Truthy(a)))
	},
	"ifelse": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		pred := s.Pop()
		if dataval.Truthy(pred) {
			s.Push(a)
		} else {
			s.Push(b)
		}
	},
	"match": func(s *Stack) {
		pattern := s.Pop()
		str := s.Pop()
		if dataval.IsUndefined(pattern) || dataval.IsUndefined(str) {
			s.Push(dataval.Undefined)
			return
		}
		re, err := regexp.Compile(dataval.AsString(pattern))
		if err != nil {
			s.Push(dataval.Undefined)
			return
		}
		groups := re.FindStringSubmatch(dataval.AsString(str))
		if len(groups) < 2 {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(groups[1])
	},
	"replace": func(s *Stack) {
		replacement := s.Pop()
		pattern := s.Pop()
		str := s.Pop()
		if dataval.IsUndefined(replacement) || dataval.IsUndefined(pattern) || dataval.IsUndefined(str) {
			s.Push(dataval.Undefined)
			return
		}
		re, err := regexp.Compile(dataval.AsString(pattern))
		if err != nil {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(re.ReplaceAllString(dataval.AsString(str), dataval.AsString(replacement)))
	},
	"concat": func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		s.Push(dataval.AsString(a) + dataval.AsString(b))
	},
	"pop": func(s *Stack) { s.PopNoop() },
	"exch": func(s *Stack) {
		b, ok := s.PopNoop()
		if !ok {
			return
		}
		a, ok := s.PopNoop()
		if !ok {
			s.Push(b)
			return
		}
		s.Push(b)
		s.Push(a)
	},
	"dup": func(s *Stack) {
		if s.Len() == 0 {
			return
		}
		s.Push(s.Top())
	},
	"index": func(s *Stack) {
		n := s.Pop()
		nf, ok := dataval.AsFloat(n)
		if !ok || nf < 1 {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(s.At(int(nf)))
	},
}

func binaryArith(op func(a, b float64) float64) func(*Stack) {
	return func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		af, aok := dataval.AsFloat(a)
		bf, bok := dataval.AsFloat(b)
		if !aok || !bok {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(op(af, bf))
	}
}

func unaryMath(op func(a float64) (float64, bool)) func(*Stack) {
	return func(s *Stack) {
		a := s.Pop()
		af, ok := dataval.AsFloat(a)
		if !ok {
			s.Push(dataval.Undefined)
			return
		}
		v, ok := op(af)
		if !ok {
			s.Push(dataval.Undefined)
			return
		}
		s.Push(v)
	}
}

func compareOp(op func(a, b float64) bool) func(*Stack) {
	return func(s *Stack) {
		b := s.Pop()
		a := s.Pop()
		af, aok := dataval.AsFloat(a)
		bf, bok := dataval.AsFloat(b)
		if !aok || !bok {
			s.Push(float64(0))
			return
		}
		s.Push(boolFloat(op(af, bf)))
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func equalValues(a, b interface{}) bool {
	aUndef, bUndef := dataval.IsUndefined(a), dataval.IsUndefined(b)
	if aUndef && bUndef {
		return true
	}
	if aUndef != bUndef {
		return false
	}
	af, aok := dataval.AsFloat(a)
	bf, bok := dataval.AsFloat(b)
	if aok && bok {
		return af == bf
	}
	return dataval.AsString(a) == dataval.AsString(b)
}
