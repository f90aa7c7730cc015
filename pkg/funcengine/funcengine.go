// Package funcengine implements the function engine (component C4):
// evaluating a sequence of per-value transforms declared under each
// <val>'s <fctn> children, dispatching into the builtin scalar functions of
// package funcs (which itself bridges into package rpn for "rpn" fctns).
package funcengine

import (
	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/dataval"
	"github.com/jihwankim/compositeworker/pkg/funcs"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/metrics"
)

// Engine applies function pipelines to row records.
type Engine struct {
	Log     *logging.Logger
	Metrics *metrics.Registry // optional

	// warnedUnknownFunc dedupes "unknown function" logs per (val_id, host).
	warnedUnknownFunc map[string]bool
}

// New creates a function Engine. m may be nil to disable metrics.
func New(log *logging.Logger, m *metrics.Registry) *Engine {
	return &Engine{Log: log, Metrics: m, warnedUnknownFunc: make(map[string]bool)}
}

// FuncMap precomputes val_id -> fctn list for every val that declares one.
func FuncMap(vals []composite.Val) map[string][]composite.Fctn {
	m := make(map[string][]composite.Fctn)
	for _, v := range vals {
		if len(v.Fctns) > 0 {
			m[v.ID] = v.Fctns
		}
	}
	return m
}

// Apply runs every val's function pipeline, in document order, against
// every row for every host.
func (e *Engine) Apply(fmap map[string][]composite.Fctn, hostVars map[string]map[string]interface{}, rows map[string][]map[string]interface{}) {
	for host, hostRows := range rows {
		hv := hostVars[host]
		for _, row := range hostRows {
			for valID, fctns := range fmap {
				current, ok := row[valID]
				if !ok {
					continue
				}
				row[valID] = e.applyChain(valID, host, fctns, current, row, hv)
			}
		}
	}
}

func (e *Engine) applyChain(valID, host string, fctns []composite.Fctn, current interface{}, row map[string]interface{}, hostVars map[string]interface{}) interface{} {
	value := current
	for _, f := range fctns {
		fn, ok := funcs.Table[f.Name]
		if !ok {
			key := valID + "|" + host + "|" + f.Name
			if !e.warnedUnknownFunc[key] {
				e.warnedUnknownFunc[key] = true
				e.Log.Error("unknown function", "val_id", valID, "host", host, "fctn", f.Name)
				if e.Metrics != nil {
					e.Metrics.UnknownFunction.WithLabelValues(f.Name).Inc()
				}
			}
			return dataval.Undefined
		}
		value = fn(value, funcs.Context{
			Operand:  f.Value,
			With:     f.With,
			Row:      row,
			HostVars: hostVars,
			Host:     host,
			OnUnknownRPNToken: func(token string) {
				e.Log.Warn("unknown rpn token", "val_id", valID, "host", host, "token", token)
				if e.Metrics != nil {
					e.Metrics.RPNUnknownToken.WithLabelValues(token).Inc()
				}
			},
		})
	}
	return value
}
