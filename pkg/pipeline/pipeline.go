// Package pipeline implements the request orchestrator (component C6): the
// state machine that drives a single composite request through do_scans,
// digest_scans, do_vals, digest_vals and do_functions, in that order, and
// returns the resulting row records to the caller in a Result.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/funcengine"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/metrics"
	"github.com/jihwankim/compositeworker/pkg/reqstate"
	"github.com/jihwankim/compositeworker/pkg/scanengine"
	"github.com/jihwankim/compositeworker/pkg/valengine"
)

// State names a stage of request execution.
type State int

const (
	StateScan State = iota
	StateDigestScans
	StateVals
	StateDigestVals
	StateFunctions
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateScan:
		return "SCAN"
	case StateDigestScans:
		return "DIGEST_SCANS"
	case StateVals:
		return "VALS"
	case StateDigestVals:
		return "DIGEST_VALS"
	case StateFunctions:
		return "FUNCTIONS"
	case StateCompleted:
		return "COMPLETED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// Request describes one composite evaluation.
type Request struct {
	CompositeID    string
	HostType       string
	Hosts          []string
	Period         int
	ExcludeRegexps []string // "var=regex" entries, per spec.md §4.1
}

// Result is what Execute hands to the caller.
type Result struct {
	CompositeID string
	State       State
	Success     bool
	Message     string
	StartTime   time.Time
	EndTime     time.Time
	Duration    time.Duration
	Rows        map[string][]map[string]interface{}
}

// Pipeline wires the three stage engines together.
type Pipeline struct {
	Scan    *scanengine.Engine
	Val     *valengine.Engine
	Func    *funcengine.Engine
	Log     *logging.Logger
	Metrics *metrics.Registry // optional; nil disables instrumentation
	state   State
}

// New creates a Pipeline. m may be nil to disable metrics.
func New(scan *scanengine.Engine, val *valengine.Engine, fn *funcengine.Engine, log *logging.Logger, m *metrics.Registry) *Pipeline {
	return &Pipeline{Scan: scan, Val: val, Func: fn, Log: log, Metrics: m}
}

func (p *Pipeline) observeStage(stage State, since time.Time) {
	if p.Metrics != nil {
		p.Metrics.StageDuration.WithLabelValues(stage.String()).Observe(time.Since(since).Seconds())
	}
}

// Execute runs one request to completion against doc, returning the
// flattened row records per host.
func (p *Pipeline) Execute(ctx context.Context, doc *composite.Document, req Request) (result *Result, err error) {
	start := time.Now()
	result = &Result{CompositeID: req.CompositeID, StartTime: start, State: p.state}

	defer func() {
		if r := recover(); r != nil {
			p.Log.Error("panic during request execution", "composite_id", req.CompositeID, "recover", fmt.Sprint(r))
			result.State = StateFailed
			result.Success = false
			result.Message = fmt.Sprintf("panic: %v", r)
			result.EndTime = time.Now()
			result.Duration = result.EndTime.Sub(start)
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	comp, ok := doc.ByID(req.CompositeID)
	if !ok {
		return p.fail(result, fmt.Errorf("unknown composite %q", req.CompositeID))
	}
	inst, ok := comp.Instance(req.HostType)
	if !ok {
		return p.fail(result, fmt.Errorf("composite %q has no instance for host type %q", req.CompositeID, req.HostType))
	}

	excludes, err := scanengine.ParseExcludes(req.ExcludeRegexps)
	if err != nil {
		return p.fail(result, err)
	}

	st := reqstate.New(req.Hosts)

	p.transition(StateScan)
	stageStart := time.Now()
	err = p.Scan.DoScans(ctx, req.Hosts, inst.Scans, excludes, st)
	p.observeStage(StateScan, stageStart)
	if err != nil {
		return p.fail(result, err)
	}

	p.transition(StateDigestScans)
	stageStart = time.Now()
	scanengine.DigestScans(inst.Scans, st)
	p.observeStage(StateDigestScans, stageStart)

	p.transition(StateVals)
	stageStart = time.Now()
	err = p.Val.DoVals(ctx, req.Hosts, inst.Result.Vals, req.Period, st)
	p.observeStage(StateVals, stageStart)
	if err != nil {
		return p.fail(result, err)
	}

	p.transition(StateDigestVals)
	stageStart = time.Now()
	valIDs := make([]string, len(inst.Result.Vals))
	for i, v := range inst.Result.Vals {
		valIDs[i] = v.ID
	}
	valengine.DigestVals(valIDs, st, start)
	p.observeStage(StateDigestVals, stageStart)

	p.transition(StateFunctions)
	stageStart = time.Now()
	fmap := funcengine.FuncMap(inst.Result.Vals)
	p.Func.Apply(fmap, st.HostVar, st.Rows)
	p.observeStage(StateFunctions, stageStart)

	p.transition(StateCompleted)
	result.State = StateCompleted
	result.Success = true
	result.Message = "request completed"
	result.Rows = st.Rows
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(start)

	if p.Metrics != nil {
		p.Metrics.RequestsTotal.WithLabelValues(req.CompositeID, "success").Inc()
		p.Metrics.RequestDuration.WithLabelValues(req.CompositeID).Observe(result.Duration.Seconds())
	}

	return result, nil
}

func (p *Pipeline) transition(next State) {
	p.Log.Debug("state transition", "from", p.state.String(), "to", next.String())
	p.state = next
}

func (p *Pipeline) fail(result *Result, cause error) (*Result, error) {
	result.State = StateFailed
	result.Success = false
	result.Message = cause.Error()
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	p.Log.Error("request failed", "composite_id", result.CompositeID, "state", p.state.String(), "err", cause)
	if p.Metrics != nil {
		p.Metrics.RequestsTotal.WithLabelValues(result.CompositeID, "failure").Inc()
	}
	return result, cause
}
