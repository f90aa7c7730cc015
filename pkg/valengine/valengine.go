// Package valengine implements the value engine (component C3): issuing
// value OID fetches (plain or rate), trimming rows to those surviving the
// scan, attaching values into the scan tree, and digesting the combined
// scan+value trees into flat row records.
package valengine

import (
	"context"
	"sync"
	"time"

	"github.com/JekaMas/workerpool"

	"github.com/jihwankim/compositeworker/pkg/cache"
	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/oidtree"
	"github.com/jihwankim/compositeworker/pkg/reqstate"
)

// Engine runs do_vals/digest_vals against a cache client.
type Engine struct {
	Cache   cache.Client
	Log     *logging.Logger
	Workers int
}

// New creates a value Engine. workers bounds concurrent per-host cache
// calls (get_rate is necessarily per-host).
func New(c cache.Client, log *logging.Logger, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{Cache: c, Log: log, Workers: workers}
}

// DoVals fetches host variables and every declared val, attaching trimmed
// value trees into st.Val.
func (e *Engine) DoVals(ctx context.Context, hosts []string, vals []composite.Val, period int, st *reqstate.State) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.fetchHostVars(ctx, hosts, st)
	}()

	wp := workerpool.New(e.Workers)
	for _, v := range vals {
		v := v
		wg.Add(1)
		wp.Submit(func() {
			defer wg.Done()
			e.doVal(ctx, hosts, v, period, st)
		})
	}
	wg.Wait()
	wp.StopWait()
	return nil
}

func (e *Engine) fetchHostVars(ctx context.Context, hosts []string, st *reqstate.State) {
	result, err := e.Cache.Get(ctx, hosts, "vars.*")
	if err != nil {
		e.Log.Error("host variable fetch failed", "err", err)
		return
	}

	st.Lock()
	defer st.Unlock()
	for host, oids := range result {
		if st.HostVar[host] == nil {
			st.HostVar[host] = make(map[string]interface{})
		}
		for oid, sample := range oids {
			name := stripPrefix(oid, "vars.")
			st.HostVar[host][name] = sample.Value
		}
	}
}

func stripPrefix(s, prefix string) string {
	if len(s) >= len(prefix) && s[:len(prefix)] == prefix {
		return s[len(prefix):]
	}
	return s
}

func (e *Engine) doVal(ctx context.Context, hosts []string, v composite.Val, period int, st *reqstate.State) {
	if !v.HasOID() {
		e.doScanOrNodeVal(hosts, v, st)
		return
	}

	m := oidtree.MapOID(v.OID)
	base := m.OIDBase()

	for _, host := range hosts {
		var result cache.Result
		var err error
		if v.IsRate() {
			result, err = e.Cache.GetRate(ctx, []string{host}, period, base)
		} else {
			result, err = e.Cache.Get(ctx, []string{host}, base)
		}
		if err != nil {
			e.Log.Error("value cache call failed", "val_id", v.ID, "host", host, "err", err)
			continue
		}

		oids := result[host]
		samples := make([]oidtree.Sample, 0, len(oids))
		for oid, sample := range oids {
			if !sample.HasTime {
				continue // row-level data absent: silently dropped
			}
			samples = append(samples, oidtree.Sample{OID: oid, Value: sample.Value, Time: sample.Time, HasTime: true})
		}

		tree := oidtree.TransformOIDs(samples, m, oidtree.ModeDefault)

		st.Lock()
		scanTree := st.Combined[host]
		if scanTree != nil {
			trim(tree.Root, scanTree.Root)
		}
		if st.Val[host] == nil {
			st.Val[host] = make(map[string]*oidtree.Transform)
		}
		st.Val[host][v.ID] = tree
		st.Unlock()
	}
}

func (e *Engine) doScanOrNodeVal(hosts []string, v composite.Val, st *reqstate.State) {
	st.Lock()
	defer st.Unlock()

	for _, host := range hosts {
		if st.Val[host] == nil {
			st.Val[host] = make(map[string]*oidtree.Transform)
		}
		switch {
		case v.Var == "node":
			leaf := oidtree.NewLeaf()
			leaf.Value = host
			leaf.HasValue = true
			st.Val[host][v.ID] = &oidtree.Transform{Root: leaf}
		case v.Var != "":
			src, ok := st.ScanVals[host][v.Var]
			if !ok {
				e.Log.Error("val references unknown scan", "val_id", v.ID, "scan_var", v.Var)
				continue
			}
			st.Val[host][v.ID] = &oidtree.Transform{Legend: src.Legend, Root: src.Root.Clone()}
		default:
			e.Log.Error("val has neither oid nor var; skipping", "val_id", v.ID)
		}
	}
}

// trim deletes, recursively, any key in value that is not present in scan
// (spec.md §4.3 step 3 / §9's corrected semantics: delete any key not
// present in the scan tree, not only when both sides are maps).
func trim(value, scan *oidtree.Node) {
	if value == nil || scan == nil {
		return
	}
	if value.IsLeaf {
		return
	}
	if scan.IsLeaf {
		// scan terminates here but value still has interior structure: nothing
		// beneath this point is covered by the scanned index space.
		for k := range value.Interior {
			delete(value.Interior, k)
		}
		return
	}
	for k, child := range value.Interior {
		scanChild, ok := scan.Interior[k]
		if !ok {
			delete(value.Interior, k)
			continue
		}
		if scanChild.IsLeaf && !child.IsLeaf {
			// scan terminates at k but value still branches beneath it:
			// drop the whole subtree, not just return leaving it intact.
			delete(value.Interior, k)
			continue
		}
		trim(child, scanChild)
	}
}

// DigestVals builds the final row-record array per host from the combined
// scan tree and every val's attached tree (spec.md §4.3).
func DigestVals(valIDs []string, st *reqstate.State, now time.Time) {
	for host, combined := range st.Combined {
		skeleton := combined.Root.Clone()
		if skeleton == nil {
			skeleton = oidtree.NewInterior()
		}

		for _, valID := range valIDs {
			vt, ok := st.Val[host][valID]
			if !ok || vt == nil {
				continue
			}
			attach(skeleton, vt.Root, valID)
		}

		rows := []map[string]interface{}{}
		flatten(skeleton, func(row map[string]interface{}) {
			if _, ok := row["time"]; !ok {
				row["time"] = now.Unix()
			}
			rows = append(rows, row)
		})
		st.Rows[host] = rows
	}
}

// attach walks skeleton and the value tree in lockstep, writing valID into
// every skeleton leaf the value tree can reach. If the value tree is flatter
// than the skeleton (a scalar val attached at a row-group), the same value
// propagates to every leaf beneath that point.
func attach(skeleton, value *oidtree.Node, valID string) {
	if skeleton == nil || value == nil {
		return
	}

	if value.IsLeaf {
		if !value.HasValue {
			return
		}
		setValueOnAllLeaves(skeleton, valID, value.Value, value.Time, value.HasTime)
		return
	}

	if skeleton.IsLeaf {
		return
	}

	for k, child := range skeleton.Interior {
		if vchild, ok := value.Interior[k]; ok {
			attach(child, vchild, valID)
		}
	}
}

func setValueOnAllLeaves(n *oidtree.Node, valID string, value interface{}, t int64, hasTime bool) {
	if n == nil {
		return
	}
	if n.IsLeaf {
		if n.Row == nil {
			n.Row = make(map[string]interface{})
		}
		if _, exists := n.Row[valID]; !exists {
			n.Row[valID] = value
		}
		if hasTime {
			if _, exists := n.Row["time"]; !exists {
				n.Row["time"] = t
			}
		}
		return
	}
	for _, child := range n.Interior {
		setValueOnAllLeaves(child, valID, value, t, hasTime)
	}
}

func flatten(n *oidtree.Node, emit func(map[string]interface{})) {
	if n == nil {
		return
	}
	if n.IsLeaf {
		if n.Row != nil {
			emit(n.Row)
		}
		return
	}
	for _, child := range n.Interior {
		flatten(child, emit)
	}
}
