// Package scanengine implements the scan engine (component C2): issuing
// index scans, applying exclude_regexp filters to scanned values (there is
// no positive include filter), building per-scan index trees, and combining
// multiple scans by dependency depth.
package scanengine

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/JekaMas/workerpool"

	"github.com/jihwankim/compositeworker/pkg/cache"
	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/oidtree"
	"github.com/jihwankim/compositeworker/pkg/reqstate"
)

// Engine runs do_scans/digest_scans against a cache client.
type Engine struct {
	Cache   cache.Client
	Log     *logging.Logger
	Workers int
}

// New creates a scan Engine. workers bounds concurrent cache calls
// (spec.md §5: "fan-out of cache calls is bounded").
func New(c cache.Client, log *logging.Logger, workers int) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{Cache: c, Log: log, Workers: workers}
}

// ParseExcludes groups exclude_regexp request entries ("var=regex") by
// variable name.
func ParseExcludes(raw []string) (map[string][]*regexp.Regexp, error) {
	out := make(map[string][]*regexp.Regexp)
	for _, entry := range raw {
		idx := indexByte(entry, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid exclude_regexp entry %q: expected var=regex", entry)
		}
		name, pattern := entry[:idx], entry[idx+1:]
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid exclude_regexp pattern for %q: %w", name, err)
		}
		out[name] = append(out[name], re)
	}
	return out, nil
}

func indexByte(s string, b byte) int {
	for i := 0; i < len(s); i++ {
		if s[i] == b {
			return i
		}
	}
	return -1
}

// DoScans fans out one cache get() per scan, folds each into the state's
// per-scan blank and scan-mode trees, and records excluded OIDs.
func (e *Engine) DoScans(ctx context.Context, hosts []string, scans []composite.Scan, excludes map[string][]*regexp.Regexp, st *reqstate.State) error {
	if len(scans) == 0 {
		return nil
	}

	wp := workerpool.New(e.Workers)
	errs := make([]error, len(scans))
	var wg sync.WaitGroup

	for i, scan := range scans {
		i, scan := i, scan
		wg.Add(1)
		wp.Submit(func() {
			defer wg.Done()
			errs[i] = e.scanOne(ctx, hosts, scan, excludes[scan.Var], st)
		})
	}
	wg.Wait()
	wp.StopWait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) scanOne(ctx context.Context, hosts []string, scan composite.Scan, excludes []*regexp.Regexp, st *reqstate.State) error {
	m := oidtree.MapOID(namedPattern(scan.OID, scan.Var))
	base := m.OIDBase()

	result, err := e.Cache.Get(ctx, hosts, base)
	if err != nil {
		e.Log.Error("scan cache call failed", "scan_id", scan.ID, "oid_base", base, "err", err)
		return nil // upstream-data-absent: logged, hosts get empty results, not a pipeline error
	}

	st.Lock()
	defer st.Unlock()

	for _, host := range hosts {
		oids, ok := result[host]
		if !ok {
			continue
		}

		var retained []oidtree.Sample
		var scanVal []oidtree.Sample
		for oid, sample := range oids {
			if matchesAny(excludes, dataString(sample.Value)) {
				st.ScanExclude[host][oid] = true
				continue
			}
			if scan.ExcludeOnly {
				// exclude-only scans contribute only to scan_exclude (spec.md §9).
				continue
			}
			retained = append(retained, oidtree.Sample{OID: oid, Value: sample.Value})
			scanVal = append(scanVal, oidtree.Sample{OID: oid, Value: sample.Value})
		}

		blank := oidtree.TransformOIDs(retained, m, oidtree.ModeBlank)
		scanT := oidtree.TransformOIDs(scanVal, m, oidtree.ModeScan)

		if st.Scan[host] == nil {
			st.Scan[host] = make(map[string]*oidtree.Transform)
		}
		if st.ScanVals[host] == nil {
			st.ScanVals[host] = make(map[string]*oidtree.Transform)
		}
		st.Scan[host][scan.ID] = blank
		st.ScanVals[host][scan.ID] = scanT
	}

	return nil
}

func matchesAny(res []*regexp.Regexp, value string) bool {
	for _, re := range res {
		if re.MatchString(value) {
			return true
		}
	}
	return false
}

func dataString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// namedPattern substitutes the scan's single wildcard token ("*") with its
// declared variable name, turning "1.3.6...18.*" into "1.3.6...18.name" so
// oidtree.MapOID can recognise it as a variable position.
func namedPattern(pattern, varName string) string {
	tokens := []byte(pattern)
	_ = tokens
	out := make([]rune, 0, len(pattern)+len(varName))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '*' {
			out = append(out, []rune(varName)...)
			continue
		}
		out = append(out, rune(pattern[i]))
	}
	return string(out)
}

// DigestScans combines every host's per-scan trees into a single tree per
// spec.md §4.2: with one scan it is that scan's tree; with several, the
// scan whose legend is longest is the main scan, and each preceding legend
// position's scan is unioned in by key.
func DigestScans(scans []composite.Scan, st *reqstate.State) {
	for host, perScan := range st.Scan {
		if len(scans) == 0 {
			// No declared scans: this composite is scalar, one row per host.
			// The combined tree is a single leaf so digest_vals attaches
			// every val directly to it instead of a childless interior node.
			st.Combined[host] = &oidtree.Transform{Legend: nil, Root: oidtree.NewLeaf()}
			continue
		}
		if len(perScan) == 0 {
			// Scans are declared but none returned data for this host: an
			// empty interior tree has no leaves, so the host gets no rows.
			st.Combined[host] = &oidtree.Transform{Root: oidtree.NewInterior()}
			continue
		}
		if len(perScan) == 1 {
			for _, t := range perScan {
				st.Combined[host] = t
			}
			continue
		}

		var main *oidtree.Transform
		for _, t := range perScan {
			if main == nil || len(t.Legend) > len(main.Legend) {
				main = t
			}
		}

		combined := &oidtree.Transform{Legend: main.Legend, Root: main.Root}
		for i := 0; i < len(main.Legend)-1; i++ {
			depVar := main.Legend[i]
			dep := findScanByVar(scans, perScan, depVar)
			if dep == nil {
				continue
			}
			oidtree.Union(combined.Root, dep.Root)
		}
		st.Combined[host] = combined
	}
}

// findScanByVar finds the per-scan tree whose declared scan produces the
// given legend variable.
func findScanByVar(scans []composite.Scan, perScan map[string]*oidtree.Transform, varName string) *oidtree.Transform {
	for _, s := range scans {
		if s.Var == varName {
			if t, ok := perScan[s.ID]; ok {
				return t
			}
		}
	}
	return nil
}
