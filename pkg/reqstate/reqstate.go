// Package reqstate holds the request-global result buffer described in
// spec.md §3: the per-request scratch space that do_scans/digest_scans,
// do_vals/digest_vals, and do_functions read and mutate in sequence.
// One State is created per in-flight request and discarded once the
// orchestrator returns its result.
package reqstate

import (
	"sync"

	"github.com/jihwankim/compositeworker/pkg/oidtree"
)

// State is the per-request result buffer. All maps are keyed by host first.
type State struct {
	mu sync.Mutex

	// Scan holds, per host per scan id, the blank tree built during do_scans.
	// After DigestScans runs, Combined holds the single merged tree and Scan
	// is no longer consulted by later stages.
	Scan map[string]map[string]*oidtree.Transform

	// ScanVals holds, per host per scan id, the scan-mode tree (values, no
	// time) used to serve <val var="...">.
	ScanVals map[string]map[string]*oidtree.Transform

	// ScanExclude records OIDs blacklisted by exclude-regexp filters.
	ScanExclude map[string]map[string]bool

	// Combined is the post-digest_scans merged tree per host.
	Combined map[string]*oidtree.Transform

	// Val holds, per host per val id, the attached-and-trimmed value tree
	// built during do_vals, before digest_vals flattens it.
	Val map[string]map[string]*oidtree.Transform

	// HostVar holds per-host variables fetched from the "vars.*" prefix.
	HostVar map[string]map[string]interface{}

	// Rows holds, per host, the flattened row records after digest_vals,
	// mutated in place by do_functions.
	Rows map[string][]map[string]interface{}
}

// New creates an empty State for the given hosts.
func New(hosts []string) *State {
	s := &State{
		Scan:        make(map[string]map[string]*oidtree.Transform),
		ScanVals:    make(map[string]map[string]*oidtree.Transform),
		ScanExclude: make(map[string]map[string]bool),
		Combined:    make(map[string]*oidtree.Transform),
		Val:         make(map[string]map[string]*oidtree.Transform),
		HostVar:     make(map[string]map[string]interface{}),
		Rows:        make(map[string][]map[string]interface{}),
	}
	for _, h := range hosts {
		s.Scan[h] = make(map[string]*oidtree.Transform)
		s.ScanVals[h] = make(map[string]*oidtree.Transform)
		s.ScanExclude[h] = make(map[string]bool)
		s.Val[h] = make(map[string]*oidtree.Transform)
		s.HostVar[h] = make(map[string]interface{})
		s.Rows[h] = nil
	}
	return s
}

// Lock/Unlock guard concurrent callback writes during the fan-out phases of
// do_scans/do_vals. Completion order across hosts/scans is unspecified
// (spec.md §5); results are keyed so order never matters, but the maps
// themselves are shared and need a lock while multiple goroutines write.
func (s *State) Lock()   { s.mu.Lock() }
func (s *State) Unlock() { s.mu.Unlock() }
