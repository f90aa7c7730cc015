// Package composite loads the composite-definitions XML document described
// in spec.md §6 into an immutable, queryable in-memory tree. The loader
// itself is an external collaborator by contract (spec.md §1); this package
// only needs to expose the shape spec.md's components read from it.
package composite

import (
	"encoding/xml"
	"fmt"
	"os"
)

// Document is the root of the composite-definitions XML tree.
type Document struct {
	XMLName    xml.Name    `xml:"config"`
	Composites []Composite `xml:"composite"`
}

// Composite is one named computation, exposed as one RPC method.
type Composite struct {
	ID          string     `xml:"id,attr"`
	Description string     `xml:"description,attr"`
	Instances   []Instance `xml:"instance"`
}

// Instance selects one instance block by hostType. Only "default" is
// required by spec.md §3.
type Instance struct {
	HostType string  `xml:"hostType,attr"`
	Scans    []Scan  `xml:"scan"`
	Result   Result  `xml:"result"`
	Inputs   []Input `xml:"input"`
}

// Scan is a discovery phase that lists row identifiers by reading a
// wildcard OID.
type Scan struct {
	ID          string `xml:"id,attr"`
	OID         string `xml:"oid,attr"`
	Var         string `xml:"var,attr"`
	ExcludeOnly bool   `xml:"exclude-only,attr"`
}

// Result wraps the declared output values.
type Result struct {
	Vals []Val `xml:"val"`
}

// Val is a per-row measurement: either copied from a scan (Var) or fetched
// as an OID, optionally as a rate, then passed through an ordered function
// pipeline.
type Val struct {
	ID    string `xml:"id,attr"`
	Var   string `xml:"var,attr"`
	OID   string `xml:"oid,attr"`
	Type  string `xml:"type,attr"` // "rate" or empty
	Fctns []Fctn `xml:"fctn"`
}

// Fctn is one function application in a val's transform pipeline.
type Fctn struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
	With  string `xml:"with,attr"`
}

// Input declares a request parameter beyond the fixed node/period/exclude_regexp.
type Input struct {
	ID       string `xml:"id,attr"`
	Required bool   `xml:"required,attr"`
}

// IsRate reports whether this val should be fetched via get_rate.
func (v Val) IsRate() bool {
	return v.Type == "rate"
}

// HasOID reports whether this val is fetched by OID rather than copied
// from a scan.
func (v Val) HasOID() bool {
	return v.OID != ""
}

// Load parses a composite-definitions XML file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read composite definitions: %w", err)
	}
	return Parse(data)
}

// Parse parses a composite-definitions XML document from bytes.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse composite definitions: %w", err)
	}
	for i := range doc.Composites {
		if doc.Composites[i].ID == "" {
			return nil, fmt.Errorf("composite at index %d is missing id", i)
		}
	}
	return &doc, nil
}

// ByID returns the composite with the given id, or false if none matches.
func (d *Document) ByID(id string) (Composite, bool) {
	for _, c := range d.Composites {
		if c.ID == id {
			return c, true
		}
	}
	return Composite{}, false
}

// Instance returns the named instance block (hostType), defaulting to
// "default" per spec.md §3.
func (c Composite) Instance(hostType string) (Instance, bool) {
	if hostType == "" {
		hostType = "default"
	}
	for _, inst := range c.Instances {
		if inst.HostType == hostType {
			return inst, true
		}
	}
	return Instance{}, false
}

// ScanByID returns the scan with the given id within this instance.
func (inst Instance) ScanByID(id string) (Scan, bool) {
	for _, s := range inst.Scans {
		if s.ID == id {
			return s, true
		}
	}
	return Scan{}, false
}

// Lint reports the configuration errors spec.md §7 calls out as
// request-time warnings: a val missing its id, a val with neither oid nor
// var, and a val referencing a scan that doesn't exist. It never returns an
// error itself — every condition it finds is one the worker tolerates by
// skipping the offending val, matching the error taxonomy exactly.
func Lint(doc *Document) []string {
	var warnings []string
	for _, c := range doc.Composites {
		for _, inst := range c.Instances {
			for i, v := range inst.Result.Vals {
				if v.ID == "" {
					warnings = append(warnings, fmt.Sprintf("%s/%s: val at index %d is missing id", c.ID, inst.HostType, i))
					continue
				}
				if !v.HasOID() && v.Var == "" {
					warnings = append(warnings, fmt.Sprintf("%s/%s: val %q has neither oid nor var", c.ID, inst.HostType, v.ID))
				}
				if v.Var != "" && v.Var != "node" {
					if _, ok := inst.ScanByID(v.Var); !ok {
						warnings = append(warnings, fmt.Sprintf("%s/%s: val %q references unknown scan %q", c.ID, inst.HostType, v.ID, v.Var))
					}
				}
			}
		}
	}
	return warnings
}
