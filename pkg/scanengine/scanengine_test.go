package scanengine_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/compositeworker/pkg/cache"
	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/reqstate"
	"github.com/jihwankim/compositeworker/pkg/scanengine"
)

type fakeCache struct {
	result cache.Result
	err    error
}

func (f *fakeCache) Get(ctx context.Context, nodes []string, oidMatch string) (cache.Result, error) {
	return f.result, f.err
}

func (f *fakeCache) GetRate(ctx context.Context, nodes []string, period int, oidMatch string) (cache.Result, error) {
	return f.result, f.err
}

func newLog() *logging.Logger {
	return logging.New(logging.Config{Output: &bytes.Buffer{}})
}

func TestParseExcludes_ValidEntries(t *testing.T) {
	m, err := scanengine.ParseExcludes([]string{"ifIdx=^Vlan", "cidx=^99$"})
	require.NoError(t, err)
	assert.Contains(t, m, "ifIdx")
	assert.Contains(t, m, "cidx")
	assert.True(t, m["ifIdx"][0].MatchString("Vlan100"))
}

func TestParseExcludes_MissingEqualsIsError(t *testing.T) {
	_, err := scanengine.ParseExcludes([]string{"noequalssign"})
	assert.Error(t, err)
}

func TestParseExcludes_InvalidRegexIsError(t *testing.T) {
	_, err := scanengine.ParseExcludes([]string{"ifIdx=("})
	assert.Error(t, err)
}

func TestDoScans_PopulatesScanAndScanValsPerHost(t *testing.T) {
	fc := &fakeCache{result: cache.Result{
		"host1": {
			"1.3.6.1.2.1.31.1.1.1.18.1": {Value: "eth0"},
			"1.3.6.1.2.1.31.1.1.1.18.2": {Value: "eth1"},
		},
	}}
	e := scanengine.New(fc, newLog(), 2)
	scans := []composite.Scan{{ID: "ifscan", OID: "1.3.6.1.2.1.31.1.1.1.18.*", Var: "ifIdx"}}
	st := reqstate.New([]string{"host1"})

	err := e.DoScans(context.Background(), []string{"host1"}, scans, nil, st)
	require.NoError(t, err)

	require.Contains(t, st.Scan["host1"], "ifscan")
	require.Contains(t, st.ScanVals["host1"], "ifscan")
	assert.Len(t, st.Scan["host1"]["ifscan"].Root.Interior, 2)
}

func TestDoScans_ExcludeRegexpRecordsScanExcludeOnly(t *testing.T) {
	fc := &fakeCache{result: cache.Result{
		"host1": {
			"1.3.6.1.2.1.31.1.1.1.18.1": {Value: "Vlan100"},
			"1.3.6.1.2.1.31.1.1.1.18.2": {Value: "eth1"},
		},
	}}
	e := scanengine.New(fc, newLog(), 1)
	scans := []composite.Scan{{ID: "ifscan", OID: "1.3.6.1.2.1.31.1.1.1.18.*", Var: "ifIdx"}}
	excludes, err := scanengine.ParseExcludes([]string{"ifIdx=^Vlan"})
	require.NoError(t, err)
	st := reqstate.New([]string{"host1"})

	err = e.DoScans(context.Background(), []string{"host1"}, scans, excludes, st)
	require.NoError(t, err)

	assert.True(t, st.ScanExclude["host1"]["1.3.6.1.2.1.31.1.1.1.18.1"])
	assert.Len(t, st.Scan["host1"]["ifscan"].Root.Interior, 1)
}

func TestDoScans_ExcludeOnlyScanContributesNothingButExclusions(t *testing.T) {
	fc := &fakeCache{result: cache.Result{
		"host1": {
			"1.3.6.1.2.1.31.1.1.1.18.1": {Value: "Vlan100"},
		},
	}}
	e := scanengine.New(fc, newLog(), 1)
	scans := []composite.Scan{{ID: "excl", OID: "1.3.6.1.2.1.31.1.1.1.18.*", Var: "ifIdx", ExcludeOnly: true}}
	excludes, err := scanengine.ParseExcludes([]string{"ifIdx=^Vlan"})
	require.NoError(t, err)
	st := reqstate.New([]string{"host1"})

	err = e.DoScans(context.Background(), []string{"host1"}, scans, excludes, st)
	require.NoError(t, err)

	assert.True(t, st.ScanExclude["host1"]["1.3.6.1.2.1.31.1.1.1.18.1"])
	assert.Empty(t, st.Scan["host1"]["excl"].Root.Interior)
}

func TestDoScans_CacheErrorIsLoggedNotPropagated(t *testing.T) {
	fc := &fakeCache{err: assert.AnError}
	e := scanengine.New(fc, newLog(), 1)
	scans := []composite.Scan{{ID: "ifscan", OID: "1.3.6.1.2.1.31.1.1.1.18.*", Var: "ifIdx"}}
	st := reqstate.New([]string{"host1"})

	err := e.DoScans(context.Background(), []string{"host1"}, scans, nil, st)
	assert.NoError(t, err)
}

func TestDigestScans_SingleScanIsPassthrough(t *testing.T) {
	fc := &fakeCache{result: cache.Result{
		"host1": {"1.3.6.1.2.1.31.1.1.1.18.1": {Value: "eth0"}},
	}}
	e := scanengine.New(fc, newLog(), 1)
	scans := []composite.Scan{{ID: "ifscan", OID: "1.3.6.1.2.1.31.1.1.1.18.*", Var: "ifIdx"}}
	st := reqstate.New([]string{"host1"})
	require.NoError(t, e.DoScans(context.Background(), []string{"host1"}, scans, nil, st))

	scanengine.DigestScans(scans, st)

	require.NotNil(t, st.Combined["host1"])
	assert.Len(t, st.Combined["host1"].Root.Interior, 1)
}

func TestDigestScans_NoScansYieldsScalarLeafCombined(t *testing.T) {
	st := reqstate.New([]string{"host1"})
	scanengine.DigestScans(nil, st)

	require.NotNil(t, st.Combined["host1"])
	assert.True(t, st.Combined["host1"].Root.IsLeaf)
}

func TestDigestScans_UnionsDependentScansByLegendDepth(t *testing.T) {
	fc1 := cache.Result{"host1": {"1.1": {Value: "c1"}}}
	fcCidx := &fakeCache{result: fc1}
	e1 := scanengine.New(fcCidx, newLog(), 1)
	scans := []composite.Scan{
		{ID: "cscan", OID: "1.cidx", Var: "cidx"},
		{ID: "ifscan", OID: "1.cidx.ifIdx", Var: "ifIdx"},
	}
	st := reqstate.New([]string{"host1"})
	require.NoError(t, e1.DoScans(context.Background(), []string{"host1"}, []composite.Scan{scans[0]}, nil, st))

	fcIf := &fakeCache{result: cache.Result{"host1": {"1.1.2": {Value: "eth0"}}}}
	e2 := scanengine.New(fcIf, newLog(), 1)
	require.NoError(t, e2.DoScans(context.Background(), []string{"host1"}, []composite.Scan{scans[1]}, nil, st))

	scanengine.DigestScans(scans, st)

	require.NotNil(t, st.Combined["host1"])
	assert.Equal(t, []string{"cidx", "ifIdx"}, st.Combined["host1"].Legend)
}
