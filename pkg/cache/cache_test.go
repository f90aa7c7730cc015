package cache_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jihwankim/compositeworker/pkg/cache"
	"github.com/jihwankim/compositeworker/pkg/metrics"
)

func TestGet_ParsesResultAndStampsHasTime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"jsonrpc": "2.0",
			"id": 1,
			"result": {
				"results": {
					"host1": {
						"1.3.6.1.2.1.2.2.1.10.1": {"value": 100, "time": 1700000000}
					}
				}
			}
		}`))
	}))
	defer srv.Close()

	c := cache.NewHTTPClient(srv.URL, time.Second, nil)
	result, err := c.Get(t.Context(), []string{"host1"}, "1.3.6.1.2.1.2.2.1.10")
	require.NoError(t, err)

	sample := result["host1"]["1.3.6.1.2.1.2.2.1.10.1"]
	assert.True(t, sample.HasTime)
	assert.EqualValues(t, 1700000000, sample.Time)
}

func TestGet_VarsEntryWithoutTimeHasTimeFalse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"results":{"host1":{"vars.site":{"value":"dc1"}}}}}`))
	}))
	defer srv.Close()

	c := cache.NewHTTPClient(srv.URL, time.Second, nil)
	result, err := c.Get(t.Context(), []string{"host1"}, "vars.*")
	require.NoError(t, err)
	assert.False(t, result["host1"]["vars.site"].HasTime)
	assert.Equal(t, "dc1", result["host1"]["vars.site"].Value)
}

func TestGet_RPCErrorIsSurfaced(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"error":{"code":-32000,"message":"upstream down"}}`))
	}))
	defer srv.Close()

	c := cache.NewHTTPClient(srv.URL, time.Second, nil)
	_, err := c.Get(t.Context(), []string{"host1"}, "1.3.6")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}

func TestGetRate_SendsPeriodAndOidmatchList(t *testing.T) {
	var decoded struct {
		Method string `json:"method"`
		Params []struct {
			Node     []string `json:"node"`
			Period   int      `json:"period"`
			OIDMatch []string `json:"oidmatch"`
		} `json:"params"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&decoded)
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"results":{}}}`))
	}))
	defer srv.Close()

	c := cache.NewHTTPClient(srv.URL, time.Second, nil)
	_, err := c.GetRate(t.Context(), []string{"host1"}, 60, "1.3.6")
	require.NoError(t, err)

	assert.Equal(t, "get_rate", decoded.Method)
	require.Len(t, decoded.Params, 1)
	assert.Equal(t, 60, decoded.Params[0].Period)
	assert.Equal(t, []string{"1.3.6"}, decoded.Params[0].OIDMatch)
}

func TestCall_RecordsCacheCallsMetric(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"results":{}}}`))
	}))
	defer srv.Close()

	reg := metrics.New()
	c := cache.NewHTTPClient(srv.URL, time.Second, reg)
	_, err := c.Get(t.Context(), []string{"host1"}, "1.3.6")
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(reg.CacheCallsTotal.WithLabelValues("get", "success")))
}
