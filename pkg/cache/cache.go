// Package cache is the client for the upstream cache service — the one
// external collaborator whose contract this worker consumes (spec.md §1,
// §6). Only get and get_rate are exercised.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jihwankim/compositeworker/pkg/metrics"
)

// Sample is one observed {value, time} pair for an OID. HasTime is true
// only when the wire payload carried a "time" field: telemetry samples from
// get/get_rate do, but vars.* entries consulted by fetchHostVars don't.
type Sample struct {
	Value   interface{} `json:"value"`
	Time    int64       `json:"time"`
	HasTime bool        `json:"-"`
}

// UnmarshalJSON records whether "time" was present on the wire before
// decoding it into Time, since the zero value is indistinguishable from an
// explicit 0.
func (s *Sample) UnmarshalJSON(data []byte) error {
	var raw struct {
		Value interface{} `json:"value"`
		Time  *int64      `json:"time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.Value = raw.Value
	if raw.Time != nil {
		s.Time = *raw.Time
		s.HasTime = true
	}
	return nil
}

// Result maps host -> oid -> sample, the shape both get and get_rate return.
type Result map[string]map[string]Sample

// Client issues get/get_rate calls against the upstream cache service.
type Client interface {
	Get(ctx context.Context, nodes []string, oidMatch string) (Result, error)
	GetRate(ctx context.Context, nodes []string, period int, oidMatch string) (Result, error)
}

// HTTPClient is the production Client, speaking JSON-RPC 2.0 over HTTP —
// the same wire shape the teacher framework's detector.rpcClient uses for
// its upstream EVM node calls.
type HTTPClient struct {
	url     string
	client  *http.Client
	metrics *metrics.Registry // optional
}

// NewHTTPClient creates an HTTPClient against the given cache service URL.
// m may be nil to disable metrics.
func NewHTTPClient(url string, timeout time.Duration, m *metrics.Registry) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{url: url, client: &http.Client{Timeout: timeout}, metrics: m}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int           `json:"id"`
}

type rpcResponse struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Result  struct {
		Results Result `json:"results"`
	} `json:"result"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Get implements Client.Get: get(node:[host...], oidmatch:string).
func (c *HTTPClient) Get(ctx context.Context, nodes []string, oidMatch string) (Result, error) {
	return c.call(ctx, "get", map[string]interface{}{
		"node":     nodes,
		"oidmatch": oidMatch,
	})
}

// GetRate implements Client.GetRate: get_rate(node:[host], period:int, oidmatch:[string]).
func (c *HTTPClient) GetRate(ctx context.Context, nodes []string, period int, oidMatch string) (Result, error) {
	return c.call(ctx, "get_rate", map[string]interface{}{
		"node":     nodes,
		"period":   period,
		"oidmatch": []string{oidMatch},
	})
}

func (c *HTTPClient) call(ctx context.Context, method string, params map[string]interface{}) (result Result, err error) {
	defer func() {
		if c.metrics == nil {
			return
		}
		outcome := "success"
		if err != nil {
			outcome = "failure"
		}
		c.metrics.CacheCallsTotal.WithLabelValues(method, outcome).Inc()
	}()

	req := rpcRequest{JSONRPC: "2.0", Method: method, Params: []interface{}{params}, ID: 1}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal cache request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build cache request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cache request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read cache response: %w", err)
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return nil, fmt.Errorf("unmarshal cache response: %w", err)
	}
	if rpcResp.Error != nil {
		return nil, fmt.Errorf("cache rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
	}

	return rpcResp.Result.Results, nil
}
