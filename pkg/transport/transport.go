// Package transport is the inbound side of the worker's JSON-RPC 2.0
// surface (spec.md §6): one method registered per composite, named by the
// composite's id, plus the ping diagnostic. It speaks the same wire shape
// the worker itself consumes from the upstream cache service.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/jihwankim/compositeworker/pkg/composite"
	"github.com/jihwankim/compositeworker/pkg/logging"
	"github.com/jihwankim/compositeworker/pkg/pipeline"
)

// Server serves one JSON-RPC 2.0 endpoint exposing every composite in doc
// plus ping.
type Server struct {
	Doc      *composite.Document
	Pipeline *pipeline.Pipeline
	Log      *logging.Logger
}

// New creates a Server.
func New(doc *composite.Document, p *pipeline.Pipeline, log *logging.Logger) *Server {
	return &Server{Doc: doc, Pipeline: p, Log: log}
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
}

// requestParams is the single positional-params object every composite
// method and ping accept, per spec.md §6.
type requestParams struct {
	Node          []string          `json:"node"`
	Period        int               `json:"period"`
	ExcludeRegexp []string          `json:"exclude_regexp"`
	Inputs        map[string]string `json:"-"`
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeResponse(w, rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error"}})
		return
	}

	resp := rpcResponse{JSONRPC: "2.0", ID: req.ID}

	if req.Method == "ping" {
		resp.Result = float64(time.Now().UnixNano()) / 1e9
		writeResponse(w, resp)
		return
	}

	if _, ok := s.Doc.ByID(req.Method); !ok {
		resp.Error = &rpcError{Code: -32601, Message: fmt.Sprintf("unknown composite %q", req.Method)}
		writeResponse(w, resp)
		return
	}

	var params []requestParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &rpcError{Code: -32602, Message: "invalid params"}
			writeResponse(w, resp)
			return
		}
	}
	if len(params) == 0 || len(params[0].Node) == 0 {
		resp.Error = &rpcError{Code: -32602, Message: "node is required"}
		writeResponse(w, resp)
		return
	}
	p := params[0]
	if p.Period == 0 {
		p.Period = 60
	}

	pipeReq := pipeline.Request{
		CompositeID:    req.Method,
		HostType:       "default",
		Hosts:          p.Node,
		Period:         p.Period,
		ExcludeRegexps: p.ExcludeRegexp,
	}

	result, err := s.Pipeline.Execute(r.Context(), s.Doc, pipeReq)
	if err != nil {
		s.Log.Error("rpc request failed", "method", req.Method, "err", err)
		resp.Error = &rpcError{Code: -32000, Message: err.Error()}
		writeResponse(w, resp)
		return
	}

	resp.Result = map[string]interface{}{"results": result.Rows}
	writeResponse(w, resp)
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// ListMethods returns every registered RPC method name: ping plus one per
// composite, the same names the `composited list` subcommand prints.
func (s *Server) ListMethods() []string {
	methods := []string{"ping"}
	for _, c := range s.Doc.Composites {
		methods = append(methods, c.ID)
	}
	return methods
}

// Serve runs the HTTP server on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, log *logging.Logger) error {
	srv := &http.Server{Addr: addr, Handler: handler}

	errCh := make(chan error, 1)
	go func() {
		log.Info("transport listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
