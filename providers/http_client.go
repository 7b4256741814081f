package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"
)

// HTTPOptions configures an HTTPClient.
type HTTPOptions struct {
	// Endpoint is the base URL of the provider's JSON-RPC-over-HTTP
	// interface (tools/list, tools/call).
	Endpoint string
	// HTTPClient is the underlying transport; defaults to a client with a
	// 30s timeout when nil.
	HTTPClient *http.Client
	// ServerName identifies the provider in Tool.Server and CallRequest.Server.
	ServerName string
}

// HTTPClient implements Client over a JSON-RPC-shaped HTTP interface,
// grounded on the "tools/list" and "tools/call" method names used by
// Model Context Protocol style providers.
type HTTPClient struct {
	opts HTTPOptions
	seq  atomic.Int64
}

// NewHTTPClient constructs an HTTPClient for a single provider process.
func NewHTTPClient(opts HTTPOptions) *HTTPClient {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPClient{opts: opts}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result,omitempty"`
	Error  *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *HTTPClient) do(ctx context.Context, method string, params any) (json.RawMessage, error) {
	req := rpcRequest{JSONRPC: "2.0", ID: c.seq.Add(1), Method: method, Params: params}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("providers: marshal %s request: %w", method, err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("providers: build %s request: %w", method, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.opts.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("providers: %s transport: %w", method, err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("providers: read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("providers: %s status %d: %s", method, resp.StatusCode, string(raw))
	}
	var rpcResp rpcResponse
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		return nil, fmt.Errorf("providers: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return nil, &RPCError{Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}
	return rpcResp.Result, nil
}

// ListTools implements Client.
func (c *HTTPClient) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.do(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var listed []struct {
		Name        string          `json:"name"`
		Description string          `json:"description"`
		InputSchema json.RawMessage `json:"inputSchema"`
	}
	if err := json.Unmarshal(raw, &listed); err != nil {
		return nil, fmt.Errorf("providers: decode tools/list result: %w", err)
	}
	tools := make([]Tool, len(listed))
	for i, t := range listed {
		tools[i] = Tool{
			Server:      c.opts.ServerName,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: t.InputSchema,
		}
	}
	return tools, nil
}

// CallTool implements Client.
func (c *HTTPClient) CallTool(ctx context.Context, req CallRequest) (CallResponse, error) {
	raw, err := c.do(ctx, "tools/call", map[string]any{
		"name":      req.Tool,
		"arguments": req.Parameters,
	})
	if err != nil {
		return CallResponse{}, err
	}
	return CallResponse{Result: raw}, nil
}

// Ready implements Client by issuing a cheap tools/list probe.
func (c *HTTPClient) Ready(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := c.do(ctx, "tools/list", nil)
	return err == nil
}
