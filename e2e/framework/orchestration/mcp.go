package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/pkg/errors"
)

// Tool names understood by the coordination service.
const (
	ToolFetchDynamicData = "fetch_dynamic_data"
	ToolReportResult     = "report_test_result"
	ToolStartScenario    = "start_test_orchestration"
	ToolStopScenario     = "stop_test_orchestration"
)

const (
	clientName    = "browser-e2e"
	clientVersion = "1.0.0"
)

// MCPTransport speaks the coordination protocol as MCP tool calls over
// streamable HTTP.
type MCPTransport struct {
	endpoint string
	headers  map[string]string

	mu     sync.Mutex
	client *client.Client
}

// MCPOption configures an MCPTransport.
type MCPOption func(*MCPTransport)

// WithHeaders adds HTTP headers to every request.
func WithHeaders(headers map[string]string) MCPOption {
	return func(t *MCPTransport) {
		for k, v := range headers {
			t.headers[k] = v
		}
	}
}

// NewMCPTransport returns an unconnected transport for endpoint.
func NewMCPTransport(endpoint string, opts ...MCPOption) *MCPTransport {
	t := &MCPTransport{endpoint: strings.TrimSpace(endpoint), headers: map[string]string{}}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Connect starts the client and performs the MCP initialize handshake.
func (t *MCPTransport) Connect(ctx context.Context) error {
	var options []transport.StreamableHTTPCOption
	if len(t.headers) > 0 {
		options = append(options, transport.WithHTTPHeaders(t.headers))
	}
	c, err := client.NewStreamableHttpClient(t.endpoint, options...)
	if err != nil {
		return errors.Wrap(err, "create mcp client")
	}
	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return errors.Wrap(err, "start mcp client")
	}

	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	if _, err := c.Initialize(ctx, initReq); err != nil {
		_ = c.Close()
		return errors.Wrap(err, "initialize mcp session")
	}

	t.mu.Lock()
	t.client = c
	t.mu.Unlock()
	return nil
}

// FetchDynamicData calls fetch_dynamic_data. A JSON object response is
// returned as is; any other text is wrapped as {"value": text}.
func (t *MCPTransport) FetchDynamicData(ctx context.Context, key string) (map[string]interface{}, error) {
	text, err := t.callTool(ctx, ToolFetchDynamicData, map[string]interface{}{"key": key})
	if err != nil {
		return nil, err
	}
	var value map[string]interface{}
	if err := json.Unmarshal([]byte(text), &value); err != nil {
		return map[string]interface{}{"value": text}, nil
	}
	return value, nil
}

// ReportResult calls report_test_result.
func (t *MCPTransport) ReportResult(ctx context.Context, result Result) error {
	args := map[string]interface{}{
		"test_name":       result.Name,
		"status":          string(result.Status),
		"screenshot_path": result.ScreenshotPath,
	}
	if len(result.Details) > 0 {
		args["details"] = result.Details
	}
	_, err := t.callTool(ctx, ToolReportResult, args)
	return err
}

// StartScenario calls start_test_orchestration.
func (t *MCPTransport) StartScenario(ctx context.Context, name string) error {
	_, err := t.callTool(ctx, ToolStartScenario, map[string]interface{}{"test_name": name})
	return err
}

// StopScenario calls stop_test_orchestration.
func (t *MCPTransport) StopScenario(ctx context.Context, name string) error {
	_, err := t.callTool(ctx, ToolStopScenario, map[string]interface{}{"test_name": name})
	return err
}

// Close closes the underlying client.
func (t *MCPTransport) Close() error {
	t.mu.Lock()
	c := t.client
	t.client = nil
	t.mu.Unlock()
	if c == nil {
		return nil
	}
	return c.Close()
}

func (t *MCPTransport) callTool(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	t.mu.Lock()
	c := t.client
	t.mu.Unlock()
	if c == nil {
		return "", fmt.Errorf("mcp transport not connected")
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	result, err := c.CallTool(ctx, req)
	if err != nil {
		return "", errors.Wrapf(err, "call %s", name)
	}
	text := resultText(result)
	if result.IsError {
		if strings.HasPrefix(strings.ToLower(text), "not found") {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("%s: %s", name, text)
	}
	return text, nil
}

func resultText(result *mcp.CallToolResult) string {
	var parts []string
	for _, content := range result.Content {
		if tc, ok := mcp.AsTextContent(content); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
