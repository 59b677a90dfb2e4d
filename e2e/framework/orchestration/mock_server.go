package orchestration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// ReceivedResult is a result reported to a MockServer.
type ReceivedResult struct {
	TestName       string                 `json:"test_name"`
	Status         string                 `json:"status"`
	Details        map[string]interface{} `json:"details,omitempty"`
	ScreenshotPath string                 `json:"screenshot_path,omitempty"`
	ReceivedAt     time.Time              `json:"received_at"`
}

// MockServer is an in-process coordination service. It serves seeded dynamic
// data and records everything reported to it.
type MockServer struct {
	handler http.Handler
	logger  *zap.Logger
	delay   time.Duration

	mu      sync.Mutex
	data    map[string]map[string]interface{}
	results []ReceivedResult
	active  map[string]time.Time
	events  []string
}

// MockOption configures a MockServer.
type MockOption func(*MockServer)

// WithMockLogger sets the server logger.
func WithMockLogger(logger *zap.Logger) MockOption {
	return func(m *MockServer) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithResponseDelay delays every tool response.
func WithResponseDelay(d time.Duration) MockOption {
	return func(m *MockServer) { m.delay = d }
}

// NewMockServer returns a handler speaking the coordination protocol.
func NewMockServer(seed map[string]map[string]interface{}, opts ...MockOption) *MockServer {
	m := &MockServer{
		logger: zap.NewNop(),
		data:   make(map[string]map[string]interface{}, len(seed)),
		active: make(map[string]time.Time),
	}
	for key, value := range seed {
		m.data[key] = copyMap(value)
	}
	for _, opt := range opts {
		opt(m)
	}

	s := server.NewMCPServer("browser-e2e-orchestrator", clientVersion, server.WithToolCapabilities(true))
	s.AddTools(
		server.ServerTool{
			Tool: mcp.NewTool(ToolFetchDynamicData,
				mcp.WithDescription("Return dynamic test data for a key"),
				mcp.WithString("key", mcp.Required(), mcp.Description("data key, e.g. search_keyword")),
			),
			Handler: m.handleFetch,
		},
		server.ServerTool{
			Tool: mcp.NewTool(ToolReportResult,
				mcp.WithDescription("Record a test result"),
				mcp.WithString("test_name", mcp.Required(), mcp.Description("scenario name")),
				mcp.WithString("status", mcp.Required(), mcp.Description("passed, failed or skipped")),
				mcp.WithObject("details", mcp.Description("free-form result metadata")),
				mcp.WithString("screenshot_path", mcp.Description("path of the final screenshot")),
			),
			Handler: m.handleReport,
		},
		server.ServerTool{
			Tool: mcp.NewTool(ToolStartScenario,
				mcp.WithDescription("Mark a scenario as started"),
				mcp.WithString("test_name", mcp.Required(), mcp.Description("scenario name")),
			),
			Handler: m.handleStart,
		},
		server.ServerTool{
			Tool: mcp.NewTool(ToolStopScenario,
				mcp.WithDescription("Mark a scenario as stopped"),
				mcp.WithString("test_name", mcp.Required(), mcp.Description("scenario name")),
			),
			Handler: m.handleStop,
		},
	)
	m.handler = server.NewStreamableHTTPServer(s)
	return m
}

// ServeHTTP implements http.Handler.
func (m *MockServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	m.handler.ServeHTTP(w, r)
}

// SetData replaces the value served for key.
func (m *MockServer) SetData(key string, value map[string]interface{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = copyMap(value)
}

// Results returns every reported result in arrival order.
func (m *MockServer) Results() []ReceivedResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ReceivedResult(nil), m.results...)
}

// Events returns start/stop events as "start:<name>" and "stop:<name>".
func (m *MockServer) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

// Active returns scenarios started but not yet stopped, sorted.
func (m *MockServer) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.active))
	for name := range m.active {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *MockServer) wait(ctx context.Context) {
	if m.delay <= 0 {
		return
	}
	select {
	case <-time.After(m.delay):
	case <-ctx.Done():
	}
}

func (m *MockServer) handleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.wait(ctx)
	key, err := req.RequireString("key")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m.mu.Lock()
	value, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("not found: %s", key)), nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(raw)), nil
}

func (m *MockServer) handleReport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.wait(ctx)
	name, err := req.RequireString("test_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	status, err := req.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	received := ReceivedResult{
		TestName:       name,
		Status:         status,
		ScreenshotPath: req.GetString("screenshot_path", ""),
		ReceivedAt:     time.Now().UTC(),
	}
	if details, ok := req.GetArguments()["details"].(map[string]interface{}); ok {
		received.Details = details
	}
	m.mu.Lock()
	m.results = append(m.results, received)
	m.mu.Unlock()
	m.logger.Info("result received", zap.String("test", name), zap.String("status", status))
	return mcp.NewToolResultText("recorded"), nil
}

func (m *MockServer) handleStart(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.wait(ctx)
	name, err := req.RequireString("test_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m.mu.Lock()
	m.active[name] = time.Now().UTC()
	m.events = append(m.events, "start:"+name)
	m.mu.Unlock()
	return mcp.NewToolResultText("started"), nil
}

func (m *MockServer) handleStop(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m.wait(ctx)
	name, err := req.RequireString("test_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	m.mu.Lock()
	delete(m.active, name)
	m.events = append(m.events, "stop:"+name)
	m.mu.Unlock()
	return mcp.NewToolResultText("stopped"), nil
}

// LoadSeed reads dynamic data for a MockServer from a YAML or JSON file
// mapping keys to objects.
func LoadSeed(path string) (map[string]map[string]interface{}, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read seed file")
	}
	seed := map[string]map[string]interface{}{}
	if err := yaml.Unmarshal(raw, &seed); err != nil {
		return nil, errors.Wrapf(err, "parse seed file %s", path)
	}
	return seed, nil
}
