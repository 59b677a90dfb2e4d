package orchestration

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

type fakeTransport struct {
	connectErr error
	data       map[string]map[string]interface{}
	fetchErr   error
	block      chan struct{}

	mu       sync.Mutex
	reported []Result
	events   []string
	closed   bool
}

func (f *fakeTransport) Connect(ctx context.Context) error { return f.connectErr }

func (f *fakeTransport) FetchDynamicData(ctx context.Context, key string) (map[string]interface{}, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	value, ok := f.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return value, nil
}

func (f *fakeTransport) ReportResult(ctx context.Context, result Result) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reported = append(f.reported, result)
	return nil
}

func (f *fakeTransport) StartScenario(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "start:"+name)
	return nil
}

func (f *fakeTransport) StopScenario(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, "stop:"+name)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type staticDefaults map[string]map[string]interface{}

func (s staticDefaults) Lookup(key string) (map[string]interface{}, bool) {
	value, ok := s[key]
	return value, ok
}

type stateRecorder struct {
	mu     sync.Mutex
	states []State
}

func (r *stateRecorder) ObserveOrchestrationState(state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *stateRecorder) ObserveReport(Delivery) {}

func TestDisabledClientIsDegraded(t *testing.T) {
	rec := &stateRecorder{}
	c := NewClient(Options{Enabled: false, Transport: &fakeTransport{}, Observer: rec})
	assert.Equal(t, StateUninitialized, c.State())

	assert.Equal(t, StateDegraded, c.Connect(context.Background()))
	assert.True(t, failures.Is(c.LastError(), failures.OrchestrationUnavailable))
	assert.Equal(t, []State{StateConnecting, StateDegraded}, rec.states)

	assert.Equal(t, map[string]interface{}{"keyword": "AI", "source": "default"}, c.FetchDynamicData(context.Background(), "search_keyword"))
	assert.Equal(t, map[string]interface{}{}, c.FetchDynamicData(context.Background(), "unknown"))
	require.NoError(t, c.Close(context.Background()))
}

func TestConnectFailureIsPermanent(t *testing.T) {
	transport := &fakeTransport{connectErr: errors.New("connection refused")}
	c := NewClient(Options{Enabled: true, Transport: transport})

	assert.Equal(t, StateDegraded, c.Connect(context.Background()))
	transport.connectErr = nil
	assert.Equal(t, StateDegraded, c.Connect(context.Background()), "no reconnection within a run")
	assert.False(t, c.Connected())
}

func TestUnreachableEndpointDegradesWithinTimeout(t *testing.T) {
	// A listener that accepts but never answers.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	core, logs := observer.New(zap.WarnLevel)
	c := NewClient(Options{
		Enabled:        true,
		Endpoint:       "http://" + ln.Addr().String() + "/mcp",
		ConnectTimeout: 200 * time.Millisecond,
		DrainTimeout:   100 * time.Millisecond,
		Logger:         zap.New(core),
	})

	start := time.Now()
	state := c.Connect(context.Background())
	assert.Equal(t, StateDegraded, state)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 1, logs.FilterMessage("orchestration unavailable, continuing in degraded mode").Len())

	start = time.Now()
	value := c.FetchDynamicData(context.Background(), "validation_criteria")
	c.ReportResult("Search for AI", results.StatusPassed, nil)
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 5, value["min_results"])
	assert.NotContains(t, value, "title_contains")

	require.NoError(t, c.Close(context.Background()))
	require.Len(t, c.Results(), 1)
	assert.Equal(t, DeliveryLocal, c.Results()[0].Delivery)
}

func TestConnectedFetchFallsBackToDefaults(t *testing.T) {
	transport := &fakeTransport{data: map[string]map[string]interface{}{
		"search_keyword": {"keyword": "Go"},
	}}
	defaults := staticDefaults{"validation_criteria": {"title_contains": "local"}}
	c := NewClient(Options{Enabled: true, Transport: transport, Defaults: defaults})
	require.Equal(t, StateConnected, c.Connect(context.Background()))
	defer c.Close(context.Background())

	assert.Equal(t, "Go", c.FetchDynamicData(context.Background(), "search_keyword")["keyword"])
	assert.Equal(t, "local", c.FetchDynamicData(context.Background(), "validation_criteria")["title_contains"])
	assert.NoError(t, c.LastError(), "not found is not an error")

	transport.fetchErr = errors.New("boom")
	assert.Equal(t, "AI", c.FetchDynamicData(context.Background(), "search_keyword")["keyword"])
	assert.True(t, failures.Is(c.LastError(), failures.OrchestrationUnavailable))
	assert.Equal(t, StateConnected, c.State(), "call failures do not degrade the client")
}

func TestFetchServiceDataNeverSubstitutesDefaults(t *testing.T) {
	transport := &fakeTransport{data: map[string]map[string]interface{}{
		"search_keyword": {"keyword": "Go"},
	}}
	c := NewClient(Options{Enabled: true, Transport: transport})

	_, ok := c.FetchServiceData(context.Background(), "search_keyword")
	assert.False(t, ok, "not connected yet")

	require.Equal(t, StateConnected, c.Connect(context.Background()))
	defer c.Close(context.Background())

	value, ok := c.FetchServiceData(context.Background(), "search_keyword")
	require.True(t, ok)
	assert.Equal(t, "Go", value["keyword"])

	value, ok = c.FetchServiceData(context.Background(), "validation_criteria")
	assert.False(t, ok)
	assert.Nil(t, value)
	assert.Equal(t, 5, c.FetchDynamicData(context.Background(), "validation_criteria")["min_results"])

	transport.fetchErr = errors.New("boom")
	_, ok = c.FetchServiceData(context.Background(), "search_keyword")
	assert.False(t, ok)
}

func TestSlowFetchReturnsDefaultWithinCallTimeout(t *testing.T) {
	block := make(chan struct{})
	defer close(block)
	transport := &fakeTransport{block: block}
	c := NewClient(Options{Enabled: true, Transport: transport, CallTimeout: 50 * time.Millisecond})
	require.Equal(t, StateConnected, c.Connect(context.Background()))

	start := time.Now()
	value := c.FetchDynamicData(context.Background(), "search_keyword")
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "default", value["source"])
}

func TestReportResultNeverBlocks(t *testing.T) {
	block := make(chan struct{})
	transport := &fakeTransport{block: block}
	core, logs := observer.New(zap.WarnLevel)
	c := NewClient(Options{
		Enabled:      true,
		Transport:    transport,
		QueueSize:    2,
		CallTimeout:  time.Hour,
		DrainTimeout: 50 * time.Millisecond,
		Logger:       zap.New(core),
	})
	require.Equal(t, StateConnected, c.Connect(context.Background()))

	start := time.Now()
	for i := 0; i < 10; i++ {
		c.ReportResult("scenario", results.StatusPassed, map[string]interface{}{"screenshot_path": "a.png", "step": i})
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.NotZero(t, logs.FilterMessage("orchestration queue full, dropping call").Len())

	start = time.Now()
	require.NoError(t, c.Close(context.Background()))
	assert.Less(t, time.Since(start), time.Second, "close is bounded by the drain timeout")
	close(block)

	log := c.Results()
	require.Len(t, log, 10)
	assert.Equal(t, "a.png", log[0].ScreenshotPath)
	assert.NotContains(t, log[0].Details, "screenshot_path")
	stats := c.Stats()
	assert.Zero(t, stats.Queued)
	assert.Zero(t, stats.Sent)
	assert.Equal(t, 10, stats.Dropped+stats.Failed)
	assert.True(t, transport.closed)
}

func TestCloseDrainsQueuedReports(t *testing.T) {
	transport := &fakeTransport{}
	c := NewClient(Options{Enabled: true, Transport: transport})
	require.Equal(t, StateConnected, c.Connect(context.Background()))

	c.StartScenario("s1")
	c.ReportResult("s1", results.StatusFailed, map[string]interface{}{"error": "title mismatch"})
	c.StopScenario("s1")
	require.NoError(t, c.Close(context.Background()))
	require.NoError(t, c.Close(context.Background()))

	assert.Equal(t, []string{"start:s1", "stop:s1"}, transport.events)
	require.Len(t, transport.reported, 1)
	assert.Equal(t, results.StatusFailed, transport.reported[0].Status)
	assert.Equal(t, Stats{Sent: 1}, c.Stats())

	c.ReportResult("after-close", results.StatusPassed, nil)
	assert.Equal(t, DeliveryLocal, c.Results()[1].Delivery)
}

func TestMockServerRoundTrip(t *testing.T) {
	mock := NewMockServer(map[string]map[string]interface{}{
		"search_keyword": {"keyword": "golang", "source": "mcp"},
	})
	srv := httptest.NewServer(mock)
	defer srv.Close()

	c := NewClient(Options{Enabled: true, Endpoint: srv.URL, ConnectTimeout: 5 * time.Second})
	require.Equal(t, StateConnected, c.Connect(context.Background()))

	assert.Equal(t, "golang", c.FetchDynamicData(context.Background(), "search_keyword")["keyword"])
	assert.Equal(t, 5, c.FetchDynamicData(context.Background(), "validation_criteria")["min_results"], "missing key falls back")

	c.StartScenario("Search")
	c.ReportResult("Search", results.StatusPassed, map[string]interface{}{"screenshot_path": "shots/final.png", "duration_ms": 1200})
	c.StopScenario("Search")
	require.NoError(t, c.Close(context.Background()))

	received := mock.Results()
	require.Len(t, received, 1)
	assert.Equal(t, "Search", received[0].TestName)
	assert.Equal(t, "passed", received[0].Status)
	assert.Equal(t, "shots/final.png", received[0].ScreenshotPath)
	assert.Equal(t, []string{"start:Search", "stop:Search"}, mock.Events())
	assert.Empty(t, mock.Active())
}

func TestLoadSeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte("search_keyword:\n  keyword: AI\n  source: seed\n"), 0o644))
	seed, err := LoadSeed(path)
	require.NoError(t, err)
	assert.Equal(t, "seed", seed["search_keyword"]["source"])
}
