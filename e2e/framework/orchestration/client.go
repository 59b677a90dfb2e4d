// Package orchestration talks to the external coordination service that
// supplies dynamic test data and receives result reports.
//
// A Client connects once per run. When the connection cannot be established
// the client stays Degraded for the rest of the run: fetches return local
// defaults and reports are kept in the local results log only. Reports and
// scenario bracketing calls are queued on a bounded channel and delivered by a
// single worker, so callers never block on the network.
package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/failures"
	"github.com/splunk/browser-e2e/e2e/framework/results"
)

// ErrNotFound is returned by a Transport when the service has no value for a key.
var ErrNotFound = errors.New("orchestration: key not found")

// State is the connection state of a Client.
type State int32

const (
	StateUninitialized State = iota
	StateConnecting
	StateConnected
	StateDegraded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Delivery describes what happened to a reported result.
type Delivery string

const (
	DeliveryQueued  Delivery = "queued"
	DeliverySent    Delivery = "sent"
	DeliveryFailed  Delivery = "failed"
	DeliveryDropped Delivery = "dropped"
	DeliveryLocal   Delivery = "local"
)

// Result is one entry in the local results log.
type Result struct {
	ID             string                 `json:"id"`
	Name           string                 `json:"test_name"`
	Status         results.Status         `json:"status"`
	Details        map[string]interface{} `json:"details,omitempty"`
	ScreenshotPath string                 `json:"screenshot_path,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	Delivery       Delivery               `json:"delivery"`
	Error          string                 `json:"error,omitempty"`
}

// Transport is the wire protocol to the coordination service.
type Transport interface {
	Connect(ctx context.Context) error
	FetchDynamicData(ctx context.Context, key string) (map[string]interface{}, error)
	ReportResult(ctx context.Context, result Result) error
	StartScenario(ctx context.Context, name string) error
	StopScenario(ctx context.Context, name string) error
	Close() error
}

// DefaultSource supplies local values used when the service cannot.
type DefaultSource interface {
	Lookup(key string) (map[string]interface{}, bool)
}

// Observer is notified of state changes and report outcomes.
type Observer interface {
	ObserveOrchestrationState(state State)
	ObserveReport(delivery Delivery)
}

// Options configure a Client.
type Options struct {
	Enabled        bool
	Endpoint       string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	DrainTimeout   time.Duration
	QueueSize      int
	Transport      Transport
	Defaults       DefaultSource
	Logger         *zap.Logger
	Observer       Observer
}

// OptionsFromConfig maps run configuration onto client options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Enabled:        cfg.OrchestrationEnabled,
		Endpoint:       cfg.OrchestrationEndpoint,
		ConnectTimeout: cfg.OrchestrationConnectTimeout,
		CallTimeout:    cfg.OrchestrationCallTimeout,
		DrainTimeout:   cfg.OrchestrationDrainTimeout,
		QueueSize:      cfg.OrchestrationQueueSize,
	}
}

// Stats counts report outcomes.
type Stats struct {
	Queued  int `json:"queued"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
	Dropped int `json:"dropped"`
	Local   int `json:"local"`
}

type taskKind string

const (
	taskReport taskKind = "report_result"
	taskStart  taskKind = "start_scenario"
	taskStop   taskKind = "stop_scenario"
)

type task struct {
	kind  taskKind
	name  string
	index int
}

// Client is safe for concurrent use.
type Client struct {
	opts      Options
	logger    *zap.Logger
	transport Transport

	mu      sync.Mutex
	state   State
	lastErr error
	log     []Result
	closed  bool
	started bool

	queue        chan task
	workerCtx    context.Context
	workerCancel context.CancelFunc
	workerDone   chan struct{}
	closeOnce    sync.Once
}

// NewClient returns an Uninitialized client. When opts.Transport is nil and
// an endpoint is configured, the MCP streamable HTTP transport is used.
func NewClient(opts Options) *Client {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = 5 * time.Second
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 3 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 10 * time.Second
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	transport := opts.Transport
	if transport == nil && strings.TrimSpace(opts.Endpoint) != "" {
		transport = NewMCPTransport(opts.Endpoint)
	}
	workerCtx, workerCancel := context.WithCancel(context.Background())
	return &Client{
		opts:         opts,
		logger:       opts.Logger.With(zap.String("component", "orchestration")),
		transport:    transport,
		queue:        make(chan task, opts.QueueSize),
		workerCtx:    workerCtx,
		workerCancel: workerCancel,
		workerDone:   make(chan struct{}),
	}
}

// Connect makes the single connection attempt of the run and returns the
// resulting state. Later calls return the current state without retrying.
func (c *Client) Connect(ctx context.Context) State {
	c.mu.Lock()
	if c.state != StateUninitialized || c.closed {
		state := c.state
		c.mu.Unlock()
		return state
	}
	c.state = StateConnecting
	c.mu.Unlock()
	c.observeState(StateConnecting)

	if !c.opts.Enabled {
		return c.degrade(failures.New(failures.OrchestrationUnavailable, "connect", "orchestration disabled"))
	}
	if c.transport == nil {
		return c.degrade(failures.New(failures.OrchestrationUnavailable, "connect", "no endpoint configured"))
	}

	c.logger.Info("connecting to orchestration service", zap.String("endpoint", c.opts.Endpoint), zap.Duration("timeout", c.opts.ConnectTimeout))
	connectCtx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- c.transport.Connect(connectCtx) }()

	select {
	case err := <-done:
		if err != nil {
			return c.degrade(failures.Wrap(failures.OrchestrationUnavailable, "connect", err))
		}
	case <-connectCtx.Done():
		// A transport that ignores its context is closed once it gives up.
		go func() {
			if err := <-done; err == nil {
				_ = c.transport.Close()
			}
		}()
		return c.degrade(failures.Wrap(failures.OrchestrationUnavailable, "connect", connectCtx.Err()))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = c.transport.Close()
		return c.degrade(failures.New(failures.OrchestrationUnavailable, "connect", "client closed while connecting"))
	}
	c.state = StateConnected
	c.started = true
	c.mu.Unlock()
	go c.work()
	c.observeState(StateConnected)
	c.logger.Info("orchestration service connected", zap.String("endpoint", c.opts.Endpoint))
	return StateConnected
}

func (c *Client) degrade(err error) State {
	c.mu.Lock()
	c.state = StateDegraded
	c.lastErr = err
	c.mu.Unlock()
	c.observeState(StateDegraded)
	c.logger.Warn("orchestration unavailable, continuing in degraded mode", zap.Error(err))
	return StateDegraded
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the service is reachable for this run.
func (c *Client) Connected() bool {
	return c.State() == StateConnected
}

// LastError returns the most recent orchestration error, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// FetchDynamicData returns the service value for key. The local default is
// returned when the client is not connected, the key is unknown, or the call
// fails or exceeds the call timeout.
func (c *Client) FetchDynamicData(ctx context.Context, key string) map[string]interface{} {
	if value, ok := c.FetchServiceData(ctx, key); ok {
		return value
	}
	return c.defaultFor(key)
}

// FetchServiceData returns the value the service holds for key. ok is false
// when the client is not connected, the service has no value for key, or the
// call fails; no local default is substituted.
func (c *Client) FetchServiceData(ctx context.Context, key string) (map[string]interface{}, bool) {
	if c.State() != StateConnected {
		return nil, false
	}
	var value map[string]interface{}
	err := c.call(ctx, func(callCtx context.Context) error {
		var err error
		value, err = c.transport.FetchDynamicData(callCtx, key)
		return err
	})
	switch {
	case err == nil && value != nil:
		return value, true
	case err == nil, errors.Is(err, ErrNotFound):
		c.logger.Debug("dynamic data not found on service", zap.String("key", key))
	default:
		c.setLastErr(failures.Wrap(failures.OrchestrationUnavailable, "fetch_dynamic_data", err))
		c.logger.Warn("dynamic data fetch failed", zap.String("key", key), zap.Error(err))
	}
	return nil, false
}

func (c *Client) defaultFor(key string) map[string]interface{} {
	if c.opts.Defaults != nil {
		if value, ok := c.opts.Defaults.Lookup(key); ok && value != nil {
			return copyMap(value)
		}
	}
	if value, ok := builtinDefaults[key]; ok {
		return copyMap(value)
	}
	return map[string]interface{}{}
}

var builtinDefaults = map[string]map[string]interface{}{
	"search_keyword":      {"keyword": "AI", "source": "default"},
	"validation_criteria": {"min_results": 5},
}

// ReportResult records a result locally and, when connected, queues it for
// delivery. It never blocks and never returns an error.
func (c *Client) ReportResult(name string, status results.Status, metadata map[string]interface{}) {
	result := Result{
		ID:        uuid.NewString(),
		Name:      name,
		Status:    status,
		Details:   copyMap(metadata),
		Timestamp: time.Now().UTC(),
		Delivery:  DeliveryLocal,
	}
	if path, ok := result.Details["screenshot_path"].(string); ok {
		result.ScreenshotPath = path
		delete(result.Details, "screenshot_path")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.closed {
		c.log = append(c.log, result)
		c.logger.Info("result logged locally", zap.String("test", name), zap.String("status", string(status)), zap.String("state", c.state.String()))
		c.observeReport(DeliveryLocal)
		return
	}
	result.Delivery = DeliveryQueued
	c.log = append(c.log, result)
	c.enqueueLocked(task{kind: taskReport, name: name, index: len(c.log) - 1})
}

// StartScenario queues a start_test_orchestration call when connected.
func (c *Client) StartScenario(name string) {
	c.bracket(taskStart, name)
}

// StopScenario queues a stop_test_orchestration call when connected.
func (c *Client) StopScenario(name string) {
	c.bracket(taskStop, name)
}

func (c *Client) bracket(kind taskKind, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected || c.closed {
		c.logger.Debug("orchestration call skipped", zap.String("call", string(kind)), zap.String("test", name))
		return
	}
	c.enqueueLocked(task{kind: kind, name: name, index: -1})
}

func (c *Client) enqueueLocked(t task) {
	select {
	case c.queue <- t:
	default:
		c.logger.Warn("orchestration queue full, dropping call", zap.String("call", string(t.kind)), zap.String("test", t.name), zap.Int("capacity", cap(c.queue)))
		c.settleLocked(t, DeliveryDropped, "queue full")
	}
}

func (c *Client) work() {
	defer close(c.workerDone)
	for t := range c.queue {
		if c.workerCtx.Err() != nil {
			c.settle(t, DeliveryDropped, "drain timeout exceeded")
			continue
		}
		err := c.call(c.workerCtx, func(ctx context.Context) error { return c.deliver(ctx, t) })
		if err != nil {
			c.setLastErr(failures.Wrap(failures.OrchestrationUnavailable, string(t.kind), err))
			c.logger.Warn("orchestration call failed", zap.String("call", string(t.kind)), zap.String("test", t.name), zap.Error(err))
			c.settle(t, DeliveryFailed, err.Error())
			continue
		}
		c.settle(t, DeliverySent, "")
	}
}

func (c *Client) deliver(ctx context.Context, t task) error {
	switch t.kind {
	case taskStart:
		return c.transport.StartScenario(ctx, t.name)
	case taskStop:
		return c.transport.StopScenario(ctx, t.name)
	default:
		c.mu.Lock()
		result := c.log[t.index]
		c.mu.Unlock()
		return c.transport.ReportResult(ctx, result)
	}
}

func (c *Client) settle(t task, delivery Delivery, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settleLocked(t, delivery, reason)
}

func (c *Client) settleLocked(t task, delivery Delivery, reason string) {
	if t.kind != taskReport || t.index < 0 || t.index >= len(c.log) {
		return
	}
	c.log[t.index].Delivery = delivery
	c.log[t.index].Error = reason
	c.observeReport(delivery)
	if delivery == DeliveryDropped {
		c.logger.Warn("orchestration report dropped", zap.String("test", t.name), zap.String("reason", reason))
	}
}

// call runs fn bounded by the call timeout even if fn ignores its context.
func (c *Client) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CallTimeout)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- fn(callCtx) }()
	select {
	case err := <-done:
		return err
	case <-callCtx.Done():
		return callCtx.Err()
	}
}

// Close stops accepting work, waits up to the drain timeout (or until ctx is
// done) for queued calls, drops whatever is left, and closes the transport.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		started := c.started
		close(c.queue)
		c.mu.Unlock()

		if started {
			timer := time.NewTimer(c.opts.DrainTimeout)
			select {
			case <-c.workerDone:
			case <-timer.C:
				c.logger.Warn("orchestration drain timed out", zap.Duration("timeout", c.opts.DrainTimeout))
			case <-ctx.Done():
				c.logger.Warn("orchestration drain cancelled", zap.Error(ctx.Err()))
			}
			timer.Stop()
			c.workerCancel()
			<-c.workerDone
		} else {
			c.workerCancel()
		}

		stats := c.Stats()
		c.logger.Info("orchestration client closed",
			zap.Int("sent", stats.Sent), zap.Int("failed", stats.Failed),
			zap.Int("dropped", stats.Dropped), zap.Int("local", stats.Local))
		if started && c.transport != nil {
			err = c.transport.Close()
		}
	})
	return err
}

// Results returns a copy of the local results log.
func (c *Client) Results() []Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Result, len(c.log))
	for i, result := range c.log {
		result.Details = copyMap(result.Details)
		out[i] = result
	}
	return out
}

// Stats summarizes the results log by delivery outcome.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stats Stats
	for _, result := range c.log {
		switch result.Delivery {
		case DeliveryQueued:
			stats.Queued++
		case DeliverySent:
			stats.Sent++
		case DeliveryFailed:
			stats.Failed++
		case DeliveryDropped:
			stats.Dropped++
		case DeliveryLocal:
			stats.Local++
		}
	}
	return stats
}

func (c *Client) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

func (c *Client) observeState(state State) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveOrchestrationState(state)
	}
}

func (c *Client) observeReport(delivery Delivery) {
	if c.opts.Observer != nil {
		c.opts.Observer.ObserveReport(delivery)
	}
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
