package runner

import (
	"context"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/splunk/browser-e2e/e2e/framework/browser"
	"github.com/splunk/browser-e2e/e2e/framework/browser/browsertest"
	"github.com/splunk/browser-e2e/e2e/framework/config"
	"github.com/splunk/browser-e2e/e2e/framework/objectstore"
	"github.com/splunk/browser-e2e/e2e/framework/orchestration"
	"github.com/splunk/browser-e2e/e2e/framework/pages/pagestest"
	"github.com/splunk/browser-e2e/e2e/framework/results"
	"github.com/splunk/browser-e2e/e2e/framework/spec"
	"github.com/splunk/browser-e2e/e2e/framework/steps"
)

func testConfig(dir string) *config.Config {
	return &config.Config{
		RunID:               "run-1",
		ArtifactDir:         dir,
		ScreenshotDir:       filepath.Join(dir, "screenshots"),
		ReportDir:           filepath.Join(dir, "reports"),
		ReportFormats:       []string{config.FormatHTML, config.FormatJSON},
		ReportBaseName:      "test_report",
		Parallelism:         1,
		Browser:             browser.KindChromium,
		Headless:            true,
		ViewportWidth:       1280,
		ViewportHeight:      720,
		Isolation:           config.IsolationShared,
		StepTimeout:         5 * time.Second,
		ScenarioTimeout:     30 * time.Second,
		TeardownTimeout:     time.Second,
		ScreenshotsEnabled:  true,
		NavigationCapture:   true,
		FullPageScreenshots: true,
		MetricsEnabled:      true,
		MetricsPath:         filepath.Join(dir, "metrics.prom"),
		GraphEnabled:        true,
	}
}

func step(keyword, text string) spec.Step {
	return spec.Step{Keyword: keyword, Text: text}
}

func searchScenario(id, keyword string, tags ...string) spec.Scenario {
	return spec.Scenario{
		ID:      id,
		Name:    "Search for " + keyword,
		Feature: "Google Search",
		Tags:    tags,
		Steps: []spec.Step{
			step("Given", "I navigate to Google"),
			step("When", `I search for "`+keyword+`"`),
			step("Then", "I should see search results displayed"),
			step("And", `the page title should contain "`+keyword+`"`),
		},
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	keys    []string
	failKey string
	closed  bool
}

func (p *fakeProvider) List(context.Context, string) ([]objectstore.ObjectInfo, error) {
	return nil, nil
}

func (p *fakeProvider) Upload(_ context.Context, key string, localPath string) (objectstore.ObjectInfo, error) {
	if _, err := os.Stat(localPath); err != nil {
		return objectstore.ObjectInfo{}, err
	}
	if key == p.failKey {
		return objectstore.ObjectInfo{}, errors.New("access denied")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return objectstore.ObjectInfo{Key: key}, nil
}

func (p *fakeProvider) Download(context.Context, string, string) (objectstore.ObjectInfo, error) {
	return objectstore.ObjectInfo{}, errors.New("not supported")
}

func (p *fakeProvider) Close() error {
	p.closed = true
	return nil
}

var _ = Describe("Runner", func() {
	var (
		dir      string
		cfg      *config.Config
		launcher *browsertest.Launcher
		registry *steps.Registry
		opts     []Option
		logger   *zap.Logger
	)

	newRunner := func() *Runner {
		r, err := NewRunner(cfg, logger, registry, launcher, nil, nil, opts...)
		Expect(err).NotTo(HaveOccurred())
		return r
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		cfg = testConfig(dir)
		launcher = browsertest.NewLauncher(pagestest.GoogleSite(map[string][]string{
			"AI":     {"Artificial intelligence", "AI news"},
			"golang": {"The Go Programming Language"},
		}))
		registry = steps.NewRegistry()
		steps.RegisterDefaults(registry)
		opts = nil
		logger = zap.NewNop()
	})

	Context("with orchestration disabled", func() {
		It("runs a passing scenario and correlates every screenshot with its step", func() {
			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{searchScenario("search-ai", "AI")})
			Expect(err).NotTo(HaveOccurred())

			Expect(run.Summary.Total).To(Equal(1))
			Expect(run.Summary.Passed).To(Equal(1))
			scenario := run.Scenarios[0]
			Expect(scenario.Status).To(Equal(results.StatusPassed))
			Expect(scenario.Records).To(HaveLen(4))

			for i, record := range scenario.Records {
				Expect(record.Step.Index).To(Equal(i))
				Expect(record.Status).To(Equal(results.StatusPassed))
				Expect(record.Artifacts).NotTo(BeEmpty(), "step %q has a step capture", record.Step.Text)
			}
			open := scenario.Records[0]
			Expect(open.Artifacts).To(HaveLen(2))
			Expect(open.Artifacts[0].Kind).To(Equal(results.KindNavigation))
			Expect(open.Artifacts[1].Kind).To(Equal(results.KindStep))
			for _, artifact := range open.Artifacts {
				Expect(artifact.Path).To(BeAnExistingFile())
			}

			Expect(r.Orchestration().State()).To(Equal(orchestration.StateDegraded))
			local := r.Orchestration().Results()
			Expect(local).NotTo(BeEmpty())
			last := local[len(local)-1]
			Expect(last.Name).To(Equal("Search for AI"))
			Expect(last.Status).To(Equal(results.StatusPassed))
			Expect(last.Delivery).To(Equal(orchestration.DeliveryLocal))
			Expect(run.Metadata).To(HaveKeyWithValue("orchestration_state", "degraded"))

			Expect(launcher.Events()).To(Equal([]string{
				"launch browser-1", "open context-1", "open page-1",
				"close page-1", "close context-1", "close browser-1",
			}))
		})

		It("skips the remaining steps after a failure and writes diagnostics", func() {
			scenario := searchScenario("title-mismatch", "AI")
			scenario.Steps[3] = step("Then", `the page title should contain "Bing"`)
			scenario.Steps = append(scenario.Steps, step("And", "I should see at least 1 search result"))

			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{scenario})
			Expect(err).NotTo(HaveOccurred())

			got := run.Scenarios[0]
			Expect(got.Status).To(Equal(results.StatusFailed))
			Expect(got.Records).To(HaveLen(5))
			Expect(got.Records[3].Status).To(Equal(results.StatusFailed))
			Expect(got.Records[3].Detail).To(ContainSubstring(`does not contain "Bing"`))
			Expect(got.Records[3].Artifacts).NotTo(BeEmpty(), "a failed step still gets its screenshot")
			Expect(got.Records[4].Status).To(Equal(results.StatusSkipped))
			Expect(got.Records[4].Detail).To(Equal("previous step failed"))

			Expect(got.Metadata).To(HaveKeyWithValue("failure_url", pagestest.SearchURL("AI")))
			Expect(got.Metadata).To(HaveKeyWithValue("failure_title", "AI - Google Search"))
			Expect(got.Metadata["diagnostics"]).To(BeAnExistingFile())

			local := r.Orchestration().Results()
			last := local[len(local)-1]
			Expect(last.Status).To(Equal(results.StatusFailed))
			Expect(last.Details["error"]).To(ContainSubstring("Bing"))
			failedShots := got.Records[3].Artifacts
			Expect(last.ScreenshotPath).To(Equal(failedShots[len(failedShots)-1].Path))
		})

		It("reports undefined steps as failures", func() {
			scenario := spec.Scenario{ID: "undefined", Name: "Undefined", Steps: []spec.Step{
				step("Given", "I navigate to Google"),
				step("When", "I do something nobody implemented"),
			}}
			run, err := newRunner().RunAll(context.Background(), []spec.Scenario{scenario})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Scenarios[0].Status).To(Equal(results.StatusFailed))
			Expect(run.Scenarios[0].Records[1].Status).To(Equal(results.StatusFailed))
		})

		It("reports tag filtered scenarios as skipped without running them", func() {
			cfg.IncludeTags = []string{"@smoke"}
			run, err := newRunner().RunAll(context.Background(), []spec.Scenario{
				searchScenario("smoke", "AI", "@smoke"),
				searchScenario("slow", "golang", "@slow"),
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(run.Summary.Passed).To(Equal(1))
			Expect(run.Summary.Skipped).To(Equal(1))
			skipped := run.Scenarios[1]
			Expect(skipped.ID).To(Equal("slow"))
			Expect(skipped.Status).To(Equal(results.StatusSkipped))
			Expect(skipped.Records).To(BeEmpty())
			Expect(skipped.Metadata).To(HaveKeyWithValue("skip_reason", "tag filtered"))
			Expect(launcher.Pages()).To(HaveLen(1))
		})

		It("keeps a step passing when only its screenshot fails", func() {
			core, logs := observer.New(zapcore.WarnLevel)
			logger = zap.New(core)
			// Captures: navigation and step for step 1, then step 2's.
			launcher.ScreenshotFailures = map[int]error{3: errors.New("target crashed")}

			run, err := newRunner().RunAll(context.Background(), []spec.Scenario{searchScenario("second-shot", "AI")})
			Expect(err).NotTo(HaveOccurred())

			scenario := run.Scenarios[0]
			Expect(scenario.Status).To(Equal(results.StatusPassed))
			Expect(scenario.Records).To(HaveLen(4))
			Expect(scenario.Records[0].Artifacts).To(HaveLen(2))
			Expect(scenario.Records[1].Status).To(Equal(results.StatusPassed))
			Expect(scenario.Records[1].Artifacts).To(BeEmpty())
			Expect(scenario.Records[2].Artifacts).To(HaveLen(1))
			Expect(scenario.Records[3].Artifacts).To(HaveLen(1))

			failed := logs.FilterMessage("screenshot capture failed").All()
			Expect(failed).To(HaveLen(1))
			Expect(failed[0].ContextMap()["error"]).To(ContainSubstring("CaptureFailure"))
			Expect(failed[0].ContextMap()["error"]).To(ContainSubstring("target crashed"))
		})

		It("keeps scenarios passing when screenshots fail", func() {
			launcher.ScreenshotErr = errors.New("target crashed")
			run, err := newRunner().RunAll(context.Background(), []spec.Scenario{searchScenario("no-shots", "AI")})
			Expect(err).NotTo(HaveOccurred())

			scenario := run.Scenarios[0]
			Expect(scenario.Status).To(Equal(results.StatusPassed))
			Expect(scenario.ArtifactCount()).To(BeZero())
		})

		It("fails every scenario with a session error when the browser cannot launch", func() {
			cfg.Browser = browser.KindFirefox
			cfg.RetryCount = 0
			run, err := newRunner().RunAll(context.Background(), []spec.Scenario{
				searchScenario("one", "AI"),
				searchScenario("two", "golang"),
			})
			Expect(err).NotTo(HaveOccurred())

			Expect(run.Summary.Failed).To(Equal(2))
			for _, scenario := range run.Scenarios {
				Expect(scenario.Error).NotTo(BeEmpty())
				for _, record := range scenario.Records {
					Expect(record.Status).To(Equal(results.StatusSkipped))
				}
			}
		})

		It("runs scenarios in parallel with a context per scenario", func() {
			cfg.Parallelism = 3
			run, err := newRunner().RunAll(context.Background(), []spec.Scenario{
				searchScenario("a", "AI"),
				searchScenario("b", "golang"),
				searchScenario("c", "AI"),
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Summary.Passed).To(Equal(3))
			Expect([]string{run.Scenarios[0].ID, run.Scenarios[1].ID, run.Scenarios[2].ID}).To(Equal([]string{"a", "b", "c"}))
			Expect(launcher.Pages()).To(HaveLen(3))
			Expect(launcher.Events()).To(ContainElement("close browser-1"))
		})

		It("records the remaining scenarios as skipped when the run is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			run, err := newRunner().RunAll(ctx, []spec.Scenario{searchScenario("late", "AI")})
			Expect(err).To(MatchError(context.Canceled))
			Expect(run.Scenarios).To(HaveLen(1))
			Expect(run.Scenarios[0].Status).To(Equal(results.StatusSkipped))
		})
	})

	Context("with an unreachable orchestration endpoint", func() {
		It("degrades within the connect timeout and still runs", func() {
			ln, err := net.Listen("tcp", "127.0.0.1:0")
			Expect(err).NotTo(HaveOccurred())
			DeferCleanup(ln.Close)
			// Accepts but never answers.
			go func() {
				for {
					conn, err := ln.Accept()
					if err != nil {
						return
					}
					defer conn.Close()
				}
			}()

			cfg.OrchestrationEnabled = true
			cfg.OrchestrationEndpoint = "http://" + ln.Addr().String() + "/mcp"
			cfg.OrchestrationConnectTimeout = 200 * time.Millisecond
			cfg.OrchestrationDrainTimeout = 100 * time.Millisecond

			r := newRunner()
			start := time.Now()
			run, err := r.RunAll(context.Background(), []spec.Scenario{searchScenario("offline", "AI")})
			Expect(err).NotTo(HaveOccurred())
			Expect(time.Since(start)).To(BeNumerically("<", 10*time.Second))

			Expect(run.Scenarios[0].Status).To(Equal(results.StatusPassed))
			Expect(r.Orchestration().State()).To(Equal(orchestration.StateDegraded))
			for _, result := range r.Orchestration().Results() {
				Expect(result.Delivery).To(Equal(orchestration.DeliveryLocal))
			}
		})
	})

	Context("with a live orchestration service", func() {
		It("uses dynamic data and reports results to the service", func() {
			mock := orchestration.NewMockServer(map[string]map[string]interface{}{
				"search_keyword": {"keyword": "golang", "source": "mcp"},
			})
			srv := httptest.NewServer(mock)
			DeferCleanup(srv.Close)

			cfg.OrchestrationEnabled = true
			cfg.OrchestrationEndpoint = srv.URL
			cfg.OrchestrationConnectTimeout = 5 * time.Second
			cfg.OrchestrationCallTimeout = 5 * time.Second
			cfg.OrchestrationDrainTimeout = 5 * time.Second
			cfg.OrchestrationQueueSize = 16

			scenario := searchScenario("dynamic", "AI")
			scenario.Steps[3] = step("And", `the page title should contain "golang"`)

			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{scenario})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Scenarios[0].Status).To(Equal(results.StatusPassed))
			Expect(run.Metadata).To(HaveKeyWithValue("orchestration_state", "connected"))

			var names []string
			for _, received := range mock.Results() {
				names = append(names, received.TestName)
			}
			Expect(names).To(ContainElement("Search for AI"))
			Expect(mock.Events()).To(Equal([]string{"start:Search for AI", "stop:Search for AI"}))
			Expect(mock.Active()).To(BeEmpty())
			local := r.Orchestration().Results()
			Expect(local[len(local)-1].Delivery).To(Equal(orchestration.DeliverySent))
		})
	})

	Context("with a live orchestration service and a failing scenario", func() {
		It("sends the failure screenshot with the scenario result", func() {
			mock := orchestration.NewMockServer(nil)
			srv := httptest.NewServer(mock)
			DeferCleanup(srv.Close)

			cfg.OrchestrationEnabled = true
			cfg.OrchestrationEndpoint = srv.URL
			cfg.OrchestrationConnectTimeout = 5 * time.Second
			cfg.OrchestrationCallTimeout = 5 * time.Second
			cfg.OrchestrationDrainTimeout = 5 * time.Second

			scenario := searchScenario("mismatch", "AI")
			scenario.Steps[3] = step("Then", `the page title should contain "Bing"`)

			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{scenario})
			Expect(err).NotTo(HaveOccurred())
			Expect(run.Scenarios[0].Status).To(Equal(results.StatusFailed))

			var sent *orchestration.ReceivedResult
			for _, received := range mock.Results() {
				if received.TestName == scenario.Name {
					received := received
					sent = &received
				}
			}
			Expect(sent).NotTo(BeNil())
			Expect(sent.ScreenshotPath).NotTo(BeEmpty())
			Expect(sent.ScreenshotPath).To(BeAnExistingFile())
		})
	})

	Describe("FlushArtifacts", func() {
		It("writes reports and run artifacts", func() {
			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{searchScenario("flush", "AI")})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.FlushArtifacts(run)).To(Succeed())

			for _, name := range []string{
				"results.json",
				"summary.json",
				"orchestration_results.json",
				"graph.json",
				"metrics.prom",
				filepath.Join("diagrams", "run_summary.puml"),
			} {
				Expect(filepath.Join(dir, name)).To(BeAnExistingFile())
			}
			reports, err := filepath.Glob(filepath.Join(dir, "reports", "test_report_*"))
			Expect(err).NotTo(HaveOccurred())
			Expect(reports).To(HaveLen(2))

			summary, err := os.ReadFile(filepath.Join(dir, "summary.json"))
			Expect(err).NotTo(HaveOccurred())
			Expect(string(summary)).To(ContainSubstring(`"passed": 1`))
		})
	})

	Describe("PublishArtifacts", func() {
		var provider *fakeProvider

		BeforeEach(func() {
			provider = &fakeProvider{}
			opts = append(opts, WithProviderFactory(func(context.Context, objectstore.Config) (objectstore.Provider, error) {
				return provider, nil
			}))
		})

		It("does nothing unless publishing is configured", func() {
			r := newRunner()
			Expect(r.PublishArtifacts(context.Background(), &results.RunReport{RunID: "run-1"})).To(Succeed())
			Expect(provider.keys).To(BeEmpty())
		})

		It("uploads the run directory under the run id", func() {
			cfg.PublishArtifacts = true
			cfg.ObjectStoreProvider = "s3"
			cfg.ObjectStoreBucket = "evidence"
			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{searchScenario("publish", "AI")})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.FlushArtifacts(run)).To(Succeed())

			Expect(r.PublishArtifacts(context.Background(), run)).To(Succeed())
			Expect(provider.keys).To(ContainElements("run-1/results.json", "run-1/summary.json"))
			Expect(provider.closed).To(BeTrue())
		})

		It("returns upload failures without touching the run", func() {
			cfg.PublishArtifacts = true
			cfg.ObjectStoreProvider = "minio"
			provider.failKey = "run-1/results.json"
			r := newRunner()
			run, err := r.RunAll(context.Background(), []spec.Scenario{searchScenario("denied", "AI")})
			Expect(err).NotTo(HaveOccurred())
			Expect(r.FlushArtifacts(run)).To(Succeed())

			err = r.PublishArtifacts(context.Background(), run)
			Expect(err).To(MatchError(ContainSubstring("access denied")))
			Expect(run.Summary.Passed).To(Equal(1))
			Expect(provider.keys).To(ContainElement("run-1/summary.json"))
		})
	})
})
