package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/pflag"
)

const (
	IsolationShared      = "shared"
	IsolationPerScenario = "per_scenario"

	FormatHTML = "html"
	FormatJSON = "json"
)

// Config controls the browser runner behavior.
type Config struct {
	ConfigPath                    string
	RunID                         string
	FeatureDir                    string
	TestDataPath                  string
	DataCacheDir                  string
	Environment                   string
	EnvironmentDir                string
	ArtifactDir                   string
	ScreenshotDir                 string
	ReportDir                     string
	ReportFormats                 []string
	ReportBaseName                string
	ReportTitle                   string
	EmbedImages                   bool
	IncludeTags                   []string
	ExcludeTags                   []string
	Parallelism                   int
	Browser                       string
	BrowserBin                    string
	DebuggerURL                   string
	Headless                      bool
	ViewportWidth                 int
	ViewportHeight                int
	UserAgent                     string
	BaseURL                       string
	Isolation                     string
	RetryCount                    int
	DefaultTimeout                time.Duration
	StepTimeout                   time.Duration
	ScenarioTimeout               time.Duration
	NavigationTimeout             time.Duration
	TeardownTimeout               time.Duration
	ScreenshotsEnabled            bool
	NavigationCapture             bool
	FullPageScreenshots           bool
	OrchestrationEnabled          bool
	OrchestrationEndpoint         string
	OrchestrationConnectTimeout   time.Duration
	OrchestrationCallTimeout      time.Duration
	OrchestrationDrainTimeout     time.Duration
	OrchestrationQueueSize        int
	LogFormat                     string
	LogLevel                      string
	MetricsEnabled                bool
	MetricsPath                   string
	GraphEnabled                  bool
	ObjectStoreProvider           string
	ObjectStoreBucket             string
	ObjectStorePrefix             string
	ObjectStoreRegion             string
	ObjectStoreEndpoint           string
	ObjectStoreAccessKey          string
	ObjectStoreSecretKey          string
	ObjectStoreSessionToken       string
	ObjectStoreS3PathStyle        bool
	ObjectStoreGCPProject         string
	ObjectStoreGCPCredentialsFile string
	ObjectStoreGCPCredentialsJSON string
	ObjectStoreAzureAccount       string
	ObjectStoreAzureKey           string
	ObjectStoreAzureEndpoint      string
	ObjectStoreAzureSASToken      string
	PublishArtifacts              bool
	OTelEnabled                   bool
	OTelEndpoint                  string
	OTelHeaders                   string
	OTelInsecure                  bool
	OTelServiceName               string
	OTelResourceAttrs             string
	Neo4jEnabled                  bool
	Neo4jURI                      string
	Neo4jUser                     string
	Neo4jPassword                 string
	Neo4jDatabase                 string

	// flagEnv maps flag names to the environment variable that may also set them.
	flagEnv map[string]string
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is ignored.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(path)
}

// NewRunID returns a run id that sorts by start time and stays unique for
// runs started within the same second.
func NewRunID(at time.Time) string {
	return at.UTC().Format("20060102T150405Z") + "-" + uuid.NewString()[:8]
}

// Bind registers every runner flag on fs. Defaults come from E2E_* environment
// variables when they are set. Call Resolve after fs has been parsed.
func Bind(fs *pflag.FlagSet) *Config {
	cwd, _ := os.Getwd()
	defaultRunID := NewRunID(time.Now())

	cfg := &Config{flagEnv: map[string]string{}}
	str := func(target *string, name, env, fallback, usage string) {
		cfg.flagEnv[name] = env
		fs.StringVar(target, name, envOrDefault(env, fallback), usage)
	}
	boolean := func(target *bool, name, env string, fallback bool, usage string) {
		cfg.flagEnv[name] = env
		fs.BoolVar(target, name, envOrDefaultBool(env, fallback), usage)
	}
	integer := func(target *int, name, env string, fallback int, usage string) {
		cfg.flagEnv[name] = env
		fs.IntVar(target, name, envOrDefaultInt(env, fallback), usage)
	}
	duration := func(target *time.Duration, name, env string, fallback time.Duration, usage string) {
		cfg.flagEnv[name] = env
		fs.DurationVar(target, name, envOrDefaultDuration(env, fallback), usage)
	}
	list := func(target *[]string, name, env string, fallback []string, usage string) {
		cfg.flagEnv[name] = env
		value := splitCSV(os.Getenv(env))
		if len(value) == 0 {
			value = fallback
		}
		fs.StringSliceVar(target, name, value, usage)
	}

	str(&cfg.ConfigPath, "config", "E2E_CONFIG", "", "path to YAML config file")
	str(&cfg.RunID, "run-id", "E2E_RUN_ID", defaultRunID, "unique run identifier")
	str(&cfg.FeatureDir, "feature-dir", "E2E_FEATURE_DIR", filepath.Join(cwd, "features"), "directory containing .feature and scenario YAML files")
	str(&cfg.TestDataPath, "test-data", "E2E_TEST_DATA", filepath.Join(cwd, "test_data", "test_data.yaml"), "test data file or object store URL")
	str(&cfg.DataCacheDir, "data-cache-dir", "E2E_DATA_CACHE_DIR", filepath.Join(os.TempDir(), "browser-e2e-cache"), "cache directory for remote test data")
	str(&cfg.Environment, "env", "TEST_ENV", "dev", "environment profile name")
	str(&cfg.EnvironmentDir, "environment-dir", "E2E_ENVIRONMENT_DIR", filepath.Join(cwd, "environments"), "directory containing environment profiles")
	str(&cfg.ArtifactDir, "artifact-dir", "E2E_ARTIFACT_DIR", "", "directory for run artifacts (default <cwd>/e2e/artifacts/<run-id>)")
	str(&cfg.ScreenshotDir, "screenshot-dir", "E2E_SCREENSHOT_DIR", "", "directory for screenshots (default <artifact-dir>/screenshots)")
	str(&cfg.ReportDir, "report-dir", "E2E_REPORT_DIR", "", "directory for reports (default <artifact-dir>/reports)")
	list(&cfg.ReportFormats, "report-formats", "E2E_REPORT_FORMATS", []string{FormatHTML, FormatJSON}, "report formats: html,json")
	str(&cfg.ReportBaseName, "report-name", "E2E_REPORT_NAME", "test_report", "report file base name")
	str(&cfg.ReportTitle, "report-title", "E2E_REPORT_TITLE", "Browser E2E Report", "HTML report title")
	boolean(&cfg.EmbedImages, "embed-images", "E2E_EMBED_IMAGES", false, "inline screenshots into the HTML report")
	list(&cfg.IncludeTags, "include-tags", "E2E_INCLUDE_TAGS", nil, "comma-separated tag allowlist")
	list(&cfg.ExcludeTags, "exclude-tags", "E2E_EXCLUDE_TAGS", nil, "comma-separated tag denylist")
	integer(&cfg.Parallelism, "parallel", "E2E_PARALLEL", 1, "max parallel scenarios")
	str(&cfg.Browser, "browser", "E2E_BROWSER", "chromium", "browser kind: chromium|chrome|edge")
	str(&cfg.BrowserBin, "browser-bin", "E2E_BROWSER_BIN", "", "browser executable path (default: downloaded chromium)")
	str(&cfg.DebuggerURL, "debugger-url", "E2E_DEBUGGER_URL", "", "attach to a running browser instead of launching one")
	boolean(&cfg.Headless, "headless", "E2E_HEADLESS", true, "run the browser headless")
	integer(&cfg.ViewportWidth, "viewport-width", "E2E_VIEWPORT_WIDTH", 1280, "viewport width")
	integer(&cfg.ViewportHeight, "viewport-height", "E2E_VIEWPORT_HEIGHT", 720, "viewport height")
	str(&cfg.UserAgent, "user-agent", "E2E_USER_AGENT", "", "user agent override")
	str(&cfg.BaseURL, "base-url", "E2E_BASE_URL", "https://www.google.com", "base URL of the site under test")
	str(&cfg.Isolation, "isolation", "E2E_ISOLATION", IsolationShared, "browser isolation: shared|per_scenario")
	integer(&cfg.RetryCount, "retry-count", "E2E_RETRY_COUNT", 2, "session creation retries")
	duration(&cfg.DefaultTimeout, "default-timeout", "E2E_DEFAULT_TIMEOUT", 30*time.Second, "default page action timeout")
	duration(&cfg.StepTimeout, "step-timeout", "E2E_STEP_TIMEOUT", 2*time.Minute, "per-step timeout")
	duration(&cfg.ScenarioTimeout, "scenario-timeout", "E2E_SCENARIO_TIMEOUT", 10*time.Minute, "per-scenario timeout")
	duration(&cfg.NavigationTimeout, "navigation-timeout", "E2E_NAVIGATION_TIMEOUT", 30*time.Second, "navigation timeout")
	duration(&cfg.TeardownTimeout, "teardown-timeout", "E2E_TEARDOWN_TIMEOUT", 30*time.Second, "session teardown timeout")
	boolean(&cfg.ScreenshotsEnabled, "screenshots", "E2E_SCREENSHOTS", true, "capture a screenshot after every step")
	boolean(&cfg.NavigationCapture, "navigation-capture", "E2E_NAVIGATION_CAPTURE", true, "capture a screenshot after every navigation")
	boolean(&cfg.FullPageScreenshots, "full-page", "E2E_FULL_PAGE", true, "capture full-page screenshots")
	boolean(&cfg.OrchestrationEnabled, "orchestration", "E2E_ORCHESTRATION", true, "enable the orchestration client")
	str(&cfg.OrchestrationEndpoint, "orchestration-endpoint", "E2E_ORCHESTRATION_ENDPOINT", "", "orchestration service endpoint (streamable HTTP)")
	duration(&cfg.OrchestrationConnectTimeout, "orchestration-connect-timeout", "E2E_ORCHESTRATION_CONNECT_TIMEOUT", 5*time.Second, "orchestration connect timeout")
	duration(&cfg.OrchestrationCallTimeout, "orchestration-call-timeout", "E2E_ORCHESTRATION_CALL_TIMEOUT", 3*time.Second, "orchestration call timeout")
	duration(&cfg.OrchestrationDrainTimeout, "orchestration-drain-timeout", "E2E_ORCHESTRATION_DRAIN_TIMEOUT", 10*time.Second, "grace period for pending orchestration reports at run end")
	integer(&cfg.OrchestrationQueueSize, "orchestration-queue-size", "E2E_ORCHESTRATION_QUEUE_SIZE", 256, "pending orchestration report capacity")
	str(&cfg.LogFormat, "log-format", "E2E_LOG_FORMAT", "json", "log format: json|console")
	str(&cfg.LogLevel, "log-level", "E2E_LOG_LEVEL", "info", "log level: debug|info|warn|error")
	boolean(&cfg.MetricsEnabled, "metrics", "E2E_METRICS", true, "enable metrics output")
	str(&cfg.MetricsPath, "metrics-path", "E2E_METRICS_PATH", "", "metrics output path (default <artifact-dir>/metrics.prom)")
	boolean(&cfg.GraphEnabled, "graph", "E2E_GRAPH", true, "enable evidence graph output")
	str(&cfg.ObjectStoreProvider, "objectstore-provider", "E2E_OBJECTSTORE_PROVIDER", "", "object store provider: s3|gcs|azure|minio")
	str(&cfg.ObjectStoreBucket, "objectstore-bucket", "E2E_OBJECTSTORE_BUCKET", "", "object store bucket/container")
	str(&cfg.ObjectStorePrefix, "objectstore-prefix", "E2E_OBJECTSTORE_PREFIX", "", "object store prefix")
	str(&cfg.ObjectStoreRegion, "objectstore-region", "E2E_OBJECTSTORE_REGION", "", "object store region")
	str(&cfg.ObjectStoreEndpoint, "objectstore-endpoint", "E2E_OBJECTSTORE_ENDPOINT", "", "object store endpoint override")
	str(&cfg.ObjectStoreAccessKey, "objectstore-access-key", "E2E_OBJECTSTORE_ACCESS_KEY", "", "object store access key")
	str(&cfg.ObjectStoreSecretKey, "objectstore-secret-key", "E2E_OBJECTSTORE_SECRET_KEY", "", "object store secret key")
	str(&cfg.ObjectStoreSessionToken, "objectstore-session-token", "E2E_OBJECTSTORE_SESSION_TOKEN", "", "object store session token")
	boolean(&cfg.ObjectStoreS3PathStyle, "objectstore-s3-path-style", "E2E_OBJECTSTORE_S3_PATH_STYLE", false, "use S3 path-style addressing")
	str(&cfg.ObjectStoreGCPProject, "objectstore-gcp-project", "E2E_OBJECTSTORE_GCP_PROJECT", "", "GCP project ID")
	str(&cfg.ObjectStoreGCPCredentialsFile, "objectstore-gcp-credentials-file", "E2E_OBJECTSTORE_GCP_CREDENTIALS_FILE", "", "GCP credentials file path")
	str(&cfg.ObjectStoreGCPCredentialsJSON, "objectstore-gcp-credentials-json", "E2E_OBJECTSTORE_GCP_CREDENTIALS_JSON", "", "GCP credentials JSON")
	str(&cfg.ObjectStoreAzureAccount, "objectstore-azure-account", "E2E_OBJECTSTORE_AZURE_ACCOUNT", "", "Azure storage account name")
	str(&cfg.ObjectStoreAzureKey, "objectstore-azure-key", "E2E_OBJECTSTORE_AZURE_KEY", "", "Azure storage account key")
	str(&cfg.ObjectStoreAzureEndpoint, "objectstore-azure-endpoint", "E2E_OBJECTSTORE_AZURE_ENDPOINT", "", "Azure blob endpoint override")
	str(&cfg.ObjectStoreAzureSASToken, "objectstore-azure-sas-token", "E2E_OBJECTSTORE_AZURE_SAS_TOKEN", "", "Azure SAS token")
	boolean(&cfg.PublishArtifacts, "publish", "E2E_PUBLISH", false, "upload run artifacts to the object store")
	boolean(&cfg.OTelEnabled, "otel", "E2E_OTEL_ENABLED", false, "enable OpenTelemetry exporters")
	str(&cfg.OTelEndpoint, "otel-endpoint", "E2E_OTEL_ENDPOINT", "", "OTLP endpoint (host:port)")
	str(&cfg.OTelHeaders, "otel-headers", "E2E_OTEL_HEADERS", "", "OTLP headers as comma-separated key=value pairs")
	boolean(&cfg.OTelInsecure, "otel-insecure", "E2E_OTEL_INSECURE", true, "disable TLS for OTLP endpoint")
	str(&cfg.OTelServiceName, "otel-service-name", "E2E_OTEL_SERVICE_NAME", "browser-e2e", "OTel service name")
	str(&cfg.OTelResourceAttrs, "otel-resource-attrs", "E2E_OTEL_RESOURCE_ATTRS", "", "extra OTel resource attributes key=value pairs")
	boolean(&cfg.Neo4jEnabled, "neo4j", "E2E_NEO4J_ENABLED", false, "enable Neo4j export")
	str(&cfg.Neo4jURI, "neo4j-uri", "E2E_NEO4J_URI", "", "Neo4j connection URI")
	str(&cfg.Neo4jUser, "neo4j-user", "E2E_NEO4J_USER", "", "Neo4j username")
	str(&cfg.Neo4jPassword, "neo4j-password", "E2E_NEO4J_PASSWORD", "", "Neo4j password")
	str(&cfg.Neo4jDatabase, "neo4j-database", "E2E_NEO4J_DATABASE", "neo4j", "Neo4j database name")

	return cfg
}

// Resolve layers the environment profile and config file beneath explicitly
// set flags and environment variables, fills derived paths and validates.
func (c *Config) Resolve(fs *pflag.FlagSet) error {
	explicit := func(name string) bool {
		if fs != nil && fs.Changed(name) {
			return true
		}
		if env, ok := c.flagEnv[name]; ok && strings.TrimSpace(os.Getenv(env)) != "" {
			return true
		}
		return false
	}

	var fileCfg *FileConfig
	if path := strings.TrimSpace(c.ConfigPath); path != "" {
		loaded, err := loadFileConfig(path)
		if err != nil {
			return errors.Wrapf(err, "load config file %s", path)
		}
		fileCfg = loaded
	}
	// The file may select the profile, so apply its run section first.
	if fileCfg != nil && fileCfg.Run != nil {
		if err := applyFileConfig(c, &FileConfig{Run: fileCfg.Run}, explicit); err != nil {
			return err
		}
	}

	profile, err := LoadEnvironment(c.EnvironmentDir, c.Environment)
	if err != nil {
		return errors.Wrapf(err, "load environment %q", c.Environment)
	}
	applyEnvironment(c, profile, explicit)

	if err := applyFileConfig(c, fileCfg, explicit); err != nil {
		return err
	}

	c.fillDefaults()
	return c.Validate()
}

func (c *Config) fillDefaults() {
	if strings.TrimSpace(c.ArtifactDir) == "" {
		cwd, _ := os.Getwd()
		c.ArtifactDir = filepath.Join(cwd, "e2e", "artifacts", c.RunID)
	}
	if strings.TrimSpace(c.ScreenshotDir) == "" {
		c.ScreenshotDir = filepath.Join(c.ArtifactDir, "screenshots")
	}
	if strings.TrimSpace(c.ReportDir) == "" {
		c.ReportDir = filepath.Join(c.ArtifactDir, "reports")
	}
	if strings.TrimSpace(c.MetricsPath) == "" {
		c.MetricsPath = filepath.Join(c.ArtifactDir, "metrics.prom")
	}
	if c.Parallelism < 1 {
		c.Parallelism = 1
	}
	if c.RetryCount < 0 {
		c.RetryCount = 0
	}
	if c.OrchestrationQueueSize < 1 {
		c.OrchestrationQueueSize = 1
	}
	c.Isolation = strings.ToLower(strings.TrimSpace(c.Isolation))
	c.Browser = strings.ToLower(strings.TrimSpace(c.Browser))
	formats := make([]string, 0, len(c.ReportFormats))
	for _, format := range c.ReportFormats {
		if value := strings.ToLower(strings.TrimSpace(format)); value != "" {
			formats = append(formats, value)
		}
	}
	c.ReportFormats = formats
	if !c.Neo4jEnabled && c.Neo4jURI != "" && os.Getenv("E2E_NEO4J_ENABLED") == "" {
		c.Neo4jEnabled = true
	}
}

// Validate checks option values that cannot be corrected silently.
func (c *Config) Validate() error {
	switch c.Isolation {
	case IsolationShared, IsolationPerScenario:
	default:
		return fmt.Errorf("invalid isolation %q: expected %s or %s", c.Isolation, IsolationShared, IsolationPerScenario)
	}
	for _, format := range c.ReportFormats {
		if format != FormatHTML && format != FormatJSON {
			return fmt.Errorf("invalid report format %q: expected html or json", format)
		}
	}
	if c.ViewportWidth <= 0 || c.ViewportHeight <= 0 {
		return fmt.Errorf("invalid viewport %dx%d", c.ViewportWidth, c.ViewportHeight)
	}
	if strings.TrimSpace(c.RunID) == "" {
		return fmt.Errorf("run id is required")
	}
	return nil
}

// Load binds flags on a fresh FlagSet, parses args and resolves the result.
func Load(args []string) (*Config, error) {
	fs := pflag.NewFlagSet("browser-e2e", pflag.ContinueOnError)
	cfg := Bind(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.Resolve(fs); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed := 0
	_, err := fmt.Sscanf(value, "%d", &parsed)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultBool(key string, fallback bool) bool {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	switch strings.ToLower(value) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return fallback
	}
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return duration
}

func splitCSV(value string) []string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	parts := strings.Split(trimmed, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		item := strings.TrimSpace(part)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
