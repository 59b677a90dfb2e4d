package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileConfig represents the structured YAML configuration.
type FileConfig struct {
	Run           *RunFileConfig           `yaml:"run"`
	Browser       *BrowserFileConfig       `yaml:"browser"`
	Screenshots   *ScreenshotFileConfig    `yaml:"screenshots"`
	Orchestration *OrchestrationFileConfig `yaml:"orchestration"`
	Report        *ReportFileConfig        `yaml:"report"`
	Logging       *LoggingFileConfig       `yaml:"logging"`
	Metrics       *MetricsFileConfig       `yaml:"metrics"`
	Graph         *GraphFileConfig         `yaml:"graph"`
	Objectstore   *ObjectstoreFileConfig   `yaml:"objectstore"`
	OTel          *OTelFileConfig          `yaml:"otel"`
	Neo4j         *Neo4jFileConfig         `yaml:"neo4j"`
}

type RunFileConfig struct {
	ID              *string     `yaml:"id"`
	FeatureDir      *string     `yaml:"feature_dir"`
	TestData        *string     `yaml:"test_data"`
	DataCacheDir    *string     `yaml:"data_cache_dir"`
	Environment     *string     `yaml:"environment"`
	EnvironmentDir  *string     `yaml:"environment_dir"`
	ArtifactDir     *string     `yaml:"artifact_dir"`
	IncludeTags     *StringList `yaml:"include_tags"`
	ExcludeTags     *StringList `yaml:"exclude_tags"`
	Parallel        *int        `yaml:"parallel"`
	StepTimeout     *string     `yaml:"step_timeout"`
	ScenarioTimeout *string     `yaml:"scenario_timeout"`
	Publish         *bool       `yaml:"publish"`
}

type BrowserFileConfig struct {
	Kind              *string `yaml:"kind"`
	Bin               *string `yaml:"bin"`
	DebuggerURL       *string `yaml:"debugger_url"`
	Headless          *bool   `yaml:"headless"`
	ViewportWidth     *int    `yaml:"viewport_width"`
	ViewportHeight    *int    `yaml:"viewport_height"`
	UserAgent         *string `yaml:"user_agent"`
	BaseURL           *string `yaml:"base_url"`
	Isolation         *string `yaml:"isolation"`
	RetryCount        *int    `yaml:"retry_count"`
	DefaultTimeout    *string `yaml:"default_timeout"`
	NavigationTimeout *string `yaml:"navigation_timeout"`
	TeardownTimeout   *string `yaml:"teardown_timeout"`
}

type ScreenshotFileConfig struct {
	Enabled    *bool   `yaml:"enabled"`
	Dir        *string `yaml:"dir"`
	Navigation *bool   `yaml:"navigation"`
	FullPage   *bool   `yaml:"full_page"`
}

type OrchestrationFileConfig struct {
	Enabled        *bool   `yaml:"enabled"`
	Endpoint       *string `yaml:"endpoint"`
	ConnectTimeout *string `yaml:"connect_timeout"`
	CallTimeout    *string `yaml:"call_timeout"`
	DrainTimeout   *string `yaml:"drain_timeout"`
	QueueSize      *int    `yaml:"queue_size"`
}

type ReportFileConfig struct {
	Dir         *string     `yaml:"dir"`
	Formats     *StringList `yaml:"formats"`
	Name        *string     `yaml:"name"`
	Title       *string     `yaml:"title"`
	EmbedImages *bool       `yaml:"embed_images"`
}

type LoggingFileConfig struct {
	Format *string `yaml:"format"`
	Level  *string `yaml:"level"`
}

type MetricsFileConfig struct {
	Enabled *bool   `yaml:"enabled"`
	Path    *string `yaml:"path"`
}

type GraphFileConfig struct {
	Enabled *bool `yaml:"enabled"`
}

type ObjectstoreFileConfig struct {
	Provider           *string `yaml:"provider"`
	Bucket             *string `yaml:"bucket"`
	Prefix             *string `yaml:"prefix"`
	Region             *string `yaml:"region"`
	Endpoint           *string `yaml:"endpoint"`
	AccessKey          *string `yaml:"access_key"`
	SecretKey          *string `yaml:"secret_key"`
	SessionToken       *string `yaml:"session_token"`
	S3PathStyle        *bool   `yaml:"s3_path_style"`
	GCPProject         *string `yaml:"gcp_project"`
	GCPCredentialsFile *string `yaml:"gcp_credentials_file"`
	GCPCredentialsJSON *string `yaml:"gcp_credentials_json"`
	AzureAccount       *string `yaml:"azure_account"`
	AzureKey           *string `yaml:"azure_key"`
	AzureEndpoint      *string `yaml:"azure_endpoint"`
	AzureSASToken      *string `yaml:"azure_sas_token"`
}

type OTelFileConfig struct {
	Enabled       *bool   `yaml:"enabled"`
	Endpoint      *string `yaml:"endpoint"`
	Headers       *string `yaml:"headers"`
	Insecure      *bool   `yaml:"insecure"`
	ServiceName   *string `yaml:"service_name"`
	ResourceAttrs *string `yaml:"resource_attrs"`
}

type Neo4jFileConfig struct {
	Enabled  *bool   `yaml:"enabled"`
	URI      *string `yaml:"uri"`
	User     *string `yaml:"user"`
	Password *string `yaml:"password"`
	Database *string `yaml:"database"`
}

// StringList supports string or list YAML values.
type StringList []string

func (s *StringList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.ScalarNode:
		*s = splitCSV(value.Value)
		return nil
	case yaml.SequenceNode:
		out := make([]string, 0, len(value.Content))
		for _, node := range value.Content {
			if node.Kind != yaml.ScalarNode {
				return fmt.Errorf("string list must contain only scalars")
			}
			item := strings.TrimSpace(node.Value)
			if item != "" {
				out = append(out, item)
			}
		}
		*s = out
		return nil
	default:
		return fmt.Errorf("string list must be a string or list")
	}
}

func loadFileConfig(path string) (*FileConfig, error) {
	expanded := expandPath(path)
	if expanded == "" {
		return nil, nil
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return nil, err
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// fileApplier writes file values into cfg unless the matching flag was set explicitly.
type fileApplier struct {
	explicit func(string) bool
	err      error
}

func (a *fileApplier) str(flag string, value *string, target *string) {
	if value != nil && !a.explicit(flag) {
		*target = strings.TrimSpace(*value)
	}
}

func (a *fileApplier) path(flag string, value *string, target *string) {
	if value != nil && !a.explicit(flag) {
		*target = expandPath(*value)
	}
}

func (a *fileApplier) boolean(flag string, value *bool, target *bool) {
	if value != nil && !a.explicit(flag) {
		*target = *value
	}
}

func (a *fileApplier) integer(flag string, value *int, target *int) {
	if value != nil && !a.explicit(flag) {
		*target = *value
	}
}

func (a *fileApplier) list(flag string, value *StringList, target *[]string) {
	if value != nil && !a.explicit(flag) {
		*target = []string(*value)
	}
}

func (a *fileApplier) duration(flag string, value *string, target *time.Duration) {
	if value == nil || a.explicit(flag) || a.err != nil {
		return
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(*value))
	if err != nil {
		a.err = fmt.Errorf("invalid %s duration %q: %w", flag, *value, err)
		return
	}
	*target = parsed
}

func applyFileConfig(cfg *Config, fileCfg *FileConfig, explicit func(string) bool) error {
	if cfg == nil || fileCfg == nil {
		return nil
	}
	if explicit == nil {
		explicit = func(string) bool { return false }
	}
	a := &fileApplier{explicit: explicit}

	if run := fileCfg.Run; run != nil {
		a.str("run-id", run.ID, &cfg.RunID)
		a.path("feature-dir", run.FeatureDir, &cfg.FeatureDir)
		a.str("test-data", run.TestData, &cfg.TestDataPath)
		a.path("data-cache-dir", run.DataCacheDir, &cfg.DataCacheDir)
		a.str("env", run.Environment, &cfg.Environment)
		a.path("environment-dir", run.EnvironmentDir, &cfg.EnvironmentDir)
		a.path("artifact-dir", run.ArtifactDir, &cfg.ArtifactDir)
		a.list("include-tags", run.IncludeTags, &cfg.IncludeTags)
		a.list("exclude-tags", run.ExcludeTags, &cfg.ExcludeTags)
		a.integer("parallel", run.Parallel, &cfg.Parallelism)
		a.duration("step-timeout", run.StepTimeout, &cfg.StepTimeout)
		a.duration("scenario-timeout", run.ScenarioTimeout, &cfg.ScenarioTimeout)
		a.boolean("publish", run.Publish, &cfg.PublishArtifacts)
	}
	if browser := fileCfg.Browser; browser != nil {
		a.str("browser", browser.Kind, &cfg.Browser)
		a.path("browser-bin", browser.Bin, &cfg.BrowserBin)
		a.str("debugger-url", browser.DebuggerURL, &cfg.DebuggerURL)
		a.boolean("headless", browser.Headless, &cfg.Headless)
		a.integer("viewport-width", browser.ViewportWidth, &cfg.ViewportWidth)
		a.integer("viewport-height", browser.ViewportHeight, &cfg.ViewportHeight)
		a.str("user-agent", browser.UserAgent, &cfg.UserAgent)
		a.str("base-url", browser.BaseURL, &cfg.BaseURL)
		a.str("isolation", browser.Isolation, &cfg.Isolation)
		a.integer("retry-count", browser.RetryCount, &cfg.RetryCount)
		a.duration("default-timeout", browser.DefaultTimeout, &cfg.DefaultTimeout)
		a.duration("navigation-timeout", browser.NavigationTimeout, &cfg.NavigationTimeout)
		a.duration("teardown-timeout", browser.TeardownTimeout, &cfg.TeardownTimeout)
	}
	if shots := fileCfg.Screenshots; shots != nil {
		a.boolean("screenshots", shots.Enabled, &cfg.ScreenshotsEnabled)
		a.path("screenshot-dir", shots.Dir, &cfg.ScreenshotDir)
		a.boolean("navigation-capture", shots.Navigation, &cfg.NavigationCapture)
		a.boolean("full-page", shots.FullPage, &cfg.FullPageScreenshots)
	}
	if orch := fileCfg.Orchestration; orch != nil {
		a.boolean("orchestration", orch.Enabled, &cfg.OrchestrationEnabled)
		a.str("orchestration-endpoint", orch.Endpoint, &cfg.OrchestrationEndpoint)
		a.duration("orchestration-connect-timeout", orch.ConnectTimeout, &cfg.OrchestrationConnectTimeout)
		a.duration("orchestration-call-timeout", orch.CallTimeout, &cfg.OrchestrationCallTimeout)
		a.duration("orchestration-drain-timeout", orch.DrainTimeout, &cfg.OrchestrationDrainTimeout)
		a.integer("orchestration-queue-size", orch.QueueSize, &cfg.OrchestrationQueueSize)
	}
	if report := fileCfg.Report; report != nil {
		a.path("report-dir", report.Dir, &cfg.ReportDir)
		a.list("report-formats", report.Formats, &cfg.ReportFormats)
		a.str("report-name", report.Name, &cfg.ReportBaseName)
		a.str("report-title", report.Title, &cfg.ReportTitle)
		a.boolean("embed-images", report.EmbedImages, &cfg.EmbedImages)
	}
	if logging := fileCfg.Logging; logging != nil {
		a.str("log-format", logging.Format, &cfg.LogFormat)
		a.str("log-level", logging.Level, &cfg.LogLevel)
	}
	if metrics := fileCfg.Metrics; metrics != nil {
		a.boolean("metrics", metrics.Enabled, &cfg.MetricsEnabled)
		a.path("metrics-path", metrics.Path, &cfg.MetricsPath)
	}
	if graph := fileCfg.Graph; graph != nil {
		a.boolean("graph", graph.Enabled, &cfg.GraphEnabled)
	}
	if store := fileCfg.Objectstore; store != nil {
		a.str("objectstore-provider", store.Provider, &cfg.ObjectStoreProvider)
		a.str("objectstore-bucket", store.Bucket, &cfg.ObjectStoreBucket)
		a.str("objectstore-prefix", store.Prefix, &cfg.ObjectStorePrefix)
		a.str("objectstore-region", store.Region, &cfg.ObjectStoreRegion)
		a.str("objectstore-endpoint", store.Endpoint, &cfg.ObjectStoreEndpoint)
		a.str("objectstore-access-key", store.AccessKey, &cfg.ObjectStoreAccessKey)
		a.str("objectstore-secret-key", store.SecretKey, &cfg.ObjectStoreSecretKey)
		a.str("objectstore-session-token", store.SessionToken, &cfg.ObjectStoreSessionToken)
		a.boolean("objectstore-s3-path-style", store.S3PathStyle, &cfg.ObjectStoreS3PathStyle)
		a.str("objectstore-gcp-project", store.GCPProject, &cfg.ObjectStoreGCPProject)
		a.path("objectstore-gcp-credentials-file", store.GCPCredentialsFile, &cfg.ObjectStoreGCPCredentialsFile)
		a.str("objectstore-gcp-credentials-json", store.GCPCredentialsJSON, &cfg.ObjectStoreGCPCredentialsJSON)
		a.str("objectstore-azure-account", store.AzureAccount, &cfg.ObjectStoreAzureAccount)
		a.str("objectstore-azure-key", store.AzureKey, &cfg.ObjectStoreAzureKey)
		a.str("objectstore-azure-endpoint", store.AzureEndpoint, &cfg.ObjectStoreAzureEndpoint)
		a.str("objectstore-azure-sas-token", store.AzureSASToken, &cfg.ObjectStoreAzureSASToken)
	}
	if otel := fileCfg.OTel; otel != nil {
		a.boolean("otel", otel.Enabled, &cfg.OTelEnabled)
		a.str("otel-endpoint", otel.Endpoint, &cfg.OTelEndpoint)
		a.str("otel-headers", otel.Headers, &cfg.OTelHeaders)
		a.boolean("otel-insecure", otel.Insecure, &cfg.OTelInsecure)
		a.str("otel-service-name", otel.ServiceName, &cfg.OTelServiceName)
		a.str("otel-resource-attrs", otel.ResourceAttrs, &cfg.OTelResourceAttrs)
	}
	if neo4j := fileCfg.Neo4j; neo4j != nil {
		a.boolean("neo4j", neo4j.Enabled, &cfg.Neo4jEnabled)
		a.str("neo4j-uri", neo4j.URI, &cfg.Neo4jURI)
		a.str("neo4j-user", neo4j.User, &cfg.Neo4jUser)
		a.str("neo4j-password", neo4j.Password, &cfg.Neo4jPassword)
		a.str("neo4j-database", neo4j.Database, &cfg.Neo4jDatabase)
	}
	return a.err
}

func expandPath(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return trimmed
	}
	expanded := os.ExpandEnv(trimmed)
	if strings.HasPrefix(expanded, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			expanded = filepath.Join(home, strings.TrimPrefix(expanded, "~"))
		}
	}
	return expanded
}
