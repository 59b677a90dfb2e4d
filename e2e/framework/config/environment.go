package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// EnvironmentProfile holds per-environment overrides read from
// environments/<name>.{yaml,yml,json}. Timeouts are in milliseconds.
type EnvironmentProfile struct {
	BaseURL    *string               `json:"base_url" yaml:"base_url"`
	Timeout    *int                  `json:"timeout" yaml:"timeout"`
	RetryCount *int                  `json:"retry_count" yaml:"retry_count"`
	Headless   *bool                 `json:"headless" yaml:"headless"`
	Browser    *string               `json:"browser" yaml:"browser"`
	UserAgent  *string               `json:"user_agent" yaml:"user_agent"`
	Viewport   *ViewportProfile      `json:"viewport" yaml:"viewport"`
	MCP        *OrchestrationProfile `json:"mcp" yaml:"mcp"`
}

type ViewportProfile struct {
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

type OrchestrationProfile struct {
	Enabled  *bool   `json:"enabled" yaml:"enabled"`
	Endpoint *string `json:"endpoint" yaml:"endpoint"`
	Timeout  *int    `json:"timeout" yaml:"timeout"`
}

// LoadEnvironment reads the named profile from dir. A missing profile is not
// an error; the built-in defaults apply.
func LoadEnvironment(dir, name string) (*EnvironmentProfile, error) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(dir) == "" {
		return nil, nil
	}
	for _, ext := range []string{".yaml", ".yml", ".json"} {
		path := filepath.Join(expandPath(dir), name+ext)
		data, err := os.ReadFile(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var profile EnvironmentProfile
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		return &profile, nil
	}
	return nil, nil
}

func applyEnvironment(cfg *Config, profile *EnvironmentProfile, explicit func(string) bool) {
	if cfg == nil || profile == nil {
		return
	}
	if profile.BaseURL != nil && !explicit("base-url") {
		cfg.BaseURL = strings.TrimSpace(*profile.BaseURL)
	}
	if profile.Timeout != nil && *profile.Timeout > 0 && !explicit("default-timeout") {
		cfg.DefaultTimeout = time.Duration(*profile.Timeout) * time.Millisecond
	}
	if profile.RetryCount != nil && !explicit("retry-count") {
		cfg.RetryCount = *profile.RetryCount
	}
	if profile.Headless != nil && !explicit("headless") {
		cfg.Headless = *profile.Headless
	}
	if profile.Browser != nil && !explicit("browser") {
		cfg.Browser = strings.TrimSpace(*profile.Browser)
	}
	if profile.UserAgent != nil && !explicit("user-agent") {
		cfg.UserAgent = strings.TrimSpace(*profile.UserAgent)
	}
	if vp := profile.Viewport; vp != nil {
		if vp.Width > 0 && !explicit("viewport-width") {
			cfg.ViewportWidth = vp.Width
		}
		if vp.Height > 0 && !explicit("viewport-height") {
			cfg.ViewportHeight = vp.Height
		}
	}
	if mcp := profile.MCP; mcp != nil {
		if mcp.Enabled != nil && !explicit("orchestration") {
			cfg.OrchestrationEnabled = *mcp.Enabled
		}
		if mcp.Endpoint != nil && !explicit("orchestration-endpoint") {
			cfg.OrchestrationEndpoint = strings.TrimSpace(*mcp.Endpoint)
		}
		if mcp.Timeout != nil && *mcp.Timeout > 0 && !explicit("orchestration-connect-timeout") {
			cfg.OrchestrationConnectTimeout = time.Duration(*mcp.Timeout) * time.Millisecond
		}
	}
}
