// Package data loads the test data document that scenarios read keywords,
// URLs, timeouts and validation criteria from.
package data

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// DefaultTimeout is returned by Timeout when the document has no value.
const DefaultTimeout = 30000 * time.Millisecond

// TestData is a parsed test data document. JSON documents are read through
// the YAML decoder, so both formats are accepted.
type TestData struct {
	Source string
	values map[string]any
}

// Load reads the document at path. A missing file yields empty data and a
// warning.
func Load(path string, logger *zap.Logger) (*TestData, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	payload, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logger.Warn("test data file not found", zap.String("path", path))
		return &TestData{Source: path, values: map[string]any{}}, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read test data %s", path)
	}
	td, err := Parse(payload)
	if err != nil {
		return nil, errors.Wrapf(err, "parse test data %s", path)
	}
	td.Source = path
	logger.Info("test data loaded", zap.String("path", path), zap.Int("keys", len(td.values)))
	return td, nil
}

// Parse decodes a YAML or JSON document.
func Parse(payload []byte) (*TestData, error) {
	values := map[string]any{}
	if err := yaml.Unmarshal(payload, &values); err != nil {
		return nil, err
	}
	return &TestData{values: values}, nil
}

// Get resolves a dotted key such as "timeouts.page_load".
func (d *TestData) Get(key string) (any, bool) {
	if d == nil {
		return nil, false
	}
	var current any = d.values
	for _, part := range strings.Split(key, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok || current == nil {
			return nil, false
		}
	}
	return current, true
}

// String returns the value at key formatted as a string, or def.
func (d *TestData) String(key, def string) string {
	v, ok := d.Get(key)
	if !ok {
		return def
	}
	if s, ok := v.(string); ok {
		return s
	}
	return def
}

// SearchKeyword returns search_keywords.<name>, or name itself when absent.
func (d *TestData) SearchKeyword(name string) string {
	return d.String("search_keywords."+name, name)
}

// SearchKeywords returns every configured keyword by name.
func (d *TestData) SearchKeywords() map[string]string {
	out := map[string]string{}
	v, _ := d.Get("search_keywords")
	m, _ := v.(map[string]any)
	for name, raw := range m {
		if s, ok := raw.(string); ok {
			out[name] = s
		}
	}
	return out
}

// ValidationCriteria returns the validation_criteria section.
func (d *TestData) ValidationCriteria() map[string]any {
	v, _ := d.Get("validation_criteria")
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{}
}

// URL returns urls.<name> or "".
func (d *TestData) URL(name string) string {
	return d.String("urls."+name, "")
}

// Timeout returns timeouts.<name>, interpreted as milliseconds when numeric
// and as a Go duration when a string.
func (d *TestData) Timeout(name string) time.Duration {
	v, ok := d.Get("timeouts." + name)
	if !ok {
		return DefaultTimeout
	}
	switch t := v.(type) {
	case int:
		return time.Duration(t) * time.Millisecond
	case float64:
		return time.Duration(t * float64(time.Millisecond))
	case string:
		if parsed, err := time.ParseDuration(t); err == nil {
			return parsed
		}
	}
	return DefaultTimeout
}

// Lookup serves local defaults for orchestration keys. An explicit map at
// key wins; search_keyword is otherwise derived from search_keywords.ai.
func (d *TestData) Lookup(key string) (map[string]any, bool) {
	if v, ok := d.Get(key); ok {
		if m, ok := v.(map[string]any); ok {
			return m, true
		}
	}
	if key == "search_keyword" {
		if kw := d.String("search_keywords.ai", ""); kw != "" {
			return map[string]any{"keyword": kw, "source": "test_data"}, true
		}
	}
	return nil, false
}
