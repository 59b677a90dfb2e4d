package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// QueryInterface answers questions about past runs stored in Neo4j.
type QueryInterface struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewQueryInterface connects to Neo4j.
func NewQueryInterface(cfg Neo4jConfig) (*QueryInterface, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, cfg.auth())
	if err != nil {
		return nil, err
	}
	database := cfg.Database
	if database == "" {
		database = "neo4j"
	}
	return &QueryInterface{driver: driver, database: database}, nil
}

// Close closes the driver connection.
func (qi *QueryInterface) Close(ctx context.Context) error {
	return qi.driver.Close(ctx)
}

// ScenarioFailure is one failed scenario found in history.
type ScenarioFailure struct {
	RunID         string `json:"run_id"`
	Scenario      string `json:"scenario"`
	FailureStep   string `json:"failure_step"`
	ErrorCategory string `json:"error_category"`
	ErrorMessage  string `json:"error_message"`
	Browser       string `json:"browser,omitempty"`
}

// FindFailures lists failed scenarios, optionally limited to one error
// category.
func (qi *QueryInterface) FindFailures(ctx context.Context, category string, limit int) ([]ScenarioFailure, error) {
	where := ""
	params := map[string]any{"limit": limit}
	if category != "" {
		where = "WHERE fa.error_category = $category"
		params["category"] = category
	}
	query := fmt.Sprintf(`
		MATCH (r:E2E {type: 'run'})-[:HAS_SCENARIO]->(s:E2E {type: 'scenario', status: 'failed'})-[:HAS_FAILURE_ANALYSIS]->(fa:E2E {type: 'failure_analysis'})
		%s
		OPTIONAL MATCH (s)-[:RUNS_ON]->(b:E2E {type: 'browser'})
		RETURN r.label AS run_id,
		       s.label AS scenario,
		       fa.label AS failure_step,
		       fa.error_category AS error_category,
		       fa.attrs AS attrs,
		       b.label AS browser
		LIMIT $limit
	`, where)

	records, err := qi.read(ctx, query, params)
	if err != nil {
		return nil, err
	}
	out := make([]ScenarioFailure, 0, len(records))
	for _, record := range records {
		out = append(out, ScenarioFailure{
			RunID:         getStringValue(record, "run_id"),
			Scenario:      getStringValue(record, "scenario"),
			FailureStep:   getStringValue(record, "failure_step"),
			ErrorCategory: getStringValue(record, "error_category"),
			ErrorMessage:  errorMessage(getStringValue(record, "attrs")),
			Browser:       getStringValue(record, "browser"),
		})
	}
	return out, nil
}

// PassRate counts scenario outcomes across stored runs, optionally limited
// to one feature.
func (qi *QueryInterface) PassRate(ctx context.Context, feature string) (map[string]interface{}, error) {
	match := "MATCH (s:E2E {type: 'scenario'})"
	params := map[string]any{}
	if feature != "" {
		match = "MATCH (s:E2E {type: 'scenario'})-[:IN_FEATURE]->(:E2E {type: 'feature', label: $feature})"
		params["feature"] = feature
	}
	records, err := qi.read(ctx, match+"\nRETURN s.status AS status, count(*) AS count", params)
	if err != nil {
		return nil, err
	}

	stats := map[string]interface{}{"total": int64(0), "passed": int64(0), "failed": int64(0), "skipped": int64(0)}
	var total int64
	for _, record := range records {
		count := getInt64Value(record, "count")
		stats[getStringValue(record, "status")] = count
		total += count
	}
	stats["total"] = total
	if total > 0 {
		stats["pass_rate"] = float64(stats["passed"].(int64)) / float64(total) * 100
	}
	return stats, nil
}

// FindFlakyScenarios returns scenarios whose pass rate across runs lies
// strictly between threshold and 1-threshold.
func (qi *QueryInterface) FindFlakyScenarios(ctx context.Context, threshold float64) ([]map[string]interface{}, error) {
	query := `
		MATCH (s:E2E {type: 'scenario'})
		WITH s.label AS scenario,
		     sum(CASE WHEN s.status = 'passed' THEN 1 ELSE 0 END) AS passed,
		     sum(CASE WHEN s.status = 'failed' THEN 1 ELSE 0 END) AS failed,
		     count(*) AS total
		WHERE total > 2 AND passed > 0 AND failed > 0
		WITH scenario, passed, failed, total, toFloat(passed) / toFloat(total) AS pass_rate
		WHERE pass_rate > $threshold AND pass_rate < (1 - $threshold)
		RETURN scenario, passed, failed, total, pass_rate
		ORDER BY pass_rate ASC
	`
	records, err := qi.read(ctx, query, map[string]any{"threshold": threshold})
	if err != nil {
		return nil, err
	}
	var flaky []map[string]interface{}
	for _, record := range records {
		flaky = append(flaky, map[string]interface{}{
			"scenario":  getStringValue(record, "scenario"),
			"passed":    getInt64Value(record, "passed"),
			"failed":    getInt64Value(record, "failed"),
			"total":     getInt64Value(record, "total"),
			"pass_rate": getFloat64Value(record, "pass_rate"),
		})
	}
	return flaky, nil
}

// StepScreenshots lists the screenshot paths recorded for steps whose text
// contains text.
func (qi *QueryInterface) StepScreenshots(ctx context.Context, text string, limit int) ([]map[string]string, error) {
	query := `
		MATCH (st:E2E {type: 'step'})-[:PRODUCED]->(a:E2E {type: 'artifact'})
		WHERE toLower(st.action) CONTAINS $text
		RETURN st.label AS step, st.status AS status, a.path AS path
		LIMIT $limit
	`
	records, err := qi.read(ctx, query, map[string]any{"text": strings.ToLower(text), "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(records))
	for _, record := range records {
		out = append(out, map[string]string{
			"step":   getStringValue(record, "step"),
			"status": getStringValue(record, "status"),
			"path":   getStringValue(record, "path"),
		})
	}
	return out, nil
}

func (qi *QueryInterface) read(ctx context.Context, query string, params map[string]any) ([]*neo4j.Record, error) {
	session := qi.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: qi.database,
		AccessMode:   neo4j.AccessModeRead,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}
	return result.Collect(ctx)
}

func errorMessage(attrs string) string {
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(attrs), &decoded); err != nil {
		return ""
	}
	message, _ := decoded["error_message"].(string)
	return message
}

func getStringValue(record *neo4j.Record, key string) string {
	if val, ok := record.Get(key); ok && val != nil {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getInt64Value(record *neo4j.Record, key string) int64 {
	if val, ok := record.Get(key); ok && val != nil {
		if num, ok := val.(int64); ok {
			return num
		}
	}
	return 0
}

func getFloat64Value(record *neo4j.Record, key string) float64 {
	if val, ok := record.Get(key); ok && val != nil {
		switch num := val.(type) {
		case float64:
			return num
		case int64:
			return float64(num)
		}
	}
	return 0
}
