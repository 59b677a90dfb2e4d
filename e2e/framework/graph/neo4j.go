package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
)

const neo4jBatchSize = 200

// Neo4jConfig selects the Neo4j target.
type Neo4jConfig struct {
	URI      string
	User     string
	Password string
	Database string
}

func (c Neo4jConfig) auth() neo4j.AuthToken {
	if c.User != "" || c.Password != "" {
		return neo4j.BasicAuth(c.User, c.Password, "")
	}
	return neo4j.NoAuth()
}

// ExportNeo4j merges g into Neo4j. Nodes carry the E2E label and are keyed by
// id, so exporting the same run twice is idempotent.
func ExportNeo4j(ctx context.Context, cfg Neo4jConfig, g *Graph, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.URI == "" {
		return fmt.Errorf("neo4j uri is required")
	}
	if g == nil {
		logger.Warn("neo4j export skipped: graph is nil")
		return nil
	}
	logger.Info("neo4j export starting", zap.String("uri", cfg.URI), zap.Int("nodes", len(g.Nodes)), zap.Int("edges", len(g.Edges)))

	driver, err := neo4j.NewDriverWithContext(cfg.URI, cfg.auth())
	if err != nil {
		return err
	}
	defer func() {
		if err := driver.Close(ctx); err != nil {
			logger.Warn("neo4j close failed", zap.Error(err))
		}
	}()
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return err
	}

	session := driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: cfg.Database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	if err := ensureSchema(ctx, session); err != nil {
		return err
	}
	if err := writeNodes(ctx, session, g.Nodes); err != nil {
		return err
	}
	if err := writeEdges(ctx, session, g.Edges); err != nil {
		return err
	}
	logger.Info("neo4j export complete", zap.Int("nodes", len(g.Nodes)), zap.Int("edges", len(g.Edges)))
	return nil
}

func ensureSchema(ctx context.Context, session neo4j.SessionWithContext) error {
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, "CREATE CONSTRAINT e2e_node_id IF NOT EXISTS FOR (n:E2E) REQUIRE n.id IS UNIQUE", nil)
		return nil, err
	})
	return err
}

// NodeRows flattens nodes into UNWIND parameters.
func NodeRows(nodes []Node) []map[string]any {
	rows := make([]map[string]any, 0, len(nodes))
	for _, node := range nodes {
		rows = append(rows, map[string]any{
			"id":       node.ID,
			"type":     node.Type,
			"label":    node.Label,
			"status":   attributeValue(node.Attributes, "status"),
			"action":   attributeValue(node.Attributes, "action"),
			"path":     attributeValue(node.Attributes, "path"),
			"category": attributeValue(node.Attributes, "error_category"),
			"attrs":    encodeAttributes(node.Attributes),
		})
	}
	return rows
}

func writeNodes(ctx context.Context, session neo4j.SessionWithContext, nodes []Node) error {
	rows := NodeRows(nodes)
	for i := 0; i < len(rows); i += neo4jBatchSize {
		chunk := rows[i:min(i+neo4jBatchSize, len(rows))]
		_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			_, err := tx.Run(ctx, `
UNWIND $rows AS row
MERGE (n:E2E {id: row.id})
SET n.type = row.type,
    n.label = row.label,
    n.status = row.status,
    n.action = row.action,
    n.path = row.path,
    n.error_category = row.category,
    n.attrs = row.attrs`, map[string]any{"rows": chunk})
			return nil, err
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// EdgeRows groups edges by sanitized relationship type.
func EdgeRows(edges []Edge) map[string][]map[string]any {
	byType := make(map[string][]map[string]any)
	for _, edge := range edges {
		relType := SanitizeRelType(edge.Type)
		byType[relType] = append(byType[relType], map[string]any{
			"from":  edge.From,
			"to":    edge.To,
			"type":  edge.Type,
			"attrs": encodeAttributes(edge.Attributes),
		})
	}
	return byType
}

func writeEdges(ctx context.Context, session neo4j.SessionWithContext, edges []Edge) error {
	for relType, rows := range EdgeRows(edges) {
		query := fmt.Sprintf(`
UNWIND $rows AS row
MATCH (from:E2E {id: row.from})
MATCH (to:E2E {id: row.to})
MERGE (from)-[r:%s]->(to)
SET r.type = row.type,
    r.attrs = row.attrs`, relType)
		for i := 0; i < len(rows); i += neo4jBatchSize {
			chunk := rows[i:min(i+neo4jBatchSize, len(rows))]
			_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
				_, err := tx.Run(ctx, query, map[string]any{"rows": chunk})
				return nil, err
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// SanitizeRelType returns value upper-cased when it is a valid relationship
// type, RELATED_TO otherwise.
func SanitizeRelType(value string) string {
	clean := strings.TrimSpace(strings.ToUpper(value))
	if clean == "" {
		return "RELATED_TO"
	}
	for _, r := range clean {
		if (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' {
			return "RELATED_TO"
		}
	}
	return clean
}

func encodeAttributes(attrs map[string]interface{}) string {
	if len(attrs) == 0 {
		return ""
	}
	payload, err := json.Marshal(attrs)
	if err != nil {
		return ""
	}
	return string(payload)
}

func attributeValue(attrs map[string]interface{}, key string) string {
	value, ok := attrs[key]
	if !ok || value == nil {
		return ""
	}
	switch typed := value.(type) {
	case string:
		return typed
	case fmt.Stringer:
		return typed.String()
	default:
		return fmt.Sprint(value)
	}
}
