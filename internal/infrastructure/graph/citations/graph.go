// Package citations projects documents and the works they cite into Neo4j
// as (:Document)-[:CITES]->(:Reference). The projection is best effort and
// is rebuilt whenever a document is re-ingested.
package citations

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/kirillkom/research-assistant/internal/core/domain"
)

// runFunc executes one Cypher statement and returns its records as maps.
type runFunc func(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)

type Graph struct {
	run    runFunc
	close  func(context.Context) error
	logger *slog.Logger
}

type Reference struct {
	Author    string   `json:"author"`
	Year      string   `json:"year"`
	CitedBy   int      `json:"cited_by"`
	Documents []string `json:"documents"`
}

// New connects to Neo4j and verifies connectivity.
func New(ctx context.Context, uri, username, password, database string) (*Graph, error) {
	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("create neo4j driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("verify neo4j connectivity: %w", err)
	}

	opts := []neo4j.ExecuteQueryConfigurationOption{}
	if database != "" {
		opts = append(opts, neo4j.ExecuteQueryWithDatabase(database))
	}
	run := func(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
		res, err := neo4j.ExecuteQuery(ctx, driver, cypher, params, neo4j.EagerResultTransformer, opts...)
		if err != nil {
			return nil, err
		}
		rows := make([]map[string]any, 0, len(res.Records))
		for _, rec := range res.Records {
			rows = append(rows, rec.AsMap())
		}
		return rows, nil
	}
	return newGraph(run, driver.Close), nil
}

func newGraph(run runFunc, closeFn func(context.Context) error) *Graph {
	return &Graph{
		run:    run,
		close:  closeFn,
		logger: slog.Default().With("component", "citation-graph"),
	}
}

func (g *Graph) Close(ctx context.Context) error {
	if g.close == nil {
		return nil
	}
	return g.close(ctx)
}

const upsertDocumentCypher = `
MERGE (d:Document {user_id: $user_id, id: $id})
SET d.title = $title, d.authors = $authors, d.year = $year, d.source_name = $source_name
WITH d
OPTIONAL MATCH (d)-[old:CITES]->()
DELETE old
`

const linkCitationsCypher = `
MATCH (d:Document {user_id: $user_id, id: $id})
UNWIND $citations AS c
MERGE (r:Reference {user_id: $user_id, author: c.author, year: c.year})
MERGE (d)-[rel:CITES]->(r)
SET rel.position = c.position
`

const pruneReferencesCypher = `
MATCH (r:Reference {user_id: $user_id})
WHERE NOT (r)<-[:CITES]-()
DELETE r
`

// RecordDocument replaces the document's outgoing CITES edges.
func (g *Graph) RecordDocument(ctx context.Context, doc *domain.Document) error {
	params := map[string]any{
		"user_id":     doc.UserID,
		"id":          doc.ID,
		"title":       doc.Metadata.Title,
		"authors":     doc.Metadata.Authors,
		"year":        doc.Metadata.Year(),
		"source_name": doc.SourceName,
	}
	if _, err := g.run(ctx, upsertDocumentCypher, params); err != nil {
		return fmt.Errorf("upsert document node: %w", err)
	}

	if refs := citationParams(doc.Citations); len(refs) > 0 {
		params["citations"] = refs
		if _, err := g.run(ctx, linkCitationsCypher, params); err != nil {
			return fmt.Errorf("link citations: %w", err)
		}
	}

	if _, err := g.run(ctx, pruneReferencesCypher, map[string]any{"user_id": doc.UserID}); err != nil {
		return fmt.Errorf("prune references: %w", err)
	}
	g.logger.Debug("citation_graph_recorded", "user_id", doc.UserID, "document_id", doc.ID, "citations", len(doc.Citations))
	return nil
}

func (g *Graph) RemoveDocument(ctx context.Context, userID, documentID string) error {
	_, err := g.run(ctx, `MATCH (d:Document {user_id: $user_id, id: $id}) DETACH DELETE d`,
		map[string]any{"user_id": userID, "id": documentID})
	if err != nil {
		return fmt.Errorf("delete document node: %w", err)
	}
	if _, err := g.run(ctx, pruneReferencesCypher, map[string]any{"user_id": userID}); err != nil {
		return fmt.Errorf("prune references: %w", err)
	}
	return nil
}

// TopReferences lists the works cited by the most documents of one user.
func (g *Graph) TopReferences(ctx context.Context, userID string, limit int) ([]Reference, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := g.run(ctx, `
MATCH (d:Document {user_id: $user_id})-[:CITES]->(r:Reference)
RETURN r.author AS author, r.year AS year, count(DISTINCT d) AS cited_by, collect(DISTINCT d.id) AS documents
ORDER BY cited_by DESC, author ASC, year ASC
LIMIT $limit
`, map[string]any{"user_id": userID, "limit": limit})
	if err != nil {
		return nil, fmt.Errorf("query top references: %w", err)
	}

	out := make([]Reference, 0, len(rows))
	for _, row := range rows {
		ref := Reference{
			Author: asString(row["author"]),
			Year:   asString(row["year"]),
		}
		if n, ok := row["cited_by"].(int64); ok {
			ref.CitedBy = int(n)
		}
		if docs, ok := row["documents"].([]any); ok {
			for _, d := range docs {
				ref.Documents = append(ref.Documents, asString(d))
			}
		}
		out = append(out, ref)
	}
	return out, nil
}

// citationParams collapses repeated (author, year) pairs to their first
// occurrence.
func citationParams(citations []domain.Citation) []map[string]any {
	seen := make(map[string]struct{}, len(citations))
	out := make([]map[string]any, 0, len(citations))
	for _, c := range citations {
		author := strings.TrimSpace(c.Author)
		key := strings.ToLower(author) + "|" + c.Year
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, map[string]any{
			"author":   author,
			"year":     c.Year,
			"position": c.Position,
		})
	}
	return out
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
