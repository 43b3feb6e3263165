package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"graphdesk/api/internal/graph"
)

// GraphBackend stores vertex and edge documents as JSONB rows. Each Flush
// of the graph is applied in one transaction.
type GraphBackend struct {
	db *sql.DB
}

func NewGraphBackend(db *sql.DB) *GraphBackend {
	return &GraphBackend{db: db}
}

func (b *GraphBackend) DB() *sql.DB {
	return b.db
}

func (b *GraphBackend) LoadVertex(ctx context.Context, id string) (*graph.Vertex, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, `SELECT doc FROM graph_vertices WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load vertex %s: %w", id, err)
	}
	var v graph.Vertex
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("decode vertex %s: %w", id, err)
	}
	return &v, nil
}

func (b *GraphBackend) LoadEdge(ctx context.Context, id string) (*graph.Edge, error) {
	var raw []byte
	err := b.db.QueryRowContext(ctx, `SELECT doc FROM graph_edges WHERE id=$1`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load edge %s: %w", id, err)
	}
	var e graph.Edge
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode edge %s: %w", id, err)
	}
	return &e, nil
}

func (b *GraphBackend) EdgeIDs(ctx context.Context, vertexID string) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT id FROM graph_edges
		WHERE out_vertex_id = $1 OR in_vertex_id = $1
		ORDER BY id
	`, vertexID)
	if err != nil {
		return nil, fmt.Errorf("list edges of %s: %w", vertexID, err)
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan edge id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate edges of %s: %w", vertexID, err)
	}
	return ids, nil
}

// Apply writes deletions before upserts so that an id deleted and created
// again in one batch ends up holding the new document.
func (b *GraphBackend) Apply(ctx context.Context, batch graph.Batch) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin graph tx: %w", err)
	}

	if err := applyBatch(ctx, tx, batch); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit graph tx: %w", err)
	}
	return nil
}

func applyBatch(ctx context.Context, tx *sql.Tx, batch graph.Batch) error {
	for _, id := range batch.DeletedEdges {
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete edge %s: %w", id, err)
		}
	}
	for _, id := range batch.DeletedVertices {
		if _, err := tx.ExecContext(ctx, `DELETE FROM graph_vertices WHERE id=$1`, id); err != nil {
			return fmt.Errorf("delete vertex %s: %w", id, err)
		}
	}

	for _, v := range batch.Vertices {
		doc, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode vertex %s: %w", v.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_vertices (id, doc)
			VALUES ($1, $2::jsonb)
			ON CONFLICT (id) DO UPDATE SET doc=EXCLUDED.doc, updated_at=NOW()
		`, v.ID, string(doc)); err != nil {
			return fmt.Errorf("upsert vertex %s: %w", v.ID, err)
		}
	}

	for _, e := range batch.Edges {
		doc, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode edge %s: %w", e.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (id, out_vertex_id, in_vertex_id, label, doc)
			VALUES ($1, $2, $3, $4, $5::jsonb)
			ON CONFLICT (id) DO UPDATE SET
				out_vertex_id=EXCLUDED.out_vertex_id,
				in_vertex_id=EXCLUDED.in_vertex_id,
				label=EXCLUDED.label,
				doc=EXCLUDED.doc,
				updated_at=NOW()
		`, e.ID, e.OutVertexID, e.InVertexID, e.Label, string(doc)); err != nil {
			return fmt.Errorf("upsert edge %s: %w", e.ID, err)
		}
	}
	return nil
}

// Ping reports whether the database is reachable.
func (b *GraphBackend) Ping(ctx context.Context) error {
	return b.db.PingContext(ctx)
}
