package impl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/tas-context-tailor/config"
	"github.com/tas-context-tailor/services"
)

const upsertBatchSize = 100

// pgVectorIndex implements VectorIndex on Postgres with the pgvector
// extension. One table holds every project's embeddings, partitioned by
// the project_id column.
type pgVectorIndex struct {
	pool      *pgxpool.Pool
	dimension int
}

// NewPgVectorIndex connects to Postgres and ensures the embeddings table
// exists.
func NewPgVectorIndex(ctx context.Context, cfg *config.VectorConfig) (services.VectorIndex, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse vector DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping vector database: %w", err)
	}

	idx := &pgVectorIndex{pool: pool, dimension: cfg.Dimension}
	if err := idx.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return idx, nil
}

func (p *pgVectorIndex) ensureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunk_embeddings (
			id UUID PRIMARY KEY,
			project_id UUID NOT NULL,
			document_id UUID NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb
		)`, p.dimension),
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_project ON chunk_embeddings (project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_embeddings_document ON chunk_embeddings (document_id)`,
	}
	for _, stmt := range stmts {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure vector schema: %w", err)
		}
	}
	return nil
}

func (p *pgVectorIndex) Upsert(ctx context.Context, projectID uuid.UUID, entries []services.VectorEntry) error {
	for start := 0; start < len(entries); start += upsertBatchSize {
		end := start + upsertBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		if err := p.upsertBatch(ctx, projectID, entries[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (p *pgVectorIndex) upsertBatch(ctx context.Context, projectID uuid.UUID, entries []services.VectorEntry) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin vector upsert: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, entry := range entries {
		metadata := entry.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		_, err := tx.Exec(ctx,
			`INSERT INTO chunk_embeddings (id, project_id, document_id, embedding, metadata)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (id) DO UPDATE SET
			   embedding = EXCLUDED.embedding,
			   metadata = EXCLUDED.metadata`,
			entry.ID, projectID, entry.DocumentID,
			pgvector.NewVector(entry.Vector), metadata)
		if err != nil {
			return fmt.Errorf("failed to upsert embedding %s: %w", entry.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit vector upsert: %w", err)
	}
	return nil
}

func (p *pgVectorIndex) Query(ctx context.Context, projectID uuid.UUID, vector []float32, topK int, filter services.VectorFilter) ([]services.VectorMatch, error) {
	if topK <= 0 {
		return nil, nil
	}

	query := `SELECT id, document_id, metadata, 1 - (embedding <=> $1) AS score
		FROM chunk_embeddings
		WHERE project_id = $2`
	args := []interface{}{pgvector.NewVector(vector), projectID}

	for key, want := range filter {
		column := "metadata->>" + quoteLiteral(key)
		if key == "document_id" {
			column = "document_id::text"
		}
		if in, ok := want.([]interface{}); ok {
			values := make([]string, 0, len(in))
			for _, v := range in {
				values = append(values, fmt.Sprint(v))
			}
			args = append(args, values)
			query += fmt.Sprintf(" AND %s = ANY($%d)", column, len(args))
			continue
		}
		args = append(args, fmt.Sprint(want))
		query += fmt.Sprintf(" AND %s = $%d", column, len(args))
	}

	args = append(args, topK)
	query += fmt.Sprintf(" ORDER BY embedding <=> $1, id LIMIT $%d", len(args))

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("vector query failed: %w", err)
	}
	defer rows.Close()

	var matches []services.VectorMatch
	for rows.Next() {
		var m services.VectorMatch
		if err := rows.Scan(&m.ID, &m.DocumentID, &m.Metadata, &m.Score); err != nil {
			return nil, fmt.Errorf("failed to scan vector match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func (p *pgVectorIndex) DeleteByDocument(ctx context.Context, projectID, documentID uuid.UUID) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM chunk_embeddings WHERE project_id = $1 AND document_id = $2`,
		projectID, documentID)
	if err != nil {
		return fmt.Errorf("failed to delete document embeddings: %w", err)
	}
	return nil
}

func (p *pgVectorIndex) DeleteProject(ctx context.Context, projectID uuid.UUID) error {
	_, err := p.pool.Exec(ctx,
		`DELETE FROM chunk_embeddings WHERE project_id = $1`, projectID)
	if err != nil {
		return fmt.Errorf("failed to delete project embeddings: %w", err)
	}
	return nil
}

// quoteLiteral wraps a metadata key for interpolation into the filter
// expression. Keys come from internal callers, not user input, but the
// quoting keeps them inert regardless.
func quoteLiteral(s string) string {
	out := make([]byte, 0, len(s)+2)
	out = append(out, '\'')
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(append(out, '\''))
}
