package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"

	_ "github.com/lib/pq"
)

func main() {
	fmt.Println("Creating context tailor database tables...")

	dsn := os.Getenv("DATABASE_DSN")
	if dsn == "" {
		dsn = "host=localhost port=5432 user=tailor password=tailor dbname=context_tailor sslmode=disable"
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	fmt.Println("Connected to database")

	if _, err := db.Exec(`CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		log.Printf("Warning: failed to create pgvector extension (embeddings need it): %v", err)
	}

	statements := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id UUID PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			owner_id VARCHAR(255) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects (owner_id)`,

		`CREATE TABLE IF NOT EXISTS documents (
			id UUID PRIMARY KEY,
			project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			filename VARCHAR(512) NOT NULL,
			mime_type VARCHAR(255),
			size_bytes BIGINT,
			content_hash VARCHAR(64),
			status VARCHAR(32) NOT NULL DEFAULT 'processing',
			status_error TEXT,
			chunk_count INTEGER DEFAULT 0,
			hints JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_project ON documents (project_id)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_hash ON documents (content_hash)`,

		`CREATE TABLE IF NOT EXISTS chunks (
			id UUID PRIMARY KEY,
			document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
			project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			position INTEGER NOT NULL,
			token_count INTEGER,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks (document_id)`,
		`CREATE INDEX IF NOT EXISTS idx_chunks_project ON chunks (project_id)`,

		`CREATE TABLE IF NOT EXISTS tailor_sessions (
			id UUID PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			project_id UUID NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
			task_input TEXT NOT NULL,
			assembled_context TEXT,
			target_platform VARCHAR(32) NOT NULL,
			token_count INTEGER,
			quality_score DOUBLE PRECISION,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user ON tailor_sessions (user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON tailor_sessions (project_id)`,
	}

	for _, stmt := range statements {
		if _, err := db.Exec(stmt); err != nil {
			log.Fatalf("Failed to execute statement: %v\n%s", err, stmt)
		}
	}

	fmt.Println("Tables created")
}
