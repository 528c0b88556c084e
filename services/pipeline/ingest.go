package pipeline

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/tas-context-tailor/models"
	"github.com/tas-context-tailor/services"
)

// IngestService runs the document pipeline: extract, chunk, persist,
// embed, index. One document is processed by a single writer at a time;
// chunk positions stay stable.
type IngestService struct {
	store     services.MetadataStore
	extractor services.TextExtractor
	chunker   *Chunker
	embedder  services.Embedder
	index     services.VectorIndex

	embedBatchSize int
	fanOutLimit    int

	mu       sync.Mutex
	docLocks map[uuid.UUID]*sync.Mutex
}

// NewIngestService creates an IngestService.
func NewIngestService(store services.MetadataStore, extractor services.TextExtractor, chunker *Chunker, embedder services.Embedder, index services.VectorIndex, embedBatchSize, fanOutLimit int) *IngestService {
	if embedBatchSize <= 0 {
		embedBatchSize = 64
	}
	if fanOutLimit <= 0 {
		fanOutLimit = 8
	}
	return &IngestService{
		store:          store,
		extractor:      extractor,
		chunker:        chunker,
		embedder:       embedder,
		index:          index,
		embedBatchSize: embedBatchSize,
		fanOutLimit:    fanOutLimit,
		docLocks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// Ingest processes an uploaded document through to READY, or records the
// failure on the document row and returns the error.
func (s *IngestService) Ingest(ctx context.Context, doc *models.Document, data []byte) error {
	lock := s.lockFor(doc.ID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.ingest(ctx, doc, data); err != nil {
		doc.Status = models.DocumentStatusError
		doc.StatusError = err.Error()
		if updateErr := s.store.UpdateDocument(ctx, doc); updateErr != nil {
			log.Printf("failed to record ingestion error for document %s: %v", doc.ID, updateErr)
		}
		return err
	}
	return nil
}

func (s *IngestService) ingest(ctx context.Context, doc *models.Document, data []byte) error {
	extracted, err := s.extractor.Extract(doc.Filename, doc.MimeType, data)
	if err != nil {
		return err
	}
	doc.Hints = extracted.Hints

	pieces, err := s.chunker.Chunk(extracted.Text, extracted.Hints)
	if err != nil {
		return err
	}

	chunks := make([]models.Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = models.Chunk{
			ID:         uuid.New(),
			DocumentID: doc.ID,
			ProjectID:  doc.ProjectID,
			Content:    piece.Content,
			Position:   i,
			TokenCount: piece.TokenCount,
		}
	}

	if err := s.store.CreateChunks(ctx, chunks); err != nil {
		return err
	}

	if err := s.embedAndIndex(ctx, doc, chunks); err != nil {
		return err
	}

	doc.Status = models.DocumentStatusReady
	doc.StatusError = ""
	doc.ChunkCount = len(chunks)
	return s.store.UpdateDocument(ctx, doc)
}

// embedAndIndex embeds chunk batches concurrently, bounded by the
// fan-out limit, and upserts each batch as it completes.
func (s *IngestService) embedAndIndex(ctx context.Context, doc *models.Document, chunks []models.Chunk) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanOutLimit)

	for start := 0; start < len(chunks); start += s.embedBatchSize {
		end := start + s.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, chunk := range batch {
				texts[i] = chunk.Content
			}

			vectors, err := s.embedder.Embed(gctx, texts)
			if err != nil {
				return err
			}

			entries := make([]services.VectorEntry, len(batch))
			for i, chunk := range batch {
				entries[i] = services.VectorEntry{
					ID:         chunk.ID,
					ProjectID:  chunk.ProjectID,
					DocumentID: chunk.DocumentID,
					Vector:     vectors[i],
					Metadata: map[string]interface{}{
						"document_id": chunk.DocumentID.String(),
						"position":    chunk.Position,
					},
				}
			}
			return s.index.Upsert(gctx, doc.ProjectID, entries)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to index document %s: %w", doc.ID, err)
	}
	return nil
}

// RemoveDocument clears a deleted document's chunks and vectors.
func (s *IngestService) RemoveDocument(ctx context.Context, projectID, documentID uuid.UUID) error {
	if err := s.index.DeleteByDocument(ctx, projectID, documentID); err != nil {
		return err
	}
	return s.store.DeleteChunksByDocument(ctx, documentID)
}

func (s *IngestService) lockFor(docID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.docLocks[docID]
	if !ok {
		lock = &sync.Mutex{}
		s.docLocks[docID] = lock
	}
	return lock
}
