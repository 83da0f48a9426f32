package core

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"github.com/tmc/langchaingo/vectorstores/chroma"
	"github.com/tmc/langchaingo/vectorstores/pgvector"
	"github.com/tmc/langchaingo/vectorstores/pinecone"
)

// TurnRef points a long-term record back at the Turn it came from.
type TurnRef struct {
	RunID string `json:"runId"`
	Index int    `json:"index"`
}

// LongTermRecord is one entry of the external index.
type LongTermRecord struct {
	Embedding []float32 `json:"-"`
	Text      string    `json:"text"`
	Ref       TurnRef   `json:"ref"`
	Score     float32   `json:"score"`
}

// LongTermMemory is the capability every long-term backend provides.
type LongTermMemory interface {
	EmbedAndStore(ctx context.Context, text string, ref TurnRef) error
	Query(ctx context.Context, text string, limit int) ([]LongTermRecord, error)
}

// ErrNoEmbedder is returned when a long-term backend is configured but the model
// provider cannot create embeddings.
var ErrNoEmbedder = errors.New("model provider does not support embeddings")

// ErrBackendUnavailable marks a configured long-term backend that could not be reached.
var ErrBackendUnavailable = errors.New("long-term memory backend unavailable")

// NewEmbedder builds an embedder from a model that can create embeddings.
func NewEmbedder(model llms.Model) (embeddings.Embedder, error) {
	client, ok := model.(embeddings.EmbedderClient)
	if !ok {
		return nil, ErrNoEmbedder
	}
	return embeddings.NewEmbedder(client)
}

// NewLongTermMemory selects the backend named by config.MemoryType. "none" yields a nil
// LongTermMemory, which turns recall into a no-op. Connection failures wrap
// ErrBackendUnavailable; configuration mistakes do not.
func NewLongTermMemory(ctx context.Context, config *Config, embedder embeddings.Embedder, logger *logrus.Logger) (LongTermMemory, error) {
	if config.MemoryType == "" || config.MemoryType == "none" {
		return nil, nil
	}
	if embedder == nil {
		return nil, ErrNoEmbedder
	}
	backendLogger := logger.WithFields(logrus.Fields{
		"memoryType": config.MemoryType,
		"namespace":  config.MemoryNamespace,
	})

	var (
		store  vectorstores.VectorStore
		closer func() error
	)
	switch config.MemoryType {
	case "memory":
		backendLogger.Info("Using in-process long-term memory")
		return NewInMemoryIndex(embedder), nil

	case "pgvector":
		s, err := pgvector.New(ctx,
			pgvector.WithConnectionURL(config.PostgresURL),
			pgvector.WithEmbedder(embedder),
			pgvector.WithCollectionName(config.MemoryNamespace),
			pgvector.WithPreDeleteCollection(config.ClearMemoryStart),
		)
		if err != nil {
			return nil, fmt.Errorf("connect pgvector: %w: %w", ErrBackendUnavailable, err)
		}
		store, closer = s, s.Close

	case "chroma":
		opts := []chroma.Option{
			chroma.WithChromaURL(config.ChromaURL),
			chroma.WithEmbedder(embedder),
			chroma.WithNameSpace(config.MemoryNamespace),
		}
		s, err := chroma.New(opts...)
		if errors.Is(err, chroma.ErrInvalidOptions) {
			return nil, fmt.Errorf("configure chroma: %w", err)
		}
		if err != nil {
			return nil, fmt.Errorf("connect chroma: %w: %w", ErrBackendUnavailable, err)
		}
		if config.ClearMemoryStart {
			if err := s.RemoveCollection(); err != nil {
				return nil, fmt.Errorf("clear chroma collection: %w: %w", ErrBackendUnavailable, err)
			}
			if s, err = chroma.New(opts...); err != nil {
				return nil, fmt.Errorf("recreate chroma collection: %w: %w", ErrBackendUnavailable, err)
			}
		}
		store = s

	case "pinecone":
		s, err := pinecone.New(
			pinecone.WithHost(config.PineconeHost),
			pinecone.WithAPIKey(config.PineconeAPIKey),
			pinecone.WithEmbedder(embedder),
			pinecone.WithNameSpace(config.MemoryNamespace),
		)
		if err != nil {
			return nil, fmt.Errorf("connect pinecone: %w: %w", ErrBackendUnavailable, err)
		}
		store = s

	default:
		return nil, fmt.Errorf("unknown memory type %q", config.MemoryType)
	}

	backendLogger.Info("Long-term memory backend initialized")
	return &VectorStoreMemory{store: store, closer: closer}, nil
}

// CloseLongTermMemory releases backend resources when the backend holds any.
func CloseLongTermMemory(m LongTermMemory) error {
	if c, ok := m.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// VectorStoreMemory adapts a langchaingo vector store.
type VectorStoreMemory struct {
	store  vectorstores.VectorStore
	closer func() error
}

// NewVectorStoreMemory wraps store.
func NewVectorStoreMemory(store vectorstores.VectorStore) *VectorStoreMemory {
	return &VectorStoreMemory{store: store}
}

func (v *VectorStoreMemory) EmbedAndStore(ctx context.Context, text string, ref TurnRef) error {
	_, err := v.store.AddDocuments(ctx, []schema.Document{{
		PageContent: text,
		Metadata: map[string]any{
			"run":  ref.RunID,
			"turn": ref.Index,
		},
	}})
	return err
}

func (v *VectorStoreMemory) Query(ctx context.Context, text string, limit int) ([]LongTermRecord, error) {
	docs, err := v.store.SimilaritySearch(ctx, text, limit)
	if err != nil {
		return nil, err
	}
	records := make([]LongTermRecord, 0, len(docs))
	for _, d := range docs {
		records = append(records, LongTermRecord{
			Text:  d.PageContent,
			Ref:   refFromMetadata(d.Metadata),
			Score: d.Score,
		})
	}
	return records, nil
}

func (v *VectorStoreMemory) Close() error {
	if v.closer == nil {
		return nil
	}
	return v.closer()
}

func refFromMetadata(md map[string]any) TurnRef {
	var ref TurnRef
	if run, ok := md["run"].(string); ok {
		ref.RunID = run
	}
	switch turn := md["turn"].(type) {
	case int:
		ref.Index = turn
	case int64:
		ref.Index = int(turn)
	case float64:
		ref.Index = int(turn)
	case float32:
		ref.Index = int(turn)
	}
	return ref
}

// InMemoryIndex is a process-local LongTermMemory ranked by cosine similarity.
type InMemoryIndex struct {
	embedder embeddings.Embedder
	records  []LongTermRecord
	mutex    sync.RWMutex
}

// NewInMemoryIndex creates an empty index.
func NewInMemoryIndex(embedder embeddings.Embedder) *InMemoryIndex {
	return &InMemoryIndex{embedder: embedder}
}

func (idx *InMemoryIndex) EmbedAndStore(ctx context.Context, text string, ref TurnRef) error {
	vectors, err := idx.embedder.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embed document: %w", err)
	}
	if len(vectors) != 1 {
		return fmt.Errorf("embedder returned %d vectors for 1 document", len(vectors))
	}

	idx.mutex.Lock()
	defer idx.mutex.Unlock()
	idx.records = append(idx.records, LongTermRecord{Embedding: vectors[0], Text: text, Ref: ref})
	return nil
}

func (idx *InMemoryIndex) Query(ctx context.Context, text string, limit int) ([]LongTermRecord, error) {
	query, err := idx.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	idx.mutex.RLock()
	scored := make([]LongTermRecord, len(idx.records))
	copy(scored, idx.records)
	idx.mutex.RUnlock()

	for i := range scored {
		scored[i].Score = cosine(query, scored[i].Embedding)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// Len returns the number of stored records.
func (idx *InMemoryIndex) Len() int {
	idx.mutex.RLock()
	defer idx.mutex.RUnlock()
	return len(idx.records)
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
