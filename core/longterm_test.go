package core

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var embedderKeywords = []string{"apples", "pears", "shell", "weather"}

// keywordEmbedder maps text onto keyword counts.
type keywordEmbedder struct{}

func (e *keywordEmbedder) embed(text string) []float32 {
	v := make([]float32, len(embedderKeywords))
	for i, k := range embedderKeywords {
		v[i] = float32(strings.Count(strings.ToLower(text), k))
	}
	return v
}

func (e *keywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, t := range texts {
		out = append(out, e.embed(t))
	}
	return out, nil
}

func (e *keywordEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return e.embed(text), nil
}

func TestInMemoryIndexRanksBySimilarity(t *testing.T) {
	index := NewInMemoryIndex(&keywordEmbedder{})
	ctx := context.Background()

	require.NoError(t, index.EmbedAndStore(ctx, "apples apples", TurnRef{RunID: "a", Index: 1}))
	require.NoError(t, index.EmbedAndStore(ctx, "pears and shell", TurnRef{RunID: "a", Index: 2}))
	require.NoError(t, index.EmbedAndStore(ctx, "weather report", TurnRef{RunID: "a", Index: 3}))
	assert.Equal(t, 3, index.Len())

	records, err := index.Query(ctx, "shell", 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 2, records[0].Ref.Index)
	assert.Greater(t, records[0].Score, records[1].Score)
}

func TestNewLongTermMemory(t *testing.T) {
	logger := testLogger()

	memory, err := NewLongTermMemory(context.Background(), &Config{MemoryType: "none"}, nil, logger)
	require.NoError(t, err)
	assert.Nil(t, memory)

	_, err = NewLongTermMemory(context.Background(), &Config{MemoryType: "memory"}, nil, logger)
	assert.ErrorIs(t, err, ErrNoEmbedder)

	memory, err = NewLongTermMemory(context.Background(), &Config{MemoryType: "memory"}, &keywordEmbedder{}, logger)
	require.NoError(t, err)
	assert.IsType(t, &InMemoryIndex{}, memory)
	assert.NoError(t, CloseLongTermMemory(memory))

	_, err = NewLongTermMemory(context.Background(), &Config{MemoryType: "redis"}, &keywordEmbedder{}, logger)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrBackendUnavailable)
}

func TestNewLongTermMemoryUnreachableBackend(t *testing.T) {
	config := &Config{MemoryType: "chroma", ChromaURL: "http://127.0.0.1:1", MemoryNamespace: "microagent"}
	memory, err := NewLongTermMemory(context.Background(), config, &keywordEmbedder{}, testLogger())
	assert.Nil(t, memory)
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

func TestRefFromMetadata(t *testing.T) {
	assert.Equal(t, TurnRef{RunID: "r1", Index: 4}, refFromMetadata(map[string]any{"run": "r1", "turn": float64(4)}))
	assert.Equal(t, TurnRef{Index: 2}, refFromMetadata(map[string]any{"turn": 2}))
	assert.Equal(t, TurnRef{}, refFromMetadata(nil))
}
