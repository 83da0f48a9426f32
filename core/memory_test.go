package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func numberedTurn(i int) Turn {
	return Turn{
		Index:       i,
		Thought:     fmt.Sprintf("thought %d", i),
		Action:      Action{Command: CommandShell, Argument: fmt.Sprintf("echo %d", i)},
		Observation: Observation{Success: true, Output: strings.Repeat("x", 40)},
	}
}

func TestMemoryWindowStaysWithinBudget(t *testing.T) {
	budget := 3 * len(RenderTurn(numberedTurn(1)))
	summarizer := &fixedSummarizer{}
	memory := testMemory(t, budget, summarizer, nil)

	for i := 1; i <= 10; i++ {
		require.NoError(t, memory.Append(context.Background(), numberedTurn(i)))
		assert.LessOrEqual(t, memory.WindowSize(), budget)
	}

	assert.Equal(t, 10, memory.Len())
	assert.Greater(t, summarizer.calls, 0)
}

func TestMemoryEvictsOldestFirstAndKeepsOrder(t *testing.T) {
	budget := 2*len(RenderTurn(numberedTurn(1))) + 5
	memory := testMemory(t, budget, &fixedSummarizer{}, nil)

	for i := 1; i <= 4; i++ {
		require.NoError(t, memory.Append(context.Background(), numberedTurn(i)))
	}

	window := memory.Window()
	require.Len(t, window, 2)
	assert.Equal(t, 3, window[0].Index)
	assert.Equal(t, 4, window[1].Index)
	assert.Equal(t, "thought 1; thought 2", memory.SummaryText())

	log := memory.Log()
	require.Len(t, log, 4)
	for i, turn := range log {
		assert.Equal(t, i+1, turn.Index)
	}
}

func TestMemorySummarizerFailureLeavesStoreUnchanged(t *testing.T) {
	budget := len(RenderTurn(numberedTurn(1))) + 5
	summarizer := &fixedSummarizer{}
	memory := testMemory(t, budget, summarizer, nil)
	require.NoError(t, memory.Append(context.Background(), numberedTurn(1)))

	summarizer.err = errors.New("model unavailable")
	err := memory.Append(context.Background(), numberedTurn(2))
	require.Error(t, err)
	assert.ErrorIs(t, err, summarizer.err)

	assert.Equal(t, 1, memory.Len())
	require.Len(t, memory.Window(), 1)
	assert.Equal(t, 1, memory.Window()[0].Index)
	assert.Empty(t, memory.SummaryText())
}

func TestMemoryWithoutSummarizerRejectsOverflow(t *testing.T) {
	memory := testMemory(t, 10, nil, nil)
	err := memory.Append(context.Background(), numberedTurn(1))
	require.Error(t, err)
	assert.Zero(t, memory.Len())
}

func TestMemoryTruncatesObservations(t *testing.T) {
	memory := NewMemoryStore(MemoryConfig{Budget: 10000, Unit: "chars", MaxObservation: 10}, nil, nil, testEntry())
	turn := numberedTurn(1)
	turn.Observation.Output = strings.Repeat("a", 50)

	require.NoError(t, memory.Append(context.Background(), turn))
	assert.Equal(t, strings.Repeat("a", 10)+"...", memory.Log()[0].Observation.Output)
	assert.False(t, memory.Log()[0].Timestamp.IsZero())
}

type failingLongTerm struct {
	stored int
}

func (f *failingLongTerm) EmbedAndStore(ctx context.Context, text string, ref TurnRef) error {
	f.stored++
	return errors.New("connection refused")
}

func (f *failingLongTerm) Query(ctx context.Context, text string, limit int) ([]LongTermRecord, error) {
	return nil, errors.New("connection refused")
}

func TestMemoryLongTermFailuresAreIgnored(t *testing.T) {
	backend := &failingLongTerm{}
	memory := testMemory(t, 10000, nil, backend)

	require.NoError(t, memory.Append(context.Background(), numberedTurn(1)))
	assert.Equal(t, 1, backend.stored)
	assert.Nil(t, memory.Recall(context.Background(), "anything"))
}

func TestMemoryRecallUsesIndex(t *testing.T) {
	index := NewInMemoryIndex(&keywordEmbedder{})
	memory := testMemory(t, 10000, nil, index)

	turn := numberedTurn(1)
	turn.Thought = "look for apples"
	require.NoError(t, memory.Append(context.Background(), turn))
	require.Equal(t, 1, index.Len())

	records := memory.Recall(context.Background(), "apples")
	require.Len(t, records, 1)
	assert.Equal(t, TurnRef{RunID: "run-test", Index: 1}, records[0].Ref)
	assert.Contains(t, records[0].Text, "look for apples")
}
