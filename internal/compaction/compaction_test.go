package compaction

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aurora-assistant/ragmemory/internal/blobstore/blobstoretest"
	"github.com/aurora-assistant/ragmemory/internal/chunkindex"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/embedder"
)

// stepClock returns a clock.Clock-compatible func that advances by one
// second on every call, guaranteeing strictly increasing timestamps for
// chunks added in a tight loop.
func stepClock() func() time.Time {
	var tick int64
	return func() time.Time {
		tick++
		return time.UnixMilli(tick * 1000)
	}
}

func longMemo(i int) string {
	filler := "Additional context about dependencies and stakeholders rounds out this particular memory entry for today. "
	return fmt.Sprintf("Conversation turn %d begins with a status update about project Alpha and its ongoing migration work. "+
		"The team discussed timeline risks and mitigation plans in detail during this exchange. "+
		"Several action items were logged for follow up during the next cycle of work on this topic. "+
		"This sentence exists purely to pad the memory out to a realistic token count for testing consolidation and compaction. "+
		filler+filler+filler, i)
}

func TestCompact_S4Scenario(t *testing.T) {
	store := blobstoretest.New()
	idx := chunkindex.New("ai-1", store, embedder.NewHashEmbedder(), chunkindex.WithClock(stepClock()))
	ctx := context.Background()

	const total = 50
	ids := make([]string, total)
	for i := 0; i < total; i++ {
		id, err := idx.AddChunk(ctx, longMemo(i), "conversation-log", chunkmodel.SourceConversation, nil)
		require.NoError(t, err)
		ids[i] = id
	}

	mgr := New(idx, nil, WithConfig(Config{MaxContextTokens: 10000, CompactionThreshold: 0.75, PreserveRecent: 5}))

	require.GreaterOrEqual(t, mgr.UsageRatio(), 0.75)

	result, err := mgr.Compact(ctx)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.SummariesMade, 1)
	assert.Greater(t, result.TokensRecovered, 0)

	chunks := idx.GetChunks()
	var sawSummary bool
	for _, c := range chunks {
		if c.SourceType != chunkmodel.SourceCompactionSummary {
			continue
		}
		sawSummary = true
		compactedFrom, ok := c.Metadata["compacted_from"]
		require.True(t, ok)
		n, ok := compactedFrom.AsFloat64()
		require.True(t, ok)
		assert.GreaterOrEqual(t, n, 2.0)
	}
	assert.True(t, sawSummary)

	for _, id := range ids[total-5:] {
		assert.NotNil(t, idx.GetChunk(id), "recent chunk %s should survive compaction untouched", id)
	}
}

func TestCompactIfNeeded_SkipsBelowThreshold(t *testing.T) {
	store := blobstoretest.New()
	idx := chunkindex.New("ai-1", store, embedder.NewHashEmbedder())
	ctx := context.Background()

	_, err := idx.AddChunk(ctx, "a short memory that stays well under budget", "conversation-log", chunkmodel.SourceConversation, nil)
	require.NoError(t, err)

	mgr := New(idx, nil, WithConfig(Config{MaxContextTokens: 1_000_000, CompactionThreshold: 0.75, PreserveRecent: 5}))
	result, err := mgr.CompactIfNeeded(ctx)
	require.NoError(t, err)
	assert.Equal(t, Result{}, result)
}

func TestCompact_DropsLowQualityChunksUnconditionally(t *testing.T) {
	store := blobstoretest.New()
	idx := chunkindex.New("ai-1", store, embedder.NewHashEmbedder(), chunkindex.WithClock(stepClock()))
	ctx := context.Background()

	// One low-quality chunk (dropped outright) among six ordinary ones
	// (the older five folded into a summary, the newest preserved).
	lowID, err := idx.AddChunk(ctx, longMemo(0), "conversation-log", chunkmodel.SourceConversation, nil)
	require.NoError(t, err)
	require.NoError(t, idx.ProvideFeedback(ctx, []string{lowID}, false, 0.5))
	require.NoError(t, idx.ProvideFeedback(ctx, []string{lowID}, false, 0.5))
	require.NoError(t, idx.ProvideFeedback(ctx, []string{lowID}, false, 0.5))
	require.NoError(t, idx.ProvideFeedback(ctx, []string{lowID}, false, 0.5))

	for i := 1; i <= 6; i++ {
		_, err := idx.AddChunk(ctx, longMemo(i), "conversation-log", chunkmodel.SourceConversation, nil)
		require.NoError(t, err)
	}

	mgr := New(idx, nil, WithConfig(Config{MaxContextTokens: 10000, CompactionThreshold: 0.1, PreserveRecent: 1}))
	_, err = mgr.Compact(ctx)
	require.NoError(t, err)

	assert.Nil(t, idx.GetChunk(lowID))
}
