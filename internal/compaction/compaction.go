// Package compaction implements the token-budget-driven auto-compaction
// manager (C9).
package compaction

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"golang.org/x/sync/singleflight"

	"github.com/aurora-assistant/ragmemory/internal/chunkindex"
	"github.com/aurora-assistant/ragmemory/internal/chunkmodel"
	"github.com/aurora-assistant/ragmemory/internal/clock"
	"github.com/aurora-assistant/ragmemory/internal/ragerrors"
	"github.com/aurora-assistant/ragmemory/internal/retrieval"
)

const (
	maxSummaryBatchTokens = 2000
	minBatchSizeToSummarize = 2
	topSentenceCount        = 5
	minSentenceChars        = 10
	lengthBucketChars       = 30
	promptTruncateChars     = 200
)

// Config holds the tunables §4.8 and §3's configuration block assign to
// auto-compaction.
type Config struct {
	MaxContextTokens    int
	CompactionThreshold float64
	PreserveRecent      int
}

// DefaultConfig matches the spec's stated defaults.
func DefaultConfig() Config {
	return Config{MaxContextTokens: 100000, CompactionThreshold: 0.75, PreserveRecent: 20}
}

// Result reports what one compaction pass did.
type Result struct {
	Ran             bool
	SummariesMade   int
	ChunksRemoved   int
	TokensRecovered int
}

// Manager drives token-budget compaction over a chunk index.
type Manager struct {
	index     *chunkindex.Index
	retriever *retrieval.Retriever
	clock     clock.Clock
	cfg       Config
	sf        singleflight.Group
}

// Option configures a Manager at construction time.
type Option func(*Manager)

func WithConfig(cfg Config) Option { return func(m *Manager) { m.cfg = cfg } }
func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }

func New(index *chunkindex.Index, retriever *retrieval.Retriever, opts ...Option) *Manager {
	m := &Manager{index: index, retriever: retriever, clock: clock.Real(), cfg: DefaultConfig()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// UsageRatio returns the store's summed tokenCount divided by MaxContextTokens.
func (m *Manager) UsageRatio() float64 {
	if m.cfg.MaxContextTokens <= 0 {
		return 0
	}
	total := 0
	for _, c := range m.index.GetChunks() {
		total += c.TokenCount
	}
	return float64(total) / float64(m.cfg.MaxContextTokens)
}

// CompactIfNeeded runs a compaction pass only if UsageRatio() has
// crossed CompactionThreshold.
func (m *Manager) CompactIfNeeded(ctx context.Context) (Result, error) {
	if m.UsageRatio() < m.cfg.CompactionThreshold {
		return Result{}, nil
	}
	return m.Compact(ctx)
}

// Compact runs one compaction pass under the non-reentrant guard;
// overlapping calls return ErrConcurrent without performing a second pass.
func (m *Manager) Compact(ctx context.Context) (Result, error) {
	v, err, shared := m.sf.Do("compact", func() (interface{}, error) {
		return m.compactOnce(ctx)
	})
	if shared {
		return Result{}, ragerrors.ErrConcurrent
	}
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (m *Manager) compactOnce(ctx context.Context) (Result, error) {
	all := m.index.GetChunks()
	sort.Slice(all, func(i, j int) bool { return all[i].Timestamp < all[j].Timestamp })

	preserve := m.cfg.PreserveRecent
	if preserve > len(all) {
		preserve = len(all)
	}
	toCompact := all[:len(all)-preserve]

	var result Result
	toCompact, err := m.dropUnconditional(ctx, toCompact, &result)
	if err != nil {
		return Result{}, err
	}

	bySourceType := groupBySourceType(toCompact)
	for sourceType, chunks := range bySourceType {
		batches := batchByTokenBudget(chunks, maxSummaryBatchTokens)
		for _, batch := range batches {
			if len(batch) < minBatchSizeToSummarize {
				continue
			}
			if err := m.summarizeBatch(ctx, sourceType, batch, &result); err != nil {
				return Result{}, err
			}
		}
	}
	return result, nil
}

// dropUnconditional deletes chunks whose q < 0.15 and retrievalCount > 3
// from the index outright, before batching the rest for summarisation.
func (m *Manager) dropUnconditional(ctx context.Context, chunks []*chunkmodel.Chunk, result *Result) ([]*chunkmodel.Chunk, error) {
	out := chunks[:0]
	for _, c := range chunks {
		if c.QValue < 0.15 && c.RetrievalCount > 3 {
			if _, err := m.index.RemoveChunk(ctx, c.ID); err != nil {
				return nil, err
			}
			result.ChunksRemoved++
			result.TokensRecovered += c.TokenCount
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func groupBySourceType(chunks []*chunkmodel.Chunk) map[string][]*chunkmodel.Chunk {
	out := make(map[string][]*chunkmodel.Chunk)
	for _, c := range chunks {
		out[c.SourceType] = append(out[c.SourceType], c)
	}
	return out
}

func batchByTokenBudget(chunks []*chunkmodel.Chunk, budget int) [][]*chunkmodel.Chunk {
	var batches [][]*chunkmodel.Chunk
	var current []*chunkmodel.Chunk
	sum := 0
	for _, c := range chunks {
		if sum > 0 && sum+c.TokenCount > budget {
			batches = append(batches, current)
			current = nil
			sum = 0
		}
		current = append(current, c)
		sum += c.TokenCount
	}
	if len(current) > 0 {
		batches = append(batches, current)
	}
	return batches
}

var sentenceSplitRE = regexp.MustCompile(`(?:[.!?]+\s+|[.!?]+$)`)

type scoredSentence struct {
	text  string
	score float64
}

// summarizeBatch produces an extractive summary for batch, removes the
// originals, and adds the summary chunk.
func (m *Manager) summarizeBatch(ctx context.Context, sourceType string, batch []*chunkmodel.Chunk, result *Result) error {
	var scored []scoredSentence
	var totalTokens int
	var qSum float64
	for _, c := range batch {
		totalTokens += c.TokenCount
		qSum += c.QValue
		sentences := sentenceSplitRE.Split(c.Content, -1)
		for i, s := range sentences {
			s = strings.TrimSpace(s)
			if len(s) < minSentenceChars {
				continue
			}
			lengthBucket := 0.5
			if len(s) >= lengthBucketChars {
				lengthBucket = 1.0
			}
			position := 1.0 / (1.0 + 0.3*float64(i))
			score := 0.3*position + 0.5*c.QValue + 0.2*lengthBucket
			scored = append(scored, scoredSentence{text: s, score: score})
		}
	}
	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if len(scored) > topSentenceCount {
		scored = scored[:topSentenceCount]
	}

	avgQ := 0.0
	if len(batch) > 0 {
		avgQ = qSum / float64(len(batch))
	}

	sentences := make([]string, len(scored))
	for i, s := range scored {
		sentences[i] = s.text
	}
	summaryText := fmt.Sprintf("[Compacted from %d memories, %d tokens] %s", len(batch), totalTokens, strings.Join(sentences, " "))

	for _, c := range batch {
		if _, err := m.index.RemoveChunk(ctx, c.ID); err != nil {
			return err
		}
	}

	id, err := m.index.AddChunk(ctx, summaryText, "compaction", chunkmodel.SourceCompactionSummary, chunkmodel.Metadata{
		"compacted_from":        chunkmodel.Int64(int64(len(batch))),
		"original_tokens":       chunkmodel.Int64(int64(totalTokens)),
		"original_source_type":  chunkmodel.String(sourceType),
		"avg_q_value":           chunkmodel.Float64(avgQ),
		"compaction_time":       chunkmodel.Int64(clock.NowMilli(m.clock)),
	})
	if err != nil {
		return err
	}
	if avgQ > 0.5 {
		if err := m.index.ProvideFeedback(ctx, []string{id}, true, 0.1); err != nil {
			return err
		}
	}

	result.SummariesMade++
	result.ChunksRemoved += len(batch)
	result.TokensRecovered += totalTokens - estimateTokenCount(summaryText)
	return nil
}

func estimateTokenCount(content string) int {
	n := len(content) / 4
	if n < 1 && len(content) > 0 {
		n = 1
	}
	return n
}

// BuildCompactedPrompt runs a compaction, then a MEMRL top-5 retrieval,
// returning the concatenated prompt described in §4.8.
func (m *Manager) BuildCompactedPrompt(ctx context.Context, query string) (string, error) {
	if _, err := m.Compact(ctx); err != nil && err != ragerrors.ErrConcurrent {
		return "", err
	}
	results := m.retriever.Retrieve(ctx, retrieval.MemRL, query, 5)
	parts := make([]string, len(results))
	for i, r := range results {
		text := r.Chunk.Content
		if len(text) > promptTruncateChars {
			text = text[:promptTruncateChars]
		}
		parts[i] = text
	}
	return fmt.Sprintf("[Compacted Context]\n%s\n\n[Query]\n%s", strings.Join(parts, "\n"), query), nil
}
