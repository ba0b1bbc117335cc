package search

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koopa0/searchlight/internal/store"
	"github.com/koopa0/searchlight/internal/vector"
)

type fakeVectorSearcher struct {
	hits   []vector.Hit
	err    error
	called atomic.Bool
}

func (f *fakeVectorSearcher) Search(context.Context, string, []float32, int, map[string]string) ([]vector.Hit, error) {
	f.called.Store(true)
	return f.hits, f.err
}

type fakeKeywordSearcher struct {
	hits   []store.KeywordHit
	err    error
	called atomic.Bool
}

func (f *fakeKeywordSearcher) KeywordSearch(context.Context, string, int, *uuid.UUID) ([]store.KeywordHit, error) {
	f.called.Store(true)
	return f.hits, f.err
}

type fakeQueryEmbedder struct {
	vec []float32
	err error
}

func (f *fakeQueryEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	return f.vec, f.err
}

func testStrategyConfig() Config {
	return Config{VectorWeight: 0.7, TextWeight: 0.3, CandidateMultiplier: 5}
}

func vectorHit(id uuid.UUID, score float64, docID, srcID uuid.UUID) vector.Hit {
	return vector.Hit{
		ChunkID: id,
		Score:   score,
		Payload: map[string]string{
			"document_id": docID.String(),
			"source_id":   srcID.String(),
			"snippet":     "indexed snippet",
		},
	}
}

func TestSearchFusesBothBranches(t *testing.T) {
	docID, srcID := uuid.New(), uuid.New()
	shared := uuid.New()

	// Raw scores chosen so min-max normalization yields 0.8 for the shared
	// chunk in the vector branch and 0.5 in the keyword branch.
	vectors := &fakeVectorSearcher{hits: []vector.Hit{
		vectorHit(uuid.New(), 1.0, docID, srcID),
		vectorHit(shared, 0.8, docID, srcID),
		vectorHit(uuid.New(), 0.0, docID, srcID),
	}}
	keywords := &fakeKeywordSearcher{hits: []store.KeywordHit{
		{ChunkID: uuid.New(), DocumentID: docID, SourceID: srcID, Content: "top text", Rank: 1.0},
		{ChunkID: shared, DocumentID: docID, SourceID: srcID, Content: "shared chunk content", Rank: 0.5},
		{ChunkID: uuid.New(), DocumentID: docID, SourceID: srcID, Content: "bottom text", Rank: 0.0},
	}}

	strategy := New(vectors, keywords, &fakeQueryEmbedder{vec: []float32{0.1, 0.2}}, testStrategyConfig(), nil)
	resp, err := strategy.Search(context.Background(), Request{Query: "shared", Limit: 10, Mode: ModeHybrid})
	require.NoError(t, err)

	assert.True(t, vectors.called.Load())
	assert.True(t, keywords.called.Load())

	var sharedResult *Result
	for i := range resp.Results {
		if resp.Results[i].ChunkID == shared {
			sharedResult = &resp.Results[i]
		}
	}
	require.NotNil(t, sharedResult)
	assert.InDelta(t, 0.8*0.7+0.5*0.3, sharedResult.Score, 1e-9) // 0.71
	assert.Equal(t, MatchBoth, sharedResult.MatchType)
	assert.Equal(t, "shared chunk content", sharedResult.Snippet, "keyword content wins over payload snippet")
	assert.Equal(t, docID, sharedResult.DocumentID)
	assert.Equal(t, srcID, sharedResult.SourceID)
}

func TestSearchMatchTypesAndOrdering(t *testing.T) {
	docID, srcID := uuid.New(), uuid.New()
	vecOnly, textOnly := uuid.New(), uuid.New()

	vectors := &fakeVectorSearcher{hits: []vector.Hit{
		vectorHit(vecOnly, 0.9, docID, srcID),
		vectorHit(uuid.New(), 0.1, docID, srcID),
	}}
	keywords := &fakeKeywordSearcher{hits: []store.KeywordHit{
		{ChunkID: textOnly, DocumentID: docID, SourceID: srcID, Content: "text only", Rank: 0.7},
		{ChunkID: uuid.New(), DocumentID: docID, SourceID: srcID, Content: "weak", Rank: 0.1},
	}}

	strategy := New(vectors, keywords, &fakeQueryEmbedder{vec: []float32{1}}, testStrategyConfig(), nil)
	resp, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 10, Mode: ModeHybrid})
	require.NoError(t, err)

	byID := map[uuid.UUID]Result{}
	for _, r := range resp.Results {
		byID[r.ChunkID] = r
	}
	assert.Equal(t, MatchVector, byID[vecOnly].MatchType)
	assert.Equal(t, MatchText, byID[textOnly].MatchType)
	// Vector-only top hit: normalized 1.0 × 0.7 weight, no text contribution.
	assert.InDelta(t, 0.7, byID[vecOnly].Score, 1e-9)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].Score, resp.Results[i].Score, "results must be sorted by descending score")
	}
}

func TestSearchDegenerateBranchNormalizesToOne(t *testing.T) {
	docID, srcID := uuid.New(), uuid.New()
	only := uuid.New()

	vectors := &fakeVectorSearcher{hits: []vector.Hit{vectorHit(only, 0.42, docID, srcID)}}
	keywords := &fakeKeywordSearcher{}

	strategy := New(vectors, keywords, &fakeQueryEmbedder{vec: []float32{1}}, testStrategyConfig(), nil)
	resp, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 5, Mode: ModeHybrid})
	require.NoError(t, err)

	require.Len(t, resp.Results, 1)
	// Single hit normalizes to 1.0, weighted by the vector weight.
	assert.InDelta(t, 0.7, resp.Results[0].Score, 1e-9)
}

func TestSearchVectorModeSkipsKeywordBranch(t *testing.T) {
	docID, srcID := uuid.New(), uuid.New()
	vectors := &fakeVectorSearcher{hits: []vector.Hit{
		vectorHit(uuid.New(), 0.9, docID, srcID),
		vectorHit(uuid.New(), 0.2, docID, srcID),
	}}
	keywords := &fakeKeywordSearcher{}

	strategy := New(vectors, keywords, &fakeQueryEmbedder{vec: []float32{1}}, testStrategyConfig(), nil)
	resp, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 5, Mode: ModeVector})
	require.NoError(t, err)

	assert.False(t, keywords.called.Load())
	require.Len(t, resp.Results, 2)
	// Vector mode scores are the bare normalized similarities, unweighted.
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.0, resp.Results[1].Score, 1e-9)
	for _, r := range resp.Results {
		assert.Equal(t, MatchVector, r.MatchType)
	}
}

func TestSearchAutoDegradesWithoutEmbedder(t *testing.T) {
	docID, srcID := uuid.New(), uuid.New()
	vectors := &fakeVectorSearcher{}
	keywords := &fakeKeywordSearcher{hits: []store.KeywordHit{
		{ChunkID: uuid.New(), DocumentID: docID, SourceID: srcID, Content: "fallback hit", Rank: 0.4},
	}}

	strategy := New(vectors, keywords, &fakeQueryEmbedder{err: errors.New("api down")}, testStrategyConfig(), nil)
	resp, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 5, Mode: ModeAuto})
	require.NoError(t, err)

	assert.False(t, vectors.called.Load())
	require.Len(t, resp.Results, 1)
	assert.Equal(t, MatchText, resp.Results[0].MatchType)
	assert.InDelta(t, 1.0, resp.Results[0].Score, 1e-9)
}

func TestSearchHybridModeFailsWithoutEmbedder(t *testing.T) {
	strategy := New(&fakeVectorSearcher{}, &fakeKeywordSearcher{}, &fakeQueryEmbedder{err: errors.New("api down")}, testStrategyConfig(), nil)
	_, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 5, Mode: ModeHybrid})
	assert.Error(t, err)
}

func TestSearchBranchErrorPropagates(t *testing.T) {
	vectors := &fakeVectorSearcher{err: errors.New("index offline")}
	keywords := &fakeKeywordSearcher{}
	strategy := New(vectors, keywords, &fakeQueryEmbedder{vec: []float32{1}}, testStrategyConfig(), nil)

	_, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 5, Mode: ModeHybrid})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "vector branch")
}

func TestSearchRequestValidation(t *testing.T) {
	strategy := New(&fakeVectorSearcher{}, &fakeKeywordSearcher{}, &fakeQueryEmbedder{vec: []float32{1}}, testStrategyConfig(), nil)

	tests := []struct {
		name string
		req  Request
	}{
		{"empty query", Request{Query: "", Limit: 10}},
		{"zero limit", Request{Query: "q", Limit: 0}},
		{"limit too large", Request{Query: "q", Limit: MaxLimit + 1}},
		{"bad mode", Request{Query: "q", Limit: 10, Mode: "semantic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := strategy.Search(context.Background(), tt.req)
			assert.Error(t, err)
		})
	}
}

func TestSearchTruncatesToLimit(t *testing.T) {
	docID, srcID := uuid.New(), uuid.New()
	var hits []vector.Hit
	for i := range 20 {
		hits = append(hits, vectorHit(uuid.New(), float64(i)/20, docID, srcID))
	}
	strategy := New(&fakeVectorSearcher{hits: hits}, &fakeKeywordSearcher{}, &fakeQueryEmbedder{vec: []float32{1}}, testStrategyConfig(), nil)

	resp, err := strategy.Search(context.Background(), Request{Query: "q", Limit: 3, Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
}

func TestNormalize(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		out, err := normalize(nil)
		require.NoError(t, err)
		assert.Nil(t, out)
	})
	t.Run("spread", func(t *testing.T) {
		out, err := normalize([]float64{0.2, 0.6, 1.0})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, out[0], 1e-9)
		assert.InDelta(t, 0.5, out[1], 1e-9)
		assert.InDelta(t, 1.0, out[2], 1e-9)
	})
	t.Run("all equal", func(t *testing.T) {
		out, err := normalize([]float64{0.3, 0.3, 0.3})
		require.NoError(t, err)
		for _, v := range out {
			assert.Equal(t, 1.0, v)
		}
	})
	t.Run("negative ranks still land in range", func(t *testing.T) {
		out, err := normalize([]float64{-2, -1, 0})
		require.NoError(t, err)
		assert.InDelta(t, 0.0, out[0], 1e-9)
		assert.InDelta(t, 1.0, out[2], 1e-9)
	})
}
