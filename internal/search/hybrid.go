// Package search answers queries by fusing vector similarity and keyword
// full-text results. The two branches run concurrently, their scores are
// normalized to [0,1] per branch, and the final score is a weighted sum.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/koopa0/searchlight/internal/store"
	"github.com/koopa0/searchlight/internal/vector"
)

// Search modes. Auto behaves as hybrid but degrades to keyword-only when the
// query cannot be embedded instead of failing the request.
const (
	ModeVector = "vector"
	ModeHybrid = "hybrid"
	ModeAuto   = "auto"
)

// Match type values on a result.
const (
	MatchVector = "vector"
	MatchText   = "text"
	MatchBoth   = "both"
)

const (
	// MaxLimit caps how many results one query may request.
	MaxLimit = 100

	// dominanceWarnRatio triggers a log warning when one branch contributes
	// more than this share of the fused results; a skew this strong usually
	// means the other branch is misconfigured or its index is empty.
	dominanceWarnRatio = 0.8
)

// ErrScoreOutOfRange reports a normalized score outside [0,1]. This is a
// correctness failure in the normalization math, never a data problem, so it
// aborts the query rather than returning silently misranked results.
var ErrScoreOutOfRange = errors.New("normalized score out of range")

// ErrEmbedderUnavailable marks a query that needed an embedding but could not
// get one.
var ErrEmbedderUnavailable = errors.New("query embedding unavailable")

// VectorSearcher is the nearest-neighbor branch.
type VectorSearcher interface {
	Search(ctx context.Context, collection string, queryVector []float32, limit int, filter map[string]string) ([]vector.Hit, error)
}

// KeywordSearcher is the full-text branch.
type KeywordSearcher interface {
	KeywordSearch(ctx context.Context, query string, limit int, sourceID *uuid.UUID) ([]store.KeywordHit, error)
}

// QueryEmbedder embeds the query text. A (nil, nil) return means the embedder
// declined (blank text) and auto mode may degrade.
type QueryEmbedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

// Request is one search query.
type Request struct {
	Query    string
	Limit    int
	SourceID *uuid.UUID
	Mode     string
}

// Result is one fused search hit.
type Result struct {
	ChunkID    uuid.UUID `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	SourceID   uuid.UUID `json:"source_id"`
	Snippet    string    `json:"text_snippet"`
	Score      float64   `json:"score"`
	MatchType  string    `json:"match_type"`
}

// Response carries the results plus how the query was actually executed.
type Response struct {
	Results   []Result      `json:"results"`
	Mode      string        `json:"mode"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMS int64         `json:"elapsed_ms"`
}

// Config holds the fusion weights and candidate sizing. Weight validity
// (non-negative, summing to 1.0) is enforced at configuration load.
type Config struct {
	VectorWeight        float64
	TextWeight          float64
	CandidateMultiplier int
	LatencyWarn         time.Duration
	Collection          string
}

// Strategy executes hybrid searches.
type Strategy struct {
	vectors  VectorSearcher
	keywords KeywordSearcher
	embedder QueryEmbedder
	cfg      Config
	logger   *slog.Logger
}

// New creates a search strategy.
func New(vectors VectorSearcher, keywords KeywordSearcher, embedder QueryEmbedder, cfg Config, logger *slog.Logger) *Strategy {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 5
	}
	if cfg.Collection == "" {
		cfg.Collection = vector.DefaultCollection
	}
	return &Strategy{
		vectors:  vectors,
		keywords: keywords,
		embedder: embedder,
		cfg:      cfg,
		logger:   logger,
	}
}

// fused accumulates one chunk's contribution from both branches.
type fused struct {
	documentID  uuid.UUID
	sourceID    uuid.UUID
	snippet     string
	vectorScore float64
	textScore   float64
	inVector    bool
	inText      bool
}

// Search runs one query. Both branches fetch limit × CandidateMultiplier
// candidates so a chunk ranked low in one branch can still surface when the
// other branch loves it.
func (s *Strategy) Search(ctx context.Context, req Request) (*Response, error) {
	if req.Query == "" {
		return nil, errors.New("query must not be empty")
	}
	if req.Limit <= 0 || req.Limit > MaxLimit {
		return nil, fmt.Errorf("limit must be in [1, %d], got %d", MaxLimit, req.Limit)
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if mode != ModeVector && mode != ModeHybrid && mode != ModeAuto {
		return nil, fmt.Errorf("unknown search mode %q", mode)
	}

	start := time.Now()

	queryVector, err := s.embedder.EmbedText(ctx, req.Query)
	if err != nil || queryVector == nil {
		if err == nil {
			err = ErrEmbedderUnavailable
		}
		if mode == ModeAuto {
			// Degrade rather than fail: keyword results beat no results.
			s.logger.Warn("query embedding failed, degrading to keyword-only search", "error", err)
			return s.keywordOnly(ctx, req, start)
		}
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	candidates := req.Limit * s.cfg.CandidateMultiplier

	var (
		vectorHits  []vector.Hit
		keywordHits []store.KeywordHit
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		vectorHits, err = s.vectors.Search(gctx, s.cfg.Collection, queryVector, candidates, s.payloadFilter(req.SourceID))
		if err != nil {
			return fmt.Errorf("vector branch: %w", err)
		}
		return nil
	})
	if mode != ModeVector {
		g.Go(func() error {
			var err error
			keywordHits, err = s.keywords.KeywordSearch(gctx, req.Query, candidates, req.SourceID)
			if err != nil {
				return fmt.Errorf("keyword branch: %w", err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	results, err := s.fuse(mode, vectorHits, keywordHits, req.Limit)
	if err != nil {
		return nil, err
	}

	elapsed := time.Since(start)
	s.observe(results, mode, elapsed)
	return &Response{Results: results, Mode: mode, Elapsed: elapsed, ElapsedMS: elapsed.Milliseconds()}, nil
}

// fuse normalizes each branch and combines scores. In vector mode the vector
// score stands alone; in hybrid modes the weighted sum applies.
func (s *Strategy) fuse(mode string, vectorHits []vector.Hit, keywordHits []store.KeywordHit, limit int) ([]Result, error) {
	vectorNorm, err := normalize(scoresOf(vectorHits, func(h vector.Hit) float64 { return h.Score }))
	if err != nil {
		return nil, fmt.Errorf("vector branch: %w", err)
	}
	keywordNorm, err := normalize(scoresOf(keywordHits, func(h store.KeywordHit) float64 { return h.Rank }))
	if err != nil {
		return nil, fmt.Errorf("keyword branch: %w", err)
	}

	merged := map[uuid.UUID]*fused{}
	for i, hit := range vectorHits {
		merged[hit.ChunkID] = &fused{
			documentID:  parsePayloadID(hit.Payload, "document_id"),
			sourceID:    parsePayloadID(hit.Payload, "source_id"),
			snippet:     hit.Payload["snippet"],
			vectorScore: vectorNorm[i],
			inVector:    true,
		}
	}
	for i, hit := range keywordHits {
		entry, ok := merged[hit.ChunkID]
		if !ok {
			entry = &fused{documentID: hit.DocumentID, sourceID: hit.SourceID}
			merged[hit.ChunkID] = entry
		}
		entry.inText = true
		entry.textScore = keywordNorm[i]
		// Keyword rows carry the full chunk content; prefer it over the
		// payload snippet.
		entry.snippet = snippetOf(hit.Content)
	}

	results := make([]Result, 0, len(merged))
	for chunkID, entry := range merged {
		var score float64
		switch {
		case mode == ModeVector:
			score = entry.vectorScore
		default:
			score = entry.vectorScore*s.cfg.VectorWeight + entry.textScore*s.cfg.TextWeight
		}
		results = append(results, Result{
			ChunkID:    chunkID,
			DocumentID: entry.documentID,
			SourceID:   entry.sourceID,
			Snippet:    entry.snippet,
			Score:      score,
			MatchType:  matchType(entry),
		})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID.String() < results[j].ChunkID.String()
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// keywordOnly serves an auto-mode query whose embedding failed. Scores are
// normalized keyword ranks with full weight.
func (s *Strategy) keywordOnly(ctx context.Context, req Request, start time.Time) (*Response, error) {
	hits, err := s.keywords.KeywordSearch(ctx, req.Query, req.Limit, req.SourceID)
	if err != nil {
		return nil, fmt.Errorf("keyword branch: %w", err)
	}
	norm, err := normalize(scoresOf(hits, func(h store.KeywordHit) float64 { return h.Rank }))
	if err != nil {
		return nil, fmt.Errorf("keyword branch: %w", err)
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			ChunkID:    hit.ChunkID,
			DocumentID: hit.DocumentID,
			SourceID:   hit.SourceID,
			Snippet:    snippetOf(hit.Content),
			Score:      norm[i],
			MatchType:  MatchText,
		}
	}

	elapsed := time.Since(start)
	s.observe(results, ModeAuto, elapsed)
	return &Response{Results: results, Mode: ModeAuto, Elapsed: elapsed, ElapsedMS: elapsed.Milliseconds()}, nil
}

// observe logs the per-query telemetry: latency and the vector/text/both
// distribution of the returned results.
func (s *Strategy) observe(results []Result, mode string, elapsed time.Duration) {
	var nVector, nText, nBoth int
	for _, r := range results {
		switch r.MatchType {
		case MatchVector:
			nVector++
		case MatchText:
			nText++
		case MatchBoth:
			nBoth++
		}
	}

	s.logger.Info("search executed",
		"mode", mode,
		"results", len(results),
		"vector_only", nVector,
		"text_only", nText,
		"both", nBoth,
		"elapsed_ms", elapsed.Milliseconds())

	if total := len(results); total > 0 && mode != ModeVector {
		if ratio := float64(nVector) / float64(total); ratio > dominanceWarnRatio {
			s.logger.Warn("vector branch dominating results", "ratio", ratio)
		} else if ratio := float64(nText) / float64(total); ratio > dominanceWarnRatio {
			s.logger.Warn("keyword branch dominating results", "ratio", ratio)
		}
	}
	if s.cfg.LatencyWarn > 0 && elapsed > s.cfg.LatencyWarn {
		s.logger.Warn("slow search", "elapsed_ms", elapsed.Milliseconds(), "threshold_ms", s.cfg.LatencyWarn.Milliseconds())
	}
}

func (s *Strategy) payloadFilter(sourceID *uuid.UUID) map[string]string {
	if sourceID == nil {
		return nil
	}
	return map[string]string{"source_id": sourceID.String()}
}

// normalize min-max scales scores into [0,1]. A degenerate branch where every
// score is equal (including a single hit) maps everything to 1.0 so the
// branch still contributes its full weight. Out-of-range outputs are treated
// as a bug, not clamped.
func normalize(scores []float64) ([]float64, error) {
	if len(scores) == 0 {
		return nil, nil
	}
	minScore, maxScore := scores[0], scores[0]
	for _, v := range scores[1:] {
		if v < minScore {
			minScore = v
		}
		if v > maxScore {
			maxScore = v
		}
	}

	out := make([]float64, len(scores))
	if maxScore == minScore {
		for i := range out {
			out[i] = 1.0
		}
		return out, nil
	}
	span := maxScore - minScore
	for i, v := range scores {
		n := (v - minScore) / span
		if n < 0 || n > 1 {
			return nil, fmt.Errorf("%w: %f from raw %f", ErrScoreOutOfRange, n, v)
		}
		out[i] = n
	}
	return out, nil
}

func scoresOf[T any](hits []T, score func(T) float64) []float64 {
	if len(hits) == 0 {
		return nil
	}
	out := make([]float64, len(hits))
	for i, h := range hits {
		out[i] = score(h)
	}
	return out
}

func matchType(entry *fused) string {
	switch {
	case entry.inVector && entry.inText:
		return MatchBoth
	case entry.inVector:
		return MatchVector
	default:
		return MatchText
	}
}

func parsePayloadID(payload map[string]string, key string) uuid.UUID {
	id, err := uuid.Parse(payload[key])
	if err != nil {
		return uuid.Nil
	}
	return id
}

// snippetOf truncates keyword-hit content to snippet size on a rune boundary.
func snippetOf(content string) string {
	const max = 300
	if len(content) <= max {
		return content
	}
	remaining := max
	for i := range content {
		if remaining == 0 {
			return content[:i]
		}
		remaining--
	}
	return content
}
