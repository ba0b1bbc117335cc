package testutil

import (
	"context"
	"hash/fnv"
	"sync"
)

// FakeEmbedder produces deterministic vectors derived from the input text, so
// the same text always embeds to the same vector without any network call.
// Failures can be injected per call or per text.
type FakeEmbedder struct {
	Dimension int

	mu        sync.Mutex
	calls     int
	failCalls map[int]error  // 1-based call number -> error
	failTexts map[string]error
}

// NewFakeEmbedder creates a fake embedder producing vectors of the given
// dimension.
func NewFakeEmbedder(dimension int) *FakeEmbedder {
	return &FakeEmbedder{
		Dimension: dimension,
		failCalls: map[int]error{},
		failTexts: map[string]error{},
	}
}

// FailCall makes the nth call (1-based) return err.
func (f *FakeEmbedder) FailCall(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failCalls[n] = err
}

// FailText makes any call containing text return err.
func (f *FakeEmbedder) FailText(text string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failTexts[text] = err
}

// Calls reports how many times Embed was invoked.
func (f *FakeEmbedder) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// Embed returns one deterministic vector per text, in order.
func (f *FakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	callErr := f.failCalls[call]
	var textErr error
	for _, t := range texts {
		if err, ok := f.failTexts[t]; ok {
			textErr = err
			break
		}
	}
	f.mu.Unlock()

	if callErr != nil {
		return nil, callErr
	}
	if textErr != nil {
		return nil, textErr
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = f.Vector(t)
	}
	return out, nil
}

// Vector returns the deterministic embedding for one text.
func (f *FakeEmbedder) Vector(text string) []float32 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	seed := h.Sum64()

	vec := make([]float32, f.Dimension)
	for i := range vec {
		seed = seed*6364136223846793005 + 1442695040888963407
		// Keep components in (0, 1]; a vector is never all zeros.
		vec[i] = float32(seed%1000+1) / 1000.0
	}
	return vec
}
