package embedding

import (
	"context"
	"math"
	"sync"
)

// MockProvider is a deterministic provider for tests and offline use. It returns a
// fixed-dimension vector derived from the text hash so that the same text always
// gets the same embedding.
type MockProvider struct {
	dimensions int
	identity   ProviderIdentity
	maxRunes   int

	mu     sync.Mutex
	fixed  map[string][]float32
	fail   func(text string, call int) error
	calls  int
	inputs []string
	closed bool
}

// NewMockProvider returns a provider that produces deterministic embeddings of the given dimensions.
func NewMockProvider(dimensions int) *MockProvider {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockProvider{
		dimensions: dimensions,
		identity:   ProviderIdentity{Name: "mock", Version: "1"},
		fixed:      make(map[string][]float32),
	}
}

// WithIdentity sets the reported identity.
func (p *MockProvider) WithIdentity(name, version string) *MockProvider {
	p.identity = ProviderIdentity{Name: name, Version: version}
	return p
}

// WithMaxRunes makes inputs longer than n runes fail with a TooLongError.
func (p *MockProvider) WithMaxRunes(n int) *MockProvider {
	p.maxRunes = n
	return p
}

// SetVector pins the embedding returned for text.
func (p *MockProvider) SetVector(text string, vec []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fixed[text] = vec
}

// SetFailure installs fn, called with the input and the 1-based call number; a non-nil result is returned as the error.
func (p *MockProvider) SetFailure(fn func(text string, call int) error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = fn
}

// Calls returns how many times Embed was called.
func (p *MockProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Inputs returns every text passed to Embed, in call order.
func (p *MockProvider) Inputs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.inputs...)
}

// Embed returns a deterministic embedding based on the text hash.
func (p *MockProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.calls++
	p.inputs = append(p.inputs, text)
	call, fail, fixed := p.calls, p.fail, p.fixed[text]
	p.mu.Unlock()

	if fail != nil {
		if err := fail(text, call); err != nil {
			return nil, err
		}
	}
	if n := len([]rune(text)); p.maxRunes > 0 && n > p.maxRunes {
		return nil, &TooLongError{Limit: p.maxRunes, Actual: n}
	}
	if fixed != nil {
		return append([]float32(nil), fixed...), nil
	}

	h := hashString(text)
	emb := make([]float32, p.dimensions)
	for i := 0; i < p.dimensions; i++ {
		emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
	}
	return emb, nil
}

// Identity returns the configured identity.
func (p *MockProvider) Identity() ProviderIdentity {
	return p.identity
}

// Close marks the provider closed.
func (p *MockProvider) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return nil
}

func hashString(s string) int {
	h := 0
	for _, c := range s {
		h = 31*h + int(c)
	}
	if h < 0 {
		h = -h
	}
	return h
}
