package mocks

import (
	"context"
	"sync"

	"github.com/phrazzld/maintenance-orchestrator/internal/generation"
)

// MockProvider implements generation.Provider for testing
type MockProvider struct {
	ProviderName string

	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, input string, maxOutput int) (generation.Output, error)

	// IsAvailableFn allows test cases to mock availability; nil means available
	IsAvailableFn func(ctx context.Context) bool

	// Default response values
	Output generation.Output
	Err    error

	// Call tracking for verification
	GenerateCalls struct {
		mu     sync.Mutex
		Count  int
		Inputs []string
	}
}

var _ generation.Provider = (*MockProvider)(nil)

// NewMockProvider creates a MockProvider that returns text.
func NewMockProvider(name, text string) *MockProvider {
	return &MockProvider{
		ProviderName: name,
		Output: generation.Output{
			Text:  text,
			Usage: generation.Usage{InputUnits: 10, OutputUnits: 20, CostUSD: 0.001},
		},
	}
}

// NewFailingProvider creates a MockProvider that always returns err.
func NewFailingProvider(name string, err error) *MockProvider {
	return &MockProvider{ProviderName: name, Err: err}
}

// Name implements generation.Provider
func (m *MockProvider) Name() string {
	return m.ProviderName
}

// IsAvailable implements generation.Provider
func (m *MockProvider) IsAvailable(ctx context.Context) bool {
	if m.IsAvailableFn != nil {
		return m.IsAvailableFn(ctx)
	}
	return true
}

// Generate implements generation.Provider
func (m *MockProvider) Generate(ctx context.Context, input string, maxOutput int) (generation.Output, error) {
	m.GenerateCalls.mu.Lock()
	m.GenerateCalls.Count++
	m.GenerateCalls.Inputs = append(m.GenerateCalls.Inputs, input)
	m.GenerateCalls.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, input, maxOutput)
	}
	if m.Err != nil {
		return generation.Output{}, m.Err
	}
	return m.Output, nil
}

// CallCount returns how many times Generate was called.
func (m *MockProvider) CallCount() int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	return m.GenerateCalls.Count
}

// MockGenerator implements generation.Generator for testing
type MockGenerator struct {
	// GenerateFn allows test cases to mock the Generate behavior
	GenerateFn func(ctx context.Context, input string, maxOutput int) (*generation.Result, error)

	// Default response values
	Result *generation.Result
	Err    error

	GenerateCalls struct {
		mu     sync.Mutex
		Count  int
		Inputs []string
	}
}

var _ generation.Generator = (*MockGenerator)(nil)

// Generate implements generation.Generator
func (m *MockGenerator) Generate(ctx context.Context, input string, maxOutput int) (*generation.Result, error) {
	m.GenerateCalls.mu.Lock()
	m.GenerateCalls.Count++
	m.GenerateCalls.Inputs = append(m.GenerateCalls.Inputs, input)
	m.GenerateCalls.mu.Unlock()

	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, input, maxOutput)
	}
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Result == nil {
		return &generation.Result{Text: "", Provider: "mock"}, nil
	}
	result := *m.Result
	return &result, nil
}

// CallCount returns how many times Generate was called.
func (m *MockGenerator) CallCount() int {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	return m.GenerateCalls.Count
}

// Reset resets the call tracking state
func (m *MockGenerator) Reset() {
	m.GenerateCalls.mu.Lock()
	defer m.GenerateCalls.mu.Unlock()
	m.GenerateCalls.Count = 0
	m.GenerateCalls.Inputs = nil
}
