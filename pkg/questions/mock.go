package questions

import (
	"context"
	"sync"
)

// MockClient is a mock question service client for testing
type MockClient struct {
	mu        sync.Mutex
	seeds     []Seed
	selectErr error
	markErr   error
	usedIDs   []string
	calls     int
}

// MockOption configures the mock client
type MockOption func(*MockClient)

// WithSeeds sets the questions returned by SelectBatch
func WithSeeds(seeds []Seed) MockOption {
	return func(m *MockClient) {
		m.seeds = seeds
	}
}

// WithSelectError sets an error to return from SelectBatch
func WithSelectError(err error) MockOption {
	return func(m *MockClient) {
		m.selectErr = err
	}
}

// WithMarkError sets an error to return from MarkUsed
func WithMarkError(err error) MockOption {
	return func(m *MockClient) {
		m.markErr = err
	}
}

// NewMockClient creates a mock client with the given options
func NewMockClient(opts ...MockOption) *MockClient {
	m := &MockClient{}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SelectBatch returns up to count configured seeds, skipping excluded ids
func (m *MockClient) SelectBatch(_ context.Context, _ string, exclude []string, count int) ([]Seed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.selectErr != nil {
		return nil, m.selectErr
	}

	excluded := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}

	var out []Seed
	for _, s := range m.seeds {
		if excluded[s.ID] {
			continue
		}
		out = append(out, s)
		if len(out) == count {
			break
		}
	}
	return out, nil
}

// MarkUsed records the reported ids for later inspection
func (m *MockClient) MarkUsed(_ context.Context, ids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.markErr != nil {
		return m.markErr
	}
	m.usedIDs = append(m.usedIDs, ids...)
	return nil
}

// UsedIDs returns all ids reported via MarkUsed
func (m *MockClient) UsedIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.usedIDs...)
}

// SelectCalls returns how many times SelectBatch was invoked
func (m *MockClient) SelectCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
