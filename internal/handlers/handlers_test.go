package handlers

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/dreamimg/backend/internal/cache"
	"github.com/dreamimg/backend/internal/generation"
	"github.com/dreamimg/backend/internal/providers"
	"github.com/dreamimg/backend/internal/validation"
)

// ---------------------------------------------------------------------------
// Shared mocks
// ---------------------------------------------------------------------------

func schemasDir(t *testing.T) string {
	t.Helper()
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas")
}

func newValidator(t *testing.T) *validation.Validator {
	t.Helper()
	v, err := validation.NewValidator(schemasDir(t))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

// --- Generator mock ---

type mockGenerator struct {
	mu        sync.Mutex
	calls     int
	lastInput generation.GenerateInput
	batch     *generation.Batch
	handle    *generation.JobHandle
	view      *generation.JobView
	err       error
	costs     map[providers.Kind]int
}

func (m *mockGenerator) Generate(_ context.Context, in generation.GenerateInput) (*generation.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.lastInput = in
	if m.err != nil {
		return nil, m.err
	}
	return m.batch, nil
}

func (m *mockGenerator) SubmitDeferred(_ context.Context, _ providers.Kind, _ generation.Request) (*generation.JobHandle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.handle, nil
}

func (m *mockGenerator) PollOnce(_ context.Context, h *generation.JobHandle) (*generation.JobView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	v := *m.view
	v.Provider, v.JobID = h.Provider, h.JobID
	return &v, nil
}

func (m *mockGenerator) Cost(kind providers.Kind) int { return m.costs[kind] }

// --- TokenVerifier mock ---

type mockTurnstile struct{ err error }

func (m mockTurnstile) Verify(context.Context, string, string) error { return m.err }

// --- HandleStore mock ---

type mockHandles struct {
	mu     sync.Mutex
	owners map[string]string
	err    error
}

func newMockHandles() *mockHandles { return &mockHandles{owners: make(map[string]string)} }

func (m *mockHandles) Put(_ context.Context, provider, jobID, owner string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.owners[provider+"/"+jobID] = owner
	return nil
}

func (m *mockHandles) Owner(_ context.Context, provider, jobID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	owner, ok := m.owners[provider+"/"+jobID]
	if !ok {
		return "", cache.ErrHandleNotFound
	}
	return owner, nil
}

// --- Provider stub for the registry ---

type stubProvider struct {
	kind providers.Kind
	paid bool
}

func (s stubProvider) Kind() providers.Kind { return s.kind }
func (s stubProvider) Paid() bool           { return s.paid }
func (s stubProvider) Submit(context.Context, providers.Request) (*providers.Submission, error) {
	return &providers.Submission{}, nil
}
func (s stubProvider) Poll(context.Context, string) (*providers.Status, error) {
	return &providers.Status{}, nil
}
func (s stubProvider) PollPolicy() providers.PollPolicy { return providers.PollPolicy{} }

func newGenerationHandler(t *testing.T, gen *mockGenerator, ts mockTurnstile, handles *mockHandles) *GenerationHandler {
	t.Helper()
	return &GenerationHandler{
		Generator: gen,
		Providers: providers.NewRegistry(
			stubProvider{kind: providers.KindFireworks, paid: true},
			stubProvider{kind: providers.KindHorde},
		),
		Turnstile: ts,
		Handles:   handles,
		Validator: newValidator(t),
	}
}

func ptrUUID(id uuid.UUID) *uuid.UUID { return &id }
