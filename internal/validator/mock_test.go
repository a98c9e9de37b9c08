package validator

import (
	"context"
	"errors"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/claims-cli/internal/model"
	"github.com/sells-group/claims-cli/internal/store"
)

var errPutFailed = errors.New("simulated write failure")

// mockService is a testify mock satisfying both service client interfaces.
type mockService struct {
	mock.Mock
}

func (m *mockService) Evaluate(ctx context.Context, claim *model.Claim) (*model.Verdict, error) {
	args := m.Called(ctx, claim)
	if v := args.Get(0); v != nil {
		return v.(*model.Verdict), args.Error(1)
	}
	return nil, args.Error(1)
}

// memStore is an in-memory Store for orchestrator tests.
type memStore struct {
	mu         sync.Mutex
	claims     map[string]*model.Claim
	results    map[string]*model.ValidationResult
	sessions   map[string]*model.Session
	entries    []model.CostEntry
	auditQueue map[string]model.AuditEvent

	failPutResult bool
}

func newMemStore() *memStore {
	return &memStore{
		claims:     make(map[string]*model.Claim),
		results:    make(map[string]*model.ValidationResult),
		sessions:   make(map[string]*model.Session),
		auditQueue: make(map[string]model.AuditEvent),
	}
}

func (s *memStore) PutClaim(_ context.Context, claim *model.Claim) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.claims[claim.ID] = claim
	return nil
}

func (s *memStore) GetClaim(_ context.Context, claimID string) (*model.Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.claims[claimID]; ok {
		return c, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) PutResult(_ context.Context, result *model.ValidationResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPutResult {
		return errPutFailed
	}
	if _, ok := s.results[result.ClaimID]; ok {
		return nil // write once
	}
	s.results[result.ClaimID] = result
	return nil
}

func (s *memStore) GetResult(_ context.Context, claimID string) (*model.ValidationResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.results[claimID]; ok {
		return r, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) CreateSession(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = session
	return nil
}

func (s *memStore) UpdateSession(_ context.Context, session *model.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[session.ID]; !ok {
		return store.ErrNotFound
	}
	s.sessions[session.ID] = session
	return nil
}

func (s *memStore) GetSession(_ context.Context, sessionID string) (*model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[sessionID]; ok {
		return sess, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListSessions(context.Context, int) ([]model.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Session
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out, nil
}

func (s *memStore) AppendCostEntries(_ context.Context, entries []model.CostEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entries...)
	return nil
}

func (s *memStore) ListCostEntries(_ context.Context, sessionID string) ([]model.CostEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.CostEntry
	for _, e := range s.entries {
		if e.SessionID == sessionID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *memStore) EnqueueAudit(_ context.Context, event model.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auditQueue[event.ID] = event
	return nil
}

func (s *memStore) PendingAudit(context.Context, int) ([]model.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.AuditEvent
	for _, e := range s.auditQueue {
		out = append(out, e)
	}
	return out, nil
}

func (s *memStore) DeleteAudit(_ context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.auditQueue, eventID)
	return nil
}

func (s *memStore) CountAudit(context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.auditQueue), nil
}

func (s *memStore) Migrate(context.Context) error { return nil }
func (s *memStore) Close() error                  { return nil }

// recordSink captures audit events for assertions.
type recordSink struct {
	mu     sync.Mutex
	events []model.AuditEvent
}

func (r *recordSink) Emit(_ context.Context, event model.AuditEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordSink) all() []model.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.AuditEvent, len(r.events))
	copy(out, r.events)
	return out
}
