package memory

import (
	"context" // request-scoped context, unused by memory but part of the port
	"fmt"
	"sync" // concurrency primitives

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/session"
)

// committedRecord is a record tagged with the commit sequence that made it visible
type committedRecord struct {
	record models.TransactionRecord
	seq    uint64
}

// MemoryLedgerStore is an in-memory implementation of interfaces.LedgerStore.
//
// Sessions read a snapshot taken at Start and buffer their writes until Commit.
// Commit fails with models.ErrConflict if any account the session read or wrote
// was committed by another session after that snapshot (first committer wins),
// which keeps check-then-debit atomic per account.
type MemoryLedgerStore struct {
	mu         sync.Mutex                   // protects every field below
	records    []committedRecord            // append-only, ordered by seq
	seq        uint64                       // last commit sequence
	lastCommit map[string]uint64            // account id -> seq of its latest commit
	byAccount  map[string][]committedRecord // index for aggregate reads
	closed     bool
}

// NewMemoryLedgerStore creates an empty store
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		records:    make([]committedRecord, 0),
		lastCommit: make(map[string]uint64),
		byAccount:  make(map[string][]committedRecord),
	}
}

type memorySession struct {
	state    session.State
	store    *MemoryLedgerStore
	snapshot uint64              // store.seq when the session started
	touched  map[string]struct{} // accounts read or written
	pending  []models.TransactionRecord
}

func (m *MemoryLedgerStore) NewSession(ctx context.Context) (interfaces.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, models.ErrStoreClosed
	}
	return &memorySession{
		store:   m,
		touched: make(map[string]struct{}),
	}, nil
}

func errAccountChanged(accountID string) error {
	return fmt.Errorf("account %s changed since snapshot", accountID)
}

func (s *memorySession) Start(ctx context.Context) error {
	if err := s.state.BeginStart(); err != nil {
		return err
	}

	s.store.mu.Lock()
	defer s.store.mu.Unlock()

	if s.store.closed {
		s.state.RevertStart()
		return models.ErrStoreClosed
	}
	s.snapshot = s.store.seq
	return nil
}

func (s *memorySession) Commit(ctx context.Context) error {
	if err := s.state.BeginCommit(); err != nil {
		return err
	}

	m := s.store
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.ErrStoreClosed
	}

	// read-only sessions are consistent at their snapshot
	if len(s.pending) == 0 {
		return nil
	}

	for accountID := range s.touched {
		if m.lastCommit[accountID] > s.snapshot {
			s.pending = nil
			return models.ConflictError("memory commit", errAccountChanged(accountID))
		}
	}

	m.seq++
	for _, r := range s.pending {
		cr := committedRecord{record: r, seq: m.seq}
		m.records = append(m.records, cr)
		m.byAccount[r.AccountID] = append(m.byAccount[r.AccountID], cr)
		m.lastCommit[r.AccountID] = m.seq
	}
	s.pending = nil
	return nil
}

func (s *memorySession) Abort(ctx context.Context) error {
	rollback, err := s.state.BeginAbort()
	if err != nil {
		return err
	}
	if rollback {
		s.pending = nil
	}
	return nil
}

func (s *memorySession) End(ctx context.Context) error {
	if first, _ := s.state.End(); first {
		s.pending = nil
		s.touched = nil
	}
	return nil
}

func (m *MemoryLedgerStore) session(sess interfaces.Session) (*memorySession, error) {
	ms, ok := sess.(*memorySession)
	if !ok || ms == nil {
		return nil, models.ErrForeignSession
	}
	if ms.store != m {
		return nil, models.ErrForeignSession
	}
	if err := ms.state.CheckActive(); err != nil {
		return nil, err
	}
	return ms, nil
}

// Insert buffers the record in the session; it becomes visible to others on Commit
func (m *MemoryLedgerStore) Insert(ctx context.Context, sess interfaces.Session, record models.TransactionRecord) error {
	ms, err := m.session(sess)
	if err != nil {
		return err
	}
	if record.Amount.IsNegative() || !record.Operation.Valid() {
		return models.ErrInvalidAmount
	}

	ms.touched[record.AccountID] = struct{}{}
	ms.pending = append(ms.pending, record)
	return nil
}

// GetAggregateBalance sums the records visible at the session snapshot plus the
// session's own uncommitted writes.
func (m *MemoryLedgerStore) GetAggregateBalance(ctx context.Context, sess interfaces.Session, accountID string) (decimal.Decimal, error) {
	ms, err := m.session(sess)
	if err != nil {
		return decimal.Zero, err
	}

	totals := make(map[models.Operation]decimal.Decimal, 2)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return decimal.Zero, models.ErrStoreClosed
	}
	for _, cr := range m.byAccount[accountID] {
		if cr.seq > ms.snapshot {
			break
		}
		totals[cr.record.Operation] = totals[cr.record.Operation].Add(cr.record.Amount)
	}
	m.mu.Unlock()

	for _, r := range ms.pending {
		if r.AccountID == accountID {
			totals[r.Operation] = totals[r.Operation].Add(r.Amount)
		}
	}

	ms.touched[accountID] = struct{}{}
	return models.BalanceFromTotals(totals), nil
}

// Records returns a copy of every committed record, oldest first.
// Useful for tests and debugging.
func (m *MemoryLedgerStore) Records() []models.TransactionRecord {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := make([]models.TransactionRecord, len(m.records))
	for i, cr := range m.records {
		copied[i] = cr.record
	}
	return copied
}

func (m *MemoryLedgerStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return models.ErrStoreClosed
	}
	return nil
}

// Close makes every later call fail. Committed records are kept for inspection.
func (m *MemoryLedgerStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	return nil
}

// Compile-time check: ensure MemoryLedgerStore implements LedgerStore interface
var _ interfaces.LedgerStore = (*MemoryLedgerStore)(nil)
