package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/storage/memory"
)

// faultyStore wraps the memory store, counts session lifecycle calls and
// injects failures.
type faultyStore struct {
	*memory.MemoryLedgerStore

	mu             sync.Mutex
	newSessionErr  error
	insertErr      error
	commitErrs     []error // consumed one per commit, nil passes through
	alwaysConflict bool
	abortErr       error
	endErr         error

	sessions int
	inserts  int
	commits  int
	aborts   int
	ends     int
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryLedgerStore: memory.NewMemoryLedgerStore()}
}

type faultySession struct {
	inner interfaces.Session
	store *faultyStore
}

var errInjectedConflict = models.ConflictError("commit", errors.New("could not serialize access"))

func (f *faultyStore) NewSession(ctx context.Context) (interfaces.Session, error) {
	f.mu.Lock()
	err := f.newSessionErr
	if err == nil {
		f.sessions++
	}
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}

	inner, err := f.MemoryLedgerStore.NewSession(ctx)
	if err != nil {
		return nil, err
	}
	return &faultySession{inner: inner, store: f}, nil
}

func (f *faultyStore) unwrap(sess interfaces.Session) interfaces.Session {
	if fs, ok := sess.(*faultySession); ok {
		return fs.inner
	}
	return sess
}

func (f *faultyStore) Insert(ctx context.Context, sess interfaces.Session, record models.TransactionRecord) error {
	f.mu.Lock()
	f.inserts++
	err := f.insertErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	return f.MemoryLedgerStore.Insert(ctx, f.unwrap(sess), record)
}

func (f *faultyStore) GetAggregateBalance(ctx context.Context, sess interfaces.Session, accountID string) (decimal.Decimal, error) {
	return f.MemoryLedgerStore.GetAggregateBalance(ctx, f.unwrap(sess), accountID)
}

func (s *faultySession) Start(ctx context.Context) error {
	return s.inner.Start(ctx)
}

func (s *faultySession) Commit(ctx context.Context) error {
	f := s.store
	f.mu.Lock()
	f.commits++
	var injected error
	if f.alwaysConflict {
		injected = errInjectedConflict
	} else if len(f.commitErrs) > 0 {
		injected = f.commitErrs[0]
		f.commitErrs = f.commitErrs[1:]
	}
	f.mu.Unlock()

	if injected != nil {
		_ = s.inner.Abort(ctx)
		return injected
	}
	return s.inner.Commit(ctx)
}

func (s *faultySession) Abort(ctx context.Context) error {
	f := s.store
	f.mu.Lock()
	f.aborts++
	err := f.abortErr
	f.mu.Unlock()

	if innerErr := s.inner.Abort(ctx); innerErr != nil {
		return innerErr
	}
	return err
}

func (s *faultySession) End(ctx context.Context) error {
	f := s.store
	f.mu.Lock()
	f.ends++
	err := f.endErr
	f.mu.Unlock()

	if innerErr := s.inner.End(ctx); innerErr != nil {
		return innerErr
	}
	return err
}

func (f *faultyStore) counts() (sessions, inserts, commits, aborts, ends int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessions, f.inserts, f.commits, f.aborts, f.ends
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	err    error
	topics []string
	keys   []string
	events []any
}

func (p *recordingPublisher) Publish(ctx context.Context, topic string, key string, event any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.topics = append(p.topics, topic)
	p.keys = append(p.keys, key)
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }
