package neo4j

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/shopspring/decimal"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/session"
)

var ErrMissingURI = errors.New("neo4j uri cannot be empty")

type Config struct {
	URI            string
	Username       string
	Password       string
	Database       string
	MaxConnections int
}

func DefaultConfig() Config {
	return Config{
		URI:            "neo4j://localhost:7687",
		Username:       "neo4j",
		Database:       "neo4j",
		MaxConnections: 10,
	}
}

// Neo4jLedgerStore stores each record as a Transaction node linked from its
// Account node. Amounts are kept as decimal strings and summed client side
// because Cypher has no exact decimal type.
//
// Transactions run at read committed, so both the balance read and the insert
// write to the Account node first. The write lock is held until commit, which
// serializes check-then-debit per account.
type Neo4jLedgerStore struct {
	driver   neo4j.DriverWithContext
	database string

	mu     sync.RWMutex
	closed bool
}

func NewNeo4jLedgerStore(driver neo4j.DriverWithContext, database string) *Neo4jLedgerStore {
	return &Neo4jLedgerStore{
		driver:   driver,
		database: database,
	}
}

// Open creates the driver and verifies it can reach the server.
func Open(ctx context.Context, cfg Config) (*Neo4jLedgerStore, error) {
	if cfg.URI == "" {
		return nil, models.StorageError("open neo4j", ErrMissingURI)
	}

	auth := neo4j.NoAuth()
	if cfg.Username != "" {
		auth = neo4j.BasicAuth(cfg.Username, cfg.Password, "")
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, auth, func(c *neo4j.Config) {
		if cfg.MaxConnections > 0 {
			c.MaxConnectionPoolSize = cfg.MaxConnections
		}
	})
	if err != nil {
		return nil, models.StorageError("create neo4j driver", err)
	}

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(context.WithoutCancel(ctx))
		return nil, mapError("verify connectivity", err)
	}

	return NewNeo4jLedgerStore(driver, cfg.Database), nil
}

var schema = []string{
	`CREATE CONSTRAINT account_id IF NOT EXISTS FOR (a:Account) REQUIRE a.id IS UNIQUE`,
	`CREATE CONSTRAINT transaction_id IF NOT EXISTS FOR (t:Transaction) REQUIRE t.id IS UNIQUE`,
}

// EnsureSchema creates the uniqueness constraints. The account constraint
// also makes MERGE on Account safe under concurrency.
func (n *Neo4jLedgerStore) EnsureSchema(ctx context.Context) error {
	sess := n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer sess.Close(ctx)

	for _, cypher := range schema {
		res, err := sess.Run(ctx, cypher, nil)
		if err != nil {
			return mapError("ensure schema", err)
		}
		if _, err := res.Consume(ctx); err != nil {
			return mapError("ensure schema", err)
		}
	}
	return nil
}

type neo4jSession struct {
	state   session.State
	store   *Neo4jLedgerStore
	session neo4j.SessionWithContext
	tx      neo4j.ExplicitTransaction
}

func (n *Neo4jLedgerStore) NewSession(ctx context.Context) (interfaces.Session, error) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return nil, models.ErrStoreClosed
	}

	sess := n.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: n.database,
		AccessMode:   neo4j.AccessModeWrite,
	})
	return &neo4jSession{store: n, session: sess}, nil
}

func (s *neo4jSession) Start(ctx context.Context) error {
	if err := s.state.BeginStart(); err != nil {
		return err
	}

	tx, err := s.session.BeginTransaction(ctx)
	if err != nil {
		s.state.RevertStart()
		return mapError("begin", err)
	}
	s.tx = tx
	return nil
}

func (s *neo4jSession) Commit(ctx context.Context) error {
	if err := s.state.BeginCommit(); err != nil {
		return err
	}
	return mapError("commit", s.tx.Commit(ctx))
}

func (s *neo4jSession) Abort(ctx context.Context) error {
	rollback, err := s.state.BeginAbort()
	if err != nil || !rollback {
		return err
	}
	return mapError("abort", s.tx.Rollback(ctx))
}

func (s *neo4jSession) End(ctx context.Context) error {
	first, open := s.state.End()
	if !first {
		return nil
	}

	var err error
	if open && s.tx != nil {
		err = mapError("end", s.tx.Rollback(ctx))
	}
	if s.session != nil {
		if closeErr := s.session.Close(ctx); closeErr != nil && err == nil {
			err = mapError("end", closeErr)
		}
	}
	return err
}

func (n *Neo4jLedgerStore) session(sess interfaces.Session) (*neo4jSession, error) {
	ns, ok := sess.(*neo4jSession)
	if !ok || ns == nil || ns.store != n {
		return nil, models.ErrForeignSession
	}
	if err := ns.state.CheckActive(); err != nil {
		return nil, err
	}
	return ns, nil
}

const insertCypher = `
MERGE (a:Account {id: $accountId})
SET a.version = coalesce(a.version, 0) + 1
CREATE (a)-[:RECORDED]->(:Transaction {
	id: $id,
	accountId: $accountId,
	amount: $amount,
	operation: $operation,
	createdAt: $createdAt
})`

func (n *Neo4jLedgerStore) Insert(ctx context.Context, sess interfaces.Session, record models.TransactionRecord) error {
	ns, err := n.session(sess)
	if err != nil {
		return err
	}
	if record.Amount.IsNegative() || !record.Operation.Valid() {
		return models.ErrInvalidAmount
	}

	res, err := ns.tx.Run(ctx, insertCypher, map[string]any{
		"id":        record.ID,
		"accountId": record.AccountID,
		"amount":    record.Amount.String(),
		"operation": record.Operation.String(),
		"createdAt": record.CreatedAt.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return mapError("insert", err)
	}
	_, err = res.Consume(ctx)
	return mapError("insert", err)
}

// The SET takes the account's write lock before the records are read.
const balanceCypher = `
MERGE (a:Account {id: $accountId})
SET a.lockedAt = timestamp()
WITH a
OPTIONAL MATCH (a)-[:RECORDED]->(t:Transaction)
RETURN t.operation AS operation, collect(t.amount) AS amounts`

func (n *Neo4jLedgerStore) GetAggregateBalance(ctx context.Context, sess interfaces.Session, accountID string) (decimal.Decimal, error) {
	ns, err := n.session(sess)
	if err != nil {
		return decimal.Zero, err
	}

	res, err := ns.tx.Run(ctx, balanceCypher, map[string]any{"accountId": accountID})
	if err != nil {
		return decimal.Zero, mapError("aggregate balance", err)
	}
	records, err := res.Collect(ctx)
	if err != nil {
		return decimal.Zero, mapError("aggregate balance", err)
	}

	totals := make(map[models.Operation]decimal.Decimal, 2)
	for _, rec := range records {
		rawOp, _ := rec.Get("operation")
		if rawOp == nil {
			continue // account without records
		}
		rawAmounts, _ := rec.Get("amounts")

		op, total, err := sumOperation(rawOp, rawAmounts)
		if err != nil {
			return decimal.Zero, models.StorageError("aggregate balance", err)
		}
		totals[op] = totals[op].Add(total)
	}
	return models.BalanceFromTotals(totals), nil
}

// sumOperation folds one grouped row into an operation and its total
func sumOperation(rawOp any, rawAmounts any) (models.Operation, decimal.Decimal, error) {
	opString, ok := rawOp.(string)
	if !ok {
		return "", decimal.Zero, fmt.Errorf("unexpected operation value %T", rawOp)
	}
	op, err := models.ParseOperation(opString)
	if err != nil {
		return "", decimal.Zero, err
	}

	amounts, ok := rawAmounts.([]any)
	if !ok {
		return "", decimal.Zero, fmt.Errorf("unexpected amounts value %T", rawAmounts)
	}

	total := decimal.Zero
	for _, raw := range amounts {
		s, ok := raw.(string)
		if !ok {
			return "", decimal.Zero, fmt.Errorf("unexpected amount value %T", raw)
		}
		amount, err := decimal.NewFromString(s)
		if err != nil {
			return "", decimal.Zero, err
		}
		total = total.Add(amount)
	}
	return op, total, nil
}

func (n *Neo4jLedgerStore) Ping(ctx context.Context) error {
	n.mu.RLock()
	defer n.mu.RUnlock()

	if n.closed {
		return models.ErrStoreClosed
	}
	return mapError("ping", n.driver.VerifyConnectivity(ctx))
}

func (n *Neo4jLedgerStore) Close(ctx context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return nil
	}
	n.closed = true
	return mapError("close", n.driver.Close(ctx))
}

// mapError sorts driver errors into the ledger taxonomy. Connectivity errors
// are checked first: the driver reports them as retryable, but here they are
// store faults.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	if neo4j.IsConnectivityError(err) {
		return models.StorageError(op, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err))
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) && neoErr.Classification() == "TransientError" {
		return models.ConflictError(op, err)
	}
	if neo4j.IsRetryable(err) {
		return models.ConflictError(op, err)
	}
	return models.StorageError(op, err)
}

var _ interfaces.LedgerStore = (*Neo4jLedgerStore)(nil)
