package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/session"
)

const (
	RecordsCollection  = "transactions"
	AccountsCollection = "accounts"

	labelTransientTransaction = "TransientTransactionError"
	codeWriteConflict         = 112
	codeNamespaceExists       = 48
)

var (
	ErrEmptyURI      = errors.New("mongo uri cannot be empty")
	ErrEmptyDatabase = errors.New("mongo database name cannot be empty")
)

type Config struct {
	URI                    string
	Database               string
	MaxPoolSize            uint64
	MinPoolSize            uint64
	ServerSelectionTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		URI:                    "mongodb://localhost:27017/?replicaSet=rs0",
		Database:               "ledger",
		MaxPoolSize:            10,
		MinPoolSize:            2,
		ServerSelectionTimeout: 5 * time.Second,
	}
}

func (cfg Config) validate() error {
	if strings.TrimSpace(cfg.URI) == "" {
		return ErrEmptyURI
	}
	if strings.TrimSpace(cfg.Database) == "" {
		return ErrEmptyDatabase
	}
	return nil
}

// MongoLedgerStore keeps one document per record in the transactions
// collection. Transactions need a replica set.
//
// Snapshot isolation alone lets two debits read the same balance and both
// insert. To close that gap every insert also bumps the account's head
// document in the accounts collection, so two writers on one account collide
// with a WriteConflict and the later one is reported as models.ErrConflict.
type MongoLedgerStore struct {
	client   *mongo.Client
	records  *mongo.Collection
	accounts *mongo.Collection

	mu     sync.RWMutex
	closed bool
}

func NewMongoLedgerStore(client *mongo.Client, database string) *MongoLedgerStore {
	db := client.Database(database)
	return &MongoLedgerStore{
		client:   client,
		records:  db.Collection(RecordsCollection),
		accounts: db.Collection(AccountsCollection),
	}
}

// Open connects with the configured pool and pings the primary.
func Open(ctx context.Context, cfg Config) (*MongoLedgerStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, models.StorageError("open mongo", err)
	}

	clientOptions := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		clientOptions.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.MinPoolSize > 0 {
		clientOptions.SetMinPoolSize(cfg.MinPoolSize)
	}
	if cfg.ServerSelectionTimeout > 0 {
		clientOptions.SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	}

	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, mapError("connect mongo", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, mapError("ping mongo", err)
	}

	return NewMongoLedgerStore(client, cfg.Database), nil
}

// EnsureSchema creates both collections and the accountId index. Collections
// must exist before a transaction writes to them on older servers.
func (m *MongoLedgerStore) EnsureSchema(ctx context.Context) error {
	db := m.records.Database()
	for _, name := range []string{RecordsCollection, AccountsCollection} {
		err := db.CreateCollection(ctx, name)
		if err != nil && !hasCode(err, codeNamespaceExists) {
			return mapError("create collection "+name, err)
		}
	}

	_, err := m.records.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "accountId", Value: 1}},
		Options: options.Index().SetName("idx_account_id"),
	})
	return mapError("create index", err)
}

type recordDocument struct {
	ID        string               `bson:"_id"`
	AccountID string               `bson:"accountId"`
	Amount    primitive.Decimal128 `bson:"amount"`
	Operation string               `bson:"operation"`
	CreatedAt time.Time            `bson:"createdAt"`
}

type operationTotal struct {
	Operation string               `bson:"_id"`
	Total     primitive.Decimal128 `bson:"total"`
}

type mongoSession struct {
	state  session.State
	store  *MongoLedgerStore
	client mongo.Session
}

func transactionOptions() *options.TransactionOptions {
	return options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())
}

func (m *MongoLedgerStore) NewSession(ctx context.Context) (interfaces.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, models.ErrStoreClosed
	}

	cs, err := m.client.StartSession()
	if err != nil {
		return nil, mapError("start session", err)
	}
	return &mongoSession{store: m, client: cs}, nil
}

func (s *mongoSession) Start(ctx context.Context) error {
	if err := s.state.BeginStart(); err != nil {
		return err
	}
	if err := s.client.StartTransaction(transactionOptions()); err != nil {
		s.state.RevertStart()
		return mapError("start transaction", err)
	}
	return nil
}

func (s *mongoSession) Commit(ctx context.Context) error {
	if err := s.state.BeginCommit(); err != nil {
		return err
	}
	return mapError("commit", s.client.CommitTransaction(ctx))
}

func (s *mongoSession) Abort(ctx context.Context) error {
	rollback, err := s.state.BeginAbort()
	if err != nil || !rollback {
		return err
	}
	return mapError("abort", s.client.AbortTransaction(ctx))
}

// End releases the server session. The driver aborts a transaction that is
// still open.
func (s *mongoSession) End(ctx context.Context) error {
	if first, _ := s.state.End(); first && s.client != nil {
		s.client.EndSession(ctx)
	}
	return nil
}

func (m *MongoLedgerStore) session(sess interfaces.Session) (*mongoSession, error) {
	ms, ok := sess.(*mongoSession)
	if !ok || ms == nil || ms.store != m {
		return nil, models.ErrForeignSession
	}
	if err := ms.state.CheckActive(); err != nil {
		return nil, err
	}
	return ms, nil
}

func (m *MongoLedgerStore) Insert(ctx context.Context, sess interfaces.Session, record models.TransactionRecord) error {
	ms, err := m.session(sess)
	if err != nil {
		return err
	}
	if record.Amount.IsNegative() || !record.Operation.Valid() {
		return models.ErrInvalidAmount
	}

	amount, err := primitive.ParseDecimal128(record.Amount.String())
	if err != nil {
		return fmt.Errorf("insert: %w: %w", models.ErrInvalidAmount, err)
	}

	sc := mongo.NewSessionContext(ctx, ms.client)

	_, err = m.accounts.UpdateOne(sc,
		bson.D{{Key: "_id", Value: record.AccountID}},
		bson.D{{Key: "$inc", Value: bson.D{{Key: "version", Value: 1}}}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return mapError("lock account", err)
	}

	_, err = m.records.InsertOne(sc, recordDocument{
		ID:        record.ID,
		AccountID: record.AccountID,
		Amount:    amount,
		Operation: record.Operation.String(),
		CreatedAt: record.CreatedAt,
	})
	return mapError("insert", err)
}

func (m *MongoLedgerStore) GetAggregateBalance(ctx context.Context, sess interfaces.Session, accountID string) (decimal.Decimal, error) {
	ms, err := m.session(sess)
	if err != nil {
		return decimal.Zero, err
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.D{{Key: "accountId", Value: accountID}}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$operation"},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$amount"}}},
		}}},
	}

	sc := mongo.NewSessionContext(ctx, ms.client)
	cursor, err := m.records.Aggregate(sc, pipeline)
	if err != nil {
		return decimal.Zero, mapError("aggregate balance", err)
	}

	var results []operationTotal
	if err := cursor.All(sc, &results); err != nil {
		return decimal.Zero, mapError("aggregate balance", err)
	}

	totals := make(map[models.Operation]decimal.Decimal, len(results))
	for _, r := range results {
		op, err := models.ParseOperation(r.Operation)
		if err != nil {
			return decimal.Zero, models.StorageError("aggregate balance", err)
		}
		total, err := decimal.NewFromString(r.Total.String())
		if err != nil {
			return decimal.Zero, models.StorageError("aggregate balance", err)
		}
		totals[op] = total
	}
	return models.BalanceFromTotals(totals), nil
}

func (m *MongoLedgerStore) Ping(ctx context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return models.ErrStoreClosed
	}
	return mapError("ping", m.client.Ping(ctx, readpref.Primary()))
}

func (m *MongoLedgerStore) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	return mapError("disconnect", m.client.Disconnect(ctx))
}

func hasCode(err error, code int) bool {
	var se mongo.ServerError
	return errors.As(err, &se) && se.HasErrorCode(code)
}

// mapError sorts driver errors into the ledger taxonomy. A commit that ends
// with UnknownTransactionCommitResult may have been applied, so it is a
// storage fault rather than a retryable conflict.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}

	var se mongo.ServerError
	if errors.As(err, &se) {
		if se.HasErrorLabel(labelTransientTransaction) || se.HasErrorCode(codeWriteConflict) {
			return models.ConflictError(op, err)
		}
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) || errors.Is(err, mongo.ErrClientDisconnected) {
		return models.StorageError(op, fmt.Errorf("%w: %w", models.ErrStoreUnavailable, err))
	}
	return models.StorageError(op, err)
}

var _ interfaces.LedgerStore = (*MongoLedgerStore)(nil)
