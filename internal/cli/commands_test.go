package cli

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"testing"

	"github.com/google/subcommands"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheikh-saqib/account-ledger/internal/config"
	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/storage"
	"github.com/sheikh-saqib/account-ledger/internal/storage/memory"
)

type harness struct {
	store  *memory.MemoryLedgerStore
	out    bytes.Buffer
	errOut bytes.Buffer
	opened int
}

func newHarness() *harness {
	return &harness{store: memory.NewMemoryLedgerStore()}
}

// run executes one ledgerctl invocation against the shared memory store
func (h *harness) run(t *testing.T, args ...string) subcommands.ExitStatus {
	t.Helper()
	h.out.Reset()
	h.errOut.Reset()

	app := &App{
		Out:    &h.out,
		Err:    &h.errOut,
		NoLogs: true,
		Open: func(context.Context, *logging.Logger) (*ledger.Ledger, func(context.Context) error, error) {
			h.opened++
			return ledger.NewLedger(h.store), func(context.Context) error { return nil }, nil
		},
	}

	fs := flag.NewFlagSet("ledgerctl", flag.ContinueOnError)
	commander := subcommands.NewCommander(fs, "ledgerctl")
	Register(commander, app)
	require.NoError(t, fs.Parse(args))
	return commander.Execute(context.Background())
}

func TestCommands_CreditDebitBalance(t *testing.T) {
	h := newHarness()

	require.Equal(t, subcommands.ExitSuccess, h.run(t, "credit", "alice", "100.50"))
	assert.Equal(t, "Account alice credited with amount: 100.5.\n", h.out.String())

	require.Equal(t, subcommands.ExitSuccess, h.run(t, "debit", "alice", "0.5"))
	assert.Equal(t, "Account alice debited with amount: 0.5.\n", h.out.String())

	require.Equal(t, subcommands.ExitSuccess, h.run(t, "balance", "alice"))
	assert.Equal(t, "Balance for account alice: 100.\n", h.out.String())

	require.Equal(t, subcommands.ExitSuccess, h.run(t, "balance", "nobody"))
	assert.Equal(t, "Balance for account nobody: 0.\n", h.out.String())
}

func TestCommands_InsufficientFundsIsRejected(t *testing.T) {
	h := newHarness()
	require.Equal(t, subcommands.ExitSuccess, h.run(t, "credit", "bob", "10"))

	assert.Equal(t, ExitRejected, h.run(t, "debit", "bob", "10.01"))
	assert.Empty(t, h.out.String())
	assert.Equal(t, "Insufficient funds: account bob has 10, requested 10.01.\n", h.errOut.String())
	assert.Len(t, h.store.Records(), 1)
}

func TestCommands_BadArgumentsNeverConnect(t *testing.T) {
	cases := []struct {
		name   string
		args   []string
		status subcommands.ExitStatus
	}{
		{"missing amount", []string{"credit", "alice"}, subcommands.ExitUsageError},
		{"extra argument", []string{"debit", "alice", "1", "2"}, subcommands.ExitUsageError},
		{"balance without account", []string{"balance"}, subcommands.ExitUsageError},
		{"zero amount", []string{"credit", "alice", "0"}, ExitRejected},
		{"negative amount", []string{"debit", "alice", "-3"}, ExitRejected},
		{"not a number", []string{"credit", "alice", "lots"}, ExitRejected},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness()
			assert.Equal(t, tc.status, h.run(t, tc.args...))
			assert.Zero(t, h.opened)
			assert.NotEmpty(t, h.errOut.String())
		})
	}
}

func TestReport(t *testing.T) {
	var errOut bytes.Buffer
	app := &App{Err: &errOut}

	assert.Equal(t, subcommands.ExitSuccess, app.report(nil))
	assert.Equal(t, ExitRejected, app.report(models.ErrInvalidAmount))
	assert.Equal(t, subcommands.ExitFailure, app.report(models.StorageError("insert", errors.New("connection reset"))))
	assert.Contains(t, errOut.String(), "connection reset")
}

func TestRun_OpenFailure(t *testing.T) {
	var errOut bytes.Buffer
	app := &App{
		Err:    &errOut,
		NoLogs: true,
		Open: func(context.Context, *logging.Logger) (*ledger.Ledger, func(context.Context) error, error) {
			return nil, nil, models.ErrStoreUnavailable
		},
	}

	status := app.run(context.Background(), func(*ledger.Ledger) error {
		t.Fatal("fn must not run without a ledger")
		return nil
	})
	assert.Equal(t, subcommands.ExitFailure, status)
	assert.Contains(t, errOut.String(), "Error connecting to the ledger")
}

func TestStoreDriver_DefaultsToMongo(t *testing.T) {
	t.Setenv(config.EnvStoreDriver, "")
	assert.Equal(t, storage.DriverMongo, storeDriver(storage.DriverMemory))

	t.Setenv(config.EnvStoreDriver, "postgres")
	assert.Equal(t, storage.DriverPostgres, storeDriver(storage.DriverPostgres))
}

func TestOpenFromEnv_WarnsOnMemoryStore(t *testing.T) {
	t.Setenv(config.EnvStoreDriver, storage.DriverMemory)

	var errOut bytes.Buffer
	app := &App{Err: &errOut}

	l, closeFn, err := app.OpenFromEnv(context.Background(), logging.NewNoOpLogger())
	require.NoError(t, err)
	defer closeFn(context.Background())

	assert.Contains(t, errOut.String(), "in-memory store")
	balance, err := l.GetBalance(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, balance.IsZero())
}
