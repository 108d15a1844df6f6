// Package cli implements the ledgerctl command line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/subcommands"
	"go.uber.org/multierr"

	"github.com/sheikh-saqib/account-ledger/internal/config"
	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/resilience"
	"github.com/sheikh-saqib/account-ledger/internal/storage"
)

// ExitRejected is returned when the ledger refused the operation, as opposed
// to failing to perform it.
const ExitRejected subcommands.ExitStatus = 3

// Opener connects a ledger for one command. The returned close func releases
// the connection.
type Opener func(ctx context.Context, logger *logging.Logger) (*ledger.Ledger, func(context.Context) error, error)

// App holds what every command shares. A CLI run is short lived: connect,
// one operation, close.
type App struct {
	Out    io.Writer
	Err    io.Writer
	NoLogs bool
	Open   Opener
}

func NewApp() *App {
	a := &App{
		Out: os.Stdout,
		Err: os.Stderr,
	}
	a.Open = a.OpenFromEnv
	return a
}

// Register the subcommands.
func Register(c *subcommands.Commander, app *App) {
	c.Register(&creditCmd{app: app}, "transactions")
	c.Register(&debitCmd{app: app}, "transactions")
	c.Register(&balanceCmd{app: app}, "queries")
}

// OpenFromEnv builds the ledger the same way the server does, from the
// environment. Without LEDGER_STORE the CLI talks to the local mongo replica
// set, since an in-memory store would forget every record on exit.
func (a *App) OpenFromEnv(ctx context.Context, logger *logging.Logger) (*ledger.Ledger, func(context.Context) error, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	cfg.Store.Driver = storeDriver(cfg.Store.Driver)
	if cfg.Store.Driver == storage.DriverMemory {
		fmt.Fprintln(a.Err, "Warning: using the in-memory store, records are lost when the command exits.")
	}

	store, err := storage.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, err
	}
	resilient := resilience.NewResilientStore(store, cfg.Resilience, nil, logger)

	l := ledger.NewLedger(resilient,
		ledger.WithLogger(logger),
		ledger.WithRetryPolicy(cfg.Retry),
	)
	return l, resilient.Close, nil
}

// storeDriver keeps an explicit LEDGER_STORE and falls back to mongo otherwise
func storeDriver(configured string) string {
	if strings.TrimSpace(os.Getenv(config.EnvStoreDriver)) != "" {
		return configured
	}
	return storage.DriverMongo
}

func (a *App) logger() *logging.Logger {
	if a.NoLogs {
		return logging.NewNoOpLogger()
	}
	cfg := logging.DevelopmentConfig()
	cfg.Level = "info"
	cfg.OutputPaths = []string{"stderr"}
	cfg.EnableStacktrace = false
	logger, err := logging.NewLogger(cfg)
	if err != nil {
		return logging.NewNoOpLogger()
	}
	return logger
}

// run opens the ledger, calls fn and closes it again.
func (a *App) run(ctx context.Context, fn func(*ledger.Ledger) error) subcommands.ExitStatus {
	logger := a.logger()
	defer logger.Sync()

	l, closeFn, err := a.Open(ctx, logger)
	if err != nil {
		fmt.Fprintf(a.Err, "Error connecting to the ledger: %v\n", err)
		return subcommands.ExitFailure
	}

	err = fn(l)
	if closeErr := closeFn(context.WithoutCancel(ctx)); closeErr != nil {
		fmt.Fprintf(a.Err, "Error closing the ledger connection: %v\n", closeErr)
		if err == nil {
			return subcommands.ExitFailure
		}
	}
	return a.report(err)
}

func (a *App) report(err error) subcommands.ExitStatus {
	if err == nil {
		return subcommands.ExitSuccess
	}

	var insufficient *models.InsufficientFundsError
	switch {
	case errors.As(err, &insufficient):
		fmt.Fprintf(a.Err, "Insufficient funds: account %s has %s, requested %s.\n",
			insufficient.AccountID, insufficient.Balance.String(), insufficient.Requested.String())
		return ExitRejected
	case models.IsBusinessRejection(err):
		fmt.Fprintf(a.Err, "Rejected: %v\n", err)
		return ExitRejected
	default:
		for _, e := range multierr.Errors(err) {
			fmt.Fprintf(a.Err, "Error: %v\n", e)
		}
		return subcommands.ExitFailure
	}
}
