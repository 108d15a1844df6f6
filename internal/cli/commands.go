package cli

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/sheikh-saqib/account-ledger/internal/ledger"
	"github.com/sheikh-saqib/account-ledger/internal/models"
)

type creditCmd struct {
	app *App
}

func (*creditCmd) Name() string     { return "credit" }
func (*creditCmd) Synopsis() string { return "add an amount to an account" }
func (*creditCmd) Usage() string {
	return `ledgerctl credit <accountId> <amount>

  Appends a CREDIT record to the account. Amounts are decimal strings,
  strictly positive, with at most 8 fractional digits.
`
}

func (*creditCmd) SetFlags(*flag.FlagSet) {}

func (c *creditCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	accountID, amount, status := c.app.parseWrite(f)
	if status != subcommands.ExitSuccess {
		return status
	}

	return c.app.run(ctx, func(l *ledger.Ledger) error {
		if _, err := l.Credit(ctx, accountID, amount); err != nil {
			return err
		}
		fmt.Fprintf(c.app.Out, "Account %s credited with amount: %s.\n", accountID, amount.String())
		return nil
	})
}

type debitCmd struct {
	app *App
}

func (*debitCmd) Name() string     { return "debit" }
func (*debitCmd) Synopsis() string { return "remove an amount from an account if the balance covers it" }
func (*debitCmd) Usage() string {
	return `ledgerctl debit <accountId> <amount>

  Appends a DEBIT record to the account unless the balance would become
  negative. A rejected debit exits with status 3 and writes nothing.
`
}

func (*debitCmd) SetFlags(*flag.FlagSet) {}

func (c *debitCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	accountID, amount, status := c.app.parseWrite(f)
	if status != subcommands.ExitSuccess {
		return status
	}

	return c.app.run(ctx, func(l *ledger.Ledger) error {
		if _, err := l.Debit(ctx, accountID, amount); err != nil {
			return err
		}
		fmt.Fprintf(c.app.Out, "Account %s debited with amount: %s.\n", accountID, amount.String())
		return nil
	})
}

type balanceCmd struct {
	app *App
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "print the balance of an account" }
func (*balanceCmd) Usage() string {
	return `ledgerctl balance <accountId>

  Prints credits minus debits for the account. Unknown accounts have a
  balance of zero.
`
}

func (*balanceCmd) SetFlags(*flag.FlagSet) {}

func (c *balanceCmd) Execute(ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if f.NArg() != 1 {
		fmt.Fprint(c.app.Err, c.Usage())
		return subcommands.ExitUsageError
	}
	accountID := f.Arg(0)

	return c.app.run(ctx, func(l *ledger.Ledger) error {
		balance, err := l.GetBalance(ctx, accountID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.app.Out, "Balance for account %s: %s.\n", accountID, balance.String())
		return nil
	})
}

// parseWrite reads <accountId> <amount>. Bad input never opens a connection.
func (a *App) parseWrite(f *flag.FlagSet) (string, decimal.Decimal, subcommands.ExitStatus) {
	if f.NArg() != 2 {
		fmt.Fprintln(a.Err, "expected <accountId> <amount>")
		return "", decimal.Zero, subcommands.ExitUsageError
	}

	accountID := f.Arg(0)
	if err := models.ValidateAccountID(accountID); err != nil {
		return "", decimal.Zero, a.report(err)
	}
	amount, err := models.ParseAmount(f.Arg(1))
	if err != nil {
		return "", decimal.Zero, a.report(err)
	}
	return accountID, amount, subcommands.ExitSuccess
}
