package main

import (
	"context"
	"flag"
	"os"
	"path"

	"github.com/google/subcommands"
	"github.com/joho/godotenv"

	"github.com/sheikh-saqib/account-ledger/internal/cli"
)

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	app := cli.NewApp()
	flag.BoolVar(&app.NoLogs, "no-logs", false, "Disable logs")

	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	commander.Register(commander.CommandsCommand(), "")
	cli.Register(commander, app)

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}
