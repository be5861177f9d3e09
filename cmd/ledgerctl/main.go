// Command ledgerctl manages users and transactions of the ledger from the
// command line.
//
//	ledgerctl user-add -name Ada -balance 100
//	ledgerctl tx-add -user <id> -type expense -amount 12.50 -date 2025-04-01 -subject lunch
//	ledgerctl list -user <id>
//	ledgerctl verify
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bakir004/expense-tracker-sub001/internal/cli"
	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/log"
)

func main() {
	os.Exit(realMain(os.Args[1:]))
}

func realMain(args []string) int {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(envOr("LOG_LEVEL", "warn"), log.ComponentCLI)

	if len(args) == 0 || args[0] == "help" || args[0] == "-h" {
		usage(os.Stdout)
		return 0
	}

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	ctx := context.Background()
	app, err := cli.NewApp(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	defer app.Close()

	err = run(ctx, app, args, os.Stdout)
	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		usage(os.Stderr)
		return 2
	case errors.Is(err, core.ErrInvariantViolation):
		fmt.Fprintln(os.Stderr, err)
		return 1
	default:
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
