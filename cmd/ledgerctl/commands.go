package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/bakir004/expense-tracker-sub001/internal/cli"
	"github.com/bakir004/expense-tracker-sub001/internal/core"
	"github.com/bakir004/expense-tracker-sub001/internal/services"
	"github.com/bakir004/expense-tracker-sub001/internal/sheets"
)

var errUsage = errors.New("usage error")

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, app *cli.App, args []string, out io.Writer) error
}

var commands []command

func init() {
	commands = []command{
		{"user-add", "register a user (-name, -balance)", userAdd},
		{"user-list", "list users with their current balance", userList},
		{"user-balance-set", "change a user's initial balance (-user, -balance)", userBalanceSet},
		{"tx-add", "add a transaction (-user, -type, -amount, -date, -subject)", txAdd},
		{"tx-update", "change fields of a transaction (-id and any of -type, -amount, -date, -subject, -notes, -payment)", txUpdate},
		{"tx-rm", "delete a transaction (-id)", txRemove},
		{"list", "print a user's statement (-user)", list},
		{"balance", "print a user's balance, optionally as of a date (-user, -as-of)", balance},
		{"verify", "check the running balances of one user (-user) or of all users", verify},
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: ledgerctl <command> [flags]")
	fmt.Fprintln(w)
	for _, c := range commands {
		fmt.Fprintf(w, "  %-17s %s\n", c.name, c.summary)
	}
}

func run(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	for _, c := range commands {
		if c.name == args[0] {
			return c.run(ctx, app, args[1:], out)
		}
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, args[0])
}

func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parse(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%w: %s: unexpected arguments %v", errUsage, fs.Name(), fs.Args())
	}
	return nil
}

func parseID(flagName, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%w: -%s is required", errUsage, flagName)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: -%s: %v", errUsage, flagName, err)
	}
	return id, nil
}

func parseOptionalID(flagName, s string) (uuid.NullUUID, error) {
	if s == "" {
		return uuid.NullUUID{}, nil
	}
	id, err := parseID(flagName, s)
	if err != nil {
		return uuid.NullUUID{}, err
	}
	return uuid.NullUUID{UUID: id, Valid: true}, nil
}

// retry runs a mutation, retrying on concurrent modification.
func retry(ctx context.Context, app *cli.App, fn func(ctx context.Context) error) error {
	return services.Retry(ctx, app.Config.ConflictRetries, fn)
}

func userAdd(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("user-add")
	name := fs.String("name", "", "user name")
	bal := fs.String("balance", "0", "initial balance")
	if err := parse(fs, args); err != nil {
		return err
	}
	initial, err := core.ParseSignedAmount(*bal)
	if err != nil {
		return fmt.Errorf("-balance: %w", err)
	}

	u, err := app.Ledger.RegisterUser(ctx, core.User{Name: *name, InitialBalance: initial})
	if err != nil {
		return err
	}
	fmt.Fprintln(out, u.ID)
	return nil
}

func userList(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	if err := parse(newFlags("user-list"), args); err != nil {
		return err
	}
	users, err := app.Backend.Store.ListUsers(ctx)
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"ID", "Name", "Initial balance", "Current balance"})
	for _, u := range users {
		current, err := app.Balances.CurrentBalance(ctx, u.ID)
		if err != nil {
			return err
		}
		table.Append([]string{u.ID.String(), u.Name, core.FormatAmount(u.InitialBalance), core.FormatAmount(current)})
	}
	table.Render()
	return nil
}

func userBalanceSet(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("user-balance-set")
	user := fs.String("user", "", "user id")
	bal := fs.String("balance", "", "new initial balance")
	if err := parse(fs, args); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}
	initial, err := core.ParseSignedAmount(*bal)
	if err != nil {
		return fmt.Errorf("-balance: %w", err)
	}
	return app.Ledger.SetInitialBalance(ctx, userID, initial)
}

func txAdd(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("tx-add")
	user := fs.String("user", "", "user id")
	typ := fs.String("type", "expense", "expense or income")
	amount := fs.String("amount", "", "positive amount")
	date := fs.String("date", "", "YYYY-MM-DD")
	subject := fs.String("subject", "", "short description")
	notes := fs.String("notes", "", "free text")
	payment := fs.String("payment", "", "CASH, CARD, TRANSFER or OTHER")
	category := fs.String("category", "", "category id")
	group := fs.String("group", "", "transaction group id")
	if err := parse(fs, args); err != nil {
		return err
	}

	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}
	tx := core.Transaction{
		UserID:        userID,
		Subject:       strings.TrimSpace(*subject),
		Notes:         *notes,
		PaymentMethod: core.PaymentMethod(strings.ToUpper(*payment)),
	}
	if tx.Type, err = core.ParseTransactionType(*typ); err != nil {
		return err
	}
	if tx.Amount, err = core.ParseAmount(*amount); err != nil {
		return fmt.Errorf("-amount: %w", err)
	}
	if tx.Date, err = core.ParseDate(*date); err != nil {
		return fmt.Errorf("-date: %w", err)
	}
	if tx.CategoryID, err = parseOptionalID("category", *category); err != nil {
		return err
	}
	if tx.TransactionGroupID, err = parseOptionalID("group", *group); err != nil {
		return err
	}
	if err := tx.Validate(); err != nil {
		return err
	}

	// The id is fixed up front so a retried create cannot insert twice.
	tx.ID = uuid.New()
	var created core.Transaction
	err = retry(ctx, app, func(ctx context.Context) error {
		var err error
		created, err = app.Ledger.Create(ctx, tx)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t%s\n", created.ID, core.FormatAmount(created.CumulativeDelta))
	return nil
}

func txUpdate(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("tx-update")
	id := fs.String("id", "", "transaction id")
	typ := fs.String("type", "", "expense or income")
	amount := fs.String("amount", "", "positive amount")
	date := fs.String("date", "", "YYYY-MM-DD")
	subject := fs.String("subject", "", "short description")
	notes := fs.String("notes", "", "free text")
	payment := fs.String("payment", "", "CASH, CARD, TRANSFER or OTHER")
	if err := parse(fs, args); err != nil {
		return err
	}
	txID, err := parseID("id", *id)
	if err != nil {
		return err
	}

	var p core.Patch
	var parseErr error
	fs.Visit(func(f *flag.Flag) {
		if parseErr != nil {
			return
		}
		switch f.Name {
		case "type":
			t, err := core.ParseTransactionType(*typ)
			p.Type, parseErr = &t, err
		case "amount":
			a, err := core.ParseAmount(*amount)
			p.Amount, parseErr = &a, err
		case "date":
			d, err := core.ParseDate(*date)
			p.Date, parseErr = &d, err
		case "subject":
			s := strings.TrimSpace(*subject)
			p.Subject = &s
		case "notes":
			p.Notes = notes
		case "payment":
			m := core.PaymentMethod(strings.ToUpper(*payment))
			p.PaymentMethod = &m
		}
	})
	if parseErr != nil {
		return parseErr
	}
	if p.Empty() {
		return fmt.Errorf("%w: tx-update: nothing to change", errUsage)
	}
	if err := p.Validate(); err != nil {
		return err
	}

	var updated core.Transaction
	err = retry(ctx, app, func(ctx context.Context) error {
		var err error
		updated, err = app.Ledger.Update(ctx, txID, p)
		return err
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "%s\t%s\n", updated.ID, core.FormatAmount(updated.CumulativeDelta))
	return nil
}

func txRemove(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("tx-rm")
	id := fs.String("id", "", "transaction id")
	if err := parse(fs, args); err != nil {
		return err
	}
	txID, err := parseID("id", *id)
	if err != nil {
		return err
	}
	return retry(ctx, app, func(ctx context.Context) error {
		return app.Ledger.Delete(ctx, txID)
	})
}

func list(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("list")
	user := fs.String("user", "", "user id")
	if err := parse(fs, args); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}

	st, err := app.Balances.Statement(ctx, userID)
	if err != nil {
		return err
	}
	rows := sheets.StatementRows(st)

	table := tablewriter.NewWriter(out)
	table.SetAutoWrapText(false)
	table.SetHeader(rows[0])
	table.AppendBulk(rows[1:])
	table.SetFooter([]string{"", "", "", "", "Closing balance", core.FormatAmount(st.ClosingBalance)})
	table.Render()
	return nil
}

func balance(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("balance")
	user := fs.String("user", "", "user id")
	asOf := fs.String("as-of", "", "YYYY-MM-DD, defaults to the whole ledger")
	if err := parse(fs, args); err != nil {
		return err
	}
	userID, err := parseID("user", *user)
	if err != nil {
		return err
	}

	var b decimal.Decimal
	if *asOf == "" {
		b, err = app.Balances.CurrentBalance(ctx, userID)
	} else {
		d, perr := core.ParseDate(*asOf)
		if perr != nil {
			return fmt.Errorf("-as-of: %w", perr)
		}
		b, err = app.Balances.BalanceAsOf(ctx, userID, d)
	}
	if err != nil {
		return err
	}
	fmt.Fprintln(out, core.FormatAmount(b))
	return nil
}

func verify(ctx context.Context, app *cli.App, args []string, out io.Writer) error {
	fs := newFlags("verify")
	user := fs.String("user", "", "user id, defaults to every user")
	if err := parse(fs, args); err != nil {
		return err
	}

	var ids []uuid.UUID
	if *user != "" {
		id, err := parseID("user", *user)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	} else {
		users, err := app.Backend.Store.ListUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			ids = append(ids, u.ID)
		}
	}

	var (
		mu         sync.Mutex
		violations []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(app.Config.ResyncConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			err := app.Ledger.VerifyUser(gctx, id)
			if errors.Is(err, core.ErrInvariantViolation) {
				mu.Lock()
				violations = append(violations, fmt.Errorf("user %s: %w", id, err))
				mu.Unlock()
				return nil
			}
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Fprintln(out, "FAIL", v)
		}
		return errors.Join(violations...)
	}
	fmt.Fprintf(out, "ok: %d ledger(s) verified\n", len(ids))
	return nil
}
