package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"portfolio_link/internal/config"
	"portfolio_link/internal/database"
	"portfolio_link/internal/demo"
	"portfolio_link/internal/repository"
	"portfolio_link/internal/services"
)

var (
	dbPath = flag.String("db", "", "path to the SQLite database (defaults to the configured path)")
	userID = flag.String("user", demo.UserID, "user whose data is shown")
)

var commands = []subcommands.Command{
	&summaryCmd{},
	&holdingsCmd{},
	&historyCmd{},
	&diagnosticsCmd{},
	&pruneCmd{},
}

// openDB opens the database named by -db or the configuration.
func openDB() (*database.DB, error) {
	p := *dbPath
	if p == "" {
		cfg, err := config.Load(os.Getenv("LINK_CONFIG"))
		if err != nil {
			return nil, err
		}
		p = cfg.Database.Path
	}
	db, err := database.New(p)
	if err != nil {
		return nil, err
	}
	if err := db.RunMigrations(); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func fail(err error) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, err)
	return subcommands.ExitFailure
}

type summaryCmd struct {
	currency string
}

func (*summaryCmd) Name() string     { return "summary" }
func (*summaryCmd) Synopsis() string { return "show portfolio totals and allocation by security type" }
func (*summaryCmd) Usage() string {
	return `linkctl [-db <path>] [-user <id>] summary [-currency <code>]

  Prints total value, cost, gain and return of the stored holdings,
  followed by the allocation segments.
`
}

func (c *summaryCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.currency, "currency", services.DefaultCurrency, "ISO currency code used for amounts")
}

func (c *summaryCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	db, err := openDB()
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	holdings, err := repository.NewHoldingRepository(db).ListByUser(ctx, *userID)
	if err != nil {
		return fail(err)
	}

	alloc := services.Aggregate(holdings)
	writeSummary(os.Stdout, alloc, c.currency)
	return subcommands.ExitSuccess
}

func writeSummary(out io.Writer, alloc services.Allocation, currency string) {
	s := services.FormatSummary(alloc.Summary, currency)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Total value\t%s\n", s.TotalValue)
	fmt.Fprintf(w, "Total cost\t%s\n", s.TotalCost)
	fmt.Fprintf(w, "Total gain\t%s\n", s.TotalGain)
	fmt.Fprintf(w, "Return\t%s\n", s.TotalReturn)
	fmt.Fprintf(w, "Daily change\t%s\n", s.DailyChange)
	fmt.Fprintln(w)
	for _, seg := range alloc.Segments {
		fmt.Fprintf(w, "%s\t%s\t%d%%\n", seg.Label, services.FormatMoney(seg.AggregateValue, currency), seg.Percentage)
	}
	w.Flush()
}

type holdingsCmd struct {
	query    string
	sort     string
	dir      string
	currency string
}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "list stored holdings" }
func (*holdingsCmd) Usage() string {
	return `linkctl [-db <path>] [-user <id>] holdings [-q <text>] [-sort <field>] [-dir asc|desc]

  Lists the stored holdings, filtered by name or ticker and sorted by any
  column (securityName, tickerSymbol, securityType, quantity, unitPrice,
  marketValue, costBasis).
`
}

func (c *holdingsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.query, "q", "", "filter by security name or ticker")
	f.StringVar(&c.sort, "sort", string(services.FieldMarketValue), "sort column")
	f.StringVar(&c.dir, "dir", string(services.Descending), "sort direction")
	f.StringVar(&c.currency, "currency", services.DefaultCurrency, "ISO currency code used for amounts")
}

func (c *holdingsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	view := services.NewHoldingsView()
	view.Query = c.query
	field, err := services.ParseSortField(c.sort)
	if err != nil {
		return fail(err)
	}
	dir, err := services.ParseDirection(c.dir)
	if err != nil {
		return fail(err)
	}
	view.Field, view.Direction = field, dir

	db, err := openDB()
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	holdings, err := repository.NewHoldingRepository(db).ListByUser(ctx, *userID)
	if err != nil {
		return fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "Ticker\tName\tType\tQuantity\tPrice\tValue\t")
	for _, h := range view.Apply(holdings) {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			h.TickerSymbol,
			h.SecurityName,
			h.SecurityType,
			strconv.FormatFloat(h.Quantity, 'f', -1, 64),
			services.FormatMoney(h.UnitPrice, c.currency),
			services.FormatMoney(h.MarketValue, c.currency),
		)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type historyCmd struct {
	limit int
}

func (*historyCmd) Name() string     { return "history" }
func (*historyCmd) Synopsis() string { return "list recent holdings syncs" }
func (*historyCmd) Usage() string {
	return `linkctl [-db <path>] [-user <id>] history [-n <count>]
`
}

func (c *historyCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 20, "number of entries to show")
}

func (c *historyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	db, err := openDB()
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	entries, err := repository.NewSyncHistoryRepository(db).ListByUser(ctx, *userID, repository.NewPagination(c.limit, 0))
	if err != nil {
		return fail(err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "Started\tTrigger\tStatus\tHoldings\tDuration\tError")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.StartedAt.Local().Format(time.DateTime),
			e.Trigger,
			e.Status,
			e.HoldingsSynced,
			time.Duration(e.DurationMs)*time.Millisecond,
			e.ErrorMessage,
		)
	}
	w.Flush()
	return subcommands.ExitSuccess
}

type diagnosticsCmd struct {
	limit int
}

func (*diagnosticsCmd) Name() string     { return "diagnostics" }
func (*diagnosticsCmd) Synopsis() string { return "print the persisted diagnostic log" }
func (*diagnosticsCmd) Usage() string {
	return `linkctl [-db <path>] [-user <id>] diagnostics [-n <count>]
`
}

func (c *diagnosticsCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.limit, "n", 100, "number of most recent entries to show")
}

func (c *diagnosticsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	db, err := openDB()
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	entries, err := repository.NewDiagnosticRepository(db).ListByUser(ctx, *userID, c.limit)
	if err != nil {
		return fail(err)
	}
	for _, e := range entries {
		fmt.Println(e.String())
	}
	return subcommands.ExitSuccess
}

type pruneCmd struct {
	olderThan time.Duration
}

func (*pruneCmd) Name() string     { return "prune" }
func (*pruneCmd) Synopsis() string { return "delete old sync history" }
func (*pruneCmd) Usage() string {
	return `linkctl [-db <path>] prune [-older-than <duration>]

  Deletes sync history entries of all users started before the cutoff.
`
}

func (c *pruneCmd) SetFlags(f *flag.FlagSet) {
	f.DurationVar(&c.olderThan, "older-than", 90*24*time.Hour, "age of entries to delete")
}

func (c *pruneCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	db, err := openDB()
	if err != nil {
		return fail(err)
	}
	defer db.Close()

	n, err := repository.NewSyncHistoryRepository(db).DeleteOlderThan(ctx, time.Now().Add(-c.olderThan))
	if err != nil {
		return fail(err)
	}
	fmt.Printf("deleted %d sync history entries\n", n)
	return subcommands.ExitSuccess
}
