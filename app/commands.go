package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lysyi3m/wire-comb/app/api"
	"github.com/lysyi3m/wire-comb/app/fetch"
	"github.com/lysyi3m/wire-comb/app/tasks"
)

func registerCommands(parser *flags.Parser) {
	commands := []struct {
		name, short, long string
		data              flags.Commander
	}{
		{"fetch", "Fetch the latest headlines", "Fetches up to --count new or updated articles in a single run.", &FetchCommand{}},
		{"backfill", "Backfill a date range", "Pages through [start, end) once per category, recording gaps for pages that fail.", &BackfillCommand{}},
		{"stats", "Show database statistics", "Prints article statistics and the most recent fetch runs.", &StatsCommand{}},
		{"cleanup", "Apply the retention policy", "Deletes articles and fetch runs older than --days.", &CleanupCommand{}},
		{"bodies", "Fetch missing story bodies", "Fetches the full text of stored articles that only have a headline.", &BodiesCommand{}},
		{"daemon", "Run the scheduler", "Runs the latest, daily, maintenance and health jobs until interrupted.", &DaemonCommand{}},
		{"job", "Run one scheduled job once", "Runs one planned execution of latest, daily, maintenance or health.", &JobCommand{}},
	}

	for _, c := range commands {
		if _, err := parser.AddCommand(c.name, c.short, c.long, c.data); err != nil {
			panic(fmt.Sprintf("failed to register command %s: %v", c.name, err))
		}
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// parseDate accepts 2006-01-02 or RFC3339. A date-only end bound includes
// the whole day.
func parseDate(value string, end bool) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		if end {
			t = t.AddDate(0, 0, 1)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD or RFC3339", value)
	}
	return t.UTC(), nil
}

type FetchCommand struct {
	Count     int    `long:"count" description:"Number of articles to store (default 50)"`
	Category  string `long:"category" description:"Only fetch this category"`
	Language  string `long:"language" description:"Only keep articles in this language"`
	StartDate string `long:"start-date" description:"Earliest publication time (YYYY-MM-DD or RFC3339)"`
	EndDate   string `long:"end-date" description:"Latest publication time, exclusive (YYYY-MM-DD is inclusive)"`
}

func (c *FetchCommand) Execute(args []string) error {
	start, err := parseDate(c.StartDate, false)
	if err != nil {
		return err
	}
	end, err := parseDate(c.EndDate, true)
	if err != nil {
		return err
	}

	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := app.orchestrator.Run(ctx, fetch.Request{
		Mode:     fetch.ModeSingle,
		JobType:  "manual",
		Category: c.Category,
		Language: c.Language,
		Start:    start,
		End:      end,
		Count:    c.Count,
	})
	if summary != nil {
		printSummary(summary)
	}
	return err
}

type BackfillCommand struct {
	StartDate  string   `long:"start-date" required:"true" description:"Start of the range (YYYY-MM-DD or RFC3339)"`
	EndDate    string   `long:"end-date" required:"true" description:"End of the range, exclusive (YYYY-MM-DD is inclusive)"`
	Categories []string `long:"category" description:"Category to backfill, repeatable (default: profile categories)"`
	Language   string   `long:"language" description:"Only keep articles in this language"`
	PageSize   int      `long:"page-size" description:"Records per page (default: --page-size)"`
	MaxPages   int      `long:"max-pages" description:"Page limit per category (default: --max-pages)"`
}

func (c *BackfillCommand) Execute(args []string) error {
	start, err := parseDate(c.StartDate, false)
	if err != nil {
		return err
	}
	end, err := parseDate(c.EndDate, true)
	if err != nil {
		return err
	}

	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	categories := c.Categories
	if len(categories) == 0 {
		categories = app.cfg.Profile.Categories
	}
	if len(categories) == 0 {
		categories = []string{""}
	}

	ctx, cancel := signalContext()
	defer cancel()

	var errs []error
	for i, category := range categories {
		if i > 0 && app.cfg.CategoryPause > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(append(errs, ctx.Err())...)
			case <-time.After(app.cfg.CategoryPause):
			}
		}

		summary, err := app.orchestrator.Run(ctx, fetch.Request{
			Mode:        fetch.ModeBackfill,
			JobType:     "manual",
			Category:    category,
			Language:    c.Language,
			Start:       start,
			End:         end,
			PageSize:    c.PageSize,
			MaxPages:    c.MaxPages,
			FetchBodies: app.cfg.FetchBodies,
		})
		if summary != nil {
			printSummary(summary)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("category %q: %w", category, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	return errors.Join(errs...)
}

type StatsCommand struct {
	Category string `long:"category" description:"Restrict statistics to one category"`
	Runs     int    `long:"runs" default:"10" description:"Number of recent fetch runs to list"`
}

func (c *StatsCommand) Execute(args []string) error {
	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()

	stats, err := app.articles.GetStats(ctx, c.Category)
	if err != nil {
		return fmt.Errorf("failed to load statistics: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "Articles:\t%d\n", stats.TotalArticles)
	fmt.Fprintf(w, "Sources:\t%d\n", stats.DistinctSources)
	fmt.Fprintf(w, "Earliest:\t%s\n", formatTime(stats.EarliestArticle))
	fmt.Fprintf(w, "Latest:\t%s\n", formatTime(stats.LatestArticle))
	fmt.Fprintf(w, "Avg headline length:\t%.1f\n", stats.AvgHeadlineLength)
	fmt.Fprintf(w, "Missing bodies:\t%d\n", stats.MissingBodies)
	fmt.Fprintf(w, "Unknown language:\t%d\n", stats.UnknownLanguage)
	fmt.Fprintf(w, "Ticker links:\t%d\n", stats.TickerLinks)
	for _, cc := range stats.Categories {
		fmt.Fprintf(w, "  %s\t%d\n", cc.Category, cc.Articles)
	}
	w.Flush()

	if c.Runs <= 0 {
		return nil
	}

	runs, err := app.runs.ListRuns(ctx, "", c.Runs)
	if err != nil {
		return fmt.Errorf("failed to list fetch runs: %w", err)
	}

	fmt.Println()
	w = tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tJOB\tMODE\tCATEGORY\tSTARTED\tSTATUS\tFETCHED\tINSERTED\tUPDATED\tSKIPPED\tGAPS\tCALLS")
	for _, r := range runs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.JobType, r.Mode, r.Category, r.StartedAt.Format(time.RFC3339), r.Status,
			r.Counters.Fetched, r.Counters.Inserted, r.Counters.Updated, r.Counters.Skipped,
			r.Counters.FailedPages, r.Counters.APICalls)
	}
	return w.Flush()
}

type CleanupCommand struct {
	Days   int  `long:"days" description:"Retention in days (default: --retention-days)"`
	DryRun bool `long:"dry-run" description:"Only report what would be deleted"`
}

func (c *CleanupCommand) Execute(args []string) error {
	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	days := c.Days
	if days <= 0 {
		days = app.cfg.RetentionDays
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	ctx := context.Background()

	if c.DryRun {
		articles, err := app.articles.CountArticlesBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		runs, err := app.runs.CountRunsBefore(ctx, cutoff)
		if err != nil {
			return err
		}
		fmt.Printf("Would delete %d articles and %d fetch runs older than %s\n", articles, runs, cutoff.Format(time.RFC3339))
		return nil
	}

	result, err := tasks.Cleanup(ctx, app.articles, app.runs, cutoff)
	if err != nil {
		return err
	}
	fmt.Printf("Deleted %d articles and %d fetch runs older than %s\n", result.ArticlesDeleted, result.RunsDeleted, cutoff.Format(time.RFC3339))
	return nil
}

type BodiesCommand struct {
	Category string `long:"category" description:"Only fill bodies of this category"`
	Limit    int    `long:"limit" default:"100" description:"Maximum number of stories to fetch"`
}

func (c *BodiesCommand) Execute(args []string) error {
	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := app.orchestrator.FillBodies(ctx, "manual", c.Category, c.Limit)
	if summary != nil {
		printSummary(summary)
	}
	return err
}

type DaemonCommand struct {
	StatusAddr   string `long:"status-addr" env:"STATUS_ADDR" description:"Address of the status server, e.g. :8080 (disabled when empty)"`
	APIAccessKey string `long:"api-key" env:"API_ACCESS_KEY" description:"API access key for the authenticated status endpoints (optional)"`
}

func (c *DaemonCommand) Execute(args []string) error {
	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	slog.Info("Starting Wire Comb daemon", "version", app.cfg.Version, "provider", app.client.Name())

	scheduler := app.scheduler()
	scheduler.Start()

	ctx, cancel := signalContext()
	defer cancel()

	serverErrChan := make(chan error, 1)
	var httpServer *http.Server
	if c.StatusAddr != "" {
		handler := api.NewHandler(app.db, app.articles, app.runs, scheduler)
		httpServer = &http.Server{
			Addr:         c.StatusAddr,
			Handler:      api.NewServer(handler, c.APIAccessKey),
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		go func() {
			slog.Info("Starting status server", "addr", c.StatusAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				serverErrChan <- fmt.Errorf("status server error: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case runErr = <-serverErrChan:
		slog.Error("Status server failed", "error", runErr)
	}

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Status server shutdown error", "error", err)
		}
	}

	scheduler.Stop()
	slog.Info("Wire Comb daemon shutdown complete")

	return runErr
}

type JobCommand struct {
	Args struct {
		Name string `positional-arg-name:"name" description:"latest, daily, maintenance or health"`
	} `positional-args:"yes" required:"yes"`
}

func (c *JobCommand) Execute(args []string) error {
	jobType, err := tasks.ParseJobType(c.Args.Name)
	if err != nil {
		return fmt.Errorf("%w: %q", err, c.Args.Name)
	}

	app, err := bootstrap(&opts)
	if err != nil {
		return err
	}
	defer app.Close()

	ctx, cancel := signalContext()
	defer cancel()

	return app.scheduler().RunOnce(ctx, jobType)
}

func printSummary(s *fetch.Summary) {
	fmt.Printf("Run %d (%s", s.RunID, s.Mode)
	if s.Category != "" {
		fmt.Printf(", %s", s.Category)
	}
	fmt.Printf("): %s in %s\n", s.Status, s.Duration.Round(time.Millisecond))
	fmt.Printf("  fetched %d, inserted %d, updated %d, skipped %d, api calls %d\n",
		s.Counters.Fetched, s.Counters.Inserted, s.Counters.Updated, s.Counters.Skipped, s.Counters.APICalls)
	if s.Truncated {
		fmt.Println("  stopped at the requested count, more articles are available")
	}
	for _, g := range s.Gaps {
		fmt.Printf("  gap: page %d: %s\n", g.Page, g.Error)
	}
	if s.Err != nil {
		fmt.Printf("  error: %v\n", s.Err)
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
