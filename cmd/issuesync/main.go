// Command issuesync mirrors the labeled issues of every GitHub App installation
// into the catalog, or adds single issues by URL.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	_ "golang.org/x/crypto/x509roots/fallback" // Embed CA certs for scratch container

	githubadapter "github.com/ericfisherdev/sponsoredissues/internal/adapter/driven/github"
	sqliteadapter "github.com/ericfisherdev/sponsoredissues/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/sponsoredissues/internal/application"
	"github.com/ericfisherdev/sponsoredissues/internal/config"
)

// app carries what every subcommand needs. It is filled in before the parser
// dispatches to a command.
type app struct {
	ctx context.Context
	cfg *config.Config
}

type syncCommand struct {
	app *app

	DryRun       bool          `long:"dry-run" description:"Fetch and diff without writing to the catalog"`
	Installation int64         `long:"installation" description:"Sync only this installation id"`
	RepoLimit    int           `long:"repo-limit" description:"Maximum repositories per installation (default from SPONSOREDISSUES_SYNC_REPO_LIMIT)"`
	Concurrency  int           `long:"concurrency" description:"Installations synced in parallel (default from SPONSOREDISSUES_SYNC_CONCURRENCY)"`
	Loop         bool          `long:"loop" description:"Repeat the sync until interrupted"`
	LoopDelay    time.Duration `long:"loop-delay" default:"1h" description:"Pause between looped cycles"`
	AllStates    bool          `long:"all-states" description:"Trust the label query and skip the open-state re-check"`
}

type addCommand struct {
	app *app

	Force bool `long:"force" description:"Refresh issues that are already in the catalog"`
	Args  struct {
		URLs []string `positional-arg-name:"URL" required:"1"`
	} `positional-args:"yes" required:"yes"`
}

func main() {
	a := &app{}
	parser := flags.NewParser(nil, flags.Default)
	parser.ShortDescription = "Sponsored issue catalog sync"

	if _, err := parser.AddCommand("sync", "Sync installations",
		"Fetch every installation's labeled issues and reconcile the catalog.", &syncCommand{app: a}); err != nil {
		panic(err)
	}
	if _, err := parser.AddCommand("add", "Add issues by URL",
		"Fetch the given issues from GitHub and store the sponsorable ones.", &addCommand{app: a}); err != nil {
		panic(err)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("fatal error", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	a.ctx, a.cfg = ctx, cfg

	if _, err := parser.Parse(); err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) {
			if flagsErr.Type == flags.ErrHelp {
				os.Exit(0)
			}
			os.Exit(2)
		}
		slog.Error("fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

// services wires storage and the gateway. The returned close func releases
// the database.
func (a *app) services() (*githubadapter.Client, *sqliteadapter.IssueRepo, *application.CatalogService, func(), error) {
	db, err := sqliteadapter.NewDB(a.ctx, a.cfg.DBPath)
	if err != nil {
		return nil, nil, nil, nil, err
	}
	closeDB := func() {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing database", "error", closeErr)
		}
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		closeDB()
		return nil, nil, nil, nil, err
	}

	gateway, err := githubadapter.NewClient(githubadapter.Options{
		AppID:         a.cfg.GitHubAppID,
		PrivateKeyPEM: a.cfg.GitHubPrivateKey,
		Token:         a.cfg.GitHubToken,
		Timeout:       a.cfg.HTTPTimeout,
	})
	if err != nil {
		closeDB()
		return nil, nil, nil, nil, err
	}

	issues := sqliteadapter.NewIssueRepo(db)
	catalog := application.NewCatalogService(issues, gateway, a.cfg.SponsorLabel)
	return gateway, issues, catalog, closeDB, nil
}

// Execute runs one sync cycle, or loops when --loop is set.
func (c *syncCommand) Execute([]string) error {
	gateway, issues, catalog, closeDB, err := c.app.services()
	if err != nil {
		return err
	}
	defer closeDB()

	if !gateway.AppConfigured() {
		return fmt.Errorf("sync needs SPONSOREDISSUES_GITHUB_APP_ID and SPONSOREDISSUES_GITHUB_APP_PRIVATE_KEY")
	}

	sc := c.app.cfg.Sync
	opts := application.SyncOptions{
		DryRun:         c.DryRun,
		InstallationID: c.Installation,
		RepoLimit:      sc.RepoLimit,
		Loop:           c.Loop,
		LoopDelay:      c.LoopDelay,
		DelayMin:       sc.DelayMin,
		DelayMax:       sc.DelayMax,
		RetryDelay:     sc.RetryDelay,
		MaxRetries:     sc.MaxRetries,
		Concurrency:    sc.Concurrency,
		RequireOpen:    sc.RequireOpen && !c.AllStates,
	}
	if c.RepoLimit > 0 {
		opts.RepoLimit = c.RepoLimit
	}
	if c.Concurrency > 0 {
		opts.Concurrency = c.Concurrency
	}

	slog.Info("sync starting",
		"dry_run", opts.DryRun,
		"installation", opts.InstallationID,
		"repo_limit", opts.RepoLimit,
		"loop", opts.Loop,
	)
	return application.NewSyncService(gateway, issues, catalog, opts).Run(c.app.ctx)
}

// Execute adds each URL, continuing past failures.
func (c *addCommand) Execute([]string) error {
	_, _, catalog, closeDB, err := c.app.services()
	if err != nil {
		return err
	}
	defer closeDB()

	var failed int
	for _, raw := range c.Args.URLs {
		change, err := catalog.AddIssue(c.app.ctx, raw, c.Force)
		if err != nil {
			failed++
			slog.Error("failed to add issue", "url", raw, "error", err)
			continue
		}
		slog.Info("issue added", "url", raw, "change", change)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d issues could not be added", failed, len(c.Args.URLs))
	}
	return nil
}
