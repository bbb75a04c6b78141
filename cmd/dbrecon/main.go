package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tdalton/dbrecon/internal/config"
	"github.com/tdalton/dbrecon/internal/history"
	"github.com/tdalton/dbrecon/internal/logging"
	"github.com/tdalton/dbrecon/internal/notify"
	"github.com/tdalton/dbrecon/internal/orchestrator"
	"github.com/tdalton/dbrecon/internal/progress"
	"github.com/tdalton/dbrecon/internal/report"
	"github.com/tdalton/dbrecon/internal/scheduler"
	"github.com/tdalton/dbrecon/internal/secrets"
	"github.com/tdalton/dbrecon/internal/util"
	"github.com/tdalton/dbrecon/internal/version"

	// Database adapters register themselves on import.
	_ "github.com/tdalton/dbrecon/internal/adapter/mssql"
	_ "github.com/tdalton/dbrecon/internal/adapter/mysql"
	_ "github.com/tdalton/dbrecon/internal/adapter/postgres"
)

const exitInterrupted = 130

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to run configuration file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log format (text, json)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Compare the configured tables once and print the report",
				Action: runOnce,
				Flags:  runFlags(),
			},
			{
				Name:   "schedule",
				Usage:  "Run the comparison repeatedly on an interval or cron schedule",
				Action: runScheduled,
				Flags: append(runFlags(),
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Time between runs (mutually exclusive with --cron)",
					},
					&cli.StringFlag{
						Name:  "cron",
						Usage: "Five-field cron expression (mutually exclusive with --interval)",
					},
					&cli.DurationFlag{
						Name:  "timeout",
						Usage: "Per-run timeout; a run exceeding it is cancelled and marked aborted",
					},
				),
			},
			{
				Name:  "history",
				Usage: "List past runs, or show one run's full report",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "run",
						Usage: "Show the full report for a specific run ID",
					},
					&cli.IntFlag{
						Name:  "limit",
						Value: 20,
						Usage: "Number of runs to list",
					},
					&cli.StringFlag{
						Name:  "format",
						Value: "console",
						Usage: "Report format for --run (json, csv, console)",
					},
				},
				Action: showHistory,
			},
			{
				Name:   "init-secrets",
				Usage:  "Create a credentials file template with restrictive permissions",
				Action: initSecrets,
			},
			{
				Name:  "version",
				Usage: "Print the version",
				Action: func(*cli.Context) error {
					fmt.Printf("%s %s\n", version.Name, version.Version)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := err.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exitErr.ExitCode())
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "tables",
			Usage: "Tables to compare, as 'source' or 'source=target' (repeatable or comma-separated)",
		},
		&cli.BoolFlag{
			Name:  "checksum",
			Usage: "Enable the chunked checksum phase even when row counts match",
		},
		&cli.IntFlag{
			Name:  "chunk-size",
			Usage: "Rows per comparison chunk",
		},
		&cli.DurationFlag{
			Name:  "tolerance-window",
			Usage: "Ignore rows modified within this window (requires a tolerance column)",
		},
		&cli.StringFlag{
			Name:  "tolerance-column",
			Usage: "Timestamp column used by the tolerance window",
		},
		&cli.IntFlag{
			Name:  "workers",
			Usage: "Number of tables compared in parallel",
		},
		&cli.StringFlag{
			Name:    "output",
			Aliases: []string{"o"},
			Usage:   "Write the report to a file instead of stdout",
		},
		&cli.StringFlag{
			Name:  "format",
			Usage: "Report format (json, csv, console)",
		},
		&cli.BoolFlag{
			Name:  "progress",
			Usage: "Show a progress bar",
		},
	}
}

// loadConfig merges the config file (when given) with flag overrides.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.Default()
	}

	if c.IsSet("tables") {
		var pairs []string
		for _, v := range c.StringSlice("tables") {
			pairs = append(pairs, util.SplitCSV(v)...)
		}
		if err := cfg.AddTables(pairs); err != nil {
			return nil, err
		}
	}
	if c.IsSet("checksum") {
		cfg.Defaults.Checksum = c.Bool("checksum")
	}
	if c.IsSet("chunk-size") {
		cfg.Defaults.ChunkSize = c.Int("chunk-size")
	}
	if c.IsSet("tolerance-window") {
		cfg.Defaults.ToleranceWindow = config.Duration(c.Duration("tolerance-window"))
	}
	if c.IsSet("tolerance-column") {
		cfg.Defaults.ToleranceColumn = c.String("tolerance-column")
	}
	if c.IsSet("workers") {
		cfg.Workers = c.Int("workers")
	}
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("format") {
		cfg.Format = c.String("format")
	}
	if c.IsSet("progress") {
		cfg.Progress = c.Bool("progress")
	}
	if c.IsSet("interval") {
		cfg.Schedule.Interval = config.Duration(c.Duration("interval"))
	}
	if c.IsSet("cron") {
		cfg.Schedule.Cron = c.String("cron")
	}
	if c.IsSet("timeout") {
		cfg.RunTimeout = config.Duration(c.Duration("timeout"))
	}

	if lvl := c.String("log-level"); lvl != "" {
		cfg.LogLevel = lvl
	}
	if f := c.String("log-format"); f != "" {
		cfg.LogFormat = f
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.LogFormat)
	return cfg, nil
}

// buildRunner assembles the orchestrator with credentials, history, and
// notifications. The caller owns the returned closer.
func buildRunner(cfg *config.Config) (*orchestrator.Runner, func(), error) {
	secretsPath, err := secrets.DefaultPath()
	if err != nil {
		return nil, nil, err
	}
	creds, err := secrets.Load(secretsPath)
	if err != nil {
		return nil, nil, err
	}

	opts := []orchestrator.Option{}
	closer := func() {}

	if creds.Slack.WebhookURL != "" {
		opts = append(opts, orchestrator.WithNotifier(notify.New(&notify.SlackConfig{
			Enabled:    true,
			WebhookURL: creds.Slack.WebhookURL,
			Channel:    creds.Slack.Channel,
			Username:   version.Name,
		})))
	}

	if cfg.HistoryPath != "" {
		store, err := history.Open(cfg.HistoryPath)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, orchestrator.WithHistory(store))
		closer = func() { store.Close() }
	}

	if cfg.Progress && cfg.Format == "console" && cfg.Output == "" {
		opts = append(opts, orchestrator.WithProgress(progress.New()))
	}

	return orchestrator.New(cfg, creds, opts...), closer, nil
}

func runOnce(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	runner, closeRunner, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx, interrupted := interruptContext()
	rep, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if err := writeReport(cfg, rep); err != nil {
		return err
	}

	if err := exitIfInterrupted(interrupted); err != nil {
		return err
	}
	if code := report.ExitCode(rep); code != 0 {
		return cli.Exit("", code)
	}
	return nil
}

// exitIfInterrupted maps a received SIGINT/SIGTERM to exit code 130
// after the partial report has been written.
func exitIfInterrupted(interrupted *atomic.Bool) error {
	if interrupted.Load() {
		return cli.Exit("", exitInterrupted)
	}
	return nil
}

func runScheduled(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.Schedule.Interval <= 0 && cfg.Schedule.Cron == "" {
		return fmt.Errorf("schedule requires --interval or --cron")
	}
	runner, closeRunner, err := buildRunner(cfg)
	if err != nil {
		return err
	}
	defer closeRunner()

	sched, err := scheduler.New(scheduler.Job{
		ID:       version.Name,
		Interval: cfg.Schedule.Interval.Std(),
		Cron:     cfg.Schedule.Cron,
		Timeout:  cfg.RunTimeout.Std(),
		Run: func(ctx context.Context) error {
			rep, err := runner.Run(ctx)
			if err != nil {
				return err
			}
			if err := writeReport(cfg, rep); err != nil {
				return err
			}
			if rep.Aborted {
				return fmt.Errorf("run %s aborted", rep.ReportID)
			}
			return nil
		},
	})
	if err != nil {
		return err
	}

	ctx, interrupted := interruptContext()
	logging.Info("Scheduler starting (interval=%v cron=%q timeout=%v)",
		cfg.Schedule.Interval.Std(), cfg.Schedule.Cron, cfg.RunTimeout.Std())
	if err := sched.Start(ctx); err != nil {
		return err
	}
	return exitIfInterrupted(interrupted)
}

func showHistory(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if cfg.HistoryPath == "" {
		return fmt.Errorf("history_path is not configured")
	}
	store, err := history.Open(cfg.HistoryPath)
	if err != nil {
		return err
	}
	defer store.Close()

	if runID := c.String("run"); runID != "" {
		rep, err := store.GetRun(runID)
		if err != nil {
			return err
		}
		return renderReport(os.Stdout, c.String("format"), rep)
	}

	records, err := store.ListRuns(c.Int("limit"))
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	fmt.Printf("%-38s %-20s %-14s %7s %7s %7s\n",
		"RUN ID", "STARTED", "STATUS", "TABLES", "OK", "ISSUES")
	for _, rec := range records {
		fmt.Printf("%-38s %-20s %-14s %7d %7d %7d\n",
			rec.ReportID, rec.StartedAt.Local().Format("2006-01-02 15:04:05"),
			rec.Status, rec.TotalTables, rec.TablesOK, rec.TotalDiscrepancies)
	}
	return nil
}

func initSecrets(c *cli.Context) error {
	path, err := secrets.DefaultPath()
	if err != nil {
		return err
	}
	if err := secrets.WriteTemplate(path); err != nil {
		return err
	}
	fmt.Printf("Created %s. Fill in the credentials and keep it mode 0600.\n", path)
	return nil
}

// interruptContext cancels on SIGINT/SIGTERM and records that a signal
// arrived so the process can exit 130.
func interruptContext() (context.Context, *atomic.Bool) {
	ctx, cancel := context.WithCancel(context.Background())
	interrupted := &atomic.Bool{}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		interrupted.Store(true)
		fmt.Fprintln(os.Stderr, "\nInterrupted. Finishing the partial report...")
		cancel()
	}()
	return ctx, interrupted
}

func writeReport(cfg *config.Config, rep *report.Report) error {
	var w io.Writer = os.Stdout
	if cfg.Output != "" {
		f, err := os.Create(cfg.Output)
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer f.Close()
		w = f
		logging.Info("Report %s written to %s", rep.ReportID, cfg.Output)
	}
	return renderReport(w, cfg.Format, rep)
}

func renderReport(w io.Writer, format string, rep *report.Report) error {
	switch format {
	case "json":
		return report.WriteJSON(w, rep)
	case "csv":
		return report.WriteCSV(w, rep)
	default:
		return report.WriteConsole(w, rep)
	}
}
