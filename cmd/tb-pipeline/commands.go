package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/tinybackspace/tiny-backspace/internal/config"
	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/gitutil"
	"github.com/tinybackspace/tiny-backspace/internal/notify"
	"github.com/tinybackspace/tiny-backspace/internal/pipeline"
	"github.com/tinybackspace/tiny-backspace/internal/runstore"
	"github.com/tinybackspace/tiny-backspace/internal/sandbox"
	"github.com/tinybackspace/tiny-backspace/tui"
	"github.com/tinybackspace/tiny-backspace/web/api"
)

var (
	runUseTUI bool
	servePort int
	runsLimit int
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run REPO_URL PROMPT",
		Short: "Run one change request end to end",
		Args:  cobra.ExactArgs(2),
		RunE:  runRun,
	}
	runCmd.Flags().BoolVar(&runUseTUI, "tui", false, "show a live terminal view")
	rootCmd.AddCommand(runCmd)

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent pipeline runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(runsCmd)

	eventsCmd := &cobra.Command{
		Use:   "events RUN_ID",
		Short: "Show the event stream of a run",
		Args:  cobra.ExactArgs(1),
		RunE:  runEvents,
	}
	rootCmd.AddCommand(eventsCmd)

	sandboxesCmd := &cobra.Command{
		Use:   "sandboxes",
		Short: "List sandboxes visible to the configured API key",
		RunE:  runSandboxes,
	}
	rootCmd.AddCommand(sandboxesCmd)

	reapCmd := &cobra.Command{
		Use:   "reap",
		Short: "Delete stale pipeline sandboxes once",
		RunE:  runReap,
	}
	rootCmd.AddCommand(reapCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func buildController(cfg *config.Config) (*pipeline.Controller, error) {
	gateway := sandbox.NewDaytonaClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIKey)

	var markers pipeline.MarkerSource = pipeline.DefaultMarkers()
	if cfg.Agent.MarkersFile != "" {
		watcher, err := pipeline.NewMarkerWatcher(cfg.Agent.MarkersFile)
		if err != nil {
			return nil, err
		}
		watcher.Start(context.Background())
		markers = watcher
	}

	return pipeline.NewController(gateway, cfg, markers), nil
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	return notify.NewMultiNotifier(
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
		notify.NewDesktopNotifier(true),
	)
}

func runRun(cmd *cobra.Command, args []string) error {
	repoURL, prompt := args[0], args[1]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	req, err := domain.NewRequest(repoURL, prompt)
	if err != nil {
		return err
	}
	if _, _, err := gitutil.ParseRepoURL(repoURL); err != nil {
		return err
	}

	ctrl, err := buildController(cfg)
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()
	if err := store.CreateRun(req); err != nil {
		return err
	}

	notifier := buildNotifier(cfg)

	if runUseTUI {
		return runWithTUI(ctrl, store, notifier, req, repoURL, prompt)
	}

	sink := pipeline.MultiSink{
		store.Recorder(req.RequestID),
		pipeline.SinkFunc(printEvent),
	}

	run, runErr := ctrl.Process(context.Background(), req, sink)
	recordOutcome(store, req, run, runErr)
	notifier.Send(notify.RunFinished(run, runErr))

	if runErr != nil {
		return runErr
	}
	fmt.Printf("\nPull request: %s\n", run.PRURL)
	return nil
}

func runWithTUI(ctrl *pipeline.Controller, store *runstore.Store, notifier notify.Notifier,
	req *domain.Request, repoURL, prompt string) error {

	owner, repo, _ := gitutil.ParseRepoURL(repoURL)
	model := tui.NewModel(owner+"/"+repo, prompt)

	sink := pipeline.MultiSink{
		store.Recorder(req.RequestID),
		model.Sink(),
	}

	done := make(chan error, 1)
	go func() {
		run, runErr := ctrl.Process(context.Background(), req, sink)
		recordOutcome(store, req, run, runErr)
		notifier.Send(notify.RunFinished(run, runErr))
		model.Finish(runErr)
		done <- runErr
	}()

	program := tea.NewProgram(model)
	if _, err := program.Run(); err != nil {
		return err
	}
	// The pipeline keeps going if the view is closed early; cleanup
	// must not be interrupted by a keypress.
	return <-done
}

func recordOutcome(store *runstore.Store, req *domain.Request, run *domain.Run, runErr error) {
	if run != nil {
		_ = store.UpdateRun(run)
	}
	if runErr != nil {
		_ = store.FinishRun(req.RequestID, domain.StageFailed, "",
			string(domain.KindOf(runErr)), runErr.Error())
		return
	}
	_ = store.FinishRun(req.RequestID, domain.StageSucceeded, run.PRURL, "", "")
}

func printEvent(event domain.Event) {
	switch event.Kind {
	case domain.EventProgress:
		fmt.Printf("[%v%%] %v\n", event.Data["percentage"], event.Data["message"])
	case domain.EventTool:
		fmt.Printf("  %v: %v\n", event.Data["tool"], event.Data["detail"])
	case domain.EventWarning:
		fmt.Printf("  warning: %v\n", event.Data["message"])
	case domain.EventError:
		fmt.Printf("error: %v\n", event.Data["message"])
	case domain.EventPRCreated:
		fmt.Printf("pull request: %v\n", event.Data["pr_url"])
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Web.Port = servePort
	}

	ctrl, err := buildController(cfg)
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	// Background reaper catches sandboxes orphaned by crashed runs.
	gateway := sandbox.NewDaytonaClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIKey)
	reaper, err := sandbox.NewReaper(gateway, cfg.Sandbox.NamePrefix,
		cfg.Sandbox.ReapSchedule, time.Duration(cfg.Sandbox.ReapMaxAgeMin)*time.Minute)
	if err != nil {
		return err
	}
	go reaper.Start(context.Background(), func(result sandbox.SweepResult, err error) {
		if err != nil {
			fmt.Fprintf(os.Stderr, "reaper sweep failed: %v\n", err)
			return
		}
		if len(result.Deleted) > 0 {
			fmt.Printf("reaper deleted %d stale sandboxes\n", len(result.Deleted))
		}
	})
	defer reaper.Stop()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := api.NewServer(store, ctrl, addr, cfg.General.MaxConcurrentRuns)

	fmt.Printf("listening on %s\n", addr)
	return server.Start()
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.ListRuns(runsLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTAGE\tREPO\tPR\tSTARTED")
	for _, record := range records {
		id := record.ID
		if len(id) > 8 {
			id = id[:8]
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			id, record.Stage, record.RepoURL, record.PRURL,
			record.StartedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runEvents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	events, err := store.ListEvents(args[0])
	if err != nil {
		return err
	}
	for _, event := range events {
		fmt.Printf("%-16s %v\n", event.Kind, event.Data)
	}
	return nil
}

func runSandboxes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gateway := sandbox.NewDaytonaClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIKey)
	infos, err := gateway.List(context.Background())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATE\tAGE")
	for _, info := range infos {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", info.ID, info.Name, info.State, sandbox.DescribeAge(info))
	}
	return w.Flush()
}

func runReap(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	gateway := sandbox.NewDaytonaClient(cfg.Sandbox.APIURL, cfg.Sandbox.APIKey)
	reaper, err := sandbox.NewReaper(gateway, cfg.Sandbox.NamePrefix,
		cfg.Sandbox.ReapSchedule, time.Duration(cfg.Sandbox.ReapMaxAgeMin)*time.Minute)
	if err != nil {
		return err
	}

	result, err := reaper.Sweep(context.Background())
	if err != nil {
		return err
	}

	fmt.Printf("inspected %d, deleted %d\n", result.Inspected, len(result.Deleted))
	for _, id := range result.Deleted {
		fmt.Println("  deleted " + id)
	}
	for id, sweepErr := range result.Failed {
		fmt.Printf("  failed %s: %v\n", id, sweepErr)
	}
	return nil
}
