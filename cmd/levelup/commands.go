package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/levelup/internal/agent"
	"github.com/hochfrequenz/levelup/internal/checkpoint"
	"github.com/hochfrequenz/levelup/internal/config"
	"github.com/hochfrequenz/levelup/internal/detect"
	"github.com/hochfrequenz/levelup/internal/domain"
	"github.com/hochfrequenz/levelup/internal/journal"
	"github.com/hochfrequenz/levelup/internal/notify"
	"github.com/hochfrequenz/levelup/internal/pipeline"
	"github.com/hochfrequenz/levelup/internal/prompts"
	"github.com/hochfrequenz/levelup/internal/statestore"
	"github.com/hochfrequenz/levelup/internal/workspace"
)

var (
	runPath          string
	runTicket        int
	runDescription   string
	runModel         string
	runHeadless      bool
	runNoCheckpoints bool
	runNoBranch      bool
	runMaxRevisions  int
	resumeFromStep   string
	resumeHeadless   bool
	runsStatus       string
	runsLimit        int
	decideMessage    string
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run [TITLE]",
		Short: "Run the pipeline for a task",
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runPath, "path", ".", "target repository path")
	runCmd.Flags().IntVar(&runTicket, "ticket", 0, "start from a local ticket number")
	runCmd.Flags().StringVarP(&runDescription, "description", "d", "", "task description")
	runCmd.Flags().StringVar(&runModel, "model", "", "override the configured agent model")
	runCmd.Flags().BoolVar(&runHeadless, "headless", false, "park checkpoints in the store for a remote approver")
	runCmd.Flags().BoolVar(&runNoCheckpoints, "no-checkpoints", false, "skip human checkpoints")
	runCmd.Flags().BoolVar(&runNoBranch, "no-branch", false, "work in the project root instead of a run branch")
	runCmd.Flags().IntVar(&runMaxRevisions, "max-revisions", 0, "override revision cycles allowed per checkpoint")
	rootCmd.AddCommand(runCmd)

	// resume command
	resumeCmd := &cobra.Command{
		Use:   "resume RUN_ID",
		Short: "Resume a paused, failed or aborted run",
		Args:  cobra.ExactArgs(1),
		RunE:  runResume,
	}
	resumeCmd.Flags().StringVar(&resumeFromStep, "from-step", "", "rewind to this step instead of the stored one")
	resumeCmd.Flags().BoolVar(&resumeHeadless, "headless", false, "park checkpoints in the store for a remote approver")
	rootCmd.AddCommand(resumeCmd)

	// runs command
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs",
		RunE:  runRuns,
	}
	runsCmd.Flags().StringVar(&runsStatus, "status", "", "filter by status")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 50, "maximum runs to list")
	rootCmd.AddCommand(runsCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show RUN_ID",
		Short: "Show one run in detail",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	rootCmd.AddCommand(showCmd)

	// checkpoints command
	checkpointsCmd := &cobra.Command{
		Use:   "checkpoints",
		Short: "List checkpoints awaiting a decision",
		RunE:  runCheckpoints,
	}
	rootCmd.AddCommand(checkpointsCmd)

	// decide command
	decideCmd := &cobra.Command{
		Use:   "decide CHECKPOINT_ID DECISION",
		Short: "Decide a pending checkpoint (approve, revise or reject)",
		Args:  cobra.ExactArgs(2),
		RunE:  runDecide,
	}
	decideCmd.Flags().StringVarP(&decideMessage, "message", "m", "", "revision feedback")
	rootCmd.AddCommand(decideCmd)

	// pause command
	pauseCmd := &cobra.Command{
		Use:   "pause RUN_ID",
		Short: "Request a pause at the next step boundary",
		Args:  cobra.ExactArgs(1),
		RunE:  runPause,
	}
	rootCmd.AddCommand(pauseCmd)

	// cleanup command
	cleanupCmd := &cobra.Command{
		Use:   "cleanup RUN_ID",
		Short: "Remove a run's worktree, keeping its branch",
		Args:  cobra.ExactArgs(1),
		RunE:  runCleanup,
	}
	rootCmd.AddCommand(cleanupCmd)

	// forget command
	forgetCmd := &cobra.Command{
		Use:   "forget RUN_ID",
		Short: "Delete a run and its checkpoints from the store",
		Args:  cobra.ExactArgs(1),
		RunE:  runForget,
	}
	rootCmd.AddCommand(forgetCmd)

	// sweep command
	sweepCmd := &cobra.Command{
		Use:   "sweep",
		Short: "Mark runs of dead processes as failed",
		RunE:  runSweep,
	}
	rootCmd.AddCommand(sweepCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

func openStore(cfg *config.Config) (*statestore.Store, error) {
	return statestore.New(cfg.ResolveDBPath(dbPath))
}

// newLogger builds the console logger handed to every collaborator.
// --verbose wins over the configured level.
func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.General.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	var targets []notify.Notifier
	if cfg.Notify.SlackWebhookURL != "" {
		targets = append(targets, notify.NewSlackNotifier(cfg.Notify.SlackWebhookURL))
	}
	if cfg.Notify.Desktop {
		targets = append(targets, notify.NewDesktopNotifier(true))
	}
	if len(targets) == 0 {
		return notify.NoopNotifier{}
	}
	return notify.NewMultiNotifier(targets...)
}

// buildEngine wires the full pipeline for one project. Interactive runs
// decide checkpoints on this terminal; headless runs park them in the store
// for a remote approver.
func buildEngine(cfg *config.Config, store *statestore.Store, projectPath string, interactive bool, log zerolog.Logger) *pipeline.Engine {
	backend := agent.NewClaudeCodeBackend(cfg.Pipeline.ClaudeExecutable, cfg.Pipeline.AgentTimeout(), log)
	runners := agent.NewRunners(backend, prompts.DefaultLoader(projectPath), cfg.Pipeline.Model, log)
	stepRunners := make(map[string]pipeline.StepRunner, len(runners))
	for name, r := range runners {
		stepRunners[name] = r
	}

	notifier := buildNotifier(cfg)
	var decider checkpoint.Coordinator
	if interactive {
		decider = checkpoint.NewInteractiveCoordinator(os.Stdin, os.Stdout)
	} else {
		decider = checkpoint.NewStoreCoordinator(store, notifier, cfg.Pipeline.CheckpointPollInterval(), log)
	}

	ws := workspace.NewManager(projectPath, cfg.General.WorktreeDir, log)
	return pipeline.New(store, ws, detect.NewFileDetector(log), stepRunners, decider, notifier, cfg.Pipeline, log)
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted run persists its
// state before the process exits.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runModel != "" {
		cfg.Pipeline.Model = runModel
	}
	if runNoCheckpoints {
		cfg.Pipeline.RequireCheckpoints = false
	}
	if runNoBranch {
		cfg.Pipeline.CreateGitBranch = false
	}
	if runMaxRevisions > 0 {
		cfg.Pipeline.MaxRevisionCycles = runMaxRevisions
	}

	projectPath, err := filepath.Abs(runPath)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var task domain.TaskInput
	ticketNumber := 0
	switch {
	case runTicket > 0 && len(args) > 0:
		return fmt.Errorf("pass either a task title or --ticket, not both")
	case runTicket > 0:
		t, err := store.GetTicket(projectPath, runTicket)
		if err != nil {
			return err
		}
		if t.Status == domain.TicketDone {
			return fmt.Errorf("ticket #%d is already done", t.Number)
		}
		task = domain.TicketTask(*t)
		ticketNumber = t.Number
	case len(args) > 0:
		task = domain.ManualTask(strings.Join(args, " "), runDescription)
	case runHeadless:
		return fmt.Errorf("headless mode needs a task title or --ticket")
	default:
		title, description, err := promptForTask(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		task = domain.ManualTask(title, description)
	}

	log := newLogger(cfg)
	engine := buildEngine(cfg, store, projectPath, !runHeadless, log)

	ctx, stop := signalContext()
	defer stop()

	if ticketNumber > 0 {
		if err := store.SetTicketStatus(projectPath, ticketNumber, domain.TicketInProgress); err != nil {
			return err
		}
	}

	pc, err := engine.Run(ctx, task, projectPath)
	if err != nil {
		if ticketNumber > 0 {
			store.SetTicketStatus(projectPath, ticketNumber, domain.TicketOpen)
		}
		return err
	}
	return reportOutcome(store, pc)
}

func runResume(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	log := newLogger(cfg)
	engine := buildEngine(cfg, store, run.ProjectPath, !resumeHeadless, log)

	ctx, stop := signalContext()
	defer stop()

	pc, err := engine.Resume(ctx, run.ID, resumeFromStep)
	if err != nil {
		return err
	}
	return reportOutcome(store, pc)
}

// promptForTask asks for a task on the terminal when none was given on the
// command line. The description ends at a line holding a single dot.
func promptForTask(in io.Reader, out io.Writer) (title, description string, err error) {
	scanner := bufio.NewScanner(in)

	fmt.Fprint(out, "Task title: ")
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return "", "", err
		}
		return "", "", fmt.Errorf("no task provided")
	}
	title = strings.TrimSpace(scanner.Text())
	if title == "" {
		return "", "", fmt.Errorf("task title must not be empty")
	}

	fmt.Fprintln(out, "Description, finish with a single '.' line ('.' alone to skip):")
	var lines []string
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "." {
			break
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return "", "", err
	}
	return title, strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// reportOutcome prints the terminal state and settles the run's ticket.
// FAILED and ABORTED come back as errors so the process exits non-zero.
func reportOutcome(store *statestore.Store, pc *domain.PipelineContext) error {
	switch pc.Status {
	case domain.StatusCompleted:
		if n, ok := pc.Task.TicketNumber(); ok {
			if err := store.SetTicketStatus(pc.ProjectPath, n, domain.TicketDone); err != nil {
				fmt.Fprintf(os.Stderr, "warning: ticket #%d not marked done: %v\n", n, err)
			}
		}
		fmt.Printf("Run %s completed ($%.2f)\n", pc.RunID, pc.TotalUsage.CostUSD)
		if pc.Branch != "" {
			fmt.Printf("Changes are on branch %s\n", pc.Branch)
		}
		return nil
	case domain.StatusPaused:
		fmt.Printf("Run %s paused before %s. Continue with 'levelup resume %s'.\n",
			pc.RunID, pc.CurrentStep, pc.RunID)
		return nil
	case domain.StatusFailed:
		if pc.CurrentStep != "" {
			return fmt.Errorf("run %s failed at %s: %s", pc.RunID, pc.CurrentStep, pc.ErrorMessage)
		}
		return fmt.Errorf("run %s failed: %s", pc.RunID, pc.ErrorMessage)
	case domain.StatusAborted:
		if pc.ErrorMessage != "" {
			return fmt.Errorf("run %s aborted: %s", pc.RunID, pc.ErrorMessage)
		}
		return fmt.Errorf("run %s aborted", pc.RunID)
	}
	return nil
}

func runRuns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRuns(statestore.ListOptions{
		Status: domain.RunStatus(runsStatus),
		Limit:  runsLimit,
	})
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("No runs found. Start one with 'levelup run'.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tSTEP\tTASK\tCOST\tUPDATED")
	for _, r := range runs {
		step := r.CurrentStep
		if step == "" {
			step = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t$%.2f\t%s\n",
			r.ID, r.Status, step, truncate(r.TaskTitle, 40), r.TotalCostUSD, humanize.Time(r.UpdatedAt))
	}
	w.Flush()

	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}

	source := run.Source
	if run.SourceID != "" {
		source = run.SourceID
	}
	fmt.Printf("%-10s%s\n", "Run:", run.ID)
	fmt.Printf("%-10s%s (%s)\n", "Task:", run.TaskTitle, source)
	if run.TaskDescription != "" {
		for _, line := range strings.Split(run.TaskDescription, "\n") {
			fmt.Printf("%-10s%s\n", "", line)
		}
	}
	fmt.Printf("%-10s%s\n", "Status:", run.Status)
	if run.CurrentStep != "" {
		fmt.Printf("%-10s%s\n", "Step:", run.CurrentStep)
	}
	fmt.Printf("%-10s%s\n", "Project:", run.ProjectPath)
	if run.Language != "" {
		stack := run.Language
		if run.Framework != "" {
			stack += " / " + run.Framework
		}
		fmt.Printf("%-10s%s\n", "Stack:", stack)
	}
	if run.TestCommand != "" {
		fmt.Printf("%-10s%s\n", "Tests:", run.TestCommand)
	}
	fmt.Printf("%-10s$%.4f (%s in / %s out)\n", "Cost:", run.TotalCostUSD,
		humanize.Comma(int64(run.InputTokens)), humanize.Comma(int64(run.OutputTokens)))
	fmt.Printf("%-10s%s\n", "Started:", humanize.Time(run.StartedAt))
	fmt.Printf("%-10s%s\n", "Updated:", humanize.Time(run.UpdatedAt))
	if run.ErrorMessage != "" {
		fmt.Printf("%-10s%s\n", "Error:", run.ErrorMessage)
	}

	if pc, err := domain.RestoreContext(run.ContextJSON); err == nil {
		if pc.Branch != "" {
			fmt.Printf("%-10s%s\n", "Branch:", pc.Branch)
		}
		if pc.WorktreePath != "" {
			fmt.Printf("%-10s%s\n", "Worktree:", pc.WorktreePath)
		}
		if len(pc.StepCommits) > 0 {
			var parts []string
			for _, step := range append(pipeline.StepNames(pipeline.DefaultPipeline()), "documentation") {
				if sha, ok := pc.StepCommits[step]; ok {
					parts = append(parts, step+"="+shortSHA(sha))
				}
			}
			fmt.Printf("%-10s%s\n", "Commits:", strings.Join(parts, " "))
		}
		jrn := journal.New(pc, zerolog.Nop())
		if _, err := os.Stat(jrn.Path()); err == nil {
			fmt.Printf("%-10s%s\n", "Journal:", jrn.Path())
		}
	}

	pending, err := store.PendingCheckpoints(run.ID)
	if err == nil && len(pending) > 0 {
		req := pending[0]
		fmt.Println()
		if payload, err := checkpoint.DecodePayload(req.PayloadJSON); err == nil {
			fmt.Println(checkpoint.Render(payload))
		}
		fmt.Printf("Decide with 'levelup decide %d approve|revise|reject'\n", req.ID)
	}

	return nil
}

func runCheckpoints(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	reqs, err := store.PendingCheckpoints("")
	if err != nil {
		return err
	}

	if len(reqs) == 0 {
		fmt.Println("No pending checkpoints")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tRUN\tSTEP\tWAITING")
	for _, req := range reqs {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", req.ID, req.RunID, req.StepName, humanize.Time(req.CreatedAt))
	}
	w.Flush()
	fmt.Println("Decide with 'levelup decide ID approve|revise|reject'")

	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("checkpoint id must be a number, got %q", args[0])
	}
	decision, err := domain.ParseDecision(args[1])
	if err != nil {
		return err
	}
	if decision == domain.DecisionRevise && decideMessage == "" {
		return fmt.Errorf("revise needs feedback, pass it with -m")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.SubmitDecision(id, decision, decideMessage); err != nil {
		return err
	}

	if req, err := store.GetCheckpoint(id); err == nil {
		fmt.Printf("Recorded %s for run %s step %s\n", decision, req.RunID, req.StepName)
	} else {
		fmt.Printf("Recorded %s for checkpoint %d\n", decision, id)
	}
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.RequestPause(args[0]); err != nil {
		return err
	}
	fmt.Printf("Pause requested for run %s; it takes effect at the next step boundary\n", args[0])
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	run, err := store.GetRun(args[0])
	if err != nil {
		return err
	}
	pc, err := domain.RestoreContext(run.ContextJSON)
	if err != nil {
		return fmt.Errorf("run %s has no workspace state: %w", run.ID, err)
	}
	if pc.WorktreePath == "" {
		fmt.Printf("Run %s has no worktree to clean up\n", run.ID)
		return nil
	}

	ws := workspace.NewManager(run.ProjectPath, cfg.General.WorktreeDir, newLogger(cfg))
	if err := ws.Cleanup(pc); err != nil {
		return err
	}
	fmt.Printf("Worktree removed; branch %s and its commits remain\n", pc.Branch)
	return nil
}

func runForget(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteRun(args[0]); err != nil {
		return err
	}
	fmt.Printf("Run %s and its checkpoints deleted\n", args[0])
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	marked, err := store.MarkDeadRuns()
	if err != nil {
		return err
	}
	if len(marked) == 0 {
		fmt.Println("No dead runs found")
		return nil
	}

	fmt.Printf("Marked %d dead runs as failed:\n", len(marked))
	for _, id := range marked {
		fmt.Printf("  - %s\n", id)
	}
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}
