package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tinybackspace/tiny-backspace/internal/changeset"
	"github.com/tinybackspace/tiny-backspace/internal/config"
	"github.com/tinybackspace/tiny-backspace/internal/domain"
	"github.com/tinybackspace/tiny-backspace/internal/gitutil"
	"github.com/tinybackspace/tiny-backspace/internal/message"
	"github.com/tinybackspace/tiny-backspace/internal/sandbox"
)

// Controller drives one change request through the full pipeline. It is
// stateless across runs; all per-run state lives in the session.
type Controller struct {
	gateway sandbox.Gateway
	cfg     *config.Config
	markers MarkerSource
}

// NewController wires a controller to its sandbox gateway, settings and
// marker source.
func NewController(gateway sandbox.Gateway, cfg *config.Config, markers MarkerSource) *Controller {
	if markers == nil {
		markers = DefaultMarkers()
	}
	return &Controller{gateway: gateway, cfg: cfg, markers: markers}
}

// session is the working state of one run.
type session struct {
	ctrl *Controller
	run  *domain.Run
	sink Sink

	handle sandbox.Handle
	git    gitRunner

	logPath    string
	scriptPath string
	tempFiles  []string
}

// Process executes the request end to end and returns the run record.
// Once a sandbox exists, cleanup always runs, whatever the outcome.
func (c *Controller) Process(ctx context.Context, req *domain.Request, sink Sink) (*domain.Run, error) {
	if sink == nil {
		sink = DiscardSink
	}

	run := &domain.Run{Request: req, Stage: domain.StageIdle, WorkingRoot: c.cfg.General.WorkingRoot}
	s := &session{ctrl: c, run: run, sink: sink}

	owner, repo, err := gitutil.ParseRepoURL(req.RepoURL)
	if err != nil {
		return run, s.fail(err)
	}
	run.Owner, run.Repo = owner, repo

	if err := c.cfg.Validate(); err != nil {
		return run, s.fail(err)
	}

	// Provisioning failure needs no cleanup: nothing exists yet.
	if err := s.provision(ctx); err != nil {
		return run, s.fail(err)
	}
	defer s.cleanup(ctx)

	if err := s.prepareWorkspace(ctx); err != nil {
		return run, s.fail(err)
	}
	if err := s.checkout(ctx); err != nil {
		return run, s.fail(err)
	}
	if err := s.createBranch(ctx); err != nil {
		return run, s.fail(err)
	}
	if err := s.runAgent(ctx); err != nil {
		return run, s.fail(err)
	}
	cs, intent, err := s.commitChanges(ctx)
	if err != nil {
		return run, s.fail(err)
	}
	if err := s.publish(ctx, cs, intent); err != nil {
		return run, s.fail(err)
	}

	run.Stage = domain.StageSucceeded
	sink.Emit(domain.CompleteEvent(req.RequestID, run.PRURL))
	return run, nil
}

func (s *session) fail(err error) error {
	s.run.Stage = domain.StageFailed
	s.sink.Emit(domain.ErrorEvent(s.run.Request.RequestID, err))
	return err
}

func (s *session) progress(stage domain.Stage, msg string, pct int) {
	s.run.Stage = stage
	s.sink.Emit(domain.ProgressEvent(s.run.Request.RequestID, stage, msg, pct))
}

// exec runs one shell command in the session's sandbox.
func (s *session) exec(ctx context.Context, command string) (sandbox.ExecResult, error) {
	return s.ctrl.gateway.Exec(ctx, s.handle, command, "")
}

// stageFile writes content into the sandbox through a quoted heredoc.
// The delimiter carries the request id fragment so prompt text echoed
// into the document can never terminate it early.
func (s *session) stageFile(ctx context.Context, path, content string) error {
	eof := "TB_EOF_" + s.run.Request.ShortID()
	cmd := fmt.Sprintf("cat > %s <<'%s'\n%s\n%s", path, eof, content, eof)
	result, err := s.exec(ctx, cmd)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return domain.Errf(domain.ErrInternal, "failed to stage "+path)
	}
	return nil
}

func (s *session) provision(ctx context.Context) error {
	s.progress(domain.StageProvisioning, "Creating sandbox environment", 5)

	handle, err := s.ctrl.gateway.Create(ctx, sandbox.Profile{
		Name:      s.ctrl.cfg.Sandbox.NamePrefix + s.run.Request.ShortID(),
		AgentType: s.ctrl.cfg.Agent.Type,
		CPU:       s.ctrl.cfg.Sandbox.CPU,
		MemoryGB:  s.ctrl.cfg.Sandbox.MemoryGB,
	})
	if err != nil {
		return err
	}

	s.handle = handle
	s.run.SandboxID = handle.ID

	// The environment reports its own working directory; the configured
	// value is only a fallback for providers that return nothing.
	if result, err := s.exec(ctx, "pwd"); err == nil {
		if dir := strings.TrimSpace(result.Output); dir != "" && result.ExitCode == 0 {
			s.run.WorkingRoot = dir
		}
	}
	return nil
}

// prepareWorkspace sets up the working directory, git identity and gh
// authentication. The token reaches gh through a temp file, never an
// argument, and the file is removed immediately.
func (s *session) prepareWorkspace(ctx context.Context) error {
	cmds := []string{
		"mkdir -p " + shellQuote(s.run.WorkingRoot),
		"git config --global user.email " + shellQuote("bot@tinybackspace.dev"),
		"git config --global user.name " + shellQuote("Tiny Backspace"),
	}
	for _, cmd := range cmds {
		result, err := s.exec(ctx, cmd)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return domain.Errf(domain.ErrProvisioning, "workspace setup failed: "+strings.TrimSpace(result.Output))
		}
	}

	tokenFile := "/tmp/.gh-token-" + s.run.Request.ShortID()
	auth := fmt.Sprintf("printf '%%s' %s > %s && gh auth login --with-token < %s; rm -f %s",
		shellQuote(s.ctrl.cfg.GitHub.Token), tokenFile, tokenFile, tokenFile)
	if _, err := s.exec(ctx, auth); err != nil {
		return err
	}

	// Profile-specific setup, e.g. installing the agent CLI when the
	// sandbox image does not ship it.
	for _, cmd := range s.ctrl.cfg.Agent.SetupCommands {
		result, err := s.exec(ctx, cmd)
		if err != nil {
			return err
		}
		if result.ExitCode != 0 {
			return domain.Errf(domain.ErrProvisioning,
				"agent setup command failed: "+strings.TrimSpace(result.Output))
		}
	}
	return nil
}

func (s *session) checkout(ctx context.Context) error {
	s.progress(domain.StageSourceCheckout, "Cloning repository", 15)

	repoPath := s.run.WorkingRoot + "/" + s.run.Repo
	s.run.RepoPath = repoPath
	s.git = gitRunner{exec: s.exec, repoPath: repoPath}

	// A stale directory from a previous attempt would make clone fail.
	if _, err := s.exec(ctx, "rm -rf "+shellQuote(repoPath)); err != nil {
		return err
	}

	authURL := gitutil.AuthenticatedCloneURL(s.run.Owner, s.run.Repo,
		s.ctrl.cfg.GitHub.Username, s.ctrl.cfg.GitHub.Token)
	cloneCmd := fmt.Sprintf("git clone --depth 1 %s %s 2>&1", shellQuote(authURL), shellQuote(repoPath))
	result, err := s.exec(ctx, cloneCmd)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 || looksLikeGitFailure(result.Output) {
		return &domain.PipelineError{
			Kind:    domain.ErrClone,
			Message: fmt.Sprintf("failed to clone %s/%s", s.run.Owner, s.run.Repo),
			Detail:  scrubToken(result.Output, s.ctrl.cfg.GitHub.Token),
		}
	}

	// The .git directory is the authoritative clone check: output
	// scanning alone misses silent failures. It must run before any
	// git command against the clone, or their errors would mask the
	// real condition and skip the diagnostic listing.
	probe, err := s.exec(ctx, "test -d "+shellQuote(repoPath+"/.git"))
	if err != nil {
		return err
	}
	if probe.ExitCode != 0 {
		listing, _ := s.exec(ctx, "ls "+shellQuote(s.run.WorkingRoot))
		return &domain.PipelineError{
			Kind:    domain.ErrClone,
			Message: "clone produced no repository",
			Detail:  "working root contains: " + strings.TrimSpace(listing.Output),
		}
	}

	// Drop the credentialed URL before anything else can observe it.
	cleanURL := gitutil.CloneURL(s.run.Owner, s.run.Repo)
	if _, err := s.git.mustRun(ctx, "remote", "set-url", "origin", cleanURL); err != nil {
		return domain.Errf(domain.ErrClone, "failed to reset remote url")
	}
	return nil
}

func (s *session) createBranch(ctx context.Context) error {
	s.progress(domain.StageBranchCreation, "Creating working branch", 30)

	branch := gitutil.BranchName(s.run.Request.RequestID, s.run.Request.Prompt)
	s.run.BranchName = branch

	if out, err := s.git.mustRun(ctx, "checkout", "-b", branch); err != nil {
		return &domain.PipelineError{
			Kind:    domain.ErrBranch,
			Message: "failed to create branch " + branch,
			Detail:  strings.TrimSpace(out),
		}
	}
	return nil
}

// runAgent launches the coding agent detached and follows its log
// until it finishes or the monitor gives up on it.
func (s *session) runAgent(ctx context.Context) error {
	s.progress(domain.StageAgentExecution, "Running coding agent", 40)

	id := s.run.Request.ShortID()
	s.logPath = "/tmp/agent-" + id + ".log"
	s.scriptPath = "/tmp/agent-" + id + ".sh"
	s.tempFiles = append(s.tempFiles, s.logPath, s.scriptPath)

	markers := s.ctrl.markers.Current()
	script := agentScript(s.run.RepoPath, s.run.Request.Prompt, s.ctrl.cfg.Agent.Type, markers)
	if err := s.stageFile(ctx, s.scriptPath, script); err != nil {
		return err
	}
	if _, err := s.exec(ctx, "chmod +x "+s.scriptPath); err != nil {
		return err
	}

	launch := fmt.Sprintf("nohup bash %s > %s 2>&1 & echo started", s.scriptPath, s.logPath)
	if _, err := s.exec(ctx, launch); err != nil {
		return err
	}

	monitor := NewMonitor(s.exec, s.sink, markers, s.run.Request.RequestID, s.logPath, s.scriptPath)
	monitor.SetTimings(
		time.Duration(s.ctrl.cfg.Agent.PollSeconds)*time.Second,
		time.Duration(s.ctrl.cfg.Agent.TimeoutSeconds)*time.Second,
		time.Duration(s.ctrl.cfg.Agent.GraceSeconds)*time.Second,
	)

	result, err := monitor.Wait(ctx)
	if err != nil {
		return err
	}
	if result.TimedOut {
		// A timed-out agent may still have produced useful changes.
		// Whether the run fails is decided by the change check, not
		// the clock.
		s.exec(ctx, "pkill -f "+shellQuote(s.scriptPath)+" || true")
	}

	if log, ok := readFullLog(ctx, s.exec, s.logPath); ok {
		s.run.Usage = markers.ExtractUsage(log)
	}
	return nil
}

// commitChanges inspects the work tree, stages everything and commits.
// A clean tree is a failed run: the request produced nothing.
func (s *session) commitChanges(ctx context.Context) (*changeset.ChangeSet, message.Intent, error) {
	s.progress(domain.StageChangeCommit, "Committing changes", 70)

	status, err := s.git.mustRun(ctx, "status", "--porcelain")
	if err != nil {
		return nil, "", err
	}
	if strings.TrimSpace(status) == "" {
		return nil, "", domain.Errf(domain.ErrNoChanges, "agent made no changes to the repository")
	}

	// Unstaged view first, for narration only. The authoritative set is
	// rebuilt from the staged view after git add.
	pre := changeset.Analyze(status, func(path string) (string, error) {
		return s.git.mustRun(ctx, "diff", "--numstat", "--", path)
	})
	s.sink.Emit(domain.MessageEvent(s.run.Request.RequestID,
		fmt.Sprintf("agent changed %d files", pre.Stats.TotalFiles)))

	if _, err := s.git.mustRun(ctx, "add", "-A"); err != nil {
		return nil, "", err
	}

	// Re-read after staging so untracked files get real numstat data.
	status, err = s.git.mustRun(ctx, "status", "--porcelain")
	if err != nil {
		return nil, "", err
	}
	cs := changeset.Analyze(status, func(path string) (string, error) {
		return s.git.mustRun(ctx, "diff", "--cached", "--numstat", "--", path)
	})

	intent := message.ClassifyIntent(s.run.Request.Prompt, cs)
	commitMsg := message.CommitMessage(intent, s.run.Request.Prompt, cs)

	msgFile := "/tmp/commit-msg-" + s.run.Request.ShortID()
	s.tempFiles = append(s.tempFiles, msgFile)
	if err := s.stageFile(ctx, msgFile, commitMsg); err != nil {
		return nil, "", err
	}

	if out, err := s.git.mustRun(ctx, "commit", "-F", msgFile); err != nil {
		return nil, "", fmt.Errorf("commit failed: %s", strings.TrimSpace(out))
	}

	s.sink.Emit(domain.ChangeSummaryEvent(s.run.Request.RequestID,
		cs.Stats.TotalFiles, cs.Stats.TotalAdditions, cs.Stats.TotalDeletions, string(intent)))
	return cs, intent, nil
}

func (s *session) publish(ctx context.Context, cs *changeset.ChangeSet, intent message.Intent) error {
	s.progress(domain.StagePublication, "Publishing pull request", 85)

	probe, err := s.exec(ctx, "test -d "+shellQuote(s.run.RepoPath+"/.git"))
	if err != nil {
		return err
	}
	if probe.ExitCode != 0 {
		return domain.Errf(domain.ErrPublication, "repository vanished before publication")
	}

	err = withPushCredentials(ctx, s.git, s.run.Owner, s.run.Repo,
		s.ctrl.cfg.GitHub.Username, s.ctrl.cfg.GitHub.Token, func() error {
			out, err := s.git.mustRun(ctx, "push", "-u", "origin", s.run.BranchName)
			if err != nil {
				return &domain.PipelineError{
					Kind:    domain.ErrPublication,
					Message: "failed to push branch " + s.run.BranchName,
					Detail:  scrubToken(strings.TrimSpace(out), s.ctrl.cfg.GitHub.Token),
				}
			}
			return nil
		})
	if err != nil {
		return err
	}

	body := message.PRBody(s.run.Request.Prompt, cs, s.run.Usage, s.run.BranchName, s.run.Request.RequestID)
	bodyFile := "/tmp/pr-body-" + s.run.Request.ShortID()
	s.tempFiles = append(s.tempFiles, bodyFile)
	if err := s.stageFile(ctx, bodyFile, body); err != nil {
		return err
	}

	title := message.PRTitle(intent, s.run.Request.Prompt)
	createCmd := fmt.Sprintf("cd %s && gh pr create --title %s --body-file %s --head %s 2>&1",
		shellQuote(s.run.RepoPath), shellQuote(title), bodyFile, shellQuote(s.run.BranchName))
	result, err := s.exec(ctx, createCmd)
	if err != nil {
		return err
	}

	url := findPRURL(result.Output)
	if url == "" {
		return &domain.PipelineError{
			Kind:    domain.ErrPublication,
			Message: "pull request creation returned no url",
			Detail:  strings.TrimSpace(result.Output),
		}
	}

	s.run.PRURL = url
	s.sink.Emit(domain.PRCreatedEvent(s.run.Request.RequestID, url, s.run.BranchName))
	return nil
}

// cleanup tears the sandbox down. Nothing here can change the run's
// outcome; failures are reported as cleanup events and swallowed.
func (s *session) cleanup(ctx context.Context) {
	id := s.run.Request.RequestID
	s.sink.Emit(domain.CleanupEvent(id, "cleaning up sandbox "+s.handle.ID))

	if s.logPath != "" {
		if log, ok := readFullLog(ctx, s.exec, s.logPath); ok && strings.TrimSpace(log) != "" {
			lines := strings.Split(strings.TrimRight(log, "\n"), "\n")
			s.sink.Emit(domain.CleanupEvent(id,
				fmt.Sprintf("agent log captured: %d lines", len(lines))))
		}
	}

	if len(s.tempFiles) > 0 {
		quoted := make([]string, len(s.tempFiles))
		for i, f := range s.tempFiles {
			quoted[i] = shellQuote(f)
		}
		s.exec(ctx, "rm -f "+strings.Join(quoted, " "))
	}

	if err := s.ctrl.gateway.Destroy(ctx, s.handle); err != nil {
		s.sink.Emit(domain.CleanupEvent(id, "failed to delete sandbox: "+err.Error()))
		return
	}
	s.sink.Emit(domain.CleanupEvent(id, "sandbox deleted"))
}

// agentPrompt wraps the user's request in the fixed instructions every
// agent run gets, whatever the task.
func agentPrompt(userPrompt string) string {
	return strings.Join([]string{
		"You are working in a cloned repository. Complete the following task:",
		"",
		userPrompt,
		"",
		"Guidelines:",
		"- Explore the repository structure before making changes.",
		"- Identify the files the task concerns before editing them.",
		"- Implement the change completely.",
		"- Preserve the existing code style and conventions.",
		"- Do not modify configuration files unless the task requires it.",
		"- Stay scoped to the task and avoid unrelated changes.",
	}, "\n")
}

// agentScript renders the wrapper the agent runs under. The wrapper
// owns the log markers the monitor classifies, including the final
// completion line.
func agentScript(repoPath, prompt, agentType string, markers MarkerSet) string {
	full := agentPrompt(prompt)
	agentCmd := "claude -p " + shellQuote(full) + " --dangerously-skip-permissions"
	if agentType == "opencode" {
		agentCmd = "opencode run " + shellQuote(full)
	}

	return strings.Join([]string{
		"#!/bin/bash",
		"cd " + shellQuote(repoPath),
		`echo "[$(date +%H:%M:%S)] Starting coding agent"`,
		agentCmd,
		`code=$?`,
		fmt.Sprintf(`echo "[$(date +%%H:%%M:%%S)] %s $code"`, markers.Completion),
	}, "\n")
}

func readFullLog(ctx context.Context, exec execFunc, logPath string) (string, bool) {
	result, err := exec(ctx, "cat "+shellQuote(logPath)+" 2>/dev/null || true")
	if err != nil {
		return "", false
	}
	return result.Output, true
}

// scrubToken removes the credential from text destined for events or
// error detail.
func scrubToken(text, token string) string {
	if token == "" {
		return text
	}
	return strings.ReplaceAll(text, token, "***")
}
