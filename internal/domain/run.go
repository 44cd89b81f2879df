package domain

// Stage is one named step of the pipeline state machine.
type Stage string

const (
	StageIdle           Stage = "idle"
	StageProvisioning   Stage = "provisioning"
	StageSourceCheckout Stage = "source_checkout"
	StageBranchCreation Stage = "branch_creation"
	StageAgentExecution Stage = "agent_execution"
	StageChangeCommit   Stage = "change_commit"
	StagePublication    Stage = "publication"
	StageCleanup        Stage = "cleanup"
	StageSucceeded      Stage = "succeeded"
	StageFailed         Stage = "failed"
)

// ToolUsage tallies agent activity observed in the log stream. It feeds
// narrative text only; it is never authoritative change detection.
type ToolUsage struct {
	FilesRead    []string
	FilesCreated []string
	FilesEdited  []string
	CommandsRun  []string
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// AddRead records a file-read observation.
func (u *ToolUsage) AddRead(path string) { u.FilesRead = appendUnique(u.FilesRead, path) }

// AddCreate records a file-create observation.
func (u *ToolUsage) AddCreate(path string) { u.FilesCreated = appendUnique(u.FilesCreated, path) }

// AddEdit records a file-edit observation.
func (u *ToolUsage) AddEdit(path string) { u.FilesEdited = appendUnique(u.FilesEdited, path) }

// AddCommand records a command-execution observation.
func (u *ToolUsage) AddCommand(cmd string) { u.CommandsRun = appendUnique(u.CommandsRun, cmd) }

// Run is the mutable session state of one pipeline execution. It is
// owned exclusively by the controller for the run's duration and
// discarded at run end regardless of outcome.
type Run struct {
	Request *Request

	Owner string
	Repo  string

	SandboxID   string
	WorkingRoot string
	RepoPath    string
	BranchName  string

	Stage Stage
	Usage ToolUsage

	PRURL string
}
