package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/tinybackspace/tiny-backspace/internal/sandbox"
)

var prURLPattern = regexp.MustCompile(`https://github\.com/[^\s]+/pull/\d+`)

// gitRunner executes git commands inside one sandbox repository.
type gitRunner struct {
	exec     execFunc
	repoPath string
}

// run executes a git subcommand in the repository and returns its
// result. The error covers transport only; git failure shows up in
// the exit code and output.
func (g gitRunner) run(ctx context.Context, args ...string) (sandbox.ExecResult, error) {
	quoted := make([]string, 0, len(args)+3)
	quoted = append(quoted, "git", "-C", shellQuote(g.repoPath))
	for _, arg := range args {
		quoted = append(quoted, shellQuote(arg))
	}
	return g.exec(ctx, strings.Join(quoted, " "))
}

// mustRun is run with git failure promoted to an error.
func (g gitRunner) mustRun(ctx context.Context, args ...string) (string, error) {
	result, err := g.run(ctx, args...)
	if err != nil {
		return "", err
	}
	if result.ExitCode != 0 || looksLikeGitFailure(result.Output) {
		return result.Output, fmt.Errorf("git %s failed: %s", args[0], strings.TrimSpace(result.Output))
	}
	return result.Output, nil
}

// looksLikeGitFailure catches failures that git reports on stdout with
// a zero exit code when run through a shell wrapper.
func looksLikeGitFailure(output string) bool {
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "fatal:") || strings.HasPrefix(trimmed, "error:") {
			return true
		}
	}
	return false
}

// findPRURL extracts the pull request URL from gh output.
func findPRURL(output string) string {
	return prURLPattern.FindString(output)
}

// shellQuote wraps s in single quotes, escaping embedded ones, so it
// passes through `sh -c` untouched.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
