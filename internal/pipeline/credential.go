package pipeline

import (
	"context"
	"fmt"

	"github.com/tinybackspace/tiny-backspace/internal/gitutil"
)

// withPushCredentials embeds the token in the remote URL, runs fn, and
// restores the clean URL before returning. This is the only place a
// credential ever touches git state: the persisted remote, and
// therefore every later `git remote -v` or log line, stays clean.
func withPushCredentials(ctx context.Context, git gitRunner, owner, repo, username, token string, fn func() error) error {
	authURL := gitutil.AuthenticatedCloneURL(owner, repo, username, token)
	cleanURL := gitutil.CloneURL(owner, repo)

	if _, err := git.mustRun(ctx, "remote", "set-url", "origin", authURL); err != nil {
		return fmt.Errorf("set authenticated remote: %w", err)
	}
	defer git.mustRun(ctx, "remote", "set-url", "origin", cleanURL)

	return fn()
}
