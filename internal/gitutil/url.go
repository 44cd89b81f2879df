package gitutil

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/tinybackspace/tiny-backspace/internal/domain"
)

var (
	// HTTPS form: https://github.com/owner/repo with optional .git
	// suffix and trailing slash.
	httpsPattern = regexp.MustCompile(`^https://github\.com/([^/]+)/([^/]+?)(?:\.git)?/?$`)

	// SSH form: git@github.com:owner/repo with optional .git suffix.
	sshPattern = regexp.MustCompile(`^git@github\.com:([^/]+)/([^/]+?)(?:\.git)?$`)
)

// ParseRepoURL extracts the owner and repository name from an HTTPS or
// SSH GitHub URL. Any other shape fails with InvalidUrlError.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	url := strings.TrimSpace(raw)

	if m := httpsPattern.FindStringSubmatch(url); m != nil {
		return m[1], m[2], nil
	}
	if m := sshPattern.FindStringSubmatch(url); m != nil {
		return m[1], m[2], nil
	}

	return "", "", &domain.PipelineError{
		Kind: domain.ErrInvalidURL,
		Message: fmt.Sprintf(
			"invalid repository URL %q: expected https://github.com/owner/repo or git@github.com:owner/repo.git", raw),
	}
}

// CloneURL returns the credential-free HTTPS clone URL for a repository.
func CloneURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
}

// AuthenticatedCloneURL embeds a username and token into the HTTPS clone
// URL. The result must never be persisted in remote configuration or
// surfaced in events.
func AuthenticatedCloneURL(owner, repo, username, token string) string {
	return fmt.Sprintf("https://%s:%s@github.com/%s/%s.git", username, token, owner, repo)
}

var (
	slugStrip = regexp.MustCompile(`[^\w\s-]`)
	slugRuns  = regexp.MustCompile(`[-\s]+`)
)

// Slugify converts free text into a branch-name-safe fragment:
// lowercase, punctuation stripped, whitespace and hyphen runs collapsed
// to single hyphens, no leading or trailing hyphen.
func Slugify(text string) string {
	slug := slugStrip.ReplaceAllString(strings.ToLower(text), "")
	slug = slugRuns.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

// branchPrefix namespaces all branches created by the pipeline.
const branchPrefix = "tb"

// BranchName derives the deterministic branch name for a request: the
// fixed prefix, an 8-char id fragment, and a slug of the prompt's first
// 30 characters.
func BranchName(requestID, prompt string) string {
	frag := requestID
	if len(frag) > 8 {
		frag = frag[:8]
	}

	head := []rune(prompt)
	if len(head) > 30 {
		head = head[:30]
	}

	name := branchPrefix + "/" + frag
	if slug := Slugify(string(head)); slug != "" {
		name += "-" + slug
	}
	return name
}
