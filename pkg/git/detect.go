// Package git provides utilities for detecting git repository information.
package git

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/papercomputeco/semsearch/pkg/document"
)

// RepoTagKey is the tag key used for the repository tag added at index time.
const RepoTagKey = "repo"

// RepoName returns the name of the git repository containing dir.
// It runs "git rev-parse --show-toplevel" in dir and returns the base
// directory name. Outside a git repo it falls back to the base name of dir.
func RepoName(dir string) string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, "git", "-C", dir, "rev-parse", "--show-toplevel").Output()
	if err == nil {
		top := strings.TrimSpace(string(out))
		if top != "" {
			return filepath.Base(top)
		}
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return filepath.Base(dir)
	}
	return filepath.Base(abs)
}

// RepoTag returns a repo:<name> tag for the repository containing dir.
// Characters not allowed in tag values are replaced with '-'.
func RepoTag(dir string) (document.Tag, error) {
	return document.ParseTag(RepoTagKey + ":" + tagValue(RepoName(dir)))
}

func tagValue(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}
