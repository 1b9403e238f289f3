// Package gittest builds throwaway git repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// RequireGit skips the test when the git binary is not available.
func RequireGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not available")
	}
}

// Run executes git in dir with a fixed identity and file transport enabled.
func Run(t testing.TB, dir string, args ...string) string {
	t.Helper()
	full := append([]string{"-c", "protocol.file.allow=always", "-c", "init.defaultBranch=master"}, args...)
	cmd := exec.Command("git", full...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
		"GIT_AUTHOR_DATE=2024-01-01T00:00:00Z", "GIT_COMMITTER_DATE=2024-01-01T00:00:00Z",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Repo creates a repository under parent/name with files committed on master and
// returns its path and head revision.
func Repo(t testing.TB, parent, name string, files map[string]string) (string, string) {
	t.Helper()
	dir := filepath.Join(parent, name)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		t.Fatal(err)
	}
	Run(t, dir, "init", "--quiet")
	Commit(t, dir, files)
	return dir, Run(t, dir, "rev-parse", "HEAD")
}

// Commit writes files into dir and commits them, returning the new revision.
func Commit(t testing.TB, dir string, files map[string]string) string {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	Run(t, dir, "add", "--all")
	Run(t, dir, "commit", "--quiet", "--allow-empty", "-m", "commit")
	return Run(t, dir, "rev-parse", "HEAD")
}

// RepoWithSubmodule creates a repository that embeds sub at path "vendor/sub" and
// returns the superproject path and revision.
func RepoWithSubmodule(t testing.TB, parent, name, sub string) (string, string) {
	t.Helper()
	dir, _ := Repo(t, parent, name, map[string]string{"src/lib.rs": "pub fn dep() {}\n"})
	Run(t, dir, "submodule", "add", "--quiet", sub, "vendor/sub")
	Run(t, dir, "commit", "--quiet", "-m", "add submodule")
	return dir, Run(t, dir, "rev-parse", "HEAD")
}
