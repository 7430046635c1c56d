// Package versioncheck notifies the user when a newer lore release exists.
// Checks hit the GitHub API at most once a day and fail silently; an
// unreachable network must never break a command.
package versioncheck

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/mod/semver"

	"github.com/varalys/lore/cmd/lore/cli/paths"
)

// VersionCache records when the last check ran.
type VersionCache struct {
	LastCheckTime time.Time `json:"last_check_time"`
}

// GitHubRelease is the subset of the GitHub release API lore reads.
type GitHubRelease struct {
	TagName    string `json:"tag_name"`
	Prerelease bool   `json:"prerelease"`
}

// githubAPIURL is a var so tests can point it at a local server.
var githubAPIURL = "https://api.github.com/repos/varalys/lore/releases/latest"

const (
	checkInterval = 24 * time.Hour
	httpTimeout   = 2 * time.Second
	cacheFileName = "version_check.json"
)

// CheckAndNotify checks for a newer release and prints a notice on the
// command's stdout when one exists. Silent on every error path.
func CheckAndNotify(cmd *cobra.Command, currentVersion string) {
	if cmd.Hidden {
		return
	}
	if currentVersion == "dev" || currentVersion == "" {
		return
	}

	cache, err := loadCache()
	if err != nil {
		cache = &VersionCache{}
	}
	if time.Since(cache.LastCheckTime) < checkInterval {
		return
	}

	latestVersion, err := fetchLatestVersion()

	// Update the cache even on failure so a dead network is retried at
	// most once a day, not on every invocation.
	cache.LastCheckTime = time.Now()
	if saveErr := saveCache(cache); saveErr != nil {
		slog.Debug("version check: saving cache failed", "error", saveErr)
	}

	if err != nil {
		slog.Debug("version check: fetching latest version failed", "error", err)
		return
	}

	if isOutdated(currentVersion, latestVersion) {
		printNotification(cmd, currentVersion, latestVersion)
	}
}

func cacheFilePath() (string, error) {
	dir, err := paths.LoreDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, cacheFileName), nil
}

func loadCache() (*VersionCache, error) {
	filePath, err := cacheFilePath()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filePath) //nolint:gosec // path is under the lore dir
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}

	var cache VersionCache
	if err := json.Unmarshal(data, &cache); err != nil {
		return nil, fmt.Errorf("parsing cache: %w", err)
	}
	return &cache, nil
}

func saveCache(cache *VersionCache) error {
	filePath, err := cacheFilePath()
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(filePath), ".version_check_tmp_")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer os.Remove(tmpFile.Name())

	if _, err := tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("writing cache: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpFile.Name(), filePath); err != nil {
		return fmt.Errorf("renaming cache file: %w", err)
	}
	return nil
}

func fetchLatestVersion() (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), httpTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, githubAPIURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "lore-cli")

	resp, err := (&http.Client{}).Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("reading response: %w", err)
	}

	return parseGitHubRelease(body)
}

func parseGitHubRelease(body []byte) (string, error) {
	var release GitHubRelease
	if err := json.Unmarshal(body, &release); err != nil {
		return "", fmt.Errorf("parsing JSON: %w", err)
	}
	if release.Prerelease {
		return "", errors.New("only prerelease versions available")
	}
	if release.TagName == "" {
		return "", errors.New("empty tag name")
	}
	return release.TagName, nil
}

// isOutdated reports whether current < latest under semver ordering.
func isOutdated(current, latest string) bool {
	if !strings.HasPrefix(current, "v") {
		current = "v" + current
	}
	if !strings.HasPrefix(latest, "v") {
		latest = "v" + latest
	}
	return semver.Compare(current, latest) < 0
}

func updateCommand() string {
	execPath, err := os.Executable()
	if err != nil {
		return "go install github.com/varalys/lore/cmd/lore@latest"
	}

	// Homebrew symlinks bin/ into the Cellar.
	realPath, err := filepath.EvalSymlinks(execPath)
	if err != nil {
		realPath = execPath
	}
	if strings.Contains(realPath, "/Cellar/") || strings.Contains(realPath, "/homebrew/") {
		return "brew upgrade lore"
	}
	return "go install github.com/varalys/lore/cmd/lore@latest"
}

func printNotification(cmd *cobra.Command, current, latest string) {
	fmt.Fprintf(cmd.OutOrStdout(), "\nA newer version of lore is available: %s (current: %s)\nRun '%s' to update.\n",
		latest, current, updateCommand())
}
