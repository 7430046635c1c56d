package summarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// summaryPromptTemplate wraps the transcript in tags so the model has a
// clear boundary around untrusted content.
const summaryPromptTemplate = `Analyze this development session transcript and write a concise summary.

<transcript>
%s
</transcript>

Write 2-4 short paragraphs covering:
- What the user was trying to accomplish
- What was actually achieved, naming the key files or components changed
- Anything left unfinished or worth revisiting

Return ONLY the summary text, no preamble, no markdown headings.`

// DefaultModel balances summary quality against cost.
const DefaultModel = "sonnet"

// ClaudeGenerator produces summaries by shelling out to the claude CLI.
type ClaudeGenerator struct {
	// ClaudePath overrides the executable; defaults to "claude" in PATH.
	ClaudePath string

	// Model selects the model; defaults to DefaultModel.
	Model string

	// APIKey, when set, is passed through ANTHROPIC_API_KEY so the CLI
	// works without an interactive login.
	APIKey string

	// CommandRunner allows tests to inject the command execution.
	CommandRunner func(ctx context.Context, name string, args ...string) *exec.Cmd
}

type claudeCLIResponse struct {
	Result string `json:"result"`
}

// Generate runs the claude CLI in print mode and returns its summary text.
func (g *ClaudeGenerator) Generate(ctx context.Context, input Input) (string, error) {
	prompt := fmt.Sprintf(summaryPromptTemplate, FormatTranscript(input))

	runner := g.CommandRunner
	if runner == nil {
		runner = exec.CommandContext
	}
	claudePath := g.ClaudePath
	if claudePath == "" {
		claudePath = "claude"
	}
	mdl := g.Model
	if mdl == "" {
		mdl = DefaultModel
	}

	// --setting-sources user keeps project hooks out of print mode.
	cmd := runner(ctx, claudePath, "--print", "--output-format", "json", "--model", mdl, "--setting-sources", "user")
	cmd.Stdin = strings.NewReader(prompt)
	if g.APIKey != "" {
		cmd.Env = append(os.Environ(), "ANTHROPIC_API_KEY="+g.APIKey)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		var execErr *exec.Error
		if errors.As(err, &execErr) {
			return "", fmt.Errorf("claude CLI not found: %w", err)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("claude CLI failed (exit %d): %s", exitErr.ExitCode(), stderr.String())
		}
		return "", fmt.Errorf("running claude CLI: %w", err)
	}

	var resp claudeCLIResponse
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("parsing claude CLI response: %w", err)
	}

	return stripFences(resp.Result), nil
}

// stripFences removes a surrounding markdown code fence if the model added
// one despite being asked not to.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if idx := strings.Index(s, "\n"); idx != -1 {
		s = s[idx+1:]
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
