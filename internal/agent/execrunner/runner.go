// Package execrunner adapts an external agent-runtime command into
// internal/agent.Runner. The actual LLM reasoning and every role's prompt
// template are an external collaborator's responsibility; this
// package only shells out to it and speaks a small JSON protocol over
// stdin/stdout, the same opaque-subprocess treatment git and the GitHub
// CLI get.
package execrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"github.com/ad-sdlc/pipeline-core/internal/agent"
)

type request struct {
	Role          string   `json:"role"`
	Model         string   `json:"model"`
	Tools         []string `json:"tools"`
	Prompt        string   `json:"prompt"`
	CorrelationID string   `json:"correlation_id"`
}

type response struct {
	Output     string   `json:"output"`
	Artifacts  []string `json:"artifacts"`
	TokensUsed int      `json:"tokens_used"`
	Error      string   `json:"error,omitempty"`
}

// Runner drives Command once per Invoke call, writing a JSON request to its
// stdin and parsing a JSON response from its stdout.
type Runner struct {
	Command []string
}

// New builds a Runner bound to command (argv[0] is the executable).
func New(command []string) Runner {
	return Runner{Command: command}
}

// Run implements agent.Runner.
func (r Runner) Run(ctx context.Context, role agent.Role, prompt, correlationID string) (string, []string, int, error) {
	if len(r.Command) == 0 {
		return "", nil, 0, fmt.Errorf("execrunner: no agent command configured (set agents.yaml's command: or ADSDLC_AGENT_CMD)")
	}
	req := request{
		Role: role.Name, Model: string(role.Model), Tools: role.Tools,
		Prompt: prompt, CorrelationID: correlationID,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return "", nil, 0, fmt.Errorf("execrunner: encode request: %w", err)
	}

	cmd := exec.CommandContext(ctx, r.Command[0], r.Command[1:]...)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", nil, 0, fmt.Errorf("execrunner: agent command failed: %w (stderr: %s)", err, stderr.String())
	}

	var resp response
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", nil, 0, fmt.Errorf("execrunner: decode agent response: %w", err)
	}
	if resp.Error != "" {
		return resp.Output, resp.Artifacts, resp.TokensUsed, fmt.Errorf("execrunner: agent reported error: %s", resp.Error)
	}
	return resp.Output, resp.Artifacts, resp.TokensUsed, nil
}
