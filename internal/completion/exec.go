package completion

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ExecCompleter shells out to a local CLI completion tool, passing the
// prompt on stdin and reading the completion from stdout. The binary and its
// base arguments come from configuration.
type ExecCompleter struct {
	command string
	args    []string
}

// NewExecCompleter creates a CLI-backed completer.
func NewExecCompleter(command string, args []string) (*ExecCompleter, error) {
	if command == "" {
		return nil, fmt.Errorf("completion command is empty")
	}
	return &ExecCompleter{command: command, args: args}, nil
}

// Complete implements Completer by invoking the configured command once.
func (e *ExecCompleter) Complete(ctx context.Context, req Request) (Response, error) {
	args := append([]string(nil), e.args...)
	if req.SystemPrompt != "" {
		args = append(args, "--system-prompt", req.SystemPrompt)
	}

	cmd := exec.CommandContext(ctx, e.command, args...)
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return Response{}, fmt.Errorf("%s failed: %w (stderr: %s)", e.command, err, strings.TrimSpace(stderr.String()))
	}

	return Response{Content: strings.TrimSpace(stdout.String())}, nil
}
