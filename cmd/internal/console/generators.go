package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/ArimaSeiichi/SillyTavern-Co-op/cmd/internal/coop"
)

// EchoGenerator answers with the prompt itself. Useful for trying a session
// without a model behind the host.
type EchoGenerator struct{}

// Generate returns the prompt as an assistant message prefixed with (echo).
func (EchoGenerator) Generate(_ context.Context, prompt string) (coop.ChatMessage, error) {
	return coop.ChatMessage{Role: coop.RoleAssistant, Text: "(echo) " + prompt}, nil
}

// ExecGenerator runs Command through the shell with the prompt on stdin and
// uses trimmed stdout as the assistant message.
type ExecGenerator struct {
	Command string
	Shell   string
}

// Generate runs the command once per prompt. A non-zero exit or empty stdout
// is an error; stderr is folded into the error text. Shell defaults to /bin/sh.
func (g ExecGenerator) Generate(ctx context.Context, prompt string) (coop.ChatMessage, error) {
	if strings.TrimSpace(g.Command) == "" {
		return coop.ChatMessage{}, errors.New("generate command is empty")
	}
	shell := g.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", g.Command)
	cmd.Stdin = strings.NewReader(prompt)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return coop.ChatMessage{}, fmt.Errorf("generate command: %w: %s", err, msg)
		}
		return coop.ChatMessage{}, fmt.Errorf("generate command: %w", err)
	}

	text := strings.TrimSpace(stdout.String())
	if text == "" {
		return coop.ChatMessage{}, errors.New("generate command produced no output")
	}
	return coop.ChatMessage{Role: coop.RoleAssistant, Text: text}, nil
}
