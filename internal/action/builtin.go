package action

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vaultship/greenlight/internal/task"
)

// RegisterBuiltins installs the handlers that ship with the worker.
func RegisterBuiltins(r *Registry) {
	r.MustRegister("noop", NewNoOp)
	r.MustRegister("archive", NewArchive)
	r.MustRegister("shellout", NewShellOut)
}

// NewNoOp builds a handler that succeeds without doing anything. Useful for
// wiring tests and for tasks whose entire effect is the lifecycle itself.
func NewNoOp(Config) (Handler, error) {
	return HandlerFunc(func(context.Context, *task.Document) Result {
		return Success("")
	}), nil
}

// NewArchive builds a handler that writes the task body into an archive
// directory outside the vault, named by task id.
func NewArchive(cfg Config) (Handler, error) {
	dir, _ := cfg["dir"].(string)
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("action: archive handler requires dir")
	}
	return HandlerFunc(func(_ context.Context, doc *task.Document) Result {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Failure(fmt.Sprintf("create archive dir: %v", err))
		}
		path := filepath.Join(dir, doc.Meta.ID+".md")
		if err := os.WriteFile(path, doc.Body, 0o644); err != nil {
			return Failure(fmt.Sprintf("write archive copy: %v", err))
		}
		return Success(path)
	}), nil
}

// NewShellOut builds a handler that runs an external command, passing the
// task's fields through the environment and its body on stdin. The command
// is fixed at construction; task metadata never becomes argv.
func NewShellOut(cfg Config) (Handler, error) {
	raw, ok := cfg["command"].([]any)
	if !ok || len(raw) == 0 {
		return nil, fmt.Errorf("action: shellout handler requires command")
	}
	argv := make([]string, 0, len(raw))
	for _, item := range raw {
		arg, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("action: shellout command must be strings, got %T", item)
		}
		argv = append(argv, arg)
	}
	return &shellOut{argv: argv}, nil
}

type shellOut struct {
	argv []string
}

func (s *shellOut) Execute(ctx context.Context, doc *task.Document) Result {
	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	cmd.Stdin = bytes.NewReader(doc.Body)
	cmd.Env = append(os.Environ(), taskEnv(doc)...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return Failure(fmt.Sprintf("command %s: %v: %s", s.argv[0], err, strings.TrimSpace(out.String())))
	}
	return Success(strings.TrimSpace(out.String()))
}

func taskEnv(doc *task.Document) []string {
	env := []string{
		"GREENLIGHT_TASK_ID=" + doc.Meta.ID,
		"GREENLIGHT_ACTION_TYPE=" + doc.Meta.ActionType,
		"GREENLIGHT_SOURCE=" + doc.Meta.Source,
		"GREENLIGHT_COUNTERPARTY=" + doc.Meta.Counterparty,
	}
	if amount, ok := doc.Meta.AmountValue(); ok {
		env = append(env, fmt.Sprintf("GREENLIGHT_AMOUNT=%g", amount))
	}
	return env
}
