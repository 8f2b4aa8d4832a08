package plugins

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/vaultship/greenlight/internal/action"
	"github.com/vaultship/greenlight/internal/task"
)

// definitionHandler runs a plugin-defined command for each task. The command
// is fixed by the definition; task fields reach the process through the
// environment and the body through stdin, never through argv.
type definitionHandler struct {
	def HandlerDefinition
}

func newDefinitionHandler(def HandlerDefinition, _ action.Config) (action.Handler, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &definitionHandler{def: def.Normalized()}, nil
}

// Execute implements action.Handler.
func (h *definitionHandler) Execute(ctx context.Context, doc *task.Document) action.Result {
	cmd := exec.CommandContext(ctx, h.def.Command[0], h.def.Command[1:]...)
	cmd.Stdin = bytes.NewReader(doc.Body)
	env := os.Environ()
	for key, value := range h.def.Env {
		env = append(env, key+"="+value)
	}
	env = append(env,
		"GREENLIGHT_TASK_ID="+doc.Meta.ID,
		"GREENLIGHT_ACTION_TYPE="+doc.Meta.ActionType,
		"GREENLIGHT_SOURCE="+doc.Meta.Source,
		"GREENLIGHT_COUNTERPARTY="+doc.Meta.Counterparty,
	)
	if amount, ok := doc.Meta.AmountValue(); ok {
		env = append(env, fmt.Sprintf("GREENLIGHT_AMOUNT=%g", amount))
	}
	cmd.Env = env
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return action.Failure(fmt.Sprintf("plugin %s: %v: %s", h.def.ID, err, strings.TrimSpace(out.String())))
	}
	return action.Success(strings.TrimSpace(out.String()))
}
