package plugins

import (
	"fmt"
	"strings"

	"github.com/vaultship/greenlight/internal/action"
)

// HandlerDefinition describes an action handler loaded from a plugin file.
//
// The struct mirrors the on-disk schema under the plugin directory and is
// intentionally narrow so the worker can validate plugin metadata before
// wiring it into the handler registry.
type HandlerDefinition struct {
	ID          string            `json:"id" yaml:"id"`
	ActionType  string            `json:"action_type" yaml:"action_type"`
	Name        string            `json:"name,omitempty" yaml:"name,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	Version     string            `json:"version" yaml:"version"`
	Command     []string          `json:"command" yaml:"command"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Config      action.Config     `json:"config,omitempty" yaml:"config,omitempty"`
}

// Normalized returns a trimmed, copy-on-write variant of the definition.
func (def HandlerDefinition) Normalized() HandlerDefinition {
	clone := HandlerDefinition{
		ID:          strings.TrimSpace(def.ID),
		ActionType:  strings.TrimSpace(def.ActionType),
		Name:        strings.TrimSpace(def.Name),
		Description: strings.TrimSpace(def.Description),
		Version:     strings.TrimSpace(def.Version),
	}
	if len(def.Command) > 0 {
		clone.Command = make([]string, len(def.Command))
		for i, arg := range def.Command {
			clone.Command[i] = strings.TrimSpace(arg)
		}
	}
	if len(def.Env) > 0 {
		clone.Env = make(map[string]string, len(def.Env))
		for key, value := range def.Env {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Env[trimmed] = strings.TrimSpace(value)
		}
	}
	if len(def.Config) > 0 {
		clone.Config = make(action.Config, len(def.Config))
		for key, value := range def.Config {
			trimmed := strings.TrimSpace(key)
			if trimmed == "" {
				continue
			}
			clone.Config[trimmed] = value
		}
	}
	return clone
}

// Validate ensures the plugin definition is well-formed and runnable.
func (def HandlerDefinition) Validate() error {
	normalized := def.Normalized()
	if normalized.ID == "" {
		return fmt.Errorf("plugin: id is required")
	}
	if normalized.Version == "" {
		return fmt.Errorf("plugin %s: version is required", normalized.ID)
	}
	if normalized.ActionType == "" {
		return fmt.Errorf("plugin %s: action_type is required", normalized.ID)
	}
	if len(normalized.Command) == 0 {
		return fmt.Errorf("plugin %s: command is required", normalized.ID)
	}
	for idx, arg := range normalized.Command {
		if arg == "" {
			return fmt.Errorf("plugin %s: command[%d] is empty", normalized.ID, idx)
		}
	}
	return nil
}
