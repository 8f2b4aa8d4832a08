package plugins

import (
	"strings"
	"testing"
)

func TestHandlerDefinitionValidate(t *testing.T) {
	def := HandlerDefinition{
		ID:         "forward-invoice",
		ActionType: "forward_invoice",
		Name:       "Forward Invoice",
		Version:    "1.0.0",
		Command:    []string{"/usr/local/bin/forward-invoice", "--json"},
	}
	if err := def.Validate(); err != nil {
		t.Fatalf("expected definition to validate, got %v", err)
	}
}

func TestHandlerDefinitionValidateFailures(t *testing.T) {
	tests := []struct {
		name string
		def  HandlerDefinition
		msg  string
	}{
		{
			name: "missing id",
			def: HandlerDefinition{
				ActionType: "forward_invoice",
				Version:    "1.0.0",
				Command:    []string{"run"},
			},
			msg: "id is required",
		},
		{
			name: "missing version",
			def: HandlerDefinition{
				ID:         "forward-invoice",
				ActionType: "forward_invoice",
				Command:    []string{"run"},
			},
			msg: "version is required",
		},
		{
			name: "missing action type",
			def: HandlerDefinition{
				ID:      "forward-invoice",
				Version: "1.0.0",
				Command: []string{"run"},
			},
			msg: "action_type is required",
		},
		{
			name: "missing command",
			def: HandlerDefinition{
				ID:         "forward-invoice",
				ActionType: "forward_invoice",
				Version:    "1.0.0",
			},
			msg: "command is required",
		},
		{
			name: "blank argv entry",
			def: HandlerDefinition{
				ID:         "forward-invoice",
				ActionType: "forward_invoice",
				Version:    "1.0.0",
				Command:    []string{"run", "   "},
			},
			msg: "command[1] is empty",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.def.Validate(); err == nil || !strings.Contains(err.Error(), tc.msg) {
				t.Fatalf("expected error containing %q, got %v", tc.msg, err)
			}
		})
	}
}

func TestHandlerDefinitionNormalizedTrims(t *testing.T) {
	def := HandlerDefinition{
		ID:         "  forward-invoice  ",
		ActionType: " forward_invoice ",
		Version:    " 1.0.0 ",
		Command:    []string{" run ", " --flag "},
		Env:        map[string]string{" KEY ": " value ", "": "dropped"},
	}
	normalized := def.Normalized()
	if normalized.ID != "forward-invoice" || normalized.ActionType != "forward_invoice" {
		t.Fatalf("unexpected normalization: %+v", normalized)
	}
	if normalized.Command[0] != "run" || normalized.Command[1] != "--flag" {
		t.Fatalf("command not trimmed: %+v", normalized.Command)
	}
	if normalized.Env["KEY"] != "value" {
		t.Fatalf("env not trimmed: %+v", normalized.Env)
	}
	if _, kept := normalized.Env[""]; kept {
		t.Fatalf("empty env key should be dropped: %+v", normalized.Env)
	}
}
