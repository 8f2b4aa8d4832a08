package plugins

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleDefinition = `id: forward-invoice
version: 1.0.0
action_type: forward_invoice
name: Forward Invoice
command:
  - /usr/local/bin/forward-invoice
  - --json
env:
  INVOICE_ENDPOINT: https://billing.internal/v1
`

func TestParseDefinitionYAML(t *testing.T) {
	def, err := ParseDefinitionYAML([]byte(sampleDefinition))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if def.ID != "forward-invoice" || def.ActionType != "forward_invoice" {
		t.Fatalf("unexpected definition: %+v", def)
	}
	if len(def.Command) != 2 || def.Command[0] != "/usr/local/bin/forward-invoice" {
		t.Fatalf("unexpected command: %+v", def.Command)
	}
}

func TestParseDefinitionYAMLErrors(t *testing.T) {
	if _, err := ParseDefinitionYAML([]byte("")); err == nil {
		t.Fatalf("expected empty payload to fail validation")
	}
	if _, err := ParseDefinitionYAML([]byte("id: x\nversion: 1.0.0\n")); err == nil {
		t.Fatalf("expected incomplete definition to fail validation")
	}
}

func TestLoadDefinitionDir(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "plugin.yaml")
	if err := os.WriteFile(path, []byte(sampleDefinition), 0644); err != nil {
		t.Fatalf("write sample: %v", err)
	}
	defs, err := LoadDefinitionDir(root)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	if defs[0].Path != path {
		t.Fatalf("expected path %s, got %s", path, defs[0].Path)
	}
	if defs[0].Definition.ID != "forward-invoice" {
		t.Fatalf("unexpected id: %+v", defs[0].Definition)
	}
}

func TestLoadDefinitionDirMissing(t *testing.T) {
	defs, err := LoadDefinitionDir(filepath.Join(t.TempDir(), "missing"))
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if defs != nil {
		t.Fatalf("expected nil slice for missing dir, got %v", defs)
	}
}
