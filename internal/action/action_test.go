package action

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/vaultship/greenlight/internal/task"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("noop", NewNoOp); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := r.Register("noop", NewNoOp); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
	if err := r.Register("", NewNoOp); err == nil {
		t.Fatal("expected empty action type to fail")
	}
	handler, err := r.Resolve("noop", nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	doc := task.New("noop", "test", nil, time.Now())
	if result := handler.Execute(context.Background(), doc); !result.Success {
		t.Fatalf("noop should succeed: %+v", result)
	}
	if _, err := r.Resolve("unknown", nil); err == nil {
		t.Fatal("expected unknown action type to fail")
	}
}

func TestRegisterBuiltinsTypes(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r)
	types := r.Types()
	want := []string{"archive", "noop", "shellout"}
	if len(types) != len(want) {
		t.Fatalf("expected %v, got %v", want, types)
	}
	for i, actionType := range want {
		if types[i] != actionType {
			t.Fatalf("expected %v, got %v", want, types)
		}
	}
}

func TestArchiveWritesBody(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archive")
	handler, err := NewArchive(Config{"dir": dir})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc := task.New("archive", "test", []byte("keep this"), time.Now())
	result := handler.Execute(context.Background(), doc)
	if !result.Success {
		t.Fatalf("archive failed: %s", result.Reason)
	}
	data, err := os.ReadFile(filepath.Join(dir, doc.Meta.ID+".md"))
	if err != nil {
		t.Fatalf("read archive copy: %v", err)
	}
	if string(data) != "keep this" {
		t.Fatalf("unexpected archive content: %q", data)
	}
}

func TestArchiveRequiresDir(t *testing.T) {
	if _, err := NewArchive(Config{}); err == nil {
		t.Fatal("expected missing dir to fail")
	}
}

func TestShellOutRunsCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix shell tools")
	}
	handler, err := NewShellOut(Config{"command": []any{"cat"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc := task.New("shellout", "test", []byte("echo me"), time.Now())
	result := handler.Execute(context.Background(), doc)
	if !result.Success {
		t.Fatalf("shellout failed: %s", result.Reason)
	}
	if result.Output != "echo me" {
		t.Fatalf("expected body on stdout, got %q", result.Output)
	}
}

func TestShellOutReportsFailure(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on unix shell tools")
	}
	handler, err := NewShellOut(Config{"command": []any{"false"}})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	doc := task.New("shellout", "test", nil, time.Now())
	result := handler.Execute(context.Background(), doc)
	if result.Success {
		t.Fatal("expected failure from non-zero exit")
	}
	if !strings.Contains(result.Reason, "false") {
		t.Fatalf("reason should name the command: %q", result.Reason)
	}
}

func TestShellOutRejectsBadConfig(t *testing.T) {
	if _, err := NewShellOut(Config{}); err == nil {
		t.Fatal("expected missing command to fail")
	}
	if _, err := NewShellOut(Config{"command": []any{1}}); err == nil {
		t.Fatal("expected non-string argv to fail")
	}
}
