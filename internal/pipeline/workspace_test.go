package pipeline

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWorkspaceCreateAndCleanup(t *testing.T) {
	base := t.TempDir()

	ws, err := NewWorkspace(base)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}

	if !strings.HasPrefix(filepath.Base(ws.Root), "session_") {
		t.Errorf("workspace root %q is not session-namespaced", ws.Root)
	}

	// Write a file through Path and confirm it lands inside the workspace.
	p := ws.Path("clip_0.mp4")
	if err := os.WriteFile(p, []byte("data"), 0644); err != nil {
		t.Fatalf("failed to write into workspace: %v", err)
	}

	ws.Cleanup()

	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Errorf("workspace root still exists after cleanup")
	}
}

func TestWorkspaceCleanupIdempotent(t *testing.T) {
	ws, err := NewWorkspace(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}

	ws.Cleanup()
	ws.Cleanup() // second call must not panic or error
}

func TestWorkspacesDoNotCollide(t *testing.T) {
	base := t.TempDir()

	a, err := NewWorkspace(base)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}
	b, err := NewWorkspace(base)
	if err != nil {
		t.Fatalf("failed to create workspace: %v", err)
	}

	if a.Root == b.Root {
		t.Errorf("two workspaces share the same root %q", a.Root)
	}
}
