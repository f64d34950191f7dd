package pipeline

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Workspace is a per-session scratch directory for downloaded clips,
// extracted frames, concat lists, and the stitched output. Directories are
// namespaced by a random session ID so concurrent requests never collide.
type Workspace struct {
	SessionID string
	Root      string
}

// NewWorkspace creates the scratch directory under baseDir.
func NewWorkspace(baseDir string) (*Workspace, error) {
	sessionID := uuid.New().String()
	root := filepath.Join(baseDir, "session_"+sessionID)
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	return &Workspace{SessionID: sessionID, Root: root}, nil
}

// Path returns an absolute path for a file inside the workspace.
func (w *Workspace) Path(name string) string {
	return filepath.Join(w.Root, name)
}

// Cleanup removes the scratch directory and everything in it. Safe to call
// more than once and on partially-cleaned sessions; meant for defer so it
// runs on every terminal path.
func (w *Workspace) Cleanup() {
	if err := os.RemoveAll(w.Root); err != nil && !os.IsNotExist(err) {
		log.Printf("[Pipeline] workspace cleanup failed for %s: %v", w.Root, err)
	}
}
