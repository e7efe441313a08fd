// Package workspace materializes a generated manifest on disk, packages it
// and cleans it up. Directories are namespaced per job id so concurrent
// workers never collide, and every operation is safe to repeat.
package workspace

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	api "github.com/statichq/sitesmith/api/v1alpha1"
)

type Manager struct {
	root  string
	jobID string
	path  string
}

// NewManager creates (or reuses) the per-job scratch directory under root.
func NewManager(root, jobID string) (*Manager, error) {
	path := filepath.Join(root, jobID)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, errors.Wrap(err, "creating workspace")
	}
	return &Manager{root: root, jobID: jobID, path: path}, nil
}

// Path returns the workspace directory.
func (m *Manager) Path() string {
	return m.path
}

// WriteManifest writes every manifest file, honoring the encoding and
// executable flags, and the manifest README when present.
func (m *Manager) WriteManifest(manifest *api.Manifest) error {
	for _, file := range manifest.Files {
		target, err := resolveWithin(m.path, file.Path)
		if err != nil {
			return err
		}
		content, err := file.Bytes()
		if err != nil {
			return fmt.Errorf("decoding manifest file %s: %w", file.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		mode := os.FileMode(0o644)
		if file.Executable {
			mode = 0o755
		}
		if err := os.WriteFile(target, content, mode); err != nil {
			return errors.Wrapf(err, "writing manifest file %s", file.Path)
		}
		zap.S().Named("workspace").Debugf("wrote manifest file %s", file.Path)
	}

	if manifest.Readme != "" {
		if err := os.WriteFile(filepath.Join(m.path, "README.md"), []byte(manifest.Readme), 0o644); err != nil {
			return errors.Wrap(err, "writing README.md")
		}
	}
	return nil
}

// WriteAttachments copies the staged attachment bytes into the workspace.
func (m *Manager) WriteAttachments(attachments map[string][]byte) error {
	for name, content := range attachments {
		target, err := resolveWithin(m.path, name)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := os.WriteFile(target, content, 0o644); err != nil {
			return errors.Wrapf(err, "writing attachment %s", name)
		}
	}
	return nil
}

// EnsureReadme writes content as README.md unless the manifest already
// provided one.
func (m *Manager) EnsureReadme(content string) error {
	readme := filepath.Join(m.path, "README.md")
	if _, err := os.Stat(readme); err == nil {
		return nil
	}
	return os.WriteFile(readme, []byte(content), 0o644)
}

// HasIndex reports whether the workspace root holds an index.html.
func (m *Manager) HasIndex() bool {
	_, err := os.Stat(filepath.Join(m.path, "index.html"))
	return err == nil
}

// RunCommands executes the manifest's post-assembly commands inside the
// workspace. Callers gate this behind explicit configuration.
func (m *Manager) RunCommands(ctx context.Context, commands []string) error {
	for _, command := range commands {
		zap.S().Named("workspace").Infof("executing workspace command: %s", command)
		cmd := exec.CommandContext(ctx, "sh", "-c", command)
		cmd.Dir = m.path
		output, err := cmd.CombinedOutput()
		if err != nil {
			return fmt.Errorf("workspace command %q failed: %w: %s", command, err, strings.TrimSpace(string(output)))
		}
	}
	return nil
}

// Package archives the workspace into zipPath.
func (m *Manager) Package(zipPath string) error {
	return BuildArchive(m.path, zipPath)
}

// Cleanup removes the workspace. Deleting an already-absent workspace is
// not an error.
func (m *Manager) Cleanup() error {
	if err := os.RemoveAll(m.path); err != nil {
		return errors.Wrap(err, "cleaning workspace")
	}
	return nil
}
