package workspace

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Staging holds decoded attachment bytes between job submission and worker
// pickup. The front door writes, the worker reads, cleanup removes the whole
// per-job directory.
type Staging struct {
	root string
}

func NewStaging(root string) *Staging {
	return &Staging{root: root}
}

func (s *Staging) dir(jobID string) string {
	return filepath.Join(s.root, jobID)
}

func (s *Staging) Write(jobID, name string, data []byte) error {
	dir := s.dir(jobID)
	target, err := resolveWithin(dir, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrap(err, "creating staging directory")
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return errors.Wrapf(err, "staging attachment %s", name)
	}
	return nil
}

// ReadAll returns every staged attachment for the job, keyed by its relative
// name. A job with no staged attachments yields an empty map.
func (s *Staging) ReadAll(jobID string) (map[string][]byte, error) {
	dir := s.dir(jobID)
	out := map[string][]byte{}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = data
		return nil
	})
	if os.IsNotExist(err) {
		return out, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "reading staged attachments")
	}
	return out, nil
}

func (s *Staging) Remove(jobID string) error {
	return os.RemoveAll(s.dir(jobID))
}
