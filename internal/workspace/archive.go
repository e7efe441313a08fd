package workspace

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// EntryEscapesRootError reports an archive entry whose resolved path would
// land outside the extraction root. Always fatal, never retried.
type EntryEscapesRootError struct {
	Entry string
}

func (e *EntryEscapesRootError) Error() string {
	return fmt.Sprintf("archive entry escapes extraction root: %s", e.Entry)
}

// BuildArchive packages dir into a zip at zipPath. Entries are relative
// paths with forward slashes, written in sorted order, so packaging the same
// tree twice yields the same entry set.
func BuildArchive(dir, zipPath string) error {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "scanning workspace")
	}
	sort.Strings(files)

	out, err := os.Create(zipPath)
	if err != nil {
		return errors.Wrap(err, "creating archive")
	}
	defer out.Close()

	zw := zip.NewWriter(out)
	for _, file := range files {
		rel, err := filepath.Rel(dir, file)
		if err != nil {
			return err
		}
		if err := addArchiveEntry(zw, file, filepath.ToSlash(rel)); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return errors.Wrap(err, "finalizing archive")
	}
	return out.Close()
}

func addArchiveEntry(zw *zip.Writer, file, name string) error {
	// fixed header, no timestamps: repeat packaging stays deterministic
	header := &zip.FileHeader{
		Name:   name,
		Method: zip.Deflate,
	}
	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	in, err := os.Open(file)
	if err != nil {
		return err
	}
	defer in.Close()
	_, err = io.Copy(w, in)
	return err
}

// ExtractArchive unpacks the zip at zipPath into dest. Any entry that would
// resolve outside dest aborts the extraction.
func ExtractArchive(zipPath, dest string) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return errors.Wrap(err, "opening archive")
	}
	defer zr.Close()

	root := filepath.Clean(dest)
	for _, entry := range zr.File {
		target, err := resolveWithin(root, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return err
		}
		if err := writeArchiveEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func writeArchiveEntry(entry *zip.File, target string) error {
	in, err := entry.Open()
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, entry.Mode().Perm()|0o600)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}

// resolveWithin joins name onto root and rejects any result outside it.
func resolveWithin(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target != root && !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", &EntryEscapesRootError{Entry: name}
	}
	return target, nil
}
