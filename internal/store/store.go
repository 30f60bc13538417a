// Package store is the file store of design §4.1: typed read/write of
// YAML/JSON documents, recursive directory copy and delete, listing, and
// size accounting. It encodes and decodes YAML/JSON on the caller's behalf
// but attaches no meaning to the fields of the documents it moves.
package store

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lmdudester/garcon/internal/apperrors"
)

// Store implements the file store contract over the local filesystem.
type Store struct{}

// New constructs a Store.
func New() *Store { return &Store{} }

// EnsureDir creates dir (and parents) if it does not already exist. It is
// idempotent: calling it on an existing directory is not an error.
func (s *Store) EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "ensure directory "+dir, err)
	}
	return nil
}

// Exists reports whether path exists (file or directory).
func (s *Store) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// IsDir reports whether path exists and is a directory.
func (s *Store) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// ReadYAML decodes the YAML document at path into v.
func (s *Store) ReadYAML(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(apperrors.NotFound, "read "+path, err)
		}
		return apperrors.Wrap(apperrors.FileSystem, "read "+path, err)
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(apperrors.Validation, "parse yaml "+path, err)
	}
	return nil
}

// WriteYAML atomically writes v, encoded as YAML, to path (write-then-rename
// so a reader never observes a partially-written document).
func (s *Store) WriteYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "encode yaml "+path, err)
	}
	return s.atomicWrite(path, data)
}

// ReadJSON decodes the JSON document at path into v.
func (s *Store) ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return apperrors.Wrap(apperrors.NotFound, "read "+path, err)
		}
		return apperrors.Wrap(apperrors.FileSystem, "read "+path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return apperrors.Wrap(apperrors.Validation, "parse json "+path, err)
	}
	return nil
}

// WriteJSON atomically writes v, encoded as JSON, to path.
func (s *Store) WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return apperrors.Wrap(apperrors.Internal, "encode json "+path, err)
	}
	return s.atomicWrite(path, data)
}

func (s *Store) atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := s.EnsureDir(dir); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "create temp file for "+path, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.Wrap(apperrors.FileSystem, "write temp file for "+path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(apperrors.FileSystem, "close temp file for "+path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return apperrors.Wrap(apperrors.FileSystem, "rename into place "+path, err)
	}
	return nil
}

// CopyTree recursively copies src into dst. dst is created if missing.
// A symlink to a file is copied as a regular file; a symlink to a directory
// is not followed and makes the copy fail.
func (s *Store) CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "stat "+src, err)
	}
	if !info.IsDir() {
		return apperrors.Newf(apperrors.Validation, "%s is not a directory", src)
	}

	return filepath.Walk(src, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if fi.IsDir() {
			return os.MkdirAll(target, fi.Mode())
		}
		return copyFile(path, target, fi.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "mkdir for "+dst, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "open "+src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "create "+dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "copy "+src+" -> "+dst, err)
	}
	return nil
}

// DeleteTree recursively removes path. Removing a path that does not exist
// is not an error.
func (s *Store) DeleteTree(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return apperrors.Wrap(apperrors.FileSystem, "delete "+path, err)
	}
	return nil
}

// ListFiles lists the regular files directly under dir, optionally filtered
// by extension (including the dot, e.g. ".yaml"; empty string means no
// filter). A missing directory yields an empty list, not an error.
func (s *Store) ListFiles(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.FileSystem, "list "+dir, err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext != "" && !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// ListDirs lists the subdirectory names directly under dir. A missing
// directory yields an empty list, not an error.
func (s *Store) ListDirs(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperrors.Wrap(apperrors.FileSystem, "list "+dir, err)
	}

	var dirs []string
	for _, e := range entries {
		if e.IsDir() {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

// DirSize recursively sums the size in bytes of every regular file under
// dir. A missing directory reports zero, not an error.
func (s *Store) DirSize(dir string) (int64, error) {
	if !s.Exists(dir) {
		return 0, nil
	}
	var total int64
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.FileSystem, "size "+dir, err)
	}
	return total, nil
}
