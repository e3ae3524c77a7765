// Package storage is the blob namespace for images and narration audio.
package storage

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/menta2k/lensclip/internal/errors"
)

// Info describes a stored blob
type Info struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is a filesystem-backed blob store. Paths are slash separated and relative.
type Store struct {
	fs afero.Fs
}

// New wraps an afero filesystem
func New(fsys afero.Fs) *Store {
	return &Store{fs: fsys}
}

// NewFS returns a store rooted at dir on the local disk
func NewFS(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(fmt.Errorf("create storage root: %w", err)).
			Category(errors.CategoryStorage).
			Component("storage").
			Context("root", dir).
			Build()
	}
	return New(afero.NewBasePathFs(afero.NewOsFs(), dir)), nil
}

// NewMemory returns an in-memory store
func NewMemory() *Store {
	return New(afero.NewMemMapFs())
}

// Fs exposes the underlying filesystem
func (s *Store) Fs() afero.Fs {
	return s.fs
}

func clean(p string) (string, error) {
	p = path.Clean("/" + strings.TrimSpace(p))
	if p == "/" {
		return "", errors.Newf("storage: empty path").
			Category(errors.CategoryValidation).
			Component("storage").
			Build()
	}
	return strings.TrimPrefix(p, "/"), nil
}

func wrap(op, p string, err error) error {
	cat := errors.CategoryStorage
	if os.IsNotExist(err) {
		cat = errors.CategoryNotFound
	}
	return errors.New(fmt.Errorf("storage %s %s: %w", op, p, err)).
		Category(cat).
		Component("storage").
		Context("path", p).
		Build()
}

// Put writes data at p, replacing any existing blob
func (s *Store) Put(ctx context.Context, p string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := clean(p)
	if err != nil {
		return err
	}
	if dir := path.Dir(p); dir != "." {
		if err := s.fs.MkdirAll(dir, 0o755); err != nil {
			return wrap("mkdir", dir, err)
		}
	}
	if err := afero.WriteFile(s.fs, p, data, 0o644); err != nil {
		return wrap("put", p, err)
	}
	return nil
}

// Get reads the blob at p
func (s *Store) Get(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := clean(p)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, wrap("get", p, err)
	}
	return data, nil
}

// Stat returns the blob metadata
func (s *Store) Stat(ctx context.Context, p string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	p, err := clean(p)
	if err != nil {
		return Info{}, err
	}
	fi, err := s.fs.Stat(p)
	if err != nil {
		return Info{}, wrap("stat", p, err)
	}
	return Info{Path: p, Size: fi.Size(), ModTime: fi.ModTime()}, nil
}

// Exists reports whether a blob is present at p
func (s *Store) Exists(ctx context.Context, p string) (bool, error) {
	_, err := s.Stat(ctx, p)
	if err == nil {
		return true, nil
	}
	if errors.IsNotFound(err) {
		return false, nil
	}
	return false, err
}

// Delete removes the blob at p. Missing blobs are not an error.
func (s *Store) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := clean(p)
	if err != nil {
		return err
	}
	if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return wrap("delete", p, err)
	}
	return nil
}

// List returns every blob under prefix, sorted by path
func (s *Store) List(ctx context.Context, prefix string) ([]Info, error) {
	root, err := clean(prefix)
	if err != nil {
		return nil, err
	}
	var out []Info
	err = afero.Walk(s.fs, root, func(p string, fi fs.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if fi.IsDir() {
			return nil
		}
		out = append(out, Info{Path: path.Clean(p), Size: fi.Size(), ModTime: fi.ModTime()})
		return nil
	})
	if err != nil {
		return nil, wrap("list", root, err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Touch sets the modification time of a blob
func (s *Store) Touch(p string, t time.Time) error {
	p, err := clean(p)
	if err != nil {
		return err
	}
	if err := s.fs.Chtimes(p, t, t); err != nil {
		return wrap("touch", p, err)
	}
	return nil
}
