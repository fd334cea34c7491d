package fs

import (
	"errors"
	"fmt"
	iofs "io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrOutsideRoot is returned for paths that escape the project root.
var ErrOutsideRoot = errors.New("path escapes project root")

// ProjectTree is read access to a project directory.
type ProjectTree interface {
	// Stat reports iofs.ErrNotExist for missing paths.
	Stat(p Path) (Stat, error)
	ReadFile(p Path) ([]byte, error)
	ListDir(p Path) ([]Stat, error)
	Exists(p Path) (bool, error)
}

// FileSystemProjectTree is a ProjectTree over a directory on disk.
type FileSystemProjectTree struct {
	root string
}

var _ ProjectTree = (*FileSystemProjectTree)(nil)

// NewFileSystemProjectTree opens the tree rooted at root, which must be an
// existing directory.
func NewFileSystemProjectTree(root string) (*FileSystemProjectTree, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve build root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("build root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("build root %s is not a directory", abs)
	}
	return &FileSystemProjectTree{root: abs}, nil
}

// Root returns the absolute root directory.
func (t *FileSystemProjectTree) Root() string { return t.root }

// Rel converts an absolute path below the root into a Path.
func (t *FileSystemProjectTree) Rel(abs string) (Path, error) {
	rel, err := filepath.Rel(t.root, abs)
	if err != nil {
		return "", err
	}
	p := Path(filepath.ToSlash(rel)).Clean()
	if p == ".." || strings.HasPrefix(string(p), "../") {
		return "", fmt.Errorf("%s: %w", abs, ErrOutsideRoot)
	}
	return p, nil
}

func (t *FileSystemProjectTree) abs(p Path) (string, error) {
	c := Path(filepath.ToSlash(string(p))).Clean()
	if c == ".." || strings.HasPrefix(string(c), "../") || filepath.IsAbs(string(p)) {
		return "", fmt.Errorf("%s: %w", p, ErrOutsideRoot)
	}
	return filepath.Join(t.root, filepath.FromSlash(string(c))), nil
}

func (t *FileSystemProjectTree) Stat(p Path) (Stat, error) {
	abs, err := t.abs(p)
	if err != nil {
		return Stat{}, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return Stat{}, err
	}
	return statOf(p.Clean(), info), nil
}

func (t *FileSystemProjectTree) ReadFile(p Path) ([]byte, error) {
	abs, err := t.abs(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

func (t *FileSystemProjectTree) ListDir(p Path) ([]Stat, error) {
	abs, err := t.abs(p)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, err
	}
	out := make([]Stat, 0, len(entries))
	dir := p.Clean()
	for _, e := range entries {
		info, err := e.Info()
		if errors.Is(err, iofs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, statOf(dir.Join(e.Name()), info))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (t *FileSystemProjectTree) Exists(p Path) (bool, error) {
	_, err := t.Stat(p)
	if errors.Is(err, iofs.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func statOf(p Path, info iofs.FileInfo) Stat {
	st := Stat{Path: p, IsDir: info.IsDir()}
	if !st.IsDir {
		st.Size = info.Size()
	}
	return st
}
