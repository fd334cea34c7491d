package fs

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	iofs "io/fs"
	"path"
	"sort"
	"strings"

	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/pkg/model"
)

var (
	pathType  = model.TypeFor[Path]()
	globsType = model.TypeFor[PathGlobs]()
)

// Rules returns the rules that compute this package's products over tree.
// The rules that read the tree are uncacheable; everything derived from
// their values is persisted across runs by content.
func Rules(tree ProjectTree) []*rules.Rule {
	readers := []*rules.Rule{
		rules.Task("fs-stat", pathType, StatType, statTask(tree)),
		rules.Task("fs-read-file", pathType, FileContentType, readFileTask(tree)),
		rules.Task("fs-list-dir", pathType, DirectoryListingType, listDirTask(tree)),
	}
	for _, r := range readers {
		r.Uncacheable = true
	}
	return append(readers,
		rules.Task("fs-digest", pathType, DigestType, rules.Func(digest), rules.Select{Product: FileContentType}),
		rules.Task("fs-glob", globsType, PathsType, expandGlobs),
		rules.Task("fs-files-content", globsType, FilesContentType, rules.Func(collect[FileContent]),
			rules.SelectDependencies{Product: FileContentType, DepProduct: PathsType}),
		rules.Task("fs-digests", globsType, DigestsType, rules.Func(collect[Digest]),
			rules.SelectDependencies{Product: DigestType, DepProduct: PathsType}),
	)
}

func statTask(tree ProjectTree) rules.TaskFunc {
	return func(_ context.Context, in *rules.TaskInput) model.StepResult {
		st, err := tree.Stat(in.Subject.(Path))
		if errors.Is(err, iofs.ErrNotExist) {
			return model.Skip("path does not exist")
		}
		if err != nil {
			return model.Error(err)
		}
		return model.Value(st)
	}
}

func readFileTask(tree ProjectTree) rules.TaskFunc {
	return func(_ context.Context, in *rules.TaskInput) model.StepResult {
		p := in.Subject.(Path)
		data, err := tree.ReadFile(p)
		if errors.Is(err, iofs.ErrNotExist) {
			return model.Skip("file does not exist")
		}
		if err != nil {
			return model.Error(err)
		}
		return model.Value(FileContent{Path: p.Clean(), Content: data})
	}
}

func listDirTask(tree ProjectTree) rules.TaskFunc {
	return func(_ context.Context, in *rules.TaskInput) model.StepResult {
		p := in.Subject.(Path)
		entries, err := tree.ListDir(p)
		if errors.Is(err, iofs.ErrNotExist) {
			return model.Skip("directory does not exist")
		}
		if err != nil {
			return model.Error(err)
		}
		return model.Value(DirectoryListing{Path: p.Clean(), Entries: entries})
	}
}

func digest(_ context.Context, _ any, deps []any) (any, error) {
	fc := deps[0].(FileContent)
	sum := sha256.Sum256(fc.Content)
	return Digest{Path: fc.Path, Hash: hex.EncodeToString(sum[:]), Size: int64(len(fc.Content))}, nil
}

func collect[T any](_ context.Context, _ any, deps []any) (any, error) {
	values := deps[0].([]any)
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = v.(T)
	}
	return model.CollectionOf(out...), nil
}

// globState is one pending step of a glob walk: the remaining pattern
// segments to match below dir.
type globState struct {
	dir  Path
	segs []string
}

func (s globState) id() string {
	return string(s.dir) + "\x00" + strings.Join(s.segs, "/")
}

// expandGlobs walks the tree by requesting the directory listings it needs.
// Every invocation restarts the walk from the listings resolved so far and
// requests the ones it is still missing, until the walk completes.
func expandGlobs(_ context.Context, in *rules.TaskInput) model.StepResult {
	globs := in.Subject.(PathGlobs)

	var queue []globState
	for _, pattern := range globs.Include() {
		segs, err := splitPattern(pattern)
		if err != nil {
			return model.Error(err)
		}
		queue = append(queue, globState{dir: ".", segs: segs})
	}

	visited := make(map[string]bool)
	matches := make(map[Path]struct{})
	var missing []model.Key
	requested := make(map[model.Key]bool)

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur.id()] {
			continue
		}
		visited[cur.id()] = true

		key, err := in.KeyFor(DirectoryListingType, cur.dir)
		if err != nil {
			return model.Error(err)
		}
		st, ok := in.Lookup(key)
		if !ok {
			if !requested[key] {
				requested[key] = true
				missing = append(missing, key)
			}
			continue
		}
		switch st.Kind {
		case model.StateNoop:
			continue
		case model.StateThrow:
			return model.Error(model.NewDependencyError(key, st.Err))
		}
		listing := st.Value.(DirectoryListing)

		seg, rest := cur.segs[0], cur.segs[1:]
		if seg == "**" {
			queue = append(queue, globState{dir: cur.dir, segs: rest})
			for _, e := range listing.Entries {
				if e.IsDir {
					queue = append(queue, globState{dir: e.Path, segs: cur.segs})
				}
			}
			continue
		}
		for _, e := range listing.Entries {
			ok, err := path.Match(seg, e.Path.Base())
			if err != nil {
				return model.Error(fmt.Errorf("glob %q: %w", seg, err))
			}
			switch {
			case !ok:
			case len(rest) == 0 && !e.IsDir:
				matches[e.Path] = struct{}{}
			case len(rest) > 0 && e.IsDir:
				queue = append(queue, globState{dir: e.Path, segs: rest})
			}
		}
	}

	if len(missing) > 0 {
		return model.NeedsDependencies(missing...)
	}
	out := make([]Path, 0, len(matches))
	for p := range matches {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return model.Value(model.CollectionOf(out...))
}

// splitPattern splits a glob into segments. A trailing "**" matches every
// file below its directory.
func splitPattern(pattern string) ([]string, error) {
	if pattern == "." || pattern == "" {
		return nil, fmt.Errorf("empty glob pattern")
	}
	if pattern == ".." || strings.HasPrefix(pattern, "../") {
		return nil, fmt.Errorf("glob %q: %w", pattern, ErrOutsideRoot)
	}
	segs := strings.Split(pattern, "/")
	for _, s := range segs {
		if s == "**" {
			continue
		}
		if _, err := path.Match(s, ""); err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
	}
	if segs[len(segs)-1] == "**" {
		segs = append(segs, "*")
	}
	return segs, nil
}
