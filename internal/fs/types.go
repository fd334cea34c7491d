// Package fs exposes a project directory to the scheduler. It defines path
// subjects and the products computed for them, plus the rules that read the
// tree and expand globs through directory listings.
package fs

import (
	"path"
	"sort"
	"strings"

	"github.com/me/prodgraph/internal/store"
	"github.com/me/prodgraph/pkg/model"
)

// Path is a slash-separated path relative to the project root. The root
// itself is ".".
type Path string

// Clean returns p in canonical form.
func (p Path) Clean() Path {
	c := path.Clean(strings.TrimPrefix(string(p), "/"))
	return Path(c)
}

// Join returns the child name of directory p.
func (p Path) Join(name string) Path {
	return Path(path.Join(string(p), name))
}

// Base returns the last element of p.
func (p Path) Base() string {
	return path.Base(string(p))
}

// Dir returns the parent directory of p.
func (p Path) Dir() Path {
	return Path(path.Dir(string(p)))
}

// PathGlobs is a set of glob patterns rooted at the project root. Patterns
// use path.Match syntax per segment plus "**" for any number of directories.
// It is stored in a canonical encoding so that it can be a subject.
type PathGlobs struct {
	enc string
}

// NewPathGlobs builds a PathGlobs from patterns, dropping duplicates.
func NewPathGlobs(patterns ...string) PathGlobs {
	seen := make(map[string]struct{}, len(patterns))
	var out []string
	for _, p := range patterns {
		p = string(Path(p).Clean())
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	sort.Strings(out)
	return PathGlobs{enc: strings.Join(out, "\n")}
}

// Include returns the patterns in sorted order.
func (g PathGlobs) Include() []string {
	if g.enc == "" {
		return nil
	}
	return strings.Split(g.enc, "\n")
}

func (g PathGlobs) String() string {
	return strings.ReplaceAll(g.enc, "\n", ",")
}

// IsGlob reports whether s contains glob metacharacters.
func IsGlob(s string) bool {
	return strings.ContainsAny(s, "*?[")
}

// Stat describes one existing path.
type Stat struct {
	Path  Path  `json:"path"`
	IsDir bool  `json:"is_dir"`
	Size  int64 `json:"size"`
}

// FileContent is the content of one file.
type FileContent struct {
	Path    Path   `json:"path"`
	Content []byte `json:"content"`
}

// DirectoryListing holds the entries of one directory sorted by name.
type DirectoryListing struct {
	Path    Path   `json:"path"`
	Entries []Stat `json:"entries"`
}

// Digest is the sha256 of a file's content, hex encoded.
type Digest struct {
	Path Path   `json:"path"`
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

// Paths is the ordered result of expanding globs.
type Paths = model.Collection[Path]

// FilesContent holds the content of every file matched by globs.
type FilesContent = model.Collection[FileContent]

// Digests holds the digest of every file matched by globs.
type Digests = model.Collection[Digest]

// Product types computed by Rules.
var (
	StatType             = model.TypeFor[Stat]()
	FileContentType      = model.TypeFor[FileContent]()
	DirectoryListingType = model.TypeFor[DirectoryListing]()
	DigestType           = model.TypeFor[Digest]()
	PathsType            = model.CollectionType[Path]()
	FilesContentType     = model.CollectionType[FileContent]()
	DigestsType          = model.CollectionType[Digest]()
)

// Products maps the short names used on the command line to product types.
func Products() map[string]model.Type {
	return map[string]model.Type{
		"stat":          StatType,
		"content":       FileContentType,
		"listing":       DirectoryListingType,
		"digest":        DigestType,
		"paths":         PathsType,
		"files-content": FilesContentType,
		"digests":       DigestsType,
	}
}

// RegisterTypes makes every product of this package persistable by c.
func RegisterTypes(c *store.Codec) {
	store.Register[Path](c)
	store.Register[Stat](c)
	store.Register[FileContent](c)
	store.Register[DirectoryListing](c)
	store.Register[Digest](c)
	store.Register[Paths](c)
	store.Register[FilesContent](c)
	store.Register[Digests](c)
}
