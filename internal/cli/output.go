package cli

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"github.com/me/prodgraph/internal/fs"
	"github.com/me/prodgraph/internal/scheduler"
	"github.com/me/prodgraph/pkg/model"
)

// printResults writes one block per root: a header naming the subject and
// outcome, then the value's lines.
func printResults(w io.Writer, roots []scheduler.RootResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	defer tw.Flush()
	for _, r := range roots {
		switch r.State.Kind {
		case model.StateReturn:
			for _, line := range formatValue(r.Key.Subject, r.State.Value) {
				fmt.Fprintln(tw, line)
			}
		case model.StateThrow:
			fmt.Fprintf(tw, "%v\terror\t%v\n", r.Key.Subject, r.State.Err)
		case model.StateNoop:
			fmt.Fprintf(tw, "%v\tskipped\t%s\n", r.Key.Subject, r.State.Reason)
		default:
			fmt.Fprintf(tw, "%v\t%s\n", r.Key.Subject, r.State.Kind)
		}
	}
}

func formatValue(subject, v any) []string {
	switch v := v.(type) {
	case fs.Stat:
		return []string{statLine(v)}
	case fs.FileContent:
		return []string{fmt.Sprintf("%s\t%s", v.Path, humanize.Bytes(uint64(len(v.Content))))}
	case fs.DirectoryListing:
		lines := []string{fmt.Sprintf("%s\t%d entries", v.Path, len(v.Entries))}
		for _, e := range v.Entries {
			lines = append(lines, "  "+statLine(e))
		}
		return lines
	case fs.Digest:
		return []string{digestLine(v)}
	case fs.Paths:
		lines := make([]string, 0, v.Len())
		for _, p := range v.Dependencies {
			lines = append(lines, string(p))
		}
		return lines
	case fs.FilesContent:
		lines := make([]string, 0, v.Len())
		for _, fc := range v.Dependencies {
			lines = append(lines, fmt.Sprintf("%s\t%s", fc.Path, humanize.Bytes(uint64(len(fc.Content)))))
		}
		return lines
	case fs.Digests:
		lines := make([]string, 0, v.Len())
		for _, d := range v.Dependencies {
			lines = append(lines, digestLine(d))
		}
		return lines
	default:
		return []string{fmt.Sprintf("%v\t%v", subject, v)}
	}
}

func statLine(s fs.Stat) string {
	if s.IsDir {
		return fmt.Sprintf("%s\tdir", s.Path)
	}
	return fmt.Sprintf("%s\tfile\t%s", s.Path, humanize.Bytes(uint64(s.Size)))
}

// digestLine matches the sha256sum output format.
func digestLine(d fs.Digest) string {
	return fmt.Sprintf("%s  %s", d.Hash, d.Path)
}
