package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/me/prodgraph/internal/metrics"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <product> <path-or-glob>...",
		Short: "Compute a product for paths or globs and print the results",
		Example: `  prodgraph run digest README.md go.mod
  prodgraph run paths 'src/**/*.go'
  prodgraph run digests 'docs/*.md' --engine serial`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.newSession(cmd.Context(), metrics.NoopRecorder{})
			if err != nil {
				return err
			}
			defer sess.Close()
			return a.execute(cmd.Context(), sess, cmd.OutOrStdout(), args[0], args[1:])
		},
	}
	cmd.Flags().String("visualize-dir", "", "Write a DOT graph of failed runs to this directory")
	return cmd
}

// execute runs one request for product over args and prints its results.
// A failed run is an error, after its graph has been dumped if configured.
func (a *app) execute(ctx context.Context, sess *session, w io.Writer, product string, args []string) error {
	subjects, err := subjectsFor(product, args)
	if err != nil {
		return err
	}
	req, err := sess.sched.ExecutionRequestForGoals([]string{product}, subjects)
	if err != nil {
		return err
	}

	res := sess.engine.Execute(ctx, req)
	printResults(w, res.Roots)
	a.logger.Info("execution finished",
		"engine", sess.engine.Name(),
		"roots", len(res.Roots),
		"failed", len(res.Failed()),
		"dur", res.Duration)

	failed := len(res.Failed())
	if res.Error == nil && failed == 0 {
		return nil
	}
	if dir := a.cfg.VisualizeDir; dir != "" {
		path := filepath.Join(dir, req.ID+".dot")
		if err := sess.sched.VisualizeGraphToFile(req.Roots, path); err != nil {
			a.logger.Warn("visualize graph", "path", path, "error", err)
		} else {
			a.logger.Info("graph written", "path", path)
		}
	}
	if res.Error != nil {
		return res.Error
	}
	return fmt.Errorf("%d of %d roots failed", failed, len(res.Roots))
}

// executeAll is execute for callers that only log failures.
func (a *app) executeAll(ctx context.Context, sess *session, w io.Writer, product string, args []string) {
	if err := a.execute(ctx, sess, w, product, args); err != nil {
		a.logger.Error("run failed", "error", err)
	}
}

