package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/me/prodgraph/internal/fs"
	"github.com/me/prodgraph/internal/metrics"
)

func newWatchCmd(a *app) *cobra.Command {
	var debounce time.Duration

	cmd := &cobra.Command{
		Use:   "watch <product> <path-or-glob>...",
		Short: "Recompute a product whenever files below the build root change",
		Long: `watch runs like 'run', then keeps the graph in memory and watches the
build root. Each batch of changes invalidates the affected nodes and their
dependents, and the request is executed again; unaffected nodes are reused.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.watch(ctx, cmd, debounce, args[0], args[1:])
		},
	}
	cmd.Flags().DurationVar(&debounce, "debounce", fs.DefaultDebounce, "Wait this long for more changes before rerunning")
	cmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	cmd.Flags().String("visualize-dir", "", "Write a DOT graph of failed runs to this directory")
	return cmd
}

func (a *app) watch(ctx context.Context, cmd *cobra.Command, debounce time.Duration, product string, args []string) error {
	if _, err := subjectsFor(product, args); err != nil {
		return err
	}

	reg := metrics.NewRegistry()
	sess, err := a.newSession(ctx, metrics.NewPrometheusRecorder(reg))
	if err != nil {
		return err
	}
	defer sess.Close()

	if a.cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: a.cfg.MetricsAddr, Handler: metrics.Handler(reg), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			a.logger.Info("serving metrics", "addr", a.cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("metrics server", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	out := cmd.OutOrStdout()
	a.executeAll(ctx, sess, out, product, args)

	w, err := fs.NewWatcher(sess.tree, debounce, func(changed []fs.Path) {
		subjects := make([]any, len(changed))
		for i, p := range changed {
			subjects[i] = p
		}
		n := sess.sched.InvalidateSubjects(subjects...)
		a.logger.Info("changes detected", "paths", len(changed), "invalidated", n)
		if n == 0 {
			return
		}
		a.executeAll(ctx, sess, out, product, args)
	}, a.logger)
	if err != nil {
		return err
	}
	defer w.Close()

	a.logger.Info("watching", "root", sess.tree.Root())
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
