package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/me/prodgraph/internal/config"
	"github.com/me/prodgraph/internal/engine"
	"github.com/me/prodgraph/internal/fs"
	"github.com/me/prodgraph/internal/logging"
	"github.com/me/prodgraph/internal/metrics"
	"github.com/me/prodgraph/internal/rules"
	"github.com/me/prodgraph/internal/scheduler"
	"github.com/me/prodgraph/internal/store"
	"github.com/me/prodgraph/pkg/model"
)

// app is the state shared by every command of one invocation.
type app struct {
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
	engines    *engine.Registry
}

// NewRootCmd creates the root cobra command for the prodgraph CLI.
func NewRootCmd() *cobra.Command {
	a := &app{}
	def := config.Default()

	root := &cobra.Command{
		Use:   "prodgraph",
		Short: "prodgraph computes products of files through a memoized rule graph",
		Long: `prodgraph resolves products (stats, contents, listings, digests, glob
expansions) for subjects below a build root. Every product is a node in a
dependency graph; shared work runs once and derived results are cached on
disk across runs.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.configFile, "config", "", "YAML config file")
	pf.String("log-level", def.LogLevel, "Log level (debug, info, warn, error)")
	pf.String("log-format", def.LogFormat, "Log format (text, json)")
	pf.String("engine", def.Engine, "Execution engine (serial, parallel)")
	pf.Int("workers", def.Workers, "Parallel workers (0 = one per CPU)")
	pf.String("storage", def.Storage, `Cache database path ("memory" disables persistence)`)
	pf.String("build-root", def.BuildRoot, "Directory subject paths are relative to")

	root.AddCommand(
		newRunCmd(a),
		newWatchCmd(a),
		newCacheCmd(a),
		newProductsCmd(),
	)
	return root
}

// setup loads configuration from the config file, PRODGRAPH_* variables and
// the flags the user set, then builds the logger.
func (a *app) setup(cmd *cobra.Command) error {
	known := make(map[string]bool)
	for _, k := range config.Keys() {
		known[k] = true
	}
	flags := make(map[string]string)
	cmd.Flags().Visit(func(f *pflag.Flag) {
		if known[f.Name] {
			flags[f.Name] = f.Value.String()
		}
	})

	cfg, opts, err := config.Load(config.Sources{File: a.configFile, Env: config.EnvFromOS(), Flags: flags})
	if err != nil {
		return err
	}

	a.engines = engine.NewRegistry(nil)
	if err := cfg.Validate(a.engines.Names()); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg
	a.logger = logging.NewLoggerWithWriter(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat, cmd.ErrOrStderr())
	a.logger.Debug("configuration loaded", "explicit", strings.Join(opts.ExplicitKeys(), ","))
	return nil
}

func (a *app) openStore(ctx context.Context) (store.Store, error) {
	if path := a.cfg.Storage; path != "" && !strings.EqualFold(path, "memory") && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	return store.Open(ctx, a.cfg.Storage, a.logger)
}

// session is one scheduler over the build root together with the engine
// that drives it.
type session struct {
	tree   *fs.FileSystemProjectTree
	store  store.Store
	sched  *scheduler.Scheduler
	engine engine.Engine
}

func (a *app) newSession(ctx context.Context, rec metrics.Recorder) (*session, error) {
	tree, err := fs.NewFileSystemProjectTree(a.cfg.BuildRoot)
	if err != nil {
		return nil, err
	}

	reg := rules.NewRegistry(a.logger)
	if err := reg.Register(fs.Rules(tree)...); err != nil {
		return nil, err
	}

	st, err := a.openStore(ctx)
	if err != nil {
		return nil, err
	}

	codec := store.NewCodec()
	fs.RegisterTypes(codec)

	sched := scheduler.New(reg, st,
		scheduler.WithLogger(a.logger),
		scheduler.WithCodec(codec),
		scheduler.WithRecorder(rec),
		scheduler.WithGoals(goals()),
	)
	eng, err := a.engines.New(a.cfg.Engine, sched, a.cfg.Workers, a.logger, engine.WithRecorder(rec))
	if err != nil {
		st.Close()
		return nil, err
	}
	return &session{tree: tree, store: st, sched: sched, engine: eng}, nil
}

func (s *session) Close() error {
	return s.store.Close()
}

// goals names every product of the filesystem rules.
func goals() map[string][]model.Type {
	out := make(map[string][]model.Type)
	for name, t := range fs.Products() {
		out[name] = []model.Type{t}
	}
	return out
}

// collectionProducts take every argument as one set of globs.
var collectionProducts = map[model.Type]bool{
	fs.PathsType:        true,
	fs.FilesContentType: true,
	fs.DigestsType:      true,
}

// subjectsFor turns command-line arguments into subjects for the named
// product.
func subjectsFor(product string, args []string) ([]any, error) {
	t, ok := fs.Products()[product]
	if !ok {
		return nil, fmt.Errorf("unknown product %q (see 'prodgraph products')", product)
	}
	if collectionProducts[t] {
		return []any{fs.NewPathGlobs(args...)}, nil
	}
	subjects := make([]any, 0, len(args))
	for _, arg := range args {
		if fs.IsGlob(arg) {
			return nil, fmt.Errorf("product %s takes plain paths, got pattern %q", product, arg)
		}
		subjects = append(subjects, fs.Path(arg).Clean())
	}
	return subjects, nil
}
