package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/schaermu/depmirror/internal/binlink"
	"github.com/schaermu/depmirror/internal/config"
	"github.com/schaermu/depmirror/internal/dependency"
	"github.com/schaermu/depmirror/internal/errs"
	"github.com/schaermu/depmirror/internal/mirror"
	"github.com/schaermu/depmirror/internal/npm"
	"github.com/schaermu/depmirror/internal/pathfmt"
	"github.com/schaermu/depmirror/internal/quick"
	"github.com/schaermu/depmirror/internal/txn"
)

var (
	// Set by goreleaser
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile   string
	logLevel  string
	logFormat string
	workDir   string

	// Copy command flags
	watch    bool
	excludes []string
	retry    int
	linkBins bool

	// Quick command flags
	allDirs bool
	halt    bool
	force   bool

	// newNPMClient is replaced in tests
	newNPMClient = func(logger *slog.Logger) npm.Client {
		return npm.NewShellClient("", logger)
	}

	// newBinInstaller is replaced in tests
	newBinInstaller = func(modules string, logger *slog.Logger) binlink.Installer {
		return binlink.New(modules, logger)
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "depmirror",
	Short: "Mirror local dependencies into node_modules",
	Long: `depmirror copies a dependency's directory tree into the project's node_modules
instead of symlinking it, and can keep the copy up to date while the source changes.

It also offers a quick link mode that runs "npm link" with the package's own
dependencies moved out of the way and restores them afterwards.`,
	SilenceUsage: true,
}

var copyCmd = &cobra.Command{
	Use:   "copy <dependency>...",
	Short: "Copy dependencies into node_modules, optionally watching for changes",
	Long: `Copy mirrors each dependency into the project's modules directory. A dependency
containing a path separator or a dot is a local directory whose package.json
supplies the package name and whose executables are linked into .bin; anything
else is a globally installed package.

The destination is replaced on every run. With --watch the source is watched and
changes are applied to the copy until the process is interrupted.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCopy,
}

var quickCmd = &cobra.Command{
	Use:   "quick [dir]...",
	Short: "Run npm link without installing the package's dependencies",
	Long: `Quick backs up node_modules and package-lock.json, strips the dependency sections
and scripts from package.json, runs "npm link" and then restores everything.

Without arguments the current directory is linked; --all links every
subdirectory of it.`,
	RunE: runQuick,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("depmirror %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultFile+" when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text, json)")
	rootCmd.PersistentFlags().StringVar(&workDir, "cwd", "", "project directory (default is the working directory)")

	// Copy command flags
	copyCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep mirroring changes after the initial copy")
	copyCmd.Flags().StringArrayVar(&excludes, "exclude", nil, "additional exclude pattern, /regex/ or substring (repeatable)")
	copyCmd.Flags().IntVar(&retry, "retry", 3, "retries per changed path while watching")
	copyCmd.Flags().BoolVar(&linkBins, "bin", true, "link the executables of local dependencies into .bin")

	// Quick command flags
	quickCmd.Flags().BoolVarP(&allDirs, "all", "z", false, "link every subdirectory of the project directory")
	quickCmd.Flags().BoolVar(&halt, "halt", true, "stop at the first directory that fails")
	quickCmd.Flags().BoolVar(&force, "force", false, "pass --force to npm link")

	// Add commands
	rootCmd.AddCommand(copyCmd)
	rootCmd.AddCommand(quickCmd)
	rootCmd.AddCommand(versionCmd)
}

func runCopy(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cwd, err := resolveWorkDir()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger, cwd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("watch") {
		cfg.Mirror.Watch = watch
	}
	if cmd.Flags().Changed("retry") {
		cfg.Mirror.RetryLimit = &retry
	}
	if cmd.Flags().Changed("bin") {
		cfg.Mirror.Bin = &linkBins
	}
	cfg.Mirror.Exclude = append(cfg.Mirror.Exclude, excludes...)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	prefix, err := resolvePrefix(ctx, cfg, args, logger)
	if err != nil {
		return err
	}
	resolver := dependency.NewResolver(cwd, prefix, cfg.Paths.ModulesDir)

	var (
		mu       sync.Mutex
		failures []error
	)
	fail := func(dep string, err error) {
		logger.Error("dependency failed", "dep", dep, "kind", errs.KindOf(err))
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, fmt.Errorf("%s: %w", dep, err))
	}

	bins := newBinInstaller(cfg.ModulesPath(cwd), logger)
	var engines []*mirror.Engine
	for _, dep := range args {
		engine, err := prepare(resolver, bins, cfg, dep, logger)
		if err != nil {
			fail(dep, err)
			continue
		}
		engines = append(engines, engine)
	}

	// a failing job does not cancel the others
	var g errgroup.Group
	for _, engine := range engines {
		engine := engine
		g.Go(func() error {
			err := engine.Run(ctx)
			switch {
			case err == nil:
			case errs.IsKind(err, errs.KindSubscription):
				// logged by the engine; the copy itself succeeded
			default:
				fail(engine.Job().Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(failures) > 0 {
		return errors.Join(failures...)
	}
	return nil
}

// prepare resolves dep, links its executables and creates its engine
func prepare(resolver *dependency.Resolver, bins binlink.Installer, cfg *config.Config, dep string, logger *slog.Logger) (*mirror.Engine, error) {
	loc, err := resolver.Resolve(dep)
	if err != nil {
		return nil, err
	}
	if loc.Manifest != nil {
		logger.Debug("resolved dependency", "dep", loc.Name, "version", loc.Manifest.Version, "src", loc.Source)
		if cfg.LinkBins() {
			if _, err := bins.Install(loc.Manifest); err != nil {
				return nil, err
			}
		}
	}
	return newEngine(loc, cfg, logger)
}

func newEngine(loc dependency.Location, cfg *config.Config, logger *slog.Logger) (*mirror.Engine, error) {
	retries := cfg.Retries()
	job, err := mirror.NewJob(mirror.JobConfig{
		Name:            loc.Name,
		SourceRoot:      loc.Source,
		DestinationRoot: loc.Destination,
		Exclude:         cfg.Mirror.Exclude,
		Watch:           cfg.Mirror.Watch,
		RetryLimit:      &retries,
		RetryDelay:      cfg.Mirror.RetryDelay,
		Debounce:        cfg.Mirror.Debounce,
	}, logger)
	if err != nil {
		return nil, err
	}
	return mirror.New(job, logger, mirror.Options{
		Parallelism: cfg.Mirror.Parallelism,
		Paths:       pathfmt.ForTerminal(),
	}), nil
}

// resolvePrefix returns the install prefix when a global dependency needs it
func resolvePrefix(ctx context.Context, cfg *config.Config, deps []string, logger *slog.Logger) (string, error) {
	if cfg.Paths.Prefix != "" {
		return cfg.Paths.Prefix, nil
	}
	for _, dep := range deps {
		if dependency.IsRelative(dep) {
			continue
		}
		prefix, err := newNPMClient(logger).Prefix(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to resolve install prefix: %w", err)
		}
		logger.Debug("resolved install prefix", "prefix", prefix)
		return prefix, nil
	}
	return "", nil
}

func runQuick(cmd *cobra.Command, args []string) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	logger := setupLogger()

	cwd, err := resolveWorkDir()
	if err != nil {
		return err
	}

	cfg, err := loadConfig(logger, cwd)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cmd.Flags().Changed("halt") {
		cfg.Quick.Halt = &halt
	}
	if cmd.Flags().Changed("force") {
		cfg.Quick.Force = force
	}

	var dirs []string
	switch {
	case len(args) > 0:
		for _, arg := range args {
			if !filepath.IsAbs(arg) {
				arg = filepath.Join(cwd, arg)
			}
			dirs = append(dirs, arg)
		}
	case allDirs:
		dirs, err = dependency.ListDirs(cwd)
		if err != nil {
			return err
		}
		if len(dirs) == 0 {
			logger.Warn("no directories to link", "dir", cwd)
			return nil
		}
	default:
		dirs = []string{cwd}
	}

	runner := quick.NewRunner(txn.New(logger), newNPMClient(logger), logger, quick.Options{
		StripKeys: cfg.Quick.StripKeys,
		Halt:      cfg.HaltOnError(),
		Force:     cfg.Quick.Force,
	})
	return runner.Run(ctx, dirs)
}

func resolveWorkDir() (string, error) {
	if workDir != "" {
		abs, err := filepath.Abs(workDir)
		if err != nil {
			return "", fmt.Errorf("failed to resolve --cwd: %w", err)
		}
		return abs, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("failed to get working directory: %w", err)
	}
	return wd, nil
}

func setupLogger() *slog.Logger {
	// Parse log level
	var level slog.Level
	switch logLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	// Create handler based on format
	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		// text lines carry hours and minutes only
		opts.ReplaceAttr = func(groups []string, a slog.Attr) slog.Attr {
			if len(groups) == 0 && a.Key == slog.TimeKey && a.Value.Kind() == slog.KindTime {
				return slog.String(slog.TimeKey, pathfmt.Clock(a.Value.Time()))
			}
			return a
		}
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func loadConfig(logger *slog.Logger, cwd string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		logger.Debug("loading configuration", "path", cfgFile)
		cfg, err = config.Load(cfgFile)
	} else {
		path := filepath.Join(cwd, config.DefaultFile)
		logger.Debug("loading optional configuration", "path", path)
		cfg, err = config.LoadOptional(path)
	}
	if err != nil {
		return nil, err
	}

	logger.Debug("configuration loaded",
		"exclude", cfg.Mirror.Exclude,
		"watch", cfg.Mirror.Watch,
		"modules_dir", cfg.Paths.ModulesDir,
		"prefix", cfg.Paths.Prefix)

	return cfg, nil
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigCh
		cancel()
	}()

	return ctx, cancel
}
