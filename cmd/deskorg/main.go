package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/pbaille/deskorg/internal/api"
	"github.com/pbaille/deskorg/internal/classifier"
	"github.com/pbaille/deskorg/internal/config"
	"github.com/pbaille/deskorg/internal/domain"
	"github.com/pbaille/deskorg/internal/extract"
	"github.com/pbaille/deskorg/internal/logging"
	"github.com/pbaille/deskorg/internal/organizer"
	"github.com/pbaille/deskorg/internal/rollback"
	"github.com/pbaille/deskorg/internal/tagstore"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

var (
	configPath string
	baseDir    string
	logLevel   string
	logFormat  string
)

func main() {
	var (
		doRollback bool
		workers    int
	)

	rootCmd := &cobra.Command{
		Use:          "deskorg [base-dir]",
		Short:        "Sort files into category folders, with tags and undo",
		Args:         cobra.MaximumNArgs(1),
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := baseDir
			if len(args) == 1 {
				dir = args[0]
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, dir)
			if err != nil {
				return err
			}
			defer s.Close()

			if cmd.Flags().Changed("workers") {
				s.cfg.Organizer.Workers = workers
			}

			if doRollback {
				return runRollback(ctx, s)
			}
			return runOrganize(ctx, s)
		},
	}

	rootCmd.Flags().BoolVar(&doRollback, "rollback", false, "undo the last organize run")
	rootCmd.Flags().IntVarP(&workers, "workers", "w", 1, "files analyzed in parallel")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default <base-dir>/"+config.FileName+")")
	rootCmd.PersistentFlags().StringVarP(&baseDir, "dir", "d", ".", "base directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json)")

	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// session is the state shared by every command for one base directory
type session struct {
	cfg    *config.Config
	base   string
	fs     afero.Fs
	logger *logrus.Logger
	tags   tagstore.Store
}

func openSession(ctx context.Context, dir string) (*session, error) {
	base, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", organizer.ErrBaseDir, err)
	}
	if info, err := os.Stat(base); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", organizer.ErrBaseDir, base)
	}

	if err := config.LoadDotEnv(base); err != nil {
		return nil, err
	}
	cfg, err := config.Load(config.Resolve(configPath, base))
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}

	fs := afero.NewOsFs()
	tags, err := tagstore.Open(fs, cfg.Tags.Backend, base, cfg.TagFile(), logging.Component(logger, "tags"))
	if err != nil {
		return nil, fmt.Errorf("open tag store: %w", err)
	}
	if err := tags.Load(ctx); err != nil {
		tags.Close()
		return nil, fmt.Errorf("load tags: %w", err)
	}

	return &session{cfg: cfg, base: base, fs: fs, logger: logger, tags: tags}, nil
}

func (s *session) Close() error {
	return s.tags.Close()
}

// path resolves a file argument against the base directory
func (s *session) path(arg string) string {
	return tagstore.Resolve(s.base, arg)
}

func (s *session) rollbackLog() *rollback.Log {
	path := filepath.Join(s.base, s.cfg.Organizer.RollbackFile)
	return rollback.New(s.fs, path, logging.Component(s.logger, "rollback"))
}

func (s *session) organizer(deps organizer.Deps) (*organizer.Organizer, error) {
	deps.Tags = s.tags
	deps.Rollback = s.rollbackLog()
	return organizer.New(s.fs, s.base, organizer.Options{
		Workers:       s.cfg.Organizer.Workers,
		ExclusionFile: s.cfg.Organizer.ExclusionFile,
		SelectionFile: s.cfg.Organizer.SelectionFile,
		ToolFiles:     s.cfg.ToolFiles(),
	}, deps, logging.Component(s.logger, "organizer"))
}

func runOrganize(ctx context.Context, s *session) error {
	clf, err := classifier.New(s.cfg.Classifier, logging.Component(s.logger, "classifier"))
	if err != nil {
		return err
	}

	org, err := s.organizer(organizer.Deps{
		Extractor:  extract.NewDefault(s.fs, s.cfg.Extract),
		Classifier: clf,
	})
	if err != nil {
		return err
	}

	report, err := org.Run(ctx)
	if report != nil {
		printReport(org.BaseDir(), report)
	}
	return err
}

func runRollback(ctx context.Context, s *session) error {
	org, err := s.organizer(organizer.Deps{})
	if err != nil {
		return err
	}

	res, err := org.Rollback(ctx)
	if err != nil {
		return err
	}

	for _, e := range res.Restored {
		fmt.Printf("Restored %s\n", relTo(s.base, e.Original))
	}
	for _, f := range res.Failed {
		fmt.Printf("  failed: %s: %v\n", relTo(s.base, f.Entry.Current), f.Err)
	}
	if len(res.Failed) > 0 {
		fmt.Printf("%d restored, %d failed (run --rollback again to retry)\n", len(res.Restored), len(res.Failed))
		return nil
	}
	fmt.Printf("%d restored\n", len(res.Restored))
	return nil
}

func printReport(base string, report *domain.Report) {
	if len(report.Files) == 0 {
		fmt.Println("No files to organize.")
	}

	for _, f := range report.Files {
		switch {
		case f.State == domain.StateTagged || f.State == domain.StateMoved:
			fmt.Printf("Moved %s to %s/\n", relTo(base, f.Path), f.Category)
		case f.State.Failed():
			fmt.Printf("  %s: %s: %v\n", f.State, relTo(base, f.Path), f.Err)
		}
	}
	for _, m := range report.Missing {
		fmt.Printf("  not found: %s\n", m)
	}

	moved := report.Count(domain.StateTagged) + report.Count(domain.StateMoved)
	fmt.Printf("%d moved, %d failed\n", moved, len(report.Failures()))
}

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Manage file tags",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add [file] [tag...]",
		Short: "Add tags to a file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTags(cmd.Context(), args[0], args[1:], func(s tagstore.Store, path, tag string) error {
				return s.AddTag(path, tag)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "rm [file] [tag...]",
		Short: "Remove tags from a file",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return editTags(cmd.Context(), args[0], args[1:], func(s tagstore.Store, path, tag string) error {
				return s.RemoveTag(path, tag)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "ls [file]",
		Short: "List the tags of a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), baseDir)
			if err != nil {
				return err
			}
			defer s.Close()

			tags := s.tags.ListTags(s.path(args[0]))
			if len(tags) == 0 {
				fmt.Println("No tags.")
				return nil
			}
			for _, t := range tags {
				fmt.Printf("  - %s\n", t)
			}
			return nil
		},
	})

	return cmd
}

func editTags(ctx context.Context, file string, tags []string, op func(tagstore.Store, string, string) error) error {
	s, err := openSession(ctx, baseDir)
	if err != nil {
		return err
	}
	defer s.Close()

	path := s.path(file)
	for _, tag := range tags {
		if err := op(s.tags, path, tag); err != nil {
			return fmt.Errorf("tag %s: %w", file, err)
		}
	}
	if err := s.tags.Save(ctx); err != nil {
		return fmt.Errorf("save tags: %w", err)
	}

	current := s.tags.ListTags(path)
	fmt.Printf("%s: %v\n", relTo(s.base, path), current)
	return nil
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search [tag]",
		Short: "List files carrying a tag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), baseDir)
			if err != nil {
				return err
			}
			defer s.Close()

			paths := s.tags.SearchByTag(args[0])
			if len(paths) == 0 {
				fmt.Println("No matching files found.")
				return nil
			}
			for _, p := range paths {
				fmt.Println(p)
			}
			return nil
		},
	}
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List all tags",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), baseDir)
			if err != nil {
				return err
			}
			defer s.Close()

			counts := s.tags.AllTags()
			if len(counts) == 0 {
				fmt.Println("No tags yet. Tags are added when files are organized.")
				return nil
			}

			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("%-30s %d\n", name, counts[name])
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show what --rollback would undo",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), baseDir)
			if err != nil {
				return err
			}
			defer s.Close()

			gen, err := s.rollbackLog().Pending(cmd.Context())
			if errors.Is(err, rollback.ErrNoRollbackLog) {
				fmt.Println("Nothing to rollback.")
				return nil
			}
			if err != nil {
				return err
			}

			if gen.ID != "" {
				fmt.Printf("Generation: %s\n", gen.ID)
			}
			if !gen.CreatedAt.IsZero() {
				fmt.Printf("Created:    %s\n", gen.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			fmt.Printf("Moves:      %d\n", len(gen.Entries))
			for _, e := range gen.Entries {
				fmt.Printf("  %s <- %s\n", relTo(s.base, e.Current), relTo(s.base, e.Original))
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the tag REST API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, baseDir)
			if err != nil {
				return err
			}
			defer s.Close()

			server := api.New(s.tags, s.base, addr, logging.Component(s.logger, "api"))
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", ":8080", "server address")
	return cmd
}

func relTo(base, path string) string {
	if rel, err := filepath.Rel(base, path); err == nil {
		return rel
	}
	return path
}
