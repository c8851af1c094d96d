package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/spf13/cobra"

	"github.com/meigma/gitbind"
	"github.com/meigma/gitbind/odb"
	"github.com/meigma/gitbind/odb/badgerdb"
	"github.com/meigma/gitbind/odb/loose"
)

type globalFlags struct {
	index    string
	repo     string
	worktree string
	objects  string
	badger   string
	verbose  bool
}

func newRootCmd() *cobra.Command {
	var g globalFlags
	root := &cobra.Command{
		Use:           "gitidx",
		Short:         "Inspect and edit git index files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.index, "index", "", "standalone index file (instead of --repo)")
	pf.StringVar(&g.repo, "repo", ".", "repository whose index is used")
	pf.StringVar(&g.worktree, "worktree", "", "directory files are added from (standalone index)")
	pf.StringVar(&g.objects, "objects", "", "loose object directory for added files")
	pf.StringVar(&g.badger, "badger", "", "badger object store directory for added files")
	pf.BoolVarP(&g.verbose, "verbose", "v", false, "log debug output to stderr")
	root.MarkFlagsMutuallyExclusive("objects", "badger")

	root.AddCommand(
		newLsCmd(&g),
		newFindCmd(&g),
		newAddCmd(&g),
		newRmCmd(&g),
		newClearCmd(&g),
		newSigCmd(),
	)
	return root
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openIndex opens the index selected by the global flags. Everything it
// opens is adopted by the returned scope.
func openIndex(cmd *cobra.Command, g *globalFlags) (*gitbind.Index, *gitbind.Scope, error) {
	scope := &gitbind.Scope{}
	logger := newLogger(cmd.ErrOrStderr(), g.verbose)
	opts := []gitbind.Option{gitbind.WithLogger(logger), gitbind.WithOwner(scope)}

	db, err := openObjects(g, logger)
	if err != nil {
		return nil, nil, err
	}
	if db != nil {
		if c, ok := db.(io.Closer); ok {
			scope.Adopt(c)
		}
		opts = append(opts, gitbind.WithObjectDatabase(db))
	}
	if g.worktree != "" {
		opts = append(opts, gitbind.WithWorktree(osfs.New(g.worktree)))
	}

	var idx *gitbind.Index
	if g.index != "" {
		idx, err = gitbind.OpenIndex(g.index, opts...)
	} else {
		var repo *gitbind.Repository
		repo, err = gitbind.OpenRepository(g.repo, opts...)
		if err == nil {
			idx, err = repo.Index(opts...)
		}
	}
	if err != nil {
		return nil, nil, errors.Join(err, scope.Close())
	}
	return idx, scope, nil
}

func openObjects(g *globalFlags, logger *slog.Logger) (odb.ObjectDatabase, error) {
	switch {
	case g.objects != "":
		return loose.New(g.objects)
	case g.badger != "":
		cfg := badgerdb.DefaultConfig(g.badger)
		cfg.Logger = logger
		return badgerdb.Open(cfg)
	}
	return nil, nil //nolint:nilnil // no object database configured
}

// withIndex runs fn against the selected index and closes everything after.
func withIndex(g *globalFlags, fn func(cmd *cobra.Command, idx *gitbind.Index, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		idx, scope, err := openIndex(cmd, g)
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, scope.Close())
		}()
		return fn(cmd, idx, args)
	}
}

func newLsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List index entries as mode, hash, stage and path",
		Args:  cobra.NoArgs,
		RunE: withIndex(g, func(cmd *cobra.Command, idx *gitbind.Index, _ []string) error {
			w := cmd.OutOrStdout()
			for _, e := range idx.All() {
				if _, err := fmt.Fprintf(w, "%s %s %d\t%s\n", e.Mode, e.Hash, e.Stage, e.Name); err != nil {
					return err
				}
			}
			return nil
		}),
	}
}

func newFindCmd(g *globalFlags) *cobra.Command {
	var stage int
	cmd := &cobra.Command{
		Use:   "find <path>",
		Short: "Print the position of a path in the index",
		Args:  cobra.ExactArgs(1),
		RunE: withIndex(g, func(cmd *cobra.Command, idx *gitbind.Index, args []string) error {
			pos := idx.Find(args[0])
			if cmd.Flags().Changed("stage") {
				pos = idx.FindStage(args[0], gitbind.Stage(stage))
			}
			if pos < 0 {
				return fmt.Errorf("%w: %s", gitbind.ErrNotFound, args[0])
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), pos)
			return err
		}),
	}
	cmd.Flags().IntVar(&stage, "stage", 0, "match only this stage")
	return cmd
}

func newAddCmd(g *globalFlags) *cobra.Command {
	var stage int
	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Store files in the object database and stage them",
		Args:  cobra.MinimumNArgs(1),
		RunE: withIndex(g, func(cmd *cobra.Command, idx *gitbind.Index, args []string) error {
			if err := idx.AddAll(cmd.Context(), args, gitbind.Stage(stage)); err != nil {
				return err
			}
			return idx.Write()
		}),
	}
	cmd.Flags().IntVar(&stage, "stage", 0, "stage to record the files at")
	return cmd
}

func newRmCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <path>...",
		Short: "Remove paths (all stages) from the index",
		Args:  cobra.MinimumNArgs(1),
		RunE: withIndex(g, func(cmd *cobra.Command, idx *gitbind.Index, args []string) error {
			for _, p := range args {
				if idx.RemovePath(p) == 0 {
					return fmt.Errorf("%w: %s", gitbind.ErrNotFound, p)
				}
			}
			return idx.Write()
		}),
	}
}

func newClearCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove every entry from the index",
		Args:  cobra.NoArgs,
		RunE: withIndex(g, func(_ *cobra.Command, idx *gitbind.Index, _ []string) error {
			idx.Clear()
			return idx.Write()
		}),
	}
}

func newSigCmd() *cobra.Command {
	var (
		when   string
		offset int
	)
	cmd := &cobra.Command{
		Use:   "sig <name> <email>",
		Short: "Validate a signature and print it in commit header form",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := time.Now()
			if when != "" {
				secs, err := strconv.ParseInt(when, 10, 64)
				if err != nil {
					return fmt.Errorf("%w: --when: %w", gitbind.ErrInvalidSignature, err)
				}
				t = time.Unix(secs, 0)
			}
			sig, err := gitbind.NewSignature(args[0], args[1], t, offset)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if err := sig.Encode(w); err != nil {
				return err
			}
			_, err = fmt.Fprintln(w)
			return err
		},
	}
	cmd.Flags().StringVar(&when, "when", "", "unix timestamp (default now)")
	cmd.Flags().IntVar(&offset, "offset", 0, "UTC offset in minutes")
	return cmd
}
