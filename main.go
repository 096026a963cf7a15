package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"projectmatcher/config"
	"projectmatcher/prefs"
	"projectmatcher/solver"
	"projectmatcher/store"
)

const usage = "Usage: project-matcher file.csv num_projects num_tries num_mutations"

var (
	cfgPath      string
	verbose      bool
	seed         int64
	peopleInRows bool
	save         bool

	cfg    *config.Config
	logger *zap.Logger
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "project-matcher file.csv num_projects num_tries num_mutations",
		Short: "Split people into project teams that match their preferences",
		Long: `Reads a preference table and searches for a split of everyone into
num_projects near-equal teams, each labelled with one person's name as its
project, maximising the number of members who like their team's project.

The search runs num_tries independent hill climbs of num_mutations steps each
and prints the best assignment found.`,
		Args:              cobra.ArbitraryArgs,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
		RunE: runMatch,
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "path to YAML config")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.Flags().Int64Var(&seed, "seed", 0, "random seed (0 uses search.seed, then the clock)")
	root.Flags().BoolVar(&peopleInRows, "people-in-rows", false, "read row labels as people and column headers as projects")
	root.Flags().BoolVar(&save, "save", false, "store the table and result in the configured database")

	root.AddCommand(newServeCmd())
	return root
}

func setup(cmd *cobra.Command, args []string) error {
	if cmd == cmd.Root() && len(args) < 4 {
		// runMatch only prints the usage line.
		return nil
	}
	var err error
	cfg, err = config.Load(cfgPath)
	if err != nil {
		return err
	}
	logger, err = newLogger(cfg.Logging, verbose)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func newLogger(lc config.LoggingConfig, verbose bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if lc.Format != "" {
		zc.Encoding = lc.Format
	}
	if lc.Level != "" {
		level, err := zap.ParseAtomicLevel(lc.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}
	if verbose {
		zc.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	return zc.Build()
}

func resolveSeed(flagSeed int64) int64 {
	if flagSeed != 0 {
		return flagSeed
	}
	if cfg.Search.Seed != 0 {
		return cfg.Search.Seed
	}
	return time.Now().UnixNano()
}

func parseCount(name, arg string) (int, error) {
	n, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, arg, err)
	}
	return n, nil
}

func runMatch(cmd *cobra.Command, args []string) error {
	if len(args) < 4 {
		fmt.Fprintln(cmd.OutOrStdout(), usage)
		return nil
	}

	var params solver.Params
	var err error
	if params.NumProjects, err = parseCount("num_projects", args[1]); err != nil {
		return err
	}
	if params.NumTries, err = parseCount("num_tries", args[2]); err != nil {
		return err
	}
	if params.NumMutations, err = parseCount("num_mutations", args[3]); err != nil {
		return err
	}

	if save && cfg.Database.DSN == "" {
		return errors.New("--save needs database.dsn or PGCONN")
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	opts := prefs.Options{PeopleInRows: peopleInRows || cfg.Input.PeopleInRows}
	rel, err := prefs.Load(bytes.NewReader(data), opts)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}
	logger.Debug("loaded preferences", zap.String("file", args[0]), zap.Stringer("prefs", rel))

	s := resolveSeed(seed)
	sol, err := solver.Search(cmd.Context(), rel, params, rand.New(rand.NewSource(s)))
	if err != nil {
		return err
	}
	for i, sc := range sol.TryScores {
		logger.Debug("try finished", zap.Int("try", i), zap.Int("score", sc))
	}
	logger.Info("search finished",
		zap.Int("people", len(rel.People())),
		zap.Int("projects", params.NumProjects),
		zap.Int("tries", params.NumTries),
		zap.Int("mutations", params.NumMutations),
		zap.Int64("seed", s),
		zap.Int("score", sol.Score))

	report := sol.Report(rel)
	fmt.Fprintln(cmd.OutOrStdout(), report)

	if !save {
		return nil
	}
	return saveResult(cmd.Context(), args[0], string(data), opts, rel, params, s, sol, report)
}

func saveResult(ctx context.Context, name, csv string, opts prefs.Options, rel *prefs.Relation, params solver.Params, s int64, sol *solver.Solution, report string) error {
	st, err := store.OpenPostgres(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer st.Close()

	tbl, err := st.CreateTable(ctx, name, csv, opts.PeopleInRows, rel.People())
	if err != nil {
		return fmt.Errorf("saving table: %w", err)
	}
	run := newRun(tbl.ID, params, s, sol, report)
	if err := st.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("saving run: %w", err)
	}
	logger.Info("saved run", zap.Int64("table_id", tbl.ID), zap.String("run_id", run.ID))
	return nil
}

func newRun(tableID int64, params solver.Params, s int64, sol *solver.Solution, report string) *store.Run {
	return &store.Run{
		ID:           uuid.New().String(),
		TableID:      tableID,
		NumProjects:  params.NumProjects,
		NumTries:     params.NumTries,
		NumMutations: params.NumMutations,
		Seed:         s,
		Projects:     sol.Assignment.Projects,
		Teams:        sol.Assignment.Teams,
		Score:        sol.Score,
		Report:       report,
	}
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
