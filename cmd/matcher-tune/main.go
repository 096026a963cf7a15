package main

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"projectmatcher/prefs"
	"projectmatcher/solver"
)

type tuneFlags struct {
	file         string
	runs         int
	projects     int
	tries        string
	mutations    string
	peopleInRows bool
}

type runResult struct {
	score    int
	solution string
	elapsed  time.Duration
}

func printStats(w io.Writer, label string, results []runResult, runs int) {
	scores := map[int]int{}
	solutionSets := map[string]int{}
	var totalTime time.Duration

	for _, r := range results {
		totalTime += r.elapsed
		scores[r.score]++
		solutionSets[r.solution]++
	}

	fmt.Fprintf(w, "--- %s ---\n", label)
	fmt.Fprintf(w, "  avg time: %v\n", totalTime/time.Duration(runs))

	var scoreList []struct {
		score int
		count int
	}
	for s, c := range scores {
		scoreList = append(scoreList, struct {
			score int
			count int
		}{s, c})
	}
	sort.Slice(scoreList, func(i, j int) bool { return scoreList[i].score > scoreList[j].score })

	fmt.Fprintf(w, "  score distribution:\n")
	for _, sc := range scoreList {
		fmt.Fprintf(w, "    score %d: %d/%d runs (%.0f%%)\n", sc.score, sc.count, runs, float64(sc.count)/float64(runs)*100)
	}

	fmt.Fprintf(w, "  distinct best solutions: %d\n", len(solutionSets))

	var freqs []int
	for _, c := range solutionSets {
		freqs = append(freqs, c)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(freqs)))
	if len(freqs) > 0 {
		topN := min(5, len(freqs))
		fmt.Fprintf(w, "  top %d solution frequencies: ", topN)
		for i := range topN {
			if i > 0 {
				fmt.Fprint(w, ", ")
			}
			fmt.Fprintf(w, "%d/%d", freqs[i], runs)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w)
}

func parseIntList(name, s string) ([]int, error) {
	var result []int
	for _, p := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid --%s entry %q: %w", name, p, err)
		}
		result = append(result, v)
	}
	return result, nil
}

func tune(ctx context.Context, w io.Writer, f tuneFlags) error {
	rel, err := prefs.LoadFile(f.file, prefs.Options{PeopleInRows: f.peopleInRows})
	if err != nil {
		return err
	}
	if f.runs < 1 {
		return fmt.Errorf("runs must be at least 1, got %d", f.runs)
	}
	triesList, err := parseIntList("tries", f.tries)
	if err != nil {
		return err
	}
	mutationsList, err := parseIntList("mutations", f.mutations)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "People: %d, Projects: %d\n", len(rel.People()), f.projects)
	fmt.Fprintf(w, "Runs per config: %d\n\n", f.runs)

	for _, nt := range triesList {
		for _, nm := range mutationsList {
			params := solver.Params{
				NumProjects:  f.projects,
				NumTries:     nt,
				NumMutations: nm,
			}
			if err := params.Validate(len(rel.People())); err != nil {
				return fmt.Errorf("tries=%d mutations=%d: %w", nt, nm, err)
			}
			var results []runResult
			for run := range f.runs {
				rng := rand.New(rand.NewSource(int64(run * 31337)))
				start := time.Now()
				sol, err := solver.Search(ctx, rel, params, rng)
				if err != nil {
					return err
				}
				results = append(results, runResult{sol.Score, sol.Assignment.Key(), time.Since(start)})
			}
			printStats(w, fmt.Sprintf("tries=%d mutations=%d", nt, nm), results, f.runs)
		}
	}
	return nil
}

func main() {
	var f tuneFlags
	cmd := &cobra.Command{
		Use:   "matcher-tune",
		Short: "Compare search budgets on one preference table",
		Long: `Runs the search repeatedly for every combination of the given try and
mutation counts, seeding run i with i*31337, and prints how often each score
and each distinct best assignment came up.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return tune(cmd.Context(), cmd.OutOrStdout(), f)
		},
	}
	cmd.Flags().StringVar(&f.file, "file", "prefs.csv", "preference table")
	cmd.Flags().IntVar(&f.runs, "runs", 20, "number of searches per parameter set")
	cmd.Flags().IntVar(&f.projects, "projects", 2, "number of projects")
	cmd.Flags().StringVar(&f.tries, "tries", "1,10,100", "comma-separated try counts")
	cmd.Flags().StringVar(&f.mutations, "mutations", "100,1000", "comma-separated mutation counts")
	cmd.Flags().BoolVar(&f.peopleInRows, "people-in-rows", false, "read row labels as people and column headers as projects")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
