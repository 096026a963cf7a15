package solver

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNoTries           = errors.New("number of tries must be at least 1")
	ErrNegativeMutations = errors.New("number of mutations must not be negative")
)

type Params struct {
	NumProjects  int
	NumTries     int
	NumMutations int
}

var DefaultParams = Params{
	NumTries:     100,
	NumMutations: 1000,
}

func (p Params) Validate(numPeople int) error {
	if p.NumProjects < 1 || p.NumProjects > numPeople {
		return fmt.Errorf("%w: got %d for %d people", ErrProjectCount, p.NumProjects, numPeople)
	}
	if p.NumTries < 1 {
		return ErrNoTries
	}
	if p.NumMutations < 0 {
		return ErrNegativeMutations
	}
	return nil
}

type Solution struct {
	Assignment *Assignment
	Score      int
	// TryScores holds the final score of each restart, in order.
	TryScores []int
}

func (s *Solution) Report(p Preferences) string {
	return s.Assignment.Report(p)
}

// solutionTracker keeps the first assignment to reach the best score.
type solutionTracker struct {
	best      *Assignment
	bestScore int
}

func (t *solutionTracker) add(a *Assignment, s int) {
	if t.best == nil || t.bestScore < s {
		t.best = a
		t.bestScore = s
	}
}

// HillClimb improves a by repeated single mutations, keeping a mutated copy
// only when it scores strictly higher. It returns the final assignment and
// its score; a itself is never modified.
func HillClimb(a *Assignment, p Preferences, numMutations int, rng Rand) (*Assignment, int) {
	current := a
	currentScore := current.Score(p)
	for range numMutations {
		next := current.Clone()
		next.Mutate(rng)
		if s := next.Score(p); s > currentScore {
			current = next
			currentScore = s
		}
	}
	return current, currentScore
}

// Search runs params.NumTries independent hill climbs from fresh random
// assignments and returns the best one found. ctx is only checked between
// tries.
func Search(ctx context.Context, p Preferences, params Params, rng Rand) (*Solution, error) {
	people := p.People()
	if err := params.Validate(len(people)); err != nil {
		return nil, err
	}

	tracker := &solutionTracker{}
	tryScores := make([]int, 0, params.NumTries)
	for range params.NumTries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start, err := NewAssignment(people, params.NumProjects, rng)
		if err != nil {
			return nil, err
		}
		c, sc := HillClimb(start, p, params.NumMutations, rng)
		tryScores = append(tryScores, sc)
		tracker.add(c, sc)
	}

	return &Solution{
		Assignment: tracker.best,
		Score:      tracker.bestScore,
		TryScores:  tryScores,
	}, nil
}
