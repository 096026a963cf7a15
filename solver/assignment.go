package solver

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var ErrProjectCount = errors.New("number of projects must be between 1 and the number of people")

// Preferences is the relation an Assignment is scored against.
type Preferences interface {
	Likes(person, project string) bool
	People() []string
}

// Rand is the randomness the solver draws from. *math/rand.Rand satisfies it.
type Rand interface {
	Perm(n int) []int
	Intn(n int) int
}

// Assignment partitions people into len(Projects) teams; Teams[i] works on
// Projects[i]. Project labels are taken from the people themselves.
type Assignment struct {
	Projects []string
	Teams    [][]string
}

// NewAssignment picks numProjects distinct labels and deals a shuffled copy
// of people into teams whose sizes differ by at most one, the first
// len(people)%numProjects teams taking the extra member.
func NewAssignment(people []string, numProjects int, rng Rand) (*Assignment, error) {
	n := len(people)
	if numProjects < 1 || numProjects > n {
		return nil, fmt.Errorf("%w: got %d for %d people", ErrProjectCount, numProjects, n)
	}

	projects := make([]string, numProjects)
	for i, pi := range rng.Perm(n)[:numProjects] {
		projects[i] = people[pi]
	}
	slices.Sort(projects)

	perm := rng.Perm(n)
	base := n / numProjects
	extra := n % numProjects

	teams := make([][]string, numProjects)
	next := n - 1
	for team := range numProjects {
		size := base
		if team < extra {
			size++
		}
		teams[team] = make([]string, 0, size)
		for range size {
			teams[team] = append(teams[team], people[perm[next]])
			next--
		}
	}

	return &Assignment{Projects: projects, Teams: teams}, nil
}

func (a *Assignment) Clone() *Assignment {
	teams := make([][]string, len(a.Teams))
	for i, t := range a.Teams {
		teams[i] = slices.Clone(t)
	}
	return &Assignment{Projects: slices.Clone(a.Projects), Teams: teams}
}

// Mutate swaps the last members of two randomly chosen teams. Picking the
// same team twice leaves the assignment unchanged. Team sizes never change,
// so every team keeps the member it was built with.
func (a *Assignment) Mutate(rng Rand) {
	one := rng.Intn(len(a.Teams))
	two := rng.Intn(len(a.Teams))
	if one == two {
		return
	}
	t1, t2 := a.Teams[one], a.Teams[two]
	i, j := len(t1)-1, len(t2)-1
	t1[i], t2[j] = t2[j], t1[i]
}

// Score counts the members who like the project their team is labelled with.
func (a *Assignment) Score(p Preferences) int {
	sc := 0
	for i, project := range a.Projects {
		for _, m := range a.Teams[i] {
			if p.Likes(m, project) {
				sc++
			}
		}
	}
	return sc
}

func (a *Assignment) Report(p Preferences) string {
	var buf strings.Builder
	for i, project := range a.Projects {
		buf.WriteString(project)
		buf.WriteByte(':')
		for _, m := range a.Teams[i] {
			buf.WriteByte(' ')
			buf.WriteString(m)
		}
		buf.WriteByte('\n')
	}
	fmt.Fprintf(&buf, "Score: %d", a.Score(p))
	return buf.String()
}

// TeamOf returns the project person is assigned to.
func (a *Assignment) TeamOf(person string) (string, bool) {
	for i, t := range a.Teams {
		if slices.Contains(t, person) {
			return a.Projects[i], true
		}
	}
	return "", false
}

// Key is a canonical form that ignores member order within a team, so two
// assignments with the same teams compare equal.
func (a *Assignment) Key() string {
	var buf strings.Builder
	for i, project := range a.Projects {
		members := slices.Clone(a.Teams[i])
		slices.Sort(members)
		buf.WriteString(project)
		buf.WriteByte('=')
		buf.WriteString(strings.Join(members, ","))
		buf.WriteByte(';')
	}
	return buf.String()
}
