package solver

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectmatcher/prefs"
)

// scriptedRand replays fixed permutations and integers in order.
type scriptedRand struct {
	perms [][]int
	ints  []int
}

func (r *scriptedRand) Perm(n int) []int {
	p := r.perms[0]
	r.perms = r.perms[1:]
	if len(p) != n {
		panic(fmt.Sprintf("scripted perm has %d entries, want %d", len(p), n))
	}
	return p
}

func (r *scriptedRand) Intn(n int) int {
	v := r.ints[0]
	r.ints = r.ints[1:]
	return v % n
}

func fourPeople() *prefs.Relation {
	return prefs.New(map[string][]string{
		"A": {"B", "D"},
		"B": {"A", "C", "D"},
		"C": {"A", "B"},
		"D": {"B"},
	})
}

func randomRelation(rng *rand.Rand, n int) *prefs.Relation {
	likes := map[string][]string{}
	var people []string
	for i := range n {
		people = append(people, fmt.Sprintf("p%02d", i))
	}
	for _, person := range people {
		likes[person] = nil
		for _, project := range people {
			if rng.Intn(3) == 0 {
				likes[person] = append(likes[person], project)
			}
		}
	}
	return prefs.New(likes)
}

func checkInvariants(t *testing.T, a *Assignment, people []string, numProjects int) {
	t.Helper()
	require.Len(t, a.Projects, numProjects)
	require.Len(t, a.Teams, numProjects)

	seen := map[string]int{}
	for _, team := range a.Teams {
		for _, m := range team {
			seen[m]++
		}
	}
	for _, p := range people {
		assert.Equal(t, 1, seen[p], "person %s appears %d times", p, seen[p])
	}
	assert.Len(t, seen, len(people))

	base := len(people) / numProjects
	larger := 0
	for _, team := range a.Teams {
		switch len(team) {
		case base:
		case base + 1:
			larger++
		default:
			t.Errorf("team size %d, want %d or %d", len(team), base, base+1)
		}
	}
	assert.Equal(t, len(people)%numProjects, larger)

	projects := slices.Clone(a.Projects)
	slices.Sort(projects)
	assert.Equal(t, projects, a.Projects, "projects are sorted")
	assert.Len(t, slices.Compact(projects), numProjects, "projects are distinct")
	for _, p := range a.Projects {
		assert.Contains(t, people, p)
	}
}

func TestNewAssignmentScenario(t *testing.T) {
	p := fourPeople()
	rng := &scriptedRand{perms: [][]int{{0, 1, 2, 3}, {1, 2, 3, 0}}}

	got, err := NewAssignment(p.People(), 4, rng)
	require.NoError(t, err)

	want := &Assignment{
		Projects: []string{"A", "B", "C", "D"},
		Teams:    [][]string{{"A"}, {"D"}, {"C"}, {"B"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewAssignment() mismatch (-want +got):\n%s", diff)
	}
	// D likes B and B likes D; A and C sit on their own labels.
	assert.Equal(t, 2, got.Score(p))
	assert.Equal(t, "A: A\nB: D\nC: C\nD: B\nScore: 2", got.Report(p))
}

func TestNewAssignmentExtraMembersGoFirst(t *testing.T) {
	people := []string{"a", "b", "c", "d", "e", "f", "g"}
	rng := &scriptedRand{perms: [][]int{{6, 5, 4, 3, 2, 1, 0}, {0, 1, 2, 3, 4, 5, 6}}}

	got, err := NewAssignment(people, 3, rng)
	require.NoError(t, err)

	want := &Assignment{
		Projects: []string{"e", "f", "g"},
		Teams:    [][]string{{"g", "f", "e"}, {"d", "c"}, {"b", "a"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("NewAssignment() mismatch (-want +got):\n%s", diff)
	}
}

func TestNewAssignmentInvariants(t *testing.T) {
	for n := 1; n <= 13; n++ {
		var people []string
		for i := range n {
			people = append(people, fmt.Sprintf("p%02d", i))
		}
		for k := 1; k <= n; k++ {
			for seed := range int64(5) {
				rng := rand.New(rand.NewSource(seed))
				a, err := NewAssignment(people, k, rng)
				require.NoError(t, err)
				checkInvariants(t, a, people, k)
			}
		}
	}
}

func TestNewAssignmentDeterministic(t *testing.T) {
	people := randomRelation(rand.New(rand.NewSource(3)), 11).People()
	a, err := NewAssignment(people, 4, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	b, err := NewAssignment(people, 4, rand.New(rand.NewSource(99)))
	require.NoError(t, err)
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("same seed gave different assignments (-first +second):\n%s", diff)
	}
}

func TestNewAssignmentProjectCount(t *testing.T) {
	people := []string{"a", "b", "c"}
	for _, k := range []int{0, -1, 4} {
		_, err := NewAssignment(people, k, rand.New(rand.NewSource(1)))
		assert.ErrorIs(t, err, ErrProjectCount, "numProjects=%d", k)
	}
}

func TestMutate(t *testing.T) {
	a := &Assignment{
		Projects: []string{"x", "y", "z"},
		Teams:    [][]string{{"a", "b"}, {"c", "d"}, {"e"}},
	}

	a.Mutate(&scriptedRand{ints: []int{1, 1}})
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, a.Teams)

	a.Mutate(&scriptedRand{ints: []int{0, 2}})
	assert.Equal(t, [][]string{{"a", "e"}, {"c", "d"}, {"b"}}, a.Teams)

	a.Mutate(&scriptedRand{ints: []int{2, 1}})
	assert.Equal(t, [][]string{{"a", "e"}, {"c", "b"}, {"d"}}, a.Teams)
}

func TestMutateSingleTeam(t *testing.T) {
	a := &Assignment{Projects: []string{"x"}, Teams: [][]string{{"a", "b"}}}
	a.Mutate(rand.New(rand.NewSource(1)))
	assert.Equal(t, [][]string{{"a", "b"}}, a.Teams)
}

func TestMutateScoreDelta(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p := randomRelation(rng, 15)
	people := p.People()

	a, err := NewAssignment(people, 4, rng)
	require.NoError(t, err)
	for range 500 {
		before := a.Score(p)
		a.Mutate(rng)
		delta := a.Score(p) - before
		assert.LessOrEqual(t, delta, 2)
		assert.GreaterOrEqual(t, delta, -2)
		checkInvariants(t, a, people, 4)
	}
}

func TestCloneIsDeep(t *testing.T) {
	a := &Assignment{
		Projects: []string{"x", "y"},
		Teams:    [][]string{{"a", "b"}, {"c", "d"}},
	}
	b := a.Clone()
	b.Mutate(&scriptedRand{ints: []int{0, 1}})
	b.Projects[0] = "changed"

	assert.Equal(t, []string{"x", "y"}, a.Projects)
	assert.Equal(t, [][]string{{"a", "b"}, {"c", "d"}}, a.Teams)
	assert.Equal(t, [][]string{{"a", "d"}, {"c", "b"}}, b.Teams)
}

func TestTeamOfAndKey(t *testing.T) {
	a := &Assignment{
		Projects: []string{"x", "y"},
		Teams:    [][]string{{"b", "a"}, {"c"}},
	}
	project, ok := a.TeamOf("a")
	assert.True(t, ok)
	assert.Equal(t, "x", project)
	_, ok = a.TeamOf("zz")
	assert.False(t, ok)

	b := &Assignment{
		Projects: []string{"x", "y"},
		Teams:    [][]string{{"a", "b"}, {"c"}},
	}
	assert.Equal(t, a.Key(), b.Key())
	assert.Equal(t, "x=a,b;y=c;", a.Key())
}

func TestHillClimbMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	p := randomRelation(rng, 12)
	start, err := NewAssignment(p.People(), 3, rng)
	require.NoError(t, err)
	startKey := start.Key()

	current, prev := start, start.Score(p)
	for range 300 {
		next, sc := HillClimb(current, p, 1, rng)
		assert.GreaterOrEqual(t, sc, prev)
		assert.Equal(t, sc, next.Score(p))
		current, prev = next, sc
	}
	assert.Equal(t, startKey, start.Key(), "HillClimb must not modify its input")
}

func TestSearchZeroMutations(t *testing.T) {
	p := randomRelation(rand.New(rand.NewSource(5)), 9)

	sol, err := Search(context.Background(), p, Params{NumProjects: 3, NumTries: 1}, rand.New(rand.NewSource(42)))
	require.NoError(t, err)

	initial, err := NewAssignment(p.People(), 3, rand.New(rand.NewSource(42)))
	require.NoError(t, err)
	assert.Equal(t, initial.Report(p), sol.Report(p))
	assert.Equal(t, []int{initial.Score(p)}, sol.TryScores)
}

func TestSearchDeterministic(t *testing.T) {
	p := randomRelation(rand.New(rand.NewSource(8)), 14)
	params := Params{NumProjects: 4, NumTries: 5, NumMutations: 200}

	first, err := Search(context.Background(), p, params, rand.New(rand.NewSource(1234)))
	require.NoError(t, err)
	second, err := Search(context.Background(), p, params, rand.New(rand.NewSource(1234)))
	require.NoError(t, err)

	assert.Equal(t, first.Report(p), second.Report(p))
	assert.Equal(t, first.TryScores, second.TryScores)
}

func TestSearchBestOfTries(t *testing.T) {
	p := randomRelation(rand.New(rand.NewSource(21)), 16)
	for seed := range int64(10) {
		single, err := Search(context.Background(), p, Params{NumProjects: 4, NumTries: 1, NumMutations: 100}, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)
		many, err := Search(context.Background(), p, Params{NumProjects: 4, NumTries: 8, NumMutations: 100}, rand.New(rand.NewSource(seed)))
		require.NoError(t, err)

		// The first try of both searches draws the same random numbers.
		assert.Equal(t, single.TryScores[0], many.TryScores[0])
		assert.GreaterOrEqual(t, many.Score, single.Score)
		assert.Equal(t, slices.Max(many.TryScores), many.Score)
		assert.Equal(t, many.Score, many.Assignment.Score(p))
		checkInvariants(t, many.Assignment, p.People(), 4)
	}
}

func TestTrackerKeepsEarliestBest(t *testing.T) {
	first := &Assignment{Projects: []string{"x"}, Teams: [][]string{{"a"}}}
	second := &Assignment{Projects: []string{"y"}, Teams: [][]string{{"a"}}}
	better := &Assignment{Projects: []string{"z"}, Teams: [][]string{{"a"}}}

	tr := &solutionTracker{}
	tr.add(first, 3)
	tr.add(second, 3)
	assert.Same(t, first, tr.best)
	tr.add(second, 1)
	assert.Same(t, first, tr.best)
	tr.add(better, 4)
	assert.Same(t, better, tr.best)
	assert.Equal(t, 4, tr.bestScore)
}

func TestSearchParams(t *testing.T) {
	p := fourPeople()
	rng := rand.New(rand.NewSource(1))
	tests := []struct {
		params Params
		want   error
	}{
		{Params{NumProjects: 2, NumTries: 0, NumMutations: 1}, ErrNoTries},
		{Params{NumProjects: 0, NumTries: 1, NumMutations: 1}, ErrProjectCount},
		{Params{NumProjects: 5, NumTries: 1, NumMutations: 1}, ErrProjectCount},
		{Params{NumProjects: 2, NumTries: 1, NumMutations: -1}, ErrNegativeMutations},
	}
	for _, test := range tests {
		_, err := Search(context.Background(), p, test.params, rng)
		assert.ErrorIs(t, err, test.want, "params %+v", test.params)
	}
}

func TestSearchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Search(ctx, fourPeople(), Params{NumProjects: 2, NumTries: 3, NumMutations: 10}, rand.New(rand.NewSource(1)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSearchEveryoneOnOwnTeam(t *testing.T) {
	p := fourPeople()
	sol, err := Search(context.Background(), p, Params{NumProjects: 4, NumTries: 20, NumMutations: 50}, rand.New(rand.NewSource(3)))
	require.NoError(t, err)
	checkInvariants(t, sol.Assignment, p.People(), 4)
	for _, team := range sol.Assignment.Teams {
		assert.Len(t, team, 1)
	}
	assert.LessOrEqual(t, sol.Score, 4)
	assert.GreaterOrEqual(t, sol.Score, 2)
}
