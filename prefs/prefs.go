package prefs

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
)

var ErrEmptyTable = errors.New("preference table has no people")

// UnknownPersonError reports a lookup for a person the relation was not built with.
type UnknownPersonError struct {
	Person string
}

func (e *UnknownPersonError) Error() string {
	return fmt.Sprintf("unknown person %q", e.Person)
}

type Options struct {
	// PeopleInRows reads row labels as people and column headers as projects.
	// By default column headers are people and each row names a project.
	PeopleInRows bool
}

// Relation maps each person to the set of projects they like. It is never
// modified after Load.
type Relation struct {
	likes map[string]map[string]bool
}

func New(likes map[string][]string) *Relation {
	r := &Relation{likes: map[string]map[string]bool{}}
	for person, projects := range likes {
		set := map[string]bool{}
		for _, p := range projects {
			set[p] = true
		}
		r.likes[person] = set
	}
	return r
}

func LoadFile(path string, opts Options) (*Relation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Load(f, opts)
}

func Load(in io.Reader, opts Options) (*Relation, error) {
	rdr := csv.NewReader(in)
	header, err := rdr.Read()
	if err == io.EOF {
		return nil, ErrEmptyTable
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	r := &Relation{likes: map[string]map[string]bool{}}
	if !opts.PeopleInRows {
		for _, h := range header[1:] {
			if h != "" {
				r.likes[h] = map[string]bool{}
			}
		}
	}

	for {
		row, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		label := row[0]
		if opts.PeopleInRows && label != "" {
			if r.likes[label] == nil {
				r.likes[label] = map[string]bool{}
			}
		}
		for i := 1; i < len(row); i++ {
			if row[i] == "" || header[i] == "" {
				continue
			}
			if opts.PeopleInRows {
				if label != "" {
					r.likes[label][header[i]] = true
				}
			} else {
				r.likes[header[i]][label] = true
			}
		}
	}

	if len(r.likes) == 0 {
		return nil, ErrEmptyTable
	}
	return r, nil
}

// Likes reports whether person likes project. It panics with
// *UnknownPersonError if person is not part of the relation; use Lookup when
// the name comes from outside.
func (r *Relation) Likes(person, project string) bool {
	set, ok := r.likes[person]
	if !ok {
		panic(&UnknownPersonError{Person: person})
	}
	return set[project]
}

func (r *Relation) Known(person string) bool {
	_, ok := r.likes[person]
	return ok
}

// Lookup returns the projects person likes in ascending order.
func (r *Relation) Lookup(person string) ([]string, error) {
	set, ok := r.likes[person]
	if !ok {
		return nil, &UnknownPersonError{Person: person}
	}
	projects := make([]string, 0, len(set))
	for p := range set {
		projects = append(projects, p)
	}
	slices.Sort(projects)
	return projects, nil
}

// People returns every person in ascending order.
func (r *Relation) People() []string {
	people := make([]string, 0, len(r.likes))
	for p := range r.likes {
		people = append(people, p)
	}
	slices.Sort(people)
	return people
}

func (r *Relation) String() string {
	var buf strings.Builder
	buf.WriteByte('{')
	for i, person := range r.People() {
		if i > 0 {
			buf.WriteString(", ")
		}
		projects, _ := r.Lookup(person)
		fmt.Fprintf(&buf, "%s: [%s]", person, strings.Join(projects, " "))
	}
	buf.WriteByte('}')
	return buf.String()
}
