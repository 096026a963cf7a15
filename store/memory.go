package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

type Memory struct {
	mu     sync.Mutex
	nextID int64
	tables map[int64]*Table
	runs   map[string]*Run
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		tables: map[int64]*Table{},
		runs:   map[string]*Run{},
		now:    time.Now,
	}
}

func (m *Memory) CreateTable(ctx context.Context, name, csv string, peopleInRows bool, people []string) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t := &Table{
		ID:           m.nextID,
		Name:         name,
		CSV:          csv,
		PeopleInRows: peopleInRows,
		People:       slices.Clone(people),
		CreatedAt:    m.now(),
	}
	m.tables[t.ID] = t
	out := *t
	return &out, nil
}

func (m *Memory) ListTables(ctx context.Context) ([]Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tables := []Table{}
	for _, t := range m.tables {
		out := *t
		out.CSV = ""
		out.People = slices.Clone(t.People)
		tables = append(tables, out)
	}
	slices.SortFunc(tables, func(a, b Table) int { return int(a.ID - b.ID) })
	return tables, nil
}

func (m *Memory) GetTable(ctx context.Context, id int64) (*Table, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := *t
	out.People = slices.Clone(t.People)
	return &out, nil
}

func (m *Memory) DeleteTable(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; !ok {
		return ErrNotFound
	}
	delete(m.tables, id)
	for rid, r := range m.runs {
		if r.TableID == id {
			delete(m.runs, rid)
		}
	}
	return nil
}

func (m *Memory) SaveRun(ctx context.Context, r *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[r.TableID]; !ok {
		return ErrNotFound
	}
	r.CreatedAt = m.now()
	m.runs[r.ID] = cloneRun(r)
	return nil
}

func (m *Memory) ListRuns(ctx context.Context, tableID int64) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[tableID]; !ok {
		return nil, ErrNotFound
	}
	runs := []Run{}
	for _, r := range m.runs {
		if r.TableID == tableID {
			runs = append(runs, *cloneRun(r))
		}
	}
	slices.SortFunc(runs, func(a, b Run) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return runs, nil
}

func (m *Memory) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(r), nil
}

func (m *Memory) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *Memory) Close() error {
	return nil
}

func cloneRun(r *Run) *Run {
	out := *r
	out.Projects = slices.Clone(r.Projects)
	out.Teams = make([][]string, len(r.Teams))
	for i, t := range r.Teams {
		out.Teams[i] = slices.Clone(t)
	}
	return &out
}
