package store

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("not found")

// Table is an uploaded preference table, kept verbatim.
type Table struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	CSV          string    `json:"csv,omitempty"`
	PeopleInRows bool      `json:"people_in_rows"`
	People       []string  `json:"people"`
	CreatedAt    time.Time `json:"created_at"`
}

// Run is the outcome of one finished search over a Table.
type Run struct {
	ID           string     `json:"id"`
	TableID      int64      `json:"table_id"`
	NumProjects  int        `json:"num_projects"`
	NumTries     int        `json:"num_tries"`
	NumMutations int        `json:"num_mutations"`
	Seed         int64      `json:"seed"`
	Projects     []string   `json:"projects"`
	Teams        [][]string `json:"teams"`
	Score        int        `json:"score"`
	Report       string     `json:"report"`
	CreatedAt    time.Time  `json:"created_at"`
}

type Store interface {
	CreateTable(ctx context.Context, name, csv string, peopleInRows bool, people []string) (*Table, error)
	// ListTables returns tables in id order without their CSV bodies.
	ListTables(ctx context.Context) ([]Table, error)
	GetTable(ctx context.Context, id int64) (*Table, error)
	// DeleteTable removes the table and its runs.
	DeleteTable(ctx context.Context, id int64) error
	// SaveRun stores r, filling in CreatedAt.
	SaveRun(ctx context.Context, r *Run) error
	// ListRuns returns the runs of a table, oldest first.
	ListRuns(ctx context.Context, tableID int64) ([]Run, error)
	GetRun(ctx context.Context, id string) (*Run, error)
	Ping(ctx context.Context) error
	Close() error
}
