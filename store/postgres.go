package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const (
	foreignKeyViolation       = "23503"
	invalidTextRepresentation = "22P02"
)

type Postgres struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and applies the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) CreateTable(ctx context.Context, name, csv string, peopleInRows bool, people []string) (*Table, error) {
	t := &Table{Name: name, CSV: csv, PeopleInRows: peopleInRows, People: people}
	err := p.db.QueryRowContext(ctx,
		"INSERT INTO preference_tables (name, csv, people_in_rows, people) VALUES ($1, $2, $3, $4) RETURNING id, created_at",
		name, csv, peopleInRows, pq.Array(people)).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (p *Postgres) ListTables(ctx context.Context) ([]Table, error) {
	rows, err := p.db.QueryContext(ctx, "SELECT id, name, people_in_rows, people, created_at FROM preference_tables ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tables := []Table{}
	for rows.Next() {
		var t Table
		if err := rows.Scan(&t.ID, &t.Name, &t.PeopleInRows, pq.Array(&t.People), &t.CreatedAt); err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}

func (p *Postgres) GetTable(ctx context.Context, id int64) (*Table, error) {
	var t Table
	err := p.db.QueryRowContext(ctx,
		"SELECT id, name, csv, people_in_rows, people, created_at FROM preference_tables WHERE id = $1", id).
		Scan(&t.ID, &t.Name, &t.CSV, &t.PeopleInRows, pq.Array(&t.People), &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *Postgres) DeleteTable(ctx context.Context, id int64) error {
	result, err := p.db.ExecContext(ctx, "DELETE FROM preference_tables WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SaveRun(ctx context.Context, r *Run) error {
	teams, err := json.Marshal(r.Teams)
	if err != nil {
		return err
	}
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO runs (id, table_id, num_projects, num_tries, num_mutations, seed, projects, teams, score, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at`,
		r.ID, r.TableID, r.NumProjects, r.NumTries, r.NumMutations, r.Seed,
		pq.Array(r.Projects), teams, r.Score, r.Report).Scan(&r.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == foreignKeyViolation {
		return ErrNotFound
	}
	return err
}

const runColumns = "id, table_id, num_projects, num_tries, num_mutations, seed, projects, teams, score, report, created_at"

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var r Run
	var teams []byte
	if err := s.Scan(&r.ID, &r.TableID, &r.NumProjects, &r.NumTries, &r.NumMutations, &r.Seed,
		pq.Array(&r.Projects), &teams, &r.Score, &r.Report, &r.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(teams, &r.Teams); err != nil {
		return nil, fmt.Errorf("decoding teams of run %s: %w", r.ID, err)
	}
	return &r, nil
}

func (p *Postgres) ListRuns(ctx context.Context, tableID int64) ([]Run, error) {
	var exists bool
	if err := p.db.QueryRowContext(ctx,
		"SELECT EXISTS(SELECT 1 FROM preference_tables WHERE id = $1)", tableID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrNotFound
	}

	rows, err := p.db.QueryContext(ctx,
		"SELECT "+runColumns+" FROM runs WHERE table_id = $1 ORDER BY created_at, id", tableID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func (p *Postgres) GetRun(ctx context.Context, id string) (*Run, error) {
	r, err := scanRun(p.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = $1", id))
	var pqErr *pq.Error
	if errors.Is(err, sql.ErrNoRows) || errors.As(err, &pqErr) && pqErr.Code == invalidTextRepresentation {
		return nil, ErrNotFound
	}
	return r, err
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
