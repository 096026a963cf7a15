package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"projectmatcher/config"
	"projectmatcher/prefs"
	"projectmatcher/solver"
	"projectmatcher/store"
)

const maxTableBytes = 10 << 20

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the matcher over HTTP",
		Long: `Starts an HTTP API for uploading preference tables and running searches
over them. Results are kept in Postgres when database.dsn (or PGCONN) is set,
otherwise in memory. Requests are authorised with Google sign-in; only the
configured admins may use the API.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func openStore(ctx context.Context, dc config.DatabaseConfig) (store.Store, error) {
	if dc.DSN == "" {
		logger.Warn("no database configured, keeping results in memory")
		return store.NewMemory(), nil
	}
	st, err := store.OpenPostgres(ctx, dc.DSN)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to database")
	return st, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if cfg.Auth.ClientID == "" || cfg.Auth.ClientSecret == "" {
		return errors.New("serve needs auth.client_id and auth.client_secret (or CLIENT_ID and CLIENT_SECRET)")
	}
	if len(cfg.Auth.Admins) == 0 {
		logger.Warn("no admins configured, every API call will be refused")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newMux(st, newAuthenticator(cfg.Auth), cfg.Search),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newMux(st store.Store, a *authenticator, defaults config.SearchConfig) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/google/callback", handleGoogleCallback(a))
	mux.HandleFunc("GET /api/admin/check", handleAdminCheck(a))
	mux.HandleFunc("GET /api/tables", handleListTables(st, a))
	mux.HandleFunc("POST /api/tables", handleCreateTable(st, a))
	mux.HandleFunc("GET /api/tables/{tableID}", handleGetTable(st, a))
	mux.HandleFunc("DELETE /api/tables/{tableID}", handleDeleteTable(st, a))
	mux.HandleFunc("POST /api/tables/{tableID}/solve", handleSolve(st, a, defaults))
	mux.HandleFunc("GET /api/tables/{tableID}/runs", handleListRuns(st, a))
	mux.HandleFunc("GET /api/runs/{runID}", handleGetRun(st, a))
	mux.HandleFunc("GET /api/runs/{runID}/people/{person}", handleRunPerson(st, a))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Ping(r.Context()); err != nil {
			http.Error(w, "store unhealthy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprintln(w, "ok")
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func internalError(w http.ResponseWriter, msg string, err error) {
	logger.Error(msg, zap.Error(err))
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func storeError(w http.ResponseWriter, msg string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, msg, http.StatusNotFound)
		return
	}
	internalError(w, msg, err)
}

func tableID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("tableID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid table ID", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// withinSteps reports whether a search stays under maxSteps hill-climb steps.
// A try with no mutations still counts as one step.
func withinSteps(p solver.Params, maxSteps int) bool {
	if maxSteps <= 0 {
		return true
	}
	return max(p.NumMutations, 1) <= maxSteps/p.NumTries
}

func handleListTables(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		tables, err := st.ListTables(r.Context())
		if err != nil {
			internalError(w, "listing tables", err)
			return
		}
		writeJSON(w, http.StatusOK, tables)
	}
}

func handleCreateTable(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := a.requireAdmin(w, r)
		if !ok {
			return
		}
		name := strings.TrimSpace(r.URL.Query().Get("name"))
		if name == "" {
			http.Error(w, "name is required", http.StatusBadRequest)
			return
		}
		peopleInRows, _ := strconv.ParseBool(r.URL.Query().Get("people_in_rows"))

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxTableBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				http.Error(w, "table too large", http.StatusRequestEntityTooLarge)
				return
			}
			http.Error(w, "reading table: "+err.Error(), http.StatusBadRequest)
			return
		}
		rel, err := prefs.Load(bytes.NewReader(body), prefs.Options{PeopleInRows: peopleInRows})
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		t, err := st.CreateTable(r.Context(), name, string(body), peopleInRows, rel.People())
		if err != nil {
			internalError(w, "creating table", err)
			return
		}
		logger.Info("table created", zap.Int64("table_id", t.ID), zap.String("by", email), zap.Int("people", len(t.People)))
		writeJSON(w, http.StatusCreated, t)
	}
}

func handleGetTable(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		id, ok := tableID(w, r)
		if !ok {
			return
		}
		t, err := st.GetTable(r.Context(), id)
		if err != nil {
			storeError(w, "table not found", err)
			return
		}
		writeJSON(w, http.StatusOK, t)
	}
}

func handleDeleteTable(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		id, ok := tableID(w, r)
		if !ok {
			return
		}
		if err := st.DeleteTable(r.Context(), id); err != nil {
			storeError(w, "table not found", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleSolve(st store.Store, a *authenticator, defaults config.SearchConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := a.requireAdmin(w, r)
		if !ok {
			return
		}
		id, ok := tableID(w, r)
		if !ok {
			return
		}

		var body struct {
			NumProjects  int    `json:"num_projects"`
			NumTries     *int   `json:"num_tries"`
			NumMutations *int   `json:"num_mutations"`
			Seed         *int64 `json:"seed"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		params := solver.Params{
			NumProjects:  body.NumProjects,
			NumTries:     defaults.Tries,
			NumMutations: defaults.Mutations,
		}
		if body.NumTries != nil {
			params.NumTries = *body.NumTries
		}
		if body.NumMutations != nil {
			params.NumMutations = *body.NumMutations
		}
		seed := defaults.Seed
		if body.Seed != nil {
			seed = *body.Seed
		}
		if seed == 0 {
			seed = time.Now().UnixNano()
		}

		t, err := st.GetTable(r.Context(), id)
		if err != nil {
			storeError(w, "table not found", err)
			return
		}
		rel, err := prefs.Load(strings.NewReader(t.CSV), prefs.Options{PeopleInRows: t.PeopleInRows})
		if err != nil {
			internalError(w, "parsing stored table", err)
			return
		}
		if err := params.Validate(len(rel.People())); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if !withinSteps(params, defaults.MaxSteps) {
			http.Error(w, fmt.Sprintf("num_tries * num_mutations exceeds %d", defaults.MaxSteps), http.StatusBadRequest)
			return
		}

		start := time.Now()
		sol, err := solver.Search(r.Context(), rel, params, rand.New(rand.NewSource(seed)))
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}

		run := newRun(t.ID, params, seed, sol, sol.Report(rel))
		if err := st.SaveRun(r.Context(), run); err != nil {
			storeError(w, "table not found", err)
			return
		}
		logger.Info("search finished",
			zap.Int64("table_id", t.ID),
			zap.String("run_id", run.ID),
			zap.String("by", email),
			zap.Int64("seed", seed),
			zap.Int("score", run.Score),
			zap.Duration("elapsed", time.Since(start)))
		writeJSON(w, http.StatusCreated, run)
	}
}

func handleListRuns(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		id, ok := tableID(w, r)
		if !ok {
			return
		}
		runs, err := st.ListRuns(r.Context(), id)
		if err != nil {
			storeError(w, "table not found", err)
			return
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func handleGetRun(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		run, err := st.GetRun(r.Context(), r.PathValue("runID"))
		if err != nil {
			storeError(w, "run not found", err)
			return
		}
		writeJSON(w, http.StatusOK, run)
	}
}

func handleRunPerson(st store.Store, a *authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		run, err := st.GetRun(r.Context(), r.PathValue("runID"))
		if err != nil {
			storeError(w, "run not found", err)
			return
		}
		person := r.PathValue("person")
		assignment := &solver.Assignment{Projects: run.Projects, Teams: run.Teams}
		project, ok := assignment.TeamOf(person)
		if !ok {
			http.Error(w, "person not in run", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"person": person, "project": project})
	}
}
