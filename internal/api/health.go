package api

import (
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
)

// health is the liveness probe. Returns 200 OK whenever the process is alive.
func health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readiness pings the database. A nil pool reports ready; test servers run
// without one.
func readiness(pool *pgxpool.Pool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if pool != nil {
			if err := pool.Ping(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "not_ready", "database not ready", "")
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	})
}
