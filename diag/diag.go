// Package diag serves a read-only JSON API over persisted runs.
package diag

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/cschleiden/go-dslflow/backend"
	"github.com/cschleiden/go-dslflow/core"
	"github.com/cschleiden/go-dslflow/log"
)

// NewServeMux returns an *http.ServeMux serving the diagnostics API at /api/:
//
//	GET /api/?after=<id>&count=<n>&top=true  summaries of stored runs, oldest first
//	GET /api/<id>                            state of a run with its direct nested runs
//	GET /api/<id>?tree=true                  tree of the top-level run id belongs to
//
// Nested run IDs contain slashes, so <id> is the remainder of the path.
func NewServeMux(store Store, logger *slog.Logger) *http.ServeMux {
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		// Only support GET requests
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, "/api/")
		query := r.URL.Query()

		// /api/
		if id == "" {
			count := 25
			if countStr := query.Get("count"); countStr != "" {
				var err error
				count, err = strconv.Atoi(countStr)
				if err != nil || count < 1 {
					w.WriteHeader(http.StatusBadRequest)
					return
				}
			}

			summaries, err := store.List(r.Context())
			if err != nil {
				logger.Error("listing runs", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			writeJSON(w, logger, page(summaries, query.Get("after"), count, query.Get("top") == "true"))
			return
		}

		if query.Get("tree") == "true" {
			summaries, err := store.List(r.Context())
			if err != nil {
				logger.Error("listing runs", "error", err)
				w.WriteHeader(http.StatusInternalServerError)
				return
			}

			tree, err := newRunTreeBuilder(summaries).build(id)
			if err != nil {
				w.WriteHeader(http.StatusNotFound)
				return
			}

			writeJSON(w, logger, tree)
			return
		}

		// /api/{id}
		state, err := store.Load(r.Context(), id)
		if err != nil {
			if errors.Is(err, backend.ErrNotFound) {
				w.WriteHeader(http.StatusNotFound)
				return
			}

			logger.Error("loading run", log.RunIDKey, id, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		summaries, err := store.List(r.Context())
		if err != nil {
			logger.Error("listing runs", "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		info := &RunInfo{
			Summary: state.Summarize(),
			State:   state,
		}
		for _, s := range summaries {
			if s.ParentID == id {
				info.Children = append(info.Children, s)
			}
		}

		writeJSON(w, logger, info)
	})

	return mux
}

// page returns up to count summaries following the run with ID after.
func page(summaries []*core.Summary, after string, count int, topLevel bool) []*core.Summary {
	backend.SortSummaries(summaries)

	out := make([]*core.Summary, 0, count)
	found := after == ""
	for _, s := range summaries {
		if !found {
			found = s.ID == after
			continue
		}

		if topLevel && s.ParentID != "" {
			continue
		}

		out = append(out, s)
		if len(out) == count {
			break
		}
	}

	return out
}

func writeJSON(w http.ResponseWriter, logger *slog.Logger, v any) {
	w.Header().Add("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("encoding response", "error", err)
	}
}
