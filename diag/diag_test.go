package diag

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cschleiden/go-dslflow/backend/memory"
	"github.com/cschleiden/go-dslflow/core"
)

func newStore(t *testing.T) Store {
	t.Helper()

	b := memory.NewMemoryBackend()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, s := range []struct{ id, parent string }{
		{"run-1", ""},
		{"run-1/group", "run-1"},
		{"run-1/group/inner", "run-1/group"},
		{"run-2", ""},
	} {
		state := core.NewWorkflowState(s.id, "release", "", "hash", []string{"a"}, now.Add(time.Duration(i)*time.Minute))
		state.ParentID = s.parent
		state.Status = core.WorkflowStatusCompleted
		require.NoError(t, b.Save(context.Background(), state))
	}

	return b
}

func get(t *testing.T, mux *http.ServeMux, method, url string, v any) int {
	t.Helper()

	req := httptest.NewRequest(method, url, nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code == http.StatusOK && v != nil {
		require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
	}

	return rec.Code
}

func ids(summaries []*core.Summary) []string {
	var out []string
	for _, s := range summaries {
		out = append(out, s.ID)
	}

	return out
}

func Test_List(t *testing.T) {
	mux := NewServeMux(newStore(t), nil)

	tests := []struct {
		name string
		url  string
		want []string
	}{
		{name: "all", url: "/api/", want: []string{"run-1", "run-1/group", "run-1/group/inner", "run-2"}},
		{name: "count", url: "/api/?count=2", want: []string{"run-1", "run-1/group"}},
		{name: "after", url: "/api/?after=run-1/group&count=1", want: []string{"run-1/group/inner"}},
		{name: "top level", url: "/api/?top=true", want: []string{"run-1", "run-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []*core.Summary
			require.Equal(t, http.StatusOK, get(t, mux, http.MethodGet, tt.url, &got))
			require.Equal(t, tt.want, ids(got))
		})
	}

	require.Equal(t, http.StatusBadRequest, get(t, mux, http.MethodGet, "/api/?count=x", nil))
	require.Equal(t, http.StatusMethodNotAllowed, get(t, mux, http.MethodPost, "/api/", nil))
}

func Test_Run(t *testing.T) {
	mux := NewServeMux(newStore(t), nil)

	var info RunInfo
	require.Equal(t, http.StatusOK, get(t, mux, http.MethodGet, "/api/run-1/group", &info))
	require.Equal(t, "run-1/group", info.ID)
	require.Equal(t, core.WorkflowStatusCompleted, info.State.Status)
	require.Equal(t, []string{"run-1/group/inner"}, ids(info.Children))

	require.Equal(t, http.StatusNotFound, get(t, mux, http.MethodGet, "/api/missing", nil))
}

func Test_Tree(t *testing.T) {
	mux := NewServeMux(newStore(t), nil)

	var tree RunTree
	require.Equal(t, http.StatusOK, get(t, mux, http.MethodGet, "/api/run-1/group/inner?tree=true", &tree))
	require.Equal(t, "run-1", tree.ID)
	require.Len(t, tree.Children, 1)
	require.Equal(t, "run-1/group", tree.Children[0].ID)
	require.Len(t, tree.Children[0].Children, 1)
	require.Equal(t, "run-1/group/inner", tree.Children[0].Children[0].ID)

	require.Equal(t, http.StatusNotFound, get(t, mux, http.MethodGet, "/api/missing?tree=true", nil))
}
