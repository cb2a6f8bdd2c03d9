package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/corvus-labs/swarmd/runtime/agent/model/stub"
	"github.com/corvus-labs/swarmd/runtime/agent/runregistry"
	runmem "github.com/corvus-labs/swarmd/runtime/agent/runregistry/inmem"
	"github.com/corvus-labs/swarmd/runtime/agent/scheduler"
	"github.com/corvus-labs/swarmd/runtime/agent/topology"
)

func newTestServer(t *testing.T, client *stub.Client) *Server {
	t.Helper()
	reg := runregistry.New(runmem.New(), runregistry.DefaultRetention)
	sched := scheduler.New(reg, scheduler.Defaults{}, nil, nil, nil)
	srv, err := New(Options{
		Builder:   topology.NewBuilder(),
		Scheduler: sched,
		Registry:  reg,
		Client:    client,
	})
	require.NoError(t, err)
	return srv
}

const minimalConfigJSON = `{
	"global_prompt": "G",
	"task": "hello",
	"teams": [
		{
			"name": "T1",
			"supervisor_prompt": "S",
			"workers": [{"name": "W1", "role": "r", "system_prompt": "p"}]
		}
	]
}`

func happyPathClient() *stub.Client {
	return stub.New(map[string]stub.Response{
		"- T1":                          {Text: "T1"},
		"hello\n\nCandidates:\n- W1":     {Text: "W1"},
		"Progress so far":                {Text: "FINISH"},
		"Role: r":                        {Text: "out"},
		"Synthesize the final answer.":   {Text: "final"},
	})
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env
}

func TestHandleHealth(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, stub.New(nil))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "healthy", body["status"])
	require.Equal(t, ServiceName, body["service"])
}

func TestHandleExecuteHappyPath(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, happyPathClient())

	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(minimalConfigJSON))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	env := decodeEnvelope(t, rec)
	require.True(t, env.Success)
}

// TestHandleExecuteEmptyTeamsLiteralMessage covers a config with an empty
// teams array: it must fail with the exact literal message "At least one
// team is required", not a generic schema error.
func TestHandleExecuteEmptyTeamsLiteralMessage(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, stub.New(nil))

	body := `{"global_prompt": "G", "task": "hello", "teams": []}`
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.False(t, env.Success)
	require.Equal(t, "At least one team is required", env.Error)
}

func TestHandleExecuteMissingTaskRejected(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, stub.New(nil))

	body := `{"global_prompt": "G", "teams": [{"name": "T1", "supervisor_prompt": "S", "workers": [{"name": "W1", "role": "r", "system_prompt": "p"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/execute", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.False(t, env.Success)
	require.Equal(t, "task is required", env.Error)
}

func TestHierarchiesCreateListAndRunsLifecycle(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, happyPathClient())

	createBody := `{"global_prompt": "G", "teams": [{"name": "T1", "supervisor_prompt": "S", "workers": [{"name": "W1", "role": "r", "system_prompt": "p"}]}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/executor/v1/hierarchies/create", bytes.NewBufferString(createBody))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	createEnv := decodeEnvelope(t, rec)
	require.True(t, createEnv.Success)
	data := createEnv.Data.(map[string]any)
	hierarchyID := data["id"].(string)
	require.NotEmpty(t, hierarchyID)

	listReq := httptest.NewRequest(http.MethodPost, "/api/executor/v1/hierarchies/list", bytes.NewBufferString(`{}`))
	listRec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(listRec, listReq)
	require.Equal(t, http.StatusOK, listRec.Code)
	listEnv := decodeEnvelope(t, listRec)
	require.True(t, listEnv.Success)
	listData := listEnv.Data.(map[string]any)
	require.Equal(t, float64(1), listData["total"])

	startBody, err := json.Marshal(map[string]string{"hierarchy_id": hierarchyID, "task": "hello"})
	require.NoError(t, err)
	startReq := httptest.NewRequest(http.MethodPost, "/api/executor/v1/runs/start", bytes.NewBuffer(startBody))
	startRec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(startRec, startReq)
	require.Equal(t, http.StatusOK, startRec.Code)
	startEnv := decodeEnvelope(t, startRec)
	require.True(t, startEnv.Success)
	runID := startEnv.Data.(map[string]any)["id"].(string)
	require.NotEmpty(t, runID)

	require.Eventually(t, func() bool {
		getBody, err := json.Marshal(map[string]any{"id": runID, "since": 0})
		if err != nil {
			return false
		}
		getReq := httptest.NewRequest(http.MethodPost, "/api/executor/v1/runs/get", bytes.NewBuffer(getBody))
		getRec := httptest.NewRecorder()
		srv.Routes().ServeHTTP(getRec, getReq)
		if getRec.Code != http.StatusOK {
			return false
		}
		getEnv := decodeEnvelope(t, getRec)
		data := getEnv.Data.(map[string]any)
		return data["status"] == string(runregistry.StatusCompleted)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunsStartUnknownHierarchyRejected(t *testing.T) {
	t.Parallel()
	srv := newTestServer(t, stub.New(nil))

	body, err := json.Marshal(map[string]string{"hierarchy_id": "nope", "task": "hello"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/executor/v1/runs/start", bytes.NewBuffer(body))
	rec := httptest.NewRecorder()
	srv.Routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	env := decodeEnvelope(t, rec)
	require.False(t, env.Success)
}
