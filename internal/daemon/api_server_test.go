package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ffqueue/internal/api"
	"ffqueue/internal/encoding"
	"ffqueue/internal/logging"
	"ffqueue/internal/queue"
	"ffqueue/internal/testsupport"
)

type idleEncoder struct{}

func (idleEncoder) Start(context.Context, encoding.Request, encoding.Events) (encoding.Handle, error) {
	return nil, errors.New("not started in api tests")
}

func (idleEncoder) Join(context.Context, queue.ConcatPlan, string) error { return nil }

func (idleEncoder) ProbeDuration(context.Context, string) (float64, error) { return 0, nil }

const testToken = "secret"

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := testsupport.NewConfig(t, testsupport.WithAPIToken(testToken))
	store := testsupport.MustOpenStore(t, cfg)
	d, err := New(cfg, store, idleEncoder{}, logging.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	srv := httptest.NewServer(d.api.router)
	t.Cleanup(srv.Close)
	return srv
}

func call(t *testing.T, srv *httptest.Server, method, path string, body any, out any) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, srv.URL+path, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+testToken)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func TestAPIRequiresBearerToken(t *testing.T) {
	srv := newTestAPI(t)

	resp, err := srv.Client().Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}

	var status api.DaemonStatus
	if code := call(t, srv, http.MethodGet, "/api/status", nil, &status); code != http.StatusOK {
		t.Fatalf("authorized status = %d", code)
	}
	if status.Running {
		t.Fatal("unstarted daemon reports running")
	}
}

func TestAPIJobLifecycle(t *testing.T) {
	srv := newTestAPI(t)

	var created api.JobResponse
	code := call(t, srv, http.MethodPost, "/api/jobs", api.EnqueueRequest{InputPath: "/media/a.mkv", PresetID: "h264-crf23"}, &created)
	if code != http.StatusCreated || created.Job.ID == "" {
		t.Fatalf("enqueue = %d %+v", code, created)
	}
	id := created.Job.ID

	if code := call(t, srv, http.MethodPost, "/api/jobs", api.EnqueueRequest{InputPath: "/media/b.mkv", PresetID: "nope"}, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown preset = %d, want 400", code)
	}

	var detail api.JobDetail
	if code := call(t, srv, http.MethodGet, "/api/jobs/"+id, nil, &detail); code != http.StatusOK || detail.Status != queue.StatusQueued {
		t.Fatalf("job = %d %+v", code, detail)
	}
	if code := call(t, srv, http.MethodGet, "/api/jobs/job-99", nil, nil); code != http.StatusNotFound {
		t.Fatalf("missing job = %d, want 404", code)
	}

	var action api.ActionResponse
	if code := call(t, srv, http.MethodPost, "/api/jobs/"+id+"/cancel", nil, &action); code != http.StatusOK || !action.OK {
		t.Fatalf("cancel = %d %+v", code, action)
	}
	if code := call(t, srv, http.MethodPost, "/api/jobs/"+id+"/explode", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("unknown action = %d, want 400", code)
	}

	var bulk api.BulkResponse
	code = call(t, srv, http.MethodPost, "/api/bulk/delete", api.BulkRequest{IDs: []string{id, "job-99"}}, &bulk)
	if code != http.StatusOK || bulk.OK || len(bulk.Accepted) != 1 || len(bulk.Rejected) != 1 {
		t.Fatalf("bulk = %d %+v", code, bulk)
	}
}

func TestAPIStateAndChanges(t *testing.T) {
	srv := newTestAPI(t)
	call(t, srv, http.MethodPost, "/api/jobs", api.EnqueueRequest{InputPath: "/media/a.mkv", PresetID: "h264-crf23"}, nil)

	var snap struct {
		Revision uint64            `json:"snapshotRevision"`
		Jobs     []json.RawMessage `json:"jobs"`
	}
	if code := call(t, srv, http.MethodGet, "/api/state?status=queued", nil, &snap); code != http.StatusOK || len(snap.Jobs) != 1 {
		t.Fatalf("state = %d %+v", code, snap)
	}
	if code := call(t, srv, http.MethodGet, "/api/state?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d, want 400", code)
	}

	var changes api.ChangesResponse
	if code := call(t, srv, http.MethodGet, "/api/changes?from=0", nil, &changes); code != http.StatusOK {
		t.Fatalf("changes = %d", code)
	}
	if changes.Delta == nil && changes.Snapshot == nil {
		t.Fatal("changes carried neither delta nor snapshot")
	}
	if code := call(t, srv, http.MethodGet, "/api/changes?from=x", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("bad revision = %d, want 400", code)
	}
}

func TestAPIStartupBeforeStart(t *testing.T) {
	srv := newTestAPI(t)

	var hint api.StartupHintResponse
	if code := call(t, srv, http.MethodGet, "/api/startup/hint", nil, &hint); code != http.StatusOK || hint.Hint != nil {
		t.Fatalf("hint = %d %+v", code, hint)
	}
	if code := call(t, srv, http.MethodPost, "/api/startup/dismiss", nil, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("dismiss = %d, want 503", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := newTestAPI(t)
	call(t, srv, http.MethodPost, "/api/jobs", api.EnqueueRequest{InputPath: "/media/a.mkv", PresetID: "h264-crf23"}, nil)

	resp, err := srv.Client().Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	text := string(body)
	for _, want := range []string{
		`ffqueue_jobs{status="queued"} 1`,
		`ffqueue_encodes_finished_total{outcome="completed"} 0`,
		`ffqueue_http_requests_total{method="POST"`,
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics missing %q:\n%s", want, text)
		}
	}
}
