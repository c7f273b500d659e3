package api_test

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/JadKHaddad-ORG/JobHub"
	"github.com/JadKHaddad-ORG/JobHub/api"
	"github.com/JadKHaddad-ORG/JobHub/event"
	"github.com/JadKHaddad-ORG/JobHub/hub"
	"github.com/JadKHaddad-ORG/JobHub/job"
	"github.com/JadKHaddad-ORG/JobHub/runner"
	"github.com/JadKHaddad-ORG/JobHub/store/memory"
)

const token = "test-token"

type writeParams struct {
	Name string `json:"name"`
	Body string `json:"body"`
}

type testServer struct {
	url string
	hub *hub.Hub
}

func setup(t *testing.T, mutate func(*jobhub.Config)) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	handlers := runner.NewRegistry()
	runner.Register(handlers, "write", func(_ context.Context, x *runner.Execution, p writeParams) error {
		return os.WriteFile(filepath.Join(x.Workdir(), p.Name), []byte(p.Body), 0o644)
	})
	handlers.Register("block", func(ctx context.Context, _ *runner.Execution, _ []byte) error {
		<-ctx.Done()
		return context.Cause(ctx)
	})

	cfg := jobhub.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.GracePeriod = time.Second
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := hub.New(memory.New(),
		hub.WithConfig(cfg),
		hub.WithLogger(logger),
		hub.WithHandlers(handlers),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	a := api.New(h, api.WithToken(token), api.WithLogger(logger), api.WithKeepAlive(50*time.Millisecond))
	ts := httptest.NewServer(a.Handler())
	t.Cleanup(func() {
		a.Close()
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = h.Stop(ctx)
	})
	return &testServer{url: ts.URL, hub: h}
}

func (s *testServer) do(t *testing.T, method, path, owner string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, s.url+path, rd)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(api.TokenHeader, token)
	if owner != "" {
		req.Header.Set("X-Owner", owner)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path, resp.StatusCode, want, body)
	}
}

func writeSpec(name, body string) job.Spec {
	params, _ := json.Marshal(writeParams{Name: name, Body: body})
	return job.Spec{Handler: "write", Params: params, Outputs: []string{name}}
}

func (s *testServer) submit(t *testing.T, owner string, spec job.Spec) *job.Job {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/jobs", owner, spec)
	expectStatus(t, resp, http.StatusCreated)
	return decode[*job.Job](t, resp)
}

func (s *testServer) waitState(t *testing.T, owner, jobID string, state job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp := s.do(t, http.MethodGet, "/api/jobs/"+jobID, owner, nil)
		expectStatus(t, resp, http.StatusOK)
		j := decode[*job.Job](t, resp)
		if j.State == state {
			return j
		}
		if j.State.Terminal() || time.Now().After(deadline) {
			t.Fatalf("job %s state = %s, want %s", jobID, j.State, state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHealthIsPublic(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	resp, err := http.Get(s.url + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health = %d %q", resp.StatusCode, body)
	}
}

func TestAuthRequired(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	for _, tok := range []string{"", "nope"} {
		req, _ := http.NewRequest(http.MethodGet, s.url+"/api/jobs", nil)
		if tok != "" {
			req.Header.Set(api.TokenHeader, tok)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("token %q: status %d", tok, resp.StatusCode)
		}
	}
}

func TestOwner(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	resp := s.do(t, http.MethodGet, "/api/owner", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if o := decode[api.OwnerResponse](t, resp); len(o.Owner) != 36 {
		t.Errorf("owner = %q", o.Owner)
	}
}

func TestSubmitGetListArchive(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	j := s.submit(t, "alice", writeSpec("result.txt", "42"))
	if j.State != job.StateQueued || j.Owner != "alice" {
		t.Fatalf("submitted = %+v", j)
	}
	s.waitState(t, "alice", j.ID.String(), job.StateSucceeded)

	resp := s.do(t, http.MethodGet, "/api/jobs?state=succeeded,failed&limit=10", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if list := decode[[]*job.Job](t, resp); len(list) != 1 || !list[0].ID.Equal(j.ID) {
		t.Errorf("list = %v", list)
	}

	resp = s.do(t, http.MethodGet, "/api/jobs/"+j.ID.String()+"/archive", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("content type = %q", ct)
	}
	data, _ := io.ReadAll(resp.Body)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 1 || zr.File[0].Name != "result.txt" {
		t.Fatalf("entries = %v", zr.File)
	}

	etag := resp.Header.Get("ETag")
	req, _ := http.NewRequest(http.MethodGet, s.url+"/api/jobs/"+j.ID.String()+"/archive", nil)
	req.Header.Set(api.TokenHeader, token)
	req.Header.Set("X-Owner", "alice")
	req.Header.Set("If-None-Match", etag)
	cached, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	cached.Body.Close()
	if cached.StatusCode != http.StatusNotModified {
		t.Errorf("conditional get = %d, want 304", cached.StatusCode)
	}
}

func TestErrorStatuses(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	blocked := s.submit(t, "alice", job.Spec{Handler: "block"})
	s.waitState(t, "alice", blocked.ID.String(), job.StateRunning)
	unknown := "job_01h455vb4pex5vsknk084sn02q"

	tests := []struct {
		name   string
		method string
		path   string
		owner  string
		body   any
		want   int
	}{
		{"empty spec", http.MethodPost, "/api/jobs", "alice", job.Spec{}, http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/jobs", "alice", map[string]any{"cmd": "ls"}, http.StatusBadRequest},
		{"unknown handler", http.MethodPost, "/api/jobs", "alice", job.Spec{Handler: "nope"}, http.StatusBadRequest},
		{"bad state filter", http.MethodGet, "/api/jobs?state=done", "alice", nil, http.StatusBadRequest},
		{"bad limit", http.MethodGet, "/api/jobs?limit=-1", "alice", nil, http.StatusBadRequest},
		{"unknown job", http.MethodGet, "/api/jobs/" + unknown, "alice", nil, http.StatusNotFound},
		{"malformed id", http.MethodGet, "/api/jobs/garbage", "alice", nil, http.StatusNotFound},
		{"other owner", http.MethodGet, "/api/jobs/" + blocked.ID.String(), "bob", nil, http.StatusNotFound},
		{"archive not ready", http.MethodGet, "/api/jobs/" + blocked.ID.String() + "/archive", "alice", nil, http.StatusTooEarly},
		{"bad log stream", http.MethodGet, "/api/jobs/" + blocked.ID.String() + "/logs/stdin", "alice", nil, http.StatusBadRequest},
		{"bad events target", http.MethodGet, "/api/events?job=garbage", "alice", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp := s.do(t, tt.method, tt.path, tt.owner, tt.body)
		if resp.StatusCode != tt.want {
			t.Errorf("%s: status %d, want %d", tt.name, resp.StatusCode, tt.want)
			continue
		}
		er := decode[api.ErrorResponse](t, resp)
		if er.Error == "" || er.Kind == "" {
			t.Errorf("%s: error body = %+v", tt.name, er)
		}
	}
}

func TestValidationErrorNamesField(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	resp := s.do(t, http.MethodPost, "/api/jobs", "", job.Spec{Command: []string{"true"}, Inputs: []job.Input{{Path: "../etc/passwd"}}})
	expectStatus(t, resp, http.StatusBadRequest)
	er := decode[api.ErrorResponse](t, resp)
	if er.Kind != jobhub.KindValidation || er.Field != "inputs[0].path" {
		t.Errorf("error = %+v", er)
	}
}

func TestRateLimited(t *testing.T) {
	t.Parallel()
	s := setup(t, func(c *jobhub.Config) {
		c.SubmitRate = 0.001
		c.SubmitBurst = 1
	})

	s.submit(t, "alice", writeSpec("a", "b"))
	resp := s.do(t, http.MethodPost, "/api/jobs", "alice", writeSpec("a", "b"))
	expectStatus(t, resp, http.StatusTooManyRequests)
}

func TestCancel(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	j := s.submit(t, "alice", job.Spec{Handler: "block"})
	s.waitState(t, "alice", j.ID.String(), job.StateRunning)

	resp := s.do(t, http.MethodPut, "/api/jobs/"+j.ID.String()+"/cancel", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if res := decode[hub.CancelResult](t, resp); res.Outcome != hub.CancelRequested {
		t.Errorf("outcome = %s", res.Outcome)
	}
	s.waitState(t, "alice", j.ID.String(), job.StateCancelled)

	resp = s.do(t, http.MethodPut, "/api/jobs/"+j.ID.String()+"/cancel", "alice", nil)
	expectStatus(t, resp, http.StatusOK)
	if res := decode[hub.CancelResult](t, resp); res.Outcome != hub.CancelAlreadyFinished {
		t.Errorf("outcome = %s", res.Outcome)
	}
}

func TestLogs(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("needs a POSIX shell")
	}
	s := setup(t, nil)

	j := s.submit(t, "", job.Spec{Command: []string{"sh", "-c", "echo hello"}})
	s.waitState(t, "", j.ID.String(), job.StateSucceeded)

	resp := s.do(t, http.MethodGet, "/api/jobs/"+j.ID.String()+"/logs/stdout", "", nil)
	expectStatus(t, resp, http.StatusOK)
	if body, _ := io.ReadAll(resp.Body); string(body) != "hello\n" {
		t.Errorf("stdout = %q", body)
	}

	resp = s.do(t, http.MethodGet, "/api/jobs/"+j.ID.String()+"/logs", "", nil)
	expectStatus(t, resp, http.StatusOK)
	files := decode[api.LogFilesResponse](t, resp)
	if len(files.Files) != 2 {
		t.Errorf("files = %v", files.Files)
	}
}

func TestEventsStream(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	j := s.submit(t, "alice", writeSpec("x", "y"))
	s.waitState(t, "alice", j.ID.String(), job.StateSucceeded)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, s.url+"/api/events?job="+j.ID.String()+"&after=0", nil)
	req.Header.Set(api.TokenHeader, token)
	req.Header.Set("X-Owner", "alice")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q", ct)
	}

	var (
		states []job.State
		ids    []string
		name   string
	)
	sc := bufio.NewScanner(resp.Body)
	for len(states) < 3 && sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "event: "):
			name = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: ") && name == "event":
			var evt event.Event
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &evt); err != nil {
				t.Fatal(err)
			}
			states = append(states, evt.To)
		}
	}
	if len(states) != 3 || states[0] != job.StateQueued || states[2] != job.StateSucceeded {
		t.Fatalf("states = %v (scan err %v)", states, sc.Err())
	}
	if strings.Join(ids, ",") != "1,2,3" {
		t.Errorf("ids = %v", ids)
	}
}

func TestStats(t *testing.T) {
	t.Parallel()
	s := setup(t, nil)

	resp := s.do(t, http.MethodGet, "/api/stats", "", nil)
	expectStatus(t, resp, http.StatusOK)
	st := decode[api.StatsResponse](t, resp)
	if st.Workers.Slots != jobhub.DefaultConfig().Concurrency {
		t.Errorf("slots = %d", st.Workers.Slots)
	}
}
