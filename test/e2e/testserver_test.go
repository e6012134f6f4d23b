package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	startupTimeout = 10 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// serverProc holds the running server subprocess and its output.
type serverProc struct {
	cmd    *exec.Cmd
	stdout *lockedBuffer
	url    string
}

var (
	builtBinary string
	buildOnce   sync.Once
	buildErr    error
)

func getBinary(t *testing.T) string {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "geoservice-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		binary := filepath.Join(dir, "testserver")
		cmd := exec.Command("go", "build", "-o", binary, "./cmd/testserver")
		cmd.Dir = findRepoRoot(t)
		out, err := cmd.CombinedOutput()
		if err != nil {
			buildErr = fmt.Errorf("go build failed: %w\n%s", err, out)
			return
		}
		builtBinary = binary
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return builtBinary
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func startServer(t *testing.T) *serverProc {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping e2e test")
	}
	binary := getBinary(t)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	stdout := &lockedBuffer{}
	cmd := exec.Command(binary)
	cmd.Env = append(os.Environ(), "GEOSERVICE_LISTEN_ADDR="+addr)
	cmd.Stdout = stdout
	cmd.Stderr = stdout

	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}

	sp := &serverProc{
		cmd:    cmd,
		stdout: stdout,
		url:    "http://" + addr,
	}

	t.Cleanup(func() {
		cmd.Process.Kill()
		cmd.Wait()
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(sp.url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == 200 {
				return sp
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("server did not become ready within %v\nstdout:\n%s", startupTimeout, stdout.String())
	return nil
}

func (sp *serverProc) post(t *testing.T, path string, form url.Values, key string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, sp.url+path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if key != "" {
		req.Header.Set("X-Idempotency-Key", key)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, r io.Reader) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.NewDecoder(r).Decode(&body); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return body
}

func TestHealthAndOperations(t *testing.T) {
	sp := startServer(t)

	resp, err := http.Get(sp.url + "/operations")
	if err != nil {
		t.Fatalf("GET /operations: %v", err)
	}
	defer resp.Body.Close()

	var ops []map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&ops); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ops) != 10 {
		t.Errorf("operations = %d, want 10", len(ops))
	}
}

func TestDeferredFilterLifecycle(t *testing.T) {
	sp := startServer(t)

	form := url.Values{
		"resource": {"points.csv"},
		"wkt":      {"POLYGON ((20 35, 25 35, 25 42, 20 42, 20 35))"},
		"lat":      {"lat"},
		"lon":      {"lon"},
	}
	resp := sp.post(t, "/filter/within", form, "e2e-within")
	if resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("status = %d, want 202\nbody: %s", resp.StatusCode, b)
	}
	acc := decodeBody(t, resp.Body)
	id, _ := acc["ticket"].(string)
	if id == "" {
		t.Fatalf("acceptance = %v", acc)
	}

	var status map[string]any
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		r, err := http.Get(sp.url + "/jobs/status?idempotencyKey=e2e-within")
		if err != nil {
			t.Fatalf("GET status: %v", err)
		}
		status = decodeBody(t, r.Body)
		r.Body.Close()
		if status["completed"] == true {
			break
		}
		time.Sleep(pollInterval)
	}
	if status["completed"] != true || status["success"] != true {
		t.Fatalf("status = %v, want completed success", status)
	}
	resource, ok := status["resource"].(map[string]any)
	if !ok {
		t.Fatalf("resource = %v", status["resource"])
	}
	outputPath, _ := resource["outputPath"].(string)
	if !strings.HasSuffix(outputPath, "/"+id+"/within.csv") {
		t.Errorf("outputPath = %q", outputPath)
	}

	dl, err := http.Get(sp.url + "/jobs/result/" + id)
	if err != nil {
		t.Fatalf("GET result: %v", err)
	}
	defer dl.Body.Close()
	content, _ := io.ReadAll(dl.Body)
	if dl.StatusCode != http.StatusOK || !strings.Contains(string(content), "produced by within") {
		t.Errorf("result = %d %q", dl.StatusCode, content)
	}
}

func TestPromptOutcomes(t *testing.T) {
	sp := startServer(t)

	tests := []struct {
		name   string
		wkt    string
		status int
	}{
		{"artifact", "POINT (23 38)", http.StatusOK},
		{"empty", "EMPTY", http.StatusNoContent},
		{"failure", "FAIL", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := sp.post(t, "/filter/nearest", url.Values{
				"resource": {"points.csv"},
				"wkt":      {tt.wkt},
				"response": {"prompt"},
				"download": {"false"},
			}, "")
			if resp.StatusCode != tt.status {
				b, _ := io.ReadAll(resp.Body)
				t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, tt.status, b)
			}
		})
	}
}
