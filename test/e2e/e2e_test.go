package e2e

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/brettbedarf/colstore"
	"github.com/brettbedarf/colstore/collection"
	"github.com/brettbedarf/colstore/config"
	"github.com/brettbedarf/colstore/ipc"
	"github.com/brettbedarf/colstore/stream"
)

var (
	colstoreBin string
	projRoot    string
	testEnv     *E2ETestEnvironment
)

func TestMain(m *testing.M) {
	var err error

	// Build the binary once for all tests
	tmpBinDir, err := os.MkdirTemp("", "colstore-bin")
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := os.RemoveAll(tmpBinDir); err != nil {
			panic(err)
		}
	}()

	colstoreBin = filepath.Join(tmpBinDir, "colstore")

	// Determine project root
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		panic("cannot determine current file path")
	}
	projRoot = filepath.Join(filepath.Dir(thisFile), "..", "..")
	src := filepath.Join(projRoot, "cmd", "main.go")

	// Build with debug symbols
	cmd := exec.Command("go", "build", "-o", colstoreBin, "-gcflags=all=-N -l", src)
	if out, err := cmd.CombinedOutput(); err != nil {
		panic(string(out))
	}

	testEnv, err = NewE2ETestEnvironment(colstoreBin)
	if err != nil {
		panic(err)
	}
	defer testEnv.Close()

	code := m.Run()
	os.Exit(code)
}

func TestE2EEditAndStreamBody(t *testing.T) {
	root := testEnv.InitCollection(t, "Demo")
	inst := testEnv.Serve(t, root)
	defer inst.Stop()
	ctx := context.Background()

	folder, err := inst.Client.Add(ctx, colstore.NilNodeID, colstore.FolderNodeType, "Users API")
	if err != nil {
		t.Fatalf("add folder: %v", err)
	}
	req, err := inst.Client.Add(ctx, folder.ID, colstore.RequestNodeType, "List Users")
	if err != nil {
		t.Fatalf("add request: %v", err)
	}
	if _, err := inst.Client.Update(ctx, req.ID, collection.Patch{Body: colstore.TextBody("application/json")}); err != nil {
		t.Fatalf("set body: %v", err)
	}
	content := strings.Repeat(`{"page":1}`, 1000)
	if _, err := inst.Client.WriteBody(ctx, req.ID, content); err != nil {
		t.Fatalf("write body: %v", err)
	}

	// the mirror is plain files
	onDisk, err := os.ReadFile(filepath.Join(root, "users-api", "list-users", "request-body.txt"))
	if err != nil {
		t.Fatalf("read body file: %v", err)
	}
	if string(onDisk) != content {
		t.Fatalf("body file mismatch: got %d bytes", len(onDisk))
	}

	s, err := inst.Client.Consumer().Open(ctx, colstore.RequestBodySource(req.ID))
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	got, err := stream.Collect(ctx, s)
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if string(got) != content {
		t.Fatalf("streamed body mismatch: got %d bytes, want %d", len(got), len(content))
	}
}

func TestE2EExecuteRequest(t *testing.T) {
	files := []*TestFileSpec{
		NewTestFile("/users").
			WithTextContent(`[{"name":"ada"}]`).
			WithContentType("application/json").
			Build(),
		NewTestFile("/broken").
			WithError(503).
			Build(),
	}
	server := testEnv.MockServerFor(t, files)

	root := testEnv.InitCollection(t, "Exec")
	inst := testEnv.Serve(t, root)
	defer inst.Stop()
	ctx := context.Background()

	vars := map[string]colstore.Variable{"host": {Value: server.URL, Enabled: true}}
	if _, err := inst.Client.Update(ctx, inst.rootID(t), collection.Patch{Variables: &vars}); err != nil {
		t.Fatalf("set variables: %v", err)
	}

	tests := []struct {
		path   string
		status int
		body   string
	}{
		{"/users", http.StatusOK, `[{"name":"ada"}]`},
		{"/broken", http.StatusServiceUnavailable, "Mock error 503\n"},
	}
	for _, tt := range tests {
		req, err := inst.Client.Add(ctx, colstore.NilNodeID, colstore.RequestNodeType, "Get "+tt.path)
		if err != nil {
			t.Fatalf("add request: %v", err)
		}
		url := "{{host}}" + tt.path
		if _, err := inst.Client.Update(ctx, req.ID, collection.Patch{URL: &url}); err != nil {
			t.Fatalf("set url: %v", err)
		}
		resp, err := inst.Client.Execute(ctx, req.ID)
		if err != nil {
			t.Fatalf("execute %s: %v", tt.path, err)
		}
		if resp.Status != tt.status {
			t.Fatalf("%s status: expected %d, got %d", tt.path, tt.status, resp.Status)
		}
		s, err := inst.Client.Consumer().Open(ctx, colstore.ResponseSource(resp.ResponseID))
		if err != nil {
			t.Fatalf("open response stream: %v", err)
		}
		body, err := stream.Collect(ctx, s)
		if err != nil {
			t.Fatalf("collect response: %v", err)
		}
		if string(body) != tt.body {
			t.Fatalf("%s body mismatch: got %q", tt.path, string(body))
		}
	}
}

func TestE2ESurvivesRestart(t *testing.T) {
	root := testEnv.InitCollection(t, "Persist")
	ctx := context.Background()

	first := testEnv.Serve(t, root)
	vars := map[string]colstore.Variable{"token": {Value: "s3cret", Enabled: true, Secret: true}}
	if _, err := first.Client.Update(ctx, first.rootID(t), collection.Patch{Variables: &vars}); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	for _, title := range []string{"Zeta", "Alpha"} {
		if _, err := first.Client.Add(ctx, colstore.NilNodeID, colstore.FolderNodeType, title); err != nil {
			t.Fatalf("add %s: %v", title, err)
		}
	}

	// a second writer is refused while the first holds the lock
	if out, err := exec.Command(colstoreBin, "tree", root).CombinedOutput(); err == nil {
		t.Fatalf("expected locked collection, got:\n%s", out)
	}
	first.Stop()

	info, err := os.ReadFile(filepath.Join(root, "info.json"))
	if err != nil {
		t.Fatalf("read info: %v", err)
	}
	if bytes.Contains(info, []byte("s3cret")) {
		t.Fatalf("secret written in clear: %s", info)
	}

	second := testEnv.Serve(t, root)
	defer second.Stop()
	tree, err := second.Client.Tree(ctx)
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	var names []string
	for _, c := range tree.Children {
		names = append(names, c.DirName)
	}
	if strings.Join(names, ",") != "zeta,alpha" {
		t.Fatalf("order not preserved: %v", names)
	}
	if v := tree.Variables["token"]; !v.Secret || v.Value == "s3cret" {
		t.Fatalf("secret not masked in view: %+v", v)
	}
}

// E2ETestEnvironment holds the shared binary and scratch space
type E2ETestEnvironment struct {
	Bin     string
	BaseDir string
	Env     []string
}

// ColstoreInstance is a running serve process and its connected client
type ColstoreInstance struct {
	cmd    *exec.Cmd
	Client *ipc.Client
	stdin  io.WriteCloser
	stderr *bytes.Buffer
	cancel context.CancelFunc
	done   chan struct{}
}

// TestFileSpec describes a mocked HTTP endpoint
type TestFileSpec struct {
	path        string
	content     []byte
	contentType string
	errorCode   int
	delay       time.Duration
}

// TestFileBuilder provides a fluent interface for building test endpoints
type TestFileBuilder struct {
	spec TestFileSpec
}

// NewTestFile starts building an endpoint served at path
func NewTestFile(path string) *TestFileBuilder {
	return &TestFileBuilder{spec: TestFileSpec{path: path, contentType: "text/plain"}}
}

// WithTextContent sets text content
func (b *TestFileBuilder) WithTextContent(content string) *TestFileBuilder {
	b.spec.content = []byte(content)
	return b
}

// WithContentType sets the HTTP Content-Type header
func (b *TestFileBuilder) WithContentType(contentType string) *TestFileBuilder {
	b.spec.contentType = contentType
	return b
}

// WithDelay adds artificial delay to responses
func (b *TestFileBuilder) WithDelay(delay time.Duration) *TestFileBuilder {
	b.spec.delay = delay
	return b
}

// WithError makes the endpoint return an HTTP error status
func (b *TestFileBuilder) WithError(statusCode int) *TestFileBuilder {
	b.spec.errorCode = statusCode
	return b
}

// Build creates the final TestFileSpec
func (b *TestFileBuilder) Build() *TestFileSpec {
	return &b.spec
}

// NewE2ETestEnvironment creates the shared test environment
func NewE2ETestEnvironment(bin string) (*E2ETestEnvironment, error) {
	baseDir, err := os.MkdirTemp("", "colstore-e2e-tests")
	if err != nil {
		return nil, err
	}
	return &E2ETestEnvironment{
		Bin:     bin,
		BaseDir: baseDir,
		Env:     append(os.Environ(), "COLSTORE_SECRET_KEY=e2e-passphrase"),
	}, nil
}

// Close cleans up the test environment
func (env *E2ETestEnvironment) Close() {
	if env.BaseDir != "" {
		_ = os.RemoveAll(env.BaseDir) // Best effort cleanup
	}
}

// MockServerFor serves files until the test ends
func (env *E2ETestEnvironment) MockServerFor(t *testing.T, files []*TestFileSpec) *httptest.Server {
	mux := http.NewServeMux()
	for _, file := range files {
		mux.HandleFunc(file.path, func(w http.ResponseWriter, r *http.Request) {
			handleMockRequest(w, file)
		})
	}
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func handleMockRequest(w http.ResponseWriter, file *TestFileSpec) {
	if file.delay > 0 {
		time.Sleep(file.delay)
	}
	if file.errorCode != 0 {
		http.Error(w, fmt.Sprintf("Mock error %d", file.errorCode), file.errorCode)
		return
	}
	w.Header().Set("Content-Type", file.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(file.content)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(file.content); err != nil {
		panic(fmt.Sprintf("Failed to write mock response: %v", err))
	}
}

// InitCollection creates a collection with the binary's init command
func (env *E2ETestEnvironment) InitCollection(t *testing.T, title string) string {
	testID := strings.ReplaceAll(t.Name(), "/", "_")
	root := filepath.Join(env.BaseDir, "col-"+testID)
	cmd := exec.Command(env.Bin, "init", "--title", title, root)
	cmd.Env = env.Env
	if out, err := cmd.CombinedOutput(); err != nil {
		t.Fatalf("init failed: %v\n%s", err, out)
	}
	return root
}

// Serve starts a serve process on root and connects a client to it
func (env *E2ETestEnvironment) Serve(t *testing.T, root string) *ColstoreInstance {
	cmd := exec.Command(env.Bin, "serve", "-v", "4", root)
	cmd.Env = env.Env
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		t.Fatalf("stdin pipe: %v", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		t.Fatalf("stdout pipe: %v", err)
	}
	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start colstore: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &ColstoreInstance{
		cmd:    cmd,
		Client: ipc.NewClient(config.NewDefaultConfig(), stdout, stdin),
		stdin:  stdin,
		stderr: &stderr,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(inst.done)
		inst.Client.Run(ctx) // nolint:errcheck
	}()

	// first reply proves the backend is up
	callCtx, callCancel := context.WithTimeout(ctx, 15*time.Second)
	defer callCancel()
	if _, err := inst.Client.Tree(callCtx); err != nil {
		inst.Stop()
		t.Fatalf("colstore did not answer: %v\n%s", err, stderr.String())
	}
	return inst
}

func (inst *ColstoreInstance) rootID(t *testing.T) colstore.NodeID {
	tree, err := inst.Client.Tree(context.Background())
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	return tree.ID
}

// Stop closes stdin and waits for the process to exit
func (inst *ColstoreInstance) Stop() {
	_ = inst.stdin.Close() // peer disconnect ends serve

	done := make(chan error, 1)
	go func() {
		done <- inst.cmd.Wait()
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		_ = inst.cmd.Process.Kill() // Process may have already exited
		<-done
	}
	inst.cancel()
	<-inst.done
}

// GetLogs returns the stderr of the serve process
func (inst *ColstoreInstance) GetLogs() string {
	return inst.stderr.String()
}
