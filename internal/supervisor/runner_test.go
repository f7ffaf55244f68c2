package supervisor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"runtime"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// shell runs "sh -c <script>": the subcommand slot carries "-c"
func shell(t *testing.T, script string) *ExecRunner {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	return &ExecRunner{Executable: "sh", Args: []string{script}}
}

func TestExecRunner_Run(t *testing.T) {
	out := shell(t, "echo YES_CHANGED; echo 'Error: detail' >&2").Run(context.Background(), 5*time.Second, "-c")

	assert.False(t, out.Failed())
	assert.Equal(t, "YES_CHANGED\n", out.Stdout)
	assert.Contains(t, out.Stderr, "Error: detail")
}

func TestExecRunner_ExitCode(t *testing.T) {
	out := shell(t, "exit 3").Run(context.Background(), 5*time.Second, "-c")

	assert.True(t, out.Failed())
	assert.Equal(t, 3, out.ExitCode)
	assert.False(t, out.TimedOut)
	assert.NoError(t, out.Err)
}

func TestExecRunner_Timeout(t *testing.T) {
	start := time.Now()
	out := shell(t, "sleep 10").Run(context.Background(), 100*time.Millisecond, "-c")

	assert.True(t, out.TimedOut)
	assert.True(t, out.Failed())
	assert.Less(t, time.Since(start), 100*time.Millisecond+ProcessWaitDelay+2*time.Second)
}

func TestExecRunner_TimeoutWithoutGrandchildIsPrompt(t *testing.T) {
	start := time.Now()
	out := shell(t, "exec sleep 10").Run(context.Background(), 100*time.Millisecond, "-c")

	assert.True(t, out.TimedOut)
	assert.Less(t, time.Since(start), ProcessWaitDelay)
}

func TestExecRunner_MissingExecutable(t *testing.T) {
	runner := &ExecRunner{Executable: "/nonexistent/stockfeed"}
	out := runner.Run(context.Background(), time.Second, "detect")

	assert.True(t, out.Failed())
	assert.Error(t, out.Err)
}

func TestExecRunner_StartAndTerminate(t *testing.T) {
	runner := shell(t, "exec sleep 30")

	process, err := runner.Start("-c")
	require.NoError(t, err)
	assert.Greater(t, process.Pid(), 0)
	assert.False(t, process.Exited())

	require.NoError(t, process.Terminate(2*time.Second))
	assert.True(t, process.Exited())
}

func TestExecRunner_StartDetectsExit(t *testing.T) {
	runner := shell(t, "exit 0")
	process, err := runner.Start("-c")
	require.NoError(t, err)

	assert.Eventually(t, process.Exited, 5*time.Second, 10*time.Millisecond)
	assert.NoError(t, process.Terminate(time.Second))
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	u, err := url.Parse(server.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)

	result := NewHTTPProber("0.0.0.0", port, "/api/health", time.Second).Probe(context.Background())
	assert.True(t, result.Listening)
	assert.True(t, result.Healthy)
	assert.NoError(t, result.Err)

	result = NewHTTPProber("127.0.0.1", port, "/wrong", time.Second).Probe(context.Background())
	assert.True(t, result.Listening)
	assert.False(t, result.Healthy)
	assert.Error(t, result.Err)
}

func TestHTTPProber_NothingListening(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := listener.Addr().(*net.TCPAddr).Port
	listener.Close()

	result := NewHTTPProber("127.0.0.1", port, "/api/health", 500*time.Millisecond).Probe(context.Background())
	assert.False(t, result.Listening)
	assert.False(t, result.Healthy)
}
