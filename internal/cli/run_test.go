package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/server"
	"github.com/roach88/tether/internal/store"
	"github.com/roach88/tether/internal/testutil"
	"github.com/roach88/tether/internal/wire"
)

// runFor executes runSession until the timeout elapses and returns its
// output.
func runFor(t *testing.T, opts *RunOptions, endpoint string, timeout time.Duration) string {
	t.Helper()

	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	cmd.SetContext(ctx)

	errChan := make(chan error, 1)
	go func() {
		errChan <- runSession(opts, endpoint, cmd)
	}()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(timeout + 3*time.Second):
		t.Fatal("command did not respect context timeout")
	}
	return buf.String()
}

func TestRunLoopbackJournalsSession(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "tether.db")
	opts := &RunOptions{
		RootOptions:    &RootOptions{Format: "text"},
		Database:       dbPath,
		Loopback:       true,
		TokenGenerator: testutil.NewFixedRunToken("run-loopback"),
	}

	output := runFor(t, opts, "", 300*time.Millisecond)

	assert.Contains(t, output, "Session started against loopback")
	assert.Contains(t, output, "#0 root")
	assert.Contains(t, output, `text="Clicks: 0"`)
	assert.Contains(t, output, "on=click")

	st, err := store.Open(dbPath)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	runs, err := st.Runs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"run-loopback"}, runs)

	exchanges, err := st.ReadExchanges(ctx, "run-loopback")
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(exchanges), 2)
	assert.Equal(t, "new-instance", exchanges[0].Action)
	assert.Equal(t, "synchronize", exchanges[1].Action)
	assert.NotEmpty(t, exchanges[1].Instructions)

	sessions, err := st.ReadSessions(ctx, "run-loopback")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.False(t, sessions[0].Open(), "shutdown ends the session")
	assert.Equal(t, "shutdown", sessions[0].EndReason)
}

func TestRunAgainstHTTPServer(t *testing.T) {
	srv := httptest.NewServer(server.New(server.NewCounter()))
	defer srv.Close()

	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	output := runFor(t, opts, srv.URL, 300*time.Millisecond)

	assert.Contains(t, output, "Session started against "+srv.URL)
	assert.Contains(t, output, `text="Click me"`)
}

func TestRunDeliversTerminateBeforeReturning(t *testing.T) {
	var terminated atomic.Int32
	app := server.New(server.NewCounter())
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err == nil && r.Form.Get(wire.FieldAction) == string(wire.ActionTerminate) {
			terminated.Add(1)
		}
		app.ServeHTTP(w, r)
	}))
	defer srv.Close()

	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	runFor(t, opts, srv.URL, 300*time.Millisecond)

	assert.Equal(t, int32(1), terminated.Load(), "terminate reaches the server before run returns")
}

func TestRunUnreachableEndpointKeepsRetrying(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	opts := &RunOptions{RootOptions: &RootOptions{Format: "text"}}
	output := runFor(t, opts, url, 200*time.Millisecond)

	// Never bound: only the empty root is printed.
	assert.Contains(t, output, "#0 root\n")
	assert.NotContains(t, output, "label")
}

func TestRunInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tether.cue")
	require.NoError(t, os.WriteFile(path, []byte(`period: "soon"`+"\n"), 0644))

	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"--config", path, "--loopback"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load config")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunTooManyArgs(t *testing.T) {
	buf := &bytes.Buffer{}
	cmd := NewRunCommand(&RootOptions{Format: "text"})
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"http://a/", "http://b/"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts at most 1 arg")
}

func TestRunHelpText(t *testing.T) {
	buf := &bytes.Buffer{}
	rootOpts := &RootOptions{Format: "text"}
	cmd := NewRunCommand(rootOpts)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	err := cmd.Execute()
	require.NoError(t, err)

	output := buf.String()
	assert.Contains(t, output, "Start a client session")
	assert.Contains(t, output, "--db")
	assert.Contains(t, output, "--loopback")
	assert.Contains(t, output, "endpoint")
}
