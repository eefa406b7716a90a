package server

import (
	"bytes"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/presentation"
	"github.com/roach88/tether/internal/session"
	"github.com/roach88/tether/internal/transport"
	"github.com/roach88/tether/internal/value"
)

func post(t *testing.T, ts *httptest.Server, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := http.PostForm(ts.URL, form)
	require.NoError(t, err)
	defer resp.Body.Close()
	var b bytes.Buffer
	_, err = b.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, b.String()
}

func TestServeHTTP_Protocol(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, body := post(t, ts, url.Values{"action": {"new-instance"}})
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.JSONEq(t, `{"id":"#1"}`, body)

	_, body = post(t, ts, url.Values{"action": {"synchronize"}, "client": {"#9"}, "events": {"[]"}})
	assert.JSONEq(t, `{"result":false}`, body)

	_, body = post(t, ts, url.Values{"action": {"kill"}, "client": {"#1"}})
	assert.Equal(t, "true", body, "legacy action names are accepted")
}

func TestServeHTTP_Rejects(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, _ := post(t, ts, url.Values{"action": {"dance"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = post(t, ts, url.Values{"action": {"synchronize"}, "client": {"#1"}, "events": {"{"}})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodDelete, ts.URL, nil)
	require.NoError(t, err)
	del, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	del.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, del.StatusCode)
}

// A real session against the real server over HTTP: bootstrap, render the
// demo, click the button, see the label update.
func TestEndToEnd_CounterOverHTTP(t *testing.T) {
	s, app, _ := newTestServer(t)
	ts := httptest.NewServer(s)
	defer ts.Close()

	tree := presentation.NewTree()
	ctl := session.New(transport.NewHTTP(ts.URL, transport.WithLogger(discardLogger())),
		session.WithLogger(discardLogger()),
		session.WithBackend(tree, presentation.Handlers()))
	ctx := context.Background()

	require.NoError(t, ctl.Bootstrap(ctx))
	require.NoError(t, ctl.Synchronize(ctx))

	var out strings.Builder
	require.NoError(t, tree.Render(&out))
	assert.Equal(t, strings.Join([]string{
		"#0 root",
		`  #1 label text="Clicks: 0"`,
		`  #2 button text="Click me" on=click`,
		"",
	}, "\n"), out.String())
	assert.True(t, tree.Subscribed("#2", "click"))

	ctl.Emit("#2", "click", value.Object{})
	ctl.Emit("#2", "click", nil)
	require.NoError(t, ctl.Synchronize(ctx))
	assert.Empty(t, ctl.Pending(), "events acknowledged in the same exchange")
	assert.Equal(t, 2, app.Clicks(ctl.Identity()))

	label, ok := tree.Node("#1")
	require.True(t, ok)
	text, _ := label.Prop("text")
	assert.Equal(t, value.String("Clicks: 2"), text)
	assert.Equal(t, int64(9), ctl.Watermark())
}

func TestEndToEnd_ExpiredIdentityRebootstraps(t *testing.T) {
	s, _, fc := newTestServer(t, WithClientLifetime(time.Second))

	tree := presentation.NewTree()
	ctl := session.New(s, session.WithLogger(discardLogger()), session.WithBackend(tree, presentation.Handlers()))
	ctx := context.Background()

	require.NoError(t, ctl.Bootstrap(ctx))
	require.NoError(t, ctl.Synchronize(ctx))
	require.Equal(t, 3, tree.Len())

	fc.Advance(time.Second)
	require.Equal(t, 1, s.sweep())

	err := ctl.Synchronize(ctx)
	assert.ErrorIs(t, err, session.ErrIdentityLost)
	assert.Equal(t, 1, tree.Len(), "presentation cleared")

	require.NoError(t, ctl.Bootstrap(ctx))
	assert.Equal(t, "#2", ctl.Identity())
	require.NoError(t, ctl.Synchronize(ctx))
	assert.Equal(t, 3, tree.Len())
}

func TestEndToEnd_ServerReset(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctl := session.New(s, session.WithLogger(discardLogger()))
	ctx := context.Background()

	require.NoError(t, ctl.Bootstrap(ctx))
	require.NoError(t, ctl.Synchronize(ctx))
	require.True(t, s.Reset(ctl.Identity()))

	err := ctl.Synchronize(ctx)
	assert.ErrorIs(t, err, session.ErrSessionReset)
	assert.NotErrorIs(t, err, session.ErrIdentityLost)
	assert.Equal(t, session.StateUnbound, ctl.State())
	assert.Equal(t, int64(0), ctl.Watermark())
}

func TestListenAndServe(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())

	addrc := make(chan net.Addr, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.ListenAndServe(ctx, "127.0.0.1:0", func(a net.Addr) { addrc <- a })
	}()

	addr := <-addrc
	resp, err := http.PostForm("http://"+addr.String(), url.Values{"action": {"new-instance"}})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ListenAndServe did not return")
	}
}
