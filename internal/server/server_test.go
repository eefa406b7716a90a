package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/tether/internal/apply"
	"github.com/roach88/tether/internal/ident"
	"github.com/roach88/tether/internal/testutil"
	"github.com/roach88/tether/internal/wire"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, opts ...Option) (*Server, *Counter, *testutil.FakeClock) {
	t.Helper()
	fc := testutil.NewFakeClock()
	app := NewCounter()
	s := New(app, append([]Option{WithLogger(discardLogger()), WithClock(fc)}, opts...)...)
	return s, app, fc
}

func bootstrap(t *testing.T, s *Server) string {
	t.Helper()
	resp, ok := s.Handle(wire.NewInstance()).(wire.BootstrapResponse)
	require.True(t, ok)
	return resp.ID
}

func syncClient(t *testing.T, s *Server, client string, lastUpdate string, events ...wire.Event) wire.SyncResponse {
	t.Helper()
	resp, ok := s.Handle(wire.Synchronize(client, events, lastUpdate)).(wire.SyncResponse)
	require.True(t, ok)
	return resp
}

func ids(ins []wire.Instruction) []string {
	out := make([]string, len(ins))
	for i, in := range ins {
		out[i] = in.ID
	}
	return out
}

func TestCreate_StartsApplication(t *testing.T) {
	s, _, _ := newTestServer(t)

	id := bootstrap(t, s)
	assert.Equal(t, "#1", id)
	assert.Equal(t, "#2", bootstrap(t, s), "identities are never reused")
	assert.Equal(t, 2, s.Clients())

	c, ok := s.Client(id)
	require.True(t, ok)
	pending := c.Pending()
	assert.Equal(t, []string{"#1", "#2", "#3", "#4", "#5", "#6", "#7"}, ids(pending))
	assert.Equal(t, string(apply.KindCreate), pending[0].Kind)
	assert.Equal(t, "#1", pending[0].Target())
}

func TestSynchronize_UnknownClient(t *testing.T) {
	s, _, _ := newTestServer(t)

	resp := syncClient(t, s, "#42", "#0")
	assert.Equal(t, wire.ResultUnknownClient, resp.Outcome())

	body, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"result":false}`, string(body))
}

func TestSynchronize_PendingUntilAcknowledged(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := bootstrap(t, s)

	resp := syncClient(t, s, id, "#0")
	assert.Len(t, resp.Updates, 7)
	assert.Equal(t, ident.Unset, resp.LastEvent)

	resp = syncClient(t, s, id, "#3")
	assert.Equal(t, []string{"#4", "#5", "#6", "#7"}, ids(resp.Updates), "redelivered until acknowledged")

	resp = syncClient(t, s, id, "#7")
	assert.Empty(t, resp.Updates)
	assert.Equal(t, wire.ResultUpdates, resp.Outcome())
}

func TestSynchronize_MalformedLastUpdatePrunesNothing(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := bootstrap(t, s)

	resp := syncClient(t, s, id, "7")
	assert.Len(t, resp.Updates, 7)
}

func TestSynchronize_EventsHandledOnce(t *testing.T) {
	s, app, _ := newTestServer(t)
	id := bootstrap(t, s)
	click := wire.Event{ID: "#1", Target: "#2", Kind: "click"}

	resp := syncClient(t, s, id, "#7", click)
	assert.Equal(t, "#1", resp.LastEvent)
	require.Len(t, resp.Updates, 1)
	text, _ := resp.Updates[0].Payload.String("text")
	assert.Equal(t, "Clicks: 1", text)

	// The ack was lost: the client resends the same event.
	resp = syncClient(t, s, id, "#7", click)
	assert.Equal(t, 1, app.Clicks(id))
	assert.Equal(t, "#1", resp.LastEvent)

	resp = syncClient(t, s, id, "#8",
		wire.Event{ID: "#2", Target: "#2", Kind: "click"},
		wire.Event{ID: "#3", Target: "#2", Kind: "click"})
	assert.Equal(t, 3, app.Clicks(id))
	assert.Equal(t, "#3", resp.LastEvent)
	assert.Equal(t, []string{"#9", "#10"}, ids(resp.Updates))
}

func TestSynchronize_UnknownWidgetStillAcknowledged(t *testing.T) {
	s, app, _ := newTestServer(t)
	id := bootstrap(t, s)

	resp := syncClient(t, s, id, "#7", wire.Event{ID: "#1", Target: "#99", Kind: "click"})
	assert.Equal(t, "#1", resp.LastEvent)
	assert.Equal(t, 0, app.Clicks(id))
}

func TestSynchronize_MalformedEventSkipped(t *testing.T) {
	s, app, _ := newTestServer(t)
	id := bootstrap(t, s)

	resp := syncClient(t, s, id, "#7",
		wire.Event{ID: "one", Target: "#2", Kind: "click"},
		wire.Event{ID: "#1", Target: "#2", Kind: "click"})
	assert.Equal(t, "#1", resp.LastEvent)
	assert.Equal(t, 1, app.Clicks(id))
}

func TestTerminate(t *testing.T) {
	s, app, _ := newTestServer(t)
	id := bootstrap(t, s)
	syncClient(t, s, id, "#7", wire.Event{ID: "#1", Target: "#2", Kind: "click"})
	require.Equal(t, 1, app.Clicks(id))

	assert.Equal(t, true, s.Handle(wire.Terminate(id)))
	assert.Equal(t, false, s.Handle(wire.Terminate(id)))
	assert.Equal(t, 0, app.Clicks(id), "application state released")
	assert.Equal(t, wire.ResultUnknownClient, syncClient(t, s, id, "#0").Outcome())
}

func TestReset_PushesResetInstruction(t *testing.T) {
	s, _, _ := newTestServer(t)
	id := bootstrap(t, s)

	assert.True(t, s.Reset(id))
	assert.False(t, s.Reset("#404"))

	resp := syncClient(t, s, id, "#7")
	require.Len(t, resp.Updates, 1)
	assert.Equal(t, string(apply.KindReset), resp.Updates[0].Kind)
	assert.Equal(t, "#8", resp.Updates[0].ID)
}

func TestSweep_ExpiresIdleClients(t *testing.T) {
	s, app, fc := newTestServer(t, WithClientLifetime(time.Minute))
	idle := bootstrap(t, s)
	busy := bootstrap(t, s)

	fc.Advance(50 * time.Second)
	syncClient(t, s, busy, "#0")
	assert.Equal(t, 0, s.sweep())

	fc.Advance(10 * time.Second)
	assert.Equal(t, 1, s.sweep())

	_, ok := s.Client(idle)
	assert.False(t, ok)
	_, ok = s.Client(busy)
	assert.True(t, ok, "synchronizing refreshes the deadline")
	assert.Equal(t, 0, app.Clicks(idle))
}

func TestRun_WatchdogExpiresClients(t *testing.T) {
	s, _, fc := newTestServer(t, WithClientLifetime(time.Second))
	bootstrap(t, s)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	fc.BlockUntil(2)
	fc.Advance(time.Second)
	require.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestExchange_RejectsCancelledContext(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := s.Exchange(ctx, wire.NewInstance())
	assert.False(t, ok)
	assert.Equal(t, 0, s.Clients())
}
