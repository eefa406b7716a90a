package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/roach88/tether/internal/wire"
)

func TestScript_RepliesInOrderThenFails(t *testing.T) {
	s := NewScript(OK(`{"id":"#1"}`), Fail())
	ctx := context.Background()

	body, ok := s.Exchange(ctx, wire.NewInstance())
	require.True(t, ok)
	assert.Equal(t, `{"id":"#1"}`, string(body))

	_, ok = s.Exchange(ctx, wire.NewInstance())
	assert.False(t, ok)

	_, ok = s.Exchange(ctx, wire.NewInstance())
	assert.False(t, ok, "exhausted script fails")

	assert.Len(t, s.Requests(), 3)
	assert.Equal(t, 0, s.Remaining())
}

func TestScript_RecordsCopyOfEvents(t *testing.T) {
	s := NewScript(OK(`{}`))
	events := []wire.Event{{ID: "#1", Target: "#2", Kind: "click"}}
	s.Exchange(context.Background(), wire.Synchronize("#9", events, "#0"))

	events[0].ID = "#99"
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, "#1", last.Events[0].ID)
}

func TestScript_CancelledContextFails(t *testing.T) {
	s := NewScript(OK(`{}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok := s.Exchange(ctx, wire.NewInstance())
	assert.False(t, ok)
	assert.Equal(t, 1, s.Remaining(), "reply not consumed")
}

func TestScript_Drain(t *testing.T) {
	s := NewScript(OK(`{}`))
	s.Push(OK(`{}`), Fail())

	assert.Equal(t, 3, s.Drain())
	assert.Equal(t, 0, s.Remaining())

	_, ok := s.Exchange(context.Background(), wire.NewInstance())
	assert.False(t, ok)
}

func TestHTTP_PostsForm(t *testing.T) {
	var got wire.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if !assert.NoError(t, r.ParseForm()) {
			return
		}
		var err error
		got, err = wire.ParseForm(r.PostForm)
		assert.NoError(t, err)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"updates":[],"lastEvent":"#1"}`))
	}))
	defer srv.Close()

	tr := NewHTTP(srv.URL)
	req := wire.Synchronize("#4", []wire.Event{{ID: "#1", Target: "#7", Kind: "click"}}, "#3")
	body, ok := tr.Exchange(context.Background(), req)

	require.True(t, ok)
	assert.JSONEq(t, `{"updates":[],"lastEvent":"#1"}`, string(body))
	assert.Equal(t, req, got)
}

func TestHTTP_Non2xxFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, ok := NewHTTP(srv.URL).Exchange(context.Background(), wire.NewInstance())
	assert.False(t, ok)
}

func TestHTTP_TimeoutFails(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, ok := NewHTTP(srv.URL).Exchange(ctx, wire.NewInstance())
	assert.False(t, ok)
}

func TestHTTP_UnreachableFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, ok := NewHTTP(url).Exchange(context.Background(), wire.NewInstance())
	assert.False(t, ok)
}

func TestHTTP_RecordsSpan(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"#1"}`))
	}))
	defer srv.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tr := NewHTTP(srv.URL, WithTracerProvider(tp))
	_, ok := tr.Exchange(context.Background(), wire.NewInstance())
	require.True(t, ok)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "tether.exchange", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.String("tether.action", "new-instance"))
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
}

func TestHTTP_FailedSpanHasErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	_, ok := NewHTTP(srv.URL, WithTracerProvider(tp)).Exchange(context.Background(), wire.Terminate("#1"))
	require.False(t, ok)

	spans := sr.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}
