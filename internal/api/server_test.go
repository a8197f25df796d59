package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagelens/pagelens/internal/id/uuid"
	"github.com/pagelens/pagelens/internal/snapshot"
	"github.com/pagelens/pagelens/internal/status/memory"
)

type fakeBroker struct {
	mu        sync.Mutex
	published []snapshot.Message
	failURLs  map[string]bool
}

func (b *fakeBroker) Publish(_ context.Context, msg snapshot.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failURLs[msg.URL] {
		return errors.New("broker unavailable")
	}
	b.published = append(b.published, msg)
	return nil
}

func (b *fakeBroker) Consume(context.Context, func(context.Context, snapshot.Message) error) error {
	return nil
}

func (b *fakeBroker) Close() error { return nil }

func (b *fakeBroker) messages() []snapshot.Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]snapshot.Message(nil), b.published...)
}

type fakeLookupCache struct {
	entries map[string]string
}

func (c *fakeLookupCache) Lookup(url string) (string, bool) {
	path, ok := c.entries[url]
	return path, ok
}

func (c *fakeLookupCache) Store(_, tempPath string) (string, error) {
	return tempPath, nil
}

type serverFixture struct {
	server *Server
	broker *fakeBroker
	status snapshot.StatusStore
	cache  *fakeLookupCache
}

func newServerFixture(t *testing.T) *serverFixture {
	t.Helper()
	broker := &fakeBroker{failURLs: map[string]bool{}}
	status := memory.New(zap.NewNop())
	cache := &fakeLookupCache{entries: map[string]string{}}
	server := NewServer(status, broker, cache, uuid.New(), zap.NewNop())
	return &serverFixture{server: server, broker: broker, status: status, cache: cache}
}

func (f *serverFixture) do(t *testing.T, method, path string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body == "" {
		reader = bytes.NewReader(nil)
	} else {
		reader = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "ok", body["status"])
}

func TestServer_SubmitQueuesEachURL(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/screenshot",
		`{"urls": ["https://example.com", "https://example.org"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Message string      `json:"message"`
		URLs    []queuedURL `json:"urls"`
	}](t, rec)
	require.Equal(t, "Queued 2 URLs for processing", body.Message)
	require.Len(t, body.URLs, 2)

	msgs := f.broker.messages()
	require.Len(t, msgs, 2)
	for i, q := range body.URLs {
		require.NotEmpty(t, q.ID)
		require.Equal(t, snapshot.Message{URL: q.URL, ID: q.ID}, msgs[i])

		job, err := f.status.Get(context.Background(), q.ID)
		require.NoError(t, err)
		require.Equal(t, snapshot.StatusPending, job.Status)
	}
}

func TestServer_SubmitRejectsEmptyList(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/screenshot", `{"urls": []}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "No URLs provided", body["error"])
	require.Empty(t, f.broker.messages())
}

func TestServer_SubmitRejectsInvalidJSON(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/screenshot", `{"urls": [`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_SubmitDropsFailedURLs(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.broker.failURLs["https://broken.example"] = true

	rec := f.do(t, http.MethodPost, "/screenshot",
		`{"urls": ["https://broken.example", "https://example.com"]}`)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		Message string      `json:"message"`
		URLs    []queuedURL `json:"urls"`
	}](t, rec)
	require.Equal(t, "Queued 1 URLs for processing", body.Message)
	require.Len(t, body.URLs, 1)
	require.Equal(t, "https://example.com", body.URLs[0].URL)
}

func TestServer_SubmitAllFailuresIsServerError(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	f.broker.failURLs["https://broken.example"] = true

	rec := f.do(t, http.MethodPost, "/screenshot", `{"urls": ["https://broken.example"]}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "Failed to queue any URLs", body["error"])
}

func TestServer_GetStatusUnknownIDIsNotFound(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/status/no-such-id", "")

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decodeBody[map[string]string](t, rec)
	require.Equal(t, "URL not found", body["error"])
}

func TestServer_GetStatusReflectsTransitions(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodPost, "/screenshot", `{"urls": ["https://example.com"]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		URLs []queuedURL `json:"urls"`
	}](t, rec)
	require.Len(t, body.URLs, 1)
	id := body.URLs[0].ID

	rec = f.do(t, http.MethodGet, "/status/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entry := decodeBody[statusEntry](t, rec)
	require.Equal(t, id, entry.URL)
	require.Equal(t, snapshot.StatusPending, entry.Status)

	require.NoError(t, f.status.Transition(context.Background(), id, snapshot.StatusDone))

	rec = f.do(t, http.MethodGet, "/status/"+id, "")
	require.Equal(t, http.StatusOK, rec.Code)
	entry = decodeBody[statusEntry](t, rec)
	require.Equal(t, snapshot.StatusDone, entry.Status)
}

func TestServer_ListStatusesKeysByJobID(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	const count = 3
	urls := make([]string, 0, count)
	for i := 0; i < count; i++ {
		urls = append(urls, fmt.Sprintf(`"https://example.com/%d"`, i))
	}
	rec := f.do(t, http.MethodPost, "/screenshot",
		`{"urls": [`+strings.Join(urls, ",")+`]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody[struct {
		URLs []queuedURL `json:"urls"`
	}](t, rec)

	rec = f.do(t, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]statusEntry](t, rec)
	require.Len(t, entries, count)

	ids := make([]string, 0, count)
	for _, q := range body.URLs {
		ids = append(ids, q.ID)
	}
	got := make([]string, 0, count)
	for _, e := range entries {
		require.Equal(t, snapshot.StatusPending, e.Status)
		got = append(got, e.URL)
	}
	require.ElementsMatch(t, ids, got)
}

func TestServer_ListCompletedFiltersByArtifact(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	ctx := context.Background()

	// Done with an artifact: listed.
	require.NoError(t, f.status.Register(ctx, "job-1", "https://example.com"))
	require.NoError(t, f.status.Transition(ctx, "job-1", snapshot.StatusDone))
	f.cache.entries["https://example.com"] = "/cache/https_example.com.png"

	// Done but the artifact is gone: skipped.
	require.NoError(t, f.status.Register(ctx, "job-2", "https://example.org"))
	require.NoError(t, f.status.Transition(ctx, "job-2", snapshot.StatusDone))

	// Still pending: skipped.
	require.NoError(t, f.status.Register(ctx, "job-3", "https://example.net"))

	rec := f.do(t, http.MethodGet, "/screenshot/lists", "")
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decodeBody[[]completedEntry](t, rec)
	require.Equal(t, []completedEntry{
		{URL: "https://example.com", ImagePath: "/cache/https_example.com.png"},
	}, entries)
}

func TestServer_RequestIDHeaderIsSet(t *testing.T) {
	t.Parallel()

	f := newServerFixture(t)
	rec := f.do(t, http.MethodGet, "/healthz", "")

	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
