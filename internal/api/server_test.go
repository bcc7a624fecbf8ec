package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pinsave/internal/config"
	"github.com/JakeFAU/pinsave/internal/media"
	"github.com/JakeFAU/pinsave/internal/notify/memory"
	"github.com/JakeFAU/pinsave/internal/router"
	"github.com/JakeFAU/pinsave/internal/stats"
)

type testEnv struct {
	handler *fakeHandler
	bans    *fakeBans
	promo   *media.Promo
	outbox  *memory.Notifier
	server  *Server
}

func newTestEnv(t *testing.T, cfg config.Config) *testEnv {
	t.Helper()
	if cfg.Server.RequestTimeoutSeconds == 0 {
		cfg.Server.RequestTimeoutSeconds = 5
	}
	env := &testEnv{
		handler: &fakeHandler{result: router.Result{Action: router.ActionQueued, JobID: "job-1", Position: 1}},
		bans:    &fakeBans{ids: map[int64]bool{}},
		promo:   media.NewPromo(""),
		outbox:  memory.New(),
	}
	env.server = NewServer(Deps{
		Router: env.handler,
		Stats:  fakeStats{snap: stats.Snapshot{TotalRequests: 4, Errors: 1, DownloadsOK: 3}},
		Bans:   env.bans,
		Queue:  fakeQueue{n: 2},
		Promo:  env.promo,
		Outbox: env.outbox,
	}, cfg, zap.NewNop())
	return env
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

var adminHeader = map[string]string{"X-Admin-ID": "1"}

func adminConfig() config.Config {
	return config.Config{Auth: config.AuthConfig{AdminIDs: []int64{1}}}
}

func TestServer_PostMessage_ReturnsResult(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/messages", []byte(`{"requester_id":7,"chat_id":70,"message_id":3,"text":"https://pin.it/a"}`), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var res router.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, router.ActionQueued, res.Action)
	assert.Equal(t, "job-1", res.JobID)
	assert.Equal(t, []router.Inbound{{RequesterID: 7, ChatID: 70, MessageID: 3, Text: "https://pin.it/a"}}, env.handler.calls())
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_PostMessage_BadRequests(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodPost, "/v1/messages", []byte("{invalid"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(http.MethodPost, "/v1/messages", []byte(`{"text":"hi"}`), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, env.handler.calls())
}

func TestServer_PostMessage_HandlerError(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.handler.err = errors.New("id source down")
	rec := env.do(http.MethodPost, "/v1/messages", []byte(`{"requester_id":7,"chat_id":70,"text":"x"}`), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "id source down")
}

func TestServer_ListChatMessages(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.NoError(t, env.outbox.Send(context.Background(), media.Message{ChatID: 70, Text: "queued"}))
	require.NoError(t, env.outbox.Send(context.Background(), media.Message{ChatID: 71, Text: "other"}))

	rec := env.do(http.MethodGet, "/v1/chats/70/messages", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []media.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, []media.Message{{ChatID: 70, Text: "queued"}}, body.Messages)

	rec = env.do(http.MethodGet, "/v1/chats/abc/messages", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_ListChatMessages_Disabled(t *testing.T) {
	t.Parallel()

	srv := NewServer(Deps{Router: &fakeHandler{}}, config.Config{}, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/chats/70/messages", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_AdminStats(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, adminConfig())
	env.bans.ids[9] = true

	rec := env.do(http.MethodGet, "/v1/admin/stats", nil, adminHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.InDelta(t, 4, body["total_requests"], 0)
	assert.InDelta(t, 75, body["success_rate"], 0.001)
	assert.InDelta(t, 2, body["queue_size"], 0)
	assert.InDelta(t, 1, body["banned"], 0)
}

func TestServer_AdminBans(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, adminConfig())
	rec := env.do(http.MethodPost, "/v1/admin/bans/42", nil, adminHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.bans.has(42))

	rec = env.do(http.MethodDelete, "/v1/admin/bans/42", nil, adminHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, env.bans.has(42))

	rec = env.do(http.MethodPost, "/v1/admin/bans/nope", nil, adminHeader)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	env.bans.err = errors.New("disk full")
	rec = env.do(http.MethodPost, "/v1/admin/bans/43", nil, adminHeader)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_AdminPromo(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, adminConfig())
	rec := env.do(http.MethodPut, "/v1/admin/promo", []byte(`{"text":"follow @pinsave"}`), adminHeader)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "follow @pinsave", env.promo.Text())

	rec = env.do(http.MethodPut, "/v1/admin/promo", []byte(`{`), adminHeader)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_AdminIDsGate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{AdminIDs: []int64{1, 2}}})

	rec := env.do(http.MethodGet, "/v1/admin/stats", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/v1/admin/stats", nil, map[string]string{"X-Admin-ID": "3"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodGet, "/v1/admin/stats", nil, map[string]string{"X-Admin-ID": "2"})
	require.Equal(t, http.StatusOK, rec.Code)

	// Non-admin routes stay open to everyone.
	rec = env.do(http.MethodPost, "/v1/messages", []byte(`{"requester_id":7,"chat_id":70}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
}

func TestServer_AdminRoutesClosedWithoutAdmins(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	require.Empty(t, cfg.Auth.AdminIDs)
	env := newTestEnv(t, cfg)

	rec := env.do(http.MethodPost, "/v1/admin/bans/99", nil, nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.False(t, env.bans.has(99))

	rec = env.do(http.MethodPut, "/v1/admin/promo", []byte(`{"text":"spam"}`), adminHeader)
	require.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, env.promo.Text())

	rec = env.do(http.MethodGet, "/v1/admin/stats", nil, map[string]string{"X-Admin-ID": "0"})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestServer_APIKey(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{Auth: config.AuthConfig{Enabled: true, APIKey: "secret"}})

	rec := env.do(http.MethodPost, "/v1/messages", []byte(`{"requester_id":7,"chat_id":70}`), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(http.MethodPost, "/v1/messages", []byte(`{"requester_id":7,"chat_id":70}`), map[string]string{"X-API-Key": "secret"})
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(http.MethodPost, "/v1/messages?api_key=secret", []byte(`{"requester_id":7,"chat_id":70}`), nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	// Probes bypass the key.
	rec = env.do(http.MethodGet, "/healthz", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_Probes(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil, nil).Code)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", nil, nil).Code)

	rec := env.do(http.MethodGet, "/metrics", nil, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pinsave_queue_depth")

	srv := NewServer(Deps{Ready: func(context.Context) error { return errors.New("state dir missing") }}, config.Config{}, nil)
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	env.handler.panicMsg = "boom"
	rec := env.do(http.MethodPost, "/v1/messages", []byte(`{"requester_id":7,"chat_id":70}`), nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRequestIDPassthrough(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, config.Config{})
	rec := env.do(http.MethodGet, "/healthz", nil, map[string]string{"X-Request-ID": "abc-123"})
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

// --- fakes ---

type fakeHandler struct {
	mu       sync.Mutex
	result   router.Result
	err      error
	panicMsg string
	inbound  []router.Inbound
}

func (f *fakeHandler) Handle(_ context.Context, in router.Inbound) (router.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.inbound = append(f.inbound, in)
	if f.err != nil {
		return router.Result{}, f.err
	}
	return f.result, nil
}

func (f *fakeHandler) calls() []router.Inbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]router.Inbound(nil), f.inbound...)
}

type fakeStats struct {
	snap stats.Snapshot
}

func (f fakeStats) Snapshot() stats.Snapshot { return f.snap }

type fakeQueue struct {
	n int
}

func (f fakeQueue) Len() int { return f.n }

type fakeBans struct {
	mu  sync.Mutex
	ids map[int64]bool
	err error
}

func (f *fakeBans) Add(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids[id] = true
	return nil
}

func (f *fakeBans) Remove(id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	delete(f.ids, id)
	return nil
}

func (f *fakeBans) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ids)
}

func (f *fakeBans) has(id int64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ids[id]
}
