// ABOUTME: HTTP-level tests for the gateway API surface
// ABOUTME: Drives the literal end-to-end scenarios over httptest

package gateway

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/visor-gateway/internal/agenttask"
	"github.com/2389/visor-gateway/internal/auth"
	"github.com/2389/visor-gateway/internal/codehost"
	"github.com/2389/visor-gateway/internal/command"
	"github.com/2389/visor-gateway/internal/kv"
	"github.com/2389/visor-gateway/internal/metrics"
	"github.com/2389/visor-gateway/internal/notify"
	"github.com/2389/visor-gateway/internal/pending"
	"github.com/2389/visor-gateway/internal/profile"
	"github.com/2389/visor-gateway/internal/session"
	"github.com/2389/visor-gateway/internal/speech"
	"github.com/2389/visor-gateway/internal/store"
	"github.com/2389/visor-gateway/internal/webhook"
)

type testEnv struct {
	server *httptest.Server
	store  *store.MockStore
	host   *codehost.Fixture
	tasks  *agenttask.Service
}

func newTestEnv(t *testing.T, webhookSecret string) *testEnv {
	t.Helper()

	backend := kv.NewMemory()
	t.Cleanup(func() { _ = backend.Close() })

	st := store.NewMockStore()
	sessions := session.NewStore(backend, time.Hour)
	pendings := pending.NewManager(backend, time.Minute)
	profiles := profile.NewUserStore(backend)
	host := codehost.NewSeededFixture()
	stub := speech.NewStub()

	notifier := notify.NewService(st, nil, time.Minute, nil)
	tasks := agenttask.NewService(st, notifier, profiles, "org/agents", nil)
	tasks.RegisterProvider(agenttask.MockProvider{})
	tasks.RegisterProvider(agenttask.MockRunningProvider{})

	router := command.NewRouter(sessions, pendings, profiles, stub, backend, 0, nil)
	router.Register(command.NewInboxHandler(host, sessions))
	router.Register(command.NewSummarizeHandler(host, sessions))
	router.Register(command.NewRequestReviewHandler(host, st))
	router.Register(command.NewMergeHandler(host, st))
	router.Register(command.NewChecksHandler(host))
	router.Register(command.NewDelegateHandler(tasks, "mock_running"))
	router.Register(command.NewProgressHandler(tasks))
	router.Register(command.NewSetProfileHandler(profiles))
	router.Register(command.NewNextHandler(sessions))

	ingestor := webhook.NewIngestor(st, notifier, tasks, profiles, webhookSecret, nil)

	srv := New(Options{
		Addr:           "127.0.0.1:0",
		Version:        "test",
		AuthMode:       "dev",
		STTProvider:    "stub",
		TTSProvider:    "stub",
		MetricsEnabled: true,
		DevEndpoints:   true,
	}, router, notifier, ingestor, st, stub, &auth.DevResolver{DefaultUser: "dev-user"}, metrics.New(), nil)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	return &testEnv{server: ts, store: st, host: host, tasks: tasks}
}

func (e *testEnv) postJSON(t *testing.T, path string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, e.server.URL+path, bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func commandBody(text string) map[string]any {
	return map[string]any{
		"input":   map[string]any{"type": "text", "text": text},
		"profile": "default",
	}
}

func TestHTTP_InboxScenario(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.postJSON(t, "/v1/command", commandBody("inbox"), nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var out command.CommandResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.True(t, strings.HasPrefix(out.Response.Text, "You have 3 items"))
	require.Len(t, out.Cards, 3)
	assert.Equal(t, "PR #101", out.Cards[0].Title)
	assert.False(t, out.NeedsConfirmation)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}

func TestHTTP_ConfirmAndMergeScenario(t *testing.T) {
	env := newTestEnv(t, "")

	// Focus the session, then stage the merge.
	env.postJSON(t, "/v1/command", commandBody("summarize pr 101"), nil)
	resp, body := env.postJSON(t, "/v1/command", commandBody("merge pr 101"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var staged command.CommandResponse
	require.NoError(t, json.Unmarshal(body, &staged))
	require.True(t, staged.NeedsConfirmation)
	require.NotNil(t, staged.PendingAction)
	assert.True(t, strings.HasPrefix(staged.Response.Text, "Ready to merge PR 101"))

	resp, body = env.postJSON(t, "/v1/commands/confirm", map[string]any{"token": staged.PendingAction.Token}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var confirmed command.CommandResponse
	require.NoError(t, json.Unmarshal(body, &confirmed))
	assert.False(t, confirmed.NeedsConfirmation)
	assert.Contains(t, confirmed.Response.Text, "Merged")

	// Second confirm with the same token is a 404.
	resp, _ = env.postJSON(t, "/v1/commands/confirm", map[string]any{"token": staged.PendingAction.Token}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHTTP_CommandValidation(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.postJSON(t, "/v1/command", map[string]any{"input": map[string]any{"type": "smoke"}}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_IdempotencyKey(t *testing.T) {
	env := newTestEnv(t, "")

	body := commandBody("inbox")
	body["idempotency_key"] = "key-1"

	_, first := env.postJSON(t, "/v1/command", body, nil)
	_, second := env.postJSON(t, "/v1/command", body, nil)
	assert.Equal(t, string(first), string(second), "identical idempotent replay")
}

func webhookPayload(repo string, number int) []byte {
	payload := map[string]any{
		"action": "opened",
		"number": number,
		"pull_request": map[string]any{
			"number": number, "title": "T", "state": "open",
			"user": map[string]any{"login": "alice"},
			"head": map[string]any{"ref": "b", "sha": "c"},
		},
		"repository": map[string]any{"full_name": repo},
	}
	data, _ := json.Marshal(payload)
	return data
}

func TestHTTP_WebhookDedupe(t *testing.T) {
	env := newTestEnv(t, "hook-secret")
	ctx := t.Context()

	require.NoError(t, env.store.SaveRepoSubscription(ctx, &store.RepoSubscription{
		UserID: "dev-user", RepoFullName: "org/x", CreatedAt: time.Now().UTC(),
	}))

	payload := webhookPayload("org/x", 5)
	mac := hmac.New(sha256.New, []byte("hook-secret"))
	mac.Write(payload)
	signature := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	headers := map[string]string{
		"X-GitHub-Event":      "pull_request",
		"X-GitHub-Delivery":   "d1",
		"X-Hub-Signature-256": signature,
	}

	send := func() int {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/webhooks/github", bytes.NewReader(payload))
		require.NoError(t, err)
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusAccepted, send())
	assert.Equal(t, http.StatusAccepted, send(), "duplicate delivery still replies 202")

	events, err := env.store.ListEvents(ctx, store.EventFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)

	notifications, err := env.store.ListNotifications(ctx, "dev-user", time.Time{}, 10)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)

	// Bad signature is a 400.
	headers["X-Hub-Signature-256"] = "sha256=deadbeef"
	headers["X-GitHub-Delivery"] = "d2"
	assert.Equal(t, http.StatusBadRequest, send())
}

func TestHTTP_AgentCorrelationScenario(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := t.Context()

	// Delegate via the command plane (mock_running keeps the task open).
	env.postJSON(t, "/v1/command", commandBody("have an agent fix the login flow"), nil)
	resp, body := env.postJSON(t, "/v1/command", commandBody("confirm"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var confirmed command.CommandResponse
	require.NoError(t, json.Unmarshal(body, &confirmed))
	require.Contains(t, confirmed.Response.Text, "Delegated")

	tasks, err := env.store.ListTasks(ctx, "dev-user", store.TaskStateRunning)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	taskID := tasks[0].ID

	// Inject the result PR referencing the task.
	payload := map[string]any{
		"action": "opened",
		"number": 9,
		"pull_request": map[string]any{
			"number": 9, "title": "Fix login flow", "state": "open",
			"body":     fmt.Sprintf("<!-- agent_task_metadata {\"task_id\":%q} -->", taskID),
			"html_url": "https://github.example/org/x/pull/9",
			"user":     map[string]any{"login": "agent"},
			"head":     map[string]any{"ref": "fix", "sha": "abc"},
		},
		"repository": map[string]any{"full_name": "org/x"},
	}
	data, _ := json.Marshal(payload)

	req, err := http.NewRequest(http.MethodPost, env.server.URL+"/v1/webhooks/github", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("X-GitHub-Event", "pull_request")
	req.Header.Set("X-GitHub-Delivery", "d-agent")
	req.Header.Set("X-Hub-Signature-256", "dev")
	wresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	wresp.Body.Close()
	require.Equal(t, http.StatusAccepted, wresp.StatusCode)

	task, err := env.store.GetTask(ctx, taskID)
	require.NoError(t, err)
	assert.Equal(t, store.TaskStateCompleted, task.State)

	notifications, err := env.store.ListNotifications(ctx, "dev-user", time.Time{}, 10)
	require.NoError(t, err)
	var types []string
	for _, n := range notifications {
		types = append(types, n.EventType)
	}
	assert.Contains(t, types, "agent.task_completed")
}

func TestHTTP_NotificationsCRUD(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.postJSON(t, "/v1/notifications/subscriptions", map[string]any{
		"endpoint": "https://push.example/ep1",
		"platform": "webpush",
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var sub struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(body, &sub))
	require.NotEmpty(t, sub.ID)

	resp, body = env.get(t, "/v1/notifications/subscriptions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, 1, listed.Count)

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/v1/notifications/subscriptions/"+sub.ID, nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusOK, dresp.StatusCode)

	resp, body = env.get(t, "/v1/notifications?limit=10")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var notifications struct {
		Count     int    `json:"count"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(body, &notifications))
	assert.Zero(t, notifications.Count)
	assert.NotEmpty(t, notifications.RequestID)
}

func TestHTTP_RepoSubscriptionsCRUD(t *testing.T) {
	env := newTestEnv(t, "")

	resp, _ := env.postJSON(t, "/v1/repos/subscriptions", map[string]any{"repo_full_name": "org/x"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := env.get(t, "/v1/repos/subscriptions")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var listed struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(body, &listed))
	assert.Equal(t, 1, listed.Count)

	req, err := http.NewRequest(http.MethodDelete, env.server.URL+"/v1/repos/subscriptions/org/x", nil)
	require.NoError(t, err)
	dresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	dresp.Body.Close()
	assert.Equal(t, http.StatusOK, dresp.StatusCode)

	resp, _ = env.postJSON(t, "/v1/repos/subscriptions", map[string]any{"repo_full_name": "nope"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHTTP_TTS(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.postJSON(t, "/v1/tts", map[string]any{"text": "Merged PR 101.", "format": "wav"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "audio/wav", resp.Header.Get("Content-Type"))
	assert.Contains(t, string(body), "Merged PR 101.")
}

func TestHTTP_DevAudioRoundTrip(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.postJSON(t, "/v1/dev/audio", map[string]any{
		"data_base64": "aW5ib3g=", // "inbox"
		"format":      "wav",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stored struct {
		URI string `json:"uri"`
	}
	require.NoError(t, json.Unmarshal(body, &stored))
	require.True(t, strings.HasPrefix(stored.URI, "file://"))

	// Drive the audio input path through the stored file.
	resp, body = env.postJSON(t, "/v1/command", map[string]any{
		"input":   map[string]any{"type": "audio", "uri": stored.URI, "format": "wav"},
		"profile": "default",
	}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out command.CommandResponse
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "inbox.list", out.Intent.Name)
}

func TestHTTP_Status(t *testing.T) {
	env := newTestEnv(t, "")

	resp, body := env.get(t, "/v1/status")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var status struct {
		Status      string `json:"status"`
		Version     string `json:"version"`
		AuthMode    string `json:"auth_mode"`
		STTProvider string `json:"stt_provider"`
	}
	require.NoError(t, json.Unmarshal(body, &status))
	assert.Equal(t, "ok", status.Status)
	assert.Equal(t, "test", status.Version)
	assert.Equal(t, "dev", status.AuthMode)
	assert.Equal(t, "stub", status.STTProvider)
}

func TestHTTP_Metrics(t *testing.T) {
	env := newTestEnv(t, "")

	env.postJSON(t, "/v1/command", commandBody("inbox"), nil)

	resp, body := env.get(t, "/v1/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "visor_commands_total")
}
