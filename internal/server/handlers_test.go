package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qcommander/internal/bots"
	"qcommander/internal/cancel"
	"qcommander/internal/configstore"
	"qcommander/internal/core"
	"qcommander/internal/orchestrator"
	"qcommander/internal/providers"
)

const testToken = "test-token"

// fakeStream yields scripted fragments; when gated, Next blocks until Close.
type fakeStream struct {
	fragments []string
	idx       int
	gated     bool
	done      chan struct{}
	once      sync.Once
}

func (s *fakeStream) Next() (string, error) {
	if s.idx < len(s.fragments) {
		text := s.fragments[s.idx]
		s.idx++
		return text, nil
	}
	if s.gated {
		<-s.done
	}
	return "", io.EOF
}

func (s *fakeStream) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

type fakeProvider struct {
	name         string
	fragments    []string
	gated        bool
	completeText string
	streamErr    error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(ctx context.Context, req *core.ChatRequest) (*core.ChatResponse, error) {
	return &core.ChatResponse{
		Provider: p.name,
		Model:    req.Model,
		Choices: []core.Choice{{
			Message:      core.Message{Role: "assistant", Content: p.completeText},
			FinishReason: "stop",
		}},
	}, nil
}

func (p *fakeProvider) Stream(ctx context.Context, req *core.ChatRequest) (core.DeltaStream, error) {
	if p.streamErr != nil {
		return nil, p.streamErr
	}
	return &fakeStream{fragments: p.fragments, gated: p.gated, done: make(chan struct{})}, nil
}

func newTestServer(t *testing.T, provider core.Provider) *Server {
	t.Helper()

	settings, err := configstore.New(t.TempDir(), configstore.Settings{
		Provider:           provider.Name(),
		Model:              "test-model",
		PreferredTransport: configstore.TransportSSE,
	})
	require.NoError(t, err)

	botStore, err := bots.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { botStore.Close() })

	orch := orchestrator.New(providers.NewSetWith(provider), cancel.NewRegistry(), orchestrator.Options{
		FirstChunkTimeout: time.Minute,
	})

	return New(Deps{
		Orchestrator: orch,
		Providers:    providers.NewSetWith(provider),
		Settings:     settings,
		Bots:         botStore,
	}, &Config{Port: "18000", Token: testToken})
}

type sseTestEvent struct {
	name string
	data string
}

func parseSSE(t *testing.T, body string) []sseTestEvent {
	t.Helper()
	var events []sseTestEvent
	for _, block := range strings.Split(body, "\n\n") {
		var ev sseTestEvent
		for _, line := range strings.Split(block, "\n") {
			if strings.HasPrefix(line, "event: ") {
				ev.name = strings.TrimPrefix(line, "event: ")
			}
			if strings.HasPrefix(line, "data: ") {
				ev.data = strings.TrimPrefix(line, "data: ")
			}
		}
		if ev.name != "" || ev.data != "" {
			events = append(events, ev)
		}
	}
	return events
}

func TestHealth(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "fake", body["provider"])
	assert.Equal(t, true, body["provider_ready"])
}

func TestAssistantSSEStreamsTurn(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake", fragments: []string{"Hel", "lo"}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assistant/sse?message=hi", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 4)

	assert.Equal(t, "meta", events[0].name)
	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &meta))
	assert.NotEmpty(t, meta["id"])
	assert.Equal(t, "fake", meta["provider"])
	assert.Equal(t, "test-model", meta["model"])

	assert.Equal(t, "delta", events[1].name)
	assert.JSONEq(t, `{"seq":1,"delta":"Hel"}`, events[1].data)
	assert.Equal(t, "delta", events[2].name)
	assert.JSONEq(t, `{"seq":2,"delta":"lo","final":true}`, events[2].data)

	assert.Equal(t, "done", events[3].name)
	assert.JSONEq(t, `{"ok":true}`, events[3].data)
}

func TestAssistantSSEMissingMessage(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assistant/sse", nil))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 1, "malformed input gets a single terminal error event")
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, "message must not be empty")
}

func TestPostSSEMatchesGetSequence(t *testing.T) {
	provider := &fakeProvider{name: "fake", fragments: []string{"same", " text"}}
	srv := newTestServer(t, provider)

	getRec := httptest.NewRecorder()
	srv.ServeHTTP(getRec, httptest.NewRequest(http.MethodGet, "/assistant/sse?message=hi", nil))

	body := bytes.NewBufferString(`{"message":"hi"}`)
	postReq := httptest.NewRequest(http.MethodPost, "/sse", body)
	postReq.Header.Set("Content-Type", "application/json")
	postRec := httptest.NewRecorder()
	srv.ServeHTTP(postRec, postReq)

	getEvents := parseSSE(t, getRec.Body.String())
	postEvents := parseSSE(t, postRec.Body.String())
	require.Equal(t, len(getEvents), len(postEvents))

	// Identical sequences apart from the per-turn id in meta.
	for i := range getEvents {
		assert.Equal(t, getEvents[i].name, postEvents[i].name)
		if getEvents[i].name != "meta" {
			assert.JSONEq(t, getEvents[i].data, postEvents[i].data)
		}
	}
}

func TestSSEFallbackProducesSingleFinalDelta(t *testing.T) {
	provider := &fakeProvider{
		name:         "fake",
		streamErr:    core.NewStreamingNotPermittedError("fake", "stream requires verification"),
		completeText: "full answer",
	}
	srv := newTestServer(t, provider)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assistant/sse?message=hi", nil))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 3)
	assert.Equal(t, "meta", events[0].name)
	assert.Equal(t, "delta", events[1].name)
	assert.JSONEq(t, `{"seq":1,"delta":"full answer","final":true}`, events[1].data)
	assert.Equal(t, "done", events[2].name)
}

func TestGetConfig(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assistant/config", nil))

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "fake", body["provider"])
	assert.Equal(t, "test-model", body["model"])
	assert.Equal(t, "sse", body["preferredTransport"])
	assert.Equal(t, "18000", body["server_port"])
	assert.Equal(t, true, body["provider_ready"])
}

func TestPatchConfigRequiresToken(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	req := httptest.NewRequest(http.MethodPatch, "/assistant/config",
		bytes.NewBufferString(`{"preferredTransport":"ws"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodPatch, "/assistant/config",
		bytes.NewBufferString(`{"preferredTransport":"ws"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", "wrong")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPatchConfigUpdatesSettings(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	req := httptest.NewRequest(http.MethodPatch, "/assistant/config",
		bytes.NewBufferString(`{"provider":"anthropic","preferredTransport":"ws"}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Auth-Token", testToken)
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "anthropic", body["provider"])
	assert.Equal(t, "ws", body["preferredTransport"])
	// anthropic exists in the profile table but carries no credential here.
	assert.Equal(t, false, body["provider_ready"])
}

func TestPatchConfigRejectsInvalidValues(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	for _, payload := range []string{
		`{"preferredTransport":"smoke-signals"}`,
		`{"provider":"carrier-pigeon"}`,
		`{"model":""}`,
	} {
		req := httptest.NewRequest(http.MethodPatch, "/assistant/config", bytes.NewBufferString(payload))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Auth-Token", testToken)
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, payload)
	}
}

func TestBotsCRUDOverHTTP(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	// Create
	req := httptest.NewRequest(http.MethodPost, "/bots",
		bytes.NewBufferString(`{"name":"Researcher","provider":"fake","system_prompt":"Be careful."}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created bots.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	// List
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bots", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var list []bots.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)

	// Patch
	req = httptest.NewRequest(http.MethodPatch, "/bots/"+created.ID,
		bytes.NewBufferString(`{"emoji":"🔬"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	var updated bots.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &updated))
	assert.Equal(t, "🔬", updated.Emoji)
	assert.Equal(t, "Researcher", updated.Name)

	// Delete
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/bots/"+created.ID, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Gone
	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/bots/"+created.ID, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSSEWithBotOverrides(t *testing.T) {
	provider := &fakeProvider{name: "fake", fragments: []string{"ok"}}
	srv := newTestServer(t, provider)

	req := httptest.NewRequest(http.MethodPost, "/bots",
		bytes.NewBufferString(`{"name":"Sage","model":"bot-model","system_prompt":"Be wise."}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created bots.Bot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/assistant/sse?message=hi&bot_id="+created.ID, nil))

	events := parseSSE(t, rec.Body.String())
	require.NotEmpty(t, events)
	require.Equal(t, "meta", events[0].name)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(events[0].data), &meta))
	assert.Equal(t, "bot-model", meta["model"], "bot profile fills the missing model")
}

func TestSSEUnknownBot(t *testing.T) {
	srv := newTestServer(t, &fakeProvider{name: "fake"})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet,
		"/assistant/sse?message=hi&bot_id=nope", nil))

	events := parseSSE(t, rec.Body.String())
	require.Len(t, events, 1)
	assert.Equal(t, "error", events[0].name)
	assert.Contains(t, events[0].data, "unknown bot_id")
}
