package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"churnpilot/internal/customer"
	"churnpilot/internal/memory"
	"churnpilot/internal/session"
	"churnpilot/pkg"
)

type stubChatter struct {
	result *pkg.ChatResult
	err    error

	lastSessionID string
	lastQuery     string
}

func (s *stubChatter) Chat(ctx context.Context, sessionID, query string) (*pkg.ChatResult, error) {
	s.lastSessionID = sessionID
	s.lastQuery = query
	if s.err != nil {
		return nil, s.err
	}
	result := *s.result
	result.SessionID = sessionID
	return &result, nil
}

func newTestServer(t *testing.T, chat *stubChatter) (*Server, *memory.Store) {
	t.Helper()

	mem, err := memory.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	registry := session.NewMemoryRegistry(time.Minute)
	t.Cleanup(func() { registry.Close() })

	return New(chat, mem, customer.NewStore(t.TempDir()), registry), mem
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dest any) {
	t.Helper()
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), dest))
}

func TestChatEndpoint(t *testing.T) {
	chat := &stubChatter{result: &pkg.ChatResult{
		Reply:    "Acme needs a win-back journey.",
		Attempts: 2,
		Verdict:  &pkg.Verdict{Rating: 8, Pass: true},
	}}
	srv, _ := newTestServer(t, chat)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"how do we keep Acme?"}`)))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	decode(t, rec, &resp)
	assert.Equal(t, "Acme needs a win-back journey.", resp.Reply)
	assert.Equal(t, 2, resp.Attempts)
	assert.True(t, resp.Evaluated)
	assert.NotEmpty(t, resp.SessionID)
	assert.Equal(t, resp.SessionID, chat.lastSessionID)
	assert.Equal(t, "how do we keep Acme?", chat.lastQuery)
}

func TestChatReusesSessionToken(t *testing.T) {
	chat := &stubChatter{result: &pkg.ChatResult{Reply: "ok"}}
	srv, _ := newTestServer(t, chat)

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"first"}`)))
	var first chatResponse
	decode(t, rec, &first)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"second","session_id":"`+first.SessionID+`"}`)))
	var second chatResponse
	decode(t, rec, &second)

	assert.Equal(t, first.SessionID, second.SessionID)
}

func TestChatValidation(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatAgentFailureApologizes(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{err: errors.New("model unavailable")})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"hello"}`)))

	require.Equal(t, http.StatusOK, rec.Code)

	var resp chatResponse
	decode(t, rec, &resp)
	assert.Equal(t, apologyReply, resp.Reply)
	assert.Equal(t, "agent_failure", resp.Error)
	assert.NotEmpty(t, resp.SessionID)
}

func TestListSessions(t *testing.T) {
	srv, mem := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})
	require.NoError(t, mem.Append(context.Background(), "s1", "user", "hi", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []memory.SessionInfo `json:"sessions"`
		Count    int                  `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, "s1", resp.Sessions[0].SessionID)
}

func TestSessionSummaryAndContext(t *testing.T) {
	srv, mem := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})
	ctx := context.Background()
	require.NoError(t, mem.Append(ctx, "s1", "user", "who is at risk?", nil))
	require.NoError(t, mem.Append(ctx, "s1", "assistant", "Acme is.", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/summary", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var summary map[string]string
	decode(t, rec, &summary)
	assert.Contains(t, summary["summary"], "Total Messages:** 2")

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/s1/context", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var contextResp struct {
		Messages []pkg.ConversationMessage `json:"messages"`
	}
	decode(t, rec, &contextResp)
	require.Len(t, contextResp.Messages, 2)
	assert.Equal(t, "who is at risk?", contextResp.Messages[0].Content)
}

func TestSessionActivity(t *testing.T) {
	chat := &stubChatter{result: &pkg.ChatResult{
		Reply: "done",
		ToolEvents: []pkg.ToolEvent{
			{Tool: "get_customer_data", ArgsJSON: `{"customer_id":"ACME001"}`, Response: "ok"},
		},
	}}
	srv, mem := newTestServer(t, chat)

	// Drive a chat turn so the registry holds both a session and activity.
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/chat",
		strings.NewReader(`{"message":"check Acme"}`)))
	var chatResp chatResponse
	decode(t, rec, &chatResp)

	// The real orchestrator writes the turn to memory; the stub does not.
	require.NoError(t, mem.Append(context.Background(), chatResp.SessionID, "user", "check Acme", nil))

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/"+chatResp.SessionID+"/activity", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Session    memory.SessionInfo `json:"session"`
		ToolEvents []pkg.ToolEvent    `json:"tool_events"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, chatResp.SessionID, resp.Session.SessionID)
	require.Len(t, resp.ToolEvents, 1)
	assert.Equal(t, "get_customer_data", resp.ToolEvents[0].Tool)

	rec = httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/ghost/activity", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteSession(t *testing.T) {
	srv, mem := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})
	ctx := context.Background()
	require.NoError(t, mem.Append(ctx, "s1", "user", "hi", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/sessions/s1", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	_, ok, err := mem.Session(ctx, "s1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClearMemory(t *testing.T) {
	srv, mem := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})
	ctx := context.Background()
	require.NoError(t, mem.Append(ctx, "s1", "user", "hi", nil))
	require.NoError(t, mem.Append(ctx, "s2", "user", "hello", nil))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/memory", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	sessions, err := mem.Sessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestListCustomersEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/customers", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Customers []string `json:"customers"`
		Count     int      `json:"count"`
	}
	decode(t, rec, &resp)
	assert.Zero(t, resp.Count)
	assert.NotNil(t, resp.Customers)
}

func TestCustomerMemory(t *testing.T) {
	srv, mem := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})
	require.NoError(t, mem.Append(context.Background(), "s1", "assistant", "answer", &memory.AppendOptions{
		Customer: &pkg.CustomerLinkage{CustomerID: "ACME001", CustomerName: "Acme Corporation", Topic: "risk"},
	}))

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/customers/ACME001/memory", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	decode(t, rec, &resp)
	assert.Contains(t, resp["summary"], "Acme Corporation")
	assert.Contains(t, resp["summary"], "risk")
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubChatter{result: &pkg.ChatResult{}})

	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
