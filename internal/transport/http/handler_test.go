package http

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cwrk-planet/market-chat/internal/bus"
	"github.com/cwrk-planet/market-chat/internal/memory"
	"github.com/cwrk-planet/market-chat/internal/metrics"
	"github.com/cwrk-planet/market-chat/internal/security"
	"github.com/cwrk-planet/market-chat/internal/service"
	"github.com/cwrk-planet/market-chat/internal/session"
	"github.com/cwrk-planet/market-chat/internal/transport/dto"
	httpmw "github.com/cwrk-planet/market-chat/internal/transport/http/middleware"
	"github.com/cwrk-planet/market-chat/internal/transport/ws"

	"github.com/stretchr/testify/require"
)

type envelope[T any] struct {
	Data  T `json:"data"`
	Error *struct {
		Message string         `json:"message"`
		Meta    map[string]any `json:"meta"`
	} `json:"error"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	b := bus.New()
	sessions := session.NewManager(b)
	blockRepo := memory.NewBlockRepository()
	chats := service.NewChatService(memory.NewChatRepository(), blockRepo, memory.NewUnreadCounter(), b, service.ChatConfig{})
	blocks := service.NewBlockService(blockRepo)

	router := NewRouter(
		NewHandler(chats, blocks),
		ws.NewServer(sessions, chats, security.HeaderTrust{}, ws.Config{}),
		RouterConfig{
			Auth:    security.HeaderTrust{},
			Limiter: httpmw.NewRateLimiter(100, 100),
			Metrics: metrics.New().Handler(),
		},
	)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func call[T any](t *testing.T, srv *httptest.Server, user, method, path string, body any) (int, envelope[T]) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	require.NoError(t, err)
	if user != "" {
		req.Header.Set("Authorization", "Bearer tok")
		req.Header.Set(httpmw.HeaderUserID, user)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope[T]
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func createChat(t *testing.T, srv *httptest.Server) dto.Chat {
	t.Helper()
	code, out := call[dto.Chat](t, srv, "U2", http.MethodPost, "/chats",
		map[string]any{"sellerId": "U1", "buyerId": "U2", "listingId": "L1"})
	require.Equal(t, http.StatusCreated, code)
	return out.Data
}

func TestCreateChat_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	first := createChat(t, srv)
	req.NotEmpty(first.ID)
	req.Zero(first.MessageCount)

	code, again := call[dto.Chat](t, srv, "U1", http.MethodPost, "/chats",
		map[string]any{"sellerId": "U1", "buyerId": "U2", "listingId": "L1"})
	req.Equal(http.StatusOK, code)
	req.Equal(first.ID, again.Data.ID)
}

func TestCreateChat_Errors(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)

	code, out := call[dto.Chat](t, srv, "U1", http.MethodPost, "/chats",
		map[string]any{"sellerId": "U1", "buyerId": "U1", "listingId": "L1"})
	req.Equal(http.StatusBadRequest, code)
	req.Equal("validation_error", out.Error.Meta["reason"])

	code, _ = call[dto.Chat](t, srv, "U3", http.MethodPost, "/chats",
		map[string]any{"sellerId": "U1", "buyerId": "U2", "listingId": "L1"})
	req.Equal(http.StatusForbidden, code)

	code, _ = call[dto.Chat](t, srv, "", http.MethodPost, "/chats",
		map[string]any{"sellerId": "U1", "buyerId": "U2", "listingId": "L1"})
	req.Equal(http.StatusUnauthorized, code)

	code, _ = call[dto.Chat](t, srv, "U1", http.MethodPost, "/chats",
		map[string]any{"seller": "U1"})
	req.Equal(http.StatusBadRequest, code)
}

func TestSend_History_And_Unread(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	chat := createChat(t, srv)
	base := "/chats/" + chat.ID

	for _, text := range []string{"one", "two", "three"} {
		code, out := call[dto.Message](t, srv, "U2", http.MethodPost, base+"/messages",
			map[string]any{"content": text})
		req.Equal(http.StatusCreated, code)
		req.Equal("U2", out.Data.SenderID)
	}

	code, page := call[historyResponse](t, srv, "U1", http.MethodGet, base+"/messages?limit=2", nil)
	req.Equal(http.StatusOK, code)
	req.Len(page.Data.Items, 2)
	req.Equal(int64(1), page.Data.Items[0].Seq)
	req.NotEmpty(page.Data.NextCursor)

	code, rest := call[historyResponse](t, srv, "U1", http.MethodGet, base+"/messages?after="+page.Data.NextCursor, nil)
	req.Equal(http.StatusOK, code)
	req.Len(rest.Data.Items, 1)
	req.Equal("three", rest.Data.Items[0].Content)
	req.Empty(rest.Data.NextCursor)

	code, unread := call[dto.Unread](t, srv, "U1", http.MethodGet, "/notifications/unread", nil)
	req.Equal(http.StatusOK, code)
	req.Equal(int64(3), unread.Data.Total)
	req.Equal(int64(3), unread.Data.ByChat[chat.ID])

	code, _ = call[struct{}](t, srv, "U1", http.MethodPost, base+"/read", nil)
	req.Equal(http.StatusNoContent, code)

	_, unread = call[dto.Unread](t, srv, "U1", http.MethodGet, "/notifications/unread", nil)
	req.Zero(unread.Data.Total)

	code, got := call[dto.Chat](t, srv, "U1", http.MethodGet, base, nil)
	req.Equal(http.StatusOK, code)
	req.Equal(int64(3), got.Data.MessageCount)
	req.Equal("three", got.Data.LastMessage.Content)

	code, list := call[[]dto.Chat](t, srv, "U2", http.MethodGet, "/chats", nil)
	req.Equal(http.StatusOK, code)
	req.Len(list.Data, 1)
}

func TestSend_Duplicate_Returns_Same_Message(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	chat := createChat(t, srv)

	body := map[string]any{"content": "once", "clientMsgId": "k1"}
	code, first := call[dto.Message](t, srv, "U2", http.MethodPost, "/chats/"+chat.ID+"/messages", body)
	req.Equal(http.StatusCreated, code)

	code, again := call[dto.Message](t, srv, "U2", http.MethodPost, "/chats/"+chat.ID+"/messages", body)
	req.Equal(http.StatusOK, code)
	req.Equal(first.Data.ID, again.Data.ID)
}

func TestBlocks_Flow(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	chat := createChat(t, srv)

	code, _ := call[struct{}](t, srv, "U1", http.MethodPost, "/blocks", map[string]any{"userId": "U2"})
	req.Equal(http.StatusNoContent, code)

	code, list := call[[]dto.Block](t, srv, "U1", http.MethodGet, "/blocks", nil)
	req.Equal(http.StatusOK, code)
	req.Len(list.Data, 1)
	req.Equal("U2", list.Data[0].BlockedID)

	code, out := call[dto.Message](t, srv, "U2", http.MethodPost, "/chats/"+chat.ID+"/messages",
		map[string]any{"content": "hi"})
	req.Equal(http.StatusConflict, code)
	req.Equal("blocked", out.Error.Meta["reason"])
	req.Equal(false, out.Error.Meta["retryable"])

	code, _ = call[struct{}](t, srv, "U1", http.MethodDelete, "/blocks/U2", nil)
	req.Equal(http.StatusNoContent, code)

	code, _ = call[dto.Message](t, srv, "U2", http.MethodPost, "/chats/"+chat.ID+"/messages",
		map[string]any{"content": "hi"})
	req.Equal(http.StatusCreated, code)
}

func TestGetChat_Unknown_And_Outsider(t *testing.T) {
	req := require.New(t)
	srv := newTestServer(t)
	chat := createChat(t, srv)

	code, _ := call[dto.Chat](t, srv, "U1", http.MethodGet, "/chats/9b2f7d0e-3c1a-4f55-8d7e-000000000000", nil)
	req.Equal(http.StatusNotFound, code)

	code, _ = call[dto.Chat](t, srv, "U3", http.MethodGet, "/chats/"+chat.ID, nil)
	req.Equal(http.StatusForbidden, code)

	code, _ = call[historyResponse](t, srv, "U1", http.MethodGet, "/chats/"+chat.ID+"/messages?after=@@@", nil)
	req.Equal(http.StatusBadRequest, code)
}

func TestHealth_And_Metrics(t *testing.T) {
	srv := newTestServer(t)

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := srv.Client().Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
	}
}
