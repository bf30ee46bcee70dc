package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kapernikxd/aipair-chatsync/internal/cherr"
	"github.com/kapernikxd/aipair-chatsync/internal/models"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewClient(ClientConfig{
		BaseURL:         srv.URL,
		AuthToken:       "tok123",
		Timeout:         5 * time.Second,
		RetryMaxElapsed: 2 * time.Second,
	}, zap.NewNop().Sugar())
	return c, srv
}

func writeEnvelope(w http.ResponseWriter, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok", "data": data})
}

func TestGetMessagesDecodesEnvelope(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats/c1/messages", r.URL.Path)
		assert.Equal(t, "30", r.URL.Query().Get("skip"))
		assert.Equal(t, "Bearer tok123", r.Header.Get("Authorization"))
		writeEnvelope(w, []models.Message{{ID: "m1", ChatID: "c1", Content: "hi"}})
	}))

	msgs, err := c.GetMessages(context.Background(), "c1", 30)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "m1", msgs[0].ID)
}

func TestRetryOn5xx(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeEnvelope(w, []models.Message{})
	}))

	_, err := c.GetMessages(context.Background(), "c1", 0)
	require.NoError(t, err)
	assert.EqualValues(t, 3, atomic.LoadInt32(&calls))
}

func TestNoRetryOn4xx(t *testing.T) {
	var calls int32
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))

	_, err := c.GetMessages(context.Background(), "c1", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, cherr.ErrBadStatus)
	assert.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestSendMessageMultipart(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "hello", r.FormValue("content"))
		assert.Equal(t, "m0", r.FormValue("replyTo"))

		files := r.MultipartForm.File["images"]
		require.Len(t, files, 1)
		assert.Equal(t, "pic.png", files[0].Filename)

		writeEnvelope(w, models.Message{ID: "m9", ChatID: "c1", Content: "hello"})
	}))

	msg, err := c.SendMessage(context.Background(), SendMessageInput{
		ChatID:  "c1",
		Content: "hello",
		ReplyTo: "m0",
		Images:  []ImageAttachment{{Name: "pic.png", Data: []byte{1, 2, 3}}},
	})
	require.NoError(t, err)
	assert.Equal(t, "m9", msg.ID)
}

func TestListChatsFilter(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chats", r.URL.Path)
		assert.Equal(t, "bot", r.URL.Query().Get("type"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		writeEnvelope(w, []models.Chat{{ID: "c1", IsGroup: false}})
	}))

	chats, err := c.ListChats(context.Background(), 2, 20, models.CategoryBot)
	require.NoError(t, err)
	require.Len(t, chats, 1)
	assert.Equal(t, "c1", chats[0].ID)
}

func TestErrorStatusInsideOKResponseRejected(t *testing.T) {
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "error", "data": nil})
	}))

	_, err := c.GetMessages(context.Background(), "c1", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, cherr.ErrBadStatus)

	// write-style calls go through the same envelope check
	err = c.ClearHistory(context.Background(), "c1")
	assert.ErrorIs(t, err, cherr.ErrBadStatus)
}

func TestClearHistoryUsesDelete(t *testing.T) {
	var method, path string
	c, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method, path = r.Method, r.URL.Path
		writeEnvelope(w, nil)
	}))

	require.NoError(t, c.ClearHistory(context.Background(), "c1"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "/chats/c1/messages", path)
}
