package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagelift/pagelift-api/internal/domain"
	"github.com/pagelift/pagelift-api/internal/notify"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dialWS(t *testing.T, serverURL, userID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http")
	header := http.Header{}
	if userID != "" {
		header.Set("X-User-ID", userID)
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, header)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_ = resp.Body.Close()
	return conn
}

func TestWSSubscribe(t *testing.T) {
	t.Parallel()

	t.Run("delivers the owner's updates", func(t *testing.T) {
		t.Parallel()
		hub := notify.NewHub(discardLogger())
		defer hub.Close()
		h := NewWSHandler(hub, nil, nil)
		srv := httptest.NewServer(http.HandlerFunc(h.Subscribe))
		defer srv.Close()

		conn := dialWS(t, srv.URL, "u1")

		updated, err := domain.NewTask("u1", "u1@example.com", "doc.pdf", domain.WorkflowTranslate, domain.PriorityNormal)
		require.NoError(t, err)
		updated.ID = "t1"
		updated.Status = domain.StatusProcessing
		updated.Progress = 40

		// Subscription registers during the upgrade; give the handler a beat.
		require.Eventually(t, func() bool { return hub.SubscriberCount("u1") == 1 }, time.Second, 5*time.Millisecond)
		hub.Publish("u1", notify.NewTaskUpdateEvent(updated))
		hub.Publish("u2", notify.NewTaskUpdateEvent(updated))

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
		var event notify.Event
		require.NoError(t, conn.ReadJSON(&event))
		assert.Equal(t, "t1", event.Task.ID)
		assert.Equal(t, string(domain.StatusProcessing), event.Task.Status)
		assert.Equal(t, 40, event.Task.Progress)

		// The u2 publish must not reach this connection.
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		var extra notify.Event
		err = conn.ReadJSON(&extra)
		require.Error(t, err)
	})

	t.Run("rejects connections without identity", func(t *testing.T) {
		t.Parallel()
		hub := notify.NewHub(discardLogger())
		defer hub.Close()
		h := NewWSHandler(hub, nil, nil)
		srv := httptest.NewServer(http.HandlerFunc(h.Subscribe))
		defer srv.Close()

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
		conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
		require.Error(t, err)
		if conn != nil {
			_ = conn.Close()
		}
		require.NotNil(t, resp)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
