package live

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/aryan0dhankhar/expensetracker/internal/security/auth"
	"github.com/aryan0dhankhar/expensetracker/internal/security/middleware"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	ownerA = "aaaaaaaaaaaaaaaaaaaaaaaa"
	ownerB = "bbbbbbbbbbbbbbbbbbbbbbbb"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newLiveServer(t *testing.T) (*Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub([]string{"http://localhost:5173"}, quietLogger())
	mux := http.NewServeMux()
	hub.Routes(mux, "/api/v1/expense-tracker")
	srv := httptest.NewServer(middleware.RequireIdentity(nil, quietLogger())(mux))
	t.Cleanup(srv.Close)
	return hub, srv
}

func dial(t *testing.T, srv *httptest.Server, owner, origin string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/expense-tracker/live"
	h := http.Header{}
	if owner != "" {
		h.Set(auth.HeaderUserID, owner)
	}
	if origin != "" {
		h.Set("Origin", origin)
	}
	return websocket.DefaultDialer.Dial(url, h)
}

func TestBroadcastReachesOnlyTheOwner(t *testing.T) {
	hub, srv := newLiveServer(t)

	connA, _, err := dial(t, srv, ownerA, "http://localhost:5173")
	require.NoError(t, err)
	defer connA.Close()
	connB, _, err := dial(t, srv, ownerB, "")
	require.NoError(t, err)
	defer connB.Close()

	require.Eventually(t, func() bool {
		return hub.Subscribers(ownerA) == 1 && hub.Subscribers(ownerB) == 1
	}, time.Second, 10*time.Millisecond)

	hub.Broadcast(ownerA, "transaction.created", map[string]string{"id": "t1"})

	var ev struct {
		Type        string            `json:"type"`
		Transaction map[string]string `json:"transaction"`
	}
	require.NoError(t, connA.SetReadDeadline(time.Now().Add(time.Second)))
	require.NoError(t, connA.ReadJSON(&ev))
	assert.Equal(t, "transaction.created", ev.Type)
	assert.Equal(t, "t1", ev.Transaction["id"])

	require.NoError(t, connB.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, _, err = connB.ReadMessage()
	assert.Error(t, err, "owner B must not see owner A's events")
}

func TestSubscriberRemovedOnClose(t *testing.T) {
	hub, srv := newLiveServer(t)

	conn, _, err := dial(t, srv, ownerA, "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Subscribers(ownerA) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool { return hub.Subscribers(ownerA) == 0 }, time.Second, 10*time.Millisecond)

	hub.Broadcast(ownerA, "transaction.deleted", nil)
}

func TestUpgradeRejections(t *testing.T) {
	_, srv := newLiveServer(t)

	_, resp, err := dial(t, srv, "", "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = dial(t, srv, ownerA, "https://evil.example")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSlowSubscriberIsDropped(t *testing.T) {
	hub := NewHub(nil, quietLogger())
	sub := &subscriber{owner: ownerA, send: make(chan []byte, 1)}
	hub.add(sub)

	hub.Broadcast(ownerA, "transaction.created", 1)
	hub.Broadcast(ownerA, "transaction.created", 2)
	hub.Broadcast(ownerA, "transaction.created", 3)

	<-sub.send
	_, open := <-sub.send
	assert.False(t, open)

	hub.remove(sub)
	assert.Zero(t, hub.Subscribers(ownerA))
}
