package events

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMultiPublishesToAll(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("broker down")}
	m := Multi{a, nil, b, Log{}}

	err := m.Publish(context.Background(), Event{Type: AttemptStarted, AttemptID: "a1"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "broker down")
	require.Len(t, a.events, 1)
	require.Len(t, b.events, 1)
}

func TestHubBroadcast(t *testing.T) {
	hub := NewHub(func(*http.Request) bool { return true })
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = hub.ServeWS(w, r, r.URL.Query().Get("exam_id"))
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	all, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer all.Close()
	onlyE2, _, err := websocket.DefaultDialer.Dial(wsURL+"?exam_id=e2", nil)
	require.NoError(t, err)
	defer onlyE2.Close()

	require.Eventually(t, func() bool { return hub.Len() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Publish(context.Background(), Event{Type: AttemptViolation, ExamID: "e1", AttemptID: "a1"}))
	require.NoError(t, hub.Publish(context.Background(), Event{Type: AttemptSubmitted, ExamID: "e2", AttemptID: "a2"}))

	read := func(c *websocket.Conn) Event {
		t.Helper()
		require.NoError(t, c.SetReadDeadline(time.Now().Add(2*time.Second)))
		_, msg, err := c.ReadMessage()
		require.NoError(t, err)
		var e Event
		require.NoError(t, json.Unmarshal(msg, &e))
		return e
	}

	require.Equal(t, "a1", read(all).AttemptID)
	require.Equal(t, "a2", read(all).AttemptID)
	// The filtered client only sees exam e2.
	require.Equal(t, "a2", read(onlyE2).AttemptID)

	all.Close()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)
}
