package http

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coachsync-server/pkg/coach"
)

func dialWebSocket(t *testing.T, h *testHarness, sessionID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(h.ts.URL, "http") + "/ws"
	if sessionID != "" {
		wsURL += "?session_id=" + sessionID
	}
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readSnapshot(t *testing.T, conn *websocket.Conn) *SnapshotMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg SnapshotMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return &msg
}

func TestWebSocketSeedsCurrentSnapshot(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.createSession(t)

	resp := h.post(t, "/api/sessions/"+sessionID+"/start", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dialWebSocket(t, h, sessionID)
	msg := readSnapshot(t, conn)

	assert.Equal(t, sessionID, msg.SessionID)
	require.NotNil(t, msg.Aggregate)
	assert.True(t, msg.Aggregate.IsRecording)
}

func TestWebSocketStreamsAggregateUpdates(t *testing.T) {
	h := newTestHarness(t)
	sessionID := h.createSession(t)

	resp := h.post(t, "/api/sessions/"+sessionID+"/start", nil)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn := dialWebSocket(t, h, sessionID)
	readSnapshot(t, conn) // seeded state

	resp = h.post(t, "/api/sessions/"+sessionID+"/events", coach.NewTranscriptDelta("streamed to dashboard", true))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The hub delivers the update; tolerate intermediate snapshots.
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline), "no transcript update before deadline")
		msg := readSnapshot(t, conn)
		if msg.Aggregate != nil && msg.Aggregate.Transcription == "streamed to dashboard " {
			assert.Equal(t, sessionID, msg.SessionID)
			break
		}
	}
}

func TestWebSocketFiltersOtherSessions(t *testing.T) {
	h := newTestHarness(t)
	watched := h.createSession(t)
	other := h.createSession(t)

	for _, id := range []string{watched, other} {
		resp := h.post(t, "/api/sessions/"+id+"/start", nil)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	conn := dialWebSocket(t, h, watched)
	readSnapshot(t, conn) // seeded state

	resp := h.post(t, "/api/sessions/"+other+"/events", coach.NewSpeakerTimeDelta(coach.PartyUser, 1))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = h.post(t, "/api/sessions/"+watched+"/events", coach.NewSpeakerTimeDelta(coach.PartyOthers, 2))
	resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// The next delivered snapshot belongs to the watched session only.
	msg := readSnapshot(t, conn)
	assert.Equal(t, watched, msg.SessionID)
	require.NotNil(t, msg.Aggregate)
	assert.Equal(t, 2.0, msg.Aggregate.TalkListenRatio.Others)
}
