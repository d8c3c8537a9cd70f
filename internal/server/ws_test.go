package server

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skypro1111/watchparty-service/internal/groupsession"
)

type wsEnvelope struct {
	Type    string `json:"type"`
	Payload struct {
		State struct {
			Phase     string `json:"phase"`
			SessionID string `json:"session_id"`
		} `json:"state"`
		CanStartSession bool                   `json:"can_start_session"`
		Activity        *groupsession.Activity `json:"activity"`
	} `json:"payload"`
}

func dialHub(t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	ts := httptest.NewServer(env.server.Handler())
	t.Cleanup(ts.Close)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wsEnvelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg wsEnvelope
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHubSendsSnapshotOnConnect(t *testing.T) {
	env := newTestEnv(t)
	conn := dialHub(t, env)

	msg := readEnvelope(t, conn)
	assert.Equal(t, MsgSnapshot, msg.Type)
	assert.Equal(t, "idle", msg.Payload.State.Phase)

	require.Eventually(t, func() bool { return env.server.Hub().ClientCount() == 1 }, waitFor, tick)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.WebSocketClients))
}

func TestHubPushesActiveState(t *testing.T) {
	env := newTestEnv(t)
	conn := dialHub(t, env)

	require.Equal(t, MsgSnapshot, readEnvelope(t, conn).Type)

	activity := groupsession.NewActivity(groupsession.Media{ID: "m1", Title: "Keynote"})
	session := groupsession.NewLocalSession(&activity)
	require.NoError(t, env.provider.Deliver(context.Background(), session))

	for {
		msg := readEnvelope(t, conn)
		if msg.Type != MsgState || msg.Payload.State.Phase != "active" {
			continue
		}
		assert.Equal(t, session.ID(), msg.Payload.State.SessionID)
		require.NotNil(t, msg.Payload.Activity)
		assert.Equal(t, "m1", msg.Payload.Activity.MediaID)
		return
	}
}

func TestHubCloseDisconnectsClients(t *testing.T) {
	env := newTestEnv(t)
	conn := dialHub(t, env)

	require.Equal(t, MsgSnapshot, readEnvelope(t, conn).Type)
	require.Eventually(t, func() bool { return env.server.Hub().ClientCount() == 1 }, waitFor, tick)

	env.server.Hub().Close()
	assert.Equal(t, 0, env.server.Hub().ClientCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(waitFor)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), err.Error())
			return
		}
	}
}
