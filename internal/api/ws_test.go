package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nexus-im/messenger/store/conversation"
	"github.com/nexus-im/messenger/store/message"
)

func dialWS(t *testing.T, sf *serverFixture, header http.Header, query string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(sf.srv.URL, "http") + "/ws" + query
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(url, header)
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

func roundTrip(t *testing.T, conn *websocket.Conn, frame string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(frame)))
	var reply map[string]any
	require.NoError(t, conn.ReadJSON(&reply))
	return reply
}

func TestWebsocket(t *testing.T) {
	t.Run("should refuse the handshake without a token", func(t *testing.T) {
		sf := newServerFixture(t)

		_, resp, err := dialWS(t, sf, nil, "")

		require.ErrorIs(t, err, websocket.ErrBadHandshake)
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("should answer each frame with its request id", func(t *testing.T) {
		sf := newServerFixture(t)
		header := http.Header{"Authorization": {"Bearer " + sf.token(t, 2)}}
		conn, _, err := dialWS(t, sf, header, "")
		require.NoError(t, err)

		sf.limiter.EXPECT().Allow(gomock.Any(), "2").Return(true)
		sf.messages.EXPECT().Append(gomock.Any(), int64(7), int64(2), "hi").
			Return(&message.Message{ID: 10, ChatID: 7, UserID: 2, Content: "hi"}, nil)

		reply := roundTrip(t, conn, `{"request_id":"r1","action":"send_message","chat_id":7,"content":"hi"}`)

		require.Equal(t, "r1", reply["request_id"])
		require.Equal(t, true, reply["ok"])
		data := reply["data"].(map[string]any)
		require.EqualValues(t, 10, data["id"])
		require.NotContains(t, reply, "error")
	})

	t.Run("should carry failures in the reply and keep the socket open", func(t *testing.T) {
		sf := newServerFixture(t)
		conn, _, err := dialWS(t, sf, nil, "?token="+sf.token(t, 2))
		require.NoError(t, err)

		reply := roundTrip(t, conn, `{"request_id":"r2","action":"drop_tables"}`)

		require.Equal(t, "r2", reply["request_id"])
		require.Equal(t, false, reply["ok"])
		require.Equal(t, CodeInvalidArgument, reply["error"].(map[string]any)["error"])

		sf.conversations.EXPECT().ListForUser(gomock.Any(), int64(2)).Return([]conversation.Summary{}, nil)

		reply = roundTrip(t, conn, `{"request_id":"r3","action":"list_chats"}`)

		require.Equal(t, "r3", reply["request_id"])
		require.Equal(t, true, reply["ok"])
	})

	t.Run("should close sessions on shutdown", func(t *testing.T) {
		sf := newServerFixture(t)
		header := http.Header{"Authorization": {"Bearer " + sf.token(t, 2)}}
		conn, _, err := dialWS(t, sf, header, "")
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			sf.server.ws.mu.Lock()
			defer sf.server.ws.mu.Unlock()
			return len(sf.server.ws.sessions) == 1
		}, time.Second, 10*time.Millisecond)
		sf.server.Shutdown()

		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		_, _, err = conn.ReadMessage()
		require.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	})
}
