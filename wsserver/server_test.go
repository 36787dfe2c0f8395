package wsserver_test

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborws/harbor/wsevent"
	"github.com/harborws/harbor/wsframe"
	"github.com/harborws/harbor/wsserver"
)

// drive runs Update in a tight loop, feeding every update to onUpdate,
// until pred reports true or the deadline elapses.
func drive(t *testing.T, srv *wsserver.Server, pred func() bool, onUpdate func(wsevent.Update)) {
	t.Helper()
	tick := 20 * time.Millisecond
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, u := range srv.Update(&tick) {
			onUpdate(u)
		}
		if pred() {
			return
		}
	}
	t.Fatal("condition not met before deadline")
}

func echoOnRead(u wsevent.Update) {
	if u.Tag != wsevent.TagRead || u.Read.Kind != wsevent.Read {
		return
	}
	type sender interface {
		Send(wsframe.Opcode, []byte)
	}
	if c, ok := u.Read.Conn.(sender); ok {
		opcode := wsframe.OpBinary
		if u.Read.Message.IsText {
			opcode = wsframe.OpText
		}
		c.Send(opcode, u.Read.Message.Payload)
	}
}

func TestServerHandshakeAndEcho(t *testing.T) {
	srv, err := wsserver.New(wsserver.WithAddress("tcp://127.0.0.1:0"))
	require.NoError(t, err)
	defer srv.Close()

	addr := serverListenAddr(t, srv)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, resp, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, 101, resp.StatusCode)

		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping-pong")))
		_, payload, err := conn.ReadMessage()
		require.NoError(t, err)
		assert.Equal(t, "ping-pong", string(payload))
	}()

	drive(t, srv, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, echoOnRead)
}

// TestInterleavedPingDuringFragmentation exercises a Ping control
// frame arriving between two fragments of a data message, and checks
// the Pong is queued ahead of any pending data frame.
func TestInterleavedPingDuringFragmentation(t *testing.T) {
	srv, err := wsserver.New(wsserver.WithAddress("tcp://127.0.0.1:0"))
	require.NoError(t, err)
	defer srv.Close()

	addr := serverListenAddr(t, srv)
	client, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer client.Close()

	const req = "GET / HTTP/1.1\r\n" +
		"Host: example.com\r\n" +
		"Upgrade: websocket\r\n" +
		"Connection: Upgrade\r\n" +
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
		"Sec-WebSocket-Version: 13\r\n\r\n"
	_, err = client.Write([]byte(req))
	require.NoError(t, err)

	// The server answers the handshake only while Update is driven.
	opened := false
	drive(t, srv, func() bool { return opened }, func(u wsevent.Update) {
		if u.Tag == wsevent.TagRead && u.Read.Kind == wsevent.NewConnection {
			opened = true
		}
	})

	buf := make([]byte, 4096)
	n, err := client.Read(buf)
	require.NoError(t, err)
	require.Contains(t, string(buf[:n]), "101")

	key := [4]byte{9, 9, 9, 9}
	f1, _ := wsframe.Encode(false, wsframe.OpText, []byte("hel"), true, key)
	ping, _ := wsframe.Encode(true, wsframe.OpPing, []byte("hb"), true, key)
	f2, _ := wsframe.Encode(true, wsframe.OpContinuation, []byte("lo"), true, key)
	_, err = client.Write(append(append(f1, ping...), f2...))
	require.NoError(t, err)

	var flushed, gotMessage bool
	drive(t, srv, func() bool { return flushed && gotMessage }, func(u wsevent.Update) {
		echoOnRead(u)
		if u.Tag == wsevent.TagRead && u.Read.Kind == wsevent.Read {
			gotMessage = true
		}
		if u.Tag == wsevent.TagWrite && u.Write.Kind == wsevent.WriteCompleted {
			flushed = true
		}
	})

	pongFrame := make([]byte, 64)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, err = client.Read(pongFrame)
	require.NoError(t, err)
	frame, status, _, err := wsframe.Decode(pongFrame[:n], false)
	require.NoError(t, err)
	require.Equal(t, wsframe.Ok, status)
	assert.Equal(t, wsframe.OpPong, frame.Opcode)
}

func TestUnixSocketCleanupOnClose(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsechod.sock")

	srv, err := wsserver.New(wsserver.WithAddress("unix://" + path))
	require.NoError(t, err)

	_, err = os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, srv.Close())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestProcessDidForkDisablesCleanup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "wsechod.sock")

	srv, err := wsserver.New(wsserver.WithAddress("unix://" + path))
	require.NoError(t, err)

	srv.ProcessDidFork(0)
	require.NoError(t, srv.Close())

	_, err = os.Stat(path)
	assert.NoError(t, err, "the child process must not unlink the shared socket file")
	os.Remove(path)
}

func TestDisconnectAllClosesEveryConnection(t *testing.T) {
	srv, err := wsserver.New(wsserver.WithAddress("tcp://127.0.0.1:0"))
	require.NoError(t, err)
	defer srv.Close()

	addr := serverListenAddr(t, srv)
	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
		require.NoError(t, err)
		defer conn.Close()
		_, _, _ = conn.ReadMessage()
	}()

	opened := false
	drive(t, srv, func() bool { return opened }, func(u wsevent.Update) {
		if u.Tag == wsevent.TagRead && u.Read.Kind == wsevent.NewConnection {
			opened = true
		}
	})
	srv.DisconnectAll(wsframe.CloseGoingAway, "shutting down")

	drive(t, srv, func() bool {
		select {
		case <-clientDone:
			return true
		default:
			return false
		}
	}, echoOnRead)
}

func TestStatsAggregatesConnectionCounters(t *testing.T) {
	srv, err := wsserver.New(wsserver.WithAddress("tcp://127.0.0.1:0"))
	require.NoError(t, err)
	defer srv.Close()

	addr := serverListenAddr(t, srv)
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/", nil)
		require.NoError(t, err)
		defer conn.Close()
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello")))
		_, _, err = conn.ReadMessage()
		require.NoError(t, err)
	}()

	// Stop driving once the echo is flushed, before the client's close
	// can be read and the connection reaped.
	echoed := false
	drive(t, srv, func() bool { return echoed }, func(u wsevent.Update) {
		echoOnRead(u)
		if u.Tag == wsevent.TagWrite && u.Write.Kind == wsevent.WriteCompleted {
			echoed = true
		}
	})

	st := srv.Stats()
	assert.Equal(t, int64(1), st.TotalAccepted)
	assert.Equal(t, 1, st.ActiveConnections)
	assert.True(t, st.FramesRead >= 1)
	assert.True(t, st.FramesWritten >= 1)
	assert.True(t, st.BytesRead >= 5)
	<-done
}

func serverListenAddr(t *testing.T, srv *wsserver.Server) string {
	t.Helper()
	return srv.ListenAddr()
}
