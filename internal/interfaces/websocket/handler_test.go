package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

func TestTapMirrorsPublishedFramesToConnectedClient(t *testing.T) {
	tap := NewTap(zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tap.Run(ctx)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tap.ServeWS(w, r)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial tap socket: %v", err)
	}
	defer conn.Close()

	time.Sleep(20 * time.Millisecond) // let the register message land

	frame := []byte(`{"event":"token"}`)
	tap.Publish(frame)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, got, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read mirrored frame: %v", err)
	}

	var want, have map[string]any
	if err := json.Unmarshal(frame, &want); err != nil {
		t.Fatalf("unmarshal want: %v", err)
	}
	if err := json.Unmarshal(got, &have); err != nil {
		t.Fatalf("unmarshal have: %v", err)
	}
	if want["event"] != have["event"] {
		t.Fatalf("expected mirrored frame %v, got %v", want, have)
	}
}

func TestTapPublishNeverBlocksWhenNoClientsConnected(t *testing.T) {
	tap := NewTap(zap.NewNop())
	done := make(chan struct{})
	go func() {
		tap.Publish([]byte("a frame with nobody listening"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked with no connected clients")
	}
}
