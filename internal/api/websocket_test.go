package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
)

func dialViewer(t *testing.T, ts *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?" + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != want {
		if time.Now().After(deadline) {
			t.Fatalf("ClientCount() = %d, want %d", hub.ClientCount(), want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func readFrame[T any](t *testing.T, conn *websocket.Conn) T {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second)) //nolint:errcheck // test deadline
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage() error: %v", err)
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("unmarshal %s: %v", data, err)
	}
	return v
}

func TestWebSocket_RequiresToken(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("Dial() without token should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("response = %v, want 401", resp)
	}
}

func TestWebSocket_LiveFeed(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	token := signToken(t, jwt.MapClaims{"sub": "alice"})
	conn := dialViewer(t, ts, "token="+token+"&serial=SN1")
	waitForClients(t, env.srv.hub, 1)

	env.srv.hub.Broadcast(testReading("SN2"))
	env.srv.hub.Broadcast(testReading("SN1"))

	msg := readFrame[MeterDataMessage](t, conn)
	if msg.Type != MsgTypeMeterData || msg.Data.SerialNumber != "SN1" {
		t.Errorf("first frame = %+v, want SN1 meter_data", msg)
	}
}

func TestWebSocket_SubscribeAndPing(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	conn := dialViewer(t, ts, "token="+signToken(t, jwt.MapClaims{"sub": "alice"}))
	waitForClients(t, env.srv.hub, 1)

	if err := conn.WriteJSON(WSMessage{Type: WSTypePing, ID: "p1"}); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if pong := readFrame[WSMessage](t, conn); pong.Type != WSTypePong || pong.ID != "p1" {
		t.Errorf("pong = %+v", pong)
	}

	sub := WSMessage{Type: WSTypeSubscribe, ID: "s1", Payload: WSSubscribePayload{SerialNumber: "SN2"}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("WriteJSON() error: %v", err)
	}
	if ack := readFrame[WSMessage](t, conn); ack.Type != WSTypeResponse || ack.ID != "s1" {
		t.Fatalf("subscribe ack = %+v", ack)
	}

	env.srv.hub.Broadcast(testReading("SN1"))
	env.srv.hub.Broadcast(testReading("SN2"))
	if msg := readFrame[MeterDataMessage](t, conn); msg.Data.SerialNumber != "SN2" {
		t.Errorf("frame serial = %q, want SN2", msg.Data.SerialNumber)
	}
}

func TestWebSocket_DisconnectUnregisters(t *testing.T) {
	env := testServer(t)
	ts := httptest.NewServer(env.router)
	defer ts.Close()

	conn := dialViewer(t, ts, "token="+signToken(t, jwt.MapClaims{"sub": "alice"}))
	waitForClients(t, env.srv.hub, 1)

	conn.Close()
	waitForClients(t, env.srv.hub, 0)
}
