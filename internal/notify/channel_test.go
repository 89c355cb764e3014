package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"

	"github.com/alcovehq/alcove/internal/log"
)

var upgrader = websocket.Upgrader{}

// goleakOptions filters goroutines parked in the test server's accept/read
// loops, which the deferred httptest cleanup tears down after the leak check
// runs.
func goleakOptions() []goleak.Option {
	return []goleak.Option{
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
		goleak.IgnoreTopFunction("net/http.(*http2clientConnReadLoop).run"),
	}
}

// wsServer runs handler on an upgraded websocket connection and returns the
// ws:// URL of the test server.
func wsServer(t *testing.T, handler func(*websocket.Conn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/ws/documents" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	if err != nil {
		t.Errorf("marshal: %v", err)
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Errorf("write: %v", err)
	}
}

func TestChannel_DeliversEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	url := wsServer(t, func(conn *websocket.Conn) {
		sendEvent(t, conn, Event{DocumentID: "d1", Status: StatusProcessing})
		sendEvent(t, conn, Event{DocumentID: "d1", Status: StatusCompleted})
		sendEvent(t, conn, Event{DocumentID: "d2", Status: StatusError, Message: "unreadable"})
		// Hold the connection open until the client closes.
		_, _, _ = conn.ReadMessage()
	})

	ch, err := Dial(context.Background(), url, "tok", log.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	var got []Event
	timeout := time.After(5 * time.Second)
	for len(got) < 3 {
		select {
		case ev, ok := <-ch.Events():
			if !ok {
				t.Fatalf("events channel closed early, got %v, err=%v", got, ch.Err())
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("timed out waiting for events, got %v", got)
		}
	}

	if got[0].DocumentID != "d1" || got[0].Status != StatusProcessing {
		t.Errorf("event 0 = %+v", got[0])
	}
	if got[2].Status != StatusError || got[2].Message != "unreadable" {
		t.Errorf("event 2 = %+v", got[2])
	}
	if got[0].Terminal() || !got[1].Terminal() || !got[2].Terminal() {
		t.Error("Terminal() misclassifies statuses")
	}
}

func TestChannel_TransportErrorClosesEvents(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	url := wsServer(t, func(conn *websocket.Conn) {
		sendEvent(t, conn, Event{DocumentID: "d1", Status: StatusProcessing})
		// Abrupt close: no close frame, simulating a dying transport.
		_ = conn.UnderlyingConn().Close()
	})

	ch, err := Dial(context.Background(), url, "tok", log.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	// Drain until closure.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-ch.Events():
			if !ok {
				if ch.Err() == nil {
					t.Error("expected Err() to report the transport error")
				}
				return
			}
		case <-deadline:
			t.Fatal("events channel never closed after transport error")
		}
	}
}

func TestChannel_LocalCloseIsClean(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	url := wsServer(t, func(conn *websocket.Conn) {
		// Wait for the client's close frame.
		_, _, _ = conn.ReadMessage()
	})

	ch, err := Dial(context.Background(), url, "tok", log.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}

	if err := ch.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	// Idempotent.
	if err := ch.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}

	select {
	case _, ok := <-ch.Events():
		if ok {
			t.Error("no events expected")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("events channel not closed after Close")
	}

	if ch.Err() != nil {
		t.Errorf("local close must not record a transport error, got %v", ch.Err())
	}
}

func TestChannel_SkipsMalformedFrames(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	url := wsServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte("not json"))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"COMPLETED"}`)) // no document id
		sendEvent(t, conn, Event{DocumentID: "d1", Status: StatusCompleted})
		_, _, _ = conn.ReadMessage()
	})

	ch, err := Dial(context.Background(), url, "tok", log.NewNop())
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer ch.Close()

	select {
	case ev := <-ch.Events():
		if ev.DocumentID != "d1" {
			t.Errorf("got %+v, want the well-formed event", ev)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestDial_RefusedConnection(t *testing.T) {
	defer goleak.VerifyNone(t, goleakOptions()...)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusUnauthorized)
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	if _, err := Dial(context.Background(), url, "tok", log.NewNop()); err == nil {
		t.Error("expected dial error")
	}
}
