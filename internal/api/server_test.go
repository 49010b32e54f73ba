package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/capture/capturetest"
	"github.com/gorilla/websocket"
)

func startedSession(t *testing.T) (*capture.Session, *capturetest.Platform) {
	t.Helper()
	p := capturetest.NewPlatform(capturetest.Surface(1))
	s := capture.NewSession(p, capture.WithID("test-session"))
	surface := capturetest.Surface(1)
	if err := s.Start(context.Background(), &surface, capture.DefaultConfiguration(), capture.ObserverFunc(func(capture.FrameEvent) {})); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	return s, p
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %q", body["status"])
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Error("CORS header missing")
	}
}

func TestGetSessionWithoutSession(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestGetSession(t *testing.T) {
	session, _ := startedSession(t)
	defer session.Stop()

	api := NewServer(nil)
	api.SetSession(session)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/session")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var info struct {
		ID      string `json:"id"`
		Backend string `json:"backend"`
		State   string `json:"state"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if info.ID != "test-session" || info.State != "capturing" || info.Backend != "fake" {
		t.Errorf("info = %+v", info)
	}
}

func TestSessionEventsStreamTransitions(t *testing.T) {
	session, _ := startedSession(t)

	api := NewServer(nil)
	api.SetSession(session)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev struct {
		State string `json:"state"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.State != "capturing" {
		t.Fatalf("first event state = %q, want capturing", ev.State)
	}

	if err := session.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.State != "stopped" {
		t.Errorf("state = %q, want stopped", ev.State)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() = %v, want normal closure", err)
	}
}

func TestSessionEventsAfterSessionEnded(t *testing.T) {
	session, _ := startedSession(t)
	if err := session.Stop(); err != nil {
		t.Fatal(err)
	}

	api := NewServer(nil)
	api.SetSession(session)
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev struct {
		State   string `json:"state"`
		Session struct {
			State string `json:"state"`
		} `json:"session"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	if ev.State != "stopped" || ev.Session.State != "stopped" {
		t.Errorf("event = %s/%s, want stopped", ev.State, ev.Session.State)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() = %v, want normal closure", err)
	}
}

func TestSessionEventsClientDisconnect(t *testing.T) {
	session, _ := startedSession(t)
	defer session.Stop()

	api := NewServer(nil)
	api.SetSession(session)
	handler := api.Handler()
	returned := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
		if r.URL.Path == "/api/session/events" {
			close(returned)
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/session/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ev struct {
		State string `json:"state"`
	}
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("ReadJSON() error = %v", err)
	}
	conn.Close()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("handler still running after the client disconnected")
	}
	if got := session.State(); got != capture.StateCapturing {
		t.Errorf("session state = %s, want capturing", got)
	}
}
