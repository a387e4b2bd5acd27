package sse

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestBrokerDropsForSlowClients(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe()
	for i := 0; i < 40; i++ {
		b.Broadcast("tick", []byte("{}"))
	}
	if len(ch) != 16 {
		t.Fatalf("expected buffered messages capped at 16, got %d", len(ch))
	}
	b.Unsubscribe(ch)
	b.Unsubscribe(ch)
	if b.Clients() != 0 {
		t.Fatalf("expected no clients")
	}
}

func TestHandlerStreamsEvents(t *testing.T) {
	b := NewBroker()
	server := httptest.NewServer(NewHandler(b))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	readEvent := func() (string, string) {
		var event, data string
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			line = strings.TrimRight(line, "\n")
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "":
				return event, data
			}
		}
	}

	if event, _ := readEvent(); event != "ready" {
		t.Fatalf("expected ready event, got %q", event)
	}
	deadline := time.Now().Add(time.Second)
	for b.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Broadcast("alert", []byte(`{"id":"a1"}`))
	event, data := readEvent()
	if event != "alert" || data != `{"id":"a1"}` {
		t.Fatalf("unexpected event %q data %q", event, data)
	}
}

func TestHandlerRejectsPost(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandler(NewBroker()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}
