package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
)

func TestWsWriter_SerializesConcurrentWrites(t *testing.T) {
	const writers = 4
	const perWriter = 25

	serverErr := make(chan error, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			serverErr <- err
			return
		}

		writer := &wsWriter{conn: ws}
		var wg sync.WaitGroup
		for g := 0; g < writers; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < perWriter; i++ {
					if err := writer.Write([]byte(`{"type":"sos-status"}`)); err != nil {
						select {
						case serverErr <- err:
						default:
						}
						return
					}
				}
			}()
		}
		wg.Wait()
		serverErr <- nil
	}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	for i := 0; i < writers*perWriter; i++ {
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
	}
	if err := <-serverErr; err != nil {
		t.Fatalf("server write: %v", err)
	}
}
