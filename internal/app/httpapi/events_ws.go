package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/songforge/marketplace/internal/app/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The CORS middleware already vets origins for the REST surface; the
	// event stream carries only public facts.
	CheckOrigin: func(*http.Request) bool { return true },
}

// eventStream upgrades the connection and forwards marketplace events as JSON
// frames until the client disconnects. Slow consumers are dropped rather than
// allowed to stall publishers.
func (h *handler) eventStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	queue := make(chan events.Event, 64)
	unsubscribe := h.app.Bus.Subscribe(func(evt events.Event) {
		select {
		case queue <- evt:
		default:
			// backpressure: drop for this consumer
		}
	})
	defer unsubscribe()
	defer conn.Close()

	// Reader goroutine: only to notice the peer going away.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case evt := <-queue:
			if err := conn.WriteJSON(evt); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
