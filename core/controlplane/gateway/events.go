package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/lexgate/lexgate/core/controlplane/policy"
	"github.com/lexgate/lexgate/core/infra/bus"
	"github.com/lexgate/lexgate/core/infra/logging"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscribeEvents fans job lifecycle events from the bus into connected
// websocket clients.
func (s *Server) subscribeEvents() {
	handler := func(event *bus.JobEvent) error {
		s.broadcast(event)
		return nil
	}
	if err := s.bus.Subscribe("jobs.available.*", "", handler); err != nil {
		logging.Error("gateway", "subscribe failed", "subject", "jobs.available.*", "error", err)
	}
	if err := s.bus.Subscribe("jobs.completed.*", "", handler); err != nil {
		logging.Error("gateway", "subscribe failed", "subject", "jobs.completed.*", "error", err)
	}
}

// broadcast delivers an event to every connected client. Slow clients drop
// events rather than blocking the bus callback.
func (s *Server) broadcast(event *bus.JobEvent) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- event:
		default:
		}
	}
}

// handleEvents streams an organization's job lifecycle events over a
// websocket. Events for other organizations are filtered out per client.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	access, ok := s.authorize(w, r, policy.ActionOrchestratorCommand)
	if !ok {
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error("gateway", "ws upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logging.Info("gateway", "ws connected", "remote", r.RemoteAddr, "org", access.OrgID)

	clientCh := make(chan *bus.JobEvent, 100)
	s.clientsMu.Lock()
	s.clients[ws] = clientCh
	s.clientsMu.Unlock()
	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, ws)
		s.clientsMu.Unlock()
	}()

	// Upgrade hijacks the connection, so the request context no longer
	// fires on client disconnect. The read pump is what notices the close.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case event := <-clientCh:
			if event.OrgID != access.OrgID {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				continue
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}
