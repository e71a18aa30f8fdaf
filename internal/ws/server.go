package ws

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

type Server struct {
	handler  EventHandler
	upgrader *websocket.Upgrader
}

func NewServer(handler EventHandler) *Server {
	return &Server{
		handler: handler,
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

// HandleConnections upgrades the request and runs the connection until it
// drops. Identity is announced by the client over the socket (identify
// event), not at upgrade time.
func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("error upgrading to websocket: %v", err)
		return
	}

	conn := NewConnection(s.handler, ws)
	if err := conn.Handle(r.Context()); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			log.Printf("connection error: %v", err)
		}
	}
}
