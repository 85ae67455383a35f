package service

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/InsulaLabs/rfs/db/engine"
	"github.com/InsulaLabs/rfs/models"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second    // Time allowed to write a message to the peer.
	pongWait       = 60 * time.Second    // Time allowed to read the next pong message from the peer.
	pingPeriod     = (pongWait * 9) / 10 // Send pings to peer with this period. Must be less than pongWait.
	maxMessageSize = 512                 // Maximum message size allowed from peer.
	sendBufferSize = 256                 // Buffer size for the send channel.
)

// eventSession is one websocket subscriber watching the mutations of one
// volume key.
type eventSession struct {
	conn    *websocket.Conn
	key     string
	send    chan []byte
	service *Service
}

// eventProcessingLoop drains the engine's event channel and fans events
// out to the sessions subscribed to the mutated key.
func (s *Service) eventProcessingLoop() {
	for {
		select {
		case <-s.appCtx.Done():
			return
		case ev := <-s.eventCh:
			s.dispatchEvent(ev)
		}
	}
}

func (s *Service) dispatchEvent(ev engine.Event) {
	s.eventSubscribersLock.RLock()
	defer s.eventSubscribersLock.RUnlock()

	sessions, ok := s.eventSubscribers[ev.Key]
	if !ok || len(sessions) == 0 {
		return
	}

	message, err := json.Marshal(models.Event{
		Key:     ev.Key,
		Command: ev.Command,
		Path:    ev.Path,
	})
	if err != nil {
		s.logger.Error("Failed to marshal event for WebSocket dispatch", "key", ev.Key, "error", err)
		return
	}

	for session := range sessions {
		select {
		case session.send <- message:
		default:
			s.logger.Warn("Subscriber send channel full, message dropped", "key", ev.Key, "remote_addr", session.conn.RemoteAddr())
		}
	}
}

// eventSubscribeHandler upgrades the connection and registers it against
// the requested volume key.
func (s *Service) eventSubscribeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "Invalid or missing token", http.StatusUnauthorized)
		return
	}

	key := r.URL.Query().Get("key")
	if key == "" {
		s.logger.Warn("WebSocket connection attempt without key")
		http.Error(w, "Missing key", http.StatusBadRequest)
		return
	}

	s.wsConnectionLock.Lock()
	if s.activeWsConnections >= int32(s.cfg.Sessions.MaxConnections) {
		s.wsConnectionLock.Unlock()
		s.logger.Warn(
			"Max WebSocket connections reached, rejecting new connection",
			"current", s.activeWsConnections,
			"max", s.cfg.Sessions.MaxConnections,
		)
		http.Error(w, "Too many connections", http.StatusServiceUnavailable)
		return
	}
	s.wsConnectionLock.Unlock()

	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("Failed to upgrade WebSocket connection", "error", err, "key", key)
		return
	}

	session := &eventSession{
		conn:    conn,
		key:     key,
		send:    make(chan []byte, sendBufferSize),
		service: s,
	}

	s.registerSubscriber(session)

	go session.writePump()
	go session.readPump()
}

func (s *Service) registerSubscriber(session *eventSession) {
	s.eventSubscribersLock.Lock()
	defer s.eventSubscribersLock.Unlock()

	s.wsConnectionLock.Lock()
	defer s.wsConnectionLock.Unlock()

	if s.activeWsConnections >= int32(s.cfg.Sessions.MaxConnections) {
		s.logger.Error(
			"Attempted to register subscriber when max connections already met",
			"active", s.activeWsConnections,
			"max", s.cfg.Sessions.MaxConnections,
		)
		go session.conn.Close()
		return
	}
	s.activeWsConnections++

	if _, ok := s.eventSubscribers[session.key]; !ok {
		s.eventSubscribers[session.key] = make(map[*eventSession]bool)
	}
	s.eventSubscribers[session.key][session] = true

	s.logger.Info("Subscriber registered", "key", session.key, "remote_addr", session.conn.RemoteAddr().String())
}

func (s *Service) unregisterSubscriber(session *eventSession) {
	s.eventSubscribersLock.Lock()
	defer s.eventSubscribersLock.Unlock()

	s.wsConnectionLock.Lock()
	defer s.wsConnectionLock.Unlock()

	if sessions, ok := s.eventSubscribers[session.key]; ok {
		if _, ok := sessions[session]; ok {
			delete(sessions, session)
			if s.activeWsConnections > 0 {
				s.activeWsConnections--
			}
			if len(sessions) == 0 {
				delete(s.eventSubscribers, session.key)
			}
			s.logger.Info("Subscriber unregistered", "key", session.key, "remote_addr", session.conn.RemoteAddr().String())
		}
	}
	close(session.send)
}

// readPump owns all reads on the connection; inbound payloads are
// ignored, the read loop exists to notice the close.
func (es *eventSession) readPump() {
	defer func() {
		es.service.unregisterSubscriber(es)
		es.conn.Close()
	}()
	es.conn.SetReadLimit(maxMessageSize)
	es.conn.SetReadDeadline(time.Now().Add(pongWait))
	es.conn.SetPongHandler(func(string) error {
		es.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := es.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(
				err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				es.service.logger.Error("WebSocket read error", "remote_addr", es.conn.RemoteAddr(), "key", es.key, "error", err)
			}
			break
		}
	}
}

// writePump owns all writes on the connection.
func (es *eventSession) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		es.conn.Close()
	}()
	for {
		select {
		case message, ok := <-es.send:
			es.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				es.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := es.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				es.service.logger.Error("WebSocket message write error", "remote_addr", es.conn.RemoteAddr(), "key", es.key, "error", err)
				return
			}
		case <-ticker.C:
			es.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := es.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
