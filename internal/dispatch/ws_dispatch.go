package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/dispatch-console/internal/logging"
	"github.com/example/dispatch-console/internal/models"
)

const writeWait = 5 * time.Second

// WSSession is a connected driver app. Writes are serialized.
type WSSession struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds one session per driver.
type WSRegistry struct {
	log      *slog.Logger
	mu       sync.RWMutex
	sessions map[string]*WSSession
}

func NewWSRegistry(logger *slog.Logger) *WSRegistry {
	return &WSRegistry{log: logging.OrDiscard(logger), sessions: make(map[string]*WSSession)}
}

// Add registers conn for driverID, closing any session it replaces.
func (r *WSRegistry) Add(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	old := r.sessions[driverID]
	r.sessions[driverID] = &WSSession{conn: conn}
	r.mu.Unlock()
	if old != nil {
		_ = old.conn.Close()
	}
	r.log.Info("driver_session_opened", "driver_id", driverID)
}

// Remove drops the session if conn is still the registered one.
func (r *WSRegistry) Remove(driverID string, conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.sessions[driverID]; ok && s.conn == conn {
		delete(r.sessions, driverID)
		r.log.Info("driver_session_closed", "driver_id", driverID)
	}
}

func (r *WSRegistry) Connected(driverID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[driverID]
	return ok
}

func (r *WSRegistry) BookingAssigned(_ context.Context, b models.Booking) error {
	r.mu.RLock()
	s, ok := r.sessions[b.DriverID]
	r.mu.RUnlock()
	if !ok {
		return ErrNoSession
	}
	if err := s.Send(NewAssignment(b)); err != nil {
		r.log.Warn("ws_send_failed", "driver_id", b.DriverID, "error", err)
		return err
	}
	return nil
}
