// Package api serves a read-only status API for the running capture session.
// Frames never leave the process through it.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/screenshare/internal/capture"
	"github.com/bryanchriswhite/screenshare/internal/config"
	"github.com/bryanchriswhite/screenshare/internal/logger"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Version is reported by the health endpoint
const Version = "0.1.0"

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	configMgr *config.Manager
	upgrader  websocket.Upgrader
	http      *http.Server

	mu      sync.RWMutex
	session *capture.Session
}

// StateEvent is written to websocket clients on every session transition
type StateEvent struct {
	State capture.State `json:"state"`
	Info  capture.Info  `json:"session"`
}

// NewServer creates a new API server. configMgr may be nil.
func NewServer(configMgr *config.Manager) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		configMgr: configMgr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/health", s.handleHealth).Methods("GET")
	api.HandleFunc("/session", s.handleGetSession).Methods("GET")
	api.HandleFunc("/session/events", s.handleSessionEvents)
	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
}

// SetSession attaches the session the API reports on
func (s *Server) SetSession(session *capture.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = session
}

func (s *Server) currentSession() *capture.Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start listens on port and serves until Shutdown. It returns once the
// listener is bound; serve errors are logged.
func (s *Server) Start(port int) error {
	log := logger.WithComponent("api")

	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.http = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	log.Info().Str("addr", ln.Addr().String()).Msg("Status API listening")
	return nil
}

// Shutdown stops the server started by Start
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": Version,
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session := s.currentSession()
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no capture session"})
		return
	}
	writeJSON(w, http.StatusOK, session.Info())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.configMgr == nil {
		writeJSON(w, http.StatusOK, config.Defaults())
		return
	}
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.WithComponent("api")

	session := s.currentSession()
	if session == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no capture session"})
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("WebSocket upgrade error")
		return
	}
	defer conn.Close()

	// Clients only send control frames; reading detects the disconnect
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	// Subscribe sends the current state first
	updates := session.Subscribe()
	defer session.Unsubscribe(updates)

	last := capture.State(-1)
	for {
		select {
		case <-closed:
			log.Debug().Msg("WebSocket client disconnected")
			return
		case state, ok := <-updates:
			if !ok {
				// Transitions can be dropped for slow readers; always report the end state
				info := session.Info()
				if info.State != last {
					if err := conn.WriteJSON(StateEvent{State: info.State, Info: info}); err != nil {
						log.Debug().Err(err).Msg("WebSocket write error")
						return
					}
				}
				closeEvents(conn)
				return
			}

			if err := conn.WriteJSON(StateEvent{State: state, Info: session.Info()}); err != nil {
				log.Debug().Err(err).Msg("WebSocket write error")
				return
			}
			last = state
			if state.Terminal() {
				closeEvents(conn)
				return
			}
		}
	}
}

func closeEvents(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
		time.Now().Add(time.Second))
}
