// Package api is the operational HTTP surface of the trader and bridge
// processes: JSON status endpoints plus a websocket channel pushing
// periodic snapshots to dashboards.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// jsonResponse is the uniform envelope.
type jsonResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// SnapshotFunc produces the process status document.
type SnapshotFunc func() interface{}

// Server is the HTTP + websocket endpoint.
type Server struct {
	port       int
	mux        *http.ServeMux
	httpServer *http.Server
	hub        *Hub
	snapshot   SnapshotFunc
	pushEvery  time.Duration
	done       chan struct{}
}

// NewServer creates a server on the port. snapshot feeds both
// /api/v1/status and the websocket push; nil disables them.
func NewServer(port int, snapshot SnapshotFunc) *Server {
	s := &Server{
		port:      port,
		mux:       http.NewServeMux(),
		hub:       NewHub(),
		snapshot:  snapshot,
		pushEvery: time.Second,
		done:      make(chan struct{}),
	}

	s.mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, jsonResponse{Success: true, Data: map[string]string{"status": "ok"}})
	})
	if snapshot != nil {
		s.HandleJSON("GET /api/v1/status", func() (interface{}, error) {
			return snapshot(), nil
		})
	}
	s.mux.Handle("/ws", s.hub.Handler())
	return s
}

// HandleJSON registers a GET endpoint returning a JSON document.
func (s *Server) HandleJSON(pattern string, fn func() (interface{}, error)) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		data, err := fn()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, jsonResponse{Success: true, Data: data})
	})
}

// HandleAction registers a POST endpoint running a command.
func (s *Server) HandleAction(pattern string, fn func() error) {
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		if err := fn(); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, jsonResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, jsonResponse{Success: true})
	})
}

// Start serves in the background and begins the websocket push.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.mux,
	}
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] server error: %v", err)
		}
	}()

	if s.snapshot != nil {
		go s.pushLoop()
	}
	log.Printf("[API] listening on :%d", s.port)
}

func (s *Server) pushLoop() {
	ticker := time.NewTicker(s.pushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.hub.ClientCount() == 0 {
				continue
			}
			data, err := json.Marshal(s.snapshot())
			if err != nil {
				continue
			}
			s.hub.Broadcast(data)
		}
	}
}

// Stop shuts the server down.
func (s *Server) Stop() {
	close(s.done)
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.httpServer.Shutdown(ctx)
	}
	s.hub.CloseAll()
}

func writeJSON(w http.ResponseWriter, status int, resp jsonResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}
