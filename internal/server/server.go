// Package server exposes the SSE subscription endpoint, the overlay's
// static assets and a health check.
package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/pacdouglas/live-xumbrega/internal/history"
	"github.com/pacdouglas/live-xumbrega/internal/hub"
)

// keepaliveInterval is how long a viewer connection may sit idle before a
// comment block is sent so the transport can detect dead peers.
const keepaliveInterval = 20 * time.Second

// defaultDocument is served for the bare root path.
const defaultDocument = "xumbr3ga-multichat.html"

// Server is the viewer-facing HTTP server.
type Server struct {
	server    *http.Server
	hub       *hub.Hub
	hist      *history.Log
	staticDir string
}

// New creates the server. hist may be nil, in which case history replay
// is skipped.
func New(addr, staticDir string, h *hub.Hub, hist *history.Log) *Server {
	s := &Server{
		hub:       h,
		hist:      hist,
		staticDir: staticDir,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleEvents)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.HandleFunc("/", s.handleStatic)

	s.server = &http.Server{Addr: addr, Handler: mux}
	return s
}

// Handler returns the server's routing handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	log.Printf("Server listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")
	return s.server.Shutdown(ctx)
}

// handleEvents turns one inbound connection into one hub subscription:
// optional history replay, then a status snapshot, then the live feed
// until the peer goes away. The subscription is removed on every exit
// path.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	wantHistory := r.URL.Query().Get("history") == "1"

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Replay is streamed record by record; the log is never loaded whole.
	if wantHistory && s.hist != nil {
		err := s.hist.Replay(func(record []byte) error {
			return writeFrame(w, record)
		})
		if err != nil {
			log.Printf("[sse] history replay aborted: %v", err)
			return
		}
	}

	for _, st := range s.hub.StatusSnapshot() {
		data, err := json.Marshal(st)
		if err != nil {
			continue
		}
		if err := writeFrame(w, data); err != nil {
			return
		}
	}
	flusher.Flush()

	sub := s.hub.Subscribe()
	defer s.hub.Unsubscribe(sub)
	log.Printf("[sse] client connected (history=%v, total=%d)", wantHistory, s.hub.SubscriberCount())
	defer func() {
		log.Printf("[sse] client disconnected (total=%d)", s.hub.SubscriberCount())
	}()

	ctx := r.Context()
	for {
		select {
		case data, ok := <-sub.Events():
			if !ok {
				// Evicted as a slow consumer.
				return
			}
			if err := writeFrame(w, data); err != nil {
				return
			}
			flusher.Flush()

		case <-time.After(keepaliveInterval):
			// Comment block lets the transport notice dead peers even
			// when no chat is flowing.
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

// writeFrame writes one SSE data block.
func writeFrame(w http.ResponseWriter, data []byte) error {
	if _, err := w.Write([]byte("data: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}

// handleStatic serves the overlay documents. Paths are confined to the
// static directory.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		name = defaultDocument
	}

	root, err := filepath.Abs(s.staticDir)
	if err != nil {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	path := filepath.Join(root, filepath.Clean("/"+name))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	http.ServeFile(w, r, path)
}
