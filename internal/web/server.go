package web

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/guidoenr/audiosphere/internal/engine"
	"github.com/guidoenr/audiosphere/internal/params"
	"github.com/guidoenr/audiosphere/internal/render"
)

//go:embed index.html
var indexHTML []byte

const (
	defaultStatusInterval = 500 * time.Millisecond
	writeWait             = 10 * time.Second
	pongWait              = 60 * time.Second
	pingPeriod            = 54 * time.Second
	maxPatchBytes         = 64 << 10
)

// Controller is the part of the engine the panel drives.
type Controller interface {
	Status() engine.Status
	Config() params.ShapeConfig
	Apply(params.Patch) error
}

// AudioControl exposes the audio extractor state and switches.
type AudioControl interface {
	Toggle() bool
	Active() bool
	Available() bool
	Err() error
	Reacquire(ctx context.Context) error
}

// PaletteControl switches the renderer glyph palette.
type PaletteControl interface {
	PaletteName() string
	SetPalette(name string)
}

// Options configures a Server.
type Options struct {
	Engine Controller
	// Audio may be nil when the sphere runs without a sensor.
	Audio AudioControl
	// Palette may be nil for sinks without glyph palettes.
	Palette PaletteControl
	// ConfigPath is where POST /api/save writes the TOML file.
	ConfigPath     string
	StatusInterval time.Duration
	Log            *log.Logger
}

// Server serves the JSON control API and pushes status over websockets.
type Server struct {
	mu        sync.RWMutex
	opts      Options
	log       *log.Logger
	clients   map[*websocketClient]bool
	broadcast chan []byte
	upgrader  websocket.Upgrader
	mux       *http.ServeMux
}

type websocketClient struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// AudioStatus describes the audio source.
type AudioStatus struct {
	Enabled   bool   `json:"enabled"`
	Active    bool   `json:"active"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

// StatusResponse is returned by GET /api/status and streamed on /ws.
type StatusResponse struct {
	engine.Status
	Audio AudioStatus `json:"audio"`
}

type paletteResponse struct {
	Current   string   `json:"current,omitempty"`
	Available []string `json:"available"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer builds a Server. opts.Engine is required.
func NewServer(opts Options) *Server {
	if opts.StatusInterval <= 0 {
		opts.StatusInterval = defaultStatusInterval
	}
	if opts.Log == nil {
		opts.Log = log.New(io.Discard, "", 0)
	}
	if opts.ConfigPath == "" {
		opts.ConfigPath = params.DefaultPath()
	}
	s := &Server{
		opts:      opts,
		log:       opts.Log,
		clients:   make(map[*websocketClient]bool),
		broadcast: make(chan []byte, 256),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		mux: http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /api/status", s.handleStatus)
	s.mux.HandleFunc("GET /api/config", s.handleGetConfig)
	s.mux.HandleFunc("POST /api/config", s.handlePatchConfig)
	s.mux.HandleFunc("POST /api/audio/toggle", s.handleAudioToggle)
	s.mux.HandleFunc("POST /api/audio/reacquire", s.handleAudioReacquire)
	s.mux.HandleFunc("POST /api/save", s.handleSave)
	s.mux.HandleFunc("GET /api/palettes", s.handlePalettes)
	s.mux.HandleFunc("POST /api/palette", s.handleSetPalette)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	return s
}

// Handler returns the HTTP handler for all routes.
func (s *Server) Handler() http.Handler { return s.mux }

// Run listens on addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("web listen: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{Handler: s.mux}
	s.log.Printf("web panel on http://%s", ln.Addr())

	go s.broadcastLoop(ctx)
	go s.statusUpdateLoop(ctx)
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		s.closeClients()
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{Status: s.opts.Engine.Status()}
	if a := s.opts.Audio; a != nil {
		resp.Audio = AudioStatus{
			Enabled:   true,
			Active:    a.Active(),
			Available: a.Available(),
		}
		if err := a.Err(); err != nil {
			resp.Audio.Error = err.Error()
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.opts.Engine.Config())
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPatchBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("read patch: %v", err)})
		return
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode patch: %v", err)})
		return
	}
	var patch params.Patch
	if err := json.Unmarshal(body, &patch); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode patch: %v", err)})
		return
	}
	if ignored := params.UnknownKeys(fields); len(ignored) > 0 {
		s.log.Printf("config patch: ignoring unknown keys %v", ignored)
	}
	if err := s.opts.Engine.Apply(patch); err != nil {
		code := http.StatusInternalServerError
		if errors.Is(err, params.ErrInvalidConfig) {
			code = http.StatusBadRequest
		}
		writeJSON(w, code, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.opts.Engine.Config())
}

func (s *Server) handleAudioToggle(w http.ResponseWriter, r *http.Request) {
	if s.opts.Audio == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "audio disabled"})
		return
	}
	active := s.opts.Audio.Toggle()
	s.log.Printf("audio toggled from web: active=%v", active)
	writeJSON(w, http.StatusOK, s.status().Audio)
}

func (s *Server) handleAudioReacquire(w http.ResponseWriter, r *http.Request) {
	if s.opts.Audio == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "audio disabled"})
		return
	}
	if err := s.opts.Audio.Reacquire(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.status().Audio)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	path := s.opts.ConfigPath
	if err := params.Save(path, s.opts.Engine.Config()); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: fmt.Sprintf("failed to save config: %v", err)})
		return
	}
	s.log.Printf("config saved to %s", path)
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved", "path": path})
}

func (s *Server) handlePalettes(w http.ResponseWriter, r *http.Request) {
	resp := paletteResponse{Available: render.PaletteNames()}
	if s.opts.Palette != nil {
		resp.Current = s.opts.Palette.PaletteName()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSetPalette(w http.ResponseWriter, r *http.Request) {
	if s.opts.Palette == nil {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "renderer has no palettes"})
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("decode palette: %v", err)})
		return
	}
	if !slices.Contains(render.PaletteNames(), req.Name) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: fmt.Sprintf("unknown palette %q", req.Name)})
		return
	}
	s.opts.Palette.SetPalette(req.Name)
	writeJSON(w, http.StatusOK, paletteResponse{Current: req.Name, Available: render.PaletteNames()})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Printf("websocket upgrade error: %v", err)
		return
	}

	client := &websocketClient{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	// Greet with the current state so clients need not wait a full interval.
	if data, err := json.Marshal(s.status()); err == nil {
		client.send <- data
	}

	s.mu.Lock()
	s.clients[client] = true
	s.mu.Unlock()

	go client.writePump()
	go client.readPump()
}

func (s *Server) removeClient(c *websocketClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) closeClients() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		delete(s.clients, c)
		close(c.send)
	}
}

func (s *Server) broadcastLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case message := <-s.broadcast:
			s.mu.Lock()
			for client := range s.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(s.clients, client)
				}
			}
			s.mu.Unlock()
		}
	}
}

func (s *Server) statusUpdateLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		data, err := json.Marshal(s.status())
		if err != nil {
			continue
		}
		select {
		case s.broadcast <- data:
		default:
			// drop if channel full
		}
	}
}

func (c *websocketClient) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (c *websocketClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
