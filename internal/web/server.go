package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"imgpress/internal/config"
	"imgpress/internal/encoder"
	"imgpress/internal/logger"
	"imgpress/internal/orchestrator"
	"imgpress/internal/session"
	"imgpress/internal/sizefmt"
	"imgpress/internal/stats"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Server exposes the compression sessions over a JSON HTTP API plus a
// websocket channel that pushes encode completions to connected clients.
type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	enc        encoder.Encoder
	stats      *stats.Statistics
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.RWMutex

	sessionsMutex sync.RWMutex
	sessions      map[string]*compressSession
}

// compressSession pairs one session state with its orchestrator.
type compressSession struct {
	id    string
	state *session.State
	orch  *orchestrator.Orchestrator
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// ParamsRequest carries a partial update of the output parameters. Width and
// height arrive as strings so that empty or non-numeric input can fall back
// to the source dimensions instead of failing the request.
type ParamsRequest struct {
	Quality      *int    `json:"quality,omitempty"`
	Format       *string `json:"format,omitempty"`
	Width        *string `json:"width,omitempty"`
	Height       *string `json:"height,omitempty"`
	AspectLocked *bool   `json:"aspect_locked,omitempty"`
}

type SourceInfo struct {
	Name        string `json:"name"`
	MediaType   string `json:"media_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Size        int64  `json:"size"`
	SizeDisplay string `json:"size_display"`
}

type ParamsInfo struct {
	Quality      int    `json:"quality"`
	Format       string `json:"format"`
	TargetWidth  int    `json:"target_width"`
	TargetHeight int    `json:"target_height"`
	AspectLocked bool   `json:"aspect_locked"`
}

type ResultInfo struct {
	Size           int64  `json:"size"`
	SizeDisplay    string `json:"size_display"`
	SavingsPercent int    `json:"savings_percent"`
	SavingsDisplay string `json:"savings_display"`
	DownloadName   string `json:"download_name"`
}

type SessionInfo struct {
	ID     string      `json:"id"`
	Source *SourceInfo `json:"source,omitempty"`
	Params *ParamsInfo `json:"params,omitempty"`
	Result *ResultInfo `json:"result,omitempty"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, enc encoder.Encoder) *Server {
	s := &Server{
		cfg:       cfg,
		log:       log,
		enc:       enc,
		stats:     stats.NewStatistics(),
		router:    mux.NewRouter(),
		wsClients: make(map[*websocket.Conn]bool),
		sessions:  make(map[string]*compressSession),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins in development
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/sessions", s.handleCreateSession).Methods("POST")
	api.HandleFunc("/sessions/{id}", s.handleGetSession).Methods("GET")
	api.HandleFunc("/sessions/{id}", s.handleDeleteSession).Methods("DELETE")
	api.HandleFunc("/sessions/{id}/source", s.handleUploadSource).Methods("POST")
	api.HandleFunc("/sessions/{id}/params", s.handleUpdateParams).Methods("PATCH")
	api.HandleFunc("/sessions/{id}/reset", s.handleReset).Methods("POST")
	api.HandleFunc("/sessions/{id}/download", s.handleDownload).Methods("GET")
	api.HandleFunc("/statistics", s.handleGetStatistics).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	s.router.HandleFunc("/", s.handleIndex).Methods("GET")
}

// Router returns the HTTP handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.Server.ReadTimeoutS) * time.Second,
		WriteTimeout: time.Duration(s.cfg.Server.WriteTimeoutS) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Stop(ctx context.Context) error {
	s.sessionsMutex.Lock()
	for _, cs := range s.sessions {
		cs.orch.Close()
	}
	s.sessionsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	formats := make([]string, 0, len(encoder.Formats()))
	for _, f := range encoder.Formats() {
		formats = append(formats, string(f))
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "imgpress API",
		Data: map[string]interface{}{
			"formats":         formats,
			"default_quality": s.cfg.Defaults.Quality,
			"default_format":  s.cfg.Defaults.Format,
			"max_upload_mb":   s.cfg.Server.MaxUploadMB,
		},
	})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	defaultFormat, err := encoder.ParseFormat(s.cfg.Defaults.Format)
	if err != nil {
		defaultFormat = session.DefaultFormat
	}

	id := uuid.New().String()
	state := session.NewStateWithDefaults(s.cfg.Defaults.Quality, defaultFormat)
	orch := orchestrator.New(state, s.enc, s.log, s.stats, orchestrator.Options{
		QualityWindow:   s.cfg.QualityWindow(),
		DimensionWindow: s.cfg.DimensionWindow(),
		OnOutcome: func(out orchestrator.Outcome) {
			s.broadcastOutcome(id, state, out)
		},
	})

	cs := &compressSession{id: id, state: state, orch: orch}
	s.sessionsMutex.Lock()
	s.sessions[id] = cs
	s.sessionsMutex.Unlock()

	logger.WithSession(s.log, id).Debug("Session created")
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    SessionInfo{ID: id},
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.lookupSession(r)
	if !ok {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.sessionInfo(cs),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.sessionsMutex.Lock()
	cs, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.sessionsMutex.Unlock()

	if !ok {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	cs.orch.Close()
	logger.WithSession(s.log, id).Debug("Session deleted")
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Session deleted",
	})
}

func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.lookupSession(r)
	if !ok {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes())
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes()); err != nil {
		s.writeError(w, "Invalid upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, "Missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, "Failed to read upload: "+err.Error(), http.StatusBadRequest)
		return
	}

	mediaType := header.Header.Get("Content-Type")
	src, err := cs.state.LoadSource(s.enc, header.Filename, mediaType, data)
	if err != nil {
		s.stats.IncrementSourcesRejected()
		if errors.Is(err, session.ErrNotAnImage) {
			s.writeError(w, err.Error(), http.StatusUnsupportedMediaType)
			return
		}
		s.writeError(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.stats.IncrementSourcesLoaded()
	s.stats.AddBytesIn(src.Size)
	cs.orch.Notify(orchestrator.TriggerLoad)

	logger.WithSessionOperation(s.log, cs.id, "load_source").WithFields(logrus.Fields{
		"name": src.Name,
		"size": src.Size,
	}).Info("Source image loaded")

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.sessionInfo(cs),
	})
}

func (s *Server) handleUpdateParams(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.lookupSession(r)
	if !ok {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	var req ParamsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.AspectLocked != nil {
		cs.state.SetAspectLocked(*req.AspectLocked)
	}

	if req.Quality != nil {
		cs.state.SetQuality(*req.Quality)
		cs.orch.Notify(orchestrator.TriggerQuality)
	}

	if req.Width != nil {
		if err := cs.state.SetTargetWidth(parseDimension(*req.Width)); err != nil {
			s.writeError(w, err.Error(), http.StatusConflict)
			return
		}
		cs.orch.Notify(orchestrator.TriggerDimension)
	}

	if req.Height != nil {
		if err := cs.state.SetTargetHeight(parseDimension(*req.Height)); err != nil {
			s.writeError(w, err.Error(), http.StatusConflict)
			return
		}
		cs.orch.Notify(orchestrator.TriggerDimension)
	}

	if req.Format != nil {
		if _, err := cs.state.SetFormat(*req.Format); err != nil {
			s.writeError(w, fmt.Sprintf("Unsupported format: %s", *req.Format), http.StatusBadRequest)
			return
		}
		cs.orch.Notify(orchestrator.TriggerFormat)
	}

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    s.sessionInfo(cs),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.lookupSession(r)
	if !ok {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}
	cs.state.Reset()
	s.writeJSON(w, APIResponse{
		Success: true,
		Message: "Session reset",
		Data:    SessionInfo{ID: cs.id},
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	cs, ok := s.lookupSession(r)
	if !ok {
		s.writeError(w, "Session not found", http.StatusNotFound)
		return
	}

	result := cs.state.Result()
	src := cs.state.Source()
	if result == nil || src == nil {
		s.writeError(w, "No encoded result available", http.StatusNotFound)
		return
	}
	format := cs.state.Params().Format

	name := orchestrator.DownloadName(src.Name, format)
	w.Header().Set("Content-Type", format.MediaType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	_, _ = w.Write(result.Data)
}

func (s *Server) handleGetStatistics(w http.ResponseWriter, r *http.Request) {
	s.sessionsMutex.RLock()
	active := len(s.sessions)
	s.sessionsMutex.RUnlock()

	data := s.stats.Snapshot()
	data["active_sessions"] = active

	s.writeJSON(w, APIResponse{
		Success: true,
		Data:    data,
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Errorf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	s.wsMutex.Lock()
	s.wsClients[conn] = true
	s.wsMutex.Unlock()

	s.log.Debug("WebSocket client connected")

	// Remove client on disconnect
	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Keep connection alive
	for {
		_, _, err := conn.ReadMessage()
		if err != nil {
			break
		}
	}
}

// broadcastOutcome pushes an executed encode request to websocket clients.
// Superseded results and encodes against an empty session are not broadcast.
func (s *Server) broadcastOutcome(sessionID string, state *session.State, out orchestrator.Outcome) {
	if errors.Is(out.Err, session.ErrNoSource) {
		return
	}
	if out.Err != nil {
		s.broadcastWSMessage("encode_failed", map[string]interface{}{
			"session_id": sessionID,
			"seq":        out.Seq,
			"error":      out.Err.Error(),
		})
		return
	}
	if out.Result == nil {
		// Stale result, discarded.
		return
	}

	src := state.Source()
	format := state.Params().Format
	data := map[string]interface{}{
		"session_id":      sessionID,
		"seq":             out.Seq,
		"size":            out.Result.Size,
		"size_display":    sizefmt.FormatBytes(out.Result.Size),
		"savings_percent": out.Result.SavingsPercent,
		"savings_display": savingsDisplay(out.Result.SavingsPercent),
	}
	if src != nil {
		data["download_name"] = orchestrator.DownloadName(src.Name, format)
	}
	s.broadcastWSMessage("encode_completed", data)
}

func (s *Server) broadcastWSMessage(messageType string, data interface{}) {
	message := WSMessage{
		Type: messageType,
		Data: data,
	}

	msgBytes, err := json.Marshal(message)
	if err != nil {
		s.log.Errorf("Failed to marshal WebSocket message: %v", err)
		return
	}

	s.wsMutex.RLock()
	defer s.wsMutex.RUnlock()

	for conn := range s.wsClients {
		err := conn.WriteMessage(websocket.TextMessage, msgBytes)
		if err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			// Remove failed connection
			go func(c *websocket.Conn) {
				s.wsMutex.Lock()
				delete(s.wsClients, c)
				s.wsMutex.Unlock()
				c.Close()
			}(conn)
		}
	}
}

func (s *Server) lookupSession(r *http.Request) (*compressSession, bool) {
	id := mux.Vars(r)["id"]
	s.sessionsMutex.RLock()
	defer s.sessionsMutex.RUnlock()
	cs, ok := s.sessions[id]
	return cs, ok
}

func (s *Server) sessionInfo(cs *compressSession) SessionInfo {
	info := SessionInfo{ID: cs.id}

	src := cs.state.Source()
	if src == nil {
		return info
	}
	info.Source = &SourceInfo{
		Name:        src.Name,
		MediaType:   src.MediaType,
		Width:       src.Width,
		Height:      src.Height,
		Size:        src.Size,
		SizeDisplay: sizefmt.FormatBytes(src.Size),
	}

	params := cs.state.Params()
	info.Params = &ParamsInfo{
		Quality:      params.Quality,
		Format:       string(params.Format),
		TargetWidth:  params.TargetWidth,
		TargetHeight: params.TargetHeight,
		AspectLocked: params.AspectLocked,
	}

	if result := cs.state.Result(); result != nil {
		info.Result = &ResultInfo{
			Size:           result.Size,
			SizeDisplay:    sizefmt.FormatBytes(result.Size),
			SavingsPercent: result.SavingsPercent,
			SavingsDisplay: savingsDisplay(result.SavingsPercent),
			DownloadName:   orchestrator.DownloadName(src.Name, params.Format),
		}
	}
	return info
}

// savingsDisplay renders the size delta with its sign convention: positive
// percentages are a reduction, negative ones a labeled increase.
func savingsDisplay(percent int) string {
	if percent >= 0 {
		return fmt.Sprintf("%d%% smaller", percent)
	}
	return fmt.Sprintf("%d%% larger", -percent)
}

// parseDimension interprets text input for a target dimension. Empty or
// non-numeric input maps to 0, which the session normalizes to the source
// dimension.
func parseDimension(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIResponse{
		Success: false,
		Error:   message,
	})
}
