package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"pngoo-go/internal/batch"
	"pngoo-go/internal/compressor"
	"pngoo-go/internal/config"
	"pngoo-go/internal/inspector"
	"pngoo-go/internal/logger"
	"pngoo-go/internal/statistics"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

type Server struct {
	cfg        *config.Config
	log        *logrus.Logger
	dispatcher *batch.Dispatcher
	inspector  *inspector.Inspector
	router     *mux.Router
	httpServer *http.Server
	wsUpgrader websocket.Upgrader
	wsClients  map[*websocket.Conn]bool
	wsMutex    sync.Mutex

	// Current batch state
	operationMutex sync.RWMutex
	currentStats   *statistics.Statistics
}

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// BatchRequest starts a batch. Zero values fall back to the server config.
type BatchRequest struct {
	Files []string `json:"files"`
	// OutputDirectory overrides the configured destination. An empty string
	// is rejected; omit the field to use the config.
	OutputDirectory *string `json:"output_directory,omitempty"`
	InPlace         bool    `json:"in_place,omitempty"`
	OutputIfLarger  bool    `json:"output_if_larger,omitempty"`
	Workers         int     `json:"workers,omitempty"`
	Colours         int     `json:"colours,omitempty"`
	OrderedDither   bool    `json:"ordered_dither,omitempty"`
	SkipIfLarger    bool    `json:"skip_if_larger,omitempty"`
}

// OutcomeMessage is one file result as sent to websocket clients. Clients
// match rows by Index.
type OutcomeMessage struct {
	BatchID      string `json:"batch_id"`
	Index        int    `json:"index"`
	Success      bool   `json:"success"`
	OriginalPath string `json:"original_path"`
	NewPath      string `json:"new_path,omitempty"`
	Strategy     string `json:"strategy,omitempty"`
	OriginalSize int64  `json:"original_size"`
	WrittenSize  int64  `json:"written_size,omitempty"`
	ErrorKind    string `json:"error_kind,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMS   int64  `json:"duration_ms"`
}

type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

func NewServer(cfg *config.Config, log *logrus.Logger, dispatcher *batch.Dispatcher, insp *inspector.Inspector) *Server {
	if insp == nil {
		insp = inspector.NewInspector(log)
	}
	s := &Server{
		cfg:        cfg,
		log:        log,
		dispatcher: dispatcher,
		inspector:  insp,
		router:     mux.NewRouter(),
		wsClients:  make(map[*websocket.Conn]bool),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/batches", s.handleStartBatch).Methods("POST")
	api.HandleFunc("/batches/cancel", s.handleCancel).Methods("POST")
	api.HandleFunc("/inspect", s.handleInspect).Methods("GET")

	s.router.HandleFunc("/ws", s.handleWebSocket)
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start(port int) error {
	addr := fmt.Sprintf(":%d", port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	s.log.Infof("Starting web server on http://localhost%s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop cancels any running batch and shuts the HTTP server down.
func (s *Server) Stop(ctx context.Context) error {
	s.dispatcher.Cancel()

	s.wsMutex.Lock()
	for conn := range s.wsClients {
		_ = conn.Close()
		delete(s.wsClients, conn)
	}
	s.wsMutex.Unlock()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.operationMutex.RLock()
	stats := s.currentStats
	s.operationMutex.RUnlock()

	claimed, total := s.dispatcher.Progress()
	data := map[string]interface{}{
		"state":    s.dispatcher.State().String(),
		"batch_id": s.dispatcher.BatchID(),
		"claimed":  claimed,
		"total":    total,
	}
	if stats != nil {
		data["statistics"] = stats.Snapshot()
		data["summary"] = stats.GetSummary()
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: data})
}

func (s *Server) handleStartBatch(w http.ResponseWriter, r *http.Request) {
	var req BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	files, err := batch.CollectFiles(req.Files, s.cfg.SupportedExtensions)
	if err != nil {
		s.writeError(w, fmt.Sprintf("Failed to collect files: %v", err), http.StatusBadRequest)
		return
	}
	cfg := s.batchConfig(req, files)

	s.operationMutex.Lock()
	defer s.operationMutex.Unlock()

	if state := s.dispatcher.State(); state == batch.StateRunning || state == batch.StateCancelling {
		s.writeError(w, "Batch already in progress", http.StatusConflict)
		return
	}

	stats := statistics.NewStatistics(len(files))
	sink := batch.SinkFuncs{
		Outcome: func(o batch.Outcome) {
			stats.Observe(o)
			s.broadcastWSMessage("outcome", s.outcomeMessage(o))
		},
		Complete: func(res batch.Result) {
			stats.Finalize(res)
			s.broadcastWSMessage("batch_completed", map[string]interface{}{
				"batch_id":   res.BatchID,
				"processed":  res.Processed,
				"succeeded":  res.Succeeded(),
				"failed":     res.Failed(),
				"cancelled":  res.Cancelled,
				"statistics": stats.Snapshot(),
			})
		},
	}

	if err := s.dispatcher.Start(context.Background(), cfg, sink); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, batch.ErrConfiguration) {
			status = http.StatusBadRequest
		}
		s.writeError(w, err.Error(), status)
		return
	}
	s.currentStats = stats

	batchID := s.dispatcher.BatchID()
	logger.WithFields(s.log, logrus.Fields{
		"batch_id": batchID,
		"files":    len(files),
		"remote":   r.RemoteAddr,
	}).Info("Batch started from web request")

	s.broadcastWSMessage("batch_started", map[string]interface{}{
		"batch_id": batchID,
		"total":    len(files),
		"files":    files,
	})

	s.writeJSON(w, http.StatusAccepted, APIResponse{
		Success: true,
		Message: "Batch started",
		Data: map[string]interface{}{
			"batch_id": batchID,
			"total":    len(files),
		},
	})
}

func (s *Server) batchConfig(req BatchRequest, files []string) batch.Config {
	cfg := s.cfg.BatchConfig(files)
	switch {
	case req.InPlace:
		cfg.OutputDirectory = nil
	case req.OutputDirectory != nil:
		dir := *req.OutputDirectory
		cfg.OutputDirectory = &dir
	}
	cfg.OutputIfLarger = cfg.OutputIfLarger || req.OutputIfLarger
	if req.Workers > 0 {
		cfg.Workers = req.Workers
	}
	if cfg.Settings.Indexed != nil {
		if req.Colours != 0 {
			cfg.Settings.Indexed.Colours = req.Colours
		}
		cfg.Settings.Indexed.OrderedDither = cfg.Settings.Indexed.OrderedDither || req.OrderedDither
		cfg.Settings.Indexed.SkipIfLarger = cfg.Settings.Indexed.SkipIfLarger || req.SkipIfLarger
	}
	return cfg
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher.State() != batch.StateRunning {
		s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Message: "No batch running"})
		return
	}

	s.dispatcher.Cancel()
	claimed, total := s.dispatcher.Progress()
	s.broadcastWSMessage("batch_cancelling", map[string]interface{}{
		"batch_id": s.dispatcher.BatchID(),
		"claimed":  claimed,
		"total":    total,
	})

	s.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Message: "Batch cancelling, in-flight files will finish",
	})
}

func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, "path is required", http.StatusBadRequest)
		return
	}

	info, err := s.inspector.Inspect(path)
	switch {
	case errors.Is(err, compressor.ErrInvalidImageFormat):
		s.writeError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	case err != nil:
		s.writeError(w, err.Error(), http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: info})
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

	defer func() {
		s.wsMutex.Lock()
		delete(s.wsClients, conn)
		s.wsMutex.Unlock()
		s.log.Debug("WebSocket client disconnected")
	}()

	// Reads only detect the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

func (s *Server) clientCount() int {
	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()
	return len(s.wsClients)
}

func (s *Server) outcomeMessage(o batch.Outcome) OutcomeMessage {
	return OutcomeMessage{
		BatchID:      s.dispatcher.BatchID(),
		Index:        o.Index,
		Success:      o.Succeeded(),
		OriginalPath: o.OriginalPath,
		NewPath:      o.NewPath,
		Strategy:     o.Strategy,
		OriginalSize: o.OriginalSize,
		WrittenSize:  o.WrittenSize,
		ErrorKind:    o.ErrorKind,
		ErrorMessage: o.ErrorMessage,
		DurationMS:   o.FinishedAt.Sub(o.StartedAt).Milliseconds(),
	}
}

// broadcastWSMessage writes to every client. gorilla connections allow one
// concurrent writer, so the whole fan-out holds wsMutex.
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

	s.wsMutex.Lock()
	defer s.wsMutex.Unlock()

	for conn := range s.wsClients {
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msgBytes); err != nil {
			s.log.Errorf("Failed to write WebSocket message: %v", err)
			delete(s.wsClients, conn)
			_ = conn.Close()
		}
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	s.writeJSON(w, statusCode, APIResponse{
		Success: false,
		Error:   message,
	})
}
