package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vaultship/greenlight/internal/audit"
	"github.com/vaultship/greenlight/internal/task"
	"github.com/vaultship/greenlight/internal/vault"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

var errServerDisabled = errors.New("bridge: server disabled")

// Server exposes task intake and read-only vault/audit views over HTTP.
// Intake goes through the same exclusive-create primitive as every other
// producer; the server holds no state of its own.
type Server struct {
	settings  Settings
	store     vault.Store
	auditPath string
	processor EventProcessor
	logger    Logger
	clock     func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithProcessor receives a TaskEvent for every accepted intake.
func WithProcessor(p EventProcessor) Option {
	return func(s *Server) {
		if p != nil {
			s.processor = p
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// NewServer prepares a bridge server over a store and audit log path.
func NewServer(settings Settings, store vault.Store, auditPath string, opts ...Option) *Server {
	s := &Server{
		settings:  settings,
		store:     store,
		auditPath: auditPath,
		processor: EventProcessorFunc(func(TaskEvent) error { return nil }),
		logger:    nopLogger{},
		clock:     func() time.Time { return time.Now().UTC() },
		status:    StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("bridge: server is nil")
	}
	if !s.settings.Enabled {
		return errServerDisabled
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("bridge: server already started")
	}
	addr := s.settings.Address()
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("bridge: listen %s: %w", addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Routes(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("bridge: serve error: %v", err)
		}
	}()
	s.logger.Printf("bridge: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	deadline := ctx
	if deadline == nil {
		var cancel context.CancelFunc
		deadline, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(deadline); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Routes assembles the HTTP handler tree.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/tasks", s.handleCreateTask)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/tasks/{id}", s.handleGetTask)
		r.Get("/audit", s.handleAudit)
	})
	return r
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	start := s.startTime
	s.mu.RUnlock()
	var uptime int64
	if !start.IsZero() {
		uptime = int64(time.Since(start).Seconds())
	}
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Version:       ProtocolVersion,
		UptimeSeconds: uptime,
	})
}

type createTaskRequest struct {
	ActionType   string         `json:"action_type"`
	Source       string         `json:"source"`
	Priority     string         `json:"priority"`
	Amount       any            `json:"amount"`
	Counterparty string         `json:"counterparty"`
	Body         string         `json:"body"`
	Extra        map[string]any `json:"extra"`
}

type createTaskResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Compartment string `json:"compartment"`
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "payload exceeds limit"})
			return
		}
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unable to read body"})
		return
	}
	var req createTaskRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	if strings.TrimSpace(req.ActionType) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "action_type is required"})
		return
	}
	doc := task.New(strings.TrimSpace(req.ActionType), strings.TrimSpace(req.Source), []byte(req.Body), s.clock())
	doc.Meta.Priority = strings.TrimSpace(req.Priority)
	doc.Meta.Amount = req.Amount
	doc.Meta.Counterparty = strings.TrimSpace(req.Counterparty)
	if len(req.Extra) > 0 {
		doc.Meta.Extra = req.Extra
	}
	encoded, err := doc.Encode()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if err := s.store.CreateExclusive(vault.Inbox, doc.Name, encoded); err != nil {
		s.logger.Printf("bridge: intake failed for %s: %v", doc.Meta.ID, err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not store task"})
		return
	}
	if err := s.processor.HandleEvent(TaskEvent{
		Kind:        EventCreated,
		Compartment: vault.Inbox,
		Name:        doc.Name,
		Time:        s.clock(),
	}); err != nil {
		s.logger.Printf("bridge: processor error: %v", err)
	}
	writeJSON(w, http.StatusCreated, createTaskResponse{
		ID:          doc.Meta.ID,
		Name:        doc.Name,
		Compartment: string(vault.Inbox),
	})
}

type taskView struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Compartment string    `json:"compartment"`
	ActionType  string    `json:"action_type"`
	Status      string    `json:"status"`
	Revision    int       `json:"revision"`
	Priority    string    `json:"priority,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	Created     time.Time `json:"created"`
}

func viewOf(doc *task.Document) taskView {
	return taskView{
		ID:          doc.Meta.ID,
		Name:        doc.Name,
		Compartment: string(doc.Compartment),
		ActionType:  doc.Meta.ActionType,
		Status:      doc.Meta.Status,
		Revision:    doc.Meta.Revision,
		Priority:    doc.Meta.Priority,
		Reason:      doc.Meta.Reason,
		Created:     doc.Meta.Created,
	}
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	compartments := vault.Compartments
	if raw := strings.TrimSpace(r.URL.Query().Get("compartment")); raw != "" {
		c, err := vault.ParseCompartment(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		compartments = []vault.Compartment{c}
	}
	views := []taskView{}
	for _, c := range compartments {
		entries, err := s.store.List(c)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not list tasks"})
			return
		}
		for _, entry := range entries {
			doc, err := task.Load(s.store, c, entry.Name)
			if err != nil {
				continue // moved or unreadable; the listing is best effort
			}
			views = append(views, viewOf(doc))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	name := task.FileName(id)
	c, found, err := s.store.Locate(name)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !found {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
		return
	}
	doc, err := task.Load(s.store, c, name)
	if err != nil {
		if errors.Is(err, vault.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "task not found"})
			return
		}
		if errors.Is(err, task.ErrStateMismatch) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "task status disagrees with its compartment"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not read task"})
		return
	}
	writeJSON(w, http.StatusOK, viewOf(doc))
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	filter := audit.Filter{
		TaskID: strings.TrimSpace(r.URL.Query().Get("task_id")),
		Actor:  strings.TrimSpace(r.URL.Query().Get("actor")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("since")); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "since must be RFC3339"})
			return
		}
		filter.Since = since
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("until")); raw != "" {
		until, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "until must be RFC3339"})
			return
		}
		filter.Until = until
	}
	entries, err := audit.Entries(s.auditPath, filter)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "could not read audit log"})
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
