package crm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fentz26/dealdesk/internal/models"
	"github.com/fentz26/dealdesk/internal/store"
	"github.com/fentz26/dealdesk/internal/stream"
	"go.uber.org/zap"
)

// Server provides the HTTP API for dealdesk.
type Server struct {
	service *Service
	addr    string
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		service: service,
		addr:    addr,
		logger:  logger,
	}
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler builds the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/deals", s.handleDeals)
	mux.HandleFunc("/deals/", s.handleDealByID)
	mux.HandleFunc("/messages/", s.handleMessageByID)
	mux.HandleFunc("/tasks", s.handleTasks)
	mux.HandleFunc("/tasks/", s.handleTaskByID)
	mux.HandleFunc("/stages", s.handleStages)
	mux.HandleFunc("/stages/", s.handleStageByID)
	mux.HandleFunc("/prefs", s.handlePrefs)

	mux.Handle("/events", s.service.Hub().Handler())
	mux.Handle("/metrics", s.service.Metrics().Handler())
	mux.HandleFunc("/health", s.handleHealth)

	return s.logRequests(mux)
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.logger.Info("starting dealdesk daemon", zap.String("addr", s.addr))
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Version is reported by /health. Overridden at build time.
var Version = "dev"

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.service.Ping(r.Context()); err != nil {
		resp.OK = false
		resp.DB = err.Error()
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

// splitPath returns the id and optional action under prefix.
func splitPath(path, prefix string) (id, action string) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(path, prefix), "/"), "/")
	id = parts[0]
	if len(parts) > 1 {
		action = parts[1]
	}
	return id, action
}

// --- Deal Handlers ---

// handleDeals handles GET and POST /deals
func (s *Server) handleDeals(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		deals, err := s.service.ListDeals(r.Context(), r.URL.Query().Get("stage_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		if deals == nil {
			deals = []models.Deal{}
		}
		writeJSON(w, http.StatusOK, deals)
	case http.MethodPost:
		var req DealInput
		if !decode(w, r, &req) {
			return
		}
		deal, err := s.service.CreateDeal(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, deal)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type dealPatchRequest struct {
	Title      *string `json:"title"`
	Company    *string `json:"company"`
	ValueCents *int64  `json:"value_cents"`
}

type moveRequest struct {
	StageID string `json:"stage_id"`
}

type inputRequest struct {
	Text string `json:"text"`
}

type messageRequest struct {
	Text      string `json:"text"`
	IsMe      *bool  `json:"is_me"`
	ReplyToID string `json:"reply_to_id"`
}

type attachRequest struct {
	Filename string `json:"filename"`
}

// handleDealByID handles /deals/{id}/*
func (s *Server) handleDealByID(w http.ResponseWriter, r *http.Request) {
	dealID, action := splitPath(r.URL.Path, "/deals/")
	if dealID == "" {
		http.Error(w, "deal id required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	switch {
	case action == "" && r.Method == http.MethodGet:
		deal, err := s.service.GetDeal(ctx, dealID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deal)

	case action == "" && r.Method == http.MethodPatch:
		var req dealPatchRequest
		if !decode(w, r, &req) {
			return
		}
		deal, err := s.service.UpdateDeal(ctx, dealID, store.DealPatch{Title: req.Title, Company: req.Company, ValueCents: req.ValueCents})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deal)

	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteDeal(ctx, dealID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})

	case action == "move" && r.Method == http.MethodPost:
		var req moveRequest
		if !decode(w, r, &req) {
			return
		}
		deal, err := s.service.MoveDeal(ctx, dealID, req.StageID)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, deal)

	case action == "input" && r.Method == http.MethodPost:
		var req inputRequest
		if !decode(w, r, &req) {
			return
		}
		res, err := s.service.Submit(ctx, dealID, req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)

	case action == "stream" && r.Method == http.MethodGet:
		st, err := s.service.Stream(ctx, dealID)
		if err != nil {
			writeError(w, err)
			return
		}
		entries := st.Entries()
		if entries == nil {
			entries = []stream.Entry{}
		}
		writeJSON(w, http.StatusOK, entries)

	case action == "messages" && r.Method == http.MethodGet:
		msgs, err := s.service.ListMessages(ctx, dealID)
		if err != nil {
			writeError(w, err)
			return
		}
		if msgs == nil {
			msgs = []models.Message{}
		}
		writeJSON(w, http.StatusOK, msgs)

	case action == "messages" && r.Method == http.MethodPost:
		var req messageRequest
		if !decode(w, r, &req) {
			return
		}
		var (
			msg *models.Message
			err error
		)
		if req.ReplyToID != "" {
			msg, err = s.service.ReplyTo(ctx, dealID, req.ReplyToID, req.Text)
		} else {
			isMe := req.IsMe == nil || *req.IsMe
			msg, err = s.service.SendMessage(ctx, dealID, req.Text, isMe)
		}
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, msg)

	case action == "attachments" && r.Method == http.MethodPost:
		var req attachRequest
		if !decode(w, r, &req) {
			return
		}
		writeError(w, s.service.Attach(ctx, dealID, req.Filename))

	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Message Handlers ---

// handleMessageByID handles PATCH and DELETE /messages/{id}
func (s *Server) handleMessageByID(w http.ResponseWriter, r *http.Request) {
	msgID, action := splitPath(r.URL.Path, "/messages/")
	if msgID == "" || action != "" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodPatch:
		var req inputRequest
		if !decode(w, r, &req) {
			return
		}
		msg, err := s.service.EditMessage(r.Context(), msgID, req.Text)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, msg)
	case http.MethodDelete:
		if err := s.service.DeleteMessage(r.Context(), msgID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Task Handlers ---

// handleTasks handles GET and POST /tasks
func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		q := r.URL.Query()
		filter := store.TaskFilter{
			DealID:     q.Get("deal_id"),
			GlobalOnly: q.Get("global") == "1" || q.Get("global") == "true",
			Assignee:   q.Get("assignee"),
			OpenOnly:   q.Get("open") == "1" || q.Get("open") == "true",
		}
		tasks, err := s.service.ListTasks(r.Context(), filter)
		if err != nil {
			writeError(w, err)
			return
		}
		if tasks == nil {
			tasks = []models.Task{}
		}
		writeJSON(w, http.StatusOK, tasks)
	case http.MethodPost:
		var req TaskInput
		if !decode(w, r, &req) {
			return
		}
		task, err := s.service.AddTask(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, task)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type doneRequest struct {
	Comment string `json:"comment"`
}

type subtaskRequest struct {
	Index int `json:"index"`
}

type dueRequest struct {
	DueDate *time.Time `json:"due_date"`
}

// handleTaskByID handles /tasks/{id}/*
func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	taskID, action := splitPath(r.URL.Path, "/tasks/")
	if taskID == "" {
		http.Error(w, "task id required", http.StatusBadRequest)
		return
	}
	ctx := r.Context()

	var (
		task *models.Task
		err  error
	)
	switch {
	case action == "" && r.Method == http.MethodGet:
		task, err = s.service.GetTask(ctx, taskID)
	case action == "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteTask(ctx, taskID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
		return
	case action == "done" && r.Method == http.MethodPost:
		var req doneRequest
		if !decode(w, r, &req) {
			return
		}
		task, err = s.service.ToggleDone(ctx, taskID, req.Comment)
	case action == "progress" && r.Method == http.MethodPost:
		task, err = s.service.SetInProgress(ctx, taskID)
	case action == "text" && r.Method == http.MethodPost:
		var req inputRequest
		if !decode(w, r, &req) {
			return
		}
		task, err = s.service.EditTaskText(ctx, taskID, req.Text)
	case action == "subtask" && r.Method == http.MethodPost:
		var req subtaskRequest
		if !decode(w, r, &req) {
			return
		}
		task, err = s.service.ToggleSubtask(ctx, taskID, req.Index)
	case action == "due" && r.Method == http.MethodPost:
		var req dueRequest
		if !decode(w, r, &req) {
			return
		}
		task, err = s.service.SetDueDate(ctx, taskID, req.DueDate)
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// --- Stage Handlers ---

type stageRequest struct {
	Name string `json:"name"`
}

type reorderRequest struct {
	IDs []string `json:"ids"`
}

// handleStages handles GET and POST /stages
func (s *Server) handleStages(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		stages, err := s.service.ListStages(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		if stages == nil {
			stages = []models.Stage{}
		}
		writeJSON(w, http.StatusOK, stages)
	case http.MethodPost:
		var req stageRequest
		if !decode(w, r, &req) {
			return
		}
		st, err := s.service.CreateStage(r.Context(), req.Name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// handleStageByID handles /stages/{id} and POST /stages/reorder
func (s *Server) handleStageByID(w http.ResponseWriter, r *http.Request) {
	stageID, _ := splitPath(r.URL.Path, "/stages/")
	ctx := r.Context()

	switch {
	case stageID == "reorder" && r.Method == http.MethodPost:
		var req reorderRequest
		if !decode(w, r, &req) {
			return
		}
		stages, err := s.service.ReorderStages(ctx, req.IDs)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, stages)
	case stageID != "" && r.Method == http.MethodPatch:
		var req stageRequest
		if !decode(w, r, &req) {
			return
		}
		if err := s.service.RenameStage(ctx, stageID, req.Name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "renamed"})
	case stageID != "" && r.Method == http.MethodDelete:
		if err := s.service.DeleteStage(ctx, stageID); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		http.Error(w, "not found", http.StatusNotFound)
	}
}

// --- Preference Handlers ---

// handlePrefs handles GET and PUT /prefs
func (s *Server) handlePrefs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		p, err := s.service.Preferences(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPut:
		var req models.Preferences
		if !decode(w, r, &req) {
			return
		}
		p, err := s.service.UpdatePreferences(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// --- Helpers ---

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	http.Error(w, "invalid json", http.StatusBadRequest)
	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps service errors to status codes. No-ops answer 204 so
// clients can stay silent.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrNoop):
		w.WriteHeader(http.StatusNoContent)
		return
	case errors.Is(err, ErrBusy), errors.Is(err, ErrStageNotEmpty):
		status = http.StatusConflict
	case errors.Is(err, ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrInvalid):
		status = http.StatusBadRequest
	case errors.Is(err, ErrAttachmentsUnavailable):
		status = http.StatusNotImplemented
	}
	http.Error(w, err.Error(), status)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}
