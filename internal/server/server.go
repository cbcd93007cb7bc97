// Package server provides the PlugForge HTTP API server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/plugforge/plugforge/internal/config"
	"github.com/plugforge/plugforge/internal/export"
	"github.com/plugforge/plugforge/internal/notify"
	"github.com/plugforge/plugforge/internal/runner"
	"github.com/plugforge/plugforge/pkg/eventbus"
	"github.com/plugforge/plugforge/pkg/llm"
	"github.com/plugforge/plugforge/pkg/llm/anthropic"
	"github.com/plugforge/plugforge/pkg/llm/openai"
	"github.com/plugforge/plugforge/pkg/model"
	"github.com/plugforge/plugforge/pkg/store"
	"github.com/plugforge/plugforge/pkg/store/sqlite"
)

// Server is the PlugForge HTTP API server.
type Server struct {
	config   *config.Config
	store    *sqlite.Store
	bus      eventbus.Bus
	manager  *runner.Manager
	exporter *export.Client // nil if GitHub export is not configured
	router   chi.Router
}

// New creates a new Server with all dependencies.
func New(cfg *config.Config) (*Server, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	var client llm.Client
	switch {
	case cfg.AnthropicAPIKey != "":
		client = anthropic.New(cfg.AnthropicAPIKey, cfg.Model)
		log.Println("Using Anthropic as the generation provider")
	case cfg.OpenAIAPIKey != "":
		client = openai.New(cfg.OpenAIAPIKey, cfg.Model)
		log.Println("Using OpenAI as the generation provider")
	default:
		st.Close()
		return nil, fmt.Errorf("no LLM API key configured")
	}

	gateway := llm.NewGateway(client, llm.GatewayConfig{
		MaxAttempts:      cfg.MaxAttempts,
		MaxContinuations: cfg.MaxContinuations,
	})

	bus := eventbus.NewInMemoryBus()

	var notifier runner.Notifier
	if n := notify.FromConfig(cfg); n != nil {
		notifier = n
	}

	manager := runner.NewManager(runner.Config{
		FileErrorWait:   cfg.FileErrorWait,
		AgenticMaxSteps: cfg.AgenticMaxSteps,
	}, st, st, st, bus, gateway, notifier)

	s := &Server{
		config:  cfg,
		store:   st,
		bus:     bus,
		manager: manager,
	}
	if cfg.ExportEnabled() {
		s.exporter = export.NewClient(cfg.GitHubToken)
		log.Println("GitHub export enabled")
	}

	s.router = s.buildRouter()
	return s, nil
}

// Start starts the HTTP server. Blocks until ctx is cancelled, then shuts
// down and waits for in-flight runners to settle.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("PlugForge server listening on %s", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	s.manager.Stop()
	return s.store.Close()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/builds", s.handleCreateBuild)
		r.Get("/builds/{id}", s.handleGetBuild)
		r.Get("/builds/{id}/events", s.handleBuildEvents)
		r.Post("/builds/{id}/approval", s.handleApproval)
		r.Post("/builds/{id}/decision", s.handleDecision)
		r.Post("/builds/{id}/cancel", s.handleCancel)
		r.Post("/builds/{id}/resume", s.handleResume)
		r.Post("/builds/{id}/export", s.handleExport)

		r.Get("/sessions/{sessionID}/build", s.handleLatestBuild)
		r.Get("/sessions/{sessionID}/builds", s.handleListBuilds)
		r.Get("/sessions/{sessionID}/files", s.handleListFiles)
		r.Get("/sessions/{sessionID}/messages", s.handleListMessages)
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Request/Response types ---

type createBuildRequest struct {
	SessionID   string `json:"sessionId"`
	UserID      string `json:"userId,omitempty"`
	UserRequest string `json:"userRequest"`
	ModelID     string `json:"modelId,omitempty"`
	Framework   string `json:"framework,omitempty"`
}

type approvalRequest struct {
	Action           string `json:"action"`
	EditInstructions string `json:"editInstructions,omitempty"`
}

type decisionRequest struct {
	Decision string `json:"decision"`
}

type exportRequest struct {
	RepoName string `json:"repoName"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Handlers ---

func (s *Server) handleCreateBuild(w http.ResponseWriter, r *http.Request) {
	var req createBuildRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SessionID == "" || req.UserRequest == "" {
		writeError(w, http.StatusBadRequest, "sessionId and userRequest are required")
		return
	}

	b, err := s.manager.StartBuild(context.Background(), req.SessionID, req.UserID, req.UserRequest, req.ModelID, req.Framework)
	if err != nil {
		if errors.Is(err, store.ErrActiveBuildExists) {
			writeError(w, http.StatusConflict, "session already has an active build")
			return
		}
		log.Printf("Error creating build: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create build")
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (s *Server) handleGetBuild(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.store.GetBuild(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleLatestBuild(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	b, err := s.store.GetLatestBuild(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "no builds for session")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	builds, err := s.store.ListBuilds(sessionID)
	if err != nil {
		log.Printf("Error listing builds: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list builds")
		return
	}
	if builds == nil {
		builds = []*model.Build{}
	}
	writeJSON(w, http.StatusOK, builds)
}

func (s *Server) handleApproval(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req approvalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var d runner.ApprovalDecision
	switch runner.ApprovalAction(req.Action) {
	case runner.ApprovalApprove:
		d = runner.ApprovalDecision{Action: runner.ApprovalApprove}
	case runner.ApprovalEdit:
		if req.EditInstructions == "" {
			writeError(w, http.StatusBadRequest, "editInstructions is required for edit")
			return
		}
		d = runner.ApprovalDecision{Action: runner.ApprovalEdit, Instructions: req.EditInstructions}
	case runner.ApprovalCancel:
		d = runner.ApprovalDecision{Action: runner.ApprovalCancel}
	default:
		writeError(w, http.StatusBadRequest, "action must be approve, edit, or cancel")
		return
	}

	if err := s.manager.Approve(id, d); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleDecision(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req decisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	d := runner.FileErrorDecision(req.Decision)
	switch d {
	case runner.DecisionRetry, runner.DecisionSkip, runner.DecisionCancel:
	default:
		writeError(w, http.StatusBadRequest, "decision must be retry, skip, or cancel")
		return
	}

	if err := s.manager.Decide(id, d); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.manager.CancelBuild(id); err != nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	b, err := s.manager.ResumeBuild(context.Background(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "build not found")
			return
		}
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, b)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	files, err := s.store.ListFiles(sessionID)
	if err != nil {
		log.Printf("Error listing files: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if files == nil {
		files = []*model.ProjectFile{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	msgs, err := s.store.GetMessages(sessionID)
	if err != nil {
		log.Printf("Error listing messages: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if s.exporter == nil {
		writeError(w, http.StatusNotImplemented, "GitHub export is not configured (set GITHUB_TOKEN)")
		return
	}

	id := chi.URLParam(r, "id")
	var req exportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RepoName == "" {
		writeError(w, http.StatusBadRequest, "repoName is required")
		return
	}

	b, err := s.store.GetBuild(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	if b.Status != model.StatusComplete {
		writeError(w, http.StatusConflict, fmt.Sprintf("build is %s, only complete builds can be exported", b.Status))
		return
	}

	files, err := s.store.ListFiles(b.SessionID)
	if err != nil || len(files) == 0 {
		writeError(w, http.StatusConflict, "build has no files to export")
		return
	}

	commitMsg := fmt.Sprintf("Generate %s", model.Truncate(b.UserRequest, 60))
	if b.Plan != nil && b.Plan.PluginName != "" {
		commitMsg = fmt.Sprintf("Generate %s plugin", b.Plan.PluginName)
	}

	result, err := s.exporter.Export(r.Context(), req.RepoName, commitMsg, files)
	if err != nil {
		log.Printf("Error exporting build %s: %v", id, err)
		writeError(w, http.StatusBadGateway, model.SanitizeError(err.Error()))
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// handleBuildEvents streams a build's lifecycle over SSE. A newly connected
// observer gets a snapshot event first (never a replay of history), then
// live events. If no runner is driving the build, a done event terminates
// the stream immediately after the snapshot.
func (s *Server) handleBuildEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := s.store.GetBuild(id); err != nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Subscribe before snapshotting so nothing falls between the two.
	ch := s.bus.Subscribe(id)
	defer s.bus.Unsubscribe(id, ch)

	snap, err := s.manager.Snapshot(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "build not found")
		return
	}
	snapData, _ := json.Marshal(snap)
	writeSSE(w, &model.Event{
		BuildID:   id,
		Type:      model.EventSnapshot,
		Data:      string(snapData),
		CreatedAt: time.Now(),
	})
	flusher.Flush()

	if !s.manager.Live(id) {
		writeSSE(w, &model.Event{BuildID: id, Type: model.EventDone, CreatedAt: time.Now()})
		flusher.Flush()
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, event)
			flusher.Flush()
			switch event.Type {
			case model.EventBuildComplete, model.EventBuildError, model.EventBuildCancelled:
				writeSSE(w, &model.Event{BuildID: id, Type: model.EventDone, CreatedAt: time.Now()})
				flusher.Flush()
				return
			}
		}
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeSSE(w http.ResponseWriter, event *model.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", event.ID, event.Type, string(data))
}
