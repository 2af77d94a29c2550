package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"

	"github.com/hyperjump/kotoba/internal/config"
	"github.com/hyperjump/kotoba/internal/models"
	"github.com/hyperjump/kotoba/internal/responder"
	"github.com/hyperjump/kotoba/internal/storage"
	"go.uber.org/zap"
)

func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	var req models.InsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Response.Plain == "" {
		s.respondError(w, http.StatusBadRequest, "response.plain is required")
		return
	}
	s.logger.Debug("insert request", zap.String("prompt", req.Prompt))
	if err := s.store.Insert(r.Context(), req.Prompt, req.Response); err != nil {
		s.respondStoreError(w, "insert", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, map[string]string{"status": "learned"})
}

func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	var req models.RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.logger.Debug("respond request", zap.String("prompt", req.Prompt))
	resp, err := s.store.Respond(r.Context(), req.Prompt)
	if err != nil {
		s.respondStoreError(w, "respond", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.RespondResult{Prompt: req.Prompt, Response: resp})
}

// respondStoreError maps store errors to statuses. Missing responses mean the
// index and the table disagree, so they are logged as an integrity problem.
func (s *Server) respondStoreError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, responder.ErrNoPromptVector):
		s.respondError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, responder.ErrNoResponses):
		s.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, responder.ErrMissingResponses):
		s.logger.Error("response table is missing an indexed prompt", zap.String("op", op), zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	default:
		s.logger.Error(op+" failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("status: stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := models.Status{Stats: stats, Config: StatusConfig(s.config)}
	if n, err := DiskUsage(s.config); err == nil {
		status.DiskUsageBytes = &n
	}
	s.respondJSON(w, http.StatusOK, status)
}

// StatusConfig summarises cfg for a status report.
func StatusConfig(cfg *config.Config) *models.StatusConfig {
	return &models.StatusConfig{
		StorageBackend: cfg.Storage.Backend,
		DatabasePath:   cfg.Storage.DatabasePath,
		EmbeddingPath:  cfg.Embedding.Path,
		IndexM:         cfg.Index.M,
		IndexM0:        cfg.Index.M0,
		EFConstruction: cfg.Index.EFConstruction,
		EFSearch:       cfg.Index.EFSearch,
	}
}

// DiskUsage returns the bytes used by the configured response table.
func DiskUsage(cfg *config.Config) (int64, error) {
	return storage.Footprint(cfg.Storage.Backend, cfg.Storage.DatabasePath)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Import.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist import directories", zap.Error(err))
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
